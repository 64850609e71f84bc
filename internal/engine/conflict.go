package engine

import (
	"strings"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/lib/pq"
)

// ConflictAction is the decision for a primary-key collision on the row path.
type ConflictAction int

const (
	ActionAbort ConflictAction = iota
	ActionSkipRow
	ActionReplaceRow
	ActionIgnoreRow
)

func (a ConflictAction) String() string {
	switch a {
	case ActionSkipRow:
		return "skip_row"
	case ActionReplaceRow:
		return "replace_row"
	case ActionIgnoreRow:
		return "ignore_row"
	default:
		return "abort"
	}
}

// ResolveConflict maps the job's conflict strategy to a row action. Unknown
// strategies abort, matching the default database behavior of surfacing the
// collision.
func ResolveConflict(strategy models.ConflictStrategy) ConflictAction {
	switch strategy {
	case models.ConflictSkip:
		return ActionSkipRow
	case models.ConflictReplace:
		return ActionReplaceRow
	case models.ConflictIgnore:
		return ActionIgnoreRow
	default:
		return ActionAbort
	}
}

// bulkEligible reports whether the conflict strategy permits the bulk path.
// COPY cannot express per-row conflict resolution, so anything other than
// plain error-on-collision forces the row strategy.
func bulkEligible(strategy models.ConflictStrategy) bool {
	return strategy == "" || strategy == models.ConflictError
}

// conflictClause renders the ON CONFLICT suffix for a batched insert.
// ActionReplaceRow needs the destination primary key; when every column is
// part of the key there is nothing to update and the clause degrades to
// DO NOTHING.
func conflictClause(action ConflictAction, pkCols, cols []string) string {
	switch action {
	case ActionIgnoreRow:
		return " ON CONFLICT DO NOTHING"
	case ActionReplaceRow:
		if len(pkCols) == 0 {
			return " ON CONFLICT DO NOTHING"
		}
		pk := make(map[string]bool, len(pkCols))
		quoted := make([]string, 0, len(pkCols))
		for _, c := range pkCols {
			pk[c] = true
			quoted = append(quoted, pq.QuoteIdentifier(c))
		}
		var sets []string
		for _, c := range cols {
			if !pk[c] {
				sets = append(sets, pq.QuoteIdentifier(c)+" = EXCLUDED."+pq.QuoteIdentifier(c))
			}
		}
		if len(sets) == 0 {
			return " ON CONFLICT DO NOTHING"
		}
		return " ON CONFLICT (" + strings.Join(quoted, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
	default:
		// abort and skip_row run plain inserts; skip handles the collision
		// by retrying the batch row by row.
		return ""
	}
}
