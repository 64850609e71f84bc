package repository

import (
	"context"
	"database/sql"

	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/driftsync/driftsync-api/internal/utils"
)

type ConnectionRepository interface {
	List(ctx context.Context) ([]*models.Connection, error)
	Get(ctx context.Context, id string) (*models.Connection, error)
	GetWithPassword(ctx context.Context, id string) (*models.Connection, error)
	Create(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	Update(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = "id, name, host, port, username, password_encrypted, db_name, ssl_mode, status, created_at, updated_at"

func scanConnection(row interface{ Scan(...interface{}) error }) (*models.Connection, error) {
	conn := &models.Connection{}
	err := row.Scan(&conn.ID, &conn.Name, &conn.Host, &conn.Port, &conn.Username,
		&conn.PasswordEncrypted, &conn.DBName, &conn.SSLMode, &conn.Status,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) List(ctx context.Context) ([]*models.Connection, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+connectionColumns+" FROM connections ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conn.PasswordEncrypted = nil
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func (r *connectionRepository) Get(ctx context.Context, id string) (*models.Connection, error) {
	conn, err := scanConnection(r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE id = $1", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	conn.PasswordEncrypted = nil
	return conn, nil
}

// GetWithPassword resolves a connection including the decrypted password.
// Engine use only; never hand the result to the API layer.
func (r *connectionRepository) GetWithPassword(ctx context.Context, id string) (*models.Connection, error) {
	conn, err := scanConnection(r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE id = $1", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(conn.PasswordEncrypted) > 0 {
		if conn.Password, err = utils.DecryptPassword(conn.PasswordEncrypted); err != nil {
			return nil, err
		}
	}
	conn.PasswordEncrypted = nil
	return conn, nil
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	encrypted, err := utils.EncryptPassword(conn.Password)
	if err != nil {
		return nil, err
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO connections (name, host, port, username, password_encrypted, db_name, ssl_mode, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		conn.Name, conn.Host, conn.Port, conn.Username, encrypted, conn.DBName, conn.SSLMode, conn.Status,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	conn.Password = ""
	return conn, nil
}

func (r *connectionRepository) Update(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	if conn.Password != "" {
		encrypted, err := utils.EncryptPassword(conn.Password)
		if err != nil {
			return nil, err
		}
		_, err = r.db.ExecContext(ctx,
			`UPDATE connections SET name = $1, host = $2, port = $3, username = $4,
			 password_encrypted = $5, db_name = $6, ssl_mode = $7, status = $8, updated_at = NOW()
			 WHERE id = $9`,
			conn.Name, conn.Host, conn.Port, conn.Username, encrypted, conn.DBName, conn.SSLMode, conn.Status, conn.ID)
		conn.Password = ""
		return conn, err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET name = $1, host = $2, port = $3, username = $4,
		 db_name = $5, ssl_mode = $6, status = $7, updated_at = NOW()
		 WHERE id = $8`,
		conn.Name, conn.Host, conn.Port, conn.Username, conn.DBName, conn.SSLMode, conn.Status, conn.ID)
	return conn, err
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE connections SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	return err
}

func (r *connectionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM connections WHERE id = $1", id)
	return err
}
