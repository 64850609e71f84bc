package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftsync/driftsync-api/internal/models"
)

// ErrInvalidCredentials covers both unknown emails and wrong passwords so the
// API never reveals which one failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

type UserRepository interface {
	CreateUser(ctx context.Context, email, password, firstName, lastName string) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (u *userRepository) CreateUser(ctx context.Context, email, password, firstName, lastName string) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	err = u.db.QueryRowContext(ctx,
		`INSERT INTO users (email, first_name, last_name, password_hash, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		user.Email, user.FirstName, user.LastName, user.PasswordHash, user.IsActive,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (u *userRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	var user models.User
	err := u.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, password_hash, is_active, created_at
		 FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.PasswordHash, &user.IsActive, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if !user.IsActive {
		return models.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}

func (u *userRepository) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := u.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, is_active, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.IsActive, &user.CreatedAt)
	return user, err
}
