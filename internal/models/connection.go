package models

import (
	"fmt"
	"net/url"
	"time"
)

type Connection struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Host              string    `json:"host" db:"host"`
	Port              int       `json:"port" db:"port"`
	Username          string    `json:"username" db:"username"`
	Password          string    `json:"password,omitempty" db:"-"` // plaintext, never stored directly
	PasswordEncrypted []byte    `json:"-" db:"password_encrypted"`
	DBName            string    `json:"db_name" db:"db_name"`
	SSLMode           string    `json:"ssl_mode" db:"ssl_mode"`
	Status            string    `json:"status" db:"status"` // enum: valid, invalid, untested
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// DSN builds the Postgres connection string from the decrypted credentials.
func (c *Connection) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Host, c.Port, c.DBName, sslMode)
}
