package db

import (
	"database/sql"
	"time"

	"github.com/HsinTsao/sec-toolkit/internal/models"
)

const tokenColumns = "id, code, name, api_key_id, created_at, expires_at, active"

// CreateToken inserts a new token record and returns its ID.
// expiresAt is nil for never-expiring tokens. A UNIQUE violation on
// the code is returned to the caller; the registry owns the retry loop.
func CreateToken(d *sql.DB, code string, name *string, apiKeyID *int64, expiresAt *int64) (int64, error) {
	result, err := d.Exec(
		"INSERT INTO tokens (code, name, api_key_id, created_at, expires_at, active) VALUES (?, ?, ?, ?, ?, 1)",
		code, name, apiKeyID, time.Now().Unix(), expiresAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetTokenByCode retrieves a token by its public code. Expired tokens
// are returned like any other; the router decides what expiry means.
func GetTokenByCode(d *sql.DB, code string) (*models.Token, error) {
	return scanToken(d.QueryRow(
		"SELECT "+tokenColumns+" FROM tokens WHERE code = ?", code,
	))
}

// GetTokenByID retrieves a token by its database ID.
func GetTokenByID(d *sql.DB, id int64) (*models.Token, error) {
	return scanToken(d.QueryRow(
		"SELECT "+tokenColumns+" FROM tokens WHERE id = ?", id,
	))
}

// RenewToken pushes expires_at forward from now (nil = never expire)
// and reactivates the token regardless of its prior state.
func RenewToken(d *sql.DB, id int64, expiresAt *int64) error {
	_, err := d.Exec(
		"UPDATE tokens SET expires_at = ?, active = 1 WHERE id = ?",
		expiresAt, id,
	)
	return err
}

// DeleteToken removes a token; interactions and rules cascade.
func DeleteToken(d *sql.DB, id int64) error {
	_, err := d.Exec("DELETE FROM tokens WHERE id = ?", id)
	return err
}

// TokenWithCount pairs a token with its recorded interaction count.
type TokenWithCount struct {
	models.Token
	InteractionCount int
}

// ListTokensByAPIKey returns all tokens owned by an API key, newest
// first, each with its interaction count.
func ListTokensByAPIKey(d *sql.DB, apiKeyID int64) ([]TokenWithCount, error) {
	rows, err := d.Query(`
		SELECT t.id, t.code, t.name, t.api_key_id, t.created_at, t.expires_at, t.active,
		       COUNT(i.id) AS interaction_count
		FROM tokens t
		LEFT JOIN interactions i ON i.token_id = t.id
		WHERE t.api_key_id = ?
		GROUP BY t.id
		ORDER BY t.created_at DESC
	`, apiKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []TokenWithCount
	for rows.Next() {
		var t TokenWithCount
		var active int
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.APIKeyID, &t.CreatedAt, &t.ExpiresAt, &active, &t.InteractionCount); err != nil {
			return nil, err
		}
		t.Active = active != 0
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func scanToken(row *sql.Row) (*models.Token, error) {
	var t models.Token
	var active int
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.APIKeyID, &t.CreatedAt, &t.ExpiresAt, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Active = active != 0
	return &t, nil
}
