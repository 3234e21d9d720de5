// Package registry implements the capture token lifecycle: issue,
// resolve, renew, delete.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/models"
	"github.com/HsinTsao/sec-toolkit/internal/token"
)

// createAttempts bounds the uniqueness retry loop on Create.
const createAttempts = 5

// ErrCodeExhausted is returned when Create cannot find a free code
// within its retry budget.
var ErrCodeExhausted = errors.New("token code generation exhausted retries")

// Registry issues and manages capture tokens.
type Registry struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates a Registry backed by the given database.
func New(database *sql.DB, logger *zap.Logger) *Registry {
	return &Registry{db: database, logger: logger}
}

// Create issues a new token for the owner. ttlHours <= 0 means the
// token never expires. Fails only after exhausting the code
// uniqueness retry budget.
func (r *Registry) Create(apiKeyID int64, name *string, ttlHours int) (*models.Token, error) {
	var expiresAt *int64
	if ttlHours > 0 {
		exp := time.Now().Add(time.Duration(ttlHours) * time.Hour).Unix()
		expiresAt = &exp
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := token.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate token code: %w", err)
		}

		id, err := db.CreateToken(r.db, code, name, &apiKeyID, expiresAt)
		if err != nil {
			if isUniqueViolation(err) {
				r.logger.Debug("token code collision, retrying", logging.Token(code))
				continue
			}
			return nil, fmt.Errorf("insert token: %w", err)
		}

		return db.GetTokenByID(r.db, id)
	}

	return nil, ErrCodeExhausted
}

// Resolve looks up a token by code. Expired tokens are returned like
// any other; (nil, nil) means the code does not exist. Resolve never
// maps a lookup miss to an error.
func (r *Registry) Resolve(code string) (*models.Token, error) {
	return db.GetTokenByCode(r.db, code)
}

// Renew pushes the token's expiry forward from now (ttlHours <= 0 =
// never expire) and always reactivates it.
func (r *Registry) Renew(id int64, ttlHours int) (*models.Token, error) {
	var expiresAt *int64
	if ttlHours > 0 {
		exp := time.Now().Add(time.Duration(ttlHours) * time.Hour).Unix()
		expiresAt = &exp
	}

	if err := db.RenewToken(r.db, id, expiresAt); err != nil {
		return nil, fmt.Errorf("renew token: %w", err)
	}
	return db.GetTokenByID(r.db, id)
}

// Delete removes a token; interactions and rules cascade with it.
func (r *Registry) Delete(id int64) error {
	return db.DeleteToken(r.db, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
