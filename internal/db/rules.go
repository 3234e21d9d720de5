package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/HsinTsao/sec-toolkit/internal/models"
)

// ErrRuleNameTaken is returned when a rule name already exists for the
// token. Names are unique per token, not globally.
var ErrRuleNameTaken = errors.New("rule name already exists for token")

const ruleColumns = `id, token_id, name, description, status_code, content_type, body,
	headers, redirect_url, delay_ms, enable_variables, active, hit_count, created_at`

// CreateRule inserts a new PoC rule and returns its ID.
func CreateRule(d *sql.DB, r *models.PocRule) (int64, error) {
	result, err := d.Exec(`
		INSERT INTO poc_rules (token_id, name, description, status_code, content_type, body,
			headers, redirect_url, delay_ms, enable_variables, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TokenID, r.Name, r.Description, r.StatusCode, r.ContentType, r.Body,
		r.Headers, r.RedirectURL, r.DelayMS, boolToInt(r.EnableVariables), boolToInt(r.Active),
		time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrRuleNameTaken
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetActiveRule retrieves an active rule by token and name. Inactive
// rules behave as absent.
func GetActiveRule(d *sql.DB, tokenID int64, name string) (*models.PocRule, error) {
	return scanRule(d.QueryRow(
		"SELECT "+ruleColumns+" FROM poc_rules WHERE token_id = ? AND name = ? AND active = 1",
		tokenID, name,
	))
}

// GetRule retrieves a rule by token and name regardless of active state.
func GetRule(d *sql.DB, tokenID int64, name string) (*models.PocRule, error) {
	return scanRule(d.QueryRow(
		"SELECT "+ruleColumns+" FROM poc_rules WHERE token_id = ? AND name = ?",
		tokenID, name,
	))
}

// ListRules returns all rules for a token, newest first.
func ListRules(d *sql.DB, tokenID int64) ([]models.PocRule, error) {
	rows, err := d.Query(
		"SELECT "+ruleColumns+" FROM poc_rules WHERE token_id = ? ORDER BY created_at DESC, id DESC",
		tokenID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.PocRule
	for rows.Next() {
		r, err := scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// RuleUpdate holds the mutable fields of a rule for a partial update.
// Nil pointers leave the stored value untouched.
type RuleUpdate struct {
	Description     *string
	StatusCode      *int
	ContentType     *string
	Body            *string
	Headers         *string
	RedirectURL     *string
	ClearRedirect   bool
	DelayMS         *int
	EnableVariables *bool
	Active          *bool
}

// UpdateRule applies a partial update to a rule. Returns sql.ErrNoRows
// if the rule does not exist for the token.
func UpdateRule(d *sql.DB, tokenID int64, name string, u RuleUpdate) error {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 10)

	if u.Description != nil {
		sets, args = append(sets, "description = ?"), append(args, *u.Description)
	}
	if u.StatusCode != nil {
		sets, args = append(sets, "status_code = ?"), append(args, *u.StatusCode)
	}
	if u.ContentType != nil {
		sets, args = append(sets, "content_type = ?"), append(args, *u.ContentType)
	}
	if u.Body != nil {
		sets, args = append(sets, "body = ?"), append(args, *u.Body)
	}
	if u.Headers != nil {
		sets, args = append(sets, "headers = ?"), append(args, *u.Headers)
	}
	if u.ClearRedirect {
		sets = append(sets, "redirect_url = NULL")
	} else if u.RedirectURL != nil {
		sets, args = append(sets, "redirect_url = ?"), append(args, *u.RedirectURL)
	}
	if u.DelayMS != nil {
		sets, args = append(sets, "delay_ms = ?"), append(args, *u.DelayMS)
	}
	if u.EnableVariables != nil {
		sets, args = append(sets, "enable_variables = ?"), append(args, boolToInt(*u.EnableVariables))
	}
	if u.Active != nil {
		sets, args = append(sets, "active = ?"), append(args, boolToInt(*u.Active))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, tokenID, name)
	result, err := d.Exec(
		"UPDATE poc_rules SET "+strings.Join(sets, ", ")+" WHERE token_id = ? AND name = ?",
		args...,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRule removes a rule. Returns sql.ErrNoRows if absent.
func DeleteRule(d *sql.DB, tokenID int64, name string) error {
	result, err := d.Exec("DELETE FROM poc_rules WHERE token_id = ? AND name = ?", tokenID, name)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementRuleHit bumps a rule's hit count by exactly one. The
// increment happens inside the UPDATE so concurrent hits never
// under-count.
func IncrementRuleHit(d *sql.DB, ruleID int64) error {
	_, err := d.Exec("UPDATE poc_rules SET hit_count = hit_count + 1 WHERE id = ?", ruleID)
	return err
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces SQLITE_CONSTRAINT_UNIQUE in the
	// error text; there is no exported sentinel to match against.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanRule(row *sql.Row) (*models.PocRule, error) {
	var r models.PocRule
	var enableVars, active int
	err := row.Scan(
		&r.ID, &r.TokenID, &r.Name, &r.Description, &r.StatusCode, &r.ContentType, &r.Body,
		&r.Headers, &r.RedirectURL, &r.DelayMS, &enableVars, &active, &r.HitCount, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.EnableVariables = enableVars != 0
	r.Active = active != 0
	return &r, nil
}

func scanRuleRow(rows *sql.Rows) (*models.PocRule, error) {
	var r models.PocRule
	var enableVars, active int
	err := rows.Scan(
		&r.ID, &r.TokenID, &r.Name, &r.Description, &r.StatusCode, &r.ContentType, &r.Body,
		&r.Headers, &r.RedirectURL, &r.DelayMS, &enableVars, &active, &r.HitCount, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.EnableVariables = enableVars != 0
	r.Active = active != 0
	return &r, nil
}
