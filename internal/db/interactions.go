package db

import (
	"database/sql"

	"github.com/HsinTsao/sec-toolkit/internal/models"
)

// PollPageSize caps one poll page; clients page by advancing since.
const PollPageSize = 50

const interactionColumns = `id, token_id, occurred_at, remote_ip, method, path, query,
	headers, body, user_agent, protocol, raw_request,
	is_poc_hit, poc_rule_name, is_data_exfil, exfil_type, exfil_data`

// CreateInteraction inserts a new interaction record and returns its ID.
func CreateInteraction(d *sql.DB, in *models.Interaction) (int64, error) {
	result, err := d.Exec(`
		INSERT INTO interactions (token_id, occurred_at, remote_ip, method, path, query,
			headers, body, user_agent, protocol, raw_request,
			is_poc_hit, poc_rule_name, is_data_exfil, exfil_type, exfil_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.TokenID, in.OccurredAt, in.RemoteIP, in.Method, in.Path, in.Query,
		in.Headers, in.Body, in.UserAgent, in.Protocol, in.RawRequest,
		boolToInt(in.IsPocHit), in.PocRuleName, boolToInt(in.IsDataExfil), in.ExfilType, in.ExfilData,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListInteractions returns the most recent interactions for a token,
// newest first, bounded by limit.
func ListInteractions(d *sql.DB, tokenID int64, limit int) ([]models.Interaction, error) {
	rows, err := d.Query(
		"SELECT "+interactionColumns+" FROM interactions WHERE token_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?",
		tokenID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// PollInteractions returns interactions strictly newer than sinceNanos,
// newest first, bounded by limit. Two interactions sharing a timestamp
// may both be re-returned on the next poll; delivery is at-least-once.
func PollInteractions(d *sql.DB, tokenID int64, sinceNanos int64, limit int) ([]models.Interaction, error) {
	rows, err := d.Query(
		"SELECT "+interactionColumns+" FROM interactions WHERE token_id = ? AND occurred_at > ? ORDER BY occurred_at DESC, id DESC LIMIT ?",
		tokenID, sinceNanos, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// ClearInteractions deletes all interactions for a token and returns
// the number removed.
func ClearInteractions(d *sql.DB, tokenID int64) (int64, error) {
	result, err := d.Exec("DELETE FROM interactions WHERE token_id = ?", tokenID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountInteractions returns the number of interactions for a token.
func CountInteractions(d *sql.DB, tokenID int64) (int, error) {
	var count int
	err := d.QueryRow("SELECT COUNT(*) FROM interactions WHERE token_id = ?", tokenID).Scan(&count)
	return count, err
}

func scanInteractions(rows *sql.Rows) ([]models.Interaction, error) {
	var interactions []models.Interaction
	for rows.Next() {
		var in models.Interaction
		var pocHit, dataExfil int
		err := rows.Scan(
			&in.ID, &in.TokenID, &in.OccurredAt, &in.RemoteIP, &in.Method, &in.Path, &in.Query,
			&in.Headers, &in.Body, &in.UserAgent, &in.Protocol, &in.RawRequest,
			&pocHit, &in.PocRuleName, &dataExfil, &in.ExfilType, &in.ExfilData,
		)
		if err != nil {
			return nil, err
		}
		in.IsPocHit = pocHit != 0
		in.IsDataExfil = dataExfil != 0
		interactions = append(interactions, in)
	}
	return interactions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
