package db

import (
	"database/sql"
)

// topN is the truncation applied to every grouped stat.
const topN = 10

// GroupCount is one bucket of a grouped stat.
type GroupCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TokenStats aggregates the interactions recorded for one token.
type TokenStats struct {
	Total       int          `json:"total"`
	ByIP        []GroupCount `json:"by_ip"`
	ByMethod    []GroupCount `json:"by_method"`
	ByPath      []GroupCount `json:"by_path"`
	ByUserAgent []GroupCount `json:"by_user_agent"`
}

// GetTokenStats returns per-token aggregates: total plus top-10
// group-bys on client IP, method, path, and user agent.
func GetTokenStats(d *sql.DB, tokenID int64) (*TokenStats, error) {
	stats := &TokenStats{}

	if err := d.QueryRow(
		"SELECT COUNT(*) FROM interactions WHERE token_id = ?", tokenID,
	).Scan(&stats.Total); err != nil {
		return nil, err
	}

	groups := []struct {
		column string
		dest   *[]GroupCount
	}{
		{"remote_ip", &stats.ByIP},
		{"method", &stats.ByMethod},
		{"path", &stats.ByPath},
		{"user_agent", &stats.ByUserAgent},
	}
	for _, g := range groups {
		counts, err := groupBy(d, tokenID, g.column)
		if err != nil {
			return nil, err
		}
		*g.dest = counts
	}

	return stats, nil
}

func groupBy(d *sql.DB, tokenID int64, column string) ([]GroupCount, error) {
	// column comes from the fixed list above, never from input.
	rows, err := d.Query(
		"SELECT "+column+", COUNT(*) AS n FROM interactions WHERE token_id = ? GROUP BY "+column+" ORDER BY n DESC LIMIT ?",
		tokenID, topN,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]GroupCount, 0, topN)
	for rows.Next() {
		var gc GroupCount
		if err := rows.Scan(&gc.Value, &gc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, gc)
	}
	return counts, rows.Err()
}

// TokenCount is one token's share of an owner-wide aggregate.
type TokenCount struct {
	Code      string  `json:"token"`
	Name      *string `json:"name"`
	Count     int     `json:"count"`
	CreatedAt int64   `json:"-"`
}

// OwnerStats aggregates across every token owned by one API key.
type OwnerStats struct {
	TotalTokens   int          `json:"total_tokens"`
	TotalRequests int          `json:"total_requests"`
	ByToken       []TokenCount `json:"by_token"`
}

// GetOwnerStats returns the cross-token aggregate for an owner,
// per-token counts in descending order.
func GetOwnerStats(d *sql.DB, apiKeyID int64) (*OwnerStats, error) {
	rows, err := d.Query(`
		SELECT t.code, t.name, t.created_at, COUNT(i.id) AS n
		FROM tokens t
		LEFT JOIN interactions i ON i.token_id = t.id
		WHERE t.api_key_id = ?
		GROUP BY t.id
		ORDER BY n DESC
	`, apiKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &OwnerStats{ByToken: make([]TokenCount, 0)}
	for rows.Next() {
		var tc TokenCount
		if err := rows.Scan(&tc.Code, &tc.Name, &tc.CreatedAt, &tc.Count); err != nil {
			return nil, err
		}
		stats.TotalTokens++
		stats.TotalRequests += tc.Count
		stats.ByToken = append(stats.ByToken, tc)
	}
	return stats, rows.Err()
}
