// Package rules implements owner-authored PoC response rules: lookup,
// rendering with variable substitution, hit counting, and delays.
package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/metrics"
	"github.com/HsinTsao/sec-toolkit/internal/models"
)

// Response is a rendered rule response. Redirect and body forms are
// mutually exclusive: a non-empty RedirectTo wins over any body.
type Response struct {
	Status      int
	RedirectTo  string
	ContentType string
	Headers     map[string]string
	Body        string
}

// Engine looks up and renders PoC rules.
type Engine struct {
	db      *sql.DB
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(database *sql.DB, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{db: database, metrics: m, logger: logger}
}

// Lookup returns the active rule with the given name for a token, or
// (nil, nil) when absent. Inactive rules behave as absent.
func (e *Engine) Lookup(tokenID int64, name string) (*models.PocRule, error) {
	return db.GetActiveRule(e.db, tokenID, name)
}

// Render produces the response for a rule. Every successful render
// increments the rule's hit count by exactly one; if the rule carries
// a delay it is applied after the increment and is cancellable via
// ctx (client disconnect). Rendering never fails on template content:
// the body is tester-authored free text.
func (e *Engine) Render(ctx context.Context, rule *models.PocRule, v Vars) *Response {
	if err := db.IncrementRuleHit(e.db, rule.ID); err != nil {
		e.logger.Error("increment hit count failed", logging.Rule(rule.Name), zap.Error(err))
	}
	e.metrics.RuleHits.Inc()

	if rule.DelayMS > 0 {
		e.sleep(ctx, time.Duration(rule.DelayMS)*time.Millisecond)
	}

	if rule.RedirectURL != nil && *rule.RedirectURL != "" {
		target := *rule.RedirectURL
		if rule.EnableVariables {
			target = Substitute(target, v)
		}
		status := rule.StatusCode
		if status == 0 {
			status = 302
		}
		return &Response{Status: status, RedirectTo: target}
	}

	body := rule.Body
	if rule.EnableVariables {
		body = Substitute(body, v)
	}

	return &Response{
		Status:      rule.StatusCode,
		ContentType: rule.ContentType,
		Headers:     decodeHeaders(rule.Headers),
		Body:        body,
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func decodeHeaders(encoded string) map[string]string {
	if encoded == "" {
		return map[string]string{}
	}
	headers := make(map[string]string)
	if err := json.Unmarshal([]byte(encoded), &headers); err != nil {
		return map[string]string{}
	}
	return headers
}
