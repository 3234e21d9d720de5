// Package server implements the capture, management API, and DNS
// listeners.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/api"
	"github.com/HsinTsao/sec-toolkit/internal/auth"
	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/models"
	"github.com/HsinTsao/sec-toolkit/internal/registry"
	"github.com/HsinTsao/sec-toolkit/internal/rules"
)

type contextKey string

const apiKeyIDContextKey contextKey = "apiKeyID"

const defaultListLimit = 100

func getAPIKeyID(r *http.Request) int64 {
	if id, ok := r.Context().Value(apiKeyIDContextKey).(int64); ok {
		return id
	}
	return 0
}

// TokenRegistry is the token lifecycle surface the API drives.
type TokenRegistry interface {
	Create(apiKeyID int64, name *string, ttlHours int) (*models.Token, error)
	Renew(id int64, ttlHours int) (*models.Token, error)
	Delete(id int64) error
}

// APIServer handles the authenticated management REST API.
type APIServer struct {
	DB         *sql.DB
	Registry   TokenRegistry
	Logger     *zap.Logger
	Gatherer   prometheus.Gatherer
	PathPrefix string
}

// AuthMiddleware validates API key authentication for protected routes.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		key, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		prefix, _, err := auth.ParseAPIKey(key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		stored, err := db.GetAPIKeyByPrefix(s.DB, prefix)
		if err != nil || stored == nil || stored.RevokedAt != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if !auth.VerifyAPIKey(key, stored.KeyHash) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyIDContextKey, stored.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler returns the management API router.
func (s *APIServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method("GET", "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/v1/poc-templates", s.handleTemplates)

	r.Route("/v1/tokens", func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Post("/", s.handleCreateToken)
		r.Get("/", s.handleListTokens)
		r.Route("/{code}", func(r chi.Router) {
			r.Patch("/renew", s.handleRenewToken)
			r.Delete("/", s.handleDeleteToken)
			r.Get("/interactions", s.handleListInteractions)
			r.Delete("/interactions", s.handleClearInteractions)
			r.Get("/poll", s.handlePollInteractions)
			r.Get("/stats", s.handleTokenStats)
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Patch("/rules/{name}", s.handleUpdateRule)
			r.Delete("/rules/{name}", s.handleDeleteRule)
		})
	})
	r.With(s.AuthMiddleware).Get("/v1/stats", s.handleOwnerStats)

	return r
}

// ownedToken resolves {code} and enforces ownership. An existing token
// owned by someone else reads as absent, same as the capture endpoint.
func (s *APIServer) ownedToken(w http.ResponseWriter, r *http.Request) *models.Token {
	code := chi.URLParam(r, "code")
	tok, err := db.GetTokenByCode(s.DB, code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return nil
	}
	apiKeyID := getAPIKeyID(r)
	if tok == nil || tok.APIKeyID == nil || *tok.APIKeyID != apiKeyID {
		writeError(w, http.StatusNotFound, "token not found")
		return nil
	}
	return tok
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *APIServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rules.Catalogue)
}

func (s *APIServer) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var name *string
	if req.Name != "" {
		name = &req.Name
	}

	tok, err := s.Registry.Create(getAPIKeyID(r), name, int(req.TTLHours))
	if errors.Is(err, registry.ErrCodeExhausted) {
		writeError(w, http.StatusConflict, "token code generation exhausted retries")
		return
	}
	if err != nil {
		s.Logger.Error("create token failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, s.tokenResponse(tok, 0))
}

func (s *APIServer) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := db.ListTokensByAPIKey(s.DB, getAPIKeyID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	resp := api.ListTokensResponse{Tokens: make([]api.TokenResponse, 0, len(tokens))}
	for _, t := range tokens {
		resp.Tokens = append(resp.Tokens, s.tokenResponse(&t.Token, t.InteractionCount))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleRenewToken(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	var req api.RenewTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	renewed, err := s.Registry.Renew(tok.ID, int(req.TTLHours))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to renew token")
		return
	}
	writeJSON(w, http.StatusOK, s.tokenResponse(renewed, 0))
}

func (s *APIServer) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	if err := s.Registry.Delete(tok.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete token")
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: true})
}

func (s *APIServer) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	interactions, err := db.ListInteractions(s.DB, tok.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, api.ListInteractionsResponse{
		Token:        tok.Code,
		Interactions: s.interactionResponses(interactions),
	})
}

func (s *APIServer) handleClearInteractions(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	n, err := db.ClearInteractions(s.DB, tok.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, api.ClearInteractionsResponse{Deleted: n})
}

func (s *APIServer) handlePollInteractions(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = ts.UnixNano()
	}

	interactions, err := db.PollInteractions(s.DB, tok.ID, since, db.PollPageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, api.PollInteractionsResponse{
		Token:        tok.Code,
		Since:        since,
		Interactions: s.interactionResponses(interactions),
	})
}

func (s *APIServer) handleTokenStats(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	stats, err := db.GetTokenStats(s.DB, tok.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *APIServer) handleOwnerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.GetOwnerStats(s.DB, getAPIKeyID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *APIServer) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	var req api.CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rule, ok := ruleFromRequest(w, &req, tok.ID)
	if !ok {
		return
	}

	if _, err := db.CreateRule(s.DB, rule); err != nil {
		if errors.Is(err, db.ErrRuleNameTaken) {
			writeError(w, http.StatusConflict, fmt.Sprintf("rule %q already exists", rule.Name))
			return
		}
		s.Logger.Error("create rule failed", logging.Rule(rule.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	created, err := db.GetRule(s.DB, tok.ID, rule.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusCreated, s.ruleResponse(tok, created))
}

// ruleFromRequest builds a PocRule from a create request, starting
// from the named catalogue template when one is given.
func ruleFromRequest(w http.ResponseWriter, req *api.CreateRuleRequest, tokenID int64) (*models.PocRule, bool) {
	rule := &models.PocRule{
		TokenID:     tokenID,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Headers:     "{}",
		Active:      true,
	}

	if req.Template != "" {
		tpl, ok := rules.Catalogue[req.Template]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown template %q", req.Template))
			return nil, false
		}
		rule.Name = tpl.Name
		rule.Description = &tpl.Description
		rule.ContentType = tpl.ContentType
		rule.Body = tpl.Body
		rule.EnableVariables = tpl.EnableVariables
		if tpl.StatusCode != 0 {
			rule.StatusCode = tpl.StatusCode
		}
		if tpl.RedirectURL != "" {
			rule.RedirectURL = &tpl.RedirectURL
		}
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if rule.Name == "" {
		writeError(w, http.StatusBadRequest, "rule name required")
		return nil, false
	}
	if req.Description != "" {
		rule.Description = &req.Description
	}
	if req.StatusCode != 0 {
		rule.StatusCode = req.StatusCode
	}
	if req.ContentType != "" {
		rule.ContentType = req.ContentType
	}
	if req.Body != "" {
		rule.Body = req.Body
	}
	if len(req.Headers) > 0 {
		raw, err := json.Marshal(req.Headers)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid headers")
			return nil, false
		}
		rule.Headers = string(raw)
	}
	if req.RedirectURL != nil {
		rule.RedirectURL = req.RedirectURL
	}
	if req.DelayMS > 0 {
		rule.DelayMS = req.DelayMS
	}
	if req.EnableVariables {
		rule.EnableVariables = true
	}

	return rule, true
}

func (s *APIServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}

	ruleList, err := db.ListRules(s.DB, tok.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	resp := api.ListRulesResponse{Token: tok.Code, Rules: make([]api.RuleResponse, 0, len(ruleList))}
	for i := range ruleList {
		resp.Rules = append(resp.Rules, s.ruleResponse(tok, &ruleList[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}
	name := chi.URLParam(r, "name")

	var req api.UpdateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	update := db.RuleUpdate{
		Description:     req.Description,
		StatusCode:      req.StatusCode,
		ContentType:     req.ContentType,
		Body:            req.Body,
		RedirectURL:     req.RedirectURL,
		ClearRedirect:   req.ClearRedirect,
		DelayMS:         req.DelayMS,
		EnableVariables: req.EnableVariables,
		Active:          req.Active,
	}
	if req.Headers != nil {
		raw, err := json.Marshal(req.Headers)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid headers")
			return
		}
		headers := string(raw)
		update.Headers = &headers
	}

	if err := db.UpdateRule(s.DB, tok.ID, name, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}

	updated, err := db.GetRule(s.DB, tok.ID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, s.ruleResponse(tok, updated))
}

func (s *APIServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	tok := s.ownedToken(w, r)
	if tok == nil {
		return
	}
	name := chi.URLParam(r, "name")

	if err := db.DeleteRule(s.DB, tok.ID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: true})
}

func (s *APIServer) tokenResponse(t *models.Token, count int) api.TokenResponse {
	resp := api.TokenResponse{
		ID:               t.ID,
		Token:            t.Code,
		Name:             t.Name,
		CallbackPath:     s.PathPrefix + t.Code,
		CreatedAt:        time.Unix(t.CreatedAt, 0).UTC().Format(time.RFC3339),
		Active:           t.Active,
		InteractionCount: count,
	}
	if t.ExpiresAt != nil {
		exp := time.Unix(*t.ExpiresAt, 0).UTC().Format(time.RFC3339)
		resp.ExpiresAt = &exp
	}
	return resp
}

func (s *APIServer) ruleResponse(tok *models.Token, rule *models.PocRule) api.RuleResponse {
	resp := api.RuleResponse{
		ID:              rule.ID,
		Name:            rule.Name,
		StatusCode:      rule.StatusCode,
		ContentType:     rule.ContentType,
		Body:            rule.Body,
		RedirectURL:     rule.RedirectURL,
		DelayMS:         rule.DelayMS,
		EnableVariables: rule.EnableVariables,
		Active:          rule.Active,
		HitCount:        rule.HitCount,
		TriggerPath:     s.PathPrefix + tok.Code + "/p/" + rule.Name,
	}
	if rule.Description != nil {
		resp.Description = *rule.Description
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(rule.Headers), &headers); err == nil && len(headers) > 0 {
		resp.Headers = headers
	}
	return resp
}

func (s *APIServer) interactionResponses(interactions []models.Interaction) []api.InteractionResponse {
	out := make([]api.InteractionResponse, 0, len(interactions))
	for i := range interactions {
		in := &interactions[i]
		ir := api.InteractionResponse{
			ID:          in.ID,
			OccurredAt:  time.Unix(0, in.OccurredAt).UTC().Format(time.RFC3339Nano),
			OccurredAtN: in.OccurredAt,
			RemoteIP:    in.RemoteIP,
			Method:      in.Method,
			Path:        in.Path,
			Query:       in.Query,
			Body:        string(in.Body),
			UserAgent:   in.UserAgent,
			Protocol:    in.Protocol,
			RawRequest:  in.RawRequest,
			IsPocHit:    in.IsPocHit,
			PocRuleName: in.PocRuleName,
			IsDataExfil: in.IsDataExfil,
			ExfilType:   in.ExfilType,
			ExfilData:   in.ExfilData,
		}
		// Stored as map[string][]string by the recorder; flattened to
		// one comma-joined value per name for the response.
		var stored map[string][]string
		if err := json.Unmarshal([]byte(in.Headers), &stored); err != nil {
			s.Logger.Warn("parse stored headers failed",
				zap.Int64("interaction_id", in.ID), zap.Error(err))
		}
		headers := make(map[string]string, len(stored))
		for k, v := range stored {
			headers[k] = strings.Join(v, ", ")
		}
		ir.Headers = headers
		out = append(out, ir)
	}
	return out
}

// decodeBody decodes a JSON request body into dst. An empty body is
// accepted as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "unexpected trailing data")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
