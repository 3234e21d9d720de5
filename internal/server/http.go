package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/capture"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/metrics"
	"github.com/HsinTsao/sec-toolkit/internal/models"
	"github.com/HsinTsao/sec-toolkit/internal/registry"
	"github.com/HsinTsao/sec-toolkit/internal/rules"
)

// capturePrefix is the reserved path prefix for the public callback
// endpoint: /c/<token>[/<subpath...>].
const capturePrefix = "/c/"

// HTTPServer is the public capture listener. It is deliberately a
// bare handler with no routing framework: every method and every path
// shape an attacker-controlled client can produce must reach dispatch.
type HTTPServer struct {
	Registry *registry.Registry
	Recorder *capture.Recorder
	Engine   *rules.Engine
	Metrics  *metrics.Metrics
	Domain   string
	Logger   *zap.Logger
}

// ExtractToken pulls the token code and remaining sub-path out of a
// request. Subdomain form (<code>.<domain>) is tried first so payloads
// that cannot control the path still land; the /c/ path form is the
// fallback. Deeper subdomains keep only the label closest to the
// domain, which lets DNS-style payloads prepend arbitrary data.
func ExtractToken(r *http.Request, domain string) (code, subPath string) {
	host := r.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	if domain != "" && strings.HasSuffix(host, "."+domain) {
		sub := strings.TrimSuffix(host, "."+domain)
		if idx := strings.LastIndex(sub, "."); idx != -1 {
			sub = sub[idx+1:]
		}
		if sub != "" {
			return sub, strings.TrimPrefix(r.URL.Path, "/")
		}
	}

	if strings.HasPrefix(r.URL.Path, capturePrefix) {
		rest := strings.TrimPrefix(r.URL.Path, capturePrefix)
		if idx := strings.Index(rest, "/"); idx != -1 {
			return rest[:idx], rest[idx+1:]
		}
		return rest, ""
	}

	return "", ""
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code, subPath := ExtractToken(r, s.Domain)
	if code == "" {
		writePlain(w, http.StatusNotFound, "Not Found")
		return
	}

	tok, err := s.Registry.Resolve(code)
	if err != nil {
		s.Logger.Error("resolve token failed", logging.Token(code), zap.Error(err))
		writePlain(w, http.StatusNotFound, "Not Found")
		return
	}
	if tok == nil {
		// Indistinguishable from a path that never existed, so the
		// endpoint cannot be used to enumerate live tokens.
		s.Logger.Debug("unknown token", logging.Token(code))
		s.Metrics.UnknownTokens.Inc()
		writePlain(w, http.StatusNotFound, "Not Found")
		return
	}

	// Recording happens before any rule logic and regardless of the
	// token's state. Nothing below may prevent it.
	s.Recorder.Record(tok, r, subPath)

	if strings.HasPrefix(subPath, "p/") {
		s.dispatchRule(w, r, tok, capture.PocRuleName(subPath))
		return
	}

	s.writeDefault(w, tok)
}

func (s *HTTPServer) dispatchRule(w http.ResponseWriter, r *http.Request, tok *models.Token, name string) {
	rule, err := s.Engine.Lookup(tok.ID, name)
	if err != nil {
		s.Logger.Error("rule lookup failed", logging.Token(tok.Code), logging.Rule(name), zap.Error(err))
	}
	if rule == nil {
		s.Metrics.RuleMisses.Inc()
		writePlain(w, http.StatusNotFound, fmt.Sprintf("PoC Rule '%s' not found", name))
		return
	}

	resp := s.Engine.Render(r.Context(), rule, rules.Vars{
		ClientIP:  capture.ResolveClientIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		Host:      r.Host,
		UserAgent: r.UserAgent(),
		TokenCode: tok.Code,
		Query:     r.URL.Query(),
		Now:       time.Now().UTC(),
	})

	if resp.RedirectTo != "" {
		http.Redirect(w, r, resp.RedirectTo, resp.Status)
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	for k, v := range resp.Headers {
		// Framing stays router-controlled; a rule header must never
		// break response delivery.
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length", "Transfer-Encoding", "Connection":
			continue
		}
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write([]byte(resp.Body))
}

func (s *HTTPServer) writeDefault(w http.ResponseWriter, tok *models.Token) {
	if tok.Expired(time.Now().Unix()) {
		writePlain(w, http.StatusGone, "Token Expired (but recorded)")
		return
	}
	writePlain(w, http.StatusOK, "OK")
}

// writePlain writes one of the fixed default bodies. The bodies are
// exact byte strings with no trailing newline; existing scanners match
// on them verbatim.
func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
