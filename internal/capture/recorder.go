// Package capture implements the interaction recorder: every inbound
// request for a known token is durably recorded and classified,
// regardless of token state or request validity.
package capture

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/logging"
	"github.com/HsinTsao/sec-toolkit/internal/metrics"
	"github.com/HsinTsao/sec-toolkit/internal/models"
)

const (
	// maxBodyBytes caps how much of a request body is stored.
	maxBodyBytes = 1 << 20
	// maxHeaderEntries caps the recorded header map.
	maxHeaderEntries = 128
	// exfilBodyPrefix caps the body fallback for exfil payloads.
	exfilBodyPrefix = 2000
	// pocPrefix marks sub-paths that target a PoC rule.
	pocPrefix = "p/"
)

// exfilFallbackParams is checked in order when _exfil=1 arrives
// without an explicit _data parameter. Exfiltration payloads come
// through heterogeneous, often hand-edited templates.
var exfilFallbackParams = []string{"data", "d", "c", "cookie", "file", "cmd", "result"}

// clientIPHeaders is the resolution priority for the real client
// address behind common reverse-proxy and CDN deployments. Order
// matters and is part of the recorded-data contract.
var clientIPHeaders = []string{
	"CF-Connecting-IP",
	"X-Real-IP",
	"True-Client-IP",
	"X-Client-IP",
	"X-Forwarded-For",
}

// Recorder persists inbound interactions.
type Recorder struct {
	db      *sql.DB
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(database *sql.DB, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	return &Recorder{db: database, metrics: m, logger: logger}
}

// Record captures one HTTP request for a token. It runs regardless of
// the token's active or expired state; a persistence failure is
// logged, never propagated, so a response can always be written.
func (rec *Recorder) Record(tok *models.Token, r *http.Request, subPath string) *models.Interaction {
	requestID := uuid.NewString()

	in := buildInteraction(tok, r, subPath)

	if _, err := db.CreateInteraction(rec.db, in); err != nil {
		rec.logger.Error("record interaction failed",
			logging.RequestID(requestID),
			logging.Token(tok.Code),
			zap.Error(err))
		return in
	}

	fields := []zap.Field{
		logging.RequestID(requestID),
		logging.Token(tok.Code),
		logging.RemoteIP(in.RemoteIP),
		logging.Method(in.Method),
		logging.Path(in.Path),
	}
	if in.IsDataExfil && in.ExfilType != nil {
		fields = append(fields, logging.ExfilType(*in.ExfilType))
	}
	rec.logger.Info("interaction recorded", fields...)

	rec.metrics.InteractionsRecorded.WithLabelValues(in.Protocol).Inc()
	if in.IsDataExfil {
		rec.metrics.ExfilSignals.Inc()
	}

	return in
}

// RecordDNS captures one DNS query for a token.
func (rec *Recorder) RecordDNS(tok *models.Token, qname, qtype, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}

	in := &models.Interaction{
		TokenID:    tok.ID,
		OccurredAt: time.Now().UnixNano(),
		RemoteIP:   ip,
		Method:     qtype,
		Path:       qname,
		Headers:    "{}",
		Protocol:   "DNS",
		RawRequest: fmt.Sprintf("%s %s", qtype, qname),
	}

	if _, err := db.CreateInteraction(rec.db, in); err != nil {
		rec.logger.Error("record dns interaction failed",
			logging.Token(tok.Code), logging.QName(qname), zap.Error(err))
		return
	}

	rec.logger.Info("dns interaction recorded",
		logging.Token(tok.Code), logging.QName(qname), logging.RemoteIP(ip))
	rec.metrics.InteractionsRecorded.WithLabelValues("DNS").Inc()
}

func buildInteraction(tok *models.Token, r *http.Request, subPath string) *models.Interaction {
	body := readBody(r)
	query := r.URL.Query()

	in := &models.Interaction{
		TokenID:    tok.ID,
		OccurredAt: time.Now().UnixNano(),
		RemoteIP:   ResolveClientIP(r),
		Method:     r.Method,
		Path:       displayPath(subPath),
		Query:      r.URL.RawQuery,
		Headers:    encodeHeaders(r.Header),
		Body:       []byte(body),
		UserAgent:  r.Header.Get("User-Agent"),
		Protocol:   protocolOf(r),
		RawRequest: reconstructRequest(r, body),
	}

	classifyExfil(in, query, body)
	classifyPocHit(in, subPath)

	return in
}

// ResolveClientIP resolves the best-effort client address: proxy and
// CDN headers in fixed priority order (first element of a
// comma-separated value, trimmed), then the transport peer, then
// "unknown".
func ResolveClientIP(r *http.Request) string {
	for _, header := range clientIPHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		ip := strings.TrimSpace(strings.SplitN(value, ",", 2)[0])
		if ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

// classifyExfil flags the interaction when the reserved _exfil=1
// marker is present. The payload is resolved by priority: explicit
// _data, then the first present fallback parameter, then a capped
// prefix of the body.
func classifyExfil(in *models.Interaction, query url.Values, body string) {
	if query.Get("_exfil") != "1" {
		return
	}
	in.IsDataExfil = true

	if t := query.Get("_type"); t != "" {
		in.ExfilType = &t
	}

	data := query.Get("_data")
	if data == "" {
		for _, name := range exfilFallbackParams {
			if v := query.Get(name); v != "" {
				data = v
				break
			}
		}
	}
	if data == "" && body != "" {
		data = body
		if len(data) > exfilBodyPrefix {
			data = data[:exfilBodyPrefix]
		}
	}
	if data != "" {
		in.ExfilData = &data
	}
}

// classifyPocHit marks requests under the reserved PoC prefix and
// records the candidate rule name, whether or not such a rule exists,
// so near-misses stay visible.
func classifyPocHit(in *models.Interaction, subPath string) {
	if !strings.HasPrefix(subPath, pocPrefix) {
		return
	}
	in.IsPocHit = true
	name := strings.SplitN(strings.TrimPrefix(subPath, pocPrefix), "/", 2)[0]
	if name != "" {
		in.PocRuleName = &name
	}
}

// PocRuleName extracts the candidate rule name from a sub-path under
// the reserved prefix, or "" when the path is not a PoC path.
func PocRuleName(subPath string) string {
	if !strings.HasPrefix(subPath, pocPrefix) {
		return ""
	}
	return strings.SplitN(strings.TrimPrefix(subPath, pocPrefix), "/", 2)[0]
}

// readBody drains the request body up to the cap, replacing invalid
// UTF-8 so undecodable bytes never reject a capture.
func readBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	// Read errors keep whatever arrived; partial bodies still get stored.
	raw, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return strings.ToValidUTF8(string(raw), "�")
}

func encodeHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// The cap keeps the first entries in sorted order, so which
	// headers survive an oversized set is stable.
	if len(keys) > maxHeaderEntries {
		keys = keys[:maxHeaderEntries]
	}
	headers := make(map[string][]string, len(keys))
	for _, k := range keys {
		headers[k] = h[k]
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func protocolOf(r *http.Request) string {
	if r.TLS != nil {
		return "HTTPS"
	}
	return "HTTP"
}

func displayPath(subPath string) string {
	if subPath == "" {
		return "/"
	}
	return "/" + subPath
}

// reconstructRequest rebuilds a request-line/headers/body view of the
// inbound request for the operator.
func reconstructRequest(r *http.Request, body string) string {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	lines := []string{
		fmt.Sprintf("%s %s %s", r.Method, target, r.Proto),
		"Host: " + r.Host,
	}

	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range r.Header[k] {
			lines = append(lines, k+": "+v)
		}
	}

	lines = append(lines, "")
	if body != "" {
		lines = append(lines, body)
	}
	return strings.Join(lines, "\r\n")
}
