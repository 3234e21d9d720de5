package capture

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/metrics"
	"github.com/HsinTsao/sec-toolkit/internal/models"
)

func TestResolveClientIPPriority(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{
			name:     "cloudflare wins over everything",
			headers:  map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Real-IP": "2.2.2.2", "X-Forwarded-For": "3.3.3.3"},
			remote:   "9.9.9.9:1234",
			expected: "1.1.1.1",
		},
		{
			name:     "x-real-ip over true-client-ip",
			headers:  map[string]string{"X-Real-IP": "2.2.2.2", "True-Client-IP": "3.3.3.3"},
			remote:   "9.9.9.9:1234",
			expected: "2.2.2.2",
		},
		{
			name:     "true-client-ip over x-client-ip",
			headers:  map[string]string{"True-Client-IP": "3.3.3.3", "X-Client-IP": "4.4.4.4"},
			remote:   "9.9.9.9:1234",
			expected: "3.3.3.3",
		},
		{
			name:     "x-client-ip over forwarded-for",
			headers:  map[string]string{"X-Client-IP": "4.4.4.4", "X-Forwarded-For": "5.5.5.5"},
			remote:   "9.9.9.9:1234",
			expected: "4.4.4.4",
		},
		{
			name:     "forwarded-for takes first element trimmed",
			headers:  map[string]string{"X-Forwarded-For": " 5.5.5.5 , 10.0.0.1, 10.0.0.2"},
			remote:   "9.9.9.9:1234",
			expected: "5.5.5.5",
		},
		{
			name:     "falls back to transport peer",
			headers:  nil,
			remote:   "9.9.9.9:1234",
			expected: "9.9.9.9",
		},
		{
			name:     "no peer at all",
			headers:  nil,
			remote:   "",
			expected: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://example.com/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ResolveClientIP(r); got != tt.expected {
				t.Errorf("ResolveClientIP() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassifyExfil(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		body      string
		wantExfil bool
		wantType  string
		wantData  string
	}{
		{
			name:      "explicit data",
			query:     "_exfil=1&_type=cookie&_data=YWJj",
			wantExfil: true, wantType: "cookie", wantData: "YWJj",
		},
		{
			name:      "no marker means no exfil even with data",
			query:     "_type=cookie&_data=YWJj",
			wantExfil: false,
		},
		{
			name:      "fallback param data",
			query:     "_exfil=1&data=payload",
			wantExfil: true, wantData: "payload",
		},
		{
			name:      "fallback order prefers data over cmd",
			query:     "_exfil=1&cmd=second&data=first",
			wantExfil: true, wantData: "first",
		},
		{
			name:      "fallback cookie param",
			query:     "_exfil=1&cookie=session%3Dabc",
			wantExfil: true, wantData: "session=abc",
		},
		{
			name:      "body fallback when no params",
			query:     "_exfil=1",
			body:      "exfil-via-post-body",
			wantExfil: true, wantData: "exfil-via-post-body",
		},
		{
			name:      "body fallback is capped",
			query:     "_exfil=1",
			body:      strings.Repeat("A", 5000),
			wantExfil: true, wantData: strings.Repeat("A", 2000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			in := &models.Interaction{}
			classifyExfil(in, query, tt.body)

			if in.IsDataExfil != tt.wantExfil {
				t.Fatalf("IsDataExfil = %v, want %v", in.IsDataExfil, tt.wantExfil)
			}
			if tt.wantType != "" {
				if in.ExfilType == nil || *in.ExfilType != tt.wantType {
					t.Errorf("ExfilType = %v, want %q", in.ExfilType, tt.wantType)
				}
			}
			if tt.wantData != "" {
				if in.ExfilData == nil || *in.ExfilData != tt.wantData {
					t.Errorf("ExfilData = %v, want %q", in.ExfilData, tt.wantData)
				}
			}
		})
	}
}

func TestClassifyPocHit(t *testing.T) {
	tests := []struct {
		subPath  string
		wantHit  bool
		wantName string
	}{
		{"p/echo", true, "echo"},
		{"p/echo/trailing/bits", true, "echo"},
		{"p/ghost", true, "ghost"},
		{"p/", true, ""},
		{"ping", false, ""},
		{"", false, ""},
		{"x/p/echo", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.subPath, func(t *testing.T) {
			in := &models.Interaction{}
			classifyPocHit(in, tt.subPath)
			if in.IsPocHit != tt.wantHit {
				t.Errorf("IsPocHit = %v, want %v", in.IsPocHit, tt.wantHit)
			}
			gotName := ""
			if in.PocRuleName != nil {
				gotName = *in.PocRuleName
			}
			if gotName != tt.wantName {
				t.Errorf("PocRuleName = %q, want %q", gotName, tt.wantName)
			}
		})
	}
}

func TestEncodeHeadersDeterministicCap(t *testing.T) {
	h := make(http.Header, 200)
	for i := 0; i < 200; i++ {
		h.Set(fmt.Sprintf("X-H-%03d", i), "v")
	}

	first := encodeHeaders(h)
	var kept map[string][]string
	if err := json.Unmarshal([]byte(first), &kept); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(kept) != maxHeaderEntries {
		t.Fatalf("kept %d headers, want %d", len(kept), maxHeaderEntries)
	}
	// The cap keeps the lowest keys in sort order.
	if _, ok := kept["X-H-000"]; !ok {
		t.Error("X-H-000 dropped")
	}
	if _, ok := kept["X-H-127"]; !ok {
		t.Error("X-H-127 dropped")
	}
	if _, ok := kept["X-H-128"]; ok {
		t.Error("X-H-128 survived past the cap")
	}
	for i := 0; i < 10; i++ {
		if encodeHeaders(h) != first {
			t.Fatal("encoding changed between calls")
		}
	}
}

func TestRecordUnconditional(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = d.Close() }()

	past := time.Now().Add(-time.Hour).Unix()
	tokenID, err := db.CreateToken(d, "expiredtok01", nil, nil, &past)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	tok, err := db.GetTokenByID(d, tokenID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if !tok.Expired(time.Now().Unix()) {
		t.Fatal("fixture token not expired")
	}

	rec := NewRecorder(d, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	r := httptest.NewRequest("POST", "http://example.com/c/expiredtok01/ping?x=1", strings.NewReader("body\xffbytes"))
	r.RemoteAddr = "6.7.8.9:5555"
	r.Header.Set("User-Agent", "curl/8.0")

	in := rec.Record(tok, r, "ping")

	got, err := db.ListInteractions(d, tokenID, 10)
	if err != nil {
		t.Fatalf("list interactions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("recorded %d interactions on expired token, want 1", len(got))
	}
	if got[0].Method != "POST" || got[0].Path != "/ping" {
		t.Errorf("stored %s %s, want POST /ping", got[0].Method, got[0].Path)
	}
	if got[0].UserAgent != "curl/8.0" {
		t.Errorf("user agent = %q", got[0].UserAgent)
	}
	// Invalid bytes are replaced, never rejected.
	if !strings.Contains(string(got[0].Body), "�") {
		t.Errorf("body %q lost the replacement rune", got[0].Body)
	}
	if in.RemoteIP != "6.7.8.9" {
		t.Errorf("remote ip = %q", in.RemoteIP)
	}
	if !strings.Contains(in.RawRequest, "POST /c/expiredtok01/ping?x=1 HTTP/1.1") {
		t.Errorf("raw request missing request line: %q", in.RawRequest)
	}
}
