package rules

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HsinTsao/sec-toolkit/internal/db"
	"github.com/HsinTsao/sec-toolkit/internal/metrics"
	"github.com/HsinTsao/sec-toolkit/internal/models"
)

func newTestEngine(t *testing.T) (*Engine, *sql.DB, int64) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	tokenID, err := db.CreateToken(d, "enginetok001", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return NewEngine(d, metrics.New(prometheus.NewRegistry()), zap.NewNop()), d, tokenID
}

func createRule(t *testing.T, d *sql.DB, r *models.PocRule) int64 {
	t.Helper()
	id, err := db.CreateRule(d, r)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return id
}

func TestLookupInactiveIsAbsent(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "off", StatusCode: 200,
		ContentType: "text/html", Headers: "{}", Active: false,
	})

	rule, err := e.Lookup(tokenID, "off")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rule != nil {
		t.Error("inactive rule returned by Lookup")
	}
}

func TestRenderBodyWithVariables(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "echo", StatusCode: 200,
		ContentType: "text/plain", Body: "hi {{method}}",
		Headers: "{}", EnableVariables: true, Active: true,
	})
	rule, err := e.Lookup(tokenID, "echo")
	if err != nil || rule == nil {
		t.Fatalf("Lookup: rule=%v err=%v", rule, err)
	}

	resp := e.Render(context.Background(), rule, Vars{Method: "GET", Now: time.Now(), Query: url.Values{}})

	if resp.Status != 200 {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if resp.Body != "hi GET" {
		t.Errorf("body = %q, want %q", resp.Body, "hi GET")
	}
	if resp.ContentType != "text/plain" {
		t.Errorf("content type = %q", resp.ContentType)
	}

	got, err := db.GetRule(d, tokenID, "echo")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.HitCount != 1 {
		t.Errorf("hit_count = %d, want 1", got.HitCount)
	}
}

func TestRenderVariablesDisabled(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "raw", StatusCode: 200,
		ContentType: "text/plain", Body: "hi {{method}}",
		Headers: "{}", Active: true,
	})
	rule, _ := e.Lookup(tokenID, "raw")

	resp := e.Render(context.Background(), rule, Vars{Method: "GET", Now: time.Now(), Query: url.Values{}})
	if resp.Body != "hi {{method}}" {
		t.Errorf("body = %q, want template verbatim", resp.Body)
	}
}

func TestRenderRedirectWinsOverBody(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	redirect := "http://169.254.169.254/latest/meta-data/"
	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "ssrf", StatusCode: 302,
		ContentType: "text/html", Body: "ignored body",
		Headers: "{}", RedirectURL: &redirect, Active: true,
	})
	rule, _ := e.Lookup(tokenID, "ssrf")

	resp := e.Render(context.Background(), rule, Vars{Now: time.Now(), Query: url.Values{}})

	if resp.RedirectTo != redirect {
		t.Errorf("redirect = %q, want %q", resp.RedirectTo, redirect)
	}
	if resp.Status != 302 {
		t.Errorf("status = %d, want 302", resp.Status)
	}
	if resp.Body != "" {
		t.Errorf("redirect response carries body %q", resp.Body)
	}
}

func TestRenderRedirectWithVariables(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	redirect := "http://elsewhere.example/?from={{param.src}}"
	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "bounce", StatusCode: 0,
		ContentType: "text/html", Headers: "{}",
		RedirectURL: &redirect, EnableVariables: true, Active: true,
	})
	rule, _ := e.Lookup(tokenID, "bounce")

	resp := e.Render(context.Background(), rule, Vars{
		Now:   time.Now(),
		Query: url.Values{"src": {"scanner"}},
	})

	if resp.RedirectTo != "http://elsewhere.example/?from=scanner" {
		t.Errorf("redirect = %q", resp.RedirectTo)
	}
	// Zero status defaults to 302 on the redirect path.
	if resp.Status != 302 {
		t.Errorf("status = %d, want 302", resp.Status)
	}
}

func TestRenderCustomHeaders(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "hdrs", StatusCode: 200,
		ContentType: "text/html",
		Headers:     `{"X-Custom":"yes","Content-Type":"application/json"}`,
		Active:      true,
	})
	rule, _ := e.Lookup(tokenID, "hdrs")

	resp := e.Render(context.Background(), rule, Vars{Now: time.Now(), Query: url.Values{}})

	if resp.Headers["X-Custom"] != "yes" {
		t.Errorf("custom header missing: %v", resp.Headers)
	}
	// Rule headers win over the content-type default at write time;
	// both are surfaced for the router to merge.
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("content-type override missing: %v", resp.Headers)
	}
}

func TestRenderConcurrentHitCount(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "busy", StatusCode: 200,
		ContentType: "text/plain", Body: "ok", Headers: "{}", Active: true,
	})
	rule, _ := e.Lookup(tokenID, "busy")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Render(context.Background(), rule, Vars{Now: time.Now(), Query: url.Values{}})
		}()
	}
	wg.Wait()

	got, err := db.GetRule(d, tokenID, "busy")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.HitCount != n {
		t.Errorf("hit_count = %d, want exactly %d", got.HitCount, n)
	}
}

func TestRenderDelayCancellable(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "slow", StatusCode: 200,
		ContentType: "text/plain", Body: "late", Headers: "{}",
		DelayMS: 5000, Active: true,
	})
	rule, _ := e.Lookup(tokenID, "slow")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	resp := e.Render(ctx, rule, Vars{Now: time.Now(), Query: url.Values{}})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled render took %v", elapsed)
	}
	if resp.Body != "late" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestRenderDelayApplied(t *testing.T) {
	e, d, tokenID := newTestEngine(t)

	createRule(t, d, &models.PocRule{
		TokenID: tokenID, Name: "pause", StatusCode: 200,
		ContentType: "text/plain", Body: "ok", Headers: "{}",
		DelayMS: 50, Active: true,
	})
	rule, _ := e.Lookup(tokenID, "pause")

	start := time.Now()
	e.Render(context.Background(), rule, Vars{Now: time.Now(), Query: url.Values{}})
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("delay not applied: %v", elapsed)
	}
}
