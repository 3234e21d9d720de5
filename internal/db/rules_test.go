package db

import (
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/HsinTsao/sec-toolkit/internal/models"
)

func newRule(tokenID int64, name string) *models.PocRule {
	return &models.PocRule{
		TokenID:     tokenID,
		Name:        name,
		StatusCode:  200,
		ContentType: "text/html",
		Headers:     "{}",
		Active:      true,
	}
}

func TestCreateRuleDuplicateName(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "ruletok00001", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	if _, err := CreateRule(d, newRule(tokenID, "echo")); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	_, err = CreateRule(d, newRule(tokenID, "echo"))
	if !errors.Is(err, ErrRuleNameTaken) {
		t.Errorf("duplicate rule error = %v, want ErrRuleNameTaken", err)
	}
}

func TestRuleNameUniquePerTokenOnly(t *testing.T) {
	d := openTestDB(t)

	tok1, err := CreateToken(d, "ruletok00002", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	tok2, err := CreateToken(d, "ruletok00003", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	if _, err := CreateRule(d, newRule(tok1, "echo")); err != nil {
		t.Fatalf("create rule on tok1: %v", err)
	}
	if _, err := CreateRule(d, newRule(tok2, "echo")); err != nil {
		t.Errorf("same rule name on another token rejected: %v", err)
	}
}

func TestGetActiveRuleFiltersInactive(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "ruletok00004", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	r := newRule(tokenID, "dormant")
	r.Active = false
	if _, err := CreateRule(d, r); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	got, err := GetActiveRule(d, tokenID, "dormant")
	if err != nil {
		t.Fatalf("GetActiveRule: %v", err)
	}
	if got != nil {
		t.Error("inactive rule returned by GetActiveRule")
	}

	all, err := GetRule(d, tokenID, "dormant")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if all == nil {
		t.Error("inactive rule not returned by GetRule")
	}
}

func TestIncrementRuleHitConcurrent(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "ruletok00005", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	ruleID, err := CreateRule(d, newRule(tokenID, "busy"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	const n = 100
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- IncrementRuleHit(d, ruleID)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	rule, err := GetRule(d, tokenID, "busy")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if rule.HitCount != n {
		t.Errorf("hit_count = %d, want %d", rule.HitCount, n)
	}
}

func TestUpdateRulePartial(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "ruletok00006", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := CreateRule(d, newRule(tokenID, "mut")); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	status := 302
	redirect := "http://169.254.169.254/latest/meta-data/"
	active := false
	err = UpdateRule(d, tokenID, "mut", RuleUpdate{
		StatusCode:  &status,
		RedirectURL: &redirect,
		Active:      &active,
	})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}

	rule, err := GetRule(d, tokenID, "mut")
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if rule.StatusCode != 302 {
		t.Errorf("status = %d, want 302", rule.StatusCode)
	}
	if rule.RedirectURL == nil || *rule.RedirectURL != redirect {
		t.Errorf("redirect = %v, want %q", rule.RedirectURL, redirect)
	}
	if rule.Active {
		t.Error("rule still active after update")
	}
	// Untouched fields survive.
	if rule.ContentType != "text/html" {
		t.Errorf("content type changed: %q", rule.ContentType)
	}
}

func TestUpdateRuleAbsent(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "ruletok00007", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	status := 404
	err = UpdateRule(d, tokenID, "ghost", RuleUpdate{StatusCode: &status})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("update absent rule error = %v, want sql.ErrNoRows", err)
	}

	if err := DeleteRule(d, tokenID, "ghost"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("delete absent rule error = %v, want sql.ErrNoRows", err)
	}
}
