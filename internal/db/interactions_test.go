package db

import (
	"database/sql"
	"testing"

	"github.com/HsinTsao/sec-toolkit/internal/models"
)

func insertAt(t *testing.T, d *sql.DB, tokenID, at int64) int64 {
	t.Helper()
	id, err := CreateInteraction(d, &models.Interaction{
		TokenID: tokenID, OccurredAt: at, RemoteIP: "1.2.3.4",
		Method: "GET", Path: "/", Headers: "{}", Protocol: "HTTP",
	})
	if err != nil {
		t.Fatalf("create interaction: %v", err)
	}
	return id
}

func TestPollStrictlyGreaterNewestFirst(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "polltok00001", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	insertAt(t, d, tokenID, 100)
	insertAt(t, d, tokenID, 200)
	insertAt(t, d, tokenID, 300)

	got, err := PollInteractions(d, tokenID, 100, 50)
	if err != nil {
		t.Fatalf("PollInteractions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("poll returned %d interactions, want 2", len(got))
	}
	if got[0].OccurredAt != 300 || got[1].OccurredAt != 200 {
		t.Errorf("poll order = [%d, %d], want [300, 200]", got[0].OccurredAt, got[1].OccurredAt)
	}
}

func TestPollIdempotentForSameSince(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "polltok00002", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	insertAt(t, d, tokenID, 50)
	insertAt(t, d, tokenID, 60)

	first, err := PollInteractions(d, tokenID, 0, 50)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	second, err := PollInteractions(d, tokenID, 0, 50)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("poll sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("poll result %d differs: %d vs %d", i, first[i].ID, second[i].ID)
		}
	}
}

func TestPollPageCap(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "polltok00003", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	for i := int64(1); i <= 60; i++ {
		insertAt(t, d, tokenID, i)
	}

	got, err := PollInteractions(d, tokenID, 0, 50)
	if err != nil {
		t.Fatalf("PollInteractions: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("poll returned %d interactions, want page cap 50", len(got))
	}
	if got[0].OccurredAt != 60 {
		t.Errorf("newest first violated: first occurred_at = %d", got[0].OccurredAt)
	}
}

func TestClearInteractions(t *testing.T) {
	d := openTestDB(t)

	tokenID, err := CreateToken(d, "polltok00004", nil, nil, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	insertAt(t, d, tokenID, 1)
	insertAt(t, d, tokenID, 2)

	deleted, err := ClearInteractions(d, tokenID)
	if err != nil {
		t.Fatalf("ClearInteractions: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	count, err := CountInteractions(d, tokenID)
	if err != nil {
		t.Fatalf("CountInteractions: %v", err)
	}
	if count != 0 {
		t.Errorf("count after clear = %d, want 0", count)
	}
}

func TestStatsGrouping(t *testing.T) {
	d := openTestDB(t)

	keyID, err := CreateAPIKey(d, "statskey0001", []byte("hash"))
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	tokenID, err := CreateToken(d, "statstok0001", nil, &keyID, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	for i, ip := range []string{"1.1.1.1", "1.1.1.1", "2.2.2.2"} {
		if _, err := CreateInteraction(d, &models.Interaction{
			TokenID: tokenID, OccurredAt: int64(i + 1), RemoteIP: ip,
			Method: "GET", Path: "/", Headers: "{}", Protocol: "HTTP", UserAgent: "curl",
		}); err != nil {
			t.Fatalf("create interaction: %v", err)
		}
	}

	stats, err := GetTokenStats(d, tokenID)
	if err != nil {
		t.Fatalf("GetTokenStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if len(stats.ByIP) != 2 {
		t.Fatalf("by_ip buckets = %d, want 2", len(stats.ByIP))
	}
	if stats.ByIP[0].Value != "1.1.1.1" || stats.ByIP[0].Count != 2 {
		t.Errorf("top ip = %+v, want 1.1.1.1 x2", stats.ByIP[0])
	}

	owner, err := GetOwnerStats(d, keyID)
	if err != nil {
		t.Fatalf("GetOwnerStats: %v", err)
	}
	if owner.TotalTokens != 1 || owner.TotalRequests != 3 {
		t.Errorf("owner stats = %+v, want 1 token / 3 requests", owner)
	}
}
