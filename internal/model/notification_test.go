package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPendingRequestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		req     PendingRequest
		wantErr bool
	}{
		{name: "ok", req: PendingRequest{Category: Category{Main: CategoryGas}, Title: "Gas spike"}},
		{name: "ok with priority", req: PendingRequest{Category: Category{Main: CategoryNFT, Sub: "floor"}, Title: "Floor", Priority: PriorityLow}},
		{name: "bad category", req: PendingRequest{Category: Category{Main: "stocks"}, Title: "x"}, wantErr: true},
		{name: "empty title", req: PendingRequest{Category: Category{Main: CategorySystem}, Title: "  "}, wantErr: true},
		{name: "bad priority", req: PendingRequest{Category: Category{Main: CategorySystem}, Title: "x", Priority: "urgent"}, wantErr: true},
		{name: "action without url", req: PendingRequest{Category: Category{Main: CategorySystem}, Title: "x", Action: &Action{Label: "Open"}}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("Validate() = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
		})
	}
}

func TestCommitCopiesOptionalFields(t *testing.T) {
	t.Parallel()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	req := PendingRequest{
		Category:  Category{Main: CategoryPortfolio},
		Title:     "Rebalance",
		Action:    &Action{Label: "Open", URL: "/portfolio"},
		ExpiresAt: &exp,
	}
	now := time.Date(2029, 6, 1, 12, 0, 0, 0, time.UTC)
	n := req.Commit("id-1", now)
	if n.ID != "id-1" || !n.Timestamp.Equal(now) || n.Read {
		t.Fatalf("unexpected commit: %+v", n)
	}
	req.Action.Label = "changed"
	*req.ExpiresAt = now
	if n.Action.Label != "Open" {
		t.Fatalf("action aliased request: %q", n.Action.Label)
	}
	if !n.ExpiresAt.Equal(exp) {
		t.Fatalf("expiresAt aliased request: %v", n.ExpiresAt)
	}
}

func TestNotificationExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)
	if (Notification{}).Expired(now) {
		t.Fatal("record without expiresAt must not expire")
	}
	if !(Notification{ExpiresAt: &past}).Expired(now) {
		t.Fatal("past expiresAt must be expired")
	}
	if (Notification{ExpiresAt: &future}).Expired(now) {
		t.Fatal("future expiresAt must not be expired")
	}
}

func TestNotificationJSONLayout(t *testing.T) {
	t.Parallel()
	n := Notification{
		ID:        "a",
		Category:  Category{Main: CategoryGas},
		Title:     "t",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, key := range []string{`"id":"a"`, `"category":{"main":"gas"}`, `"read":false`, `"timestamp":"2024-01-02T03:04:05Z"`} {
		if !strings.Contains(s, key) {
			t.Fatalf("missing %s in %s", key, s)
		}
	}
	for _, key := range []string{"priority", "action", "groupId", "expiresAt"} {
		if strings.Contains(s, key) {
			t.Fatalf("optional field %s should be omitted: %s", key, s)
		}
	}
}

func TestParseMainCategory(t *testing.T) {
	t.Parallel()
	if c, err := ParseMainCategory(" NFT "); err != nil || c != CategoryNFT {
		t.Fatalf("ParseMainCategory = %q, %v", c, err)
	}
	if c, err := ParseMainCategory(""); err != nil || c != "" {
		t.Fatalf("empty category = %q, %v", c, err)
	}
	if _, err := ParseMainCategory("weather"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
