package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "pivotflow/pkg/logx"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		kind  Kind
		cron  string
		every time.Duration
		err   bool
	}{
		{in: "@every 1m", kind: KindCron, cron: "@every 1m"},
		{in: "*/5 * * * *", kind: KindCron, cron: "*/5 * * * *"},
		{in: "cron:@hourly", kind: KindCron, cron: "@hourly"},
		{in: "90s", kind: KindInterval, every: 90 * time.Second},
		{in: "00:15", kind: KindInterval, every: 15 * time.Minute},
		{in: "every: 2h30m", kind: KindInterval, every: 150 * time.Minute},
		{in: "EVERY:01:00", kind: KindInterval, every: time.Hour},
		{in: "", err: true},
		{in: "cron:", err: true},
		{in: "0s", err: true},
		{in: "00:75", err: true},
		{in: "soon", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			if tc.err {
				if err == nil {
					t.Fatalf("Parse(%q) = %+v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.in, err)
			}
			if got.Kind != tc.kind || got.Cron != tc.cron || got.Every != tc.every {
				t.Fatalf("Parse(%q) = %+v", tc.in, got)
			}
		})
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	s := New(Config{}, logx.Nop())
	if err := s.Add("bad", "cron:* * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid cron error")
	}
	if err := s.Add("ok", "@every 1m", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := len(s.Entries()); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	if err := s.Add("prune", "1s", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if next := s.Entries()[0].Next; next.IsZero() {
		t.Fatal("next run not scheduled")
	}
	deadline := time.Now().Add(4 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestApplyTimezoneKeepsJobs(t *testing.T) {
	s := New(Config{}, logx.Nop())
	_ = s.Add("prune", "@every 1h", 0, func(context.Context) error { return nil })
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Apply(Config{Timezone: "Asia/Jakarta"})
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Next.IsZero() {
		t.Fatalf("entries after timezone change = %+v", entries)
	}
}
