package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pivotflow/internal/eventbus"
	"pivotflow/internal/model"
	"pivotflow/internal/notifier"
	rtsup "pivotflow/internal/runtime/supervisor"
	logx "pivotflow/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-for-unit-tests"

type fixture struct {
	svc   *notifier.Service
	bus   eventbus.Bus
	srv   *Server
	token string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	bus := eventbus.New()
	svc := notifier.New(notifier.Options{
		Bus:   bus,
		Clock: func() time.Time { return now },
		NewID: func() string { seq++; return fmt.Sprintf("id-%d", seq) },
	})
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	srv, err := New(cfg, svc, bus, func() rtsup.Snapshot { return rtsup.Snapshot{} }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	token, err := IssueToken(cfg.JWTSecret, cfg.Issuer, "tester", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return &fixture{svc: svc, bus: bus, srv: srv, token: token}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func gasAlert(title string) model.PendingRequest {
	return model.PendingRequest{
		Category: model.Category{Main: model.CategoryGas, Sub: "alert"},
		Title:    title,
		Message:  "base fee below threshold",
		Priority: model.PriorityHigh,
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil, logx.Nop()); err != ErrNoSecret {
		t.Fatalf("New = %v, want ErrNoSecret", err)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{Issuer: "pivotflowd"})

	wrongSecret, _ := IssueToken("other-secret", "pivotflowd", "x", time.Hour)
	wrongIssuer, _ := IssueToken(testSecret, "someone-else", "x", time.Hour)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"valid", "Bearer " + f.token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			f.srv.Handler().ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t, Config{})
	f.token = ""
	w := f.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["queue_len"] != float64(0) {
		t.Fatalf("body = %v", body)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	f := newFixture(t, Config{})

	if w := f.do(t, http.MethodPost, "/api/v1/notifications", gasAlert("Gas is cheap")); w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d (%s)", w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodGet, "/api/v1/notifications", nil)
	list := decode[struct {
		Notifications []model.Notification `json:"notifications"`
	}](t, w)
	if len(list.Notifications) != 1 || list.Notifications[0].ID != "id-1" {
		t.Fatalf("list = %+v", list.Notifications)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/notifications/id-1", nil); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/notifications/unread-count?category=gas", nil); decode[map[string]int](t, w)["count"] != 1 {
		t.Fatalf("unread before read = %s", w.Body.String())
	}
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPut, "/api/v1/notifications/id-1/read", nil)
		if w.Code != http.StatusOK || decode[map[string]any](t, w)["found"] != true {
			t.Fatalf("mark read #%d = %d %s", i+1, w.Code, w.Body.String())
		}
	}
	if w := f.do(t, http.MethodGet, "/api/v1/notifications/unread-count", nil); decode[map[string]int](t, w)["count"] != 0 {
		t.Fatalf("unread after read = %s", w.Body.String())
	}
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPut, "/api/v1/notifications/missing/read", nil)
		if w.Code != http.StatusOK || decode[map[string]any](t, w)["found"] != false {
			t.Fatalf("mark unknown #%d = %d %s", i+1, w.Code, w.Body.String())
		}
	}
	for i := 0; i < 2; i++ {
		if w := f.do(t, http.MethodDelete, "/api/v1/notifications/id-1", nil); w.Code != http.StatusNoContent {
			t.Fatalf("delete #%d status = %d", i+1, w.Code)
		}
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/notifications/missing", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete unknown status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/notifications/id-1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
	if f.svc.Len() != 0 {
		t.Fatalf("len = %d after delete", f.svc.Len())
	}
}

func TestBatchIsThrottled(t *testing.T) {
	f := newFixture(t, Config{})
	reqs := []model.PendingRequest{gasAlert("one"), gasAlert("two"), gasAlert("three")}

	w := f.do(t, http.MethodPost, "/api/v1/notifications/batch", reqs)
	if w.Code != http.StatusAccepted {
		t.Fatalf("batch status = %d (%s)", w.Code, w.Body.String())
	}
	body := decode[map[string]int](t, w)
	if body["queued"] != 3 || body["queue_len"] != 2 {
		t.Fatalf("batch body = %v", body)
	}
	if f.svc.Len() != 1 {
		t.Fatalf("committed = %d, want 1 within one interval", f.svc.Len())
	}
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t, Config{})

	bad := gasAlert("")
	if w := f.do(t, http.MethodPost, "/api/v1/notifications", bad); w.Code != http.StatusBadRequest {
		t.Fatalf("empty title status = %d", w.Code)
	}
	batch := []model.PendingRequest{gasAlert("ok"), {Title: "no category"}}
	if w := f.do(t, http.MethodPost, "/api/v1/notifications/batch", batch); w.Code != http.StatusBadRequest {
		t.Fatalf("bad batch status = %d", w.Code)
	}
	if f.svc.QueueLen() != 0 || f.svc.Len() != 0 {
		t.Fatal("invalid batch must not queue anything")
	}
	if w := f.do(t, http.MethodGet, "/api/v1/notifications?category=weather", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad category status = %d", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/api/v1/settings/sound", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("sound without enabled status = %d", w.Code)
	}
}

func TestClearIsCategoryScoped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if err := f.svc.Submit(ctx, gasAlert("gas")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// The second request waits for the throttle; tick past it.
	if err := f.svc.Submit(ctx, model.PendingRequest{Category: model.Category{Main: model.CategoryNFT}, Title: "floor"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.svc.Tick(ctx, time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC))
	if f.svc.Len() != 2 {
		t.Fatalf("committed = %d, want 2", f.svc.Len())
	}

	w := f.do(t, http.MethodPost, "/api/v1/notifications/clear?category=gas", nil)
	if got := decode[map[string]int](t, w)["removed"]; got != 1 {
		t.Fatalf("removed = %d, want 1", got)
	}
	if f.svc.Len() != 1 || f.svc.List()[0].Category.Main != model.CategoryNFT {
		t.Fatalf("remaining = %+v", f.svc.List())
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/notifications", nil); w.Code != http.StatusNoContent || f.svc.Len() != 0 {
		t.Fatalf("delete all status = %d len = %d", w.Code, f.svc.Len())
	}
}

func TestSoundSetting(t *testing.T) {
	f := newFixture(t, Config{})
	if got := decode[map[string]bool](t, f.do(t, http.MethodGet, "/api/v1/settings/sound", nil))["enabled"]; !got {
		t.Fatal("sound should default to enabled")
	}
	if w := f.do(t, http.MethodPut, "/api/v1/settings/sound", map[string]bool{"enabled": false}); w.Code != http.StatusOK {
		t.Fatalf("put status = %d", w.Code)
	}
	if f.svc.SoundEnabled() {
		t.Fatal("sound still enabled")
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RatePerSec: 1, Burst: 1})
	if w := f.do(t, http.MethodGet, "/api/v1/settings/sound", nil); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/settings/sound", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
}

func TestEventsStreamCommittedNotifications(t *testing.T) {
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	if err := f.svc.Submit(context.Background(), gasAlert("streamed")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var n model.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		if n.Title != "streamed" {
			t.Fatalf("event title = %q", n.Title)
		}
		return
	}
	t.Fatalf("stream ended without event: %v", sc.Err())
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Config{Addr: "127.0.0.1:0"})
	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + f.srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.srv.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPprofNeedsToken(t *testing.T) {
	f := newFixture(t, Config{Pprof: true})
	if w := f.do(t, http.MethodGet, "/debug/pprof/cmdline", nil); w.Code != http.StatusOK {
		t.Fatalf("cmdline status = %d", w.Code)
	}
	f.token = ""
	if w := f.do(t, http.MethodGet, "/debug/pprof/cmdline", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("cmdline without token status = %d", w.Code)
	}

	off := newFixture(t, Config{})
	if w := off.do(t, http.MethodGet, "/debug/pprof/cmdline", nil); w.Code != http.StatusNotFound {
		t.Fatalf("disabled pprof status = %d", w.Code)
	}
}
