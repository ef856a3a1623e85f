package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type running []int64

func (r running) Running(context.Context) ([]int64, error) { return r, nil }

type runLister []domain.RunSummary

func (l runLister) LastRuns(context.Context) ([]domain.RunSummary, error) { return l, nil }

func testDeps() deps.Deps {
	start := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return deps.Deps{
		Logger:         logger.NewNop(),
		StartTime:      start,
		Version:        "v1.2.3",
		TimeNow:        func() time.Time { return start.Add(90 * time.Second) },
		Store:          pinger{},
		SourceCount:    func() (int, error) { return 3, nil },
		HarvestTrigger: make(chan struct{}, 1),
		TriggerBurst:   5,
		TriggerPerMin:  1,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("urnharvest_records_total 1\n"))
		}),
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.0.0.7:51234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	rec := do(t, NewRouter(testDeps()), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status  string  `json:"status"`
		Uptime  float64 `json:"uptime_seconds"`
		Version string  `json:"version"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || body.Uptime != 90 || body.Version != "v1.2.3" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name      string
		store     deps.Pinger
		redis     deps.Pinger
		wantCode  int
		wantRedis string
	}{
		{"store up, redis disabled", pinger{}, nil, http.StatusOK, "disabled"},
		{"store up, redis down", pinger{}, pinger{errors.New("refused")}, http.StatusOK, "unreachable"},
		{"store down", pinger{errors.New("db gone")}, pinger{}, http.StatusServiceUnavailable, "ok"},
		{"no store", nil, nil, http.StatusServiceUnavailable, "disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeps()
			d.Store = tt.store
			d.Redis = tt.redis
			rec := do(t, NewRouter(d), http.MethodGet, "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Ready  bool              `json:"ready"`
				Checks map[string]string `json:"checks"`
			}
			decode(t, rec, &body)
			if body.Ready != (tt.wantCode == http.StatusOK) {
				t.Errorf("ready = %v", body.Ready)
			}
			if body.Checks["redis"] != tt.wantRedis {
				t.Errorf("redis check = %q, want %q", body.Checks["redis"], tt.wantRedis)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	d := testDeps()
	d.Redis = pinger{}
	d.Runs = runLister{{SourceID: 1, Title: "doria", Success: true, Pages: 4}}
	d.Running = running{2}
	d.LastCycle = func() (deps.Cycle, bool) {
		return deps.Cycle{Succeeded: []string{"doria"}, Failed: map[string]string{"helda": "GET failed"}}, true
	}

	rec := do(t, NewRouter(d), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Mode       string `json:"mode"`
		Components map[string]struct {
			OK      bool `json:"ok"`
			Sources *int `json:"sources"`
		} `json:"components"`
		Harvesting []int64             `json:"harvesting"`
		LastCycle  *deps.Cycle         `json:"last_cycle"`
		LastRuns   []domain.RunSummary `json:"last_runs"`
	}
	decode(t, rec, &body)
	if body.Mode != "optimal" {
		t.Errorf("mode = %q, want optimal", body.Mode)
	}
	if s := body.Components["sources"].Sources; s == nil || *s != 3 {
		t.Errorf("sources = %v, want 3", s)
	}
	if len(body.Harvesting) != 1 || body.Harvesting[0] != 2 {
		t.Errorf("harvesting = %v, want [2]", body.Harvesting)
	}
	if body.LastCycle == nil || body.LastCycle.Failed["helda"] != "GET failed" {
		t.Errorf("last cycle = %+v", body.LastCycle)
	}
	if len(body.LastRuns) != 1 || body.LastRuns[0].Title != "doria" {
		t.Errorf("last runs = %+v", body.LastRuns)
	}
}

func TestStatusModes(t *testing.T) {
	tests := []struct {
		name string
		edit func(*deps.Deps)
		want string
	}{
		{"redis disabled", func(*deps.Deps) {}, "degraded"},
		{"store down", func(d *deps.Deps) { d.Store = pinger{errors.New("x")} }, "critical"},
		{"no sources", func(d *deps.Deps) { d.SourceCount = func() (int, error) { return 0, nil } }, "critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeps()
			tt.edit(&d)
			var body struct {
				Mode string `json:"mode"`
			}
			decode(t, do(t, NewRouter(d), http.MethodGet, "/status"), &body)
			if body.Mode != tt.want {
				t.Errorf("mode = %q, want %q", body.Mode, tt.want)
			}
		})
	}
}

func TestHarvestTrigger(t *testing.T) {
	d := testDeps()
	h := NewRouter(d)

	rec := do(t, h, http.MethodPost, "/harvest")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger status = %d, want 202", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/harvest")
	if rec.Code != http.StatusTooManyRequests || !strings.Contains(rec.Body.String(), "already queued") {
		t.Errorf("second trigger = %d %q, want 429 already queued", rec.Code, rec.Body.String())
	}

	<-d.HarvestTrigger
	if rec := do(t, h, http.MethodPost, "/harvest"); rec.Code != http.StatusAccepted {
		t.Errorf("trigger after drain = %d, want 202", rec.Code)
	}
}

func TestHarvestTriggerUnavailable(t *testing.T) {
	d := testDeps()
	d.HarvestTrigger = nil
	if rec := do(t, NewRouter(d), http.MethodPost, "/harvest"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHarvestRateLimited(t *testing.T) {
	d := testDeps()
	d.TriggerBurst = 1
	h := NewRouter(d)

	if rec := do(t, h, http.MethodPost, "/harvest"); rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/harvest")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second = %d retry-after %q, want 429 with Retry-After", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestRestrictedRoutes(t *testing.T) {
	d := testDeps()
	d.AllowedCIDRS = []string{"192.168.0.0/16"}
	h := NewRouter(d)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/readyz"},
		{http.MethodGet, "/status"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/harvest"},
	} {
		if rec := do(t, h, tc.method, tc.path); rec.Code != http.StatusForbidden {
			t.Errorf("%s %s = %d, want 403", tc.method, tc.path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200 for any client", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := do(t, NewRouter(testDeps()), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "urnharvest_records_total") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}
