package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"chanedit/internal/edit"
	"chanedit/internal/settings"
	"chanedit/pkg/logx"
)

type fixedStats edit.Stats

func (f fixedStats) Stats() edit.Stats { return edit.Stats(f) }

type fixedSettings settings.Settings

func (f fixedSettings) Get() settings.Settings { return settings.Settings(f) }

func waitForHTTP(ctx context.Context, url string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil && resp != nil {
			_ = resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	s := New(
		fixedStats{State: edit.StateIdle, Queued: 3, Succeeded: 9, Dropped: 1, LastError: "boom"},
		fixedSettings{ChannelID: "-100", InsertLine: 2},
		logx.Nop(),
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ChannelID != "-100" || got.InsertLine != 2 || got.Queued != 3 || got.Succeeded != 9 || got.LastError != "boom" {
		t.Fatalf("got %+v", got)
	}
	if got.State != edit.StateIdle.String() {
		t.Fatalf("state = %q", got.State)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}

// Apply touches process-wide profile rates, so this test is sequential.
func TestApplyEnableDisable(t *testing.T) {
	s := New(fixedStats{}, fixedSettings{}, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Address: "127.0.0.1:0", BlockProfileRate: 1, MutexProfileFraction: 7}
	s.Apply(ctx, cfg)
	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected listen address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/"); err != nil {
		t.Fatalf("pprof not reachable: %v", err)
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/debug/status"); err != nil {
		t.Fatalf("status not reachable: %v", err)
	}
	if got := runtime.SetMutexProfileFraction(-1); got != cfg.MutexProfileFraction {
		t.Fatalf("mutex profile fraction = %d, want %d", got, cfg.MutexProfileFraction)
	}

	// the bound address is stable across a re-apply
	s.Apply(ctx, Config{Enabled: true, Address: addr, BlockProfileRate: 1, MutexProfileFraction: 7})
	if s.Addr() != addr {
		t.Fatalf("listener moved to %q", s.Addr())
	}

	s.Apply(ctx, Config{Enabled: false})
	if a := s.Addr(); a != "" {
		t.Fatalf("expected stop, still at %s", a)
	}
}
