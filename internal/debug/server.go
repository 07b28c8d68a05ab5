// Package debug runs the optional loopback HTTP listener that serves pprof
// profiles and a JSON snapshot of the edit pipeline.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync"
	"time"

	"chanedit/internal/edit"
	"chanedit/internal/settings"
	"chanedit/pkg/logx"
)

const DefaultAddress = "127.0.0.1:6060"

type Config struct {
	Enabled              bool
	Address              string
	BlockProfileRate     int
	MutexProfileFraction int
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	return c
}

type StatsSource interface {
	Stats() edit.Stats
}

type SettingsSource interface {
	Get() settings.Settings
}

// Status is the body of GET /debug/status.
type Status struct {
	ChannelID  string    `json:"channel_id"`
	InsertLine int       `json:"insert_line"`
	State      string    `json:"state"`
	Queued     int       `json:"queued"`
	Scheduled  int       `json:"scheduled"`
	Processed  uint64    `json:"processed"`
	Succeeded  uint64    `json:"succeeded"`
	Retried    uint64    `json:"retried"`
	Dropped    uint64    `json:"dropped"`
	Skipped    uint64    `json:"skipped"`
	LastError  string    `json:"last_error,omitempty"`
	LastErrAt  time.Time `json:"last_error_at,omitempty"`
	Goroutines int       `json:"goroutines"`
}

type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	stats    StatsSource
	settings SettingsSource
}

func New(stats StatsSource, src SettingsSource, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log, stats: stats, settings: src}
}

// Apply starts, stops or moves the listener according to cfg and updates
// the runtime profile rates.
func (s *Server) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()

	// profiling knobs apply even with the listener off
	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return
	}
	if s.srv != nil && s.addr == cfg.Address {
		return
	}
	s.stopLocked(ctx)
	s.startLocked(cfg)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/status", s.serveStatus)
	return mux
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(s.Snapshot())
}

// Snapshot collects the current pipeline status.
func (s *Server) Snapshot() Status {
	st := Status{Goroutines: runtime.NumGoroutine()}
	if s.settings != nil {
		cur := s.settings.Get()
		st.ChannelID = cur.ChannelID
		st.InsertLine = cur.InsertLine
	}
	if s.stats != nil {
		ws := s.stats.Stats()
		st.State = ws.State.String()
		st.Queued = ws.Queued
		st.Scheduled = ws.Scheduled
		st.Processed = ws.Processed
		st.Succeeded = ws.Succeeded
		st.Retried = ws.Retried
		st.Dropped = ws.Dropped
		st.Skipped = ws.Skipped
		st.LastError = ws.LastError
		st.LastErrAt = ws.LastErrAt
	}
	return st
}

func (s *Server) startLocked(cfg Config) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		s.log.Warn("debug listen failed", logx.String("addr", cfg.Address), logx.Err(err))
		return
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("debug server enabled", logx.String("addr", addr))
}

// Stop shuts the listener down if it is running.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("debug shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("debug server disabled", logx.String("addr", addr))
}

// Addr reports the listen address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
