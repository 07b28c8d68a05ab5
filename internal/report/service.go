// Package report logs a periodic summary of the edit pipeline on a cron schedule.
package report

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chanedit/internal/edit"
	"chanedit/internal/settings"
	"chanedit/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a cron expression (5 or 6 fields) or a descriptor such as "@every 1h".
	Schedule string
}

type StatsSource interface {
	Stats() edit.Stats
}

type SettingsSource interface {
	Get() settings.Settings
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	parser cron.Parser
	c      *cron.Cron

	stats    StatsSource
	settings SettingsSource
	log      logx.Logger

	// lastMu guards last so a running Report never needs mu.
	lastMu sync.Mutex
	last   edit.Stats
}

// stopWait bounds how long Apply waits for a running report to finish.
const stopWait = 5 * time.Second

func New(cfg Config, parser cron.Parser, stats StatsSource, src SettingsSource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, parser: parser, stats: stats, settings: src, log: log}
}

// Start begins triggering when enabled. Calling it twice is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithChain(cron.Recover(cronLogger{s.log})))
	spec := strings.TrimSpace(s.cfg.Schedule)
	if _, err := c.AddFunc(spec, s.Report); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("status report scheduled", logx.String("schedule", spec))
	return nil
}

// Apply swaps the schedule at runtime, restarting the cron only when it changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg && (s.c != nil) == cfg.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopWait)
	s.stopLocked(ctx)
	cancel()
	s.cfg = cfg
	return s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	c := s.c
	s.c = nil
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("report still running; not waiting for it")
	}
}

// Report logs one summary line. Counters are reported as totals and as deltas
// since the previous report.
func (s *Service) Report() {
	if s.stats == nil {
		return
	}
	st := s.stats.Stats()
	s.lastMu.Lock()
	prev := s.last
	s.last = st
	s.lastMu.Unlock()

	fields := []logx.Field{
		logx.String("state", st.State.String()),
		logx.Int("queued", st.Queued),
		logx.Int("scheduled", st.Scheduled),
		logx.Uint64("edited", st.Succeeded),
		logx.Uint64("edited_delta", st.Succeeded-prev.Succeeded),
		logx.Uint64("retried", st.Retried),
		logx.Uint64("dropped", st.Dropped),
		logx.Uint64("dropped_delta", st.Dropped-prev.Dropped),
		logx.Uint64("skipped", st.Skipped),
	}
	if s.settings != nil {
		cur := s.settings.Get()
		fields = append(fields, logx.String("channel_id", cur.ChannelID), logx.Int("insert_line", cur.InsertLine))
	}
	if st.LastError != "" {
		fields = append(fields, logx.String("last_error", st.LastError), logx.Time("last_error_at", st.LastErrAt))
	}
	s.log.Info("edit pipeline report", fields...)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		if k == "" {
			continue
		}
		if t, ok := kv[i+1].(time.Time); ok {
			out = append(out, logx.Time(k, t))
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
