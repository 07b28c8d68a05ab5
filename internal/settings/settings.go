// Package settings holds the process-wide runtime settings (target channel and
// insertion line).
//
// Reads are lock-free snapshots; mutations are serialized, validated, swapped
// in atomically and then persisted through a storage.Store.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chanedit/internal/storage"
	"chanedit/pkg/logx"
)

const (
	DefaultChannelID  = "-1002418844773"
	DefaultInsertLine = 2
)

var (
	ErrInvalidInsertLine = errors.New("insert line must be 1 or greater")
	ErrInvalidChannel    = errors.New("channel id must be a non-empty integer")
)

// Settings is an immutable snapshot. Copy freely.
type Settings struct {
	ChannelID  string
	InsertLine int
}

// ChannelInt64 parses ChannelID; ok is false when it is not a valid chat id.
func (s Settings) ChannelInt64() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s.ChannelID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Actor identifies who changed a setting (for the audit log).
type Actor struct {
	UserID   int64
	Username string
	ChatID   int64
}

type Store struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Settings]

	backend storage.Store
	log     logx.Logger
}

// New creates a store seeded with defaults. Call Load to read persisted state.
// backend may be nil (settings are then kept in memory only).
func New(defaults Settings, backend storage.Store, log logx.Logger) *Store {
	if strings.TrimSpace(defaults.ChannelID) == "" {
		defaults.ChannelID = DefaultChannelID
	}
	if defaults.InsertLine < 1 {
		defaults.InsertLine = DefaultInsertLine
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{backend: backend, log: log}
	s.current.Store(&defaults)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Settings {
	return *s.current.Load()
}

// Load merges persisted settings over the defaults. A missing record is not an error.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	rec, ok, err := s.backend.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		s.log.Info("no saved settings; using defaults", logx.String("channel_id", s.Get().ChannelID), logx.Int("insert_line", s.Get().InsertLine))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.Get()
	if strings.TrimSpace(rec.ChannelID) != "" {
		next.ChannelID = strings.TrimSpace(rec.ChannelID)
	}
	if rec.InsertLine >= 1 {
		next.InsertLine = rec.InsertLine
	} else if rec.InsertLine != 0 {
		s.log.Warn("ignoring saved insert_line", logx.Int("insert_line", rec.InsertLine))
	}
	s.current.Store(&next)
	s.log.Info("settings loaded", logx.String("channel_id", next.ChannelID), logx.Int("insert_line", next.InsertLine))
	return nil
}

// SetInsertLine updates the insertion line and persists the result.
func (s *Store) SetInsertLine(ctx context.Context, n int, by Actor) (Settings, error) {
	if n < 1 {
		return s.Get(), ErrInvalidInsertLine
	}
	return s.update(ctx, "set_line", strconv.Itoa(n), by, func(cur *Settings) { cur.InsertLine = n })
}

// SetChannel updates the target channel and persists the result.
func (s *Store) SetChannel(ctx context.Context, channelID int64, by Actor) (Settings, error) {
	if channelID == 0 {
		return s.Get(), ErrInvalidChannel
	}
	v := strconv.FormatInt(channelID, 10)
	return s.update(ctx, "set_channel", v, by, func(cur *Settings) { cur.ChannelID = v })
}

func (s *Store) update(ctx context.Context, action, value string, by Actor, mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Get()
	mutate(&next)
	s.current.Store(&next)

	if s.backend == nil {
		return next, nil
	}
	// The in-memory value stays applied even if saving fails; the next
	// successful save persists it.
	if err := s.backend.SaveSettings(ctx, storage.SettingsRecord{ChannelID: next.ChannelID, InsertLine: next.InsertLine}); err != nil {
		return next, fmt.Errorf("save settings: %w", err)
	}
	if err := s.backend.AppendAudit(ctx, storage.AuditEntry{
		At:            time.Now(),
		ActorID:       by.UserID,
		ActorUsername: by.Username,
		ChatID:        by.ChatID,
		Action:        action,
		Value:         value,
	}); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
	return next, nil
}
