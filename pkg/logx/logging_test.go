package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "chanedit/internal/transport"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	to   []int64
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestNewWriterFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "edit.worker"))
	log.Debug("hidden")
	log.Info("edited", Int64("chat_id", -100), Int("message_id", 7), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["message"] != "edited" || m["comp"] != "edit.worker" || m["message_id"] != float64(7) {
		t.Fatalf("unexpected entry: %v", m)
	}
	if _, ok := m["error"]; ok {
		t.Fatal("nil error must not be logged")
	}
	if c, _ := m[zerolog.CallerFieldName].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger must report IsZero")
	}
	l.Error("nothing happens", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatal("With must carry fields")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		" WARNING": zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"trace":    zerolog.TraceLevel,
		"verbose":  zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"warn","time":"x","message":"edit dropped","chat_id":-100}` + "\n"))
	if !strings.HasPrefix(got, "[WARN] edit dropped") || !strings.Contains(got, "\n- chat_id=-100") || strings.Contains(got, "time=") {
		t.Fatalf("got %q", got)
	}
	if got := formatTelegramJSON([]byte("  not json  ")); got != "not json" {
		t.Fatalf("raw fallback = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("abcdef", 4); got != "abcd" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 0); got != "short" {
		t.Fatalf("got %q", got)
	}
}

// New sets zerolog globals, so this test stays sequential.
func TestTelegramSinkForwardsWarnings(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: t.TempDir() + "/bot.log"},
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	}, nil)
	defer svc.Close()

	// no sender and no target yet: dropped silently
	log.Warn("before wiring")

	svc.SetSender(sender)
	svc.SetTelegramTarget(-100500)
	log.Info("below threshold")
	log.Warn("flood control", Int("retry_after", 5))

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages: %q", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "[WARN] flood control") || !strings.Contains(msgs[0], "retry_after=5") {
		t.Fatalf("message = %q", msgs[0])
	}
	if sender.to[0] != -100500 {
		t.Fatalf("sent to %d", sender.to[0])
	}
}
