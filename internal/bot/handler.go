// Package bot turns incoming Telegram updates into edit jobs and settings changes.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chanedit/internal/edit"
	"chanedit/internal/eventbus"
	"chanedit/internal/settings"
	kit "chanedit/internal/transport"
	"chanedit/pkg/logx"
	"chanedit/pkg/tgui"
)

// Submitter accepts edit jobs. *edit.Queue implements it.
type Submitter interface {
	Submit(j edit.Job) edit.Job
}

// SettingsStore is the part of *settings.Store the handler needs.
type SettingsStore interface {
	Get() settings.Settings
	SetInsertLine(ctx context.Context, n int, by settings.Actor) (settings.Settings, error)
	SetChannel(ctx context.Context, channelID int64, by settings.Actor) (settings.Settings, error)
}

// StatsSource reports worker state for /status. May be nil.
type StatsSource interface {
	Stats() edit.Stats
}

type Deps struct {
	Sender   kit.Sender
	Settings SettingsStore
	Queue    Submitter
	Stats    StatsSource
	// Owners restricts commands and channel setup; empty means anyone.
	Owners []int64
	// Bus receives settings.changed events. May be nil.
	Bus eventbus.Bus
	Log logx.Logger
}

type Handler struct {
	sender   kit.Sender
	settings SettingsStore
	queue    Submitter
	stats    StatsSource
	owners   atomic.Pointer[map[int64]struct{}]
	bus      eventbus.Bus
	log      logx.Logger
}

func New(d Deps) *Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &Handler{
		sender:   d.Sender,
		settings: d.Settings,
		queue:    d.Queue,
		stats:    d.Stats,
		bus:      d.Bus,
		log:      d.Log,
	}
	h.SetOwners(d.Owners)
	return h
}

// SetOwners replaces the owner list. Safe to call while Run is dispatching.
func (h *Handler) SetOwners(ids []int64) {
	owners := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id != 0 {
			owners[id] = struct{}{}
		}
	}
	h.owners.Store(&owners)
}

// Run dispatches updates until ctx is done or in is closed.
func (h *Handler) Run(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-in:
			if !ok {
				return nil
			}
			h.Handle(ctx, up)
		}
	}
}

// Handle routes one update. It never returns an error: failures become replies or log lines.
func (h *Handler) Handle(ctx context.Context, up kit.Update) {
	m := up.Message
	if m == nil {
		return
	}
	switch up.Kind {
	case kit.UpdateChannelPost:
		h.onChannelPost(m)
	case kit.UpdateMessage:
		h.onMessage(ctx, m)
	}
}

func (h *Handler) onChannelPost(m *kit.Message) {
	s := h.settings.Get()
	target, ok := s.ChannelInt64()
	if !ok || m.ChatID != target {
		h.log.Debug("post from unconfigured channel ignored", logx.Int64("chat_id", m.ChatID), logx.String("configured", s.ChannelID))
		return
	}
	j := edit.Job{ChannelID: m.ChatID, MessageID: m.ID, Kind: edit.KindText, Raw: m.Text}
	if m.Text == "" {
		j.Kind = edit.KindCaption
		j.Raw = m.Caption
	}
	j = h.queue.Submit(j)
	h.log.Debug("channel post queued", logx.String("job", j.ID), logx.Int("message_id", j.MessageID), logx.String("kind", j.Kind.String()))
}

func (h *Handler) onMessage(ctx context.Context, m *kit.Message) {
	cmd, args := parseCommand(m.Text)
	switch {
	case cmd == "start" || cmd == "help":
		h.reply(ctx, m, helpText)
	case cmd == "line":
		if h.allowed(ctx, m) {
			h.setLine(ctx, m, args)
		}
	case cmd == "status":
		if h.allowed(ctx, m) {
			h.status(ctx, m)
		}
	case m.Forwarded:
		if h.allowed(ctx, m) {
			h.setChannel(ctx, m)
		}
	}
}

const helpText = "<b>Channel footer bot</b>\n\n" +
	"Forward any message from your channel here to make it the target channel.\n" +
	"/line &lt;number&gt; - keep this many lines before the footer\n" +
	"/status - show current settings and queue state"

func (h *Handler) allowed(ctx context.Context, m *kit.Message) bool {
	owners := *h.owners.Load()
	if len(owners) == 0 {
		return true
	}
	if _, ok := owners[m.FromID]; ok {
		return true
	}
	h.log.Warn("command rejected: not an owner", logx.Int64("user_id", m.FromID), logx.String("username", m.FromUsername))
	h.reply(ctx, m, "⛔ You are not allowed to change this bot's settings.")
	return false
}

func (h *Handler) setLine(ctx context.Context, m *kit.Message, args []string) {
	if len(args) == 0 || !isDigits(args[0]) {
		h.reply(ctx, m, lineUsage)
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		// out of int range
		h.reply(ctx, m, lineUsage)
		return
	}
	if n < 1 {
		h.reply(ctx, m, "Line number must be 1 or greater")
		return
	}
	if _, err := h.settings.SetInsertLine(ctx, n, actor(m)); err != nil {
		h.log.Error("set insert line failed", logx.Int("insert_line", n), logx.Err(err))
		if errors.Is(err, settings.ErrInvalidInsertLine) {
			h.reply(ctx, m, "Line number must be 1 or greater")
			return
		}
		h.reply(ctx, m, "Error: "+tgui.Esc(err.Error()).String())
		return
	}
	h.log.Info("insert line changed", logx.Int("insert_line", n), logx.Int64("by", m.FromID))
	h.publishSettings("insert_line", strconv.Itoa(n), m)
	h.reply(ctx, m, fmt.Sprintf("✅ Footer will now be inserted after line %d", n))
}

func (h *Handler) setChannel(ctx context.Context, m *kit.Message) {
	if m.ForwardChatID == 0 {
		h.reply(ctx, m, "⚠️ Please forward a message from your channel to set it up.")
		return
	}
	if _, err := h.settings.SetChannel(ctx, m.ForwardChatID, actor(m)); err != nil {
		h.log.Error("set channel failed", logx.Int64("channel_id", m.ForwardChatID), logx.Err(err))
		h.reply(ctx, m, "Error: "+tgui.Esc(err.Error()).String())
		return
	}
	h.log.Info("target channel changed", logx.Int64("channel_id", m.ForwardChatID), logx.Int64("by", m.FromID))
	h.publishSettings("channel_id", strconv.FormatInt(m.ForwardChatID, 10), m)

	confirmation := tgui.Concat(
		tgui.Raw("✅ "), tgui.B("New Channel Set Successfully!"),
		tgui.Raw("\n📢 "), tgui.Code(fmt.Sprintf("Channel ID: %d", m.ForwardChatID)),
		tgui.Raw("\n\nThe bot will now edit messages in this channel."),
	).String()
	h.reply(ctx, m, confirmation)
	if h.sender == nil {
		return
	}
	if _, err := h.sender.SendText(ctx, kit.ChatTarget{ChatID: m.ForwardChatID}, confirmation, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		h.log.Warn("could not send confirmation to channel", logx.Int64("channel_id", m.ForwardChatID), logx.Err(err))
	}
}

func (h *Handler) status(ctx context.Context, m *kit.Message) {
	s := h.settings.Get()
	lines := []tgui.H{
		tgui.B("Status"),
		tgui.Concat(tgui.Raw("Channel: "), tgui.Code(s.ChannelID)),
		tgui.Esc(fmt.Sprintf("Insert line: %d", s.InsertLine)),
	}
	if h.stats != nil {
		st := h.stats.Stats()
		lines = append(lines,
			tgui.Esc(fmt.Sprintf("Worker: %s", st.State)),
			tgui.Esc(fmt.Sprintf("Queued: %d (scheduled retries: %d)", st.Queued, st.Scheduled)),
			tgui.Esc(fmt.Sprintf("Edited: %d, retried: %d, dropped: %d, skipped: %d", st.Succeeded, st.Retried, st.Dropped, st.Skipped)),
		)
		if st.LastError != "" {
			lines = append(lines, tgui.Concat(tgui.Raw("Last error: "), tgui.Code(tgui.TruncRunes(st.LastError, maxErrorRunes))))
		}
	}
	h.reply(ctx, m, tgui.Lines(lines...).String())
}

func (h *Handler) reply(ctx context.Context, m *kit.Message, text string) {
	if h.sender == nil {
		return
	}
	if _, err := h.sender.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		h.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (h *Handler) publishSettings(field, value string, m *kit.Message) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{
		Type: eventbus.TopicSettings,
		Time: time.Now(),
		Data: map[string]any{"field": field, "value": value, "by": m.FromID},
	})
}

func actor(m *kit.Message) settings.Actor {
	return settings.Actor{UserID: m.FromID, Username: m.FromUsername, ChatID: m.ChatID}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", ["a", "b"]). cmd is empty for non-commands.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), fields[1:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

const lineUsage = "Usage: /line &lt;number&gt;\nExample: /line 2"

// maxErrorRunes bounds the last error shown by /status.
const maxErrorRunes = 300
