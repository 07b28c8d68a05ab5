package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chanedit/internal/edit"
	"chanedit/internal/eventbus"
	"chanedit/internal/settings"
	kit "chanedit/internal/transport"
	"chanedit/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	fail map[int64]error
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.msgs = append(f.msgs, sent{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeSender) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

type fixture struct {
	h      *Handler
	sender *fakeSender
	store  *settings.Store
	queue  *edit.Queue
}

func newFixture(owners ...int64) fixture {
	sender := &fakeSender{}
	store := settings.New(settings.Settings{ChannelID: "-1001", InsertLine: 2}, nil, logx.Nop())
	q := edit.NewQueue()
	h := New(Deps{Sender: sender, Settings: store, Queue: q, Owners: owners, Log: logx.Nop()})
	return fixture{h: h, sender: sender, store: store, queue: q}
}

func private(text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: 55, FromID: 55, Text: text, IsPrivate: true}}
}

func TestChannelPostFromConfiguredChannelIsQueued(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	f.h.Handle(ctx, kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ID: 10, ChatID: -1001, Text: "hello"}})
	f.h.Handle(ctx, kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ID: 11, ChatID: -1001, Caption: "photo"}})
	f.h.Handle(ctx, kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ID: 12, ChatID: -999, Text: "elsewhere"}})

	if f.queue.Len() != 2 {
		t.Fatalf("queued %d jobs, want 2", f.queue.Len())
	}
	a, _ := f.queue.Dequeue(ctx)
	b, _ := f.queue.Dequeue(ctx)
	if a.Kind != edit.KindText || a.Raw != "hello" || a.MessageID != 10 || a.ChannelID != -1001 || a.ID == "" {
		t.Fatalf("unexpected text job: %+v", a)
	}
	if b.Kind != edit.KindCaption || b.Raw != "photo" || b.MessageID != 11 {
		t.Fatalf("unexpected caption job: %+v", b)
	}
}

func TestChannelPostFollowsChannelChange(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	if _, err := f.store.SetChannel(ctx, -2002, settings.Actor{}); err != nil {
		t.Fatal(err)
	}
	f.h.Handle(ctx, kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ID: 1, ChatID: -1001, Text: "old"}})
	f.h.Handle(ctx, kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ID: 2, ChatID: -2002, Text: "new"}})
	if f.queue.Len() != 1 {
		t.Fatalf("queued %d, want 1", f.queue.Len())
	}
}

func TestLineCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text     string
		wantLine int
		reply    string
	}{
		{text: "/line 4", wantLine: 4, reply: "✅ Footer will now be inserted after line 4"},
		{text: "/line@chanedit_bot 3", wantLine: 3, reply: "✅ Footer will now be inserted after line 3"},
		{text: "/line", wantLine: 2, reply: "Usage: /line &lt;number&gt;\nExample: /line 2"},
		{text: "/line abc", wantLine: 2, reply: "Usage: /line &lt;number&gt;\nExample: /line 2"},
		{text: "/line -3", wantLine: 2, reply: "Usage: /line &lt;number&gt;\nExample: /line 2"},
		{text: "/line 99999999999999999999", wantLine: 2, reply: "Usage: /line &lt;number&gt;\nExample: /line 2"},
		{text: "/line 0", wantLine: 2, reply: "Line number must be 1 or greater"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			f.h.Handle(context.Background(), private(tt.text))
			if got := f.store.Get().InsertLine; got != tt.wantLine {
				t.Fatalf("InsertLine = %d, want %d", got, tt.wantLine)
			}
			msgs := f.sender.Sent()
			if len(msgs) != 1 || msgs[0].text != tt.reply || msgs[0].chatID != 55 {
				t.Fatalf("replies = %+v, want %q", msgs, tt.reply)
			}
		})
	}
}

func TestForwardFromChannelSetsTarget(t *testing.T) {
	t.Parallel()
	f := newFixture()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(1)
	defer unsub()
	f.h.bus = bus
	up := private("")
	up.Message.Forwarded = true
	up.Message.ForwardChatID = -100777

	f.h.Handle(context.Background(), up)

	if got := f.store.Get().ChannelID; got != "-100777" {
		t.Fatalf("ChannelID = %q", got)
	}
	msgs := f.sender.Sent()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want reply + channel confirmation", len(msgs))
	}
	want := "✅ <b>New Channel Set Successfully!</b>\n📢 <code>Channel ID: -100777</code>\n\nThe bot will now edit messages in this channel."
	if msgs[0].chatID != 55 || msgs[0].text != want {
		t.Fatalf("unexpected reply: %+v", msgs[0])
	}
	if msgs[1].chatID != -100777 || msgs[1].text != want {
		t.Fatalf("unexpected channel message: %+v", msgs[1])
	}
	e := <-events
	if e.Type != eventbus.TopicSettings || e.Data["value"] != "-100777" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestForwardConfirmationFailureStillSetsChannel(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.sender.fail = map[int64]error{-100777: errors.New("Forbidden: bot is not a member")}
	up := private("")
	up.Message.Forwarded = true
	up.Message.ForwardChatID = -100777

	f.h.Handle(context.Background(), up)

	if got := f.store.Get().ChannelID; got != "-100777" {
		t.Fatalf("ChannelID = %q", got)
	}
	if len(f.sender.Sent()) != 1 {
		t.Fatalf("expected only the private reply, got %+v", f.sender.Sent())
	}
}

func TestForwardFromUserAsksForChannel(t *testing.T) {
	t.Parallel()
	f := newFixture()
	up := private("hi")
	up.Message.Forwarded = true

	f.h.Handle(context.Background(), up)

	if got := f.store.Get().ChannelID; got != "-1001" {
		t.Fatalf("ChannelID changed to %q", got)
	}
	msgs := f.sender.Sent()
	if len(msgs) != 1 || msgs[0].text != "⚠️ Please forward a message from your channel to set it up." {
		t.Fatalf("unexpected replies: %+v", msgs)
	}
}

func TestOwnersOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(99)

	f.h.Handle(context.Background(), private("/line 5"))
	if got := f.store.Get().InsertLine; got != 2 {
		t.Fatalf("non-owner changed insert line to %d", got)
	}
	if msgs := f.sender.Sent(); len(msgs) != 1 || !strings.Contains(msgs[0].text, "not allowed") {
		t.Fatalf("unexpected replies: %+v", msgs)
	}

	up := private("/line 5")
	up.Message.FromID = 99
	f.h.Handle(context.Background(), up)
	if got := f.store.Get().InsertLine; got != 5 {
		t.Fatalf("owner could not change insert line (got %d)", got)
	}
}

type staticStats edit.Stats

func (s staticStats) Stats() edit.Stats { return edit.Stats(s) }

func TestStatusAndHelp(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.h.stats = staticStats{Queued: 3, Succeeded: 7, LastError: "boom <x>"}

	f.h.Handle(context.Background(), private("/status"))
	f.h.Handle(context.Background(), private("/help"))
	f.h.Handle(context.Background(), private("just chatting"))

	msgs := f.sender.Sent()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	for _, want := range []string{"<code>-1001</code>", "Insert line: 2", "Queued: 3", "Edited: 7", "boom &lt;x&gt;"} {
		if !strings.Contains(msgs[0].text, want) {
			t.Fatalf("status missing %q:\n%s", want, msgs[0].text)
		}
	}
	if !strings.Contains(msgs[1].text, "/line") {
		t.Fatalf("help text missing /line: %q", msgs[1].text)
	}
}

func TestRunStopsOnClose(t *testing.T) {
	t.Parallel()
	f := newFixture()
	in := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- f.h.Run(context.Background(), in) }()

	in <- kit.Update{Kind: kit.UpdateChannelPost, Message: &kit.Message{ID: 1, ChatID: -1001, Text: "x"}}
	close(in)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if f.queue.Len() != 1 {
		t.Fatalf("queued %d", f.queue.Len())
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cmd, args := parseCommand("  /LINE@Bot  7  extra")
	if cmd != "line" || len(args) != 2 || args[0] != "7" {
		t.Fatalf("got %q %v", cmd, args)
	}
	if cmd, _ := parseCommand("hello /line"); cmd != "" {
		t.Fatalf("non-command parsed as %q", cmd)
	}
}
