package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "chanedit/internal/runtime/supervisor"
	kit "chanedit/internal/transport"
	"chanedit/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// CallTimeout bounds the HTTP client used for every Bot API call.
	CallTimeout time.Duration
}

// Command is one entry of the bot's command menu.
type Command struct {
	Text        string
	Description string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the stop watcher; created by Start.
	sup *rtsup.Supervisor

	// updates lost because the adapter was stopping while the consumer was busy
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		// long polling holds the request open for PollTimeout
		Client: &http.Client{Timeout: cfg.PollTimeout + cfg.CallTimeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Username returns the bot's own username as reported by getMe.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	// Channel posts never reach OnText/OnMedia; telebot routes them here.
	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			m = c.Update().ChannelPost
		}
		if m == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateChannelPost, Message: toMessage(m)})
		return nil
	})

	onMessage := func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: toMessage(m)})
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnMedia, onMessage)
}

func toMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:      m.ID,
		Text:    m.Text,
		Caption: m.Caption,
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.IsPrivate = m.Chat.Type == tele.ChatPrivate
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	if m.Origin != nil {
		out.Forwarded = true
		if m.Origin.Chat != nil {
			out.ForwardChatID = m.Origin.Chat.ID
		}
	}
	return out
}

// sendUpdate blocks until the consumer accepts up, so channel posts are not
// lost under load. It gives up only when the adapter is stopping.
func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		a.droppedUpdates.Add(1)
		return
	}
	a.runMu.Lock()
	sup := a.sup
	a.runMu.Unlock()
	if sup == nil {
		a.droppedUpdates.Add(1)
		return
	}
	select {
	case out <- up:
	case <-sup.Context().Done():
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it ever returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	sup.Cancel()

	// getUpdates may still be mid long-poll; do not hold shutdown on it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop did not finish cleanly", logx.Err(err))
	}
	a.log.Info("stopped", logx.Uint64("dropped_updates", a.droppedUpdates.Load()))
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
	}
	msg, err := withContext(ctx, func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	})
	if err != nil {
		return kit.MessageRef{}, classifyError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	m, sendOpt := editTarget(ref, opt)
	_, err := withContext(ctx, func() (*tele.Message, error) {
		return a.bot.Edit(m, text, sendOpt)
	})
	return classifyError(err)
}

func (a *Adapter) EditCaption(ctx context.Context, ref kit.MessageRef, caption string, opt *kit.SendOptions) error {
	m, sendOpt := editTarget(ref, opt)
	_, err := withContext(ctx, func() (*tele.Message, error) {
		return a.bot.EditCaption(m, caption, sendOpt)
	})
	return classifyError(err)
}

func editTarget(ref kit.MessageRef, opt *kit.SendOptions) (*tele.Message, *tele.SendOptions) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	return m, &tele.SendOptions{ParseMode: tele.ParseMode(opt.ParseMode), DisableWebPagePreview: opt.DisablePreview}
}

type callResult struct {
	msg *tele.Message
	err error
}

// withContext runs a blocking Bot API call and stops waiting when ctx ends.
// The call itself keeps running and may still be applied remotely.
func withContext(ctx context.Context, fn func() (*tele.Message, error)) (*tele.Message, error) {
	if ctx == nil {
		return fn()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan callResult, 1)
	go func() {
		m, err := fn()
		done <- callResult{msg: m, err: err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classifyError maps Bot API failures onto the transport error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	// Re-applying identical content is a no-op on Telegram's side.
	if strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case tele.FloodError:
			return floodError(v.RetryAfter, err)
		case *tele.FloodError:
			return floodError(v.RetryAfter, err)
		case *tele.Error:
			if v.Code == http.StatusTooManyRequests {
				return floodError(retryAfterFromText(v.Description), err)
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kit.TimedOut(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return kit.TimedOut(err)
	}
	return err
}

func floodError(retryAfter int, cause error) error {
	if retryAfter <= 0 {
		return kit.RateLimitedNoHint(cause)
	}
	return kit.RateLimited(time.Duration(retryAfter)*time.Second, cause)
}

// retryAfterFromText reads N from "... retry after N" (0 when absent).
func retryAfterFromText(s string) int {
	const marker = "retry after "
	i := strings.Index(strings.ToLower(s), marker)
	if i < 0 {
		return 0
	}
	rest := s[i+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return n
}

// SetCommands publishes the command menu. It skips the call when nothing changed.
func (a *Adapter) SetCommands(cmds []Command) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Text == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Text
		}
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		list = append(list, tele.Command{Text: c.Text, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
