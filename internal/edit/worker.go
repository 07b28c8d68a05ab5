package edit

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"chanedit/internal/eventbus"
	"chanedit/internal/settings"
	kit "chanedit/internal/transport"
	"chanedit/pkg/logx"
)

// Config controls the edit worker. Zero fields fall back to the defaults below.
type Config struct {
	// MinDelay is the pause after every successful edit and the minimum spacing
	// between any two remote calls.
	MinDelay      time.Duration
	FloodFallback time.Duration
	TimeoutRetry  time.Duration
	ErrorPause    time.Duration
	// CallTimeout bounds one remote call; exceeding it counts as a timeout.
	CallTimeout time.Duration
	ParseMode   string
	Footer      string
}

const (
	DefaultMinDelay      = 1 * time.Second
	DefaultFloodFallback = 10 * time.Second
	DefaultTimeoutRetry  = 5 * time.Second
	DefaultErrorPause    = 2 * time.Second
	DefaultCallTimeout   = 30 * time.Second
	DefaultParseMode     = "HTML"
)

func (c Config) withDefaults() Config {
	if c.MinDelay <= 0 {
		c.MinDelay = DefaultMinDelay
	}
	if c.FloodFallback <= 0 {
		c.FloodFallback = DefaultFloodFallback
	}
	if c.TimeoutRetry <= 0 {
		c.TimeoutRetry = DefaultTimeoutRetry
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = DefaultErrorPause
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Footer == "" {
		c.Footer = Footer
	}
	return c
}

func (c Config) policy() Policy {
	return Policy{FloodFallback: c.FloodFallback, TimeoutRetry: c.TimeoutRetry, ErrorPause: c.ErrorPause}
}

// SettingsSource provides the settings snapshot used for each job's transform.
type SettingsSource interface {
	Get() settings.Settings
}

type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a point-in-time view of the worker, for /status and reports.
type Stats struct {
	State     State
	Queued    int
	Scheduled int
	Processed uint64
	Succeeded uint64
	Retried   uint64
	Dropped   uint64
	Skipped   uint64
	LastError string
	LastErrAt time.Time
}

type WorkerOption func(*Worker)

// WithClock replaces the wall clock (tests).
func WithClock(c Clock) WorkerOption {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithBus publishes edit outcome events on b.
func WithBus(b eventbus.Bus) WorkerOption {
	return func(w *Worker) { w.bus = b }
}

// Worker is the single consumer of the edit queue.
type Worker struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	queue    *Queue
	editor   kit.Editor
	settings SettingsSource
	log      logx.Logger
	bus      eventbus.Bus
	clock    Clock

	state atomic.Int32

	processed atomic.Uint64
	succeeded atomic.Uint64
	retried   atomic.Uint64
	dropped   atomic.Uint64
	skipped   atomic.Uint64

	errMu     sync.Mutex
	lastErr   string
	lastErrAt time.Time

	// pending timer-based requeues, keyed by sequence
	timersMu sync.Mutex
	timers   map[uint64]func() bool
	timerSeq uint64
}

func NewWorker(cfg Config, q *Queue, editor kit.Editor, src SettingsSource, log logx.Logger, opts ...WorkerOption) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	w := &Worker{
		cfg:      cfg,
		limiter:  newCallLimiter(cfg.MinDelay),
		queue:    q,
		editor:   editor,
		settings: src,
		log:      log,
		clock:    realClock{},
		timers:   map[uint64]func() bool{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func newCallLimiter(every time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(every), 1)
}

// Apply swaps timings at runtime (config hot reload). Safe to call concurrently.
func (w *Worker) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	w.mu.Lock()
	defer w.mu.Unlock()
	if cfg.MinDelay != w.cfg.MinDelay {
		// keep the reservation state so a reload never hands out a fresh token
		w.limiter.SetLimitAt(w.clock.Now(), rate.Every(cfg.MinDelay))
	}
	w.cfg = cfg
}

func (w *Worker) config() (Config, *rate.Limiter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.limiter
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

func (w *Worker) Stats() Stats {
	w.timersMu.Lock()
	scheduled := len(w.timers)
	w.timersMu.Unlock()
	w.errMu.Lock()
	lastErr, lastErrAt := w.lastErr, w.lastErrAt
	w.errMu.Unlock()
	return Stats{
		State:     w.State(),
		Queued:    w.queue.Len(),
		Scheduled: scheduled,
		Processed: w.processed.Load(),
		Succeeded: w.succeeded.Load(),
		Retried:   w.retried.Load(),
		Dropped:   w.dropped.Load(),
		Skipped:   w.skipped.Load(),
		LastError: lastErr,
		LastErrAt: lastErrAt,
	}
}

// Run drains the queue until ctx is done. It never returns early on job failures.
//
// On shutdown, pending and scheduled jobs are abandoned (the queue is not persisted).
func (w *Worker) Run(ctx context.Context) {
	cfg, _ := w.config()
	w.log.Info("edit worker started", logx.Duration("min_delay", cfg.MinDelay), logx.Int("queued", w.queue.Len()))
	defer func() {
		if ctx.Err() == nil {
			return
		}
		scheduled := w.cancelScheduled()
		w.setState(StateIdle)
		w.log.Info("edit worker stopped", logx.Int("abandoned_queued", w.queue.Len()), logx.Int("abandoned_scheduled", scheduled))
	}()

	for {
		w.setState(StateIdle)
		j, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		w.safeProcess(ctx, j)
		if ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) safeProcess(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			w.dropped.Add(1)
			w.noteErr(fmt.Errorf("panic: %v", r))
			w.log.Error("edit job panicked; dropped", logx.String("job", j.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			cfg, _ := w.config()
			w.setState(StateBackoff)
			_ = w.clock.Sleep(ctx, cfg.ErrorPause)
		}
	}()
	w.process(ctx, j)
}

// process runs one job through transform, remote call and outcome handling.
func (w *Worker) process(ctx context.Context, j Job) {
	w.setState(StateProcessing)
	w.processed.Add(1)
	cfg, lim := w.config()
	log := w.log.With(
		logx.String("job", j.ID),
		logx.Int64("chat_id", j.ChannelID),
		logx.Int("message_id", j.MessageID),
		logx.String("kind", j.Kind.String()),
	)

	text := TransformFooter(j.Raw, w.settings.Get(), cfg.Footer)
	if text == "" {
		w.skipped.Add(1)
		log.Debug("empty content; edit skipped")
		w.publish(eventbus.TopicEditSkipped, j, Outcome{Kind: OutcomeSuccess})
		return
	}

	if err := w.waitTurn(ctx, lim); err != nil {
		log.Debug("edit abandoned while waiting for call slot", logx.Err(err))
		return
	}

	start := w.clock.Now()
	err := w.call(ctx, cfg, j, text)
	if ctx.Err() != nil {
		log.Debug("edit interrupted by shutdown", logx.Err(err))
		return
	}

	out := Classify(err, cfg.policy())
	switch out.Kind {
	case OutcomeSuccess:
		w.succeeded.Add(1)
		log.Debug("post edited", logx.Duration("took", w.clock.Now().Sub(start)))
		w.publish(eventbus.TopicEditSucceeded, j, out)
		_ = w.clock.Sleep(ctx, cfg.MinDelay)

	case OutcomeRetry:
		w.retried.Add(1)
		w.noteErr(err)
		w.publish(eventbus.TopicEditRetry, j, out)
		if out.Global {
			// Flood control is shared by all calls: hold the worker, then requeue.
			log.Warn("flood control hit; backing off", logx.Duration("wait", out.Delay), logx.Err(err))
			w.setState(StateBackoff)
			if w.clock.Sleep(ctx, out.Delay) != nil {
				return
			}
			w.queue.Enqueue(j)
			return
		}
		log.Warn("edit timed out; requeue scheduled", logx.Duration("delay", out.Delay), logx.Err(err))
		w.scheduleRequeue(j, out.Delay)

	case OutcomeDrop:
		w.dropped.Add(1)
		w.noteErr(err)
		w.publish(eventbus.TopicEditDropped, j, out)
		log.Error("edit dropped", logx.String("reason", out.Reason), logx.Duration("pause", out.Delay), logx.Err(err))
		w.setState(StateBackoff)
		_ = w.clock.Sleep(ctx, out.Delay)
	}
}

// waitTurn blocks until the call limiter grants a slot.
func (w *Worker) waitTurn(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	now := w.clock.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return nil
	}
	if d := r.DelayFrom(now); d > 0 {
		if err := w.clock.Sleep(ctx, d); err != nil {
			r.CancelAt(w.clock.Now())
			return err
		}
	}
	return nil
}

func (w *Worker) call(ctx context.Context, cfg Config, j Job, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in remote edit: %v", r)
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	opt := &kit.SendOptions{ParseMode: cfg.ParseMode}
	if j.Kind == KindCaption {
		return w.editor.EditCaption(cctx, j.Ref(), text, opt)
	}
	return w.editor.EditText(cctx, j.Ref(), text, opt)
}

// scheduleRequeue puts j back at the tail after d without blocking the worker.
func (w *Worker) scheduleRequeue(j Job, d time.Duration) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	w.timerSeq++
	id := w.timerSeq
	w.timers[id] = w.clock.AfterFunc(d, func() {
		w.timersMu.Lock()
		_, live := w.timers[id]
		delete(w.timers, id)
		w.timersMu.Unlock()
		if live {
			w.queue.Enqueue(j)
		}
	})
}

func (w *Worker) cancelScheduled() int {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	n := len(w.timers)
	for id, stop := range w.timers {
		if stop != nil {
			stop()
		}
		delete(w.timers, id)
	}
	return n
}

func (w *Worker) noteErr(err error) {
	if err == nil {
		return
	}
	msg := strings.TrimSpace(err.Error())
	w.errMu.Lock()
	w.lastErr = msg
	w.lastErrAt = w.clock.Now()
	w.errMu.Unlock()
}

func (w *Worker) publish(topic string, j Job, out Outcome) {
	if w.bus == nil {
		return
	}
	data := map[string]any{
		"job":        j.ID,
		"chat_id":    j.ChannelID,
		"message_id": j.MessageID,
		"kind":       j.Kind.String(),
	}
	if out.Kind != OutcomeSuccess {
		data["reason"] = out.Reason
		data["delay"] = out.Delay.String()
	}
	w.bus.Publish(eventbus.Event{Type: topic, Time: w.clock.Now(), Data: data})
}
