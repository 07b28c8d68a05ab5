package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chanedit/internal/bot"
	"chanedit/internal/config"
	"chanedit/internal/debug"
	"chanedit/internal/edit"
	"chanedit/internal/eventbus"
	"chanedit/internal/report"
	"chanedit/internal/runtime/supervisor"
	"chanedit/internal/settings"
	"chanedit/internal/storage"
	kit "chanedit/internal/transport"
	telegram "chanedit/internal/transport/telegram/adapter"
	"chanedit/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	settings *settings.Store
	queue    *edit.Queue
	worker   *edit.Worker
	handler  *bot.Handler
	report   *report.Service
	debug    *debug.Server

	updates chan kit.Update
}

var menu = []telegram.Command{
	{Text: "line", Description: "Keep N lines before the footer"},
	{Text: "status", Description: "Show settings and queue state"},
	{Text: "help", Description: "How to use this bot"},
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Telegram logging needs the adapter, and the adapter needs a logger: start
	// with the sink disabled, attach the sender, then apply the final config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	editCfg, err := mapEditConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		CallTimeout: editCfg.CallTimeout,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc.SetSender(ad)
	logSvc.SetTelegramTarget(groupLogChat(cfg))
	logSvc.Apply(logCfg)

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; settings will not survive a restart")
	}

	st := settings.New(mapSettingsDefaults(cfg), store, root.With(logx.String("comp", "settings")))
	if err := st.Load(context.Background()); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	bus := eventbus.New()
	q := edit.NewQueue()
	w := edit.NewWorker(editCfg, q, ad, st, root.With(logx.String("comp", "edit.worker")), edit.WithBus(bus))

	h := bot.New(bot.Deps{
		Sender:   ad,
		Settings: st,
		Queue:    q,
		Stats:    w,
		Owners:   cfg.Telegram.OwnerUserIDs,
		Bus:      bus,
		Log:      root.With(logx.String("comp", "bot")),
	})

	rep := report.New(mapReportConfig(cfg), config.ReportParser, w, st, root.With(logx.String("comp", "report")))
	dbg := debug.New(w, st, root.With(logx.String("comp", "debug")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		settings: st,
		queue:    q,
		worker:   w,
		handler:  h,
		report:   rep,
		debug:    dbg,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapEditConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.adapter.SetCommands(menu); err != nil {
		a.log.Warn("could not publish command menu", logx.Err(err))
	}
	if err := a.report.Start(); err != nil {
		a.log.Warn("status report not scheduled", logx.Err(err))
	}

	a.debug.Apply(a.sup.Context(), mapDebugConfig(a.cfgm.Get()))

	a.sup.Go0("edit.worker", a.worker.Run)

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.handler.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				for k, v := range e.Data {
					fields = append(fields, logx.Any(k, v))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: apply only the newest
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("channel_id", a.settings.Get().ChannelID),
		logx.Int("insert_line", a.settings.Get().InsertLine),
	)
	return nil
}

// applyConfig pushes a reloaded config into the running components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("telegram") || changed("logging") {
		a.logs.SetTelegramTarget(groupLogChat(next))
		a.logs.Apply(mapLogConfig(next))
		a.handler.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if changed("telegram") && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for it to take effect")
	}
	if changed("edit") {
		if ec, err := mapEditConfig(next); err != nil {
			a.log.Warn("invalid edit config; keeping previous", logx.Err(err))
		} else {
			a.worker.Apply(ec)
		}
	}
	if changed("storage") {
		a.log.Warn("storage config changed; restart required for it to take effect")
	}
	if changed("report") {
		if err := a.report.Apply(mapReportConfig(next)); err != nil {
			a.log.Warn("invalid report schedule; report disabled", logx.Err(err))
		}
	}
	if changed("debug") {
		a.debug.Apply(a.sup.Context(), mapDebugConfig(next))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int("queued", a.queue.Len()))
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	st := a.worker.Stats()
	a.log.Info("stopped",
		logx.Uint64("edited", st.Succeeded),
		logx.Uint64("dropped", st.Dropped),
		logx.Uint64("event_drops", a.bus.Dropped()),
	)
	return a.logs.Close()
}
