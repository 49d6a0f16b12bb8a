package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/eventbus"
	"hwbot/internal/notifier"
	"hwbot/internal/poller"
	"hwbot/internal/runtime/sdnotify"
	"hwbot/internal/runtime/supervisor"
	"hwbot/internal/statusapi"
	kit "hwbot/internal/transport"
	telegram "hwbot/internal/transport/telegram/adapter"
	logx "hwbot/pkg/logx"
)

type Options struct {
	// SettingsPath is the optional JSON/YAML settings file. When set it is
	// watched for logging changes.
	SettingsPath string
	EnvFile      string
	LookupEnv    func(string) (string, bool)
}

type App struct {
	cfg  *config.Config
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	notif   *notifier.Service
	client  *statusapi.Client
	loop    *poller.Loop
	sd      *sdnotify.Reporter
}

// New loads configuration and wires every component. Configuration problems
// are returned wrapping config.ErrConfiguration.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(config.LoadOptions{
		SettingsPath: opts.SettingsPath,
		EnvFile:      opts.EnvFile,
		LookupEnv:    opts.LookupEnv,
	})
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging)
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	ad, err := telegram.New(telegram.Config{
		Token:   cfg.Credentials.TelegramToken,
		APIURL:  cfg.TelegramAPIURL,
		Timeout: cfg.TelegramTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("%w: telegram: %v", config.ErrConfiguration, err)
	}

	target := kit.ChatTarget{ChatID: cfg.Credentials.TelegramChatID, ThreadID: cfg.TelegramThreadID}
	notif := notifier.New(mapNotifierConfig(cfg.Notifier), ad, target, log.With(logx.String("comp", "notifier")))

	client, err := statusapi.New(statusapi.Config{
		Endpoint: cfg.Endpoint,
		Token:    cfg.Credentials.PracticumToken,
		Timeout:  cfg.RequestTimeout,
	}, &http.Client{Timeout: cfg.RequestTimeout}, log.With(logx.String("comp", "statusapi")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	loop, err := poller.New(client, notif, poller.Options{
		Interval: cfg.Interval,
		Log:      log.With(logx.String("comp", "poller")),
		Bus:      bus,
	})
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	var cfgm *config.Manager
	if strings.TrimSpace(opts.SettingsPath) != "" {
		cfgm = config.NewManager(opts.SettingsPath, log.With(logx.String("comp", "config")))
		st := cfg.Settings
		cfgm.Commit(&st)
	}

	return &App{
		cfg:     cfg,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		notif:   notif,
		client:  client,
		loop:    loop,
		sd:      sdnotify.New(bus, cycleGrace(cfg), log.With(logx.String("comp", "systemd"))),
	}, nil
}

// cycleGrace is the longest a healthy cycle can take: the status request
// plus every send attempt for a status and an error notification.
func cycleGrace(cfg *config.Config) time.Duration {
	nc := mapNotifierConfig(cfg.Notifier)
	sends := time.Duration(2*(1+nc.RetryMax)) * (nc.SendTimeout + nc.RetryMaxDelay)
	return cfg.RequestTimeout + sends + time.Minute
}

func mapNotifierConfig(nc config.NotifierConfig) notifier.Config {
	out := notifier.DefaultConfig()
	if nc.RatePerSec > 0 {
		out.RatePerSec = nc.RatePerSec
	}
	if nc.RetryMax >= 0 {
		out.RetryMax = nc.RetryMax
	}
	if nc.RetryBase > 0 {
		out.RetryBase = nc.RetryBase
	}
	if nc.RetryMaxDelay > 0 {
		out.RetryMaxDelay = nc.RetryMaxDelay
	}
	if nc.SendTimeout > 0 {
		out.SendTimeout = nc.SendTimeout
	}
	return out
}

// Done is closed when the app supervisor context is canceled.
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
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.log.Info("starting",
		logx.String("endpoint", a.client.Endpoint()),
		logx.Duration("interval", a.cfg.Interval),
		logx.String("chat_id", a.notif.Target().ChatID),
		logx.Bool("settings_watch", a.cfgm != nil),
	)

	// A panicking cycle must not end the process.
	a.sup.GoRestart("poller", a.loop.Run,
		supervisor.WithRestartBackoff(time.Second, a.cfg.Interval))

	a.sup.Go("systemd", a.sd.Run)

	events, unsub := a.bus.Subscribe(16)
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
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.sup.Go("config.watch", a.cfgm.Watch)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
	}

	a.sd.Ready(fmt.Sprintf("polling every %s", a.cfg.Interval))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Settings) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-sub:
			if !ok {
				return
			}
			a.applySettings(last, st)
			last = st
		}
	}
}

// applySettings applies logging changes live and reports the rest.
func (a *App) applySettings(oldSt, newSt *config.Settings) {
	changed, restart := config.SummarizeChange(oldSt, newSt)
	if len(changed) == 0 {
		a.log.Debug("settings reload received, but no effective changes detected")
		return
	}
	a.log.Info("settings changed", logx.String("sections", strings.Join(changed, ",")))

	for _, s := range changed {
		if s != "logging" {
			continue
		}
		lc, err := config.LoggingConfig(newSt.Logging)
		if err != nil {
			a.log.Warn("logging settings rejected", logx.Err(err))
			break
		}
		a.logs.Apply(lc)
		a.log.Info("logging settings applied", logx.String("level", lc.Level))
	}
	if len(restart) > 0 {
		a.log.Warn("restart required for settings to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: newSt})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if err != nil && c.Err() == nil {
			// Goroutine failure already recorded; shutdown itself succeeded.
			a.log.Warn("supervised goroutine failed", logx.Err(err))
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
