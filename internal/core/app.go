// Package core assembles the process: config, logging, storage, the relay
// coordinator, and the scheduled pipeline, with one supervisor owning every
// background goroutine.
package core

import (
	"context"
	"fmt"
	"strings"

	"clsrelay/internal/cls"
	"clsrelay/internal/config"
	"clsrelay/internal/eventbus"
	"clsrelay/internal/feishu"
	"clsrelay/internal/notify"
	"clsrelay/internal/pipeline"
	"clsrelay/internal/relay"
	"clsrelay/internal/relayhttp"
	"clsrelay/internal/storage"
	"clsrelay/internal/token"
	"clsrelay/pkg/logx"
)

// App owns every long-lived component. Construction wires them; Start
// brings up the background work under a supervisor.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *Supervisor

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store

	cache  *token.Cache
	coord  *relay.Coordinator
	notif  *notify.Service
	driver *pipeline.Driver
	http   *relayhttp.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := openStorage(cfg.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	source, err := feishu.NewTokenSource(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
	if err != nil {
		logs.Close()
		return nil, err
	}
	source.BaseURL = cfg.Feishu.BaseURL

	var webhook *feishu.Webhook
	if strings.TrimSpace(cfg.Feishu.WebhookURL) != "" {
		webhook = &feishu.Webhook{URL: cfg.Feishu.WebhookURL}
	}

	backends, err := buildBackends(cfg.Backends)
	if err != nil {
		logs.Close()
		return nil, err
	}
	policy, err := buildPolicy(cfg.Publish)
	if err != nil {
		logs.Close()
		return nil, err
	}

	margin, err := config.ParseDurationOrDefault("publish.safety_margin", cfg.Publish.SafetyMargin, token.DefaultSafetyMargin)
	if err != nil {
		logs.Close()
		return nil, err
	}
	cache := token.NewCache(margin)

	notifCfg, err := buildNotifyConfig(cfg.Notify)
	if err != nil {
		logs.Close()
		return nil, err
	}
	var pusher notify.Pusher
	if webhook != nil {
		pusher = webhook
	}
	notif := notify.New(notifCfg, pusher, bus, log.With(logx.String("comp", "notify")))

	coord := relay.NewCoordinator(cache, source, backends, policy, notif, bus,
		log.With(logx.String("comp", "relay")))

	fetcher, err := buildFetcher(cfg.Pipeline, log.With(logx.String("comp", "cls")))
	if err != nil {
		logs.Close()
		return nil, err
	}
	var itemPusher pipeline.Pusher
	if webhook != nil {
		itemPusher = webhook
	}
	driver := pipeline.NewDriver(pipeline.Config{
		Schedule: cfg.Pipeline.Schedule,
		Timezone: cfg.Pipeline.Timezone,
	}, fetcher, coord, store, notif, itemPusher, bus,
		log.With(logx.String("comp", "pipeline")))

	var httpSrv *relayhttp.Server
	if cfg.RelayHTTP.Enabled {
		httpSrv = relayhttp.New(relayhttp.Config{
			Enabled: true,
			Addr:    cfg.RelayHTTP.Addr,
		}, log.With(logx.String("comp", "relayhttp")))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,
		cache:   cache,
		coord:   coord,
		notif:   notif,
		driver:  driver,
		http:    httpSrv,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		a.applyLoop(c, updates)
	})

	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return err
		}
		events, unsub := a.bus.Subscribe(16)
		a.sup.Go0("relayhttp.feed", func(c context.Context) {
			defer unsub()
			a.feedLocalEndpoint(c, events)
		})
	}

	if a.cfgm.Get().Pipeline.Enabled {
		if err := a.driver.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return err
		}
		// First cycle runs immediately rather than waiting out the schedule.
		a.sup.Go0("pipeline.bootstrap", func(c context.Context) {
			a.driver.RunOnce(c)
		})
	}

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// RunOnce triggers one fetch/distribute cycle outside the schedule.
func (a *App) RunOnce(ctx context.Context) {
	a.driver.RunOnce(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if a.driver != nil {
		if err := a.driver.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}

// applyLoop consumes validated config updates. Logging changes take effect
// live; everything else is wired at construction and needs a restart.
func (a *App) applyLoop(ctx context.Context, updates chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			sections, fields := config.SummarizeConfigChange(last, cfg)
			if len(sections) == 0 {
				last = cfg
				continue
			}
			a.log.Info("config changed", fields...)

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			for _, s := range sections {
				if s != "logging" {
					a.log.Warn("config section takes effect on restart",
						logx.String("section", s))
				}
			}
			last = cfg
		}
	}
}

// feedLocalEndpoint mirrors every refreshed (or reused stale) token into the
// local HTTP endpoint so consumers on this host read the same payload the
// remote backends hold.
func (a *App) feedLocalEndpoint(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeTokenRefreshed && ev.Type != eventbus.TypeTokenStale {
				continue
			}
			if rec, held := a.cache.Peek(); held {
				a.http.SetPayload(relay.NewPayload(rec, relay.KindServerless))
			}
		}
	}
}

func buildBackends(specs []config.BackendConfig) ([]relay.Backend, error) {
	var out []relay.Backend
	for i, b := range specs {
		kind, err := relay.ParseKind(b.Kind)
		if err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		// Disabled entries keep their place in the file but never take part
		// in publishing; including them would satisfy first_success trivially.
		if !b.Enabled || kind == relay.KindDisabled {
			continue
		}
		be, err := relay.New(relay.Descriptor{
			Kind:       kind,
			Endpoint:   b.Endpoint,
			Credential: b.Credential,
			Enabled:    true,
		}, relay.Options{})
		if err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		out = append(out, be)
	}
	return out, nil
}

func buildPolicy(p config.PublishConfig) (relay.Policy, error) {
	backoff, err := config.ParseDurationField("publish.retry_backoff", p.RetryBackoff)
	if err != nil {
		return relay.Policy{}, err
	}
	putTimeout, err := config.ParseDurationField("publish.put_timeout", p.PutTimeout)
	if err != nil {
		return relay.Policy{}, err
	}
	return relay.Policy{
		PublishAll:      strings.TrimSpace(p.Policy) == "all",
		RetryPerBackend: p.RetryMax,
		RetryBackoff:    backoff,
		PutTimeout:      putTimeout,
	}, nil
}

func buildNotifyConfig(n config.NotifyConfig) (notify.Config, error) {
	minInterval, err := config.ParseDurationField("notify.min_interval", n.MinInterval)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:     n.Enabled,
		ReportType:  n.ReportType,
		MinInterval: minInterval,
	}, nil
}

func buildFetcher(p config.PipelineConfig, log logx.Logger) (*cls.Client, error) {
	timeout, err := config.ParseDurationField("pipeline.request_timeout", p.RequestTimeout)
	if err != nil {
		return nil, err
	}
	retryDelay, err := config.ParseDurationField("pipeline.retry_delay", p.RetryDelay)
	if err != nil {
		return nil, err
	}
	return cls.NewClient(cls.ClientConfig{
		BaseURL:    p.FeedBaseURL,
		ProxyURL:   p.ProxyURL,
		Timeout:    timeout,
		RetryMax:   p.RetryMax,
		RetryDelay: retryDelay,
	}, cls.NewClassifier(p.Keywords), log)
}

func openStorage(sc *config.StorageConfig, log logx.Logger) (storage.Store, error) {
	if sc == nil {
		return nil, nil
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return nil, err
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		Retention:   retention,
		BusyTimeout: busy,
	}, log)
}
