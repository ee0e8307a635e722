package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"eventsched/internal/config"
	"eventsched/internal/eventbus"
	"eventsched/internal/runtime/supervisor"
	"eventsched/internal/storage"
	"eventsched/pkg/logx"
	"eventsched/pkg/scheduler"
	"eventsched/pkg/scheduler/httptransport"
)

// App wires configuration, logging, the compensation journal and the
// scheduler client together.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	journal storage.Journal

	transport *httptransport.Transport
	client    *scheduler.Client

	loc   atomic.Pointer[time.Location]
	watch bool

	// events is subscribed in New so reports published before Start are kept.
	events      <-chan eventbus.Event
	unsubEvents func()
}

type Option func(*App)

// WithConfigWatch hot-reloads the config file while the app runs.
func WithConfigWatch(enabled bool) Option {
	return func(a *App) { a.watch = enabled }
}

// New loads cfgPath (or the defaults when empty) and builds the app.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	var cfg *config.Config
	if strings.TrimSpace(cfgPath) == "" {
		cfg = config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		cfgm.Commit(cfg)
	} else {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		bus:  eventbus.New(),
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	loc, _ := mapLocation(cfg)
	a.loc.Store(loc)

	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		j, err := storage.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		a.journal = j
		log.Debug("journal enabled", logx.String("driver", jc.Driver))
	}

	tc, _ := mapTransportConfig(cfg)
	a.transport = httptransport.New(tc, httptransport.WithLogger(log.With(logx.String("comp", "transport"))))

	sc, _ := mapSchedulerConfig(cfg)
	a.client = scheduler.New(sc,
		scheduler.WithTransport(a.transport),
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithCompensationHook(a.publishCompensation),
	)

	if a.journal != nil {
		a.events, a.unsubEvents = a.bus.Subscribe(256)
	}
	return a, nil
}

// checkConfig rejects what Validate accepts but the components cannot use.
func checkConfig(cfg *config.Config) error {
	var errs []error
	if _, err := mapTransportConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapJournalConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapLocation(cfg); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) Client() *scheduler.Client { return a.client }

// Journal returns nil when no journal is configured.
func (a *App) Journal() storage.Journal { return a.journal }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Location is the zone --at expressions are evaluated in.
func (a *App) Location() *time.Location { return a.loc.Load() }

// Err returns the first background failure, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkConfig(cfg)
	})

	if a.journal != nil {
		a.sup.Go("journal.writer", a.journalLoop)
	}

	if a.watch && strings.TrimSpace(a.cfgm.Path()) != "" {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.apply", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return nil
				case next, ok := <-sub:
					if !ok {
						return nil
					}
					// Coalesce bursts: keep only the latest config.
				drain:
					for {
						select {
						case newer := <-sub:
							if newer != nil {
								next = newer
							}
						default:
							break drain
						}
					}
					a.applyConfig(last, next)
					last = next
				}
			}
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	}

	a.log.Debug("app started", logx.String("endpoint", a.client.Config().BaseURL()))
	return nil
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(prev, next *config.Config) {
	if next == nil {
		return
	}
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	if tc, err := mapTransportConfig(next); err != nil {
		a.log.Warn("invalid transport config; keeping previous", logx.Err(err))
	} else {
		a.transport.Apply(tc)
	}
	if sc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.client.Apply(sc)
	}
	if loc, err := mapLocation(next); err == nil {
		a.loc.Store(loc)
	}
	for _, s := range sections {
		if s == "journal" {
			a.log.Warn("journal config changed; restart required for changes to take effect")
			break
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop cancels background loops, flushes pending journal records and closes
// the journal and log sinks.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if a.journal != nil {
		a.flushJournal(ctx)
	}
	if a.unsubEvents != nil {
		a.unsubEvents()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
