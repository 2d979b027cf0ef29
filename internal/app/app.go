package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"member-tenure/internal/adapters/crm/imis"
	memcrm "member-tenure/internal/adapters/crm/memory"
	memqueue "member-tenure/internal/adapters/queue/memory"
	pgqueue "member-tenure/internal/adapters/queue/postgres"
	redisqueue "member-tenure/internal/adapters/queue/redis"
	"member-tenure/internal/domain/lapsed"
	"member-tenure/internal/domain/settings"
	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/platform/config"
	"member-tenure/internal/platform/logger"
	"member-tenure/internal/platform/metrics"
	"member-tenure/internal/ports/crm"
	"member-tenure/internal/ports/queue"
	"member-tenure/internal/router"
)

// App junta todo lo que arma main a partir de config.Config.
type App struct {
	Config   *config.Config
	Log      logger.Logger
	Metrics  *metrics.Metrics
	CRM      crm.Client
	Queue    queue.Queue
	Settings *settings.Holder
	Tenure   *tenure.Service
	Lapsed   *lapsed.Service

	closers []io.Closer
}

// Options permite inyectar piezas ya armadas (tests, comandos que no
// necesitan cola real). Lo que venga nil se arma desde Config.
type Options struct {
	Logger         logger.Logger
	CRM            crm.Client
	Queue          queue.Queue
	SettingsSource settings.Source
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New()}

	a.Log = opts.Logger
	if a.Log == nil {
		a.Log = logger.New(logger.Options{
			Level:  logger.ParseLevel(cfg.Log.Level),
			Format: logger.ParseFormat(cfg.Log.Format),
			App:    cfg.App,
			Output: os.Stderr,
		})
	}

	a.CRM = opts.CRM
	if a.CRM == nil {
		c, err := newCRM(cfg.CRM)
		if err != nil {
			return nil, err
		}
		a.CRM = c
	}

	a.Queue = opts.Queue
	if a.Queue == nil {
		q, err := a.newQueue(ctx)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Queue = q
	}

	src := opts.SettingsSource
	if src == nil {
		src = newSettingsSource(cfg.Tenure, a.CRM)
	}
	var ttl = cfg.Tenure.SettingsTTL
	if cfg.Tenure.SettingsSource == "file" {
		// el archivo se recarga por fsnotify
		ttl = 0
	}
	holder, err := settings.NewHolder(ctx, src, settings.HolderOptions{Logger: a.Log, TTL: ttl})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("resolve settings: %w", err)
	}
	a.Settings = holder

	a.Tenure = tenure.NewService(a.CRM, a.Settings, tenure.Options{
		MemberTypeProperty: cfg.Tenure.MemberTypeProperty,
		Logger:             a.Log,
		Metrics:            a.Metrics,
	})
	a.Lapsed = lapsed.NewService(a.CRM, a.Settings, lapsed.Options{
		Query:   cfg.Lapsed.Query,
		Logger:  a.Log.With(map[string]any{"job": "lapsed"}),
		Metrics: a.Metrics,
	})

	return a, nil
}

func newCRM(cfg config.CRMConfig) (crm.Client, error) {
	switch cfg.Backend {
	case "memory":
		return memcrm.New(), nil
	default:
		c, err := imis.NewClient(imis.Config{
			BaseURL:             cfg.BaseURL,
			Username:            cfg.Username,
			Password:            cfg.Password(),
			Timeout:             cfg.Timeout,
			RequestsPerSecond:   cfg.RateLimit,
			Burst:               cfg.Burst,
			MemberTypeAttribute: cfg.MemberTypeAttribute,
		})
		if err != nil {
			return nil, fmt.Errorf("crm: %w", err)
		}
		return c, nil
	}
}

func (a *App) newQueue(ctx context.Context) (queue.Queue, error) {
	qc := a.Config.Queue
	switch qc.Backend {
	case "redis":
		q, err := redisqueue.Dial(qc.Redis.Addr, qc.Redis.Password(), qc.Redis.DB, qc.Name)
		if err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		a.closers = append(a.closers, q)
		// lo que quedó en processing de una corrida anterior vuelve a pending
		n, err := q.RecoverInFlight(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue: recover in-flight: %w", err)
		}
		if n > 0 {
			a.Log.Warn("requeued in-flight tasks from previous run", map[string]any{"count": n})
		}
		return q, nil

	case "postgres":
		db, err := pgqueue.Open(qc.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		a.closers = append(a.closers, dbCloser{db})
		if err := pgqueue.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		q := pgqueue.New(db, pgqueue.Options{Name: qc.Name, PollInterval: qc.Postgres.PollInterval})
		a.closers = append(a.closers, q)
		return q, nil

	default:
		q := memqueue.New()
		a.closers = append(a.closers, q)
		return q, nil
	}
}

type dbCloser struct{ db *sql.DB }

func (d dbCloser) Close() error { return d.db.Close() }

func newSettingsSource(cfg config.TenureConfig, c crm.Client) settings.Source {
	switch cfg.SettingsSource {
	case "crm":
		return settings.CRMSource{Client: c, RecordType: cfg.SettingsRecordType}
	case "env":
		return settings.EnvSource{Lookup: os.Getenv}
	default:
		return settings.FileSource{Path: cfg.SettingsFile}
	}
}

// CheckSettings valida que el record type de persistencia exista en el CRM
// y tenga la propiedad configurada.
func (a *App) CheckSettings(ctx context.Context) error {
	st, err := a.Settings.Current(ctx)
	if err != nil {
		return err
	}
	return settings.CheckRecordType(ctx, a.CRM, st)
}

// WatchSettings recarga el archivo de settings cuando cambia. Solo aplica a
// la fuente file; para crm/env el Holder recarga por TTL.
func (a *App) WatchSettings(ctx context.Context) error {
	if a.Config.Tenure.SettingsSource != "file" {
		return nil
	}
	return a.Settings.Watch(ctx, a.Config.Tenure.SettingsFile)
}

func (a *App) Router() http.Handler {
	return router.NewRouter(router.Options{
		Tenure:  a.Tenure,
		Lapsed:  a.Lapsed,
		Queue:   a.Queue,
		Logger:  a.Log,
		Metrics: a.Metrics,
		APIKey:  a.Config.HTTP.APIKey(),
	})
}

// Close cierra cola y conexiones en orden inverso al de apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
