package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/platform/config"
	"member-tenure/internal/platform/logger"
)

type snapshot struct {
	settings tenure.Settings
	// err queda puesto mientras la última resolución sea inválida.
	err      error
	loadedAt time.Time
}

// Holder guarda los settings vigentes. Cada tarea lee un snapshot entero,
// nunca uno a medio recargar.
type Holder struct {
	src Source
	log logger.Logger
	ttl time.Duration
	now func() time.Time

	cur atomic.Pointer[snapshot]
	mu  sync.Mutex // serializa recargas
}

type HolderOptions struct {
	Logger logger.Logger
	// TTL > 0 recarga en Current cuando el snapshot es más viejo (fuente crm/env).
	TTL time.Duration
}

// NewHolder resuelve una vez; si falla no hay nada que servir y devuelve error.
func NewHolder(ctx context.Context, src Source, opts HolderOptions) (*Holder, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	h := &Holder{src: src, log: log, ttl: opts.TTL, now: time.Now}

	s, err := Resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	h.store(s)
	return h, nil
}

func (h *Holder) store(s tenure.Settings) {
	h.cur.Store(&snapshot{settings: s, loadedAt: h.now()})
}

// Current implementa tenure.SettingsProvider. Mientras la última resolución
// haya dado un error de configuración devuelve ese error, así el batch se
// frena hasta que se corrijan los settings.
func (h *Holder) Current(ctx context.Context) (tenure.Settings, error) {
	snap := h.cur.Load()
	if h.ttl > 0 && h.now().Sub(snap.loadedAt) >= h.ttl {
		_ = h.Reload(ctx)
		snap = h.cur.Load()
	}
	if snap.err != nil {
		return tenure.Settings{}, snap.err
	}
	return snap.settings, nil
}

// Reload vuelve a resolver. Un error de configuración queda guardado hasta
// la próxima resolución válida; cualquier otro error (CRM caído, timeout)
// mantiene el valor anterior.
func (h *Holder) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := Resolve(ctx, h.src)
	if err != nil {
		prev := h.cur.Load()
		next := &snapshot{settings: prev.settings, loadedAt: h.now()}
		if errors.Is(err, tenure.ErrConfiguration) {
			next.err = err
			h.log.Error("settings invalid; blocking tenure work until corrected", logger.Err(err))
		} else {
			next.err = prev.err
			h.log.Warn("settings reload failed; keeping previous settings", logger.Err(err))
		}
		// no reintentar en cada Current hasta el próximo TTL
		h.cur.Store(next)
		return err
	}
	h.store(s)
	h.log.Info("settings reloaded", map[string]any{
		"consecutive_types": len(s.ConsecutiveCodes),
		"grace_periods":     len(s.GracePeriods),
		"exceptions":        len(s.Exceptions),
	})
	return nil
}

// Watch recarga cuando cambia el archivo en path. Bloquea hasta que ctx termina.
func (h *Holder) Watch(ctx context.Context, path string) error {
	return config.WatchFile(ctx, path,
		func() { _ = h.Reload(ctx) },
		func(err error) { h.log.Warn("settings watch error", logger.Err(err)) },
	)
}
