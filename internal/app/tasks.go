package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"member-tenure/internal/adapters/crm/imis"
	"member-tenure/internal/domain/lapsed"
	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/platform/httpclient"
	"member-tenure/internal/platform/logger"
	"member-tenure/internal/platform/scheduler"
	"member-tenure/internal/ports/crm"
	"member-tenure/internal/worker"
)

// permanent marca como no reintentables los errores que se repetirían igual:
// settings rotos, payload inválido, fechas mal formadas, miembro inexistente,
// credenciales rechazadas o un 4xx del CRM (salvo 429).
func permanent(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var httpErr *httpclient.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &httpErr) && !httpErr.Temporary():
		return worker.Permanent(err)
	case errors.Is(err, tenure.ErrConfiguration),
		errors.Is(err, tenure.ErrInvalidInput),
		errors.Is(err, tenure.ErrMalformedTimestamp),
		errors.Is(err, crm.ErrNotFound),
		errors.Is(err, imis.ErrUnauthorized),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return worker.Permanent(err)
	default:
		return err
	}
}

// Pool arma el worker pool con el mapa de tareas.
func (a *App) Pool() *worker.Pool {
	wc := a.Config.Worker
	p := worker.New(a.Queue, worker.Options{
		Concurrency:  wc.Concurrency,
		MaxAttempts:  wc.MaxAttempts,
		TaskTimeout:  wc.TaskTimeout,
		RetryBackoff: wc.RetryBackoff,
		Logger:       a.Log,
		Metrics:      a.Metrics,
	})
	p.Handle(tenure.TaskName, a.handleConsec)
	p.Handle(lapsed.TaskName, a.handleConvert)
	return p
}

func (a *App) handleConsec(ctx context.Context, data json.RawMessage) error {
	var task tenure.MemberTask
	if err := json.Unmarshal(data, &task); err != nil {
		return permanent(fmt.Errorf("%w: decode consec task: %v", tenure.ErrInvalidInput, err))
	}
	_, err := a.Tenure.ProcessMember(ctx, task)
	return permanent(err)
}

func (a *App) handleConvert(ctx context.Context, data json.RawMessage) error {
	id, err := lapsed.DecodeTask(data)
	if err != nil {
		return permanent(err)
	}
	_, err = a.Lapsed.Convert(ctx, id)
	return permanent(err)
}

// DailyRun es la corrida diaria: primero lapsed (si hay consulta) y después
// el dispatch de consecutivos, para que los recién vencidos ya no entren.
func (a *App) DailyRun(ctx context.Context) error {
	log := a.Log.With(map[string]any{"run": "daily"})

	// con settings inválidos no corre nada, ni siquiera lapsed
	if _, err := a.Settings.Current(ctx); err != nil {
		log.Error("daily run skipped: settings unavailable", logger.Err(err))
		return err
	}

	if a.Lapsed.Enabled() {
		n, err := a.Lapsed.Dispatch(ctx, a.Queue)
		if err != nil {
			// no frena el dispatch de consecutivos
			log.Error("lapsed dispatch failed", logger.Err(err))
		} else {
			log.Info("lapsed dispatch done", map[string]any{"enqueued": n})
		}
	}

	n, err := a.Tenure.Dispatch(ctx, a.Queue)
	if err != nil {
		log.Error("tenure dispatch failed", logger.Err(err))
		return err
	}
	log.Info("tenure dispatch done", map[string]any{"enqueued": n})
	return nil
}

// RunSchedule corre DailyRun todos los días a schedule.daily_at (UTC).
// Bloquea hasta que ctx termina.
func (a *App) RunSchedule(ctx context.Context) error {
	at, err := scheduler.ParseClock(a.Config.Schedule.DailyAt)
	if err != nil {
		return err
	}
	a.Log.Info("daily schedule enabled", map[string]any{"at_utc": a.Config.Schedule.DailyAt})
	scheduler.NewDaily(at).Run(ctx, func(ctx context.Context) {
		_ = a.DailyRun(ctx)
	})
	return nil
}
