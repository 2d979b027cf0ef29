package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"member-tenure/internal/platform/logger"
	"member-tenure/internal/platform/metrics"
	"member-tenure/internal/ports/queue"
)

// ErrPermanent marca errores que no se arreglan reintentando.
var ErrPermanent = errors.New("permanent task error")

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent envuelve err para que el pool lo confirme sin reintentar.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Handler procesa el Data de un envelope.
type Handler func(ctx context.Context, data json.RawMessage) error

const (
	outcomeOK      = "ok"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
	outcomeDead    = "dead"
	outcomeUnknown = "unknown_task"

	receiveBackoff  = time.Second
	maxRetryBackoff = time.Minute
)

type Options struct {
	Concurrency int
	MaxAttempts int
	TaskTimeout time.Duration
	// RetryBackoff es la espera antes de devolver a la cola un fallo
	// transitorio; se duplica por intento hasta maxRetryBackoff. 0 = sin espera.
	RetryBackoff time.Duration
	Logger       logger.Logger
	Metrics      *metrics.Metrics
}

// Pool corre Concurrency goroutines; cada una toma un mensaje, lo procesa
// hasta el final y recién ahí lo confirma.
type Pool struct {
	q        queue.Queue
	handlers map[string]Handler

	concurrency  int
	maxAttempts  int
	taskTimeout  time.Duration
	retryBackoff time.Duration
	log          logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func New(q queue.Queue, opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	p := &Pool{
		q:            q,
		handlers:     map[string]Handler{},
		concurrency:  opts.Concurrency,
		maxAttempts:  opts.MaxAttempts,
		taskTimeout:  opts.TaskTimeout,
		retryBackoff: opts.RetryBackoff,
		log:          log,
		metrics:      opts.Metrics,
		now:          time.Now,
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 1
	}
	return p
}

// Handle registra el handler de una tarea. Llamar antes de Run.
func (p *Pool) Handle(task string, h Handler) {
	p.handlers[task] = h
}

// Run bloquea hasta que ctx se cancela o la cola se cierra. Las tareas en
// curso terminan antes de que Run retorne.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool starting", map[string]any{"concurrency": p.concurrency})

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, p.log.With(map[string]any{"worker": n}))
		}(i)
	}
	wg.Wait()

	p.log.Info("worker pool stopped", nil)
	return nil
}

func (p *Pool) loop(ctx context.Context, log logger.Logger) {
	for {
		m, err := p.q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error("queue receive failed", logger.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}
		p.process(ctx, m, log)
	}
}

// process corre la tarea y decide ack o release. La tarea y su confirmación
// no se cortan por shutdown; solo por TaskTimeout.
func (p *Pool) process(ctx context.Context, m queue.Message, log logger.Logger) string {
	base := context.WithoutCancel(ctx)
	e := m.Envelope
	log = log.With(map[string]any{"task": e.Task, "task_id": e.ID, "attempt": e.Attempts + 1})
	start := p.now()

	outcome := p.run(base, e, log)

	switch outcome {
	case outcomeRetry:
		// el mensaje sigue tomado mientras espera; un shutdown corta la espera
		if d := p.backoff(e.Attempts); d > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		}
		if err := p.q.Release(base, m); err != nil {
			log.Error("queue release failed", logger.Err(err))
		}
	default:
		if err := p.q.Ack(base, m); err != nil {
			log.Error("queue ack failed", logger.Err(err))
		}
	}

	p.metrics.TaskProcessed(e.Task, outcome, p.now().Sub(start).Seconds())
	return outcome
}

// backoff para el reintento después de attempts intentos previos.
func (p *Pool) backoff(attempts int) time.Duration {
	if p.retryBackoff <= 0 {
		return 0
	}
	d := p.retryBackoff
	for i := 0; i < attempts && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

func (p *Pool) run(ctx context.Context, e queue.Envelope, log logger.Logger) string {
	h, ok := p.handlers[e.Task]
	if !ok {
		log.Error("unknown task; dropping", nil)
		return outcomeUnknown
	}

	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	err := safeCall(ctx, h, e.Data)
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrPermanent):
		log.Error("task failed permanently", logger.Err(err))
		return outcomeFailed
	case e.Attempts+1 < p.maxAttempts:
		log.Warn("task failed; will retry", logger.Err(err))
		return outcomeRetry
	default:
		log.Error("task failed; attempts exhausted", map[string]any{
			"error":    err.Error(),
			"attempts": e.Attempts + 1,
		})
		return outcomeDead
	}
}

// safeCall convierte un panic del handler en error permanente.
func safeCall(ctx context.Context, h Handler, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic: %v", r))
		}
	}()
	return h(ctx, data)
}
