package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"member-tenure/internal/ports/queue"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval = 2 * time.Second
	// DefaultLease: cuánto tiempo queda tomada una tarea sin Ack antes de
	// que otro worker pueda volver a tomarla.
	DefaultLease = 10 * time.Minute
)

type Options struct {
	Name         string
	PollInterval time.Duration
	Lease        time.Duration
}

// Queue guarda las tareas en tenure_tasks y las reparte con
// FOR UPDATE SKIP LOCKED, así varios workers (o procesos) comparten la cola.
type Queue struct {
	db    *sql.DB
	name  string
	poll  time.Duration
	lease time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func New(db *sql.DB, opts Options) *Queue {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "member-tenure"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Queue{
		db:    db,
		name:  name,
		poll:  poll,
		lease: lease,
		done:  make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, e queue.Envelope) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data := string(e.Data)
	if strings.TrimSpace(data) == "" {
		data = "null"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tenure_tasks (id, queue, task, data, attempts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, q.name, e.Task, data, e.Attempts)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (queue.Message, error) {
	for {
		select {
		case <-q.done:
			return queue.Message{}, queue.ErrClosed
		default:
		}

		m, err := q.claim(ctx)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return queue.Message{}, ctxErr
			}
			return queue.Message{}, err
		}

		t := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return queue.Message{}, ctx.Err()
		case <-q.done:
			t.Stop()
			return queue.Message{}, queue.ErrClosed
		case <-t.C:
		}
	}
}

// claim toma la tarea libre más vieja y la bloquea por q.lease.
func (q *Queue) claim(ctx context.Context) (queue.Message, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE tenure_tasks
		SET locked_until = now() + ($2 * interval '1 second')
		WHERE id = (
			SELECT id FROM tenure_tasks
			WHERE queue = $1 AND (locked_until IS NULL OR locked_until < now())
			ORDER BY enqueued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, task, data, attempts
	`, q.name, q.lease.Seconds())

	var e queue.Envelope
	var data []byte
	if err := row.Scan(&e.ID, &e.Task, &data, &e.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Message{}, err
		}
		return queue.Message{}, fmt.Errorf("claim task: %w", err)
	}
	e.Data = data
	return queue.Message{Envelope: e, Receipt: e.ID}, nil
}

func (q *Queue) Ack(ctx context.Context, m queue.Message) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM tenure_tasks WHERE id = $1`, m.Receipt); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

func (q *Queue) Release(ctx context.Context, m queue.Message) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tenure_tasks
		SET attempts = attempts + 1, locked_until = NULL, enqueued_at = now()
		WHERE id = $1
	`, m.Receipt)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}

// Close despierta a los Receive pendientes. El *sql.DB es del caller.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
