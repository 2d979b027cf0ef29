package memory

import (
	"context"
	"errors"
	"sync"

	"member-tenure/internal/ports/queue"

	"github.com/google/uuid"
)

var ErrUnknownReceipt = errors.New("queue: unknown receipt")

// Queue es una cola FIFO en memoria (un solo proceso). Lo que está en vuelo
// se pierde si el proceso muere; para eso están redis y postgres.
type Queue struct {
	mu       sync.Mutex
	pending  []queue.Envelope
	inflight map[string]queue.Envelope
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

func New() *Queue {
	return &Queue{
		inflight: make(map[string]queue.Envelope),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, e queue.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	q.pending = append(q.pending, e)
	q.signal()
	return nil
}

func (q *Queue) Receive(ctx context.Context) (queue.Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return queue.Message{}, queue.ErrClosed
		}
		if len(q.pending) > 0 {
			e := q.pending[0]
			q.pending = q.pending[1:]
			receipt := uuid.NewString()
			q.inflight[receipt] = e
			// quedan mensajes: despertar a otro consumidor
			if len(q.pending) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return queue.Message{Envelope: e, Receipt: receipt}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Message{}, ctx.Err()
		case <-q.done:
			return queue.Message{}, queue.ErrClosed
		case <-q.notify:
		}
	}
}

func (q *Queue) Ack(ctx context.Context, m queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[m.Receipt]; !ok {
		return ErrUnknownReceipt
	}
	delete(q.inflight, m.Receipt)
	return nil
}

func (q *Queue) Release(ctx context.Context, m queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.inflight[m.Receipt]
	if !ok {
		return ErrUnknownReceipt
	}
	delete(q.inflight, m.Receipt)
	if q.closed {
		return queue.ErrClosed
	}
	e.Attempts++
	q.pending = append(q.pending, e)
	q.signal()
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// Len devuelve (pendientes, en vuelo).
func (q *Queue) Len() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inflight)
}

// signal requiere q.mu tomado.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
