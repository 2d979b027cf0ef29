package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"member-tenure/internal/ports/queue"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// pollTimeout acota cada BLMOVE para poder mirar ctx entre vueltas.
const pollTimeout = time.Second

// Queue usa dos listas: <name>:pending y <name>:processing.
// Receive mueve atómicamente de pending a processing (BLMOVE); Ack borra de
// processing. Si el worker muere, RecoverInFlight devuelve lo colgado.
type Queue struct {
	client     *redis.Client
	pending    string
	processing string
	owned      bool
}

// Dial abre un cliente propio; Close lo cierra.
func Dial(addr, password string, db int, name string) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	q := New(rdb, name)
	q.owned = true
	return q, nil
}

func New(client *redis.Client, name string) *Queue {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "member-tenure"
	}
	return &Queue{
		client:     client,
		pending:    name + ":pending",
		processing: name + ":processing",
	}
}

func (q *Queue) Enqueue(ctx context.Context, e queue.Envelope) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, raw).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) (queue.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Message{}, err
		}
		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return queue.Message{}, queue.ErrClosed
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return queue.Message{}, ctxErr
			}
			return queue.Message{}, fmt.Errorf("redis blmove: %w", err)
		}

		var e queue.Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// basura en la cola: se saca para no bloquearla
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			return queue.Message{}, fmt.Errorf("decode envelope: %w", err)
		}
		return queue.Message{Envelope: e, Receipt: raw}, nil
	}
}

func (q *Queue) Ack(ctx context.Context, m queue.Message) error {
	if err := q.client.LRem(ctx, q.processing, 1, m.Receipt).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

func (q *Queue) Release(ctx context.Context, m queue.Message) error {
	e := m.Envelope
	e.Attempts++
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, m.Receipt)
		pipe.LPush(ctx, q.pending, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// RecoverInFlight devuelve a pending todo lo que quedó en processing
// (worker caído a mitad de tarea). Llamar solo al arrancar, sin otros
// workers consumiendo la misma cola.
func (q *Queue) RecoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redis lmove: %w", err)
		}
		n++
	}
}

func (q *Queue) Close() error {
	if !q.owned {
		return nil
	}
	return q.client.Close()
}
