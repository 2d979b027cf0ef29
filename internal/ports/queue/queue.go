package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrClosed = errors.New("queue: closed")
)

// Envelope es lo que viaja por la cola: {"task": "...", "data": ...}.
// ID y Attempts los completa la cola; los consumidores solo leen Data.
type Envelope struct {
	ID       string          `json:"id,omitempty"`
	Task     string          `json:"task"`
	Data     json.RawMessage `json:"data"`
	Attempts int             `json:"attempts,omitempty"`
}

// NewEnvelope serializa data y asigna un ID nuevo.
func NewEnvelope(task string, data any) (Envelope, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return Envelope{}, errors.New("queue: task required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("queue: marshal data: %w", err)
	}
	return Envelope{ID: uuid.NewString(), Task: task, Data: raw}, nil
}

// Message es un envelope recibido; Receipt identifica la entrega para Ack/Release.
type Message struct {
	Envelope Envelope
	Receipt  string
}

type Queue interface {
	Enqueue(ctx context.Context, e Envelope) error
	// Receive bloquea hasta que haya un mensaje o ctx se cancele.
	Receive(ctx context.Context) (Message, error)
	// Ack confirma el procesamiento: el mensaje no vuelve.
	Ack(ctx context.Context, m Message) error
	// Release devuelve el mensaje a la cola con Attempts+1.
	Release(ctx context.Context, m Message) error
	Close() error
}
