package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Clock es una hora del día (UTC).
type Clock struct {
	Hour, Minute, Second int
}

// ParseClock acepta "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return Clock{}, fmt.Errorf("scheduler: invalid clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// Next devuelve la próxima ocurrencia estrictamente posterior a from.
func (c Clock) Next(from time.Time) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), from.Day(), c.Hour, c.Minute, c.Second, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Daily ejecuta fn una vez por día a la hora indicada, hasta que ctx se cancela.
// Si una ejecución tarda más de un día, la siguiente se calcula desde que terminó.
type Daily struct {
	At  Clock
	Now func() time.Time

	// After permite inyectar timers en tests.
	After func(d time.Duration) <-chan time.Time
}

func NewDaily(at Clock) *Daily {
	return &Daily{At: at, Now: time.Now, After: time.After}
}

func (d *Daily) Run(ctx context.Context, fn func(ctx context.Context)) {
	for {
		wait := d.At.Next(d.Now()).Sub(d.Now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-d.After(wait):
			fn(ctx)
		}
	}
}
