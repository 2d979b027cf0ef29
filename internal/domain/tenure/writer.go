package tenure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"member-tenure/internal/ports/crm"
)

// Outcome es lo que hizo el writer con el registro "since".
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeCreated    Outcome = "created"
	OutcomeUpdated    Outcome = "updated"
)

// Writer reconcilia el resultado con lo persistido en el CRM.
// No reintenta: los errores suben al caller (el worker decide).
type Writer struct {
	crm crm.Client
}

func NewWriter(c crm.Client) *Writer {
	return &Writer{crm: c}
}

// WriteResult resume lo que se escribió.
type WriteResult struct {
	Outcome          Outcome
	Previous         string
	Value            string
	JoinDateRepaired bool
}

// Apply escribe solo si el valor cambió. Si hay CorrectedJoinDate, además
// corrige la join date del miembro, siempre después del registro "since":
// si ese write falla el miembro queda sin tocar.
func (w *Writer) Apply(ctx context.Context, memberID string, res InferenceResult, s Settings) (WriteResult, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return WriteResult{}, ErrInvalidInput
	}
	if !res.Resolved {
		return WriteResult{Outcome: OutcomeUnresolved}, nil
	}
	if s.SinceRecord.Type == "" || s.SinceRecord.Property == "" {
		return WriteResult{}, fmt.Errorf("%w: since record type/property not set", ErrConfiguration)
	}

	out, err := w.writeSince(ctx, memberID, FormatCRMDate(res.Since), s.SinceRecord)
	if err != nil {
		return WriteResult{}, err
	}

	if res.CorrectedJoinDate != nil {
		if err := w.repairJoinDate(ctx, memberID, *res.CorrectedJoinDate); err != nil {
			return WriteResult{}, err
		}
		out.JoinDateRepaired = true
	}
	return out, nil
}

func (w *Writer) writeSince(ctx context.Context, memberID, value string, sr SinceRecord) (WriteResult, error) {
	created := false
	rec, err := w.crm.GetRecord(ctx, sr.Type, memberID)
	switch {
	case errors.Is(err, crm.ErrNotFound):
		rec = crm.NewRecord(sr.Type, memberID)
		created = true
	case err != nil:
		return WriteResult{}, fmt.Errorf("get %s record: %w", sr.Type, err)
	}
	if rec.Properties == nil {
		rec.Properties = map[string]string{}
	}

	out := WriteResult{Previous: rec.Properties[sr.Property], Value: value}
	if out.Previous == out.Value {
		out.Outcome = OutcomeUnchanged
		return out, nil
	}

	rec.Properties[sr.Property] = value
	if created {
		if err := w.crm.CreateRecord(ctx, rec); err != nil {
			return WriteResult{}, fmt.Errorf("create %s record: %w", sr.Type, err)
		}
		out.Outcome = OutcomeCreated
		return out, nil
	}

	if err := w.crm.UpdateRecord(ctx, rec); err != nil {
		return WriteResult{}, fmt.Errorf("update %s record: %w", sr.Type, err)
	}
	out.Outcome = OutcomeUpdated
	return out, nil
}

func (w *Writer) repairJoinDate(ctx context.Context, memberID string, date time.Time) error {
	m, err := w.crm.GetMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("get member: %w", err)
	}
	m.JoinDate = FormatCRMDate(date)
	if err := w.crm.UpdateMember(ctx, m); err != nil {
		return fmt.Errorf("update member join date: %w", err)
	}
	return nil
}
