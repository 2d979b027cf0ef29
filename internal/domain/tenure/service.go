package tenure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"member-tenure/internal/platform/logger"
	"member-tenure/internal/platform/metrics"
	"member-tenure/internal/ports/crm"
	"member-tenure/internal/ports/queue"
)

// TaskName es el nombre de la tarea por miembro en la cola.
const TaskName = "consec"

// SettingsProvider entrega los settings vigentes (settings.Holder en runtime).
type SettingsProvider interface {
	Current(ctx context.Context) (Settings, error)
}

// MemberID acepta string o número en el JSON (el CRM devuelve ambos según endpoint).
type MemberID string

func (m *MemberID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = MemberID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("member id must be string or number: %w", err)
	}
	*m = MemberID(n.String())
	return nil
}

// MemberTask es el payload de la tarea "consec".
// OrigJoin nil => el worker busca la join date en el miembro.
type MemberTask struct {
	ID       MemberID `json:"id"`
	OrigJoin *string  `json:"origjoin"`
}

// Report resume el procesamiento de un miembro.
type Report struct {
	MemberID string
	Result   InferenceResult
	Write    WriteResult
}

type Service struct {
	crm      crm.Client
	settings SettingsProvider
	writer   *Writer
	property string
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Options struct {
	MemberTypeProperty string
	Logger             logger.Logger
	Metrics            *metrics.Metrics
}

func NewService(c crm.Client, sp SettingsProvider, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	prop := strings.TrimSpace(opts.MemberTypeProperty)
	if prop == "" {
		prop = DefaultMemberTypeProperty
	}
	return &Service{
		crm:      c,
		settings: sp,
		writer:   NewWriter(c),
		property: prop,
		log:      log,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// ProcessMember es la unidad de trabajo: inferir y reconciliar un miembro.
// Es idempotente, así que reintentarla completa es seguro.
func (s *Service) ProcessMember(ctx context.Context, task MemberTask) (Report, error) {
	memberID := strings.TrimSpace(string(task.ID))
	if memberID == "" {
		return Report{}, ErrInvalidInput
	}
	log := s.log.With(map[string]any{"member_id": memberID})

	st, err := s.settings.Current(ctx)
	if err != nil {
		return Report{}, err
	}

	res, err := s.infer(ctx, memberID, task.OrigJoin, st, log)
	if err != nil {
		return Report{}, err
	}

	wr, err := s.writer.Apply(ctx, memberID, res, st)
	if err != nil {
		return Report{}, err
	}

	s.metrics.Reconciled(string(wr.Outcome))
	if wr.JoinDateRepaired {
		s.metrics.Reconciled("join_date")
	}

	fields := map[string]any{"outcome": string(wr.Outcome)}
	if res.Resolved {
		fields["since"] = wr.Value
	}
	if wr.JoinDateRepaired {
		fields["join_date_repaired"] = true
	}
	log.Info("member processed", fields)

	return Report{MemberID: memberID, Result: res, Write: wr}, nil
}

// Preview corre la inferencia sin escribir nada.
func (s *Service) Preview(ctx context.Context, memberID string) (InferenceResult, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return InferenceResult{}, ErrInvalidInput
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return InferenceResult{}, err
	}
	return s.infer(ctx, memberID, nil, st, s.log.With(map[string]any{"member_id": memberID}))
}

func (s *Service) infer(ctx context.Context, memberID string, origJoin *string, st Settings, log logger.Logger) (InferenceResult, error) {
	var raw string
	if origJoin != nil {
		raw = *origJoin
	} else {
		m, err := s.crm.GetMember(ctx, memberID)
		if err != nil {
			return InferenceResult{}, fmt.Errorf("get member: %w", err)
		}
		raw = m.JoinDate
	}

	joinDate, err := ParseJoinDate(raw)
	if err != nil {
		return InferenceResult{}, fmt.Errorf("join date: %w", err)
	}

	entries, err := s.crm.ChangeLog(ctx, memberID)
	if err != nil {
		return InferenceResult{}, fmt.Errorf("change log: %w", err)
	}

	history, err := ExtractHistory(entries, s.property, log)
	if err != nil {
		return InferenceResult{}, err
	}

	return Infer(InferenceInput{
		MemberID:         memberID,
		OriginalJoinDate: joinDate,
		History:          history,
		Settings:         st,
		Now:              s.now(),
	}), nil
}

// Enqueue encola un miembro sin join date (la resuelve el worker).
func (s *Service) Enqueue(ctx context.Context, q queue.Queue, memberID string) error {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return ErrInvalidInput
	}
	env, err := queue.NewEnvelope(TaskName, MemberTask{ID: MemberID(memberID)})
	if err != nil {
		return err
	}
	if err := q.Enqueue(ctx, env); err != nil {
		return err
	}
	s.metrics.TaskEnqueued(TaskName)
	return nil
}

// Dispatch encola una tarea por cada miembro con tipo consecutivo.
// Si los settings son inválidos no se encola nada.
func (s *Service) Dispatch(ctx context.Context, q queue.Queue) (int, error) {
	st, err := s.settings.Current(ctx)
	if err != nil {
		return 0, err
	}
	codes := st.Codes()
	if len(codes) == 0 {
		return 0, fmt.Errorf("%w: no consecutive member types", ErrConfiguration)
	}

	s.log.Info("starting consecutive members dispatch", map[string]any{"types": strings.Join(codes, "|")})

	count := 0
	err = s.crm.ListMembers(ctx, codes, func(m crm.Member) error {
		task := MemberTask{ID: MemberID(m.ID)}
		if jd := strings.TrimSpace(m.JoinDate); jd != "" {
			task.OrigJoin = &jd
		}
		env, err := queue.NewEnvelope(TaskName, task)
		if err != nil {
			return err
		}
		if err := q.Enqueue(ctx, env); err != nil {
			return fmt.Errorf("enqueue member %s: %w", m.ID, err)
		}
		s.metrics.TaskEnqueued(TaskName)
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	s.log.Info("consecutive members dispatched", map[string]any{"count": count})
	return count, nil
}
