package lapsed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/platform/logger"
	"member-tenure/internal/platform/metrics"
	"member-tenure/internal/ports/crm"
	"member-tenure/internal/ports/queue"
)

// TaskName es la tarea que pasa un miembro a no miembro.
const TaskName = "convert"

// ErrNoQuery: el job no tiene consulta configurada.
var ErrNoQuery = fmt.Errorf("%w: lapsed query not configured", tenure.ErrConfiguration)

// Service reclasifica como no miembro a los IDs que devuelve una consulta
// guardada del CRM (membresías vencidas).
type Service struct {
	crm      crm.Client
	settings tenure.SettingsProvider
	query    string
	log      logger.Logger
	metrics  *metrics.Metrics
}

type Options struct {
	Query   string
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

func NewService(c crm.Client, sp tenure.SettingsProvider, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		crm:      c,
		settings: sp,
		query:    strings.TrimSpace(opts.Query),
		log:      log,
		metrics:  opts.Metrics,
	}
}

// Enabled indica si hay consulta configurada.
func (s *Service) Enabled() bool { return s.query != "" }

// Dispatch corre la consulta y encola una tarea "convert" por ID.
// Primero junta todos los IDs: si la consulta falla a mitad no se encola nada.
func (s *Service) Dispatch(ctx context.Context, q queue.Queue) (int, error) {
	if !s.Enabled() {
		return 0, ErrNoQuery
	}
	s.log.Info("starting lapsed members dispatch", map[string]any{"query": s.query})

	ids, err := s.crm.QueryMemberIDs(ctx, s.query)
	if errors.Is(err, crm.ErrNotFound) {
		return 0, fmt.Errorf("%w: query %q not found", tenure.ErrConfiguration, s.query)
	}
	if err != nil {
		return 0, fmt.Errorf("run query %s: %w", s.query, err)
	}

	count := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		env, err := queue.NewEnvelope(TaskName, id)
		if err != nil {
			return count, err
		}
		if err := q.Enqueue(ctx, env); err != nil {
			return count, fmt.Errorf("enqueue member %s: %w", id, err)
		}
		s.metrics.TaskEnqueued(TaskName)
		count++
	}

	s.log.Info("lapsed members dispatched", map[string]any{"count": count})
	return count, nil
}

// DecodeTask lee el payload de "convert": el ID como string o número.
func DecodeTask(data json.RawMessage) (string, error) {
	var id tenure.MemberID
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("%w: convert payload: %v", tenure.ErrInvalidInput, err)
	}
	if strings.TrimSpace(string(id)) == "" {
		return "", fmt.Errorf("%w: convert payload without member id", tenure.ErrInvalidInput)
	}
	return string(id), nil
}

// Convert pone el type code del miembro en el código de no miembro.
// Si ya lo tiene no escribe (la tarea puede repetirse).
func (s *Service) Convert(ctx context.Context, memberID string) (bool, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return false, tenure.ErrInvalidInput
	}
	st, err := s.settings.Current(ctx)
	if err != nil {
		return false, err
	}
	nonMember := st.NonMemberCode
	if nonMember == "" {
		nonMember = tenure.DefaultNonMemberCode
	}

	m, err := s.crm.GetMember(ctx, memberID)
	if err != nil {
		return false, fmt.Errorf("get member: %w", err)
	}
	if m.TypeCode == nonMember {
		return false, nil
	}

	previous := m.TypeCode
	m.TypeCode = nonMember
	if err := s.crm.UpdateMember(ctx, m); err != nil {
		return false, fmt.Errorf("update member type: %w", err)
	}

	s.log.Info("member converted to non-member", map[string]any{
		"member_id": memberID,
		"from":      previous,
		"to":        nonMember,
	})
	return true, nil
}
