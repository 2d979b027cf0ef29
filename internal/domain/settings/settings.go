package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"member-tenure/internal/domain/tenure"
)

const dateLayout = "2006-01-02"

// Source entrega el documento crudo de settings. Los errores de formato
// deben envolver tenure.ErrConfiguration; los de I/O se devuelven tal cual.
type Source interface {
	Load(ctx context.Context) (Document, error)
}

// Document es la forma serializable de los settings (YAML o CRM).
type Document struct {
	ConsecutiveTypes []string       `yaml:"consecutive_types"`
	NonMemberCode    string         `yaml:"non_member_code"`
	MaxLapseMonths   int            `yaml:"max_lapse_months"`
	GracePeriods     []WindowDoc    `yaml:"grace_periods"`
	Exceptions       []ExceptionDoc `yaml:"exceptions"`
	SinceRecord      SinceDoc       `yaml:"since_record"`
}

type WindowDoc struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type ExceptionDoc struct {
	MemberID string `yaml:"member_id"`
	Date     string `yaml:"date"`
}

type SinceDoc struct {
	Type     string `yaml:"type"`
	Property string `yaml:"property"`
}

// Resolve carga y valida. Cualquier dato inválido corta con ErrConfiguration:
// mejor no procesar a nadie que escribir fechas mal calculadas.
func Resolve(ctx context.Context, src Source) (tenure.Settings, error) {
	doc, err := src.Load(ctx)
	if err != nil {
		return tenure.Settings{}, err
	}
	return Build(doc)
}

// Build valida un Document y arma los tenure.Settings.
func Build(doc Document) (tenure.Settings, error) {
	s := tenure.Settings{
		ConsecutiveCodes: map[string]struct{}{},
		NonMemberCode:    strings.TrimSpace(doc.NonMemberCode),
		Exceptions:       map[string]map[string]struct{}{},
		SinceRecord: tenure.SinceRecord{
			Type:     strings.TrimSpace(doc.SinceRecord.Type),
			Property: strings.TrimSpace(doc.SinceRecord.Property),
		},
	}

	for _, c := range doc.ConsecutiveTypes {
		if c = strings.TrimSpace(c); c != "" {
			s.ConsecutiveCodes[c] = struct{}{}
		}
	}
	if len(s.ConsecutiveCodes) == 0 {
		return tenure.Settings{}, configErr("no consecutive member types configured")
	}

	if s.NonMemberCode == "" {
		s.NonMemberCode = tenure.DefaultNonMemberCode
	}
	if s.IsConsecutive(s.NonMemberCode) {
		return tenure.Settings{}, configErr("non-member code %q is also a consecutive type", s.NonMemberCode)
	}

	if doc.MaxLapseMonths <= 0 {
		return tenure.Settings{}, configErr("max lapse must be a positive number of months, got %d", doc.MaxLapseMonths)
	}
	s.MaxLapse = tenure.MaxLapseFromMonths(doc.MaxLapseMonths)

	for i, w := range doc.GracePeriods {
		gp, err := buildWindow(w)
		if err != nil {
			return tenure.Settings{}, configErr("grace period %d: %v", i+1, err)
		}
		s.GracePeriods = append(s.GracePeriods, gp)
	}
	if err := checkDisjoint(s.GracePeriods); err != nil {
		return tenure.Settings{}, err
	}

	for i, e := range doc.Exceptions {
		id := strings.TrimSpace(e.MemberID)
		if id == "" {
			return tenure.Settings{}, configErr("exception %d: member id required", i+1)
		}
		d, err := parseDate(e.Date)
		if err != nil {
			return tenure.Settings{}, configErr("exception %d (%s): %v", i+1, id, err)
		}
		if s.Exceptions[id] == nil {
			s.Exceptions[id] = map[string]struct{}{}
		}
		s.Exceptions[id][tenure.DateKey(d)] = struct{}{}
	}

	if s.SinceRecord.Type == "" || s.SinceRecord.Property == "" {
		return tenure.Settings{}, configErr("since record type and property are required")
	}

	return s, nil
}

func buildWindow(w WindowDoc) (tenure.GracePeriod, error) {
	if strings.TrimSpace(w.Start) == "" || strings.TrimSpace(w.End) == "" {
		return tenure.GracePeriod{}, fmt.Errorf("start and end are required")
	}
	start, err := parseDate(w.Start)
	if err != nil {
		return tenure.GracePeriod{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseDate(w.End)
	if err != nil {
		return tenure.GracePeriod{}, fmt.Errorf("end: %w", err)
	}
	if !start.Before(end) {
		return tenure.GracePeriod{}, fmt.Errorf("start %s must be before end %s", w.Start, w.End)
	}
	return tenure.GracePeriod{Start: start, End: end}, nil
}

// checkDisjoint: el motor asume ventanas sin solapamiento.
func checkDisjoint(periods []tenure.GracePeriod) error {
	sorted := append([]tenure.GracePeriod(nil), periods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start.Before(sorted[i-1].End) {
			return configErr("grace periods overlap: %s..%s and %s..%s",
				sorted[i-1].Start.Format(dateLayout), sorted[i-1].End.Format(dateLayout),
				sorted[i].Start.Format(dateLayout), sorted[i].End.Format(dateLayout))
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date required")
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tenure.ErrConfiguration, fmt.Sprintf(format, args...))
}
