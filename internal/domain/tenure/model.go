package tenure

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrConfiguration marca settings inválidos o faltantes. No se reintenta:
	// sin corrección del operador el error se repite.
	ErrConfiguration = errors.New("configuration error")

	// ErrMalformedTimestamp: fecha del change log en un formato no soportado.
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	ErrInvalidInput = errors.New("invalid input")
)

// DefaultNonMemberCode es el type code de "no miembro" en el CRM.
const DefaultNonMemberCode = "NM"

// ChangeEvent es un cambio de tipo de miembro ya normalizado.
type ChangeEvent struct {
	ChangedAt     time.Time
	OriginalValue string
	NewValue      string
}

// GracePeriod es una ventana donde un lapso no corta la racha si el miembro
// estaba activo al entrar en ella. Los extremos son exclusivos.
type GracePeriod struct {
	Start time.Time
	End   time.Time
}

func (g GracePeriod) Contains(t time.Time) bool {
	return g.Start.Before(t) && t.Before(g.End)
}

// SinceRecord identifica dónde se persiste "miembro consecutivo desde".
type SinceRecord struct {
	Type     string
	Property string
}

// Settings es inmutable durante una corrida. Se construye con settings.Resolve.
type Settings struct {
	ConsecutiveCodes map[string]struct{}
	NonMemberCode    string
	MaxLapse         time.Duration
	GracePeriods     []GracePeriod
	// Exceptions: member id -> fechas (YYYY-MM-DD) cuyo cambio se ignora.
	Exceptions  map[string]map[string]struct{}
	SinceRecord SinceRecord
}

// MaxLapseFromMonths: la duración máxima se mide en "meses" de 30 días.
func MaxLapseFromMonths(months int) time.Duration {
	return time.Duration(months) * 30 * 24 * time.Hour
}

func (s Settings) IsConsecutive(code string) bool {
	_, ok := s.ConsecutiveCodes[code]
	return ok
}

func (s Settings) nonMemberCode() string {
	if s.NonMemberCode == "" {
		return DefaultNonMemberCode
	}
	return s.NonMemberCode
}

// Codes devuelve los códigos consecutivos ordenados (para filtros y logs).
func (s Settings) Codes() []string {
	out := make([]string, 0, len(s.ConsecutiveCodes))
	for c := range s.ConsecutiveCodes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// exceptionSet son las fechas de excepción de un miembro.
type exceptionSet map[string]struct{}

func (s Settings) exceptionsFor(memberID string) exceptionSet {
	return s.Exceptions[memberID]
}

func (e exceptionSet) has(t time.Time) bool {
	if len(e) == 0 {
		return false
	}
	_, ok := e[DateKey(t)]
	return ok
}

// DateKey es la fecha calendario de t, formato YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// InferenceInput es todo lo que necesita Infer. Now es explícito para que
// Infer sea una función pura.
type InferenceInput struct {
	MemberID string
	// OriginalJoinDate nil => ausente o inválida en el CRM.
	OriginalJoinDate *time.Time
	History          []ChangeEvent
	Settings         Settings
	Now              time.Time
}

// InferenceResult: si Resolved es false no se escribe nada.
type InferenceResult struct {
	Resolved bool
	Since    time.Time

	// CorrectedJoinDate se informa solo si la join date original era inválida
	// y se resolvió una racha; el caller la escribe en el miembro.
	CorrectedJoinDate *time.Time

	// Diagnóstico: dónde cortó el scan y si hubo join marker.
	Broken     bool
	StoppedAt  *time.Time
	JoinMarker *time.Time
}
