package tenure

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"

	// Formato en que se escriben fechas al CRM (solo día, hora en cero).
	crmDateLayout = "2006-01-02T00:00:00"
)

// El change log trae fechas con o sin fracción de segundo; nada más.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp acepta solo los dos formatos del CRM (sin zona horaria).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
}

// ParseJoinDate interpreta la join date del miembro. Vacía o con el
// centinela "0001-..." del CRM => nil (inválida), sin error.
func ParseJoinDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0001") {
		return nil, nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FormatCRMDate es el valor que se compara y escribe en el CRM.
func FormatCRMDate(t time.Time) string {
	return t.Format(crmDateLayout)
}
