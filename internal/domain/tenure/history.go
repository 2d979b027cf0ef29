package tenure

import (
	"fmt"
	"sort"
	"strings"

	"member-tenure/internal/platform/logger"
	"member-tenure/internal/ports/crm"
)

// DefaultMemberTypeProperty es la propiedad del change log para el tipo de miembro.
const DefaultMemberTypeProperty = "Name.MEMBER_TYPE"

// mergedSuffix lo agrega el CRM a los valores que vienen de un merge de contactos.
const mergedSuffix = " - Merged"

// ExtractHistory filtra el change log a cambios de tipo de miembro,
// normaliza fechas y valores, y ordena del más nuevo al más viejo.
//
// Solo se mira el primer cambio de cada entrada; si hay más se loguea
// warning y se sigue.
func ExtractHistory(entries []crm.ChangeLogEntry, property string, log logger.Logger) ([]ChangeEvent, error) {
	if property == "" {
		property = DefaultMemberTypeProperty
	}
	if log == nil {
		log = logger.Nop()
	}

	out := make([]ChangeEvent, 0, len(entries))
	for _, e := range entries {
		if len(e.Changes) == 0 {
			continue
		}
		if len(e.Changes) > 1 {
			log.Warn("change log entry has more than one change; using the first", map[string]any{
				"changes":     len(e.Changes),
				"change_date": e.ChangeDate,
			})
		}

		first := e.Changes[0]
		if first.PropertyName != property {
			continue
		}

		at, err := ParseTimestamp(e.ChangeDate)
		if err != nil {
			return nil, fmt.Errorf("change log entry: %w", err)
		}

		out = append(out, ChangeEvent{
			ChangedAt:     at,
			OriginalValue: stripMerged(first.OriginalValue),
			NewValue:      stripMerged(first.NewValue),
		})
	}

	// debería venir así del CRM, pero no está garantizado
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangedAt.After(out[j].ChangedAt)
	})

	return out, nil
}

func stripMerged(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, mergedSuffix, ""))
}
