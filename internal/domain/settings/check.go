package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/ports/crm"
)

// CheckRecordType confirma al arrancar que el tipo de registro "since"
// existe en el CRM y tiene la propiedad configurada.
func CheckRecordType(ctx context.Context, c crm.Client, s tenure.Settings) error {
	props, err := c.DescribeRecordType(ctx, s.SinceRecord.Type)
	if errors.Is(err, crm.ErrNotFound) {
		return configErr("record type %q does not exist", s.SinceRecord.Type)
	}
	if err != nil {
		return fmt.Errorf("describe record type %s: %w", s.SinceRecord.Type, err)
	}

	for _, p := range props {
		if strings.EqualFold(p, s.SinceRecord.Property) {
			return nil
		}
	}
	return configErr("record type %q has no property %q", s.SinceRecord.Type, s.SinceRecord.Property)
}
