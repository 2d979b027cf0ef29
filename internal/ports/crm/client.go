package crm

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: el registro pedido no existe (p.ej. 404 del CRM).
	ErrNotFound = errors.New("crm: not found")
)

// PropertyChange es un cambio dentro de una entrada del change log.
type PropertyChange struct {
	PropertyName  string
	OriginalValue string
	NewValue      string
}

// ChangeLogEntry es una entrada cruda del audit trail. ChangeDate queda
// como string: el parseo (y sus errores) es responsabilidad del dominio.
type ChangeLogEntry struct {
	ChangeDate string
	Changes    []PropertyChange
}

// Member expone solo los campos que usa el servicio.
type Member struct {
	ID       string
	TypeCode string
	// JoinDate crudo tal como viene del CRM ("" si no tiene).
	JoinDate string
}

// Record es un registro genérico (business object) con propiedades planas.
type Record struct {
	Type       string
	MemberID   string
	Properties map[string]string
}

func NewRecord(recordType, memberID string) Record {
	return Record{
		Type:       recordType,
		MemberID:   memberID,
		Properties: map[string]string{},
	}
}

// Client es la frontera con el CRM. Implementaciones: adapters/crm/imis (REST)
// y adapters/crm/memory (dev/tests).
type Client interface {
	// ChangeLog devuelve el audit trail completo del miembro (más nuevo primero, sin garantía).
	ChangeLog(ctx context.Context, memberID string) ([]ChangeLogEntry, error)

	GetMember(ctx context.Context, memberID string) (Member, error)
	UpdateMember(ctx context.Context, m Member) error
	// ListMembers recorre los miembros cuyo type code está en typeCodes.
	ListMembers(ctx context.Context, typeCodes []string, fn func(Member) error) error
	// QueryMemberIDs ejecuta una consulta guardada y devuelve los IDs resultantes.
	QueryMemberIDs(ctx context.Context, queryName string) ([]string, error)

	GetRecord(ctx context.Context, recordType, memberID string) (Record, error)
	CreateRecord(ctx context.Context, r Record) error
	UpdateRecord(ctx context.Context, r Record) error

	GetSettingsRecord(ctx context.Context, recordType string) (Record, error)
	// DescribeRecordType devuelve los nombres de propiedades del tipo (ErrNotFound si no existe).
	DescribeRecordType(ctx context.Context, recordType string) ([]string, error)
}
