package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"member-tenure/internal/ports/crm"
)

type recordKey struct {
	recordType string
	memberID   string
}

// CRM es un crm.Client en memoria para dev y tests.
// Cuenta las escrituras para que los tests verifiquen idempotencia.
type CRM struct {
	mu sync.RWMutex

	members     map[string]crm.Member
	changeLogs  map[string][]crm.ChangeLogEntry
	records     map[recordKey]crm.Record
	settings    map[string]crm.Record
	definitions map[string][]string
	queries     map[string][]string

	creates       int
	updates       int
	memberUpdates int

	// Fail, si no es nil, se devuelve desde todas las operaciones (simula caída).
	Fail error
}

func New() *CRM {
	return &CRM{
		members:     make(map[string]crm.Member),
		changeLogs:  make(map[string][]crm.ChangeLogEntry),
		records:     make(map[recordKey]crm.Record),
		settings:    make(map[string]crm.Record),
		definitions: make(map[string][]string),
		queries:     make(map[string][]string),
	}
}

// ---- seed helpers ----

func (c *CRM) PutMember(m crm.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[m.ID] = m
}

func (c *CRM) PutChangeLog(memberID string, entries ...crm.ChangeLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeLogs[memberID] = append([]crm.ChangeLogEntry(nil), entries...)
}

func (c *CRM) PutRecord(r crm.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[recordKey{r.Type, r.MemberID}] = cloneRecord(r)
}

func (c *CRM) PutSettingsRecord(r crm.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[r.Type] = cloneRecord(r)
}

func (c *CRM) DefineRecordType(recordType string, properties ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions[recordType] = append([]string(nil), properties...)
}

func (c *CRM) PutQuery(name string, memberIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries[name] = append([]string(nil), memberIDs...)
}

// Writes devuelve (creates, updates, memberUpdates).
func (c *CRM) Writes() (int, int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creates, c.updates, c.memberUpdates
}

// ---- crm.Client ----

func (c *CRM) ChangeLog(ctx context.Context, memberID string) ([]crm.ChangeLogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Fail != nil {
		return nil, c.Fail
	}
	return append([]crm.ChangeLogEntry(nil), c.changeLogs[memberID]...), nil
}

func (c *CRM) GetMember(ctx context.Context, memberID string) (crm.Member, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Fail != nil {
		return crm.Member{}, c.Fail
	}
	m, ok := c.members[memberID]
	if !ok {
		return crm.Member{}, crm.ErrNotFound
	}
	return m, nil
}

func (c *CRM) UpdateMember(ctx context.Context, m crm.Member) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("member id required")
	}
	if _, ok := c.members[m.ID]; !ok {
		return crm.ErrNotFound
	}
	c.members[m.ID] = m
	c.memberUpdates++
	return nil
}

func (c *CRM) ListMembers(ctx context.Context, typeCodes []string, fn func(crm.Member) error) error {
	c.mu.RLock()
	if c.Fail != nil {
		c.mu.RUnlock()
		return c.Fail
	}
	want := make(map[string]struct{}, len(typeCodes))
	for _, tc := range typeCodes {
		want[tc] = struct{}{}
	}
	out := make([]crm.Member, 0)
	for _, m := range c.members {
		if _, ok := want[m.TypeCode]; ok {
			out = append(out, m)
		}
	}
	c.mu.RUnlock()

	// orden estable por id (solo para consistencia en dev/tests)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	// fn corre sin lock: puede llamar de vuelta al CRM
	for _, m := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *CRM) QueryMemberIDs(ctx context.Context, queryName string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Fail != nil {
		return nil, c.Fail
	}
	ids, ok := c.queries[queryName]
	if !ok {
		return nil, crm.ErrNotFound
	}
	return append([]string(nil), ids...), nil
}

func (c *CRM) GetRecord(ctx context.Context, recordType, memberID string) (crm.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Fail != nil {
		return crm.Record{}, c.Fail
	}
	r, ok := c.records[recordKey{recordType, memberID}]
	if !ok {
		return crm.Record{}, crm.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (c *CRM) CreateRecord(ctx context.Context, r crm.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	k := recordKey{r.Type, r.MemberID}
	if _, exists := c.records[k]; exists {
		return errors.New("record already exists")
	}
	c.records[k] = cloneRecord(r)
	c.creates++
	return nil
}

func (c *CRM) UpdateRecord(ctx context.Context, r crm.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	k := recordKey{r.Type, r.MemberID}
	if _, exists := c.records[k]; !exists {
		return crm.ErrNotFound
	}
	c.records[k] = cloneRecord(r)
	c.updates++
	return nil
}

func (c *CRM) GetSettingsRecord(ctx context.Context, recordType string) (crm.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Fail != nil {
		return crm.Record{}, c.Fail
	}
	r, ok := c.settings[recordType]
	if !ok {
		return crm.Record{}, crm.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (c *CRM) DescribeRecordType(ctx context.Context, recordType string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Fail != nil {
		return nil, c.Fail
	}
	props, ok := c.definitions[recordType]
	if !ok {
		return nil, crm.ErrNotFound
	}
	return append([]string(nil), props...), nil
}

func cloneRecord(r crm.Record) crm.Record {
	props := make(map[string]string, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	r.Properties = props
	return r
}
