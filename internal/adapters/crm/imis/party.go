package imis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"member-tenure/internal/ports/crm"
)

const joinDateAttr = "JoinDate"

// Party se maneja como map para devolverlo intacto en el PUT: iMIS
// reemplaza el objeto completo y no queremos perder campos que no modelamos.
type party map[string]any

func (p party) id() string {
	switch v := p["Id"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func (p party) attributes() []any {
	attrs, _ := p["AdditionalAttributes"].(map[string]any)
	if attrs == nil {
		return nil
	}
	values, _ := attrs["$values"].([]any)
	return values
}

func (p party) attr(name string) string {
	for _, a := range p.attributes() {
		m, _ := a.(map[string]any)
		if m == nil || m["Name"] != name {
			continue
		}
		raw, err := json.Marshal(m["Value"])
		if err != nil {
			return ""
		}
		return valueString(raw)
	}
	return ""
}

func (p party) setAttr(name, value string) {
	for _, a := range p.attributes() {
		m, _ := a.(map[string]any)
		if m == nil || m["Name"] != name {
			continue
		}
		// {"$type": ..., "$value": ...} conserva el envoltorio
		if wrapped, ok := m["Value"].(map[string]any); ok {
			wrapped["$value"] = value
			return
		}
		m["Value"] = value
		return
	}

	attrs, _ := p["AdditionalAttributes"].(map[string]any)
	if attrs == nil {
		attrs = map[string]any{"$type": typePropertyList}
		p["AdditionalAttributes"] = attrs
	}
	values, _ := attrs["$values"].([]any)
	attrs["$values"] = append(values, map[string]any{
		"$type": typeGenericProperty,
		"Name":  name,
		"Value": value,
	})
}

func (c *Client) toMember(p party) crm.Member {
	return crm.Member{
		ID:       p.id(),
		TypeCode: p.attr(c.typeAttr),
		JoinDate: p.attr(joinDateAttr),
	}
}

func (c *Client) getParty(ctx context.Context, memberID string) (party, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, crm.ErrNotFound
	}
	var p party
	if err := c.call(ctx, http.MethodGet, "/api/Party/"+url.PathEscape(memberID), nil, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) GetMember(ctx context.Context, memberID string) (crm.Member, error) {
	p, err := c.getParty(ctx, memberID)
	if err != nil {
		return crm.Member{}, err
	}
	m := c.toMember(p)
	if m.ID == "" {
		m.ID = memberID
	}
	return m, nil
}

// UpdateMember relee el Party y escribe type code y join date.
func (c *Client) UpdateMember(ctx context.Context, m crm.Member) error {
	p, err := c.getParty(ctx, m.ID)
	if err != nil {
		return err
	}
	if p.attr(c.typeAttr) != m.TypeCode {
		p.setAttr(c.typeAttr, m.TypeCode)
	}
	if p.attr(joinDateAttr) != m.JoinDate {
		p.setAttr(joinDateAttr, m.JoinDate)
	}
	return c.call(ctx, http.MethodPut, "/api/Party/"+url.PathEscape(m.ID), p, nil)
}

func (c *Client) ListMembers(ctx context.Context, typeCodes []string, fn func(crm.Member) error) error {
	if len(typeCodes) == 0 {
		return nil
	}
	params := url.Values{}
	params.Set(c.typeAttr, "in:"+strings.Join(typeCodes, "|"))

	return c.iterate(ctx, "/api/Party", params, func(raw json.RawMessage) error {
		var p party
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode party: %w", err)
		}
		return fn(c.toMember(p))
	})
}

type changeLogItem struct {
	ChangeDate string                   `json:"ChangeDate"`
	Changes    collection[changeDetail] `json:"Changes"`
}

type changeDetail struct {
	PropertyName  string          `json:"PropertyName"`
	OriginalValue json.RawMessage `json:"OriginalValue"`
	NewValue      json.RawMessage `json:"NewValue"`
}

// ChangeLog usa /api/ChangeLog filtrando por identidad: el endpoint
// Party/{id}/ChangeLog no es confiable.
func (c *Client) ChangeLog(ctx context.Context, memberID string) ([]crm.ChangeLogEntry, error) {
	params := url.Values{}
	params.Set("IdentityEntityTypeName", "Party")
	params.Set("IdentityIdentityElement", strings.TrimSpace(memberID))

	var out []crm.ChangeLogEntry
	err := c.iterate(ctx, "/api/ChangeLog", params, func(raw json.RawMessage) error {
		var item changeLogItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return fmt.Errorf("decode change log: %w", err)
		}
		entry := crm.ChangeLogEntry{ChangeDate: item.ChangeDate}
		for _, ch := range item.Changes.Values {
			entry.Changes = append(entry.Changes, crm.PropertyChange{
				PropertyName:  ch.PropertyName,
				OriginalValue: valueString(ch.OriginalValue),
				NewValue:      valueString(ch.NewValue),
			})
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryMemberIDs corre una consulta IQA guardada y devuelve la columna ID.
func (c *Client) QueryMemberIDs(ctx context.Context, queryName string) ([]string, error) {
	params := url.Values{}
	params.Set("QueryName", queryName)

	var ids []string
	err := c.iterate(ctx, "/api/query", params, func(raw json.RawMessage) error {
		if id := rowID(raw); id != "" {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// rowID saca el ID de una fila de IQA: viene como GenericEntityData o como objeto plano.
func rowID(raw json.RawMessage) string {
	var e genericEntity
	if err := json.Unmarshal(raw, &e); err == nil && len(e.Properties.Values) > 0 {
		return strings.TrimSpace(e.get("ID"))
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return ""
	}
	for _, k := range []string{"ID", "Id", "id"} {
		if v, ok := flat[k]; ok {
			return strings.TrimSpace(valueString(v))
		}
	}
	return ""
}
