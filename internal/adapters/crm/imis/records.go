package imis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"member-tenure/internal/ports/crm"
)

func recordPath(recordType string) string {
	return "/api/" + url.PathEscape(strings.TrimSpace(recordType))
}

func (c *Client) GetRecord(ctx context.Context, recordType, memberID string) (crm.Record, error) {
	var e genericEntity
	if err := c.call(ctx, http.MethodGet, recordPath(recordType)+"/"+url.PathEscape(memberID), nil, &e); err != nil {
		return crm.Record{}, err
	}
	return crm.Record{Type: recordType, MemberID: memberID, Properties: e.flatten()}, nil
}

func (c *Client) CreateRecord(ctx context.Context, r crm.Record) error {
	return c.call(ctx, http.MethodPost, recordPath(r.Type), entityFromRecord(r), nil)
}

func (c *Client) UpdateRecord(ctx context.Context, r crm.Record) error {
	return c.call(ctx, http.MethodPut, recordPath(r.Type)+"/"+url.PathEscape(r.MemberID), entityFromRecord(r), nil)
}

func entityFromRecord(r crm.Record) genericEntity {
	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return newEntity(r.Type, r.MemberID, r.Properties, keys)
}

var errStop = errors.New("stop")

// GetSettingsRecord devuelve la primera fila del business object de settings
// (es un objeto de una sola instancia).
func (c *Client) GetSettingsRecord(ctx context.Context, recordType string) (crm.Record, error) {
	var found *genericEntity
	err := c.iterate(ctx, recordPath(recordType), nil, func(raw json.RawMessage) error {
		var e genericEntity
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decode settings record: %w", err)
		}
		found = &e
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return crm.Record{}, err
	}
	if found == nil {
		return crm.Record{}, fmt.Errorf("settings record %s: %w", recordType, crm.ErrNotFound)
	}
	return crm.Record{Type: recordType, Properties: found.flatten()}, nil
}

type entityDefinition struct {
	EntityTypeName string `json:"EntityTypeName"`
	Properties     collection[struct {
		Name string `json:"Name"`
	}] `json:"Properties"`
}

func (c *Client) DescribeRecordType(ctx context.Context, recordType string) ([]string, error) {
	var def entityDefinition
	if err := c.call(ctx, http.MethodGet, "/api/BOEntityDefinition/"+url.PathEscape(recordType), nil, &def); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(def.Properties.Values))
	for _, p := range def.Properties.Values {
		out = append(out, p.Name)
	}
	return out, nil
}
