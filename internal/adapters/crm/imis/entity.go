package imis

import (
	"bytes"
	"encoding/json"
	"strings"
)

// collection es el envoltorio {"$type": ..., "$values": [...]} de iMIS.
type collection[T any] struct {
	Type   string `json:"$type,omitempty"`
	Values []T    `json:"$values"`
}

type genericProperty struct {
	Type  string          `json:"$type,omitempty"`
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

type identity struct {
	Type             string   `json:"$type,omitempty"`
	EntityTypeName   string   `json:"EntityTypeName"`
	IdentityElements *strList `json:"IdentityElements,omitempty"`
}

type strList = collection[string]

// genericEntity es GenericEntityData: los business objects propios.
type genericEntity struct {
	Type                        string                      `json:"$type,omitempty"`
	EntityTypeName              string                      `json:"EntityTypeName"`
	PrimaryParentEntityTypeName string                      `json:"PrimaryParentEntityTypeName,omitempty"`
	Identity                    identity                    `json:"Identity"`
	PrimaryParentIdentity       *identity                   `json:"PrimaryParentIdentity,omitempty"`
	Properties                  collection[genericProperty] `json:"Properties"`
}

const (
	typeGenericEntity   = "Asi.Soa.Core.DataContracts.GenericEntityData, Asi.Contracts"
	typeIdentity        = "Asi.Soa.Core.DataContracts.IdentityData, Asi.Contracts"
	typePropertyList    = "Asi.Soa.Core.DataContracts.GenericPropertyDataCollection, Asi.Contracts"
	typeGenericProperty = "Asi.Soa.Core.DataContracts.GenericPropertyData, Asi.Contracts"
)

// newEntity arma un business object hijo de Party con las propiedades dadas.
// ID va primero; el resto en el orden recibido.
func newEntity(entityType, memberID string, props map[string]string, order []string) genericEntity {
	e := genericEntity{
		Type:                        typeGenericEntity,
		EntityTypeName:              entityType,
		PrimaryParentEntityTypeName: "Party",
		Identity: identity{
			Type:             typeIdentity,
			EntityTypeName:   entityType,
			IdentityElements: &strList{Values: []string{memberID}},
		},
		PrimaryParentIdentity: &identity{
			Type:             typeIdentity,
			EntityTypeName:   "Party",
			IdentityElements: &strList{Values: []string{memberID}},
		},
		Properties: collection[genericProperty]{Type: typePropertyList},
	}
	e.set("ID", memberID)
	for _, k := range order {
		if strings.EqualFold(k, "ID") {
			continue
		}
		e.set(k, props[k])
	}
	return e
}

func (e *genericEntity) get(name string) string {
	for _, p := range e.Properties.Values {
		if p.Name == name {
			return valueString(p.Value)
		}
	}
	return ""
}

func (e *genericEntity) set(name, value string) {
	raw, _ := json.Marshal(value)
	for i, p := range e.Properties.Values {
		if p.Name == name {
			e.Properties.Values[i].Value = raw
			return
		}
	}
	e.Properties.Values = append(e.Properties.Values, genericProperty{Type: typeGenericProperty, Name: name, Value: raw})
}

func (e *genericEntity) flatten() map[string]string {
	out := make(map[string]string, len(e.Properties.Values))
	for _, p := range e.Properties.Values {
		out[p.Name] = valueString(p.Value)
	}
	return out
}

// valueString normaliza un Value de iMIS: string, número, null o
// {"$type": "System.Int32", "$value": 5}.
func valueString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '{':
		var wrapped struct {
			Value json.RawMessage `json:"$value"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil {
			return valueString(wrapped.Value)
		}
		return ""
	}
	return string(raw)
}
