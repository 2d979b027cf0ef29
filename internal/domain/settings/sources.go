package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"member-tenure/internal/ports/crm"

	"gopkg.in/yaml.v3"
)

// FileSource lee un YAML con la forma de Document.
type FileSource struct {
	Path string
}

func (f FileSource) Load(ctx context.Context) (Document, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Document{}, configErr("read settings file: %v", err)
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, configErr("parse settings file %s: %v", f.Path, err)
	}
	return doc, nil
}

// encodedKeys son los nombres de las claves en la codificación plana
// "A|B" / "inicio|fin,inicio|fin" / "id|fecha,id|fecha".
type encodedKeys struct {
	ConsecutiveTypes string
	NonMemberCode    string
	MaxDuration      string
	AllowLapseDates  string
	IgnoreExpiry     string
	SinceRecordType  string
	SinceProperty    string
}

// Claves de las propiedades del registro de settings en el CRM.
var crmKeys = encodedKeys{
	ConsecutiveTypes: "ConsecutiveTypes",
	NonMemberCode:    "NonMemberCode",
	MaxDuration:      "MaxDuration",
	AllowLapseDates:  "AllowLapseDates",
	IgnoreExpiry:     "IgnoreSingleExpiry",
	SinceRecordType:  "SinceBusinessObject",
	SinceProperty:    "SinceProperty",
}

// Variables de entorno del despliegue heredado.
var envKeys = encodedKeys{
	ConsecutiveTypes: "CONSECJOINMEMBERS",
	NonMemberCode:    "NONMEMBERCODE",
	MaxDuration:      "MAXDURATION",
	AllowLapseDates:  "ALLOWLAPSEDATES",
	IgnoreExpiry:     "IGNORESINGLEEXPIRY",
	SinceRecordType:  "SINCEBUSINESSOBJECT",
	SinceProperty:    "SINCEPROPERTY",
}

// decodeEncoded arma un Document desde valores planos. MaxDuration vacío
// vale 1 mes; el resto de la validación queda para Build.
func decodeEncoded(keys encodedKeys, get func(string) string) (Document, error) {
	doc := Document{
		ConsecutiveTypes: splitList(get(keys.ConsecutiveTypes), "|"),
		NonMemberCode:    strings.TrimSpace(get(keys.NonMemberCode)),
		MaxLapseMonths:   1,
		SinceRecord: SinceDoc{
			Type:     strings.TrimSpace(get(keys.SinceRecordType)),
			Property: strings.TrimSpace(get(keys.SinceProperty)),
		},
	}

	if raw := strings.TrimSpace(get(keys.MaxDuration)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Document{}, configErr("%s: %q is not a number of months", keys.MaxDuration, raw)
		}
		doc.MaxLapseMonths = n
	}

	for _, pair := range splitList(get(keys.AllowLapseDates), ",") {
		start, end, _ := strings.Cut(pair, "|")
		doc.GracePeriods = append(doc.GracePeriods, WindowDoc{Start: start, End: end})
	}

	for _, pair := range splitList(get(keys.IgnoreExpiry), ",") {
		id, date, _ := strings.Cut(pair, "|")
		doc.Exceptions = append(doc.Exceptions, ExceptionDoc{MemberID: id, Date: date})
	}

	return doc, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CRMSource lee los settings de un registro del CRM.
type CRMSource struct {
	Client     crm.Client
	RecordType string
}

func (c CRMSource) Load(ctx context.Context) (Document, error) {
	if strings.TrimSpace(c.RecordType) == "" {
		return Document{}, configErr("settings record type not set")
	}
	rec, err := c.Client.GetSettingsRecord(ctx, c.RecordType)
	if errors.Is(err, crm.ErrNotFound) {
		return Document{}, configErr("settings record %q not found", c.RecordType)
	}
	if err != nil {
		return Document{}, fmt.Errorf("load settings record %s: %w", c.RecordType, err)
	}
	return decodeEncoded(crmKeys, func(k string) string { return rec.Properties[k] })
}

// EnvSource lee las variables de entorno heredadas (CONSECJOINMEMBERS, ...).
type EnvSource struct {
	// Lookup por defecto es os.Getenv.
	Lookup func(string) string
}

func (e EnvSource) Load(ctx context.Context) (Document, error) {
	get := e.Lookup
	if get == nil {
		get = os.Getenv
	}
	return decodeEncoded(envKeys, get)
}
