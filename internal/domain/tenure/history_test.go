package tenure

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"member-tenure/internal/platform/logger"
	"member-tenure/internal/ports/crm"
)

func entry(date string, changes ...crm.PropertyChange) crm.ChangeLogEntry {
	return crm.ChangeLogEntry{ChangeDate: date, Changes: changes}
}

func memberType(from, to string) crm.PropertyChange {
	return crm.PropertyChange{PropertyName: DefaultMemberTypeProperty, OriginalValue: from, NewValue: to}
}

func mustExtract(t *testing.T, entries []crm.ChangeLogEntry, property string, log logger.Logger, wantLen int) []ChangeEvent {
	t.Helper()
	got, err := ExtractHistory(entries, property, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != wantLen {
		t.Fatalf("expected %d events, got %d: %+v", wantLen, len(got), got)
	}
	return got
}

func TestExtractHistory_FiltersNormalizesAndSorts(t *testing.T) {
	entries := []crm.ChangeLogEntry{
		entry("2023-01-10T08:00:00", memberType("NM", "A")),
		entry("2024-06-01T10:11:12.345", memberType("NM - Merged", "A - Merged")),
		entry("2024-05-20T00:00:00", crm.PropertyChange{PropertyName: "Name.EMAIL", OriginalValue: "a@x", NewValue: "b@x"}),
		entry("2024-05-20T00:00:00", memberType("A", "NM")),
		entry("2022-01-01T00:00:00"),
	}

	got := mustExtract(t, entries, "", nil, 3)

	if want := time.Date(2024, 6, 1, 10, 11, 12, 345000000, time.UTC); !got[0].ChangedAt.Equal(want) {
		t.Fatalf("expected newest event at %s, got %s", want, got[0].ChangedAt)
	}
	if got[0].OriginalValue != "NM" || got[0].NewValue != "A" {
		t.Fatalf("expected merge suffix stripped (NM -> A), got %q -> %q", got[0].OriginalValue, got[0].NewValue)
	}
	if !got[1].ChangedAt.Equal(day("2024-05-20")) || got[1].NewValue != "NM" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}
	if got[2].NewValue != "A" || !got[2].ChangedAt.Before(got[1].ChangedAt) {
		t.Fatalf("unexpected oldest event: %+v", got[2])
	}
}

func TestExtractHistory_MultipleChangesUsesFirstAndWarns(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Level: logger.Debug, Output: &buf})

	entries := []crm.ChangeLogEntry{
		entry("2024-01-01T00:00:00",
			memberType("NM", "A"),
			crm.PropertyChange{PropertyName: "Name.STATUS", OriginalValue: "I", NewValue: "A"},
		),
		entry("2023-01-01T00:00:00",
			crm.PropertyChange{PropertyName: "Name.STATUS", OriginalValue: "A", NewValue: "I"},
			memberType("A", "NM"),
		),
	}

	got := mustExtract(t, entries, DefaultMemberTypeProperty, log, 1)
	if got[0].NewValue != "A" {
		t.Fatalf("expected NewValue=A, got %q", got[0].NewValue)
	}
	if !strings.Contains(buf.String(), "more than one change") {
		t.Fatalf("expected warning in log, got %q", buf.String())
	}
}

func TestExtractHistory_CustomProperty(t *testing.T) {
	entries := []crm.ChangeLogEntry{
		entry("2024-01-01T00:00:00", crm.PropertyChange{PropertyName: "Party.CustomerTypeCode", OriginalValue: "NM", NewValue: "A"}),
		entry("2023-01-01T00:00:00", memberType("NM", "A")),
	}

	got := mustExtract(t, entries, "Party.CustomerTypeCode", logger.Nop(), 1)
	if !got[0].ChangedAt.Equal(day("2024-01-01")) {
		t.Fatalf("expected event at 2024-01-01, got %s", got[0].ChangedAt)
	}
}

func TestExtractHistory_MalformedTimestamp(t *testing.T) {
	entries := []crm.ChangeLogEntry{
		entry("2024-01-01T00:00:00", memberType("NM", "A")),
		entry("01/02/2023", memberType("A", "NM")),
	}

	_, err := ExtractHistory(entries, "", logger.Nop())
	if !errors.Is(err, ErrMalformedTimestamp) {
		t.Fatalf("expected ErrMalformedTimestamp, got %v", err)
	}
}

func TestExtractHistory_StableForEqualTimestamps(t *testing.T) {
	entries := []crm.ChangeLogEntry{
		entry("2024-01-01T00:00:00", memberType("A", "B")),
		entry("2024-01-01T00:00:00", memberType("NM", "A")),
	}

	got := mustExtract(t, entries, "", logger.Nop(), 2)
	if got[0].NewValue != "B" || got[1].NewValue != "A" {
		t.Fatalf("expected input order kept for equal timestamps, got %q then %q", got[0].NewValue, got[1].NewValue)
	}
}

func TestParseTimestamp(t *testing.T) {
	ok := map[string]time.Time{
		"2024-06-01T10:11:12":         time.Date(2024, 6, 1, 10, 11, 12, 0, time.UTC),
		"2024-06-01T10:11:12.5":       time.Date(2024, 6, 1, 10, 11, 12, 500000000, time.UTC),
		" 2024-06-01T10:11:12.1234 ": time.Date(2024, 6, 1, 10, 11, 12, 123400000, time.UTC),
	}
	for in, want := range ok {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}

	for _, in := range []string{"", "2024-06-01", "2024-06-01T10:11:12Z", "2024/06/01 10:11:12", "garbage"} {
		if _, err := ParseTimestamp(in); !errors.Is(err, ErrMalformedTimestamp) {
			t.Fatalf("%q: expected ErrMalformedTimestamp, got %v", in, err)
		}
	}
}

func TestParseJoinDate(t *testing.T) {
	for _, in := range []string{"", "   ", "0001-01-01T00:00:00"} {
		got, err := ParseJoinDate(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if got != nil {
			t.Fatalf("%q: expected no join date, got %v", in, *got)
		}
	}

	got, err := ParseJoinDate("2015-03-01T00:00:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || !got.Equal(day("2015-03-01")) {
		t.Fatalf("expected 2015-03-01, got %v", got)
	}

	if _, err := ParseJoinDate("March 2015"); !errors.Is(err, ErrMalformedTimestamp) {
		t.Fatalf("expected ErrMalformedTimestamp, got %v", err)
	}
}

func TestFormatCRMDate(t *testing.T) {
	got := FormatCRMDate(time.Date(2023, 1, 10, 17, 4, 5, 0, time.UTC))
	if got != "2023-01-10T00:00:00" {
		t.Fatalf("expected 2023-01-10T00:00:00, got %q", got)
	}
}
