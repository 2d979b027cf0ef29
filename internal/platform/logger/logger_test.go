package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Info, Format: FormatText, App: "member-tenure", Output: &buf})
	l.(*StdLogger).now = fixedNow

	l.Info("member processed", map[string]any{"member_id": "33276", "outcome": "created"})

	line := strings.TrimSpace(buf.String())
	assert.Equal(t, `ts=2024-06-01T00:00:00Z level=info msg="member processed" app=member-tenure member_id=33276 outcome=created`, line)
}

func TestLogger_TextFormat_QuotesAndNormalizes(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Info, Output: &buf})
	l.(*StdLogger).now = fixedNow

	var nilTime *time.Time
	l.Error("task failed", map[string]any{
		"error":      errors.New("crm unavailable"),
		"since":      time.Date(2023, 1, 10, 8, 0, 0, 0, time.FixedZone("x", 3600)),
		"elapsed":    1500 * time.Millisecond,
		"stopped_at": nilTime,
	})

	line := strings.TrimSpace(buf.String())
	assert.Equal(t, `ts=2024-06-01T00:00:00Z level=error msg="task failed" elapsed=1.5s error="crm unavailable" since=2023-01-10T07:00:00Z`, line)
}

func TestLogger_JSONFormat_WithMergesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Debug, Format: FormatJSON, Output: &buf}).
		With(map[string]any{"task": "consec", "": "ignored"})

	l.Warn("ambiguous change log entry", map[string]any{"changes": 2})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "ambiguous change log entry", entry["msg"])
	assert.Equal(t, "consec", entry["task"])
	assert.EqualValues(t, 2, entry["changes"])
	assert.NotContains(t, entry, "")
}

func TestLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Options{Level: Info, Format: FormatJSON, Output: &buf})
	_ = parent.With(map[string]any{"member_id": "1"})

	parent.Info("plain", nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "member_id")
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Warn, Output: &buf})

	l.Info("hidden", nil)
	l.Debug("hidden", nil)
	assert.Empty(t, buf.String())

	l.Error("shown", Err(assert.AnError))
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "err=")

	buf.Reset()
	Nop().Error("dropped", nil)
	assert.Empty(t, buf.String())
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel(" DEBUG "))
	assert.Equal(t, Warn, ParseLevel("warning"))
	assert.Equal(t, Error, ParseLevel("error"))
	assert.Equal(t, Info, ParseLevel("nope"))
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat(""))
}
