package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"member-tenure/internal/adapters/crm/imis"
	memcrm "member-tenure/internal/adapters/crm/memory"
	memqueue "member-tenure/internal/adapters/queue/memory"
	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/platform/config"
	"member-tenure/internal/platform/httpclient"
	"member-tenure/internal/platform/logger"
	"member-tenure/internal/ports/crm"
	"member-tenure/internal/ports/queue"
	"member-tenure/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsYAML = `
consecutive_types: [A, B]
non_member_code: NM
max_lapse_months: 1
since_record:
  type: ConsecutiveMember
  property: ConsecutiveSince
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func loadConfig(t *testing.T, settingsBody string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	settingsPath := writeFile(t, dir, "settings.yaml", settingsBody)
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
crm:
  backend: memory
worker:
  concurrency: 2
  max_attempts: 2
tenure:
  settings_source: file
  settings_file: %s
lapsed:
  query: $/Lapsed
`, settingsPath))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	return cfg
}

func seedCRM() *memcrm.CRM {
	c := memcrm.New()
	c.PutMember(crm.Member{ID: "33276", TypeCode: "A", JoinDate: "2023-01-10T00:00:00"})
	c.PutMember(crm.Member{ID: "40001", TypeCode: "B", JoinDate: "2020-03-01T00:00:00"})
	c.PutMember(crm.Member{ID: "50000", TypeCode: "L", JoinDate: "2019-05-05T00:00:00"})
	c.PutChangeLog("33276", crm.ChangeLogEntry{
		ChangeDate: "2023-01-10T08:00:00",
		Changes: []crm.PropertyChange{
			{PropertyName: tenure.DefaultMemberTypeProperty, OriginalValue: "NM", NewValue: "A"},
		},
	})
	c.PutQuery("$/Lapsed", "50000")
	c.DefineRecordType("ConsecutiveMember", "ID", "ConsecutiveSince")
	return c
}

func envelope(t *testing.T, task string, data any) queue.Envelope {
	t.Helper()
	e, err := queue.NewEnvelope(task, data)
	require.NoError(t, err)
	return e
}

func newTestApp(t *testing.T) (*App, *memcrm.CRM, *memqueue.Queue) {
	t.Helper()
	c := seedCRM()
	q := memqueue.New()
	a, err := New(context.Background(), loadConfig(t, settingsYAML), Options{
		Logger: logger.Nop(),
		CRM:    c,
		Queue:  q,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, c, q
}

func drain(t *testing.T, a *App, q *memqueue.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Pool().Run(ctx)
	}()
	require.Eventually(t, func() bool {
		pending, inflight := q.Len()
		return pending == 0 && inflight == 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestApp_DailyRunThenWorkers(t *testing.T) {
	a, c, q := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.DailyRun(ctx))
	pending, _ := q.Len()
	assert.Equal(t, 3, pending) // 1 convert + 2 consec

	drain(t, a, q)

	lapsedMember, err := c.GetMember(ctx, "50000")
	require.NoError(t, err)
	assert.Equal(t, "NM", lapsedMember.TypeCode)

	r, err := c.GetRecord(ctx, "ConsecutiveMember", "33276")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-10T00:00:00", r.Properties["ConsecutiveSince"])

	// sin historial: fallback a la join date
	r, err = c.GetRecord(ctx, "ConsecutiveMember", "40001")
	require.NoError(t, err)
	assert.Equal(t, "2020-03-01T00:00:00", r.Properties["ConsecutiveSince"])
}

func TestApp_DailyRunContinuesWhenLapsedFails(t *testing.T) {
	c := seedCRM()
	q := memqueue.New()
	cfg := loadConfig(t, settingsYAML)
	cfg.Lapsed.Query = "$/Missing"

	a, err := New(context.Background(), cfg, Options{Logger: logger.Nop(), CRM: c, Queue: q})
	require.NoError(t, err)

	require.NoError(t, a.DailyRun(context.Background()))
	pending, _ := q.Len()
	assert.Equal(t, 2, pending)
}

func TestApp_MalformedTaskIsDroppedNotRetried(t *testing.T) {
	a, c, q := newTestApp(t)

	require.NoError(t, q.Enqueue(context.Background(), envelope(t, tenure.TaskName, json.RawMessage(`{"id": [1]}`))))
	require.NoError(t, q.Enqueue(context.Background(), envelope(t, tenure.TaskName, map[string]any{"id": "99999"})))

	drain(t, a, q)

	creates, updates, memberUpdates := c.Writes()
	assert.Zero(t, creates+updates+memberUpdates)
}

func TestApp_BrokenSettingsReloadBlocksBatch(t *testing.T) {
	a, c, q := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, envelope(t, tenure.TaskName, map[string]any{"id": "33276"})))

	writeFile(t, filepath.Dir(a.Config.Tenure.SettingsFile), "settings.yaml", "consecutive_types: []\nmax_lapse_months: 1\n")
	assert.ErrorIs(t, a.Settings.Reload(ctx), tenure.ErrConfiguration)

	assert.ErrorIs(t, a.DailyRun(ctx), tenure.ErrConfiguration)
	pending, _ := q.Len()
	assert.Equal(t, 1, pending)

	// la tarea ya encolada se descarta sin escribir ni reintentar
	drain(t, a, q)
	creates, updates, memberUpdates := c.Writes()
	assert.Zero(t, creates+updates+memberUpdates)
}

func TestApp_CheckSettings(t *testing.T) {
	a, c, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.CheckSettings(ctx))

	c.DefineRecordType("ConsecutiveMember", "ID", "Other")
	assert.ErrorIs(t, a.CheckSettings(ctx), tenure.ErrConfiguration)
}

func TestApp_InvalidSettingsFailStartup(t *testing.T) {
	cfg := loadConfig(t, "consecutive_types: []\nmax_lapse_months: 1\n")
	_, err := New(context.Background(), cfg, Options{Logger: logger.Nop(), CRM: seedCRM(), Queue: memqueue.New()})
	assert.ErrorIs(t, err, tenure.ErrConfiguration)
}

func TestApp_WatchSettingsIsNoopForEnvSource(t *testing.T) {
	t.Setenv("CONSECJOINMEMBERS", "A|B")
	t.Setenv("MAXDURATION", "1")
	t.Setenv("SINCEBUSINESSOBJECT", "ConsecutiveMember")
	t.Setenv("SINCEPROPERTY", "ConsecutiveSince")

	cfg := loadConfig(t, settingsYAML)
	cfg.Tenure.SettingsSource = "env"

	a, err := New(context.Background(), cfg, Options{Logger: logger.Nop(), CRM: seedCRM(), Queue: memqueue.New()})
	require.NoError(t, err)

	st, err := a.Settings.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsConsecutive("B"))
	assert.NoError(t, a.WatchSettings(context.Background()))
}

func TestPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"config", fmt.Errorf("wrap: %w", tenure.ErrConfiguration), true},
		{"invalid input", tenure.ErrInvalidInput, true},
		{"timestamp", fmt.Errorf("history: %w", tenure.ErrMalformedTimestamp), true},
		{"member missing", fmt.Errorf("get member: %w", crm.ErrNotFound), true},
		{"json", json.Unmarshal([]byte(`{`), &struct{}{}), true},
		{"crm rejects payload", fmt.Errorf("update: %w", &httpclient.HTTPError{StatusCode: 400}), true},
		{"bad credentials", fmt.Errorf("token: %w", imis.ErrUnauthorized), true},
		{"crm throttled", &httpclient.HTTPError{StatusCode: 429}, false},
		{"crm down", &httpclient.HTTPError{StatusCode: 503}, false},
		{"transient", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errors.Is(permanent(tc.err), worker.ErrPermanent))
		})
	}
	assert.NoError(t, permanent(nil))
}
