package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()

	m.TaskEnqueued("consec")
	m.TaskEnqueued("consec")
	m.TaskProcessed("consec", "ok", 0.2)
	m.Reconciled("created")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksEnqueued.WithLabelValues("consec")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksProcessed.WithLabelValues("consec", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("created")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "member_tenure_tasks_enqueued_total")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.TaskEnqueued("x")
	m.TaskProcessed("x", "ok", 1)
	m.Reconciled("updated")
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
