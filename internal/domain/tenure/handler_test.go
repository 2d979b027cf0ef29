package tenure

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"member-tenure/internal/adapters/crm/memory"
	memqueue "member-tenure/internal/adapters/queue/memory"
	"member-tenure/internal/ports/crm"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T, c *memory.CRM) (http.Handler, *memqueue.Queue) {
	t.Helper()
	svc, _ := newTestService(t, c)
	q := memqueue.New()
	r := chi.NewRouter()
	RegisterRoutes(r, svc, q)
	return r, q
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rec.Code, rec.Body.String())
	}
}

func expectJSONBody(t *testing.T, rec *httptest.ResponseRecorder, want map[string]any) {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected body %v, got %v", want, got)
	}
}

func TestHandler_EnqueueMember(t *testing.T) {
	h, q := newTestRouter(t, memory.New())

	rec := doRequest(h, http.MethodPost, "/tenure/members", `{"member_id":"33276"}`)
	expectStatus(t, rec, http.StatusAccepted)
	expectJSONBody(t, rec, map[string]any{"status": "submitted", "member_id": "33276"})

	// nombre de campo heredado, con id numérico
	expectStatus(t, doRequest(h, http.MethodPost, "/tenure/members", `{"imisID":42}`), http.StatusAccepted)

	if pending, _ := q.Len(); pending != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", pending)
	}

	task := receiveTask(t, q)
	if task.ID != "33276" || task.OrigJoin != nil {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestHandler_EnqueueMember_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t, memory.New())

	for _, body := range []string{`{`, `{}`, `{"member_id":"  "}`} {
		expectStatus(t, doRequest(h, http.MethodPost, "/tenure/members", body), http.StatusBadRequest)
	}
}

func TestHandler_Dispatch(t *testing.T) {
	c := memory.New()
	c.PutMember(crm.Member{ID: "1", TypeCode: "A"})
	c.PutMember(crm.Member{ID: "2", TypeCode: "NM"})
	h, _ := newTestRouter(t, c)

	rec := doRequest(h, http.MethodPost, "/tenure/dispatch", "")
	expectStatus(t, rec, http.StatusAccepted)
	expectJSONBody(t, rec, map[string]any{"status": "dispatched", "enqueued": float64(1)})
}

func TestHandler_Preview(t *testing.T) {
	c := memory.New()
	seedScenario(c)
	h, _ := newTestRouter(t, c)

	rec := doRequest(h, http.MethodGet, "/tenure/members/33276/preview", "")
	expectStatus(t, rec, http.StatusOK)

	var out previewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if !out.Resolved || out.Since == nil || *out.Since != "2023-01-10T00:00:00" {
		t.Fatalf("unexpected preview: %+v", out)
	}
	if out.CorrectedJoinDate != nil {
		t.Fatalf("expected no corrected join date, got %v", *out.CorrectedJoinDate)
	}
	if out.JoinMarker == nil {
		t.Fatalf("expected join marker")
	}

	expectStatus(t, doRequest(h, http.MethodGet, "/tenure/members/404/preview", ""), http.StatusNotFound)
}

func TestHandler_Preview_MalformedHistory(t *testing.T) {
	c := memory.New()
	c.PutMember(crm.Member{ID: "9", TypeCode: "A"})
	c.PutChangeLog("9", entry("soon", memberType("NM", "A")))
	h, _ := newTestRouter(t, c)

	expectStatus(t, doRequest(h, http.MethodGet, "/tenure/members/9/preview", ""), http.StatusUnprocessableEntity)
}
