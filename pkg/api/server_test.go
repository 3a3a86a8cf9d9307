package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
)

type fakeCore struct {
	reports   []types.Report
	reportErr error
	answers   map[string]string
	status    Status
	queue     QueueSnapshot
}

func (f *fakeCore) HandleReport(_ context.Context, rep types.Report) error {
	f.reports = append(f.reports, rep)
	return f.reportErr
}

func (f *fakeCore) PendingAnswer(id string) (string, bool) {
	a, ok := f.answers[id]
	return a, ok
}

func (f *fakeCore) Status(context.Context) Status { return f.status }
func (f *fakeCore) Queue() QueueSnapshot          { return f.queue }

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestReportAccepted(t *testing.T) {
	core := &fakeCore{}
	srv := NewServer(core, 0)

	rec, out := doJSON(t, srv.Router(), http.MethodPost, "/minion/report",
		`{"minion_id":"minion-abc","event":"heartbeat"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	require.Len(t, core.reports, 1)
	assert.Equal(t, types.EventHeartbeat, core.reports[0].Event)
}

func TestReportValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"minion_id":`},
		{"missing minion id", `{"event":"heartbeat"}`},
		{"missing event", `{"minion_id":"minion-abc"}`},
		{"unknown event", `{"minion_id":"minion-abc","event":"celebrate"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeCore{}, 0)
			rec, out := doJSON(t, srv.Router(), http.MethodPost, "/minion/report", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, out["ok"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestReportUnknownMinion(t *testing.T) {
	core := &fakeCore{reportErr: storage.ErrNotFound}
	srv := NewServer(core, 0)

	rec, out := doJSON(t, srv.Router(), http.MethodPost, "/minion/report",
		`{"minion_id":"minion-gone","event":"progress","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestReportInternalError(t *testing.T) {
	core := &fakeCore{reportErr: errors.New("disk on fire")}
	srv := NewServer(core, 0)

	rec, out := doJSON(t, srv.Router(), http.MethodPost, "/minion/report",
		`{"minion_id":"minion-abc","event":"complete"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, out["ok"])
	// the failure cause stays in the logs, not the response
	assert.Equal(t, "internal error", out["error"])
}

func TestAnswerEndpoint(t *testing.T) {
	core := &fakeCore{answers: map[string]string{"minion-abc": "use postgres"}}
	srv := NewServer(core, 0)

	rec, out := doJSON(t, srv.Router(), http.MethodGet, "/minion/answer/minion-abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["answered"])
	assert.Equal(t, "use postgres", out["answer"])

	rec, out = doJSON(t, srv.Router(), http.MethodGet, "/minion/answer/minion-zzz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["answered"])
	assert.NotContains(t, out, "answer")
}

func TestStatusAndQueue(t *testing.T) {
	core := &fakeCore{
		status: Status{
			Paused:           true,
			RuntimeAvailable: true,
			MaxConcurrent:    3,
			Active:           []types.WorkerRecord{{ID: "minion-abc", Repo: "acme/api", IssueNumber: 7}},
			Containers:       []string{"minion-abc"},
			Questions:        []types.PendingQuestion{{MinionID: "minion-abc", Question: "which branch?"}},
			Config:           ConfigView{MaxConcurrent: 3, WatchedRepos: []string{"acme/api"}},
		},
		queue: QueueSnapshot{
			Paused:    true,
			ScannedAt: time.Now(),
			Items:     []types.QueueItem{{Repo: "acme/api", Number: 9, Title: "fix login"}},
		},
	}
	srv := NewServer(core, 0)

	rec, out := doJSON(t, srv.Router(), http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["paused"])
	assert.Len(t, out["active"], 1)
	assert.Len(t, out["containers"], 1)
	assert.Len(t, out["questions"], 1)
	cfg, ok := out["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), cfg["max_concurrent"])

	rec, out = doJSON(t, srv.Router(), http.MethodGet, "/queue", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["paused"])
	assert.Len(t, out["items"], 1)
}

func TestHealth(t *testing.T) {
	core := &fakeCore{
		status: Status{
			Paused:           true,
			RuntimeAvailable: true,
			Active:           []types.WorkerRecord{{ID: "minion-abc"}, {ID: "minion-def"}},
		},
	}
	srv := NewServer(core, 0)

	rec, out := doJSON(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(2), out["active_minions"])
	assert.Equal(t, true, out["paused"])
	assert.Equal(t, true, out["docker_available"])
}
