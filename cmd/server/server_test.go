package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/export"
	"github.com/airframesio/epias-extractor/cmd/sinks"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// upstream fakes the identity and generation endpoints.
type upstream struct {
	server   *httptest.Server
	failData atomic.Bool
	fetches  atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/cas/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, "bad credentials")
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "TGT-1234567890-abcdefghijklmnop")
	})
	mux.HandleFunc("/data/injection-quantity", func(w http.ResponseWriter, r *http.Request) {
		u.fetches.Add(1)
		var req epias.DataRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if u.failData.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
			return
		}
		day := req.StartDate[:10]
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[`+
			`{"date":"`+day+`T00:00:00+03:00","naturalGas":60,"total":100},`+
			`{"date":"`+day+`T01:00:00+03:00","naturalGas":80,"total":120}],`+
			`"page":{"number":1,"size":500,"total":2}}`)
	})
	mux.HandleFunc("/data/injection-quantity-powerplant-list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items":[{"id":641,"name":"ATATÜRK HES"}]}`)
	})
	mux.HandleFunc("/data/uevcb-list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items":[{"id":733,"name":"ATATÜRK HES UEVCB"}]}`)
	})
	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

type recordingSink struct {
	mu      sync.Mutex
	batches []*sinks.Batch
}

func (r *recordingSink) Name() string { return "memory" }

func (r *recordingSink) Publish(_ context.Context, batch *sinks.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingSink) Close() error { return nil }

type harness struct {
	t        *testing.T
	server   *Server
	upstream *upstream
	sink     *recordingSink
}

func newHarness(t *testing.T, withSink bool) *harness {
	t.Helper()
	up := newUpstream(t)
	h := &harness{t: t, upstream: up, sink: &recordingSink{}}

	cfg := Config{
		Secret: []byte("test-secret"),
		ClientOptions: []epias.Option{
			epias.WithAuthURL(up.server.URL + "/cas/v1/tickets"),
			epias.WithBaseURL(up.server.URL),
		},
		CoordinatorOptions: []coordinator.Option{coordinator.WithPacing(0, 0)},
		Version:            "test",
		Logger:             newTestLogger(),
	}
	if withSink {
		cfg.Sinks = sinks.NewFanout(newTestLogger(), h.sink)
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	h.server = srv
	return h
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func (h *harness) login() (string, string) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/auth", "", map[string]string{"username": "analyst", "password": "secret"})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(h.t, rec)
	return body["token"].(string), body["session_id"].(string)
}

func (h *harness) startJob(token string, payload map[string]interface{}) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/jobs", token, payload)
	require.Equal(h.t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode(h.t, rec)["job_id"].(string)
}

func (h *harness) wait(sessionID, jobID string) coordinator.Status {
	h.t.Helper()
	session, ok := h.server.sessions.Peek(sessionID)
	require.True(h.t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := session.Coordinator.Wait(ctx, jobID)
	require.NoError(h.t, err)
	return status
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrSecretRequired)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["active_sessions"])
	assert.Equal(t, "test", body["version"])
}

func TestAuthRejectedCreatesNoSession(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(http.MethodPost, "/api/auth", "", map[string]string{"username": "analyst", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["upstream_status"])
	assert.Zero(t, h.server.SessionCount())

	rec = h.do(http.MethodPost, "/api/auth", "", map[string]string{"username": "analyst"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, false)
	token, sessionID := h.login()
	assert.Equal(t, 1, h.server.SessionCount())

	rec := h.do(http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, sessionID, body["session_id"])
	assert.Equal(t, "analyst", body["username"])
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "TGT-1234567890-abcde...", body["ticket_preview"])

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/session", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/session", "not-a-jwt", nil).Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/logout", token, nil).Code)
	assert.Zero(t, h.server.SessionCount())
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/session", token, nil).Code)
}

func TestPlantLookups(t *testing.T) {
	h := newHarness(t, false)
	token, _ := h.login()

	rec := h.do(http.MethodGet, "/api/plants", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])

	rec = h.do(http.MethodGet, "/api/plants/195/uevcb", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/plants/abc/uevcb", token, nil).Code)
}

func TestJobValidation(t *testing.T) {
	h := newHarness(t, false)
	token, _ := h.login()

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{name: "missing dates", payload: map[string]interface{}{"start_date": "2025-05-01"}},
		{name: "bad date", payload: map[string]interface{}{"start_date": "01.05.2025", "end_date": "2025-05-02"}},
		{name: "reversed", payload: map[string]interface{}{"start_date": "2025-05-10", "end_date": "2025-05-01"}},
		{name: "chunk too large", payload: map[string]interface{}{"start_date": "2025-05-01", "end_date": "2025-05-02", "chunk_days": 91}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/jobs", token, tt.payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, h.upstream.fetches.Load())

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/jobs/missing", token, nil).Code)
}

func TestJobRunExportAndPublish(t *testing.T) {
	h := newHarness(t, true)
	token, sessionID := h.login()

	jobID := h.startJob(token, map[string]interface{}{
		"start_date": "2025-05-01",
		"end_date":   "2025-05-03",
		"chunk_days": 1,
	})
	status := h.wait(sessionID, jobID)
	require.Equal(t, coordinator.StateComplete, status.State)
	assert.Equal(t, 2, status.TotalChunks)

	rec := h.do(http.MethodGet, "/api/jobs/"+jobID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "complete", decode(t, rec)["state"])

	rec = h.do(http.MethodGet, "/api/jobs/"+jobID+"/result", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode(t, rec)
	assert.Equal(t, float64(4), result["count"])
	records := result["records"].([]interface{})
	require.Len(t, records, 4)
	assert.Equal(t, "2025-05-01T00:00:00+03:00", records[0].(map[string]interface{})["date"])
	assert.Equal(t, "2025-05-02T01:00:00+03:00", records[3].(map[string]interface{})["date"])

	rec = h.do(http.MethodGet, "/api/jobs/"+jobID+"/export?include_plants=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workbookContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "epias_generation_")

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{export.SheetData, export.SheetPlants, export.SheetSummary, export.SheetDaily}, book.GetSheetList())
	require.NoError(t, book.Close())

	rec = h.do(http.MethodPost, "/api/jobs/"+jobID+"/publish", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	h.sink.mu.Lock()
	require.Len(t, h.sink.batches, 1)
	assert.Equal(t, "20250501-20250503-all", h.sink.batches[0].Key)
	assert.Len(t, h.sink.batches[0].Records, 4)
	assert.NotEmpty(t, h.sink.batches[0].Workbook)
	h.sink.mu.Unlock()

	// Same request again reuses the finished job.
	again := h.startJob(token, map[string]interface{}{"start_date": "2025-05-01", "end_date": "2025-05-03", "chunk_days": 1})
	assert.Equal(t, jobID, again)
	assert.Equal(t, int32(2), h.upstream.fetches.Load())
}

func TestStalledJobAndResume(t *testing.T) {
	h := newHarness(t, false)
	token, sessionID := h.login()

	h.upstream.failData.Store(true)
	jobID := h.startJob(token, map[string]interface{}{"start_date": "2025-05-01", "end_date": "2025-05-02"})
	status := h.wait(sessionID, jobID)
	require.Equal(t, coordinator.StateStalled, status.State)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodGet, "/api/jobs/"+jobID+"/result", token, nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodGet, "/api/jobs/"+jobID+"/export", token, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodPost, "/api/jobs/"+jobID+"/publish", token, nil).Code)

	h.upstream.failData.Store(false)
	rec := h.do(http.MethodPost, "/api/jobs/"+jobID+"/resume", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	status = h.wait(sessionID, jobID)
	assert.Equal(t, coordinator.StateComplete, status.State)
	assert.Equal(t, 2, status.RecordCount)
}

func TestJobEventsStream(t *testing.T) {
	h := newHarness(t, false)
	token, sessionID := h.login()
	jobID := h.startJob(token, map[string]interface{}{"start_date": "2025-05-01", "end_date": "2025-05-02"})
	h.wait(sessionID, jobID)

	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + jobID + "/events?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var msg struct {
		Type string            `json:"type"`
		Data coordinator.Status `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, coordinator.StateComplete, msg.Data.State)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream closes after a finished job: %v", err)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &epias.AuthError{Status: 401}, want: http.StatusUnauthorized},
		{err: &epias.FetchError{Op: "fetch", Status: 502}, want: http.StatusBadGateway},
		{err: coordinator.ErrJobNotComplete, want: http.StatusConflict},
		{err: coordinator.ErrJobNotFound, want: http.StatusNotFound},
		{err: export.ErrNoRecords, want: http.StatusUnprocessableEntity},
		{err: sinks.ErrNoSinks, want: http.StatusServiceUnavailable},
		{err: io.EOF, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
