package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

type fakeHearing struct {
	mu       sync.Mutex
	beginErr error
	sendErr  error
	begun    int
	closed   int
	sent     []sequencer.Message
	snap     hearing.Snapshot
}

func (f *fakeHearing) BeginHearing(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun++
	if f.beginErr == nil {
		f.snap.State = hearing.Connected
	}
	return f.beginErr
}

func (f *fakeHearing) SendMessage(ctx context.Context, role sequencer.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sequencer.Message{Role: role, Content: content})
	f.snap.Transcript = sequencer.Merge(f.snap.Transcript, sequencer.Message{
		Role: role, Content: content, Sequence: sequencer.NextSequence(f.snap.Transcript), Pending: true,
	})
	return nil
}

func (f *fakeHearing) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.snap.State = hearing.Disconnected
}

func (f *fakeHearing) Snapshot() hearing.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func newFakeHearing() *fakeHearing {
	return &fakeHearing{snap: hearing.Snapshot{
		CaseID:    "case-1",
		HearingID: "hearing-1",
		Status:    "Idle",
		Transcript: sequencer.Transcript{
			{Role: sequencer.RoleJudge, Content: "Please state your case.", Sequence: 1},
		},
	}}
}

func serve(srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body map[string]errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body["error"]
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(8760, "", newFakeHearing(), nil)

	w := serve(srv, "GET", "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(8760, "", newFakeHearing(), nil)

	w := serve(srv, "GET", "/api/v1/gavel/status", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agent":"gavel","case_id":"case-1","state":"disconnected","concluded":false,"messages":1}`, w.Body.String())

	srv.SetBrokerHealth(func() bool { return true })
	w = serve(srv, "GET", "/api/v1/gavel/status", "", nil)
	assert.Contains(t, w.Body.String(), `"nats_connected":true`)
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := NewServer(8760, "", newFakeHearing(), nil)

	w := serve(srv, "GET", "/nonexistent", "", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBeginAndSend(t *testing.T) {
	h := newFakeHearing()
	srv := NewServer(8760, "", h, nil)

	w := serve(srv, "POST", "/api/v1/hearing", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap hearing.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, "case-1", snap.CaseID)
	assert.Equal(t, 1, h.begun)

	w = serve(srv, "POST", "/api/v1/hearing/messages", `{"role":"plaintiff","content":"He kept the deposit."}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var sent struct {
		Transcript sequencer.Transcript `json:"transcript"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sent))
	require.Len(t, sent.Transcript, 2)
	assert.True(t, sent.Transcript[1].Pending)

	w = serve(srv, "GET", "/api/v1/hearing/state", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state hearing.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&state))
	assert.Equal(t, hearing.Connected, state.State)
	assert.Equal(t, "Idle", state.Status)
	assert.False(t, state.Concluded)
	assert.Equal(t, "case-1", state.CaseID)
	assert.Equal(t, "hearing-1", state.HearingID)
	require.Len(t, state.Transcript, 2)
	assert.Equal(t, "He kept the deposit.", state.Transcript[1].Content)

	w = serve(srv, "GET", "/api/v1/hearing/transcript", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "He kept the deposit.")

	w = serve(srv, "DELETE", "/api/v1/hearing", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, h.closed)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{"no case", hearing.ErrNoCase, http.StatusConflict, "no_case", false},
		{"invalid role", hearing.ErrInvalidRole, http.StatusBadRequest, "invalid_role", false},
		{
			"backend status passes through",
			&transport.Error{Kind: transport.KindHTTP, Status: http.StatusNotFound, Code: "not_found", Message: "Case not found."},
			http.StatusNotFound, "not_found", false,
		},
		{
			"backend 5xx is retryable",
			&transport.Error{Kind: transport.KindHTTP, Status: http.StatusServiceUnavailable, Message: "Service Unavailable"},
			http.StatusServiceUnavailable, "http", true,
		},
		{"timeout", &transport.Error{Kind: transport.KindTimeout, Message: "request timed out"}, http.StatusGatewayTimeout, "timeout", true},
		{"network", &transport.Error{Kind: transport.KindNetwork, Message: "network request failed"}, http.StatusBadGateway, "network", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHearing()
			h.sendErr = tt.err
			srv := NewServer(8760, "", h, nil)

			w := serve(srv, "POST", "/api/v1/hearing/messages", `{"role":"defendant","content":"x"}`, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}

func TestSendMessage_InvalidJSON(t *testing.T) {
	srv := NewServer(8760, "", newFakeHearing(), nil)

	w := serve(srv, "POST", "/api/v1/hearing/messages", `{"role":`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Code)
}

func TestBearerAuth(t *testing.T) {
	h := newFakeHearing()
	srv := NewServer(8760, "s3cret", h, nil)

	w := serve(srv, "POST", "/api/v1/hearing", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(srv, "POST", "/api/v1/hearing", "", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, h.begun)

	w = serve(srv, "POST", "/api/v1/hearing", "", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(srv, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health stays open")
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("gavel_up 1\n"))
	})
	srv := NewServer(8760, "", newFakeHearing(), metrics)

	w := serve(srv, "GET", "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gavel_up 1\n", w.Body.String())
}
