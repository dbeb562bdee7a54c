package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport/transporttest"
)

// podsModel asks for the pods of the namespace named in the last user
// message, then answers with the tool result it got back.
type podsModel struct {
	mu    sync.Mutex
	calls int
}

func (m *podsModel) Complete(_ context.Context, history []conversation.Message, _ []registry.ProcedureDescriptor) (*conversation.Completion, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	last := history[len(history)-1]
	switch {
	case last.Role == conversation.RoleUser && strings.HasPrefix(last.Content, "fail"):
		return nil, errors.New("upstream model unavailable")
	case last.Role == conversation.RoleUser:
		return &conversation.Completion{ToolCalls: []conversation.ToolCall{{
			ID:        "call_1",
			Name:      "list_pods_in_namespace",
			Arguments: map[string]any{"namespace": last.Content},
		}}}, nil
	default:
		return &conversation.Completion{Text: "pods: " + last.Content}, nil
	}
}

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	srv := transporttest.NewKubernetesServer("test")
	model := &podsModel{}

	store := session.NewStore(func(ctx context.Context, id string) (*session.Session, error) {
		sess := session.New(id, model,
			session.WithTransportOptions(transport.WithClientFactory(transporttest.InProcessFactory(srv))))
		err := sess.RegisterTransport(ctx, transport.Descriptor{ID: "k8s", Kind: transport.KindHTTP, URL: "inprocess://k8s"})
		if err != nil {
			_ = sess.Shutdown()
			return nil, err
		}
		return sess, nil
	})
	t.Cleanup(func() { _ = store.Close() })

	s, err := New(store, WithVersion("1.2.3"))
	require.NoError(t, err)
	return s, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createSession(t *testing.T, h http.Handler) SessionResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SessionResponse](t, rec)
}

func TestAPI_SessionLifecycle(t *testing.T) {
	s, store := newTestServer(t)
	h := s.Handler()

	created := createSession(t, h)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.HistoryLength)
	assert.Equal(t, []string{registry.DefaultContext}, created.Contexts)
	require.Len(t, created.Transports, 1)
	assert.True(t, created.Transports[0].Alive)

	rec := do(t, h, http.MethodPost, "/v1/sessions/"+created.ID+"/turns", `{"text":"payments"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[TurnResponse](t, rec)
	assert.Contains(t, turn.Text, "CrashLoopBackOff")
	assert.Equal(t, 5, turn.HistoryLength)
	assert.Empty(t, turn.Error)

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+created.ID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[map[string][]conversation.Message](t, rec)["messages"]
	require.Len(t, history, 5)
	assert.Equal(t, conversation.RoleTool, history[3].Role)

	rec = do(t, h, http.MethodPost, "/v1/sessions/"+created.ID+"/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/sessions/"+created.ID, "")
	assert.Equal(t, 1, decode[SessionResponse](t, rec).HistoryLength)

	rec = do(t, h, http.MethodGet, "/v1/sessions", "")
	assert.Equal(t, []string{created.ID}, decode[map[string][]string](t, rec)["sessions"])

	rec = do(t, h, http.MethodDelete, "/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, store.Len())

	rec = do(t, h, http.MethodDelete, "/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_FailedTurnIs422AndKeepsHistory(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	created := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/v1/sessions/"+created.ID+"/turns", `{"text":"fail please"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	turn := decode[TurnResponse](t, rec)
	assert.Contains(t, turn.Error, "upstream model unavailable")
	assert.Equal(t, 1, turn.HistoryLength)
}

func TestAPI_TurnErrors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	created := createSession(t, h)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{name: "unknown session", path: "/v1/sessions/nope/turns", body: `{"text":"x"}`, wantStatus: http.StatusNotFound},
		{name: "malformed body", path: "/v1/sessions/" + created.ID + "/turns", body: `{"text":`, wantStatus: http.StatusBadRequest},
		{name: "empty text", path: "/v1/sessions/" + created.ID + "/turns", body: `{"text":"  "}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAPI_SessionsAreIndependent(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	a := createSession(t, h)
	b := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/v1/sessions/"+a.ID+"/turns", `{"text":"default"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+b.ID, "")
	assert.Equal(t, 1, decode[SessionResponse](t, rec).HistoryLength)
}

func TestAPI_CreateAfterClose(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Close())

	rec := do(t, s.Handler(), http.MethodPost, "/v1/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_CancelIdleSession(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	created := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/v1/sessions/"+created.ID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_SecurityHeadersAndBodyLimit(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	created := createSession(t, h)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	big := `{"text":"` + strings.Repeat("a", DefaultMaxRequestBytes) + `"}`
	rec = do(t, h, http.MethodPost, "/v1/sessions/"+created.ID+"/turns", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_UnreadableBodyIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	created := createSession(t, h)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+created.ID+"/turns", iotest.ErrReader(errors.New("connection reset by peer")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection reset by peer")
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(session.NewStore(nil), WithLogger(nil))
	assert.Error(t, err)
}
