package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/classlens/classlens-monitor/internal/application/query"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type stubSessionRepo struct {
	sessions map[tracking.SessionID]*tracking.Session
}

func (r *stubSessionRepo) Upsert(ctx context.Context, s *tracking.Session) error { return nil }

func (r *stubSessionRepo) GetByID(ctx context.Context, id tracking.SessionID) (*tracking.Session, error) {
	if s, ok := r.sessions[id]; ok {
		return s.Clone(), nil
	}
	return nil, tracking.ErrSessionNotFound
}

func (r *stubSessionRepo) GetByClassroom(ctx context.Context, classroom tracking.ClassroomID, opts tracking.ListOptions) ([]*tracking.Session, error) {
	var out []*tracking.Session
	for _, s := range r.sessions {
		if s.Classroom == classroom {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (r *stubSessionRepo) ListActive(ctx context.Context) ([]*tracking.Session, error) {
	return nil, nil
}

func (r *stubSessionRepo) SetActive(ctx context.Context, id tracking.SessionID, active bool) error {
	return nil
}

type stubHealthChecker struct {
	name string
	err  error
}

func (c stubHealthChecker) Name() string                    { return c.name }
func (c stubHealthChecker) Check(ctx context.Context) error { return c.err }

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, deps Dependencies) *httptest.Server {
	t.Helper()

	config := DefaultConfig()
	config.RateLimitPerMinute = 0

	s := NewServer(config, deps)
	server := httptest.NewServer(s.buildMiddlewareChain(s.router))
	t.Cleanup(server.Close)
	return server
}

func seededRepo(t *testing.T) *stubSessionRepo {
	t.Helper()

	session, err := tracking.NewSession(tracking.NewSessionParams{
		ID:          "student-7",
		Classroom:   "7B",
		DisplayName: "Aidos",
	})
	require.NoError(t, err)
	session.Record(tracking.Observation{
		RawScore:    1,
		Description: "browsing a game store",
	})

	return &stubSessionRepo{
		sessions: map[tracking.SessionID]*tracking.Session{session.ID: session},
	}
}

func decodeResponse(t *testing.T, resp *http.Response) JSONResponse {
	t.Helper()
	defer resp.Body.Close()

	var body JSONResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestGetSession(t *testing.T) {
	repo := seededRepo(t)
	server := newTestServer(t, Dependencies{
		GetSessionStatusHandler: query.NewGetSessionStatusHandler(repo, nil, nil),
	})

	resp, err := http.Get(server.URL + "/api/v1/sessions/student-7")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	assert.True(t, body.Success)

	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "student-7", data["session_id"])
	assert.Equal(t, float64(9), data["focus_score"])
	assert.Equal(t, "on-task", data["suggestion"])
}

func TestGetSession_NotFound(t *testing.T) {
	server := newTestServer(t, Dependencies{
		GetSessionStatusHandler: query.NewGetSessionStatusHandler(&stubSessionRepo{}, nil, nil),
	})

	resp, err := http.Get(server.URL + "/api/v1/sessions/nobody")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeResponse(t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, "session_not_found", body.Error.Code)
}

func TestGetClassroomOverview(t *testing.T) {
	repo := seededRepo(t)
	server := newTestServer(t, Dependencies{
		GetClassroomOverviewHandler: query.NewGetClassroomOverviewHandler(repo, nil, nil, 0),
	})

	resp, err := http.Get(server.URL + "/api/v1/classrooms/7B/overview?include_inactive=true")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	require.True(t, body.Success)

	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "7B", data["classroom"])

	sessions, ok := data["sessions"].([]any)
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, Dependencies{
		HealthCheckers: []HealthChecker{
			stubHealthChecker{name: "postgres"},
			stubHealthChecker{name: "redis"},
		},
	})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth_DegradedDependency(t *testing.T) {
	server := newTestServer(t, Dependencies{
		HealthCheckers: []HealthChecker{
			stubHealthChecker{name: "postgres"},
			stubHealthChecker{name: "redis", err: errors.New("connection refused")},
		},
	})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequestIDPropagated(t *testing.T) {
	server := newTestServer(t, Dependencies{})

	req, err := http.NewRequest(http.MethodGet, server.URL+"/live", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-42", resp.Header.Get("X-Request-ID"))
}
