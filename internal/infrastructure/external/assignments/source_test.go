package assignments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *HTTPSource {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	source, err := NewHTTPSource(HTTPSourceConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return source
}

func TestHTTPSource_Fetch(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classrooms/7B/assignment", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"title": "Photosynthesis essay",
			"description": "Write 500 words on light-dependent reactions",
			"starts_at": "2026-08-30T08:00:00Z"
		}`))
	})

	a, err := source.Fetch(context.Background(), "7B")
	require.NoError(t, err)

	assert.Equal(t, "Photosynthesis essay", a.Title)
	assert.Contains(t, a.PromptContext(), "light-dependent")
	assert.Equal(t, 2026, a.StartsAt.Year())
}

func TestHTTPSource_NothingScheduled(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := source.Fetch(context.Background(), "7B")
	assert.ErrorIs(t, err, shared.ErrAssignmentNotFound)
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"title": "Fractions worksheet"}`))
	})

	a, err := source.Fetch(context.Background(), "7B")
	require.NoError(t, err)
	assert.Equal(t, "Fractions worksheet", a.Title)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := source.Fetch(context.Background(), "7B")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPSource(HTTPSourceConfig{})
	assert.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	source := NewStaticSource()
	require.NoError(t, source.SetTask("7B", "Reading", "Chapter 4"))

	a, err := source.Fetch(context.Background(), "7B")
	require.NoError(t, err)
	assert.Equal(t, "Reading: Chapter 4", a.PromptContext())

	_, err = source.Fetch(context.Background(), "8A")
	assert.ErrorIs(t, err, shared.ErrAssignmentNotFound)
}
