package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a client pointed at a stub API server with fast
// retry and an open rate limiter so tests do not sleep.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
		RateLimiterConfig: RateLimiterConfig{
			RequestsPerMinute: 6000,
			BurstSize:         100,
			WaitTimeout:       time.Second,
		},
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

// completionResponse builds a chat completion body with the given content.
func completionResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}
}

func validRequest() AnalyzeRequest {
	return AnalyzeRequest{
		SessionID:   "student-42",
		Image:       []byte("fake png bytes"),
		MIMEType:    "image/png",
		TaskContext: "Chapter 5 essay: The Water Cycle",
	}
}

func TestClient_Analyze_HappyPath(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(
			`{"score": 5, "description": "Student is writing an essay about the water cycle in a text editor.", "short_description": "writing essay", "suggestion": "on-task"}`,
		))
	}

	client := newTestClient(t, handler)
	analysis, err := client.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, tracking.RawScore(5), analysis.RawScore)
	assert.Equal(t, "Student is writing an essay about the water cycle in a text editor.", analysis.Description)
	assert.Equal(t, "writing essay", analysis.ShortDescription)
	assert.Equal(t, "on-task", analysis.Suggestion)
	assert.Equal(t, "gpt-4o-mini", analysis.Model)
}

func TestClient_Analyze_ClampsScoreAboveRange(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(
			`{"score": 9, "description": "On task.", "short_description": "working", "suggestion": "on-task"}`,
		))
	}

	client := newTestClient(t, handler)
	analysis, err := client.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, tracking.RawScore(5), analysis.RawScore)
}

func TestClient_Analyze_ClampsScoreBelowRange(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(
			`{"score": -3, "description": "Watching a video.", "short_description": "video", "suggestion": "needs-reminder"}`,
		))
	}

	client := newTestClient(t, handler)
	analysis, err := client.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, tracking.RawScore(0), analysis.RawScore)
}

func TestClient_Analyze_StripsMarkdownFences(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(
			"```json\n{\"score\": 3, \"description\": \"Cannot tell.\", \"short_description\": \"unclear\", \"suggestion\": \"sussy\"}\n```",
		))
	}

	client := newTestClient(t, handler)
	analysis, err := client.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, tracking.RawScore(3), analysis.RawScore)
	assert.Equal(t, "sussy", analysis.Suggestion)
}

func TestClient_Analyze_EmptyImageRejectedBeforeNetwork(t *testing.T) {
	var called atomic.Bool
	handler := func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}

	client := newTestClient(t, handler)
	req := validRequest()
	req.Image = nil

	_, err := client.Analyze(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.False(t, called.Load(), "no HTTP request should be made for an invalid request")
}

func TestClient_Analyze_InvalidJSONNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("definitely not json"))
	}

	client := newTestClient(t, handler)
	_, err := client.Analyze(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrVisionInvalidResponse)
	assert.Equal(t, int32(1), calls.Load(), "parse errors must not be retried")
}

func TestClient_Analyze_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"type": "server_error", "message": "internal"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(
			`{"score": 4, "description": "Reading the textbook chapter.", "short_description": "reading", "suggestion": "on-task"}`,
		))
	}

	client := newTestClient(t, handler)
	analysis, err := client.Analyze(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, tracking.RawScore(4), analysis.RawScore)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Analyze_RateLimitSurfaced(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "tokens",
				"message": "Rate limit exceeded",
				"code":    "rate_limit_exceeded",
			},
		})
	}

	client := newTestClient(t, handler)
	_, err := client.Analyze(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRateLimited)
}

func TestClient_Analyze_EmptyDescriptionRejected(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(
			`{"score": 3, "description": "   ", "short_description": "", "suggestion": "sussy"}`,
		))
	}

	client := newTestClient(t, handler)
	_, err := client.Analyze(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrVisionInvalidResponse)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(ClientConfig{Model: "gpt-4o-mini"})
	require.Error(t, err)
}

func TestRateLimiter_BurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         3,
		WaitTimeout:       10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.TryAllow(), "burst request %d should pass", i+1)
	}
	assert.False(t, rl.TryAllow(), "bucket should be empty after the burst")

	rl.Reset()
	assert.True(t, rl.TryAllow(), "reset should refill the bucket")
}

func TestRateLimiter_RecordRateLimitHitDrainsBucket(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         5,
		WaitTimeout:       10 * time.Millisecond,
	})

	rl.RecordRateLimitHit()
	assert.False(t, rl.TryAllow())

	err := rl.Allow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}
