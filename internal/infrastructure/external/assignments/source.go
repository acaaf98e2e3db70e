// Package assignments implements clients for external assignment providers.
// The provider is whatever system the teacher uses to tell the class what
// to work on: a dashboard, an LMS, or in the simplest case an env variable.
package assignments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/pkg/circuitbreaker"
	"github.com/classlens/classlens-monitor/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// HTTP SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// HTTPSourceConfig contains configuration for the HTTP assignment source.
type HTTPSourceConfig struct {
	// BaseURL of the assignment provider API.
	BaseURL string

	// APIKey sent as a bearer token, if the provider requires one.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultHTTPSourceConfig returns sensible defaults.
func DefaultHTTPSourceConfig(baseURL string) HTTPSourceConfig {
	return HTTPSourceConfig{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// assignmentDTO is the provider's wire format for one assignment.
type assignmentDTO struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
}

// HTTPSource fetches the current assignment per classroom from an HTTP
// provider. Implements assignment.Source.
type HTTPSource struct {
	config         HTTPSourceConfig
	httpClient     *http.Client
	logger         *slog.Logger
	retrier        *retry.Retrier
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewHTTPSource creates a new HTTPSource.
func NewHTTPSource(config HTTPSourceConfig) (*HTTPSource, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, errors.New("assignments: base URL is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	logger := config.Logger

	return &HTTPSource{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		retrier:    retry.AssignmentSourceRetrier(),
		circuitBreaker: circuitbreaker.AssignmentSourceBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("assignment source circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}),
	}, nil
}

// Fetch returns the current assignment for a classroom.
// A provider 404 means the classroom has nothing scheduled and maps to
// shared.ErrAssignmentNotFound.
func (s *HTTPSource) Fetch(ctx context.Context, classroom tracking.ClassroomID) (*assignment.Assignment, error) {
	if !classroom.IsValid() {
		return nil, tracking.ErrInvalidClassroomID
	}

	var dto assignmentDTO

	err := s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, func(ctx context.Context) error {
			return s.fetchOnce(ctx, classroom, &dto)
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrAssignmentNotFound) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("assignments: fetch %s: %w", classroom.String(), err)
	}

	return s.toDomain(classroom, dto)
}

// fetchOnce performs a single request against the provider.
func (s *HTTPSource) fetchOnce(ctx context.Context, classroom tracking.ClassroomID, dto *assignmentDTO) error {
	fullURL := fmt.Sprintf("%s/classrooms/%s/assignment",
		strings.TrimRight(s.config.BaseURL, "/"),
		url.PathEscape(classroom.String()),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(shared.ErrAssignmentNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable(fmt.Errorf("%w: assignment provider", shared.ErrRateLimited))
	case resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("provider error: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("provider rejected request: status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, dto); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal assignment: %w", err))
	}

	return nil
}

// toDomain converts the wire format into a domain assignment.
func (s *HTTPSource) toDomain(classroom tracking.ClassroomID, dto assignmentDTO) (*assignment.Assignment, error) {
	a, err := assignment.NewAssignment(classroom, dto.Title, dto.Description)
	if err != nil {
		return nil, fmt.Errorf("assignments: invalid assignment for %s: %w", classroom.String(), err)
	}

	if t, err := time.Parse(time.RFC3339, dto.StartsAt); err == nil {
		a.StartsAt = t
	}
	if t, err := time.Parse(time.RFC3339, dto.EndsAt); err == nil {
		a.EndsAt = t
	}

	return a, nil
}

// IsHealthy checks if the provider is reachable.
func (s *HTTPSource) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(s.config.BaseURL, "/")+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

// ══════════════════════════════════════════════════════════════════════════════
// STATIC SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// StaticSource serves a fixed assignment per classroom. Useful for
// development and for deployments where the task is set once by hand.
type StaticSource struct {
	mu          sync.RWMutex
	assignments map[tracking.ClassroomID]*assignment.Assignment
}

// NewStaticSource creates a new StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		assignments: make(map[tracking.ClassroomID]*assignment.Assignment),
	}
}

// SetTask sets the assignment for a classroom.
func (s *StaticSource) SetTask(classroom tracking.ClassroomID, title, description string) error {
	a, err := assignment.NewAssignment(classroom, title, description)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.assignments[classroom] = a
	s.mu.Unlock()
	return nil
}

// Fetch returns the fixed assignment for a classroom.
func (s *StaticSource) Fetch(ctx context.Context, classroom tracking.ClassroomID) (*assignment.Assignment, error) {
	s.mu.RLock()
	a, ok := s.assignments[classroom]
	s.mu.RUnlock()

	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	return a, nil
}
