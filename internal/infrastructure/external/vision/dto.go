// Package vision implements the vision-language model client.
// This package handles all communication with the OpenAI-compatible
// scoring API: it submits a captured frame with the classroom's current
// task and returns a structured relevance verdict.
package vision

import (
	"fmt"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeRequest describes a single frame to score.
type AnalyzeRequest struct {
	// SessionID identifies the monitored session (for logging only).
	SessionID string

	// Image is the raw encoded frame.
	Image []byte

	// MIMEType of the image data ("image/png", "image/jpeg").
	// Defaults to "image/png" when empty.
	MIMEType string

	// TaskContext describes what the class is currently working on.
	// Empty means no assignment is known; the prompt degrades gracefully.
	TaskContext string
}

// Validate checks the request before any network round trip.
func (r AnalyzeRequest) Validate() error {
	if len(r.Image) == 0 {
		return fmt.Errorf("%w: empty image", ErrBadRequest)
	}
	return nil
}

// Analysis is the model's verdict on a single frame.
type Analysis struct {
	// RawScore is the per-frame relevance score, already clamped to [0,5].
	RawScore tracking.RawScore

	// Description is one or two sentences about what is on screen.
	Description string

	// ShortDescription is a few-word summary for compact views.
	ShortDescription string

	// Suggestion is the model's own per-frame label, stored verbatim.
	// Classification never uses it; the accumulated score decides.
	Suggestion string

	// Model that produced the verdict.
	Model string

	// Latency of the full round trip.
	Latency time.Duration
}

// verdictDTO is the wire shape the model is asked to produce.
type verdictDTO struct {
	Score            int    `json:"score"`
	Description      string `json:"description"`
	ShortDescription string `json:"short_description"`
	Suggestion       string `json:"suggestion"`
}
