// Package capture defines the screen frame acquisition boundary.
// The actual capture mechanics live outside this service; implementations
// here either shell out to an external grabber or serve a fixed frame.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// FRAME AND SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// Frame is one captured screen image.
type Frame struct {
	// SessionID the frame belongs to.
	SessionID tracking.SessionID

	// Data is the raw encoded image.
	Data []byte

	// MIMEType of the image data.
	MIMEType string

	// CapturedAt is when the frame was taken.
	CapturedAt time.Time
}

// Source produces frames for monitored sessions.
type Source interface {
	Capture(ctx context.Context, id tracking.SessionID) (*Frame, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND SOURCE - external capture utility
// ══════════════════════════════════════════════════════════════════════════════

// CommandSource runs an external capture utility per frame.
// The command receives the session id as its single argument and must
// write a PNG to stdout.
type CommandSource struct {
	command  string
	args     []string
	timeout  time.Duration
	maxBytes int64
}

// CommandSourceConfig configures a CommandSource.
type CommandSourceConfig struct {
	// Command line to run; the first token is the binary.
	Command string

	// Timeout per capture
	Timeout time.Duration

	// MaxImageBytes rejects oversized captures before they hit the API
	MaxImageBytes int64
}

// NewCommandSource creates a CommandSource from a command line string.
func NewCommandSource(config CommandSourceConfig) (*CommandSource, error) {
	fields := strings.Fields(config.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("capture: command cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = 8 << 20
	}

	return &CommandSource{
		command:  fields[0],
		args:     fields[1:],
		timeout:  config.Timeout,
		maxBytes: config.MaxImageBytes,
	}, nil
}

// Capture runs the configured command and returns its stdout as a frame.
func (s *CommandSource) Capture(ctx context.Context, id tracking.SessionID) (*Frame, error) {
	if !id.IsValid() {
		return nil, tracking.ErrInvalidSessionID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string{}, s.args...), id.String())
	cmd := exec.CommandContext(ctx, s.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: capture timed out after %s", shared.ErrCaptureFailed, s.timeout)
		}
		return nil, fmt.Errorf("%w: %v: %s", shared.ErrCaptureFailed, err, strings.TrimSpace(stderr.String()))
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: command produced no output", shared.ErrCaptureFailed)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: capture of %d bytes exceeds limit of %d", shared.ErrCaptureFailed, len(data), s.maxBytes)
	}

	return &Frame{
		SessionID:  id,
		Data:       data,
		MIMEType:   "image/png",
		CapturedAt: time.Now().UTC(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATIC SOURCE - fixed frame for tests and local development
// ══════════════════════════════════════════════════════════════════════════════

// StaticSource always returns the same frame data.
type StaticSource struct {
	data     []byte
	mimeType string
}

// NewStaticSource creates a StaticSource serving the given image.
func NewStaticSource(data []byte, mimeType string) *StaticSource {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &StaticSource{data: data, mimeType: mimeType}
}

// Capture returns the fixed frame stamped with the current time.
func (s *StaticSource) Capture(ctx context.Context, id tracking.SessionID) (*Frame, error) {
	if !id.IsValid() {
		return nil, tracking.ErrInvalidSessionID
	}
	if len(s.data) == 0 {
		return nil, fmt.Errorf("%w: static source has no data", shared.ErrCaptureFailed)
	}

	return &Frame{
		SessionID:  id,
		Data:       s.data,
		MIMEType:   s.mimeType,
		CapturedAt: time.Now().UTC(),
	}, nil
}
