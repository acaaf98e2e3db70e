package capture

import (
	"context"
	"testing"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource_ReturnsFixedFrame(t *testing.T) {
	src := NewStaticSource([]byte("png bytes"), "image/png")

	frame, err := src.Capture(context.Background(), tracking.SessionID("student-1"))
	require.NoError(t, err)

	assert.Equal(t, tracking.SessionID("student-1"), frame.SessionID)
	assert.Equal(t, []byte("png bytes"), frame.Data)
	assert.Equal(t, "image/png", frame.MIMEType)
	assert.WithinDuration(t, time.Now().UTC(), frame.CapturedAt, time.Second)
}

func TestStaticSource_DefaultsMIMEType(t *testing.T) {
	src := NewStaticSource([]byte("data"), "")

	frame, err := src.Capture(context.Background(), tracking.SessionID("s1"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", frame.MIMEType)
}

func TestStaticSource_EmptyDataFails(t *testing.T) {
	src := NewStaticSource(nil, "image/png")

	_, err := src.Capture(context.Background(), tracking.SessionID("s1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCaptureFailed)
}

func TestStaticSource_RejectsInvalidSessionID(t *testing.T) {
	src := NewStaticSource([]byte("data"), "image/png")

	_, err := src.Capture(context.Background(), tracking.SessionID(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, tracking.ErrInvalidSessionID)
}

func TestNewCommandSource_RejectsEmptyCommand(t *testing.T) {
	_, err := NewCommandSource(CommandSourceConfig{Command: "   "})
	require.Error(t, err)
}

func TestNewCommandSource_AppliesDefaults(t *testing.T) {
	src, err := NewCommandSource(CommandSourceConfig{Command: "grabber --screen 0"})
	require.NoError(t, err)

	assert.Equal(t, "grabber", src.command)
	assert.Equal(t, []string{"--screen", "0"}, src.args)
	assert.Equal(t, 10*time.Second, src.timeout)
	assert.Equal(t, int64(8<<20), src.maxBytes)
}

func TestCommandSource_CapturesStdout(t *testing.T) {
	src, err := NewCommandSource(CommandSourceConfig{
		Command: "echo -n frame-data-for",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	frame, err := src.Capture(context.Background(), tracking.SessionID("student-7"))
	require.NoError(t, err)

	// echo appends the session id as the last argument
	assert.Equal(t, []byte("frame-data-for student-7"), frame.Data)
	assert.Equal(t, "image/png", frame.MIMEType)
}

func TestCommandSource_FailingCommand(t *testing.T) {
	src, err := NewCommandSource(CommandSourceConfig{
		Command: "false",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	_, err = src.Capture(context.Background(), tracking.SessionID("s1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCaptureFailed)
}

func TestCommandSource_OversizedCaptureRejected(t *testing.T) {
	src, err := NewCommandSource(CommandSourceConfig{
		Command:       "echo -n 0123456789",
		Timeout:       5 * time.Second,
		MaxImageBytes: 4,
	})
	require.NoError(t, err)

	_, err = src.Capture(context.Background(), tracking.SessionID("s1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCaptureFailed)
}
