package pipeline

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpProgressCallback(t *testing.T) {
	callback := NoOpProgressCallback{}
	callback.OnStart(10)
	callback.OnProgress(5, 10)
	callback.OnComplete()
	callback.OnError(3, assert.AnError)
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "Depth: ").WithWidth(10).WithUpdateInterval(0)

	callback.OnStart(4)
	assert.Contains(t, buf.String(), "Depth: 0/4 pairs")

	buf.Reset()
	callback.OnProgress(2, 4)
	out := buf.String()
	assert.Contains(t, out, "[#####.....]")
	assert.Contains(t, out, "2/4 pairs (50.0%)")

	buf.Reset()
	callback.OnError(3, assert.AnError)
	assert.Contains(t, buf.String(), "Depth: pair 3 failed")

	buf.Reset()
	callback.OnComplete()
	assert.Contains(t, buf.String(), "Depth: done in")
}

func TestConsoleProgressCallback_Throttles(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "").WithUpdateInterval(time.Hour)
	callback.OnStart(10)

	buf.Reset()
	callback.OnProgress(1, 10)
	first := buf.Len()
	callback.OnProgress(2, 10)
	assert.Equal(t, first, buf.Len())

	// The final update is always drawn.
	callback.OnProgress(10, 10)
	assert.Greater(t, buf.Len(), first)
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	callback := NewLogProgressCallback(logger, slog.LevelInfo)

	callback.OnStart(3)
	callback.OnProgress(1, 3)
	callback.OnError(2, assert.AnError)
	callback.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "Batch started")
	assert.Contains(t, out, "pairs=3")
	assert.Contains(t, out, "Batch progress")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "Batch completed")
}

func TestLogStageObserver(t *testing.T) {
	var buf bytes.Buffer
	o := LogStageObserver{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	o.StageStarted(StageMatch)
	o.StageFinished(StageMatch, time.Millisecond, nil)
	o.StageFinished(StageFilter, time.Millisecond, assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "stage=match")
	assert.Contains(t, out, "Stage failed")
	assert.Contains(t, out, "stage=filter")
}
