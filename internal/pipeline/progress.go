package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Stage names a step of a stereo run.
type Stage string

const (
	StageMatch      Stage = "match"
	StageConfidence Stage = "confidence"
	StageFilter     Stage = "filter"
	StageMedian     Stage = "median"
)

// StageObserver is told when each stage of a run starts and ends.
// Implementations must be safe for concurrent runs.
type StageObserver interface {
	StageStarted(s Stage)
	StageFinished(s Stage, d time.Duration, err error)
}

// LogStageObserver logs stage transitions at debug level.
type LogStageObserver struct {
	Logger *slog.Logger
}

func (o LogStageObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o LogStageObserver) StageStarted(s Stage) {
	o.logger().Debug("Stage started", "stage", string(s))
}

func (o LogStageObserver) StageFinished(s Stage, d time.Duration, err error) {
	if err != nil {
		o.logger().Error("Stage failed", "stage", string(s), "duration", d, "error", err)
		return
	}
	o.logger().Debug("Stage finished", "stage", string(s), "duration", d)
}

// StageFunc adapts a function receiving finished stages to StageObserver.
type StageFunc func(s Stage, d time.Duration, err error)

func (f StageFunc) StageStarted(Stage) {}

func (f StageFunc) StageFinished(s Stage, d time.Duration, err error) { f(s, d, err) }

// ProgressCallback reports progress over a set of stereo pairs.
type ProgressCallback interface {
	// OnStart is called once with the number of pairs.
	OnStart(total int)
	// OnProgress is called after each finished pair.
	OnProgress(current, total int)
	// OnComplete is called when all pairs are done.
	OnComplete()
	// OnError is called for a failed pair.
	OnError(current int, err error)
}

// NoOpProgressCallback ignores all progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(int, int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// ConsoleProgressCallback draws a progress bar.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	mu             sync.Mutex
	startTime      time.Time
	lastUpdate     time.Time
}

// NewConsoleProgressCallback writes to writer, or stderr when nil.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

// WithUpdateInterval limits how often the bar is redrawn.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d pairs\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now
	if total <= 0 {
		return
	}
	filled := c.width * current / total
	line := fmt.Sprintf("\r%s[%s%s] %d/%d pairs (%.1f%%)", c.prefix,
		strings.Repeat("#", filled), strings.Repeat(".", c.width-filled),
		current, total, 100*float64(current)/float64(total))
	if elapsed := now.Sub(c.startTime); elapsed > 0 && current > 0 {
		perPair := elapsed / time.Duration(current)
		line += fmt.Sprintf(" %v/pair", perPair.Round(time.Millisecond))
	}
	_, _ = fmt.Fprint(c.writer, line)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%sdone in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(current int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%spair %d failed: %v\n", c.prefix, current, err)
}

// LogProgressCallback reports progress through slog.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	mu        sync.Mutex
	startTime time.Time
}

// NewLogProgressCallback logs at level through logger, or slog.Default.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mu.Lock()
	l.startTime = time.Now()
	l.mu.Unlock()
	l.logger.Log(context.Background(), l.level, "Batch started", "pairs", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	l.mu.Lock()
	elapsed := time.Since(l.startTime)
	l.mu.Unlock()
	l.logger.Log(context.Background(), l.level, "Batch progress",
		"current", current, "total", total, "elapsed", elapsed.Round(time.Millisecond))
}

func (l *LogProgressCallback) OnComplete() {
	l.mu.Lock()
	elapsed := time.Since(l.startTime)
	l.mu.Unlock()
	l.logger.Log(context.Background(), l.level, "Batch completed", "elapsed", elapsed.Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(current int, err error) {
	l.logger.Log(context.Background(), slog.LevelError, "Pair failed", "current", current, "error", err)
}
