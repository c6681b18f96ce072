package depthio

import (
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// Output names one of the products a run can emit.
type Output string

const (
	OutputFiltered    Output = "filtered"
	OutputRaw         Output = "raw"
	OutputConfidence  Output = "confidence"
	OutputRawPreview  Output = "raw_preview"
	OutputFiltPreview Output = "filtered_preview"
)

// Sink receives run outputs. Outputs a sink has no destination for are
// dropped silently.
type Sink interface {
	Write(out Output, m *imgbuf.Mat) error
}

// FileSink writes each configured output to its path. Empty paths mean
// the output is not wanted.
type FileSink struct {
	Paths map[Output]string
	// SampleType is the stored type for disparity outputs. Confidence and
	// previews are always 8-bit.
	SampleType imgbuf.SampleType
}

// Wants reports whether out has a destination.
func (s *FileSink) Wants(out Output) bool { return s != nil && s.Paths[out] != "" }

// Write implements Sink.
func (s *FileSink) Write(out Output, m *imgbuf.Mat) error {
	if !s.Wants(out) {
		return nil
	}
	t := s.SampleType
	if out == OutputConfidence || out == OutputRawPreview || out == OutputFiltPreview {
		t = imgbuf.U8
	}
	path := s.Paths[out]
	if err := Save(path, m, t); err != nil {
		return err
	}
	slog.Debug("Wrote output", "output", string(out), "path", path, "type", t.String())
	return nil
}

// MemorySink keeps outputs in memory. It is safe for concurrent use.
type MemorySink struct {
	mu    sync.Mutex
	items map[Output]*imgbuf.Mat
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{items: map[Output]*imgbuf.Mat{}} }

// Write implements Sink.
func (s *MemorySink) Write(out Output, m *imgbuf.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[out] = m
	return nil
}

// Get returns a stored output.
func (s *MemorySink) Get(out Output) (*imgbuf.Mat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[out]
	return m, ok
}

// Discard drops every output.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(Output, *imgbuf.Mat) error { return nil }
