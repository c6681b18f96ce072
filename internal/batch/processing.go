package batch

import (
	"fmt"
	"path/filepath"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// filePair loads a discovered pair on the worker that processes it.
type filePair struct {
	Pair
}

func (p filePair) Name() string { return p.Pair.Name }

func (p filePair) Load() (left, right *imgbuf.Mat, err error) {
	left, right, err = depthio.LoadPair(p.Left, p.Right, imgbuf.ReadColor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", p.Pair.Name, err)
	}
	return left, right, nil
}

// outputPath names one output of a pair. Without an output directory the
// files go next to the left view.
func outputPath(cfg *Config, p Pair, out depthio.Output) string {
	dir := cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(p.Left)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.png", p.Name, out))
}

// outputSink builds the file sink for one pair.
func outputSink(cfg *Config, p Pair) *depthio.FileSink {
	paths := map[depthio.Output]string{
		depthio.OutputFiltered: outputPath(cfg, p, depthio.OutputFiltered),
	}
	if cfg.WriteRaw {
		paths[depthio.OutputRaw] = outputPath(cfg, p, depthio.OutputRaw)
	}
	if cfg.WriteConfidence && cfg.Pipeline.Filter == pipeline.FilterWLSConf {
		paths[depthio.OutputConfidence] = outputPath(cfg, p, depthio.OutputConfidence)
	}
	if cfg.WritePreviews {
		paths[depthio.OutputRawPreview] = outputPath(cfg, p, depthio.OutputRawPreview)
		paths[depthio.OutputFiltPreview] = outputPath(cfg, p, depthio.OutputFiltPreview)
	}
	return &depthio.FileSink{Paths: paths, SampleType: cfg.SampleType}
}

// writePairOutputs stores the products of one pair.
func writePairOutputs(cfg *Config, p Pair, res *pipeline.Result) ([]string, error) {
	sink := outputSink(cfg, p)
	if err := res.WriteOutputs(sink); err != nil {
		return nil, fmt.Errorf("failed to write outputs of %s: %w", p.Name, err)
	}
	written := make([]string, 0, len(sink.Paths))
	for _, out := range []depthio.Output{
		depthio.OutputFiltered, depthio.OutputRaw, depthio.OutputConfidence,
		depthio.OutputRawPreview, depthio.OutputFiltPreview,
	} {
		if sink.Wants(out) {
			written = append(written, sink.Paths[out])
		}
	}
	return written, nil
}
