package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
)

func writePair(t *testing.T, dir, name string, d int) {
	t.Helper()
	left, right := testutil.PlanarPair(96, 40, d, uint32(d))
	testutil.WritePNG(t, filepath.Join(dir, name+"_l.png"), left)
	testutil.WritePNG(t, filepath.Join(dir, name+"_r.png"), right)
}

func testConfig(out string) Config {
	cfg := DefaultConfig()
	cfg.Pipeline.NumDisparities = 16
	cfg.OutputDir = out
	cfg.Workers = 2
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.RightSuffix = cfg.LeftSuffix
	assert.ErrorIs(t, cfg.Validate(), errs.ErrInvalidParameter)

	cfg = DefaultConfig()
	cfg.SampleType = imgbuf.F32
	assert.ErrorIs(t, cfg.Validate(), errs.ErrUnsupportedSampleFormat)

	cfg = DefaultConfig()
	cfg.Pipeline.NumDisparities = 20
	assert.ErrorIs(t, cfg.Validate(), errs.ErrInvalidParameter)
}

func TestProcessBatch_WritesOutputsPerPair(t *testing.T) {
	in := testutil.CreateTempDir(t)
	out := filepath.Join(testutil.CreateTempDir(t), "depth")
	writePair(t, in, "alpha", 3)
	writePair(t, in, "beta", 5)

	cfg := testConfig(out)
	cfg.WriteRaw = true
	cfg.WritePreviews = true

	res, err := ProcessBatch(context.Background(), []string{in}, &cfg)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)
	assert.Zero(t, res.Failed())
	assert.Equal(t, 2, res.WorkerCount)

	assert.Equal(t, "alpha", res.Pairs[0].Name)
	assert.Len(t, res.Pairs[0].Outputs, 4)
	require.NotNil(t, res.Pairs[1].Stats)
	assert.InDelta(t, 5.0, res.Pairs[1].Stats.Median, 0.5)

	filtered, meta, err := depthio.Load(filepath.Join(out, "beta_filtered.png"), imgbuf.ReadUnchanged)
	require.NoError(t, err)
	assert.Equal(t, imgbuf.U16, meta.Type)
	assert.InDelta(t, 80.0, filtered.At(60, 20), 16)

	for _, name := range []string{"alpha_raw.png", "alpha_raw_preview.png", "alpha_filtered_preview.png"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.NoFileExists(t, filepath.Join(out, "alpha_confidence.png"))
}

func TestProcessBatch_ConfidenceOutput(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writePair(t, in, "scene", 4)

	cfg := testConfig("")
	cfg.Pipeline.Filter = pipeline.FilterWLSConf
	cfg.WriteConfidence = true

	res, err := ProcessBatch(context.Background(), []string{in}, &cfg)
	require.NoError(t, err)
	assert.Len(t, res.Pairs[0].Outputs, 2)
	assert.FileExists(t, filepath.Join(in, "scene_confidence.png"))
	assert.FileExists(t, filepath.Join(in, "scene_filtered.png"))
}

func TestProcessBatch_ContinueOnError(t *testing.T) {
	in := testutil.CreateTempDir(t)
	writePair(t, in, "good", 2)
	require.NoError(t, os.WriteFile(filepath.Join(in, "bad_l.png"), []byte("not a png"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(in, "bad_r.png"), []byte("not a png"), 0o600))
	testutil.WritePNG(t, filepath.Join(in, "orphan_l.png"), testutil.TexturedImage(8, 8, 1))

	cfg := testConfig(testutil.CreateTempDir(t))
	_, err := ProcessBatch(context.Background(), []string{in}, &cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnreadableInput)

	cfg.ContinueOnError = true
	res, err := ProcessBatch(context.Background(), []string{in}, &cfg)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)
	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, "bad", res.Pairs[0].Name)
	assert.NotEmpty(t, res.Pairs[0].Error)
	assert.Empty(t, res.Pairs[1].Error)
	assert.Equal(t, []string{filepath.Join(in, "orphan_l.png")}, res.Unpaired)
}

func TestProcessBatch_NoPairs(t *testing.T) {
	in := testutil.CreateTempDir(t)
	cfg := testConfig("")
	_, err := ProcessBatch(context.Background(), []string{in}, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stereo pairs found")
}

func sampleResult() *Result {
	stats := pipeline.Stats{Pixels: 100, Valid: 90, ValidRatio: 0.9, Min: 1, Max: 6, Median: 4}
	return &Result{
		Pairs: []PairSummary{
			{Pair: Pair{Name: "cones", Left: "/in/cones_l.png", Right: "/in/cones_r.png"},
				Outputs: []string{"/out/cones_filtered.png"}, Stats: &stats, MatchingMs: 12.5},
			{Pair: Pair{Name: "teddy", Left: "/in/teddy_l.png", Right: "/in/teddy_r.png"},
				Error: "decode failed"},
		},
		Duration:    2 * time.Second,
		WorkerCount: 2,
		Settings:    map[string]any{"algorithm": "bm"},
	}
}

func TestResult_FormatResults(t *testing.T) {
	r := sampleResult()

	text, err := r.FormatResults("text")
	require.NoError(t, err)
	assert.Contains(t, text, "# cones")
	assert.Contains(t, text, "valid: 90.0%")
	assert.Contains(t, text, "wrote /out/cones_filtered.png")
	assert.Contains(t, text, "error: decode failed")

	js, err := r.FormatResults("json")
	require.NoError(t, err)
	var decoded struct {
		Pairs []struct {
			Name  string `json:"name"`
			Error string `json:"error"`
		} `json:"pairs"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, 1, decoded.Failed)
	assert.Equal(t, "cones", decoded.Pairs[0].Name)
	assert.Equal(t, "decode failed", decoded.Pairs[1].Error)

	ym, err := r.FormatResults("yaml")
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(ym), &rep))
	assert.Equal(t, 2, rep["total"])
	pairs, ok := rep["pairs"].([]any)
	require.True(t, ok)
	first, ok := pairs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/in/cones_l.png", first["left"])
}

func TestResult_SaveResultsAndStats(t *testing.T) {
	r := sampleResult()
	file := filepath.Join(testutil.CreateTempDir(t), "summary.yaml")

	var buf bytes.Buffer
	require.NoError(t, r.SaveResults(&buf, "yaml", file, false))
	assert.Contains(t, buf.String(), "Results written to")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: cones")

	buf.Reset()
	require.NoError(t, r.SaveResults(&buf, "text", "", true))
	assert.Contains(t, buf.String(), "# teddy")

	buf.Reset()
	r.PrintStats(&buf, false)
	assert.Contains(t, buf.String(), "Total pairs: 2")
	assert.Contains(t, buf.String(), "Workers: 2")

	buf.Reset()
	r.PrintStats(&buf, true)
	assert.Empty(t, buf.String())
}
