package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
)

// writePair writes a 96x40 planar pair with disparity d to dir.
func writePair(t *testing.T, dir, name string, d int) (left, right string) {
	t.Helper()
	l, r := testutil.PlanarPair(96, 40, d, 7)
	left = filepath.Join(dir, name+"_l.png")
	right = filepath.Join(dir, name+"_r.png")
	testutil.WritePNG(t, left, l)
	testutil.WritePNG(t, right, r)
	return left, right
}

func decodeReport(t *testing.T, out string) depthReport {
	t.Helper()
	var r depthReport
	require.NoError(t, json.Unmarshal([]byte(out), &r), out)
	return r
}

func loadOutput(t *testing.T, path string) *imgbuf.Mat {
	t.Helper()
	m, _, err := depthio.Load(path, imgbuf.ReadUnchanged)
	require.NoError(t, err)
	return m
}

func TestMatchCommand(t *testing.T) {
	dir := t.TempDir()
	left, right := writePair(t, dir, "scene", 5)
	filtered := filepath.Join(dir, "filtered.png")
	raw := filepath.Join(dir, "raw.png")
	preview := filepath.Join(dir, "raw_preview.png")

	out, err := execute(t, "match", left, right,
		"-n", "16", "-o", filtered, "--raw", raw, "--raw-preview", preview, "--format", "json")
	require.NoError(t, err)

	r := decodeReport(t, out)
	assert.Equal(t, "match", r.Command)
	assert.Equal(t, []int{22, 7, 67, 26}, r.ROI)
	require.NotNil(t, r.Stats)
	assert.InDelta(t, 5.0, r.Stats.Median, 0.5)
	assert.Equal(t, "u16", r.SampleType)
	assert.ElementsMatch(t, []string{filtered, raw, preview}, r.Outputs)
	assert.Contains(t, r.Timings, "total")

	m := loadOutput(t, filtered)
	assert.Equal(t, imgbuf.U16, m.Type)
	assert.InDelta(t, 80.0, m.At(60, 20), 8)
	assert.Equal(t, imgbuf.U8, loadOutput(t, preview).Type)
	assert.FileExists(t, raw)
}

func TestMatchCommand_TextReport(t *testing.T) {
	dir := t.TempDir()
	left, right := writePair(t, dir, "scene", 5)

	out, err := execute(t, "match", left, right, "-n", "16", "--filter", "wls_conf",
		"--confidence", filepath.Join(dir, "conf.png"))
	require.NoError(t, err)
	assert.Contains(t, out, "roi: x=")
	assert.Contains(t, out, "median:")
	assert.Contains(t, out, "conf.png")
	assert.Equal(t, imgbuf.U8, loadOutput(t, filepath.Join(dir, "conf.png")).Type)
}

func TestMatchCommand_ConfidenceNeedsWLSConf(t *testing.T) {
	dir := t.TempDir()
	left, right := writePair(t, dir, "scene", 5)
	conf := filepath.Join(dir, "conf.png")

	_, err := execute(t, "match", left, right, "-n", "16", "--confidence", conf)
	require.NoError(t, err)
	assert.NoFileExists(t, conf)
}

func TestMatchCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	left, right := writePair(t, dir, "scene", 5)

	tests := []struct {
		name     string
		args     []string
		sentinel error
		contains string
	}{
		{"one argument", []string{"match", left}, nil, "accepts 2 arg(s)"},
		{"unknown algorithm", []string{"match", left, right, "-a", "census"}, errs.ErrUnsupportedAlgorithm, "census"},
		{"bad disparity range", []string{"match", left, right, "-n", "20"}, errs.ErrInvalidParameter, "num_disparities"},
		{"float output", []string{"match", left, right, "-n", "16", "--sample-type", "f32"}, errs.ErrUnsupportedSampleFormat, "f32"},
		{"missing input", []string{"match", filepath.Join(dir, "nope.png"), right, "-n", "16"}, nil, "nope.png"},
		{"bad format", []string{"match", left, right, "-n", "16", "-f", "xml"}, nil, "unsupported format"},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			}
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestFilterCommand(t *testing.T) {
	dir := t.TempDir()
	guide := filepath.Join(dir, "guide.png")
	depth := filepath.Join(dir, "depth.png")
	out := filepath.Join(dir, "filtered.png")
	preview := filepath.Join(dir, "preview.png")
	testutil.WritePNG(t, guide, testutil.TexturedImage(24, 16, 3))
	testutil.WritePNG(t, depth, imgbuf.NewFilled(24, 16, imgbuf.U8, 5))

	stdout, err := execute(t, "filter", guide, depth, "-o", out, "--preview", preview, "-f", "json")
	require.NoError(t, err)

	r := decodeReport(t, stdout)
	require.NotNil(t, r.Stats)
	assert.InDelta(t, 5.0, r.Stats.Median, 1e-6)
	assert.InDelta(t, 8000.0, r.Settings["lambda"], 0)

	m := loadOutput(t, out)
	assert.Equal(t, imgbuf.U16, m.Type)
	assert.InDelta(t, 80.0, m.At(10, 8), 0.5)
	assert.InDelta(t, 80.0, loadOutput(t, preview).At(10, 8), 0.5)
}

func TestFilterCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	guide := filepath.Join(dir, "guide.png")
	small := filepath.Join(dir, "small.png")
	testutil.WritePNG(t, guide, testutil.TexturedImage(24, 16, 3))
	testutil.WritePNG(t, small, imgbuf.NewFilled(12, 8, imgbuf.U8, 5))

	_, err := execute(t, "filter", guide, small)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"output" not set`)

	_, err = execute(t, "filter", guide, small, "-o", filepath.Join(dir, "out.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter), "got %v", err)

	_, err = execute(t, "filter", guide, guide, "-o", filepath.Join(dir, "out.png"), "--lambda=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lambda")
}

func TestSmoothCommand_KeepsSampleType(t *testing.T) {
	dir := t.TempDir()
	depth := filepath.Join(dir, "depth.png")
	out := filepath.Join(dir, "smoothed.png")
	testutil.WritePNG(t, depth, imgbuf.NewFilled(20, 12, imgbuf.U16, 320))

	stdout, err := execute(t, "smooth", depth, "-o", out, "-f", "json")
	require.NoError(t, err)

	r := decodeReport(t, stdout)
	assert.Equal(t, "u16", r.SampleType)
	assert.InDelta(t, 20.0, r.Stats.Median, 1e-6)
	assert.InDelta(t, 20000.0, r.Settings["lambda"], 0)

	m := loadOutput(t, out)
	assert.Equal(t, imgbuf.U16, m.Type)
	assert.InDelta(t, 320.0, m.At(4, 4), 1)
}

func TestBilateralCommand(t *testing.T) {
	dir := t.TempDir()
	depth := filepath.Join(dir, "depth.png")
	out := filepath.Join(dir, "bilateral.png")
	testutil.WritePNG(t, depth, imgbuf.NewFilled(16, 16, imgbuf.U8, 9))

	stdout, err := execute(t, "bilateral", depth, "-o", out, "--diameter", "4", "--iterations", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "bilateral: ")

	m := loadOutput(t, out)
	assert.Equal(t, imgbuf.U8, m.Type)
	assert.InDelta(t, 9.0, m.At(8, 8), 0)

	_, err = execute(t, "bilateral", depth, "-o", out, "--iterations", "0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter), "got %v", err)
}

func TestEdgesCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "flat.png")
	out := filepath.Join(dir, "edges.png")
	testutil.WritePNG(t, in, imgbuf.NewFilled(16, 12, imgbuf.U8, 100))

	for _, method := range []string{"sobel", "scharr", "laplacian"} {
		_, err := execute(t, "edges", in, "-o", out, "--method", method)
		require.NoError(t, err, method)
		m := loadOutput(t, out)
		assert.Equal(t, imgbuf.U8, m.Type)
		assert.InDelta(t, 0.0, m.At(8, 6), 0, method)
	}

	_, err := execute(t, "edges", in, "-o", out, "--method", "canny")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnsupportedAlgorithm), "got %v", err)
}

func TestBatchCommand(t *testing.T) {
	in := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	writePair(t, in, "first", 5)
	writePair(t, in, "second", 3)
	testutil.WritePNG(t, filepath.Join(in, "lonely_l.png"), testutil.TexturedImage(96, 40, 1))

	stdout, err := execute(t, "batch", in, "-n", "16", "--output-dir", outDir,
		"--raw", "--format", "json", "--quiet", "--stats")
	require.NoError(t, err)

	var report struct {
		Pairs []struct {
			Name    string   `json:"name"`
			Outputs []string `json:"outputs"`
		} `json:"pairs"`
		Unpaired []string `json:"unpaired"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report), stdout)
	require.Len(t, report.Pairs, 2)
	assert.Equal(t, "first", report.Pairs[0].Name)
	assert.Len(t, report.Pairs[0].Outputs, 2)
	assert.Len(t, report.Unpaired, 1)

	assert.FileExists(t, filepath.Join(outDir, "first_filtered.png"))
	assert.FileExists(t, filepath.Join(outDir, "second_raw.png"))
}

func TestBatchCommand_ReportFile(t *testing.T) {
	in := t.TempDir()
	writePair(t, in, "scene", 5)
	reportPath := filepath.Join(t.TempDir(), "report.yaml")

	stdout, err := execute(t, "batch", in, "-n", "16", "--format", "yaml", "--output", reportPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Results written to "+reportPath)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: scene")
	assert.FileExists(t, filepath.Join(in, "scene_filtered.png"))
}

func TestBatchCommand_Errors(t *testing.T) {
	empty := t.TempDir()
	_, err := execute(t, "batch", empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stereo pairs found")

	in := t.TempDir()
	writePair(t, in, "scene", 5)
	_, err = execute(t, "batch", in, "--left-suffix", "_x", "--right-suffix", "_x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidParameter), "got %v", err)
}
