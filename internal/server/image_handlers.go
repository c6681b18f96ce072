package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
)

const (
	formatJSON    = "json"
	formatPNG     = "png"
	formatPreview = "preview"
)

// RequestConfig holds per-request overrides of the server settings. Zero
// values keep the server default.
type RequestConfig struct {
	Algorithm      string
	Filter         string
	MinDisparity   *int
	NumDisparities int
	WindowSize     int
	Downscale      float64
	Lambda         float64
	Sigma          float64
	LRCThreshold   float64
	Outputs        []depthio.Output
	Format         string
}

// valueGetter looks up a request option by name; "" means unset.
type valueGetter func(key string) string

// optionValues reads options decoded from a JSON object.
func optionValues(options map[string]any) valueGetter {
	return func(key string) string {
		v, ok := options[key]
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, ",")
		}
		return fmt.Sprint(v)
	}
}

func parseRequestConfig(get valueGetter) (*RequestConfig, error) {
	rc := &RequestConfig{
		Algorithm: strings.TrimSpace(get("algorithm")),
		Filter:    strings.TrimSpace(get("filter")),
		Format:    strings.ToLower(strings.TrimSpace(get("format"))),
	}
	switch rc.Format {
	case "", formatJSON, formatPNG, formatPreview:
	default:
		return nil, errs.Parameter("format", rc.Format, "must be json, png or preview")
	}

	if v := strings.TrimSpace(get("min_disparity")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.Parameter("min_disparity", v, "must be an integer")
		}
		rc.MinDisparity = &n
	}

	var err error
	if rc.NumDisparities, err = intOption(get, "num_disparities"); err != nil {
		return nil, err
	}
	if rc.WindowSize, err = intOption(get, "window_size"); err != nil {
		return nil, err
	}
	if rc.Downscale, err = floatOption(get, "downscale"); err != nil {
		return nil, err
	}
	if rc.Lambda, err = floatOption(get, "lambda"); err != nil {
		return nil, err
	}
	if rc.Sigma, err = floatOption(get, "sigma"); err != nil {
		return nil, err
	}
	if rc.LRCThreshold, err = floatOption(get, "lrc_threshold"); err != nil {
		return nil, err
	}
	if rc.Outputs, err = parseOutputs(get("outputs")); err != nil {
		return nil, err
	}
	// Binary responses carry a single image.
	switch rc.Format {
	case formatPNG:
		rc.Outputs = []depthio.Output{depthio.OutputFiltered}
	case formatPreview:
		rc.Outputs = []depthio.Output{depthio.OutputFiltPreview}
	}
	return rc, nil
}

func intOption(get valueGetter, key string) (int, error) {
	v := strings.TrimSpace(get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errs.Parameter(key, v, "must be an integer")
	}
	return n, nil
}

func floatOption(get valueGetter, key string) (float64, error) {
	v := strings.TrimSpace(get(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errs.Parameter(key, v, "must be a number")
	}
	return f, nil
}

var allOutputs = []depthio.Output{
	depthio.OutputFiltered,
	depthio.OutputRaw,
	depthio.OutputConfidence,
	depthio.OutputRawPreview,
	depthio.OutputFiltPreview,
}

// parseOutputs reads a comma separated output list. Empty selects the
// filtered map, "all" every output.
func parseOutputs(v string) ([]depthio.Output, error) {
	v = strings.TrimSpace(v)
	switch v {
	case "":
		return []depthio.Output{depthio.OutputFiltered}, nil
	case "all":
		return allOutputs, nil
	}
	var outs []depthio.Output
	for _, name := range strings.Split(v, ",") {
		o := depthio.Output(strings.ToLower(strings.TrimSpace(name)))
		found := false
		for _, known := range allOutputs {
			if o == known {
				found = true
				break
			}
		}
		if !found {
			return nil, errs.Parameter("outputs", name,
				"must list filtered, raw, confidence, raw_preview or filtered_preview")
		}
		outs = append(outs, o)
	}
	return outs, nil
}

// overrides reports whether any matching or refinement setting is set.
func (rc *RequestConfig) overrides() bool {
	return rc.Algorithm != "" || rc.Filter != "" || rc.MinDisparity != nil ||
		rc.NumDisparities != 0 || rc.WindowSize != 0 || rc.Downscale != 0 ||
		rc.Lambda != 0 || rc.Sigma != 0 || rc.LRCThreshold != 0
}

// apply returns base with the overrides of rc.
func (rc *RequestConfig) apply(base pipeline.Config) (pipeline.Config, error) {
	if rc.Algorithm != "" {
		a, err := stereo.ParseAlgorithm(rc.Algorithm)
		if err != nil {
			return base, err
		}
		base.Algorithm = a
	}
	if rc.Filter != "" {
		m, err := pipeline.ParseFilterMode(rc.Filter)
		if err != nil {
			return base, err
		}
		base.Filter = m
	}
	if rc.MinDisparity != nil {
		base.MinDisparity = *rc.MinDisparity
	}
	if rc.NumDisparities != 0 {
		base.NumDisparities = rc.NumDisparities
	}
	if rc.WindowSize != 0 {
		base.WindowSize = rc.WindowSize
	}
	if rc.Downscale != 0 {
		base.Downscale = rc.Downscale
	}
	if rc.Lambda != 0 {
		base.Lambda = rc.Lambda
	}
	if rc.Sigma != 0 {
		base.Sigma = rc.Sigma
	}
	if rc.LRCThreshold != 0 {
		base.LRCThreshold = rc.LRCThreshold
	}
	return base, nil
}

// applyFilter returns base with the refinement overrides of rc.
func (rc *RequestConfig) applyFilter(base pipeline.FilterOptions) pipeline.FilterOptions {
	if rc.WindowSize != 0 {
		base.WindowSize = rc.WindowSize
	}
	if rc.Lambda != 0 {
		base.Lambda = rc.Lambda
	}
	if rc.Sigma != 0 {
		base.Sigma = rc.Sigma
	}
	return base
}

// getPipelineForRequest reuses the server pipeline unless the request
// overrides settings or needs its own stage observer.
func (s *Server) getPipelineForRequest(rc *RequestConfig, obs pipeline.StageObserver) (*pipeline.Pipeline, error) {
	if !rc.overrides() && obs == nil {
		return s.pipeline, nil
	}
	cfg, err := rc.apply(s.pipelineCfg)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = pipeline.LogStageObserver{}
	}
	return pipeline.NewBuilder().
		WithConfig(cfg).
		WithObserver(obs).
		WithMetrics(s.pipeMetrics).
		Build()
}

// stereoHandler estimates the refined disparity of an uploaded pair.
func (s *Server) stereoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	left, right, rc, err := s.parseStereoRequest(w, r)
	if err != nil {
		s.metrics.depthRequest("stereo", err)
		s.writeError(w, err)
		return
	}

	result, err := s.runStereo(r.Context(), left, right, rc, nil)
	s.metrics.depthRequest("stereo", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeDepthResponse(w, rc, result)
}

func (s *Server) parseStereoRequest(w http.ResponseWriter, r *http.Request) (left, right *imgbuf.Mat, rc *RequestConfig, err error) {
	if err := s.parseUpload(w, r); err != nil {
		return nil, nil, nil, err
	}
	if rc, err = parseRequestConfig(r.FormValue); err != nil {
		return nil, nil, nil, err
	}
	if left, err = formImage(r, "left", imgbuf.ReadColor); err != nil {
		return nil, nil, nil, err
	}
	if right, err = formImage(r, "right", imgbuf.ReadColor); err != nil {
		return nil, nil, nil, err
	}
	return left, right, rc, nil
}

// runStereo runs the pipeline on a pair and encodes the requested outputs.
func (s *Server) runStereo(ctx context.Context, left, right *imgbuf.Mat, rc *RequestConfig,
	obs pipeline.StageObserver,
) (*DepthResult, error) {
	p, err := s.getPipelineForRequest(rc, obs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := p.Run(ctx, left, right)
	if err != nil {
		return nil, fmt.Errorf("depth estimation failed: %w", err)
	}

	sink := depthio.NewMemorySink()
	if err := res.WriteOutputs(sink); err != nil {
		return nil, err
	}
	files, err := s.encodeOutputs(sink, rc.Outputs, s.sampleType)
	if err != nil {
		return nil, err
	}

	return newDepthResult(files, &DepthResult{
		Width:      left.Width,
		Height:     left.Height,
		SampleType: s.sampleType.String(),
		ROI:        rectOf(res.ROI),
		Stats:      &res.Stats,
		Settings:   p.Info(),
		Processing: ProcessingTimes{
			MatchingMs:   ms(res.Timings.Matching),
			ConfidenceMs: ms(res.Timings.Confidence),
			FilteringMs:  ms(res.Timings.Filtering),
			TotalMs:      ms(res.Timings.Total),
		},
	}), nil
}

// newDepthResult attaches the encoded files to r.
func newDepthResult(files map[string][]byte, r *DepthResult) *DepthResult {
	r.files = files
	r.Images = make(map[string]string, len(files))
	for name, data := range files {
		r.Images[name] = base64.StdEncoding.EncodeToString(data)
	}
	return r
}

// encodeOutputs PNG encodes the wanted outputs held by sink. Outputs the
// run did not produce, like confidence without the confidence filter, are
// left out. Disparity maps are stored as t.
func (s *Server) encodeOutputs(sink *depthio.MemorySink, wanted []depthio.Output, t imgbuf.SampleType) (map[string][]byte, error) {
	files := make(map[string][]byte, len(wanted))
	for _, out := range wanted {
		m, ok := sink.Get(out)
		if !ok {
			continue
		}
		data, err := encodePNG(m, outputType(out, t))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", out, err)
		}
		files[string(out)] = data
	}
	return files, nil
}

func outputType(out depthio.Output, t imgbuf.SampleType) imgbuf.SampleType {
	switch out {
	case depthio.OutputConfidence, depthio.OutputRawPreview, depthio.OutputFiltPreview:
		return imgbuf.U8
	}
	return t
}

func encodePNG(m *imgbuf.Mat, t imgbuf.SampleType) ([]byte, error) {
	if m.Type != t {
		m = m.ConvertTo(t, 1, 0)
	}
	var buf bytes.Buffer
	if err := depthio.Encode(&buf, m, depthio.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
