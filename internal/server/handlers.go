package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/stereo"
	"github.com/MeKo-Tech/stereowls/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.pipeline != nil {
		response.Settings = s.pipeline.Info()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding health response: %v\n", err)
	}
}

// filterHandler refines an uploaded depth map. With a guide image the map
// is filtered as a fixed-point disparity; without one it is smoothed with
// a guide derived from itself and keeps its sample type.
func (s *Server) filterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	guide, depth, rc, err := s.parseFilterRequest(w, r)
	if err != nil {
		s.metrics.depthRequest("filter", err)
		s.writeError(w, err)
		return
	}

	result, err := s.runFilter(r.Context(), guide, depth, rc, nil)
	s.metrics.depthRequest("filter", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeDepthResponse(w, rc, result)
}

func (s *Server) parseFilterRequest(w http.ResponseWriter, r *http.Request) (guide, depth *imgbuf.Mat, rc *RequestConfig, err error) {
	if err := s.parseUpload(w, r); err != nil {
		return nil, nil, nil, err
	}
	if rc, err = parseRequestConfig(r.FormValue); err != nil {
		return nil, nil, nil, err
	}
	if depth, err = formImage(r, "depth", imgbuf.ReadUnchanged); err != nil {
		return nil, nil, nil, err
	}
	if hasFile(r, "guide") {
		if guide, err = formImage(r, "guide", imgbuf.ReadColor); err != nil {
			return nil, nil, nil, err
		}
	}
	return guide, depth, rc, nil
}

// runFilter refines depth, with guide when it is not nil.
func (s *Server) runFilter(ctx context.Context, guide, depth *imgbuf.Mat, rc *RequestConfig,
	obs pipeline.StageObserver,
) (*DepthResult, error) {
	if obs == nil {
		obs = pipeline.LogStageObserver{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	mode := "filter_only"
	base := s.filterOpts
	if guide == nil {
		mode = "self_guided"
		base = pipeline.DefaultSelfGuidedOptions()
		base.Workers = s.filterOpts.Workers
		base.Metrics = s.filterOpts.Metrics
	}
	opts := rc.applyFilter(base)
	opts.Observer = obs

	start := time.Now()
	var (
		out        *imgbuf.Mat
		t          = s.sampleType
		statsScale = float64(stereo.DisparityScale)
		err        error
	)
	if guide != nil {
		out, err = pipeline.FilterOnly(ctx, guide, depth, opts)
	} else {
		out, err = pipeline.SelfGuided(ctx, depth, opts)
		if err == nil {
			// The smoothed map keeps the input's type and scale.
			t = out.Type
			fp, _ := pipeline.FixedPointScale(out.Type)
			statsScale /= fp
		}
	}
	if err != nil {
		return nil, fmt.Errorf("depth filtering failed: %w", err)
	}
	elapsed := time.Since(start)

	sink := depthio.NewMemorySink()
	_ = sink.Write(depthio.OutputFiltered, out)
	_ = sink.Write(depthio.OutputFiltPreview, depthio.Visualize(out, depthio.FilteredPreviewScale))
	files, err := s.encodeOutputs(sink, rc.Outputs, t)
	if err != nil {
		return nil, err
	}

	stats := pipeline.ComputeStats(out, out.Bounds(), statsScale, nil)
	return newDepthResult(files, &DepthResult{
		Width:      out.Width,
		Height:     out.Height,
		SampleType: t.String(),
		Stats:      &stats,
		Settings: map[string]any{
			"mode":        mode,
			"window_size": opts.WindowSize,
			"lambda":      opts.Lambda,
			"sigma":       opts.Sigma,
		},
		Processing: ProcessingTimes{FilteringMs: ms(elapsed), TotalMs: ms(elapsed)},
	}), nil
}

// parseUpload limits the body size and parses the multipart form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	limit := s.maxUploadMB * 1024 * 1024
	s.metrics.upload(r.ContentLength)
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return fmt.Errorf("%w: failed to parse form data: %w", errs.ErrInvalidParameter, err)
	}
	return nil
}

func hasFile(r *http.Request, field string) bool {
	return r.MultipartForm != nil && len(r.MultipartForm.File[field]) > 0
}

// formImage decodes the uploaded image in field.
func formImage(r *http.Request, field string, mode imgbuf.ReadMode) (*imgbuf.Mat, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, errs.Parameter(field, "missing", "a multipart image file is required")
	}
	defer func() { _ = file.Close() }()

	m, _, err := depthio.Decode(file, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return m, nil
}

// writeDepthResponse writes result as JSON, or as a bare PNG when the
// request asked for one.
func (s *Server) writeDepthResponse(w http.ResponseWriter, rc *RequestConfig, result *DepthResult) {
	if rc.Format == formatPNG || rc.Format == formatPreview {
		data, ok := result.files[string(rc.Outputs[0])]
		if !ok {
			s.writeErrorResponse(w, "requested image not produced", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if _, err := w.Write(data); err != nil {
			slog.Error("Failed to write PNG response", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(DepthResponse{Success: true, Result: result}); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding depth response: %v\n", err)
	}
}

// statusForError maps processing errors to HTTP status codes.
func statusForError(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge),
		strings.Contains(strings.ToLower(err.Error()), "request body too large"):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errs.ErrInvalidParameter),
		errors.Is(err, errs.ErrUnsupportedAlgorithm),
		errors.Is(err, errs.ErrUnsupportedSampleFormat),
		errors.Is(err, errs.ErrUnreadableInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError logs err and writes it with its mapped status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	} else {
		slog.Debug("Request rejected", "status", status, "error", err)
	}
	s.writeErrorResponse(w, err.Error(), status)
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := DepthResponse{
		Success: false,
		Error:   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Log error, but can't send another response
		fmt.Fprintf(os.Stderr, "Error writing error response: %v\n", err)
	}
}
