package server

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    *pipeline.Pipeline
	pipelineCfg pipeline.Config
	filterOpts  pipeline.FilterOptions
	sampleType  imgbuf.SampleType
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
	registry    *prometheus.Registry
	metrics     *httpMetrics
	pipeMetrics *pipeline.Metrics
}

// RateLimitConfig holds the per-client limits. Zero values disable a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	PipelineConfig pipeline.Config
	// FilterOptions drive /depth/filter; a zero WindowSize selects the
	// filter-only defaults.
	FilterOptions pipeline.FilterOptions
	// SampleType is the PNG encoding of disparity outputs, U8 or U16.
	// Previews and confidence are always 8-bit.
	SampleType imgbuf.SampleType
	RateLimit  RateLimitConfig
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	Time     string         `json:"time"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Rect is an image region in pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func rectOf(r image.Rectangle) *Rect {
	return &Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// DepthResult describes one processed request. Images maps output names
// to base64 encoded PNG files.
type DepthResult struct {
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	SampleType string            `json:"sample_type"`
	ROI        *Rect             `json:"roi,omitempty"`
	Stats      *pipeline.Stats   `json:"stats,omitempty"`
	Settings   map[string]any    `json:"settings,omitempty"`
	Processing ProcessingTimes   `json:"processing"`
	Images     map[string]string `json:"images"`

	files map[string][]byte
}

// ProcessingTimes are stage durations in milliseconds.
type ProcessingTimes struct {
	MatchingMs   float64 `json:"matching_ms,omitempty"`
	ConfidenceMs float64 `json:"confidence_ms,omitempty"`
	FilteringMs  float64 `json:"filtering_ms,omitempty"`
	TotalMs      float64 `json:"total_ms"`
}

type DepthResponse struct {
	Success bool         `json:"success"`
	Result  *DepthResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// NewServer creates a new depth server instance.
func NewServer(config Config) (*Server, error) {
	switch config.SampleType {
	case imgbuf.U8, imgbuf.U16:
	default:
		return nil, fmt.Errorf("%w: %s outputs cannot be encoded as PNG", errs.ErrUnsupportedSampleFormat, config.SampleType)
	}
	if config.MaxUploadMB <= 0 {
		return nil, errs.Parameter("max_upload_mb", config.MaxUploadMB, "must be positive")
	}
	if config.TimeoutSec <= 0 {
		return nil, errs.Parameter("timeout_sec", config.TimeoutSec, "must be positive")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pm := pipeline.NewMetrics(reg)

	pl, err := pipeline.NewBuilder().
		WithConfig(config.PipelineConfig).
		WithObserver(pipeline.LogStageObserver{}).
		WithMetrics(pm).
		Build()
	if err != nil {
		return nil, err
	}

	fo := config.FilterOptions
	if fo.WindowSize == 0 {
		fo = pipeline.DefaultFilterOptions()
		fo.Workers = config.PipelineConfig.Workers
	}
	fo.Metrics = pm

	s := &Server{
		pipeline:    pl,
		pipelineCfg: config.PipelineConfig,
		filterOpts:  fo,
		sampleType:  config.SampleType,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
		registry:    reg,
		metrics:     newHTTPMetrics(reg),
		pipeMetrics: pm,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.instrument("/health", s.withCORS(s.healthHandler)))
	mux.HandleFunc("/depth/stereo", s.instrument("/depth/stereo", s.withCORS(s.withRateLimit(s.stereoHandler))))
	mux.HandleFunc("/depth/filter", s.instrument("/depth/filter", s.withCORS(s.withRateLimit(s.filterHandler))))
	mux.HandleFunc("/ws/depth", s.depthWebSocketHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// StartMaintenance prunes idle rate limiter clients every interval until
// ctx is done.
func (s *Server) StartMaintenance(ctx context.Context, interval time.Duration) {
	if s.rateLimiter == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.rateLimiter.Prune(24 * time.Hour); n > 0 {
					slog.Debug("Pruned idle clients", "count", n)
				}
			}
		}
	}()
}
