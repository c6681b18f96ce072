//nolint:lll
package config

// Config represents the complete configuration of the stereowls tools.
// It includes settings for all commands (match, filter, smooth, batch,
// serve) and supports loading from configuration files, environment
// variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Matching configuration
	Stereo StereoConfig `mapstructure:"stereo" yaml:"stereo" json:"stereo"`

	// Refinement configuration
	Filter FilterConfig `mapstructure:"filter" yaml:"filter" json:"filter"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// StereoConfig contains the matcher settings.
type StereoConfig struct {
	Algorithm      string  `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
	MinDisparity   int     `mapstructure:"min_disparity" yaml:"min_disparity" json:"min_disparity"`
	NumDisparities int     `mapstructure:"num_disparities" yaml:"num_disparities" json:"num_disparities"`
	WindowSize     int     `mapstructure:"window_size" yaml:"window_size" json:"window_size"`
	Downscale      float64 `mapstructure:"downscale" yaml:"downscale" json:"downscale"`
	Workers        int     `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// FilterConfig contains the WLS refinement settings.
type FilterConfig struct {
	Mode                string  `mapstructure:"mode" yaml:"mode" json:"mode"`
	Lambda              float64 `mapstructure:"lambda" yaml:"lambda" json:"lambda"`
	Sigma               float64 `mapstructure:"sigma" yaml:"sigma" json:"sigma"`
	LRCThreshold        float64 `mapstructure:"lrc_threshold" yaml:"lrc_threshold" json:"lrc_threshold"`
	DiscontinuityRadius int     `mapstructure:"discontinuity_radius" yaml:"discontinuity_radius" json:"discontinuity_radius"`
}

// OutputConfig names the optional output files. An empty path means the
// output is not written.
type OutputConfig struct {
	Filtered       string  `mapstructure:"filtered" yaml:"filtered" json:"filtered"`
	Raw            string  `mapstructure:"raw" yaml:"raw" json:"raw"`
	Confidence     string  `mapstructure:"confidence" yaml:"confidence" json:"confidence"`
	SampleType     string  `mapstructure:"sample_type" yaml:"sample_type" json:"sample_type"`
	VisualizeScale float64 `mapstructure:"visualize_scale" yaml:"visualize_scale" json:"visualize_scale"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       int    `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	ContinueOnError bool   `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
	LeftSuffix      string `mapstructure:"left_suffix" yaml:"left_suffix" json:"left_suffix"`
	RightSuffix     string `mapstructure:"right_suffix" yaml:"right_suffix" json:"right_suffix"`
}
