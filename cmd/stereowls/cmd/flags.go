package cmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/stereowls/internal/config"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// addStereoFlags registers the matcher and refinement flags shared by
// match, batch and serve. Help shows the built-in defaults; only flags that
// were set override the configuration.
func addStereoFlags(fs *pflag.FlagSet) {
	d := config.DefaultConfig()
	fs.StringP("algorithm", "a", d.Stereo.Algorithm, "matching algorithm: bm or sgbm")
	fs.String("filter", d.Filter.Mode, "refinement: wls_conf, wls_no_conf or none")
	fs.Int("min-disparity", d.Stereo.MinDisparity, "smallest disparity searched")
	fs.IntP("num-disparities", "n", d.Stereo.NumDisparities, "disparity search range (positive multiple of 16)")
	fs.Int("window-size", d.Stereo.WindowSize, "matcher block size (0 = automatic)")
	fs.Float64("downscale", d.Stereo.Downscale, "shrink the pair by this factor before matching, in (0,1]")
	fs.Float64("lambda", d.Filter.Lambda, "WLS regularisation strength")
	fs.Float64("sigma", d.Filter.Sigma, "WLS sensitivity to guide edges")
	fs.Float64("lrc-threshold", d.Filter.LRCThreshold, "left-right consistency threshold in 1/16 pixel units")
	fs.Int("discontinuity-radius", d.Filter.DiscontinuityRadius, "depth discontinuity radius (0 = automatic)")
	fs.Int("threads", d.Stereo.Workers, "goroutines per image (0 = number of CPUs)")
}

// applyStereoFlags copies the changed stereo flags over cfg.
func applyStereoFlags(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("algorithm") {
		cfg.Stereo.Algorithm, _ = fs.GetString("algorithm")
	}
	if fs.Changed("filter") {
		cfg.Filter.Mode, _ = fs.GetString("filter")
	}
	if fs.Changed("min-disparity") {
		cfg.Stereo.MinDisparity, _ = fs.GetInt("min-disparity")
	}
	if fs.Changed("num-disparities") {
		cfg.Stereo.NumDisparities, _ = fs.GetInt("num-disparities")
	}
	if fs.Changed("window-size") {
		cfg.Stereo.WindowSize, _ = fs.GetInt("window-size")
	}
	if fs.Changed("downscale") {
		cfg.Stereo.Downscale, _ = fs.GetFloat64("downscale")
	}
	if fs.Changed("lambda") {
		cfg.Filter.Lambda, _ = fs.GetFloat64("lambda")
	}
	if fs.Changed("sigma") {
		cfg.Filter.Sigma, _ = fs.GetFloat64("sigma")
	}
	if fs.Changed("lrc-threshold") {
		cfg.Filter.LRCThreshold, _ = fs.GetFloat64("lrc-threshold")
	}
	if fs.Changed("discontinuity-radius") {
		cfg.Filter.DiscontinuityRadius, _ = fs.GetInt("discontinuity-radius")
	}
	if fs.Changed("threads") {
		cfg.Stereo.Workers, _ = fs.GetInt("threads")
	}
}

// addSampleTypeFlag registers --sample-type.
func addSampleTypeFlag(fs *pflag.FlagSet) {
	fs.String("sample-type", config.DefaultConfig().Output.SampleType, "stored sample type of depth outputs: u8 or u16")
}

// fileSampleType resolves --sample-type against the configuration. Image
// files hold 8 or 16-bit samples only.
func fileSampleType(fs *pflag.FlagSet, cfg *config.Config) (imgbuf.SampleType, error) {
	name := cfg.Output.SampleType
	if fs.Changed("sample-type") {
		name, _ = fs.GetString("sample-type")
	}
	t, err := imgbuf.ParseSampleType(name)
	if err != nil {
		return 0, err
	}
	if t != imgbuf.U8 && t != imgbuf.U16 {
		return 0, fmt.Errorf("%w: image outputs hold u8 or u16, got %s", errs.ErrUnsupportedSampleFormat, t)
	}
	return t, nil
}

// storedType keeps a result's own type when a file can hold it.
func storedType(m *imgbuf.Mat, fallback imgbuf.SampleType) imgbuf.SampleType {
	if m.Type == imgbuf.U8 || m.Type == imgbuf.U16 {
		return m.Type
	}
	return fallback
}
