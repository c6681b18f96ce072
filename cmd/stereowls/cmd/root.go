package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/stereowls/internal/config"
	"github.com/MeKo-Tech/stereowls/internal/version"
)

// app carries the state shared by one command tree.
type app struct {
	// Configuration file path.
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config
}

// NewRootCommand builds the stereowls command tree. Every tree owns a
// fresh viper instance, so a process can build and execute several.
func NewRootCommand() *cobra.Command {
	a := &app{loader: config.NewLoader(viper.New())}

	rootCmd := &cobra.Command{
		Use:   "stereowls",
		Short: "Stereo disparity estimation with edge-aware WLS refinement",
		Long: `Compute disparity maps from rectified stereo pairs and refine them with a
weighted-least-squares filter guided by the left view.

This tool provides:
- Block matching (bm) and semi-global matching (sgbm)
- Left-right consistency confidence and WLS post-filtering
- Filtering of precomputed depth maps, with or without a guide image
- Batch processing of stereo pair directories
- An HTTP and WebSocket server

Examples:
  stereowls match left.png right.png -o disparity.png
  stereowls filter guide.png depth.png -o filtered.png
  stereowls batch pairs/ --output-dir out/
  stereowls serve --port 8080`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _ := cmd.Flags().GetBool("version")
			if v {
				ver, commit, date := version.Info()
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "stereowls version %s\n", ver)
				_, _ = fmt.Fprintf(out, "Commit: %s\n", commit)
				_, _ = fmt.Fprintf(out, "Date: %s\n", date)
				return nil
			}
			return cmd.Help()
		},
	}

	// Global flags that apply to all commands
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/stereowls, /etc/stereowls)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	v := a.loader.GetViper()
	_ = v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))

	rootCmd.AddCommand(
		a.newMatchCmd(),
		a.newFilterCmd(),
		a.newSmoothCmd(),
		a.newBilateralCmd(),
		a.newEdgesCmd(),
		a.newBatchCmd(),
		a.newServeCmd(),
		a.newConfigCmd(),
	)
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure. This is
// called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var err error
	if cmd.Annotations[skipValidation] == "true" {
		a.cfg, err = a.loader.LoadWithFileWithoutValidation(a.cfgFile)
	} else {
		a.cfg, err = a.loader.LoadWithFile(a.cfgFile)
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), a.cfg))
	slog.Debug("Configuration loaded", "file", a.loader.GetConfigFileUsed())
	return nil
}

// skipValidation marks commands that must run on an invalid configuration.
const skipValidation = "skip-config-validation"

// newLogger builds the JSON logger at the configured level. Logs go to w,
// keeping stdout for results.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}
