// Package batch runs the stereo pipeline over directories of stereo pairs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// ProcessBatch discovers the pairs under paths and processes them with the
// given configuration.
func ProcessBatch(ctx context.Context, paths []string, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pairs, unpaired, err := DiscoverPairs(paths, config)
	if err != nil {
		return nil, fmt.Errorf("failed to discover stereo pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil, errors.New("no stereo pairs found")
	}

	// Set up progress callback
	var progressCallback pipeline.ProgressCallback
	if config.ShowProgress && !config.Quiet {
		progressCallback = pipeline.NewConsoleProgressCallback(
			os.Stderr,
			"Processing: ",
		).WithUpdateInterval(config.ProgressInterval)
	}

	pl, err := pipeline.NewBuilder().
		WithConfig(config.Pipeline).
		WithObserver(pipeline.LogStageObserver{}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build stereo pipeline: %w", err)
	}

	sources := make([]pipeline.PairSource, len(pairs))
	for i, p := range pairs {
		sources[i] = filePair{p}
	}

	var (
		mu      sync.Mutex
		written = make([][]string, len(pairs))
	)
	pcfg := pipeline.ParallelConfig{
		MaxWorkers:       config.Workers,
		ProgressCallback: progressCallback,
		ContinueOnError:  config.ContinueOnError,
		OnResult: func(i int, _ pipeline.PairSource, res *pipeline.Result) error {
			files, err := writePairOutputs(config, pairs[i], res)
			if err != nil {
				return err
			}
			mu.Lock()
			written[i] = files
			mu.Unlock()
			return nil
		},
	}

	startTime := time.Now()
	outcomes, err := pl.ProcessPairsParallel(ctx, sources, pcfg)
	duration := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("batch processing failed: %w", err)
	}

	result := &Result{
		Pairs:       make([]PairSummary, len(pairs)),
		Unpaired:    unpaired,
		Duration:    duration,
		WorkerCount: workerCount(config.Workers, len(pairs)),
		Settings:    pl.Info(),
		outcomes:    outcomes,
	}
	for i, o := range outcomes {
		result.Pairs[i] = summarize(pairs[i], o, written[i])
	}

	slog.Info("Batch finished",
		"pairs", len(pairs),
		"failed", result.Failed(),
		"duration", duration.Round(time.Millisecond))
	return result, nil
}

func workerCount(configured, pairs int) int {
	if configured <= 0 {
		configured = pipeline.DefaultParallelConfig().MaxWorkers
	}
	return min(configured, pairs)
}
