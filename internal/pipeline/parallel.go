package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// PairSource yields one stereo pair. Loading happens on the worker that
// processes the pair.
type PairSource interface {
	Name() string
	Load() (left, right *imgbuf.Mat, err error)
}

// MemoryPair is a PairSource over decoded views.
type MemoryPair struct {
	ID          string
	Left, Right *imgbuf.Mat
}

func (p MemoryPair) Name() string { return p.ID }

func (p MemoryPair) Load() (left, right *imgbuf.Mat, err error) { return p.Left, p.Right, nil }

// ParallelConfig configures ProcessPairsParallel.
type ParallelConfig struct {
	MaxWorkers       int              // 0 = runtime.NumCPU()
	ProgressCallback ProgressCallback // optional
	// ContinueOnError keeps going after a failed pair; otherwise the
	// remaining pairs are cancelled.
	ContinueOnError bool
	// OnResult is called from the worker after each successful pair.
	OnResult func(index int, src PairSource, res *Result) error
}

// DefaultParallelConfig returns one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// PairOutcome is the per-pair result of ProcessPairsParallel.
type PairOutcome struct {
	Name     string
	Result   *Result
	Err      error
	Duration time.Duration
}

type pairJob struct {
	index int
	src   PairSource
}

// ProcessPairsParallel runs every pair through the pipeline on a worker
// pool and returns outcomes in input order. The error is the first pair
// failure, or the context error.
func (p *Pipeline) ProcessPairsParallel(ctx context.Context, pairs []PairSource, cfg ParallelConfig) ([]PairOutcome, error) {
	if len(pairs) == 0 {
		return nil, errors.New("no stereo pairs provided")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	workers := min(cfg.MaxWorkers, len(pairs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.ProgressCallback != nil {
		cfg.ProgressCallback.OnStart(len(pairs))
		defer cfg.ProgressCallback.OnComplete()
	}

	jobs := make(chan pairJob)
	done := make(chan int, len(pairs))
	outcomes := make([]PairOutcome, len(pairs))

	var wg sync.WaitGroup
	for _i := 0; _i < workers; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				outcomes[job.index] = p.processPair(ctx, job, cfg)
				if outcomes[job.index].Err != nil && !cfg.ContinueOnError {
					cancel()
				}
				done <- job.index
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, src := range pairs {
			select {
			case jobs <- pairJob{index: i, src: src}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	finished := 0
	for i := range done {
		finished++
		if err := outcomes[i].Err; err != nil && cfg.ProgressCallback != nil {
			cfg.ProgressCallback.OnError(i+1, err)
		}
		if cfg.ProgressCallback != nil {
			cfg.ProgressCallback.OnProgress(finished, len(pairs))
		}
	}

	var firstErr error
	for i := range outcomes {
		if outcomes[i].Name == "" {
			outcomes[i].Name = pairs[i].Name()
		}
		if outcomes[i].Result == nil && outcomes[i].Err == nil {
			outcomes[i].Err = context.Cause(ctx)
		}
		if outcomes[i].Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pair %s: %w", outcomes[i].Name, outcomes[i].Err)
		}
	}
	if cfg.ContinueOnError {
		return outcomes, nil
	}
	return outcomes, firstErr
}

func (p *Pipeline) processPair(ctx context.Context, job pairJob, cfg ParallelConfig) PairOutcome {
	start := time.Now()
	out := PairOutcome{Name: job.src.Name()}

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	left, right, err := job.src.Load()
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}
	res, err := p.Run(ctx, left, right)
	if err == nil && cfg.OnResult != nil {
		err = cfg.OnResult(job.index, job.src, res)
	}
	out.Result, out.Err = res, err
	out.Duration = time.Since(start)
	return out
}

// ParallelStats summarises a parallel run.
type ParallelStats struct {
	TotalPairs       int           `json:"total_pairs" yaml:"total_pairs"`
	ProcessedPairs   int           `json:"processed_pairs" yaml:"processed_pairs"`
	FailedPairs      int           `json:"failed_pairs" yaml:"failed_pairs"`
	WorkerCount      int           `json:"worker_count" yaml:"worker_count"`
	TotalDuration    time.Duration `json:"total_duration_ns" yaml:"total_duration"`
	AveragePerPair   time.Duration `json:"average_per_pair_ns" yaml:"average_per_pair"`
	ThroughputPerSec float64       `json:"throughput_per_sec" yaml:"throughput_per_sec"`
}

// CalculateParallelStats derives throughput figures from outcomes.
func CalculateParallelStats(outcomes []PairOutcome, duration time.Duration, workers int) ParallelStats {
	s := ParallelStats{TotalPairs: len(outcomes), WorkerCount: workers, TotalDuration: duration}
	for _, o := range outcomes {
		if o.Err == nil && o.Result != nil {
			s.ProcessedPairs++
		} else {
			s.FailedPairs++
		}
	}
	if s.ProcessedPairs > 0 {
		s.AveragePerPair = duration / time.Duration(s.ProcessedPairs)
		if duration > 0 {
			s.ThroughputPerSec = float64(s.ProcessedPairs) / duration.Seconds()
		}
	}
	return s
}
