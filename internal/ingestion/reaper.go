package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically rolls back pending commit rows that were abandoned
// mid-pipeline (process crash between stage and promote). Swept rows become
// rolled_back and their staged KV blobs expire on their own TTL.
type Reaper struct {
	commits  CommitLog
	age      time.Duration
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a stopped reaper. Call Start to begin sweeping.
func NewReaper(commits CommitLog, cfg *Config, logger *slog.Logger) *Reaper {
	return &Reaper{
		commits:  commits,
		age:      cfg.PendingSweepAge,
		interval: cfg.SweepInterval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop signals the loop to exit and blocks until it has.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})

	<-r.done
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept, err := r.commits.SweepStalePending(ctx, r.age)
	if err != nil {
		r.logger.Error("pending sweep failed",
			slog.String("error", err.Error()),
		)

		return
	}

	if swept > 0 {
		r.logger.Info("swept stale pending commits",
			slog.Int("count", swept),
			slog.Duration("older_than", r.age),
		)
	}
}
