package seeder

import (
	"context"
	"log/slog"
	"time"

	"github.com/reconhawk/reconhawk-stack/common/logging"
)

// Stats summarises a seeding run.
type Stats struct {
	ScanIDs  []string
	Deleted  int64
	Written  int64
	Batches  int
	Duration time.Duration
}

type Runner struct {
	cfg    *Config
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(cfg *Config, writer Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		writer: writer,
		logger: logger.With(logging.Component("seeder")),
		now:    time.Now,
	}
}

// Run generates every scan, clears earlier data for the same scan ids and
// writes the new events in batches.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	start := r.now()
	gen := NewGenerator(r.cfg, start.Add(-r.cfg.TimeSpread))
	events := gen.Generate()
	stats := &Stats{ScanIDs: gen.ScanIDs()}

	deleted, err := r.writer.Reset(ctx, stats.ScanIDs)
	if err != nil {
		return stats, err
	}
	stats.Deleted = deleted

	for from := 0; from < len(events); from += r.cfg.BatchSize {
		to := min(from+r.cfg.BatchSize, len(events))
		n, err := r.writer.Write(ctx, events[from:to])
		stats.Written += n
		if err != nil {
			return stats, err
		}
		stats.Batches++
		r.logger.DebugContext(ctx, "batch written", slog.Int("batch", stats.Batches), slog.Int64("rows", n))
	}

	stats.Duration = r.now().Sub(start)
	r.logger.InfoContext(ctx, "seeding complete",
		logging.ScanIDs(stats.ScanIDs),
		slog.Int64("written", stats.Written),
		slog.Int64("deleted", stats.Deleted),
		logging.Duration(stats.Duration))
	return stats, nil
}
