// Package jobs runs the periodic background work: ad expiry, metrics cache
// warm-up with a leaderboard push, and founder profile sync.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trustmymrr/internal/founders"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/metrics"
	"trustmymrr/internal/startups"
)

// Job names, used as metric labels.
const (
	JobExpireAds    = "expire_ads"
	JobWarmMetrics  = "warm_metrics"
	JobSyncFounders = "sync_founders"
)

// ErrUnknownJob is returned by RunOnce for a name it does not know.
var ErrUnknownJob = errors.New("unknown job")

// AdExpirer marks lapsed ads expired.
type AdExpirer interface {
	ExpireAds(ctx context.Context) (int64, error)
}

// MetricsWarmer refreshes cached metrics and ranks startups.
type MetricsWarmer interface {
	WarmMetrics(ctx context.Context) (*startups.WarmResult, error)
	Leaderboard(ctx context.Context, limit int) ([]startups.LeaderboardEntry, error)
}

// FounderSyncer refreshes founder profiles.
type FounderSyncer interface {
	SyncAll(ctx context.Context) (*founders.SyncResult, error)
}

// Broadcaster pushes leaderboard snapshots to live clients.
type Broadcaster interface {
	BroadcastLeaderboard(entries interface{}) error
}

// Config sets job intervals. A zero interval disables that job.
type Config struct {
	AdExpiryInterval    time.Duration
	MetricsWarmInterval time.Duration
	FounderSyncInterval time.Duration
	LeaderboardSize     int
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		AdExpiryInterval:    5 * time.Minute,
		MetricsWarmInterval: time.Hour,
		FounderSyncInterval: 24 * time.Hour,
		LeaderboardSize:     20,
	}
}

// Scheduler owns the job loops.
type Scheduler struct {
	cfg       Config
	ads       AdExpirer
	warmer    MetricsWarmer
	founders  FounderSyncer
	broadcast Broadcaster

	totalRuns   int64
	totalErrors int64
	lastRunUnix sync.Map // job name -> int64

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. Nil collaborators disable their job.
func NewScheduler(cfg Config, ads AdExpirer, warmer MetricsWarmer, fs FounderSyncer, b Broadcaster) *Scheduler {
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = DefaultConfig().LeaderboardSize
	}
	return &Scheduler{cfg: cfg, ads: ads, warmer: warmer, founders: fs, broadcast: b}
}

// Start launches one goroutine per enabled job. Metrics are warmed once at
// startup. Loops exit when ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	if s.ads != nil {
		s.loop(ctx, JobExpireAds, s.cfg.AdExpiryInterval, false, s.ExpireAds)
	}
	if s.warmer != nil {
		s.loop(ctx, JobWarmMetrics, s.cfg.MetricsWarmInterval, true, s.WarmMetrics)
	}
	if s.founders != nil {
		s.loop(ctx, JobSyncFounders, s.cfg.FounderSyncInterval, false, s.SyncFounders)
	}
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, immediate bool, fn func(context.Context) error) {
	if interval <= 0 {
		logging.L().Info("job disabled", zap.String("job", name))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logging.L().Info("job started", zap.String("job", name), zap.Duration("interval", interval))

		if immediate {
			_ = s.run(ctx, name, fn)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logging.L().Info("job stopped", zap.String("job", name))
				return
			case <-ticker.C:
				_ = s.run(ctx, name, fn)
			}
		}
	}()
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	atomic.AddInt64(&s.totalRuns, 1)
	s.lastRunUnix.Store(name, start.Unix())
	metrics.Get().RecordJobRun(name, err, duration)

	if err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		logging.L().Warn("job failed", zap.String("job", name), zap.Duration("duration", duration), zap.Error(err))
	}
	return err
}

// RunOnce runs the named job immediately.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	var fn func(context.Context) error
	switch name {
	case JobExpireAds:
		fn = s.ExpireAds
	case JobWarmMetrics:
		fn = s.WarmMetrics
	case JobSyncFounders:
		fn = s.SyncFounders
	default:
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return s.run(ctx, name, fn)
}

// ExpireAds marks active ads past their end date as expired.
func (s *Scheduler) ExpireAds(ctx context.Context) error {
	if s.ads == nil {
		return nil
	}
	n, err := s.ads.ExpireAds(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.L().Info("ads expired", zap.Int64("count", n))
	}
	return nil
}

// WarmMetrics refreshes every startup's cached metrics, publishes tracked
// MRR gauges and pushes the new leaderboard.
func (s *Scheduler) WarmMetrics(ctx context.Context) error {
	if s.warmer == nil {
		return nil
	}
	res, err := s.warmer.WarmMetrics(ctx)
	if err != nil {
		return err
	}
	metrics.Get().SetTrackedMRR(res.TrackedMRR, res.Failed)
	logging.L().Info("metrics warmed",
		zap.Int("startups", res.Startups),
		zap.Int("failed", res.Failed))

	if s.broadcast == nil {
		return nil
	}
	board, err := s.warmer.Leaderboard(ctx, s.cfg.LeaderboardSize)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	return s.broadcast.BroadcastLeaderboard(board)
}

// SyncFounders refreshes all founder profiles.
func (s *Scheduler) SyncFounders(ctx context.Context) error {
	if s.founders == nil {
		return nil
	}
	_, err := s.founders.SyncAll(ctx)
	return err
}

// Stats returns scheduler counters for the admin endpoint.
func (s *Scheduler) Stats() map[string]interface{} {
	last := map[string]int64{}
	s.lastRunUnix.Range(func(k, v interface{}) bool {
		last[k.(string)] = v.(int64)
		return true
	})
	return map[string]interface{}{
		"ad_expiry_interval":    s.cfg.AdExpiryInterval.String(),
		"metrics_warm_interval": s.cfg.MetricsWarmInterval.String(),
		"founder_sync_interval": s.cfg.FounderSyncInterval.String(),
		"total_runs":            atomic.LoadInt64(&s.totalRuns),
		"total_errors":          atomic.LoadInt64(&s.totalErrors),
		"last_run_unix":         last,
	}
}
