package metrics

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustmymrr/internal/logging"
)

// CatalogCollector periodically mirrors table sizes into gauges.
type CatalogCollector struct {
	db       *gorm.DB
	metrics  *Metrics
	interval time.Duration
	stopCh   chan struct{}
}

// NewCatalogCollector creates a collector reading from db every interval.
func NewCatalogCollector(db *gorm.DB, interval time.Duration) *CatalogCollector {
	return &CatalogCollector{
		db:       db,
		metrics:  Get(),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection
func (cc *CatalogCollector) Start(ctx context.Context) {
	go func() {
		cc.Collect()

		ticker := time.NewTicker(cc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cc.Collect()
			case <-cc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector
func (cc *CatalogCollector) Stop() {
	close(cc.stopCh)
}

// Collect runs a single collection cycle.
func (cc *CatalogCollector) Collect() {
	cc.metrics.GoroutineNum.Set(float64(runtime.NumGoroutine()))
	if cc.db == nil {
		return
	}

	var startups int64
	if err := cc.db.Table("startups").Count(&startups).Error; err != nil {
		logging.L().Warn("count startups", zap.Error(err))
	} else {
		cc.metrics.StartupsGauge.Set(float64(startups))
	}

	var founders int64
	if err := cc.db.Raw("SELECT COUNT(DISTINCT LOWER(x_username)) FROM founders").Scan(&founders).Error; err != nil {
		logging.L().Warn("count founders", zap.Error(err))
	} else {
		cc.metrics.FoundersGauge.Set(float64(founders))
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := cc.db.Table("ads").Select("status, count(*) as count").Group("status").Scan(&counts).Error; err != nil {
		logging.L().Warn("count ads", zap.Error(err))
	} else {
		for _, sc := range counts {
			cc.metrics.AdsGauge.WithLabelValues(sc.Status).Set(float64(sc.Count))
		}
	}

	if sqlDB, err := cc.db.DB(); err == nil {
		stats := sqlDB.Stats()
		cc.metrics.DBConnectionsActive.Set(float64(stats.InUse))
		cc.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}
