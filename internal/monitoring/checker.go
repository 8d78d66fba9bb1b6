package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/config"
	"github.com/sells-group/sku-lookup/internal/contrib"
)

// Replayer retries parked contributions.
type Replayer interface {
	Replay(ctx context.Context, limit int) (*contrib.ReplayResult, error)
}

// Checker runs periodic health checks in the background. When a Replayer
// is set, each tick also retries due failed contributions before the
// snapshot is taken.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	replayer  Replayer
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker. replayer may be nil.
func NewChecker(collector *Collector, alerter *Alerter, replayer Replayer, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		replayer:  replayer,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	if c.replayer != nil && c.cfg.ReplayLimit > 0 {
		res, err := c.replayer.Replay(ctx, c.cfg.ReplayLimit)
		if err != nil {
			log.Error("monitoring: replay failed", zap.Error(err))
		} else if res.Attempted > 0 {
			log.Info("monitoring: replayed contributions",
				zap.Int("attempted", res.Attempted),
				zap.Int("succeeded", res.Succeeded),
			)
		}
	}

	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
