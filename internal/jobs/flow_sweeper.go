package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
)

// Sweeper expires flows whose quotes can no longer be acted on.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// EventPublisher emits the sweep summary event.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// FlowSweeper periodically expires stale match flows and emits a NATS
// event summarizing each sweep that changed something.
type FlowSweeper struct {
	logger    *zap.Logger
	sweeper   Sweeper
	publisher EventPublisher // optional
	subject   string
	interval  time.Duration
	stopCh    chan struct{}
}

// NewFlowSweeper constructs a background job that runs periodically.
func NewFlowSweeper(logger *zap.Logger, sweeper Sweeper, pub EventPublisher, subject string, interval time.Duration) *FlowSweeper {
	return &FlowSweeper{
		logger:    logger,
		sweeper:   sweeper,
		publisher: pub,
		subject:   subject,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is canceled.
func (r *FlowSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("flow_sweeper.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("flow_sweeper.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("flow_sweeper.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the sweeper.
func (r *FlowSweeper) Stop() {
	close(r.stopCh)
}

// runOnce executes one sweep.
func (r *FlowSweeper) runOnce(ctx context.Context) {
	start := time.Now()

	changed, err := r.sweeper.SweepExpired(ctx)
	if err != nil {
		metrics.IncError("flow_sweeper", "sweep_failed")
		r.logger.Error("flow_sweeper.sweep_failed", zap.Error(err))
		return
	}
	metrics.SetLastSweep("flow_sweeper", start)
	if changed == 0 {
		return
	}

	if r.publisher != nil {
		event := map[string]any{
			"event":       r.subject,
			"timestamp":   time.Now().UTC(),
			"expired":     changed,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err := r.publisher.Publish(ctx, r.subject, event); err != nil {
			r.logger.Warn("flow_sweeper.nats_publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("flow_sweeper.success",
		zap.Int("expired", changed),
		zap.Duration("duration", time.Since(start)))
}
