package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/eternisai/push-relay/internal/logger"
)

// ProbeConfig controls the silent refresh probe.
type ProbeConfig struct {
	// Schedule is a cron spec, e.g. "@every 30m".
	Schedule           string
	FreshnessThreshold time.Duration
	BatchLimit         int
	Concurrency        int
}

// ProbeReport summarizes one probe run.
type ProbeReport struct {
	MarkedStale int
	Probed      int
	Refreshed   int
	Invalidated int
	Failed      int
}

// Probe periodically sends silent pushes to tokens that have not been validated
// recently. A successful probe refreshes the token; a permanent failure retires it.
type Probe struct {
	store   TokenStore
	sender  sender
	cfg     ProbeConfig
	metrics *Metrics
	logger  *logger.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewProbe creates a probe. Start must be called to schedule it.
func NewProbe(store TokenStore, s sender, cfg ProbeConfig, metrics *Metrics, log *logger.Logger) *Probe {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = 500
	}

	return &Probe{
		store:   store,
		sender:  s,
		cfg:     cfg,
		metrics: metrics,
		logger:  log.WithComponent("refresh-probe"),
		now:     time.Now,
	}
}

// RunOnce probes up to batchLimit tokens last validated more than freshnessThreshold ago.
func (p *Probe) RunOnce(ctx context.Context, freshnessThreshold time.Duration, batchLimit int) (ProbeReport, error) {
	var report ProbeReport
	cutoff := p.now().Add(-freshnessThreshold)

	marked, err := p.store.MarkStale(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to mark stale tokens: %w", err)
	}
	report.MarkedStale = marked
	p.metrics.staleTransited.Add(float64(marked))

	tokens, err := p.store.ListStale(ctx, cutoff, batchLimit)
	if err != nil {
		return report, fmt.Errorf("failed to list stale tokens: %w", err)
	}
	if len(tokens) == 0 {
		return report, nil
	}

	p.logger.Info("probing stale tokens",
		slog.Int("count", len(tokens)),
		slog.Int("marked_stale", marked),
		slog.Time("cutoff", cutoff))

	var refreshed, invalidated, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, token := range tokens {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.sender.Send(gctx, "", probeMessage(token.RecipientID))

			switch {
			case res.Status == StatusDelivered:
				refreshed.Add(1)
				p.metrics.probedTokens.WithLabelValues("refreshed").Inc()
			case res.Kind.InvalidatesToken():
				invalidated.Add(1)
				p.metrics.probedTokens.WithLabelValues("invalidated").Inc()
			case res.Status == StatusCancelled:
				return gctx.Err()
			default:
				failed.Add(1)
				p.metrics.probedTokens.WithLabelValues("failed").Inc()
			}
			return nil
		})
	}

	err = g.Wait()

	report.Refreshed = int(refreshed.Load())
	report.Invalidated = int(invalidated.Load())
	report.Failed = int(failed.Load())
	report.Probed = report.Refreshed + report.Invalidated + report.Failed

	p.logger.Info("probe run finished",
		slog.Int("probed", report.Probed),
		slog.Int("refreshed", report.Refreshed),
		slog.Int("invalidated", report.Invalidated),
		slog.Int("failed", report.Failed))

	return report, err
}

// probeMessage is a Silent, Normal message: it never alerts the user and never escalates.
func probeMessage(recipientID string) NotificationMessage {
	return NotificationMessage{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Importance:  ImportanceNormal,
		Mode:        ModeSilent,
	}
}

// Start schedules RunOnce on the configured cron spec. Overlapping runs are skipped.
func (p *Probe) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return fmt.Errorf("probe already started")
	}

	cronLog := logger.NewCronLogger(p.logger)
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	_, err := c.AddFunc(p.cfg.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.RunOnce(ctx, p.cfg.FreshnessThreshold, p.cfg.BatchLimit); err != nil {
			p.logger.Error("probe run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", p.cfg.Schedule, err)
	}

	c.Start()
	p.cron = c

	p.logger.Info("refresh probe scheduled",
		slog.String("schedule", p.cfg.Schedule),
		slog.Duration("freshness_threshold", p.cfg.FreshnessThreshold),
		slog.Int("batch_limit", p.cfg.BatchLimit))

	return nil
}

// Stop unschedules the probe and waits for a running job, bounded by ctx.
func (p *Probe) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		p.logger.Info("refresh probe stopped")
	case <-ctx.Done():
		p.logger.Warn("refresh probe did not stop in time")
	}
}
