package service

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EnrichmentScheduler runs the enrichment sweep on a cron schedule.
type EnrichmentScheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// NewEnrichmentScheduler registers the sweep under a cron schedule. An empty schedule yields
// a nil scheduler.
func NewEnrichmentScheduler(schedule string, svc sweeper, logger *zap.Logger) (*EnrichmentScheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		logger.Info("running scheduled enrichment sweep")
		queued, err := svc.Sweep(context.Background())
		if err != nil {
			logger.Error("scheduled enrichment sweep failed", zap.Error(err))
			return
		}
		logger.Info("scheduled enrichment sweep completed", zap.Int("queued", queued))
	}); err != nil {
		return nil, err
	}
	return &EnrichmentScheduler{cron: c, logger: logger}, nil
}

// Start begins firing the schedule.
func (s *EnrichmentScheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (s *EnrichmentScheduler) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}
