// Package jobs contains background maintenance loops that run alongside the
// HTTP server. link_expiry.go implements the LinkExpirySweeper, which
// periodically flips overdue ACTIVE recommendation links to EXPIRED in bulk.
// Consumption checks expiry on its own read path, so the sweep is hygiene: it
// keeps listings honest and the active-link count bounded, but correctness
// does not depend on it. The job is a no-op when the sweep interval is zero,
// so it is always safe to start regardless of deployment environment.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/readmystudent/readmystudent/internal/db/repositories"
	"github.com/readmystudent/readmystudent/internal/safego"
	"github.com/readmystudent/readmystudent/internal/telemetry"
)

// LinkExpirySweeper periodically expires overdue recommendation links.
type LinkExpirySweeper struct {
	linkRepo *repositories.LinkRepository
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewLinkExpirySweeper creates a sweeper. A zero or negative interval disables
// the loop entirely.
func NewLinkExpirySweeper(linkRepo *repositories.LinkRepository, interval time.Duration) *LinkExpirySweeper {
	return &LinkExpirySweeper{
		linkRepo: linkRepo,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background sweep loop and returns immediately. The loop
// runs an initial sweep, then repeats on the configured interval, exiting when
// ctx is cancelled or Stop() is called.
func (s *LinkExpirySweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("link expiry sweeper disabled (links.expiry_sweep_interval not set)")
		return
	}

	safego.GoNamed("link-expiry-sweep", func() {
		s.run(ctx)
	})
}

func (s *LinkExpirySweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("link expiry sweeper started", "interval", s.interval)

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("link expiry sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("link expiry sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *LinkExpirySweeper) Stop() {
	close(s.stopChan)
}

// sweep runs one bulk expiry pass.
func (s *LinkExpirySweeper) sweep(ctx context.Context) {
	expired, err := s.linkRepo.ExpireOverdue(ctx, s.now())
	if err != nil {
		slog.Error("link expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		slog.Info("link expiry sweep", "expired", expired)
		telemetry.LinksExpiredTotal.Add(float64(expired))
	}
}
