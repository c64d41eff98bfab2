// Package scheduler drives periodic reconciliation cycles.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/reconcile"
)

// minInterval is the floor for the polling period regardless of
// configuration. Anything faster burns API quota for no freshness gain.
const minInterval = 30 * time.Second

// Scheduler runs reconciliation on the shortest configured workspace
// interval. Workspaces with polling disabled do not contribute to the
// period and are skipped by the sync fan-out itself.
type Scheduler struct {
	cfg     *config.Config
	svc     *reconcile.Service
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

func New(cfg *config.Config, svc *reconcile.Service) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		svc:    svc,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	go s.loop()
}

func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) loop() {
	// First cycle shortly after startup so a fresh deployment converges
	// without waiting out a full period.
	timer := time.NewTimer(5 * time.Second)
	defer func() { timer.Stop(); close(s.doneCh) }()
	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.runOnce()
			timer.Reset(nextInterval(s.cfg.Workspaces))
		}
	}
}

func (s *Scheduler) runOnce() {
	// Ticks are joint: the timer resets only after every workspace in
	// the fan-out returns, so a slow workspace holds back the others
	// until this timeout cuts it off.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	log.Debug().Msg("scheduled sync cycle starting")
	s.svc.SyncAll(ctx, false)
}

// nextInterval picks the shortest interval among polling-enabled
// workspaces, clamped to minInterval. With none enabled it falls back
// to the default workspace interval.
func nextInterval(workspaces []config.Workspace) time.Duration {
	var min time.Duration
	for _, ws := range workspaces {
		if !ws.PollEnabled {
			continue
		}
		if iv := ws.Interval(); min == 0 || iv < min {
			min = iv
		}
	}
	if min == 0 {
		min = config.Workspace{}.Interval()
	}
	if min < minInterval {
		min = minInterval
	}
	return min
}
