package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OrganizationLister supplies the set of organizations to refresh on
// each scheduled pass.
type OrganizationLister func(ctx context.Context) ([]string, error)

// Scheduler runs periodic full syncs in the background.
type Scheduler struct {
	syncer   *Syncer
	interval time.Duration
	listOrgs OrganizationLister

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(s *Syncer, interval time.Duration, listOrgs OrganizationLister) *Scheduler {
	return &Scheduler{
		syncer:   s,
		interval: interval,
		listOrgs: listOrgs,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runPass(ctx)
		for {
			select {
			case <-ticker.C:
				s.runPass(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) runPass(ctx context.Context) {
	orgs, err := s.listOrgs(ctx)
	if err != nil {
		slog.Error("scheduled sync could not list organizations", "error", err)
		return
	}

	for _, org := range orgs {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		report := s.syncer.SyncAll(ctx, org)
		if report.Failed() {
			slog.Warn("scheduled sync finished with errors", "organization_id", org)
		}
	}
}
