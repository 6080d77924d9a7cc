// Package scheduler triggers periodic aggregation runs on a cron schedule,
// registering a single recurring job rather than one cron entry per
// pipeline.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/config"
	"github.com/jordigilh/ocpaggregator/internal/orchestrator"
)

// Scheduler runs an Orchestrator on a cron schedule, skipping an overlapping
// fire if a previous run is still in flight rather than queuing it.
type Scheduler struct {
	cron    *cron.Cron
	orch    *orchestrator.Orchestrator
	id      config.RunIdentity
	running sync.Mutex
}

// New builds a Scheduler for identity id, using the standard 5-field cron
// expression format; this module's runs take minutes, so a 6-field
// seconds resolution is not useful here.
func New(orch *orchestrator.Orchestrator, id config.RunIdentity) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		orch: orch,
		id:   id,
	}
}

// Start registers schedule and starts the cron loop. An empty schedule is
// a no-op: the caller is expected to trigger runs manually instead.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		log.Info().Msg("no schedule configured, scheduler idle")
		return nil
	}
	_, err := s.cron.AddFunc(schedule, s.fire)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", schedule).Msg("aggregation scheduler started")
	return nil
}

// Stop drains any in-flight cron dispatch and stops the loop.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) fire() {
	if !s.running.TryLock() {
		log.Warn().Msg("scheduled run skipped: previous run still in flight")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	log.Info().Str("source_uuid", s.id.SourceUUID).Msg("scheduled aggregation run starting")
	if _, err := s.orch.Run(ctx, s.id); err != nil {
		log.Error().Err(err).Msg("scheduled aggregation run failed")
	}
}
