package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs backups on a cron schedule.
type Scheduler struct {
	Coordinator *Coordinator
	Schedule    string
	Logger      zerolog.Logger

	Cron      *cron.Cron
	CronEntry cron.EntryID
}

// StartSchedule of backup cron
func (s *Scheduler) StartSchedule() error {
	s.Cron = cron.New()
	s.Cron.Start()

	if s.Schedule == "" {
		return nil
	}

	var err error
	s.CronEntry, err = s.Cron.AddFunc(s.Schedule, func() {
		if _, err := s.Coordinator.Run(context.Background()); err != nil {
			s.Logger.Error().Err(err).Msg("scheduled backup failed")
		}
		s.Logger.Info().Time("next", s.Cron.Entry(s.CronEntry).Next).Msg("next backup")
	})
	if err != nil {
		return fmt.Errorf("failed to create backup schedule: %w", err)
	}
	s.Logger.Info().Time("next", s.Cron.Entry(s.CronEntry).Next).Msg("next backup")
	return nil
}

// StopSchedule cron of backup, waiting at most timeout for a running job
func (s *Scheduler) StopSchedule(timeout time.Duration) {
	if s.Cron != nil {
		ctx := s.Cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
	}
}
