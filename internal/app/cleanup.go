package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sessionSweeper is the memory side of the periodic cleanup.
type sessionSweeper interface {
	KnownUsers() []string
	CleanupOldSessions(ctx context.Context, userID string, maxAge time.Duration) (int, error)
}

// cronParser accepts standard 5-field expressions, an optional seconds field
// and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CleanupScheduler deletes idle sessions of every user seen since startup
// on a cron schedule. An empty schedule leaves only manual sweeps.
type CleanupScheduler struct {
	sweeper sessionSweeper
	maxAge  time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
}

func newCleanupScheduler(schedule string, sweeper sessionSweeper, maxAge time.Duration, logger *zap.Logger) (*CleanupScheduler, error) {
	s := &CleanupScheduler{
		sweeper: sweeper,
		maxAge:  maxAge,
		logger:  logger,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
	if schedule == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid SESSION_CLEANUP_SCHEDULE %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep runs one cleanup pass and returns the number of deleted sessions.
func (s *CleanupScheduler) Sweep(ctx context.Context) int {
	total := 0
	for _, userID := range s.sweeper.KnownUsers() {
		n, err := s.sweeper.CleanupOldSessions(ctx, userID, s.maxAge)
		if err != nil {
			s.logger.Warn("session cleanup failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("session cleanup pass finished", zap.Int("deleted", total), zap.Duration("max_age", s.maxAge))
	}
	return total
}

func (s *CleanupScheduler) Start() { s.cron.Start() }

// Stop waits for a running sweep to finish.
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
}
