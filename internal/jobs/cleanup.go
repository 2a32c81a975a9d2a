package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionPurger removes sessions that ended before the cutoff.
type SessionPurger interface {
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupJob struct {
	sessions  SessionPurger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	done      chan struct{}
}

func NewCleanupJob(sessions SessionPurger, interval, retention time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions:  sessions,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	count, err := j.sessions.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to cleanup admin sessions")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("cleaned up admin sessions")
	}
}
