package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/pawpoint/admin-identity/internal/model"
)

const (
	replayRetryMin = 500 * time.Millisecond
	replayRetryMax = 30 * time.Second
	replayTimeout  = 10 * time.Second
)

// SpoolReader is the part of *kafka.Reader the replay job consumes.
type SpoolReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditInserter persists one audit event. Inserts must be idempotent on the
// event ID since a message can be replayed more than once.
type AuditInserter interface {
	Insert(ctx context.Context, event *model.AuditEvent) error
}

// AuditReplayJob drains audit events spooled to Kafka while the store was
// unavailable back into the store.
type AuditReplayJob struct {
	reader SpoolReader
	store  AuditInserter
	sleep  func(ctx context.Context, d time.Duration) bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSpoolReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

func NewAuditReplayJob(reader SpoolReader, store AuditInserter) *AuditReplayJob {
	return &AuditReplayJob{
		reader: reader,
		store:  store,
		sleep:  sleepCtx,
	}
}

func (j *AuditReplayJob) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.Run(ctx)
	}()
	log.Info().Msg("audit replay job started")
}

// Stop cancels the consume loop, waits for it, and closes the reader.
func (j *AuditReplayJob) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	if err := j.reader.Close(); err != nil {
		log.Warn().Err(err).Msg("close audit spool reader")
	}
	log.Info().Msg("audit replay job stopped")
}

// Run consumes until ctx is cancelled. An offset is committed only after its
// event is stored, so a crash replays rather than loses it.
func (j *AuditReplayJob) Run(ctx context.Context) {
	backoff := replayRetryMin
	for {
		msg, err := j.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("fetch spooled audit event")
			if !j.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = replayRetryMin

		if !j.replay(ctx, msg) {
			return
		}
		if err := j.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit spooled audit event")
		}
	}
}

// replay stores one message, retrying until it succeeds. It returns false
// only when ctx ends first.
func (j *AuditReplayJob) replay(ctx context.Context, msg kafka.Message) bool {
	var event model.AuditEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.ID == "" {
		log.Error().Err(err).Int64("offset", msg.Offset).Msg("dropping malformed spooled audit event")
		return true
	}

	backoff := replayRetryMin
	for {
		insertCtx, cancel := context.WithTimeout(ctx, replayTimeout)
		err := j.store.Insert(insertCtx, &event)
		cancel()
		if err == nil {
			log.Info().Str("event_id", event.ID).Str("event_type", event.EventType).Msg("replayed spooled audit event")
			return true
		}

		log.Warn().Err(err).Str("event_id", event.ID).Dur("retry_in", backoff).Msg("replay audit event")
		if !j.sleep(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > replayRetryMax {
		return replayRetryMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
