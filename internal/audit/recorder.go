package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/config"
	"github.com/pawpoint/admin-identity/internal/model"
)

// Store persists audit events. Inserts must be idempotent on the event id.
type Store interface {
	Insert(ctx context.Context, event *model.AuditEvent) error
}

// Spool is a durable fallback for events the store could not take.
type Spool interface {
	Enqueue(ctx context.Context, event model.AuditEvent) error
}

// Event is what callers hand to the recorder.
type Event struct {
	Category   model.AuditCategory
	Type       string
	Severity   model.Severity
	ActorID    string
	TargetType string
	TargetID   string
	IP         string
	UserAgent  string
	Details    map[string]interface{}
}

type Recorder struct {
	store Store
	spool Spool
	now   func() time.Time
	// inflight tracks fire-and-forget writes so shutdown can drain them.
	inflight sync.WaitGroup
}

// NewRecorder builds a recorder. spool may be nil.
func NewRecorder(store Store, spool Spool) *Recorder {
	return &Recorder{store: store, spool: spool, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record writes an event without blocking the caller. Failures are logged
// and never surface to the triggering action.
func (r *Recorder) Record(ctx context.Context, e Event) {
	event := r.build(e)
	logEvent(event, e.Details)

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.AuditWriteTimeout)
		defer cancel()

		if err := r.persist(writeCtx, event); err != nil {
			log.Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.EventType).
				Msg("audit event dropped")
		}
	}()
}

// RecordSync writes an event before returning. It succeeds if the store or
// the spool accepted the event. Used for lockout and MFA outcomes.
func (r *Recorder) RecordSync(ctx context.Context, e Event) error {
	event := r.build(e)
	logEvent(event, e.Details)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.AuditWriteTimeout)
	defer cancel()

	if err := r.persist(writeCtx, event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", event.EventType).
			Msg("synchronous audit write failed")
		return err
	}
	return nil
}

// Wait blocks until pending fire-and-forget writes finish.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

func (r *Recorder) persist(ctx context.Context, event *model.AuditEvent) error {
	storeErr := r.store.Insert(ctx, event)
	if storeErr == nil {
		return nil
	}

	if r.spool == nil {
		return fmt.Errorf("insert audit event: %w", storeErr)
	}

	if spoolErr := r.spool.Enqueue(ctx, *event); spoolErr != nil {
		return errors.Join(
			fmt.Errorf("insert audit event: %w", storeErr),
			fmt.Errorf("spool audit event: %w", spoolErr),
		)
	}

	log.Warn().Err(storeErr).
		Str("event_id", event.ID).
		Msg("audit store unavailable, event spooled")
	return nil
}

func (r *Recorder) build(e Event) *model.AuditEvent {
	severity := e.Severity
	if severity == "" {
		severity = model.SeverityInfo
	}

	metadata := []byte("{}")
	if len(e.Details) > 0 {
		if encoded, err := json.Marshal(e.Details); err == nil {
			metadata = encoded
		}
	}

	return &model.AuditEvent{
		ID:           uuid.NewString(),
		OccurredAt:   r.now().UTC(),
		Category:     e.Category,
		EventType:    e.Type,
		Severity:     severity,
		ActorAdminID: optional(e.ActorID),
		TargetType:   optional(e.TargetType),
		TargetID:     optional(e.TargetID),
		IPAddress:    e.IP,
		UserAgent:    e.UserAgent,
		Metadata:     metadata,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func logEvent(event *model.AuditEvent, details map[string]interface{}) {
	logger := log.With().
		Str("audit", "security").
		Str("event_id", event.ID).
		Str("category", string(event.Category)).
		Str("event_type", event.EventType).
		Str("severity", string(event.Severity)).
		Time("timestamp", event.OccurredAt).
		Logger()

	if event.ActorAdminID != nil {
		logger = logger.With().Str("actor_admin_id", *event.ActorAdminID).Logger()
	}
	if event.TargetID != nil {
		logger = logger.With().Str("target_id", *event.TargetID).Logger()
	}
	if event.IPAddress != "" {
		logger = logger.With().Str("ip", event.IPAddress).Logger()
	}

	var entry *zerolog.Event
	switch event.Severity {
	case model.SeverityCritical:
		entry = logger.Error()
	case model.SeverityWarning:
		entry = logger.Warn()
	default:
		entry = logger.Info()
	}
	for k, v := range details {
		entry = addField(entry, k, v)
	}
	entry.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
