package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/audit"
	"github.com/pawpoint/admin-identity/internal/config"
	"github.com/pawpoint/admin-identity/internal/database"
	"github.com/pawpoint/admin-identity/internal/model"
)

// AuditRecorder is the subset of *audit.Recorder the services depend on.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Event)
	RecordSync(ctx context.Context, e audit.Event) error
}

// TxRunner runs fn inside a database transaction. *database.DB satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// RequestMeta describes the client behind an operation, for auditing.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// failureCounter abstracts which pair of counter columns is being bumped.
type failureCounter struct {
	name  string
	read  func(*model.AdminAccount) int
	write func(ctx context.Context, id string, upd model.CounterUpdate) (bool, error)
	load  func(ctx context.Context, id string) (*model.AdminAccount, error)
}

// increment adds one failure with compare-and-swap on the row version. When
// the new count reaches threshold the same write sets the lock and resets
// the count. It reports whether this call applied the lock.
func (c failureCounter) increment(
	ctx context.Context,
	account *model.AdminAccount,
	threshold int,
	window time.Duration,
	now time.Time,
) (bool, error) {
	current := account
	for attempt := 0; attempt < config.CounterUpdateRetries; attempt++ {
		count := c.read(current) + 1
		upd := model.CounterUpdate{ExpectedVersion: current.Version, Count: count}
		if count >= threshold {
			until := now.Add(window)
			upd.Count = 0
			upd.LockedUntil = &until
		}

		applied, err := c.write(ctx, current.ID, upd)
		if err != nil {
			return false, err
		}
		if applied {
			return upd.LockedUntil != nil, nil
		}

		current, err = c.load(ctx, account.ID)
		if err != nil {
			return false, err
		}
		if current == nil {
			return false, nil
		}
	}

	log.Warn().
		Str("admin_id", account.ID).
		Str("counter", c.name).
		Msg("failure counter update lost to concurrent writers")
	return false, nil
}
