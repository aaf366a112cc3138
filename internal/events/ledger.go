package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// Event is an event row. The capacity columns (participant_limit,
// confirmed_requests) form the ledger; confirmed_requests is only ever
// written through the conditional updates below, never by callers doing
// read-then-write.
type Event struct {
	ID                int64
	InitiatorID       int64
	Title             string
	ParticipantLimit  int64
	ConfirmedRequests int64
	RequestModeration bool
	State             dto.EventState
	CreatedAt         time.Time
	PublishedAt       *time.Time
}

// Snapshot converts the row to its cross-service capacity view.
func (e *Event) Snapshot() *dto.EventSnapshot {
	return &dto.EventSnapshot{
		ID:                e.ID,
		InitiatorID:       e.InitiatorID,
		ParticipantLimit:  e.ParticipantLimit,
		ConfirmedRequests: e.ConfirmedRequests,
		RequestModeration: e.RequestModeration,
		State:             e.State,
	}
}

// Ledger is the authoritative store of event capacity.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a ledger over the given database.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// EnsureSchema creates the events table if missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id                 BIGSERIAL PRIMARY KEY,
			initiator_id       BIGINT      NOT NULL,
			title              TEXT        NOT NULL,
			participant_limit  BIGINT      NOT NULL DEFAULT 0,
			confirmed_requests BIGINT      NOT NULL DEFAULT 0,
			request_moderation BOOLEAN     NOT NULL DEFAULT TRUE,
			state              TEXT        NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL,
			published_at       TIMESTAMPTZ,
			CHECK (confirmed_requests >= 0),
			CHECK (participant_limit = 0 OR confirmed_requests <= participant_limit)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

const eventColumns = `id, initiator_id, title, participant_limit, confirmed_requests, request_moderation, state, created_at, published_at`

func scanEvent(row *sql.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.InitiatorID, &e.Title, &e.ParticipantLimit,
		&e.ConfirmedRequests, &e.RequestModeration, &e.State, &e.CreatedAt, &e.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvent inserts a new event in PENDING state.
func (l *Ledger) CreateEvent(ctx context.Context, initiatorID int64, title string, participantLimit int64, requestModeration bool) (*Event, error) {
	row := l.db.QueryRowContext(ctx,
		`INSERT INTO events (initiator_id, title, participant_limit, confirmed_requests, request_moderation, state, created_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6)
		 RETURNING `+eventColumns,
		initiatorID, title, participantLimit, requestModeration, dto.StatePending, time.Now().UTC(),
	)
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return e, nil
}

// GetEvent fetches an event row.
func (l *Ledger) GetEvent(ctx context.Context, eventID int64) (*Event, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("event %d", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// Snapshot returns the capacity snapshot of an event.
func (l *Ledger) Snapshot(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	e, err := l.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return e.Snapshot(), nil
}

// IncrementConfirmed takes one confirmed slot.
func (l *Ledger) IncrementConfirmed(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	return l.AddConfirmed(ctx, eventID, 1)
}

// AddConfirmed adds delta confirmed slots in a single conditional update.
// The limit check and the write happen in one statement, which is what
// keeps confirmed_requests <= participant_limit under concurrent callers;
// the advisory pre-checks the coordinators make are allowed to be stale.
func (l *Ledger) AddConfirmed(ctx context.Context, eventID, delta int64) (*dto.EventSnapshot, error) {
	if delta < 0 {
		return nil, fmt.Errorf("negative delta %d", delta)
	}
	if delta == 0 {
		return l.Snapshot(ctx, eventID)
	}

	row := l.db.QueryRowContext(ctx,
		`UPDATE events
		 SET confirmed_requests = confirmed_requests + $2
		 WHERE id = $1
		   AND (participant_limit = 0 OR confirmed_requests + $2 <= participant_limit)
		 RETURNING `+eventColumns,
		eventID, delta,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		// Either the event is gone or the limit would be breached;
		// probe to tell the caller which.
		if _, probeErr := l.GetEvent(ctx, eventID); probeErr != nil {
			return nil, probeErr
		}
		return nil, apperr.Conflict("event %d participant limit reached", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add confirmed: %w", err)
	}
	return e.Snapshot(), nil
}

// SetState moves an event to a new lifecycle state, stamping published_at
// on publication.
func (l *Ledger) SetState(ctx context.Context, eventID int64, state dto.EventState) (*Event, error) {
	var publishedAt *time.Time
	if state == dto.StatePublished {
		now := time.Now().UTC()
		publishedAt = &now
	}

	row := l.db.QueryRowContext(ctx,
		`UPDATE events
		 SET state = $2, published_at = COALESCE($3, published_at)
		 WHERE id = $1
		 RETURNING `+eventColumns,
		eventID, state, publishedAt,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("event %d", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set event state: %w", err)
	}
	return e, nil
}
