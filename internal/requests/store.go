package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// Request is a participation-request row.
type Request struct {
	ID          int64
	EventID     int64
	RequesterID int64
	Status      dto.RequestStatus
	CreatedAt   time.Time
}

// DTO converts the row to its wire form.
func (r *Request) DTO() dto.ParticipationRequest {
	return dto.ParticipationRequest{
		ID:          r.ID,
		EventID:     r.EventID,
		RequesterID: r.RequesterID,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
	}
}

// Store persists participation requests. The partial unique index on
// (event_id, requester_id) excluding CANCELED rows is what enforces the
// one-active-request-per-pair invariant; Create relies on it rather than
// on a racy pre-check.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the requests table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS requests (
			id           BIGSERIAL PRIMARY KEY,
			event_id     BIGINT      NOT NULL,
			requester_id BIGINT      NOT NULL,
			status       TEXT        NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create requests table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS requests_active_pair
		ON requests (event_id, requester_id)
		WHERE status <> 'CANCELED'`)
	if err != nil {
		return fmt.Errorf("failed to create active-pair index: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS requests_by_event ON requests (event_id)`)
	if err != nil {
		return fmt.Errorf("failed to create event index: %w", err)
	}
	return nil
}

const requestColumns = `id, event_id, requester_id, status, created_at`

// Create inserts a request with the given initial status. A second active
// request for the same (event, requester) pair fails with Conflict.
func (s *Store) Create(ctx context.Context, eventID, requesterID int64, status dto.RequestStatus) (*Request, error) {
	r := &Request{
		EventID:     eventID,
		RequesterID: requesterID,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO requests (event_id, requester_id, status, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		r.EventID, r.RequesterID, r.Status, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperr.Conflict("request for event %d by user %d already exists", eventID, requesterID)
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return r, nil
}

// Get fetches a request by id.
func (s *Store) Get(ctx context.Context, requestID int64) (*Request, error) {
	var r Request
	err := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, requestID,
	).Scan(&r.ID, &r.EventID, &r.RequesterID, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("request %d", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &r, nil
}

// ExistsActive reports whether a non-CANCELED request exists for the pair.
func (s *Store) ExistsActive(ctx context.Context, eventID, requesterID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM requests
			WHERE event_id = $1 AND requester_id = $2 AND status <> 'CANCELED'
		)`,
		eventID, requesterID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active request: %w", err)
	}
	return exists, nil
}

// FindByEvent lists all requests of an event, oldest first.
func (s *Store) FindByEvent(ctx context.Context, eventID int64) ([]Request, error) {
	return s.query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE event_id = $1 ORDER BY created_at, id`,
		eventID)
}

// FindByRequester lists a user's requests, oldest first.
func (s *Store) FindByRequester(ctx context.Context, requesterID int64) ([]Request, error) {
	return s.query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE requester_id = $1 ORDER BY created_at, id`,
		requesterID)
}

// FindByIDs returns the existing requests among ids, in the order the ids
// were given; missing ids are silently omitted.
func (s *Store) FindByIDs(ctx context.Context, ids []int64) ([]Request, error) {
	if len(ids) == 0 {
		return []Request{}, nil
	}
	found, err := s.query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return reorder(found, ids), nil
}

// BulkSetStatus transitions every found request to status and returns the
// updated rows in the order the ids were given; ids not found are skipped.
func (s *Store) BulkSetStatus(ctx context.Context, ids []int64, status dto.RequestStatus) ([]Request, error) {
	if len(ids) == 0 {
		return []Request{}, nil
	}
	updated, err := s.query(ctx,
		`UPDATE requests SET status = $2 WHERE id = ANY($1) RETURNING `+requestColumns,
		pq.Array(ids), status)
	if err != nil {
		return nil, err
	}
	return reorder(updated, ids), nil
}

// SetStatus transitions one request.
func (s *Store) SetStatus(ctx context.Context, requestID int64, status dto.RequestStatus) (*Request, error) {
	var r Request
	err := s.db.QueryRowContext(ctx,
		`UPDATE requests SET status = $2 WHERE id = $1 RETURNING `+requestColumns,
		requestID, status,
	).Scan(&r.ID, &r.EventID, &r.RequesterID, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("request %d", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set request status: %w", err)
	}
	return &r, nil
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.EventID, &r.RequesterID, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return out, nil
}

// reorder sorts rows into the caller-supplied id order, preserving the
// batch priority contract across the SQL round trip.
func reorder(rows []Request, ids []int64) []Request {
	byID := make(map[int64]Request, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]Request, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out
}
