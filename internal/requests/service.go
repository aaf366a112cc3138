package requests

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/pkg/messaging"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// EventsAPI is the event service's internal capacity API as seen from
// here. Both calls distinguish definite absence (apperr.ErrNotFound) from
// unavailability (apperr.ErrUnavailable).
type EventsAPI interface {
	Snapshot(ctx context.Context, eventID int64) (*dto.EventSnapshot, error)
	IncrementConfirmed(ctx context.Context, eventID int64) (*dto.EventSnapshot, error)
}

// RequestStore is the persistence surface the admission protocol needs.
type RequestStore interface {
	Create(ctx context.Context, eventID, requesterID int64, status dto.RequestStatus) (*Request, error)
	Get(ctx context.Context, requestID int64) (*Request, error)
	ExistsActive(ctx context.Context, eventID, requesterID int64) (bool, error)
	FindByEvent(ctx context.Context, eventID int64) ([]Request, error)
	FindByRequester(ctx context.Context, requesterID int64) ([]Request, error)
	FindByIDs(ctx context.Context, ids []int64) ([]Request, error)
	BulkSetStatus(ctx context.Context, ids []int64, status dto.RequestStatus) ([]Request, error)
	SetStatus(ctx context.Context, requestID int64, status dto.RequestStatus) (*Request, error)
}

type publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Service owns participation requests and the single-join admission
// protocol.
type Service struct {
	store  RequestStore
	events EventsAPI
	bus    publisher
}

// NewService creates the request service.
func NewService(store RequestStore, events EventsAPI, bus publisher) *Service {
	return &Service{store: store, events: events, bus: bus}
}

// Join runs the single-join admission protocol for requester on event.
//
// The capacity check against the fetched snapshot is advisory; the ledger's
// atomic increment is what actually guards the limit. When the increment
// cannot be completed the join fails closed with ServiceUnavailable and no
// request is persisted: silently downgrading to PENDING could leave a
// confirmed slot unaccounted for.
func (s *Service) Join(ctx context.Context, requesterID, eventID int64) (*dto.ParticipationRequest, error) {
	snap, err := s.events.Snapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if snap.InitiatorID == requesterID {
		return nil, apperr.Conflict("initiator cannot join own event %d", eventID)
	}

	exists, err := s.store.ExistsActive(ctx, eventID, requesterID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("request for event %d by user %d already exists", eventID, requesterID)
	}

	if snap.State != dto.StatePublished {
		return nil, apperr.Conflict("event %d is not published", eventID)
	}

	if snap.ParticipantLimit > 0 && snap.ConfirmedRequests >= snap.ParticipantLimit {
		return nil, apperr.Conflict("event %d participant limit reached", eventID)
	}

	status := dto.StatusPending
	if !snap.RequestModeration || snap.ParticipantLimit == 0 {
		status = dto.StatusConfirmed
	}

	if status == dto.StatusConfirmed {
		if _, err := s.events.IncrementConfirmed(ctx, eventID); err != nil {
			if errors.Is(err, apperr.ErrUnavailable) {
				return nil, apperr.Unavailable("could not reserve a confirmed slot on event %d", eventID)
			}
			return nil, err
		}
	}

	req, err := s.store.Create(ctx, eventID, requesterID, status)
	if err != nil {
		return nil, err
	}

	s.emit(messaging.ParticipantRegistered, messaging.RegistrationEvent{
		UserID: requesterID, EventID: eventID, Timestamp: time.Now().UTC(),
	})
	s.emitRequestEvent(req)

	out := req.DTO()
	return &out, nil
}

// Cancel lets the requester withdraw their own request from any state.
// Canceling a CONFIRMED request does not release the ledger slot; seats
// freed by cancellation are reclaimed by the event owner out of band.
func (s *Service) Cancel(ctx context.Context, requesterID, requestID int64) (*dto.ParticipationRequest, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		return nil, apperr.Forbidden("user %d is not the author of request %d", requesterID, requestID)
	}

	req, err = s.store.SetStatus(ctx, requestID, dto.StatusCanceled)
	if err != nil {
		return nil, err
	}

	s.emitRequestEvent(req)

	out := req.DTO()
	return &out, nil
}

// ListByRequester returns the user's own requests.
func (s *Service) ListByRequester(ctx context.Context, requesterID int64) ([]dto.ParticipationRequest, error) {
	reqs, err := s.store.FindByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	return toDTOs(reqs), nil
}

// EventRequests returns all requests of an event for the internal API.
func (s *Service) EventRequests(ctx context.Context, eventID int64) ([]dto.ParticipationRequest, error) {
	reqs, err := s.store.FindByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return toDTOs(reqs), nil
}

// ByIDs returns the requests matching ids in the given order for the
// internal API; missing ids are omitted.
func (s *Service) ByIDs(ctx context.Context, ids []int64) ([]dto.ParticipationRequest, error) {
	reqs, err := s.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toDTOs(reqs), nil
}

// UpdateStatuses transitions the given requests for the internal API. The
// status must be CONFIRMED or REJECTED; only the batch approval protocol
// calls this.
func (s *Service) UpdateStatuses(ctx context.Context, upd dto.StatusUpdate) ([]dto.ParticipationRequest, error) {
	if upd.Status != dto.StatusConfirmed && upd.Status != dto.StatusRejected {
		return nil, apperr.Conflict("unsupported status %q", upd.Status)
	}

	reqs, err := s.store.BulkSetStatus(ctx, upd.RequestIDs, upd.Status)
	if err != nil {
		return nil, err
	}

	for i := range reqs {
		s.emitRequestEvent(&reqs[i])
	}
	return toDTOs(reqs), nil
}

func (s *Service) emitRequestEvent(req *Request) {
	var subject string
	switch req.Status {
	case dto.StatusPending:
		subject = messaging.RequestCreated
	case dto.StatusConfirmed:
		subject = messaging.RequestConfirmed
	case dto.StatusRejected:
		subject = messaging.RequestRejected
	case dto.StatusCanceled:
		subject = messaging.RequestCanceled
	default:
		return
	}

	s.emit(subject, messaging.RequestEvent{
		RequestID:   req.ID,
		EventID:     req.EventID,
		RequesterID: req.RequesterID,
		Status:      string(req.Status),
		Timestamp:   time.Now().UTC(),
	})
}

// emit publishes fire-and-forget; a dead bus never fails an operation.
func (s *Service) emit(subject string, data interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), subject, data); err != nil {
		log.Printf("requests: publish %s failed: %v", subject, err)
	}
}

func toDTOs(reqs []Request) []dto.ParticipationRequest {
	out := make([]dto.ParticipationRequest, len(reqs))
	for i := range reqs {
		out[i] = reqs[i].DTO()
	}
	return out
}
