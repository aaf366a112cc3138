package events

import (
	"context"
	"log"
	"time"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/pkg/messaging"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// LedgerAPI is the slice of the capacity ledger the service needs.
type LedgerAPI interface {
	CreateEvent(ctx context.Context, initiatorID int64, title string, participantLimit int64, requestModeration bool) (*Event, error)
	GetEvent(ctx context.Context, eventID int64) (*Event, error)
	Snapshot(ctx context.Context, eventID int64) (*dto.EventSnapshot, error)
	IncrementConfirmed(ctx context.Context, eventID int64) (*dto.EventSnapshot, error)
	AddConfirmed(ctx context.Context, eventID, delta int64) (*dto.EventSnapshot, error)
	SetState(ctx context.Context, eventID int64, state dto.EventState) (*Event, error)
}

// RequestsAPI is the request service's internal surface as seen from here.
type RequestsAPI interface {
	ByEvent(ctx context.Context, eventID, userID int64) ([]dto.ParticipationRequest, error)
	ByIDs(ctx context.Context, ids []int64) ([]dto.ParticipationRequest, error)
	UpdateStatuses(ctx context.Context, upd dto.StatusUpdate) ([]dto.ParticipationRequest, error)
}

type publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Service owns event lifecycle and the batch approval protocol.
type Service struct {
	ledger   LedgerAPI
	requests RequestsAPI
	bus      publisher
}

// NewService creates the event service.
func NewService(ledger LedgerAPI, requests RequestsAPI, bus publisher) *Service {
	return &Service{ledger: ledger, requests: requests, bus: bus}
}

// NewEvent is the creation payload.
type NewEvent struct {
	Title             string `json:"title" binding:"required"`
	ParticipantLimit  int64  `json:"participantLimit"`
	RequestModeration *bool  `json:"requestModeration"`
}

// Create inserts a new event in PENDING state for the initiator.
func (s *Service) Create(ctx context.Context, initiatorID int64, in NewEvent) (*Event, error) {
	if in.ParticipantLimit < 0 {
		return nil, apperr.Conflict("participant limit must be non-negative")
	}
	moderation := true
	if in.RequestModeration != nil {
		moderation = *in.RequestModeration
	}
	return s.ledger.CreateEvent(ctx, initiatorID, in.Title, in.ParticipantLimit, moderation)
}

// State actions accepted by Moderate.
const (
	ActionPublish = "PUBLISH_EVENT"
	ActionReject  = "REJECT_EVENT"
)

// Moderate applies an admin lifecycle action. Only PENDING events can be
// published; published events cannot be rejected.
func (s *Service) Moderate(ctx context.Context, eventID int64, action string) (*Event, error) {
	e, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionPublish:
		if e.State != dto.StatePending {
			return nil, apperr.Conflict("event %d cannot be published from state %s", eventID, e.State)
		}
		e, err = s.ledger.SetState(ctx, eventID, dto.StatePublished)
		if err != nil {
			return nil, err
		}
		s.emit(messaging.EventPublished, messaging.EventLifecycle{
			EventID: e.ID, InitiatorID: e.InitiatorID, State: string(e.State), Timestamp: time.Now().UTC(),
		})
		return e, nil

	case ActionReject:
		if e.State == dto.StatePublished {
			return nil, apperr.Conflict("event %d is published and cannot be rejected", eventID)
		}
		e, err = s.ledger.SetState(ctx, eventID, dto.StateCanceled)
		if err != nil {
			return nil, err
		}
		s.emit(messaging.EventCanceled, messaging.EventLifecycle{
			EventID: e.ID, InitiatorID: e.InitiatorID, State: string(e.State), Timestamp: time.Now().UTC(),
		})
		return e, nil

	default:
		return nil, apperr.Conflict("unknown state action %q", action)
	}
}

// Snapshot returns the capacity snapshot for the internal API.
func (s *Service) Snapshot(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	return s.ledger.Snapshot(ctx, eventID)
}

// IncrementConfirmed takes one confirmed slot for the internal API.
func (s *Service) IncrementConfirmed(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	return s.ledger.IncrementConfirmed(ctx, eventID)
}

// EventRequests lists the participation requests of an event the owner
// initiated. A degraded request service yields an empty list.
func (s *Service) EventRequests(ctx context.Context, ownerID, eventID int64) ([]dto.ParticipationRequest, error) {
	if _, err := s.ownedEvent(ctx, ownerID, eventID); err != nil {
		return nil, err
	}
	return s.requests.ByEvent(ctx, eventID, ownerID)
}

// ApproveRequests runs the batch approval protocol.
//
// Candidate priority is the order of upd.RequestIDs as supplied by the
// caller; it is preserved through the lookup and the partition. Requests
// that are no longer PENDING are not candidates: a vanished id is skipped
// silently, a CONFIRMED one fails a REJECT batch and is left untouched by
// a CONFIRM batch.
func (s *Service) ApproveRequests(ctx context.Context, ownerID, eventID int64, upd dto.StatusUpdate) (*dto.StatusUpdateResult, error) {
	ev, err := s.ownedEvent(ctx, ownerID, eventID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.requests.ByIDs(ctx, upd.RequestIDs)
	if err != nil {
		return nil, err
	}

	result := &dto.StatusUpdateResult{
		ConfirmedRequests: []dto.ParticipationRequest{},
		RejectedRequests:  []dto.ParticipationRequest{},
	}
	if len(candidates) == 0 {
		return result, nil
	}

	switch upd.Status {
	case dto.StatusRejected:
		return s.rejectBatch(ctx, candidates, result)
	case dto.StatusConfirmed:
		return s.confirmBatch(ctx, ev, candidates, result)
	default:
		return nil, apperr.Conflict("unsupported batch status %q", upd.Status)
	}
}

func (s *Service) rejectBatch(ctx context.Context, candidates []dto.ParticipationRequest, result *dto.StatusUpdateResult) (*dto.StatusUpdateResult, error) {
	pending := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		if c.Status == dto.StatusConfirmed {
			return nil, apperr.Conflict("request %d is already confirmed and cannot be rejected", c.ID)
		}
		if c.Status == dto.StatusPending {
			pending = append(pending, c.ID)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	rejected, err := s.requests.UpdateStatuses(ctx, dto.StatusUpdate{
		RequestIDs: pending,
		Status:     dto.StatusRejected,
	})
	if err != nil {
		return nil, err
	}
	result.RejectedRequests = rejected
	return result, nil
}

func (s *Service) confirmBatch(ctx context.Context, ev *Event, candidates []dto.ParticipationRequest, result *dto.StatusUpdateResult) (*dto.StatusUpdateResult, error) {
	if ev.ParticipantLimit > 0 && ev.ConfirmedRequests >= ev.ParticipantLimit {
		return nil, apperr.Conflict("event %d has no seats left", ev.ID)
	}

	pending := make([]dto.ParticipationRequest, 0, len(candidates))
	for _, c := range candidates {
		if c.Status == dto.StatusPending {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	available := int64(len(pending))
	if ev.ParticipantLimit > 0 {
		available = ev.ParticipantLimit - ev.ConfirmedRequests
	}
	if available > int64(len(pending)) {
		available = int64(len(pending))
	}

	toConfirm := requestIDs(pending[:available])
	toReject := requestIDs(pending[available:])

	if len(toConfirm) > 0 {
		confirmed, err := s.requests.UpdateStatuses(ctx, dto.StatusUpdate{
			RequestIDs: toConfirm,
			Status:     dto.StatusConfirmed,
		})
		if err != nil {
			return nil, err
		}
		result.ConfirmedRequests = confirmed
	}

	if len(toReject) > 0 {
		rejected, err := s.requests.UpdateStatuses(ctx, dto.StatusUpdate{
			RequestIDs: toReject,
			Status:     dto.StatusRejected,
		})
		if err != nil {
			return nil, err
		}
		result.RejectedRequests = rejected
	}

	// Settle the ledger with the count actually confirmed. The add is
	// atomic against concurrent single joins; a Conflict here means the
	// slots were taken meanwhile and the batch must surface it.
	if n := int64(len(result.ConfirmedRequests)); n > 0 {
		if _, err := s.ledger.AddConfirmed(ctx, ev.ID, n); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Service) ownedEvent(ctx context.Context, ownerID, eventID int64) (*Event, error) {
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.InitiatorID != ownerID {
		return nil, apperr.NotFound("event %d for user %d", eventID, ownerID)
	}
	return ev, nil
}

func requestIDs(reqs []dto.ParticipationRequest) []int64 {
	ids := make([]int64, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	return ids
}

// emit publishes fire-and-forget; a dead bus never fails an operation.
func (s *Service) emit(subject string, data interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), subject, data); err != nil {
		log.Printf("events: publish %s failed: %v", subject, err)
	}
}
