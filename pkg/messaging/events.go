package messaging

import "time"

// Event subjects
const (
	// Request lifecycle events
	RequestCreated   = "request.created"
	RequestConfirmed = "request.confirmed"
	RequestRejected  = "request.rejected"
	RequestCanceled  = "request.canceled"

	// Event lifecycle events
	EventPublished = "event.published"
	EventCanceled  = "event.canceled"

	// Analytics events
	ParticipantRegistered = "stats.participant.registered"
)

// RequestEvent describes a participation-request status change.
type RequestEvent struct {
	RequestID   int64     `json:"request_id"`
	EventID     int64     `json:"event_id"`
	RequesterID int64     `json:"requester_id"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// RegistrationEvent feeds the stats collector. Emitted fire-and-forget
// after a join attempt persists a request.
type RegistrationEvent struct {
	UserID    int64     `json:"user_id"`
	EventID   int64     `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLifecycle describes an event state transition.
type EventLifecycle struct {
	EventID     int64     `json:"event_id"`
	InitiatorID int64     `json:"initiator_id"`
	State       string    `json:"state"`
	Timestamp   time.Time `json:"timestamp"`
}
