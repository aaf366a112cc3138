package dto

import "time"

// RequestStatus is the lifecycle state of a participation request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusConfirmed RequestStatus = "CONFIRMED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCanceled  RequestStatus = "CANCELED"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// EventState is the publication lifecycle of an event.
type EventState string

const (
	StateDraft     EventState = "DRAFT"
	StatePending   EventState = "PENDING"
	StatePublished EventState = "PUBLISHED"
	StateCanceled  EventState = "CANCELED"
)

// EventSnapshot is the capacity view of an event exchanged between the
// event service and the request service.
type EventSnapshot struct {
	ID                int64      `json:"id"`
	InitiatorID       int64      `json:"initiatorId"`
	ParticipantLimit  int64      `json:"participantLimit"`
	ConfirmedRequests int64      `json:"confirmedRequests"`
	RequestModeration bool       `json:"requestModeration"`
	State             EventState `json:"state"`
}

// ParticipationRequest is the wire form of a request record.
type ParticipationRequest struct {
	ID          int64         `json:"id"`
	EventID     int64         `json:"eventId"`
	RequesterID int64         `json:"requesterId"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created"`
}

// StatusUpdate asks the request service to move a set of requests to a new
// status. RequestIDs carry the caller's priority order; the request service
// and the batch approval protocol both preserve it.
type StatusUpdate struct {
	RequestIDs []int64       `json:"requestIds" binding:"required"`
	Status     RequestStatus `json:"status" binding:"required"`
}

// StatusUpdateResult reports a batch approval outcome. The two lists are
// disjoint and together cover every candidate that still existed.
type StatusUpdateResult struct {
	ConfirmedRequests []ParticipationRequest `json:"confirmedRequests"`
	RejectedRequests  []ParticipationRequest `json:"rejectedRequests"`
}
