package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/terminal-bench/eventhub/pkg/discovery"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// EventsClient talks to the event service's internal capacity API.
//
// Outcomes are tagged by error kind: apperr.ErrNotFound means the event
// definitively does not exist, apperr.ErrUnavailable means the service
// could not answer. Callers must not collapse the two; the join protocol
// fails closed only on the latter.
type EventsClient struct {
	c *caller
}

// NewEventsClient builds a client resolving the event service.
func NewEventsClient(resolver *discovery.Resolver, timeout time.Duration) *EventsClient {
	return &EventsClient{c: newCaller("event-service", resolver, timeout)}
}

// Snapshot fetches the capacity snapshot of an event.
func (ec *EventsClient) Snapshot(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	var snap dto.EventSnapshot
	path := fmt.Sprintf("/events/internal/%d", eventID)
	if err := ec.c.call(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// IncrementConfirmed atomically takes one confirmed slot on the event and
// returns the updated snapshot. apperr.ErrConflict reports an exhausted
// limit; apperr.ErrUnavailable means the increment may or may not have
// happened and the caller must treat the slot as not taken.
func (ec *EventsClient) IncrementConfirmed(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	var snap dto.EventSnapshot
	path := fmt.Sprintf("/events/internal/%d/increment-confirmed", eventID)
	if err := ec.c.call(ctx, http.MethodPut, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
