package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/pkg/discovery"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// RequestsClient talks to the request service's internal API.
//
// Listing calls degrade to an empty result when the service is unreachable,
// trading completeness for availability. The status mutation never degrades:
// uncertainty there would desynchronize the confirmed-count ledger.
type RequestsClient struct {
	c *caller
}

// NewRequestsClient builds a client resolving the request service.
func NewRequestsClient(resolver *discovery.Resolver, timeout time.Duration) *RequestsClient {
	return &RequestsClient{c: newCaller("request-service", resolver, timeout)}
}

// ByEvent lists the participation requests of an event. Unavailability
// degrades to an empty list.
func (rc *RequestsClient) ByEvent(ctx context.Context, eventID, userID int64) ([]dto.ParticipationRequest, error) {
	var out []dto.ParticipationRequest
	path := fmt.Sprintf("/internal/requests/events/%d?userId=%d", eventID, userID)
	if err := rc.c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			log.Printf("requests client: ByEvent(%d) degraded to empty list: %v", eventID, err)
			return []dto.ParticipationRequest{}, nil
		}
		return nil, err
	}
	return out, nil
}

// ByIDs fetches the requests matching the given ids, preserving the input
// order; missing ids are omitted. Unavailability degrades to an empty list.
func (rc *RequestsClient) ByIDs(ctx context.Context, ids []int64) ([]dto.ParticipationRequest, error) {
	if len(ids) == 0 {
		return []dto.ParticipationRequest{}, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	var out []dto.ParticipationRequest
	path := "/internal/requests/by-ids?requestIds=" + strings.Join(parts, ",")
	if err := rc.c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			log.Printf("requests client: ByIDs degraded to empty list: %v", err)
			return []dto.ParticipationRequest{}, nil
		}
		return nil, err
	}
	return out, nil
}

// UpdateStatuses transitions the given requests and returns the updated
// records. Fail-closed: unavailability is an error, never an empty result.
func (rc *RequestsClient) UpdateStatuses(ctx context.Context, upd dto.StatusUpdate) ([]dto.ParticipationRequest, error) {
	var out []dto.ParticipationRequest
	if err := rc.c.call(ctx, http.MethodPut, "/internal/requests/status", upd, &out); err != nil {
		return nil, err
	}
	return out, nil
}
