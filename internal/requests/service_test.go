package requests

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/pkg/messaging"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// fakeEvents models the event service's capacity ledger. The snapshot it
// hands out can be made stale relative to the counter the increment
// actually checks, which is exactly the situation the protocol must
// survive.
type fakeEvents struct {
	mu        sync.Mutex
	snap      dto.EventSnapshot
	staleView *dto.EventSnapshot
	snapErr   error
	incErr    error
	incCalls  int
}

func (f *fakeEvents) Snapshot(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	if f.staleView != nil {
		cp := *f.staleView
		return &cp, nil
	}
	cp := f.snap
	return &cp, nil
}

func (f *fakeEvents) IncrementConfirmed(ctx context.Context, eventID int64) (*dto.EventSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incCalls++
	if f.incErr != nil {
		return nil, f.incErr
	}
	if f.snap.ParticipantLimit > 0 && f.snap.ConfirmedRequests >= f.snap.ParticipantLimit {
		return nil, apperr.Conflict("event %d participant limit reached", eventID)
	}
	f.snap.ConfirmedRequests++
	cp := f.snap
	return &cp, nil
}

// memStore is an in-memory RequestStore enforcing the active-pair
// invariant the way the partial unique index does.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Request
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[int64]*Request)}
}

func (m *memStore) Create(ctx context.Context, eventID, requesterID int64, status dto.RequestStatus) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.EventID == eventID && r.RequesterID == requesterID && r.Status != dto.StatusCanceled {
			return nil, apperr.Conflict("request for event %d by user %d already exists", eventID, requesterID)
		}
	}
	m.nextID++
	r := &Request{ID: m.nextID, EventID: eventID, RequesterID: requesterID, Status: status}
	m.byID[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *memStore) Get(ctx context.Context, requestID int64) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[requestID]
	if !ok {
		return nil, apperr.NotFound("request %d", requestID)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ExistsActive(ctx context.Context, eventID, requesterID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.EventID == eventID && r.RequesterID == requesterID && r.Status != dto.StatusCanceled {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindByEvent(ctx context.Context, eventID int64) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.byID[id]; ok && r.EventID == eventID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) FindByRequester(ctx context.Context, requesterID int64) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.byID[id]; ok && r.RequesterID == requesterID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) FindByIDs(ctx context.Context, ids []int64) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.byID[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) BulkSetStatus(ctx context.Context, ids []int64, status dto.RequestStatus) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.byID[id]; ok {
			r.Status = status
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) SetStatus(ctx context.Context, requestID int64, status dto.RequestStatus) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[requestID]
	if !ok {
		return nil, apperr.NotFound("request %d", requestID)
	}
	r.Status = status
	cp := *r
	return &cp, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memStore) countByStatus(status dto.RequestStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.byID {
		if r.Status == status {
			n++
		}
	}
	return n
}

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *fakeBus) Publish(ctx context.Context, subject string, data interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *fakeBus) has(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func publishedEvent(initiatorID, limit, confirmed int64, moderation bool) dto.EventSnapshot {
	return dto.EventSnapshot{
		ID:                1,
		InitiatorID:       initiatorID,
		ParticipantLimit:  limit,
		ConfirmedRequests: confirmed,
		RequestModeration: moderation,
		State:             dto.StatePublished,
	}
}

func TestJoinAutoConfirm(t *testing.T) {
	events := &fakeEvents{snap: publishedEvent(1, 10, 0, false)}
	store := newMemStore()
	bus := &fakeBus{}
	svc := NewService(store, events, bus)

	req, err := svc.Join(context.Background(), 2, 1)

	require.NoError(t, err)
	assert.Equal(t, dto.StatusConfirmed, req.Status)
	assert.Equal(t, 1, events.incCalls)
	assert.True(t, bus.has(messaging.ParticipantRegistered))
	assert.True(t, bus.has(messaging.RequestConfirmed))
}

func TestJoinModerationPending(t *testing.T) {
	events := &fakeEvents{snap: publishedEvent(1, 10, 0, true)}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	req, err := svc.Join(context.Background(), 2, 1)

	require.NoError(t, err)
	assert.Equal(t, dto.StatusPending, req.Status)
	assert.Equal(t, 0, events.incCalls, "pending joins must not touch the ledger")
}

func TestJoinUnlimitedAutoConfirms(t *testing.T) {
	// limit 0 confirms even with moderation on.
	events := &fakeEvents{snap: publishedEvent(1, 0, 0, true)}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	req, err := svc.Join(context.Background(), 2, 1)

	require.NoError(t, err)
	assert.Equal(t, dto.StatusConfirmed, req.Status)
	assert.Equal(t, 1, events.incCalls)
}

func TestJoinSelfJoinRejected(t *testing.T) {
	for _, state := range []dto.EventState{dto.StatePublished, dto.StatePending, dto.StateCanceled} {
		snap := publishedEvent(7, 10, 0, false)
		snap.State = state
		events := &fakeEvents{snap: snap}
		store := newMemStore()
		svc := NewService(store, events, &fakeBus{})

		_, err := svc.Join(context.Background(), 7, 1)

		assert.ErrorIs(t, err, apperr.ErrConflict, "state %s", state)
		assert.Zero(t, store.count())
	}
}

func TestJoinIdempotencyGuard(t *testing.T) {
	events := &fakeEvents{snap: publishedEvent(1, 10, 0, true)}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	_, err := svc.Join(context.Background(), 2, 1)
	require.NoError(t, err)

	_, err = svc.Join(context.Background(), 2, 1)

	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, store.count(), "second attempt must not add a request")
}

func TestJoinAfterCancelAllowed(t *testing.T) {
	events := &fakeEvents{snap: publishedEvent(1, 10, 0, true)}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	first, err := svc.Join(context.Background(), 2, 1)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), 2, first.ID)
	require.NoError(t, err)

	second, err := svc.Join(context.Background(), 2, 1)

	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestJoinUnpublishedEvent(t *testing.T) {
	snap := publishedEvent(1, 10, 0, false)
	snap.State = dto.StatePending
	events := &fakeEvents{snap: snap}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	_, err := svc.Join(context.Background(), 2, 1)

	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, store.count())
}

func TestJoinAtCapacity(t *testing.T) {
	events := &fakeEvents{snap: publishedEvent(1, 3, 3, true)}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	_, err := svc.Join(context.Background(), 2, 1)

	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, store.count())
}

func TestJoinStaleSnapshotLosesToLedger(t *testing.T) {
	// The advisory pre-check sees a free slot, but the ledger's counter is
	// already at the limit. The atomic increment, not the snapshot, decides.
	stale := publishedEvent(1, 1, 0, false)
	events := &fakeEvents{snap: publishedEvent(1, 1, 1, false), staleView: &stale}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	_, err := svc.Join(context.Background(), 2, 1)

	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, store.count(), "no request may be persisted without its slot")
}

func TestJoinDegradedIncrementFailsClosed(t *testing.T) {
	events := &fakeEvents{
		snap:   publishedEvent(1, 10, 0, false),
		incErr: apperr.Unavailable("event-service: connection refused"),
	}
	store := newMemStore()
	bus := &fakeBus{}
	svc := NewService(store, events, bus)

	_, err := svc.Join(context.Background(), 2, 1)

	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Zero(t, store.count(), "no request may be persisted when the slot is uncertain")
	assert.False(t, bus.has(messaging.ParticipantRegistered))
}

func TestJoinEventLookupOutcomes(t *testing.T) {
	t.Run("definite absence is not-found", func(t *testing.T) {
		events := &fakeEvents{snapErr: apperr.NotFound("event 1")}
		svc := NewService(newMemStore(), events, &fakeBus{})

		_, err := svc.Join(context.Background(), 2, 1)

		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("unreachable event service is unavailability", func(t *testing.T) {
		events := &fakeEvents{snapErr: apperr.Unavailable("event-service: timeout")}
		svc := NewService(newMemStore(), events, &fakeBus{})

		_, err := svc.Join(context.Background(), 2, 1)

		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	})
}

func TestCancel(t *testing.T) {
	events := &fakeEvents{snap: publishedEvent(1, 10, 0, true)}
	store := newMemStore()
	bus := &fakeBus{}
	svc := NewService(store, events, bus)

	req, err := svc.Join(context.Background(), 2, 1)
	require.NoError(t, err)

	t.Run("author can cancel from any state", func(t *testing.T) {
		out, err := svc.Cancel(context.Background(), 2, req.ID)

		require.NoError(t, err)
		assert.Equal(t, dto.StatusCanceled, out.Status)
		assert.True(t, bus.has(messaging.RequestCanceled))
	})

	t.Run("non-author is forbidden", func(t *testing.T) {
		req2, err := svc.Join(context.Background(), 3, 1)
		require.NoError(t, err)

		_, err = svc.Cancel(context.Background(), 2, req2.ID)

		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("unknown request is not-found", func(t *testing.T) {
		_, err := svc.Cancel(context.Background(), 2, 999)

		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestCapacityInvariantUnderConcurrentJoins(t *testing.T) {
	const limit = 5
	const joiners = 40

	events := &fakeEvents{snap: publishedEvent(1, limit, 0, false)}
	store := newMemStore()
	svc := NewService(store, events, &fakeBus{})

	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			svc.Join(context.Background(), userID, 1)
		}(int64(i + 100))
	}
	wg.Wait()

	assert.LessOrEqual(t, events.snap.ConfirmedRequests, int64(limit))
	assert.Equal(t, int64(store.countByStatus(dto.StatusConfirmed)), events.snap.ConfirmedRequests,
		"ledger count must match the set of confirmed requests")
}
