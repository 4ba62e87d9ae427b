package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ant-overlay/antcore/internal/address"
)

// QueryType classifies an in-flight iterative lookup, per spec.md §3's
// PendingQuery.type.
type QueryType string

const (
	QueryDiscovery     QueryType = "discovery"
	QueryClosestForPut QueryType = "closest_for_put"
	QueryClosestForGet QueryType = "closest_for_get"
	QueryReplication   QueryType = "replication"
)

// PendingQuery tracks one in-flight iterative lookup, identified by a
// UUID so a caller can reference it independently of the goroutine
// running it, grounded on the teacher's message_sender.go use of
// github.com/google/uuid for correlating an outbound message with its
// eventual response.
type PendingQuery struct {
	ID       string
	Target   address.NetworkAddress
	Type     QueryType
	Deadline time.Time
	cancel   context.CancelFunc
}

// pendingRegistry is the driver's bounded table of in-flight lookups
// (spec.md §5's "pending queries... are all bounded" — bounded here by
// the invariant that every registered query is removed by its own
// deferred cleanup no later than its deadline fires).
type pendingRegistry struct {
	mu    sync.Mutex
	byID  map[string]*PendingQuery
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{byID: make(map[string]*PendingQuery)}
}

// begin registers a new pending query derived from ctx, returning the
// query plus a child context a caller's Cancel can abort independently
// of ctx itself, and a cleanup func the caller must defer-call to
// deregister it when the lookup finishes. It never shortens an existing
// deadline on ctx; Deadline is purely informational, reflecting ctx's
// own deadline if it has one.
func (r *pendingRegistry) begin(ctx context.Context, target address.NetworkAddress, typ QueryType) (*PendingQuery, context.Context, func()) {
	childCtx, cancel := context.WithCancel(ctx)
	deadline, _ := ctx.Deadline()
	pq := &PendingQuery{
		ID:       uuid.New().String(),
		Target:   target,
		Type:     typ,
		Deadline: deadline,
		cancel:   cancel,
	}
	r.mu.Lock()
	r.byID[pq.ID] = pq
	r.mu.Unlock()
	cleanup := func() {
		r.mu.Lock()
		delete(r.byID, pq.ID)
		r.mu.Unlock()
		cancel()
	}
	return pq, childCtx, cleanup
}

// Cancel aborts the pending query with the given ID, if still in
// flight, causing its context to be canceled and any late responses to
// be discarded by the goroutines awaiting it (spec.md §5 Cancellation).
func (r *pendingRegistry) Cancel(queryID string) bool {
	r.mu.Lock()
	pq, ok := r.byID[queryID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	pq.cancel()
	return true
}

// Len reports the number of in-flight queries, surfaced via metrics.
func (r *pendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
