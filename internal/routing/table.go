// Package routing implements the Kademlia-style k-bucket routing table
// (component C2): 256 fixed buckets indexed by XOR distance prefix length,
// LRU-ordered within each bucket, a bounded bad-peer set, and a
// background liveness sweep. Grounded on the reference k-bucket table
// (other_examples kbucket.RoutingTable) generalized from its
// dynamic-split bucket list to the fixed 256-bucket layout implied by
// address.BucketIndex, and on ant-networking's CircularVec/FifoRegister
// for the bounded auxiliary sets.
package routing

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/libp2p/go-libp2p/core/peer"
)

// NumBuckets is the number of k-buckets: one per possible BucketIndex
// value (0..255).
const NumBuckets = 256

// PingFunc checks whether a peer is still reachable; used by the
// background liveness sweep to decide whether to evict a stale entry.
type PingFunc func(ctx context.Context, p peer.ID) error

// maxConsecutiveFailures is spec §4.2's "on the third consecutive
// failure the peer is evicted and added to BadPeers" threshold.
const maxConsecutiveFailures = 3

// entry is one routing-table record for a peer.
type entry struct {
	id          peer.ID
	addr        address.NetworkAddress
	lastSuccess time.Time
	addedAt     time.Time
	failures    int
}

type bucket struct {
	// peers is ordered most-recently-seen first (index 0 = freshest).
	peers []*entry
}

func (b *bucket) find(id peer.ID) (*entry, int) {
	for i, e := range b.peers {
		if e.id == id {
			return e, i
		}
	}
	return nil, -1
}

func (b *bucket) moveToFront(i int) {
	if i <= 0 {
		return
	}
	e := b.peers[i]
	copy(b.peers[1:i+1], b.peers[0:i])
	b.peers[0] = e
}

func (b *bucket) removeAt(i int) {
	b.peers = append(b.peers[:i], b.peers[i+1:]...)
}

// Table is the Kademlia routing table for the local node.
type Table struct {
	mu sync.RWMutex

	self    address.NetworkAddress
	k       int
	buckets [NumBuckets]bucket

	badPeers *circularVec[peer.ID]
	distSamp *fifoRegister

	ping          PingFunc
	connectedFunc func(peer.ID) bool

	// PeerAdded/PeerRemoved are best-effort notification hooks, mirroring
	// the reference table's exported callback fields. Both default to
	// no-ops and may be replaced by the caller right after New.
	PeerAdded   func(peer.ID)
	PeerRemoved func(peer.ID)

	refreshInterval time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
}

// Config bundles the construction parameters for a Table.
type Config struct {
	Self            address.NetworkAddress
	K               int
	BadPeerSetSize  int
	DistanceSamples int
	RefreshInterval time.Duration
	Ping            PingFunc
	Connected       func(peer.ID) bool
}

// New constructs a routing table and starts its background liveness
// sweep. Call Close to stop it.
func New(cfg Config) *Table {
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.BadPeerSetSize <= 0 {
		cfg.BadPeerSetSize = 128
	}
	if cfg.DistanceSamples <= 0 {
		cfg.DistanceSamples = 64
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.Ping == nil {
		cfg.Ping = func(context.Context, peer.ID) error { return nil }
	}
	if cfg.Connected == nil {
		cfg.Connected = func(peer.ID) bool { return false }
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Table{
		self:            cfg.Self,
		k:               cfg.K,
		badPeers:        newCircularVec[peer.ID](cfg.BadPeerSetSize),
		distSamp:        newFifoRegister(cfg.DistanceSamples),
		ping:            cfg.Ping,
		connectedFunc:   cfg.Connected,
		PeerAdded:       func(peer.ID) {},
		PeerRemoved:     func(peer.ID) {},
		refreshInterval: cfg.RefreshInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
	go t.backgroundSweep()
	return t
}

// Close stops the background liveness sweep. Safe to call multiple times.
func (t *Table) Close() {
	t.cancel()
}

func (t *Table) bucketIndex(addr address.NetworkAddress) uint8 {
	return address.BucketIndex(t.self, addr)
}

// AddCandidate offers a newly observed peer to the table. If its bucket
// has room, it is inserted at the front (most-recently-seen). If the
// bucket is full, the candidate is dropped — eviction of stale entries is
// the background sweep's job, not the insert path's, matching the
// reference table's "reject, don't evict synchronously" behavior for
// unqueried candidates.
func (t *Table) AddCandidate(id peer.ID, addr address.NetworkAddress) bool {
	if t.badPeers.contains(id) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(addr)
	b := &t.buckets[idx]
	if _, i := b.find(id); i >= 0 {
		b.moveToFront(i)
		return false
	}
	if len(b.peers) >= t.k {
		return false
	}
	b.peers = append([]*entry{{id: id, addr: addr, addedAt: time.Now()}}, b.peers...)
	t.PeerAdded(id)
	return true
}

// NoteSuccess records a successful round-trip with a peer: it is promoted
// to the front of its bucket and its lastSuccess timestamp refreshed,
// inserting it if it was not already present and room allows.
func (t *Table) NoteSuccess(id peer.ID, addr address.NetworkAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.distSamp.add(address.Distance(t.self, addr))

	idx := t.bucketIndex(addr)
	b := &t.buckets[idx]
	if e, i := b.find(id); i >= 0 {
		e.lastSuccess = time.Now()
		e.failures = 0
		b.moveToFront(i)
		return
	}
	if len(b.peers) >= t.k {
		return
	}
	b.peers = append([]*entry{{id: id, addr: addr, addedAt: time.Now(), lastSuccess: time.Now()}}, b.peers...)
	t.PeerAdded(id)
}

// NoteFailure records a failed request to a peer. The first two
// consecutive failures only bump the peer's failure counter; the third
// evicts it from its bucket and adds it to the bounded bad-peer set via
// markBadLocked, per spec §4.2 "on the third consecutive failure the
// peer is evicted and added to a BadPeers ... set". NoteSuccess resets
// the counter, so failures must be consecutive to trip eviction.
func (t *Table) NoteFailure(id peer.ID, addr address.NetworkAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucketIndex(addr)
	b := &t.buckets[idx]
	e, i := b.find(id)
	if i < 0 {
		return
	}
	e.failures++
	if e.failures < maxConsecutiveFailures {
		return
	}
	t.markBadLocked(id, addr)
}

// MarkBad adds a peer to the bounded bad-peer set and evicts it from its
// bucket if present, for callers that detect misbehavior directly (e.g.
// a protocol-version mismatch on identify) rather than via NoteFailure's
// consecutive-failure counter.
func (t *Table) MarkBad(id peer.ID, addr address.NetworkAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markBadLocked(id, addr)
}

// markBadLocked is MarkBad's body, callable while t.mu is already held
// (NoteFailure's eviction path needs this to avoid a double-lock).
func (t *Table) markBadLocked(id peer.ID, addr address.NetworkAddress) {
	t.badPeers.push(id)
	idx := t.bucketIndex(addr)
	b := &t.buckets[idx]
	if _, i := b.find(id); i >= 0 {
		b.removeAt(i)
		t.PeerRemoved(id)
	}
}

// IsBad reports whether a peer is currently in the bad-peer set.
func (t *Table) IsBad(id peer.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.badPeers.contains(id)
}

// Remove deletes a peer from the table entirely, e.g. on graceful
// disconnect notification.
func (t *Table) Remove(id peer.ID, addr address.NetworkAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucketIndex(addr)
	b := &t.buckets[idx]
	if _, i := b.find(id); i >= 0 {
		b.removeAt(i)
		t.PeerRemoved(id)
	}
}

// peerRef is a snapshot of one routing-table member, independent of the
// internal entry representation.
type peerRef struct {
	ID   peer.ID
	Addr address.NetworkAddress
}

// Closest returns up to n peers closest to target, across all buckets,
// ordered by ascending XOR distance. This is the primitive the swarm's
// iterative lookup calls on every round.
func (t *Table) Closest(target address.NetworkAddress, n int) []peerRef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]peerRef, 0, t.k*4)
	for i := range t.buckets {
		for _, e := range t.buckets[i].peers {
			all = append(all, peerRef{ID: e.id, Addr: e.addr})
		}
	}

	insertionSortPeersByDistance(target, all)
	if n < len(all) {
		all = all[:n]
	}
	return all
}

func insertionSortPeersByDistance(target address.NetworkAddress, s []peerRef) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && address.CompareDistance(target, s[j].Addr, s[j-1].Addr) < 0; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// CloseGroup returns the n closest peers to the local node's own address,
// i.e. the set responsible for records near self (used for replication
// sweeps).
func (t *Table) CloseGroup(n int) []peerRef {
	return t.Closest(t.self, n)
}

// ClosestPeerIDs is Closest projected down to bare peer IDs, the shape
// external packages (payment's close-group check, the swarm's lookup
// dispatch) consume without depending on routing's internal peerRef type.
func (t *Table) ClosestPeerIDs(target address.NetworkAddress, n int) []peer.ID {
	refs := t.Closest(target, n)
	ids := make([]peer.ID, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

// IsCloseGroupMember reports whether the local node falls among the n
// peers closest to key, counting itself plus every routing-table entry
// closer to key than the local node is. Used by the store's capacity
// eviction to honor spec.md §5's "TTL first, then LRU of non-close-group
// keys" instead of evicting blind to replication responsibility.
func (t *Table) IsCloseGroupMember(key address.NetworkAddress, n int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	selfDist := address.Distance(key, t.self)
	closer := 0
	for i := range t.buckets {
		for _, e := range t.buckets[i].peers {
			if address.Distance(key, e.addr).Cmp(selfDist) < 0 {
				closer++
				if closer >= n {
					return false
				}
			}
		}
	}
	return true
}

// Len returns the total number of peers held across all buckets.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for i := range t.buckets {
		n += len(t.buckets[i].peers)
	}
	return n
}

// NetworkDensity returns the median of the distances recently recorded by
// NoteSuccess, or nil if no samples have been recorded yet. The quote
// engine does not read it: quotes are issued without a density metric.
func (t *Table) NetworkDensity() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.distSamp.median()
}

// backgroundSweep periodically pings the least-recently-used peer in each
// non-empty bucket and evicts it on failure, unless the transport layer
// reports the peer as still connected (avoiding the race where a
// liveness ping crosses with a fresh inbound connection).
func (t *Table) backgroundSweep() {
	ticker := time.NewTicker(t.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweepOnce()
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Table) sweepOnce() {
	t.mu.RLock()
	var stale []*entry
	for i := range t.buckets {
		b := &t.buckets[i]
		if len(b.peers) == 0 {
			continue
		}
		lru := b.peers[len(b.peers)-1]
		if time.Since(lru.lastSuccess) > t.refreshInterval {
			stale = append(stale, lru)
		}
	}
	t.mu.RUnlock()

	for _, e := range stale {
		ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
		err := t.ping(ctx, e.id)
		cancel()
		if err == nil {
			t.NoteSuccess(e.id, e.addr)
			continue
		}
		if !t.connectedFunc(e.id) {
			t.Remove(e.id, e.addr)
		}
	}
}
