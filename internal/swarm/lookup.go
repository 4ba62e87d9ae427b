package swarm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/sync/errgroup"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/config"
	"github.com/ant-overlay/antcore/internal/protocol"
)

// maxLookupRounds bounds an iterative lookup so a network partition or a
// cycle of mutually-advertising-each-other peers cannot spin forever.
const maxLookupRounds = 20

// PeerInfo pairs a peer ID with its deterministic overlay address
// (address.PeerAddress of its raw ID bytes), the shape the swarm package
// passes around instead of routing's unexported peerRef.
type PeerInfo struct {
	ID   peer.ID
	Addr address.NetworkAddress
}

func peerInfo(id peer.ID) PeerInfo {
	return PeerInfo{ID: id, Addr: address.PeerAddress([]byte(id))}
}

func sortByDistance(target address.NetworkAddress, peers []PeerInfo) {
	sort.Slice(peers, func(i, j int) bool {
		return address.CompareDistance(target, peers[i].Addr, peers[j].Addr) < 0
	})
}

// IterativeFindNode runs the standard Kademlia iterative lookup: query
// the alpha closest unqueried peers known so far in parallel, fold their
// answers into the candidate shortlist (trimmed to the k closest), and
// repeat until every peer in the shortlist has been queried (or
// maxLookupRounds is hit). Grounded on the teacher's discoverPeers loop
// generalized from periodic rendezvous-topic discovery to an on-demand
// per-target lookup, and on evmlib-adjacent spec.md §4.2's alpha=3
// concurrency requirement via golang.org/x/sync/errgroup.
func (d *Driver) IterativeFindNode(ctx context.Context, target address.NetworkAddress) ([]PeerInfo, error) {
	return d.iterativeFindNode(ctx, target, QueryDiscovery)
}

func (d *Driver) iterativeFindNode(ctx context.Context, target address.NetworkAddress, typ QueryType) ([]PeerInfo, error) {
	pq, ctx, done := d.pending.begin(ctx, target, typ)
	defer done()
	d.log.Debug("lookup started", "query_id", pq.ID, "type", typ, "target", target.Hex())

	alpha := d.cfg.Alpha
	if alpha <= 0 {
		alpha = 3
	}
	k := d.cfg.K
	if k <= 0 {
		k = 20
	}

	seen := make(map[peer.ID]bool)
	queried := make(map[peer.ID]bool)

	var shortlist []PeerInfo
	for _, id := range d.table.ClosestPeerIDs(target, k) {
		if id == d.host.ID() || seen[id] {
			continue
		}
		seen[id] = true
		shortlist = append(shortlist, peerInfo(id))
	}
	sortByDistance(target, shortlist)

	bestDistance := func() *bestMarker {
		if len(shortlist) == 0 {
			return nil
		}
		return &bestMarker{dist: address.Distance(target, shortlist[0].Addr)}
	}

	for round := 0; round < maxLookupRounds; round++ {
		prevBest := bestDistance()

		toQuery := make([]PeerInfo, 0, alpha)
		for _, p := range shortlist {
			if queried[p.ID] {
				continue
			}
			toQuery = append(toQuery, p)
			if len(toQuery) == alpha {
				break
			}
		}
		if len(toQuery) == 0 {
			break
		}

		var mu sync.Mutex
		var newPeers []PeerInfo

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range toQuery {
			p := p
			queried[p.ID] = true
			g.Go(func() error {
				peers, err := d.queryFindNode(gctx, p.ID, target)
				if err != nil {
					d.table.NoteFailure(p.ID, p.Addr)
					return nil // one peer's failure doesn't abort the round
				}
				d.table.NoteSuccess(p.ID, p.Addr)
				mu.Lock()
				newPeers = append(newPeers, peers...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, p := range newPeers {
			if p.ID == d.host.ID() || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			shortlist = append(shortlist, p)
			d.table.AddCandidate(p.ID, p.Addr)
		}
		sortByDistance(target, shortlist)
		if len(shortlist) > k {
			shortlist = shortlist[:k]
		}

		newBest := bestDistance()
		if prevBest != nil && newBest != nil && newBest.dist.Cmp(prevBest.dist) == 0 {
			// no improvement this round: stop once every shortlisted peer
			// has been queried, otherwise keep querying the rest.
			allQueried := true
			for _, p := range shortlist {
				if !queried[p.ID] {
					allQueried = false
					break
				}
			}
			if allQueried {
				break
			}
		}
	}

	if len(shortlist) > k {
		shortlist = shortlist[:k]
	}
	return shortlist, nil
}

type bestMarker struct {
	dist *big.Int
}

func (d *Driver) queryFindNode(ctx context.Context, id peer.ID, target address.NetworkAddress) ([]PeerInfo, error) {
	env, err := protocol.Pack(protocol.TypeFindNode, protocol.FindNodeMsg{Target: target.Bytes})
	if err != nil {
		return nil, err
	}
	resp, err := d.sendAndAwait(ctx, id, protocol.FindNodeProtocol, env)
	if err != nil {
		return nil, err
	}
	var fnResp protocol.FindNodeResp
	if err := protocol.Unpack(resp, &fnResp); err != nil {
		return nil, err
	}
	out := make([]PeerInfo, 0, len(fnResp.Peers))
	for _, fp := range fnResp.Peers {
		pid, err := peer.IDFromBytes(fp.PeerIDBytes)
		if err != nil {
			continue
		}
		out = append(out, PeerInfo{ID: pid, Addr: address.NetworkAddress{Kind: address.KindPeer, Bytes: fp.Addr}})
	}
	return out, nil
}

// ErrQuorumNotMet is returned when fewer responses satisfied a
// requested quorum than required.
var ErrQuorumNotMet = fmt.Errorf("swarm: quorum not met")

// GetRecord performs a quorum-aware read: it looks up the close group
// for key, queries all of them concurrently, and aggregates answers per
// quorum, per spec.md §4.3's read path.
func (d *Driver) GetRecord(ctx context.Context, key address.NetworkAddress, quorum config.Quorum) ([]protocol.GetRecordResp, error) {
	peers, err := d.iterativeFindNode(ctx, key, QueryClosestForGet)
	if err != nil {
		return nil, err
	}
	if len(peers) > d.cfg.CloseGroupSize {
		peers = peers[:d.cfg.CloseGroupSize]
	}
	if len(peers) == 0 {
		return nil, ErrQuorumNotMet
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var results []protocol.GetRecordResp

	g, gctx := errgroup.WithContext(cancelCtx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			env, err := protocol.Pack(protocol.TypeGetRecord, protocol.GetRecordMsg{Key: key.Bytes})
			if err != nil {
				return nil
			}
			resp, err := d.sendAndAwait(gctx, p.ID, protocol.GetRecordProtocol, env)
			if err != nil {
				return nil
			}
			var got protocol.GetRecordResp
			if err := protocol.Unpack(resp, &got); err != nil {
				return nil
			}
			if !got.Found {
				return nil
			}
			mu.Lock()
			results = append(results, got)
			// Quorum::One is satisfied by the very first answer; cancel the
			// rest of the round instead of waiting out every peer's timeout.
			if quorum == config.QuorumOne {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Quorum is an agreement requirement, not a response-count requirement:
	// spec.md §4.6 means "this many peers returned the same payload", not
	// "this many peers answered at all" — a key where the close group is
	// split 2/2/1-timeout between two payloads must not look quorum-
	// satisfied just because 4 responses came back. Threshold applies to
	// the largest group of peers that agree on one payload.
	required := quorumThreshold(quorum, len(peers))
	if largestAgreeingGroupSize(results) < required {
		return results, ErrQuorumNotMet
	}
	return results, nil
}

// largestAgreeingGroupSize returns the size of the largest subset of resps
// that share an identical Payload, the count quorum thresholds are
// actually measured against (see GetRecord).
func largestAgreeingGroupSize(resps []protocol.GetRecordResp) int {
	var groupPayloads [][]byte
	var groupCounts []int
	for _, r := range resps {
		idx := -1
		for i, p := range groupPayloads {
			if bytes.Equal(p, r.Payload) {
				idx = i
				break
			}
		}
		if idx < 0 {
			groupPayloads = append(groupPayloads, r.Payload)
			groupCounts = append(groupCounts, 1)
		} else {
			groupCounts[idx]++
		}
	}
	max := 0
	for _, c := range groupCounts {
		if c > max {
			max = c
		}
	}
	return max
}

// PutRecord performs a quorum-aware write: it sends the record to every
// peer in the close group concurrently and requires at least
// quorumThreshold responses without an error, per spec.md §4.3's
// write path.
func (d *Driver) PutRecord(ctx context.Context, msg protocol.PutRecordMsg, quorum config.Quorum) (int, error) {
	key := address.NetworkAddress{Kind: address.Kind(msg.Kind), Bytes: msg.Key}
	peers, err := d.iterativeFindNode(ctx, key, QueryClosestForPut)
	if err != nil {
		return 0, err
	}
	if len(peers) > d.cfg.CloseGroupSize {
		peers = peers[:d.cfg.CloseGroupSize]
	}
	if len(peers) == 0 {
		return 0, ErrQuorumNotMet
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	successes := 0

	g, gctx := errgroup.WithContext(cancelCtx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			env, err := protocol.Pack(protocol.TypePutRecord, msg)
			if err != nil {
				return nil
			}
			resp, err := d.sendAndAwait(gctx, p.ID, protocol.PutRecordProtocol, env)
			if err != nil {
				return nil
			}
			var got protocol.PutRecordResp
			if err := protocol.Unpack(resp, &got); err != nil {
				return nil
			}
			if got.Error == "" {
				mu.Lock()
				successes++
				if quorum == config.QuorumOne {
					cancel()
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	required := quorumThreshold(quorum, len(peers))
	if successes < required {
		return successes, ErrQuorumNotMet
	}
	return successes, nil
}

func quorumThreshold(q config.Quorum, n int) int {
	switch q {
	case config.QuorumOne:
		return 1
	case config.QuorumAll:
		return n
	default: // majority
		return n/2 + 1
	}
}
