package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/sync/errgroup"

	"github.com/ant-overlay/antcore/internal/protocol"
	"github.com/ant-overlay/antcore/internal/store"
)

// replicateListBatchSize caps how many keys go in a single
// ReplicateListMsg, keeping each advertisement under the protocol's
// MaxMessageSize regardless of how large the local store grows.
const replicateListBatchSize = 4096

// AdvertiseHeldKeys sends the keys of every record this node stores to
// each peer, letting the receiver pull anything it's missing, per
// spec.md §4.5's gossip-based replication sweep.
func (d *Driver) AdvertiseHeldKeys(ctx context.Context, peers []PeerInfo) error {
	keys, err := d.store.ListKeys(0)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			for start := 0; start < len(keys); start += replicateListBatchSize {
				end := start + replicateListBatchSize
				if end > len(keys) {
					end = len(keys)
				}
				env, err := protocol.Pack(protocol.TypeReplicateList, protocol.ReplicateListMsg{Keys: keys[start:end]})
				if err != nil {
					return nil
				}
				d.sendFireAndForget(gctx, p.ID, protocol.ReplicateProtocol, env)
			}
			return nil
		})
	}
	return g.Wait()
}

// sendFireAndForget writes env to id on proto without waiting for a
// response, used for the advertisement half of the replication sweep
// where the reply (if any) arrives as a separate inbound
// TypeReplicateFetch request later.
func (d *Driver) sendFireAndForget(ctx context.Context, id peer.ID, proto libp2pprotocol.ID, env protocol.Envelope) {
	stream, err := d.host.NewStream(ctx, id, proto)
	if err != nil {
		return
	}
	defer stream.Close()
	_ = protocol.WriteEnvelope(stream, env)
	_ = stream.CloseWrite()
}

// fetchMissingFrom requests the full record bodies for keys from remote
// and stores whatever comes back as replication copies, the pull
// counterpart triggered by handleReplicate on receiving a
// ReplicateListMsg advertising keys we don't have.
func (d *Driver) fetchMissingFrom(remote peer.ID, missing [][32]byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := protocol.Pack(protocol.TypeReplicateFetch, protocol.ReplicateFetchMsg{Keys: missing})
	if err != nil {
		return
	}
	resp, err := d.sendAndAwait(ctx, remote, protocol.ReplicateProtocol, env)
	if err != nil {
		d.log.Debug("replicate fetch failed", "peer", remote, "error", err)
		return
	}
	var fetched protocol.ReplicateFetchResp
	if err := protocol.Unpack(resp, &fetched); err != nil {
		return
	}

	var mu sync.Mutex
	stored := 0
	for _, pm := range fetched.Records {
		rec := putRecordMsgToStoreRecord(pm)
		if _, err := d.store.AcceptReplication(rec, store.PutOptions{}); err == nil {
			mu.Lock()
			stored++
			mu.Unlock()
		}
	}
	d.log.Debug("replication pull complete", "peer", remote, "requested", len(missing), "stored", stored)
}

// putRecordMsgToStoreRecord converts a wire PutRecordMsg into the
// store's Record shape, shared between handlePutRecord and
// fetchMissingFrom.
func putRecordMsgToStoreRecord(pm protocol.PutRecordMsg) *store.Record {
	rec := &store.Record{
		Key: recordKeyFromBytes(pm.Key),
		Header: store.RecordHeader{
			Kind:    store.Kind(pm.Kind),
			Version: pm.HeaderVer,
		},
		Payload: pm.Payload,
	}
	if len(pm.PublisherID) > 0 {
		p := peer.ID(pm.PublisherID)
		rec.Publisher = &p
	}
	if pm.ExpiresUnix > 0 {
		t := time.Unix(pm.ExpiresUnix, 0)
		rec.Expires = &t
	}
	return rec
}
