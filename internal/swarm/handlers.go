package swarm

import (
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/protocol"
	"github.com/ant-overlay/antcore/internal/store"
)

// handleIdentify answers an identify request with our own address and,
// if the requester's protocol version and supported-protocol set match
// ours, notes it as a routing-table candidate — the handshake spec.md
// §5 uses to seed buckets on first contact. A mismatch never reaches
// AddCandidate: the peer is marked bad (immediate disconnection, since
// MarkBad evicts it from its bucket and routing.Table.AddCandidate
// refuses re-entry) and placed under a retry backoff instead.
func (d *Driver) handleIdentify(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	remoteAddr := address.PeerAddress([]byte(remote))

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}
	var msg protocol.IdentifyMsg
	if err := protocol.Unpack(env, &msg); err != nil {
		return
	}

	if d.protocolCompatible(msg.ProtocolVersion, msg.SupportedProtocols) {
		d.table.AddCandidate(remote, remoteAddr)
	} else {
		d.log.Debug("identify protocol mismatch, rejecting peer",
			"peer", remote, "version", msg.ProtocolVersion, "supported", msg.SupportedProtocols)
		d.table.MarkBad(remote, remoteAddr)
		d.backoffPeer(remote)
		_ = s.Conn().Close()
		return
	}

	resp, err := protocol.Pack(protocol.TypeIdentifyResp, d.localIdentifyResp())
	if err != nil {
		return
	}
	_ = writeResponse(s, resp)
}

// handleGossip accepts an unsolicited broadcast (network-size/density
// estimation exchange, spec.md §4.6) and folds the sender's distance into
// the routing table's distance-sample ring (the payload is ignored) the
// same way a successful request/response round-trip would, without
// requiring the sender to be a previously-known peer.
func (d *Driver) handleGossip(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}
	var msg protocol.GossipMsg
	if err := protocol.Unpack(env, &msg); err != nil {
		return
	}

	switch msg.Topic {
	case protocol.GossipTopicDensitySample:
		d.table.NoteSuccess(remote, address.PeerAddress([]byte(remote)))
	default:
		d.log.Debug("gossip: unknown topic", "topic", msg.Topic, "peer", remote)
	}
}

// handleFindNode answers with the K closest peers we know to the
// requested target.
func (d *Driver) handleFindNode(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	d.table.NoteSuccess(remote, address.PeerAddress([]byte(remote)))

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}
	var msg protocol.FindNodeMsg
	if err := protocol.Unpack(env, &msg); err != nil {
		return
	}

	target := address.NetworkAddress{Kind: address.KindPeer, Bytes: msg.Target}
	refs := d.table.Closest(target, d.cfg.K)
	found := make([]protocol.FoundPeer, 0, len(refs))
	for _, r := range refs {
		found = append(found, protocol.FoundPeer{
			PeerIDBytes: []byte(r.ID),
			Addr:        r.Addr.Bytes,
		})
	}

	resp, err := protocol.Pack(protocol.TypeFindNodeResp, protocol.FindNodeResp{Peers: found})
	if err != nil {
		return
	}
	_ = writeResponse(s, resp)
}

// handleGetRecord answers with the requested record if we hold it.
func (d *Driver) handleGetRecord(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	d.table.NoteSuccess(remote, address.PeerAddress([]byte(remote)))

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}
	var msg protocol.GetRecordMsg
	if err := protocol.Unpack(env, &msg); err != nil {
		return
	}

	resp := protocol.GetRecordResp{}
	rec, found, err := d.store.Get(recordKeyFromBytes(msg.Key))
	if err == nil && found {
		resp.Found = true
		resp.Kind = uint8(rec.Header.Kind)
		resp.HeaderVer = rec.Header.Version
		resp.Payload = rec.Payload
		if rec.Publisher != nil {
			resp.PublisherID = []byte(*rec.Publisher)
		}
		if rec.Expires != nil {
			resp.ExpiresUnix = rec.Expires.Unix()
		}
		if rec.Header.Kind == store.KindSpend {
			if conflicts, err := d.store.GetConflicts(recordKeyFromBytes(msg.Key)); err == nil {
				resp.ConflictPayloads = conflicts
			}
		}
	}

	env2, err := protocol.Pack(protocol.TypeGetRecordResp, resp)
	if err != nil {
		return
	}
	_ = writeResponse(s, env2)
}

// handlePutRecord stores an inbound record, applying the payment check
// unless it is an explicit replication copy.
func (d *Driver) handlePutRecord(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	d.table.NoteSuccess(remote, address.PeerAddress([]byte(remote)))

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}
	var msg protocol.PutRecordMsg
	if err := protocol.Unpack(env, &msg); err != nil {
		return
	}

	rec := putRecordMsgToStoreRecord(msg)

	var outcome store.Outcome
	if msg.Replication {
		outcome, err = d.store.AcceptReplication(rec, store.PutOptions{})
	} else {
		outcome, err = d.store.Put(rec, msg.Proof, store.PutOptions{})
	}

	resp := protocol.PutRecordResp{Outcome: outcome.String()}
	if err != nil {
		resp.Error = err.Error()
	}

	envResp, packErr := protocol.Pack(protocol.TypePutRecordResp, resp)
	if packErr != nil {
		return
	}
	_ = writeResponse(s, envResp)
}

// handleReplicate answers a held-keys advertisement by diffing against
// our own store and, for anything missing, requesting the full bodies
// back — the pull side of the replication sweep (spec.md §4.5).
func (d *Driver) handleReplicate(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}

	switch env.Type {
	case protocol.TypeReplicateList:
		var msg protocol.ReplicateListMsg
		if err := protocol.Unpack(env, &msg); err != nil {
			return
		}
		var missing [][32]byte
		for _, k := range msg.Keys {
			has, err := d.store.Contains(recordKeyFromBytes(k))
			if err == nil && !has {
				missing = append(missing, k)
			}
		}
		if len(missing) == 0 {
			return
		}
		d.Enqueue(func() {
			d.fetchMissingFrom(remote, missing)
		})
	case protocol.TypeReplicateFetch:
		var msg protocol.ReplicateFetchMsg
		if err := protocol.Unpack(env, &msg); err != nil {
			return
		}
		records := make([]protocol.PutRecordMsg, 0, len(msg.Keys))
		for _, k := range msg.Keys {
			rec, found, err := d.store.Get(recordKeyFromBytes(k))
			if err != nil || !found {
				continue
			}
			pm := protocol.PutRecordMsg{
				Key:         k,
				Kind:        uint8(rec.Header.Kind),
				HeaderVer:   rec.Header.Version,
				Payload:     rec.Payload,
				Replication: true,
			}
			if rec.Publisher != nil {
				pm.PublisherID = []byte(*rec.Publisher)
			}
			if rec.Expires != nil {
				pm.ExpiresUnix = rec.Expires.Unix()
			}
			records = append(records, pm)
		}
		resp, err := protocol.Pack(protocol.TypeReplicateFetch, protocol.ReplicateFetchResp{Records: records})
		if err != nil {
			return
		}
		_ = writeResponse(s, resp)
	}
}

// handleQuote answers a price request for a key with this node's
// current signed quote, the first leg of the client's quote-then-pay-
// then-put pipeline (spec.md §4.7).
func (d *Driver) handleQuote(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	d.table.NoteSuccess(remote, address.PeerAddress([]byte(remote)))

	env, err := readOneEnvelope(s)
	if err != nil {
		return
	}
	var msg protocol.QuoteMsg
	if err := protocol.Unpack(env, &msg); err != nil {
		return
	}

	resp := protocol.QuoteResp{PeerID: []byte(d.host.ID())}
	quote, err := d.pay.QuoteFor(recordKeyFromBytes(msg.Key), nil, nil)
	if err != nil {
		resp.Error = err.Error()
	} else {
		encoded, err := payment.MarshalQuote(quote)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Quote = encoded
		}
	}

	envResp, err := protocol.Pack(protocol.TypeQuoteResp, resp)
	if err != nil {
		return
	}
	_ = writeResponse(s, envResp)
}

// recordKeyFromBytes reconstructs a NetworkAddress of unspecified Kind
// from a raw 32-byte record key. The kind tag stored alongside a
// record's RecordHeader is authoritative for interpreting its payload;
// the address itself is only ever used as a lookup key, so Kind here is
// a don't-care placeholder.
func recordKeyFromBytes(raw [32]byte) address.NetworkAddress {
	return address.NetworkAddress{Kind: address.KindChunk, Bytes: raw}
}
