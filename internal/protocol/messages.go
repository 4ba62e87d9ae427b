// Package protocol defines the wire messages exchanged between nodes
// (component C5): peer identification, iterative FindNode lookups,
// record get/put, replication, and gossip, plus their varint
// length-prefixed binary framing. Grounded on the teacher's
// internal/node/stream_handler.go direct-stream protocol (one libp2p
// protocol.ID per message family, length-prefixed JSON bodies) and on
// internal/node/message_sender.go's envelope-with-type-tag shape,
// generalized from swap-specific payloads to the Kademlia RPCs.
package protocol

import (
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// Protocol IDs, one per RPC family so libp2p's multistream select can
// route each to its own handler without an extra dispatch layer.
const (
	IdentifyProtocol  protocol.ID = "/antcore/identify/1.0.0"
	FindNodeProtocol  protocol.ID = "/antcore/findnode/1.0.0"
	GetRecordProtocol protocol.ID = "/antcore/getrecord/1.0.0"
	PutRecordProtocol protocol.ID = "/antcore/putrecord/1.0.0"
	ReplicateProtocol protocol.ID = "/antcore/replicate/1.0.0"
	GossipProtocol    protocol.ID = "/antcore/gossip/1.0.0"
	QuoteProtocol     protocol.ID = "/antcore/quote/1.0.0"
)

// Type tags carried in Envelope.Type, mirroring the teacher's
// SwapMessage.Type string-tag dispatch.
const (
	TypeIdentify       = "identify"
	TypeIdentifyResp   = "identify_resp"
	TypeFindNode       = "find_node"
	TypeFindNodeResp   = "find_node_resp"
	TypeGetRecord      = "get_record"
	TypeGetRecordResp  = "get_record_resp"
	TypePutRecord      = "put_record"
	TypePutRecordResp  = "put_record_resp"
	TypeReplicateList  = "replicate_list"
	TypeReplicateFetch = "replicate_fetch"
	TypeGossip         = "gossip"
	TypeQuote          = "quote"
	TypeQuoteResp      = "quote_resp"
)

// Envelope wraps every message body with a type tag and timestamp, the
// shape a stream handler inspects before unmarshaling the payload into
// its concrete type.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   []byte    `json:"payload"`
}

// IdentifyMsg announces the sender's address, listen multiaddrs, and
// protocol compatibility, exchanged on first contact with a peer, per
// spec.md §5's bootstrap handshake. ProtocolVersion/SupportedProtocols
// let the receiver gate routing-table insertion on compatibility instead
// of admitting every responder unconditionally.
type IdentifyMsg struct {
	PeerAddrBytes      [32]byte `json:"peer_addr"`
	ListenAddrs        []string `json:"listen_addrs"`
	AgentVersion       string   `json:"agent_version"`
	ProtocolVersion    string   `json:"protocol_version"`
	SupportedProtocols []string `json:"supported_protocols"`
}

// IdentifyResp is the reciprocal identify reply.
type IdentifyResp struct {
	PeerAddrBytes      [32]byte `json:"peer_addr"`
	ListenAddrs        []string `json:"listen_addrs"`
	AgentVersion       string   `json:"agent_version"`
	ProtocolVersion    string   `json:"protocol_version"`
	SupportedProtocols []string `json:"supported_protocols"`
}

// FindNodeMsg requests the closest known peers to Target, the core
// iterative-lookup RPC.
type FindNodeMsg struct {
	Target [32]byte `json:"target"`
}

// FoundPeer is one entry in a FindNodeResp peer list.
type FoundPeer struct {
	PeerIDBytes []byte   `json:"peer_id"`
	Addr        [32]byte `json:"addr"`
	Multiaddrs  []string `json:"multiaddrs"`
}

// FindNodeResp answers a FindNodeMsg with up to K closest peers known
// to the responder.
type FindNodeResp struct {
	Peers []FoundPeer `json:"peers"`
}

// GetRecordMsg requests the record stored at Key.
type GetRecordMsg struct {
	Key [32]byte `json:"key"`
}

// GetRecordResp returns the record if present, or Found=false.
// ConflictPayloads carries any additional double-write variants the
// responder retained alongside Payload (Spend records only, per spec
// §4.3 step 3 / §8 testable property 4); empty for every other kind.
type GetRecordResp struct {
	Found            bool     `json:"found"`
	Kind             uint8    `json:"kind,omitempty"`
	HeaderVer        uint32   `json:"header_version,omitempty"`
	Payload          []byte   `json:"payload,omitempty"`
	ConflictPayloads [][]byte `json:"conflict_payloads,omitempty"`
	PublisherID      []byte   `json:"publisher_id,omitempty"`
	ExpiresUnix      int64    `json:"expires_unix,omitempty"`
}

// PutRecordMsg carries a record plus its proof of payment (nil for
// non-payable kinds or replication copies).
type PutRecordMsg struct {
	Key         [32]byte `json:"key"`
	Kind        uint8    `json:"kind"`
	HeaderVer   uint32   `json:"header_version"`
	Payload     []byte   `json:"payload"`
	PublisherID []byte   `json:"publisher_id,omitempty"`
	ExpiresUnix int64    `json:"expires_unix,omitempty"`
	Proof       []byte   `json:"proof,omitempty"`
	Replication bool     `json:"replication"`
}

// PutRecordResp reports the store outcome, or an error string on
// rejection (quote too low, permission denied, etc).
type PutRecordResp struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// ReplicateListMsg announces the keys a node currently holds near a
// region, so the receiver can diff against its own store and request
// what it's missing, grounded on spec.md §4.5's replication sweep.
type ReplicateListMsg struct {
	Keys [][32]byte `json:"keys"`
}

// ReplicateFetchMsg requests the full record bodies for a subset of
// keys previously advertised via ReplicateListMsg.
type ReplicateFetchMsg struct {
	Keys [][32]byte `json:"keys"`
}

// ReplicateFetchResp carries the requested record bodies, best-effort
// (missing keys are simply omitted).
type ReplicateFetchResp struct {
	Records []PutRecordMsg `json:"records"`
}

// QuoteMsg requests a storage price quote for Key from a close-group
// peer, the first leg of the client's quote-then-pay-then-put pipeline
// (spec.md §4.7).
type QuoteMsg struct {
	Key [32]byte `json:"key"`
}

// QuoteResp carries the responder's signed quote. Quote is the raw
// JSON encoding of a payment.PaymentQuote; this package stays
// unaware of the payment package's types, the same way PutRecordMsg's
// Proof field carries an opaque serialized ProofOfPayment.
type QuoteResp struct {
	PeerID []byte `json:"peer_id"`
	Quote  []byte `json:"quote"`
	Error  string `json:"error,omitempty"`
}

// Gossip topics this node recognizes in GossipMsg.Topic.
const (
	// GossipTopicDensitySample carries no meaningful payload; receiving
	// one at all is itself the signal folded into the routing table's
	// distance-sample ring for NetworkDensity's fullness estimate.
	GossipTopicDensitySample = "density_sample"
)

// GossipMsg is an unsolicited broadcast, used for network-size and
// density estimation exchange per spec.md §4.6. Sent fire-and-forget
// over a dedicated stream per recipient (the same one-stream-per-RPC
// shape every other message family in this package uses), not a
// publish/subscribe overlay — see DESIGN.md for why GossipSub was
// dropped in favor of this.
type GossipMsg struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}
