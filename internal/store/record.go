// Package store implements the content-addressed record store
// (component C3): kind-typed validation, CRDT merge for mergeable kinds,
// a SQLite metadata index over a bit-prefix-sharded on-disk payload
// layout, TTL/LRU eviction, and replication bookkeeping. Grounded on
// sn_protocol/src/storage.rs's RecordHeader/RecordKind design and on the
// teacher's internal/storage/storage.go WAL-mode single-writer SQLite
// pattern.
package store

import (
	"errors"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Kind tags the wire/storage variant of a record's header, matching
// spec.md's `kind ∈ {Chunk, Register, LinkedList, Spend, Scratchpad,
// RegisterWithPayment, ChunkWithPayment}`.
type Kind uint8

const (
	KindChunk Kind = iota
	KindRegister
	KindLinkedList
	KindSpend
	KindScratchpad
	KindRegisterWithPayment
	KindChunkWithPayment
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "Chunk"
	case KindRegister:
		return "Register"
	case KindLinkedList:
		return "LinkedList"
	case KindSpend:
		return "Spend"
	case KindScratchpad:
		return "Scratchpad"
	case KindRegisterWithPayment:
		return "RegisterWithPayment"
	case KindChunkWithPayment:
		return "ChunkWithPayment"
	default:
		return "Unknown"
	}
}

// addressKind maps a header Kind to the address.Kind used to derive its
// NetworkAddress, collapsing the two "WithPayment" wire variants onto
// their base address kind.
func (k Kind) addressKind() address.Kind {
	switch k {
	case KindChunk, KindChunkWithPayment:
		return address.KindChunk
	case KindRegister, KindRegisterWithPayment:
		return address.KindRegister
	case KindLinkedList:
		return address.KindLinkedList
	case KindSpend:
		return address.KindSpend
	case KindScratchpad:
		return address.KindScratchpad
	default:
		return address.KindChunk
	}
}

// Payable reports whether a record of this kind requires a ProofOfPayment
// to be accepted as a fresh (non-replication) write.
func (k Kind) Payable() bool {
	return k != KindSpend
}

// headerVersion is the only header version this store understands; any
// other value on the wire is a VersionMismatch.
const headerVersion = 1

// RecordHeader carries the kind tag and version, persisted alongside the
// payload.
type RecordHeader struct {
	Kind    Kind
	Version uint32
}

// Record is the tuple the store indexes: key, header, payload, and
// optional publisher/expiry, per spec.md §3.
type Record struct {
	Key       address.NetworkAddress
	Header    RecordHeader
	Payload   []byte
	Publisher *peer.ID
	Expires   *time.Time
}

// Errors returned by the validation pipeline. Each corresponds to a named
// failure mode in spec.md §7.
var (
	ErrUnknownKind         = errors.New("store: unknown record kind")
	ErrVersionMismatch     = errors.New("store: header version mismatch")
	ErrDoubleWrite         = errors.New("store: conflicting payload at immutable key")
	ErrContentHashMismatch = errors.New("store: chunk content hash does not match key")
	ErrPacketTooLarge      = errors.New("store: payload exceeds max packet size")
	ErrMissingProof        = errors.New("store: payable record submitted without proof of payment")
	ErrQuoteTooLow         = errors.New("store: proof cost below 90% of current local quote")
	ErrInvalidSignature    = errors.New("store: signature verification failed")
	ErrPermissionDenied    = errors.New("store: signer is not authorized to write this register")
	ErrNotFound            = errors.New("store: record not found")
)

// Outcome is the state-machine result of a Put, per spec.md §4.3.
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeMerged
	OutcomeDoubleWrite
	OutcomeIdempotentNoop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "Stored"
	case OutcomeMerged:
		return "Merged"
	case OutcomeDoubleWrite:
		return "DoubleWrite"
	case OutcomeIdempotentNoop:
		return "IdempotentNoop"
	default:
		return "Unknown"
	}
}
