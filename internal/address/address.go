// Package address implements the XOR-space address algebra that every
// other component builds on: hashing typed payloads into 256-bit
// addresses, the XOR distance metric, and k-bucket index computation.
// Every operation here is pure.
package address

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Size is the width of a NetworkAddress in bytes (256 bits).
const Size = 32

// Kind tags the typed payload an address was derived from.
type Kind uint8

const (
	KindPeer Kind = iota
	KindChunk
	KindRegister
	KindLinkedList
	KindScratchpad
	KindSpend
)

// String renders the kind the way log lines and record headers do.
func (k Kind) String() string {
	switch k {
	case KindPeer:
		return "Peer"
	case KindChunk:
		return "Chunk"
	case KindRegister:
		return "Register"
	case KindLinkedList:
		return "LinkedList"
	case KindScratchpad:
		return "Scratchpad"
	case KindSpend:
		return "Spend"
	default:
		return "Unknown"
	}
}

// NetworkAddress is a 256-bit identifier in XOR space.
type NetworkAddress struct {
	Kind  Kind
	Bytes [Size]byte
}

// FromBytes builds a NetworkAddress from a raw 32-byte key, e.g. one
// read back off the wire or out of the record store index.
func FromBytes(kind Kind, raw []byte) (NetworkAddress, error) {
	var a NetworkAddress
	if len(raw) != Size {
		return a, fmt.Errorf("address: expected %d bytes, got %d", Size, len(raw))
	}
	a.Kind = kind
	copy(a.Bytes[:], raw)
	return a, nil
}

// HashToAddress derives a NetworkAddress by hashing a typed payload.
// Chunk addresses are content-addressed (bytes is the content itself, and
// the resulting address equals content_hash(bytes)); the other kinds hash
// owner-key-derived material so that at most one writer is authoritative
// for a given (owner, tag) pair.
func HashToAddress(kind Kind, payload []byte) NetworkAddress {
	sum := sha256.Sum256(payload)
	return NetworkAddress{Kind: kind, Bytes: sum}
}

// ChunkAddress derives the content-addressed key of a chunk: the address
// is exactly the SHA-256 of the chunk bytes, so ContentHashMismatch can be
// checked by recomputing it (spec §4.3 step 5).
func ChunkAddress(content []byte) NetworkAddress {
	return HashToAddress(KindChunk, content)
}

// RegisterAddress derives a register address from its owner public key and
// a free-form tag, matching one-writer-per-(owner,tag) semantics.
func RegisterAddress(ownerPubKey []byte, tag string) NetworkAddress {
	buf := bytes.NewBuffer(nil)
	buf.Write(ownerPubKey)
	buf.WriteByte(0)
	buf.WriteString(tag)
	return HashToAddress(KindRegister, buf.Bytes())
}

// LinkedListAddress derives a linked-list address from its owner public key.
func LinkedListAddress(ownerPubKey []byte) NetworkAddress {
	return HashToAddress(KindLinkedList, ownerPubKey)
}

// ScratchpadAddress derives a scratchpad address from its owner public key.
func ScratchpadAddress(ownerPubKey []byte) NetworkAddress {
	return HashToAddress(KindScratchpad, ownerPubKey)
}

// SpendAddress derives a spend address from the unique public key being
// spent against (one spend record per unique key; a second, differing
// payload at the same address is the double-spend signal).
func SpendAddress(uniquePubKey []byte) NetworkAddress {
	return HashToAddress(KindSpend, uniquePubKey)
}

// PeerAddress derives the routing-space address of a peer identity.
func PeerAddress(peerIDBytes []byte) NetworkAddress {
	return HashToAddress(KindPeer, peerIDBytes)
}

// ToRecordKey returns the 32-byte XOR name used to index the record
// store and the wire protocol, independent of Kind.
func ToRecordKey(a NetworkAddress) []byte {
	out := make([]byte, Size)
	copy(out, a.Bytes[:])
	return out
}

// Hex returns the full lowercase hex encoding of the address bytes.
func (a NetworkAddress) Hex() string {
	return hex.EncodeToString(a.Bytes[:])
}

// PrettyPrint renders a short, log-friendly form of the address: the
// kind tag plus the first and last few hex bytes, mirroring
// PrettyPrintRecordKey from the source project.
func (a NetworkAddress) PrettyPrint() string {
	h := a.Hex()
	if len(h) <= 12 {
		return fmt.Sprintf("%s(%s)", a.Kind, h)
	}
	return fmt.Sprintf("%s(%s..%s)", a.Kind, h[:6], h[len(h)-6:])
}

// Equal reports whether two addresses have the same bytes (Kind is
// metadata carried alongside the bytes and does not affect equality of
// the underlying XOR name — two records with different kinds never
// collide in practice because the hashed payloads differ).
func (a NetworkAddress) Equal(b NetworkAddress) bool {
	return a.Bytes == b.Bytes
}

// Distance computes the XOR distance between two addresses, interpreted
// as a big-endian big integer, per spec §3.
func Distance(a, b NetworkAddress) *big.Int {
	var xor [Size]byte
	for i := range xor {
		xor[i] = a.Bytes[i] ^ b.Bytes[i]
	}
	return new(big.Int).SetBytes(xor[:])
}

// CompareDistance orders peers by distance-to-target ascending, breaking
// ties by raw byte order of the candidate address (spec §4.1).
func CompareDistance(target, p1, p2 NetworkAddress) int {
	d1 := Distance(target, p1)
	d2 := Distance(target, p2)
	if c := d1.Cmp(d2); c != 0 {
		return c
	}
	return bytes.Compare(p1.Bytes[:], p2.Bytes[:])
}

// BucketIndex returns the k-bucket index of peer relative to self:
// 255 - floor(log2(distance)), i.e. the position of the highest set bit
// counted from the most significant end. Distance 0 (self) maps to
// bucket 255 by convention — callers should special-case self before
// inserting into a routing table.
func BucketIndex(self, peer NetworkAddress) uint8 {
	d := Distance(self, peer)
	if d.Sign() == 0 {
		return 255
	}
	bitLen := d.BitLen() // 1..256
	return uint8(256 - bitLen)
}

// SortByDistance returns a copy of addrs ordered by ascending distance to
// target using CompareDistance's total order.
func SortByDistance(target NetworkAddress, addrs []NetworkAddress) []NetworkAddress {
	out := make([]NetworkAddress, len(addrs))
	copy(out, addrs)
	insertionSortByDistance(target, out)
	return out
}

// insertionSortByDistance keeps the helper allocation-free for the small
// (<=K) slices routing and lookup code sorts repeatedly.
func insertionSortByDistance(target NetworkAddress, s []NetworkAddress) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && CompareDistance(target, s[j], s[j-1]) < 0; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// U64 is a helper used by pricing/metrics code that needs to fold part of
// an address into a deterministic numeric bucket (e.g. network_density
// sampling); not part of the core algebra but kept alongside it since it
// operates on the same byte layout.
func U64(a NetworkAddress) uint64 {
	return binary.BigEndian.Uint64(a.Bytes[:8])
}
