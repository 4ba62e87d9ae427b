package store

import (
	"encoding/binary"
	"math/big"
)

// Spend is the immutable record recording one unique-key being spent
// against a parent transaction; a second, differing Spend payload at the
// same address is the network's double-spend signal (spec.md §4.3 step
// 3) and both copies are retained as evidence rather than one replacing
// the other.
type Spend struct {
	UniquePubKey []byte
	Amount       *big.Int
	ParentTxHash [32]byte
}

// Encode produces the canonical byte encoding used both to compute the
// spend's content identity and to compare two candidate payloads for
// equality.
func (s *Spend) Encode() []byte {
	out := make([]byte, 0, len(s.UniquePubKey)+32+8)
	out = append(out, s.UniquePubKey...)
	amt := s.Amount.Bytes()
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(amt)))
	out = append(out, l[:]...)
	out = append(out, amt...)
	out = append(out, s.ParentTxHash[:]...)
	return out
}

// Equal reports whether two spends carry the same content.
func (s *Spend) Equal(other *Spend) bool {
	if other == nil {
		return false
	}
	a, b := s.Encode(), other.Encode()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
