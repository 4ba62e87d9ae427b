package store

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ant-overlay/antcore/internal/keys"
)

// Scratchpad is a single mutable owner-signed slot, last-counter-wins.
// Pulled from sn_protocol's Scratchpad type, which spec.md's data model
// only names in the kind enum without detailing its merge rule.
type Scratchpad struct {
	Owner   []byte
	Counter uint64
	Bytes   []byte
	Signer  []byte
	Sig     keys.Signature
}

func scratchpadDigest(counter uint64, value []byte) [32]byte {
	h := sha256.New()
	var cb [8]byte
	binary.BigEndian.PutUint64(cb[:], counter)
	h.Write(cb[:])
	h.Write(value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Seal signs a new scratchpad update at counter.
func Seal(signer *keys.PrivateKey, counter uint64, value []byte) *Scratchpad {
	digest := scratchpadDigest(counter, value)
	return &Scratchpad{
		Owner:   signer.Public().Bytes(),
		Counter: counter,
		Bytes:   value,
		Signer:  signer.Public().Bytes(),
		Sig:     signer.Sign(digest[:]),
	}
}

// Verify checks the update's signature against its embedded Signer key;
// MergeScratchpad is what ties Signer to the stored Owner.
func (s *Scratchpad) Verify() bool {
	pub, err := keys.PublicKeyFromBytes(s.Signer)
	if err != nil {
		return false
	}
	digest := scratchpadDigest(s.Counter, s.Bytes)
	return pub.Verify(digest[:], s.Sig)
}

// MergeScratchpad applies update onto current (which may be nil for a
// first write) under last-counter-wins semantics, returning the winner.
// A counter not above the current one is a stale update and is discarded rather than
// erroring, mirroring Register's tolerance of out-of-order delivery.
func MergeScratchpad(current, update *Scratchpad) (*Scratchpad, error) {
	if !update.Verify() {
		return current, ErrInvalidSignature
	}
	if current != nil && !bytesEqual(update.Signer, current.Owner) {
		return current, ErrPermissionDenied
	}
	if current != nil && update.Counter <= current.Counter {
		return current, nil
	}
	return update, nil
}
