package store

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ant-overlay/antcore/internal/keys"
)

// LinkedListItem is one owner-signed link in an append-only hash-linked
// chain, grounded on ant-protocol/src/storage/address/linked_list.rs's
// linked-list address type (the distillation only names the address; the
// chain structure itself is supplemented here from the original source).
type LinkedListItem struct {
	Hash   [32]byte
	Prev   *[32]byte
	Value  []byte
	Signer []byte
	Sig    keys.Signature
}

func linkDigest(prev *[32]byte, value []byte) [32]byte {
	h := sha256.New()
	if prev != nil {
		h.Write(prev[:])
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	h.Write(lenBuf[:])
	h.Write(value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// LinkedList is an owner-only append-only chain. Unlike Register it does
// not support arbitrary writers via Permissions — only the owner key may
// append, matching the simpler single-writer semantics spec.md implies
// for this kind.
type LinkedList struct {
	Owner []byte
	Items []*LinkedListItem
}

// NewLinkedList creates an empty chain owned by owner.
func NewLinkedList(owner []byte) *LinkedList {
	return &LinkedList{Owner: append([]byte(nil), owner...)}
}

// Head returns the most recently appended item, or nil if empty.
func (l *LinkedList) Head() *LinkedListItem {
	if len(l.Items) == 0 {
		return nil
	}
	return l.Items[len(l.Items)-1]
}

// Append signs and adds value as the new head of the chain.
func (l *LinkedList) Append(signer *keys.PrivateKey, value []byte) (*LinkedListItem, error) {
	var prev *[32]byte
	if h := l.Head(); h != nil {
		ph := h.Hash
		prev = &ph
	}
	digest := linkDigest(prev, value)
	item := &LinkedListItem{
		Hash:   digest,
		Prev:   prev,
		Value:  value,
		Signer: signer.Public().Bytes(),
		Sig:    signer.Sign(digest[:]),
	}
	if err := l.MergeItems([]*LinkedListItem{item}); err != nil {
		return nil, err
	}
	return item, nil
}

// MergeItems validates and appends items received from a peer. An item
// whose Prev does not match the current head is rejected as out of
// causal order — the replication sweep is expected to fetch missing
// predecessors before retrying.
func (l *LinkedList) MergeItems(items []*LinkedListItem) error {
	for _, it := range items {
		want := linkDigest(it.Prev, it.Value)
		if want != it.Hash {
			return ErrInvalidSignature
		}
		if len(it.Signer) == 0 || !bytesEqual(it.Signer, l.Owner) {
			return ErrPermissionDenied
		}
		pub, err := keys.PublicKeyFromBytes(it.Signer)
		if err != nil {
			return ErrInvalidSignature
		}
		if !pub.Verify(it.Hash[:], it.Sig) {
			return ErrInvalidSignature
		}
		head := l.Head()
		if head == nil {
			if it.Prev != nil {
				return ErrInvalidSignature
			}
		} else if it.Prev == nil || *it.Prev != head.Hash {
			return ErrInvalidSignature
		}
		l.Items = append(l.Items, it)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
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
