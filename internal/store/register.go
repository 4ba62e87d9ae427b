package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/ant-overlay/antcore/internal/keys"
)

// RegisterEntry is one node in the append-only merkle DAG backing a
// Register: a value with explicit parent hashes, signed by its writer.
// Grounded on sn_registers' merkle_reg CRDT, generalized here to a
// content-addressed DAG of entries rather than an external crate type.
type RegisterEntry struct {
	Hash    [32]byte
	Parents [][32]byte
	Value   []byte
	Signer  []byte
	Sig     keys.Signature
}

func entryDigest(parents [][32]byte, value []byte) [32]byte {
	sorted := append([][32]byte(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	h := sha256.New()
	for _, p := range sorted {
		h.Write(p[:])
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	h.Write(lenBuf[:])
	h.Write(value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Register is a CRDT merkle-DAG register: concurrent writers may fork the
// DAG, and Read returns every current tip (unconverged) value, matching
// the SplitRecord-like behavior spec.md describes for disagreeing
// immutable kinds, generalized here to the mergeable case.
type Register struct {
	Owner       []byte
	Tag         string
	Permissions Permissions

	entries map[[32]byte]*RegisterEntry
	tips    map[[32]byte]bool
}

// NewRegister creates an empty register owned by owner, scoped to tag.
func NewRegister(owner []byte, tag string, perms Permissions) *Register {
	return &Register{
		Owner:       append([]byte(nil), owner...),
		Tag:         tag,
		Permissions: perms,
		entries:     make(map[[32]byte]*RegisterEntry),
		tips:        make(map[[32]byte]bool),
	}
}

// Tips returns the hashes of the current unconverged frontier.
func (r *Register) Tips() [][32]byte {
	out := make([][32]byte, 0, len(r.tips))
	for h := range r.tips {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Read returns the values at every current tip. More than one value means
// the register has forked under concurrent writes and has not (yet)
// converged; callers may treat that as CRDT-eventual-consistency in
// progress rather than an error.
func (r *Register) Read() [][]byte {
	tips := r.Tips()
	out := make([][]byte, 0, len(tips))
	for _, h := range tips {
		out = append(out, r.entries[h].Value)
	}
	return out
}

// Write signs and appends a new entry whose parents are the register's
// current tips, and merges it into this register.
func (r *Register) Write(signer *keys.PrivateKey, value []byte) (*RegisterEntry, error) {
	parents := r.Tips()
	digest := entryDigest(parents, value)
	sig := signer.Sign(digest[:])
	entry := &RegisterEntry{
		Hash:    digest,
		Parents: parents,
		Value:   value,
		Signer:  signer.Public().Bytes(),
		Sig:     sig,
	}
	if err := r.Merge([]*RegisterEntry{entry}); err != nil {
		return nil, err
	}
	return entry, nil
}

// Merge validates and absorbs a batch of entries (e.g. received from a
// peer), recomputing the tip frontier. Entries referencing unknown
// parents are accepted anyway — the DAG simply treats them as additional
// roots — since the wire protocol does not guarantee causal delivery
// order.
func (r *Register) Merge(entries []*RegisterEntry) error {
	for _, e := range entries {
		if _, exists := r.entries[e.Hash]; exists {
			continue
		}
		if !r.Permissions.CanWrite(e.Signer) {
			return ErrPermissionDenied
		}
		want := entryDigest(e.Parents, e.Value)
		if want != e.Hash {
			return ErrInvalidSignature
		}
		pub, err := keys.PublicKeyFromBytes(e.Signer)
		if err != nil {
			return ErrInvalidSignature
		}
		if !pub.Verify(e.Hash[:], e.Sig) {
			return ErrInvalidSignature
		}
		r.entries[e.Hash] = e
	}
	r.recomputeTips()
	return nil
}

func (r *Register) recomputeTips() {
	referenced := make(map[[32]byte]bool, len(r.entries))
	for _, e := range r.entries {
		for _, p := range e.Parents {
			referenced[p] = true
		}
	}
	tips := make(map[[32]byte]bool, len(r.entries))
	for h := range r.entries {
		if !referenced[h] {
			tips[h] = true
		}
	}
	r.tips = tips
}

// AllEntries returns every entry currently held, in no particular order;
// used to serialize the full DAG for replication.
func (r *Register) AllEntries() []*RegisterEntry {
	out := make([]*RegisterEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
