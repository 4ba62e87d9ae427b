package store

import "bytes"

// Permissions authorizes writers for a mergeable record (Register or
// LinkedList), grounded on sn_registers/src/permissions.rs's
// anyone-can-write-or-named-writers model.
type Permissions struct {
	AnyoneCanWrite bool
	Writers        [][]byte // compressed secp256k1 public keys
}

// PublicPermissions allows any signer whose signature verifies.
func PublicPermissions() Permissions {
	return Permissions{AnyoneCanWrite: true}
}

// OwnerOnlyPermissions restricts writes to a single owner key.
func OwnerOnlyPermissions(owner []byte) Permissions {
	return Permissions{Writers: [][]byte{append([]byte(nil), owner...)}}
}

// CanWrite reports whether signerPubKey is authorized under these
// permissions.
func (p Permissions) CanWrite(signerPubKey []byte) bool {
	if p.AnyoneCanWrite {
		return true
	}
	for _, w := range p.Writers {
		if bytes.Equal(w, signerPubKey) {
			return true
		}
	}
	return false
}
