// Package keys provides the secp256k1 signing primitives shared by
// owner-authenticated record kinds (registers, linked lists, scratchpads,
// spends) and by payment quotes. Grounded on the teacher's EVM transaction
// signing in internal/wallet/evm_tx.go, which signs with a
// *btcec.PrivateKey via btcec/v2/ecdsa — the same key type doubles here as
// the record-ownership key, since both the payment layer and the record
// layer ultimately authenticate against EVM-style secp256k1 keys in this
// network.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// PrivateKey is an owner's secp256k1 signing key.
type PrivateKey struct {
	inner *btcec.PrivateKey
}

// PublicKey is the compressed-form public counterpart of a PrivateKey.
type PublicKey struct {
	inner *btcec.PublicKey
}

// Signature is a DER-encoded ECDSA signature over a SHA-256 digest.
type Signature struct {
	raw []byte
}

// Generate creates a new random signing key.
func Generate() (*PrivateKey, error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &PrivateKey{inner: sk}, nil
}

// FromBytes parses a 32-byte raw secp256k1 scalar into a PrivateKey.
func FromBytes(raw []byte) (*PrivateKey, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("keys: private key must be 32 bytes, got %d", len(raw))
	}
	sk, _ := btcec.PrivKeyFromBytes(raw)
	return &PrivateKey{inner: sk}, nil
}

// Public returns the public key corresponding to sk.
func (sk *PrivateKey) Public() *PublicKey {
	return &PublicKey{inner: sk.inner.PubKey()}
}

// Bytes returns the raw 32-byte scalar. Callers must treat the result as
// sensitive material.
func (sk *PrivateKey) Bytes() []byte {
	return sk.inner.Serialize()
}

// Sign signs the SHA-256 digest of msg and returns a DER-encoded signature.
func (sk *PrivateKey) Sign(msg []byte) Signature {
	digest := sha256.Sum256(msg)
	sig := btcecdsa.Sign(sk.inner, digest[:])
	return Signature{raw: sig.Serialize()}
}

// PublicKeyFromBytes parses a compressed (33-byte) or uncompressed
// (65-byte) secp256k1 public key.
func PublicKeyFromBytes(raw []byte) (*PublicKey, error) {
	pk, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	return &PublicKey{inner: pk}, nil
}

// Bytes returns the compressed 33-byte encoding of the public key, used
// as the canonical owner identifier embedded in register/scratchpad/spend
// addresses.
func (pk *PublicKey) Bytes() []byte {
	return pk.inner.SerializeCompressed()
}

// Hex returns the compressed public key as lowercase hex, used in log
// lines and human-facing address printing.
func (pk *PublicKey) Hex() string {
	return hex.EncodeToString(pk.Bytes())
}

// Equal reports whether two public keys are the same point.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return pk.inner.IsEqual(other.inner)
}

// Verify checks a DER-encoded signature over msg's SHA-256 digest against
// pk, returning false on malformed signature bytes rather than an error
// since record validation treats any verification failure identically.
func (pk *PublicKey) Verify(msg []byte, sig Signature) bool {
	parsed, err := btcecdsa.ParseDERSignature(sig.raw)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return parsed.Verify(digest[:], pk.inner)
}

// SignatureFromBytes wraps a raw DER-encoded signature read off the wire
// or out of the record store.
func SignatureFromBytes(raw []byte) Signature {
	return Signature{raw: append([]byte(nil), raw...)}
}

// Bytes returns the DER encoding of the signature.
func (s Signature) Bytes() []byte {
	return s.raw
}

// MarshalJSON encodes the signature as a hex string, since its raw
// field is unexported and would otherwise vanish under the default
// struct marshaler. Needed wherever a Signature is embedded in a
// JSON-persisted or JSON-framed type (store.RegisterEntry, payment's
// PaymentQuote).
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s.raw))
}

// UnmarshalJSON decodes the hex string produced by MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var h string
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return fmt.Errorf("keys: decode signature hex: %w", err)
	}
	s.raw = raw
	return nil
}
