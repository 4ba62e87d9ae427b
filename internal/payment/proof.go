package payment

import (
	"encoding/json"
	"errors"
)

// PeerQuote pairs an encoded peer identity with the quote it issued,
// per spec.md §3's ProofOfPayment.peer_quotes.
type PeerQuote struct {
	PeerID []byte
	Quote  PaymentQuote
}

// ProofOfPayment is submitted alongside a PutRecord for a payable kind.
type ProofOfPayment struct {
	PeerQuotes []PeerQuote
	TxHash     string
}

// Errors returned by proof verification, per spec.md §7.
var (
	ErrNoQuoteFromCloseGroup = errors.New("payment: no quote in proof signed by a current close-group peer")
	ErrQuoteExpired          = errors.New("payment: quote has expired")
	ErrQuoteSignatureInvalid = errors.New("payment: quote signature failed verification")
	ErrPaymentNotSettled     = errors.New("payment: oracle reports payment not settled")
)

// Marshal serializes a ProofOfPayment for transport/storage.
func (p ProofOfPayment) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalProof parses a serialized ProofOfPayment.
func UnmarshalProof(data []byte) (ProofOfPayment, error) {
	var p ProofOfPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return ProofOfPayment{}, err
	}
	return p, nil
}
