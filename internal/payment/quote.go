// Package payment implements the quote engine and payment verification
// (component C4): deterministic pricing from local QuotingMetrics,
// signed PaymentQuote issuance, and ProofOfPayment verification against
// an external payment oracle. Grounded on evmlib/src/quoting_metrics.rs
// for the metrics shape and on the teacher's
// internal/contracts/htlc/client.go for the ethclient wrapping pattern
// used by EVMOracle.
package payment

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/keys"
)

// QuotingMetrics mirrors evmlib's QuotingMetrics exactly in field set.
type QuotingMetrics struct {
	CloseRecordsStored   int
	MaxRecords           int
	ReceivedPaymentCount int
	LiveTimeHours        uint64
	NetworkDensity       *[32]byte
	NetworkSize          *uint64
}

// BaseCostAtto is the pricing floor: no quote is ever issued below this,
// regardless of how empty the store is.
var BaseCostAtto = big.NewInt(1_000_000_000) // 1e9 atto

// PriceCurve computes the deterministic cost for a key given the local
// node's QuotingMetrics. It resolves spec.md §9's pricing Open Question:
// cost grows linearly in close-group fullness (close_records_stored /
// max_records) and logarithmically in received_payment_count, floor-
// clamped to BaseCostAtto. Both terms are monotonically non-decreasing in
// their inputs, satisfying spec.md §8 property 6.
func PriceCurve(m QuotingMetrics) *big.Int {
	if m.MaxRecords <= 0 {
		return new(big.Int).Set(BaseCostAtto)
	}

	// fullness term: base * (1 + 4*fullness), fixed-point with a 1e6 scale
	// to avoid floating point in a value that ultimately must match byte-
	// for-byte across implementations.
	const scale = 1_000_000
	fullnessScaled := int64(m.CloseRecordsStored) * scale / int64(m.MaxRecords)
	fullnessTerm := new(big.Int).Mul(BaseCostAtto, big.NewInt(4*fullnessScaled))
	fullnessTerm.Div(fullnessTerm, big.NewInt(scale))

	// payment-count term: base * log2(1 + received_payment_count), integer
	// log2 via bit length to stay deterministic across platforms.
	paymentBits := int64(big.NewInt(int64(m.ReceivedPaymentCount) + 1).BitLen() - 1)
	if paymentBits < 0 {
		paymentBits = 0
	}
	paymentTerm := new(big.Int).Mul(BaseCostAtto, big.NewInt(paymentBits))

	// live-time term: weak influence, +1% of base per 24h of uptime.
	liveTerm := new(big.Int).Mul(BaseCostAtto, big.NewInt(int64(m.LiveTimeHours/24)))
	liveTerm.Div(liveTerm, big.NewInt(100))

	total := new(big.Int).Set(BaseCostAtto)
	total.Add(total, fullnessTerm)
	total.Add(total, paymentTerm)
	total.Add(total, liveTerm)

	if total.Cmp(BaseCostAtto) < 0 {
		return new(big.Int).Set(BaseCostAtto)
	}
	return total
}

// PaymentQuote is the signed tuple a storing node hands back to a client
// requesting a price, per spec.md §3.
type PaymentQuote struct {
	ContentXor    [32]byte
	CostAtto      *big.Int
	Timestamp     time.Time
	Metrics       QuotingMetrics
	RewardAddress string // 0x-prefixed EVM address quotes are payable to
	Signer        []byte // compressed secp256k1 public key of the quoting peer
	Signature     keys.Signature
}

func quoteDigest(contentXor [32]byte, cost *big.Int, ts time.Time) [32]byte {
	h := sha256.New()
	h.Write(contentXor[:])
	h.Write(cost.Bytes())
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts.Unix()))
	h.Write(tsBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Quote computes the price for key from metrics and returns a signed
// PaymentQuote, per spec.md §4.4.
func Quote(signer *keys.PrivateKey, key address.NetworkAddress, metrics QuotingMetrics, rewardAddress string, now time.Time) PaymentQuote {
	cost := PriceCurve(metrics)
	digest := quoteDigest(key.Bytes, cost, now)
	return PaymentQuote{
		ContentXor:    key.Bytes,
		CostAtto:      cost,
		Timestamp:     now,
		Metrics:       metrics,
		RewardAddress: rewardAddress,
		Signer:        signer.Public().Bytes(),
		Signature:     signer.Sign(digest[:]),
	}
}

// VerifySignature checks the quote's signature against its own embedded
// signer key (the caller is responsible for separately checking that
// Signer is actually a current close-group peer).
func (q PaymentQuote) VerifySignature() bool {
	pub, err := keys.PublicKeyFromBytes(q.Signer)
	if err != nil {
		return false
	}
	digest := quoteDigest(q.ContentXor, q.CostAtto, q.Timestamp)
	return pub.Verify(digest[:], q.Signature)
}

// Expired reports whether the quote is older than ttl relative to now.
func (q PaymentQuote) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(q.Timestamp) > ttl
}

// MarshalQuote serializes a quote for the quote RPC response, kept as a
// package-level function (rather than a method named Marshal) so the
// wire encoding decision is visible at call sites that cross the
// protocol-layer boundary.
func MarshalQuote(q PaymentQuote) ([]byte, error) {
	return json.Marshal(q)
}

// UnmarshalQuote parses a quote produced by MarshalQuote.
func UnmarshalQuote(data []byte) (PaymentQuote, error) {
	var q PaymentQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return PaymentQuote{}, err
	}
	return q, nil
}
