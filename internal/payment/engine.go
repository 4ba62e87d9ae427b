package payment

import (
	"context"
	"math/big"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/keys"
	"github.com/libp2p/go-libp2p/core/peer"
)

// CloseGroupProvider resolves the peers currently closest to a target
// address, satisfied by *routing.Table without payment importing routing
// directly — kept as a narrow interface so this package stays testable
// without a live routing table.
type CloseGroupProvider interface {
	ClosestPeerIDs(target address.NetworkAddress, n int) []peer.ID
}

// StoreStats is the subset of the record store's local counters the
// quote engine needs. Populated by an adapter in the wiring layer
// (internal/swarm) from store.Store.LocalStats, so this package never
// imports internal/store.
type StoreStats struct {
	CloseRecordsStored   int
	MaxRecords           int
	ReceivedPaymentCount int
}

// StatsSource supplies the current local store statistics.
type StatsSource interface {
	LocalStats() (StoreStats, error)
}

// Engine is the node-local quote engine and payment verifier (C4).
type Engine struct {
	signer         *keys.PrivateKey
	rewardAddress  string
	closeGroupSize int
	quoteTTL       time.Duration

	closeGroup CloseGroupProvider
	stats      StatsSource
	oracle     Oracle

	startedAt time.Time
}

// Config bundles Engine construction parameters.
type Config struct {
	Signer         *keys.PrivateKey
	RewardAddress  string
	CloseGroupSize int
	QuoteTTL       time.Duration
	CloseGroup     CloseGroupProvider
	Stats          StatsSource
	Oracle         Oracle
}

// New constructs a quote engine.
func New(cfg Config) *Engine {
	if cfg.CloseGroupSize <= 0 {
		cfg.CloseGroupSize = 5
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = time.Hour
	}
	return &Engine{
		signer:         cfg.Signer,
		rewardAddress:  cfg.RewardAddress,
		closeGroupSize: cfg.CloseGroupSize,
		quoteTTL:       cfg.QuoteTTL,
		closeGroup:     cfg.CloseGroup,
		stats:          cfg.Stats,
		oracle:         cfg.Oracle,
		startedAt:      time.Now(),
	}
}

func (e *Engine) currentMetrics(networkDensity *[32]byte, networkSize *uint64) (QuotingMetrics, error) {
	stats, err := e.stats.LocalStats()
	if err != nil {
		return QuotingMetrics{}, err
	}
	return QuotingMetrics{
		CloseRecordsStored:   stats.CloseRecordsStored,
		MaxRecords:           stats.MaxRecords,
		ReceivedPaymentCount: stats.ReceivedPaymentCount,
		LiveTimeHours:        uint64(time.Since(e.startedAt).Hours()),
		NetworkDensity:       networkDensity,
		NetworkSize:          networkSize,
	}, nil
}

// QuoteFor issues a signed PaymentQuote for key using the node's current
// local metrics, per spec.md §4.4.
func (e *Engine) QuoteFor(key address.NetworkAddress, networkDensity *[32]byte, networkSize *uint64) (PaymentQuote, error) {
	metrics, err := e.currentMetrics(networkDensity, networkSize)
	if err != nil {
		return PaymentQuote{}, err
	}
	return Quote(e.signer, key, metrics, e.rewardAddress, time.Now()), nil
}

// LocalCost implements store.Quoter: the price this node would charge
// for key right now, ignoring optional network-wide metrics it cannot
// compute without a live sample.
func (e *Engine) LocalCost(key address.NetworkAddress) (*big.Int, error) {
	metrics, err := e.currentMetrics(nil, nil)
	if err != nil {
		return nil, err
	}
	return PriceCurve(metrics), nil
}

// VerifyPayment implements spec.md §4.4's verify_payment: a quote in the
// proof counts only if it comes from a peer currently in our close group
// for key, carries a valid signature, is not expired, and settles
// on-chain; quotes failing any check are skipped, and the proof is
// rejected only when none passes. It returns the maximum atto amount
// attested by a passing quote and whether at least one belongs to
// localPeerID (vs. being accepted only as a replication copy).
func (e *Engine) VerifyPayment(ctx context.Context, proof ProofOfPayment, key address.NetworkAddress, localPeerID peer.ID) (*big.Int, bool, error) {
	closest := e.closeGroup.ClosestPeerIDs(key, e.closeGroupSize)
	inCloseGroup := make(map[peer.ID]bool, len(closest))
	for _, p := range closest {
		inCloseGroup[p] = true
	}

	var best *big.Int
	locallyPaid := false
	sawAnyCloseGroupQuote := false

	for _, pq := range proof.PeerQuotes {
		id, err := peer.IDFromBytes(pq.PeerID)
		if err != nil {
			continue
		}
		// The claimed PeerID and the quote's embedded Signer are two
		// independently-settable fields with no structural link; without
		// this check an attacker could pair a close-group member's PeerID
		// with a quote signed (and paid) by a key of their own choosing.
		// Peer IDs in this network are peer.IDFromBytes of the raw signing
		// public key (see internal/keys, engine_test.go's newTestPeerID),
		// so re-deriving one from Signer and requiring it to match the
		// claimed PeerID binds the two together.
		signerID, err := peer.IDFromBytes(pq.Quote.Signer)
		if err != nil || signerID != id {
			continue
		}
		if !inCloseGroup[id] {
			continue
		}
		if !pq.Quote.VerifySignature() {
			continue
		}
		if pq.Quote.Expired(time.Now(), e.quoteTTL) {
			continue
		}
		paid, err := e.oracle.Paid(ctx, proof.TxHash, pq.Quote.CostAtto, pq.Quote.RewardAddress)
		if err != nil {
			return nil, false, err
		}
		if !paid {
			continue
		}
		sawAnyCloseGroupQuote = true
		if best == nil || pq.Quote.CostAtto.Cmp(best) > 0 {
			best = pq.Quote.CostAtto
		}
		if id == localPeerID {
			locallyPaid = true
		}
	}

	if !sawAnyCloseGroupQuote {
		return nil, false, ErrNoQuoteFromCloseGroup
	}
	return best, locallyPaid, nil
}

// Validate implements store.Validator by unmarshaling the wire-encoded
// proof and delegating to VerifyPayment. localCost is accepted for
// interface compatibility; the 90% grace comparison itself is applied by
// the store after Validate returns the settled amount.
func (e *Engine) Validate(proofBytes []byte, key address.NetworkAddress, localCost *big.Int) (*big.Int, bool, error) {
	proof, err := UnmarshalProof(proofBytes)
	if err != nil {
		return nil, false, err
	}
	return e.VerifyPayment(context.Background(), proof, key, "")
}
