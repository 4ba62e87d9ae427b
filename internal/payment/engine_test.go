package payment

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/keys"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

type stubCloseGroup struct {
	ids []peer.ID
}

func (s stubCloseGroup) ClosestPeerIDs(target address.NetworkAddress, n int) []peer.ID {
	if n < len(s.ids) {
		return s.ids[:n]
	}
	return s.ids
}

type stubStats struct {
	stats StoreStats
}

func (s stubStats) LocalStats() (StoreStats, error) { return s.stats, nil }

func newTestPeerID(t *testing.T) peer.ID {
	t.Helper()
	sk, err := keys.Generate()
	require.NoError(t, err)
	id, err := peer.IDFromBytes(sk.Public().Bytes())
	require.NoError(t, err)
	return id
}

func TestQuoteForProducesVerifiableSignature(t *testing.T) {
	signer, err := keys.Generate()
	require.NoError(t, err)

	e := New(Config{
		Signer:        signer,
		RewardAddress: "0xreward",
		CloseGroup:    stubCloseGroup{},
		Stats:         stubStats{stats: StoreStats{MaxRecords: 100}},
		Oracle:        NewStubOracle(),
	})

	key := address.ChunkAddress([]byte("payload"))
	q, err := e.QuoteFor(key, nil, nil)
	require.NoError(t, err)
	require.True(t, q.VerifySignature())
	require.Equal(t, key.Bytes, q.ContentXor)
}

func TestPriceCurveIsMonotonicInFullnessAndPaymentCount(t *testing.T) {
	low := PriceCurve(QuotingMetrics{CloseRecordsStored: 1, MaxRecords: 100, ReceivedPaymentCount: 1})
	high := PriceCurve(QuotingMetrics{CloseRecordsStored: 90, MaxRecords: 100, ReceivedPaymentCount: 1})
	require.True(t, high.Cmp(low) > 0)

	lowPayments := PriceCurve(QuotingMetrics{CloseRecordsStored: 1, MaxRecords: 100, ReceivedPaymentCount: 1})
	highPayments := PriceCurve(QuotingMetrics{CloseRecordsStored: 1, MaxRecords: 100, ReceivedPaymentCount: 1000})
	require.True(t, highPayments.Cmp(lowPayments) >= 0)
}

func TestPriceCurveNeverGoesBelowBaseCost(t *testing.T) {
	cost := PriceCurve(QuotingMetrics{})
	require.True(t, cost.Cmp(BaseCostAtto) >= 0)
}

func TestVerifyPaymentAcceptsSettledCloseGroupQuote(t *testing.T) {
	quoter, err := keys.Generate()
	require.NoError(t, err)
	quoterID := newTestPeerID(t)

	oracle := NewStubOracle()
	key := address.ChunkAddress([]byte("data"))
	metrics := QuotingMetrics{MaxRecords: 100}
	quote := Quote(quoter, key, metrics, "0xreward", time.Now())
	oracle.MarkSettled("0xabc", quote.CostAtto, "0xreward")

	e := New(Config{
		Signer:        quoter,
		RewardAddress: "0xreward",
		CloseGroup:    stubCloseGroup{ids: []peer.ID{quoterID}},
		Stats:         stubStats{},
		Oracle:        oracle,
	})

	proof := ProofOfPayment{
		PeerQuotes: []PeerQuote{{PeerID: []byte(quoterID), Quote: quote}},
		TxHash:     "0xabc",
	}

	paid, locallyPaid, err := e.VerifyPayment(context.Background(), proof, key, quoterID)
	require.NoError(t, err)
	require.True(t, locallyPaid)
	require.Equal(t, 0, paid.Cmp(quote.CostAtto))
}

func TestVerifyPaymentRejectsQuoteFromOutsideCloseGroup(t *testing.T) {
	quoter, err := keys.Generate()
	require.NoError(t, err)
	quoterID := newTestPeerID(t)
	otherID := newTestPeerID(t)

	oracle := NewStubOracle()
	key := address.ChunkAddress([]byte("data"))
	quote := Quote(quoter, key, QuotingMetrics{MaxRecords: 100}, "0xreward", time.Now())
	oracle.MarkSettled("0xabc", quote.CostAtto, "0xreward")

	e := New(Config{
		Signer:        quoter,
		RewardAddress: "0xreward",
		CloseGroup:    stubCloseGroup{ids: []peer.ID{otherID}},
		Stats:         stubStats{},
		Oracle:        oracle,
	})

	proof := ProofOfPayment{
		PeerQuotes: []PeerQuote{{PeerID: []byte(quoterID), Quote: quote}},
		TxHash:     "0xabc",
	}

	_, _, err = e.VerifyPayment(context.Background(), proof, key, quoterID)
	require.ErrorIs(t, err, ErrNoQuoteFromCloseGroup)
}

func TestVerifyPaymentRejectsExpiredQuote(t *testing.T) {
	quoter, err := keys.Generate()
	require.NoError(t, err)
	quoterID := newTestPeerID(t)

	oracle := NewStubOracle()
	key := address.ChunkAddress([]byte("data"))
	quote := Quote(quoter, key, QuotingMetrics{MaxRecords: 100}, "0xreward", time.Now().Add(-2*time.Hour))
	oracle.MarkSettled("0xabc", quote.CostAtto, "0xreward")

	e := New(Config{
		Signer:        quoter,
		RewardAddress: "0xreward",
		CloseGroup:    stubCloseGroup{ids: []peer.ID{quoterID}},
		Stats:         stubStats{},
		Oracle:        oracle,
		QuoteTTL:      time.Hour,
	})

	proof := ProofOfPayment{
		PeerQuotes: []PeerQuote{{PeerID: []byte(quoterID), Quote: quote}},
		TxHash:     "0xabc",
	}

	_, _, err = e.VerifyPayment(context.Background(), proof, key, quoterID)
	require.ErrorIs(t, err, ErrNoQuoteFromCloseGroup)
}

func TestVerifyPaymentRejectsUnsettledTransaction(t *testing.T) {
	quoter, err := keys.Generate()
	require.NoError(t, err)
	quoterID := newTestPeerID(t)

	oracle := NewStubOracle()
	key := address.ChunkAddress([]byte("data"))
	quote := Quote(quoter, key, QuotingMetrics{MaxRecords: 100}, "0xreward", time.Now())

	e := New(Config{
		Signer:        quoter,
		RewardAddress: "0xreward",
		CloseGroup:    stubCloseGroup{ids: []peer.ID{quoterID}},
		Stats:         stubStats{},
		Oracle:        oracle,
	})

	proof := ProofOfPayment{
		PeerQuotes: []PeerQuote{{PeerID: []byte(quoterID), Quote: quote}},
		TxHash:     "0xdoesnotexist",
	}

	_, _, err = e.VerifyPayment(context.Background(), proof, key, quoterID)
	require.ErrorIs(t, err, ErrNoQuoteFromCloseGroup)
}

func TestVerifyPaymentRejectsQuoteSignerMismatchedWithClaimedPeerID(t *testing.T) {
	closeGroupMember := newTestPeerID(t)
	attacker, err := keys.Generate()
	require.NoError(t, err)

	oracle := NewStubOracle()
	key := address.ChunkAddress([]byte("data"))
	// The attacker signs their own quote, but submits it claiming to be
	// closeGroupMember's PeerID instead of their own.
	quote := Quote(attacker, key, QuotingMetrics{MaxRecords: 100}, "0xattacker-reward", time.Now())
	oracle.MarkSettled("0xabc", quote.CostAtto, "0xattacker-reward")

	e := New(Config{
		Signer:        attacker,
		RewardAddress: "0xreward",
		CloseGroup:    stubCloseGroup{ids: []peer.ID{closeGroupMember}},
		Stats:         stubStats{},
		Oracle:        oracle,
	})

	proof := ProofOfPayment{
		PeerQuotes: []PeerQuote{{PeerID: []byte(closeGroupMember), Quote: quote}},
		TxHash:     "0xabc",
	}

	_, _, err = e.VerifyPayment(context.Background(), proof, key, closeGroupMember)
	require.ErrorIs(t, err, ErrNoQuoteFromCloseGroup)
}

func TestLocalCostImplementsStoreQuoterInterface(t *testing.T) {
	signer, err := keys.Generate()
	require.NoError(t, err)
	e := New(Config{
		Signer:     signer,
		CloseGroup: stubCloseGroup{},
		Stats:      stubStats{stats: StoreStats{CloseRecordsStored: 50, MaxRecords: 100}},
		Oracle:     NewStubOracle(),
	})

	cost, err := e.LocalCost(address.ChunkAddress([]byte("x")))
	require.NoError(t, err)
	require.True(t, cost.Cmp(big.NewInt(0)) > 0)
}
