package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/config"
	"github.com/ant-overlay/antcore/internal/keys"
	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/protocol"
	"github.com/ant-overlay/antcore/internal/swarm"
)

var errBoom = errors.New("boom")

type fakeDriver struct {
	quotes    []swarm.PeerQuote
	quotesErr error
	putErr    error
	putFails  int
	putCalls  int
	getResp   []protocol.GetRecordResp
	getErr    error
}

func (f *fakeDriver) GetQuotes(ctx context.Context, key address.NetworkAddress) ([]swarm.PeerQuote, error) {
	return f.quotes, f.quotesErr
}

func (f *fakeDriver) PutRecord(ctx context.Context, msg protocol.PutRecordMsg, quorum config.Quorum) (int, error) {
	f.putCalls++
	if f.putCalls <= f.putFails {
		return 0, errBoom
	}
	if f.putErr != nil {
		return 0, f.putErr
	}
	return 1, nil
}

func (f *fakeDriver) GetRecord(ctx context.Context, key address.NetworkAddress, quorum config.Quorum) ([]protocol.GetRecordResp, error) {
	return f.getResp, f.getErr
}

type fakePayer struct {
	calls  int
	txHash string
	err    error
}

func (f *fakePayer) Pay(ctx context.Context, quotes []swarm.PeerQuote) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.txHash, nil
}

func testQuote(t *testing.T, key address.NetworkAddress) swarm.PeerQuote {
	sk, err := keys.Generate()
	require.NoError(t, err)
	q := payment.Quote(sk, key, payment.QuotingMetrics{MaxRecords: 100}, "0xabc", time.Now())
	return swarm.PeerQuote{
		Peer:  swarm.PeerInfo{ID: peer.ID("storer-1")},
		Quote: q,
	}
}

func TestPutQuotesPaysAndSubmits(t *testing.T) {
	key := address.ChunkAddress([]byte("hello world"))
	driver := &fakeDriver{quotes: []swarm.PeerQuote{testQuote(t, key)}}
	payer := &fakePayer{txHash: "0xdeadbeef"}

	c := New(Config{Driver: driver, Payer: payer})

	got, err := c.Put(context.Background(), []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, key, got)
	require.Equal(t, 1, payer.calls)
	require.Equal(t, 1, driver.putCalls)
}

func TestPutReusesCachedPaymentWithinTTL(t *testing.T) {
	key := address.ChunkAddress([]byte("hello world"))
	driver := &fakeDriver{quotes: []swarm.PeerQuote{testQuote(t, key)}}
	payer := &fakePayer{txHash: "0xdeadbeef"}

	c := New(Config{Driver: driver, Payer: payer})

	_, err := c.Put(context.Background(), []byte("hello world"))
	require.NoError(t, err)
	_, err = c.Put(context.Background(), []byte("hello world"))
	require.NoError(t, err)

	require.Equal(t, 1, payer.calls, "second put for the same content address should reuse the cached payment")
	require.Equal(t, 2, driver.putCalls)
}

func TestPutFailsWhenNoQuotesAvailable(t *testing.T) {
	driver := &fakeDriver{quotes: nil}
	payer := &fakePayer{}
	c := New(Config{Driver: driver, Payer: payer})

	_, err := c.Put(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, ErrNoQuotesAvailable)
	require.Equal(t, 0, payer.calls)
}

func TestPutWrapsPaymentFailure(t *testing.T) {
	key := address.ChunkAddress([]byte("payload"))
	driver := &fakeDriver{quotes: []swarm.PeerQuote{testQuote(t, key)}}
	payer := &fakePayer{err: errBoom}

	c := New(Config{Driver: driver, Payer: payer})
	_, err := c.Put(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, ErrPaymentFailed)
}

func TestPutRetriesOnTransientFailureThenSucceeds(t *testing.T) {
	key := address.ChunkAddress([]byte("payload"))
	driver := &fakeDriver{quotes: []swarm.PeerQuote{testQuote(t, key)}, putFails: 1}
	payer := &fakePayer{txHash: "0xaaaa"}
	c := New(Config{Driver: driver, Payer: payer, Retry: config.RetryQuick})

	_, err := c.Put(context.Background(), []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, 2, driver.putCalls)
}

func TestGetReturnsFirstQuorumSatisfyingPayload(t *testing.T) {
	driver := &fakeDriver{getResp: []protocol.GetRecordResp{{Found: true, Payload: []byte("hello world")}}}
	c := New(Config{Driver: driver, Payer: &fakePayer{}})

	got, err := c.Get(context.Background(), address.ChunkAddress([]byte("hello world")))
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestGetPropagatesQuorumNotMet(t *testing.T) {
	driver := &fakeDriver{getErr: swarm.ErrQuorumNotMet}
	c := New(Config{Driver: driver, Payer: &fakePayer{}})

	_, err := c.Get(context.Background(), address.ChunkAddress([]byte("x")))
	require.ErrorIs(t, err, swarm.ErrQuorumNotMet)
}

func TestGetReturnsSplitRecordOnDisagreeingImmutablePayloads(t *testing.T) {
	driver := &fakeDriver{getResp: []protocol.GetRecordResp{
		{Found: true, Payload: []byte("X")},
		{Found: true, Payload: []byte("Y")},
	}}
	c := New(Config{Driver: driver, Payer: &fakePayer{}})

	_, err := c.GetWithQuorum(context.Background(), address.SpendAddress([]byte("unique-key")), config.QuorumAll)
	require.Error(t, err)
	var splitErr *SplitRecordError
	require.ErrorAs(t, err, &splitErr)
	require.ElementsMatch(t, [][]byte{[]byte("X"), []byte("Y")}, splitErr.Variants)
}

func TestGetReturnsFirstRegisterPayloadWithoutSplit(t *testing.T) {
	driver := &fakeDriver{getResp: []protocol.GetRecordResp{
		{Found: true, Payload: []byte("merged-state-a")},
		{Found: true, Payload: []byte("merged-state-b")},
	}}
	c := New(Config{Driver: driver, Payer: &fakePayer{}})

	got, err := c.Get(context.Background(), address.RegisterAddress([]byte("owner"), "tag"))
	require.NoError(t, err)
	require.Equal(t, []byte("merged-state-a"), got)
}

func TestRateLimiterRejectsOverBudgetCalls(t *testing.T) {
	driver := &fakeDriver{getResp: []protocol.GetRecordResp{{Found: true, Payload: []byte("x")}}}
	c := New(Config{Driver: driver, Payer: &fakePayer{}, RateLimit: 1, Burst: 1})

	_, err := c.Get(context.Background(), address.ChunkAddress([]byte("x")))
	require.NoError(t, err)
	_, err = c.Get(context.Background(), address.ChunkAddress([]byte("x")))
	require.ErrorIs(t, err, ErrRateLimited)
}
