package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/client"
	"github.com/ant-overlay/antcore/internal/config"
	"github.com/ant-overlay/antcore/internal/keys"
	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/routing"
	"github.com/ant-overlay/antcore/internal/store"
	"github.com/ant-overlay/antcore/internal/swarm"
)

// testServer builds a Server around a single-node Driver (no peers
// connected) with a temp-dir-backed store and a stub payment oracle,
// the same construction sequence cmd/antnode uses at startup.
func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Network.ListenAddrs = []string{"/ip4/127.0.0.1/udp/0/quic-v1"}
	cfg.Network.EnableMDNS = false

	h, err := swarm.NewHost(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	self := address.PeerAddress([]byte(h.ID()))
	rtable := routing.New(routing.Config{Self: self, K: cfg.K})
	t.Cleanup(rtable.Close)

	st, err := store.New(store.Config{DataDir: cfg.Storage.DataDir, MaxRecords: cfg.Storage.MaxRecords})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	oracle := payment.NewStubOracle()
	sk, err := keys.Generate()
	require.NoError(t, err)

	engine := payment.New(payment.Config{
		Signer:         sk,
		RewardAddress:  "0xreward",
		CloseGroupSize: cfg.CloseGroupSize,
		QuoteTTL:       cfg.QuoteTTL,
		CloseGroup:     rtable,
		Stats:          swarm.StoreStatsAdapter{S: st},
		Oracle:         oracle,
	})

	driver := swarm.New(swarm.DriverConfig{
		Host:    h,
		Table:   rtable,
		Store:   st,
		Payment: engine,
		Core:    cfg,
	})

	cl := client.New(client.Config{
		Driver: driver,
		Payer:  client.NewStubPayer(oracle),
	})

	return NewServer(driver, cl)
}

func call(t *testing.T, s *Server, method string, params interface{}) (json.RawMessage, *Error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	s.mu.RLock()
	h, ok := s.handlers[method]
	s.mu.RUnlock()
	require.True(t, ok, "method %s not registered", method)

	result, callErr := h(context.Background(), raw)
	if callErr != nil {
		return nil, &Error{Code: InternalError, Message: callErr.Error()}
	}
	out, err := json.Marshal(result)
	require.NoError(t, err)
	return out, nil
}

func TestStatusReportsSelfAndEmptyPeerSet(t *testing.T) {
	s := testServer(t)

	raw, callErr := call(t, s, "status", map[string]any{})
	require.Nil(t, callErr)

	var res StatusResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotEmpty(t, res.PeerID)
	require.Equal(t, 0, res.ConnectedPeers)
}

func TestPeersReturnsEmptyListWhenAlone(t *testing.T) {
	s := testServer(t)

	raw, callErr := call(t, s, "peers", map[string]any{})
	require.Nil(t, callErr)

	var res PeersResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.Equal(t, 0, res.Count)
}

func TestPutRequiresPayload(t *testing.T) {
	s := testServer(t)

	_, callErr := call(t, s, "put", PutParams{Payload: ""})
	require.NotNil(t, callErr)
}

func TestPutFailsWithoutQuorum(t *testing.T) {
	s := testServer(t)

	payload := base64.StdEncoding.EncodeToString([]byte("hello world"))
	_, callErr := call(t, s, "put", PutParams{Payload: payload})
	require.NotNil(t, callErr, "a lone node with no close-group peers cannot satisfy Quorum::All")
}

func TestGetRequiresAddress(t *testing.T) {
	s := testServer(t)

	_, callErr := call(t, s, "get", GetParams{Address: ""})
	require.NotNil(t, callErr)
}

func TestQuoteRequiresAddress(t *testing.T) {
	s := testServer(t)

	_, callErr := call(t, s, "quote", QuoteParams{Address: ""})
	require.NotNil(t, callErr)
}

func TestDecodeAddressRoundTrip(t *testing.T) {
	want := address.ChunkAddress([]byte("payload"))
	got, err := decodeAddress(want.Hex())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeAddressRejectsNonHex(t *testing.T) {
	_, err := decodeAddress("not-hex")
	require.Error(t, err)
}
