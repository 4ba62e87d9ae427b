package rpc

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
)

// Version of the node.
const Version = "0.1.0-dev"

// ========================================
// status
// ========================================

// StatusResult is the response for status.
type StatusResult struct {
	PeerID             string   `json:"peer_id"`
	Addrs              []string `json:"addrs"`
	ConnectedPeers     int      `json:"connected_peers"`
	KnownPeers         int      `json:"known_peers"`
	Uptime             string   `json:"uptime"`
	Version            string   `json:"version"`
	CloseRecordsStored int      `json:"close_records_stored"`
	MaxRecords         int      `json:"max_records"`
	WSClients          int      `json:"ws_clients"`
}

func (s *Server) status(ctx context.Context, params json.RawMessage) (interface{}, error) {
	host := s.driver.Host()

	addrs := make([]string, 0, len(host.Addrs()))
	for _, a := range host.Addrs() {
		addrs = append(addrs, a.String()+"/p2p/"+host.ID().String())
	}

	stats, err := s.driver.StoreStats()
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	wsClients := 0
	if s.wsHub != nil {
		wsClients = s.wsHub.ClientCount()
	}

	return &StatusResult{
		PeerID:             host.ID().String(),
		Addrs:              addrs,
		ConnectedPeers:     len(s.driver.ConnectedPeers()),
		KnownPeers:         s.driver.KnownPeerCount(),
		Uptime:             s.driver.Uptime().Round(time.Second).String(),
		Version:            Version,
		CloseRecordsStored: stats.CloseRecordsStored,
		MaxRecords:         stats.MaxRecords,
		WSClients:          wsClients,
	}, nil
}

// ========================================
// peers
// ========================================

// PeerInfo describes one connected peer.
type PeerInfo struct {
	PeerID string   `json:"peer_id"`
	Addrs  []string `json:"addrs,omitempty"`
}

// PeersResult is the response for peers.
type PeersResult struct {
	Peers []PeerInfo `json:"peers"`
	Count int        `json:"count"`
}

func (s *Server) peers(ctx context.Context, params json.RawMessage) (interface{}, error) {
	host := s.driver.Host()
	ids := s.driver.ConnectedPeers()
	result := make([]PeerInfo, 0, len(ids))

	for _, id := range ids {
		addrs := host.Peerstore().Addrs(id)
		addrStrs := make([]string, 0, len(addrs))
		for _, a := range addrs {
			addrStrs = append(addrStrs, a.String())
		}
		result = append(result, PeerInfo{PeerID: id.String(), Addrs: addrStrs})
	}

	return &PeersResult{Peers: result, Count: len(result)}, nil
}

// ========================================
// put
// ========================================

// PutParams is the parameters for put. Payload is base64-encoded, since
// JSON-RPC params are JSON and raw bytes don't round-trip otherwise.
type PutParams struct {
	Payload string `json:"payload"`
}

// PutResult is the response for put.
type PutResult struct {
	Address string `json:"address"`
}

func (s *Server) put(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PutParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Payload == "" {
		return nil, fmt.Errorf("payload is required")
	}

	payload, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload must be base64: %w", err)
	}

	addr, err := s.client.Put(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("put failed: %w", err)
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventPutComplete, map[string]string{"address": addr.Hex()})
	}

	return &PutResult{Address: addr.Hex()}, nil
}

// ========================================
// get
// ========================================

// GetParams is the parameters for get.
type GetParams struct {
	Address string `json:"address"`
}

// GetResult is the response for get.
type GetResult struct {
	Payload string `json:"payload"`
}

func (s *Server) get(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	addr, err := decodeAddress(p.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	payload, err := s.client.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	return &GetResult{Payload: base64.StdEncoding.EncodeToString(payload)}, nil
}

// ========================================
// quote
// ========================================

// QuoteParams is the parameters for quote.
type QuoteParams struct {
	Address string `json:"address"`
}

// QuoteInfo is one close-group peer's quoted cost.
type QuoteInfo struct {
	PeerID        string `json:"peer_id"`
	CostAtto      string `json:"cost_atto"`
	RewardAddress string `json:"reward_address"`
}

// QuoteResult is the response for quote.
type QuoteResult struct {
	Quotes []QuoteInfo `json:"quotes"`
}

func (s *Server) quote(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p QuoteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	addr, err := decodeAddress(p.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	quotes, err := s.driver.GetQuotes(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("quote failed: %w", err)
	}

	result := make([]QuoteInfo, 0, len(quotes))
	for _, q := range quotes {
		result = append(result, QuoteInfo{
			PeerID:        q.Peer.ID.String(),
			CostAtto:      q.Quote.CostAtto.String(),
			RewardAddress: q.Quote.RewardAddress,
		})
	}

	return &QuoteResult{Quotes: result}, nil
}

func decodeAddress(hexStr string) (address.NetworkAddress, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return address.NetworkAddress{}, err
	}
	return address.FromBytes(address.KindChunk, raw)
}
