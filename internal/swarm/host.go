// Package swarm wires the routing table, record store, and payment
// engine to a libp2p host and drives the node's main event loop
// (component C6): iterative FindNode/GetRecord/PutRecord dispatch with
// alpha-way concurrency, quorum-aware result aggregation, and the
// periodic discovery/replication/prune/metrics tickers. Grounded on the
// teacher's internal/node/node.go host construction and
// internal/node/stream_handler.go's protocol-handler registration,
// deliberately NOT using go-libp2p-kad-dht: the routing table and
// lookup logic it would otherwise supply are this spec's own
// implemented core (internal/routing), so wiring in a second,
// unrelated Kademlia implementation alongside it would duplicate
// rather than serve the spec.
package swarm

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/ant-overlay/antcore/internal/config"
)

// NewHost builds a libp2p host from cfg, loading or generating an
// Ed25519 identity key at <dataDir>/identity.key, mirroring
// node.go's loadOrCreateKey.
func NewHost(cfg *config.CoreConfig) (host.Host, error) {
	privKey, err := loadOrCreateIdentity(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("swarm: load identity: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("swarm: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	lowWater := cfg.Network.ConnMgrLowWater
	highWater := cfg.Network.ConnMgrHighWater
	if lowWater <= 0 {
		lowWater = 100
	}
	if highWater <= 0 {
		highWater = 400
	}
	cm, err := connmgr.NewConnManager(lowWater, highWater, connmgr.WithGracePeriod(cfg.Network.ConnMgrGrace))
	if err != nil {
		return nil, fmt.Errorf("swarm: connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.Network.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.Network.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("swarm: create libp2p host: %w", err)
	}
	return h, nil
}

func loadOrCreateIdentity(dataDir string) (crypto.PrivKey, error) {
	dir := config.ExpandPath(dataDir)
	keyPath := filepath.Join(dir, "identity.key")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}
