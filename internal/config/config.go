// Package config provides the immutable CoreConfig passed to every
// component at construction. Protocol constants (K, alpha, close-group
// size, timeouts) live here as configuration, never as package-level
// globals read from inside the core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kademlia / overlay constants with their defaults. All are overridable.
const (
	DefaultK               = 20
	DefaultAlpha           = 3
	DefaultCloseGroupSize  = 5
	DefaultBitTreeDepth    = 20
	DefaultMaxPacketSize   = 5 * 1024 * 1024
	DefaultBadPeerSetSize  = 128
	DefaultSeenRequestsCap = 1024
	DefaultQuoteTTL        = time.Hour
	DefaultMaxRecords      = 2_000_000
)

// Default periodic-task intervals (spec §4.6).
const (
	DefaultBootstrapInterval   = 60 * time.Second
	DefaultReplicationInterval = 10 * time.Second
	DefaultPruneInterval       = 5 * time.Minute
	DefaultMetricsInterval     = 5 * time.Second
)

// RetryStrategy mirrors the three named retry budgets from the spec.
type RetryStrategy string

const (
	RetryQuick      RetryStrategy = "quick"
	RetryBalanced   RetryStrategy = "balanced"
	RetryPersistent RetryStrategy = "persistent"
)

// Duration returns the total retry budget for the strategy.
func (r RetryStrategy) Duration() time.Duration {
	switch r {
	case RetryQuick:
		return 15 * time.Second
	case RetryPersistent:
		return 180 * time.Second
	default:
		return 60 * time.Second
	}
}

// Attempts returns the max retry attempts for the strategy.
func (r RetryStrategy) Attempts() int {
	switch r {
	case RetryQuick:
		return 1
	case RetryPersistent:
		return 6
	default:
		return 3
	}
}

// ParseRetryStrategy parses a strategy name, defaulting to Balanced.
func ParseRetryStrategy(s string) RetryStrategy {
	switch strings.ToLower(s) {
	case "quick":
		return RetryQuick
	case "persistent":
		return RetryPersistent
	default:
		return RetryBalanced
	}
}

// Quorum is the read agreement threshold requested on a Get.
type Quorum string

const (
	QuorumOne      Quorum = "one"
	QuorumMajority Quorum = "majority"
	QuorumAll      Quorum = "all"
)

// NetworkConfig holds listen/bootstrap/discovery settings.
type NetworkConfig struct {
	ListenAddrs        []string      `yaml:"listen_addrs"`
	BootstrapPeers     []string      `yaml:"bootstrap_peers"`
	ContactsURL        string        `yaml:"contacts_url"`
	EnableMDNS         bool          `yaml:"enable_mdns"`
	EnableRelay        bool          `yaml:"enable_relay"`
	EnableHolePunching bool          `yaml:"enable_hole_punching"`
	ConnMgrLowWater    int           `yaml:"conn_mgr_low_water"`
	ConnMgrHighWater   int           `yaml:"conn_mgr_high_water"`
	ConnMgrGrace       time.Duration `yaml:"conn_mgr_grace"`
}

// StorageConfig holds on-disk layout settings.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	MaxRecords int    `yaml:"max_records"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// EVMConfig holds the payment-oracle's chain endpoint.
type EVMConfig struct {
	Network            string `yaml:"network"`
	RPCURL             string `yaml:"rpc_url"`
	DataPaymentsAddr   string `yaml:"data_payments_address"`
	SecretKeyEnvName   string `yaml:"secret_key_env"`
}

// CoreConfig is the single immutable configuration object threaded
// through every component at construction time (spec §9).
type CoreConfig struct {
	ProtocolPrefix     string        `yaml:"protocol_prefix"`
	K                  int           `yaml:"k"`
	Alpha              int           `yaml:"alpha"`
	CloseGroupSize     int           `yaml:"close_group_size"`
	BitTreeDepth       int           `yaml:"bit_tree_depth"`
	MaxPacketSize      int           `yaml:"max_packet_size"`
	BadPeerSetSize     int           `yaml:"bad_peer_set_size"`
	SeenRequestsCap    int           `yaml:"seen_requests_cap"`
	QuoteTTL           time.Duration `yaml:"quote_ttl"`
	BootstrapInterval  time.Duration `yaml:"bootstrap_interval"`
	ReplicationInterval time.Duration `yaml:"replication_interval"`
	PruneInterval      time.Duration `yaml:"prune_interval"`
	MetricsInterval    time.Duration `yaml:"metrics_interval"`
	CommandBufferSize  int           `yaml:"command_buffer_size"`

	Network NetworkConfig `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	EVM     EVMConfig     `yaml:"evm"`
}

// Default returns a CoreConfig with the spec's documented defaults.
func Default() *CoreConfig {
	return &CoreConfig{
		ProtocolPrefix:       "/autonomi/1",
		K:                    DefaultK,
		Alpha:                DefaultAlpha,
		CloseGroupSize:       DefaultCloseGroupSize,
		BitTreeDepth:         DefaultBitTreeDepth,
		MaxPacketSize:        DefaultMaxPacketSize,
		BadPeerSetSize:       DefaultBadPeerSetSize,
		SeenRequestsCap:      DefaultSeenRequestsCap,
		QuoteTTL:             DefaultQuoteTTL,
		BootstrapInterval:    DefaultBootstrapInterval,
		ReplicationInterval:  DefaultReplicationInterval,
		PruneInterval:        DefaultPruneInterval,
		MetricsInterval:      DefaultMetricsInterval,
		CommandBufferSize:    100,
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/udp/4001/quic-v1",
				"/ip6/::/udp/4001/quic-v1",
			},
			EnableMDNS:       false,
			EnableRelay:      true,
			ConnMgrLowWater:  100,
			ConnMgrHighWater: 400,
			ConnMgrGrace:     time.Minute,
		},
		Storage: StorageConfig{
			DataDir:    "~/.antcore",
			MaxRecords: DefaultMaxRecords,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

const fileName = "config.yaml"

// Load loads a CoreConfig from <dataDir>/config.yaml, creating one with
// defaults (and saving it) if it does not yet exist. CLI flags and the
// environment variables ApplyEnv reads (ANT_PEERS, EVM_NETWORK,
// EVM_RPC_URL) are applied by the caller after Load returns; Load itself
// only resolves the file on disk. SECRET_KEY is not read anywhere.
func Load(dataDir string) (*CoreConfig, error) {
	dir := ExpandPath(dataDir)
	path := filepath.Join(dir, fileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *CoreConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# antcore node configuration\n# generated automatically on first run\n\n")
	return os.WriteFile(path, append(header, data...), 0o600)
}

// ApplyEnv overlays the documented environment variables onto the config.
func (c *CoreConfig) ApplyEnv() {
	if peers := os.Getenv("ANT_PEERS"); peers != "" {
		c.Network.BootstrapPeers = splitNonEmpty(peers, ",")
	}
	if net := os.Getenv("EVM_NETWORK"); net != "" {
		c.EVM.Network = net
	}
	if rpc := os.Getenv("EVM_RPC_URL"); rpc != "" {
		c.EVM.RPCURL = rpc
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// ConfigPath returns the full config file path for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), fileName)
}
