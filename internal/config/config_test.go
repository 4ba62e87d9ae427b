package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, DefaultK, cfg.K)
	require.Equal(t, DefaultCloseGroupSize, cfg.CloseGroupSize)
	require.FileExists(t, filepath.Join(dir, fileName))
}

func TestLoadRoundTripsSavedConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Storage.DataDir = dir
	cfg.K = 30
	cfg.QuoteTTL = 2 * time.Hour
	require.NoError(t, cfg.Save(ConfigPath(dir)))

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 30, reloaded.K)
	require.Equal(t, 2*time.Hour, reloaded.QuoteTTL)
}

func TestApplyEnvOverridesBootstrapPeers(t *testing.T) {
	cfg := Default()
	t.Setenv("ANT_PEERS", "/ip4/1.2.3.4/udp/4001/quic-v1, /ip4/5.6.7.8/udp/4001/quic-v1")
	t.Setenv("EVM_RPC_URL", "https://rpc.example")

	cfg.ApplyEnv()

	require.Equal(t, []string{"/ip4/1.2.3.4/udp/4001/quic-v1", "/ip4/5.6.7.8/udp/4001/quic-v1"}, cfg.Network.BootstrapPeers)
	require.Equal(t, "https://rpc.example", cfg.EVM.RPCURL)
}

func TestParseRetryStrategy(t *testing.T) {
	require.Equal(t, RetryQuick, ParseRetryStrategy("Quick"))
	require.Equal(t, RetryPersistent, ParseRetryStrategy("persistent"))
	require.Equal(t, RetryBalanced, ParseRetryStrategy("unknown"))

	require.Equal(t, 15*time.Second, RetryQuick.Duration())
	require.Equal(t, 1, RetryQuick.Attempts())
	require.Equal(t, 180*time.Second, RetryPersistent.Duration())
	require.Equal(t, 6, RetryPersistent.Attempts())
}
