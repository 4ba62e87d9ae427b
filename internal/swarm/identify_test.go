package swarm

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/ant-overlay/antcore/internal/config"
)

func newTestDriverForProtocolChecks(t *testing.T) *Driver {
	t.Helper()
	return &Driver{
		cfg:     &config.CoreConfig{ProtocolPrefix: "/autonomi/1"},
		backoff: make(map[peer.ID]time.Time),
	}
}

func TestProtocolCompatibleRequiresMatchingVersionAndSupportedSet(t *testing.T) {
	d := newTestDriverForProtocolChecks(t)

	require.True(t, d.protocolCompatible("/autonomi/1", []string{"/autonomi/1"}))
	require.False(t, d.protocolCompatible("/autonomi/2", []string{"/autonomi/1"}))
	require.False(t, d.protocolCompatible("/autonomi/1", []string{"/other/1"}))
	require.False(t, d.protocolCompatible("/autonomi/1", nil))
}

func TestBackoffPeerBlocksUntilWindowElapses(t *testing.T) {
	d := newTestDriverForProtocolChecks(t)
	id := peer.ID("mismatched-peer")

	require.False(t, d.isBackingOff(id))
	d.backoffPeer(id)
	require.True(t, d.isBackingOff(id))

	d.backoffMu.Lock()
	d.backoff[id] = time.Now().Add(-time.Minute)
	d.backoffMu.Unlock()

	require.False(t, d.isBackingOff(id))
}
