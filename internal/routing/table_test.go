package routing

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func randPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

func newTestTable(t *testing.T) (*Table, address.NetworkAddress) {
	t.Helper()
	self := address.PeerAddress([]byte("self-node"))
	tbl := New(Config{
		Self:            self,
		K:               4,
		RefreshInterval: time.Hour, // disable sweep firing during tests
	})
	t.Cleanup(tbl.Close)
	return tbl, self
}

func TestAddCandidateInsertsUpToK(t *testing.T) {
	tbl, _ := newTestTable(t)

	var ids []peer.ID
	for i := 0; i < 4; i++ {
		id := randPeerID(t)
		ids = append(ids, id)
		addr := address.PeerAddress([]byte(id))
		require.True(t, tbl.AddCandidate(id, addr))
	}
	require.Equal(t, 4, tbl.Len())

	// a 5th candidate landing in the same (now full) bucket is rejected,
	// unless it happens to land in a distinct bucket. Force collision by
	// reusing one of the existing peers' address bucket: insert a peer
	// whose derived address collides in the same bucket as ids[0].
	extra := randPeerID(t)
	addr := address.PeerAddress([]byte(ids[0]))
	// Same address as ids[0] means same bucket index. extra is a new ID,
	// so it is inserted only if that bucket still has room; Len is
	// either 4 or 5, never less.
	tbl.AddCandidate(extra, addr)
	require.GreaterOrEqual(t, tbl.Len(), 4)
}

func TestNoteSuccessPromotesAndRefreshesPeer(t *testing.T) {
	tbl, _ := newTestTable(t)
	id := randPeerID(t)
	addr := address.PeerAddress([]byte(id))

	require.True(t, tbl.AddCandidate(id, addr))
	tbl.NoteSuccess(id, addr)

	closest := tbl.Closest(addr, 10)
	require.Len(t, closest, 1)
	require.Equal(t, id, closest[0].ID)
}

func TestMarkBadEvictsAndBlocksReentry(t *testing.T) {
	tbl, _ := newTestTable(t)
	id := randPeerID(t)
	addr := address.PeerAddress([]byte(id))

	require.True(t, tbl.AddCandidate(id, addr))
	require.Equal(t, 1, tbl.Len())

	tbl.MarkBad(id, addr)
	require.Equal(t, 0, tbl.Len())
	require.True(t, tbl.IsBad(id))

	require.False(t, tbl.AddCandidate(id, addr))
	require.Equal(t, 0, tbl.Len())
}

func TestNoteFailureEvictsOnlyAfterThirdConsecutiveFailure(t *testing.T) {
	tbl, _ := newTestTable(t)
	id := randPeerID(t)
	addr := address.PeerAddress([]byte(id))

	require.True(t, tbl.AddCandidate(id, addr))

	tbl.NoteFailure(id, addr)
	require.Equal(t, 1, tbl.Len())
	require.False(t, tbl.IsBad(id))

	tbl.NoteFailure(id, addr)
	require.Equal(t, 1, tbl.Len())
	require.False(t, tbl.IsBad(id))

	tbl.NoteFailure(id, addr)
	require.Equal(t, 0, tbl.Len())
	require.True(t, tbl.IsBad(id))
}

func TestNoteSuccessResetsFailureCounter(t *testing.T) {
	tbl, _ := newTestTable(t)
	id := randPeerID(t)
	addr := address.PeerAddress([]byte(id))

	require.True(t, tbl.AddCandidate(id, addr))
	tbl.NoteFailure(id, addr)
	tbl.NoteFailure(id, addr)
	tbl.NoteSuccess(id, addr)

	tbl.NoteFailure(id, addr)
	tbl.NoteFailure(id, addr)
	require.Equal(t, 1, tbl.Len())
	require.False(t, tbl.IsBad(id))
}

func TestClosestOrdersByAscendingDistance(t *testing.T) {
	tbl, _ := newTestTable(t)
	target := address.ChunkAddress([]byte("lookup-target"))

	for i := 0; i < 4; i++ {
		id := randPeerID(t)
		addr := address.PeerAddress([]byte(id))
		tbl.AddCandidate(id, addr)
	}

	closest := tbl.Closest(target, 2)
	require.Len(t, closest, 2)
	require.True(t, address.Distance(target, closest[0].Addr).Cmp(address.Distance(target, closest[1].Addr)) <= 0)
}

func TestBackgroundSweepEvictsUnreachablePeer(t *testing.T) {
	self := address.PeerAddress([]byte("self-node"))
	id := randPeerID(t)
	addr := address.PeerAddress([]byte(id))

	tbl := New(Config{
		Self:            self,
		K:               4,
		RefreshInterval: 20 * time.Millisecond,
		Ping: func(ctx context.Context, p peer.ID) error {
			return context.DeadlineExceeded
		},
		Connected: func(peer.ID) bool { return false },
	})
	defer tbl.Close()

	tbl.AddCandidate(id, addr)
	require.Equal(t, 1, tbl.Len())

	require.Eventually(t, func() bool {
		return tbl.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNetworkDensityReturnsNilUntilSamples(t *testing.T) {
	tbl, _ := newTestTable(t)
	require.Nil(t, tbl.NetworkDensity())

	id := randPeerID(t)
	addr := address.PeerAddress([]byte(id))
	tbl.NoteSuccess(id, addr)
	require.NotNil(t, tbl.NetworkDensity())
}
