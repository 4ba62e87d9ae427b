package address

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkAddressIsContentAddressed(t *testing.T) {
	content := []byte("klatho chunk payload")
	a1 := ChunkAddress(content)
	a2 := ChunkAddress(content)
	require.True(t, a1.Equal(a2))
	require.Equal(t, KindChunk, a1.Kind)

	other := ChunkAddress([]byte("different payload"))
	require.False(t, a1.Equal(other))
}

func TestDistanceIsSymmetricAndZeroForSelf(t *testing.T) {
	a := ChunkAddress([]byte("alpha"))
	b := ChunkAddress([]byte("beta"))

	require.Equal(t, 0, Distance(a, a).Sign())
	require.Equal(t, Distance(a, b), Distance(b, a))
	require.NotEqual(t, 0, Distance(a, b).Sign())
}

func TestDistanceTriangleInequalityHoldsInXORMetric(t *testing.T) {
	a := ChunkAddress([]byte("alpha"))
	b := ChunkAddress([]byte("beta"))
	c := ChunkAddress([]byte("gamma"))

	dab := Distance(a, b)
	dbc := Distance(b, c)
	dac := Distance(a, c)

	sum := new(big.Int).Xor(dab, dbc)
	require.Equal(t, 0, dac.Cmp(sum))
}

func TestBucketIndexMonotonicWithDistance(t *testing.T) {
	self := PeerAddress([]byte("self-peer"))
	near := self
	near.Bytes[31] ^= 0x01 // flip lowest bit: minimal nonzero distance

	far := self
	far.Bytes[0] ^= 0x80 // flip highest bit: maximal distance

	require.Equal(t, uint8(255), BucketIndex(self, self))
	require.Equal(t, uint8(255), BucketIndex(self, near))
	require.Equal(t, uint8(0), BucketIndex(self, far))
}

func TestSortByDistanceOrdersAscending(t *testing.T) {
	target := ChunkAddress([]byte("target"))
	addrs := []NetworkAddress{
		ChunkAddress([]byte("c")),
		ChunkAddress([]byte("a")),
		ChunkAddress([]byte("b")),
	}
	sorted := SortByDistance(target, addrs)
	require.Len(t, sorted, 3)
	for i := 1; i < len(sorted); i++ {
		require.True(t, Distance(target, sorted[i-1]).Cmp(Distance(target, sorted[i])) <= 0)
	}
}

func TestToRecordKeyRoundTrips(t *testing.T) {
	a := ChunkAddress([]byte("roundtrip"))
	key := ToRecordKey(a)
	require.Len(t, key, Size)

	back, err := FromBytes(KindChunk, key)
	require.NoError(t, err)
	require.True(t, a.Equal(back))
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes(KindChunk, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestPrettyPrintIncludesKind(t *testing.T) {
	a := RegisterAddress([]byte("owner-key"), "my-tag")
	s := a.PrettyPrint()
	require.Contains(t, s, "Register(")
}

func TestRegisterAddressIsTagScoped(t *testing.T) {
	owner := []byte("owner-key")
	a1 := RegisterAddress(owner, "tag-a")
	a2 := RegisterAddress(owner, "tag-b")
	require.False(t, a1.Equal(a2))
}

func TestSpendAddressDerivesFromUniqueKey(t *testing.T) {
	k1 := []byte("unique-key-1")
	k2 := []byte("unique-key-2")
	require.False(t, SpendAddress(k1).Equal(SpendAddress(k2)))
	require.True(t, SpendAddress(k1).Equal(SpendAddress(k1)))
}
