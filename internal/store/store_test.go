package store

import (
	"math/big"
	"testing"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/keys"
	"github.com/stretchr/testify/require"
)

type stubQuoter struct{ cost *big.Int }

func (q stubQuoter) LocalCost(address.NetworkAddress) (*big.Int, error) { return q.cost, nil }

type stubValidator struct {
	paid        *big.Int
	locallyPaid bool
	err         error
}

func (v stubValidator) Validate(proof []byte, key address.NetworkAddress, localCost *big.Int) (*big.Int, bool, error) {
	if v.err != nil {
		return nil, false, v.err
	}
	return v.paid, v.locallyPaid, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		DataDir:   t.TempDir(),
		Quoter:    stubQuoter{cost: big.NewInt(1000)},
		Validator: stubValidator{paid: big.NewInt(1000), locallyPaid: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutChunkStoresAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	content := []byte("hello chunk world")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}

	outcome, err := s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, outcome)

	outcome, err = s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeIdempotentNoop, outcome)

	got, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, content, got.Payload)
}

func TestPutChunkRejectsContentHashMismatch(t *testing.T) {
	s := newTestStore(t)
	content := []byte("real content")
	wrongKey := address.ChunkAddress([]byte("different"))
	rec := &Record{Key: wrongKey, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}

	_, err := s.Put(rec, []byte("proof"), PutOptions{})
	require.ErrorIs(t, err, ErrContentHashMismatch)
}

func TestPutChunkDoubleWriteRejected(t *testing.T) {
	s := newTestStore(t)
	content := []byte("original")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}
	_, err := s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	// Same key, forged different payload bypassing content-hash derivation.
	forged := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: append(append([]byte(nil), content...), 'x')}
	_, err = s.Put(forged, []byte("proof"), PutOptions{})
	require.Error(t, err)
}

func TestPutRejectsMissingProofForPayableKind(t *testing.T) {
	s := newTestStore(t)
	content := []byte("needs payment")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}

	_, err := s.Put(rec, nil, PutOptions{})
	require.ErrorIs(t, err, ErrMissingProof)
}

func TestPutRejectsQuoteBelowNinetyPercent(t *testing.T) {
	s, err := New(Config{
		DataDir:   t.TempDir(),
		Quoter:    stubQuoter{cost: big.NewInt(1000)},
		Validator: stubValidator{paid: big.NewInt(500), locallyPaid: true},
	})
	require.NoError(t, err)
	defer s.Close()

	content := []byte("underpaid")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}

	_, err = s.Put(rec, []byte("proof"), PutOptions{})
	require.ErrorIs(t, err, ErrQuoteTooLow)
}

func TestSpendDoubleWriteRetainsBothCopies(t *testing.T) {
	s := newTestStore(t)
	uniqueKey := []byte("unique-spend-key")
	addr := address.SpendAddress(uniqueKey)

	s1 := &Spend{UniquePubKey: uniqueKey, Amount: big.NewInt(5), ParentTxHash: [32]byte{1}}
	payload1, err := encodeSpend(s1)
	require.NoError(t, err)
	rec1 := &Record{Key: addr, Header: RecordHeader{Kind: KindSpend, Version: headerVersion}, Payload: payload1}
	outcome, err := s.Put(rec1, nil, PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, outcome)

	s2 := &Spend{UniquePubKey: uniqueKey, Amount: big.NewInt(7), ParentTxHash: [32]byte{2}}
	payload2, err := encodeSpend(s2)
	require.NoError(t, err)
	rec2 := &Record{Key: addr, Header: RecordHeader{Kind: KindSpend, Version: headerVersion}, Payload: payload2}
	outcome, err = s.Put(rec2, nil, PutOptions{})
	require.ErrorIs(t, err, ErrDoubleWrite)
	require.Equal(t, OutcomeDoubleWrite, outcome)

	var conflicts int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM spend_conflicts WHERE key_hex = ?`, addr.Hex()).Scan(&conflicts))
	require.Equal(t, 1, conflicts)

	got, err := s.GetConflicts(addr)
	require.NoError(t, err)
	require.Equal(t, [][]byte{payload2}, got)
}

func TestRegisterMergeAcceptsAuthorizedWriterAndRejectsOthers(t *testing.T) {
	s := newTestStore(t)
	owner, err := keys.Generate()
	require.NoError(t, err)
	intruder, err := keys.Generate()
	require.NoError(t, err)

	addr := address.RegisterAddress(owner.Public().Bytes(), "profile")
	perms := OwnerOnlyPermissions(owner.Public().Bytes())

	reg := NewRegister(owner.Public().Bytes(), "profile", perms)
	entry, err := reg.Write(owner, []byte("v1"))
	require.NoError(t, err)
	payload, err := encodeRegisterEntries([]*RegisterEntry{entry})
	require.NoError(t, err)

	rec := &Record{Key: addr, Header: RecordHeader{Kind: KindRegister, Version: headerVersion}, Payload: payload}
	outcome, err := s.Put(rec, []byte("proof"), PutOptions{Permissions: &perms})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, outcome)

	// second, authorized write merges.
	reg2 := NewRegister(owner.Public().Bytes(), "profile", perms)
	require.NoError(t, reg2.Merge([]*RegisterEntry{entry}))
	entry2, err := reg2.Write(owner, []byte("v2"))
	require.NoError(t, err)
	payload2, err := encodeRegisterEntries([]*RegisterEntry{entry2})
	require.NoError(t, err)
	rec2 := &Record{Key: addr, Header: RecordHeader{Kind: KindRegister, Version: headerVersion}, Payload: payload2}
	outcome, err = s.Put(rec2, []byte("proof"), PutOptions{Permissions: &perms})
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, outcome)

	// unauthorized writer rejected.
	regIntruder := NewRegister(owner.Public().Bytes(), "profile", perms)
	badEntry, err := regIntruder.Write(intruder, []byte("malicious"))
	require.Error(t, err) // local write already rejected by permissions
	_ = badEntry
}

func TestScratchpadLastCounterWins(t *testing.T) {
	s := newTestStore(t)
	owner, err := keys.Generate()
	require.NoError(t, err)
	addr := address.ScratchpadAddress(owner.Public().Bytes())

	update1 := Seal(owner, 1, []byte("first"))
	payload1, err := encodeScratchpad(update1)
	require.NoError(t, err)
	rec1 := &Record{Key: addr, Header: RecordHeader{Kind: KindScratchpad, Version: headerVersion}, Payload: payload1}
	outcome, err := s.Put(rec1, []byte("proof"), PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, outcome)

	// stale update (lower counter) is a no-op.
	stale := Seal(owner, 0, []byte("stale"))
	stalePayload, err := encodeScratchpad(stale)
	require.NoError(t, err)
	staleRec := &Record{Key: addr, Header: RecordHeader{Kind: KindScratchpad, Version: headerVersion}, Payload: stalePayload}
	outcome, err = s.Put(staleRec, []byte("proof"), PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeIdempotentNoop, outcome)

	got, ok, err := s.Get(addr)
	require.NoError(t, err)
	require.True(t, ok)
	decoded, err := decodeScratchpad(got.Payload)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), decoded.Bytes)

	update2 := Seal(owner, 2, []byte("second"))
	payload2, err := encodeScratchpad(update2)
	require.NoError(t, err)
	rec2 := &Record{Key: addr, Header: RecordHeader{Kind: KindScratchpad, Version: headerVersion}, Payload: payload2}
	outcome, err = s.Put(rec2, []byte("proof"), PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, outcome)
}

func TestPruneExpiredRemovesPastRecords(t *testing.T) {
	s := newTestStore(t)
	content := []byte("ephemeral")
	key := address.ChunkAddress(content)
	past := time.Now().Add(-time.Hour)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content, Expires: &past}
	_, err := s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.PruneExpired(time.Now()))

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAcceptReplicationSkipsPaymentCheck(t *testing.T) {
	s, err := New(Config{DataDir: t.TempDir()}) // no quoter/validator configured
	require.NoError(t, err)
	defer s.Close()

	content := []byte("replicated chunk")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}

	outcome, err := s.AcceptReplication(rec, PutOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, outcome)
}

func TestLocalStatsReflectsStoredRecordsAndPayments(t *testing.T) {
	s := newTestStore(t)
	content := []byte("stats chunk")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}
	_, err := s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	stats, err := s.LocalStats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.CloseRecordsStored)
	require.Equal(t, 1, stats.ReceivedPaymentCount)
}

type stubCloseGroup struct{ members map[address.NetworkAddress]bool }

func (g stubCloseGroup) IsCloseGroupMember(key address.NetworkAddress, n int) bool {
	return g.members[key]
}

func TestPruneExpiredEvictsOverCapacitySparingCloseGroupKeys(t *testing.T) {
	closeKeyContent := []byte("close group chunk")
	closeKey := address.ChunkAddress(closeKeyContent)

	s, err := New(Config{
		DataDir:        t.TempDir(),
		MaxRecords:     2,
		Quoter:         stubQuoter{cost: big.NewInt(1000)},
		Validator:      stubValidator{paid: big.NewInt(1000), locallyPaid: true},
		CloseGroup:     stubCloseGroup{members: map[address.NetworkAddress]bool{closeKey: true}},
		CloseGroupSize: 5,
	})
	require.NoError(t, err)
	defer s.Close()

	// stored first (oldest), but protected by close-group membership.
	rec := &Record{Key: closeKey, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: closeKeyContent}
	_, err = s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	farContent1 := []byte("far chunk one")
	farKey1 := address.ChunkAddress(farContent1)
	rec1 := &Record{Key: farKey1, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: farContent1}
	_, err = s.Put(rec1, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	farContent2 := []byte("far chunk two")
	farKey2 := address.ChunkAddress(farContent2)
	rec2 := &Record{Key: farKey2, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: farContent2}
	_, err = s.Put(rec2, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.PruneExpired(time.Now()))

	_, ok, err := s.Get(closeKey)
	require.NoError(t, err)
	require.True(t, ok, "close-group key must survive eviction")

	_, ok, err = s.Get(farKey1)
	require.NoError(t, err)
	require.False(t, ok, "oldest non-close-group key must be evicted")

	_, ok, err = s.Get(farKey2)
	require.NoError(t, err)
	require.True(t, ok, "newest non-close-group key must survive under MaxRecords=2")
}

func TestListKeysReturnsStoredKeys(t *testing.T) {
	s := newTestStore(t)
	content := []byte("listed chunk")
	key := address.ChunkAddress(content)
	rec := &Record{Key: key, Header: RecordHeader{Kind: KindChunk, Version: headerVersion}, Payload: content}
	_, err := s.Put(rec, []byte("proof"), PutOptions{})
	require.NoError(t, err)

	keys, err := s.ListKeys(0)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, key.Bytes, keys[0])
}
