package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/libp2p/go-libp2p/core/peer"
	_ "github.com/mattn/go-sqlite3"
)

// Quoter supplies the locally-computed price for a key, used to check a
// submitted proof's cost against the 10% grace window spec.md §4.3 step 2
// describes. Implemented by the payment package's quote engine; kept as
// an interface here so store never imports payment.
type Quoter interface {
	LocalCost(key address.NetworkAddress) (*big.Int, error)
}

// Validator checks a serialized ProofOfPayment against a key and returns
// the atto amount it settles plus whether one of its quotes belongs to
// this node. Implemented by the payment package.
type Validator interface {
	Validate(proof []byte, key address.NetworkAddress, localCost *big.Int) (paidAtto *big.Int, locallyPaid bool, err error)
}

// CloseGroupProvider reports whether this node currently falls in the
// close group responsible for key, so capacity eviction can honor
// spec.md §5's "eviction policy: TTL first, then LRU of non-close-group
// keys" instead of evicting blind to replication responsibility.
// Implemented directly by *routing.Table (no adapter), kept as an
// interface so store never imports routing.
type CloseGroupProvider interface {
	IsCloseGroupMember(key address.NetworkAddress, n int) bool
}

// PutOptions carries the out-of-band metadata a Put needs for mergeable
// kinds that Record itself does not encode.
type PutOptions struct {
	Permissions *Permissions
}

// Config configures a Store.
type Config struct {
	DataDir        string
	MaxRecords     int
	MaxPacketSize  int
	Quoter         Quoter
	Validator      Validator
	CloseGroup     CloseGroupProvider
	CloseGroupSize int
}

// Store is the on-disk, SQLite-indexed content-addressed record store.
type Store struct {
	mu             sync.Mutex
	db             *sql.DB
	dataDir        string
	maxRecords     int
	maxPacketSize  int
	quoter         Quoter
	validator      Validator
	closeGroup     CloseGroupProvider
	closeGroupSize int

	receivedPaymentCount int
}

// New opens (or creates) the record store rooted at cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 2_000_000
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = 5 * 1024 * 1024
	}
	if cfg.CloseGroupSize <= 0 {
		cfg.CloseGroupSize = 5
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "records"), 0o700); err != nil {
		return nil, fmt.Errorf("store: create records directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "store.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:             db,
		dataDir:        cfg.DataDir,
		maxRecords:     cfg.MaxRecords,
		maxPacketSize:  cfg.MaxPacketSize,
		quoter:         cfg.Quoter,
		validator:      cfg.Validator,
		closeGroup:     cfg.CloseGroup,
		closeGroupSize: cfg.CloseGroupSize,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key_hex TEXT PRIMARY KEY,
		kind INTEGER NOT NULL,
		version INTEGER NOT NULL,
		publisher TEXT,
		expires_at INTEGER,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		owner_hex TEXT,
		tag TEXT,
		anyone_can_write INTEGER NOT NULL DEFAULT 0,
		writers_json TEXT,
		stored_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at);
	CREATE INDEX IF NOT EXISTS idx_records_stored_at ON records(stored_at);

	CREATE TABLE IF NOT EXISTS spend_conflicts (
		key_hex TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		path TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (key_hex, content_hash)
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// shardPath returns the sharded on-disk path for key: one directory per
// hex nibble across the first BIT_TREE_DEPTH=20 bits (5 nibbles), keeping
// any single directory's fan-out bounded.
func (s *Store) shardPath(key address.NetworkAddress) string {
	h := key.Hex()
	return filepath.Join(s.dataDir, "records", h[0:1], h[1:2], h[2:3], h[3:4], h[4:5], h)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("store: create shard directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

func readFileIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// ninetyPercent returns floor(x * 9 / 10).
func ninetyPercent(x *big.Int) *big.Int {
	n := new(big.Int).Mul(x, big.NewInt(9))
	return n.Div(n, big.NewInt(10))
}

// checkPayment enforces spec.md §4.3 step 2 for payable kinds.
func (s *Store) checkPayment(key address.NetworkAddress, proof []byte) (locallyPaid bool, err error) {
	if len(proof) == 0 {
		return false, ErrMissingProof
	}
	if s.quoter == nil || s.validator == nil {
		return false, fmt.Errorf("store: payment validation not configured")
	}
	localCost, err := s.quoter.LocalCost(key)
	if err != nil {
		return false, fmt.Errorf("store: compute local quote: %w", err)
	}
	paidAtto, locallyPaid, err := s.validator.Validate(proof, key, localCost)
	if err != nil {
		return false, err
	}
	if paidAtto.Cmp(ninetyPercent(localCost)) < 0 {
		return false, ErrQuoteTooLow
	}
	return locallyPaid, nil
}

// Put runs the full validation pipeline from spec.md §4.3 and persists
// the result. proof may be nil for non-payable kinds (Spend).
func (s *Store) Put(rec *Record, proof []byte, opts PutOptions) (Outcome, error) {
	return s.put(rec, proof, opts, false)
}

// AcceptReplication ingests a record received from a peer currently in
// our close group for its key, skipping payment verification but still
// running full structural/signature validation (spec.md §4.3
// "Replication").
func (s *Store) AcceptReplication(rec *Record, opts PutOptions) (Outcome, error) {
	return s.put(rec, nil, opts, true)
}

func (s *Store) put(rec *Record, proof []byte, opts PutOptions, replication bool) (Outcome, error) {
	if rec.Header.Version != headerVersion {
		return 0, ErrVersionMismatch
	}
	if len(rec.Payload) > s.maxPacketSize {
		return 0, ErrPacketTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var locallyPaid bool
	if !replication && rec.Header.Kind.Payable() {
		paid, err := s.checkPayment(rec.Key, proof)
		if err != nil {
			return 0, err
		}
		locallyPaid = paid
	}

	var outcome Outcome
	var err error
	switch rec.Header.Kind {
	case KindChunk, KindChunkWithPayment:
		outcome, err = s.putChunk(rec)
	case KindSpend:
		outcome, err = s.putSpend(rec)
	case KindRegister, KindRegisterWithPayment:
		outcome, err = s.putRegister(rec, opts)
	case KindLinkedList:
		outcome, err = s.putLinkedList(rec)
	case KindScratchpad:
		outcome, err = s.putScratchpad(rec)
	default:
		return 0, ErrUnknownKind
	}
	if err != nil {
		return outcome, err
	}
	if locallyPaid {
		s.receivedPaymentCount++
	}
	return outcome, nil
}

func (s *Store) putChunk(rec *Record) (Outcome, error) {
	want := address.ChunkAddress(rec.Payload)
	if !want.Equal(rec.Key) {
		return 0, ErrContentHashMismatch
	}
	path := s.shardPath(rec.Key)
	existing, ok, err := readFileIfExists(path)
	if err != nil {
		return 0, err
	}
	if ok {
		if bytesEqual(existing, rec.Payload) {
			return OutcomeIdempotentNoop, nil
		}
		return OutcomeDoubleWrite, ErrDoubleWrite
	}
	if err := writeAtomic(path, rec.Payload); err != nil {
		return 0, err
	}
	if err := s.upsertMetadata(rec, path, len(rec.Payload)); err != nil {
		return 0, err
	}
	return OutcomeStored, nil
}

func (s *Store) putSpend(rec *Record) (Outcome, error) {
	newSpend, err := decodeSpend(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("store: decode spend: %w", err)
	}
	path := s.shardPath(rec.Key)
	existing, ok, err := readFileIfExists(path)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := writeAtomic(path, rec.Payload); err != nil {
			return 0, err
		}
		if err := s.upsertMetadata(rec, path, len(rec.Payload)); err != nil {
			return 0, err
		}
		return OutcomeStored, nil
	}

	oldSpend, err := decodeSpend(existing)
	if err != nil {
		return 0, fmt.Errorf("store: decode existing spend: %w", err)
	}
	if oldSpend.Equal(newSpend) {
		return OutcomeIdempotentNoop, nil
	}

	// Double-spend: persist the conflicting payload as evidence, indexed
	// separately from the canonical record so both copies survive.
	digest := sha256.Sum256(newSpend.Encode())
	contentHash := hex.EncodeToString(digest[:])
	conflictPath := path + "." + contentHash
	if err := writeAtomic(conflictPath, rec.Payload); err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO spend_conflicts(key_hex, content_hash, path, stored_at) VALUES (?, ?, ?, ?)`,
		rec.Key.Hex(), contentHash, conflictPath, now,
	); err != nil {
		return 0, fmt.Errorf("store: record spend conflict: %w", err)
	}
	return OutcomeDoubleWrite, ErrDoubleWrite
}

func (s *Store) putRegister(rec *Record, opts PutOptions) (Outcome, error) {
	incoming, err := decodeRegisterEntries(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("store: decode register entries: %w", err)
	}

	path := s.shardPath(rec.Key)
	existing, ok, err := readFileIfExists(path)
	if err != nil {
		return 0, err
	}

	var reg *Register
	if ok {
		entries, err := decodeRegisterEntries(existing)
		if err != nil {
			return 0, fmt.Errorf("store: decode stored register: %w", err)
		}
		owner, tag, perms, err := s.readRegisterMeta(rec.Key)
		if err != nil {
			return 0, err
		}
		reg = NewRegister(owner, tag, perms)
		if err := reg.Merge(entries); err != nil {
			return 0, fmt.Errorf("store: rehydrate register: %w", err)
		}
	} else {
		perms := PublicPermissions()
		if opts.Permissions != nil {
			perms = *opts.Permissions
		}
		owner := rec.Key.Bytes[:]
		if len(incoming) > 0 {
			owner = incoming[0].Signer
		}
		reg = NewRegister(owner, "", perms)
	}

	if err := reg.Merge(incoming); err != nil {
		return 0, err
	}

	blob, err := encodeRegisterEntries(reg.AllEntries())
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(path, blob); err != nil {
		return 0, err
	}
	if err := s.upsertRegisterMetadata(rec, path, len(blob), reg); err != nil {
		return 0, err
	}
	if ok {
		return OutcomeMerged, nil
	}
	return OutcomeStored, nil
}

func (s *Store) putLinkedList(rec *Record) (Outcome, error) {
	item, err := decodeLinkedListItem(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("store: decode linked-list item: %w", err)
	}

	path := s.shardPath(rec.Key)
	existing, ok, err := readFileIfExists(path)
	if err != nil {
		return 0, err
	}

	owner := item.Signer
	ll := NewLinkedList(owner)
	if ok {
		decoded, err := decodeLinkedListState(existing)
		if err != nil {
			return 0, fmt.Errorf("store: decode stored linked list: %w", err)
		}
		ll.Items = decoded
		if len(decoded) > 0 {
			ll.Owner = decoded[0].Signer
		}
	}

	if err := ll.MergeItems([]*LinkedListItem{item}); err != nil {
		return 0, err
	}

	blob, err := encodeLinkedListState(ll.Items)
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(path, blob); err != nil {
		return 0, err
	}
	if err := s.upsertMetadata(rec, path, len(blob)); err != nil {
		return 0, err
	}
	if ok {
		return OutcomeMerged, nil
	}
	return OutcomeStored, nil
}

func (s *Store) putScratchpad(rec *Record) (Outcome, error) {
	update, err := decodeScratchpad(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("store: decode scratchpad: %w", err)
	}

	path := s.shardPath(rec.Key)
	existing, ok, err := readFileIfExists(path)
	if err != nil {
		return 0, err
	}

	var current *Scratchpad
	if ok {
		current, err = decodeScratchpad(existing)
		if err != nil {
			return 0, fmt.Errorf("store: decode stored scratchpad: %w", err)
		}
	}

	winner, err := MergeScratchpad(current, update)
	if err != nil {
		return 0, err
	}
	if current != nil && winner == current {
		return OutcomeIdempotentNoop, nil
	}

	blob, err := encodeScratchpad(winner)
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(path, blob); err != nil {
		return 0, err
	}
	if err := s.upsertMetadata(rec, path, len(blob)); err != nil {
		return 0, err
	}
	if ok {
		return OutcomeMerged, nil
	}
	return OutcomeStored, nil
}

func (s *Store) upsertMetadata(rec *Record, path string, size int) error {
	var publisher string
	if rec.Publisher != nil {
		publisher = rec.Publisher.String()
	}
	var expires int64
	if rec.Expires != nil {
		expires = rec.Expires.Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO records(key_hex, kind, version, publisher, expires_at, path, size, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_hex) DO UPDATE SET
			kind=excluded.kind, version=excluded.version, publisher=excluded.publisher,
			expires_at=excluded.expires_at, path=excluded.path, size=excluded.size
	`, rec.Key.Hex(), int(rec.Header.Kind), rec.Header.Version, publisher, expires, path, size, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert metadata: %w", err)
	}
	return nil
}

func (s *Store) upsertRegisterMetadata(rec *Record, path string, size int, reg *Register) error {
	writersJSON, err := marshalWriters(reg.Permissions.Writers)
	if err != nil {
		return err
	}
	anyoneCanWrite := 0
	if reg.Permissions.AnyoneCanWrite {
		anyoneCanWrite = 1
	}
	var publisher string
	if rec.Publisher != nil {
		publisher = rec.Publisher.String()
	}
	_, err = s.db.Exec(`
		INSERT INTO records(key_hex, kind, version, publisher, expires_at, path, size, owner_hex, tag, anyone_can_write, writers_json, stored_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_hex) DO UPDATE SET
			kind=excluded.kind, version=excluded.version, publisher=excluded.publisher,
			path=excluded.path, size=excluded.size, owner_hex=excluded.owner_hex, tag=excluded.tag,
			anyone_can_write=excluded.anyone_can_write, writers_json=excluded.writers_json
	`, rec.Key.Hex(), int(rec.Header.Kind), rec.Header.Version, publisher, path, size,
		hex.EncodeToString(reg.Owner), reg.Tag, anyoneCanWrite, writersJSON, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert register metadata: %w", err)
	}
	return nil
}

func (s *Store) readRegisterMeta(key address.NetworkAddress) (owner []byte, tag string, perms Permissions, err error) {
	row := s.db.QueryRow(`SELECT owner_hex, tag, anyone_can_write, writers_json FROM records WHERE key_hex = ?`, key.Hex())
	var ownerHex, writersJSON string
	var anyoneCanWrite int
	if err := row.Scan(&ownerHex, &tag, &anyoneCanWrite, &writersJSON); err != nil {
		return nil, "", Permissions{}, fmt.Errorf("store: read register metadata: %w", err)
	}
	owner, err = hex.DecodeString(ownerHex)
	if err != nil {
		return nil, "", Permissions{}, err
	}
	writers, err := unmarshalWriters(writersJSON)
	if err != nil {
		return nil, "", Permissions{}, err
	}
	perms = Permissions{AnyoneCanWrite: anyoneCanWrite != 0, Writers: writers}
	return owner, tag, perms, nil
}

// Get returns the record stored at key, decoded back into its generic
// Record shape with the payload set to the store's canonical current
// representation (the merged CRDT state for mergeable kinds).
func (s *Store) Get(key address.NetworkAddress) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT kind, version, publisher, expires_at, path FROM records WHERE key_hex = ?`, key.Hex())
	var kind int
	var version uint32
	var publisher sql.NullString
	var expiresAt int64
	var path string
	if err := row.Scan(&kind, &version, &publisher, &expiresAt, &path); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get: %w", err)
	}

	data, ok, err := readFileIfExists(path)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	rec := &Record{
		Key:     key,
		Header:  RecordHeader{Kind: Kind(kind), Version: version},
		Payload: data,
	}
	if publisher.Valid && publisher.String != "" {
		p, err := peer.Decode(publisher.String)
		if err == nil {
			rec.Publisher = &p
		}
	}
	if expiresAt > 0 {
		t := time.Unix(expiresAt, 0)
		rec.Expires = &t
	}
	return rec, true, nil
}

// GetConflicts returns the payload bytes of every double-write copy
// retained alongside key's canonical Spend record, preserved as evidence
// per spec §4.3 step 3. Empty for keys with no conflict history.
func (s *Store) GetConflicts(key address.NetworkAddress) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT path FROM spend_conflicts WHERE key_hex = ? ORDER BY stored_at ASC`, key.Hex())
	if err != nil {
		return nil, fmt.Errorf("store: get conflicts: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		data, ok, err := readFileIfExists(path)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, data)
		}
	}
	return out, rows.Err()
}

// Contains reports whether key is currently held.
func (s *Store) Contains(key address.NetworkAddress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM records WHERE key_hex = ?`, key.Hex()).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListKeys returns the raw 32-byte keys of every record currently held,
// up to limit (0 means unlimited). Used by the replication sweep to
// advertise what this node holds to its close group.
func (s *Store) ListKeys(limit int) ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT key_hex FROM records`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][32]byte
	for rows.Next() {
		var keyHex string
		if err := rows.Scan(&keyHex); err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(keyHex)
		if err != nil || len(raw) != 32 {
			continue
		}
		var key [32]byte
		copy(key[:], raw)
		out = append(out, key)
	}
	return out, rows.Err()
}

// PruneExpired deletes every record whose expiry is in the past relative
// to now, then evicts the oldest-stored records if still over capacity
// (LRU-by-insertion-time eviction, spec.md §5 "Bounded memory").
func (s *Store) PruneExpired(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteWhere(`expires_at > 0 AND expires_at <= ?`, now.Unix()); err != nil {
		return err
	}
	return s.evictOverCapacityLocked()
}

// evictOverCapacityLocked enforces max_records by evicting the
// least-recently-stored records, but — per spec.md §5's "eviction
// policy: TTL first, then LRU of non-close-group keys" — never evicts a
// key this node currently falls in the close group for; it walks
// further down the stored_at-ascending list until it finds enough
// non-close-group victims (or runs out of candidates).
func (s *Store) evictOverCapacityLocked() error {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM records`).Scan(&total); err != nil {
		return err
	}
	if total <= s.maxRecords {
		return nil
	}
	excess := total - s.maxRecords

	rows, err := s.db.Query(`SELECT key_hex, kind, path FROM records ORDER BY stored_at ASC`)
	if err != nil {
		return err
	}
	type victim struct{ keyHex, path string }
	var victims []victim
	for rows.Next() && len(victims) < excess {
		var keyHex, path string
		var kind int
		if err := rows.Scan(&keyHex, &kind, &path); err != nil {
			rows.Close()
			return err
		}
		if s.isCloseGroupKey(keyHex, Kind(kind)) {
			continue
		}
		victims = append(victims, victim{keyHex: keyHex, path: path})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, v := range victims {
		os.Remove(v.path)
		if _, err := s.db.Exec(`DELETE FROM records WHERE key_hex = ?`, v.keyHex); err != nil {
			return err
		}
	}
	return nil
}

// isCloseGroupKey reports whether keyHex/kind decode to a key this node
// currently belongs to the close group for. Decode failures and a nil
// provider (no CloseGroup configured, e.g. in tests) both fall back to
// false so eviction degrades to plain LRU rather than refusing to evict.
func (s *Store) isCloseGroupKey(keyHex string, kind Kind) bool {
	if s.closeGroup == nil {
		return false
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return false
	}
	addr, err := address.FromBytes(kind.addressKind(), raw)
	if err != nil {
		return false
	}
	return s.closeGroup.IsCloseGroupMember(addr, s.closeGroupSize)
}

func (s *Store) deleteWhere(cond string, args ...any) error {
	rows, err := s.db.Query(`SELECT key_hex, path FROM records WHERE `+cond, args...)
	if err != nil {
		return err
	}
	type victim struct{ keyHex, path string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.keyHex, &v.path); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, v)
	}
	rows.Close()

	for _, v := range victims {
		os.Remove(v.path)
		if _, err := s.db.Exec(`DELETE FROM records WHERE key_hex = ?`, v.keyHex); err != nil {
			return err
		}
	}
	return nil
}

// Stats is a snapshot of store-local counters feeding the quote engine's
// QuotingMetrics (spec.md §4.4).
type Stats struct {
	CloseRecordsStored   int
	MaxRecords           int
	ReceivedPaymentCount int
}

// LocalStats returns the store's current counters.
func (s *Store) LocalStats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM records`).Scan(&n); err != nil {
		return Stats{}, err
	}
	return Stats{
		CloseRecordsStored:   n,
		MaxRecords:           s.maxRecords,
		ReceivedPaymentCount: s.receivedPaymentCount,
	}, nil
}

func marshalWriters(writers [][]byte) (string, error) {
	hexes := make([]string, len(writers))
	for i, w := range writers {
		hexes[i] = hex.EncodeToString(w)
	}
	return joinStrings(hexes, ","), nil
}

func unmarshalWriters(s string) ([][]byte, error) {
	if s == "" {
		return nil, nil
	}
	parts := splitStrings(s, ",")
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
