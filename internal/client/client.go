// Package client implements the external-facing API (component C7): a
// quote-then-pay-then-put write path and a quorum read path, both
// driven through the swarm package's iterative lookups rather than
// talking to peers directly. Grounded on the teacher's retry_worker.go
// exponential-backoff loop (generalized here from "retry an undelivered
// swap message" to "retry a put/get against the close group") and on
// internal/backend.ErrRateLimited's sentinel-error style for the
// client-side throttle.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/config"
	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/protocol"
	"github.com/ant-overlay/antcore/internal/store"
	"github.com/ant-overlay/antcore/internal/swarm"
	"github.com/ant-overlay/antcore/pkg/logging"
)

// NetworkDriver is the subset of *swarm.Driver the client depends on,
// kept narrow so tests can exercise the put/get/pay orchestration
// against a fake without standing up a real libp2p host — the same
// dependency-inversion shape internal/payment uses for CloseGroupProvider.
type NetworkDriver interface {
	GetQuotes(ctx context.Context, key address.NetworkAddress) ([]swarm.PeerQuote, error)
	PutRecord(ctx context.Context, msg protocol.PutRecordMsg, quorum config.Quorum) (int, error)
	GetRecord(ctx context.Context, key address.NetworkAddress, quorum config.Quorum) ([]protocol.GetRecordResp, error)
}

// Payer settles one on-chain transaction covering every quote in quotes
// (each storing node's reward address is paid its own quoted cost in
// that single transaction) and returns the settling transaction hash.
// Implementations talk to an external wallet/EVM client; this package
// never signs or broadcasts a transaction itself, per spec.md's "on-chain
// token contract" being an external collaborator.
type Payer interface {
	Pay(ctx context.Context, quotes []swarm.PeerQuote) (txHash string, err error)
}

// Errors surfaced by the client API, matching spec.md §7's Payment and
// Quorum taxonomy entries.
var (
	ErrNoQuotesAvailable = errors.New("client: no close-group peer returned a quote")
	ErrPaymentFailed     = errors.New("client: payment settlement failed")
	ErrRateLimited       = errors.New("client: rate limit exceeded")
)

// SplitRecordError is returned by Get when the close group disagrees on
// the payload at an immutable address (Chunk or Spend) rather than
// having converged through CRDT merge — spec.md §5's "A SplitRecord
// outcome is returned when peers disagree and the kind is immutable",
// exercised by §8 testable property 4 and scenario S2. Variants holds
// every distinct payload observed, in first-seen order.
type SplitRecordError struct {
	Variants [][]byte
}

func (e *SplitRecordError) Error() string {
	return fmt.Sprintf("client: split record: %d distinct variants", len(e.Variants))
}

// splitVariants collects the distinct payloads across a quorum's
// responses, folding in any retained double-write conflict copies; more
// than one variant means the responses disagree. Order is first-seen for
// determinism across repeated calls with the same responses.
func splitVariants(resps []protocol.GetRecordResp) [][]byte {
	var variants [][]byte
	seen := func(p []byte) bool {
		for _, v := range variants {
			if bytes.Equal(v, p) {
				return true
			}
		}
		return false
	}
	for _, r := range resps {
		if !seen(r.Payload) {
			variants = append(variants, r.Payload)
		}
		for _, c := range r.ConflictPayloads {
			if !seen(c) {
				variants = append(variants, c)
			}
		}
	}
	return variants
}

// isImmutableKind reports whether addr's kind never merges concurrent
// writes, so disagreeing payloads are a split rather than a bug.
func isImmutableKind(k address.Kind) bool {
	return k == address.KindChunk || k == address.KindSpend
}

// paidEntry is one QuoteCache row: the tx hash a client already paid to
// cover key, kept for QUOTE_TTL so a retried put doesn't re-pay.
type paidEntry struct {
	txHash string
	quotes []swarm.PeerQuote
}

// Client is the embeddable put/get API, component C7.
type Client struct {
	driver   NetworkDriver
	payer    Payer
	retry    config.RetryStrategy
	quoteTTL time.Duration

	limiter    *rate.Limiter
	quoteCache *lru.LRU[string, paidEntry]

	log *logging.Logger
}

// Config bundles Client construction parameters.
type Config struct {
	Driver   NetworkDriver
	Payer    Payer
	Retry    config.RetryStrategy
	QuoteTTL time.Duration

	// RateLimit caps outbound put/get calls per second; Burst is the
	// token bucket's burst allowance. Zero RateLimit disables throttling.
	RateLimit float64
	Burst     int
}

// New constructs a Client. The quote cache is sized generously (4096
// entries) since each entry is small and the real bound is QuoteTTL-based
// expiry, not count.
func New(cfg Config) *Client {
	if cfg.Retry == "" {
		cfg.Retry = config.RetryBalanced
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = config.DefaultQuoteTTL
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		driver:     cfg.Driver,
		payer:      cfg.Payer,
		retry:      cfg.Retry,
		quoteTTL:   cfg.QuoteTTL,
		limiter:    limiter,
		quoteCache: lru.NewLRU[string, paidEntry](4096, nil, cfg.QuoteTTL),
		log:        logging.GetDefault().Component("client"),
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if !c.limiter.Allow() {
		return ErrRateLimited
	}
	return ctx.Err()
}

// Put quote-pays-puts payload at its content address, per spec.md §4.7:
// quote from the close group, pay on-chain via the Payer, submit PutRecord at
// Quorum::All with the configured retry strategy. payload is stored as a
// single Chunk record; pre-chunking large payloads (self-encryption) is
// the caller's responsibility, per spec.md's "filesystem chunking"
// Non-goal.
func (c *Client) Put(ctx context.Context, payload []byte) (address.NetworkAddress, error) {
	key := address.ChunkAddress(payload)
	if err := c.wait(ctx); err != nil {
		return address.NetworkAddress{}, err
	}

	proofBytes, err := c.quotePayProof(ctx, key)
	if err != nil {
		return address.NetworkAddress{}, err
	}

	msg := protocol.PutRecordMsg{
		Key:     key.Bytes,
		Kind:    uint8(store.KindChunk),
		Payload: payload,
		Proof:   proofBytes,
	}

	if err := c.retryPut(ctx, msg); err != nil {
		return address.NetworkAddress{}, err
	}
	return key, nil
}

// quotePayProof fetches fresh quotes (or reuses a still-valid cached
// payment for key), settles payment if needed, and returns a marshaled
// ProofOfPayment ready to attach to a PutRecordMsg.
func (c *Client) quotePayProof(ctx context.Context, key address.NetworkAddress) ([]byte, error) {
	cacheKey := key.Hex()
	if entry, ok := c.quoteCache.Get(cacheKey); ok {
		return buildProof(entry.quotes, entry.txHash)
	}

	quotes, err := c.driver.GetQuotes(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, ErrNoQuotesAvailable
	}

	txHash, err := c.payer.Pay(ctx, quotes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	c.quoteCache.Add(cacheKey, paidEntry{txHash: txHash, quotes: quotes})
	return buildProof(quotes, txHash)
}

func buildProof(quotes []swarm.PeerQuote, txHash string) ([]byte, error) {
	proof := payment.ProofOfPayment{TxHash: txHash}
	for _, q := range quotes {
		proof.PeerQuotes = append(proof.PeerQuotes, payment.PeerQuote{
			PeerID: []byte(q.Peer.ID),
			Quote:  q.Quote,
		})
	}
	return proof.Marshal()
}

// retryPut submits msg at Quorum::All, retrying with exponential backoff
// within the configured RetryStrategy's total budget, grounded on the
// teacher's retry_worker.go calculateNextRetry doubling scheme.
func (c *Client) retryPut(ctx context.Context, msg protocol.PutRecordMsg) error {
	deadline := time.Now().Add(c.retry.Duration())
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= c.retry.Attempts(); attempt++ {
		if time.Now().After(deadline) {
			break
		}
		_, err := c.driver.PutRecord(ctx, msg, config.QuorumAll)
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.Debug("put retry", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = swarm.ErrQuorumNotMet
	}
	return lastErr
}

// Get fetches the record at addr at Quorum::Majority. Decoding into a
// kind-specific representation (register/linked-list state) is left to
// callers that know which kind they expect; Get returns the raw payload
// bytes of whichever response arrived first among the quorum-satisfying
// set, unless the close group disagrees on an immutable address, in
// which case it returns a *SplitRecordError (spec.md §5/§8(4)).
func (c *Client) Get(ctx context.Context, addr address.NetworkAddress) ([]byte, error) {
	return c.GetWithQuorum(ctx, addr, config.QuorumMajority)
}

// GetWithQuorum is Get with an explicit quorum level, letting callers
// request the stronger Quorum::All spec.md §8 scenarios exercise (e.g.
// S2's post-partition split-record check) instead of the default
// Quorum::Majority.
func (c *Client) GetWithQuorum(ctx context.Context, addr address.NetworkAddress, quorum config.Quorum) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resps, err := c.driver.GetRecord(ctx, addr, quorum)
	if err != nil {
		return nil, err
	}
	if len(resps) == 0 {
		return nil, swarm.ErrQuorumNotMet
	}
	if isImmutableKind(addr.Kind) {
		if variants := splitVariants(resps); len(variants) > 1 {
			return nil, &SplitRecordError{Variants: variants}
		}
	}
	return resps[0].Payload, nil
}
