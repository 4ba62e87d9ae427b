package swarm

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ant-overlay/antcore/internal/address"
	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/protocol"
)

// PeerQuote pairs the peer that answered with its decoded quote, the
// result shape GetQuotes returns to the client layer.
type PeerQuote struct {
	Peer  PeerInfo
	Quote payment.PaymentQuote
}

// GetQuotes locates the close group for key and asks each member for a
// price, collecting every answer that responds before ctx expires. The
// client layer picks which of these to pay and submit a proof against;
// this method never blocks on a quorum the way GetRecord/PutRecord do,
// since a client can proceed once it has at least one usable quote.
func (d *Driver) GetQuotes(ctx context.Context, key address.NetworkAddress) ([]PeerQuote, error) {
	peers, err := d.iterativeFindNode(ctx, key, QueryClosestForGet)
	if err != nil {
		return nil, err
	}
	if len(peers) > d.cfg.CloseGroupSize {
		peers = peers[:d.cfg.CloseGroupSize]
	}
	if len(peers) == 0 {
		return nil, ErrQuorumNotMet
	}

	var mu sync.Mutex
	var results []PeerQuote

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			env, err := protocol.Pack(protocol.TypeQuote, protocol.QuoteMsg{Key: key.Bytes})
			if err != nil {
				return nil
			}
			resp, err := d.sendAndAwait(gctx, p.ID, protocol.QuoteProtocol, env)
			if err != nil {
				return nil
			}
			var got protocol.QuoteResp
			if err := protocol.Unpack(resp, &got); err != nil || got.Error != "" || len(got.Quote) == 0 {
				return nil
			}
			quote, err := payment.UnmarshalQuote(got.Quote)
			if err != nil {
				return nil
			}
			mu.Lock()
			results = append(results, PeerQuote{Peer: p, Quote: quote})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 {
		return nil, ErrQuorumNotMet
	}
	return results, nil
}
