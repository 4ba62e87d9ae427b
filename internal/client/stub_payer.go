package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/swarm"
)

// StubPayer settles every quote immediately against an in-memory
// *payment.StubOracle, for tests and local/testnet runs where no real
// EVM RPC is available. Grounded on the teacher's table-driven stub
// style mirrored in payment.NewStubOracle.
type StubPayer struct {
	oracle *payment.StubOracle
}

// NewStubPayer wraps oracle, which must be the same *payment.StubOracle
// instance the storing nodes' verification path checks against.
func NewStubPayer(oracle *payment.StubOracle) *StubPayer {
	return &StubPayer{oracle: oracle}
}

// Pay marks each quote's (cost, reward address) settled under a freshly
// generated transaction hash and returns it.
func (p *StubPayer) Pay(_ context.Context, quotes []swarm.PeerQuote) (string, error) {
	txHash := uuid.New().String()
	for _, q := range quotes {
		p.oracle.MarkSettled(txHash, q.Quote.CostAtto, q.Quote.RewardAddress)
	}
	return txHash, nil
}
