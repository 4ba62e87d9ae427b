package payment

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Oracle answers whether a transaction settled at least amount to
// rewardAddress, per spec.md §6's external PaymentOracle interface.
type Oracle interface {
	Paid(ctx context.Context, txHash string, amount *big.Int, rewardAddress string) (bool, error)
}

// EVMOracle checks settlement by fetching the transaction receipt and
// scanning its logs for a transfer event crediting rewardAddress at least
// amount, grounded on the teacher's internal/contracts/htlc/client.go
// (dial once via ethclient.Dial, keep the client, call
// TransactionReceipt(ctx, hash)) generalized from a bound contract call
// to raw receipt/log inspection since this spec has no generated
// payment-vault ABI binding in the example pack.
type EVMOracle struct {
	client *ethclient.Client

	mu      sync.Mutex
	chainID *big.Int
}

// NewEVMOracle dials rpcURL and caches the chain ID, mirroring
// htlc.NewClient's construction sequence.
func NewEVMOracle(ctx context.Context, rpcURL string) (*EVMOracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("payment: dial EVM RPC: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("payment: fetch chain id: %w", err)
	}
	return &EVMOracle{client: client, chainID: chainID}, nil
}

// Close releases the underlying RPC connection.
func (o *EVMOracle) Close() {
	o.client.Close()
}

// transferEventTopic is the keccak256 topic for ERC-20/event-style
// "Transfer(address,address,uint256)" logs, the shape the payment-vault
// contract emits per evmlib/src/event.rs's ChunkPaymentEvent.
var transferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Paid fetches the receipt for txHash and checks that at least one log
// entry records a transfer of amount or more to rewardAddress.
func (o *EVMOracle) Paid(ctx context.Context, txHash string, amount *big.Int, rewardAddress string) (bool, error) {
	receipt, err := o.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return false, fmt.Errorf("payment: fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, nil
	}

	want := common.HexToAddress(rewardAddress)
	for _, lg := range receipt.Logs {
		if len(lg.Topics) < 3 || lg.Topics[0] != transferEventTopic {
			continue
		}
		to := common.HexToAddress(lg.Topics[2].Hex())
		if to != want {
			continue
		}
		value := new(big.Int).SetBytes(lg.Data)
		if value.Cmp(amount) >= 0 {
			return true, nil
		}
	}
	return false, nil
}

// StubOracle is an in-memory oracle for tests and local/testnet runs: a
// fixed set of tx hashes are considered settled for a given amount and
// reward address, grounded on the teacher's table-driven unit-test style.
type StubOracle struct {
	mu      sync.Mutex
	settled map[string]settledEntry
}

type settledEntry struct {
	amount        *big.Int
	rewardAddress string
}

// NewStubOracle creates an empty stub oracle.
func NewStubOracle() *StubOracle {
	return &StubOracle{settled: make(map[string]settledEntry)}
}

// MarkSettled records txHash as having paid amount to rewardAddress.
func (o *StubOracle) MarkSettled(txHash string, amount *big.Int, rewardAddress string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled[strings.ToLower(txHash)] = settledEntry{amount: amount, rewardAddress: rewardAddress}
}

// Paid implements Oracle against the in-memory settlement map.
func (o *StubOracle) Paid(_ context.Context, txHash string, amount *big.Int, rewardAddress string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.settled[strings.ToLower(txHash)]
	if !ok {
		return false, nil
	}
	if !strings.EqualFold(entry.rewardAddress, rewardAddress) {
		return false, nil
	}
	return entry.amount.Cmp(amount) >= 0, nil
}
