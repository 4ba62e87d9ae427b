package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ant-overlay/antcore/internal/keys"
	"github.com/ant-overlay/antcore/internal/swarm"
)

// EVMPayer settles quotes in a single batched transaction against the
// network's data-payments contract, grounded on the teacher's
// wallet.BuildAndSignEVMTx/ToECDSA conversion pattern (internal/wallet,
// keys.PrivateKey wraps the same btcec curve the teacher signs EVM
// transactions with) generalized to go-ethereum's own accounts/abi/bind
// transactor instead of the teacher's hand-rolled RLP encoder, since
// this payer has no existing swap-specific transaction shape to reuse.
type EVMPayer struct {
	client  *ethclient.Client
	auth    *bind.TransactOpts
	vault   common.Address
	chainID *big.Int
}

// payForQuotesSig is the function selector source for the data-payments
// contract's batch-pay entry point: payForQuotes(address[],uint256[]).
const payForQuotesSig = "payForQuotes(address[],uint256[])"

// NewEVMPayer dials rpcURL, derives the transaction signer from sk, and
// targets the contract at vaultAddr for every Pay call.
func NewEVMPayer(ctx context.Context, rpcURL string, sk *keys.PrivateKey, vaultAddr string) (*EVMPayer, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("client: dial EVM RPC: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client: fetch chain id: %w", err)
	}
	ecdsaKey, err := crypto.ToECDSA(sk.Bytes())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client: convert signing key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(ecdsaKey, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client: build transactor: %w", err)
	}
	return &EVMPayer{
		client:  client,
		auth:    auth,
		vault:   common.HexToAddress(vaultAddr),
		chainID: chainID,
	}, nil
}

// Close releases the underlying RPC connection.
func (p *EVMPayer) Close() {
	p.client.Close()
}

// Pay implements client.Payer: it ABI-encodes a single payForQuotes call
// covering every quote's reward address and cost, signs and broadcasts
// it, and returns the resulting transaction hash for the caller to embed
// in a ProofOfPayment.
func (p *EVMPayer) Pay(ctx context.Context, quotes []swarm.PeerQuote) (string, error) {
	recipients := make([]common.Address, len(quotes))
	amounts := make([]*big.Int, len(quotes))
	for i, q := range quotes {
		recipients[i] = common.HexToAddress(q.Quote.RewardAddress)
		amounts[i] = q.Quote.CostAtto
	}

	data, err := encodePayForQuotes(recipients, amounts)
	if err != nil {
		return "", fmt.Errorf("client: encode payment call: %w", err)
	}

	nonce, err := p.client.PendingNonceAt(ctx, p.auth.From)
	if err != nil {
		return "", fmt.Errorf("client: fetch nonce: %w", err)
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("client: suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, p.vault, big.NewInt(0), 300_000, gasPrice, data)
	signed, err := p.auth.Signer(p.auth.From, tx)
	if err != nil {
		return "", fmt.Errorf("client: sign transaction: %w", err)
	}
	if err := p.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("client: broadcast transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

func encodePayForQuotes(recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	addrType, err := abi.NewType("address[]", "", nil)
	if err != nil {
		return nil, err
	}
	uintType, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: addrType}, {Type: uintType}}
	packed, err := args.Pack(recipients, amounts)
	if err != nil {
		return nil, err
	}
	selector := crypto.Keccak256([]byte(payForQuotesSig))[:4]
	return append(selector, packed...), nil
}
