package chain

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// BurnBuilder constructs the signed burn transaction for a payer. The shape of
// the burn instruction belongs to the ledger program and is opaque here.
type BurnBuilder interface {
	BuildBurn(ctx context.Context, payer solana.PublicKey, amount uint64, blockhash solana.Hash) (*solana.Transaction, error)
}

// TokenBurnBuilder burns data credits from the payer's associated token
// account, signed by an authority the payer has delegated to.
type TokenBurnBuilder struct {
	Mint      solana.PublicKey
	Decimals  uint8
	Authority solana.PrivateKey
}

func (b TokenBurnBuilder) BuildBurn(_ context.Context, payer solana.PublicKey, amount uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	source, _, err := solana.FindAssociatedTokenAddress(payer, b.Mint)
	if err != nil {
		return nil, fmt.Errorf("token account for %s: %w", payer, err)
	}
	authority := b.Authority.PublicKey()
	ix := token.NewBurnCheckedInstruction(amount, b.Decimals, source, b.Mint, authority, nil).Build()

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(authority))
	if err != nil {
		return nil, fmt.Errorf("build burn transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(authority) {
			return &b.Authority
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign burn transaction: %w", err)
	}
	return tx, nil
}

// RPCConfig configures an RPCNetwork.
type RPCConfig struct {
	Endpoint string
	Mint     solana.PublicKey
	Timeout  time.Duration
	Retry    RetryPolicy
}

// RPCNetwork talks to a Solana cluster over JSON-RPC.
type RPCNetwork struct {
	client  *rpc.Client
	builder BurnBuilder
	mint    solana.PublicKey
	timeout time.Duration
	retry   RetryPolicy
	log     *zap.Logger

	mu sync.Mutex
	// lastValid is the last block height at which a transaction we built can
	// still land. Entries are only known for transactions built by this process.
	lastValid map[solana.Signature]uint64
}

func NewRPCNetwork(cfg RPCConfig, builder BurnBuilder, log *zap.Logger) *RPCNetwork {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCNetwork{
		client:    rpc.New(cfg.Endpoint),
		builder:   builder,
		mint:      cfg.Mint,
		timeout:   timeout,
		retry:     cfg.Retry,
		log:       log.Named("chain"),
		lastValid: make(map[solana.Signature]uint64),
	}
}

func (n *RPCNetwork) PayerBalance(ctx context.Context, payer solana.PublicKey) (uint64, error) {
	account, _, err := solana.FindAssociatedTokenAddress(payer, n.mint)
	if err != nil {
		return 0, fmt.Errorf("token account for %s: %w", payer, err)
	}
	return Retry(ctx, n.retry, func() (uint64, error) {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		res, err := n.client.GetTokenAccountBalance(callCtx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, fmt.Errorf("get token balance: %w", err)
		}
		if res == nil || res.Value == nil {
			return 0, backoff.Permanent(fmt.Errorf("%w: %s", ErrUnknownPayer, payer))
		}
		amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
		if err != nil {
			return 0, backoff.Permanent(fmt.Errorf("parse balance %q: %w", res.Value.Amount, err))
		}
		return amount, nil
	})
}

func (n *RPCNetwork) MakeBurnTransaction(ctx context.Context, payer solana.PublicKey, amount uint64) (*BurnTransaction, error) {
	latest, err := Retry(ctx, n.retry, func() (*rpc.GetLatestBlockhashResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.client.GetLatestBlockhash(callCtx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := n.builder.BuildBurn(ctx, payer, amount, latest.Value.Blockhash)
	if err != nil {
		return nil, err
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("burn transaction for %s is unsigned", payer)
	}
	sig := tx.Signatures[0]

	n.mu.Lock()
	n.lastValid[sig] = latest.Value.LastValidBlockHeight
	n.mu.Unlock()

	return &BurnTransaction{Payer: payer, Amount: amount, Signature: sig, tx: tx}, nil
}

func (n *RPCNetwork) SubmitTransaction(ctx context.Context, txn *BurnTransaction) error {
	if txn.tx == nil {
		return fmt.Errorf("%w: %s was not built by this network", ErrUnknownSignature, txn.Signature)
	}
	// Resubmitting the same signed transaction is idempotent on chain.
	_, err := Retry(ctx, n.retry, func() (solana.Signature, error) {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.client.SendTransactionWithOpts(callCtx, txn.tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
	})
	if err != nil {
		return fmt.Errorf("send transaction %s: %w", txn.Signature, err)
	}
	return nil
}

func (n *RPCNetwork) ConfirmTransaction(ctx context.Context, signature solana.Signature) (TxStatus, error) {
	res, err := Retry(ctx, n.retry, func() (*rpc.GetSignatureStatusesResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.client.GetSignatureStatuses(callCtx, true, signature)
	})
	if err != nil {
		return TxPending, fmt.Errorf("signature status %s: %w", signature, err)
	}

	var status *rpc.SignatureStatusesResult
	if res != nil && len(res.Value) > 0 {
		status = res.Value[0]
	}
	if status == nil {
		return n.expiredOrPending(ctx, signature)
	}
	if status.Err != nil {
		n.forget(signature)
		return TxFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		n.forget(signature)
		return TxConfirmed, nil
	default:
		return TxPending, nil
	}
}

// expiredOrPending reports TxFailed once the chain is past the last block at
// which an unseen transaction could still land.
func (n *RPCNetwork) expiredOrPending(ctx context.Context, signature solana.Signature) (TxStatus, error) {
	n.mu.Lock()
	lastValid, known := n.lastValid[signature]
	n.mu.Unlock()
	if !known {
		return TxPending, nil
	}

	height, err := Retry(ctx, n.retry, func() (uint64, error) {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.client.GetBlockHeight(callCtx, rpc.CommitmentConfirmed)
	})
	if err != nil {
		return TxPending, fmt.Errorf("block height: %w", err)
	}
	if height > lastValid {
		n.log.Info("burn transaction expired",
			zap.Stringer("signature", signature),
			zap.Uint64("last_valid_block_height", lastValid),
			zap.Uint64("block_height", height))
		n.forget(signature)
		return TxFailed, nil
	}
	return TxPending, nil
}

func (n *RPCNetwork) forget(signature solana.Signature) {
	n.mu.Lock()
	delete(n.lastValid, signature)
	n.mu.Unlock()
}
