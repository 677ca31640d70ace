package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

type memoryTxn struct {
	payer     solana.PublicKey
	amount    uint64
	submitted bool
	status    TxStatus
}

// MemoryNetwork is an in-process ledger used in development and tests.
// Submitted burns execute immediately unless confirmations are held, in which
// case they stay pending until Confirm or Reject is called.
type MemoryNetwork struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]uint64
	txns     map[solana.Signature]*memoryTxn
	hold     bool
}

func NewMemoryNetwork(balances map[solana.PublicKey]uint64) *MemoryNetwork {
	m := &MemoryNetwork{
		balances: make(map[solana.PublicKey]uint64, len(balances)),
		txns:     make(map[solana.Signature]*memoryTxn),
	}
	for k, v := range balances {
		m.balances[k] = v
	}
	return m
}

// SetBalance replaces the balance of a payer, e.g. to simulate a top up.
func (m *MemoryNetwork) SetBalance(payer solana.PublicKey, balance uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[payer] = balance
}

// HoldConfirmations keeps submitted transactions pending until Confirm.
func (m *MemoryNetwork) HoldConfirmations(hold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = hold
}

// Confirm executes a held transaction.
func (m *MemoryNetwork) Confirm(signature solana.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[signature]
	if !ok || !txn.submitted {
		return ErrUnknownSignature
	}
	m.execute(txn)
	return nil
}

// Reject marks a transaction as failed on the ledger.
func (m *MemoryNetwork) Reject(signature solana.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[signature]
	if !ok {
		return ErrUnknownSignature
	}
	if txn.status == TxPending {
		txn.status = TxFailed
	}
	return nil
}

// Signatures returns every transaction built so far.
func (m *MemoryNetwork) Signatures() []solana.Signature {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]solana.Signature, 0, len(m.txns))
	for sig := range m.txns {
		out = append(out, sig)
	}
	return out
}

func (m *MemoryNetwork) PayerBalance(_ context.Context, payer solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[payer]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPayer, payer)
	}
	return balance, nil
}

func (m *MemoryNetwork) MakeBurnTransaction(_ context.Context, payer solana.PublicKey, amount uint64) (*BurnTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sig solana.Signature
	for i := 0; i < len(sig); i += 16 {
		id := uuid.New()
		copy(sig[i:], id[:])
	}
	m.txns[sig] = &memoryTxn{payer: payer, amount: amount}
	return &BurnTransaction{Payer: payer, Amount: amount, Signature: sig}, nil
}

func (m *MemoryNetwork) SubmitTransaction(_ context.Context, txn *BurnTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txn.Signature]
	if !ok {
		return ErrUnknownSignature
	}
	t.submitted = true
	if !m.hold {
		m.execute(t)
	}
	return nil
}

func (m *MemoryNetwork) ConfirmTransaction(_ context.Context, signature solana.Signature) (TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[signature]
	if !ok {
		// Never seen by the ledger, same as a dropped transaction.
		return TxPending, nil
	}
	return t.status, nil
}

// execute must be called with m.mu held.
func (m *MemoryNetwork) execute(t *memoryTxn) {
	if t.status != TxPending {
		return
	}
	balance := m.balances[t.payer]
	if balance < t.amount {
		t.status = TxFailed
		return
	}
	m.balances[t.payer] = balance - t.amount
	t.status = TxConfirmed
}
