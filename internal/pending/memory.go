package pending

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/domain"
)

// MemoryTables keeps pending state in process memory. It satisfies Tables for
// tests and development; it does not survive a restart.
type MemoryTables struct {
	mu    sync.Mutex
	burns map[solana.PublicKey]*domain.PendingBurn
	txns  map[solana.Signature]domain.PendingTransaction

	// FailWrites makes AddBurnedAmount fail, to exercise fail-closed debits.
	FailWrites error
}

func NewMemoryTables() *MemoryTables {
	return &MemoryTables{
		burns: make(map[solana.PublicKey]*domain.PendingBurn),
		txns:  make(map[solana.Signature]domain.PendingTransaction),
	}
}

func (m *MemoryTables) AddBurnedAmount(_ context.Context, payer solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	burn, ok := m.burns[payer]
	if !ok {
		burn = &domain.PendingBurn{Payer: payer}
		m.burns[payer] = burn
	}
	burn.Amount += amount
	burn.LastBurn = time.Now().UTC()
	return nil
}

// PendingBurn returns the durable total of a payer.
func (m *MemoryTables) PendingBurn(payer solana.PublicKey) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if burn, ok := m.burns[payer]; ok {
		return burn.Amount
	}
	return 0
}

func (m *MemoryTables) ListPendingBurns(_ context.Context) ([]domain.PendingBurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingBurn, 0, len(m.burns))
	for _, burn := range m.burns {
		if burn.Amount > 0 {
			out = append(out, *burn)
		}
	}
	sortBurns(out)
	return out, nil
}

func (m *MemoryTables) ListUnsettledBurns(_ context.Context) ([]domain.PendingBurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inFlight := make(map[solana.PublicKey]uint64)
	for _, txn := range m.txns {
		inFlight[txn.Payer] += txn.Amount
	}
	out := make([]domain.PendingBurn, 0, len(m.burns))
	for payer, burn := range m.burns {
		if burn.Amount > inFlight[payer] {
			unsettled := *burn
			unsettled.Amount = burn.Amount - inFlight[payer]
			out = append(out, unsettled)
		}
	}
	sortBurns(out)
	return out, nil
}

func (m *MemoryTables) AddPendingTransaction(_ context.Context, payer solana.PublicKey, amount uint64, signature solana.Signature, submittedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txns[signature]; exists {
		return ErrDuplicateTransaction
	}
	m.txns[signature] = domain.PendingTransaction{
		Payer:       payer,
		Amount:      amount,
		Signature:   signature,
		SubmittedAt: submittedAt,
	}
	return nil
}

func (m *MemoryTables) ListPendingTransactions(_ context.Context) ([]domain.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingTransaction, 0, len(m.txns))
	for _, txn := range m.txns {
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (m *MemoryTables) RetireTransaction(_ context.Context, signature solana.Signature) (domain.PendingTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[signature]
	if !ok {
		return domain.PendingTransaction{}, false, nil
	}
	burn, ok := m.burns[txn.Payer]
	if !ok || burn.Amount < txn.Amount {
		return domain.PendingTransaction{}, false, ErrBurnUnderflow
	}
	burn.Amount -= txn.Amount
	delete(m.txns, signature)
	return txn, true, nil
}

func (m *MemoryTables) DropTransaction(_ context.Context, signature solana.Signature) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[signature]; !ok {
		return false, nil
	}
	delete(m.txns, signature)
	return true, nil
}

func sortBurns(burns []domain.PendingBurn) {
	sort.Slice(burns, func(i, j int) bool {
		return burns[i].Payer.String() < burns[j].Payer.String()
	})
}
