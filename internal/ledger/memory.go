package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/treasurydesk/backend/internal/models"
)

// MemoryStore is the in-process Store. A single RWMutex gives the
// atomicity the Store contract asks for: every multi-row write happens
// under the write lock, every read under the read lock, so aggregate
// reads see either all of a transfer or none of it.
type MemoryStore struct {
	mu           sync.RWMutex
	seq          uint64
	accounts     map[uuid.UUID]*models.Account
	transactions map[uuid.UUID]*models.Transaction
	operations   map[uuid.UUID]*models.Operation
	pending      map[uuid.UUID]*models.PendingEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[uuid.UUID]*models.Account),
		transactions: make(map[uuid.UUID]*models.Transaction),
		operations:   make(map[uuid.UUID]*models.Operation),
		pending:      make(map[uuid.UUID]*models.PendingEntry),
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	return &c
}

func copyOperation(op *models.Operation) *models.Operation {
	c := *op
	return &c
}

func copyPendingEntry(e *models.PendingEntry) *models.PendingEntry {
	c := *e
	return &c
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return Errf(KindConflict, "account %s already exists", a.ID)
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.accounts[a.ID] = copyAccount(a)
	return nil
}

func (s *MemoryStore) Account(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, Errf(KindNotFound, "account %s not found", id)
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) Accounts(_ context.Context, f AccountFilter) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if f.CompanyID != nil && a.CompanyID != *f.CompanyID {
			continue
		}
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return Errf(KindNotFound, "account %s not found", a.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	s.accounts[a.ID] = copyAccount(a)
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return Errf(KindNotFound, "account %s not found", id)
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) ApplyTransaction(_ context.Context, t *models.Transaction, accounts []*models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t.Seq = s.seq
	t.CreatedAt = time.Now().UTC()
	s.transactions[t.ID] = copyTransaction(t)
	s.saveBalances(accounts)
	return nil
}

func (s *MemoryStore) RewriteTransaction(_ context.Context, t *models.Transaction, accounts []*models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[t.ID]; !ok {
		return Errf(KindNotFound, "transaction %s not found", t.ID)
	}
	s.transactions[t.ID] = copyTransaction(t)
	s.saveBalances(accounts)
	return nil
}

func (s *MemoryStore) RemoveTransaction(_ context.Context, id uuid.UUID, accounts []*models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return Errf(KindNotFound, "transaction %s not found", id)
	}
	delete(s.transactions, id)
	s.saveBalances(accounts)
	return nil
}

// saveBalances persists updated accounts inside an already-held write
// lock.
func (s *MemoryStore) saveBalances(accounts []*models.Account) {
	now := time.Now().UTC()
	for _, a := range accounts {
		a.UpdatedAt = now
		s.accounts[a.ID] = copyAccount(a)
	}
}

func (s *MemoryStore) Transaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, Errf(KindNotFound, "transaction %s not found", id)
	}
	return copyTransaction(t), nil
}

func (s *MemoryStore) Transactions(_ context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		if f.AccountID != nil && !touches(t, *f.AccountID) {
			continue
		}
		if f.OperationID != nil && (t.OperationID == nil || *t.OperationID != *f.OperationID) {
			continue
		}
		out = append(out, copyTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func touches(t *models.Transaction, id uuid.UUID) bool {
	if t.FromAccountID != nil && *t.FromAccountID == id {
		return true
	}
	return t.ToAccountID != nil && *t.ToAccountID == id
}

func (s *MemoryStore) LatestSeq(_ context.Context, accountID uuid.UUID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	for _, t := range s.transactions {
		if touches(t, accountID) && t.Seq > latest {
			latest = t.Seq
		}
	}
	return latest, nil
}

func (s *MemoryStore) AssignOperation(_ context.Context, txID uuid.UUID, opID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[txID]
	if !ok {
		return Errf(KindNotFound, "transaction %s not found", txID)
	}
	t.OperationID = opID
	return nil
}

func (s *MemoryStore) CreateOperation(_ context.Context, op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now
	s.operations[op.ID] = copyOperation(op)
	return nil
}

func (s *MemoryStore) Operation(_ context.Context, id uuid.UUID) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, Errf(KindNotFound, "operation %s not found", id)
	}
	return copyOperation(op), nil
}

func (s *MemoryStore) Operations(_ context.Context, f OperationFilter) ([]*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Operation, 0, len(s.operations))
	for _, op := range s.operations {
		if f.Status != nil && op.Status != *f.Status {
			continue
		}
		out = append(out, copyOperation(op))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveOperation(_ context.Context, op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.ID]; !ok {
		return Errf(KindNotFound, "operation %s not found", op.ID)
	}
	op.UpdatedAt = time.Now().UTC()
	s.operations[op.ID] = copyOperation(op)
	return nil
}

func (s *MemoryStore) DeleteOperation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[id]; !ok {
		return Errf(KindNotFound, "operation %s not found", id)
	}
	delete(s.operations, id)
	return nil
}

func (s *MemoryStore) DetachTransactions(_ context.Context, opID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.transactions {
		if t.OperationID != nil && *t.OperationID == opID {
			t.OperationID = nil
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreatePendingEntry(_ context.Context, e *models.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	s.pending[e.ID] = copyPendingEntry(e)
	return nil
}

func (s *MemoryStore) PendingEntry(_ context.Context, id uuid.UUID) (*models.PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.pending[id]
	if !ok {
		return nil, Errf(KindNotFound, "pending entry %s not found", id)
	}
	return copyPendingEntry(e), nil
}

func (s *MemoryStore) PendingEntries(_ context.Context, f PendingEntryFilter) ([]*models.PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PendingEntry, 0, len(s.pending))
	for _, e := range s.pending {
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.GroupID != nil && e.FromGroupID != *f.GroupID && e.ToGroupID != *f.GroupID {
			continue
		}
		if f.OperationID != nil {
			created := e.OperationID != nil && *e.OperationID == *f.OperationID
			settled := e.SettledInOperationID != nil && *e.SettledInOperationID == *f.OperationID
			if !created && !settled {
				continue
			}
		}
		out = append(out, copyPendingEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SavePendingEntry(_ context.Context, e *models.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[e.ID]; !ok {
		return Errf(KindNotFound, "pending entry %s not found", e.ID)
	}
	s.pending[e.ID] = copyPendingEntry(e)
	return nil
}

func (s *MemoryStore) DeletePendingEntry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return Errf(KindNotFound, "pending entry %s not found", id)
	}
	delete(s.pending, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
