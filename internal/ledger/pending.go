package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/models"
)

// GroupSummary is one group's position in the pending-entry ledger.
// Net is positive when the group is owed more than it owes.
type GroupSummary struct {
	GroupID   uuid.UUID       `json:"group_id"`
	GroupName string          `json:"group_name"`
	Owes      decimal.Decimal `json:"owes"`
	Owed      decimal.Decimal `json:"owed"`
	Net       decimal.Decimal `json:"net"`
}

// PendingLedger is the group-to-group IOU ledger. Its entries are
// created directly by operators, never derived from transactions, and
// settlement is a reversible status flip that moves no money.
type PendingLedger struct {
	store     Store
	directory Directory
}

// NewPendingLedger wires the IOU ledger.
func NewPendingLedger(store Store, directory Directory) *PendingLedger {
	return &PendingLedger{store: store, directory: directory}
}

// Create records a new debt from one group to another.
func (l *PendingLedger) Create(ctx context.Context, fromGroup, toGroup uuid.UUID, amount decimal.Decimal, description string, opID *uuid.UUID) (*models.PendingEntry, error) {
	if !amount.IsPositive() {
		return nil, Errf(KindValidation, "amount must be positive, got %s", amount)
	}
	if fromGroup == toGroup {
		return nil, Errf(KindValidation, "debtor and creditor groups must differ")
	}
	if _, err := l.directory.Group(ctx, fromGroup); err != nil {
		return nil, Errf(KindNotFound, "debtor group %s not found", fromGroup)
	}
	if _, err := l.directory.Group(ctx, toGroup); err != nil {
		return nil, Errf(KindNotFound, "creditor group %s not found", toGroup)
	}
	if opID != nil {
		if _, err := l.store.Operation(ctx, *opID); err != nil {
			return nil, err
		}
	}

	entry := &models.PendingEntry{
		ID:          uuid.New(),
		FromGroupID: fromGroup,
		ToGroupID:   toGroup,
		Amount:      amount,
		Description: description,
		OperationID: opID,
		Status:      models.PendingEntryPending,
	}
	if err := l.store.CreatePendingEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns the entry by id.
func (l *PendingLedger) Get(ctx context.Context, id uuid.UUID) (*models.PendingEntry, error) {
	return l.store.PendingEntry(ctx, id)
}

// List returns entries matching the filter.
func (l *PendingLedger) List(ctx context.Context, f PendingEntryFilter) ([]*models.PendingEntry, error) {
	return l.store.PendingEntries(ctx, f)
}

// Settle marks an entry settled, optionally cross-referencing the
// operation the settlement happened in.
func (l *PendingLedger) Settle(ctx context.Context, id uuid.UUID, opID *uuid.UUID) (*models.PendingEntry, error) {
	entry, err := l.store.PendingEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == models.PendingEntrySettled {
		return nil, Errf(KindConflict, "entry %s is already settled", id)
	}
	if opID != nil {
		if _, err := l.store.Operation(ctx, *opID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	entry.Status = models.PendingEntrySettled
	entry.SettledAt = &now
	entry.SettledInOperationID = opID
	if err := l.store.SavePendingEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unsettle reverts a settlement, returning the entry to pending.
func (l *PendingLedger) Unsettle(ctx context.Context, id uuid.UUID) (*models.PendingEntry, error) {
	entry, err := l.store.PendingEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == models.PendingEntryPending {
		return nil, Errf(KindConflict, "entry %s is not settled", id)
	}

	entry.Status = models.PendingEntryPending
	entry.SettledAt = nil
	entry.SettledInOperationID = nil
	if err := l.store.SavePendingEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes an entry outright.
func (l *PendingLedger) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := l.store.PendingEntry(ctx, id); err != nil {
		return err
	}
	return l.store.DeletePendingEntry(ctx, id)
}

// SummaryByGroup nets still-pending entries per group: what the group
// owes as debtor, what it is owed as creditor, and the difference.
func (l *PendingLedger) SummaryByGroup(ctx context.Context) ([]GroupSummary, error) {
	pending := models.PendingEntryPending
	entries, err := l.store.PendingEntries(ctx, PendingEntryFilter{Status: &pending})
	if err != nil {
		return nil, err
	}

	summaries := make(map[uuid.UUID]*GroupSummary)
	bucket := func(groupID uuid.UUID) *GroupSummary {
		s, ok := summaries[groupID]
		if !ok {
			s = &GroupSummary{GroupID: groupID}
			if grp, err := l.directory.Group(ctx, groupID); err == nil {
				s.GroupName = grp.Name
			}
			summaries[groupID] = s
		}
		return s
	}

	for _, e := range entries {
		debtor := bucket(e.FromGroupID)
		debtor.Owes = debtor.Owes.Add(e.Amount)
		creditor := bucket(e.ToGroupID)
		creditor.Owed = creditor.Owed.Add(e.Amount)
	}

	out := make([]GroupSummary, 0, len(summaries))
	for _, s := range summaries {
		s.Net = s.Owed.Sub(s.Owes)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Net.GreaterThan(out[j].Net) })
	return out, nil
}
