package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/models"
)

// Directory resolves company and group names for aggregation. The
// ledger treats it as a lookup table refreshed per request.
type Directory interface {
	Company(ctx context.Context, id uuid.UUID) (*models.Company, error)
	Group(ctx context.Context, id uuid.UUID) (*models.Group, error)
}

// FlowEdge is one transfer-shaped transaction inside an operation,
// resolved to companies.
type FlowEdge struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	FromCompanyID   uuid.UUID       `json:"from_company_id"`
	FromCompanyName string          `json:"from_company_name"`
	ToCompanyID     uuid.UUID       `json:"to_company_id"`
	ToCompanyName   string          `json:"to_company_name"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
}

// FlowNode aggregates one company's totals over the operation's edges.
type FlowNode struct {
	CompanyID   uuid.UUID       `json:"company_id"`
	CompanyName string          `json:"company_name"`
	TotalIn     decimal.Decimal `json:"total_in"`
	TotalOut    decimal.Decimal `json:"total_out"`
}

// GroupNode is the company aggregation rolled up by group. A company
// without a group gets its own bucket with a nil GroupID.
type GroupNode struct {
	GroupID    *uuid.UUID      `json:"group_id"`
	GroupName  string          `json:"group_name"`
	TotalIn    decimal.Decimal `json:"total_in"`
	TotalOut   decimal.Decimal `json:"total_out"`
	PendingIn  decimal.Decimal `json:"pending_in"`
	PendingOut decimal.Decimal `json:"pending_out"`
}

// PendingEdge is a pending entry created or settled in the operation.
type PendingEdge struct {
	EntryID       uuid.UUID                 `json:"entry_id"`
	FromGroupID   uuid.UUID                 `json:"from_group_id"`
	FromGroupName string                    `json:"from_group_name"`
	ToGroupID     uuid.UUID                 `json:"to_group_id"`
	ToGroupName   string                    `json:"to_group_name"`
	Amount        decimal.Decimal           `json:"amount"`
	Description   string                    `json:"description"`
	Status        models.PendingEntryStatus `json:"status"`
}

// FlowMap is the derived view of an operation: its transfer edges,
// per-company totals, group rollups, and the pending entries that
// reference it. It owns no persistent state and is recomputed on each
// request.
type FlowMap struct {
	Operation    *models.Operation `json:"operation"`
	Edges        []FlowEdge        `json:"edges"`
	Nodes        []FlowNode        `json:"nodes"`
	GroupNodes   []GroupNode       `json:"group_nodes"`
	PendingEdges []PendingEdge     `json:"pending_edges"`
}

// GroupBalance is one group's combined dashboard position. Transfers
// and pending are reported as a breakdown so callers can tell banked
// money from promised money.
type GroupBalance struct {
	GroupID          uuid.UUID       `json:"group_id"`
	GroupName        string          `json:"group_name"`
	Balance          decimal.Decimal `json:"balance"`
	TransfersBalance decimal.Decimal `json:"transfers_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
}

// Grouper groups transactions under operations and computes flow views
// on demand. It never mutates account balances.
type Grouper struct {
	store     Store
	directory Directory
}

// NewGrouper wires the grouper to its store and directory.
func NewGrouper(store Store, directory Directory) *Grouper {
	return &Grouper{store: store, directory: directory}
}

// Create opens a new operation.
func (g *Grouper) Create(ctx context.Context, name, description, notes string) (*models.Operation, error) {
	if name == "" {
		return nil, Errf(KindValidation, "operation name is required")
	}
	op := &models.Operation{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Notes:       notes,
		Status:      models.OperationOpen,
	}
	if err := g.store.CreateOperation(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Get returns the operation by id.
func (g *Grouper) Get(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	return g.store.Operation(ctx, id)
}

// List returns operations matching the filter.
func (g *Grouper) List(ctx context.Context, f OperationFilter) ([]*models.Operation, error) {
	return g.store.Operations(ctx, f)
}

// OperationPatch is an edit to an operation. Nil fields stay.
type OperationPatch struct {
	Name        *string
	Description *string
	Notes       *string
	Status      *models.OperationStatus
}

// Update patches an operation. Completing or cancelling stamps
// ClosedAt; reopening clears it. Cancelling detaches the operation's
// transactions, which stay in the ledger untouched.
func (g *Grouper) Update(ctx context.Context, id uuid.UUID, patch OperationPatch) (*models.Operation, error) {
	op, err := g.store.Operation(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		op.Name = *patch.Name
	}
	if patch.Description != nil {
		op.Description = *patch.Description
	}
	if patch.Notes != nil {
		op.Notes = *patch.Notes
	}
	if patch.Status != nil {
		newStatus := *patch.Status
		if !newStatus.Valid() {
			return nil, Errf(KindValidation, "unknown operation status %q", newStatus)
		}
		if newStatus != op.Status {
			switch newStatus {
			case models.OperationCompleted, models.OperationCancelled:
				now := time.Now().UTC()
				op.ClosedAt = &now
				if newStatus == models.OperationCancelled {
					if _, err := g.store.DetachTransactions(ctx, id); err != nil {
						return nil, err
					}
				}
			case models.OperationOpen:
				op.ClosedAt = nil
			}
			op.Status = newStatus
		}
	}

	if err := g.store.SaveOperation(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Assign attaches a transaction to an operation, or detaches it when
// opID is nil. The target operation must be open.
func (g *Grouper) Assign(ctx context.Context, txID uuid.UUID, opID *uuid.UUID) error {
	if _, err := g.store.Transaction(ctx, txID); err != nil {
		return err
	}
	if opID != nil {
		op, err := g.store.Operation(ctx, *opID)
		if err != nil {
			return err
		}
		if op.Status != models.OperationOpen {
			return Errf(KindInvalidOperation, "operation %s is not open", op.ID)
		}
	}
	return g.store.AssignOperation(ctx, txID, opID)
}

// Delete removes an operation after detaching its transactions; the
// transactions themselves survive.
func (g *Grouper) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := g.store.Operation(ctx, id); err != nil {
		return err
	}
	if _, err := g.store.DetachTransactions(ctx, id); err != nil {
		return err
	}
	return g.store.DeleteOperation(ctx, id)
}

// companyFlow is the per-company accumulator used while walking edges.
type companyFlow struct {
	name      string
	groupID   *uuid.UUID
	groupName string
	in        decimal.Decimal
	out       decimal.Decimal
}

// Flow builds the operation's derived flow map in a single pass over
// its transactions.
func (g *Grouper) Flow(ctx context.Context, opID uuid.UUID) (*FlowMap, error) {
	op, err := g.store.Operation(ctx, opID)
	if err != nil {
		return nil, err
	}
	txns, err := g.store.Transactions(ctx, TransactionFilter{OperationID: &opID})
	if err != nil {
		return nil, err
	}
	// Oldest first so edges read as a timeline.
	sort.Slice(txns, func(i, j int) bool { return txns[i].Seq < txns[j].Seq })

	flows := make(map[uuid.UUID]*companyFlow)
	edges := make([]FlowEdge, 0, len(txns))

	resolve := func(accountID uuid.UUID) (*models.Company, error) {
		account, err := g.store.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return g.directory.Company(ctx, account.CompanyID)
	}
	touch := func(c *models.Company) *companyFlow {
		f, ok := flows[c.ID]
		if !ok {
			f = &companyFlow{name: c.Name, groupID: c.GroupID, groupName: "no group"}
			if c.GroupID != nil {
				if grp, err := g.directory.Group(ctx, *c.GroupID); err == nil {
					f.groupName = grp.Name
				}
			}
			flows[c.ID] = f
		}
		return f
	}

	for _, txn := range txns {
		if !txn.IsTransferShaped() {
			continue
		}
		fromCompany, err := resolve(*txn.FromAccountID)
		if err != nil {
			return nil, err
		}
		toCompany, err := resolve(*txn.ToAccountID)
		if err != nil {
			return nil, err
		}

		src := touch(fromCompany)
		src.out = src.out.Add(txn.Amount)
		dst := touch(toCompany)
		dst.in = dst.in.Add(txn.Amount)

		edges = append(edges, FlowEdge{
			TransactionID:   txn.ID,
			FromCompanyID:   fromCompany.ID,
			FromCompanyName: fromCompany.Name,
			ToCompanyID:     toCompany.ID,
			ToCompanyName:   toCompany.Name,
			Amount:          txn.Amount,
			Date:            txn.TransactionDate,
		})
	}

	nodes := make([]FlowNode, 0, len(flows))
	for id, f := range flows {
		nodes = append(nodes, FlowNode{
			CompanyID:   id,
			CompanyName: f.name,
			TotalIn:     f.in,
			TotalOut:    f.out,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].CompanyName < nodes[j].CompanyName })

	// Roll companies up by group; companies without a group each keep
	// their own bucket.
	type groupKey struct {
		id   uuid.UUID
		solo uuid.UUID
	}
	groupFlows := make(map[groupKey]*GroupNode)
	keyFor := func(groupID *uuid.UUID, companyID uuid.UUID) groupKey {
		if groupID != nil {
			return groupKey{id: *groupID}
		}
		return groupKey{solo: companyID}
	}
	for companyID, f := range flows {
		k := keyFor(f.groupID, companyID)
		node, ok := groupFlows[k]
		if !ok {
			node = &GroupNode{GroupID: f.groupID, GroupName: f.groupName}
			if f.groupID == nil {
				node.GroupName = f.name
			}
			groupFlows[k] = node
		}
		node.TotalIn = node.TotalIn.Add(f.in)
		node.TotalOut = node.TotalOut.Add(f.out)
	}

	// Pending entries created or settled in this operation.
	entries, err := g.store.PendingEntries(ctx, PendingEntryFilter{OperationID: &opID})
	if err != nil {
		return nil, err
	}
	pendingEdges := make([]PendingEdge, 0, len(entries))
	for _, e := range entries {
		edge := PendingEdge{
			EntryID:     e.ID,
			FromGroupID: e.FromGroupID,
			ToGroupID:   e.ToGroupID,
			Amount:      e.Amount,
			Description: e.Description,
			Status:      e.Status,
		}
		if grp, err := g.directory.Group(ctx, e.FromGroupID); err == nil {
			edge.FromGroupName = grp.Name
		}
		if grp, err := g.directory.Group(ctx, e.ToGroupID); err == nil {
			edge.ToGroupName = grp.Name
		}
		pendingEdges = append(pendingEdges, edge)

		// The debtor group holds the promised money, the creditor is
		// still waiting for it.
		pendingNode := func(groupID uuid.UUID, name string) *GroupNode {
			k := groupKey{id: groupID}
			node, ok := groupFlows[k]
			if !ok {
				id := groupID
				node = &GroupNode{GroupID: &id, GroupName: name}
				groupFlows[k] = node
			}
			return node
		}
		debtor := pendingNode(e.FromGroupID, edge.FromGroupName)
		debtor.PendingIn = debtor.PendingIn.Add(e.Amount)
		creditor := pendingNode(e.ToGroupID, edge.ToGroupName)
		creditor.PendingOut = creditor.PendingOut.Add(e.Amount)
	}

	groupNodes := make([]GroupNode, 0, len(groupFlows))
	for _, node := range groupFlows {
		groupNodes = append(groupNodes, *node)
	}
	sort.Slice(groupNodes, func(i, j int) bool { return groupNodes[i].GroupName < groupNodes[j].GroupName })

	return &FlowMap{
		Operation:    op,
		Edges:        edges,
		Nodes:        nodes,
		GroupNodes:   groupNodes,
		PendingEdges: pendingEdges,
	}, nil
}

// GroupsBalance computes the dashboard per-group position: the net of
// cross-group transfers inside completed operations plus the net of
// still-pending entries, reported as a breakdown.
func (g *Grouper) GroupsBalance(ctx context.Context) ([]GroupBalance, error) {
	completed := models.OperationCompleted
	ops, err := g.store.Operations(ctx, OperationFilter{Status: &completed})
	if err != nil {
		return nil, err
	}

	type acc struct {
		name      string
		transfers decimal.Decimal
		pending   decimal.Decimal
	}
	balances := make(map[uuid.UUID]*acc)
	bucket := func(groupID uuid.UUID) *acc {
		b, ok := balances[groupID]
		if !ok {
			b = &acc{}
			if grp, err := g.directory.Group(ctx, groupID); err == nil {
				b.name = grp.Name
			}
			balances[groupID] = b
		}
		return b
	}
	groupOf := func(accountID uuid.UUID) (*uuid.UUID, error) {
		account, err := g.store.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		company, err := g.directory.Company(ctx, account.CompanyID)
		if err != nil {
			return nil, err
		}
		return company.GroupID, nil
	}

	for _, op := range ops {
		opID := op.ID
		txns, err := g.store.Transactions(ctx, TransactionFilter{OperationID: &opID})
		if err != nil {
			return nil, err
		}
		for _, txn := range txns {
			if !txn.IsTransferShaped() {
				continue
			}
			fromGroup, err := groupOf(*txn.FromAccountID)
			if err != nil {
				return nil, err
			}
			toGroup, err := groupOf(*txn.ToAccountID)
			if err != nil {
				return nil, err
			}
			// Intra-group transfers net to zero by definition.
			if fromGroup != nil && toGroup != nil && *fromGroup == *toGroup {
				continue
			}
			if fromGroup != nil {
				b := bucket(*fromGroup)
				b.transfers = b.transfers.Sub(txn.Amount)
			}
			if toGroup != nil {
				b := bucket(*toGroup)
				b.transfers = b.transfers.Add(txn.Amount)
			}
		}
	}

	pending := models.PendingEntryPending
	entries, err := g.store.PendingEntries(ctx, PendingEntryFilter{Status: &pending})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		// The debtor group is holding money it still owes, so its
		// position shows the promised amount as received.
		debtor := bucket(e.FromGroupID)
		debtor.pending = debtor.pending.Add(e.Amount)
		creditor := bucket(e.ToGroupID)
		creditor.pending = creditor.pending.Sub(e.Amount)
	}

	out := make([]GroupBalance, 0, len(balances))
	for id, b := range balances {
		total := b.transfers.Add(b.pending)
		if total.IsZero() && b.pending.IsZero() && b.transfers.IsZero() {
			continue
		}
		out = append(out, GroupBalance{
			GroupID:          id,
			GroupName:        b.name,
			Balance:          total,
			TransfersBalance: b.transfers,
			PendingBalance:   b.pending,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Balance.GreaterThan(out[j].Balance) })
	return out, nil
}

// OperationCard is an operation with its transaction count, for
// dashboard listings.
type OperationCard struct {
	Operation        *models.Operation `json:"operation"`
	TransactionCount int               `json:"transaction_count"`
}

// DashboardSummary is the operations landing view: everything open,
// the most recently created operations, and counts by status.
type DashboardSummary struct {
	OpenOperations   []OperationCard `json:"open_operations"`
	RecentOperations []OperationCard `json:"recent_operations"`
	CountsByStatus   map[string]int  `json:"counts_by_status"`
}

const dashboardRecentLimit = 5

// Dashboard builds the operations overview.
func (g *Grouper) Dashboard(ctx context.Context) (*DashboardSummary, error) {
	ops, err := g.store.Operations(ctx, OperationFilter{})
	if err != nil {
		return nil, err
	}

	card := func(op *models.Operation) (OperationCard, error) {
		opID := op.ID
		txns, err := g.store.Transactions(ctx, TransactionFilter{OperationID: &opID})
		if err != nil {
			return OperationCard{}, err
		}
		return OperationCard{Operation: op, TransactionCount: len(txns)}, nil
	}

	summary := &DashboardSummary{
		OpenOperations:   []OperationCard{},
		RecentOperations: []OperationCard{},
		CountsByStatus:   make(map[string]int),
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].CreatedAt.After(ops[j].CreatedAt) })
	for _, op := range ops {
		summary.CountsByStatus[string(op.Status)]++
		if op.Status == models.OperationOpen {
			c, err := card(op)
			if err != nil {
				return nil, err
			}
			summary.OpenOperations = append(summary.OpenOperations, c)
		}
		if len(summary.RecentOperations) < dashboardRecentLimit {
			c, err := card(op)
			if err != nil {
				return nil, err
			}
			summary.RecentOperations = append(summary.RecentOperations, c)
		}
	}
	return summary, nil
}
