// Package store provides in-memory finance store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sitebooks/costledger/finance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements finance.Store, finance.StateStore and finance.MasterData.
type Memory struct {
	mu sync.RWMutex

	workOrders   map[finance.DocumentID][]finance.WorkOrder
	certificates map[finance.DocumentID][]finance.PaymentCertificate
	payments     []finance.Payment
	releases     []finance.RetentionRelease
	budgets      map[finance.Key]finance.Budget
	revisions    map[finance.Key]int64

	states map[finance.Key]finance.FinancialState

	projects map[finance.ProjectID]bool
	codes    map[finance.Key]bool
	vendors  map[finance.VendorID]bool
}

func NewMemory() *Memory {
	return &Memory{
		workOrders:   make(map[finance.DocumentID][]finance.WorkOrder),
		certificates: make(map[finance.DocumentID][]finance.PaymentCertificate),
		budgets:      make(map[finance.Key]finance.Budget),
		revisions:    make(map[finance.Key]int64),
		states:       make(map[finance.Key]finance.FinancialState),
		projects:     make(map[finance.ProjectID]bool),
		codes:        make(map[finance.Key]bool),
		vendors:      make(map[finance.VendorID]bool),
	}
}

// =============================================================================
// MASTER DATA
// =============================================================================

// RegisterProject adds a project and its cost codes.
func (m *Memory) RegisterProject(id finance.ProjectID, codes ...finance.CodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[id] = true
	for _, c := range codes {
		m.codes[finance.NewKey(id, c)] = true
	}
}

func (m *Memory) RegisterVendor(ids ...finance.VendorID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.vendors[id] = true
	}
}

// RemoveVendor simulates a vendor deleted from the external master data.
func (m *Memory) RemoveVendor(id finance.VendorID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vendors, id)
}

func (m *Memory) ProjectExists(_ context.Context, id finance.ProjectID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projects[id], nil
}

func (m *Memory) CodeExists(_ context.Context, projectID finance.ProjectID, codeID finance.CodeID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codes[finance.NewKey(projectID, codeID)], nil
}

func (m *Memory) VendorExists(_ context.Context, id finance.VendorID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vendors[id], nil
}

// =============================================================================
// DOCUMENT READS
// =============================================================================

func (m *Memory) GetWorkOrder(ctx context.Context, id finance.DocumentID) (*finance.WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getWorkOrderLocked(id), nil
}

func (m *Memory) WorkOrderVersions(_ context.Context, id finance.DocumentID) ([]finance.WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]finance.WorkOrder(nil), m.workOrders[id]...), nil
}

func (m *Memory) ListWorkOrders(_ context.Context, key finance.Key) ([]finance.WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listWorkOrdersLocked(key), nil
}

func (m *Memory) GetCertificate(_ context.Context, id finance.DocumentID) (*finance.PaymentCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCertificateLocked(id), nil
}

func (m *Memory) ListCertificates(_ context.Context, key finance.Key) ([]finance.PaymentCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCertificatesLocked(key), nil
}

func (m *Memory) ListPayments(_ context.Context, key finance.Key) ([]finance.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(func(p finance.Payment) bool { return p.Key() == key }), nil
}

func (m *Memory) ListPaymentsByCertificate(_ context.Context, id finance.DocumentID) ([]finance.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(func(p finance.Payment) bool { return p.CertificateID == id }), nil
}

func (m *Memory) ListRetentionReleases(_ context.Context, key finance.Key) ([]finance.RetentionRelease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listReleasesLocked(key), nil
}

func (m *Memory) KeyRevision(_ context.Context, key finance.Key) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revisions[key], nil
}

func (m *Memory) GetBudget(_ context.Context, key finance.Key) (*finance.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBudgetLocked(key), nil
}

// ----- lock-free helpers shared with the transactional view -----

func (m *Memory) getWorkOrderLocked(id finance.DocumentID) *finance.WorkOrder {
	versions := m.workOrders[id]
	if len(versions) == 0 {
		return nil
	}
	wo := versions[len(versions)-1]
	return &wo
}

func (m *Memory) listWorkOrdersLocked(key finance.Key) []finance.WorkOrder {
	var out []finance.WorkOrder
	for _, versions := range m.workOrders {
		if len(versions) > 0 && versions[0].Key() == key {
			out = append(out, versions...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func (m *Memory) getCertificateLocked(id finance.DocumentID) *finance.PaymentCertificate {
	versions := m.certificates[id]
	if len(versions) == 0 {
		return nil
	}
	pc := versions[len(versions)-1]
	return &pc
}

func (m *Memory) listCertificatesLocked(key finance.Key) []finance.PaymentCertificate {
	var out []finance.PaymentCertificate
	for _, versions := range m.certificates {
		if len(versions) > 0 && versions[0].Key() == key {
			out = append(out, versions...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BillDate.Equal(out[j].BillDate) {
			return out[i].BillDate.Before(out[j].BillDate)
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func (m *Memory) listPaymentsLocked(match func(finance.Payment) bool) []finance.Payment {
	var out []finance.Payment
	for _, p := range m.payments {
		if match(p) {
			out = append(out, p)
		}
	}
	return out
}

func (m *Memory) listReleasesLocked(key finance.Key) []finance.RetentionRelease {
	var out []finance.RetentionRelease
	for _, r := range m.releases {
		if r.Key() == key {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) getBudgetLocked(key finance.Key) *finance.Budget {
	b, ok := m.budgets[key]
	if !ok {
		return nil
	}
	return &b
}

// =============================================================================
// STATE STORE
// =============================================================================

func (m *Memory) GetState(_ context.Context, key finance.Key) (*finance.FinancialState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListStates(_ context.Context, projectID finance.ProjectID) ([]finance.FinancialState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []finance.FinancialState
	for k, s := range m.states {
		if k.ProjectID == projectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodeID < out[j].CodeID })
	return out, nil
}

func (m *Memory) SaveState(_ context.Context, state finance.FinancialState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Key()] = state
	return nil
}

func (m *Memory) StaleKeys(_ context.Context, limit int) ([]finance.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []finance.Key
	for k, rev := range m.revisions {
		if s, ok := m.states[k]; ok && s.SourceRevision >= rev {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(finance.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

// ReadSnapshot runs fn under the read lock, so no write lands mid-read.
func (m *Memory) ReadSnapshot(_ context.Context, fn func(finance.Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&txMemoryView{parent: m})
}

type memorySnapshot struct {
	workOrders   map[finance.DocumentID][]finance.WorkOrder
	certificates map[finance.DocumentID][]finance.PaymentCertificate
	payments     []finance.Payment
	releases     []finance.RetentionRelease
	budgets      map[finance.Key]finance.Budget
	revisions    map[finance.Key]int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		workOrders:   make(map[finance.DocumentID][]finance.WorkOrder, len(m.workOrders)),
		certificates: make(map[finance.DocumentID][]finance.PaymentCertificate, len(m.certificates)),
		payments:     append([]finance.Payment(nil), m.payments...),
		releases:     append([]finance.RetentionRelease(nil), m.releases...),
		budgets:      make(map[finance.Key]finance.Budget, len(m.budgets)),
		revisions:    make(map[finance.Key]int64, len(m.revisions)),
	}
	for k, v := range m.workOrders {
		s.workOrders[k] = append([]finance.WorkOrder(nil), v...)
	}
	for k, v := range m.certificates {
		s.certificates[k] = append([]finance.PaymentCertificate(nil), v...)
	}
	for k, v := range m.budgets {
		s.budgets[k] = v
	}
	for k, v := range m.revisions {
		s.revisions[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.workOrders = s.workOrders
	m.certificates = s.certificates
	m.payments = s.payments
	m.releases = s.releases
	m.budgets = s.budgets
	m.revisions = s.revisions
}

// txMemoryView runs with the parent's write lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) bump(key finance.Key) { tv.parent.revisions[key]++ }

func (tv *txMemoryView) GetWorkOrder(_ context.Context, id finance.DocumentID) (*finance.WorkOrder, error) {
	return tv.parent.getWorkOrderLocked(id), nil
}

func (tv *txMemoryView) WorkOrderVersions(_ context.Context, id finance.DocumentID) ([]finance.WorkOrder, error) {
	return append([]finance.WorkOrder(nil), tv.parent.workOrders[id]...), nil
}

func (tv *txMemoryView) ListWorkOrders(_ context.Context, key finance.Key) ([]finance.WorkOrder, error) {
	return tv.parent.listWorkOrdersLocked(key), nil
}

func (tv *txMemoryView) GetCertificate(_ context.Context, id finance.DocumentID) (*finance.PaymentCertificate, error) {
	return tv.parent.getCertificateLocked(id), nil
}

func (tv *txMemoryView) ListCertificates(_ context.Context, key finance.Key) ([]finance.PaymentCertificate, error) {
	return tv.parent.listCertificatesLocked(key), nil
}

func (tv *txMemoryView) ListPayments(_ context.Context, key finance.Key) ([]finance.Payment, error) {
	return tv.parent.listPaymentsLocked(func(p finance.Payment) bool { return p.Key() == key }), nil
}

func (tv *txMemoryView) ListPaymentsByCertificate(_ context.Context, id finance.DocumentID) ([]finance.Payment, error) {
	return tv.parent.listPaymentsLocked(func(p finance.Payment) bool { return p.CertificateID == id }), nil
}

func (tv *txMemoryView) ListRetentionReleases(_ context.Context, key finance.Key) ([]finance.RetentionRelease, error) {
	return tv.parent.listReleasesLocked(key), nil
}

func (tv *txMemoryView) KeyRevision(_ context.Context, key finance.Key) (int64, error) {
	return tv.parent.revisions[key], nil
}

func (tv *txMemoryView) GetBudget(_ context.Context, key finance.Key) (*finance.Budget, error) {
	return tv.parent.getBudgetLocked(key), nil
}

func (tv *txMemoryView) InsertWorkOrder(_ context.Context, wo finance.WorkOrder) error {
	versions := tv.parent.workOrders[wo.ID]
	for _, v := range versions {
		if v.Version == wo.Version {
			return fmt.Errorf("work order %s version %d already exists: %w", wo.ID, wo.Version, finance.ErrConcurrentModification)
		}
	}
	tv.parent.workOrders[wo.ID] = append(versions, wo)
	tv.bump(wo.Key())
	return nil
}

func (tv *txMemoryView) UpdateWorkOrder(_ context.Context, wo finance.WorkOrder) error {
	versions := tv.parent.workOrders[wo.ID]
	for i, v := range versions {
		if v.Version != wo.Version {
			continue
		}
		if err := finance.CheckWorkOrderUpdate(v, wo); err != nil {
			return err
		}
		versions[i] = wo
		tv.bump(wo.Key())
		return nil
	}
	return fmt.Errorf("work order %s version %d: %w", wo.ID, wo.Version, finance.ErrNotFound)
}

func (tv *txMemoryView) InsertCertificate(_ context.Context, pc finance.PaymentCertificate) error {
	versions := tv.parent.certificates[pc.ID]
	for _, v := range versions {
		if v.Version == pc.Version {
			return fmt.Errorf("certificate %s version %d already exists: %w", pc.ID, pc.Version, finance.ErrConcurrentModification)
		}
	}
	tv.parent.certificates[pc.ID] = append(versions, pc)
	tv.bump(pc.Key())
	return nil
}

func (tv *txMemoryView) UpdateCertificate(_ context.Context, pc finance.PaymentCertificate) error {
	versions := tv.parent.certificates[pc.ID]
	for i, v := range versions {
		if v.Version != pc.Version {
			continue
		}
		if err := finance.CheckCertificateUpdate(v, pc); err != nil {
			return err
		}
		versions[i] = pc
		tv.bump(pc.Key())
		return nil
	}
	return fmt.Errorf("certificate %s version %d: %w", pc.ID, pc.Version, finance.ErrNotFound)
}

func (tv *txMemoryView) InsertPayment(_ context.Context, p finance.Payment) error {
	tv.parent.payments = append(tv.parent.payments, p)
	tv.bump(p.Key())
	return nil
}

func (tv *txMemoryView) InsertRetentionRelease(_ context.Context, r finance.RetentionRelease) error {
	tv.parent.releases = append(tv.parent.releases, r)
	tv.bump(r.Key())
	return nil
}

func (tv *txMemoryView) PutBudget(_ context.Context, b finance.Budget) error {
	tv.parent.budgets[b.Key()] = b
	tv.bump(b.Key())
	return nil
}

var (
	_ finance.Store          = (*Memory)(nil)
	_ finance.StateStore     = (*Memory)(nil)
	_ finance.MasterData     = (*Memory)(nil)
	_ finance.SnapshotReader = (*Memory)(nil)
	_ finance.Tx             = (*txMemoryView)(nil)
)
