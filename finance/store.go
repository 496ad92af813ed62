/*
store.go - Persistence interfaces for documents, budgets and snapshots

PURPOSE:
  Defines the boundary between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  DocumentStore: Reads of work orders, certificates, payments, releases
  BudgetStore:   Reads of approved budgets
  Tx:            Writes, only available inside Store.WithTx
  Store:         DocumentStore + BudgetStore + WithTx
  StateStore:    FinancialState snapshots (the read model)
  MasterData:    Existence checks for projects, codes and vendors

APPEND-FRIENDLY CONTRACT:
  - Financial entities have NO Delete method. Ever.
  - Issued work orders and certified certificates only change status.
    Field changes go through a new version.
  - Payments and retention releases are insert-only.

KEY REVISIONS:
  Every write for a (project, code) bumps that key's revision in the SAME
  storage transaction. A snapshot records the revision it was computed
  from, which lets the coordinator skip recalculations that would see no
  new documents.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (default) or PostgreSQL via sqlx
  - finance/store/memory.go: In-memory for tests and development

SEE ALSO:
  - recalculator.go: Main reader of these interfaces
  - service.go: Main writer, always through WithTx
*/
package finance

import "context"

// =============================================================================
// DOCUMENT STORE - Reads
// =============================================================================

type DocumentStore interface {
	// GetWorkOrder returns the latest version of a work order.
	GetWorkOrder(ctx context.Context, id DocumentID) (*WorkOrder, error)

	// WorkOrderVersions returns every version of a work order, oldest first.
	WorkOrderVersions(ctx context.Context, id DocumentID) ([]WorkOrder, error)

	// ListWorkOrders returns every version of every work order for the key.
	ListWorkOrders(ctx context.Context, key Key) ([]WorkOrder, error)

	// GetCertificate returns the latest version of a certificate.
	GetCertificate(ctx context.Context, id DocumentID) (*PaymentCertificate, error)

	// ListCertificates returns every version of every certificate for the key.
	ListCertificates(ctx context.Context, key Key) ([]PaymentCertificate, error)

	ListPayments(ctx context.Context, key Key) ([]Payment, error)
	ListPaymentsByCertificate(ctx context.Context, certificateID DocumentID) ([]Payment, error)
	ListRetentionReleases(ctx context.Context, key Key) ([]RetentionRelease, error)

	// KeyRevision returns the number of writes made for the key so far.
	KeyRevision(ctx context.Context, key Key) (int64, error)
}

// =============================================================================
// BUDGET STORE - Reads
// =============================================================================

type BudgetStore interface {
	// GetBudget returns nil, nil when no budget was approved for the key.
	GetBudget(ctx context.Context, key Key) (*Budget, error)
}

// =============================================================================
// TRANSACTIONAL WRITES
// =============================================================================

// Tx is the write side. Every method bumps the affected key's revision.
type Tx interface {
	DocumentStore
	BudgetStore

	// InsertWorkOrder adds a new version row. Fails if (id, version) exists.
	InsertWorkOrder(ctx context.Context, wo WorkOrder) error

	// UpdateWorkOrder replaces a version row. Locked versions may only
	// change Status; anything else returns ErrImmutableEntity.
	UpdateWorkOrder(ctx context.Context, wo WorkOrder) error

	InsertCertificate(ctx context.Context, pc PaymentCertificate) error

	// UpdateCertificate replaces a version row. Once certified, only
	// Status and TotalPaidCumulative may change.
	UpdateCertificate(ctx context.Context, pc PaymentCertificate) error

	InsertPayment(ctx context.Context, p Payment) error
	InsertRetentionRelease(ctx context.Context, r RetentionRelease) error

	PutBudget(ctx context.Context, b Budget) error
}

// Reader is the read side of Store.
type Reader interface {
	DocumentStore
	BudgetStore
}

// SnapshotReader runs fn against one consistent view of the documents and
// budgets. No write commits part-way through fn.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, fn func(Reader) error) error
}

// Store is the full document + budget store.
type Store interface {
	DocumentStore
	BudgetStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// STATE STORE - The read model
// =============================================================================

type StateStore interface {
	// GetState returns nil, nil when the key has never been recalculated.
	GetState(ctx context.Context, key Key) (*FinancialState, error)

	// ListStates returns every snapshot of a project ordered by code.
	ListStates(ctx context.Context, projectID ProjectID) ([]FinancialState, error)

	// SaveState replaces the snapshot for state.Key() wholesale.
	SaveState(ctx context.Context, state FinancialState) error

	// StaleKeys returns keys whose snapshot is missing or older than the
	// key's current revision.
	StaleKeys(ctx context.Context, limit int) ([]Key, error)
}

// =============================================================================
// MASTER DATA - External collaborator (existence checks only)
// =============================================================================

type MasterData interface {
	ProjectExists(ctx context.Context, id ProjectID) (bool, error)
	CodeExists(ctx context.Context, projectID ProjectID, codeID CodeID) (bool, error)
	VendorExists(ctx context.Context, id VendorID) (bool, error)
}

// checkKey resolves the project and code of a key.
func checkKey(ctx context.Context, md MasterData, key Key, ref DocumentID) error {
	if md == nil {
		return nil
	}
	ok, err := md.ProjectExists(ctx, key.ProjectID)
	if err != nil {
		return err
	}
	if !ok {
		return &DanglingReferenceError{Entity: "project", ID: string(key.ProjectID), DocumentID: ref}
	}
	ok, err = md.CodeExists(ctx, key.ProjectID, key.CodeID)
	if err != nil {
		return err
	}
	if !ok {
		return &DanglingReferenceError{Entity: "code", ID: string(key.CodeID), DocumentID: ref}
	}
	return nil
}

func checkVendor(ctx context.Context, md MasterData, vendor VendorID, ref DocumentID) error {
	if md == nil {
		return nil
	}
	ok, err := md.VendorExists(ctx, vendor)
	if err != nil {
		return err
	}
	if !ok {
		return &DanglingReferenceError{Entity: "vendor", ID: string(vendor), DocumentID: ref}
	}
	return nil
}
