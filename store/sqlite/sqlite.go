/*
Package sqlite provides a SQL-backed implementation of the finance storage interfaces.

PURPOSE:
  Implements finance.Store, finance.StateStore and finance.MasterData on
  SQLite (default) or PostgreSQL. Queries are written once with `?`
  placeholders and rebound per driver by sqlx.

INTERFACES IMPLEMENTED:
  finance.Store:      Work orders, certificates, payments, releases, budgets
  finance.StateStore: FinancialState snapshots
  finance.MasterData: Projects, cost codes, vendors

APPEND-FRIENDLY ENFORCEMENT:
  - No DELETE statements on any financial table
  - payments and retention_releases are INSERT-only
  - Updates of locked work orders / certified certificates go through
    finance.CheckWorkOrderUpdate / CheckCertificateUpdate before the UPDATE

KEY TABLES:
  work_orders:          One row per (id, version)
  payment_certificates: One row per (id, version)
  payments:             Immutable payment records
  retention_releases:   Immutable release records
  budgets:              Approved budget per (project, code)
  key_revisions:        Write counter per (project, code), bumped in every write tx
  financial_states:     The read model, one row per (project, code)
  projects, cost_codes, vendors: Master data, seeded from YAML

AMOUNTS:
  Decimals are stored as TEXT so no precision is lost on either driver.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Reads inside WithTx go through the
  open sql transaction, never through the lock.

USAGE:
  store, err := sqlite.New("./data/costledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - finance/store.go: Interface definitions
  - finance/store/memory.go: In-memory implementation for testing
  - masterdata.go: YAML seed file
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sitebooks/costledger/finance"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements all storage interfaces using SQLite or PostgreSQL.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects with the given driver ("sqlite3" or "postgres") and migrates.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// A ":memory:" database lives in a single connection.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema. Every statement is valid on both
// SQLite and PostgreSQL.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS cost_codes (
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (project_id, code_id)
		)`,
		`CREATE TABLE IF NOT EXISTS vendors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,

		// Work orders: one row per version, never deleted
		`CREATE TABLE IF NOT EXISTS work_orders (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			previous_version INTEGER NOT NULL DEFAULT 0,
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			rate TEXT NOT NULL,
			quantity TEXT NOT NULL,
			base_amount TEXT NOT NULL,
			retention_percentage TEXT NOT NULL,
			retention_amount TEXT NOT NULL,
			net_value TEXT NOT NULL,
			status TEXT NOT NULL,
			locked INTEGER NOT NULL DEFAULT 0,
			issued_at TEXT,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_key ON work_orders(project_id, code_id)`,

		`CREATE TABLE IF NOT EXISTS payment_certificates (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			previous_version INTEGER NOT NULL DEFAULT 0,
			superseded INTEGER NOT NULL DEFAULT 0,
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			work_order_id TEXT,
			work_order_version INTEGER NOT NULL DEFAULT 0,
			bill_date TEXT NOT NULL,
			current_bill_amount TEXT NOT NULL,
			cumulative_previous_certified TEXT NOT NULL,
			total_cumulative_certified TEXT NOT NULL,
			retention_percentage TEXT NOT NULL,
			retention_current TEXT NOT NULL,
			retention_cumulative TEXT NOT NULL,
			taxable_amount TEXT NOT NULL,
			tax_percentage TEXT NOT NULL,
			tax_amount TEXT NOT NULL,
			net_payable TEXT NOT NULL,
			total_paid_cumulative TEXT NOT NULL,
			status TEXT NOT NULL,
			certified_at TEXT,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_key ON payment_certificates(project_id, code_id, vendor_id)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			certificate_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			paid_at TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_key ON payments(project_id, code_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_certificate ON payments(certificate_id)`,

		`CREATE TABLE IF NOT EXISTS retention_releases (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			certificate_id TEXT,
			amount TEXT NOT NULL,
			released_at TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_releases_key ON retention_releases(project_id, code_id)`,

		`CREATE TABLE IF NOT EXISTS budgets (
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			approved_amount TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			updated_by TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (project_id, code_id)
		)`,

		`CREATE TABLE IF NOT EXISTS key_revisions (
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			revision BIGINT NOT NULL,
			PRIMARY KEY (project_id, code_id)
		)`,

		// The read model: replaced wholesale on every recalculation
		`CREATE TABLE IF NOT EXISTS financial_states (
			project_id TEXT NOT NULL,
			code_id TEXT NOT NULL,
			approved_budget TEXT NOT NULL,
			committed_value TEXT NOT NULL,
			certified_value TEXT NOT NULL,
			paid_value TEXT NOT NULL,
			retention_held TEXT NOT NULL,
			balance_budget_remaining TEXT NOT NULL,
			balance_to_pay TEXT NOT NULL,
			over_commit INTEGER NOT NULL,
			over_certification INTEGER NOT NULL,
			over_payment INTEGER NOT NULL,
			last_recalculated_at TEXT NOT NULL,
			source_revision BIGINT NOT NULL,
			PRIMARY KEY (project_id, code_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ROW TYPES
// =============================================================================

type workOrderRow struct {
	ID                  string          `db:"id"`
	Version             int             `db:"version"`
	PreviousVersion     int             `db:"previous_version"`
	ProjectID           string          `db:"project_id"`
	CodeID              string          `db:"code_id"`
	VendorID            string          `db:"vendor_id"`
	Description         string          `db:"description"`
	Rate                decimal.Decimal `db:"rate"`
	Quantity            decimal.Decimal `db:"quantity"`
	BaseAmount          decimal.Decimal `db:"base_amount"`
	RetentionPercentage decimal.Decimal `db:"retention_percentage"`
	RetentionAmount     decimal.Decimal `db:"retention_amount"`
	NetValue            decimal.Decimal `db:"net_value"`
	Status              string          `db:"status"`
	Locked              int             `db:"locked"`
	IssuedAt            nullTimestamp   `db:"issued_at"`
	CreatedAt           timestamp       `db:"created_at"`
	CreatedBy           string          `db:"created_by"`
}

func toWorkOrderRow(wo finance.WorkOrder) workOrderRow {
	return workOrderRow{
		ID:                  string(wo.ID),
		Version:             wo.Version,
		PreviousVersion:     wo.PreviousVersion,
		ProjectID:           string(wo.ProjectID),
		CodeID:              string(wo.CodeID),
		VendorID:            string(wo.VendorID),
		Description:         wo.Description,
		Rate:                wo.Rate,
		Quantity:            wo.Quantity,
		BaseAmount:          wo.BaseAmount,
		RetentionPercentage: wo.RetentionPercentage,
		RetentionAmount:     wo.RetentionAmount,
		NetValue:            wo.NetValue,
		Status:              string(wo.Status),
		Locked:              boolInt(wo.Locked),
		IssuedAt:            newNullTimestamp(wo.IssuedAt),
		CreatedAt:           timestamp{wo.CreatedAt},
		CreatedBy:           wo.CreatedBy,
	}
}

func (r workOrderRow) toWorkOrder() finance.WorkOrder {
	return finance.WorkOrder{
		ID:                  finance.DocumentID(r.ID),
		Version:             r.Version,
		PreviousVersion:     r.PreviousVersion,
		ProjectID:           finance.ProjectID(r.ProjectID),
		CodeID:              finance.CodeID(r.CodeID),
		VendorID:            finance.VendorID(r.VendorID),
		Description:         r.Description,
		Rate:                r.Rate,
		Quantity:            r.Quantity,
		BaseAmount:          r.BaseAmount,
		RetentionPercentage: r.RetentionPercentage,
		RetentionAmount:     r.RetentionAmount,
		NetValue:            r.NetValue,
		Status:              finance.Status(r.Status),
		Locked:              r.Locked != 0,
		IssuedAt:            r.IssuedAt.ptr(),
		CreatedAt:           r.CreatedAt.Time,
		CreatedBy:           r.CreatedBy,
	}
}

type certificateRow struct {
	ID                          string          `db:"id"`
	Version                     int             `db:"version"`
	PreviousVersion             int             `db:"previous_version"`
	Superseded                  int             `db:"superseded"`
	ProjectID                   string          `db:"project_id"`
	CodeID                      string          `db:"code_id"`
	VendorID                    string          `db:"vendor_id"`
	WorkOrderID                 sql.NullString  `db:"work_order_id"`
	WorkOrderVersion            int             `db:"work_order_version"`
	BillDate                    timestamp       `db:"bill_date"`
	CurrentBillAmount           decimal.Decimal `db:"current_bill_amount"`
	CumulativePreviousCertified decimal.Decimal `db:"cumulative_previous_certified"`
	TotalCumulativeCertified    decimal.Decimal `db:"total_cumulative_certified"`
	RetentionPercentage         decimal.Decimal `db:"retention_percentage"`
	RetentionCurrent            decimal.Decimal `db:"retention_current"`
	RetentionCumulative         decimal.Decimal `db:"retention_cumulative"`
	TaxableAmount               decimal.Decimal `db:"taxable_amount"`
	TaxPercentage               decimal.Decimal `db:"tax_percentage"`
	TaxAmount                   decimal.Decimal `db:"tax_amount"`
	NetPayable                  decimal.Decimal `db:"net_payable"`
	TotalPaidCumulative         decimal.Decimal `db:"total_paid_cumulative"`
	Status                      string          `db:"status"`
	CertifiedAt                 nullTimestamp   `db:"certified_at"`
	CreatedAt                   timestamp       `db:"created_at"`
	CreatedBy                   string          `db:"created_by"`
}

func toCertificateRow(pc finance.PaymentCertificate) certificateRow {
	return certificateRow{
		ID:                          string(pc.ID),
		Version:                     pc.Version,
		PreviousVersion:             pc.PreviousVersion,
		Superseded:                  boolInt(pc.Superseded),
		ProjectID:                   string(pc.ProjectID),
		CodeID:                      string(pc.CodeID),
		VendorID:                    string(pc.VendorID),
		WorkOrderID:                 nullString(string(pc.WorkOrderID)),
		WorkOrderVersion:            pc.WorkOrderVersion,
		BillDate:                    timestamp{pc.BillDate},
		CurrentBillAmount:           pc.CurrentBillAmount,
		CumulativePreviousCertified: pc.CumulativePreviousCertified,
		TotalCumulativeCertified:    pc.TotalCumulativeCertified,
		RetentionPercentage:         pc.RetentionPercentage,
		RetentionCurrent:            pc.RetentionCurrent,
		RetentionCumulative:         pc.RetentionCumulative,
		TaxableAmount:               pc.TaxableAmount,
		TaxPercentage:               pc.TaxPercentage,
		TaxAmount:                   pc.TaxAmount,
		NetPayable:                  pc.NetPayable,
		TotalPaidCumulative:         pc.TotalPaidCumulative,
		Status:                      string(pc.Status),
		CertifiedAt:                 newNullTimestamp(pc.CertifiedAt),
		CreatedAt:                   timestamp{pc.CreatedAt},
		CreatedBy:                   pc.CreatedBy,
	}
}

func (r certificateRow) toCertificate() finance.PaymentCertificate {
	return finance.PaymentCertificate{
		ID:                          finance.DocumentID(r.ID),
		Version:                     r.Version,
		PreviousVersion:             r.PreviousVersion,
		Superseded:                  r.Superseded != 0,
		ProjectID:                   finance.ProjectID(r.ProjectID),
		CodeID:                      finance.CodeID(r.CodeID),
		VendorID:                    finance.VendorID(r.VendorID),
		WorkOrderID:                 finance.DocumentID(r.WorkOrderID.String),
		WorkOrderVersion:            r.WorkOrderVersion,
		BillDate:                    r.BillDate.Time,
		CurrentBillAmount:           r.CurrentBillAmount,
		CumulativePreviousCertified: r.CumulativePreviousCertified,
		TotalCumulativeCertified:    r.TotalCumulativeCertified,
		RetentionPercentage:         r.RetentionPercentage,
		RetentionCurrent:            r.RetentionCurrent,
		RetentionCumulative:         r.RetentionCumulative,
		TaxableAmount:               r.TaxableAmount,
		TaxPercentage:               r.TaxPercentage,
		TaxAmount:                   r.TaxAmount,
		NetPayable:                  r.NetPayable,
		TotalPaidCumulative:         r.TotalPaidCumulative,
		Status:                      finance.Status(r.Status),
		CertifiedAt:                 r.CertifiedAt.ptr(),
		CreatedAt:                   r.CreatedAt.Time,
		CreatedBy:                   r.CreatedBy,
	}
}

type paymentRow struct {
	ID            string          `db:"id"`
	CertificateID string          `db:"certificate_id"`
	ProjectID     string          `db:"project_id"`
	CodeID        string          `db:"code_id"`
	VendorID      string          `db:"vendor_id"`
	Amount        decimal.Decimal `db:"amount"`
	PaidAt        timestamp       `db:"paid_at"`
	Reference     string          `db:"reference"`
	CreatedAt     timestamp       `db:"created_at"`
	CreatedBy     string          `db:"created_by"`
}

func (r paymentRow) toPayment() finance.Payment {
	return finance.Payment{
		ID:            finance.DocumentID(r.ID),
		CertificateID: finance.DocumentID(r.CertificateID),
		ProjectID:     finance.ProjectID(r.ProjectID),
		CodeID:        finance.CodeID(r.CodeID),
		VendorID:      finance.VendorID(r.VendorID),
		Amount:        r.Amount,
		PaidAt:        r.PaidAt.Time,
		Reference:     r.Reference,
		CreatedAt:     r.CreatedAt.Time,
		CreatedBy:     r.CreatedBy,
	}
}

type releaseRow struct {
	ID            string          `db:"id"`
	ProjectID     string          `db:"project_id"`
	CodeID        string          `db:"code_id"`
	VendorID      string          `db:"vendor_id"`
	CertificateID sql.NullString  `db:"certificate_id"`
	Amount        decimal.Decimal `db:"amount"`
	ReleasedAt    timestamp       `db:"released_at"`
	Reason        string          `db:"reason"`
	CreatedAt     timestamp       `db:"created_at"`
	CreatedBy     string          `db:"created_by"`
}

func (r releaseRow) toRelease() finance.RetentionRelease {
	return finance.RetentionRelease{
		ID:            finance.DocumentID(r.ID),
		ProjectID:     finance.ProjectID(r.ProjectID),
		CodeID:        finance.CodeID(r.CodeID),
		VendorID:      finance.VendorID(r.VendorID),
		CertificateID: finance.DocumentID(r.CertificateID.String),
		Amount:        r.Amount,
		ReleasedAt:    r.ReleasedAt.Time,
		Reason:        r.Reason,
		CreatedAt:     r.CreatedAt.Time,
		CreatedBy:     r.CreatedBy,
	}
}

type budgetRow struct {
	ProjectID      string          `db:"project_id"`
	CodeID         string          `db:"code_id"`
	ApprovedAmount decimal.Decimal `db:"approved_amount"`
	UpdatedAt      timestamp       `db:"updated_at"`
	UpdatedBy      string          `db:"updated_by"`
}

type stateRow struct {
	ProjectID              string          `db:"project_id"`
	CodeID                 string          `db:"code_id"`
	ApprovedBudget         decimal.Decimal `db:"approved_budget"`
	CommittedValue         decimal.Decimal `db:"committed_value"`
	CertifiedValue         decimal.Decimal `db:"certified_value"`
	PaidValue              decimal.Decimal `db:"paid_value"`
	RetentionHeld          decimal.Decimal `db:"retention_held"`
	BalanceBudgetRemaining decimal.Decimal `db:"balance_budget_remaining"`
	BalanceToPay           decimal.Decimal `db:"balance_to_pay"`
	OverCommit             int             `db:"over_commit"`
	OverCertification      int             `db:"over_certification"`
	OverPayment            int             `db:"over_payment"`
	LastRecalculatedAt     timestamp       `db:"last_recalculated_at"`
	SourceRevision         int64           `db:"source_revision"`
}

func (r stateRow) toState() finance.FinancialState {
	return finance.FinancialState{
		ProjectID:              finance.ProjectID(r.ProjectID),
		CodeID:                 finance.CodeID(r.CodeID),
		ApprovedBudget:         r.ApprovedBudget,
		CommittedValue:         r.CommittedValue,
		CertifiedValue:         r.CertifiedValue,
		PaidValue:              r.PaidValue,
		RetentionHeld:          r.RetentionHeld,
		BalanceBudgetRemaining: r.BalanceBudgetRemaining,
		BalanceToPay:           r.BalanceToPay,
		OverCommit:             r.OverCommit != 0,
		OverCertification:      r.OverCertification != 0,
		OverPayment:            r.OverPayment != 0,
		LastRecalculatedAt:     r.LastRecalculatedAt.Time,
		SourceRevision:         r.SourceRevision,
	}
}

// =============================================================================
// DOCUMENT READS (finance.DocumentStore)
// =============================================================================

// reader holds the read queries shared by Store and txStore.
type reader struct {
	q sqlx.ExtContext
}

func (r reader) GetWorkOrder(ctx context.Context, id finance.DocumentID) (*finance.WorkOrder, error) {
	var row workOrderRow
	err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(
		`SELECT * FROM work_orders WHERE id = ? ORDER BY version DESC LIMIT 1`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}
	wo := row.toWorkOrder()
	return &wo, nil
}

func (r reader) WorkOrderVersions(ctx context.Context, id finance.DocumentID) ([]finance.WorkOrder, error) {
	return r.queryWorkOrders(ctx, `SELECT * FROM work_orders WHERE id = ? ORDER BY version ASC`, string(id))
}

func (r reader) ListWorkOrders(ctx context.Context, key finance.Key) ([]finance.WorkOrder, error) {
	return r.queryWorkOrders(ctx,
		`SELECT * FROM work_orders WHERE project_id = ? AND code_id = ? ORDER BY id ASC, version ASC`,
		string(key.ProjectID), string(key.CodeID))
}

func (r reader) queryWorkOrders(ctx context.Context, query string, args ...any) ([]finance.WorkOrder, error) {
	var rows []workOrderRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	out := make([]finance.WorkOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toWorkOrder())
	}
	return out, nil
}

func (r reader) GetCertificate(ctx context.Context, id finance.DocumentID) (*finance.PaymentCertificate, error) {
	var row certificateRow
	err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(
		`SELECT * FROM payment_certificates WHERE id = ? ORDER BY version DESC LIMIT 1`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	pc := row.toCertificate()
	return &pc, nil
}

func (r reader) ListCertificates(ctx context.Context, key finance.Key) ([]finance.PaymentCertificate, error) {
	var rows []certificateRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(
		`SELECT * FROM payment_certificates WHERE project_id = ? AND code_id = ?`),
		string(key.ProjectID), string(key.CodeID))
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	out := make([]finance.PaymentCertificate, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCertificate())
	}
	// Bill dates are compared as times; text ordering is not reliable.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BillDate.Equal(out[j].BillDate) {
			return out[i].BillDate.Before(out[j].BillDate)
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (r reader) ListPayments(ctx context.Context, key finance.Key) ([]finance.Payment, error) {
	return r.queryPayments(ctx,
		`SELECT * FROM payments WHERE project_id = ? AND code_id = ? ORDER BY created_at ASC, id ASC`,
		string(key.ProjectID), string(key.CodeID))
}

func (r reader) ListPaymentsByCertificate(ctx context.Context, id finance.DocumentID) ([]finance.Payment, error) {
	return r.queryPayments(ctx,
		`SELECT * FROM payments WHERE certificate_id = ? ORDER BY created_at ASC, id ASC`, string(id))
}

func (r reader) queryPayments(ctx context.Context, query string, args ...any) ([]finance.Payment, error) {
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	out := make([]finance.Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPayment())
	}
	return out, nil
}

func (r reader) ListRetentionReleases(ctx context.Context, key finance.Key) ([]finance.RetentionRelease, error) {
	var rows []releaseRow
	err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(
		`SELECT * FROM retention_releases WHERE project_id = ? AND code_id = ? ORDER BY created_at ASC, id ASC`),
		string(key.ProjectID), string(key.CodeID))
	if err != nil {
		return nil, fmt.Errorf("failed to query retention releases: %w", err)
	}
	out := make([]finance.RetentionRelease, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRelease())
	}
	return out, nil
}

func (r reader) KeyRevision(ctx context.Context, key finance.Key) (int64, error) {
	var rev int64
	err := sqlx.GetContext(ctx, r.q, &rev, r.q.Rebind(
		`SELECT revision FROM key_revisions WHERE project_id = ? AND code_id = ?`),
		string(key.ProjectID), string(key.CodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}

func (r reader) GetBudget(ctx context.Context, key finance.Key) (*finance.Budget, error) {
	var row budgetRow
	err := sqlx.GetContext(ctx, r.q, &row, r.q.Rebind(
		`SELECT * FROM budgets WHERE project_id = ? AND code_id = ?`),
		string(key.ProjectID), string(key.CodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return &finance.Budget{
		ProjectID:      finance.ProjectID(row.ProjectID),
		CodeID:         finance.CodeID(row.CodeID),
		ApprovedAmount: row.ApprovedAmount,
		UpdatedAt:      row.UpdatedAt.Time,
		UpdatedBy:      row.UpdatedBy,
	}, nil
}

// ----- Store entry points: take the read lock, then delegate -----

func (s *Store) read() reader { return reader{q: s.db} }

func (s *Store) GetWorkOrder(ctx context.Context, id finance.DocumentID) (*finance.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetWorkOrder(ctx, id)
}

func (s *Store) WorkOrderVersions(ctx context.Context, id finance.DocumentID) ([]finance.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().WorkOrderVersions(ctx, id)
}

func (s *Store) ListWorkOrders(ctx context.Context, key finance.Key) ([]finance.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListWorkOrders(ctx, key)
}

func (s *Store) GetCertificate(ctx context.Context, id finance.DocumentID) (*finance.PaymentCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetCertificate(ctx, id)
}

func (s *Store) ListCertificates(ctx context.Context, key finance.Key) ([]finance.PaymentCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListCertificates(ctx, key)
}

func (s *Store) ListPayments(ctx context.Context, key finance.Key) ([]finance.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPayments(ctx, key)
}

func (s *Store) ListPaymentsByCertificate(ctx context.Context, id finance.DocumentID) ([]finance.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPaymentsByCertificate(ctx, id)
}

func (s *Store) ListRetentionReleases(ctx context.Context, key finance.Key) ([]finance.RetentionRelease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListRetentionReleases(ctx, key)
}

func (s *Store) KeyRevision(ctx context.Context, key finance.Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().KeyRevision(ctx, key)
}

func (s *Store) GetBudget(ctx context.Context, key finance.Key) (*finance.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetBudget(ctx, key)
}

// =============================================================================
// TRANSACTIONAL STORE (finance.Tx)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(finance.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// ReadSnapshot runs fn inside one read transaction. Writers are held off by
// the store lock; on postgres the transaction is also read-only and
// repeatable-read.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(finance.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var opts *sql.TxOptions
	if s.db.DriverName() == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	sqlTx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(reader{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	reader
	tx *sqlx.Tx
}

func (ts *txStore) bump(ctx context.Context, key finance.Key) error {
	_, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		INSERT INTO key_revisions (project_id, code_id, revision) VALUES (?, ?, 1)
		ON CONFLICT (project_id, code_id) DO UPDATE SET revision = key_revisions.revision + 1`),
		string(key.ProjectID), string(key.CodeID))
	if err != nil {
		return fmt.Errorf("failed to bump key revision: %w", err)
	}
	return nil
}

func (ts *txStore) InsertWorkOrder(ctx context.Context, wo finance.WorkOrder) error {
	_, err := sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO work_orders
		(id, version, previous_version, project_id, code_id, vendor_id, description,
		 rate, quantity, base_amount, retention_percentage, retention_amount, net_value,
		 status, locked, issued_at, created_at, created_by)
		VALUES
		(:id, :version, :previous_version, :project_id, :code_id, :vendor_id, :description,
		 :rate, :quantity, :base_amount, :retention_percentage, :retention_amount, :net_value,
		 :status, :locked, :issued_at, :created_at, :created_by)`, toWorkOrderRow(wo))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("work order %s version %d: %w", wo.ID, wo.Version, finance.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to insert work order: %w", err)
	}
	return ts.bump(ctx, wo.Key())
}

func (ts *txStore) UpdateWorkOrder(ctx context.Context, wo finance.WorkOrder) error {
	var existing workOrderRow
	err := sqlx.GetContext(ctx, ts.tx, &existing, ts.tx.Rebind(
		`SELECT * FROM work_orders WHERE id = ? AND version = ?`), string(wo.ID), wo.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("work order %s version %d: %w", wo.ID, wo.Version, finance.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load work order: %w", err)
	}
	if err := finance.CheckWorkOrderUpdate(existing.toWorkOrder(), wo); err != nil {
		return err
	}

	_, err = sqlx.NamedExecContext(ctx, ts.tx, `
		UPDATE work_orders SET
			description = :description, rate = :rate, quantity = :quantity,
			base_amount = :base_amount, retention_percentage = :retention_percentage,
			retention_amount = :retention_amount, net_value = :net_value,
			status = :status, locked = :locked, issued_at = :issued_at
		WHERE id = :id AND version = :version`, toWorkOrderRow(wo))
	if err != nil {
		return fmt.Errorf("failed to update work order: %w", err)
	}
	return ts.bump(ctx, wo.Key())
}

func (ts *txStore) InsertCertificate(ctx context.Context, pc finance.PaymentCertificate) error {
	_, err := sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO payment_certificates
		(id, version, previous_version, superseded, project_id, code_id, vendor_id,
		 work_order_id, work_order_version, bill_date, current_bill_amount,
		 cumulative_previous_certified, total_cumulative_certified, retention_percentage,
		 retention_current, retention_cumulative, taxable_amount, tax_percentage, tax_amount,
		 net_payable, total_paid_cumulative, status, certified_at, created_at, created_by)
		VALUES
		(:id, :version, :previous_version, :superseded, :project_id, :code_id, :vendor_id,
		 :work_order_id, :work_order_version, :bill_date, :current_bill_amount,
		 :cumulative_previous_certified, :total_cumulative_certified, :retention_percentage,
		 :retention_current, :retention_cumulative, :taxable_amount, :tax_percentage, :tax_amount,
		 :net_payable, :total_paid_cumulative, :status, :certified_at, :created_at, :created_by)`,
		toCertificateRow(pc))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("certificate %s version %d: %w", pc.ID, pc.Version, finance.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to insert certificate: %w", err)
	}
	return ts.bump(ctx, pc.Key())
}

func (ts *txStore) UpdateCertificate(ctx context.Context, pc finance.PaymentCertificate) error {
	var existing certificateRow
	err := sqlx.GetContext(ctx, ts.tx, &existing, ts.tx.Rebind(
		`SELECT * FROM payment_certificates WHERE id = ? AND version = ?`), string(pc.ID), pc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("certificate %s version %d: %w", pc.ID, pc.Version, finance.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	if err := finance.CheckCertificateUpdate(existing.toCertificate(), pc); err != nil {
		return err
	}

	_, err = sqlx.NamedExecContext(ctx, ts.tx, `
		UPDATE payment_certificates SET
			superseded = :superseded, work_order_id = :work_order_id,
			work_order_version = :work_order_version, bill_date = :bill_date,
			current_bill_amount = :current_bill_amount,
			cumulative_previous_certified = :cumulative_previous_certified,
			total_cumulative_certified = :total_cumulative_certified,
			retention_percentage = :retention_percentage, retention_current = :retention_current,
			retention_cumulative = :retention_cumulative, taxable_amount = :taxable_amount,
			tax_percentage = :tax_percentage, tax_amount = :tax_amount,
			net_payable = :net_payable, total_paid_cumulative = :total_paid_cumulative,
			status = :status, certified_at = :certified_at
		WHERE id = :id AND version = :version`, toCertificateRow(pc))
	if err != nil {
		return fmt.Errorf("failed to update certificate: %w", err)
	}
	return ts.bump(ctx, pc.Key())
}

func (ts *txStore) InsertPayment(ctx context.Context, p finance.Payment) error {
	_, err := sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO payments
		(id, certificate_id, project_id, code_id, vendor_id, amount, paid_at, reference, created_at, created_by)
		VALUES
		(:id, :certificate_id, :project_id, :code_id, :vendor_id, :amount, :paid_at, :reference, :created_at, :created_by)`,
		paymentRow{
			ID:            string(p.ID),
			CertificateID: string(p.CertificateID),
			ProjectID:     string(p.ProjectID),
			CodeID:        string(p.CodeID),
			VendorID:      string(p.VendorID),
			Amount:        p.Amount,
			PaidAt:        timestamp{p.PaidAt},
			Reference:     p.Reference,
			CreatedAt:     timestamp{p.CreatedAt},
			CreatedBy:     p.CreatedBy,
		})
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return ts.bump(ctx, p.Key())
}

func (ts *txStore) InsertRetentionRelease(ctx context.Context, r finance.RetentionRelease) error {
	_, err := sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO retention_releases
		(id, project_id, code_id, vendor_id, certificate_id, amount, released_at, reason, created_at, created_by)
		VALUES
		(:id, :project_id, :code_id, :vendor_id, :certificate_id, :amount, :released_at, :reason, :created_at, :created_by)`,
		releaseRow{
			ID:            string(r.ID),
			ProjectID:     string(r.ProjectID),
			CodeID:        string(r.CodeID),
			VendorID:      string(r.VendorID),
			CertificateID: nullString(string(r.CertificateID)),
			Amount:        r.Amount,
			ReleasedAt:    timestamp{r.ReleasedAt},
			Reason:        r.Reason,
			CreatedAt:     timestamp{r.CreatedAt},
			CreatedBy:     r.CreatedBy,
		})
	if err != nil {
		return fmt.Errorf("failed to insert retention release: %w", err)
	}
	return ts.bump(ctx, r.Key())
}

func (ts *txStore) PutBudget(ctx context.Context, b finance.Budget) error {
	_, err := sqlx.NamedExecContext(ctx, ts.tx, `
		INSERT INTO budgets (project_id, code_id, approved_amount, updated_at, updated_by)
		VALUES (:project_id, :code_id, :approved_amount, :updated_at, :updated_by)
		ON CONFLICT (project_id, code_id) DO UPDATE SET
			approved_amount = excluded.approved_amount,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`,
		budgetRow{
			ProjectID:      string(b.ProjectID),
			CodeID:         string(b.CodeID),
			ApprovedAmount: b.ApprovedAmount,
			UpdatedAt:      timestamp{b.UpdatedAt},
			UpdatedBy:      b.UpdatedBy,
		})
	if err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}
	return ts.bump(ctx, b.Key())
}

// =============================================================================
// STATE STORE (finance.StateStore)
// =============================================================================

func (s *Store) GetState(ctx context.Context, key finance.Key) (*finance.FinancialState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row stateRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM financial_states WHERE project_id = ? AND code_id = ?`),
		string(key.ProjectID), string(key.CodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get financial state: %w", err)
	}
	state := row.toState()
	return &state, nil
}

func (s *Store) ListStates(ctx context.Context, projectID finance.ProjectID) ([]finance.FinancialState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []stateRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM financial_states WHERE project_id = ? ORDER BY code_id ASC`), string(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list financial states: %w", err)
	}
	out := make([]finance.FinancialState, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toState())
	}
	return out, nil
}

// SaveState replaces the snapshot for the key wholesale.
func (s *Store) SaveState(ctx context.Context, st finance.FinancialState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO financial_states
		(project_id, code_id, approved_budget, committed_value, certified_value, paid_value,
		 retention_held, balance_budget_remaining, balance_to_pay, over_commit,
		 over_certification, over_payment, last_recalculated_at, source_revision)
		VALUES
		(:project_id, :code_id, :approved_budget, :committed_value, :certified_value, :paid_value,
		 :retention_held, :balance_budget_remaining, :balance_to_pay, :over_commit,
		 :over_certification, :over_payment, :last_recalculated_at, :source_revision)
		ON CONFLICT (project_id, code_id) DO UPDATE SET
			approved_budget = excluded.approved_budget,
			committed_value = excluded.committed_value,
			certified_value = excluded.certified_value,
			paid_value = excluded.paid_value,
			retention_held = excluded.retention_held,
			balance_budget_remaining = excluded.balance_budget_remaining,
			balance_to_pay = excluded.balance_to_pay,
			over_commit = excluded.over_commit,
			over_certification = excluded.over_certification,
			over_payment = excluded.over_payment,
			last_recalculated_at = excluded.last_recalculated_at,
			source_revision = excluded.source_revision`,
		stateRow{
			ProjectID:              string(st.ProjectID),
			CodeID:                 string(st.CodeID),
			ApprovedBudget:         st.ApprovedBudget,
			CommittedValue:         st.CommittedValue,
			CertifiedValue:         st.CertifiedValue,
			PaidValue:              st.PaidValue,
			RetentionHeld:          st.RetentionHeld,
			BalanceBudgetRemaining: st.BalanceBudgetRemaining,
			BalanceToPay:           st.BalanceToPay,
			OverCommit:             boolInt(st.OverCommit),
			OverCertification:      boolInt(st.OverCertification),
			OverPayment:            boolInt(st.OverPayment),
			LastRecalculatedAt:     timestamp{st.LastRecalculatedAt},
			SourceRevision:         st.SourceRevision,
		})
	if err != nil {
		return fmt.Errorf("failed to save financial state: %w", err)
	}
	return nil
}

// StaleKeys returns keys whose snapshot is missing or behind the key revision.
func (s *Store) StaleKeys(ctx context.Context, limit int) ([]finance.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.project_id, r.code_id
		FROM key_revisions r
		LEFT JOIN financial_states f ON f.project_id = r.project_id AND f.code_id = r.code_id
		WHERE f.source_revision IS NULL OR f.source_revision < r.revision
		ORDER BY r.project_id, r.code_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []struct {
		ProjectID string `db:"project_id"`
		CodeID    string `db:"code_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list stale keys: %w", err)
	}
	keys := make([]finance.Key, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, finance.NewKey(finance.ProjectID(r.ProjectID), finance.CodeID(r.CodeID)))
	}
	return keys, nil
}

// =============================================================================
// MASTER DATA (finance.MasterData)
// =============================================================================

func (s *Store) ProjectExists(ctx context.Context, id finance.ProjectID) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, string(id))
}

func (s *Store) CodeExists(ctx context.Context, projectID finance.ProjectID, codeID finance.CodeID) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM cost_codes WHERE project_id = ? AND code_id = ?`,
		string(projectID), string(codeID))
}

func (s *Store) VendorExists(ctx context.Context, id finance.VendorID) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM vendors WHERE id = ?`, string(id))
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), args...); err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveProject upserts a project and its cost codes.
func (s *Store) SaveProject(ctx context.Context, p ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO projects (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`), p.ID, p.Name); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	for _, c := range p.Codes {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO cost_codes (project_id, code_id, name) VALUES (?, ?, ?)
			ON CONFLICT (project_id, code_id) DO UPDATE SET name = excluded.name`), p.ID, c.ID, c.Name); err != nil {
			return fmt.Errorf("failed to save cost code: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveVendor(ctx context.Context, v VendorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO vendors (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`), v.ID, v.Name)
	if err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}
	return nil
}

// RemoveVendor deletes a vendor from master data. Financial documents that
// name it stay; their next recalculation fails with a dangling reference.
func (s *Store) RemoveVendor(ctx context.Context, id finance.VendorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM vendors WHERE id = ?`), string(id))
	return err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestamp is a TEXT column holding an RFC3339 time. Scanning a malformed
// value fails the query instead of yielding the zero time.
type timestamp struct{ time.Time }

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("timestamp: cannot scan %T", src)
}

func (t *timestamp) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}

func (t timestamp) Value() (driver.Value, error) {
	return formatTime(t.Time), nil
}

type nullTimestamp struct {
	timestamp
	Valid bool
}

func newNullTimestamp(t *time.Time) nullTimestamp {
	if t == nil {
		return nullTimestamp{}
	}
	return nullTimestamp{timestamp: timestamp{*t}, Valid: true}
}

func (n *nullTimestamp) Scan(src any) error {
	if src == nil {
		*n = nullTimestamp{}
		return nil
	}
	n.Valid = true
	return n.timestamp.Scan(src)
}

func (n nullTimestamp) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.timestamp.Value()
}

func (n nullTimestamp) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var (
	_ finance.Store          = (*Store)(nil)
	_ finance.StateStore     = (*Store)(nil)
	_ finance.MasterData     = (*Store)(nil)
	_ finance.SnapshotReader = (*Store)(nil)
	_ finance.Tx             = (*txStore)(nil)
)
