/*
Package sqlite provides a SQLite-backed implementation of the billing ports.

PURPOSE:
  Implements billing.Store (fee events, invoices, commissions) plus fee plan
  and reconciliation run records using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.FeeEventStore:   Fee event persistence and invoice claims
  billing.InvoiceStore:    Invoices and invoice lines
  billing.CommissionStore: Partner commissions

GUARDED UPDATES:
  Every status write carries the status the caller observed:

    UPDATE fee_events SET status = 'invoiced', invoice_id = ?
    WHERE id = ? AND status = 'accrued'

  A write that affects zero rows lost a race (or the record is gone). Claims
  of several fee events run in one SQL transaction and roll back together.

KEY TABLES:
  fee_events:          One computed fee occurrence each
  invoices:            Invoice headers
  invoice_lines:       Itemised amounts (FK to invoices, cascade delete)
  commissions:         Partner commissions
  fee_plans:           Fee plan definitions (JSON, versioned)
  reconciliation_runs: Scheduled invoice reconciliation results

MONEY:
  Amounts are stored as TEXT decimal strings and parsed back with
  shopspring/decimal. Never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  assembler := billing.NewAssembler(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
  - plans.go: Fee plan and reconciliation run records
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/fees"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Fee events (one computed fee occurrence each)
	CREATE TABLE IF NOT EXISTS fee_events (
		id TEXT PRIMARY KEY,
		fee_type TEXT NOT NULL,
		component_id TEXT,
		allocation_id TEXT,
		computed_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'accrued',
		event_date TEXT NOT NULL,
		invoice_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fee_events_status
		ON fee_events(status);
	CREATE INDEX IF NOT EXISTS idx_fee_events_invoice
		ON fee_events(invoice_id) WHERE invoice_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_fee_events_allocation
		ON fee_events(allocation_id);

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		total TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		notes TEXT,
		created_at TEXT NOT NULL
	);

	-- Invoice lines (deleted with their invoice)
	CREATE TABLE IF NOT EXISTS invoice_lines (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		fee_event_id TEXT,
		kind TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice
		ON invoice_lines(invoice_id, position);

	-- Commissions
	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		fee_event_ids_json TEXT NOT NULL,
		rate_bps INTEGER NOT NULL,
		gross_fee_amount TEXT NOT NULL,
		accrual_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'accrued',
		invoice_id TEXT,
		payment_reference TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_status
		ON commissions(status);
	CREATE INDEX IF NOT EXISTS idx_commissions_partner
		ON commissions(partner_id);

	-- Fee plans
	CREATE TABLE IF NOT EXISTS fee_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Reconciliation runs (for scheduled reconciliation)
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		checked INTEGER NOT NULL,
		discrepancies_json TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// FEE EVENTS
// =============================================================================

const feeEventColumns = `id, fee_type, component_id, allocation_id, computed_amount, currency,
	status, event_date, invoice_id, created_at`

// SaveFeeEvent inserts a new fee event. An existing id is rejected with
// billing.ErrAlreadyExists; status changes go through the guarded updates.
func (s *Store) SaveFeeEvent(ctx context.Context, ev billing.FeeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO fee_events (` + feeEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(ev.ID), string(ev.FeeType), nullString(ev.ComponentID), nullString(ev.AllocationID),
		ev.ComputedAmount.String(), ev.Currency, string(ev.Status),
		formatTime(ev.EventDate), nullString(string(ev.InvoiceID)), formatTime(ev.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("fee event %s: %w", ev.ID, billing.ErrAlreadyExists)
	}
	return err
}

func (s *Store) GetFeeEvent(ctx context.Context, id billing.FeeEventID) (*billing.FeeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+feeEventColumns+" FROM fee_events WHERE id = ?", string(id))
	ev, err := scanFeeEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) GetFeeEvents(ctx context.Context, ids []billing.FeeEventID) ([]billing.FeeEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	query := "SELECT " + feeEventColumns + " FROM fee_events WHERE id IN (" + placeholders(len(ids)) + ")"
	return s.queryFeeEvents(ctx, query, args...)
}

func (s *Store) ListFeeEvents(ctx context.Context, status billing.FeeEventStatus) ([]billing.FeeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status == "" {
		return s.queryFeeEvents(ctx, "SELECT "+feeEventColumns+" FROM fee_events ORDER BY created_at, id")
	}
	return s.queryFeeEvents(ctx,
		"SELECT "+feeEventColumns+" FROM fee_events WHERE status = ? ORDER BY created_at, id", string(status))
}

// ClaimFeeEvents marks every id invoiced inside one transaction. The first
// event that is no longer accrued aborts the whole claim.
func (s *Store) ClaimFeeEvents(ctx context.Context, ids []billing.FeeEventID, invoiceID billing.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, id := range ids {
		res, err := sqlTx.ExecContext(ctx,
			"UPDATE fee_events SET status = ?, invoice_id = ? WHERE id = ? AND status = ?",
			string(billing.FeeEventInvoiced), string(invoiceID), string(id), string(billing.FeeEventAccrued),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 1 {
			continue
		}

		var status string
		var current sql.NullString
		err = sqlTx.QueryRowContext(ctx, "SELECT status, invoice_id FROM fee_events WHERE id = ?", string(id)).
			Scan(&status, &current)
		if err == sql.ErrNoRows {
			return &billing.UnresolvedReferenceError{Entity: "fee event", IDs: []string{string(id)}}
		}
		if err != nil {
			return err
		}
		return &billing.AlreadyClaimedError{
			FeeEventID: id,
			Status:     billing.FeeEventStatus(status),
			InvoiceID:  billing.InvoiceID(current.String),
		}
	}

	return sqlTx.Commit()
}

func (s *Store) UpdateFeeEventStatus(ctx context.Context, id billing.FeeEventID, from, to billing.FeeEventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE fee_events SET status = ? WHERE id = ? AND status = ?",
		string(to), string(id), string(from),
	)
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, "fee_events", string(id))
}

func (s *Store) queryFeeEvents(ctx context.Context, query string, args ...any) ([]billing.FeeEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []billing.FeeEvent
	for rows.Next() {
		ev, err := scanFeeEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanFeeEvent(row scanner) (billing.FeeEvent, error) {
	var (
		ev                                 billing.FeeEvent
		id, feeType, amount, status        string
		componentID, allocationID, invoice sql.NullString
		eventDate, createdAt               string
	)
	err := row.Scan(&id, &feeType, &componentID, &allocationID, &amount, &ev.Currency,
		&status, &eventDate, &invoice, &createdAt)
	if err != nil {
		return billing.FeeEvent{}, err
	}
	ev.ID = billing.FeeEventID(id)
	ev.FeeType = billing.FeeType(feeType)
	ev.ComponentID = componentID.String
	ev.AllocationID = allocationID.String
	ev.Status = billing.FeeEventStatus(status)
	ev.InvoiceID = billing.InvoiceID(invoice.String)
	if ev.ComputedAmount, err = parseDecimal(amount); err != nil {
		return billing.FeeEvent{}, fmt.Errorf("fee event %s: %w", id, err)
	}
	if ev.EventDate, err = parseTime(eventDate); err != nil {
		return billing.FeeEvent{}, fmt.Errorf("fee event %s event date: %w", id, err)
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.FeeEvent{}, fmt.Errorf("fee event %s created at: %w", id, err)
	}
	return ev, nil
}

// =============================================================================
// INVOICES
// =============================================================================

// CreateInvoice inserts an invoice header. Lines are written separately.
func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, currency, subtotal, total, paid_amount, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), inv.Currency, inv.Subtotal.String(), inv.Total.String(),
		inv.PaidAmount.String(), nullString(inv.Notes), formatTime(inv.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	return err
}

// CreateInvoiceLines inserts lines in one transaction, keeping their order.
func (s *Store) CreateInvoiceLines(ctx context.Context, lines []billing.InvoiceLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	positions := make(map[billing.InvoiceID]int)
	for _, l := range lines {
		if _, ok := positions[l.InvoiceID]; !ok {
			var next int
			err := sqlTx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(position) + 1, 0) FROM invoice_lines WHERE invoice_id = ?", string(l.InvoiceID),
			).Scan(&next)
			if err != nil {
				return err
			}
			positions[l.InvoiceID] = next
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, position, fee_event_id, kind, description, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(l.ID), string(l.InvoiceID), positions[l.InvoiceID], nullString(string(l.FeeEventID)),
			string(l.Kind), l.Description, l.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("insert invoice line %s: %w", l.ID, err)
		}
		positions[l.InvoiceID]++
	}

	return sqlTx.Commit()
}

// DeleteInvoice removes the invoice; its lines go with it.
func (s *Store) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM invoices WHERE id = ?", string(id))
	return err
}

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", string(id))
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines, err := s.queryLines(ctx, "WHERE invoice_id = ?", string(id))
	if err != nil {
		return nil, err
	}
	inv.Lines = lines[inv.ID]
	return &inv, nil
}

func (s *Store) ListInvoices(ctx context.Context) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+invoiceColumns+" FROM invoices ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.queryLines(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Lines = lines[invoices[i].ID]
	}
	return invoices, nil
}

// RecordInvoicePayment is a compare-and-set on paid_amount.
func (s *Store) RecordInvoicePayment(ctx context.Context, id billing.InvoiceID, expectedPaid, newPaid decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var paid string
	err = sqlTx.QueryRowContext(ctx, "SELECT paid_amount FROM invoices WHERE id = ?", string(id)).Scan(&paid)
	if err == sql.ErrNoRows {
		return billing.ErrNotFound
	}
	if err != nil {
		return err
	}
	current, err := parseDecimal(paid)
	if err != nil {
		return err
	}
	// Compared as decimals: "100" and "100.00" are the same amount.
	if !current.Equal(expectedPaid) {
		return billing.ErrStatusChanged
	}
	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE invoices SET paid_amount = ? WHERE id = ?", newPaid.String(), string(id)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const invoiceColumns = "id, currency, subtotal, total, paid_amount, notes, created_at"

func scanInvoice(row scanner) (billing.Invoice, error) {
	var (
		inv                                billing.Invoice
		id, subtotal, total, paid, created string
		notes                              sql.NullString
	)
	if err := row.Scan(&id, &inv.Currency, &subtotal, &total, &paid, &notes, &created); err != nil {
		return billing.Invoice{}, err
	}
	inv.ID = billing.InvoiceID(id)
	inv.Notes = notes.String

	var err error
	if inv.CreatedAt, err = parseTime(created); err != nil {
		return billing.Invoice{}, fmt.Errorf("invoice %s created at: %w", id, err)
	}
	if inv.Subtotal, err = parseDecimal(subtotal); err != nil {
		return billing.Invoice{}, fmt.Errorf("invoice %s subtotal: %w", id, err)
	}
	if inv.Total, err = parseDecimal(total); err != nil {
		return billing.Invoice{}, fmt.Errorf("invoice %s total: %w", id, err)
	}
	if inv.PaidAmount, err = parseDecimal(paid); err != nil {
		return billing.Invoice{}, fmt.Errorf("invoice %s paid amount: %w", id, err)
	}
	return inv, nil
}

// queryLines loads lines matching where, grouped by invoice and ordered by
// position.
func (s *Store) queryLines(ctx context.Context, where string, args ...any) (map[billing.InvoiceID][]billing.InvoiceLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, invoice_id, fee_event_id, kind, description, amount FROM invoice_lines "+where+
			" ORDER BY invoice_id, position", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[billing.InvoiceID][]billing.InvoiceLine)
	for rows.Next() {
		var (
			l                           billing.InvoiceLine
			id, invoiceID, kind, amount string
			feeEventID                  sql.NullString
		)
		if err := rows.Scan(&id, &invoiceID, &feeEventID, &kind, &l.Description, &amount); err != nil {
			return nil, err
		}
		l.ID = billing.LineID(id)
		l.InvoiceID = billing.InvoiceID(invoiceID)
		l.FeeEventID = billing.FeeEventID(feeEventID.String)
		l.Kind = billing.LineKind(kind)
		if l.Amount, err = parseDecimal(amount); err != nil {
			return nil, fmt.Errorf("invoice line %s: %w", id, err)
		}
		result[l.InvoiceID] = append(result[l.InvoiceID], l)
	}
	return result, rows.Err()
}

// =============================================================================
// COMMISSIONS
// =============================================================================

const commissionColumns = `id, partner_id, fee_event_ids_json, rate_bps, gross_fee_amount, accrual_amount,
	currency, status, invoice_id, payment_reference, created_at, updated_at`

// SaveCommission inserts or replaces a commission.
func (s *Store) SaveCommission(ctx context.Context, c billing.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := json.Marshal(c.FeeEventIDs)
	if err != nil {
		return fmt.Errorf("encode fee event ids: %w", err)
	}
	query := `
		INSERT INTO commissions (` + commissionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			invoice_id = excluded.invoice_id,
			payment_reference = excluded.payment_reference,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		string(c.ID), c.PartnerID, string(ids), int(c.Rate),
		c.GrossFeeAmount.String(), c.AccrualAmount.String(), c.Currency, string(c.Status),
		nullString(c.InvoiceID), nullString(c.PaymentReference),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

func (s *Store) GetCommission(ctx context.Context, id billing.CommissionID) (*billing.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+commissionColumns+" FROM commissions WHERE id = ?", string(id))
	c, err := scanCommission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCommissions(ctx context.Context, status billing.CommissionStatus) ([]billing.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + commissionColumns + " FROM commissions"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// UpdateCommissionStatus applies u only while the row is still at u.From.
func (s *Store) UpdateCommissionStatus(ctx context.Context, u billing.CommissionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE commissions SET
			status = ?,
			invoice_id = COALESCE(?, invoice_id),
			payment_reference = COALESCE(?, payment_reference),
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(u.To), nullString(u.InvoiceID), nullString(u.PaymentReference), formatTime(u.At),
		string(u.ID), string(u.From),
	)
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, "commissions", string(u.ID))
}

func scanCommission(row scanner) (billing.Commission, error) {
	var (
		c                                   billing.Commission
		id, idsJSON, gross, accrual, status string
		rate                                int
		invoiceID, paymentRef               sql.NullString
		createdAt, updatedAt                string
	)
	err := row.Scan(&id, &c.PartnerID, &idsJSON, &rate, &gross, &accrual, &c.Currency, &status,
		&invoiceID, &paymentRef, &createdAt, &updatedAt)
	if err != nil {
		return billing.Commission{}, err
	}
	c.ID = billing.CommissionID(id)
	c.Rate = fees.Bps(rate)
	c.Status = billing.CommissionStatus(status)
	c.InvoiceID = invoiceID.String
	c.PaymentReference = paymentRef.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Commission{}, fmt.Errorf("commission %s created at: %w", id, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return billing.Commission{}, fmt.Errorf("commission %s updated at: %w", id, err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &c.FeeEventIDs); err != nil {
		return billing.Commission{}, fmt.Errorf("commission %s fee event ids: %w", id, err)
	}
	if c.GrossFeeAmount, err = parseDecimal(gross); err != nil {
		return billing.Commission{}, fmt.Errorf("commission %s gross: %w", id, err)
	}
	if c.AccrualAmount, err = parseDecimal(accrual); err != nil {
		return billing.Commission{}, fmt.Errorf("commission %s accrual: %w", id, err)
	}
	return c, nil
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// Reset clears all data (for testing/demo purposes).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"invoice_lines", "invoices", "fee_events", "commissions", "fee_plans", "reconciliation_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// guardResult turns a zero-row guarded update into ErrStatusChanged, or
// ErrNotFound when the row does not exist at all. Caller holds s.mu.
func (s *Store) guardResult(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.ErrNotFound
	}
	if err != nil {
		return err
	}
	return billing.ErrStatusChanged
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
