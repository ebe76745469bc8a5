/*
Package sqlite provides the embedded, file-backed ledger store.

It implements store.Repository on a single SQLite file so the backend can run
offline without a database server. Quantities and money are stored as TEXT so
decimals round-trip exactly; civil dates are stored as YYYY-MM-DD text.

The schema is created on New(). The database is opened in WAL mode with one
writer connection; a RWMutex serializes writes inside the process.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/store"
	"fintrack/backend/internal/xid"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type Store struct {
	db            *sql.DB
	mu            sync.RWMutex
	lastCreatedAt time.Time
}

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		min_stock_level TEXT NOT NULL DEFAULT '0',
		unit TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_owner ON products(owner_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		product_name TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('purchase', 'sale')),
		counterparty_name TEXT NOT NULL DEFAULT '',
		gross_quantity TEXT NOT NULL,
		deduction TEXT NOT NULL DEFAULT '0',
		deduction_reason TEXT,
		extra_charge TEXT NOT NULL DEFAULT '0',
		extra_charge_reason TEXT,
		unit TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL,
		total_value TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		payment_type TEXT NOT NULL CHECK (payment_type IN ('cash', 'credit')),
		credit_period_days INTEGER,
		due_date TEXT,
		payment_status TEXT NOT NULL CHECK (payment_status IN ('paid', 'pending', 'overdue')),
		paid_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_owner ON transactions(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_product ON transactions(product_id);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_owner ON audit_logs(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, domain.Invalid("product", "owner and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.nextCreatedAtLocked()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, owner_id, name, category, min_stock_level, unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, product.ID, product.OwnerID, product.Name, product.Category,
		product.MinStockLevel.String(), product.Unit, formatTime(product.CreatedAt))
	if err != nil {
		return nil, store.Normalize("create product", translate(err))
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, category, min_stock_level, unit, created_at
		FROM products
		WHERE id = ?
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, store.Normalize("get product", err)
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, category, min_stock_level, unit, created_at
		FROM products
		WHERE owner_id = ?
		ORDER BY name, id
	`, ownerID)
	if err != nil {
		return nil, store.Normalize("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, store.Normalize("list products", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Normalize("list products", err)
	}
	return products, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `
	id, owner_id, product_id, product_name, tx_type, counterparty_name,
	gross_quantity, deduction, deduction_reason, extra_charge, extra_charge_reason,
	unit, unit_price, total_value, tx_date, payment_type, credit_period_days,
	due_date, payment_status, paid_at, created_at`

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.OwnerID == "" || tx.ProductID == "" {
		return nil, domain.Invalid("transaction", "owner and product are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	tx.CreatedAt = s.nextCreatedAtLocked()
	tx.DaysLate = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.OwnerID, tx.ProductID, tx.ProductName, string(tx.Type), tx.CounterpartyName,
		tx.GrossQuantity.String(), tx.Deduction.String(), nullString(tx.DeductionReason),
		tx.ExtraCharge.String(), nullString(tx.ExtraChargeReason),
		tx.Unit, tx.UnitPrice.String(), tx.TotalValue.String(),
		tx.Date.Format(domain.DateLayout), string(tx.PaymentType), nullInt(tx.CreditPeriodDays),
		nullDate(tx.DueDate), string(tx.PaymentStatus), nullTime(tx.PaidAt), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return nil, store.Normalize("create transaction", translate(err))
	}

	created := tx
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, store.Normalize("get transaction", err)
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = ?
		ORDER BY created_at, rowid
	`, ownerID)
	if err != nil {
		return nil, store.Normalize("list transactions", err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 128)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, store.Normalize("list transactions", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Normalize("list transactions", err)
	}
	return txs, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET payment_status = ?, paid_at = ? WHERE id = ?
	`, string(tx.PaymentStatus), nullTime(tx.PaidAt), tx.ID)
	if err != nil {
		return store.Normalize("update payment status", err)
	}
	return requireAffected(res, "update payment status")
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return store.Normalize("delete transaction", err)
	}
	return requireAffected(res, "delete transaction")
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, action, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.OwnerID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, formatTime(entry.CreatedAt))
	return store.Normalize("create audit log", err)
}

func (s *Store) ListAuditLogs(ctx context.Context, ownerID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, store.Normalize("list audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &createdAt); err != nil {
			return nil, store.Normalize("list audit logs", err)
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, store.Normalize("list audit logs", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Normalize("list audit logs", err)
	}
	return logs, nil
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return domain.Invalid("user", "username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, active, created_at) VALUES (?, ?, ?, ?)
	`, user.Username, user.Password, user.Active, formatTime(user.CreatedAt))
	return store.Normalize("create user", translate(err))
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT username, password, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, store.Normalize("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		var createdAt string
		if err := rows.Scan(&user.Username, &user.Password, &user.Active, &createdAt); err != nil {
			return nil, store.Normalize("list users", err)
		}
		if user.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, store.Normalize("list users", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Normalize("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return store.Normalize("update user password", err)
	}
	return requireAffected(res, "update user password")
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	var createdAt string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.MinStockLevel, &p.Unit, &createdAt); err != nil {
		return domain.Product{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func scanTransaction(row scanner) (domain.Transaction, error) {
	var (
		tx                domain.Transaction
		txType            string
		paymentType       string
		paymentStatus     string
		deductionReason   sql.NullString
		extraChargeReason sql.NullString
		creditPeriodDays  sql.NullInt64
		txDate            string
		dueDate           sql.NullString
		paidAt            sql.NullString
		createdAt         string
	)
	err := row.Scan(
		&tx.ID, &tx.OwnerID, &tx.ProductID, &tx.ProductName, &txType, &tx.CounterpartyName,
		&tx.GrossQuantity, &tx.Deduction, &deductionReason, &tx.ExtraCharge, &extraChargeReason,
		&tx.Unit, &tx.UnitPrice, &tx.TotalValue, &txDate, &paymentType, &creditPeriodDays,
		&dueDate, &paymentStatus, &paidAt, &createdAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx.Type = domain.TransactionType(txType)
	tx.PaymentType = domain.PaymentType(paymentType)
	tx.PaymentStatus = domain.PaymentStatus(paymentStatus)
	tx.DeductionReason = deductionReason.String
	tx.ExtraChargeReason = extraChargeReason.String
	if creditPeriodDays.Valid {
		days := int(creditPeriodDays.Int64)
		tx.CreditPeriodDays = &days
	}
	if tx.Date, err = domain.ParseDate(txDate); err != nil {
		return domain.Transaction{}, err
	}
	if dueDate.Valid {
		due, err := domain.ParseDate(dueDate.String)
		if err != nil {
			return domain.Transaction{}, err
		}
		tx.DueDate = &due
	}
	if paidAt.Valid {
		at, err := parseTime(paidAt.String)
		if err != nil {
			return domain.Transaction{}, err
		}
		tx.PaidAt = &at
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) nextCreatedAtLocked() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastCreatedAt) {
		now = s.lastCreatedAt.Add(time.Microsecond)
	}
	s.lastCreatedAt = now
	return now
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Normalize(op, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// translate maps constraint failures to domain errors before normalization.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return domain.ErrConflict
		case sqlite3.ErrConstraintForeignKey:
			return domain.ErrNotFound
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Parse(time.RFC3339Nano, raw)
	}
	return t.UTC(), nil
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.Format(domain.DateLayout)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return formatTime(*val)
}
