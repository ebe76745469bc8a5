package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/store"
	"fintrack/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB

	mu            sync.Mutex
	lastCreatedAt time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, domain.Invalid("product", "owner and name are required")
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.nextCreatedAt()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, owner_id, name, category, min_stock_level, unit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.OwnerID, product.Name, product.Category, product.MinStockLevel, product.Unit, product.CreatedAt)
	if err != nil {
		return nil, store.Normalize("create product", translate(err))
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, category, min_stock_level, unit, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.OwnerID, &product.Name, &product.Category, &product.MinStockLevel, &product.Unit, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, store.Normalize("get product", err)
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, category, min_stock_level, unit, created_at
		FROM products
		WHERE owner_id = $1
		ORDER BY name, id
	`, ownerID)
	if err != nil {
		return nil, store.Normalize("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.MinStockLevel, &p.Unit, &p.CreatedAt); err != nil {
			return nil, store.Normalize("list products", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Normalize("list products", err)
	}

	return products, nil
}

const transactionColumns = `
	id, owner_id, product_id, product_name, tx_type, counterparty_name,
	gross_quantity, deduction, deduction_reason, extra_charge, extra_charge_reason,
	unit, unit_price, total_value, tx_date, payment_type, credit_period_days,
	due_date, payment_status, paid_at, created_at`

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.OwnerID == "" || tx.ProductID == "" {
		return nil, domain.Invalid("transaction", "owner and product are required")
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	tx.CreatedAt = s.nextCreatedAt()
	tx.DaysLate = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		tx.ID, tx.OwnerID, tx.ProductID, tx.ProductName, string(tx.Type), tx.CounterpartyName,
		tx.GrossQuantity, tx.Deduction, nullString(tx.DeductionReason), tx.ExtraCharge, nullString(tx.ExtraChargeReason),
		tx.Unit, tx.UnitPrice, tx.TotalValue, tx.Date.Format(domain.DateLayout), string(tx.PaymentType), nullInt(tx.CreditPeriodDays),
		nullDate(tx.DueDate), string(tx.PaymentStatus), nullTime(tx.PaidAt), tx.CreatedAt,
	)
	if err != nil {
		return nil, store.Normalize("create transaction", translate(err))
	}

	created := tx
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at, id
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $2, paid_at = $3
		WHERE id = $1
	`, tx.ID, string(tx.PaymentStatus), nullTime(tx.PaidAt))
	if err != nil {
		return store.Normalize("update payment status", err)
	}
	return requireAffected(res, "update payment status")
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return store.Normalize("delete transaction", err)
	}
	return requireAffected(res, "delete transaction")
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.OwnerID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return store.Normalize("create audit log", err)
}

func (s *Store) ListAuditLogs(ctx context.Context, ownerID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, store.Normalize("list audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, store.Normalize("list audit logs", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Normalize("list audit logs", err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return domain.Invalid("user", "username and password are required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, active, created_at)
		VALUES ($1,$2,$3,$4)
	`, user.Username, user.Password, user.Active, user.CreatedAt)
	return store.Normalize("create user", translate(err))
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, store.Normalize("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Active, &user.CreatedAt); err != nil {
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
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return store.Normalize("update user password", err)
	}
	return requireAffected(res, "update user password")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		tx                domain.Transaction
		txType            string
		paymentType       string
		paymentStatus     string
		deductionReason   sql.NullString
		extraChargeReason sql.NullString
		creditPeriodDays  sql.NullInt64
		dueDate           sql.NullTime
		paidAt            sql.NullTime
	)
	err := row.Scan(
		&tx.ID, &tx.OwnerID, &tx.ProductID, &tx.ProductName, &txType, &tx.CounterpartyName,
		&tx.GrossQuantity, &tx.Deduction, &deductionReason, &tx.ExtraCharge, &extraChargeReason,
		&tx.Unit, &tx.UnitPrice, &tx.TotalValue, &tx.Date, &paymentType, &creditPeriodDays,
		&dueDate, &paymentStatus, &paidAt, &tx.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx.Type = domain.TransactionType(txType)
	tx.PaymentType = domain.PaymentType(paymentType)
	tx.PaymentStatus = domain.PaymentStatus(paymentStatus)
	tx.DeductionReason = deductionReason.String
	tx.ExtraChargeReason = extraChargeReason.String
	tx.Date = domain.DateOf(tx.Date, time.UTC)
	tx.CreatedAt = tx.CreatedAt.UTC()
	if creditPeriodDays.Valid {
		days := int(creditPeriodDays.Int64)
		tx.CreditPeriodDays = &days
	}
	if dueDate.Valid {
		due := domain.DateOf(dueDate.Time, time.UTC)
		tx.DueDate = &due
	}
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		tx.PaidAt = &at
	}
	return tx, nil
}

// nextCreatedAt keeps creation timestamps strictly increasing within this process.
func (s *Store) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

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

func translate(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if isForeignKeyViolation(err) {
		return domain.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
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
	return *val
}
