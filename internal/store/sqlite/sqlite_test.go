package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/lifecycle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "fintrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProduct(t *testing.T, s *Store, owner string) *domain.Product {
	t.Helper()
	product, err := s.CreateProduct(context.Background(), domain.Product{
		OwnerID:       owner,
		Name:          "Basmati Rice",
		Category:      "grain",
		MinStockLevel: decimal.NewFromInt(50),
		Unit:          "kg",
	})
	require.NoError(t, err)
	return product
}

func TestSQLiteTransactionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "alice")

	days := 30
	date := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	due := date.AddDate(0, 0, days)
	created, err := s.CreateTransaction(ctx, domain.Transaction{
		OwnerID:          "alice",
		ProductID:        product.ID,
		ProductName:      product.Name,
		Type:             domain.TransactionPurchase,
		CounterpartyName: "Mill Co",
		GrossQuantity:    decimal.RequireFromString("500"),
		Deduction:        decimal.RequireFromString("10"),
		DeductionReason:  "moisture",
		ExtraCharge:      decimal.RequireFromString("0"),
		Unit:             "kg",
		UnitPrice:        decimal.RequireFromString("12.50"),
		TotalValue:       decimal.RequireFromString("6125"),
		Date:             date,
		PaymentType:      domain.PaymentCredit,
		CreditPeriodDays: &days,
		DueDate:          &due,
		PaymentStatus:    domain.PaymentPending,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := s.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.TotalValue.Equal(decimal.NewFromInt(6125)))
	assert.True(t, got.NetQuantity().Equal(decimal.NewFromInt(490)))
	assert.Equal(t, "moisture", got.DeductionReason)
	assert.Equal(t, "", got.ExtraChargeReason)
	assert.True(t, got.Date.Equal(date))
	require.NotNil(t, got.DueDate)
	assert.Equal(t, "2024-03-01", got.DueDate.Format(domain.DateLayout))
	require.NotNil(t, got.CreditPeriodDays)
	assert.Equal(t, 30, *got.CreditPeriodDays)
	assert.Nil(t, got.PaidAt)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteStoredTotalMatchesStoredInputs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "alice")

	tx, err := lifecycle.Prepare(domain.TransactionCreateRequest{
		ProductID:     product.ID,
		Type:          domain.TransactionPurchase,
		GrossQuantity: decimal.RequireFromString("0.5"),
		UnitPrice:     decimal.RequireFromString("0.1235"),
		ExtraCharge:   decimal.RequireFromString("0.0001"),
		Date:          "2024-02-01",
		PaymentType:   domain.PaymentCash,
	}, *product, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	tx.OwnerID = "alice"

	created, err := s.CreateTransaction(ctx, tx)
	require.NoError(t, err)
	got, err := s.GetTransaction(ctx, created.ID)
	require.NoError(t, err)

	want := lifecycle.TotalValue(got.GrossQuantity, got.Deduction, got.UnitPrice, got.ExtraCharge)
	assert.True(t, got.TotalValue.Equal(want), "total %s, inputs give %s", got.TotalValue, want)
	assert.True(t, got.TotalValue.Equal(decimal.RequireFromString("0.06185")))
}

func TestSQLiteListTransactionsKeepsInsertionOrderPerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "alice")
	other := seedProduct(t, s, "bob")

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		tx, err := s.CreateTransaction(ctx, domain.Transaction{
			OwnerID:       "alice",
			ProductID:     product.ID,
			ProductName:   product.Name,
			Type:          domain.TransactionPurchase,
			GrossQuantity: decimal.NewFromInt(int64(i + 1)),
			UnitPrice:     decimal.NewFromInt(1),
			TotalValue:    decimal.NewFromInt(int64(i + 1)),
			Date:          time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			PaymentType:   domain.PaymentCash,
			PaymentStatus: domain.PaymentPaid,
		})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	_, err := s.CreateTransaction(ctx, domain.Transaction{
		OwnerID:       "bob",
		ProductID:     other.ID,
		ProductName:   other.Name,
		Type:          domain.TransactionPurchase,
		GrossQuantity: decimal.NewFromInt(9),
		UnitPrice:     decimal.NewFromInt(1),
		TotalValue:    decimal.NewFromInt(9),
		Date:          time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		PaymentType:   domain.PaymentCash,
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)

	txs, err := s.ListTransactions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		assert.Equal(t, ids[i], tx.ID)
	}
}

func TestSQLiteUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product := seedProduct(t, s, "alice")

	created, err := s.CreateTransaction(ctx, domain.Transaction{
		OwnerID:       "alice",
		ProductID:     product.ID,
		ProductName:   product.Name,
		Type:          domain.TransactionSale,
		GrossQuantity: decimal.NewFromInt(5),
		UnitPrice:     decimal.NewFromInt(2),
		TotalValue:    decimal.NewFromInt(10),
		Date:          time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		PaymentType:   domain.PaymentCredit,
		PaymentStatus: domain.PaymentPending,
	})
	require.NoError(t, err)

	paidAt := time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
	created.PaymentStatus = domain.PaymentPaid
	created.PaidAt = &paidAt
	require.NoError(t, s.UpdatePaymentStatus(ctx, *created))

	got, err := s.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(paidAt))

	require.NoError(t, s.DeleteTransaction(ctx, created.ID))
	assert.True(t, errors.Is(s.DeleteTransaction(ctx, created.ID), domain.ErrNotFound))

	_, err = s.GetTransaction(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteConstraintErrorsMapToDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTransaction(ctx, domain.Transaction{
		OwnerID:       "alice",
		ProductID:     "prd-missing",
		Type:          domain.TransactionPurchase,
		GrossQuantity: decimal.NewFromInt(1),
		UnitPrice:     decimal.NewFromInt(1),
		TotalValue:    decimal.NewFromInt(1),
		Date:          time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		PaymentType:   domain.PaymentCash,
		PaymentStatus: domain.PaymentPaid,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{Username: "alice", Password: "hash", Active: true}))
	err = s.CreateUser(ctx, domain.UserAccount{Username: "alice", Password: "hash", Active: true})
	assert.ErrorIs(t, err, domain.ErrConflict)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].Active)
}

func TestSQLiteAuditLogsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	for i, action := range []string{"created", "paid", "deleted"} {
		require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{
			OwnerID:    "alice",
			Action:     action,
			EntityType: domain.EntityTransaction,
			EntityID:   "txn-1",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{OwnerID: "bob", Action: "created", EntityType: "product", EntityID: "p"}))

	logs, err := s.ListAuditLogs(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "deleted", logs[0].Action)
	assert.Equal(t, "paid", logs[1].Action)
}
