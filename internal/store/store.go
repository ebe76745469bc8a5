package store

import (
	"context"

	"fintrack/backend/internal/domain"
)

// Repository is the ledger store. Every list is scoped to one owner; single-row
// lookups return the row regardless of owner and the caller checks ownership.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error)
	// UpdatePaymentStatus writes the payment status (and paid_at) of one row.
	UpdatePaymentStatus(ctx context.Context, tx domain.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, ownerID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// ChangeFeed fans out change notifications per owner. Subscribers re-fetch on
// every change; no deltas are carried.
type ChangeFeed interface {
	Publish(ctx context.Context, change domain.Change) error
	Subscribe(ownerID string, onChange func(domain.Change)) (unsubscribe func())
}
