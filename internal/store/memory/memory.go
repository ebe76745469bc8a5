package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	transactions    map[string]domain.Transaction
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	lastCreatedAt   time.Time
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		transactions:    make(map[string]domain.Transaction),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded builds a store with a demo account and a few products for local runs.
// The demo password comes from SEED_DEMO_PASSWORD; a dev default is used otherwise.
func NewSeeded() *Store {
	s := New()

	password := envOr("SEED_DEMO_PASSWORD", "demo12345")
	if os.Getenv("SEED_DEMO_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default demo credentials. Set SEED_DEMO_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	now := time.Now().UTC()
	s.usersByUsername["demo"] = domain.UserAccount{
		Username:  "demo",
		Password:  string(hash),
		Active:    true,
		CreatedAt: now,
	}

	for _, p := range []domain.Product{
		{Name: "Basmati Rice", Category: "grain", MinStockLevel: decimal.NewFromInt(50), Unit: "kg"},
		{Name: "Red Lentils", Category: "pulses", MinStockLevel: decimal.NewFromInt(30), Unit: "kg"},
		{Name: "Sunflower Oil", Category: "oil", MinStockLevel: decimal.NewFromInt(20), Unit: "litre"},
	} {
		p.ID = xid.New("prd")
		p.OwnerID = "demo"
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
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
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID == ownerID {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.OwnerID == "" || tx.ProductID == "" {
		return nil, domain.Invalid("transaction", "owner and product are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[tx.ProductID]; !exists {
		return nil, domain.ErrNotFound
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	tx.CreatedAt = s.nextCreatedAtLocked()
	tx.DaysLate = 0
	s.transactions[tx.ID] = cloneTransaction(tx)
	created := cloneTransaction(tx)
	return &created, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	found := cloneTransaction(tx)
	return &found, nil
}

func (s *Store) ListTransactions(_ context.Context, ownerID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if tx.OwnerID == ownerID {
			result = append(result, cloneTransaction(tx))
		}
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.transactions[tx.ID]
	if !exists {
		return domain.ErrNotFound
	}
	existing.PaymentStatus = tx.PaymentStatus
	existing.PaidAt = cloneTime(tx.PaidAt)
	s.transactions[tx.ID] = existing
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, ownerID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		if s.auditLogs[i].OwnerID == ownerID {
			result = append(result, s.auditLogs[i])
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return domain.Invalid("user", "username and password are required")
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return domain.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return domain.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// nextCreatedAtLocked hands out strictly increasing timestamps so insertion order
// survives coarse clocks.
func (s *Store) nextCreatedAtLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastCreatedAt) {
		now = s.lastCreatedAt.Add(time.Microsecond)
	}
	s.lastCreatedAt = now
	return now
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	if tx.CreditPeriodDays != nil {
		days := *tx.CreditPeriodDays
		tx.CreditPeriodDays = &days
	}
	tx.DueDate = cloneTime(tx.DueDate)
	tx.PaidAt = cloneTime(tx.PaidAt)
	return tx
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
