package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/lifecycle"
	"fintrack/backend/internal/notify"
	"fintrack/backend/internal/store"
	"fintrack/backend/internal/valuation"
	"fintrack/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Location decides which civil date "today" is. Defaults to UTC.
	Location *time.Location
}

// Service is the ledger façade. It holds no ledger state of its own: every call
// reads what it needs from the repository.
//
// Sales are checked against stock with a read-validate-write sequence that is not
// atomic, so two concurrent sales of the same product can both pass the check.
type Service struct {
	repo store.Repository
	feed store.ChangeFeed
	now  func() time.Time
	loc  *time.Location
}

func New(repo store.Repository, feed store.ChangeFeed, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if feed == nil {
		feed = notify.Noop{}
	}
	return &Service{
		repo: repo,
		feed: feed,
		now:  opts.Now,
		loc:  opts.Location,
	}
}

func (s *Service) today() time.Time {
	return domain.DateOf(s.now(), s.loc)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Service) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, ownerID)
}

func (s *Service) AddProduct(ctx context.Context, ownerID string, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)

	if req.Name == "" {
		return domain.Product{}, domain.Invalid("name", "is required")
	}
	if req.MinStockLevel.IsNegative() {
		return domain.Product{}, domain.Invalid("min_stock_level", "must not be negative")
	}
	if err := domain.CheckAmount("min_stock_level", req.MinStockLevel); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:            xid.New("prd"),
		OwnerID:       ownerID,
		Name:          req.Name,
		Category:      req.Category,
		MinStockLevel: req.MinStockLevel,
		Unit:          req.Unit,
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("add product: %w", err)
	}

	s.logAudit(ctx, ownerID, domain.ChangeCreated, domain.EntityProduct, created.ID, fmt.Sprintf("name=%s,min=%s", created.Name, created.MinStockLevel))
	s.publish(ctx, ownerID, domain.ChangeCreated, domain.EntityProduct, created.ID)
	return *created, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Service) AddTransaction(ctx context.Context, ownerID string, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	product, err := s.ownedProduct(ctx, ownerID, req.ProductID)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := lifecycle.Prepare(req, *product, s.today())
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.ID = xid.New("txn")
	tx.OwnerID = ownerID

	if tx.Type == domain.TransactionSale {
		existing, err := s.repo.ListTransactions(ctx, ownerID)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("add transaction: %w", err)
		}
		available := valuation.StockOf(product.ID, existing)
		if tx.NetQuantity().GreaterThan(available) {
			return domain.Transaction{}, &domain.InsufficientStockError{
				ProductID: product.ID,
				Available: available,
				Requested: tx.NetQuantity(),
			}
		}
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("add transaction: %w", err)
	}

	s.logAudit(ctx, ownerID, domain.ChangeCreated, domain.EntityTransaction, created.ID, describeTransaction(*created))
	s.publish(ctx, ownerID, domain.ChangeCreated, domain.EntityTransaction, created.ID)
	return lifecycle.RefreshStatus(*created, s.now(), s.loc), nil
}

// AddInvoice records one transaction per line. Every line is validated (stock
// included) before the first row is written.
func (s *Service) AddInvoice(ctx context.Context, ownerID string, req domain.InvoiceCreateRequest) (domain.InvoiceCreateResponse, error) {
	if len(req.Lines) == 0 {
		return domain.InvoiceCreateResponse{}, domain.Invalid("lines", "at least one line is required")
	}

	today := s.today()
	products := make(map[string]*domain.Product, len(req.Lines))
	prepared := make([]domain.Transaction, 0, len(req.Lines))
	requested := make(map[string]decimal.Decimal)

	for i, line := range req.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			var err error
			product, err = s.ownedProduct(ctx, ownerID, line.ProductID)
			if err != nil {
				return domain.InvoiceCreateResponse{}, err
			}
			products[line.ProductID] = product
		}

		lineReq := domain.TransactionCreateRequest{
			ProductID:        line.ProductID,
			Type:             req.Type,
			CounterpartyName: req.CounterpartyName,
			GrossQuantity:    line.GrossQuantity,
			Deduction:        line.Deduction,
			DeductionReason:  req.DeductionReason,
			UnitPrice:        line.UnitPrice,
			Date:             req.Date,
			PaymentType:      req.PaymentType,
			CreditPeriodDays: req.CreditPeriodDays,
		}
		if i == 0 {
			lineReq.ExtraCharge = req.ExtraCharge
			lineReq.ExtraChargeReason = req.ExtraChargeReason
		}

		tx, err := lifecycle.Prepare(lineReq, *product, today)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				return domain.InvoiceCreateResponse{}, domain.Invalid(fmt.Sprintf("lines[%d].%s", i, verr.Field), "%s", verr.Message)
			}
			return domain.InvoiceCreateResponse{}, err
		}
		tx.ID = xid.New("txn")
		tx.OwnerID = ownerID
		prepared = append(prepared, tx)
		requested[product.ID] = requested[product.ID].Add(tx.NetQuantity())
	}

	if req.Type == domain.TransactionSale {
		existing, err := s.repo.ListTransactions(ctx, ownerID)
		if err != nil {
			return domain.InvoiceCreateResponse{}, fmt.Errorf("add invoice: %w", err)
		}
		for productID, qty := range requested {
			available := valuation.StockOf(productID, existing)
			if qty.GreaterThan(available) {
				return domain.InvoiceCreateResponse{}, &domain.InsufficientStockError{
					ProductID: productID,
					Available: available,
					Requested: qty,
				}
			}
		}
	}

	resp := domain.InvoiceCreateResponse{
		Transactions: make([]domain.Transaction, 0, len(prepared)),
		TotalValue:   decimal.Zero,
	}
	for _, tx := range prepared {
		created, err := s.repo.CreateTransaction(ctx, tx)
		if err != nil {
			return resp, fmt.Errorf("add invoice line %d of %d: %w", len(resp.Transactions)+1, len(prepared), err)
		}
		s.logAudit(ctx, ownerID, domain.ChangeCreated, domain.EntityTransaction, created.ID, describeTransaction(*created))
		s.publish(ctx, ownerID, domain.ChangeCreated, domain.EntityTransaction, created.ID)

		resp.Transactions = append(resp.Transactions, lifecycle.RefreshStatus(*created, s.now(), s.loc))
		resp.TotalValue = resp.TotalValue.Add(created.TotalValue)
	}
	return resp, nil
}

func (s *Service) GetTransaction(ctx context.Context, ownerID string, id string) (domain.Transaction, error) {
	tx, err := s.ownedTransaction(ctx, ownerID, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return lifecycle.RefreshStatus(*tx, s.now(), s.loc), nil
}

// GetTransactions returns the owner's ledger, newest date first. Rows sharing a
// date are ordered by creation, most recent first, then by id descending.
func (s *Service) GetTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}

	now := s.now()
	for i := range txs {
		txs[i] = lifecycle.RefreshStatus(txs[i], now, s.loc)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID > txs[j].ID
	})
	return txs, nil
}

// SelectTransactions loads the given ids in the order asked for. Any id that is
// missing or owned by someone else fails the whole selection.
func (s *Service) SelectTransactions(ctx context.Context, ownerID string, ids []string) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, domain.Invalid("transaction_ids", "at least one transaction is required")
	}

	now := s.now()
	seen := make(map[string]struct{}, len(ids))
	selected := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		tx, err := s.ownedTransaction(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		selected = append(selected, lifecycle.RefreshStatus(*tx, now, s.loc))
	}
	return selected, nil
}

func (s *Service) MarkTransactionAsPaid(ctx context.Context, ownerID string, id string) (domain.Transaction, error) {
	tx, err := s.ownedTransaction(ctx, ownerID, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.PaymentStatus == domain.PaymentPaid {
		return lifecycle.RefreshStatus(*tx, s.now(), s.loc), nil
	}

	paid := lifecycle.MarkPaid(*tx, s.now())
	if err := s.repo.UpdatePaymentStatus(ctx, paid); err != nil {
		return domain.Transaction{}, fmt.Errorf("mark transaction paid: %w", err)
	}

	s.logAudit(ctx, ownerID, domain.ChangePaid, domain.EntityTransaction, paid.ID, fmt.Sprintf("total=%s", paid.TotalValue))
	s.publish(ctx, ownerID, domain.ChangePaid, domain.EntityTransaction, paid.ID)
	return paid, nil
}

// DeleteTransaction removes a row. Deleting an id that no longer exists succeeds
// so clients can retry safely.
func (s *Service) DeleteTransaction(ctx context.Context, ownerID string, id string) error {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tx.OwnerID != ownerID {
		return domain.ErrNotFound
	}

	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.logAudit(ctx, ownerID, domain.ChangeDeleted, domain.EntityTransaction, id, describeTransaction(*tx))
	s.publish(ctx, ownerID, domain.ChangeDeleted, domain.EntityTransaction, id)
	return nil
}

// =============================================================================
// READ MODELS
// =============================================================================

func (s *Service) GetInventorySummary(ctx context.Context, ownerID string) ([]domain.InventoryItem, error) {
	products, err := s.repo.ListProducts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("inventory summary: %w", err)
	}
	txs, err := s.repo.ListTransactions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("inventory summary: %w", err)
	}
	return valuation.SummarizeAll(products, txs), nil
}

// GetPaymentSummary totals credit rows by side (sales are receivables, purchases
// are payables) and by status as of today.
func (s *Service) GetPaymentSummary(ctx context.Context, ownerID string) (domain.PaymentSummary, error) {
	txs, err := s.repo.ListTransactions(ctx, ownerID)
	if err != nil {
		return domain.PaymentSummary{}, fmt.Errorf("payment summary: %w", err)
	}

	now := s.now()
	summary := domain.PaymentSummary{AsOf: domain.DateOf(now, s.loc).Format(domain.DateLayout)}
	for _, side := range []*domain.PaymentSide{&summary.Receivables, &summary.Payables} {
		side.Pending.Total = decimal.Zero
		side.Overdue.Total = decimal.Zero
		side.Paid.Total = decimal.Zero
	}

	for _, tx := range txs {
		if tx.PaymentType != domain.PaymentCredit {
			continue
		}
		tx = lifecycle.RefreshStatus(tx, now, s.loc)

		side := &summary.Payables
		if tx.Type == domain.TransactionSale {
			side = &summary.Receivables
		}
		var bucket *domain.PaymentBucket
		switch tx.PaymentStatus {
		case domain.PaymentPending:
			bucket = &side.Pending
		case domain.PaymentOverdue:
			bucket = &side.Overdue
		default:
			bucket = &side.Paid
		}
		bucket.Count++
		bucket.Total = bucket.Total.Add(tx.TotalValue)
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, ownerID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListAuditLogs(ctx, ownerID, limit)
}

// Watch registers fn for every change to ownerID's data until unsubscribe is called.
func (s *Service) Watch(ownerID string, fn func(domain.Change)) (unsubscribe func()) {
	return s.feed.Subscribe(ownerID, fn)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) ownedProduct(ctx context.Context, ownerID string, productID string) (*domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.Invalid("product_id", "is required")
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return product, nil
}

func (s *Service) ownedTransaction(ctx context.Context, ownerID string, id string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if tx.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return tx, nil
}

func (s *Service) publish(ctx context.Context, ownerID string, action string, entity string, entityID string) {
	change := domain.Change{
		OwnerID:  ownerID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		At:       s.now().UTC(),
	}
	if err := s.feed.Publish(ctx, change); err != nil {
		log.Printf("[service] WARN: failed to publish change action=%s entity=%s/%s: %v", action, entity, entityID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, ownerID string, action string, entityType string, entityID string, detail string) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" && actor.Username != ownerID {
		detail = fmt.Sprintf("%s,actor=%s", detail, actor.Username)
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		OwnerID:    ownerID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func describeTransaction(tx domain.Transaction) string {
	return fmt.Sprintf("type=%s,product=%s,net=%s,total=%s,payment=%s", tx.Type, tx.ProductID, tx.NetQuantity(), tx.TotalValue, tx.PaymentType)
}
