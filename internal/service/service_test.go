package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/notify"
	"fintrack/backend/internal/store/memory"
)

var fixedNow = time.Date(2024, time.June, 15, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc  *Service
	repo *memory.Store
	feed *notify.Memory
	now  time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo: memory.New(),
		feed: notify.NewMemory(),
		now:  fixedNow,
	}
	env.svc = New(env.repo, env.feed, Options{
		Now: func() time.Time { return env.now },
	})
	return env
}

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", raw, err)
	}
	return d
}

func mustProduct(t *testing.T, env *testEnv, owner string, name string, min string) domain.Product {
	t.Helper()
	product, err := env.svc.AddProduct(context.Background(), owner, domain.ProductCreateRequest{
		Name:          name,
		Category:      "grain",
		MinStockLevel: dec(t, min),
		Unit:          "kg",
	})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	return product
}

func purchase(t *testing.T, productID string, gross string, deduction string, price string) domain.TransactionCreateRequest {
	t.Helper()
	return domain.TransactionCreateRequest{
		ProductID:        productID,
		Type:             domain.TransactionPurchase,
		CounterpartyName: "Mill Co",
		GrossQuantity:    dec(t, gross),
		Deduction:        dec(t, deduction),
		UnitPrice:        dec(t, price),
		PaymentType:      domain.PaymentCash,
	}
}

func sale(t *testing.T, productID string, qty string, price string) domain.TransactionCreateRequest {
	t.Helper()
	return domain.TransactionCreateRequest{
		ProductID:        productID,
		Type:             domain.TransactionSale,
		CounterpartyName: "Corner Shop",
		GrossQuantity:    dec(t, qty),
		UnitPrice:        dec(t, price),
		PaymentType:      domain.PaymentCash,
	}
}

func inventoryFor(t *testing.T, env *testEnv, owner string, productID string) domain.InventoryItem {
	t.Helper()
	items, err := env.svc.GetInventorySummary(context.Background(), owner)
	if err != nil {
		t.Fatalf("inventory summary: %v", err)
	}
	for _, item := range items {
		if item.ID == productID {
			return item
		}
	}
	t.Fatalf("product %s missing from inventory", productID)
	return domain.InventoryItem{}
}

func TestPurchaseThenSaleScenario(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "50")

	bought, err := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "500", "10", "12.50"))
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if !bought.TotalValue.Equal(dec(t, "6125")) {
		t.Fatalf("expected total 6125, got %s", bought.TotalValue)
	}
	if bought.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("cash purchase should be paid, got %s", bought.PaymentStatus)
	}

	item := inventoryFor(t, env, "alice", rice.ID)
	if !item.Stock.Equal(dec(t, "490")) || !item.AvgCost.Equal(dec(t, "12.5")) || !item.TotalValue.Equal(dec(t, "6125")) {
		t.Fatalf("unexpected inventory after purchase: stock=%s avg=%s value=%s", item.Stock, item.AvgCost, item.TotalValue)
	}
	if item.Status != domain.StockOK {
		t.Fatalf("expected ok status, got %s", item.Status)
	}

	sold, err := env.svc.AddTransaction(ctx, "alice", sale(t, rice.ID, "450", "12.50"))
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if !sold.TotalValue.Equal(dec(t, "5625")) {
		t.Fatalf("expected sale total 5625, got %s", sold.TotalValue)
	}

	item = inventoryFor(t, env, "alice", rice.ID)
	if !item.Stock.Equal(dec(t, "40")) {
		t.Fatalf("expected stock 40, got %s", item.Stock)
	}
	if item.Status != domain.StockLow {
		t.Fatalf("expected low status, got %s", item.Status)
	}
}

func TestSaleBeyondStockLeavesStoreUnchanged(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")

	if _, err := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "100", "0", "2")); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	before, _ := env.repo.ListTransactions(ctx, "alice")

	_, err := env.svc.AddTransaction(ctx, "alice", sale(t, rice.ID, "100.5", "3"))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || !stockErr.Available.Equal(dec(t, "100")) {
		t.Fatalf("expected available 100 on error, got %+v", stockErr)
	}

	after, _ := env.repo.ListTransactions(ctx, "alice")
	if len(after) != len(before) {
		t.Fatalf("rejected sale must not persist: before=%d after=%d", len(before), len(after))
	}

	if _, err := env.svc.AddTransaction(ctx, "alice", sale(t, rice.ID, "100", "3")); err != nil {
		t.Fatalf("selling exactly the stock should succeed: %v", err)
	}
	if item := inventoryFor(t, env, "alice", rice.ID); item.Status != domain.StockOut {
		t.Fatalf("expected out status, got %s", item.Status)
	}
}

func TestCreditSaleBecomesOverdue(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")
	if _, err := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "100", "0", "2")); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	days := 5
	req := sale(t, rice.ID, "10", "4")
	req.PaymentType = domain.PaymentCredit
	req.CreditPeriodDays = &days
	req.Date = fixedNow.AddDate(0, 0, -10).Format(domain.DateLayout)

	created, err := env.svc.AddTransaction(ctx, "alice", req)
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}
	if created.DueDate == nil || created.DueDate.Format(domain.DateLayout) != "2024-06-10" {
		t.Fatalf("expected due date 2024-06-10, got %v", created.DueDate)
	}
	if created.PaymentStatus != domain.PaymentOverdue || created.DaysLate != 5 {
		t.Fatalf("expected overdue by 5 days, got %s/%d", created.PaymentStatus, created.DaysLate)
	}

	stored, _ := env.repo.GetTransaction(ctx, created.ID)
	if stored.PaymentStatus != domain.PaymentPending {
		t.Fatalf("overdue must be computed at read time, stored status=%s", stored.PaymentStatus)
	}

	txs, err := env.svc.GetTransactions(ctx, "alice")
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	for _, tx := range txs {
		if tx.ID == created.ID && (tx.PaymentStatus != domain.PaymentOverdue || tx.DaysLate != 5) {
			t.Fatalf("expected overdue in listing, got %s/%d", tx.PaymentStatus, tx.DaysLate)
		}
	}
}

func TestCreditDueTodayIsStillPending(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")

	days := 5
	req := purchase(t, rice.ID, "10", "0", "1")
	req.PaymentType = domain.PaymentCredit
	req.CreditPeriodDays = &days
	req.Date = fixedNow.AddDate(0, 0, -5).Format(domain.DateLayout)

	created, err := env.svc.AddTransaction(ctx, "alice", req)
	if err != nil {
		t.Fatalf("credit purchase failed: %v", err)
	}
	if created.PaymentStatus != domain.PaymentPending {
		t.Fatalf("due today should read pending, got %s", created.PaymentStatus)
	}

	env.now = fixedNow.Add(24 * time.Hour)
	got, err := env.svc.GetTransaction(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.PaymentStatus != domain.PaymentOverdue || got.DaysLate != 1 {
		t.Fatalf("expected overdue by 1 day, got %s/%d", got.PaymentStatus, got.DaysLate)
	}
}

func TestMarkPaidIsIdempotentAndPermanent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")

	days := 3
	req := purchase(t, rice.ID, "10", "0", "1")
	req.PaymentType = domain.PaymentCredit
	req.CreditPeriodDays = &days
	req.Date = fixedNow.AddDate(0, 0, -30).Format(domain.DateLayout)
	created, err := env.svc.AddTransaction(ctx, "alice", req)
	if err != nil {
		t.Fatalf("credit purchase failed: %v", err)
	}

	changes := 0
	stop := env.svc.Watch("alice", func(domain.Change) { changes++ })
	defer stop()

	first, err := env.svc.MarkTransactionAsPaid(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if first.PaymentStatus != domain.PaymentPaid || first.PaidAt == nil || first.DaysLate != 0 {
		t.Fatalf("unexpected paid row: %+v", first)
	}

	env.now = fixedNow.Add(72 * time.Hour)
	second, err := env.svc.MarkTransactionAsPaid(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if !second.PaidAt.Equal(*first.PaidAt) {
		t.Fatalf("paid_at must not move: %s vs %s", second.PaidAt, first.PaidAt)
	}
	if changes != 1 {
		t.Fatalf("expected one change notification, got %d", changes)
	}

	env.now = fixedNow.AddDate(1, 0, 0)
	got, _ := env.svc.GetTransaction(ctx, "alice", created.ID)
	if got.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("paid row must never revert, got %s", got.PaymentStatus)
	}
}

func TestForeignOwnerSeesNotFound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")
	created, err := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "10", "0", "1"))
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	if _, err := env.svc.AddTransaction(ctx, "bob", purchase(t, rice.ID, "10", "0", "1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign product, got %v", err)
	}
	if _, err := env.svc.GetTransaction(ctx, "bob", created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign get, got %v", err)
	}
	if _, err := env.svc.MarkTransactionAsPaid(ctx, "bob", created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign pay, got %v", err)
	}
	if err := env.svc.DeleteTransaction(ctx, "bob", created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign delete, got %v", err)
	}
	if _, err := env.repo.GetTransaction(ctx, created.ID); err != nil {
		t.Fatalf("foreign delete must not remove the row: %v", err)
	}

	txs, _ := env.svc.GetTransactions(ctx, "bob")
	if len(txs) != 0 {
		t.Fatalf("bob must not see alice's ledger, got %d rows", len(txs))
	}
}

func TestDeleteIsRetrySafe(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")
	created, err := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "10", "0", "1"))
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	var actions []string
	stop := env.svc.Watch("alice", func(c domain.Change) { actions = append(actions, c.Action) })
	defer stop()

	if err := env.svc.DeleteTransaction(ctx, "alice", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.svc.DeleteTransaction(ctx, "alice", created.ID); err != nil {
		t.Fatalf("retried delete should succeed, got %v", err)
	}
	if len(actions) != 1 || actions[0] != domain.ChangeDeleted {
		t.Fatalf("expected a single deleted change, got %v", actions)
	}
	if item := inventoryFor(t, env, "alice", rice.ID); !item.Stock.IsZero() {
		t.Fatalf("expected stock back to zero, got %s", item.Stock)
	}
}

func TestTransactionsOrderedByDateThenCreation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")

	mk := func(date string) string {
		req := purchase(t, rice.ID, "1", "0", "1")
		req.Date = date
		tx, err := env.svc.AddTransaction(ctx, "alice", req)
		if err != nil {
			t.Fatalf("purchase on %s failed: %v", date, err)
		}
		return tx.ID
	}
	older := mk("2024-06-01")
	firstOfDay := mk("2024-06-10")
	secondOfDay := mk("2024-06-10")
	newest := mk("2024-06-12")

	txs, err := env.svc.GetTransactions(ctx, "alice")
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	want := []string{newest, secondOfDay, firstOfDay, older}
	if len(txs) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(txs))
	}
	for i, id := range want {
		if txs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, txs[i].ID)
		}
	}
}

// sameInstantRepo reports every transaction with one CreatedAt, as several
// writers on one database can.
type sameInstantRepo struct {
	*memory.Store
	at time.Time
}

func (r sameInstantRepo) ListTransactions(ctx context.Context, ownerID string) ([]domain.Transaction, error) {
	txs, err := r.Store.ListTransactions(ctx, ownerID)
	for i := range txs {
		txs[i].CreatedAt = r.at
	}
	return txs, err
}

func TestTransactionsWithSameCreationInstantOrderedByIDDescending(t *testing.T) {
	repo := sameInstantRepo{Store: memory.New(), at: fixedNow}
	svc := New(repo, nil, Options{Now: func() time.Time { return fixedNow }})
	ctx := context.Background()

	rice, err := svc.AddProduct(ctx, "alice", domain.ProductCreateRequest{Name: "Rice", Unit: "kg"})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		req := purchase(t, rice.ID, "1", "0", "1")
		req.Date = "2024-06-10"
		tx, err := svc.AddTransaction(ctx, "alice", req)
		if err != nil {
			t.Fatalf("purchase %d failed: %v", i, err)
		}
		ids = append(ids, tx.ID)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	txs, err := svc.GetTransactions(ctx, "alice")
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	for i, id := range ids {
		if txs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, txs[i].ID)
		}
	}
}

func TestAddTransactionValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")

	cases := map[string]domain.TransactionCreateRequest{
		"missing product":     purchase(t, "", "1", "0", "1"),
		"zero quantity":       purchase(t, rice.ID, "0", "0", "1"),
		"deduction too large": purchase(t, rice.ID, "5", "6", "1"),
		"zero price":          purchase(t, rice.ID, "5", "0", "0"),
		"price too precise":   purchase(t, rice.ID, "3", "0", "0.12345"),
		"quantity too large":  purchase(t, rice.ID, "1e20000000", "0", "1"),
	}
	bad := purchase(t, rice.ID, "5", "0", "1")
	bad.Date = "15/06/2024"
	cases["bad date"] = bad

	for name, req := range cases {
		if _, err := env.svc.AddTransaction(ctx, "alice", req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, err := env.svc.AddTransaction(ctx, "alice", purchase(t, "prd-missing", "1", "0", "1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}
}

func TestAddProductAllowsDuplicateNames(t *testing.T) {
	env := newTestEnv()
	a := mustProduct(t, env, "alice", "Rice", "1")
	b := mustProduct(t, env, "alice", "Rice", "1")
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids for duplicate names")
	}

	if _, err := env.svc.AddProduct(context.Background(), "alice", domain.ProductCreateRequest{Name: "  "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := env.svc.AddProduct(context.Background(), "alice", domain.ProductCreateRequest{Name: "Oil", MinStockLevel: dec(t, "-1")}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for negative minimum, got %v", err)
	}
	for _, raw := range []string{"0.00001", "1e20000000"} {
		if _, err := env.svc.AddProduct(context.Background(), "alice", domain.ProductCreateRequest{Name: "Oil", MinStockLevel: dec(t, raw)}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error for minimum %s, got %v", raw, err)
		}
	}
}

func TestAddInvoiceChargesFirstLineAndChecksCumulativeStock(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")
	oil := mustProduct(t, env, "alice", "Oil", "0")

	resp, err := env.svc.AddInvoice(ctx, "alice", domain.InvoiceCreateRequest{
		Type:              domain.TransactionPurchase,
		CounterpartyName:  "Wholesaler",
		Date:              "2024-06-14",
		PaymentType:       domain.PaymentCash,
		ExtraCharge:       dec(t, "50"),
		ExtraChargeReason: "freight",
		Lines: []domain.InvoiceLine{
			{ProductID: rice.ID, GrossQuantity: dec(t, "100"), UnitPrice: dec(t, "2")},
			{ProductID: oil.ID, GrossQuantity: dec(t, "20"), UnitPrice: dec(t, "5")},
		},
	})
	if err != nil {
		t.Fatalf("purchase invoice failed: %v", err)
	}
	if len(resp.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(resp.Transactions))
	}
	if !resp.Transactions[0].ExtraCharge.Equal(dec(t, "50")) || !resp.Transactions[1].ExtraCharge.IsZero() {
		t.Fatalf("extra charge must sit on the first line only")
	}
	if !resp.TotalValue.Equal(dec(t, "350")) {
		t.Fatalf("expected invoice total 350, got %s", resp.TotalValue)
	}
	if item := inventoryFor(t, env, "alice", rice.ID); !item.AvgCost.Equal(dec(t, "2")) {
		t.Fatalf("extra charge must not enter average cost, got %s", item.AvgCost)
	}

	before, _ := env.repo.ListTransactions(ctx, "alice")
	_, err = env.svc.AddInvoice(ctx, "alice", domain.InvoiceCreateRequest{
		Type:        domain.TransactionSale,
		PaymentType: domain.PaymentCash,
		Lines: []domain.InvoiceLine{
			{ProductID: rice.ID, GrossQuantity: dec(t, "60"), UnitPrice: dec(t, "3")},
			{ProductID: oil.ID, GrossQuantity: dec(t, "5"), UnitPrice: dec(t, "7")},
			{ProductID: rice.ID, GrossQuantity: dec(t, "41"), UnitPrice: dec(t, "3")},
		},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected cumulative stock rejection, got %v", err)
	}
	after, _ := env.repo.ListTransactions(ctx, "alice")
	if len(after) != len(before) {
		t.Fatalf("rejected invoice must write nothing")
	}

	_, err = env.svc.AddInvoice(ctx, "alice", domain.InvoiceCreateRequest{
		Type:        domain.TransactionSale,
		PaymentType: domain.PaymentCash,
		Lines: []domain.InvoiceLine{
			{ProductID: rice.ID, GrossQuantity: dec(t, "1"), UnitPrice: dec(t, "0")},
		},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "lines[0].unit_price" {
		t.Fatalf("expected line-scoped validation error, got %v", err)
	}
}

func TestPaymentSummarySplitsSidesAndStatuses(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")

	days := 7
	credit := func(req domain.TransactionCreateRequest, date string) domain.Transaction {
		req.PaymentType = domain.PaymentCredit
		req.CreditPeriodDays = &days
		req.Date = date
		tx, err := env.svc.AddTransaction(ctx, "alice", req)
		if err != nil {
			t.Fatalf("credit row failed: %v", err)
		}
		return tx
	}

	credit(purchase(t, rice.ID, "100", "0", "2"), "2024-06-14")
	late := credit(purchase(t, rice.ID, "10", "0", "3"), "2024-05-01")
	credit(sale(t, rice.ID, "20", "5"), "2024-06-01")
	if _, err := env.svc.AddTransaction(ctx, "alice", sale(t, rice.ID, "1", "5")); err != nil {
		t.Fatalf("cash sale failed: %v", err)
	}
	if _, err := env.svc.MarkTransactionAsPaid(ctx, "alice", late.ID); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	summary, err := env.svc.GetPaymentSummary(ctx, "alice")
	if err != nil {
		t.Fatalf("payment summary: %v", err)
	}
	if summary.AsOf != "2024-06-15" {
		t.Fatalf("expected as_of 2024-06-15, got %s", summary.AsOf)
	}
	if summary.Payables.Pending.Count != 1 || !summary.Payables.Pending.Total.Equal(dec(t, "200")) {
		t.Fatalf("unexpected pending payables: %+v", summary.Payables.Pending)
	}
	if summary.Payables.Paid.Count != 1 || !summary.Payables.Paid.Total.Equal(dec(t, "30")) {
		t.Fatalf("unexpected paid payables: %+v", summary.Payables.Paid)
	}
	if summary.Receivables.Overdue.Count != 1 || !summary.Receivables.Overdue.Total.Equal(dec(t, "100")) {
		t.Fatalf("unexpected overdue receivables: %+v", summary.Receivables.Overdue)
	}
	if summary.Receivables.Pending.Count != 0 || summary.Receivables.Paid.Count != 0 {
		t.Fatalf("cash rows must not be counted: %+v", summary.Receivables)
	}
}

func TestMutationsWriteAuditTrail(t *testing.T) {
	env := newTestEnv()
	ctx := WithActor(context.Background(), domain.Actor{Username: "alice"})
	rice := mustProduct(t, env, "alice", "Rice", "0")
	created, err := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "10", "0", "1"))
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if err := env.svc.DeleteTransaction(ctx, "alice", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	logs, err := env.svc.ListAuditLogs(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(logs))
	}
	if logs[0].Action != domain.ChangeDeleted || logs[0].EntityID != created.ID {
		t.Fatalf("expected newest row to be the delete, got %+v", logs[0])
	}
}

func TestSelectTransactionsRejectsForeignIDs(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	rice := mustProduct(t, env, "alice", "Rice", "0")
	mine, _ := env.svc.AddTransaction(ctx, "alice", purchase(t, rice.ID, "10", "0", "1"))

	bobRice := mustProduct(t, env, "bob", "Rice", "0")
	theirs, _ := env.svc.AddTransaction(ctx, "bob", purchase(t, bobRice.ID, "10", "0", "1"))

	selected, err := env.svc.SelectTransactions(ctx, "alice", []string{mine.ID, mine.ID})
	if err != nil || len(selected) != 1 {
		t.Fatalf("expected one deduplicated row, got %d (%v)", len(selected), err)
	}
	if _, err := env.svc.SelectTransactions(ctx, "alice", []string{mine.ID, theirs.ID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign id, got %v", err)
	}
	if _, err := env.svc.SelectTransactions(ctx, "alice", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty selection, got %v", err)
	}
}
