package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionSale     TransactionType = "sale"
)

type PaymentType string

const (
	PaymentCash   PaymentType = "cash"
	PaymentCredit PaymentType = "credit"
)

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentOverdue PaymentStatus = "overdue"
)

type StockStatus string

const (
	StockOK  StockStatus = "ok"
	StockLow StockStatus = "low"
	StockOut StockStatus = "out"
)

type Product struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	Unit          string          `json:"unit"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	Unit          string          `json:"unit"`
}

// Transaction is one inbound or outbound movement of a single product.
// ProductName and Unit are snapshots taken when the row was created.
type Transaction struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Type              TransactionType `json:"type"`
	CounterpartyName  string          `json:"counterparty_name"`
	GrossQuantity     decimal.Decimal `json:"gross_quantity"`
	Deduction         decimal.Decimal `json:"deduction"`
	DeductionReason   string          `json:"deduction_reason,omitempty"`
	ExtraCharge       decimal.Decimal `json:"extra_charge"`
	ExtraChargeReason string          `json:"extra_charge_reason,omitempty"`
	Unit              string          `json:"unit"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalValue        decimal.Decimal `json:"total_value"`
	Date              time.Time       `json:"date"`
	PaymentType       PaymentType     `json:"payment_type"`
	CreditPeriodDays  *int            `json:"credit_period_days,omitempty"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	DaysLate          int             `json:"days_late,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type transactionJSON Transaction

// MarshalJSON writes Date and DueDate as civil dates ("2006-01-02").
func (t Transaction) MarshalJSON() ([]byte, error) {
	out := struct {
		transactionJSON
		Date    string  `json:"date"`
		DueDate *string `json:"due_date,omitempty"`
	}{transactionJSON: transactionJSON(t), Date: t.Date.Format(DateLayout)}
	if t.DueDate != nil {
		due := t.DueDate.Format(DateLayout)
		out.DueDate = &due
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts civil dates and, for older payloads, RFC 3339 timestamps.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var in struct {
		transactionJSON
		Date    string  `json:"date"`
		DueDate *string `json:"due_date,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Transaction(in.transactionJSON)
	if in.Date != "" {
		date, err := ParseDate(in.Date)
		if err != nil {
			return Invalid("date", "must be YYYY-MM-DD")
		}
		t.Date = date
	}
	t.DueDate = nil
	if in.DueDate != nil {
		due, err := ParseDate(*in.DueDate)
		if err != nil {
			return Invalid("due_date", "must be YYYY-MM-DD")
		}
		t.DueDate = &due
	}
	return nil
}

// NetQuantity is the quantity that actually moves stock.
func (t Transaction) NetQuantity() decimal.Decimal {
	return t.GrossQuantity.Sub(t.Deduction)
}

type TransactionCreateRequest struct {
	ProductID         string          `json:"product_id"`
	Type              TransactionType `json:"type"`
	CounterpartyName  string          `json:"counterparty_name"`
	GrossQuantity     decimal.Decimal `json:"gross_quantity"`
	Deduction         decimal.Decimal `json:"deduction"`
	DeductionReason   string          `json:"deduction_reason,omitempty"`
	ExtraCharge       decimal.Decimal `json:"extra_charge"`
	ExtraChargeReason string          `json:"extra_charge_reason,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Date              string          `json:"date"`
	PaymentType       PaymentType     `json:"payment_type"`
	CreditPeriodDays  *int            `json:"credit_period_days,omitempty"`
}

type InvoiceLine struct {
	ProductID     string          `json:"product_id"`
	GrossQuantity decimal.Decimal `json:"gross_quantity"`
	Deduction     decimal.Decimal `json:"deduction"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// InvoiceCreateRequest records several product lines against one counterparty.
// The extra charge is carried by the first line only.
type InvoiceCreateRequest struct {
	Type              TransactionType `json:"type"`
	CounterpartyName  string          `json:"counterparty_name"`
	Date              string          `json:"date"`
	PaymentType       PaymentType     `json:"payment_type"`
	CreditPeriodDays  *int            `json:"credit_period_days,omitempty"`
	DeductionReason   string          `json:"deduction_reason,omitempty"`
	ExtraCharge       decimal.Decimal `json:"extra_charge"`
	ExtraChargeReason string          `json:"extra_charge_reason,omitempty"`
	Lines             []InvoiceLine   `json:"lines"`
}

type InvoiceCreateResponse struct {
	Transactions []Transaction   `json:"transactions"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

// InventoryItem is derived on every read and never stored.
type InventoryItem struct {
	Product
	Stock          decimal.Decimal `json:"stock"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalPurchased decimal.Decimal `json:"total_purchased"`
	TotalSold      decimal.Decimal `json:"total_sold"`
	Status         StockStatus     `json:"status"`
}

type PaymentBucket struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type PaymentSide struct {
	Pending PaymentBucket `json:"pending"`
	Overdue PaymentBucket `json:"overdue"`
	Paid    PaymentBucket `json:"paid"`
}

type PaymentSummary struct {
	AsOf        string      `json:"as_of"`
	Receivables PaymentSide `json:"receivables"`
	Payables    PaymentSide `json:"payables"`
}

// Change is pushed to subscribers after any mutation; receivers re-fetch.
type Change struct {
	OwnerID  string    `json:"owner_id"`
	Action   string    `json:"action"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	At       time.Time `json:"at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	OwnerID     string `json:"owner_id"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Actor struct {
	Username string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	ChangeCreated = "created"
	ChangePaid    = "paid"
	ChangeDeleted = "deleted"
)

const (
	EntityProduct     = "product"
	EntityTransaction = "transaction"
)
