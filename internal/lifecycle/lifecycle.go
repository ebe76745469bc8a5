// Package lifecycle owns the payment rules of a transaction: how it is priced and
// validated at creation, and which payment status it shows at read time.
package lifecycle

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/backend/internal/domain"
)

// Prepare validates req against product and builds the transaction to persist.
// today is the civil date used when req.Date is empty. ID, owner and CreatedAt
// are left for the caller.
func Prepare(req domain.TransactionCreateRequest, product domain.Product, today time.Time) (domain.Transaction, error) {
	if err := validate(req); err != nil {
		return domain.Transaction{}, err
	}

	date := today
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := domain.ParseDate(req.Date)
		if err != nil {
			return domain.Transaction{}, domain.Invalid("date", "must be YYYY-MM-DD")
		}
		date = parsed
	}

	tx := domain.Transaction{
		ProductID:         product.ID,
		ProductName:       product.Name,
		Type:              req.Type,
		CounterpartyName:  strings.TrimSpace(req.CounterpartyName),
		GrossQuantity:     req.GrossQuantity,
		Deduction:         req.Deduction,
		DeductionReason:   strings.TrimSpace(req.DeductionReason),
		ExtraCharge:       req.ExtraCharge,
		ExtraChargeReason: strings.TrimSpace(req.ExtraChargeReason),
		Unit:              product.Unit,
		UnitPrice:         req.UnitPrice,
		Date:              date,
		PaymentType:       req.PaymentType,
	}
	tx.TotalValue = TotalValue(tx.GrossQuantity, tx.Deduction, tx.UnitPrice, tx.ExtraCharge)

	switch req.PaymentType {
	case domain.PaymentCredit:
		tx.PaymentStatus = domain.PaymentPending
		if req.CreditPeriodDays != nil {
			days := *req.CreditPeriodDays
			due := domain.AddDays(date, days)
			tx.CreditPeriodDays = &days
			tx.DueDate = &due
		}
	default:
		tx.PaymentStatus = domain.PaymentPaid
	}

	return tx, nil
}

// TotalValue is (gross - deduction) * unitPrice + extraCharge.
func TotalValue(gross, deduction, unitPrice, extraCharge decimal.Decimal) decimal.Decimal {
	return gross.Sub(deduction).Mul(unitPrice).Add(extraCharge)
}

func validate(req domain.TransactionCreateRequest) error {
	switch req.Type {
	case domain.TransactionPurchase, domain.TransactionSale:
	default:
		return domain.Invalid("type", "must be purchase or sale")
	}
	switch req.PaymentType {
	case domain.PaymentCash, domain.PaymentCredit:
	default:
		return domain.Invalid("payment_type", "must be cash or credit")
	}
	if !req.GrossQuantity.IsPositive() {
		return domain.Invalid("gross_quantity", "must be greater than zero")
	}
	if !req.UnitPrice.IsPositive() {
		return domain.Invalid("unit_price", "must be greater than zero")
	}
	if req.Deduction.IsNegative() {
		return domain.Invalid("deduction", "must not be negative")
	}
	if req.ExtraCharge.IsNegative() {
		return domain.Invalid("extra_charge", "must not be negative")
	}
	// bounds come before any comparison that would rescale an oversized value
	for _, amount := range []struct {
		field string
		value decimal.Decimal
	}{
		{"gross_quantity", req.GrossQuantity},
		{"unit_price", req.UnitPrice},
		{"deduction", req.Deduction},
		{"extra_charge", req.ExtraCharge},
	} {
		if err := domain.CheckAmount(amount.field, amount.value); err != nil {
			return err
		}
	}
	if req.Deduction.GreaterThan(req.GrossQuantity) {
		return domain.Invalid("deduction", "must not exceed gross quantity")
	}
	if req.Type == domain.TransactionSale && !req.Deduction.IsZero() {
		return domain.Invalid("deduction", "applies to purchases only")
	}
	if req.PaymentType == domain.PaymentCredit && req.CreditPeriodDays != nil {
		if days := *req.CreditPeriodDays; days < 1 || days > domain.MaxCreditPeriodDays {
			return domain.Invalid("credit_period_days", "must be between 1 and %d", domain.MaxCreditPeriodDays)
		}
	}
	return nil
}

// RefreshStatus projects the payment status a reader should see at now.
// A pending credit row whose due date is before today reads as overdue. Paid rows
// are returned unchanged. The stored row is not modified.
func RefreshStatus(tx domain.Transaction, now time.Time, loc *time.Location) domain.Transaction {
	tx.DaysLate = 0
	if tx.PaymentStatus == domain.PaymentPaid || tx.DueDate == nil {
		return tx
	}

	today := domain.DateOf(now, loc)
	due := domain.DateOf(*tx.DueDate, time.UTC)
	if !due.Before(today) {
		return tx
	}

	tx.PaymentStatus = domain.PaymentOverdue
	tx.DaysLate = domain.DaysBetween(due, today)
	return tx
}

// MarkPaid settles the transaction. Paying twice keeps the first PaidAt.
func MarkPaid(tx domain.Transaction, at time.Time) domain.Transaction {
	tx.PaymentStatus = domain.PaymentPaid
	tx.DaysLate = 0
	if tx.PaidAt == nil {
		paidAt := at.UTC()
		tx.PaidAt = &paidAt
	}
	return tx
}
