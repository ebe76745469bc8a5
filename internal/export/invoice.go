package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/backend/internal/domain"
)

type LineKind string

const (
	LineGoods       LineKind = "goods"
	LineExtraCharge LineKind = "extra_charge"
)

type Settlement string

const (
	SettlementReceivable Settlement = "receivable"
	SettlementPayable    Settlement = "payable"
)

// InvoiceLine is one printable row. Amount is signed: in a mixed selection
// purchase rows are negative so the lines sum to the net settlement.
type InvoiceLine struct {
	TransactionID string
	Kind          LineKind
	Type          domain.TransactionType
	Description   string
	Note          string
	Quantity      decimal.Decimal
	Unit          string
	UnitPrice     decimal.Decimal
	Amount        decimal.Decimal
}

type Invoice struct {
	Number       string
	Title        string
	Date         time.Time
	DueDate      *time.Time
	Counterparty string
	PaymentType  domain.PaymentType
	Status       domain.PaymentStatus
	Mixed        bool
	Lines        []InvoiceLine
	Total        decimal.Decimal
	Settlement   Settlement
}

// BuildInvoice lays out one transaction, or a selection of them, as an invoice.
// Goods lines show the net quantity; an extra charge gets its own line.
func BuildInvoice(txs []domain.Transaction) (Invoice, error) {
	if len(txs) == 0 {
		return Invoice{}, errors.New("invoice needs at least one transaction")
	}

	var purchases, sales int
	for _, tx := range txs {
		if tx.Type == domain.TransactionPurchase {
			purchases++
		} else {
			sales++
		}
	}
	mixed := purchases > 0 && sales > 0

	inv := Invoice{
		Mixed:        mixed,
		Counterparty: counterpartyOf(txs),
		PaymentType:  txs[0].PaymentType,
		Status:       txs[0].PaymentStatus,
		Total:        decimal.Zero,
		Lines:        make([]InvoiceLine, 0, len(txs)*2),
	}

	for _, tx := range txs {
		if tx.Date.After(inv.Date) {
			inv.Date = tx.Date
		}
		if tx.PaymentType != inv.PaymentType {
			inv.PaymentType = ""
		}
		if tx.PaymentStatus != inv.Status {
			inv.Status = ""
		}

		sign := decimal.NewFromInt(1)
		if mixed && tx.Type == domain.TransactionPurchase {
			sign = decimal.NewFromInt(-1)
		}

		goods := InvoiceLine{
			TransactionID: tx.ID,
			Kind:          LineGoods,
			Type:          tx.Type,
			Description:   tx.ProductName,
			Quantity:      tx.NetQuantity(),
			Unit:          tx.Unit,
			UnitPrice:     tx.UnitPrice,
			Amount:        tx.NetQuantity().Mul(tx.UnitPrice).Mul(sign),
		}
		if tx.Deduction.IsPositive() {
			goods.Note = fmt.Sprintf("gross %s less %s", tx.GrossQuantity, tx.Deduction)
			if tx.DeductionReason != "" {
				goods.Note += " (" + tx.DeductionReason + ")"
			}
		}
		if mixed {
			goods.Description = fmt.Sprintf("%s (%s)", tx.ProductName, tx.Type)
		}
		inv.Lines = append(inv.Lines, goods)
		inv.Total = inv.Total.Add(goods.Amount)

		if tx.ExtraCharge.IsPositive() {
			reason := tx.ExtraChargeReason
			if reason == "" {
				reason = "Extra charge"
			}
			extra := InvoiceLine{
				TransactionID: tx.ID,
				Kind:          LineExtraCharge,
				Type:          tx.Type,
				Description:   reason,
				Quantity:      decimal.NewFromInt(1),
				UnitPrice:     tx.ExtraCharge,
				Amount:        tx.ExtraCharge.Mul(sign),
			}
			inv.Lines = append(inv.Lines, extra)
			inv.Total = inv.Total.Add(extra.Amount)
		}
	}

	switch {
	case mixed:
		inv.Title = "Settlement Statement"
		inv.Settlement = SettlementReceivable
		if inv.Total.IsNegative() {
			inv.Settlement = SettlementPayable
		}
	case sales > 0:
		inv.Title = "Sales Invoice"
		inv.Settlement = SettlementReceivable
	default:
		inv.Title = "Purchase Invoice"
		inv.Settlement = SettlementPayable
	}

	if len(txs) == 1 {
		inv.Number = "INV-" + shortID(txs[0].ID)
		inv.DueDate = txs[0].DueDate
	} else {
		inv.Number = fmt.Sprintf("INV-%s-%d", inv.Date.Format("20060102"), len(txs))
	}
	return inv, nil
}

func counterpartyOf(txs []domain.Transaction) string {
	name := strings.TrimSpace(txs[0].CounterpartyName)
	for _, tx := range txs[1:] {
		if !strings.EqualFold(strings.TrimSpace(tx.CounterpartyName), name) {
			return "Multiple counterparties"
		}
	}
	return name
}

func shortID(id string) string {
	if i := strings.LastIndex(id, "-"); i >= 0 {
		id = id[i+1:]
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
