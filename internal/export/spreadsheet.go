// Package export renders ledger data into files for download: XLSX workbooks
// for the ledger and inventory, and PDF invoices.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"fintrack/backend/internal/domain"
)

const (
	transactionsSheet = "Transactions"
	inventorySheet    = "Inventory"
)

var transactionHeaders = []any{
	"Date", "Type", "Product", "Counterparty", "Gross Qty", "Deduction", "Deduction Reason",
	"Net Qty", "Unit", "Unit Price", "Extra Charge", "Extra Charge Reason", "Total Value",
	"Payment", "Credit Days", "Due Date", "Status", "Days Late", "Paid At", "ID",
}

var inventoryHeaders = []any{
	"Product", "Category", "Unit", "Stock", "Min Stock", "Status",
	"Avg Cost", "Total Value", "Total Purchased", "Total Sold", "ID",
}

// TransactionsWorkbook writes one row per transaction. Quantities and money are
// numeric cells so the sheet can be summed.
func TransactionsWorkbook(w io.Writer, txs []domain.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", transactionsSheet); err != nil {
		return err
	}
	if err := writeHeader(f, transactionsSheet, transactionHeaders); err != nil {
		return err
	}

	for i, tx := range txs {
		row := []any{
			tx.Date.Format(domain.DateLayout),
			string(tx.Type),
			tx.ProductName,
			tx.CounterpartyName,
			tx.GrossQuantity.InexactFloat64(),
			tx.Deduction.InexactFloat64(),
			tx.DeductionReason,
			tx.NetQuantity().InexactFloat64(),
			tx.Unit,
			tx.UnitPrice.InexactFloat64(),
			tx.ExtraCharge.InexactFloat64(),
			tx.ExtraChargeReason,
			tx.TotalValue.InexactFloat64(),
			string(tx.PaymentType),
			optionalInt(tx.CreditPeriodDays),
			optionalDate(tx.DueDate),
			string(tx.PaymentStatus),
			tx.DaysLate,
			optionalTimestamp(tx.PaidAt),
			tx.ID,
		}
		if err := writeRow(f, transactionsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(transactionsSheet, "A", "T", 15); err != nil {
		return err
	}
	return f.Write(w)
}

// InventoryWorkbook writes one row per inventory item in the order given.
func InventoryWorkbook(w io.Writer, items []domain.InventoryItem) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", inventorySheet); err != nil {
		return err
	}
	if err := writeHeader(f, inventorySheet, inventoryHeaders); err != nil {
		return err
	}

	for i, item := range items {
		row := []any{
			item.Name,
			item.Category,
			item.Unit,
			item.Stock.InexactFloat64(),
			item.MinStockLevel.InexactFloat64(),
			string(item.Status),
			item.AvgCost.Round(4).InexactFloat64(),
			item.TotalValue.Round(2).InexactFloat64(),
			item.TotalPurchased.InexactFloat64(),
			item.TotalSold.InexactFloat64(),
			item.ID,
		}
		if err := writeRow(f, inventorySheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(inventorySheet, "A", "K", 15); err != nil {
		return err
	}
	return f.Write(w)
}

func writeHeader(f *excelize.File, sheet string, headers []any) error {
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}

func optionalInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func optionalDate(v *time.Time) any {
	if v == nil {
		return ""
	}
	return v.Format(domain.DateLayout)
}

func optionalTimestamp(v *time.Time) any {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
