package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"fintrack/backend/internal/domain"
)

// RenderInvoicePDF draws inv on a single A4 page flow; fpdf breaks pages as needed.
func RenderInvoicePDF(w io.Writer, inv Invoice, issuer string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(inv.Title+" "+inv.Number, true)
	pdf.SetCreator("fintrack", true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(inv.Title), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	if issuer != "" {
		pdf.CellFormat(0, 6, tr("Issued by: "+issuer), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, "Number: "+inv.Number, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Date: "+inv.Date.Format(domain.DateLayout), "", 1, "L", false, 0, "")
	if inv.Counterparty != "" {
		pdf.CellFormat(0, 6, tr("Counterparty: "+inv.Counterparty), "", 1, "L", false, 0, "")
	}
	if inv.PaymentType != "" {
		terms := "Payment: " + string(inv.PaymentType)
		if inv.Status != "" {
			terms += " (" + string(inv.Status) + ")"
		}
		pdf.CellFormat(0, 6, terms, "", 1, "L", false, 0, "")
	}
	if inv.DueDate != nil {
		pdf.CellFormat(0, 6, "Due: "+inv.DueDate.Format(domain.DateLayout), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{80, 25, 20, 30, 35}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(221, 235, 247)
	for i, h := range []string{"Description", "Net Qty", "Unit", "Unit Price", "Amount"} {
		align := "R"
		if i == 0 || i == 2 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 8, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, line := range inv.Lines {
		desc := line.Description
		qty := line.Quantity.String()
		unit := line.Unit
		if line.Kind == LineExtraCharge {
			qty = ""
			unit = ""
		}
		pdf.CellFormat(widths[0], 7, tr(truncate(desc, 45)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, qty, "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, tr(unit), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 7, money(line.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 7, money(line.Amount), "1", 1, "R", false, 0, "")
		if line.Note != "" {
			pdf.SetFont("Helvetica", "I", 8)
			pdf.CellFormat(widths[0], 5, tr("  "+line.Note), "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 10)
		}
	}

	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 11)
	label := "Total"
	if inv.Mixed {
		label = fmt.Sprintf("Net settlement (%s)", inv.Settlement)
	}
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3], 8, label, "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[4], 8, money(inv.Total), "1", 1, "R", false, 0, "")

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}
