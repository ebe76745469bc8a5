// Package valuation derives inventory levels from transaction history.
//
// Every figure is recomputed from the full transaction set; nothing here is cached
// or stored. Only sums are used, so the order of transactions never matters.
package valuation

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/backend/internal/domain"
)

// Summarize folds the transactions belonging to product into its inventory item.
// Transactions for other products are ignored.
func Summarize(product domain.Product, txs []domain.Transaction) domain.InventoryItem {
	stock := decimal.Zero
	purchasedQty := decimal.Zero
	purchaseCost := decimal.Zero
	soldQty := decimal.Zero

	for _, tx := range txs {
		if tx.ProductID != product.ID {
			continue
		}
		net := tx.NetQuantity()
		switch tx.Type {
		case domain.TransactionPurchase:
			stock = stock.Add(net)
			purchasedQty = purchasedQty.Add(net)
			// extra charge is overhead, not material cost
			purchaseCost = purchaseCost.Add(net.Mul(tx.UnitPrice))
		case domain.TransactionSale:
			stock = stock.Sub(net)
			soldQty = soldQty.Add(net)
		}
	}

	avgCost := decimal.Zero
	if purchasedQty.IsPositive() {
		avgCost = purchaseCost.Div(purchasedQty)
	}

	return domain.InventoryItem{
		Product:        product,
		Stock:          stock,
		AvgCost:        avgCost,
		TotalValue:     stock.Mul(avgCost),
		TotalPurchased: purchasedQty,
		TotalSold:      soldQty,
		Status:         Classify(stock, product.MinStockLevel),
	}
}

// Classify maps a stock level to its status. Stock equal to the minimum is ok.
func Classify(stock decimal.Decimal, minStockLevel decimal.Decimal) domain.StockStatus {
	switch {
	case !stock.IsPositive():
		return domain.StockOut
	case stock.LessThan(minStockLevel):
		return domain.StockLow
	default:
		return domain.StockOK
	}
}

// StockOf returns the current stock of one product.
func StockOf(productID string, txs []domain.Transaction) decimal.Decimal {
	return Summarize(domain.Product{ID: productID}, txs).Stock
}

// SummarizeAll summarizes every product, ordered by name then id.
func SummarizeAll(products []domain.Product, txs []domain.Transaction) []domain.InventoryItem {
	byProduct := make(map[string][]domain.Transaction, len(products))
	for _, tx := range txs {
		byProduct[tx.ProductID] = append(byProduct[tx.ProductID], tx)
	}

	items := make([]domain.InventoryItem, 0, len(products))
	for _, p := range products {
		items = append(items, Summarize(p, byProduct[p.ID]))
	}

	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items
}
