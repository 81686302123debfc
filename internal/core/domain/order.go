package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PaymentStatus is empty until the order is settled.
type PaymentStatus string

const (
	PaymentStatusUnset PaymentStatus = ""
	PaymentStatusPaid  PaymentStatus = "paid"
)

// DeliveryStatus tracks fulfilment of the order.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
)

// Order is read by the engine; only the settlement fields are ever written.
type Order struct {
	ID             string            `json:"id"`
	Total          decimal.Decimal   `json:"total"` // settlement currency
	Items          []LineItem        `json:"items"`
	PaymentStatus  PaymentStatus     `json:"payment_status"`
	DeliveryStatus DeliveryStatus    `json:"delivery_status"`
	Settlement     *SettlementRecord `json:"settlement,omitempty"`
}

// LineItem is one ordered product.
type LineItem struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
}

// IsPaid returns true once the order has a settlement.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// ProductQuantity is the total ordered quantity of one product.
type ProductQuantity struct {
	ProductID string
	Quantity  int
}

// QuantitiesByProduct sums line-item quantities per distinct product,
// sorted by product id so row locks are always taken in the same order.
func (o *Order) QuantitiesByProduct() []ProductQuantity {
	totals := make(map[string]int)
	for _, it := range o.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			continue
		}
		totals[it.ProductID] += it.Quantity
	}
	out := make([]ProductQuantity, 0, len(totals))
	for id, q := range totals {
		out = append(out, ProductQuantity{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Product holds the inventory counters touched at settlement.
type Product struct {
	ID         string `json:"id"`
	Stock      int    `json:"stock"`
	SalesCount int    `json:"sales_count"`
}

// ApplySale decrements stock (floored at zero) and bumps the sales count.
func (p *Product) ApplySale(qty int) {
	p.Stock -= qty
	if p.Stock < 0 {
		p.Stock = 0
	}
	p.SalesCount += qty
}
