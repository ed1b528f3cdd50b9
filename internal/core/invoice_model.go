package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceUnpaid  InvoiceStatus = "unpaid"
	InvoicePartial InvoiceStatus = "partial"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceVoid    InvoiceStatus = "void"
)

type OrderType string

const (
	OrderSales  OrderType = "sales"
	OrderRental OrderType = "rental"
)

// Invoice is the commercial document: terms, computed totals, and payment
// state. Totals are always derived from the item rows via CalculateTotals,
// never tracked independently.
type Invoice struct {
	ID              int
	InvoiceNumber   string
	ReferenceNumber string
	PartnerID       int
	PartnerName     string
	InvoiceDate     string // YYYY-MM-DD
	DueDate         string
	OrderType       OrderType
	RentalStartDate *string
	RentalEndDate   *string
	DeliveryTime    *string
	ReturnTime      *string
	Notes           string
	Terms           string
	Status          InvoiceStatus
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingFee     decimal.Decimal
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	UserID          int
	Items           []InvoiceItem
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

type InvoiceItem struct {
	ID          int
	InvoiceID   int
	ProductID   *int
	ProductName string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal // quantity × unit price × rental multiplier
	SortOrder   int
	Components  []InvoiceItemComponent
}

// DisplayDescription prefers the linked product name over the free-text
// description.
func (it *InvoiceItem) DisplayDescription() string {
	if it.ProductID != nil && it.ProductName != "" {
		return it.ProductName
	}
	return it.Description
}

// InvoiceItemComponent records the consumption of an owned inventory item on
// an invoice line, along with the owner's revenue share. Owner is copied from
// the inventory item at creation time so later ownership changes do not
// rewrite history.
type InvoiceItemComponent struct {
	ID              int
	InvoiceItemID   int
	InventoryItemID int
	ItemSKU         string
	ItemName        string
	WarehouseID     int
	WarehouseCode   string
	OwnerID         int
	OwnerName       string
	Qty             decimal.Decimal
	SharePercent    decimal.Decimal
	ShareAmount     decimal.Decimal // item total × share percent / 100
}

// CalculateTotals recomputes subtotal and total from the current item rows.
// Idempotent: safe to call any number of times.
func (inv *Invoice) CalculateTotals() {
	subtotal := decimal.Zero
	for _, it := range inv.Items {
		subtotal = subtotal.Add(it.Total)
	}
	inv.Subtotal = subtotal
	inv.TotalAmount = subtotal.Sub(inv.DiscountAmount).Add(inv.TaxAmount).Add(inv.ShippingFee)
}

// UpdateStatus derives the payment status from paid amount vs total. It never
// produces void; void is only reachable through an explicit override on
// UpdatePayment.
func (inv *Invoice) UpdateStatus() {
	switch {
	case inv.PaidAmount.LessThanOrEqual(decimal.Zero):
		inv.Status = InvoiceUnpaid
	case inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount):
		inv.Status = InvoicePaid
	default:
		inv.Status = InvoicePartial
	}
}

// IsEditable reports whether line items may still be changed. Paid and void
// invoices are immutable.
func (inv *Invoice) IsEditable() bool {
	return inv.Status == InvoiceUnpaid || inv.Status == InvoicePartial
}

// Balance is the outstanding unpaid amount.
func (inv *Invoice) Balance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

// RentalDays returns the rental span in days, counting both the start and end
// day. Zero when either date is missing or malformed.
func (inv *Invoice) RentalDays() int {
	if inv.RentalStartDate == nil || inv.RentalEndDate == nil {
		return 0
	}
	start, err := time.Parse("2006-01-02", *inv.RentalStartDate)
	if err != nil {
		return 0
	}
	end, err := time.Parse("2006-01-02", *inv.RentalEndDate)
	if err != nil {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// InvoiceSpec is the caller-supplied shape for Create and Update. Line items
// are replaced wholesale; Update never diffs against existing rows.
type InvoiceSpec struct {
	PartnerID       int
	ReferenceNumber string
	InvoiceDate     string // YYYY-MM-DD
	DueDate         string
	OrderType       OrderType
	RentalStartDate string // required for rental orders
	RentalDuration  int    // day count; end date = start + duration
	DeliveryTime    string
	ReturnTime      string
	Notes           string
	Terms           string
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingFee     decimal.Decimal
	CreatedBy       int
	Lines           []LineItemInput
}

type LineItemInput struct {
	ProductID   *int // nil for free-text lines
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Components  []ComponentInput
}

type ComponentInput struct {
	InventoryItemID int
	WarehouseID     int
	Qty             decimal.Decimal
	SharePercent    *decimal.Decimal // nil = use the item's default share
}

// rentalMultiplier is the factor applied to quantity × unit price on every
// line of a rental order. The duration count is applied as-is regardless of
// the product's rental duration unit.
func (s *InvoiceSpec) rentalMultiplier() decimal.Decimal {
	if s.OrderType == OrderRental && s.RentalDuration > 0 {
		return decimal.NewFromInt(int64(s.RentalDuration))
	}
	return decimal.NewFromInt(1)
}
