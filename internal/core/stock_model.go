package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementReason string

const (
	ReasonAdjustment MovementReason = "adjustment"
	ReasonSale       MovementReason = "sale"
	ReasonReturn     MovementReason = "return"
	ReasonTransfer   MovementReason = "transfer"
	ReasonOpname     MovementReason = "opname"
)

// RefTypeInvoiceItem marks movements emitted while saving invoice line
// components.
const RefTypeInvoiceItem = "invoice_item"

// StockMovement is one signed quantity change in the append-only ledger.
// Rows are immutable; corrections are new offsetting movements.
type StockMovement struct {
	ID              int
	InventoryItemID int
	WarehouseID     int
	Quantity        decimal.Decimal // signed, 3 decimal places
	Reason          MovementReason
	RefType         *string
	RefID           *int
	Notes           string
	CreatedBy       *int
	CreatedAt       time.Time
}

// MovementRef points at the record that caused a movement, e.g. an invoice
// line.
type MovementRef struct {
	Type string
	ID   int
}

type MovementInput struct {
	InventoryItemID int
	WarehouseID     int
	Quantity        decimal.Decimal // signed, nonzero
	Reason          MovementReason
	Ref             *MovementRef
	Notes           string
	CreatedBy       *int
}

// StockLevel is the derived quantity-on-hand aggregate for one
// (inventory item, warehouse) pair. It exists only as a materialization of
// the movement ledger; no row exists until the first movement for the pair.
type StockLevel struct {
	InventoryItemID int
	WarehouseID     int
	QtyOnHand       decimal.Decimal
	QtyReserved     decimal.Decimal
	MinThreshold    decimal.Decimal
	UpdatedAt       *time.Time
}

func (sl *StockLevel) IsNegative() bool {
	return sl.QtyOnHand.IsNegative()
}

func (sl *StockLevel) IsBelowThreshold() bool {
	return sl.QtyOnHand.LessThan(sl.MinThreshold)
}

// AvailableQty is on-hand minus reserved.
func (sl *StockLevel) AvailableQty() decimal.Decimal {
	return sl.QtyOnHand.Sub(sl.QtyReserved)
}

// StockLevelInfo is the joined read view of a level with item and warehouse
// identity, for listings and threshold reports.
type StockLevelInfo struct {
	InventoryItemID int
	ItemSKU         string
	ItemName        string
	WarehouseID     int
	WarehouseCode   string
	WarehouseName   string
	OnHand          decimal.Decimal
	Reserved        decimal.Decimal
	MinThreshold    decimal.Decimal
}
