package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartnerType tags a counterparty as a client, a supplier, or both.
type PartnerType string

const (
	PartnerClient         PartnerType = "Client"
	PartnerSupplier       PartnerType = "Supplier"
	PartnerSupplierClient PartnerType = "Supplier & Client"
)

// Partner is a counterparty: a customer invoices are billed to, or a
// consignment supplier that owns inventory items.
type Partner struct {
	ID           int
	Code         string
	Type         PartnerType
	Name         string
	Phone        string
	MobilePhone  string
	Email        string
	AddressLine1 string
	AddressLine2 string
	City         string
	Province     string
	PostalCode   string
	Country      string
	Website      string
	Notes        string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

type Category struct {
	ID        int
	Code      string
	Name      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// RentalDuration is the unit a product's rental price is quoted in.
type RentalDuration string

const (
	RentalHour  RentalDuration = "hour"
	RentalDay   RentalDuration = "day"
	RentalWeek  RentalDuration = "week"
	RentalMonth RentalDuration = "month"
)

type Product struct {
	ID             int
	Code           string
	Name           string
	Description    string
	CategoryID     *int
	CategoryName   string
	SalesPrice     decimal.Decimal
	RentalPrice    decimal.Decimal
	UOM            string
	RentalDuration RentalDuration
	Components     []ProductComponent
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// ProductComponent links a product to an inventory item in one of two slots.
// It is a bill-of-materials hint used to pre-fill component entry on invoice
// lines; it is never applied automatically.
type ProductComponent struct {
	ID              int
	ProductID       int
	InventoryItemID int
	Slot            int // 1 or 2
	QtyPerProduct   decimal.Decimal
}

type Warehouse struct {
	ID        int
	Code      string
	Name      string
	Address   string
	IsActive  bool
	CreatedAt time.Time
	DeletedAt *time.Time
}

// InventoryItem is a trackable stock-keeping unit owned by a supplier
// partner and consumed as a component on invoice lines.
type InventoryItem struct {
	ID                  int
	SKU                 string
	Name                string
	OwnerID             int
	OwnerName           string
	Unit                string
	Cost                decimal.Decimal
	DefaultSharePercent decimal.Decimal // 0–100
	IsActive            bool
	CreatedAt           time.Time
	DeletedAt           *time.Time
}
