package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"backoffice/internal/config"
	"backoffice/internal/core"
	"backoffice/internal/db"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type services struct {
	settings  core.SettingsService
	sequences core.SequenceService
	stock     core.StockService
	partners  core.PartnerService
	catalog   core.CatalogService
	inventory core.InventoryService
	invoices  core.InvoiceService
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	seq := core.NewSequenceService(pool, log, cfg.NumberDigits)
	stock := core.NewStockService(pool, log, int32(cfg.StockLevelPrecision))
	settings := core.NewSettingsService(pool)
	svc := services{
		settings:  settings,
		sequences: seq,
		stock:     stock,
		partners:  core.NewPartnerService(pool, log, seq),
		catalog:   core.NewCatalogService(pool, log, seq),
		inventory: core.NewInventoryService(pool, log, seq),
		invoices:  core.NewInvoiceService(pool, log, seq, stock, settings, cfg.DueDays),
	}

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "seed":
		runSeed(ctx, log, svc)
	case "partners":
		runPartners(ctx, log, svc)
	case "items":
		runItems(ctx, log, svc)
	case "levels":
		runLevels(ctx, log, svc)
	case "movements":
		if len(os.Args) < 4 {
			log.Fatal("usage: backoffice movements <item-id> <warehouse-id>")
		}
		runMovements(ctx, log, svc, mustAtoi(log, os.Args[2]), mustAtoi(log, os.Args[3]))
	case "adjust":
		if len(os.Args) < 5 {
			log.Fatal("usage: backoffice adjust <item-id> <warehouse-id> <qty>")
		}
		runAdjust(ctx, log, svc, mustAtoi(log, os.Args[2]), mustAtoi(log, os.Args[3]), os.Args[4])
	case "invoices":
		runInvoices(ctx, log, svc)
	case "invoice":
		if len(os.Args) < 3 {
			log.Fatal("usage: backoffice invoice <invoice-number>")
		}
		runInvoice(ctx, log, svc, os.Args[2])
	case "settings":
		runSettings(ctx, log, svc)
	default:
		usage()
	}
}

func usage() {
	fmt.Println(`Usage: backoffice <command>

Commands:
  seed                                   create demo master data and an invoice
  partners                               list partners
  items                                  list inventory items
  levels                                 list stock levels
  movements <item-id> <warehouse-id>     list the movement ledger for a pair
  adjust <item-id> <warehouse-id> <qty>  record a manual stock adjustment
  invoices                               list invoices
  invoice <invoice-number>               show one invoice with items
  settings                               show company settings`)
}

func mustAtoi(log *logrus.Logger, s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("not a number: %s", s)
	}
	return n
}

func runSeed(ctx context.Context, log *logrus.Logger, svc services) {
	owner, err := svc.partners.Create(ctx, core.PartnerInput{
		Type: core.PartnerSupplierClient,
		Name: "Demo Consignment Partner",
	})
	if err != nil {
		log.Fatalf("seed partner: %v", err)
	}
	client, err := svc.partners.Create(ctx, core.PartnerInput{
		Type: core.PartnerClient,
		Name: "Demo Client",
	})
	if err != nil {
		log.Fatalf("seed client: %v", err)
	}

	wh, err := svc.inventory.CreateWarehouse(ctx, core.WarehouseInput{
		Name: "Main Warehouse", IsActive: true,
	})
	if err != nil {
		log.Fatalf("seed warehouse: %v", err)
	}

	item, err := svc.inventory.CreateItem(ctx, core.InventoryItemInput{
		Name:                "Demo Component",
		OwnerID:             owner.ID,
		Unit:                "pcs",
		Cost:                decimal.NewFromInt(25),
		DefaultSharePercent: decimal.NewFromInt(50),
		IsActive:            true,
	})
	if err != nil {
		log.Fatalf("seed item: %v", err)
	}

	_, _, err = svc.stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: item.ID,
		WarehouseID:     wh.ID,
		Quantity:        decimal.NewFromInt(100),
		Reason:          core.ReasonAdjustment,
		Notes:           "Opening balance",
	})
	if err != nil {
		log.Fatalf("seed opening stock: %v", err)
	}

	product, err := svc.catalog.CreateProduct(ctx, core.ProductInput{
		Name:        "Demo Package",
		SalesPrice:  decimal.NewFromInt(150),
		RentalPrice: decimal.NewFromInt(40),
		UOM:         "set",
	})
	if err != nil {
		log.Fatalf("seed product: %v", err)
	}
	if _, err := svc.catalog.SetProductComponents(ctx, product.ID, []core.ComponentSlotInput{
		{Slot: 1, InventoryItemID: item.ID, QtyPerProduct: decimal.NewFromInt(2)},
	}); err != nil {
		log.Fatalf("seed product components: %v", err)
	}

	inv, err := svc.invoices.Create(ctx, core.InvoiceSpec{
		PartnerID:       client.ID,
		ReferenceNumber: uuid.NewString(),
		InvoiceDate:     time.Now().Format("2006-01-02"),
		OrderType:       core.OrderSales,
		Lines: []core.LineItemInput{{
			ProductID: &product.ID,
			Quantity:  decimal.NewFromInt(3),
			UnitPrice: product.SalesPrice,
			Components: []core.ComponentInput{{
				InventoryItemID: item.ID,
				WarehouseID:     wh.ID,
				Qty:             decimal.NewFromInt(6),
			}},
		}},
	})
	if err != nil {
		log.Fatalf("seed invoice: %v", err)
	}

	fmt.Printf("Seeded: partner %s, client %s, warehouse %s, item %s, product %s, invoice %s\n",
		owner.Code, client.Code, wh.Code, item.SKU, product.Code, inv.InvoiceNumber)
}

func runPartners(ctx context.Context, log *logrus.Logger, svc services) {
	partners, err := svc.partners.List(ctx)
	if err != nil {
		log.Fatalf("list partners: %v", err)
	}
	for _, p := range partners {
		fmt.Printf("%-10s %-20s %s\n", p.Code, p.Type, p.Name)
	}
}

func runItems(ctx context.Context, log *logrus.Logger, svc services) {
	items, err := svc.inventory.ListItems(ctx)
	if err != nil {
		log.Fatalf("list items: %v", err)
	}
	for _, it := range items {
		fmt.Printf("%-10s %-30s owner=%s share=%s%% cost=%s\n",
			it.SKU, it.Name, it.OwnerName, it.DefaultSharePercent.String(), it.Cost.StringFixed(2))
	}
}

func runLevels(ctx context.Context, log *logrus.Logger, svc services) {
	levels, err := svc.stock.ListLevels(ctx)
	if err != nil {
		log.Fatalf("list levels: %v", err)
	}
	for _, l := range levels {
		flag := ""
		if l.OnHand.IsNegative() {
			flag = "  NEGATIVE"
		} else if l.OnHand.LessThan(l.MinThreshold) {
			flag = "  BELOW THRESHOLD"
		}
		fmt.Printf("%-10s @ %-8s on_hand=%s reserved=%s%s\n",
			l.ItemSKU, l.WarehouseCode, l.OnHand.String(), l.Reserved.String(), flag)
	}
}

func runMovements(ctx context.Context, log *logrus.Logger, svc services, itemID, warehouseID int) {
	movements, err := svc.stock.ListMovements(ctx, itemID, warehouseID)
	if err != nil {
		log.Fatalf("list movements: %v", err)
	}
	for _, m := range movements {
		ref := ""
		if m.RefType != nil && m.RefID != nil {
			ref = fmt.Sprintf("  ref=%s/%d", *m.RefType, *m.RefID)
		}
		fmt.Printf("%s  %-12s %10s%s  %s\n",
			m.CreatedAt.Format(time.RFC3339), m.Reason, m.Quantity.String(), ref, m.Notes)
	}
}

func runAdjust(ctx context.Context, log *logrus.Logger, svc services, itemID, warehouseID int, qtyStr string) {
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		log.Fatalf("not a quantity: %s", qtyStr)
	}
	mv, lvl, err := svc.stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: itemID,
		WarehouseID:     warehouseID,
		Quantity:        qty,
		Reason:          core.ReasonAdjustment,
		Notes:           "Manual adjustment",
	})
	if err != nil {
		log.Fatalf("record adjustment: %v", err)
	}
	fmt.Printf("Movement %d recorded; item %d @ warehouse %d now %s on hand (%s available)\n",
		mv.ID, itemID, warehouseID, lvl.QtyOnHand.String(), lvl.AvailableQty().String())
}

func runInvoices(ctx context.Context, log *logrus.Logger, svc services) {
	invoices, err := svc.invoices.List(ctx, nil, nil)
	if err != nil {
		log.Fatalf("list invoices: %v", err)
	}
	for _, inv := range invoices {
		fmt.Printf("%-16s %-10s %-25s total=%s paid=%s balance=%s\n",
			inv.InvoiceNumber, inv.Status, inv.PartnerName,
			inv.TotalAmount.StringFixed(2), inv.PaidAmount.StringFixed(2), inv.Balance().StringFixed(2))
	}
}

func runInvoice(ctx context.Context, log *logrus.Logger, svc services, number string) {
	inv, err := svc.invoices.GetByNumber(ctx, number)
	if err != nil {
		log.Fatalf("get invoice: %v", err)
	}
	fmt.Printf("%s  %s  %s (due %s)\n", inv.InvoiceNumber, inv.Status, inv.InvoiceDate, inv.DueDate)
	fmt.Printf("Partner: %s\n", inv.PartnerName)
	if inv.OrderType == core.OrderRental {
		fmt.Printf("Rental: %d day(s)\n", inv.RentalDays())
	}
	for _, it := range inv.Items {
		fmt.Printf("  %-40s %s x %s = %s\n",
			it.DisplayDescription(), it.Quantity.String(), it.UnitPrice.StringFixed(2), it.Total.StringFixed(2))
		for _, c := range it.Components {
			fmt.Printf("    component %s @ %s qty=%s share=%s%% (%s) owner=%s\n",
				c.ItemSKU, c.WarehouseCode, c.Qty.String(),
				c.SharePercent.String(), c.ShareAmount.StringFixed(2), c.OwnerName)
		}
	}
	fmt.Printf("Subtotal %s  Discount %s  Tax %s  Shipping %s\n",
		inv.Subtotal.StringFixed(2), inv.DiscountAmount.StringFixed(2),
		inv.TaxAmount.StringFixed(2), inv.ShippingFee.StringFixed(2))
	fmt.Printf("Total %s  Paid %s  Balance %s\n",
		inv.TotalAmount.StringFixed(2), inv.PaidAmount.StringFixed(2), inv.Balance().StringFixed(2))
}

func runSettings(ctx context.Context, log *logrus.Logger, svc services) {
	cfg, err := svc.settings.Current(ctx)
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	fmt.Printf("Company: %s\nInvoice prefix: %s\n", cfg.CompanyName, cfg.InvoiceNumberPrefix)
	if cfg.TaxNumber != "" {
		fmt.Printf("Tax number: %s\n", cfg.TaxNumber)
	}
}
