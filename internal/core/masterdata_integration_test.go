package core_test

import (
	"context"
	"errors"
	"testing"

	"backoffice/internal/core"

	"github.com/shopspring/decimal"
)

func TestInventoryService_DeleteItemGuards(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	log := testLogger()
	seq := core.NewSequenceService(pool, log, 4)
	inventory := core.NewInventoryService(pool, log, seq)
	catalog := core.NewCatalogService(pool, log, seq)
	stock := core.NewStockService(pool, log, 3)
	ctx := context.Background()

	// Guard 1: the item holds stock.
	err := inventory.DeleteItem(ctx, f.itemID)
	var conflict *core.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError while stock is on hand, got %v", err)
	}

	// Zero the stock out.
	if _, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(-100),
		Reason:          core.ReasonAdjustment,
		Notes:           "Clear out",
	}); err != nil {
		t.Fatalf("failed to clear stock: %v", err)
	}

	// Guard 2: a product component still references the item.
	if _, err := catalog.SetProductComponents(ctx, f.productID, []core.ComponentSlotInput{
		{Slot: 1, InventoryItemID: f.itemID, QtyPerProduct: decimal.NewFromInt(2)},
	}); err != nil {
		t.Fatalf("failed to set product components: %v", err)
	}
	err = inventory.DeleteItem(ctx, f.itemID)
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError while referenced by a product, got %v", err)
	}

	// Clear the reference; the delete now goes through.
	if _, err := catalog.SetProductComponents(ctx, f.productID, nil); err != nil {
		t.Fatalf("failed to clear product components: %v", err)
	}
	if err := inventory.DeleteItem(ctx, f.itemID); err != nil {
		t.Fatalf("failed to delete item: %v", err)
	}

	// The tombstoned SKU stays burned: the next item continues the sequence.
	item, err := inventory.CreateItem(ctx, core.InventoryItemInput{
		Name:                "Replacement",
		OwnerID:             f.ownerID,
		DefaultSharePercent: decimal.NewFromInt(50),
		IsActive:            true,
	})
	if err != nil {
		t.Fatalf("failed to create replacement item: %v", err)
	}
	if item.SKU != "INV-0002" {
		t.Errorf("replacement sku = %s, want INV-0002", item.SKU)
	}
}

// An item consumed by a component of a live invoice cannot be tombstoned,
// even at net-zero stock: editing or deleting that invoice still has to
// reverse the component, and reversal movements require a live item.
func TestInventoryService_DeleteItemBlockedByInvoiceComponent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	log := testLogger()
	inventory := core.NewInventoryService(pool, log, core.NewSequenceService(pool, log, 4))
	stock := core.NewStockService(pool, log, 3)
	invoices := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := invoices.Create(ctx, salesSpec(f)) // consumes 6, level 94
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}
	if _, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(-94),
		Reason:          core.ReasonAdjustment,
		Notes:           "Clear out",
	}); err != nil {
		t.Fatalf("failed to clear stock: %v", err)
	}

	err = inventory.DeleteItem(ctx, f.itemID)
	var conflict *core.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError while a live invoice uses the item, got %v", err)
	}

	// The invoice is still fully operable: deleting it reverses the
	// component back into stock.
	if err := invoices.Delete(ctx, inv.ID); err != nil {
		t.Fatalf("failed to delete invoice: %v", err)
	}
	if got := onHand(t, pool, f.itemID, f.warehouseID); !got.Equal(decimal.NewFromInt(6)) {
		t.Errorf("on hand = %s, want 6 after the reversal", got)
	}

	// With the invoice tombstoned its component no longer blocks; only the
	// remaining stock does.
	if _, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(-6),
		Reason:          core.ReasonAdjustment,
	}); err != nil {
		t.Fatalf("failed to zero stock: %v", err)
	}
	if err := inventory.DeleteItem(ctx, f.itemID); err != nil {
		t.Fatalf("failed to delete item once unused: %v", err)
	}
}

func TestInventoryService_DeleteWarehouseGuard(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	log := testLogger()
	inventory := core.NewInventoryService(pool, log, core.NewSequenceService(pool, log, 4))
	stock := core.NewStockService(pool, log, 3)
	ctx := context.Background()

	err := inventory.DeleteWarehouse(ctx, f.warehouseID)
	var conflict *core.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError while the warehouse holds stock, got %v", err)
	}

	if _, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(-100),
		Reason:          core.ReasonTransfer,
		Notes:           "Moved out",
	}); err != nil {
		t.Fatalf("failed to clear stock: %v", err)
	}

	if err := inventory.DeleteWarehouse(ctx, f.warehouseID); err != nil {
		t.Fatalf("failed to delete emptied warehouse: %v", err)
	}
}

func TestCatalogService_SetProductComponentsValidation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	log := testLogger()
	catalog := core.NewCatalogService(pool, log, core.NewSequenceService(pool, log, 4))
	ctx := context.Background()

	var verr *core.ValidationError
	_, err := catalog.SetProductComponents(ctx, f.productID, []core.ComponentSlotInput{
		{Slot: 3, InventoryItemID: f.itemID, QtyPerProduct: decimal.NewFromInt(1)},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for slot 3, got %v", err)
	}

	_, err = catalog.SetProductComponents(ctx, f.productID, []core.ComponentSlotInput{
		{Slot: 1, InventoryItemID: f.itemID, QtyPerProduct: decimal.NewFromInt(1)},
		{Slot: 1, InventoryItemID: f.itemID, QtyPerProduct: decimal.NewFromInt(2)},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate slot, got %v", err)
	}

	product, err := catalog.SetProductComponents(ctx, f.productID, []core.ComponentSlotInput{
		{Slot: 1, InventoryItemID: f.itemID, QtyPerProduct: decimal.NewFromInt(2)},
	})
	if err != nil {
		t.Fatalf("failed to set components: %v", err)
	}
	if len(product.Components) != 1 || product.Components[0].Slot != 1 {
		t.Fatalf("components = %+v, want one slot-1 entry", product.Components)
	}

	// Replacement is wholesale: assigning slot 2 alone drops slot 1.
	product, err = catalog.SetProductComponents(ctx, f.productID, []core.ComponentSlotInput{
		{Slot: 2, InventoryItemID: f.itemID, QtyPerProduct: decimal.NewFromInt(1)},
	})
	if err != nil {
		t.Fatalf("failed to replace components: %v", err)
	}
	if len(product.Components) != 1 || product.Components[0].Slot != 2 {
		t.Fatalf("components = %+v, want only the slot-2 entry", product.Components)
	}
}

func TestSettingsService_CacheInvalidation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	settings := core.NewSettingsService(pool)
	ctx := context.Background()

	first, err := settings.Current(ctx)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if first.InvoiceNumberPrefix != "INV" {
		t.Errorf("default prefix = %s, want INV", first.InvoiceNumberPrefix)
	}

	// A write behind the cache is not visible until invalidation.
	if _, err := pool.Exec(ctx,
		"UPDATE company_settings SET company_name = 'Renamed Co' WHERE id = 1"); err != nil {
		t.Fatalf("failed to update settings row: %v", err)
	}
	cached, err := settings.Current(ctx)
	if err != nil {
		t.Fatalf("failed to re-read settings: %v", err)
	}
	if cached.CompanyName != first.CompanyName {
		t.Errorf("expected the cached name %q, got %q", first.CompanyName, cached.CompanyName)
	}

	settings.Invalidate()
	fresh, err := settings.Current(ctx)
	if err != nil {
		t.Fatalf("failed to reload settings: %v", err)
	}
	if fresh.CompanyName != "Renamed Co" {
		t.Errorf("after invalidation name = %q, want Renamed Co", fresh.CompanyName)
	}
}

func TestSettingsService_UpdateRequiresPrefix(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	settings := core.NewSettingsService(pool)
	ctx := context.Background()

	_, err := settings.Update(ctx, core.Settings{CompanyName: "X"})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty prefix, got %v", err)
	}

	updated, err := settings.Update(ctx, core.Settings{
		CompanyName:         "Party Rentals",
		InvoiceNumberPrefix: "PR",
	})
	if err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}
	if updated.CompanyName != "Party Rentals" || updated.InvoiceNumberPrefix != "PR" {
		t.Errorf("updated settings = %+v", updated)
	}
}
