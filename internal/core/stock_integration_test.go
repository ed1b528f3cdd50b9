package core_test

import (
	"context"
	"errors"
	"testing"

	"backoffice/internal/core"

	"github.com/shopspring/decimal"
)

func TestStockService_LevelMatchesLedgerSum(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool) // seeds an opening +100
	stock := core.NewStockService(pool, testLogger(), 3)
	ctx := context.Background()

	for _, qty := range []string{"10.5", "-3.25", "0.001"} {
		_, _, err := stock.RecordMovement(ctx, core.MovementInput{
			InventoryItemID: f.itemID,
			WarehouseID:     f.warehouseID,
			Quantity:        d(qty),
			Reason:          core.ReasonAdjustment,
		})
		if err != nil {
			t.Fatalf("failed to record movement %s: %v", qty, err)
		}
	}

	var ledgerSum decimal.Decimal
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_movements
		WHERE inventory_item_id = $1 AND warehouse_id = $2
	`, f.itemID, f.warehouseID).Scan(&ledgerSum)
	if err != nil {
		t.Fatalf("failed to sum ledger: %v", err)
	}

	lvl, err := stock.CurrentLevel(ctx, f.itemID, f.warehouseID)
	if err != nil {
		t.Fatalf("failed to read level: %v", err)
	}
	if !lvl.QtyOnHand.Equal(ledgerSum) {
		t.Errorf("cached level %s != ledger sum %s", lvl.QtyOnHand, ledgerSum)
	}
	if !lvl.QtyOnHand.Equal(d("107.251")) {
		t.Errorf("on hand = %s, want 107.251", lvl.QtyOnHand)
	}
}

func TestStockService_RejectsZeroQuantity(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	stock := core.NewStockService(pool, testLogger(), 3)

	_, _, err := stock.RecordMovement(context.Background(), core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.Zero,
		Reason:          core.ReasonAdjustment,
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for zero quantity, got %v", err)
	}
}

func TestStockService_UnknownItemAndWarehouse(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	stock := core.NewStockService(pool, testLogger(), 3)
	ctx := context.Background()

	_, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: 999999,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(1),
		Reason:          core.ReasonAdjustment,
	})
	var nferr *core.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected NotFoundError for unknown item, got %v", err)
	}

	_, _, err = stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     999999,
		Quantity:        decimal.NewFromInt(1),
		Reason:          core.ReasonAdjustment,
	})
	if !errors.As(err, &nferr) {
		t.Fatalf("expected NotFoundError for unknown warehouse, got %v", err)
	}
}

func TestStockService_NegativeStockAllowed(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	stock := core.NewStockService(pool, testLogger(), 3)
	ctx := context.Background()

	_, lvl, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(-150),
		Reason:          core.ReasonSale,
	})
	if err != nil {
		t.Fatalf("oversell must be recorded, not rejected: %v", err)
	}
	if !lvl.QtyOnHand.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("on hand = %s, want -50", lvl.QtyOnHand)
	}
	if !lvl.IsNegative() {
		t.Error("level should report negative")
	}
}

func TestStockService_CurrentLevelZeroWhenUntouched(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	stock := core.NewStockService(pool, testLogger(), 3)
	ctx := context.Background()

	// A second warehouse no movement has ever touched.
	var whID int
	err := pool.QueryRow(ctx,
		"INSERT INTO warehouses (code, name, is_active) VALUES ('WH-0002', 'Annex', true) RETURNING id",
	).Scan(&whID)
	if err != nil {
		t.Fatalf("failed to seed warehouse: %v", err)
	}

	lvl, err := stock.CurrentLevel(ctx, f.itemID, whID)
	if err != nil {
		t.Fatalf("failed to read level: %v", err)
	}
	if !lvl.QtyOnHand.IsZero() || !lvl.QtyReserved.IsZero() {
		t.Errorf("untouched pair should read as zero, got on_hand=%s reserved=%s", lvl.QtyOnHand, lvl.QtyReserved)
	}

	var rows int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_levels WHERE inventory_item_id = $1 AND warehouse_id = $2",
		f.itemID, whID,
	).Scan(&rows); err != nil {
		t.Fatalf("failed to count level rows: %v", err)
	}
	if rows != 0 {
		t.Errorf("reading a level must not materialize a row, found %d", rows)
	}
}

func TestStockService_RebuildLevelsRepairsDrift(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	stock := core.NewStockService(pool, testLogger(), 3)
	ctx := context.Background()

	_, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        d("-12.5"),
		Reason:          core.ReasonSale,
	})
	if err != nil {
		t.Fatalf("failed to record movement: %v", err)
	}

	// Corrupt the cache behind the service's back.
	if _, err := pool.Exec(ctx,
		"UPDATE stock_levels SET qty_on_hand = 999 WHERE inventory_item_id = $1 AND warehouse_id = $2",
		f.itemID, f.warehouseID,
	); err != nil {
		t.Fatalf("failed to corrupt level: %v", err)
	}

	pairs, err := stock.RebuildLevels(ctx)
	if err != nil {
		t.Fatalf("failed to rebuild levels: %v", err)
	}
	if pairs != 1 {
		t.Errorf("rebuilt pairs = %d, want 1", pairs)
	}

	lvl, err := stock.CurrentLevel(ctx, f.itemID, f.warehouseID)
	if err != nil {
		t.Fatalf("failed to read level: %v", err)
	}
	if !lvl.QtyOnHand.Equal(d("87.5")) {
		t.Errorf("rebuilt on hand = %s, want 87.5", lvl.QtyOnHand)
	}
}

func TestStockService_ListMovementsNewestFirst(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	stock := core.NewStockService(pool, testLogger(), 3)
	ctx := context.Background()

	_, _, err := stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(-4),
		Reason:          core.ReasonSale,
	})
	if err != nil {
		t.Fatalf("failed to record movement: %v", err)
	}

	movements, err := stock.ListMovements(ctx, f.itemID, f.warehouseID)
	if err != nil {
		t.Fatalf("failed to list movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(movements))
	}
	if !movements[0].Quantity.Equal(decimal.NewFromInt(-4)) {
		t.Errorf("newest movement first: got %s", movements[0].Quantity)
	}
}
