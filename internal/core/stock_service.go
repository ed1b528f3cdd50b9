package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// movementPrecision is the number of decimal places carried by ledger rows.
const movementPrecision = 3

// StockService is the append-only stock ledger and its derived level cache.
// Recording a movement synchronously folds the quantity into the
// stock_levels aggregate for the (item, warehouse) pair within the same
// transaction; the aggregate is never written through any other path.
//
// Negative resulting balances are allowed: oversold stock is recorded and
// surfaced as a warning, never rejected.
type StockService interface {
	RecordMovement(ctx context.Context, input MovementInput) (*StockMovement, *StockLevel, error)
	// RecordMovementTx records a movement within the caller's transaction.
	// Used by the invoice engine to keep component writes and stock effects
	// atomic with the invoice save.
	RecordMovementTx(ctx context.Context, tx pgx.Tx, input MovementInput) (*StockMovement, *StockLevel, error)
	// CurrentLevel returns the cached aggregate for the pair, or a
	// zero-valued level when no movement has ever touched it.
	CurrentLevel(ctx context.Context, itemID, warehouseID int) (*StockLevel, error)
	ListLevels(ctx context.Context) ([]StockLevelInfo, error)
	ListMovements(ctx context.Context, itemID, warehouseID int) ([]StockMovement, error)
	SetMinThreshold(ctx context.Context, itemID, warehouseID int, threshold decimal.Decimal) error
	// RebuildLevels recomputes every qty_on_hand from the full ledger,
	// repairing any drift in the cache. Returns the number of (item,
	// warehouse) pairs written.
	RebuildLevels(ctx context.Context) (int, error)
}

type stockService struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
	// precision is the number of decimal places kept on the cached
	// aggregate. The ledger always keeps 3.
	precision int32
}

func NewStockService(pool *pgxpool.Pool, log *logrus.Logger, levelPrecision int32) StockService {
	if levelPrecision < 0 {
		levelPrecision = movementPrecision
	}
	return &stockService{pool: pool, log: log, precision: levelPrecision}
}

func (s *stockService) RecordMovement(ctx context.Context, input MovementInput) (*StockMovement, *StockLevel, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	mv, lvl, err := s.RecordMovementTx(ctx, tx, input)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit stock movement: %w", err)
	}
	return mv, lvl, nil
}

func (s *stockService) RecordMovementTx(ctx context.Context, tx pgx.Tx, input MovementInput) (*StockMovement, *StockLevel, error) {
	if input.Quantity.IsZero() {
		return nil, nil, &ValidationError{Field: "quantity", Message: "must be nonzero"}
	}
	if input.Reason == "" {
		return nil, nil, &ValidationError{Field: "reason", Message: "must be set"}
	}
	qty := input.Quantity.Round(movementPrecision)

	// Movements against tombstoned items or warehouses are rejected; the
	// delete guards should make this unreachable in practice.
	var exists bool
	err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1 AND deleted_at IS NULL)",
		input.InventoryItemID,
	).Scan(&exists)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check inventory item: %w", err)
	}
	if !exists {
		return nil, nil, &NotFoundError{Entity: "inventory item", Key: input.InventoryItemID}
	}

	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1 AND deleted_at IS NULL)",
		input.WarehouseID,
	).Scan(&exists)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check warehouse: %w", err)
	}
	if !exists {
		return nil, nil, &NotFoundError{Entity: "warehouse", Key: input.WarehouseID}
	}

	mv := StockMovement{
		InventoryItemID: input.InventoryItemID,
		WarehouseID:     input.WarehouseID,
		Quantity:        qty,
		Reason:          input.Reason,
		Notes:           input.Notes,
		CreatedBy:       input.CreatedBy,
	}
	if input.Ref != nil {
		mv.RefType = &input.Ref.Type
		mv.RefID = &input.Ref.ID
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO stock_movements (inventory_item_id, warehouse_id, quantity, reason, ref_type, ref_id, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, mv.InventoryItemID, mv.WarehouseID, mv.Quantity, mv.Reason, mv.RefType, mv.RefID, mv.Notes, mv.CreatedBy).
		Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert stock movement: %w", err)
	}

	lvl, err := s.applyToLevelTx(ctx, tx, mv.InventoryItemID, mv.WarehouseID, qty)
	if err != nil {
		return nil, nil, err
	}

	if s.log != nil {
		switch {
		case lvl.IsNegative():
			s.log.WithFields(logrus.Fields{
				"inventory_item_id": mv.InventoryItemID,
				"warehouse_id":      mv.WarehouseID,
				"qty_on_hand":       lvl.QtyOnHand.String(),
			}).Warn("stock level is negative")
		case lvl.IsBelowThreshold():
			s.log.WithFields(logrus.Fields{
				"inventory_item_id": mv.InventoryItemID,
				"warehouse_id":      mv.WarehouseID,
				"qty_on_hand":       lvl.QtyOnHand.String(),
				"qty_available":     lvl.AvailableQty().String(),
				"min_threshold":     lvl.MinThreshold.String(),
			}).Warn("stock level below minimum threshold")
		}
	}

	return &mv, lvl, nil
}

// applyToLevelTx is the only write path into stock_levels: a direct
// read-modify-write against the composite key, inserting the row on the
// pair's first movement.
func (s *stockService) applyToLevelTx(ctx context.Context, tx pgx.Tx, itemID, warehouseID int, qty decimal.Decimal) (*StockLevel, error) {
	var lvl StockLevel
	err := tx.QueryRow(ctx, `
		SELECT inventory_item_id, warehouse_id, qty_on_hand, qty_reserved, min_threshold, updated_at
		FROM stock_levels
		WHERE inventory_item_id = $1 AND warehouse_id = $2
	`, itemID, warehouseID).Scan(
		&lvl.InventoryItemID, &lvl.WarehouseID, &lvl.QtyOnHand, &lvl.QtyReserved, &lvl.MinThreshold, &lvl.UpdatedAt,
	)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		lvl = StockLevel{
			InventoryItemID: itemID,
			WarehouseID:     warehouseID,
			QtyOnHand:       qty.Round(s.precision),
			QtyReserved:     decimal.Zero,
			MinThreshold:    decimal.Zero,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO stock_levels (inventory_item_id, warehouse_id, qty_on_hand, qty_reserved, min_threshold, updated_at)
			VALUES ($1, $2, $3, 0, 0, NOW())
		`, itemID, warehouseID, lvl.QtyOnHand)
		if err != nil {
			return nil, fmt.Errorf("failed to insert stock level: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read stock level: %w", err)
	default:
		lvl.QtyOnHand = lvl.QtyOnHand.Add(qty).Round(s.precision)
		_, err = tx.Exec(ctx, `
			UPDATE stock_levels
			SET qty_on_hand = $1, updated_at = NOW()
			WHERE inventory_item_id = $2 AND warehouse_id = $3
		`, lvl.QtyOnHand, itemID, warehouseID)
		if err != nil {
			return nil, fmt.Errorf("failed to update stock level: %w", err)
		}
	}

	return &lvl, nil
}

func (s *stockService) CurrentLevel(ctx context.Context, itemID, warehouseID int) (*StockLevel, error) {
	var lvl StockLevel
	err := s.pool.QueryRow(ctx, `
		SELECT inventory_item_id, warehouse_id, qty_on_hand, qty_reserved, min_threshold, updated_at
		FROM stock_levels
		WHERE inventory_item_id = $1 AND warehouse_id = $2
	`, itemID, warehouseID).Scan(
		&lvl.InventoryItemID, &lvl.WarehouseID, &lvl.QtyOnHand, &lvl.QtyReserved, &lvl.MinThreshold, &lvl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// No movement has ever touched this pair.
		return &StockLevel{
			InventoryItemID: itemID,
			WarehouseID:     warehouseID,
			QtyOnHand:       decimal.Zero,
			QtyReserved:     decimal.Zero,
			MinThreshold:    decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stock level: %w", err)
	}
	return &lvl, nil
}

func (s *stockService) ListLevels(ctx context.Context) ([]StockLevelInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ii.id, ii.sku, ii.name, w.id, w.code, w.name,
		       sl.qty_on_hand, sl.qty_reserved, sl.min_threshold
		FROM stock_levels sl
		JOIN inventory_items ii ON ii.id = sl.inventory_item_id
		JOIN warehouses w       ON w.id = sl.warehouse_id
		ORDER BY ii.sku, w.code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevelInfo
	for rows.Next() {
		var sl StockLevelInfo
		if err := rows.Scan(
			&sl.InventoryItemID, &sl.ItemSKU, &sl.ItemName,
			&sl.WarehouseID, &sl.WarehouseCode, &sl.WarehouseName,
			&sl.OnHand, &sl.Reserved, &sl.MinThreshold,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

func (s *stockService) ListMovements(ctx context.Context, itemID, warehouseID int) ([]StockMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inventory_item_id, warehouse_id, quantity, reason, ref_type, ref_id, COALESCE(notes, ''), created_by, created_at
		FROM stock_movements
		WHERE inventory_item_id = $1 AND warehouse_id = $2
		ORDER BY id DESC
	`, itemID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(
			&m.ID, &m.InventoryItemID, &m.WarehouseID, &m.Quantity, &m.Reason,
			&m.RefType, &m.RefID, &m.Notes, &m.CreatedBy, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *stockService) SetMinThreshold(ctx context.Context, itemID, warehouseID int, threshold decimal.Decimal) error {
	if threshold.IsNegative() {
		return &ValidationError{Field: "min_threshold", Message: "must not be negative"}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_levels
		SET min_threshold = $1, updated_at = NOW()
		WHERE inventory_item_id = $2 AND warehouse_id = $3
	`, threshold.Round(s.precision), itemID, warehouseID)
	if err != nil {
		return fmt.Errorf("failed to set min threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "stock level", Key: fmt.Sprintf("(%d,%d)", itemID, warehouseID)}
	}
	return nil
}

func (s *stockService) RebuildLevels(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Pairs that have a cache row but no surviving movements net to zero.
	if _, err := tx.Exec(ctx, "UPDATE stock_levels SET qty_on_hand = 0, updated_at = NOW()"); err != nil {
		return 0, fmt.Errorf("failed to reset stock levels: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO stock_levels (inventory_item_id, warehouse_id, qty_on_hand, qty_reserved, min_threshold, updated_at)
		SELECT sm.inventory_item_id, sm.warehouse_id, ROUND(SUM(sm.quantity), $1), 0, 0, NOW()
		FROM stock_movements sm
		GROUP BY sm.inventory_item_id, sm.warehouse_id
		ON CONFLICT (inventory_item_id, warehouse_id)
		DO UPDATE SET qty_on_hand = EXCLUDED.qty_on_hand, updated_at = NOW()
	`, s.precision)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild stock levels: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit stock level rebuild: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
