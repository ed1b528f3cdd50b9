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

type WarehouseInput struct {
	Code     string
	Name     string
	Address  string
	IsActive bool
}

type InventoryItemInput struct {
	SKU                 string
	Name                string
	OwnerID             int
	Unit                string
	Cost                decimal.Decimal
	DefaultSharePercent decimal.Decimal
	IsActive            bool
}

// InventoryService manages warehouses and the consignment inventory items
// consumed on invoice lines. Deletes are guarded: an entity that still holds
// stock, or that the catalog still references, cannot be tombstoned.
type InventoryService interface {
	CreateWarehouse(ctx context.Context, input WarehouseInput) (*Warehouse, error)
	UpdateWarehouse(ctx context.Context, id int, input WarehouseInput) (*Warehouse, error)
	// DeleteWarehouse tombstones the warehouse. Fails with StateConflictError
	// while any of its stock levels is nonzero.
	DeleteWarehouse(ctx context.Context, id int) error
	ListWarehouses(ctx context.Context) ([]Warehouse, error)

	CreateItem(ctx context.Context, input InventoryItemInput) (*InventoryItem, error)
	GetItem(ctx context.Context, id int) (*InventoryItem, error)
	UpdateItem(ctx context.Context, id int, input InventoryItemInput) (*InventoryItem, error)
	// DeleteItem tombstones the item. Fails with StateConflictError while the
	// item holds stock in any warehouse, a product component references it,
	// or a component on a live invoice consumes it.
	DeleteItem(ctx context.Context, id int) error
	ListItems(ctx context.Context) ([]InventoryItem, error)
}

type inventoryService struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
	seq  SequenceService
}

func NewInventoryService(pool *pgxpool.Pool, log *logrus.Logger, seq SequenceService) InventoryService {
	return &inventoryService{pool: pool, log: log, seq: seq}
}

// ── Warehouses ────────────────────────────────────────────────────────────────

func (s *inventoryService) CreateWarehouse(ctx context.Context, input WarehouseInput) (*Warehouse, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}

	var w Warehouse
	err := retryTx(s.log, sequenceScopes[ScopeWarehouse].prefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		code := input.Code
		if code == "" {
			code, err = s.seq.NextTx(ctx, tx, ScopeWarehouse)
			if err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO warehouses (code, name, address, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING id, code, name, COALESCE(address, ''), is_active, created_at
		`, code, input.Name, input.Address, input.IsActive).
			Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert warehouse: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *inventoryService) UpdateWarehouse(ctx context.Context, id int, input WarehouseInput) (*Warehouse, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}

	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		UPDATE warehouses
		SET name = $1, address = $2, is_active = $3, updated_at = NOW()
		WHERE id = $4 AND deleted_at IS NULL
		RETURNING id, code, name, COALESCE(address, ''), is_active, created_at
	`, input.Name, input.Address, input.IsActive, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "warehouse", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update warehouse: %w", err)
	}
	return &w, nil
}

func (s *inventoryService) DeleteWarehouse(ctx context.Context, id int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1 AND deleted_at IS NULL)", id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check warehouse: %w", err)
	}
	if !exists {
		return &NotFoundError{Entity: "warehouse", Key: id}
	}

	var nonzero int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_levels WHERE warehouse_id = $1 AND qty_on_hand <> 0", id,
	).Scan(&nonzero); err != nil {
		return fmt.Errorf("failed to check warehouse stock: %w", err)
	}
	if nonzero > 0 {
		return &StateConflictError{Message: fmt.Sprintf("warehouse %d still holds stock for %d item(s)", id, nonzero)}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE warehouses SET deleted_at = NOW() WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete warehouse: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *inventoryService) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, COALESCE(address, ''), is_active, created_at
		FROM warehouses
		WHERE deleted_at IS NULL
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

// ── Inventory items ───────────────────────────────────────────────────────────

func (s *inventoryService) validateItem(ctx context.Context, input InventoryItemInput) error {
	if input.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if input.Cost.IsNegative() {
		return &ValidationError{Field: "cost", Message: "must not be negative"}
	}
	if input.DefaultSharePercent.IsNegative() || input.DefaultSharePercent.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "default_share_percent", Message: "must be between 0 and 100"}
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1 AND deleted_at IS NULL)",
		input.OwnerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check owner partner: %w", err)
	}
	if !exists {
		return &NotFoundError{Entity: "partner", Key: input.OwnerID}
	}
	return nil
}

func (s *inventoryService) CreateItem(ctx context.Context, input InventoryItemInput) (*InventoryItem, error) {
	if err := s.validateItem(ctx, input); err != nil {
		return nil, err
	}

	var id int
	err := retryTx(s.log, sequenceScopes[ScopeInventoryItem].prefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		sku := input.SKU
		if sku == "" {
			sku, err = s.seq.NextTx(ctx, tx, ScopeInventoryItem)
			if err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO inventory_items (sku, name, owner_id, unit, cost, default_share_percent, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, sku, input.Name, input.OwnerID, input.Unit,
			input.Cost, input.DefaultSharePercent, input.IsActive).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert inventory item: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, id)
}

func (s *inventoryService) GetItem(ctx context.Context, id int) (*InventoryItem, error) {
	var it InventoryItem
	err := s.pool.QueryRow(ctx, `
		SELECT ii.id, ii.sku, ii.name, ii.owner_id, p.name, COALESCE(ii.unit, ''),
		       ii.cost, ii.default_share_percent, ii.is_active, ii.created_at, ii.deleted_at
		FROM inventory_items ii
		JOIN partners p ON p.id = ii.owner_id
		WHERE ii.id = $1 AND ii.deleted_at IS NULL
	`, id).Scan(
		&it.ID, &it.SKU, &it.Name, &it.OwnerID, &it.OwnerName, &it.Unit,
		&it.Cost, &it.DefaultSharePercent, &it.IsActive, &it.CreatedAt, &it.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "inventory item", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inventory item: %w", err)
	}
	return &it, nil
}

func (s *inventoryService) UpdateItem(ctx context.Context, id int, input InventoryItemInput) (*InventoryItem, error) {
	if err := s.validateItem(ctx, input); err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory_items
		SET name = $1, owner_id = $2, unit = $3, cost = $4,
		    default_share_percent = $5, is_active = $6, updated_at = NOW()
		WHERE id = $7 AND deleted_at IS NULL
	`, input.Name, input.OwnerID, input.Unit, input.Cost,
		input.DefaultSharePercent, input.IsActive, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &NotFoundError{Entity: "inventory item", Key: id}
	}
	return s.GetItem(ctx, id)
}

func (s *inventoryService) DeleteItem(ctx context.Context, id int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1 AND deleted_at IS NULL)", id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check inventory item: %w", err)
	}
	if !exists {
		return &NotFoundError{Entity: "inventory item", Key: id}
	}

	var nonzero int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_levels WHERE inventory_item_id = $1 AND qty_on_hand <> 0", id,
	).Scan(&nonzero); err != nil {
		return fmt.Errorf("failed to check item stock: %w", err)
	}
	if nonzero > 0 {
		return &StateConflictError{Message: fmt.Sprintf("inventory item %d still holds stock in %d warehouse(s)", id, nonzero)}
	}

	var refs int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM product_components WHERE inventory_item_id = $1", id,
	).Scan(&refs); err != nil {
		return fmt.Errorf("failed to check product component references: %w", err)
	}
	if refs > 0 {
		return &StateConflictError{Message: fmt.Sprintf("inventory item %d is referenced by %d product component(s)", id, refs)}
	}

	// A component on a live invoice still needs the item for reversal when
	// that invoice is edited or deleted; tombstoning it would strand the
	// invoice. Components under tombstoned invoices are history and don't
	// block.
	var invoiceRefs int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM invoice_item_components c
		JOIN invoice_items it ON it.id = c.invoice_item_id
		JOIN invoices i       ON i.id = it.invoice_id
		WHERE c.inventory_item_id = $1 AND i.deleted_at IS NULL
	`, id).Scan(&invoiceRefs); err != nil {
		return fmt.Errorf("failed to check invoice component references: %w", err)
	}
	if invoiceRefs > 0 {
		return &StateConflictError{Message: fmt.Sprintf("inventory item %d is used by %d invoice component(s)", id, invoiceRefs)}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE inventory_items SET deleted_at = NOW() WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete inventory item: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *inventoryService) ListItems(ctx context.Context) ([]InventoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ii.id, ii.sku, ii.name, ii.owner_id, p.name, COALESCE(ii.unit, ''),
		       ii.cost, ii.default_share_percent, ii.is_active, ii.created_at, ii.deleted_at
		FROM inventory_items ii
		JOIN partners p ON p.id = ii.owner_id
		WHERE ii.deleted_at IS NULL
		ORDER BY ii.sku
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory items: %w", err)
	}
	defer rows.Close()

	var items []InventoryItem
	for rows.Next() {
		var it InventoryItem
		if err := rows.Scan(
			&it.ID, &it.SKU, &it.Name, &it.OwnerID, &it.OwnerName, &it.Unit,
			&it.Cost, &it.DefaultSharePercent, &it.IsActive, &it.CreatedAt, &it.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
