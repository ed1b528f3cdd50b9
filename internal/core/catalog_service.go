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

type CategoryInput struct {
	Code string
	Name string
}

type ProductInput struct {
	Code           string
	Name           string
	Description    string
	CategoryID     *int
	SalesPrice     decimal.Decimal
	RentalPrice    decimal.Decimal
	UOM            string
	RentalDuration RentalDuration
}

// ComponentSlotInput assigns an inventory item to one of the two component
// slots of a product.
type ComponentSlotInput struct {
	Slot            int // 1 or 2
	InventoryItemID int
	QtyPerProduct   decimal.Decimal
}

// CatalogService manages categories, products, and the per-product component
// slots. Component slots are a bill-of-materials hint for invoice entry; the
// invoice engine never applies them automatically.
type CatalogService interface {
	CreateCategory(ctx context.Context, input CategoryInput) (*Category, error)
	UpdateCategory(ctx context.Context, id int, input CategoryInput) (*Category, error)
	DeleteCategory(ctx context.Context, id int) error
	ListCategories(ctx context.Context) ([]Category, error)

	CreateProduct(ctx context.Context, input ProductInput) (*Product, error)
	GetProduct(ctx context.Context, id int) (*Product, error)
	UpdateProduct(ctx context.Context, id int, input ProductInput) (*Product, error)
	DeleteProduct(ctx context.Context, id int) error
	ListProducts(ctx context.Context) ([]Product, error)
	// SetProductComponents replaces the product's component slots wholesale.
	// At most two slots, numbered 1 and 2; an empty input clears them.
	SetProductComponents(ctx context.Context, productID int, components []ComponentSlotInput) (*Product, error)
}

type catalogService struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
	seq  SequenceService
}

func NewCatalogService(pool *pgxpool.Pool, log *logrus.Logger, seq SequenceService) CatalogService {
	return &catalogService{pool: pool, log: log, seq: seq}
}

// ── Categories ────────────────────────────────────────────────────────────────

func (s *catalogService) CreateCategory(ctx context.Context, input CategoryInput) (*Category, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}

	var c Category
	err := retryTx(s.log, sequenceScopes[ScopeCategory].prefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		code := input.Code
		if code == "" {
			code, err = s.seq.NextTx(ctx, tx, ScopeCategory)
			if err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx,
			"INSERT INTO categories (code, name) VALUES ($1, $2) RETURNING id, code, name, created_at",
			code, input.Name,
		).Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert category: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, id int, input CategoryInput) (*Category, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}

	var c Category
	err := s.pool.QueryRow(ctx, `
		UPDATE categories SET name = $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
		RETURNING id, code, name, created_at
	`, input.Name, id).Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "category", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return &c, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE categories SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "category", Key: id}
	}
	return nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, code, name, created_at FROM categories WHERE deleted_at IS NULL ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ── Products ──────────────────────────────────────────────────────────────────

func validRentalDuration(d RentalDuration) bool {
	switch d {
	case RentalHour, RentalDay, RentalWeek, RentalMonth:
		return true
	}
	return false
}

func (s *catalogService) validateProduct(ctx context.Context, input ProductInput) error {
	if input.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if input.SalesPrice.IsNegative() || input.RentalPrice.IsNegative() {
		return &ValidationError{Field: "price", Message: "must not be negative"}
	}
	if input.RentalDuration != "" && !validRentalDuration(input.RentalDuration) {
		return &ValidationError{Field: "rental_duration", Message: fmt.Sprintf("unknown rental duration %q", input.RentalDuration)}
	}
	if input.CategoryID != nil {
		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1 AND deleted_at IS NULL)",
			*input.CategoryID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		if !exists {
			return &NotFoundError{Entity: "category", Key: *input.CategoryID}
		}
	}
	return nil
}

func (s *catalogService) CreateProduct(ctx context.Context, input ProductInput) (*Product, error) {
	if err := s.validateProduct(ctx, input); err != nil {
		return nil, err
	}
	duration := input.RentalDuration
	if duration == "" {
		duration = RentalDay
	}

	var id int
	err := retryTx(s.log, sequenceScopes[ScopeProduct].prefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		code := input.Code
		if code == "" {
			code, err = s.seq.NextTx(ctx, tx, ScopeProduct)
			if err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO products (code, name, description, category_id, sales_price, rental_price, uom, rental_duration)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, code, input.Name, input.Description, input.CategoryID,
			input.SalesPrice, input.RentalPrice, input.UOM, duration).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

func (s *catalogService) GetProduct(ctx context.Context, id int) (*Product, error) {
	var p Product
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.code, p.name, COALESCE(p.description, ''), p.category_id, COALESCE(c.name, ''),
		       p.sales_price, p.rental_price, COALESCE(p.uom, ''), p.rental_duration, p.created_at, p.deleted_at
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id AND c.deleted_at IS NULL
		WHERE p.id = $1 AND p.deleted_at IS NULL
	`, id).Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &p.CategoryID, &p.CategoryName,
		&p.SalesPrice, &p.RentalPrice, &p.UOM, &p.RentalDuration, &p.CreatedAt, &p.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "product", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, inventory_item_id, slot, qty_per_product
		FROM product_components
		WHERE product_id = $1
		ORDER BY slot
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query product components: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pc ProductComponent
		if err := rows.Scan(&pc.ID, &pc.ProductID, &pc.InventoryItemID, &pc.Slot, &pc.QtyPerProduct); err != nil {
			return nil, fmt.Errorf("failed to scan product component: %w", err)
		}
		p.Components = append(p.Components, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, id int, input ProductInput) (*Product, error) {
	if err := s.validateProduct(ctx, input); err != nil {
		return nil, err
	}
	duration := input.RentalDuration
	if duration == "" {
		duration = RentalDay
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET name = $1, description = $2, category_id = $3, sales_price = $4,
		    rental_price = $5, uom = $6, rental_duration = $7, updated_at = NOW()
		WHERE id = $8 AND deleted_at IS NULL
	`, input.Name, input.Description, input.CategoryID, input.SalesPrice,
		input.RentalPrice, input.UOM, duration, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &NotFoundError{Entity: "product", Key: id}
	}
	return s.GetProduct(ctx, id)
}

func (s *catalogService) DeleteProduct(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE products SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "product", Key: id}
	}
	return nil
}

func (s *catalogService) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, COALESCE(p.description, ''), p.category_id, COALESCE(c.name, ''),
		       p.sales_price, p.rental_price, COALESCE(p.uom, ''), p.rental_duration, p.created_at, p.deleted_at
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id AND c.deleted_at IS NULL
		WHERE p.deleted_at IS NULL
		ORDER BY p.code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.Code, &p.Name, &p.Description, &p.CategoryID, &p.CategoryName,
			&p.SalesPrice, &p.RentalPrice, &p.UOM, &p.RentalDuration, &p.CreatedAt, &p.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *catalogService) SetProductComponents(ctx context.Context, productID int, components []ComponentSlotInput) (*Product, error) {
	if len(components) > 2 {
		return nil, &ValidationError{Field: "components", Message: "a product has at most two component slots"}
	}
	seen := map[int]bool{}
	for _, c := range components {
		if c.Slot != 1 && c.Slot != 2 {
			return nil, &ValidationError{Field: "slot", Message: fmt.Sprintf("slot must be 1 or 2, got %d", c.Slot)}
		}
		if seen[c.Slot] {
			return nil, &ValidationError{Field: "slot", Message: fmt.Sprintf("slot %d assigned twice", c.Slot)}
		}
		seen[c.Slot] = true
		if !c.QtyPerProduct.IsPositive() {
			return nil, &ValidationError{Field: "qty_per_product", Message: "must be positive"}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)", productID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return nil, &NotFoundError{Entity: "product", Key: productID}
	}

	for _, c := range components {
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1 AND deleted_at IS NULL)",
			c.InventoryItemID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check inventory item: %w", err)
		}
		if !exists {
			return nil, &NotFoundError{Entity: "inventory item", Key: c.InventoryItemID}
		}
	}

	// Slots are replaced wholesale; partial edits are a caller concern.
	if _, err := tx.Exec(ctx, "DELETE FROM product_components WHERE product_id = $1", productID); err != nil {
		return nil, fmt.Errorf("failed to clear product components: %w", err)
	}
	for _, c := range components {
		_, err := tx.Exec(ctx, `
			INSERT INTO product_components (product_id, inventory_item_id, slot, qty_per_product)
			VALUES ($1, $2, $3, $4)
		`, productID, c.InventoryItemID, c.Slot, c.QtyPerProduct)
		if err != nil {
			return nil, fmt.Errorf("failed to insert product component: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit product components: %w", err)
	}
	return s.GetProduct(ctx, productID)
}
