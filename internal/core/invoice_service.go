package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// InvoiceService is the invoice engine. Every mutating operation runs in a
// single transaction: document numbering, item and component writes, and the
// stock movements they emit commit together or not at all.
type InvoiceService interface {
	// Create validates the spec, mints the invoice number inside the
	// transaction, writes items and components, and emits one negative sale
	// movement per component.
	Create(ctx context.Context, spec InvoiceSpec) (*Invoice, error)
	// Update replaces the line items wholesale: every existing component is
	// first reversed with a positive adjustment movement, then items are
	// deleted and rebuilt exactly as Create would. Rejected with
	// StateConflictError unless the invoice is editable.
	Update(ctx context.Context, id int, spec InvoiceSpec) (*Invoice, error)
	// Delete reverses component stock like Update, then tombstones the
	// invoice. Items are kept under the tombstone.
	Delete(ctx context.Context, id int) error
	// UpdatePayment records the paid amount. A non-nil explicit status wins
	// verbatim (including void); otherwise the status is derived from paid
	// vs total.
	UpdatePayment(ctx context.Context, id int, paidAmount decimal.Decimal, explicitStatus *InvoiceStatus) (*Invoice, error)
	// UpdateComponentShare adjusts one component's owner share. The component
	// must belong to the given invoice.
	UpdateComponentShare(ctx context.Context, invoiceID, componentID int, percent decimal.Decimal) (*Invoice, error)
	Get(ctx context.Context, id int) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	List(ctx context.Context, status *InvoiceStatus, partnerID *int) ([]Invoice, error)
}

type invoiceService struct {
	pool     *pgxpool.Pool
	log      *logrus.Logger
	seq      SequenceService
	stock    StockService
	settings SettingsService
	dueDays  int
}

func NewInvoiceService(pool *pgxpool.Pool, log *logrus.Logger, seq SequenceService,
	stock StockService, settings SettingsService, dueDays int) InvoiceService {
	if dueDays <= 0 {
		dueDays = 30
	}
	return &invoiceService{pool: pool, log: log, seq: seq, stock: stock, settings: settings, dueDays: dueDays}
}

// normalizedSpec carries the validated spec plus the derived dates and rental
// multiplier.
type normalizedSpec struct {
	InvoiceSpec
	invoiceDate time.Time
	dueDate     string
	rentalStart *string
	rentalEnd   *string
	mult        decimal.Decimal
}

func (s *invoiceService) normalize(spec InvoiceSpec) (*normalizedSpec, error) {
	if spec.PartnerID <= 0 {
		return nil, &ValidationError{Field: "partner_id", Message: "must be set"}
	}
	if len(spec.Lines) == 0 {
		return nil, &ValidationError{Field: "lines", Message: "invoice needs at least one line item"}
	}
	if spec.OrderType == "" {
		spec.OrderType = OrderSales
	}
	if spec.OrderType != OrderSales && spec.OrderType != OrderRental {
		return nil, &ValidationError{Field: "order_type", Message: fmt.Sprintf("unknown order type %q", spec.OrderType)}
	}

	invDate, err := time.Parse(dateLayout, spec.InvoiceDate)
	if err != nil {
		return nil, &ValidationError{Field: "invoice_date", Message: "must be a YYYY-MM-DD date"}
	}
	due := spec.DueDate
	if due == "" {
		due = invDate.AddDate(0, 0, s.dueDays).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, due); err != nil {
		return nil, &ValidationError{Field: "due_date", Message: "must be a YYYY-MM-DD date"}
	}

	n := &normalizedSpec{
		InvoiceSpec: spec,
		invoiceDate: invDate,
		dueDate:     due,
		mult:        spec.rentalMultiplier(),
	}

	if spec.OrderType == OrderRental {
		if spec.RentalStartDate == "" {
			return nil, &ValidationError{Field: "rental_start_date", Message: "required for rental orders"}
		}
		start, err := time.Parse(dateLayout, spec.RentalStartDate)
		if err != nil {
			return nil, &ValidationError{Field: "rental_start_date", Message: "must be a YYYY-MM-DD date"}
		}
		if spec.RentalDuration <= 0 {
			return nil, &ValidationError{Field: "rental_duration", Message: "must be positive for rental orders"}
		}
		startStr := start.Format(dateLayout)
		endStr := start.AddDate(0, 0, spec.RentalDuration).Format(dateLayout)
		n.rentalStart = &startStr
		n.rentalEnd = &endStr
	}

	hundred := decimal.NewFromInt(100)
	for i, line := range spec.Lines {
		if !line.Quantity.IsPositive() {
			return nil, &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: "must be positive"}
		}
		if line.UnitPrice.IsNegative() {
			return nil, &ValidationError{Field: fmt.Sprintf("lines[%d].unit_price", i), Message: "must not be negative"}
		}
		if line.ProductID == nil && line.Description == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("lines[%d].description", i), Message: "free-text lines need a description"}
		}
		for j, c := range line.Components {
			if !c.Qty.IsPositive() {
				return nil, &ValidationError{Field: fmt.Sprintf("lines[%d].components[%d].qty", i, j), Message: "must be positive"}
			}
			if c.SharePercent != nil && (c.SharePercent.IsNegative() || c.SharePercent.GreaterThan(hundred)) {
				return nil, &ValidationError{Field: fmt.Sprintf("lines[%d].components[%d].share_percent", i, j), Message: "must be between 0 and 100"}
			}
		}
	}
	return n, nil
}

func (s *invoiceService) Create(ctx context.Context, spec InvoiceSpec) (*Invoice, error) {
	n, err := s.normalize(spec)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	if n.Terms == "" {
		n.Terms = cfg.InvoiceDefaultTerms
	}
	if n.Notes == "" {
		n.Notes = cfg.InvoiceDefaultNotes
	}

	var id int
	err = retryTx(s.log, cfg.InvoiceNumberPrefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1 AND deleted_at IS NULL)",
			n.PartnerID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check partner: %w", err)
		}
		if !exists {
			return &NotFoundError{Entity: "partner", Key: n.PartnerID}
		}

		number, err := s.seq.NextInvoiceNumberTx(ctx, tx, cfg.InvoiceNumberPrefix, n.invoiceDate.Year())
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO invoices (invoice_number, reference_number, partner_id, invoice_date, due_date,
			                      order_type, rental_start_date, rental_end_date, delivery_time, return_time,
			                      notes, terms, status, subtotal, discount_amount, tax_amount, shipping_fee,
			                      total_amount, paid_amount, user_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''),
			        $11, $12, 'unpaid', 0, $13, $14, $15, 0, 0, $16)
			RETURNING id
		`, number, n.ReferenceNumber, n.PartnerID, n.invoiceDate.Format(dateLayout), n.dueDate,
			n.OrderType, n.rentalStart, n.rentalEnd, n.DeliveryTime, n.ReturnTime,
			n.Notes, n.Terms, n.DiscountAmount, n.TaxAmount, n.ShippingFee, n.CreatedBy).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}

		subtotal, err := s.insertLinesTx(ctx, tx, id, n)
		if err != nil {
			return err
		}
		if err := s.finalizeTotalsTx(ctx, tx, id, subtotal, decimal.Zero, n); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// insertLinesTx writes items and components and emits the negative sale
// movement for each component. Returns the subtotal of the inserted lines.
func (s *invoiceService) insertLinesTx(ctx context.Context, tx pgx.Tx, invoiceID int, n *normalizedSpec) (decimal.Decimal, error) {
	hundred := decimal.NewFromInt(100)
	var createdBy *int
	if n.CreatedBy > 0 {
		createdBy = &n.CreatedBy
	}

	subtotal := decimal.Zero
	for i, line := range n.Lines {
		total := line.Quantity.Mul(line.UnitPrice).Mul(n.mult).Round(2)
		subtotal = subtotal.Add(total)

		var itemID int
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_items (invoice_id, product_id, description, quantity, unit_price, total, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, invoiceID, line.ProductID, line.Description, line.Quantity, line.UnitPrice, total, i).Scan(&itemID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to insert invoice item: %w", err)
		}

		for _, c := range line.Components {
			var ownerID int
			var defaultShare decimal.Decimal
			err := tx.QueryRow(ctx,
				"SELECT owner_id, default_share_percent FROM inventory_items WHERE id = $1 AND deleted_at IS NULL",
				c.InventoryItemID,
			).Scan(&ownerID, &defaultShare)
			if errors.Is(err, pgx.ErrNoRows) {
				return decimal.Zero, &NotFoundError{Entity: "inventory item", Key: c.InventoryItemID}
			}
			if err != nil {
				return decimal.Zero, fmt.Errorf("failed to fetch inventory item: %w", err)
			}

			share := defaultShare
			if c.SharePercent != nil {
				share = *c.SharePercent
			}
			shareAmount := total.Mul(share).Div(hundred).Round(2)

			_, err = tx.Exec(ctx, `
				INSERT INTO invoice_item_components (invoice_item_id, inventory_item_id, warehouse_id, owner_id, qty, share_percent, share_amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, itemID, c.InventoryItemID, c.WarehouseID, ownerID, c.Qty, share, shareAmount)
			if err != nil {
				return decimal.Zero, fmt.Errorf("failed to insert invoice item component: %w", err)
			}

			_, _, err = s.stock.RecordMovementTx(ctx, tx, MovementInput{
				InventoryItemID: c.InventoryItemID,
				WarehouseID:     c.WarehouseID,
				Quantity:        c.Qty.Neg(),
				Reason:          ReasonSale,
				Ref:             &MovementRef{Type: RefTypeInvoiceItem, ID: itemID},
				Notes:           fmt.Sprintf("Component consumed on invoice %d", invoiceID),
				CreatedBy:       createdBy,
			})
			if err != nil {
				return decimal.Zero, err
			}
		}
	}
	return subtotal, nil
}

// finalizeTotalsTx recomputes the totals from the just-written lines and
// derives the status against the carried paid amount.
func (s *invoiceService) finalizeTotalsTx(ctx context.Context, tx pgx.Tx, invoiceID int,
	subtotal, paidAmount decimal.Decimal, n *normalizedSpec) error {

	inv := Invoice{
		Subtotal:       subtotal,
		DiscountAmount: n.DiscountAmount,
		TaxAmount:      n.TaxAmount,
		ShippingFee:    n.ShippingFee,
		PaidAmount:     paidAmount,
		Items:          []InvoiceItem{{Total: subtotal}},
	}
	inv.CalculateTotals()
	inv.UpdateStatus()

	_, err := tx.Exec(ctx, `
		UPDATE invoices
		SET subtotal = $1, total_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`, inv.Subtotal, inv.TotalAmount, inv.Status, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to update invoice totals: %w", err)
	}
	return nil
}

// reverseComponentsTx emits a positive adjustment movement for every component
// currently on the invoice, returning consumed stock to its warehouse before
// the items are deleted or the invoice tombstoned.
func (s *invoiceService) reverseComponentsTx(ctx context.Context, tx pgx.Tx, invoiceID int, invoiceNumber string) error {
	rows, err := tx.Query(ctx, `
		SELECT c.invoice_item_id, c.inventory_item_id, c.warehouse_id, c.qty
		FROM invoice_item_components c
		JOIN invoice_items it ON it.id = c.invoice_item_id
		WHERE it.invoice_id = $1
	`, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to query invoice components: %w", err)
	}

	type compRow struct {
		itemID      int
		inventoryID int
		warehouseID int
		qty         decimal.Decimal
	}
	var comps []compRow
	for rows.Next() {
		var c compRow
		if err := rows.Scan(&c.itemID, &c.inventoryID, &c.warehouseID, &c.qty); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan invoice component: %w", err)
		}
		comps = append(comps, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating invoice components: %w", err)
	}

	for _, c := range comps {
		_, _, err := s.stock.RecordMovementTx(ctx, tx, MovementInput{
			InventoryItemID: c.inventoryID,
			WarehouseID:     c.warehouseID,
			Quantity:        c.qty,
			Reason:          ReasonAdjustment,
			Ref:             &MovementRef{Type: RefTypeInvoiceItem, ID: c.itemID},
			Notes:           fmt.Sprintf("Reversal of component on invoice %s", invoiceNumber),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *invoiceService) Update(ctx context.Context, id int, spec InvoiceSpec) (*Invoice, error) {
	n, err := s.normalize(spec)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}

	err = retryTx(s.log, cfg.InvoiceNumberPrefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var number string
		var status InvoiceStatus
		var paid decimal.Decimal
		err = tx.QueryRow(ctx, `
			SELECT invoice_number, status, paid_amount
			FROM invoices
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE
		`, id).Scan(&number, &status, &paid)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Entity: "invoice", Key: id}
		}
		if err != nil {
			return fmt.Errorf("failed to lock invoice: %w", err)
		}
		if status != InvoiceUnpaid && status != InvoicePartial {
			return &StateConflictError{Message: fmt.Sprintf("invoice %s is %s and cannot be edited", number, status)}
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1 AND deleted_at IS NULL)",
			n.PartnerID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check partner: %w", err)
		}
		if !exists {
			return &NotFoundError{Entity: "partner", Key: n.PartnerID}
		}

		if err := s.reverseComponentsTx(ctx, tx, id, number); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM invoice_items WHERE invoice_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete invoice items: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE invoices
			SET reference_number = $1, partner_id = $2, invoice_date = $3, due_date = $4,
			    order_type = $5, rental_start_date = $6, rental_end_date = $7,
			    delivery_time = NULLIF($8, ''), return_time = NULLIF($9, ''),
			    notes = $10, terms = $11, discount_amount = $12, tax_amount = $13,
			    shipping_fee = $14, updated_at = NOW()
			WHERE id = $15
		`, n.ReferenceNumber, n.PartnerID, n.invoiceDate.Format(dateLayout), n.dueDate,
			n.OrderType, n.rentalStart, n.rentalEnd,
			n.DeliveryTime, n.ReturnTime,
			n.Notes, n.Terms, n.DiscountAmount, n.TaxAmount, n.ShippingFee, id)
		if err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}

		subtotal, err := s.insertLinesTx(ctx, tx, id, n)
		if err != nil {
			return err
		}
		if err := s.finalizeTotalsTx(ctx, tx, id, subtotal, paid, n); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *invoiceService) Delete(ctx context.Context, id int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var number string
	var status InvoiceStatus
	err = tx.QueryRow(ctx, `
		SELECT invoice_number, status
		FROM invoices
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id).Scan(&number, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: "invoice", Key: id}
	}
	if err != nil {
		return fmt.Errorf("failed to lock invoice: %w", err)
	}
	if status != InvoiceUnpaid && status != InvoicePartial {
		return &StateConflictError{Message: fmt.Sprintf("invoice %s is %s and cannot be deleted", number, status)}
	}

	if err := s.reverseComponentsTx(ctx, tx, id, number); err != nil {
		return err
	}

	// Items stay under the tombstone; the invoice number is never reissued.
	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET deleted_at = NOW() WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *invoiceService) UpdatePayment(ctx context.Context, id int, paidAmount decimal.Decimal, explicitStatus *InvoiceStatus) (*Invoice, error) {
	if paidAmount.IsNegative() {
		return nil, &ValidationError{Field: "paid_amount", Message: "must not be negative"}
	}
	if explicitStatus != nil {
		switch *explicitStatus {
		case InvoiceUnpaid, InvoicePartial, InvoicePaid, InvoiceVoid:
		default:
			return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown invoice status %q", *explicitStatus)}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var inv Invoice
	err = tx.QueryRow(ctx, `
		SELECT id, total_amount
		FROM invoices
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id).Scan(&inv.ID, &inv.TotalAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "invoice", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}

	inv.PaidAmount = paidAmount
	if explicitStatus != nil {
		inv.Status = *explicitStatus
	} else {
		inv.UpdateStatus()
	}

	_, err = tx.Exec(ctx, `
		UPDATE invoices SET paid_amount = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`, inv.PaidAmount, inv.Status, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment update: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *invoiceService) UpdateComponentShare(ctx context.Context, invoiceID, componentID int, percent decimal.Decimal) (*Invoice, error) {
	hundred := decimal.NewFromInt(100)
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return nil, &ValidationError{Field: "share_percent", Message: "must be between 0 and 100"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerInvoiceID int
	var itemTotal decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT it.invoice_id, it.total
		FROM invoice_item_components c
		JOIN invoice_items it ON it.id = c.invoice_item_id
		WHERE c.id = $1
		FOR UPDATE OF c
	`, componentID).Scan(&ownerInvoiceID, &itemTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "invoice component", Key: componentID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice component: %w", err)
	}
	if ownerInvoiceID != invoiceID {
		return nil, &StateConflictError{Message: fmt.Sprintf("component %d does not belong to invoice %d", componentID, invoiceID)}
	}

	shareAmount := itemTotal.Mul(percent).Div(hundred).Round(2)
	_, err = tx.Exec(ctx, `
		UPDATE invoice_item_components
		SET share_percent = $1, share_amount = $2
		WHERE id = $3
	`, percent, shareAmount, componentID)
	if err != nil {
		return nil, fmt.Errorf("failed to update component share: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit component share update: %w", err)
	}
	return s.Get(ctx, invoiceID)
}

// ── Read views ────────────────────────────────────────────────────────────────

const invoiceColumns = `
	i.id, i.invoice_number, COALESCE(i.reference_number, ''), i.partner_id, p.name,
	i.invoice_date::text, i.due_date::text, i.order_type,
	i.rental_start_date::text, i.rental_end_date::text, i.delivery_time, i.return_time,
	COALESCE(i.notes, ''), COALESCE(i.terms, ''), i.status,
	i.subtotal, i.discount_amount, i.tax_amount, i.shipping_fee,
	i.total_amount, i.paid_amount, i.user_id, i.created_at, i.deleted_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.ReferenceNumber, &inv.PartnerID, &inv.PartnerName,
		&inv.InvoiceDate, &inv.DueDate, &inv.OrderType,
		&inv.RentalStartDate, &inv.RentalEndDate, &inv.DeliveryTime, &inv.ReturnTime,
		&inv.Notes, &inv.Terms, &inv.Status,
		&inv.Subtotal, &inv.DiscountAmount, &inv.TaxAmount, &inv.ShippingFee,
		&inv.TotalAmount, &inv.PaidAmount, &inv.UserID, &inv.CreatedAt, &inv.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *invoiceService) Get(ctx context.Context, id int) (*Invoice, error) {
	return s.fetchInvoice(ctx, "i.id = $1", id)
}

func (s *invoiceService) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.fetchInvoice(ctx, "i.invoice_number = $1", number)
}

func (s *invoiceService) fetchInvoice(ctx context.Context, cond string, arg any) (*Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM invoices i
		JOIN partners p ON p.id = i.partner_id
		WHERE %s AND i.deleted_at IS NULL
	`, invoiceColumns, cond)

	inv, err := scanInvoice(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "invoice", Key: arg}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice: %w", err)
	}
	if err := s.loadItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) loadItems(ctx context.Context, inv *Invoice) error {
	rows, err := s.pool.Query(ctx, `
		SELECT it.id, it.invoice_id, it.product_id, COALESCE(p.name, ''), COALESCE(it.description, ''),
		       it.quantity, it.unit_price, it.total, it.sort_order
		FROM invoice_items it
		LEFT JOIN products p ON p.id = it.product_id
		WHERE it.invoice_id = $1
		ORDER BY it.sort_order, it.id
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	byID := map[int]int{}
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(
			&it.ID, &it.InvoiceID, &it.ProductID, &it.ProductName, &it.Description,
			&it.Quantity, &it.UnitPrice, &it.Total, &it.SortOrder,
		); err != nil {
			return fmt.Errorf("failed to scan invoice item: %w", err)
		}
		byID[it.ID] = len(inv.Items)
		inv.Items = append(inv.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := s.pool.Query(ctx, `
		SELECT c.id, c.invoice_item_id, c.inventory_item_id, ii.sku, ii.name,
		       c.warehouse_id, w.code, c.owner_id, pr.name,
		       c.qty, c.share_percent, c.share_amount
		FROM invoice_item_components c
		JOIN invoice_items it   ON it.id = c.invoice_item_id
		JOIN inventory_items ii ON ii.id = c.inventory_item_id
		JOIN warehouses w       ON w.id = c.warehouse_id
		JOIN partners pr        ON pr.id = c.owner_id
		WHERE it.invoice_id = $1
		ORDER BY c.id
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to query invoice components: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		var c InvoiceItemComponent
		if err := crows.Scan(
			&c.ID, &c.InvoiceItemID, &c.InventoryItemID, &c.ItemSKU, &c.ItemName,
			&c.WarehouseID, &c.WarehouseCode, &c.OwnerID, &c.OwnerName,
			&c.Qty, &c.SharePercent, &c.ShareAmount,
		); err != nil {
			return fmt.Errorf("failed to scan invoice component: %w", err)
		}
		if idx, ok := byID[c.InvoiceItemID]; ok {
			inv.Items[idx].Components = append(inv.Items[idx].Components, c)
		}
	}
	return crows.Err()
}

func (s *invoiceService) List(ctx context.Context, status *InvoiceStatus, partnerID *int) ([]Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM invoices i
		JOIN partners p ON p.id = i.partner_id
		WHERE i.deleted_at IS NULL
	`, invoiceColumns)

	args := []any{}
	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND i.status = $%d", len(args))
	}
	if partnerID != nil {
		args = append(args, *partnerID)
		query += fmt.Sprintf(" AND i.partner_id = $%d", len(args))
	}
	query += " ORDER BY i.invoice_number DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}
