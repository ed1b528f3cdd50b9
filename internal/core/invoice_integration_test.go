package core_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"backoffice/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE invoice_item_components, invoice_items, invoices,
		               stock_movements, stock_levels, product_components, products,
		               categories, inventory_items, warehouses, partners,
		               company_settings, users
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// fixtures is the master data every invoice test needs: a consignment owner,
// a client, a warehouse, and one inventory item with 100 units on hand.
type fixtures struct {
	ownerID     int
	clientID    int
	warehouseID int
	itemID      int
	productID   int
}

func seedMasterData(t *testing.T, pool *pgxpool.Pool) fixtures {
	t.Helper()
	ctx := context.Background()
	var f fixtures

	err := pool.QueryRow(ctx, `
		INSERT INTO partners (code, type, name) VALUES ('P-0001', 'Supplier & Client', 'Owner Partner')
		RETURNING id
	`).Scan(&f.ownerID)
	if err != nil {
		t.Fatalf("failed to seed owner partner: %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO partners (code, type, name) VALUES ('P-0002', 'Client', 'Billing Client')
		RETURNING id
	`).Scan(&f.clientID)
	if err != nil {
		t.Fatalf("failed to seed client partner: %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, is_active) VALUES ('WH-0001', 'Main', true)
		RETURNING id
	`).Scan(&f.warehouseID)
	if err != nil {
		t.Fatalf("failed to seed warehouse: %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO inventory_items (sku, name, owner_id, unit, cost, default_share_percent, is_active)
		VALUES ('INV-0001', 'Speaker Set', $1, 'pcs', 25, 50, true)
		RETURNING id
	`, f.ownerID).Scan(&f.itemID)
	if err != nil {
		t.Fatalf("failed to seed inventory item: %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO products (code, name, sales_price, rental_price, uom, rental_duration)
		VALUES ('PRD-0001', 'Sound Package', 150, 40, 'set', 'day')
		RETURNING id
	`).Scan(&f.productID)
	if err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}

	stock := core.NewStockService(pool, testLogger(), 3)
	_, _, err = stock.RecordMovement(ctx, core.MovementInput{
		InventoryItemID: f.itemID,
		WarehouseID:     f.warehouseID,
		Quantity:        decimal.NewFromInt(100),
		Reason:          core.ReasonAdjustment,
		Notes:           "Opening balance",
	})
	if err != nil {
		t.Fatalf("failed to seed opening stock: %v", err)
	}
	return f
}

func newInvoiceService(pool *pgxpool.Pool) core.InvoiceService {
	log := testLogger()
	seq := core.NewSequenceService(pool, log, 4)
	stock := core.NewStockService(pool, log, 3)
	settings := core.NewSettingsService(pool)
	return core.NewInvoiceService(pool, log, seq, stock, settings, 30)
}

func onHand(t *testing.T, pool *pgxpool.Pool, itemID, warehouseID int) decimal.Decimal {
	t.Helper()
	stock := core.NewStockService(pool, testLogger(), 3)
	lvl, err := stock.CurrentLevel(context.Background(), itemID, warehouseID)
	if err != nil {
		t.Fatalf("failed to read stock level: %v", err)
	}
	return lvl.QtyOnHand
}

func salesSpec(f fixtures) core.InvoiceSpec {
	return core.InvoiceSpec{
		PartnerID:   f.clientID,
		InvoiceDate: "2026-05-01",
		OrderType:   core.OrderSales,
		Lines: []core.LineItemInput{{
			ProductID: &f.productID,
			Quantity:  decimal.NewFromInt(3),
			UnitPrice: decimal.NewFromInt(150),
			Components: []core.ComponentInput{{
				InventoryItemID: f.itemID,
				WarehouseID:     f.warehouseID,
				Qty:             decimal.NewFromInt(6),
			}},
		}},
	}
}

func TestInvoiceService_CreateSalesInvoice(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}

	if inv.InvoiceNumber != "INV-2026-0001" {
		t.Errorf("invoice number = %s, want INV-2026-0001", inv.InvoiceNumber)
	}
	if inv.Status != core.InvoiceUnpaid {
		t.Errorf("status = %s, want unpaid", inv.Status)
	}
	if inv.DueDate != "2026-05-31" {
		t.Errorf("due date = %s, want 2026-05-31 (30 days after invoice date)", inv.DueDate)
	}
	if !inv.Subtotal.Equal(decimal.NewFromInt(450)) {
		t.Errorf("subtotal = %s, want 450", inv.Subtotal)
	}
	if !inv.TotalAmount.Equal(decimal.NewFromInt(450)) {
		t.Errorf("total = %s, want 450", inv.TotalAmount)
	}

	if len(inv.Items) != 1 || len(inv.Items[0].Components) != 1 {
		t.Fatalf("expected 1 item with 1 component, got %+v", inv.Items)
	}
	comp := inv.Items[0].Components[0]
	if !comp.SharePercent.Equal(decimal.NewFromInt(50)) {
		t.Errorf("share percent = %s, want the item default 50", comp.SharePercent)
	}
	if !comp.ShareAmount.Equal(decimal.NewFromInt(225)) {
		t.Errorf("share amount = %s, want 225 (50%% of 450)", comp.ShareAmount)
	}
	if comp.OwnerID != f.ownerID {
		t.Errorf("component owner = %d, want copied from inventory item %d", comp.OwnerID, f.ownerID)
	}

	if got := onHand(t, pool, f.itemID, f.warehouseID); !got.Equal(decimal.NewFromInt(94)) {
		t.Errorf("on hand = %s, want 94 after consuming 6 of 100", got)
	}
}

func TestInvoiceService_CreateRejectsEmptyLines(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)

	spec := salesSpec(f)
	spec.Lines = nil
	_, err := svc.Create(context.Background(), spec)
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty lines, got %v", err)
	}
}

func TestInvoiceService_CreateRollsBackOnBadComponent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	spec := salesSpec(f)
	spec.Lines[0].Components = append(spec.Lines[0].Components, core.ComponentInput{
		InventoryItemID: 999999,
		WarehouseID:     f.warehouseID,
		Qty:             decimal.NewFromInt(1),
	})
	_, err := svc.Create(ctx, spec)
	var nferr *core.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	// Nothing from the failed transaction may stick: no invoice row, no stock
	// effect from the valid first component.
	var invoices int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices").Scan(&invoices); err != nil {
		t.Fatalf("failed to count invoices: %v", err)
	}
	if invoices != 0 {
		t.Errorf("expected 0 invoices after rollback, got %d", invoices)
	}
	if got := onHand(t, pool, f.itemID, f.warehouseID); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("on hand = %s, want untouched 100", got)
	}
}

func TestInvoiceService_RentalOrder(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)

	inv, err := svc.Create(context.Background(), core.InvoiceSpec{
		PartnerID:       f.clientID,
		InvoiceDate:     "2026-06-01",
		OrderType:       core.OrderRental,
		RentalStartDate: "2026-06-01",
		RentalDuration:  3,
		Lines: []core.LineItemInput{{
			ProductID: &f.productID,
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.NewFromInt(40),
		}},
	})
	if err != nil {
		t.Fatalf("failed to create rental invoice: %v", err)
	}

	// 2 × 40 × 3 days
	if !inv.Items[0].Total.Equal(decimal.NewFromInt(240)) {
		t.Errorf("line total = %s, want 240 with the rental multiplier applied", inv.Items[0].Total)
	}
	if inv.RentalEndDate == nil || *inv.RentalEndDate != "2026-06-04" {
		t.Errorf("rental end = %v, want 2026-06-04 (start + 3 days)", inv.RentalEndDate)
	}
}

func TestInvoiceService_UpdateRoundTripIsStockNeutral(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}

	updated, err := svc.Update(ctx, inv.ID, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to update invoice: %v", err)
	}
	if updated.InvoiceNumber != inv.InvoiceNumber {
		t.Errorf("update changed the invoice number: %s -> %s", inv.InvoiceNumber, updated.InvoiceNumber)
	}

	// Net stock unchanged, but the ledger shows the full history:
	// opening +100, sale -6, reversal +6, sale -6.
	if got := onHand(t, pool, f.itemID, f.warehouseID); !got.Equal(decimal.NewFromInt(94)) {
		t.Errorf("on hand = %s, want 94 after a no-op edit", got)
	}
	var movements int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_movements WHERE inventory_item_id = $1 AND warehouse_id = $2",
		f.itemID, f.warehouseID,
	).Scan(&movements); err != nil {
		t.Fatalf("failed to count movements: %v", err)
	}
	if movements != 4 {
		t.Errorf("movement rows = %d, want 4 (edit appends, never rewrites)", movements)
	}
}

func TestInvoiceService_UpdateRejectedWhenPaid(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}
	if _, err := svc.UpdatePayment(ctx, inv.ID, inv.TotalAmount, nil); err != nil {
		t.Fatalf("failed to pay invoice: %v", err)
	}

	_, err = svc.Update(ctx, inv.ID, salesSpec(f))
	var conflict *core.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError editing a paid invoice, got %v", err)
	}
}

func TestInvoiceService_DeleteReversesStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}
	if err := svc.Delete(ctx, inv.ID); err != nil {
		t.Fatalf("failed to delete invoice: %v", err)
	}

	if got := onHand(t, pool, f.itemID, f.warehouseID); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("on hand = %s, want 100 after delete returned the stock", got)
	}

	_, err = svc.Get(ctx, inv.ID)
	var nferr *core.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected NotFoundError for the tombstoned invoice, got %v", err)
	}

	// The number is burned: the next invoice in the same year continues the
	// sequence past the tombstone.
	next, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create follow-up invoice: %v", err)
	}
	if next.InvoiceNumber != "INV-2026-0002" {
		t.Errorf("follow-up number = %s, want INV-2026-0002", next.InvoiceNumber)
	}
}

func TestInvoiceService_PaymentStatusTransitions(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}

	partial, err := svc.UpdatePayment(ctx, inv.ID, decimal.NewFromInt(100), nil)
	if err != nil {
		t.Fatalf("failed to record partial payment: %v", err)
	}
	if partial.Status != core.InvoicePartial {
		t.Errorf("status = %s, want partial", partial.Status)
	}
	if !partial.Balance().Equal(decimal.NewFromInt(350)) {
		t.Errorf("balance = %s, want 350", partial.Balance())
	}

	// Explicit status wins verbatim, including void.
	void := core.InvoiceVoid
	voided, err := svc.UpdatePayment(ctx, inv.ID, decimal.NewFromInt(100), &void)
	if err != nil {
		t.Fatalf("failed to void invoice: %v", err)
	}
	if voided.Status != core.InvoiceVoid {
		t.Errorf("status = %s, want void", voided.Status)
	}
	if voided.IsEditable() {
		t.Error("void invoice must not be editable")
	}
}

// Concurrent creates must mint distinct consecutive numbers within the year
// scope: the losers of the unique-index collision retry the whole create
// transaction and re-scan past the committed winner.
func TestInvoiceService_ConcurrentCreatesMintDistinctNumbers(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Create(ctx, salesSpec(f)); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent create error: %v", err)
	}

	var distinct, total int
	var first, last string
	err := pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT invoice_number), COUNT(*), MIN(invoice_number), MAX(invoice_number)
		FROM invoices
	`).Scan(&distinct, &total, &first, &last)
	if err != nil {
		t.Fatalf("failed to inspect invoice numbers: %v", err)
	}
	if total != workers || distinct != workers {
		t.Errorf("got %d invoices with %d distinct numbers, want %d of each", total, distinct, workers)
	}
	if first != "INV-2026-0001" || last != "INV-2026-0008" {
		t.Errorf("numbers span %s..%s, want INV-2026-0001..INV-2026-0008 with no gaps", first, last)
	}
}

func TestInvoiceService_UpdateComponentShare(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	f := seedMasterData(t, pool)
	svc := newInvoiceService(pool)
	ctx := context.Background()

	inv, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create invoice: %v", err)
	}
	compID := inv.Items[0].Components[0].ID

	updated, err := svc.UpdateComponentShare(ctx, inv.ID, compID, decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("failed to update component share: %v", err)
	}
	comp := updated.Items[0].Components[0]
	if !comp.SharePercent.Equal(decimal.NewFromInt(30)) {
		t.Errorf("share percent = %s, want 30", comp.SharePercent)
	}
	if !comp.ShareAmount.Equal(decimal.NewFromInt(135)) {
		t.Errorf("share amount = %s, want 135 (30%% of 450)", comp.ShareAmount)
	}

	// A component can only be adjusted through its own invoice.
	other, err := svc.Create(ctx, salesSpec(f))
	if err != nil {
		t.Fatalf("failed to create second invoice: %v", err)
	}
	_, err = svc.UpdateComponentShare(ctx, other.ID, compID, decimal.NewFromInt(10))
	var conflict *core.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError for a foreign component, got %v", err)
	}

	_, err = svc.UpdateComponentShare(ctx, inv.ID, compID, decimal.NewFromInt(101))
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for share > 100, got %v", err)
	}
}
