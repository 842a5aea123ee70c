package inventory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// noopLocker always grants: unit tests exercise storage semantics, not
// cross-instance contention.
type noopLocker struct{}

func (noopLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// heldLocker simulates the lock being held by another instance.
type heldLocker struct{}

func (heldLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) NotifyStockOut(ctx context.Context, productId, colorName, orderId string) error {
	n.events = append(n.events, productId+"/"+colorName+"/"+orderId)
	return nil
}

func newTestSQLStore(t *testing.T) (*SQLStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "inventory.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	config.SetDB(db)
	models.MigrateTable()
	return NewSQLStore(db, noopLocker{}, nil), db
}

func mustCreateColor(t *testing.T, ctx context.Context, productId, colorName string, totalStock int) {
	t.Helper()
	_, err := models.CreateProductColor(ctx, &models.NewProductColor{
		ProductId:  productId,
		ColorName:  colorName,
		TotalStock: totalStock,
	})
	if err != nil {
		t.Fatalf("CreateProductColor %s/%s: %v", productId, colorName, err)
	}
}

func countAudits(t *testing.T, db *gorm.DB, eventType models.StockAuditEventType, orderId string) int64 {
	t.Helper()
	query := db.Model(&models.StockAuditEntry{}).Where("event_type = ?", eventType)
	if orderId != "" {
		query = query.Where("order_id = ?", orderId)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	return count
}

func TestReserveContention(t *testing.T) {
	store, _ := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	res, err := store.Reserve(ctx, "tee-001", "black", 3, "session-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve a: %v", err)
	}
	if !res.Success || res.Available != 2 {
		t.Fatalf("reserve a: got %+v, want success with available 2", res)
	}

	res, err = store.Reserve(ctx, "tee-001", "black", 3, "session-b", time.Minute)
	if err != nil {
		t.Fatalf("reserve b: %v", err)
	}
	if res.Success {
		t.Fatalf("reserve b for 3 succeeded with only 2 available")
	}
	if res.Available != 2 {
		t.Fatalf("reserve b rejection carries available %d, want 2", res.Available)
	}

	res, err = store.Reserve(ctx, "tee-001", "black", 2, "session-b", time.Minute)
	if err != nil {
		t.Fatalf("reserve b retry: %v", err)
	}
	if !res.Success || res.Available != 0 {
		t.Fatalf("reserve b retry: got %+v, want success with available 0", res)
	}

	available, err := store.AvailableStock(ctx, "tee-001", "black", "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 0 {
		t.Fatalf("available = %d, want 0", available)
	}
}

func TestReserveAdjustsOwnHoldWithoutSelfBlocking(t *testing.T) {
	store, _ := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	if _, err := store.Reserve(ctx, "tee-001", "black", 3, "session-a", time.Minute); err != nil {
		t.Fatalf("reserve 3: %v", err)
	}

	// Raising the own hold to the full stock must succeed: availability
	// for the holder excludes its existing hold.
	res, err := store.Reserve(ctx, "tee-001", "black", 5, "session-a", time.Minute)
	if err != nil {
		t.Fatalf("raise to 5: %v", err)
	}
	if !res.Success {
		t.Fatalf("raise to 5 rejected: %+v", res)
	}

	// Overwrite, not accumulate: one row, quantity 5.
	var rows []models.Reservation
	if err := config.GetDB().Where("session_id = ?", "session-a").Find(&rows).Error; err != nil {
		t.Fatalf("load holds: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 5 {
		t.Fatalf("holds after adjust = %+v, want one row with quantity 5", rows)
	}

	available, err := store.AvailableStock(ctx, "tee-001", "black", "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 0 {
		t.Fatalf("available = %d, want 0", available)
	}
	availableForHolder, err := store.AvailableStock(ctx, "tee-001", "black", "session-a")
	if err != nil {
		t.Fatalf("available excluding holder: %v", err)
	}
	if availableForHolder != 5 {
		t.Fatalf("available excluding holder = %d, want 5", availableForHolder)
	}
}

func TestReserveValidation(t *testing.T) {
	store, _ := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	if _, err := store.Reserve(ctx, "tee-001", "black", 0, "s", time.Minute); !utils.IsValidation(err) {
		t.Fatalf("quantity 0: got %v, want validation error", err)
	}
	if _, err := store.Reserve(ctx, "tee-001", "black", MaxQtyPerRequest+1, "s", time.Minute); !utils.IsValidation(err) {
		t.Fatalf("quantity above cap: got %v, want validation error", err)
	}
	if _, err := store.Reserve(ctx, "tee-001", "black", 1, "", time.Minute); !utils.IsValidation(err) {
		t.Fatalf("empty session: got %v, want validation error", err)
	}

	res, err := store.Reserve(ctx, "tee-001", "ultraviolet", 1, "s", time.Minute)
	if err != nil {
		t.Fatalf("reserve unknown color: %v", err)
	}
	if res.Success || res.Available != 0 {
		t.Fatalf("reserve unknown color: got %+v, want rejection with available 0", res)
	}
}

func TestAvailableStockUnknownColorIsZero(t *testing.T) {
	store, _ := newTestSQLStore(t)
	ctx := context.Background()

	available, err := store.AvailableStock(ctx, "ghost", "white", "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 0 {
		t.Fatalf("available for unknown color = %d, want 0", available)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	// Absent hold: no error, no audit noise.
	if err := store.Release(ctx, "tee-001", "black", "nobody"); err != nil {
		t.Fatalf("release absent hold: %v", err)
	}
	if n := countAudits(t, db, models.StockAuditEventRelease, ""); n != 0 {
		t.Fatalf("release audits after no-op = %d, want 0", n)
	}

	if _, err := store.Reserve(ctx, "tee-001", "black", 3, "session-a", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "tee-001", "black", "session-a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	available, err := store.AvailableStock(ctx, "tee-001", "black", "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 5 {
		t.Fatalf("available after release = %d, want 5", available)
	}
	if n := countAudits(t, db, models.StockAuditEventRelease, ""); n != 1 {
		t.Fatalf("release audits = %d, want 1", n)
	}

	// Second release of the same hold is a no-op again.
	if err := store.Release(ctx, "tee-001", "black", "session-a"); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if n := countAudits(t, db, models.StockAuditEventRelease, ""); n != 1 {
		t.Fatalf("release audits after second release = %d, want 1", n)
	}
}

func TestExpiredHoldExcludedThenPurged(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	expired := models.Reservation{
		ProductId: "tee-001",
		ColorName: "black",
		SessionId: "session-stale",
		Quantity:  4,
		ExpiresAt: utils.NowMs() - 1000,
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed expired hold: %v", err)
	}

	// The expired hold no longer counts against availability, and the
	// read sweeps it away physically.
	available, err := store.AvailableStock(ctx, "tee-001", "black", "")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 5 {
		t.Fatalf("available with expired hold = %d, want 5", available)
	}

	var remaining int64
	if err := db.Model(&models.Reservation{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expired hold still present after read sweep")
	}
	if n := countAudits(t, db, models.StockAuditEventExpire, ""); n != 1 {
		t.Fatalf("expire audits = %d, want 1", n)
	}
}

func TestCleanExpiredGroupsPerColorAndReportsCount(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)
	mustCreateColor(t, ctx, "tee-001", "red", 5)

	stale := utils.NowMs() - 1000
	seed := []models.Reservation{
		{ProductId: "tee-001", ColorName: "black", SessionId: "s1", Quantity: 1, ExpiresAt: stale},
		{ProductId: "tee-001", ColorName: "black", SessionId: "s2", Quantity: 2, ExpiresAt: stale},
		{ProductId: "tee-001", ColorName: "red", SessionId: "s3", Quantity: 3, ExpiresAt: stale},
		{ProductId: "tee-001", ColorName: "red", SessionId: "s4", Quantity: 1, ExpiresAt: utils.NowMs() + 60_000},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed hold: %v", err)
		}
	}

	purged, err := store.CleanExpired(ctx)
	if err != nil {
		t.Fatalf("clean expired: %v", err)
	}
	if purged != 3 {
		t.Fatalf("purged = %d, want 3", purged)
	}

	var remaining []models.Reservation
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("load holds: %v", err)
	}
	if len(remaining) != 1 || remaining[0].SessionId != "s4" {
		t.Fatalf("remaining holds = %+v, want only the active s4 hold", remaining)
	}

	// One expire audit per color per sweep, not per row.
	if n := countAudits(t, db, models.StockAuditEventExpire, ""); n != 2 {
		t.Fatalf("expire audits = %d, want 2", n)
	}
}

func TestCleanExpiredSkipsWhenLockHeld(t *testing.T) {
	_, db := newTestSQLStore(t)
	store := NewSQLStore(db, heldLocker{}, nil)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	expired := models.Reservation{
		ProductId: "tee-001", ColorName: "black", SessionId: "s1",
		Quantity: 2, ExpiresAt: utils.NowMs() - 1000,
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed expired hold: %v", err)
	}

	purged, err := store.CleanExpired(ctx)
	if err != nil {
		t.Fatalf("clean expired: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged = %d while lock held, want 0", purged)
	}
	var remaining int64
	if err := db.Model(&models.Reservation{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("hold purged despite held lock")
	}
}

func TestConfirmSaleIsIdempotent(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	if _, err := store.Reserve(ctx, "tee-001", "black", 2, "session-a", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := store.ConfirmSale(ctx, "tee-001", "black", 2, "ORDER-1", "session-a"); err != nil {
		t.Fatalf("confirm sale: %v", err)
	}

	color, err := models.GetProductColor(ctx, "tee-001", "black")
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if color.TotalStock != 3 {
		t.Fatalf("total stock after sale = %d, want 3", color.TotalStock)
	}
	var holds int64
	if err := db.Model(&models.Reservation{}).Count(&holds).Error; err != nil {
		t.Fatalf("count holds: %v", err)
	}
	if holds != 0 {
		t.Fatalf("hold not removed by confirmed sale")
	}
	if n := countAudits(t, db, models.StockAuditEventSale, "ORDER-1"); n != 1 {
		t.Fatalf("sale audits = %d, want 1", n)
	}

	// Webhook redelivery: same order, no second decrement, no second row.
	if err := store.ConfirmSale(ctx, "tee-001", "black", 2, "ORDER-1", "session-a"); err != nil {
		t.Fatalf("confirm sale redelivery: %v", err)
	}
	color, err = models.GetProductColor(ctx, "tee-001", "black")
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if color.TotalStock != 3 {
		t.Fatalf("total stock after redelivery = %d, want 3", color.TotalStock)
	}
	if n := countAudits(t, db, models.StockAuditEventSale, "ORDER-1"); n != 1 {
		t.Fatalf("sale audits after redelivery = %d, want 1", n)
	}
}

func TestConfirmSaleSurvivesExpiredHold(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)

	expired := models.Reservation{
		ProductId: "tee-001", ColorName: "black", SessionId: "session-a",
		Quantity: 2, ExpiresAt: utils.NowMs() - 1000,
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed expired hold: %v", err)
	}

	// The customer paid while the hold lapsed. The sale still lands.
	if err := store.ConfirmSale(ctx, "tee-001", "black", 2, "ORDER-1", "session-a"); err != nil {
		t.Fatalf("confirm sale: %v", err)
	}
	color, err := models.GetProductColor(ctx, "tee-001", "black")
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if color.TotalStock != 3 {
		t.Fatalf("total stock = %d, want 3", color.TotalStock)
	}
}

func TestConfirmSaleFloorsOversell(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 1)

	if err := store.ConfirmSale(ctx, "tee-001", "black", 3, "ORDER-1", "session-a"); err != nil {
		t.Fatalf("confirm sale: %v", err)
	}

	color, err := models.GetProductColor(ctx, "tee-001", "black")
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	if color.TotalStock != 0 {
		t.Fatalf("total stock floored at %d, want 0", color.TotalStock)
	}
	if n := countAudits(t, db, models.StockAuditEventAnomaly, "ORDER-1"); n != 1 {
		t.Fatalf("anomaly audits = %d, want 1", n)
	}

	var anomaly models.StockAuditEntry
	err = db.Where("event_type = ?", models.StockAuditEventAnomaly).First(&anomaly).Error
	if err != nil {
		t.Fatalf("load anomaly: %v", err)
	}
	if anomaly.QuantityChange != -2 {
		t.Fatalf("anomaly shortfall = %d, want -2", anomaly.QuantityChange)
	}
	var sale models.StockAuditEntry
	err = db.Where("event_type = ?", models.StockAuditEventSale).First(&sale).Error
	if err != nil {
		t.Fatalf("load sale audit: %v", err)
	}
	if sale.QuantityChange != -1 || sale.StockBefore != 1 || sale.StockAfter != 0 {
		t.Fatalf("sale audit = %+v, want change -1 from 1 to 0", sale)
	}
}

func TestConfirmSaleMissingColorRecordsAnomaly(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()

	if err := store.ConfirmSale(ctx, "ghost", "white", 1, "ORDER-1", "session-a"); err != nil {
		t.Fatalf("confirm sale for missing color: %v", err)
	}
	if n := countAudits(t, db, models.StockAuditEventAnomaly, "ORDER-1"); n != 1 {
		t.Fatalf("anomaly audits = %d, want 1", n)
	}
}

func TestConfirmSaleNotifiesStockOut(t *testing.T) {
	_, db := newTestSQLStore(t)
	notifier := &recordingNotifier{}
	store := NewSQLStore(db, noopLocker{}, notifier)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 2)

	if err := store.ConfirmSale(ctx, "tee-001", "black", 1, "ORDER-1", "session-a"); err != nil {
		t.Fatalf("confirm first sale: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("stock-out fired with stock remaining: %v", notifier.events)
	}

	if err := store.ConfirmSale(ctx, "tee-001", "black", 1, "ORDER-2", "session-b"); err != nil {
		t.Fatalf("confirm second sale: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "tee-001/black/ORDER-2" {
		t.Fatalf("stock-out events = %v, want exactly the final sale", notifier.events)
	}
}

func TestValidateCartDropsExpiredLines(t *testing.T) {
	store, db := newTestSQLStore(t)
	ctx := context.Background()
	mustCreateColor(t, ctx, "tee-001", "black", 5)
	mustCreateColor(t, ctx, "tee-001", "red", 5)

	if _, err := store.Reserve(ctx, "tee-001", "black", 2, "session-a", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	expired := models.Reservation{
		ProductId: "tee-001", ColorName: "red", SessionId: "session-a",
		Quantity: 1, ExpiresAt: utils.NowMs() - 1000,
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed expired hold: %v", err)
	}

	items := []models.CartItem{
		{ProductId: "tee-001", ColorName: "black", Quantity: 4},
		{ProductId: "tee-001", ColorName: "red", Quantity: 1},
	}
	valid, err := store.ValidateCart(ctx, "session-a", items)
	if err != nil {
		t.Fatalf("validate cart: %v", err)
	}
	if len(valid) != 1 {
		t.Fatalf("valid lines = %+v, want only the active black hold", valid)
	}
	if valid[0].ColorName != "black" || valid[0].Quantity != 2 {
		t.Fatalf("valid line = %+v, want black clamped to held 2", valid[0])
	}
}
