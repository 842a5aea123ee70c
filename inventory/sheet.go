package inventory

import (
	"context"
	"time"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/utils"
	"github.com/sirupsen/logrus"
)

// SheetStore is the spreadsheet adapter. Its only bulk-mutation
// primitive is "rewrite all rows", so consistency is best-effort: two
// racing writers can interleave fetch/rewrite and a small oversell
// window is an accepted risk under low concurrency. The adapter bounds
// the damage with the active-row cap, short-TTL cache invalidation and
// the reaper's advisory lock; it does not pretend to transactions.
type SheetStore struct {
	api      sheetAPI
	retry    utils.RetryPolicy
	locker   Locker
	cache    *availabilityCache
	logger   *logrus.Logger
	notifier Notifier
}

func NewSheetStore(api sheetAPI, locker Locker, notifier Notifier) *SheetStore {
	if locker == nil {
		locker = NewRedisLocker()
	}
	return &SheetStore{
		api:      api,
		retry:    utils.DefaultSheetRetry,
		locker:   locker,
		cache:    newAvailabilityCache(),
		logger:   config.GetLogger(),
		notifier: notifier,
	}
}

// NewGoogleSheetStore wires the adapter to the spreadsheet named by
// SHEETS_SPREADSHEET_ID.
func NewGoogleSheetStore(notifier Notifier) (*SheetStore, error) {
	api, err := newGoogleSheetAPI()
	if err != nil {
		return nil, err
	}
	return NewSheetStore(api, NewRedisLocker(), notifier), nil
}

func (s *SheetStore) fetchReservations(ctx context.Context) ([]models.Reservation, error) {
	var raw [][]interface{}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.api.FetchRows(ctx, reservationRange)
		return err
	})
	if err != nil {
		return nil, err
	}
	rows := make([]models.Reservation, 0, len(raw))
	for _, cells := range raw {
		r, err := decodeReservationRow(cells)
		if err != nil {
			// A malformed row must not take the whole store down.
			config.LogError(s.logger, "inventory", "fetchReservations", "skip malformed row", cells, err)
			continue
		}
		rows = append(rows, *r)
	}
	return rows, nil
}

func (s *SheetStore) fetchStock(ctx context.Context) ([]models.ProductColor, error) {
	var raw [][]interface{}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.api.FetchRows(ctx, stockRange)
		return err
	})
	if err != nil {
		return nil, err
	}
	stock := make([]models.ProductColor, 0, len(raw))
	for _, cells := range raw {
		pc, err := decodeStockRow(cells)
		if err != nil {
			config.LogError(s.logger, "inventory", "fetchStock", "skip malformed row", cells, err)
			continue
		}
		stock = append(stock, *pc)
	}
	return stock, nil
}

func (s *SheetStore) writeReservations(ctx context.Context, rows []models.Reservation) error {
	encoded := make([][]interface{}, 0, len(rows))
	for i := range rows {
		encoded = append(encoded, encodeReservationRow(&rows[i]))
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.api.OverwriteRows(ctx, reservationRange, encoded)
	})
}

func (s *SheetStore) writeStock(ctx context.Context, stock []models.ProductColor) error {
	encoded := make([][]interface{}, 0, len(stock))
	for i := range stock {
		encoded = append(encoded, encodeStockRow(&stock[i]))
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.api.OverwriteRows(ctx, stockRange, encoded)
	})
}

func (s *SheetStore) appendAudit(ctx context.Context, entry *models.StockAuditEntry) error {
	row := encodeAuditRow(entry)
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.api.AppendRow(ctx, auditAppendRange, row)
	})
}

func findStock(stock []models.ProductColor, productId, colorName string) *models.ProductColor {
	for i := range stock {
		if stock[i].ProductId == productId && stock[i].ColorName == colorName {
			return &stock[i]
		}
	}
	return nil
}

func (s *SheetStore) Reserve(ctx context.Context, productId, colorName string, quantity int, sessionId string, duration time.Duration) (*ReserveResult, error) {
	if err := validateReserveInput(productId, colorName, sessionId, quantity); err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = DefaultHoldDuration
	}
	nowMs := utils.NowMs()

	if _, err := s.CleanExpired(ctx); err != nil {
		config.LogError(s.logger, "inventory", "Reserve", "clean expired", productId, err)
	}

	stock, err := s.fetchStock(ctx)
	if err != nil {
		return nil, err
	}
	productColor := findStock(stock, productId, colorName)
	if productColor == nil {
		return &ReserveResult{Success: false, Available: 0, Error: "product color not found"}, nil
	}

	rows, err := s.fetchReservations(ctx)
	if err != nil {
		return nil, err
	}

	colorRows := make([]models.Reservation, 0, len(rows))
	for _, r := range rows {
		if r.ProductId == productId && r.ColorName == colorName {
			colorRows = append(colorRows, r)
		}
	}

	oldQty := ownActiveQuantity(colorRows, nowMs, sessionId)
	available := availableFrom(productColor.TotalStock, heldQuantity(colorRows, nowMs, sessionId))
	if quantity > available {
		return &ReserveResult{Success: false, Available: available, Error: "insufficient stock"}, nil
	}

	// Upsert in memory: overwrite the session's row (active or expired),
	// otherwise append, respecting the hard active-row cap.
	updated := false
	activeCount := 0
	for i := range rows {
		r := &rows[i]
		if r.ProductId == productId && r.ColorName == colorName && r.SessionId == sessionId {
			r.Quantity = quantity
			r.ExpiresAt = nowMs + duration.Milliseconds()
			updated = true
		}
		if r.Active(nowMs) {
			activeCount++
		}
	}
	if !updated {
		if activeCount >= SheetActiveRowCap {
			// Unlike insufficient stock, the row cap is a backend limit,
			// not a shopper-facing outcome; it surfaces as an error so the
			// API layer can answer 409 with the availability attached.
			return nil, utils.NewCapacityError(available, "reservation capacity reached")
		}
		rows = append(rows, models.Reservation{
			ProductId: productId,
			ColorName: colorName,
			SessionId: sessionId,
			Quantity:  quantity,
			ExpiresAt: nowMs + duration.Milliseconds(),
		})
	}

	if err := s.writeReservations(ctx, rows); err != nil {
		return nil, err
	}

	availAllBefore := availableFrom(productColor.TotalStock, heldQuantity(colorRows, nowMs, ""))
	audit := models.StockAuditEntry{
		ProductId:      productId,
		ColorName:      colorName,
		EventType:      models.StockAuditEventReserve,
		QuantityChange: quantity - oldQty,
		StockBefore:    availAllBefore,
		StockAfter:     availAllBefore - (quantity - oldQty),
		SessionId:      &sessionId,
	}
	if err := s.appendAudit(ctx, &audit); err != nil {
		config.LogError(s.logger, "inventory", "Reserve", "append audit", productId, err)
	}

	if err := s.cache.Invalidate(productId, colorName); err != nil {
		config.LogError(s.logger, "inventory", "Reserve", "invalidate cache", productId, err)
	}
	return &ReserveResult{Success: true, Available: available - quantity}, nil
}

func (s *SheetStore) Release(ctx context.Context, productId, colorName, sessionId string) error {
	if productId == "" || colorName == "" || sessionId == "" {
		return utils.NewValidationError("", "product_id, color_name and session_id are required")
	}
	nowMs := utils.NowMs()

	rows, err := s.fetchReservations(ctx)
	if err != nil {
		return err
	}

	var released *models.Reservation
	kept := make([]models.Reservation, 0, len(rows))
	for _, r := range rows {
		if r.ProductId == productId && r.ColorName == colorName && r.SessionId == sessionId {
			row := r
			released = &row
			continue
		}
		kept = append(kept, r)
	}
	if released == nil {
		// Releasing an absent hold is a no-op.
		return nil
	}

	if err := s.writeReservations(ctx, kept); err != nil {
		return err
	}

	if released.Active(nowMs) {
		stock, err := s.fetchStock(ctx)
		if err != nil {
			return err
		}
		availAfter := 0
		if pc := findStock(stock, productId, colorName); pc != nil {
			colorRows := make([]models.Reservation, 0, len(kept))
			for _, r := range kept {
				if r.ProductId == productId && r.ColorName == colorName {
					colorRows = append(colorRows, r)
				}
			}
			availAfter = availableFrom(pc.TotalStock, heldQuantity(colorRows, nowMs, ""))
		}
		audit := models.StockAuditEntry{
			ProductId:      productId,
			ColorName:      colorName,
			EventType:      models.StockAuditEventRelease,
			QuantityChange: -released.Quantity,
			StockBefore:    availAfter - released.Quantity,
			StockAfter:     availAfter,
			SessionId:      &sessionId,
		}
		if err := s.appendAudit(ctx, &audit); err != nil {
			config.LogError(s.logger, "inventory", "Release", "append audit", productId, err)
		}
	}

	if err := s.cache.Invalidate(productId, colorName); err != nil {
		config.LogError(s.logger, "inventory", "Release", "invalidate cache", productId, err)
	}
	return nil
}

func (s *SheetStore) AvailableStock(ctx context.Context, productId, colorName string, excludeSessionId string) (int, error) {
	nowMs := utils.NowMs()

	if excludeSessionId == "" {
		if available, ok := s.cache.Get(productId, colorName); ok {
			return available, nil
		}
	}

	if _, err := s.CleanExpired(ctx); err != nil {
		config.LogError(s.logger, "inventory", "AvailableStock", "clean expired", productId, err)
	}

	stock, err := s.fetchStock(ctx)
	if err != nil {
		return 0, err
	}
	productColor := findStock(stock, productId, colorName)
	if productColor == nil {
		// The color may have been deleted concurrently.
		return 0, nil
	}

	rows, err := s.fetchReservations(ctx)
	if err != nil {
		return 0, err
	}
	colorRows := make([]models.Reservation, 0, len(rows))
	for _, r := range rows {
		if r.ProductId == productId && r.ColorName == colorName {
			colorRows = append(colorRows, r)
		}
	}

	available := availableFrom(productColor.TotalStock, heldQuantity(colorRows, nowMs, excludeSessionId))
	if excludeSessionId == "" {
		s.cache.Set(productId, colorName, available)
	}
	return available, nil
}

// CleanExpired purges expired rows with a full rewrite, guarded by the
// advisory lock: two concurrent rewrites of the same range can silently
// drop rows, so only one reaper may run at a time. Losing the race is
// harmless: availability math already ignores expired rows.
func (s *SheetStore) CleanExpired(ctx context.Context) (int, error) {
	nowMs := utils.NowMs()

	release, ok, err := s.locker.TryLock(ctx, ReaperLockKey, ReaperLockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	defer release()

	rows, err := s.fetchReservations(ctx)
	if err != nil {
		return 0, err
	}

	kept := make([]models.Reservation, 0, len(rows))
	expiredByColor := make(map[[2]string]int)
	for _, r := range rows {
		if r.Active(nowMs) {
			kept = append(kept, r)
			continue
		}
		expiredByColor[[2]string{r.ProductId, r.ColorName}] += r.Quantity
	}
	purged := len(rows) - len(kept)
	if purged == 0 {
		return 0, nil
	}

	if err := s.writeReservations(ctx, kept); err != nil {
		return 0, err
	}

	for key, qty := range expiredByColor {
		audit := models.StockAuditEntry{
			ProductId:      key[0],
			ColorName:      key[1],
			EventType:      models.StockAuditEventExpire,
			QuantityChange: -qty,
		}
		if err := s.appendAudit(ctx, &audit); err != nil {
			config.LogError(s.logger, "inventory", "CleanExpired", "append audit", key[0], err)
		}
		if err := s.cache.Invalidate(key[0], key[1]); err != nil {
			config.LogError(s.logger, "inventory", "CleanExpired", "invalidate cache", key[0], err)
		}
	}
	return purged, nil
}

func (s *SheetStore) ConfirmSale(ctx context.Context, productId, colorName string, quantity int, orderId, sessionId string) error {
	if err := validateConfirmInput(productId, colorName, orderId, quantity); err != nil {
		return err
	}

	// Idempotency: scan the audit sheet for an existing sale row before
	// decrementing; webhook deliveries are retried by the provider. The
	// marker is appended before the stock rewrite, so finding one means
	// the decrement either landed or must be completed from the marker.
	marker, err := s.findSaleMarker(ctx, productId, colorName, orderId)
	if err != nil {
		return err
	}
	if marker != nil {
		return s.reconcileSale(ctx, marker, orderId)
	}

	stock, err := s.fetchStock(ctx)
	if err != nil {
		return err
	}
	productColor := findStock(stock, productId, colorName)
	if productColor == nil {
		anomaly := models.StockAuditEntry{
			ProductId:      productId,
			ColorName:      colorName,
			EventType:      models.StockAuditEventAnomaly,
			QuantityChange: -quantity,
			OrderId:        &orderId,
			SessionId:      &sessionId,
		}
		config.LogError(s.logger, "inventory", "ConfirmSale", "sale for missing color", orderId,
			utils.ErrorRecordNotFound)
		return s.appendAudit(ctx, &anomaly)
	}

	stockBefore := productColor.TotalStock
	decrement := quantity
	shortfall := 0
	if decrement > stockBefore {
		shortfall = decrement - stockBefore
		decrement = stockBefore
	}
	stockAfter := stockBefore - decrement

	audit := models.StockAuditEntry{
		ProductId:      productId,
		ColorName:      colorName,
		EventType:      models.StockAuditEventSale,
		QuantityChange: -decrement,
		StockBefore:    stockBefore,
		StockAfter:     stockAfter,
		OrderId:        &orderId,
		SessionId:      &sessionId,
	}
	// The sale audit row is the idempotency marker and must land before
	// the stock rewrite: if it fails nothing has been applied yet, and if
	// the rewrite fails the retry completes the decrement from the marker
	// instead of applying it twice.
	if err := s.appendAudit(ctx, &audit); err != nil {
		return err
	}

	if shortfall > 0 {
		anomaly := models.StockAuditEntry{
			ProductId:      productId,
			ColorName:      colorName,
			EventType:      models.StockAuditEventAnomaly,
			QuantityChange: -shortfall,
			StockBefore:    stockBefore,
			StockAfter:     0,
			OrderId:        &orderId,
			SessionId:      &sessionId,
		}
		if err := s.appendAudit(ctx, &anomaly); err != nil {
			config.LogError(s.logger, "inventory", "ConfirmSale", "append anomaly audit", orderId, err)
		}
	}

	productColor.TotalStock = stockAfter
	if err := s.writeStock(ctx, stock); err != nil {
		return err
	}

	// Drop the session's hold if it is still there; it may have expired
	// while the customer was on the payment page.
	rows, err := s.fetchReservations(ctx)
	if err == nil {
		kept := make([]models.Reservation, 0, len(rows))
		removed := false
		for _, r := range rows {
			if r.ProductId == productId && r.ColorName == colorName && r.SessionId == sessionId {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		if removed {
			if err := s.writeReservations(ctx, kept); err != nil {
				config.LogError(s.logger, "inventory", "ConfirmSale", "remove hold", orderId, err)
			}
		}
	} else {
		config.LogError(s.logger, "inventory", "ConfirmSale", "fetch reservations", orderId, err)
	}

	if err := s.cache.Invalidate(productId, colorName); err != nil {
		config.LogError(s.logger, "inventory", "ConfirmSale", "invalidate cache", productId, err)
	}
	if stockAfter == 0 && s.notifier != nil {
		if err := s.notifier.NotifyStockOut(ctx, productId, colorName, orderId); err != nil {
			config.LogError(s.logger, "inventory", "ConfirmSale", "stock-out notification", orderId, err)
		}
	}
	return nil
}

func (s *SheetStore) findSaleMarker(ctx context.Context, productId, colorName, orderId string) (*models.StockAuditEntry, error) {
	var raw [][]interface{}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.api.FetchRows(ctx, auditReadRange)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, cells := range raw {
		entry, err := decodeAuditRow(cells)
		if err != nil {
			continue
		}
		if entry.EventType != models.StockAuditEventSale || entry.OrderId == nil {
			continue
		}
		if *entry.OrderId == orderId && entry.ProductId == productId && entry.ColorName == colorName {
			return entry, nil
		}
	}
	return nil, nil
}

// reconcileSale handles a redelivery that found an existing sale marker.
// The marker records the stock transition it stands for; when the stock
// cell still shows the pre-sale value, the earlier attempt died between
// the marker append and the rewrite, so the decrement is applied now.
// Any other reading means the sale is settled and the call is a no-op.
func (s *SheetStore) reconcileSale(ctx context.Context, marker *models.StockAuditEntry, orderId string) error {
	if marker.StockBefore == marker.StockAfter {
		return nil
	}
	stock, err := s.fetchStock(ctx)
	if err != nil {
		return err
	}
	productColor := findStock(stock, marker.ProductId, marker.ColorName)
	if productColor == nil || productColor.TotalStock != marker.StockBefore {
		return nil
	}
	productColor.TotalStock = marker.StockAfter
	if err := s.writeStock(ctx, stock); err != nil {
		return err
	}
	if err := s.cache.Invalidate(marker.ProductId, marker.ColorName); err != nil {
		config.LogError(s.logger, "inventory", "ConfirmSale", "invalidate cache", marker.ProductId, err)
	}
	if marker.StockAfter == 0 && s.notifier != nil {
		if err := s.notifier.NotifyStockOut(ctx, marker.ProductId, marker.ColorName, orderId); err != nil {
			config.LogError(s.logger, "inventory", "ConfirmSale", "stock-out notification", orderId, err)
		}
	}
	return nil
}

func (s *SheetStore) ValidateCart(ctx context.Context, sessionId string, items []models.CartItem) ([]models.CartItem, error) {
	if sessionId == "" {
		return nil, utils.NewValidationError("session_id", "required")
	}
	nowMs := utils.NowMs()

	rows, err := s.fetchReservations(ctx)
	if err != nil {
		return nil, err
	}
	return filterCartItems(items, rows, sessionId, nowMs), nil
}

func (s *SheetStore) InvalidateCache(productId, colorName string) error {
	return s.cache.Invalidate(productId, colorName)
}

// Snapshot reads the full stock and reservation state in one pass. It
// backs the one-shot migration into the relational store.
func (s *SheetStore) Snapshot(ctx context.Context) ([]models.ProductColor, []models.Reservation, error) {
	stock, err := s.fetchStock(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.fetchReservations(ctx)
	if err != nil {
		return nil, nil, err
	}
	return stock, rows, nil
}
