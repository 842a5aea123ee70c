package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore is the relational adapter: every operation is a real
// transaction, the sum invariant is enforced by locking the color row
// while racing reserves are checked, and the sale transition commits the
// decrement, hold cleanup and audit append atomically.
type SQLStore struct {
	db       *gorm.DB
	locker   Locker
	cache    *availabilityCache
	logger   *logrus.Logger
	notifier Notifier
}

func NewSQLStore(db *gorm.DB, locker Locker, notifier Notifier) *SQLStore {
	if locker == nil {
		locker = NewRedisLocker()
	}
	return &SQLStore{
		db:       db,
		locker:   locker,
		cache:    newAvailabilityCache(),
		logger:   config.GetLogger(),
		notifier: notifier,
	}
}

// lockColorRow serializes racing reserves for one color by locking its
// product_colors row. SQLite (tests) has a single writer and rejects the
// FOR UPDATE syntax, so the clause is MySQL-only.
func (s *SQLStore) lockColorRow(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *SQLStore) Reserve(ctx context.Context, productId, colorName string, quantity int, sessionId string, duration time.Duration) (*ReserveResult, error) {
	if err := validateReserveInput(productId, colorName, sessionId, quantity); err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = DefaultHoldDuration
	}
	nowMs := utils.NowMs()

	// Opportunistic reap so stale holds never inflate the reserved sum.
	if _, err := s.CleanExpired(ctx); err != nil {
		config.LogError(s.logger, "inventory", "Reserve", "clean expired", productId, err)
	}

	var result *ReserveResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var productColor models.ProductColor
		err := s.lockColorRow(tx).
			Where("product_id = ? AND color_name = ?", productId, colorName).
			First(&productColor).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// The color may have been deleted concurrently.
				result = &ReserveResult{Success: false, Available: 0, Error: "product color not found"}
				return nil
			}
			return err
		}

		var rows []models.Reservation
		if err := tx.Where("product_id = ? AND color_name = ?", productId, colorName).
			Find(&rows).Error; err != nil {
			return err
		}

		oldQty := ownActiveQuantity(rows, nowMs, sessionId)
		available := availableFrom(productColor.TotalStock, heldQuantity(rows, nowMs, sessionId))
		if quantity > available {
			result = &ReserveResult{Success: false, Available: available, Error: "insufficient stock"}
			return nil
		}

		reservation := models.Reservation{
			ProductId: productId,
			ColorName: colorName,
			SessionId: sessionId,
			Quantity:  quantity,
			ExpiresAt: nowMs + duration.Milliseconds(),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "color_name"}, {Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":   quantity,
				"expires_at": reservation.ExpiresAt,
			}),
		}).Create(&reservation).Error
		if err != nil {
			return err
		}

		availAllBefore := availableFrom(productColor.TotalStock, heldQuantity(rows, nowMs, ""))
		audit := models.StockAuditEntry{
			ProductId:      productId,
			ColorName:      colorName,
			EventType:      models.StockAuditEventReserve,
			QuantityChange: quantity - oldQty,
			StockBefore:    availAllBefore,
			StockAfter:     availAllBefore - (quantity - oldQty),
			SessionId:      &sessionId,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		result = &ReserveResult{Success: true, Available: available - quantity}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Success {
		if err := s.cache.Invalidate(productId, colorName); err != nil {
			config.LogError(s.logger, "inventory", "Reserve", "invalidate cache", productId, err)
		}
	}
	return result, nil
}

func (s *SQLStore) Release(ctx context.Context, productId, colorName, sessionId string) error {
	if productId == "" || colorName == "" || sessionId == "" {
		return utils.NewValidationError("", "product_id, color_name and session_id are required")
	}
	nowMs := utils.NowMs()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reservation models.Reservation
		err := tx.Where("product_id = ? AND color_name = ? AND session_id = ?", productId, colorName, sessionId).
			First(&reservation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Releasing an absent hold is a no-op.
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Delete(&reservation).Error; err != nil {
			return err
		}

		if !reservation.Active(nowMs) {
			// Expired row: the reaper would have removed it anyway, and
			// it no longer counted against availability.
			return nil
		}

		var productColor models.ProductColor
		if err := tx.Where("product_id = ? AND color_name = ?", productId, colorName).
			First(&productColor).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var rows []models.Reservation
		if err := tx.Where("product_id = ? AND color_name = ?", productId, colorName).
			Find(&rows).Error; err != nil {
			return err
		}
		availAfter := availableFrom(productColor.TotalStock, heldQuantity(rows, nowMs, ""))

		audit := models.StockAuditEntry{
			ProductId:      productId,
			ColorName:      colorName,
			EventType:      models.StockAuditEventRelease,
			QuantityChange: -reservation.Quantity,
			StockBefore:    availAfter - reservation.Quantity,
			StockAfter:     availAfter,
			SessionId:      &sessionId,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		return err
	}
	if err := s.cache.Invalidate(productId, colorName); err != nil {
		config.LogError(s.logger, "inventory", "Release", "invalidate cache", productId, err)
	}
	return nil
}

func (s *SQLStore) AvailableStock(ctx context.Context, productId, colorName string, excludeSessionId string) (int, error) {
	nowMs := utils.NowMs()

	if excludeSessionId == "" {
		if available, ok := s.cache.Get(productId, colorName); ok {
			return available, nil
		}
	}

	if _, err := s.CleanExpired(ctx); err != nil {
		config.LogError(s.logger, "inventory", "AvailableStock", "clean expired", productId, err)
	}

	var productColor models.ProductColor
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND color_name = ?", productId, colorName).
		First(&productColor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Reservation{}).
		Where("product_id = ? AND color_name = ? AND expires_at > ?", productId, colorName, nowMs)
	if excludeSessionId != "" {
		query = query.Where("session_id <> ?", excludeSessionId)
	}
	var held *int
	if err := query.Select("SUM(quantity)").Scan(&held).Error; err != nil {
		return 0, err
	}
	heldQty := 0
	if held != nil {
		heldQty = *held
	}

	available := availableFrom(productColor.TotalStock, heldQty)
	if excludeSessionId == "" {
		s.cache.Set(productId, colorName, available)
	}
	return available, nil
}

// CleanExpired on the relational backend is a single atomic DELETE and
// needs no advisory lock for correctness; the lock is still honored so
// both adapters share one interface and one contention policy.
func (s *SQLStore) CleanExpired(ctx context.Context) (int, error) {
	nowMs := utils.NowMs()

	release, ok, err := s.locker.TryLock(ctx, ReaperLockKey, ReaperLockTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Another caller is reaping; expired rows are already excluded
		// logically, so there is nothing to wait for.
		return 0, nil
	}
	defer release()

	purged := 0
	affected := make(map[[2]string]bool)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []models.Reservation
		if err := tx.Where("expires_at <= ?", nowMs).Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		// One expire audit row per color per sweep.
		expiredByColor := make(map[[2]string]int)
		for _, r := range expired {
			expiredByColor[[2]string{r.ProductId, r.ColorName}] += r.Quantity
		}
		for key, qty := range expiredByColor {
			var productColor models.ProductColor
			err := tx.Where("product_id = ? AND color_name = ?", key[0], key[1]).
				First(&productColor).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			var rows []models.Reservation
			if err := tx.Where("product_id = ? AND color_name = ?", key[0], key[1]).
				Find(&rows).Error; err != nil {
				return err
			}
			availBefore := availableFrom(productColor.TotalStock, heldQuantity(rows, nowMs, ""))
			audit := models.StockAuditEntry{
				ProductId:      key[0],
				ColorName:      key[1],
				EventType:      models.StockAuditEventExpire,
				QuantityChange: -qty,
				StockBefore:    availBefore,
				StockAfter:     availBefore,
			}
			if err := tx.Create(&audit).Error; err != nil {
				return err
			}
			affected[key] = true
		}

		result := tx.Where("expires_at <= ?", nowMs).Delete(&models.Reservation{})
		if result.Error != nil {
			return result.Error
		}
		purged = int(result.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for key := range affected {
		if err := s.cache.Invalidate(key[0], key[1]); err != nil {
			config.LogError(s.logger, "inventory", "CleanExpired", "invalidate cache", key[0], err)
		}
	}
	return purged, nil
}

func (s *SQLStore) ConfirmSale(ctx context.Context, productId, colorName string, quantity int, orderId, sessionId string) error {
	if err := validateConfirmInput(productId, colorName, orderId, quantity); err != nil {
		return err
	}

	var stockOut bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The locking read must come before the idempotency count: the
		// row lock serializes racing deliveries of the same webhook, and
		// under REPEATABLE READ the blocked transaction's snapshot starts
		// only after the winner commits, so the count below sees the
		// winner's sale row instead of a stale zero.
		var productColor models.ProductColor
		err := s.lockColorRow(tx).
			Where("product_id = ? AND color_name = ?", productId, colorName).
			First(&productColor).Error
		colorMissing := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !colorMissing {
			return err
		}

		// Payment providers retry webhook delivery: a sale audit row for
		// this orderId+color means the decrement already happened.
		var count int64
		err = tx.Model(&models.StockAuditEntry{}).
			Where("event_type = ? AND order_id = ? AND product_id = ? AND color_name = ?",
				models.StockAuditEventSale, orderId, productId, colorName).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		if colorMissing {
			// The customer was charged for a color that no longer
			// exists. Surface to operators, never to the webhook.
			anomaly := models.StockAuditEntry{
				ProductId:      productId,
				ColorName:      colorName,
				EventType:      models.StockAuditEventAnomaly,
				QuantityChange: -quantity,
				OrderId:        &orderId,
				SessionId:      &sessionId,
			}
			config.LogError(s.logger, "inventory", "ConfirmSale", "sale for missing color", orderId,
				errors.New("product color not found"))
			return tx.Create(&anomaly).Error
		}

		stockBefore := productColor.TotalStock
		decrement := quantity
		if decrement > stockBefore {
			// An oversell slipped past reservation checks. Floor at zero
			// and record the shortfall; silently going negative would
			// hide the incident from operators.
			shortfall := decrement - stockBefore
			decrement = stockBefore
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
			if err := tx.Create(&anomaly).Error; err != nil {
				return err
			}
			config.LogError(s.logger, "inventory", "ConfirmSale", "sale exceeds remaining stock", orderId,
				errors.New("oversold inventory"))
		}
		stockAfter := stockBefore - decrement

		err = tx.Model(&models.ProductColor{}).
			Where("product_id = ? AND color_name = ?", productId, colorName).
			Update("total_stock", stockAfter).Error
		if err != nil {
			return err
		}

		// The originating hold may have expired while the customer was
		// on the payment page; delete it if it is still there.
		err = tx.Where("product_id = ? AND color_name = ? AND session_id = ?", productId, colorName, sessionId).
			Delete(&models.Reservation{}).Error
		if err != nil {
			return err
		}

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
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		stockOut = stockAfter == 0
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.cache.Invalidate(productId, colorName); err != nil {
		config.LogError(s.logger, "inventory", "ConfirmSale", "invalidate cache", productId, err)
	}
	if stockOut && s.notifier != nil {
		if err := s.notifier.NotifyStockOut(ctx, productId, colorName, orderId); err != nil {
			config.LogError(s.logger, "inventory", "ConfirmSale", "stock-out notification", orderId, err)
		}
	}
	return nil
}

func (s *SQLStore) ValidateCart(ctx context.Context, sessionId string, items []models.CartItem) ([]models.CartItem, error) {
	if sessionId == "" {
		return nil, utils.NewValidationError("session_id", "required")
	}
	nowMs := utils.NowMs()

	var rows []models.Reservation
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return filterCartItems(items, rows, sessionId, nowMs), nil
}

func (s *SQLStore) InvalidateCache(productId, colorName string) error {
	return s.cache.Invalidate(productId, colorName)
}
