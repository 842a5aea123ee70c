package inventory

import (
	"context"
	"time"

	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/utils"
)

const (
	// MaxQtyPerRequest caps a single hold independent of stock math.
	MaxQtyPerRequest = 5

	// DefaultHoldDuration is how long a hold lives when the caller does
	// not ask for a specific duration.
	DefaultHoldDuration = 15 * time.Minute

	// SheetActiveRowCap is the hard cap on active holds in the
	// spreadsheet backend. Bulk-rewrite cost and API rate limits make
	// that backend unusable beyond this scale.
	SheetActiveRowCap = 999

	// ReaperLockKey guards expired-hold cleanup across instances.
	ReaperLockKey = "reservation-reaper"
	// ReaperLockTTL keeps the guard short-lived so a crashed reaper
	// cannot block cleanup for long.
	ReaperLockTTL = 5 * time.Second
)

// ReserveResult mirrors what the cart UI needs: on rejection Available
// carries the current availability so the caller can show "only N left"
// without a second round trip.
type ReserveResult struct {
	Success   bool   `json:"success"`
	Available int    `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Store is the single contract both storage backends implement. The
// relational adapter backs every operation with a real transaction; the
// spreadsheet adapter is best-effort (bulk fetch, mutate in memory, bulk
// rewrite) with a documented oversell window under concurrency.
type Store interface {
	// Reserve places or overwrites the hold for
	// (productId, colorName, sessionId). Availability is computed
	// excluding the caller's own existing hold, so a session can always
	// raise or lower its own quantity without self-blocking.
	Reserve(ctx context.Context, productId, colorName string, quantity int, sessionId string, duration time.Duration) (*ReserveResult, error)

	// Release deletes the session's hold. Idempotent no-op when absent.
	Release(ctx context.Context, productId, colorName, sessionId string) error

	// AvailableStock returns max(0, totalStock - sum(active holds)),
	// optionally excluding one session's hold. A missing color returns 0.
	AvailableStock(ctx context.Context, productId, colorName string, excludeSessionId string) (int, error)

	// ConfirmSale converts a hold (possibly already expired) into a
	// permanent stock decrement. Idempotent per
	// (productId, colorName, orderId); never refuses because the hold is
	// gone, since the payment is already captured.
	ConfirmSale(ctx context.Context, productId, colorName string, quantity int, orderId, sessionId string) error

	// CleanExpired physically removes holds past their expiry and
	// returns how many were purged. Availability math already excludes
	// expired holds logically, so skipping cleanup is always safe.
	CleanExpired(ctx context.Context) (int, error)

	// ValidateCart drops cart lines whose server-side hold has expired,
	// clamping quantities to the held amount.
	ValidateCart(ctx context.Context, sessionId string, items []models.CartItem) ([]models.CartItem, error)

	// InvalidateCache drops the read-through availability cache entry
	// for one color. Exposed so operator stock adjustments can force a
	// fresh read.
	InvalidateCache(productId, colorName string) error
}

// Notifier receives the stock-out side effect: available stock hit zero
// right after a confirmed sale. Delivery mechanics live behind it.
type Notifier interface {
	NotifyStockOut(ctx context.Context, productId, colorName, orderId string) error
}

func validateReserveInput(productId, colorName, sessionId string, quantity int) error {
	if productId == "" {
		return utils.NewValidationError("product_id", "required")
	}
	if colorName == "" {
		return utils.NewValidationError("color_name", "required")
	}
	if sessionId == "" {
		return utils.NewValidationError("session_id", "required")
	}
	if quantity <= 0 {
		return utils.NewValidationError("quantity", "must be positive")
	}
	if quantity > MaxQtyPerRequest {
		return utils.NewValidationError("quantity", "exceeds per-request cap")
	}
	return nil
}

func validateConfirmInput(productId, colorName, orderId string, quantity int) error {
	if productId == "" {
		return utils.NewValidationError("product_id", "required")
	}
	if colorName == "" {
		return utils.NewValidationError("color_name", "required")
	}
	if orderId == "" {
		return utils.NewValidationError("order_id", "required")
	}
	if quantity <= 0 {
		return utils.NewValidationError("quantity", "must be positive")
	}
	return nil
}
