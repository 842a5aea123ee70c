package inventory

import (
	"testing"

	"github.com/mmdatafocus/drops_backend/models"
)

func TestHeldQuantityExcludesExpiredAndOwnSession(t *testing.T) {
	now := int64(1_000_000)
	rows := []models.Reservation{
		{ProductId: "p1", ColorName: "black", SessionId: "a", Quantity: 2, ExpiresAt: now + 1000},
		{ProductId: "p1", ColorName: "black", SessionId: "b", Quantity: 3, ExpiresAt: now + 1000},
		{ProductId: "p1", ColorName: "black", SessionId: "c", Quantity: 4, ExpiresAt: now}, // expired: expiresAt <= now
	}

	if got := heldQuantity(rows, now, ""); got != 5 {
		t.Fatalf("heldQuantity all sessions = %d, want 5", got)
	}
	if got := heldQuantity(rows, now, "a"); got != 3 {
		t.Fatalf("heldQuantity excluding a = %d, want 3", got)
	}
	if got := heldQuantity(rows, now, "c"); got != 5 {
		t.Fatalf("heldQuantity excluding expired c = %d, want 5", got)
	}
}

func TestHeldQuantityUsesOneLogicalNow(t *testing.T) {
	// A hold expiring exactly at now must be expired for the whole call.
	now := int64(500)
	rows := []models.Reservation{
		{ProductId: "p1", ColorName: "red", SessionId: "a", Quantity: 2, ExpiresAt: now},
	}
	if got := heldQuantity(rows, now, ""); got != 0 {
		t.Fatalf("hold at boundary counted as active, held = %d", got)
	}
	if got := ownActiveQuantity(rows, now, "a"); got != 0 {
		t.Fatalf("own hold at boundary counted as active, qty = %d", got)
	}
}

func TestAvailableFromNeverNegative(t *testing.T) {
	if got := availableFrom(5, 3); got != 2 {
		t.Fatalf("availableFrom(5,3) = %d, want 2", got)
	}
	if got := availableFrom(2, 7); got != 0 {
		t.Fatalf("availableFrom(2,7) = %d, want 0", got)
	}
}

func TestFilterCartItemsDropsExpiredAndClamps(t *testing.T) {
	now := int64(10_000)
	rows := []models.Reservation{
		{ProductId: "p1", ColorName: "black", SessionId: "s", Quantity: 2, ExpiresAt: now + 1000},
		{ProductId: "p1", ColorName: "red", SessionId: "s", Quantity: 1, ExpiresAt: now - 1},
		{ProductId: "p2", ColorName: "black", SessionId: "other", Quantity: 3, ExpiresAt: now + 1000},
	}
	items := []models.CartItem{
		{ProductId: "p1", ColorName: "black", Quantity: 4}, // clamped to held 2
		{ProductId: "p1", ColorName: "red", Quantity: 1},   // hold expired -> dropped
		{ProductId: "p2", ColorName: "black", Quantity: 3}, // other session's hold -> dropped
	}

	valid := filterCartItems(items, rows, "s", now)
	if len(valid) != 1 {
		t.Fatalf("valid items = %d, want 1: %+v", len(valid), valid)
	}
	if valid[0].ProductId != "p1" || valid[0].ColorName != "black" || valid[0].Quantity != 2 {
		t.Fatalf("unexpected valid item %+v", valid[0])
	}
}
