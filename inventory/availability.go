package inventory

import "github.com/mmdatafocus/drops_backend/models"

// heldQuantity sums the active holds for one color at the caller's
// logical now, optionally excluding one session. Expired rows are
// excluded logically even before the reaper removes them physically.
func heldQuantity(rows []models.Reservation, nowMs int64, excludeSessionId string) int {
	var held int
	for i := range rows {
		r := &rows[i]
		if !r.Active(nowMs) {
			continue
		}
		if excludeSessionId != "" && r.SessionId == excludeSessionId {
			continue
		}
		held += r.Quantity
	}
	return held
}

// ownActiveQuantity returns the caller's own active hold quantity, 0 if
// none (or only an expired one) exists.
func ownActiveQuantity(rows []models.Reservation, nowMs int64, sessionId string) int {
	for i := range rows {
		r := &rows[i]
		if r.SessionId == sessionId && r.Active(nowMs) {
			return r.Quantity
		}
	}
	return 0
}

func availableFrom(totalStock, held int) int {
	available := totalStock - held
	if available < 0 {
		return 0
	}
	return available
}

// filterCartItems keeps only the lines still covered by an active
// server-side hold, clamping each quantity to the held amount. This is
// how the client's cart mirror is reconciled with server truth.
func filterCartItems(items []models.CartItem, rows []models.Reservation, sessionId string, nowMs int64) []models.CartItem {
	heldByColor := make(map[[2]string]int)
	for i := range rows {
		r := &rows[i]
		if r.SessionId != sessionId || !r.Active(nowMs) {
			continue
		}
		heldByColor[[2]string{r.ProductId, r.ColorName}] = r.Quantity
	}

	valid := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		held, ok := heldByColor[[2]string{item.ProductId, item.ColorName}]
		if !ok || held <= 0 {
			continue
		}
		if item.Quantity > held {
			item.Quantity = held
		}
		valid = append(valid, item)
	}
	return valid
}
