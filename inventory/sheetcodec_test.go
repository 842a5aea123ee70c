package inventory

import (
	"testing"

	"github.com/mmdatafocus/drops_backend/models"
)

func TestDecodeReservationRowAcceptsMixedCellTypes(t *testing.T) {
	// UNFORMATTED_VALUE returns numbers as float64; manually edited
	// cells come back as strings. Both must decode.
	rows := [][]interface{}{
		{"tee-001", "black", float64(3), float64(1_700_000_000_000), "session-a"},
		{"tee-001", "black", "3", "1700000000000", "session-a"},
		{" tee-001 ", " black ", " 3 ", " 1700000000000 ", " session-a "},
	}
	for i, cells := range rows {
		r, err := decodeReservationRow(cells)
		if err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if r.ProductId != "tee-001" || r.ColorName != "black" || r.SessionId != "session-a" {
			t.Fatalf("row %d: key fields = %+v", i, r)
		}
		if r.Quantity != 3 || r.ExpiresAt != 1_700_000_000_000 {
			t.Fatalf("row %d: quantity/expiry = %d/%d", i, r.Quantity, r.ExpiresAt)
		}
	}
}

func TestDecodeReservationRowRejectsMalformed(t *testing.T) {
	bad := [][]interface{}{
		{},
		{"tee-001"},
		{"tee-001", "black", "x", "1700000000000", "session-a"},
		{"tee-001", "black", "3", "soon", "session-a"},
		{"", "black", "3", "1700000000000", "session-a"},
		{"tee-001", "black", "3", "1700000000000", ""},
	}
	for i, cells := range bad {
		if _, err := decodeReservationRow(cells); err == nil {
			t.Fatalf("row %d decoded without error: %v", i, cells)
		}
	}
}

func TestStockRowRoundTrip(t *testing.T) {
	in, err := decodeStockRow([]interface{}{"tee-001", "Obsidian", float64(25), "45.00"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.TotalStock != 25 || in.Price.String() != "45" {
		t.Fatalf("decoded stock = %+v", in)
	}

	out, err := decodeStockRow(encodeStockRow(in))
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if out.ProductId != in.ProductId || out.TotalStock != in.TotalStock || !out.Price.Equal(in.Price) {
		t.Fatalf("round trip changed the row: %+v vs %+v", in, out)
	}
}

func TestDecodeStockRowToleratesMissingPrice(t *testing.T) {
	pc, err := decodeStockRow([]interface{}{"tee-001", "black", "5"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !pc.Price.IsZero() {
		t.Fatalf("missing price decoded as %s, want 0", pc.Price)
	}
}

func TestAuditRowRoundTripKeepsOptionalFields(t *testing.T) {
	orderId := "ORDER-1"
	sessionId := "session-a"
	in := &models.StockAuditEntry{
		ProductId:      "tee-001",
		ColorName:      "black",
		EventType:      models.StockAuditEventSale,
		QuantityChange: -2,
		StockBefore:    5,
		StockAfter:     3,
		OrderId:        &orderId,
		SessionId:      &sessionId,
	}
	out, err := decodeAuditRow(encodeAuditRow(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.EventType != models.StockAuditEventSale || out.QuantityChange != -2 {
		t.Fatalf("round trip = %+v", out)
	}
	if out.OrderId == nil || *out.OrderId != orderId {
		t.Fatalf("order id lost in round trip: %+v", out)
	}
	if out.CreatedAt.IsZero() {
		t.Fatalf("created_at not stamped on encode")
	}

	// Expire rows carry no order or session; empty cells decode to nil.
	expire := &models.StockAuditEntry{
		ProductId: "tee-001", ColorName: "black",
		EventType: models.StockAuditEventExpire, QuantityChange: -4,
	}
	out, err = decodeAuditRow(encodeAuditRow(expire))
	if err != nil {
		t.Fatalf("decode expire: %v", err)
	}
	if out.OrderId != nil || out.SessionId != nil {
		t.Fatalf("empty optional cells decoded non-nil: %+v", out)
	}
}
