package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/utils"
	"github.com/shopspring/decimal"
)

// The spreadsheet stores rows as positional cells. Everything past this
// file works with typed rows; positional assumptions must never leak
// beyond the encode/decode boundary.
//
// Stock sheet:        product_id | color_name | total_stock | price
// Reservations sheet: product_id | color_name | quantity | expires_at_ms | session_id
// Audit sheet:        product_id | color_name | event_type | quantity_change |
//                     stock_before | stock_after | order_id | session_id | created_at_epoch_s

const (
	stockRange       = "Stock!A2:D1001"
	reservationRange = "Reservations!A2:E1001"
	auditReadRange   = "Audit!A2:I100001"
	auditAppendRange = "Audit!A2"
)

func cellString(cells []interface{}, i int) string {
	if i >= len(cells) || cells[i] == nil {
		return ""
	}
	switch v := cells[i].(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func cellInt64(cells []interface{}, i int) (int64, error) {
	if i >= len(cells) || cells[i] == nil {
		return 0, fmt.Errorf("cell %d is empty", i)
	}
	switch v := cells[i].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cell %d: %w", i, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cell %d has unsupported type %T", i, cells[i])
	}
}

func decodeReservationRow(cells []interface{}) (*models.Reservation, error) {
	productId := cellString(cells, 0)
	colorName := cellString(cells, 1)
	sessionId := cellString(cells, 4)
	if productId == "" || colorName == "" || sessionId == "" {
		return nil, fmt.Errorf("reservation row missing key fields")
	}
	quantity, err := cellInt64(cells, 2)
	if err != nil {
		return nil, fmt.Errorf("reservation quantity: %w", err)
	}
	expiresAt, err := cellInt64(cells, 3)
	if err != nil {
		return nil, fmt.Errorf("reservation expires_at: %w", err)
	}
	return &models.Reservation{
		ProductId: productId,
		ColorName: colorName,
		Quantity:  int(quantity),
		ExpiresAt: expiresAt,
		SessionId: sessionId,
	}, nil
}

func encodeReservationRow(r *models.Reservation) []interface{} {
	return []interface{}{
		r.ProductId,
		r.ColorName,
		strconv.Itoa(r.Quantity),
		strconv.FormatInt(r.ExpiresAt, 10),
		r.SessionId,
	}
}

func decodeStockRow(cells []interface{}) (*models.ProductColor, error) {
	productId := cellString(cells, 0)
	colorName := cellString(cells, 1)
	if productId == "" || colorName == "" {
		return nil, fmt.Errorf("stock row missing key fields")
	}
	totalStock, err := cellInt64(cells, 2)
	if err != nil {
		return nil, fmt.Errorf("stock total_stock: %w", err)
	}
	price := decimal.Zero
	if raw := cellString(cells, 3); raw != "" {
		price, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("stock price: %w", err)
		}
	}
	return &models.ProductColor{
		ProductId:  productId,
		ColorName:  colorName,
		TotalStock: int(totalStock),
		Price:      price,
		IsActive:   utils.NewTrue(),
	}, nil
}

func encodeStockRow(pc *models.ProductColor) []interface{} {
	return []interface{}{
		pc.ProductId,
		pc.ColorName,
		strconv.Itoa(pc.TotalStock),
		pc.Price.String(),
	}
}

func decodeAuditRow(cells []interface{}) (*models.StockAuditEntry, error) {
	productId := cellString(cells, 0)
	colorName := cellString(cells, 1)
	eventType := cellString(cells, 2)
	if productId == "" || colorName == "" || eventType == "" {
		return nil, fmt.Errorf("audit row missing key fields")
	}
	quantityChange, err := cellInt64(cells, 3)
	if err != nil {
		return nil, fmt.Errorf("audit quantity_change: %w", err)
	}
	stockBefore, _ := cellInt64(cells, 4)
	stockAfter, _ := cellInt64(cells, 5)
	entry := &models.StockAuditEntry{
		ProductId:      productId,
		ColorName:      colorName,
		EventType:      models.StockAuditEventType(eventType),
		QuantityChange: int(quantityChange),
		StockBefore:    int(stockBefore),
		StockAfter:     int(stockAfter),
	}
	if orderId := cellString(cells, 6); orderId != "" {
		entry.OrderId = &orderId
	}
	if sessionId := cellString(cells, 7); sessionId != "" {
		entry.SessionId = &sessionId
	}
	if createdAt, err := cellInt64(cells, 8); err == nil {
		entry.CreatedAt = time.Unix(createdAt, 0).UTC()
	}
	return entry, nil
}

func encodeAuditRow(e *models.StockAuditEntry) []interface{} {
	orderId := ""
	if e.OrderId != nil {
		orderId = *e.OrderId
	}
	sessionId := ""
	if e.SessionId != nil {
		sessionId = *e.SessionId
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []interface{}{
		e.ProductId,
		e.ColorName,
		string(e.EventType),
		strconv.Itoa(e.QuantityChange),
		strconv.Itoa(e.StockBefore),
		strconv.Itoa(e.StockAfter),
		orderId,
		sessionId,
		strconv.FormatInt(createdAt.Unix(), 10),
	}
}
