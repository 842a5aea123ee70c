package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/drops_backend/config"
)

// StockAuditEntry is the append-only ledger of every stock mutation,
// capturing the level before and after. It is forensic-only: nothing
// derives availability from it, and rows are never edited or deleted.
type StockAuditEntry struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	ProductId      string              `gorm:"size:64;not null;index:idx_audit_product,priority:1" json:"product_id"`
	ColorName      string              `gorm:"size:100;not null;index:idx_audit_product,priority:2" json:"color_name"`
	EventType      StockAuditEventType `gorm:"size:20;not null;index" json:"event_type"`
	QuantityChange int                 `gorm:"not null" json:"quantity_change"`
	StockBefore    int                 `gorm:"not null" json:"stock_before"`
	StockAfter     int                 `gorm:"not null" json:"stock_after"`
	OrderId        *string             `gorm:"size:100;index" json:"order_id"`
	SessionId      *string             `gorm:"size:128" json:"session_id"`
	CreatedAt      time.Time           `gorm:"autoCreateTime;index:idx_audit_product,priority:3" json:"created_at"`
}

// AuditQuery filters the ledger for operator tooling.
type AuditQuery struct {
	ProductId string
	ColorName string
	From      *time.Time
	To        *time.Time
	Limit     int
}

func GetStockAuditEntries(ctx context.Context, query AuditQuery) ([]*StockAuditEntry, error) {
	db := config.GetDB()
	var results []*StockAuditEntry

	dbCtx := db.WithContext(ctx).Model(&StockAuditEntry{})
	if query.ProductId != "" {
		dbCtx = dbCtx.Where("product_id = ?", query.ProductId)
	}
	if query.ColorName != "" {
		dbCtx = dbCtx.Where("color_name = ?", query.ColorName)
	}
	if query.From != nil {
		dbCtx = dbCtx.Where("created_at >= ?", *query.From)
	}
	if query.To != nil {
		dbCtx = dbCtx.Where("created_at <= ?", *query.To)
	}
	limit := query.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	err := dbCtx.Order("id").Limit(limit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
