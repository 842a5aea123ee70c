package models

// StockAuditEventType classifies stock mutations in the audit ledger.
type StockAuditEventType string

const (
	StockAuditEventReserve StockAuditEventType = "reserve"
	StockAuditEventRelease StockAuditEventType = "release"
	StockAuditEventExpire  StockAuditEventType = "expire"
	StockAuditEventSale    StockAuditEventType = "sale"
	// StockAuditEventAdjust records an operator restock or correction of
	// the total stock level.
	StockAuditEventAdjust StockAuditEventType = "adjust"
	// StockAuditEventAnomaly records a sale that exceeded remaining stock.
	// The sale still completes (payment is already captured); the anomaly
	// row is the operator-facing evidence of an oversell.
	StockAuditEventAnomaly StockAuditEventType = "anomaly"
)
