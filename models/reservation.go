package models

import "time"

// Reservation is a short-lived hold on stock, unique per
// (product, color, session). It is created on first add-to-cart of a
// color, overwritten on quantity change, and deleted on release, expiry
// or sale confirmation. ExpiresAt is epoch milliseconds so both storage
// backends persist the exact same shape.
type Reservation struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ProductId string    `gorm:"size:64;not null;index:uniq_reservation,unique" json:"product_id"`
	ColorName string    `gorm:"size:100;not null;index:uniq_reservation,unique" json:"color_name"`
	SessionId string    `gorm:"size:128;not null;index:uniq_reservation,unique" json:"session_id"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	ExpiresAt int64     `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Active reports whether the hold still counts against availability at
// the caller's logical now (epoch ms). One logical now must be used per
// operation so a hold is never both active and expired within one call.
func (r *Reservation) Active(nowMs int64) bool {
	return r.ExpiresAt > nowMs
}
