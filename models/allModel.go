package models

import "github.com/mmdatafocus/drops_backend/config"

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&ProductColor{},
		&Reservation{},
		&StockAuditEntry{},
	)
	if err != nil {
		panic(err)
	}
}
