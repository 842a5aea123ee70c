package main

import (
	"context"
	"flag"
	"log"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/inventory"
	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/utils"
	"gorm.io/gorm/clause"
)

// One-shot migration off the spreadsheet backend: copies stock rows and
// still-active holds into MySQL. Expired holds are dropped on the way;
// the relational reaper would purge them immediately anyway. Run with
// the storefront pointed at the sheet backend, then flip
// STORAGE_BACKEND and re-run with -verify.
func main() {
	var verify bool
	flag.BoolVar(&verify, "verify", false, "compare row counts instead of migrating")
	flag.Parse()

	ctx := context.Background()

	sheetStore, err := inventory.NewGoogleSheetStore(nil)
	if err != nil {
		log.Fatalf("sheet store: %v", err)
	}
	stock, reservations, err := sheetStore.Snapshot(ctx)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	if verify {
		var colorCount, holdCount int64
		if err := db.Model(&models.ProductColor{}).Count(&colorCount).Error; err != nil {
			log.Fatalf("count colors: %v", err)
		}
		if err := db.Model(&models.Reservation{}).Count(&holdCount).Error; err != nil {
			log.Fatalf("count holds: %v", err)
		}
		log.Printf("sheet: colors=%d holds=%d; mysql: colors=%d holds=%d",
			len(stock), len(reservations), colorCount, holdCount)
		return
	}

	nowMs := utils.NowMs()
	migratedColors := 0
	for i := range stock {
		pc := stock[i]
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "color_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_stock": pc.TotalStock,
				"price":       pc.Price,
			}),
		}).Create(&pc).Error
		if err != nil {
			log.Fatalf("migrate color %s/%s: %v", pc.ProductId, pc.ColorName, err)
		}
		migratedColors++
	}

	migratedHolds, droppedExpired := 0, 0
	for i := range reservations {
		r := reservations[i]
		if !r.Active(nowMs) {
			droppedExpired++
			continue
		}
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "color_name"}, {Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":   r.Quantity,
				"expires_at": r.ExpiresAt,
			}),
		}).Create(&r).Error
		if err != nil {
			log.Fatalf("migrate hold %s/%s/%s: %v", r.ProductId, r.ColorName, r.SessionId, err)
		}
		migratedHolds++
	}

	log.Printf("migration complete: colors=%d holds=%d expired_dropped=%d",
		migratedColors, migratedHolds, droppedExpired)
}
