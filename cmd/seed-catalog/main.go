package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/models"
)

// Seeds product colors from a JSON file:
//
//	[{"product_id":"tee-001","color_name":"Obsidian","total_stock":25,"price":"45.00"}, ...]
//
// Existing (product_id, color_name) pairs are skipped, not updated.
func main() {
	var file string
	flag.StringVar(&file, "file", "catalog.json", "path to catalog JSON")
	flag.Parse()

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("read %s: %v", file, err)
	}
	var inputs []models.NewProductColor
	if err := json.Unmarshal(raw, &inputs); err != nil {
		log.Fatalf("parse %s: %v", file, err)
	}

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	created, skipped := 0, 0
	for i := range inputs {
		input := inputs[i]
		if _, err := models.CreateProductColor(ctx, &input); err != nil {
			log.Printf("skip %s/%s: %v", input.ProductId, input.ColorName, err)
			skipped++
			continue
		}
		created++
	}
	log.Printf("seed complete: created=%d skipped=%d", created, skipped)
}
