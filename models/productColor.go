package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductColor is the unit of inventory: one color variant of a numbered
// product with a small, fixed stock count. TotalStock is set by an
// operator and decremented only by a confirmed sale.
type ProductColor struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ProductId  string          `gorm:"size:64;not null;index:uniq_product_color,unique" json:"product_id"`
	ColorName  string          `gorm:"size:100;not null;index:uniq_product_color,unique" json:"color_name"`
	TotalStock int             `gorm:"not null;default:0" json:"total_stock"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductColor struct {
	ProductId  string          `json:"product_id" binding:"required"`
	ColorName  string          `json:"color_name" binding:"required"`
	TotalStock int             `json:"total_stock" binding:"min=0"`
	Price      decimal.Decimal `json:"price"`
}

func (input *NewProductColor) validate(ctx context.Context) error {
	if input.ProductId == "" {
		return utils.NewValidationError("product_id", "required")
	}
	if input.ColorName == "" {
		return utils.NewValidationError("color_name", "required")
	}
	if input.TotalStock < 0 {
		return utils.NewValidationError("total_stock", "must not be negative")
	}

	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&ProductColor{}).
		Where("product_id = ? AND color_name = ?", input.ProductId, input.ColorName).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.NewValidationError("color_name", "duplicate color for product")
	}
	return nil
}

func CreateProductColor(ctx context.Context, input *NewProductColor) (*ProductColor, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	productColor := ProductColor{
		ProductId:  input.ProductId,
		ColorName:  input.ColorName,
		TotalStock: input.TotalStock,
		Price:      input.Price,
		IsActive:   utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&productColor).Error
	if err != nil {
		if utils.IsDuplicateKey(err) {
			// A racing create slipped past the count check.
			return nil, utils.NewValidationError("color_name", "duplicate color for product")
		}
		return nil, err
	}

	return &productColor, nil
}

func GetProductColor(ctx context.Context, productId string, colorName string) (*ProductColor, error) {
	db := config.GetDB()
	var result ProductColor
	err := db.WithContext(ctx).
		Where("product_id = ? AND color_name = ?", productId, colorName).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

func GetProductColors(ctx context.Context, productId *string) ([]*ProductColor, error) {
	db := config.GetDB()
	var results []*ProductColor

	dbCtx := db.WithContext(ctx)
	if productId != nil && len(*productId) > 0 {
		dbCtx = dbCtx.Where("product_id = ?", *productId)
	}
	err := dbCtx.Order("product_id, color_name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SetTotalStock is the operator path for restocks and corrections. It
// never touches holds; the availability math picks the new total up on
// the next read.
func SetTotalStock(ctx context.Context, productId string, colorName string, totalStock int) (*ProductColor, error) {
	if totalStock < 0 {
		return nil, utils.NewValidationError("total_stock", "must not be negative")
	}

	productColor, err := GetProductColor(ctx, productId, colorName)
	if err != nil {
		return nil, err
	}
	stockBefore := productColor.TotalStock

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(productColor).Updates(map[string]interface{}{
			"TotalStock": totalStock,
		}).Error
		if err != nil {
			return err
		}
		audit := StockAuditEntry{
			ProductId:      productId,
			ColorName:      colorName,
			EventType:      StockAuditEventAdjust,
			QuantityChange: totalStock - stockBefore,
			StockBefore:    stockBefore,
			StockAfter:     totalStock,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		return nil, err
	}
	return productColor, nil
}
