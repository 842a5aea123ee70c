package utils

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// NowMs returns the single logical "now" used within one reservation
// operation, as epoch milliseconds (the persisted expires_at unit).
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// ProcessValidationErrors flattens binding failures into a
// field -> failed-tag map for the API response.
func ProcessValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_SECONDS"))
	if err != nil {
		lifespan = 30
	}
	return time.Duration(lifespan) * time.Second
}
