package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/inventory"
	"github.com/mmdatafocus/drops_backend/models"
	"github.com/mmdatafocus/drops_backend/notify"
	"github.com/mmdatafocus/drops_backend/payment"
	"github.com/mmdatafocus/drops_backend/utils"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("drops-inventory")

var (
	store   inventory.Store
	gateway payment.Gateway
)

type reserveRequest struct {
	ProductId  string `json:"product_id" binding:"required"`
	ColorName  string `json:"color_name" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required"`
	SessionId  string `json:"session_id" binding:"required"`
	DurationMs int64  `json:"duration_ms"`
}

type releaseRequest struct {
	ProductId string `json:"product_id" binding:"required"`
	ColorName string `json:"color_name" binding:"required"`
	SessionId string `json:"session_id" binding:"required"`
}

type cartValidateRequest struct {
	SessionId string            `json:"session_id" binding:"required"`
	Items     []models.CartItem `json:"items" binding:"required"`
}

type paymentWebhook struct {
	StateCode string       `json:"state_code"`
	Order     models.Order `json:"order"`
}

func bindError(err error) gin.H {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return gin.H{"errors": utils.ProcessValidationErrors(validationErrors)}
	}
	return gin.H{"error": err.Error()}
}

func requireStore(c *gin.Context) (inventory.Store, bool) {
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not ready"})
		return nil, false
	}
	return store, true
}

func reserveHandler(c *gin.Context) {
	s, ok := requireStore(c)
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	duration := time.Duration(req.DurationMs) * time.Millisecond

	result, err := s.Reserve(c.Request.Context(), req.ProductId, req.ColorName, req.Quantity, req.SessionId, duration)
	if err != nil {
		writeStoreError(c, "reserveHandler", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func releaseHandler(c *gin.Context) {
	s, ok := requireStore(c)
	if !ok {
		return
	}
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	if err := s.Release(c.Request.Context(), req.ProductId, req.ColorName, req.SessionId); err != nil {
		// Best effort: the cart keeps the line client-side, the hold
		// expires on its own.
		config.LogError(config.GetLogger(), "server.go", "releaseHandler", "release", req, err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func availabilityHandler(c *gin.Context) {
	s, ok := requireStore(c)
	if !ok {
		return
	}
	productId := c.Query("product_id")
	colorName := c.Query("color_name")
	if productId == "" || colorName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id and color_name are required"})
		return
	}
	excludeSessionId := c.Query("exclude_session_id")

	available, err := s.AvailableStock(c.Request.Context(), productId, colorName, excludeSessionId)
	if err != nil {
		writeStoreError(c, "availabilityHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productId, "color_name": colorName, "available": available})
}

func cartValidateHandler(c *gin.Context) {
	s, ok := requireStore(c)
	if !ok {
		return
	}
	var req cartValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	valid, err := s.ValidateCart(c.Request.Context(), req.SessionId, req.Items)
	if err != nil {
		writeStoreError(c, "cartValidateHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid_items": valid})
}

// paymentWebhookHandler converts approved payments into permanent stock
// decrements. Response codes drive the provider's retry machinery: 2xx
// acks, 5xx means "deliver again later".
func paymentWebhookHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "payment-webhook")
	defer span.End()

	logger := config.GetLogger()
	s, ok := requireStore(c)
	if !ok {
		return
	}
	if gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway not configured"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(logger, "server.go", "paymentWebhookHandler", "read body", nil, err)
		c.Status(http.StatusBadRequest)
		return
	}
	if !gateway.ValidateSignature(body, c.GetHeader("X-Payment-Signature")) {
		c.Status(http.StatusUnauthorized)
		return
	}

	var webhook paymentWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		config.LogError(logger, "server.go", "paymentWebhookHandler", "unmarshal body", string(body), err)
		// Malformed payloads never become well-formed; ack to stop retries.
		c.Status(http.StatusOK)
		return
	}
	if webhook.Order.Id == "" || len(webhook.Order.Items) == 0 {
		config.LogError(logger, "server.go", "paymentWebhookHandler", "missing order fields", webhook, errors.New("order id/items required"))
		c.Status(http.StatusOK)
		return
	}

	status, err := gateway.TransactionStatus(ctx, webhook.StateCode)
	if err != nil {
		config.LogError(logger, "server.go", "paymentWebhookHandler", "transaction status", webhook.StateCode, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if status != payment.StatusApproved {
		// Nothing to confirm; ack so the provider stops redelivering.
		c.JSON(http.StatusOK, gin.H{"confirmed": false, "status": string(status)})
		return
	}

	for _, item := range webhook.Order.Items {
		err := s.ConfirmSale(ctx, item.ProductId, item.ColorName, item.Quantity, webhook.Order.Id, webhook.Order.SessionId)
		if err != nil {
			// A failed confirmation after a captured payment is
			// business-critical: surface it and let the provider retry.
			config.LogError(logger, "server.go", "paymentWebhookHandler", "confirm sale", item, err)
			c.Status(http.StatusInternalServerError)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}

func createProductColorHandler(c *gin.Context) {
	var input models.NewProductColor
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	productColor, err := models.CreateProductColor(c.Request.Context(), &input)
	if err != nil {
		writeStoreError(c, "createProductColorHandler", err)
		return
	}
	c.JSON(http.StatusCreated, productColor)
}

func listProductColorsHandler(c *gin.Context) {
	var productId *string
	if v := c.Query("product_id"); v != "" {
		productId = &v
	}
	productColors, err := models.GetProductColors(c.Request.Context(), productId)
	if err != nil {
		writeStoreError(c, "listProductColorsHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_colors": productColors})
}

func setTotalStockHandler(c *gin.Context) {
	var input struct {
		ProductId  string `json:"product_id" binding:"required"`
		ColorName  string `json:"color_name" binding:"required"`
		TotalStock int    `json:"total_stock" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}
	productColor, err := models.SetTotalStock(c.Request.Context(), input.ProductId, input.ColorName, input.TotalStock)
	if err != nil {
		writeStoreError(c, "setTotalStockHandler", err)
		return
	}
	if store != nil {
		// Restocks must be visible on the next read.
		_ = store.InvalidateCache(input.ProductId, input.ColorName)
	}
	c.JSON(http.StatusOK, productColor)
}

func auditQueryFromContext(c *gin.Context) models.AuditQuery {
	query := models.AuditQuery{
		ProductId: c.Query("product_id"),
		ColorName: c.Query("color_name"),
	}
	if v := c.Query("from"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(sec, 0).UTC()
			query.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(sec, 0).UTC()
			query.To = &t
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	return query
}

func auditHandler(c *gin.Context) {
	entries, err := models.GetStockAuditEntries(c.Request.Context(), auditQueryFromContext(c))
	if err != nil {
		writeStoreError(c, "auditHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func auditExportHandler(c *gin.Context) {
	entries, err := models.GetStockAuditEntries(c.Request.Context(), auditQueryFromContext(c))
	if err != nil {
		writeStoreError(c, "auditExportHandler", err)
		return
	}

	f := excelize.NewFile()
	headers := []string{"ProductId", "ColorName", "EventType", "QuantityChange", "StockBefore", "StockAfter", "OrderId", "SessionId", "CreatedAt"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue("Sheet1", cell, h)
	}
	for row, e := range entries {
		orderId := ""
		if e.OrderId != nil {
			orderId = *e.OrderId
		}
		sessionId := ""
		if e.SessionId != nil {
			sessionId = *e.SessionId
		}
		values := []interface{}{e.ProductId, e.ColorName, string(e.EventType), e.QuantityChange, e.StockBefore, e.StockAfter, orderId, sessionId, e.CreatedAt.Format(time.RFC3339)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue("Sheet1", cell, v)
		}
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=stock-audit.xlsx")
	if err := f.Write(c.Writer); err != nil {
		config.LogError(config.GetLogger(), "server.go", "auditExportHandler", "write xlsx", nil, err)
	}
}

func writeStoreError(c *gin.Context, funcName string, err error) {
	if utils.IsValidation(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if available, ok := utils.AvailableFromError(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "available": available})
		return
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	config.LogError(config.GetLogger(), "server.go", funcName, "storage", nil, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func buildRouter() *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Payment-Signature")
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/reservations", reserveHandler)
		api.POST("/reservations/release", releaseHandler)
		api.GET("/availability", availabilityHandler)
		api.POST("/cart/validate", cartValidateHandler)
		api.POST("/product-colors", createProductColorHandler)
		api.GET("/product-colors", listProductColorsHandler)
		api.PUT("/product-colors/stock", setTotalStockHandler)
		api.GET("/audit", auditHandler)
		api.GET("/audit/export", auditExportHandler)
	}

	router.POST("/webhooks/payment", paymentWebhookHandler)

	return router
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	router := buildRouter()
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start listening first (Cloud Run), connect dependencies after.
	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	notifier := notify.NewPubSubNotifier()

	backend := os.Getenv("STORAGE_BACKEND")
	switch backend {
	case "sheets":
		sheetStore, err := inventory.NewGoogleSheetStore(notifier)
		if err != nil {
			log.Fatalf("sheet store: %v", err)
		}
		store = sheetStore
		log.Printf("storage backend: sheets")
	default:
		store = inventory.NewSQLStore(config.GetDB(), inventory.NewRedisLocker(), notifier)
		log.Printf("storage backend: mysql")
	}

	if g, err := payment.NewHTTPGateway(); err != nil {
		log.Printf("payment gateway not configured: %v", err)
	} else {
		gateway = g
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	fmt.Println("bye")
}
