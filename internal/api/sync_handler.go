package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
	"listing-sync-service/internal/service"
)

// SyncHandler handles HTTP requests for the sync API: job enqueueing,
// job status reads, unit availability, lock administration and manual
// stock corrections
type SyncHandler struct {
	syncService  *service.SyncService
	stockService *service.StockService
}

// NewSyncHandler creates a new sync API handler
func NewSyncHandler(syncService *service.SyncService, stockService *service.StockService) *SyncHandler {
	return &SyncHandler{
		syncService:  syncService,
		stockService: stockService,
	}
}

// SetupRoutes sets up the HTTP routes for the sync API
func (h *SyncHandler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(ErrorHandlerMiddleware())
	r.Use(h.corsMiddleware())

	// Health check
	r.GET("/health", h.healthCheck)

	api := r.Group("/api/v1")
	{
		// Job queue
		api.POST("/jobs", h.enqueueJob)
		api.GET("/jobs/:id", h.getJob)

		// Unit availability, cache-first
		api.GET("/stores/:store/units/:sku/availability", h.getAvailability)

		// Lock administration
		api.POST("/locks/acquire", h.acquireLocks)
		api.POST("/locks/release-batch", h.releaseBatch)
		api.POST("/locks/release-skus", h.releaseSkus)
		api.GET("/locks/check", h.checkLocks)

		// Manual stock corrections against the marketplace
		api.POST("/stock/adjust", h.adjustStock)
		api.POST("/stock/set", h.setStock)
	}

	return r
}

// enqueueJob accepts a listing mutation into the durable queue
func (h *SyncHandler) enqueueJob(c *gin.Context) {
	var req models.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind enqueue request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	response, err := h.syncService.EnqueueJob(c.Request.Context(), &req)
	if err != nil {
		errorMsg := err.Error()
		switch {
		case strings.Contains(errorMsg, "invalid job request"),
			strings.Contains(errorMsg, "invalid create payload"),
			strings.Contains(errorMsg, "invalid update payload"),
			strings.Contains(errorMsg, "invalid delete payload"),
			strings.Contains(errorMsg, "unsupported action"),
			strings.Contains(errorMsg, "at least one field"):
			Response.ValidationError(c, "payload", errorMsg)
		default:
			log.Error().Err(err).Str("sku", req.SKU).Msg("Failed to enqueue job")
			Response.InternalError(c, errorMsg)
		}
		return
	}

	Response.Accepted(c, response)
}

// getJob returns a job's current state
func (h *SyncHandler) getJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		Response.ValidationError(c, "id", "Invalid job ID format")
		return
	}

	job, err := h.syncService.GetJob(c.Request.Context(), jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to get job")
		Response.InternalError(c, err.Error())
		return
	}
	if job == nil {
		Response.NotFound(c, "Job")
		return
	}

	Response.Success(c, job)
}

// getAvailability returns a unit's source-of-truth state
func (h *SyncHandler) getAvailability(c *gin.Context) {
	storeKey := c.Param("store")
	sku := c.Param("sku")
	if storeKey == "" || sku == "" {
		Response.ValidationError(c, "sku", "Store key and SKU are required")
		return
	}

	availability, err := h.syncService.GetAvailability(c.Request.Context(), sku, storeKey)
	if err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to get availability")
		Response.InternalError(c, err.Error())
		return
	}
	if availability == nil {
		Response.NotFound(c, "Inventory unit")
		return
	}

	Response.Success(c, availability)
}

// acquireLocks locks a batch of SKUs for an external workflow
func (h *SyncHandler) acquireLocks(c *gin.Context) {
	var req models.AcquireLocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind acquire locks request")
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	result, err := h.syncService.AcquireLocks(c.Request.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid lock request") {
			Response.ValidationError(c, "request", err.Error())
			return
		}
		log.Error().Err(err).Str("store_key", req.StoreKey).Msg("Failed to acquire locks")
		Response.InternalError(c, err.Error())
		return
	}

	// Partial acquisition is a conflict the caller must inspect; the body
	// still carries the batch ID so the acquired subset can be released
	if !result.FullyAcquired() {
		c.JSON(http.StatusConflict, result)
		return
	}

	Response.Created(c, result)
}

// releaseBatch releases every lock created by one acquire call
func (h *SyncHandler) releaseBatch(c *gin.Context) {
	var req models.ReleaseBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Response.ValidationError(c, "batch_id", "Valid batch ID is required")
		return
	}

	released, err := h.syncService.ReleaseBatch(c.Request.Context(), req.BatchID)
	if err != nil {
		log.Error().Err(err).Str("batch_id", req.BatchID.String()).Msg("Failed to release lock batch")
		Response.InternalError(c, err.Error())
		return
	}

	Response.Success(c, models.ReleaseResponse{ReleasedCount: released})
}

// releaseSkus releases locks for individual SKUs in a store
func (h *SyncHandler) releaseSkus(c *gin.Context) {
	var req models.ReleaseSkusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	released, err := h.syncService.ReleaseSkus(c.Request.Context(), req.Skus, req.StoreKey)
	if err != nil {
		log.Error().Err(err).Str("store_key", req.StoreKey).Msg("Failed to release locks")
		Response.InternalError(c, err.Error())
		return
	}

	Response.Success(c, models.ReleaseResponse{ReleasedCount: released})
}

// checkLocks reports the lock state of SKUs passed as a comma-separated
// query parameter
func (h *SyncHandler) checkLocks(c *gin.Context) {
	storeKey := c.Query("store_key")
	skusParam := c.Query("skus")
	if storeKey == "" || skusParam == "" {
		Response.ValidationError(c, "skus", "store_key and skus query parameters are required")
		return
	}

	skus := strings.Split(skusParam, ",")
	statuses, err := h.syncService.CheckLocks(c.Request.Context(), skus, storeKey)
	if err != nil {
		log.Error().Err(err).Str("store_key", storeKey).Msg("Failed to check locks")
		Response.InternalError(c, err.Error())
		return
	}

	Response.Success(c, gin.H{"locks": statuses})
}

// adjustStock applies a delta-based manual stock correction
func (h *SyncHandler) adjustStock(c *gin.Context) {
	var req models.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	result, err := h.stockService.Adjust(c.Request.Context(), &req)
	h.respondStockWrite(c, &req, result, err)
}

// setStock applies an absolute manual stock correction
func (h *SyncHandler) setStock(c *gin.Context) {
	var req models.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Response.ValidationError(c, "request", "Invalid request format")
		return
	}

	result, err := h.stockService.Set(c.Request.Context(), &req)
	h.respondStockWrite(c, &req, result, err)
}

func (h *SyncHandler) respondStockWrite(c *gin.Context, req *models.AdjustStockRequest, result *models.StockWriteResult, err error) {
	if err != nil {
		switch {
		case models.IsLockUnavailable(err):
			Response.BusinessError(c, http.StatusConflict, "SKU Locked",
				"Another workflow holds a lock on this SKU", models.ErrorCodeLockUnavailable)
		case models.IsAuthFailure(err):
			Response.BusinessError(c, http.StatusBadGateway, "Marketplace Auth Failed",
				err.Error(), models.ErrorCodeAuthFailure)
		case strings.Contains(err.Error(), "required"), strings.Contains(err.Error(), "must not be zero"):
			Response.ValidationError(c, "request", err.Error())
		default:
			log.Error().Err(err).Str("sku", req.SKU).Msg("Stock correction failed")
			Response.InternalError(c, err.Error())
		}
		return
	}

	if result.Err != nil {
		switch {
		case models.IsStaleData(result.Err):
			c.JSON(http.StatusConflict, gin.H{
				"success":  false,
				"stale":    true,
				"previous": result.Previous,
				"error":    result.Err.Error(),
			})
		case models.IsInsufficientInventory(result.Err):
			Response.BusinessError(c, http.StatusUnprocessableEntity, "Insufficient Inventory",
				result.Err.Error(), models.ErrorCodeInsufficientInventory)
		default:
			log.Error().Err(result.Err).Str("sku", req.SKU).Msg("Stock write failed")
			Response.BusinessError(c, http.StatusBadGateway, "Stock Write Failed",
				result.Err.Error(), models.ErrorCodeHTTPError)
		}
		return
	}

	Response.Success(c, gin.H{
		"success":  true,
		"previous": result.Previous,
		"new":      result.New,
	})
}

// healthCheck handles health check requests
func (h *SyncHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "listing-sync-api",
	})
}

// corsMiddleware handles CORS headers
func (h *SyncHandler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
