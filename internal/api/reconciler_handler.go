package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"listing-sync-service/internal/httpclient"
)

// ReconcilerHandler handles HTTP requests for the reconciler service.
// Health checks plus a small circuit breaker admin surface for operators.
type ReconcilerHandler struct {
	circuit *httpclient.CircuitBreaker
}

// NewReconcilerHandler creates a new reconciler API handler
func NewReconcilerHandler(circuit *httpclient.CircuitBreaker) *ReconcilerHandler {
	return &ReconcilerHandler{circuit: circuit}
}

// SetupReconcilerRoutes sets up the HTTP routes for the reconciler service
func (h *ReconcilerHandler) SetupReconcilerRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(h.corsMiddleware())

	// Health check and internal admin endpoints only
	r.GET("/health", h.healthCheck)
	r.POST("/admin/circuit/:key/reset", h.resetCircuit)

	return r
}

// healthCheck handles health check requests
func (h *ReconcilerHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "listing-sync-reconciler",
	})
}

// resetCircuit force-closes a breaker after an operator confirms the
// marketplace recovered
func (h *ReconcilerHandler) resetCircuit(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		Response.ValidationError(c, "key", "Circuit key is required")
		return
	}

	h.circuit.Reset(key)
	c.JSON(http.StatusOK, gin.H{"key": key, "state": "closed"})
}

// corsMiddleware handles CORS headers
func (h *ReconcilerHandler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
