package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func ErrorHandlerMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			requestID := getRequestID(c)
			if requestID != "" {
				c.Header("X-Request-ID", requestID)
			}

			switch err.Type {
			case gin.ErrorTypeBind:
				handleValidationError(c, err.Err)
			default:
				handleInternalError(c, err.Err)
			}
		}
	})
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(200, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(201, resource)
}

// Accepted sends a 202 accepted response for queued work
func (h *ResponseHelpers) Accepted(c *gin.Context, resource interface{}) {
	c.JSON(202, resource)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeValidationError)
	h.setRequestIDHeader(c)
	c.JSON(400, problem)
}

// BusinessError sends a business logic error (409 or 422)
func (h *ResponseHelpers) BusinessError(c *gin.Context, status int, title, detail string, code models.ErrorCode) {
	problem := models.NewBusinessLogicProblem(status, title, detail, code)
	h.setRequestIDHeader(c)
	c.JSON(status, problem)
}

// NotFound sends a 404 not found response
func (h *ResponseHelpers) NotFound(c *gin.Context, resource string) {
	problem := models.NewNotFoundProblem(resource)
	h.setRequestIDHeader(c)
	c.JSON(404, problem)
}

// InternalError sends a 500 internal server error response
func (h *ResponseHelpers) InternalError(c *gin.Context, detail string) {
	problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")
	h.setRequestIDHeader(c)

	// Log the error for debugging but don't expose internals
	requestID := getRequestID(c)
	log.Error().
		Str("request_id", requestID).
		Str("detail", detail).
		Msg("Internal server error")

	c.JSON(500, problem)
}

// Conflict sends a 409 conflict response
func (h *ResponseHelpers) Conflict(c *gin.Context, title, detail string) {
	problem := models.NewProblemDetails(409, title, detail)
	h.setRequestIDHeader(c)
	c.JSON(409, problem)
}

// Helper functions

func (h *ResponseHelpers) setRequestIDHeader(c *gin.Context) {
	if requestID := getRequestID(c); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

func handleValidationError(c *gin.Context, err error) {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   strings.ToLower(validationError.Field()),
				Message: getValidationMessage(validationError),
				Code:    validationError.Tag(),
			})
		}

		problem := models.NewMultiValidationProblem(violations)
		c.JSON(400, problem)
		return
	}

	problem := models.NewProblemDetails(400, "Bad Request", err.Error())
	c.JSON(400, problem)
}

func handleInternalError(c *gin.Context, err error) {
	problem := models.NewProblemDetails(500, "Internal Server Error", "An unexpected error occurred")

	log.Error().
		Str("request_id", getRequestID(c)).
		Err(err).
		Msg("Internal server error")

	c.JSON(500, problem)
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	case "oneof":
		return "Value is not one of the allowed options"
	default:
		return "Invalid value"
	}
}

// Create a global instance for easy access
var Response = &ResponseHelpers{}
