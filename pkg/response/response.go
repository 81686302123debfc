package response

import (
	"errors"
	"net/http"
	"time"

	"pos-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CtxRequestID is the gin context key holding the request id.
const CtxRequestID = "request_id"

// SuccessResponse wraps every 2xx body.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse wraps every failure. Retryable is set for kinds where the
// same request may succeed unchanged on a later attempt.
type ErrorResponse struct {
	ErrorCode string        `json:"error_code"`
	Kind      apperror.Kind `json:"kind"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
	RequestID string        `json:"request_id"`
	Timestamp string        `json:"timestamp"`
}

var internalError = apperror.New("SYS_000", apperror.KindInternal, "Internal server error", http.StatusInternalServerError)

// OK sends data with 200.
func OK(c *gin.Context, data interface{}) {
	success(c, http.StatusOK, data)
}

// Created sends data with 201.
func Created(c *gin.Context, data interface{}) {
	success(c, http.StatusCreated, data)
}

// NoContent sends a bare 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error maps err onto the error envelope. Anything that is not an
// *apperror.AppError somewhere in the chain is reported as SYS_000.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = internalError
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Kind:      appErr.Kind,
		Message:   appErr.Message,
		Retryable: retryable(appErr.Kind),
		RequestID: requestID(c),
		Timestamp: timestamp(),
	})
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: timestamp(),
	})
}

func retryable(kind apperror.Kind) bool {
	switch kind {
	case apperror.KindTransactionConflict, apperror.KindNetworkFailure,
		apperror.KindRateUnavailable, apperror.KindInProgress, apperror.KindRateLimited:
		return true
	}
	return false
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// requestID falls back to a fresh uuid when RequestID middleware did not run.
func requestID(c *gin.Context) string {
	if id, exists := c.Get(CtxRequestID); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
