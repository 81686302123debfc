package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful operator edits to a payment session. Opening,
// confirming and closing are audited by the checkout service itself.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		entry := &domain.AuditLog{
			ID:        uuid.New(),
			Action:    action,
			IPAddress: c.ClientIP(),
			CreatedAt: time.Now().UTC(),
		}
		if op, ok := OperatorFrom(c); ok {
			entry.OperatorID = op.ID
		}
		if orderID, ok := c.Get(CtxOrderID); ok {
			entry.OrderID, _ = orderID.(string)
		}

		details := map[string]interface{}{
			"session_id": c.Param("id"),
			"status":     c.Writer.Status(),
		}
		if m := c.Param("method"); m != "" {
			details["method"] = m
		}
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}

		auditSvc.Log(c.Request.Context(), entry)
	}
}

func mapRouteToAction(route, method string) domain.AuditAction {
	switch {
	case strings.HasSuffix(route, "/slots/:method/select") && method == http.MethodPost,
		strings.HasSuffix(route, "/slots/:method/amount") && method == http.MethodPut:
		return domain.AuditActionSlotChanged
	case strings.HasSuffix(route, "/mobile") && method == http.MethodPut:
		return domain.AuditActionMobileChanged
	case strings.HasSuffix(route, "/conversion") && method == http.MethodPut:
		return domain.AuditActionConversionChanged
	case strings.HasSuffix(route, "/rate/refresh") && method == http.MethodPost:
		return domain.AuditActionRateRefreshed
	}
	return ""
}
