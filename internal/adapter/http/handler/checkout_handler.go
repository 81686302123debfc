package handler

import (
	"pos-settlement/internal/adapter/http/dto"
	"pos-settlement/internal/adapter/http/middleware"
	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"
	"pos-settlement/pkg/apperror"
	"pos-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CheckoutHandler exposes payment sessions to the point-of-sale client.
type CheckoutHandler struct {
	checkoutSvc ports.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutSvc ports.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutSvc: checkoutSvc}
}

// OpenSession handles POST /api/v1/checkout/sessions.
func (h *CheckoutHandler) OpenSession(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	op, ok := middleware.OperatorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	view, err := h.checkoutSvc.Open(c.Request.Context(), req.OrderID, *op)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxOrderID, view.OrderID)
	response.Created(c, view)
}

// GetSession handles GET /api/v1/checkout/sessions/:id.
func (h *CheckoutHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	view, err := h.checkoutSvc.View(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Select handles POST /api/v1/checkout/sessions/:id/slots/:method/select.
func (h *CheckoutHandler) Select(c *gin.Context) {
	method, ok := slotMethod(c)
	if !ok {
		return
	}
	var req dto.SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	h.apply(c, ports.Command{Kind: ports.CommandSelect, Method: method, Selected: *req.Selected})
}

// SetAmount handles PUT /api/v1/checkout/sessions/:id/slots/:method/amount.
func (h *CheckoutHandler) SetAmount(c *gin.Context) {
	method, ok := slotMethod(c)
	if !ok {
		return
	}
	var req dto.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation("amount must be a decimal number"))
		return
	}
	h.apply(c, ports.Command{Kind: ports.CommandAmount, Method: method, Amount: amount})
}

// SetMobile handles PUT /api/v1/checkout/sessions/:id/mobile.
func (h *CheckoutHandler) SetMobile(c *gin.Context) {
	var req dto.MobileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	h.apply(c, ports.Command{Kind: ports.CommandMobile, Bank: req.Bank, Reference: req.Reference})
}

// SetConversion handles PUT /api/v1/checkout/sessions/:id/conversion.
func (h *CheckoutHandler) SetConversion(c *gin.Context) {
	var req dto.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if req.Mode == "" && req.ManualRate == nil {
		response.Error(c, apperror.Validation("mode or manual_rate is required"))
		return
	}

	cmd := ports.Command{Kind: ports.CommandConversion}
	if req.Mode != "" {
		mode, err := domain.ParseConversionMode(req.Mode)
		if err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		cmd.Mode = mode
	}
	if req.ManualRate != nil {
		rate, err := dto.ParseAmount(*req.ManualRate)
		if err != nil {
			response.Error(c, apperror.Validation("manual_rate must be a decimal number"))
			return
		}
		cmd.ManualRate = &rate
	}
	h.apply(c, cmd)
}

// RefreshRate handles POST /api/v1/checkout/sessions/:id/rate/refresh.
func (h *CheckoutHandler) RefreshRate(c *gin.Context) {
	h.apply(c, ports.Command{Kind: ports.CommandRefreshRate})
}

// Confirm handles POST /api/v1/checkout/sessions/:id/confirm.
func (h *CheckoutHandler) Confirm(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	op, _ := middleware.OperatorFrom(c)

	record, err := h.checkoutSvc.Confirm(c.Request.Context(), id, op)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxOrderID, record.OrderID)
	response.OK(c, record)
}

// CloseSession handles DELETE /api/v1/checkout/sessions/:id.
func (h *CheckoutHandler) CloseSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.checkoutSvc.Close(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *CheckoutHandler) apply(c *gin.Context, cmd ports.Command) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	view, err := h.checkoutSvc.Apply(c.Request.Context(), id, cmd)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxOrderID, view.OrderID)
	response.OK(c, view)
}

// sessionID parses the :id path parameter. Malformed ids cannot name an open
// session, so they are reported as not found.
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrSessionNotFound())
		return uuid.Nil, false
	}
	return id, true
}

func slotMethod(c *gin.Context) (domain.Method, bool) {
	m, err := domain.ParseMethod(c.Param("method"))
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return "", false
	}
	return m, true
}
