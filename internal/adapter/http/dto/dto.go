package dto

// OpenSessionRequest is the request body for opening a payment session.
type OpenSessionRequest struct {
	OrderID string `json:"order_id" binding:"required,max=100,safe_id"`
}

// SelectRequest toggles an instrument on or off.
type SelectRequest struct {
	Selected *bool `json:"selected" binding:"required"`
}

// AmountRequest sets an instrument's raw amount. Blank means zero.
type AmountRequest struct {
	Amount string `json:"amount" binding:"omitempty,max=32,decimal_str"`
}

// MobileRequest sets the mobile transfer metadata.
type MobileRequest struct {
	Bank      string `json:"bank" binding:"max=100"`
	Reference string `json:"reference" binding:"max=100"`
}

// ConversionRequest changes the conversion mode and, for manual mode, the
// operator-entered rate.
type ConversionRequest struct {
	Mode       string  `json:"mode" binding:"omitempty,oneof=none rate-primary rate-secondary manual"`
	ManualRate *string `json:"manual_rate,omitempty" binding:"omitempty,max=32,decimal_str"`
}
