package dto

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := MobileRequest{
		Bank:      "  Banco Plaza  ",
		Reference: " 000123 ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "Banco Plaza", req.Bank)
	assert.Equal(t, "000123", req.Reference)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := MobileRequest{Bank: "bank <script>alert('x')</script>"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Bank, "&lt;script&gt;")
	assert.NotContains(t, req.Bank, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	rate := "  36.50  "
	req := ConversionRequest{Mode: "manual", ManualRate: &rate}
	SanitizeStruct(&req)

	assert.Equal(t, "36.50", *req.ManualRate)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := ConversionRequest{Mode: "none"}
	SanitizeStruct(&req)
	assert.Nil(t, req.ManualRate)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID(t *testing.T) {
	for _, tc := range []string{"ord-001", "ORD_002", "a.b.c", "simple123"} {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
	for _, tc := range []string{"ord 001", "ord<001>", "ord;DROP", "", "ord\n001"} {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %q", tc)
	}
}

func TestIsDecimalString(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"10", true},
		{"12.50", true},
		{"0.005", true},
		{"-3", true},
		{" 7.25 ", true},
		{"", false},
		{"abc", false},
		{"1e3", false},
		{"1,50", false},
		{"12.5.1", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsDecimalString(tc.in), "input %q", tc.in)
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("  ")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = ParseAmount("25.75")
	require.NoError(t, err)
	assert.Equal(t, "25.75", d.String())

	_, err = ParseAmount("x")
	assert.Error(t, err)
}

func TestBindingTags(t *testing.T) {
	yes := true
	manual := "36.5"
	bad := "1e2"

	tests := []struct {
		name    string
		obj     interface{}
		wantErr bool
	}{
		{"open ok", &OpenSessionRequest{OrderID: "ord-1"}, false},
		{"open missing order", &OpenSessionRequest{}, true},
		{"open unsafe order", &OpenSessionRequest{OrderID: "ord 1"}, true},
		{"select ok", &SelectRequest{Selected: &yes}, false},
		{"select missing flag", &SelectRequest{}, true},
		{"amount blank", &AmountRequest{}, false},
		{"amount ok", &AmountRequest{Amount: "10.00"}, false},
		{"amount garbage", &AmountRequest{Amount: "ten"}, true},
		{"conversion manual", &ConversionRequest{Mode: "manual", ManualRate: &manual}, false},
		{"conversion unknown mode", &ConversionRequest{Mode: "bitcoin"}, true},
		{"conversion exponent rate", &ConversionRequest{ManualRate: &bad}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(tc.obj)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
