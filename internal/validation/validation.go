// Package validation provides input validation helpers and middleware.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// MaxNameLength bounds claimed names.
const MaxNameLength = 100

// MaxAmountPlaces is the number of fractional digits (paise) an amount may carry.
const MaxAmountPlaces = 2

// MaxAmount caps a single wallet operation.
var MaxAmount = decimal.NewFromInt(10_000_000)

// mobileRegex accepts ten-digit Indian mobile numbers starting with 6-9.
var mobileRegex = regexp.MustCompile(`^[6-9]\d{9}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// NormalizeMobile strips separators and an optional +91/0 prefix.
func NormalizeMobile(mobile string) string {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	m := r.Replace(strings.TrimSpace(mobile))
	m = strings.TrimPrefix(m, "+91")
	if len(m) == 12 && strings.HasPrefix(m, "91") {
		m = m[2:]
	}
	if len(m) == 11 && strings.HasPrefix(m, "0") {
		m = m[1:]
	}
	return m
}

// IsValidMobile checks a normalized mobile number.
func IsValidMobile(mobile string) bool {
	return mobileRegex.MatchString(mobile)
}

// SanitizeString trims whitespace, removes null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects failures
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidMobile checks a mobile number field
func ValidMobile(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidMobile(value) {
			return &ValidationError{Field: field, Message: "must be a 10-digit mobile number starting with 6-9"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// WellFormedAmount checks that an amount is positive with at most two
// fractional digits.
func WellFormedAmount(field string, value decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if !value.IsPositive() {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		if !value.Equal(value.Round(MaxAmountPlaces)) {
			return &ValidationError{Field: field, Message: "amount supports at most two decimal places"}
		}
		return nil
	}
}

// ValidAmount is WellFormedAmount plus the MaxAmount per-transaction cap.
func ValidAmount(field string, value decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if v := WellFormedAmount(field, value)(); v != nil {
			return v
		}
		if value.GreaterThan(MaxAmount) {
			return &ValidationError{Field: field, Message: "amount exceeds the per-transaction limit"}
		}
		return nil
	}
}
