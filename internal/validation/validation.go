// Package validation provides input validation for the swapdesk API.
package validation

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mkarrer/swapdesk/internal/pubkey"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks if a string is a base58 32-byte public key.
func IsValidAddress(addr string) bool {
	_, err := pubkey.Parse(addr)
	return err == nil
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

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
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

// ValidAddress checks if a field is a valid base58 account address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAddress(value) {
			return &ValidationError{Field: field, Message: "must be a base58 account address"}
		}
		return nil
	}
}

// ValidAmount checks if a value is a positive integer token amount
// within the ledger's u64 range.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return &ValidationError{Field: field, Message: "must be an unsigned integer amount"}
		}
		if n == 0 {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// ValidSeed checks if a value is 16 hex characters (an 8-byte seed).
func ValidSeed(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		raw, err := hex.DecodeString(value)
		if err != nil || len(raw) != 8 {
			return &ValidationError{Field: field, Message: "must be 16 hex characters"}
		}
		return nil
	}
}

// ParseSeed decodes a validated 16-hex-character seed.
func ParseSeed(value string) ([8]byte, bool) {
	var seed [8]byte
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != 8 {
		return seed, false
	}
	copy(seed[:], raw)
	return seed, true
}

// AddressParamMiddleware validates base58 URL parameters on routes that
// use them. Apply to route groups to reject malformed addresses early.
func AddressParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range params {
			val := c.Param(name)
			if val != "" && !IsValidAddress(val) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_address",
					"message": name + " must be a base58 account address",
				})
				return
			}
		}
		c.Next()
	}
}
