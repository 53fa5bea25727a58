package squad

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category classifies a gateway failure so handlers can map it to a
// client-facing HTTP status without string-matching at the call site.
type Category string

const (
	CategoryInvalidRequest     Category = "invalid_request"
	CategoryInvalidCredentials Category = "invalid_credentials"
	CategoryInsufficientFunds  Category = "insufficient_funds"
	CategoryRateLimited        Category = "rate_limited"
	CategoryUpstream           Category = "upstream"
)

// Error is a typed gateway failure.
type Error struct {
	Category Category
	Code     int // HTTP status returned by the gateway, 0 for transport errors
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("squad: %s (%s)", e.Message, e.Category)
}

// HTTPStatus maps the category onto the status this service should return
// to its own clients.
func (e *Error) HTTPStatus() int {
	switch e.Category {
	case CategoryInvalidRequest:
		return http.StatusBadRequest
	case CategoryInvalidCredentials:
		return http.StatusServiceUnavailable
	case CategoryInsufficientFunds:
		return http.StatusPaymentRequired
	case CategoryRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

func categorize(statusCode int, message string) Category {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "insufficient"):
		return CategoryInsufficientFunds
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return CategoryInvalidCredentials
	case statusCode == http.StatusTooManyRequests:
		return CategoryRateLimited
	case statusCode >= 400 && statusCode < 500:
		return CategoryInvalidRequest
	default:
		return CategoryUpstream
	}
}

// IsNotEligibleForTransfers detects the gateway's "merchant not yet eligible
// for transfers" rejection. Withdrawals hitting it degrade to manual review
// instead of refunding; keep the detection here so a change in the gateway's
// wording touches one function. Confirmed against the live gateway contract
// as of integration; re-confirm on gateway API upgrades.
func IsNotEligibleForTransfers(err error) bool {
	var sqErr *Error
	if !errors.As(err, &sqErr) {
		return false
	}
	return strings.Contains(strings.ToLower(sqErr.Message), "not eligible")
}
