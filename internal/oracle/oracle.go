// Package oracle defines the contracts of the two external collaborators the
// resolver consults: the geocoding oracle and the validation oracle.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound is returned by a geocoder that has no match for a name
var ErrNotFound = errors.New("oracle: no match")

// GeocodeResult is a successful geocoding answer
type GeocodeResult struct {
	Latitude         float64
	Longitude        float64
	Confidence       float64 // 0-1
	Source           string  // Provider that answered (google, nominatim)
	Query            string  // Query string that matched
	FormattedAddress string
	PlaceType        string
	Prefecture       string
	Municipality     string
	District         string
}

// Geocoder turns a place name into coordinates
type Geocoder interface {
	Geocode(ctx context.Context, name string) (*GeocodeResult, error)
}

// Validation is a judgment on whether a candidate is a real place in its context
type Validation struct {
	IsValid          bool
	Confidence       float64 // 0-1
	Reasoning        string
	RegionSuggestion string
}

// Validator judges whether name is used as a place name in the given sentence
type Validator interface {
	Validate(ctx context.Context, name, sentence string) (*Validation, error)
}

// TransientError marks a retryable oracle failure (network, timeout, rate limit, 5xx)
type TransientError struct {
	Oracle     string // geocoding, validation, or a provider name
	StatusCode int    // HTTP status when known
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Oracle, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Oracle, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError
func Transient(oracle string, statusCode int, err error) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &TransientError{Oracle: oracle, StatusCode: statusCode, Err: err}
}

// IsTransient reports whether err should be retried with backoff
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return IsRetryableNetworkError(err.Error())
}

// IsRetryableStatus reports whether an HTTP status indicates a transient failure
func IsRetryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status < 600)
}

// IsRetryableNetworkError checks error strings for transient network failures
func IsRetryableNetworkError(errMsg string) bool {
	s := strings.ToLower(errMsg)
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "eof")
}
