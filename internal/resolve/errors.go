package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed raw text; not retryable
	ErrInvalidInput = errors.New("invalid place text")

	// ErrRejectedPlace marks a candidate that is not a place; not retryable for this text
	ErrRejectedPlace = errors.New("rejected place")

	// ErrTransientOracle marks a retryable oracle failure
	ErrTransientOracle = errors.New("transient oracle failure")

	// ErrDuplicateAlias marks an alias that would resolve to a different master
	ErrDuplicateAlias = errors.New("duplicate alias")
)

// InvalidInputError reports raw text that cannot be normalized
type InvalidInputError struct {
	Raw string
	Err error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid place text %q: %v", e.Raw, e.Err)
}

func (e *InvalidInputError) Unwrap() error        { return e.Err }
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// RejectedPlaceError reports a candidate the validation oracle, or curation, ruled out
type RejectedPlaceError struct {
	Name       string
	Key        string
	Confidence float64 // Oracle confidence, 0 for curated rejections
	Reasoning  string
	MasterID   string // Set when an existing master was curated out
}

func (e *RejectedPlaceError) Error() string {
	if e.MasterID != "" {
		return fmt.Sprintf("place %q rejected: master %s is curated out", e.Name, e.MasterID)
	}
	return fmt.Sprintf("place %q rejected (confidence %.2f): %s", e.Name, e.Confidence, e.Reasoning)
}

func (e *RejectedPlaceError) Is(target error) bool { return target == ErrRejectedPlace }

// TransientOracleError reports a retryable failure of the validation oracle.
// It unwraps to the oracle's own error.
type TransientOracleError struct {
	Oracle string
	Err    error
}

func (e *TransientOracleError) Error() string {
	return fmt.Sprintf("%s oracle unavailable: %v", e.Oracle, e.Err)
}

func (e *TransientOracleError) Unwrap() error        { return e.Err }
func (e *TransientOracleError) Is(target error) bool { return target == ErrTransientOracle }

// DuplicateAliasError reports an alias whose key already resolves to another master
type DuplicateAliasError struct {
	Alias            string
	Key              string
	ExistingMasterID string
	MasterID         string
}

func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("alias %q (key %q) already resolves to master %s, not %s", e.Alias, e.Key, e.ExistingMasterID, e.MasterID)
}

func (e *DuplicateAliasError) Is(target error) bool { return target == ErrDuplicateAlias }
