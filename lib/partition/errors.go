package partition

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Availability Error Type
// --------------------------------------------------------------------------

// AvailabilityCode classifies a degraded-mode rejection.
type AvailabilityCode uint8

const (
	AvailCKeyUnavailable  AvailabilityCode = iota // a single key cannot be safely read or written
	AvailCKeysUnavailable                         // a set of keys cannot be safely read or written
	AvailCClearDenied                             // a cluster-wide clear is blocked
	AvailCBulkReadDenied                          // a cluster-wide bulk read is blocked
)

// String returns the string representation of an AvailabilityCode.
func (c AvailabilityCode) String() string {
	switch c {
	case AvailCKeyUnavailable:
		return "KeyUnavailable"
	case AvailCKeysUnavailable:
		return "KeysUnavailable"
	case AvailCClearDenied:
		return "ClearDenied"
	case AvailCBulkReadDenied:
		return "BulkReadDenied"
	default:
		return "Unknown"
	}
}

// AvailabilityError is raised when an operation touches keys that cannot be
// safely served given the current ownership reachability and availability
// mode. It is a transient-consistency condition, distinct from "key not
// found" and from a generic remote failure, and is never retried by the
// core: retrying once availability is restored is the caller's decision.
type AvailabilityError struct {
	Code AvailabilityCode
	Keys []string // the offending key or keys, if any
}

// Error implements the error interface.
func (e *AvailabilityError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("AvailabilityError (code %s): cluster is in degraded mode", e.Code)
	}
	return fmt.Sprintf("AvailabilityError (code %s): keys [%s] are unavailable in degraded mode",
		e.Code, strings.Join(e.Keys, ", "))
}

// NewKeyUnavailableError creates the error for a single unavailable key.
func NewKeyUnavailableError(key string) *AvailabilityError {
	return &AvailabilityError{Code: AvailCKeyUnavailable, Keys: []string{key}}
}

// NewKeysUnavailableError creates the error for a set of unavailable keys.
func NewKeysUnavailableError(keys []string) *AvailabilityError {
	return &AvailabilityError{Code: AvailCKeysUnavailable, Keys: keys}
}

// IsAvailabilityError reports whether err is (or wraps) an AvailabilityError.
func IsAvailabilityError(err error) bool {
	var ae *AvailabilityError
	return errors.As(err, &ae)
}
