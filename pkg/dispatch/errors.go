package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by a SubscriptionStore when no record matches the endpoint.
	ErrNotFound = errors.New("subscription not found")

	// ErrConstraintViolation is returned by Insert when the endpoint is already stored.
	ErrConstraintViolation = errors.New("subscription endpoint already exists")
)

// StorageError reports that the backing store failed during Op.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageFailure returns true if err (or any wrapped error) is a *StorageError.
func IsStorageFailure(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

// DeliveryError is a failed push attempt.
// StatusCode is zero when no response was received (DNS, timeout, refused).
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("push delivery failed: %v", e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("push delivery rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("push delivery rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsGone returns true if err is a *DeliveryError whose status means the
// endpoint no longer exists (404 Not Found or 410 Gone).
func IsGone(err error) bool {
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		return false
	}
	return deliveryErr.StatusCode == http.StatusNotFound || deliveryErr.StatusCode == http.StatusGone
}

// StatusCode extracts the push service status from a delivery error, or 0.
func StatusCode(err error) int {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.StatusCode
	}
	return 0
}
