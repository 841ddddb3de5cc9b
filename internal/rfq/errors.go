package rfq

import (
	"errors"

	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
)

// Domain errors for requests.
var (
	// ErrNotFound indicates the request does not exist.
	ErrNotFound = errors.New("request not found")

	// ErrNumberGeneration indicates the next request number could not be derived.
	// No request is written when it occurs.
	ErrNumberGeneration = errors.New("request number generation failed")

	// ErrInvalidTransition indicates a status change whose guard failed. The stored
	// status is unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation wraps field validation failures.
	ErrValidation = httpx.ErrValidation
)
