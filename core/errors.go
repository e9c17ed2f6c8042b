package core

import "errors"

// Error taxonomy for the retrieval and write paths. Timeouts and partial
// store failures are recovered locally and never surface to the caller;
// validation errors are the only user-visible rejections.
var (
	// ErrTimeout marks a store or reasoner call that exceeded its budget.
	ErrTimeout = errors.New("operation exceeded its time budget")

	// ErrTotalFailure marks a retrieval pass in which every store failed
	// for every query. The caller still receives an empty context.
	ErrTotalFailure = errors.New("all stores failed")

	// ErrValidation marks malformed input, surfaced as a rejected request.
	ErrValidation = errors.New("invalid request")

	// ErrDuplicate marks a write whose canonical content already exists
	// for the user.
	ErrDuplicate = errors.New("duplicate memory")
)
