package nn

import "errors"

// Error taxonomy. All errors are returned synchronously by the call that
// detects them; nothing is retried. Dispatch failures abort the current
// operation (for Train, the whole run) and wrap ErrDispatchFailed so callers
// can match with errors.Is.
var (
	ErrSizeMismatch        = errors.New("size mismatch")
	ErrLayerNotLinked      = errors.New("layer not linked")
	ErrEmptyNetwork        = errors.New("network has no layers")
	ErrTrainingSetMismatch = errors.New("training set mismatch")
	ErrBuffersNotAllocated = errors.New("device buffers not allocated")
	ErrUnknownKernel       = errors.New("unknown kernel")
	ErrDispatchFailed      = errors.New("kernel dispatch failed")
)
