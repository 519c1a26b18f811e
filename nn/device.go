// Package nn implements a fully-connected feed-forward network whose forward
// pass and backpropagation run as parallel kernels on a compute device. The
// host keeps mirror copies of every layer's neuron values and weights; the
// Device interface hides whether the kernels execute on a GPU or on the CPU
// reference implementation.
package nn

// Kernel entry point names understood by every Device. Each kernel takes a
// fixed positional buffer argument list; see the WGSL sources in the gpu
// package for the authoritative signatures.
const (
	KernelForward       = "forward"
	KernelOutputDelta   = "output_delta"
	KernelBackpropagate = "backpropagate"
	KernelUpdateWeights = "update_weights"
)

// Buffer is a device-resident array of float32 values (or a single 32-bit
// scalar for uniform arguments).
type Buffer interface {
	// Len reports the number of float slots the buffer was created with.
	Len() int
	// Release frees the device storage. The buffer must not be used after.
	Release()
}

// Device is a compute device that owns buffers and runs named kernels.
// Dispatch is synchronous: it returns only once the kernel has finished, so
// consecutive dispatches are strictly ordered and each one observes the
// previous one's writes.
type Device interface {
	// NewBuffer creates a zero-filled storage buffer of n float32 slots.
	NewBuffer(label string, n int) (Buffer, error)
	// NewSizeBuffer creates a scalar buffer holding a layer dimension.
	NewSizeBuffer(label string, n int) (Buffer, error)
	// NewScalarBuffer creates a scalar buffer holding one float value.
	NewScalarBuffer(label string, v float32) (Buffer, error)
	// Write copies host data into the buffer. len(data) must equal b.Len().
	Write(b Buffer, data []float32) error
	// Read copies the buffer's contents back to the host.
	Read(b Buffer) ([]float32, error)
	// Dispatch runs the named kernel with the given positional arguments
	// and one parallel invocation per work unit, then blocks until done.
	Dispatch(kernel string, args []Buffer, units int) error
	// Close releases device-wide resources.
	Close()
}
