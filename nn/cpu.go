package nn

import (
	"fmt"
	"math"
)

// CPUDevice is a host-memory reference implementation of Device. It mirrors
// the GPU kernels instruction for instruction (including the bounds guards
// and the destination-major weight layout) so that results are directly
// comparable between backends. It is the fallback when no adapter is
// available, and the device the numeric tests run against.
type CPUDevice struct {
	// DispatchHook, if set, is invoked before every kernel run. Tests use
	// it to observe dispatch ordering.
	DispatchHook func(kernel string, args []Buffer, units int)
}

// NewCPUDevice returns a ready-to-use CPU device.
func NewCPUDevice() *CPUDevice {
	return &CPUDevice{}
}

type cpuBuffer struct {
	label string
	data  []float32
}

func (b *cpuBuffer) Len() int { return len(b.data) }
func (b *cpuBuffer) Release() {}

func (d *CPUDevice) NewBuffer(label string, n int) (Buffer, error) {
	return &cpuBuffer{label: label, data: make([]float32, n)}, nil
}

func (d *CPUDevice) NewSizeBuffer(label string, n int) (Buffer, error) {
	return &cpuBuffer{label: label, data: []float32{float32(n)}}, nil
}

func (d *CPUDevice) NewScalarBuffer(label string, v float32) (Buffer, error) {
	return &cpuBuffer{label: label, data: []float32{v}}, nil
}

func (d *CPUDevice) Write(b Buffer, data []float32) error {
	cb, err := d.unwrap(b)
	if err != nil {
		return err
	}
	if len(data) != len(cb.data) {
		return fmt.Errorf("%w: write %d floats into buffer %s of %d", ErrSizeMismatch, len(data), cb.label, len(cb.data))
	}
	copy(cb.data, data)
	return nil
}

func (d *CPUDevice) Read(b Buffer) ([]float32, error) {
	cb, err := d.unwrap(b)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(cb.data))
	copy(out, cb.data)
	return out, nil
}

func (d *CPUDevice) Close() {}

func (d *CPUDevice) unwrap(b Buffer) (*cpuBuffer, error) {
	cb, ok := b.(*cpuBuffer)
	if !ok {
		return nil, fmt.Errorf("buffer %v was not created by this device", b)
	}
	return cb, nil
}

// Dispatch executes the named kernel synchronously on the host.
func (d *CPUDevice) Dispatch(kernel string, args []Buffer, units int) error {
	if units <= 0 {
		return fmt.Errorf("kernel %s: non-positive work size %d", kernel, units)
	}
	bufs := make([]*cpuBuffer, len(args))
	for i, a := range args {
		cb, err := d.unwrap(a)
		if err != nil {
			return fmt.Errorf("kernel %s arg %d: %v", kernel, i, err)
		}
		bufs[i] = cb
	}
	if d.DispatchHook != nil {
		d.DispatchHook(kernel, args, units)
	}

	switch kernel {
	case KernelForward:
		return d.forward(bufs, units)
	case KernelOutputDelta:
		return d.outputDelta(bufs, units)
	case KernelBackpropagate:
		return d.backpropagate(bufs, units)
	case KernelUpdateWeights:
		return d.updateWeights(bufs, units)
	}
	return fmt.Errorf("%w: %s", ErrUnknownKernel, kernel)
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// forward(in_size, out_size, in_values, weights, out_values)
func (d *CPUDevice) forward(args []*cpuBuffer, units int) error {
	if len(args) != 5 {
		return fmt.Errorf("forward: got %d args, want 5", len(args))
	}
	inSize := int(args[0].data[0])
	outSize := int(args[1].data[0])
	in, weights, out := args[2].data, args[3].data, args[4].data

	for j := 0; j < units; j++ {
		if j >= outSize-1 {
			break
		}
		var sum float32
		offset := j * inSize
		for i := 0; i < inSize; i++ {
			sum += weights[offset+i] * in[i]
		}
		out[j] = sigmoid(sum)
	}
	return nil
}

// output_delta(values, expected, delta)
func (d *CPUDevice) outputDelta(args []*cpuBuffer, units int) error {
	if len(args) != 3 {
		return fmt.Errorf("output_delta: got %d args, want 3", len(args))
	}
	values, expected, delta := args[0].data, args[1].data, args[2].data

	for i := 0; i < units; i++ {
		if i >= len(expected) {
			break
		}
		o := values[i]
		delta[i] = o * (1.0 - o) * (expected[i] - o)
	}
	return nil
}

// backpropagate(size, succ_size, values, weights, succ_delta, delta)
func (d *CPUDevice) backpropagate(args []*cpuBuffer, units int) error {
	if len(args) != 6 {
		return fmt.Errorf("backpropagate: got %d args, want 6", len(args))
	}
	size := int(args[0].data[0])
	succSize := int(args[1].data[0])
	values, weights, succDelta, delta := args[2].data, args[3].data, args[4].data, args[5].data

	for i := 0; i < units; i++ {
		if i >= size-1 {
			break
		}
		var sum float32
		for k := 0; k < succSize-1; k++ {
			sum += succDelta[k] * weights[k*size+i]
		}
		o := values[i]
		delta[i] = o * (1.0 - o) * sum
	}
	return nil
}

// update_weights(in_size, lr, in_values, delta, weights)
func (d *CPUDevice) updateWeights(args []*cpuBuffer, units int) error {
	if len(args) != 5 {
		return fmt.Errorf("update_weights: got %d args, want 5", len(args))
	}
	inSize := int(args[0].data[0])
	lr := args[1].data[0]
	in, delta, weights := args[2].data, args[3].data, args[4].data

	for idx := 0; idx < units; idx++ {
		if idx >= len(weights) {
			break
		}
		j := idx / inSize
		i := idx % inSize
		weights[idx] += lr * delta[j] * in[i]
	}
	return nil
}
