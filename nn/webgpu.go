package nn

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/synapse/gpu"
)

// WebGPUDevice implements Device on top of the gpu package. All four
// standard kernels are compiled up front; dispatches block until the queue
// drains, matching the synchronous scheduling model the network relies on.
type WebGPUDevice struct {
	kernels *gpu.KernelSet
}

// NewWebGPUDevice initializes the WebGPU context and compiles the standard
// kernel set. It fails when no usable adapter is present.
func NewWebGPUDevice() (*WebGPUDevice, error) {
	if _, err := gpu.GetContext(); err != nil {
		return nil, err
	}
	kernels, err := gpu.CompileKernels()
	if err != nil {
		return nil, err
	}
	return &WebGPUDevice{kernels: kernels}, nil
}

type gpuBuffer struct {
	buf *wgpu.Buffer
	n   int
}

func (b *gpuBuffer) Len() int { return b.n }
func (b *gpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Destroy()
		b.buf = nil
	}
}

func (d *WebGPUDevice) NewBuffer(label string, n int) (Buffer, error) {
	buf, err := gpu.NewStorageBuffer(label, n)
	if err != nil {
		return nil, err
	}
	return &gpuBuffer{buf: buf, n: n}, nil
}

func (d *WebGPUDevice) NewSizeBuffer(label string, n int) (Buffer, error) {
	buf, err := gpu.NewUniformU32(label, uint32(n))
	if err != nil {
		return nil, err
	}
	return &gpuBuffer{buf: buf, n: 1}, nil
}

func (d *WebGPUDevice) NewScalarBuffer(label string, v float32) (Buffer, error) {
	buf, err := gpu.NewUniformF32(label, v)
	if err != nil {
		return nil, err
	}
	return &gpuBuffer{buf: buf, n: 1}, nil
}

func (d *WebGPUDevice) Write(b Buffer, data []float32) error {
	gb, err := d.unwrap(b)
	if err != nil {
		return err
	}
	if len(data) != gb.n {
		return fmt.Errorf("%w: write %d floats into buffer of %d", ErrSizeMismatch, len(data), gb.n)
	}
	return gpu.WriteBuffer(gb.buf, data)
}

func (d *WebGPUDevice) Read(b Buffer) ([]float32, error) {
	gb, err := d.unwrap(b)
	if err != nil {
		return nil, err
	}
	return gpu.ReadBuffer(gb.buf, gb.n)
}

// Dispatch looks up the named kernel and launches it over the given work
// size, blocking until completion.
func (d *WebGPUDevice) Dispatch(kernel string, args []Buffer, units int) error {
	k := d.kernels.ByName(kernel)
	if k == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKernel, kernel)
	}
	raw := make([]*wgpu.Buffer, len(args))
	for i, a := range args {
		gb, err := d.unwrap(a)
		if err != nil {
			return fmt.Errorf("kernel %s arg %d: %v", kernel, i, err)
		}
		raw[i] = gb.buf
	}
	return k.Dispatch(raw, units)
}

// Close releases the compiled pipelines. The underlying WebGPU context is
// process-wide and stays alive.
func (d *WebGPUDevice) Close() {
	if d.kernels != nil {
		d.kernels.Release()
		d.kernels = nil
	}
}

func (d *WebGPUDevice) unwrap(b Buffer) (*gpuBuffer, error) {
	gb, ok := b.(*gpuBuffer)
	if !ok {
		return nil, fmt.Errorf("buffer %v was not created by this device", b)
	}
	return gb, nil
}
