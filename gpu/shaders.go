package gpu

import "github.com/openfluke/webgpu/wgpu"

// The four perceptron kernels. Weight layout is destination-major: the
// weight from source neuron i to destination neuron j lives at j*size+i,
// where size is the source layer's neuron count including its bias slot.
// Layer dimensions arrive as u32 uniforms; every layer's last value slot is
// the bias constant 1 and is never written by a kernel.

// ForwardWGSL computes one destination neuron per invocation:
// out[j] = sigmoid(sum_i in[i] * w[j*in_size+i]). The destination bias slot
// is excluded from the work size.
const ForwardWGSL = `
@group(0) @binding(0) var<uniform> in_size : u32;
@group(0) @binding(1) var<uniform> out_size : u32;
@group(0) @binding(2) var<storage, read> in_values : array<f32>;
@group(0) @binding(3) var<storage, read> weights : array<f32>;
@group(0) @binding(4) var<storage, read_write> out_values : array<f32>;

fn sigmoid(x: f32) -> f32 {
	return 1.0 / (1.0 + exp(-x));
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let j = gid.x;
	if (j >= out_size - 1u) {
		return;
	}
	var sum: f32 = 0.0;
	let offset = j * in_size;
	for (var i: u32 = 0u; i < in_size; i++) {
		sum += weights[offset + i] * in_values[i];
	}
	out_values[j] = sigmoid(sum);
}
`

// OutputDeltaWGSL computes the output layer's error signal:
// delta[i] = o*(1-o)*(expected[i]-o).
const OutputDeltaWGSL = `
@group(0) @binding(0) var<storage, read> values : array<f32>;
@group(0) @binding(1) var<storage, read> expected : array<f32>;
@group(0) @binding(2) var<storage, read_write> delta : array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= arrayLength(&expected)) {
		return;
	}
	let o = values[i];
	delta[i] = o * (1.0 - o) * (expected[i] - o);
}
`

// BackpropagateWGSL propagates the successor's deltas back through the
// weight matrix: delta[i] = o*(1-o) * sum_k succ_delta[k] * w[k*size+i].
// Requires succ_delta to be fully written before dispatch.
const BackpropagateWGSL = `
@group(0) @binding(0) var<uniform> size : u32;
@group(0) @binding(1) var<uniform> succ_size : u32;
@group(0) @binding(2) var<storage, read> values : array<f32>;
@group(0) @binding(3) var<storage, read> weights : array<f32>;
@group(0) @binding(4) var<storage, read> succ_delta : array<f32>;
@group(0) @binding(5) var<storage, read_write> delta : array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	if (i >= size - 1u) {
		return;
	}
	var sum: f32 = 0.0;
	for (var k: u32 = 0u; k < succ_size - 1u; k++) {
		sum += succ_delta[k] * weights[k * size + i];
	}
	let o = values[i];
	delta[i] = o * (1.0 - o) * sum;
}
`

// UpdateWeightsWGSL applies one gradient step per weight cell:
// w[j*in_size+i] += lr * delta[j] * in[i]. The delta buffer belongs to the
// destination layer; its bias slot is never written and stays zero, so the
// weight rows feeding a bias slot are left untouched.
const UpdateWeightsWGSL = `
@group(0) @binding(0) var<uniform> in_size : u32;
@group(0) @binding(1) var<uniform> lr : f32;
@group(0) @binding(2) var<storage, read> in_values : array<f32>;
@group(0) @binding(3) var<storage, read> delta : array<f32>;
@group(0) @binding(4) var<storage, read_write> weights : array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let idx = gid.x;
	if (idx >= arrayLength(&weights)) {
		return;
	}
	let j = idx / in_size;
	let i = idx % in_size;
	weights[idx] += lr * delta[j] * in_values[i];
}
`

// Kernel entry point names.
const (
	KernelForward       = "forward"
	KernelOutputDelta   = "output_delta"
	KernelBackpropagate = "backpropagate"
	KernelUpdateWeights = "update_weights"
)

// KernelSet holds the compiled standard kernels.
type KernelSet struct {
	Forward       *Kernel
	OutputDelta   *Kernel
	Backpropagate *Kernel
	UpdateWeights *Kernel
}

var (
	uniform = wgpu.BufferBindingTypeUniform
	stRead  = wgpu.BufferBindingTypeReadOnlyStorage
	stWrite = wgpu.BufferBindingTypeStorage
)

// CompileKernels compiles the four standard perceptron kernels.
func CompileKernels() (*KernelSet, error) {
	fwd, err := CompileKernel(KernelForward, ForwardWGSL,
		[]wgpu.BufferBindingType{uniform, uniform, stRead, stRead, stWrite})
	if err != nil {
		return nil, err
	}
	od, err := CompileKernel(KernelOutputDelta, OutputDeltaWGSL,
		[]wgpu.BufferBindingType{stRead, stRead, stWrite})
	if err != nil {
		return nil, err
	}
	bp, err := CompileKernel(KernelBackpropagate, BackpropagateWGSL,
		[]wgpu.BufferBindingType{uniform, uniform, stRead, stRead, stRead, stWrite})
	if err != nil {
		return nil, err
	}
	uw, err := CompileKernel(KernelUpdateWeights, UpdateWeightsWGSL,
		[]wgpu.BufferBindingType{uniform, uniform, stRead, stRead, stWrite})
	if err != nil {
		return nil, err
	}
	return &KernelSet{
		Forward:       fwd,
		OutputDelta:   od,
		Backpropagate: bp,
		UpdateWeights: uw,
	}, nil
}

// ByName returns the kernel registered under the given entry point name, or
// nil when the name is unknown.
func (s *KernelSet) ByName(name string) *Kernel {
	switch name {
	case KernelForward:
		return s.Forward
	case KernelOutputDelta:
		return s.OutputDelta
	case KernelBackpropagate:
		return s.Backpropagate
	case KernelUpdateWeights:
		return s.UpdateWeights
	}
	return nil
}

// Release frees all pipelines in the set.
func (s *KernelSet) Release() {
	s.Forward.Release()
	s.OutputDelta.Release()
	s.Backpropagate.Release()
	s.UpdateWeights.Release()
}
