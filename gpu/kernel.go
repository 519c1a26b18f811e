package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

const workgroupSize = 256

// Kernel is a named, pre-compiled compute entry point with a fixed positional
// argument list. Callers bind buffers by position; argument order and count
// are a contract between host code and the WGSL source.
type Kernel struct {
	Name     string
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout
	arity    int
}

// CompileKernel builds a compute pipeline from WGSL source. The bindings
// slice declares, in positional order, how each kernel argument is exposed
// to the shader (uniform scalar, read-only storage or read-write storage).
func CompileKernel(name, source string, bindings []wgpu.BufferBindingType) (*Kernel, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	if Debug {
		Log("compiling kernel %s (%d args)", name, len(bindings))
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return nil, fmt.Errorf("shader compile %s: %v", name, err)
	}

	// Explicit bind group layout to avoid "auto" layout issues.
	entries := make([]wgpu.BindGroupLayoutEntry, len(bindings))
	for i, t := range bindings {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		}
	}
	layout, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   name + "_BGL",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout %s: %v", name, err)
	}

	pipelineLayout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            name + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout %s: %v", name, err)
	}

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  name + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline create %s: %v", name, err)
	}
	module.Release()

	return &Kernel{
		Name:     name,
		pipeline: pipeline,
		layout:   layout,
		arity:    len(bindings),
	}, nil
}

// Dispatch binds the positional arguments, launches units parallel
// invocations and blocks until the device has drained the queue. Dispatches
// on a single queue are therefore strictly ordered: each one sees the
// results of the previous one.
func (k *Kernel) Dispatch(args []*wgpu.Buffer, units int) error {
	if len(args) != k.arity {
		return fmt.Errorf("kernel %s: got %d args, want %d", k.Name, len(args), k.arity)
	}
	if units <= 0 {
		return fmt.Errorf("kernel %s: non-positive work size %d", k.Name, units)
	}
	c, err := GetContext()
	if err != nil {
		return err
	}

	entries := make([]wgpu.BindGroupEntry, len(args))
	for i, buf := range args {
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf,
			Size:    buf.GetSize(),
		}
	}
	bindGroup, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.Name + "_Bind",
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("kernel %s: create bind group: %v", k.Name, err)
	}
	defer bindGroup.Release()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("kernel %s: create encoder: %v", k.Name, err)
	}

	if Debug {
		Log("dispatching %s with %d units", k.Name, units)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32((units+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()

	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("kernel %s: finish encoder: %v", k.Name, err)
	}
	c.Queue.Submit(cmd)
	c.Device.Poll(true, nil)
	return nil
}

// Release frees the pipeline.
func (k *Kernel) Release() {
	if k.pipeline != nil {
		k.pipeline.Release()
	}
}
