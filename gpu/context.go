package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the application.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary.
// Adapter selection prefers a high-performance device and falls back to low
// power, then to whatever the platform offers.
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		tryRequest := func(opts *wgpu.RequestAdapterOptions) {
			if ctx.Adapter != nil {
				return
			}
			a, err := ctx.Instance.RequestAdapter(opts)
			if err == nil {
				ctx.Adapter = a
			} else {
				initErr = err
			}
		}

		tryRequest(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		tryRequest(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceLowPower,
		})
		tryRequest(nil)

		if ctx.Adapter == nil {
			initErr = fmt.Errorf("all adapter attempts failed: %v", initErr)
			return
		}
		initErr = nil

		info := ctx.Adapter.GetInfo()
		Log("using adapter %s (vendor %s)", info.Name, info.VendorName)

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}
