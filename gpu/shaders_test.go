package gpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The WGSL sources are compiled against explicit bind group layouts, so the
// binding count in each shader must match the positional argument list the
// host binds. These checks are static; pipeline creation itself needs an
// adapter and is exercised by the example binaries.
func TestShaderBindingContracts(t *testing.T) {
	cases := []struct {
		name     string
		source   string
		bindings int
	}{
		{KernelForward, ForwardWGSL, 5},
		{KernelOutputDelta, OutputDeltaWGSL, 3},
		{KernelBackpropagate, BackpropagateWGSL, 6},
		{KernelUpdateWeights, UpdateWeightsWGSL, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.bindings, strings.Count(tc.source, "@binding"))
			assert.Contains(t, tc.source, "@compute @workgroup_size(256)")
			assert.Contains(t, tc.source, "fn main(")
		})
	}
}

func TestKernelSetByNameUnknown(t *testing.T) {
	s := &KernelSet{}
	assert.Nil(t, s.ByName("bogus"))
}
