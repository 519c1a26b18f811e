package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigmoid64(x float64) float32 {
	return float32(1.0 / (1.0 + math.Exp(-x)))
}

func newCPUBuffers(t *testing.T, dev *CPUDevice, contents ...[]float32) []Buffer {
	t.Helper()
	bufs := make([]Buffer, len(contents))
	for i, c := range contents {
		b, err := dev.NewBuffer("test", len(c))
		require.NoError(t, err)
		require.NoError(t, dev.Write(b, c))
		bufs[i] = b
	}
	return bufs
}

func TestCPUWriteReadRoundTrip(t *testing.T) {
	dev := NewCPUDevice()
	b, err := dev.NewBuffer("roundtrip", 4)
	require.NoError(t, err)

	want := []float32{1.5, -2.25, 0, 42}
	require.NoError(t, dev.Write(b, want))
	got, err := dev.Read(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = dev.Write(b, []float32{1})
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestCPUUnknownKernel(t *testing.T) {
	dev := NewCPUDevice()
	err := dev.Dispatch("bogus", nil, 1)
	require.ErrorIs(t, err, ErrUnknownKernel)
}

func TestCPUForwardKernel(t *testing.T) {
	dev := NewCPUDevice()
	inSize, _ := dev.NewSizeBuffer("in_size", 3)
	outSize, _ := dev.NewSizeBuffer("out_size", 2)
	bufs := newCPUBuffers(t, dev,
		[]float32{0.5, 0.25, 1},          // in_values (bias last)
		[]float32{1, 1, 1, 0, 0, 0},      // weights, destination-major
		[]float32{0, 0},                  // out_values
	)

	err := dev.Dispatch(KernelForward, []Buffer{inSize, outSize, bufs[0], bufs[1], bufs[2]}, 1)
	require.NoError(t, err)

	out, err := dev.Read(bufs[2])
	require.NoError(t, err)
	assert.InDelta(t, sigmoid64(0.5+0.25+1), out[0], 1e-6)
	// The destination bias slot is never written.
	assert.Equal(t, float32(0), out[1])
}

func TestCPUOutputDeltaKernel(t *testing.T) {
	dev := NewCPUDevice()
	bufs := newCPUBuffers(t, dev,
		[]float32{0.6, 1},  // values (bias last)
		[]float32{1},       // expected
		[]float32{0, 0},    // delta
	)

	err := dev.Dispatch(KernelOutputDelta, []Buffer{bufs[0], bufs[1], bufs[2]}, 1)
	require.NoError(t, err)

	delta, err := dev.Read(bufs[2])
	require.NoError(t, err)
	// o(1-o)(c-o) = 0.6 * 0.4 * 0.4
	assert.InDelta(t, 0.6*0.4*0.4, delta[0], 1e-6)
	assert.Equal(t, float32(0), delta[1])
}

func TestCPUBackpropagateKernel(t *testing.T) {
	dev := NewCPUDevice()
	size, _ := dev.NewSizeBuffer("size", 3)
	succSize, _ := dev.NewSizeBuffer("succ_size", 2)
	bufs := newCPUBuffers(t, dev,
		[]float32{0.5, 0.25, 1},               // values
		[]float32{0.2, -0.4, 0.1, 0, 0, 0},    // weights to successor
		[]float32{0.3, 0},                     // successor delta
		[]float32{0, 0, 0},                    // delta out
	)

	err := dev.Dispatch(KernelBackpropagate,
		[]Buffer{size, succSize, bufs[0], bufs[1], bufs[2], bufs[3]}, 2)
	require.NoError(t, err)

	delta, err := dev.Read(bufs[3])
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.5*(0.3*0.2), delta[0], 1e-6)
	assert.InDelta(t, 0.25*0.75*(0.3*-0.4), delta[1], 1e-6)
	assert.Equal(t, float32(0), delta[2])
}

func TestCPUUpdateWeightsKernel(t *testing.T) {
	dev := NewCPUDevice()
	inSize, _ := dev.NewSizeBuffer("in_size", 3)
	lr, _ := dev.NewScalarBuffer("lr", 0.5)
	bufs := newCPUBuffers(t, dev,
		[]float32{0.5, 0.25, 1},       // source values
		[]float32{0.2, 0},             // destination delta (bias slot zero)
		[]float32{0, 0, 0, 0, 0, 0},   // weights
	)

	err := dev.Dispatch(KernelUpdateWeights,
		[]Buffer{inSize, lr, bufs[0], bufs[1], bufs[2]}, 6)
	require.NoError(t, err)

	w, err := dev.Read(bufs[2])
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.2*0.5, w[0], 1e-6)
	assert.InDelta(t, 0.5*0.2*0.25, w[1], 1e-6)
	assert.InDelta(t, 0.5*0.2*1.0, w[2], 1e-6)
	// Rows feeding the destination bias slot stay untouched.
	assert.Equal(t, []float32{0, 0, 0}, w[3:])
}
