package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestNewLayerReservesBiasSlot(t *testing.T) {
	l := NewLayer(3)
	require.Equal(t, 4, l.Size())
	require.Len(t, l.Values, 4)
	assert.Equal(t, float32(1), l.Values[3])
	for i := 0; i < 3; i++ {
		assert.Equal(t, float32(0), l.Values[i])
	}
	assert.False(t, l.Linked())
	assert.Equal(t, 0, l.WeightCount())
}

func TestSetValues(t *testing.T) {
	l := NewLayer(2)

	require.NoError(t, l.SetValues([]float32{0.25, 0.75}))
	assert.Equal(t, []float32{0.25, 0.75, 1}, l.Values)

	err := l.SetValues([]float32{1, 2, 3})
	require.ErrorIs(t, err, ErrSizeMismatch)
	err = l.SetValues([]float32{1})
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSetValuesReassertsBias(t *testing.T) {
	l := NewLayer(2)
	// Simulate bias corruption through buffer aliasing.
	l.Values[2] = 0.123
	require.NoError(t, l.SetValues([]float32{0, 0}))
	assert.Equal(t, float32(1), l.Values[2])
}

func TestLinkSizesWeights(t *testing.T) {
	a := NewLayer(2) // size 3
	b := NewLayer(1) // size 2
	a.Link(b)
	assert.True(t, a.Linked())
	assert.Equal(t, 3*2, a.WeightCount())
	require.Len(t, a.Weights, 6)

	// Re-linking to a larger successor resizes.
	c := NewLayer(4) // size 5
	a.Link(c)
	assert.Equal(t, 3*5, a.WeightCount())

	// De-linking reports zero weight slots.
	a.Link(nil)
	assert.False(t, a.Linked())
	assert.Equal(t, 0, a.WeightCount())
}

func TestInitRandomWeights(t *testing.T) {
	l := NewLayer(2)
	err := l.InitRandomWeights(WeightMin, WeightMax, nil)
	require.ErrorIs(t, err, ErrLayerNotLinked)

	l.Link(NewLayer(3))
	require.NoError(t, l.InitRandomWeights(-0.5, 0.5, rand.NewSource(1)))
	for _, w := range l.Weights {
		assert.GreaterOrEqual(t, w, float32(-0.5))
		assert.Less(t, w, float32(0.5))
	}

	// A fixed seed reproduces the initialization.
	m := NewLayer(2)
	m.Link(NewLayer(3))
	require.NoError(t, m.InitRandomWeights(-0.5, 0.5, rand.NewSource(1)))
	assert.Equal(t, l.Weights, m.Weights)
}

func TestSetWeights(t *testing.T) {
	l := NewLayer(2)
	err := l.SetWeights([]float32{1, 2, 3})
	require.ErrorIs(t, err, ErrLayerNotLinked)

	l.Link(NewLayer(1)) // 3*2 = 6 slots
	err = l.SetWeights([]float32{1, 2, 3})
	require.ErrorIs(t, err, ErrSizeMismatch)

	ws := []float32{1, 2, 3, 4, 5, 6}
	require.NoError(t, l.SetWeights(ws))
	assert.Equal(t, ws, l.Weights)
}

func TestDispatchRequiresAllocatedBuffers(t *testing.T) {
	dev := NewCPUDevice()
	a := NewLayer(2)
	b := NewLayer(1)
	a.Link(b)

	err := a.DispatchForward(dev, KernelForward, b)
	require.ErrorIs(t, err, ErrBuffersNotAllocated)

	err = a.UploadValues(dev)
	require.ErrorIs(t, err, ErrBuffersNotAllocated)
}

func TestDispatchForwardUnlinked(t *testing.T) {
	dev := NewCPUDevice()
	l := NewLayer(2)
	require.NoError(t, l.AllocateBuffers(dev))
	err := l.DispatchForward(dev, KernelForward, nil)
	require.ErrorIs(t, err, ErrLayerNotLinked)
}
