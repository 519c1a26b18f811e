package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

var (
	xorInputs  = [][]float32{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	xorTargets = [][]float32{{0}, {1}, {1}, {0}}
	orTargets  = [][]float32{{0}, {1}, {1}, {1}}
)

func TestTrainValidation(t *testing.T) {
	net := newTestNetwork(t, 2, 1)

	_, err := net.Train(TrainConfig{}, xorInputs, xorTargets[:3])
	require.ErrorIs(t, err, ErrTrainingSetMismatch)

	_, err = net.Train(TrainConfig{}, nil, nil)
	require.ErrorIs(t, err, ErrTrainingSetMismatch)

	_, err = net.Train(TrainConfig{}, [][]float32{{1, 2, 3}}, [][]float32{{0}})
	require.ErrorIs(t, err, ErrSizeMismatch)

	single := newTestNetwork(t, 2)
	_, err = single.Train(TrainConfig{}, xorInputs, xorTargets)
	require.ErrorIs(t, err, ErrEmptyNetwork)
}

func TestTrainExhausted(t *testing.T) {
	net := newTestNetwork(t, 2, 2, 1)
	result, err := net.Train(TrainConfig{
		MaxIterations: 5,
		CheckEvery:    1 << 20,
	}, xorInputs, xorTargets)
	require.NoError(t, err)
	assert.Equal(t, TrainExhausted, result.State)
	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, "exhausted", result.State.String())
}

func TestTrainConvergesOR(t *testing.T) {
	net := newTestNetwork(t, 2, 1)
	net.Rand = rand.NewSource(42)
	require.NoError(t, net.Layer(0).InitRandomWeights(WeightMin, WeightMax, net.Rand))

	result, err := net.Train(TrainConfig{
		LearningRate:  0.5,
		MaxIterations: 30000,
		CheckEvery:    100,
	}, xorInputs, orTargets)
	require.NoError(t, err)
	require.Equal(t, TrainConverged, result.State, "OR did not converge: max error %v", result.MaxError)
	assert.LessOrEqual(t, result.MaxError, 0.2)

	for i, in := range xorInputs {
		require.NoError(t, net.SetInputValues(in))
		require.NoError(t, net.Run(KernelForward))
		out, err := net.OutputValues()
		require.NoError(t, err)
		assert.InDelta(t, orTargets[i][0], out[0], 0.2, "input %v", in)
	}
}

// XOR with a 2-2-1 topology has known local minima for unlucky weight
// draws, so a handful of seeds are tried; the scenario requires that the
// truth table is reproduced after a successful run.
func TestTrainXOREndToEnd(t *testing.T) {
	var (
		net    *Network
		result *TrainResult
	)
	for _, seed := range []uint64{1, 2, 3, 5, 7, 11, 13, 17} {
		net = New(NewCPUDevice())
		net.Rand = rand.NewSource(seed)
		for _, size := range []int{2, 2, 1} {
			require.NoError(t, net.AddLayer(size))
		}

		var err error
		result, err = net.Train(TrainConfig{
			LearningRate:  0.8,
			MaxIterations: 200000,
			CheckEvery:    100,
		}, xorInputs, xorTargets)
		require.NoError(t, err)
		if result.State == TrainConverged {
			break
		}
	}
	require.Equal(t, TrainConverged, result.State, "XOR did not converge for any seed")

	for i, in := range xorInputs {
		require.NoError(t, net.SetInputValues(in))
		require.NoError(t, net.Run(KernelForward))
		out, err := net.OutputValues()
		require.NoError(t, err)
		assert.InDelta(t, xorTargets[i][0], out[0], 0.25, "input %v", in)
	}
}

// Backpropagation must walk strictly tail-to-head: a layer's backprop reads
// the successor's delta buffer, which must have been written earlier in the
// same iteration (by the output-delta kernel or a previous backprop).
func TestBackpropagationOrdering(t *testing.T) {
	dev := NewCPUDevice()
	written := make(map[Buffer]bool)
	var backprops, updates int

	dev.DispatchHook = func(kernel string, args []Buffer, units int) {
		switch kernel {
		case KernelOutputDelta:
			written[args[2]] = true
		case KernelBackpropagate:
			assert.True(t, written[args[4]], "backprop dispatched before successor delta was written")
			written[args[5]] = true
			backprops++
		case KernelUpdateWeights:
			assert.True(t, written[args[3]], "weight update dispatched before delta was written")
			updates++
		}
	}

	net := New(dev)
	net.Rand = rand.NewSource(9)
	for _, size := range []int{3, 3, 3, 1} {
		require.NoError(t, net.AddLayer(size))
	}

	_, err := net.Train(TrainConfig{
		MaxIterations: 1,
		CheckEvery:    1 << 20,
	}, [][]float32{{0, 0, 1}}, [][]float32{{1}})
	require.NoError(t, err)

	// Two hidden layers backpropagate; three weight matrices update.
	assert.Equal(t, 2, backprops)
	assert.Equal(t, 3, updates)
}
