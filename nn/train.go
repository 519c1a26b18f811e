package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// TrainConfig configures a training run. Zero fields fall back to the
// defaults noted on each field.
type TrainConfig struct {
	LearningRate  float32 // gradient step size (default 0.5)
	Confidence    float64 // converged when max abs error <= 1-Confidence (default 0.8)
	MaxIterations int     // iteration budget (default 10000)
	CheckEvery    int     // convergence probe cadence in iterations (default 100)

	// Kernel entry point names; default to the standard set.
	ForwardKernel       string
	OutputDeltaKernel   string
	BackpropagateKernel string
	UpdateWeightsKernel string
}

func (c *TrainConfig) applyDefaults() {
	if c.LearningRate == 0 {
		c.LearningRate = 0.5
	}
	if c.Confidence == 0 {
		c.Confidence = 0.8
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10000
	}
	if c.CheckEvery == 0 {
		c.CheckEvery = 100
	}
	if c.ForwardKernel == "" {
		c.ForwardKernel = KernelForward
	}
	if c.OutputDeltaKernel == "" {
		c.OutputDeltaKernel = KernelOutputDelta
	}
	if c.BackpropagateKernel == "" {
		c.BackpropagateKernel = KernelBackpropagate
	}
	if c.UpdateWeightsKernel == "" {
		c.UpdateWeightsKernel = KernelUpdateWeights
	}
}

// TrainState is the terminal state of a training run.
type TrainState int

const (
	// TrainConverged means the convergence probe found every training
	// example within tolerance.
	TrainConverged TrainState = iota
	// TrainExhausted means the iteration budget ran out first. Not an
	// error: the caller may train further from the current weights.
	TrainExhausted
)

func (s TrainState) String() string {
	switch s {
	case TrainConverged:
		return "converged"
	case TrainExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("TrainState(%d)", int(s))
}

// TrainResult reports how a training run ended.
type TrainResult struct {
	State      TrainState
	Iterations int     // iterations completed before termination
	MaxError   float64 // worst-case output error over the training set
}

// Train runs online gradient-descent training over the given set. Each
// iteration picks the next example cyclically, runs the forward pass,
// computes the output layer's delta, backpropagates deltas tail-to-head and
// applies weight updates head-to-tail. Every CheckEvery iterations the full
// training set is probed for convergence; the probe restores the in-progress
// example's activations before training resumes so it cannot leak state into
// the iteration.
//
// On return the trained weights have been downloaded into the host arrays.
// A dispatch failure aborts the run with no partial-iteration recovery.
func (n *Network) Train(cfg TrainConfig, inputs, targets [][]float32) (*TrainResult, error) {
	cfg.applyDefaults()

	if len(n.layers) < 2 {
		return nil, fmt.Errorf("train: need at least two layers: %w", ErrEmptyNetwork)
	}
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("train: %w: %d inputs, %d targets", ErrTrainingSetMismatch, len(inputs), len(targets))
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("train: %w: empty training set", ErrTrainingSetMismatch)
	}
	head, tail := n.First(), n.Last()
	for i := range inputs {
		if len(inputs[i]) != head.size-1 {
			return nil, fmt.Errorf("train: input %d: %w: got %d values, want %d", i, ErrSizeMismatch, len(inputs[i]), head.size-1)
		}
		if len(targets[i]) != tail.size-1 {
			return nil, fmt.Errorf("train: target %d: %w: got %d values, want %d", i, ErrSizeMismatch, len(targets[i]), tail.size-1)
		}
	}

	if head.valueBuf == nil {
		if err := n.Upload(); err != nil {
			return nil, err
		}
	}

	// One delta buffer per layer, reused across iterations.
	deltas := make([]Buffer, len(n.layers))
	for i, l := range n.layers {
		b, err := n.dev.NewBuffer(fmt.Sprintf("layer%d_delta", i), l.size)
		if err != nil {
			return nil, err
		}
		deltas[i] = b
	}
	defer func() {
		for _, b := range deltas {
			b.Release()
		}
	}()

	expected, err := n.dev.NewBuffer("expected_output", tail.size-1)
	if err != nil {
		return nil, err
	}
	defer expected.Release()

	lr, err := n.dev.NewScalarBuffer("learning_rate", cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	defer lr.Release()

	tolerance := 1 - cfg.Confidence
	last := len(n.layers) - 1

	for it := 0; it < cfg.MaxIterations; it++ {
		ex := it % len(inputs)

		if err := n.SetInputValues(inputs[ex]); err != nil {
			return nil, err
		}
		if err := n.Run(cfg.ForwardKernel); err != nil {
			return nil, err
		}

		if it%cfg.CheckEvery == 0 {
			worst, err := n.maxError(cfg.ForwardKernel, inputs, targets)
			if err != nil {
				return nil, err
			}
			if worst <= tolerance {
				if err := n.downloadWeights(); err != nil {
					return nil, err
				}
				return &TrainResult{State: TrainConverged, Iterations: it, MaxError: worst}, nil
			}
			// The probe overwrote every layer's values; restore the
			// in-progress example before computing deltas from them.
			if err := n.SetInputValues(inputs[ex]); err != nil {
				return nil, err
			}
			if err := n.Run(cfg.ForwardKernel); err != nil {
				return nil, err
			}
		}

		if err := n.dev.Write(expected, targets[ex]); err != nil {
			return nil, err
		}
		if err := tail.DispatchOutputDelta(n.dev, cfg.OutputDeltaKernel, expected, deltas[last]); err != nil {
			return nil, err
		}

		// Reverse order: a layer's backprop reads the successor's delta,
		// so the walk must not get ahead of the writes.
		for i := last - 1; i >= 1; i-- {
			if err := n.layers[i].DispatchBackpropagate(n.dev, cfg.BackpropagateKernel, n.layers[i+1], deltas[i+1], deltas[i]); err != nil {
				return nil, err
			}
		}

		for i := 0; i < last; i++ {
			if err := n.layers[i].DispatchUpdateWeights(n.dev, cfg.UpdateWeightsKernel, deltas[i+1], lr); err != nil {
				return nil, err
			}
		}
	}

	worst, err := n.maxError(cfg.ForwardKernel, inputs, targets)
	if err != nil {
		return nil, err
	}
	if err := n.downloadWeights(); err != nil {
		return nil, err
	}
	return &TrainResult{State: TrainExhausted, Iterations: cfg.MaxIterations, MaxError: worst}, nil
}

// maxError runs the forward pass for every example and reports the worst
// max-absolute-error between the output layer and the expected output.
func (n *Network) maxError(forwardKernel string, inputs, targets [][]float32) (float64, error) {
	var worst float64
	for i := range inputs {
		if err := n.SetInputValues(inputs[i]); err != nil {
			return 0, err
		}
		if err := n.Run(forwardKernel); err != nil {
			return 0, err
		}
		out, err := n.OutputValues()
		if err != nil {
			return 0, err
		}
		dist := floats.Distance(toFloat64(out), toFloat64(targets[i]), math.Inf(1))
		if dist > worst {
			worst = dist
		}
	}
	return worst, nil
}

func (n *Network) downloadWeights() error {
	for _, l := range n.layers {
		if err := l.DownloadWeights(n.dev); err != nil {
			return err
		}
	}
	return nil
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}
