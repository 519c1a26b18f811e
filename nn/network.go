package nn

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/rand"
)

// Network owns an ordered, append-only chain of layers and drives kernel
// dispatch across it. Layers are held in a flat slice and linked by index;
// layer 0 is the input layer, the last layer is the output layer.
//
// Topology is built in two phases: AddLayer calls grow the chain, then a
// single Upload finalizes it by allocating every layer's device buffers and
// pushing the host state across.
type Network struct {
	dev    Device
	layers []*Layer

	// Rand seeds random weight initialization for newly appended layers.
	// Defaults to a time-seeded source; tests substitute a fixed seed.
	Rand rand.Source
}

// New creates an empty network on the given device.
func New(dev Device) *Network {
	return &Network{
		dev:  dev,
		Rand: rand.NewSource(uint64(time.Now().UnixNano())),
	}
}

// Device returns the compute device the network dispatches to.
func (n *Network) Device() Device { return n.dev }

// Len reports the number of layers.
func (n *Network) Len() int { return len(n.layers) }

// Layers returns the layer chain in order.
func (n *Network) Layers() []*Layer { return n.layers }

// Layer returns the layer at chain index i.
func (n *Network) Layer(i int) *Layer { return n.layers[i] }

// First returns the input layer, or nil for an empty network.
func (n *Network) First() *Layer {
	if len(n.layers) == 0 {
		return nil
	}
	return n.layers[0]
}

// Last returns the output layer, or nil for an empty network.
func (n *Network) Last() *Layer {
	if len(n.layers) == 0 {
		return nil
	}
	return n.layers[len(n.layers)-1]
}

// AddLayer appends a layer of size neurons (the bias unit is added
// internally). The previous tail is linked to the new layer and its weights
// are randomly initialized; the new tail stays weightless until a further
// layer is appended behind it.
func (n *Network) AddLayer(size int) error {
	if size < 1 {
		return fmt.Errorf("%w: layer size %d", ErrSizeMismatch, size)
	}
	l := NewLayer(size)
	l.index = len(n.layers)
	if tail := n.Last(); tail != nil {
		tail.Link(l)
		if err := tail.InitRandomWeights(WeightMin, WeightMax, n.Rand); err != nil {
			return err
		}
	}
	n.layers = append(n.layers, l)
	return nil
}

// SetWeights assigns weight matrices to successive layers starting at the
// head, one matrix per link. Fewer matrices than links is allowed; more is
// an error. Layers whose buffers exist are re-uploaded immediately so the
// device never lags behind the host.
func (n *Network) SetWeights(weightSets [][]float32) error {
	links := len(n.layers) - 1
	if links < 0 {
		links = 0
	}
	if len(weightSets) > links {
		return fmt.Errorf("%w: %d weight sets for %d links", ErrSizeMismatch, len(weightSets), links)
	}
	for i, ws := range weightSets {
		l := n.layers[i]
		if err := l.SetWeights(ws); err != nil {
			return err
		}
		if l.weightBuf != nil {
			if err := l.UploadWeights(n.dev); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetInputValues sets the head layer's values, preserving its bias slot, and
// uploads them when the head's buffers exist.
func (n *Network) SetInputValues(values []float32) error {
	head := n.First()
	if head == nil {
		return fmt.Errorf("set input values: %w", ErrEmptyNetwork)
	}
	if err := head.SetValues(values); err != nil {
		return err
	}
	if head.valueBuf != nil {
		return head.UploadValues(n.dev)
	}
	return nil
}

// Upload finalizes the topology: it allocates device buffers for every
// layer (including the weightless tail, deferred from AddLayer) and then
// writes all host values and weights to the device.
func (n *Network) Upload() error {
	if len(n.layers) == 0 {
		return fmt.Errorf("upload: %w", ErrEmptyNetwork)
	}
	for _, l := range n.layers {
		if err := l.AllocateBuffers(n.dev); err != nil {
			return err
		}
	}
	for _, l := range n.layers {
		if err := l.UploadAll(n.dev); err != nil {
			return err
		}
	}
	return nil
}

// Run walks the chain head to tail, dispatching the forward kernel on each
// linked layer. Each dispatch consumes the previous one's output, so the
// walk is a strict sequential dependency chain; only the work units inside
// one dispatch run in parallel.
func (n *Network) Run(kernel string) error {
	if len(n.layers) == 0 {
		return fmt.Errorf("run: %w", ErrEmptyNetwork)
	}
	for i := 0; i < len(n.layers)-1; i++ {
		if err := n.layers[i].DispatchForward(n.dev, kernel, n.layers[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// OutputValues downloads the output layer's values and returns the non-bias
// neurons.
func (n *Network) OutputValues() ([]float32, error) {
	tail := n.Last()
	if tail == nil {
		return nil, fmt.Errorf("output values: %w", ErrEmptyNetwork)
	}
	if err := tail.DownloadValues(n.dev); err != nil {
		return nil, err
	}
	out := make([]float32, tail.size-1)
	copy(out, tail.Values[:tail.size-1])
	return out, nil
}

// Release frees every layer's device buffers.
func (n *Network) Release() {
	for _, l := range n.layers {
		l.ReleaseBuffers()
	}
}

// String renders the whole chain for debugging.
func (n *Network) String() string {
	var sb strings.Builder
	for i, l := range n.layers {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(l.String())
	}
	return sb.String()
}
