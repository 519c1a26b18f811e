package nn

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Default range for random weight initialization.
const (
	WeightMin = -0.5
	WeightMax = 0.5
)

// Layer is one fully-connected layer of neurons. It owns a host value array,
// the host weight array to the next layer (when linked), and the device
// buffers mirroring both. The last value slot is a reserved bias unit whose
// value is the constant 1; kernels never write it.
//
// Weights are destination-major: the weight from neuron i of this layer to
// neuron j of the successor lives at j*Size()+i.
type Layer struct {
	index    int
	size     int // neuron count including the bias slot
	succSize int // successor's size, 0 when not linked
	next     int // chain indices, -1 when absent
	prev     int

	Values  []float32
	Weights []float32

	sizeBuf   Buffer
	valueBuf  Buffer
	weightBuf Buffer
}

// NewLayer creates an unlinked layer of inputSize neurons plus the bias
// unit. Values start at zero except the bias slot.
func NewLayer(inputSize int) *Layer {
	l := &Layer{
		size: inputSize + 1,
		next: -1,
		prev: -1,
	}
	l.Values = make([]float32, l.size)
	l.Values[l.size-1] = 1
	return l
}

// Size reports the neuron count including the bias unit.
func (l *Layer) Size() int { return l.size }

// Index reports the layer's position in its network chain.
func (l *Layer) Index() int { return l.index }

// Next reports the chain index of the successor, or -1.
func (l *Layer) Next() int { return l.next }

// Prev reports the chain index of the predecessor, or -1.
func (l *Layer) Prev() int { return l.prev }

// WeightCount reports the number of weight slots to the successor layer.
// Unlinked layers report zero.
func (l *Layer) WeightCount() int { return l.size * l.succSize }

// Linked reports whether a successor layer is set.
func (l *Layer) Linked() bool { return l.succSize > 0 }

// Link sets the successor layer and sizes the weight array to
// Size()*succ.Size(). Linking to a different successor resizes the weights;
// linking to nil severs the chain and drops the weights.
func (l *Layer) Link(succ *Layer) {
	if succ == nil {
		l.next = -1
		l.succSize = 0
		l.Weights = nil
		return
	}
	l.next = succ.index
	succ.prev = l.index
	if succ.size != l.succSize {
		l.succSize = succ.size
		l.Weights = make([]float32, l.size*l.succSize)
	}
}

// InitRandomWeights fills every weight slot with an independent uniform draw
// from [min, max). src selects the random source; a nil src uses the shared
// default, a seeded source makes the initialization reproducible.
func (l *Layer) InitRandomWeights(min, max float64, src rand.Source) error {
	if !l.Linked() {
		return fmt.Errorf("layer %d: init random weights: %w", l.index, ErrLayerNotLinked)
	}
	dist := distuv.Uniform{Min: min, Max: max, Src: src}
	for i := range l.Weights {
		l.Weights[i] = float32(dist.Rand())
	}
	return nil
}

// SetValues copies values into the non-bias slots. The input length must be
// Size()-1. The bias slot is re-asserted to 1 on every call so a corrupted
// slot cannot survive.
func (l *Layer) SetValues(values []float32) error {
	if len(values) != l.size-1 {
		return fmt.Errorf("layer %d: %w: got %d values, want %d", l.index, ErrSizeMismatch, len(values), l.size-1)
	}
	copy(l.Values, values)
	l.Values[l.size-1] = 1
	return nil
}

// SetWeights copies a full weight matrix in destination-major order. The
// input length must be Size()*successor.Size().
func (l *Layer) SetWeights(weights []float32) error {
	if !l.Linked() {
		return fmt.Errorf("layer %d: set weights: %w", l.index, ErrLayerNotLinked)
	}
	if len(weights) != l.WeightCount() {
		return fmt.Errorf("layer %d: %w: got %d weights, want %d", l.index, ErrSizeMismatch, len(weights), l.WeightCount())
	}
	copy(l.Weights, weights)
	return nil
}

// AllocateBuffers creates the device buffers sized from the current
// topology. Call it only once the layer's links are final; the weight buffer
// is created only for linked layers. Re-allocating after a topology change
// resizes the weight buffer.
func (l *Layer) AllocateBuffers(dev Device) error {
	var err error
	if l.sizeBuf == nil {
		l.sizeBuf, err = dev.NewSizeBuffer(fmt.Sprintf("layer%d_size", l.index), l.size)
		if err != nil {
			return err
		}
	}
	if l.valueBuf == nil {
		l.valueBuf, err = dev.NewBuffer(fmt.Sprintf("layer%d_values", l.index), l.size)
		if err != nil {
			return err
		}
	}
	if l.weightBuf != nil && l.weightBuf.Len() != l.WeightCount() {
		l.weightBuf.Release()
		l.weightBuf = nil
	}
	if l.weightBuf == nil && l.Linked() {
		l.weightBuf, err = dev.NewBuffer(fmt.Sprintf("layer%d_weights", l.index), l.WeightCount())
		if err != nil {
			return err
		}
	}
	return nil
}

// ReleaseBuffers frees the layer's device buffers.
func (l *Layer) ReleaseBuffers() {
	for _, b := range []Buffer{l.sizeBuf, l.valueBuf, l.weightBuf} {
		if b != nil {
			b.Release()
		}
	}
	l.sizeBuf, l.valueBuf, l.weightBuf = nil, nil, nil
}

// UploadValues copies the host values into the device buffer.
func (l *Layer) UploadValues(dev Device) error {
	if l.valueBuf == nil {
		return fmt.Errorf("layer %d: upload values: %w", l.index, ErrBuffersNotAllocated)
	}
	return dev.Write(l.valueBuf, l.Values)
}

// UploadWeights copies the host weights into the device buffer. A no-op for
// unlinked layers, which own no weights.
func (l *Layer) UploadWeights(dev Device) error {
	if !l.Linked() {
		return nil
	}
	if l.weightBuf == nil {
		return fmt.Errorf("layer %d: upload weights: %w", l.index, ErrBuffersNotAllocated)
	}
	return dev.Write(l.weightBuf, l.Weights)
}

// UploadAll uploads values and weights.
func (l *Layer) UploadAll(dev Device) error {
	if err := l.UploadValues(dev); err != nil {
		return err
	}
	return l.UploadWeights(dev)
}

// DownloadValues copies the device values back into the host array,
// overwriting it.
func (l *Layer) DownloadValues(dev Device) error {
	if l.valueBuf == nil {
		return fmt.Errorf("layer %d: download values: %w", l.index, ErrBuffersNotAllocated)
	}
	data, err := dev.Read(l.valueBuf)
	if err != nil {
		return err
	}
	copy(l.Values, data)
	return nil
}

// DownloadWeights copies the device weights back into the host array. A
// no-op for unlinked layers.
func (l *Layer) DownloadWeights(dev Device) error {
	if !l.Linked() {
		return nil
	}
	if l.weightBuf == nil {
		return fmt.Errorf("layer %d: download weights: %w", l.index, ErrBuffersNotAllocated)
	}
	data, err := dev.Read(l.weightBuf)
	if err != nil {
		return err
	}
	copy(l.Weights, data)
	return nil
}

// DownloadAll downloads values and weights.
func (l *Layer) DownloadAll(dev Device) error {
	if err := l.DownloadValues(dev); err != nil {
		return err
	}
	return l.DownloadWeights(dev)
}

// DispatchForward computes the successor's values from this layer's values
// and weights, one work unit per destination neuron (the successor's bias
// slot is never written). Blocks until the kernel completes.
func (l *Layer) DispatchForward(dev Device, kernel string, succ *Layer) error {
	if succ == nil || !l.Linked() {
		return fmt.Errorf("layer %d: forward: %w", l.index, ErrLayerNotLinked)
	}
	if l.valueBuf == nil || l.weightBuf == nil || succ.valueBuf == nil {
		return fmt.Errorf("layer %d: forward: %w", l.index, ErrBuffersNotAllocated)
	}
	args := []Buffer{l.sizeBuf, succ.sizeBuf, l.valueBuf, l.weightBuf, succ.valueBuf}
	if err := dev.Dispatch(kernel, args, succ.size-1); err != nil {
		return fmt.Errorf("layer %d: %w: %s: %v", l.index, ErrDispatchFailed, kernel, err)
	}
	return nil
}

// DispatchOutputDelta computes the error signal of an output layer:
// delta_i = o_i(1-o_i)(expected_i - o_i), one work unit per non-bias neuron.
func (l *Layer) DispatchOutputDelta(dev Device, kernel string, expected, delta Buffer) error {
	if l.valueBuf == nil {
		return fmt.Errorf("layer %d: output delta: %w", l.index, ErrBuffersNotAllocated)
	}
	args := []Buffer{l.valueBuf, expected, delta}
	if err := dev.Dispatch(kernel, args, l.size-1); err != nil {
		return fmt.Errorf("layer %d: %w: %s: %v", l.index, ErrDispatchFailed, kernel, err)
	}
	return nil
}

// DispatchBackpropagate propagates the successor's deltas back through this
// layer's weights into delta. succDelta must already hold the successor's
// error signal; dispatching before that write completes is a logic error the
// device cannot detect.
func (l *Layer) DispatchBackpropagate(dev Device, kernel string, succ *Layer, succDelta, delta Buffer) error {
	if succ == nil || !l.Linked() {
		return fmt.Errorf("layer %d: backpropagate: %w", l.index, ErrLayerNotLinked)
	}
	if l.valueBuf == nil || l.weightBuf == nil {
		return fmt.Errorf("layer %d: backpropagate: %w", l.index, ErrBuffersNotAllocated)
	}
	args := []Buffer{l.sizeBuf, succ.sizeBuf, l.valueBuf, l.weightBuf, succDelta, delta}
	if err := dev.Dispatch(kernel, args, l.size-1); err != nil {
		return fmt.Errorf("layer %d: %w: %s: %v", l.index, ErrDispatchFailed, kernel, err)
	}
	return nil
}

// DispatchUpdateWeights applies one gradient step to the weights between
// this layer and its successor, one work unit per weight cell:
// w(i,j) += lr * succDelta_j * value_i. succDelta is the successor's delta
// buffer and must be populated; lr is a scalar buffer.
func (l *Layer) DispatchUpdateWeights(dev Device, kernel string, succDelta, lr Buffer) error {
	if !l.Linked() {
		return fmt.Errorf("layer %d: update weights: %w", l.index, ErrLayerNotLinked)
	}
	if l.valueBuf == nil || l.weightBuf == nil {
		return fmt.Errorf("layer %d: update weights: %w", l.index, ErrBuffersNotAllocated)
	}
	args := []Buffer{l.sizeBuf, lr, l.valueBuf, succDelta, l.weightBuf}
	if err := dev.Dispatch(kernel, args, l.WeightCount()); err != nil {
		return fmt.Errorf("layer %d: %w: %s: %v", l.index, ErrDispatchFailed, kernel, err)
	}
	return nil
}

// String renders the layer's host state for debugging.
func (l *Layer) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "layer %d (size %d)\n\tvalues:", l.index, l.size)
	for _, v := range l.Values {
		fmt.Fprintf(&sb, " %g", v)
	}
	sb.WriteString("\n\tweights:")
	if !l.Linked() {
		sb.WriteString(" none")
	} else {
		for _, w := range l.Weights {
			fmt.Fprintf(&sb, " %g", w)
		}
	}
	return sb.String()
}
