// Package nnet contains routines for constructing, training and testing convolutional text classifiers.
package nnet

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jnb666/textcnn/num"
	"go.uber.org/zap"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers    []Layer
	queue     num.Queue
	classes   num.Array
	total     num.Array
	totalLoss num.Array
	batchAcc  num.Array
	batchLoss num.Array
	l2        num.Array
	inputGrad num.Array
	inShape   []int
	nclass    int
	params    []Param
}

// New function creates a new network with the given layers. The input to the network is a batch of
// token index sequences from data, so the first layer must be an embedding.
func New(queue num.Queue, conf Config, batchSize int, data Data, rng *rand.Rand) (*Network, error) {
	if len(conf.Layers) == 0 {
		return nil, errors.New("network has no layers")
	}
	n := &Network{Config: conf, queue: queue, nclass: len(data.Classes())}
	n.inShape = []int{batchSize, data.SeqLen(), data.VocabSize()}
	shape := n.inShape
	for i, l := range conf.Layers {
		layer, err := l.Unmarshal()
		if err != nil {
			return nil, err
		}
		if err = n.checkLayer(i, layer, shape); err != nil {
			return nil, err
		}
		layer.Init(queue, shape, rng)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
	}
	if _, ok := n.Layers[len(n.Layers)-1].(OutputLayer); !ok {
		return nil, errors.New("last layer must be logRegression")
	}
	if len(shape) != 2 || shape[1] != n.nclass {
		return nil, fmt.Errorf("output shape %v does not match %d classes", shape, n.nclass)
	}
	n.classes = queue.NewArray(num.Int32, batchSize)
	n.total = queue.NewArray(num.Float32)
	n.totalLoss = queue.NewArray(num.Float32)
	n.batchAcc = queue.NewArray(num.Float32)
	n.batchLoss = queue.NewArray(num.Float32)
	n.l2 = queue.NewArray(num.Float32)
	n.inputGrad = queue.NewArray(num.Float32, batchSize, n.nclass)
	return n, nil
}

// config errors which would otherwise cause a panic on Init
func (n *Network) checkLayer(i int, layer Layer, shape []int) error {
	_, isEmbed := layer.(*embedding)
	if (i == 0) != isEmbed {
		return fmt.Errorf("layer %d: embedding must be the first and only the first layer", i)
	}
	switch l := layer.(type) {
	case *embedding:
		if l.Dim < 1 {
			return fmt.Errorf("layer %d: invalid embedding dimension %d", i, l.Dim)
		}
	case *convPool:
		if len(shape) != 3 {
			return fmt.Errorf("layer %d: convPool expects 3d input, got %v", i, shape)
		}
		if len(l.Sizes) == 0 || l.Nfeats < 1 {
			return fmt.Errorf("layer %d: convPool needs filter sizes and features", i)
		}
		for _, size := range l.Sizes {
			if size < 1 || size > shape[1] {
				return fmt.Errorf("layer %d: filter size %d invalid for sequence length %d", i, size, shape[1])
			}
		}
	case *linear:
		if l.Nout == 0 {
			l.Nout = n.nclass
		}
		if len(shape) != 2 {
			return fmt.Errorf("layer %d: linear expects 2d input, got %v - add a flatten layer", i, shape)
		}
	case *dropout:
		if l.Keep <= 0 || l.Keep > 1 {
			return fmt.Errorf("layer %d: dropout keep probability %g out of range", i, l.Keep)
		}
	}
	return nil
}

// Initialise network weights from the given random source.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(rng)
		}
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// Params returns all of the trainable parameters, each name is prefixed by the layer type and index.
func (n *Network) Params() []Param {
	if n.params != nil {
		return n.params
	}
	var params []Param
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			for _, p := range l.Params() {
				p.Name = fmt.Sprintf("%s%d/%s", layer.Type(), i, p.Name)
				params = append(params, p)
			}
		}
	}
	n.params = params
	return params
}

// ParamNames lists the names of the trainable parameters.
func (n *Network) ParamNames() []string {
	var names []string
	for _, p := range n.Params() {
		names = append(names, p.Name)
	}
	return names
}

// Copy weights and bias arrays to destination net
func (n *Network) CopyTo(net *Network) {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			var values []num.Array
			for _, p := range l.Params() {
				values = append(values, p.Value)
			}
			net.Layers[i].(ParamLayer).SetParams(values)
		}
	}
	n.queue.Finish()
}

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Queue used for network operations.
func (n *Network) Queue() num.Queue {
	return n.queue
}

// BatchSize is the number of samples processed in each pass.
func (n *Network) BatchSize() int {
	return n.inShape[0]
}

// Feed forward the input to get the predicted output. If train is set then dropout is applied.
func (n *Network) Fprop(input num.Array, train bool) num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 {
			logger.Debug("layer input", zap.Int("layer", i), zap.String("data", pred.String(n.queue)))
		}
		pred = layer.Fprop(pred, train)
	}
	return pred
}

// Predict output given input data
func (n *Network) Predict(input, classes num.Array) num.Array {
	yPred := n.Fprop(input, false)
	if n.DebugLevel >= 3 {
		logger.Debug("yPred", zap.String("data", yPred.String(n.queue)))
	}
	n.queue.Call(num.Unhot(yPred, classes))
	return yPred
}

// Bprop back propagates the gradient from the output layer, accumulating parameter gradients.
func (n *Network) Bprop(grad num.Array) {
	for i := len(n.Layers) - 1; i >= 0 && grad != nil; i-- {
		grad = n.Layers[i].Bprop(grad)
	}
}

// Evaluate calculates the mean loss, including the L2 penalty, and the accuracy over all the
// samples in dset. If pred is not nil then the predicted classes are also returned.
func (n *Network) Evaluate(dset *Dataset, pred []int32) (loss, accuracy float64) {
	q := n.queue
	q.Call(num.Fill(n.total, 0), num.Fill(n.totalLoss, 0))
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, yOneHot, rows := dset.GetBatch(q, batch)
		yPred := n.Predict(x, n.classes)
		batchLoss := n.OutLayer().Loss(yOneHot, yPred, rows)
		q.Call(
			num.Axpy(float32(rows), batchLoss, n.totalLoss),
			num.Correct(n.classes, y, n.batchAcc, rows),
			num.Axpy(1, n.batchAcc, n.total),
		)
		if pred != nil {
			start := batch * dset.BatchSize
			q.Call(num.Read(n.classes, pred[start:start+rows]))
		}
		if n.DebugLevel >= 2 || (n.DebugLevel >= 1 && batch == 0) {
			logger.Debug("evaluate", zap.Int("batch", batch), zap.String("correct", n.batchAcc.String(q)))
		}
	}
	res := []float32{0, 0}
	q.Call(num.Read(n.totalLoss, res[:1]), num.Read(n.total, res[1:])).Finish()
	samples := float64(dset.Samples)
	loss = float64(res[0])/samples + n.Lambda*n.L2Loss()
	accuracy = float64(res[1]) / samples
	return
}

// L2Loss returns half the sum of squares of the parameters of layers with weight decay enabled.
func (n *Network) L2Loss() float64 {
	q := n.queue
	q.Call(num.Fill(n.l2, 0))
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok && l.Decay() {
			for _, p := range l.Params() {
				q.Call(num.SumSq(p.Value, n.l2))
			}
		}
	}
	res := []float32{0}
	q.Call(num.Read(n.l2, res)).Finish()
	return 0.5 * float64(res[0])
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return fmt.Sprintf("%s\n== Network ==\n%s", n.Config.configString(), strings.Join(s, "\n"))
}

// Print network weights
func (n *Network) PrintWeights() {
	for _, p := range n.Params() {
		logger.Debug("weights", zap.String("param", p.Name), zap.String("data", p.Value.String(n.queue)))
	}
}

// Release allocated arrays
func (n *Network) Release() {
	num.Release(n.classes, n.total, n.totalLoss, n.batchAcc, n.batchLoss, n.l2, n.inputGrad)
	for _, p := range n.Params() {
		num.Release(p.Value, p.Grad)
	}
}

// NewRand returns a random source with the given seed, or seeded from the time if seed <= 0.
func NewRand(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	logger.Info("random seed", zap.Int64("seed", seed))
	return rand.New(rand.NewSource(seed))
}
