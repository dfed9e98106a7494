package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/jnb666/textcnn/num"
)

// Layer interface type represents one layer of the neural net.
type Layer interface {
	Init(q num.Queue, inShape []int, rng *rand.Rand) Layer
	OutShape(inShape []int) []int
	Fprop(in num.Array, train bool) num.Array
	Bprop(grad num.Array) num.Array
	Type() string
	ToString() string
}

// Param is a named weight array together with its gradient.
type Param struct {
	Name  string
	Value num.Array
	Grad  num.Array
}

// ParamLayer is a layer with trainable parameters
type ParamLayer interface {
	Layer
	InitParams(rng *rand.Rand)
	Params() []Param
	SetParams(values []num.Array)
	Decay() bool
}

// OutputLayer is the final layer in the stack
type OutputLayer interface {
	Layer
	Loss(yOneHot, yPred num.Array, n int) num.Array
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() (Layer, error) {
	var layer Layer
	var err error
	switch l.Type {
	case "embedding":
		cfg := new(Embedding)
		err = unmarshal(l.Data, cfg)
		layer = &embedding{Embedding: *cfg}
	case "convPool":
		cfg := new(ConvPool)
		err = unmarshal(l.Data, cfg)
		layer = &convPool{ConvPool: *cfg}
	case "dropout":
		cfg := new(Dropout)
		err = unmarshal(l.Data, cfg)
		layer = &dropout{Dropout: *cfg}
	case "linear":
		cfg := new(Linear)
		err = unmarshal(l.Data, cfg)
		layer = &linear{Linear: *cfg}
	case "activation":
		cfg := new(Activation)
		if err = unmarshal(l.Data, cfg); err == nil && cfg.Atype != "relu" {
			err = fmt.Errorf("activation type %q invalid", cfg.Atype)
		}
		layer = &activation{Activation: *cfg}
	case "logRegression":
		layer = &logRegression{}
	case "flatten":
		layer = &flatten{}
	default:
		return nil, fmt.Errorf("invalid layer type: %q", l.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%s layer: %w", l.Type, err)
	}
	return layer, nil
}

func (l LayerConfig) String() string {
	layer, err := l.Unmarshal()
	if err != nil {
		return err.Error()
	}
	return layer.ToString()
}

// Embedding layer maps each token index to a trainable vector of size Dim.
type Embedding struct {
	Dim int
}

func (c Embedding) Marshal() LayerConfig {
	return LayerConfig{Type: "embedding", Data: marshal(c)}
}

func (c Embedding) ToString() string {
	return fmt.Sprintf("embedding %+v", c)
}

// ConvPool layer applies a 1 dimensional convolution over the sequence for each filter size,
// with relu activation and max pooling over time. Outputs from each size are concatenated.
type ConvPool struct {
	Sizes  []int
	Nfeats int
}

func (c ConvPool) Marshal() LayerConfig {
	return LayerConfig{Type: "convPool", Data: marshal(c)}
}

func (c ConvPool) ToString() string {
	return fmt.Sprintf("convPool %+v", c)
}

// Dropout layer zeros each input with probability 1-Keep when training.
type Dropout struct {
	Keep float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

func (c Dropout) ToString() string {
	return fmt.Sprintf("dropout %+v", c)
}

// Linear fully connected layer, implements ParamLayer interface.
// If Nout is zero then it is set to the number of output classes. Decay enables L2 regularisation.
type Linear struct {
	Nout  int
	Decay bool
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

// Relu activation layer.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

// LogRegression output layer with soft max activation.
type LogRegression struct{}

func (c LogRegression) Marshal() LayerConfig {
	return LayerConfig{Type: "logRegression"}
}

// Flatten layer reshapes to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// embedding layer implementation
type embedding struct {
	Embedding
	paramBase
	src num.Array
	dst num.Array
}

func (l *embedding) Type() string { return "embedding" }

func (l *embedding) OutShape(inShape []int) []int {
	return []int{inShape[0], inShape[1], l.Dim}
}

// expects inShape = [batch, seqLen, vocabSize]
func (l *embedding) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 3 {
		panic("Embedding: expect batch, sequence length and vocabulary size")
	}
	l.paramBase = newParams(queue, []int{inShape[2], l.Dim}, nil)
	l.dst = queue.NewArray(num.Float32, l.OutShape(inShape)...)
	return l
}

func (l *embedding) InitParams(rng *rand.Rand) {
	weights := make([]float32, l.w.Size())
	for i := range weights {
		weights[i] = 2*rng.Float32() - 1
	}
	l.queue.Call(num.Write(l.w, weights))
}

func (l *embedding) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	l.queue.Call(num.Lookup(in, l.w, l.dst))
	return l.dst
}

// gradient is accumulated for the looked up rows, no gradient is propagated to the input indexes
func (l *embedding) Bprop(grad num.Array) num.Array {
	l.queue.Call(num.LookupD(l.src, grad, l.dw))
	return nil
}

// convolution and max pooling layer implementation
type convPool struct {
	ConvPool
	paramBase
	filters []*filter
	src     num.Array
	dst     num.Array
	dsrc    num.Array
}

// weights and work arrays for one filter size
type filter struct {
	size   int
	steps  int
	w, b   num.Array
	dw, db num.Array
	cols   num.Array
	dcols  num.Array
	out    num.Array
	dout   num.Array
	index  num.Array
	dx     num.Array
	ones   num.Array
}

func (l *convPool) Type() string { return "convPool" }

func (l *convPool) OutShape(inShape []int) []int {
	return []int{inShape[0], len(l.Sizes) * l.Nfeats}
}

// expects inShape = [batch, seqLen, embeddingDim]
func (l *convPool) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 3 {
		panic("ConvPool: expect 3 dimensional input")
	}
	nBatch, seqLen, dim := inShape[0], inShape[1], inShape[2]
	l.paramBase = paramBase{queue: queue}
	l.filters = nil
	for _, size := range l.Sizes {
		if size > seqLen {
			panic(fmt.Sprintf("ConvPool: filter size %d larger than sequence length %d", size, seqLen))
		}
		steps := seqLen - size + 1
		f := &filter{
			size:  size,
			steps: steps,
			w:     queue.NewArray(num.Float32, size*dim, l.Nfeats),
			b:     queue.NewArray(num.Float32, l.Nfeats),
			dw:    queue.NewArray(num.Float32, size*dim, l.Nfeats),
			db:    queue.NewArray(num.Float32, l.Nfeats),
			cols:  queue.NewArray(num.Float32, nBatch*steps, size*dim),
			dcols: queue.NewArray(num.Float32, nBatch*steps, size*dim),
			out:   queue.NewArray(num.Float32, nBatch*steps, l.Nfeats),
			dout:  queue.NewArray(num.Float32, nBatch*steps, l.Nfeats),
			index: queue.NewArray(num.Int32, nBatch, l.Nfeats),
			dx:    queue.NewArray(num.Float32, inShape...),
			ones:  queue.NewArray(num.Float32, nBatch*steps),
		}
		queue.Call(num.Fill(f.ones, 1))
		l.filters = append(l.filters, f)
	}
	l.dst = queue.NewArray(num.Float32, l.OutShape(inShape)...)
	l.dsrc = queue.NewArray(num.Float32, inShape...)
	return l
}

// weights from truncated normal distribution with stddev 0.1, bias 0.1
func (l *convPool) InitParams(rng *rand.Rand) {
	for _, f := range l.filters {
		weights := make([]float32, f.w.Size())
		for i := range weights {
			weights[i] = truncNormal(rng, 0.1)
		}
		l.queue.Call(
			num.Write(f.w, weights),
			num.Fill(f.b, 0.1),
		)
	}
}

func (l *convPool) Params() []Param {
	var p []Param
	for _, f := range l.filters {
		p = append(p,
			Param{Name: fmt.Sprintf("W_%d", f.size), Value: f.w, Grad: f.dw},
			Param{Name: fmt.Sprintf("b_%d", f.size), Value: f.b, Grad: f.db},
		)
	}
	return p
}

func (l *convPool) SetParams(values []num.Array) {
	for i, f := range l.filters {
		l.queue.Call(num.Copy(f.w, values[2*i]), num.Copy(f.b, values[2*i+1]))
	}
}

func (l *convPool) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	dims := in.Dims()
	for i, f := range l.filters {
		l.queue.Call(
			num.Im2Col(in, f.cols, f.size),
			num.Copy(f.out, f.b),
			num.Gemm(1, 1, f.cols, f.w, f.out, num.NoTrans, num.NoTrans),
			num.Relu(f.out, f.out),
			num.MaxPoolTime(f.out.Reshape(dims[0], f.steps, l.Nfeats), l.dst, f.index, i*l.Nfeats),
		)
	}
	return l.dst
}

func (l *convPool) Bprop(grad num.Array) num.Array {
	dims := l.src.Dims()
	l.queue.Call(num.Fill(l.dsrc, 0))
	for i, f := range l.filters {
		l.queue.Call(
			num.MaxPoolTimeD(grad, f.index, f.dout.Reshape(dims[0], f.steps, l.Nfeats), i*l.Nfeats),
			num.ReluD(f.out, f.dout, f.dout),
			num.Gemm(1, 0, f.cols, f.dout, f.dw, num.Trans, num.NoTrans),
			num.Gemv(1, 0, f.dout, f.ones, f.db, num.Trans),
			num.Gemm(1, 0, f.dout, f.w, f.dcols, num.NoTrans, num.Trans),
			num.Col2Im(f.dcols, f.dx, f.size),
			num.Axpy(1, f.dx, l.dsrc),
		)
	}
	return l.dsrc
}

// dropout layer implementation
type dropout struct {
	Dropout
	layerBase
	mask  num.Array
	rng   *rand.Rand
	queue num.Queue
}

func (l *dropout) Type() string { return "dropout" }

func (l *dropout) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if l.Keep <= 0 || l.Keep > 1 {
		panic(fmt.Sprintf("Dropout: keep probability %g out of range", l.Keep))
	}
	l.queue = queue
	l.layerBase = newLayerBase(queue, inShape, inShape)
	l.mask = queue.NewArray(num.Float32, inShape...)
	l.rng = rand.New(rand.NewSource(rng.Int63()))
	return l
}

// inverted dropout: kept activations are scaled by 1/Keep so output is unchanged when not training
func (l *dropout) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	if !train || l.Keep == 1 {
		l.queue.Call(num.Fill(l.mask, 1))
		return in
	}
	l.queue.Call(
		num.DropoutMask(l.mask, float32(l.Keep), l.rng),
		num.Mul(in, l.mask, l.dst),
	)
	return l.dst
}

func (l *dropout) Bprop(grad num.Array) num.Array {
	l.queue.Call(num.Mul(grad, l.mask, l.dsrc))
	return l.dsrc
}

// linear layer implementation
type linear struct {
	Linear
	layerBase
	paramBase
	ones num.Array
}

func (l *linear) Type() string { return "linear" }

func (l *linear) OutShape(inShape []int) []int {
	return []int{inShape[0], l.Nout}
}

func (l *linear) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	if len(inShape) != 2 {
		panic("Linear: expect 2 dimensional input")
	}
	nBatch, nIn := inShape[0], inShape[1]
	l.layerBase = newLayerBase(queue, inShape, l.OutShape(inShape))
	l.paramBase = newParams(queue, []int{nIn, l.Nout}, []int{l.Nout})
	l.ones = queue.NewArray(num.Float32, nBatch)
	queue.Call(num.Fill(l.ones, 1))
	return l
}

// Xavier uniform weights, bias 0.1
func (l *linear) InitParams(rng *rand.Rand) {
	dims := l.w.Dims()
	limit := math.Sqrt(6 / float64(dims[0]+dims[1]))
	weights := make([]float32, l.w.Size())
	for i := range weights {
		weights[i] = float32(limit * (2*rng.Float64() - 1))
	}
	l.queue.Call(
		num.Write(l.w, weights),
		num.Fill(l.b, 0.1),
	)
}

func (l *linear) Decay() bool { return l.Linear.Decay }

func (l *linear) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	l.queue.Call(
		num.Copy(l.dst, l.b),
		num.Gemm(1, 1, l.src, l.w, l.dst, num.NoTrans, num.NoTrans),
	)
	return l.dst
}

func (l *linear) Bprop(grad num.Array) num.Array {
	l.queue.Call(
		num.Gemv(1, 0, grad, l.ones, l.db, num.Trans),
		num.Gemm(1, 0, l.src, grad, l.dw, num.Trans, num.NoTrans),
		num.Gemm(1, 0, grad, l.w, l.dsrc, num.NoTrans, num.Trans),
	)
	return l.dsrc
}

// activation layers
type activation struct {
	Activation
	layerBase
	queue num.Queue
}

func (l *activation) Type() string { return "activation" }

func (l *activation) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	l.queue = queue
	l.layerBase = newLayerBase(queue, inShape, inShape)
	return l
}

func (l *activation) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	l.queue.Call(num.Relu(l.src, l.dst))
	return l.dst
}

func (l *activation) Bprop(grad num.Array) num.Array {
	l.queue.Call(num.ReluD(l.src, grad, l.dsrc))
	return l.dsrc
}

// log regression output layer
type logRegression struct {
	layerBase
	loss  num.Array
	queue num.Queue
}

func (l *logRegression) Type() string { return "logRegression" }

func (l *logRegression) ToString() string { return "logRegression" }

func (l *logRegression) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	l.queue = queue
	l.layerBase = newLayerBase(queue, inShape, inShape)
	l.loss = queue.NewArray(num.Float32)
	return l
}

func (l *logRegression) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	l.queue.Call(num.Softmax(l.src, l.dst))
	return l.dst
}

// input gradient is wrt. the softmax input as calculated by SoftmaxGrad
func (l *logRegression) Bprop(grad num.Array) num.Array {
	return grad
}

func (l *logRegression) Loss(yOneHot, yPred num.Array, n int) num.Array {
	l.queue.Call(num.SoftmaxLoss(yPred, yOneHot, l.loss, n))
	return l.loss
}

type flatten struct {
	layerBase
}

func (l *flatten) Type() string { return "flatten" }

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{inShape[0], num.Prod(inShape[1:])}
}

func (l *flatten) Init(queue num.Queue, inShape []int, rng *rand.Rand) Layer {
	return l
}

func (l *flatten) Fprop(in num.Array, train bool) num.Array {
	l.src = in
	l.dst = in.Reshape(in.Dims()[0], -1)
	return l.dst
}

func (l *flatten) Bprop(grad num.Array) num.Array {
	l.dsrc = grad.Reshape(l.src.Dims()...)
	return l.dsrc
}

// base layer type
type layerBase struct {
	src  num.Array
	dst  num.Array
	dsrc num.Array
}

func newLayerBase(queue num.Queue, inShape, outShape []int) layerBase {
	return layerBase{
		dst:  queue.NewArray(num.Float32, outShape...),
		dsrc: queue.NewArray(num.Float32, inShape...),
	}
}

func (l layerBase) OutShape(inShape []int) []int { return inShape }

// weight and bias parameters, bias is optional
type paramBase struct {
	queue  num.Queue
	w, b   num.Array
	dw, db num.Array
}

func newParams(queue num.Queue, wShape, bShape []int) paramBase {
	p := paramBase{
		queue: queue,
		w:     queue.NewArray(num.Float32, wShape...),
		dw:    queue.NewArray(num.Float32, wShape...),
	}
	if bShape != nil {
		p.b = queue.NewArray(num.Float32, bShape...)
		p.db = queue.NewArray(num.Float32, bShape...)
	}
	return p
}

func (p paramBase) Params() []Param {
	params := []Param{{Name: "W", Value: p.w, Grad: p.dw}}
	if p.b != nil {
		params = append(params, Param{Name: "b", Value: p.b, Grad: p.db})
	}
	return params
}

func (p paramBase) SetParams(values []num.Array) {
	p.queue.Call(num.Copy(p.w, values[0]))
	if p.b != nil {
		p.queue.Call(num.Copy(p.b, values[1]))
	}
}

func (p paramBase) Decay() bool { return false }

// sample from normal distribution, discarding values more than 2 standard deviations from the mean
func truncNormal(rng *rand.Rand, stddev float64) float32 {
	for {
		x := rng.NormFloat64()
		if x > -2 && x < 2 {
			return float32(x * stddev)
		}
	}
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
