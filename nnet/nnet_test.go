package nnet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/jnb666/textcnn/num"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	seqLen    = 6
	vocabSize = 10
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// random token sequences with trailing padding, label is 1 if token 2 is present
func testData(samples int, rng *rand.Rand) Data {
	labels := make([]int32, samples)
	inputs := make([]int32, samples*seqLen)
	texts := make([]string, samples)
	for i := range labels {
		words := 2 + rng.Intn(seqLen-1)
		for j := 0; j < words; j++ {
			tok := int32(2 + rng.Intn(vocabSize-2))
			inputs[i*seqLen+j] = tok
			if tok == 2 {
				labels[i] = 1
			}
		}
		texts[i] = "sample"
	}
	return NewData([]string{"negative", "positive"}, seqLen, vocabSize, labels, inputs, texts)
}

func testConfig() Config {
	c := DefaultConfig()
	c.EmbeddingDim = 3
	c.FilterSizes = "2,3"
	c.NumFilters = 2
	c.DropoutKeep = 1
	c.Lambda = 0
	c.Eta = 0.01
	c.TrainBatch = 8
	c.TestBatch = 5
	c, err := c.TextCNN()
	if err != nil {
		panic(err)
	}
	return c
}

func newTestNet(t *testing.T, q num.Queue, conf Config, data Data, batch int, seed int64) *Network {
	rng := rand.New(rand.NewSource(seed))
	net, err := New(q, conf, batch, data, rng)
	require.NoError(t, err)
	net.InitWeights(rng)
	t.Cleanup(net.Release)
	return net
}

func readArray(q num.Queue, a num.Array) []float32 {
	data := make([]float32, a.Size())
	q.Call(num.Read(a, data)).Finish()
	return data
}

func TestNetworkLayers(t *testing.T) {
	q := num.NewDevice().NewQueue(1)
	defer q.Shutdown()
	net := newTestNet(t, q, testConfig(), testData(4, rand.New(rand.NewSource(1))), 4, 42)
	t.Log(net)
	assert.Equal(t, []string{
		"embedding0/W",
		"convPool1/W_2", "convPool1/b_2", "convPool1/W_3", "convPool1/b_3",
		"linear3/W", "linear3/b",
	}, net.ParamNames())
	params := net.Params()
	assert.Equal(t, []int{vocabSize, 3}, params[0].Value.Dims())
	assert.Equal(t, []int{2 * 3, 2}, params[1].Value.Dims())
	assert.Equal(t, []int{4, 2}, params[5].Value.Dims())
	for _, val := range readArray(q, params[2].Value) {
		assert.InDelta(t, 0.1, val, 1e-6)
	}
	for _, val := range readArray(q, params[1].Value) {
		assert.True(t, val > -0.2 && val < 0.2, "truncated normal weight %g", val)
	}
	for _, val := range readArray(q, params[0].Value) {
		assert.True(t, val >= -1 && val < 1, "embedding weight %g", val)
	}
	assert.Equal(t, 4, net.BatchSize())
}

func TestNetworkErrors(t *testing.T) {
	q := num.NewDevice().NewQueue(1)
	defer q.Shutdown()
	data := testData(4, rand.New(rand.NewSource(1)))
	rng := rand.New(rand.NewSource(1))

	conf := DefaultConfig()
	_, err := New(q, conf, 4, data, rng)
	assert.Error(t, err, "no layers")

	conf = DefaultConfig().AddLayers(Embedding{Dim: 3}, ConvPool{Sizes: []int{7}, Nfeats: 2}, Linear{}, LogRegression{})
	_, err = New(q, conf, 4, data, rng)
	assert.ErrorContains(t, err, "filter size 7")

	conf = DefaultConfig().AddLayers(Flatten{}, Linear{}, LogRegression{})
	_, err = New(q, conf, 4, data, rng)
	assert.ErrorContains(t, err, "embedding must be the first")

	conf = DefaultConfig().AddLayers(Embedding{Dim: 3}, ConvPool{Sizes: []int{2}, Nfeats: 2}, Linear{})
	_, err = New(q, conf, 4, data, rng)
	assert.ErrorContains(t, err, "logRegression")

	conf = DefaultConfig().AddLayers(Embedding{Dim: 3}, ConvPool{Sizes: []int{2}, Nfeats: 2}, Dropout{Keep: 0}, Linear{}, LogRegression{})
	_, err = New(q, conf, 4, data, rng)
	assert.ErrorContains(t, err, "keep probability")

	conf = DefaultConfig()
	conf.Layers = []LayerConfig{{Type: "conv2d"}}
	_, err = New(q, conf, 4, data, rng)
	assert.ErrorContains(t, err, "invalid layer type")
}

// compare analytic gradients from Bprop with central differences of the loss
func TestGradients(t *testing.T) {
	const (
		samples = 6
		eps     = 5e-3
		tol     = 5e-3
	)
	q := num.NewDevice().NewQueue(1)
	defer q.Shutdown()
	data := testData(samples, rand.New(rand.NewSource(2)))
	dset := NewDataset(q.Dev(), data, samples, rand.New(rand.NewSource(2)))
	defer dset.Release()
	net := newTestNet(t, q, testConfig(), data, samples, 3)
	x, _, yOneHot, n := dset.GetBatch(q, 0)
	require.Equal(t, samples, n)

	yPred := net.Fprop(x, true)
	net.OutLayer().Loss(yOneHot, yPred, n)
	q.Call(num.SoftmaxGrad(yPred, yOneHot, net.inputGrad, n))
	net.Bprop(net.inputGrad)

	lossAt := func() float64 {
		yPred := net.Fprop(x, false)
		return float64(readArray(q, net.OutLayer().Loss(yOneHot, yPred, n))[0])
	}
	for _, p := range net.Params() {
		grad := readArray(q, p.Grad)
		values := readArray(q, p.Value)
		failed := 0
		for i := range values {
			save := values[i]
			values[i] = save + eps
			q.Call(num.Write(p.Value, values))
			lossPlus := lossAt()
			values[i] = save - eps
			q.Call(num.Write(p.Value, values))
			lossMinus := lossAt()
			values[i] = save
			q.Call(num.Write(p.Value, values))
			numeric := (lossPlus - lossMinus) / (2 * eps)
			if math.Abs(numeric-float64(grad[i])) > tol+0.05*math.Abs(numeric) {
				t.Logf("%s[%d]: numeric %g analytic %g", p.Name, i, numeric, grad[i])
				failed++
			}
		}
		// allow for the odd relu or max pool switch within eps
		assert.LessOrEqual(t, failed, 2, "gradient mismatch for %s", p.Name)
	}
}

func TestL2Loss(t *testing.T) {
	q := num.NewDevice().NewQueue(1)
	defer q.Shutdown()
	conf := testConfig()
	conf.Lambda = 0.1
	net := newTestNet(t, q, conf, testData(4, rand.New(rand.NewSource(1))), 4, 5)
	var expect float64
	for _, p := range net.Params() {
		if p.Name == "linear3/W" || p.Name == "linear3/b" {
			for _, v := range readArray(q, p.Value) {
				expect += 0.5 * float64(v) * float64(v)
			}
		}
	}
	assert.InDelta(t, expect, net.L2Loss(), 1e-5)
}

func TestEvaluate(t *testing.T) {
	q := num.NewDevice().NewQueue(1)
	defer q.Shutdown()
	data := testData(7, rand.New(rand.NewSource(4)))
	dset := NewDataset(q.Dev(), data, 3, rand.New(rand.NewSource(4)))
	defer dset.Release()
	net := newTestNet(t, q, testConfig(), data, 3, 6)
	pred := make([]int32, dset.Samples)
	loss, acc := net.Evaluate(dset, pred)
	assert.True(t, loss > 0, "loss %g", loss)
	assert.True(t, acc >= 0 && acc <= 1, "accuracy %g", acc)

	labels := make([]int32, dset.Samples)
	index := make([]int, dset.Samples)
	for i := range index {
		index[i] = i
	}
	data.Label(index, labels)
	correct := 0
	for i, p := range pred {
		assert.True(t, p == 0 || p == 1)
		if p == labels[i] {
			correct++
		}
	}
	assert.InDelta(t, float64(correct)/7, acc, 1e-6)
}

func TestNewRand(t *testing.T) {
	a, b := NewRand(99), NewRand(99)
	assert.Equal(t, a.Int63(), b.Int63())
	assert.NotNil(t, NewRand(0))
}
