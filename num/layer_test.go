package num

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	ids := dev.NewArray(Int32, 2, 3)
	W := dev.NewArray(Float32, 4, 2)
	out := dev.NewArray(Float32, 2, 3, 2)
	dW := dev.NewArrayLike(W)
	res := make([]float32, 12)
	q.Call(
		Write(ids, []int32{0, 1, 3, 3, 3, 2}),
		Write(W, []float32{0, 0, 1, 1, 2, 2, 3, 3}),
		Lookup(ids, W, out),
		Read(out, res),
	).Finish()
	assert.Equal(t, []float32{0, 0, 1, 1, 3, 3, 3, 3, 3, 3, 2, 2}, res)

	grad := make([]float32, 12)
	for i := range grad {
		grad[i] = 1
	}
	dres := make([]float32, 8)
	q.Call(
		Write(out, grad),
		LookupD(ids, out, dW),
		Read(dW, dres),
	).Finish()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 3, 3}, dres)
}

func TestLookupOutOfRange(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	ids := dev.NewArray(Int32, 1, 1)
	W := dev.NewArray(Float32, 2, 2)
	out := dev.NewArray(Float32, 1, 1, 2)
	assert.Panics(t, func() {
		q.Call(Write(ids, []int32{5}), Lookup(ids, W, out)).Finish()
	})
}

func TestIm2Col(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(2)
	// 2 samples, 4 steps, 2 dims
	x := dev.NewArray(Float32, 2, 4, 2)
	cols := dev.NewArray(Float32, 2*3, 2*2)
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	res := make([]float32, 24)
	q.Call(
		Write(x, data),
		Im2Col(x, cols, 2),
		Read(cols, res),
	).Finish()
	expect := []float32{
		0, 1, 2, 3,
		2, 3, 4, 5,
		4, 5, 6, 7,
		8, 9, 10, 11,
		10, 11, 12, 13,
		12, 13, 14, 15,
	}
	assert.Equal(t, expect, res)

	// col2im sums the overlapping windows
	ones := make([]float32, 24)
	for i := range ones {
		ones[i] = 1
	}
	dx := dev.NewArrayLike(x)
	back := make([]float32, 16)
	q.Call(
		Write(cols, ones),
		Col2Im(cols, dx, 2),
		Read(dx, back),
	).Finish()
	expect = []float32{1, 1, 2, 2, 2, 2, 1, 1, 1, 1, 2, 2, 2, 2, 1, 1}
	assert.Equal(t, expect, back)
}

func TestIm2ColTooShort(t *testing.T) {
	dev := NewDevice()
	x := dev.NewArray(Float32, 1, 2, 3)
	cols := dev.NewArray(Float32, 1, 9)
	assert.Panics(t, func() { Im2Col(x, cols, 3) })
}

func TestMaxPoolTime(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	// 2 samples, 3 steps, 2 features, written at offset 1 of a 4 column output
	in := dev.NewArray(Float32, 2, 3, 2)
	out := dev.NewArray(Float32, 2, 4)
	index := dev.NewArray(Int32, 2, 2)
	res := make([]float32, 8)
	ix := make([]int32, 4)
	q.Call(
		Write(in, []float32{1, 6, 5, 2, 3, 4, -1, -2, -3, 0, -5, -4}),
		MaxPoolTime(in, out, index, 1),
		Read(out, res),
		Read(index, ix),
	).Finish()
	assert.Equal(t, []float32{0, 5, 6, 0, 0, -1, 0, 0}, res)
	assert.Equal(t, []int32{1, 0, 0, 1}, ix)

	grad := dev.NewArray(Float32, 2, 4)
	dIn := dev.NewArrayLike(in)
	dres := make([]float32, 12)
	q.Call(
		Write(grad, []float32{9, 1, 2, 9, 9, 3, 4, 9}),
		MaxPoolTimeD(grad, index, dIn, 1),
		Read(dIn, dres),
	).Finish()
	assert.Equal(t, []float32{0, 2, 1, 0, 0, 0, 3, 0, 0, 4, 0, 0}, dres)
}

func TestDropoutMask(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	mask := dev.NewArray(Float32, 10000)
	rng := rand.New(rand.NewSource(1))
	res := make([]float32, 10000)
	q.Call(
		DropoutMask(mask, 0.5, rng),
		Read(mask, res),
	).Finish()
	var sum float64
	for _, v := range res {
		sum += float64(v)
	}
	// expected value of each element is 1
	assert.InDelta(t, 1.0, sum/10000, 0.05)
	require.Panics(t, func() { DropoutMask(mask, 0, rng) })
}

func TestAdam(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(3)
	w := dev.NewArray(Float32, 5)
	dw := dev.NewArray(Float32, 5)
	m := dev.NewArray(Float32, 5)
	v := dev.NewArray(Float32, 5)
	res := make([]float32, 5)
	grads := []float32{1, -1, 2, -2, 0.5}
	q.Call(
		Fill(w, 1),
		Write(dw, grads),
		Adam(w, dw, m, v, 0.01, 0.9, 0.999, 1e-8),
		Read(w, res),
	).Finish()
	for i, g := range grads {
		mv := 0.1 * float64(g)
		vv := 0.001 * float64(g) * float64(g)
		expect := 1 - 0.01*mv/(math.Sqrt(vv)+1e-8)
		assert.InDelta(t, expect, res[i], 1e-5)
	}
}
