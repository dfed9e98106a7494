package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestArray(t *testing.T) {
	xd := []float32{1, 1, 2, 2, 3, 3}
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(Float32, 6)
	if typ := x.Dtype(); typ != Float32 {
		t.Error("dtype invalid: got", typ)
	}
	x = x.Reshape(2, -1)
	if dim := x.Dims(); !reflect.DeepEqual(dim, []int{2, 3}) {
		t.Error("dims invalid: got", dim)
	}
	res := make([]float32, 6)
	q.Call(
		Write(x, xd),
		Read(x, res),
	).Finish()
	if !reflect.DeepEqual(res, xd) {
		t.Error("got", res, "expect", xd)
	}
	t.Logf("x\n%s", x.String(q))
}

func TestCopy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 3)
	res := make([]float32, 6)
	q.Call(
		Write(y, []float32{3, 2, 1}),
		Copy(x, y),
		Read(x, res),
	).Finish()
	expect := []float32{3, 2, 1, 3, 2, 1}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestOnehot(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	y := dev.NewArray(Int32, 4)
	y1h := dev.NewArray(Float32, 4, 3)
	res := make([]float32, 12)
	vec := []int32{2, 1, 0, 2}
	q.Call(
		Write(y, vec),
		Onehot(y, y1h, 3),
		Read(y1h, res),
	).Finish()
	t.Logf("y1hot %s\n%s", y.String(q), y1h.String(q))
	expect := []float32{0, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0, 1}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	res2 := make([]int32, 4)
	q.Call(
		Unhot(y1h, y),
		Read(y, res2),
	).Finish()
	if !reflect.DeepEqual(res2, vec) {
		t.Error("got", res2, "expect", vec)
	}
}

func TestCorrect(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	pred := dev.NewArray(Int32, 5)
	labels := dev.NewArray(Int32, 5)
	total := dev.NewArray(Float32)
	res := []float32{0}
	q.Call(
		Write(pred, []int32{1, 0, 1, 1, 0}),
		Write(labels, []int32{1, 1, 1, 0, 0}),
		Correct(pred, labels, total, 3),
		Read(total, res),
	).Finish()
	if res[0] != 2 {
		t.Error("got", res[0], "expect", 2)
	}
}

func TestAxpy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 2, 3)
	res := make([]float32, 6)
	q.Call(
		Write(x, []float32{1, 1, 2, 2, 3, 3}),
		Write(y, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}),
		Axpy(2, x, y),
		Read(y, res),
	).Finish()
	expect := []float32{2.5, 2.5, 4.5, 4.5, 6.5, 6.5}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestSum(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(Float32, 2, 3)
	q.Call(Write(x, []float32{1, 2, 3, 4, 5, 6}))
	// sum for each column
	sum := dev.NewArray(Float32, 3)
	res := make([]float32, 3)
	ones := dev.NewArray(Float32, 2)
	q.Call(
		Fill(ones, 1),
		Gemv(1, 0, x, ones, sum, Trans),
		Read(sum, res),
	).Finish()
	expect := []float32{5, 7, 9}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	// sum of squares accumulates
	sq := dev.NewArray(Float32)
	q.Call(
		Fill(sq, 1),
		SumSq(x, sq),
		Read(sq, res[:1]),
	).Finish()
	if res[0] != 92 {
		t.Error("got", res[0], "expect", 92)
	}
}

func TestGemm(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 3, 2)
	z := dev.NewArray(Float32, 2, 2)
	q.Call(Write(x, []float32{1, 2, 3, 4, 5, 6}))
	res := make([]float32, 4)
	for _, trans := range []TransType{NoTrans, Trans} {
		if trans == Trans {
			y = y.Reshape(2, 3)
			q.Call(Write(y, []float32{7, 9, 11, 8, 10, 12}))
		} else {
			q.Call(Write(y, []float32{7, 8, 9, 10, 11, 12}))
		}
		q.Call(
			Gemm(1, 0, x, y, z, NoTrans, trans),
			Read(z, res),
		).Finish()
		expect := []float32{58, 64, 139, 154}
		if !reflect.DeepEqual(res, expect) {
			t.Error("got", res, "expect", expect)
		}
	}
}

func TestSoftmax(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(Float32, 2, 2)
	p := dev.NewArray(Float32, 2, 2)
	y := dev.NewArray(Float32, 2, 2)
	loss := dev.NewArray(Float32)
	grad := dev.NewArray(Float32, 2, 2)
	res := make([]float32, 4)
	lossVal := []float32{0}
	q.Call(
		Write(x, []float32{0, 0, 1000, 1000 + float32(math.Log(3))}),
		Write(y, []float32{1, 0, 0, 1}),
		Softmax(x, p),
		Read(p, res),
		SoftmaxLoss(p, y, loss, 1),
		Read(loss, lossVal),
	).Finish()
	expect := []float32{0.5, 0.5, 0.25, 0.75}
	for i := range res {
		if abs(res[i]-expect[i]) > 1e-4 {
			t.Fatal("softmax got", res, "expect", expect)
		}
	}
	if abs(lossVal[0]-float32(math.Log(2))) > 1e-5 {
		t.Error("loss got", lossVal[0], "expect", math.Log(2))
	}
	q.Call(
		SoftmaxGrad(p, y, grad, 1),
		Read(grad, res),
	).Finish()
	expect = []float32{-0.5, 0.5, 0, 0}
	if !reflect.DeepEqual(res, expect) {
		t.Error("grad got", res, "expect", expect)
	}
}

func TestProfile(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(2)
	q.Profiling(true)
	x := dev.NewArray(Float32, 10)
	for i := 0; i < 3; i++ {
		q.Call(Fill(x, float32(i)), Axpy(2, x, x))
	}
	q.Finish()
	prof := q.Profile()
	t.Log("\n" + prof)
	if len(prof) == 0 {
		t.Error("expecting profile output")
	}
}

func randSlice(n int) []float32 {
	res := make([]float32, n)
	for i := range res {
		res[i] = float32(rand.Intn(20))
	}
	return res
}

func BenchmarkGemm(b *testing.B) {
	size := 100
	dev := NewDevice()
	q := dev.NewQueue(4)
	x := dev.NewArray(Float32, size, size)
	y := dev.NewArray(Float32, size, size)
	z := dev.NewArray(Float32, size, size)
	q.Call(
		Write(x, randSlice(size*size)),
		Write(y, randSlice(size*size)),
	).Finish()
	for i := 0; i < b.N; i++ {
		q.Call(Gemm(1, 0, x, y, z, NoTrans, NoTrans)).Finish()
	}
}
