// Package num contains numeric Array processing routines such as optimised matix multiplication.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Data type of an element of the array
type DataType int

const (
	Int32 DataType = iota
	Float32
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Read data from array into a slice.
func Read(a Array, data interface{}) Function {
	return NewFunction("read", func(int) {
		switch d := data.(type) {
		case []float32:
			copy(d, f32(a))
		case []int32:
			copy(d, i32(a))
		default:
			panic(fmt.Sprintf("Read: invalid type %T", data))
		}
	})
}

// Write data from a slice into the given array.
func Write(a Array, data interface{}) Function {
	return NewFunction("write", func(int) {
		switch d := data.(type) {
		case []float32:
			copy(f32(a), d)
		case []int32:
			copy(i32(a), d)
		default:
			panic(fmt.Sprintf("Write: invalid type %T", data))
		}
	})
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return NewFunction("fill", func(int) {
		if a.Dtype() == Int32 {
			x := i32(a)
			for i := range x {
				x[i] = int32(scalar)
			}
			return
		}
		x := f32(a)
		for i := range x {
			x[i] = scalar
		}
	})
}

// Copy from src to dst, broadcast vector to matrix if needed, vector is tiled row wise
func Copy(dst, src Array) Function {
	if src.Dtype() != dst.Dtype() {
		panic("Copy: arguments must be same type")
	}
	ddim, sdim := dst.Dims(), src.Dims()
	switch {
	case dst.Size() == src.Size():
		return NewFunction("copy", func(int) {
			if src.Dtype() == Int32 {
				copy(i32(dst), i32(src))
			} else {
				copy(f32(dst), f32(src))
			}
		})
	case len(sdim) == 1 && len(ddim) == 2 && sdim[0] == ddim[1] && src.Dtype() == Float32:
		return NewFunction("tile", func(int) {
			d, s := f32(dst), f32(src)
			for row := 0; row < ddim[0]; row++ {
				copy(d[row*ddim[1]:(row+1)*ddim[1]], s)
			}
		})
	default:
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
	}
}

// Count number of matching entries in the first n elements of the pred and label vectors.
func Correct(pred, labels, total Array, n int) Function {
	if pred.Dtype() != Int32 || labels.Dtype() != Int32 || total.Dtype() != Float32 {
		panic("Correct: incorrect datatype")
	}
	if !SameShape(pred.Dims(), labels.Dims()) || n > pred.Size() {
		panic("Correct: arrays must be same shape")
	}
	return NewFunction("correct", func(int) {
		p, l := i32(pred), i32(labels)
		count := 0
		for i := 0; i < n; i++ {
			if p[i] == l[i] {
				count++
			}
		}
		f32(total)[0] = float32(count)
	})
}

// Convert to one hot representation
func Onehot(x, y Array, classes int) Function {
	if x.Dtype() != Int32 || y.Dtype() != Float32 {
		panic("Onehot: incorrect datatype")
	}
	xdim, ydim := x.Dims(), y.Dims()
	if len(xdim) != 1 || len(ydim) != 2 || xdim[0] != ydim[0] || ydim[1] != classes {
		panic("Onehot: invalid array shape")
	}
	return NewFunction("onehot", func(int) {
		src, dst := i32(x), f32(y)
		for i := range dst {
			dst[i] = 0
		}
		for row, class := range src {
			if class >= 0 && int(class) < classes {
				dst[row*classes+int(class)] = 1
			}
		}
	})
}

// Convert from OneHot format back to labels
func Unhot(x, y Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Int32 {
		panic("Unhot: incorrect datatype")
	}
	xdim, ydim := x.Dims(), y.Dims()
	if len(xdim) != 2 || len(ydim) != 1 || xdim[0] != ydim[0] {
		panic("Unhot: invalid array shape")
	}
	return NewFunction("unhot", func(int) {
		src, dst := f32(x), i32(y)
		cols := xdim[1]
		for row := range dst {
			best := 0
			for col := 1; col < cols; col++ {
				if src[row*cols+col] > src[row*cols+best] {
					best = col
				}
			}
			dst[row] = int32(best)
		}
	})
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Axpy: dtype must by Float32")
	}
	if x.Size() != y.Size() {
		panic("Axpy: arrays must be same size")
	}
	return NewFunction("axpy", func(int) {
		blas32.Axpy(alpha, vector(f32(x)), vector(f32(y)))
	})
}

// Element wise multiplication: z <- x * y
func Mul(x, y, z Array) Function {
	if x.Size() != z.Size() || y.Size() != z.Size() {
		panic("Mul: arrays must be same size")
	}
	return NewFunction("mul", func(int) {
		a, b, c := f32(x), f32(y), f32(z)
		for i := range c {
			c[i] = a[i] * b[i]
		}
	})
}

// Calculate the sum of the squares of the values in the array and add to total.
func SumSq(a, total Array) Function {
	if len(total.Dims()) != 0 || total.Dtype() != Float32 {
		panic("SumSq: result type should be float32 scalar")
	}
	return NewFunction("sumsq", func(int) {
		var sum float64
		for _, v := range f32(a) {
			sum += float64(v) * float64(v)
		}
		f32(total)[0] += float32(sum)
	})
}

// Matrix vector multiplication: y <- alpha*dot(mA,x) + beta*y
func Gemv(alpha, beta float32, mA, x, y Array, aTrans TransType) Function {
	if mA.Dtype() != Float32 || x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Gemv: dtype must by Float32")
	}
	adim, xdim, ydim := mA.Dims(), x.Dims(), y.Dims()
	if len(adim) != 2 || len(xdim) != 1 || len(ydim) != 1 {
		panic("Gemv: must have matrix and vector inputs")
	}
	m, n := adim[0], adim[1]
	if aTrans == Trans {
		if xdim[0] != m || ydim[0] != n {
			panic("Gemv: incorrect vector size")
		}
	} else {
		if xdim[0] != n || ydim[0] != m {
			panic("Gemv: incorrect vector size")
		}
	}
	return NewFunction("gemv", func(int) {
		blas32.Gemv(aTrans.blas(), alpha, general(mA), vector(f32(x)), beta, vector(f32(y)))
	})
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	if mA.Dtype() != Float32 || mB.Dtype() != Float32 || mC.Dtype() != Float32 {
		panic("Gemm: dtype must by Float32")
	}
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	return NewFunction("gemm", func(int) {
		blas32.Gemm(aTrans.blas(), bTrans.blas(), alpha, general(mA), general(mB), beta, general(mC))
	})
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y Array) Function {
	return unaryFunc("relu", x, y, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	})
}

// ReluD is the relu derivative: y = grad if x > 0 else 0
func ReluD(x, grad, y Array) Function {
	return binaryFunc("relu_d", x, grad, y, func(x, g float32) float32 {
		if x > 0 {
			return g
		}
		return 0
	})
}

// Softmax activation function applied to each row of the input
func Softmax(x, res Array) Function {
	if x.Dtype() != Float32 || res.Dtype() != Float32 {
		panic("Softmax: dtype must by Float32")
	}
	xdim, rdim := x.Dims(), res.Dims()
	if len(xdim) != 2 || !SameShape(xdim, rdim) {
		panic("Softmax: arrays must be 2d and same shape")
	}
	return NewFunction("softmax", func(int) {
		src, dst := f32(x), f32(res)
		cols := xdim[1]
		for row := 0; row < xdim[0]; row++ {
			in, out := src[row*cols:(row+1)*cols], dst[row*cols:(row+1)*cols]
			max := in[0]
			for _, v := range in[1:] {
				if v > max {
					max = v
				}
			}
			var sum float64
			for i, v := range in {
				e := math.Exp(float64(v - max))
				out[i] = float32(e)
				sum += e
			}
			for i := range out {
				out[i] = float32(float64(out[i]) / sum)
			}
		}
	})
}

// SoftmaxLoss calculates the mean cross entropy loss over the first n rows of the predicted probabilities.
func SoftmaxLoss(yPred, yOneHot, loss Array, n int) Function {
	if yPred.Dtype() != Float32 || yOneHot.Dtype() != Float32 || loss.Dtype() != Float32 {
		panic("SoftmaxLoss: dtype must by Float32")
	}
	pdim, ydim := yPred.Dims(), yOneHot.Dims()
	if len(pdim) != 2 || !SameShape(pdim, ydim) || len(loss.Dims()) != 0 {
		panic("SoftmaxLoss: arrays must be 2d and same shape with scalar output")
	}
	if n < 1 || n > pdim[0] {
		panic(fmt.Sprintf("SoftmaxLoss: invalid row count %d", n))
	}
	return NewFunction("softmax_loss", func(int) {
		p, y := f32(yPred), f32(yOneHot)
		var sum float64
		for i := 0; i < n*pdim[1]; i++ {
			if y[i] != 0 {
				sum -= float64(y[i]) * math.Log(math.Max(float64(p[i]), 1e-30))
			}
		}
		f32(loss)[0] = float32(sum / float64(n))
	})
}

// SoftmaxGrad calculates gradient of mean cross entropy loss wrt. softmax inputs: (yPred - yOneHot) / n
// for the first n rows. Remaining rows are set to zero.
func SoftmaxGrad(yPred, yOneHot, grad Array, n int) Function {
	pdim := yPred.Dims()
	if !SameShape(pdim, yOneHot.Dims()) || !SameShape(pdim, grad.Dims()) || len(pdim) != 2 {
		panic("SoftmaxGrad: arrays must be 2d and same shape")
	}
	if n < 1 || n > pdim[0] {
		panic(fmt.Sprintf("SoftmaxGrad: invalid row count %d", n))
	}
	return NewFunction("softmax_grad", func(int) {
		p, y, g := f32(yPred), f32(yOneHot), f32(grad)
		scale := 1 / float32(n)
		end := n * pdim[1]
		for i := 0; i < end; i++ {
			g[i] = (p[i] - y[i]) * scale
		}
		for i := end; i < len(g); i++ {
			g[i] = 0
		}
	})
}

// Adam optimiser step: updates moments m and v and weights w given gradient dw.
// lr should already include the bias correction for the current step.
func Adam(w, dw, m, v Array, lr, beta1, beta2, eps float32) Function {
	if w.Size() != dw.Size() || w.Size() != m.Size() || w.Size() != v.Size() {
		panic("Adam: arrays must be same size")
	}
	return NewFunction("adam", func(threads int) {
		W, dW, M, V := f32(w), f32(dw), f32(m), f32(v)
		chunks := chunk(len(W), threads)
		Parallel(threads, len(chunks)-1, func(c int) {
			for i := chunks[c]; i < chunks[c+1]; i++ {
				g := dW[i]
				M[i] = beta1*M[i] + (1-beta1)*g
				V[i] = beta2*V[i] + (1-beta2)*g*g
				W[i] -= lr * M[i] / (float32(math.Sqrt(float64(V[i]))) + eps)
			}
		})
	})
}

func unaryFunc(name string, x, y Array, fn func(float32) float32) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("UnaryFunc: dtype must by Float32")
	}
	if x.Size() != y.Size() {
		panic("UnaryFunc: arrays must be same size")
	}
	return NewFunction(name, func(int) {
		src, dst := f32(x), f32(y)
		for i, v := range src {
			dst[i] = fn(v)
		}
	})
}

func binaryFunc(name string, x, y, z Array, fn func(x, y float32) float32) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 || z.Dtype() != Float32 {
		panic("BinaryFunc: dtype must by Float32")
	}
	if x.Size() != z.Size() || y.Size() != z.Size() {
		panic("BinaryFunc: arrays must be same size")
	}
	return NewFunction(name, func(int) {
		a, b, c := f32(x), f32(y), f32(z)
		for i := range c {
			c[i] = fn(a[i], b[i])
		}
	})
}

func general(a Array) blas32.General {
	dims := a.Dims()
	return blas32.General{Rows: dims[0], Cols: dims[1], Stride: dims[1], Data: f32(a)}
}

func vector(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

// split n items into at most parts contiguous chunks, returns the boundaries
func chunk(n, parts int) []int {
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	if parts == 0 {
		return []int{0, 0}
	}
	bounds := make([]int, parts+1)
	for i := range bounds {
		bounds[i] = i * n / parts
	}
	return bounds
}
