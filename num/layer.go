package num

import (
	"fmt"
	"math/rand"
)

// Lookup rows of the embedding matrix W [vocab, dim] for each token in ids [batch, seqLen].
// Output is [batch, seqLen, dim].
func Lookup(ids, W, out Array) Function {
	idim, wdim, odim := ids.Dims(), W.Dims(), out.Dims()
	if ids.Dtype() != Int32 || len(idim) != 2 || len(wdim) != 2 {
		panic("Lookup: expecting Int32 ids and 2d weights")
	}
	if !SameShape(odim, []int{idim[0], idim[1], wdim[1]}) {
		panic(fmt.Sprintf("Lookup: invalid output shape %v", odim))
	}
	return NewFunction("lookup", func(int) {
		id, w, o := i32(ids), f32(W), f32(out)
		dim, vocab := wdim[1], int32(wdim[0])
		for i, ix := range id {
			if ix < 0 || ix >= vocab {
				panic(fmt.Sprintf("Lookup: token index %d out of range", ix))
			}
			copy(o[i*dim:(i+1)*dim], w[int(ix)*dim:int(ix+1)*dim])
		}
	})
}

// LookupD accumulates the gradient for each looked up embedding row: dW is zeroed first.
func LookupD(ids, grad, dW Array) Function {
	idim, wdim := ids.Dims(), dW.Dims()
	if grad.Size() != idim[0]*idim[1]*wdim[1] {
		panic("LookupD: gradient size mismatch")
	}
	return NewFunction("lookup_d", func(int) {
		id, g, dw := i32(ids), f32(grad), f32(dW)
		dim := wdim[1]
		for i := range dw {
			dw[i] = 0
		}
		for i, ix := range id {
			row := dw[int(ix)*dim : int(ix+1)*dim]
			for j, v := range g[i*dim : (i+1)*dim] {
				row[j] += v
			}
		}
	})
}

// Im2Col unpacks each window of size consecutive rows in x [batch, seqLen, dim] into a row of
// cols [batch*(seqLen-size+1), size*dim] ready for matrix multiplication with the filter.
func Im2Col(x, cols Array, size int) Function {
	xdim := x.Dims()
	if len(xdim) != 3 {
		panic("Im2Col: expect 3d input")
	}
	nbatch, seqLen, dim := xdim[0], xdim[1], xdim[2]
	nout := seqLen - size + 1
	if nout < 1 {
		panic(fmt.Sprintf("Im2Col: filter size %d larger than sequence length %d", size, seqLen))
	}
	if !SameShape(cols.Dims(), []int{nbatch * nout, size * dim}) {
		panic(fmt.Sprintf("Im2Col: invalid output shape %v", cols.Dims()))
	}
	return NewFunction("im2col", func(threads int) {
		src, dst := f32(x), f32(cols)
		width := size * dim
		Parallel(threads, nbatch, func(b int) {
			for t := 0; t < nout; t++ {
				from := (b*seqLen + t) * dim
				copy(dst[(b*nout+t)*width:(b*nout+t+1)*width], src[from:from+width])
			}
		})
	})
}

// Col2Im is the reverse of Im2Col: overlapping windows are summed into dx which is zeroed first.
func Col2Im(cols, dx Array, size int) Function {
	xdim := dx.Dims()
	if len(xdim) != 3 {
		panic("Col2Im: expect 3d output")
	}
	nbatch, seqLen, dim := xdim[0], xdim[1], xdim[2]
	nout := seqLen - size + 1
	if !SameShape(cols.Dims(), []int{nbatch * nout, size * dim}) {
		panic(fmt.Sprintf("Col2Im: invalid input shape %v", cols.Dims()))
	}
	return NewFunction("col2im", func(threads int) {
		src, dst := f32(cols), f32(dx)
		width := size * dim
		Parallel(threads, nbatch, func(b int) {
			out := dst[b*seqLen*dim : (b+1)*seqLen*dim]
			for i := range out {
				out[i] = 0
			}
			for t := 0; t < nout; t++ {
				row := src[(b*nout+t)*width : (b*nout+t+1)*width]
				win := out[t*dim : t*dim+width]
				for i, v := range row {
					win[i] += v
				}
			}
		})
	})
}

// MaxPoolTime takes the maximum over the time dimension of in [batch, steps, feats] and writes it to
// columns offset:offset+feats of out [batch, total]. The position of each maximum is saved in index.
func MaxPoolTime(in, out, index Array, offset int) Function {
	idim, odim := in.Dims(), out.Dims()
	if len(idim) != 3 || len(odim) != 2 || idim[0] != odim[0] || offset+idim[2] > odim[1] {
		panic(fmt.Sprintf("MaxPoolTime: invalid shape %v => %v", idim, odim))
	}
	if index.Dtype() != Int32 || !SameShape(index.Dims(), []int{idim[0], idim[2]}) {
		panic("MaxPoolTime: invalid index array")
	}
	return NewFunction("maxpool_time", func(threads int) {
		src, dst, ix := f32(in), f32(out), i32(index)
		steps, feats, total := idim[1], idim[2], odim[1]
		Parallel(threads, idim[0], func(b int) {
			base := b * steps * feats
			for f := 0; f < feats; f++ {
				best := 0
				max := src[base+f]
				for t := 1; t < steps; t++ {
					if v := src[base+t*feats+f]; v > max {
						max, best = v, t
					}
				}
				dst[b*total+offset+f] = max
				ix[b*feats+f] = int32(best)
			}
		})
	})
}

// MaxPoolTimeD routes the gradient from grad [batch, total] back to the saved max positions in dIn.
func MaxPoolTimeD(grad, index, dIn Array, offset int) Function {
	gdim, idim := grad.Dims(), dIn.Dims()
	if len(idim) != 3 || len(gdim) != 2 || idim[0] != gdim[0] || offset+idim[2] > gdim[1] {
		panic(fmt.Sprintf("MaxPoolTimeD: invalid shape %v => %v", gdim, idim))
	}
	return NewFunction("maxpool_time_d", func(threads int) {
		g, ix, dst := f32(grad), i32(index), f32(dIn)
		steps, feats, total := idim[1], idim[2], gdim[1]
		Parallel(threads, idim[0], func(b int) {
			out := dst[b*steps*feats : (b+1)*steps*feats]
			for i := range out {
				out[i] = 0
			}
			for f := 0; f < feats; f++ {
				t := int(ix[b*feats+f])
				out[t*feats+f] = g[b*total+offset+f]
			}
		})
	})
}

// DropoutMask fills mask with 1/keep with probability keep, else zero.
func DropoutMask(mask Array, keep float32, rng *rand.Rand) Function {
	if keep <= 0 || keep > 1 {
		panic(fmt.Sprintf("DropoutMask: keep probability %g out of range", keep))
	}
	return NewFunction("dropout_mask", func(int) {
		m := f32(mask)
		scale := 1 / keep
		for i := range m {
			if rng.Float32() < keep {
				m[i] = scale
			} else {
				m[i] = 0
			}
		}
	})
}
