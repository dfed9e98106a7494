package web

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jnb666/textcnn/nnet"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	maxImageRows  = 256
	factorMinBias = 32
	aspectBias    = 0.25
)

var cmap = [][3]float32{{0, 0, .5}, {0, 0, 1}, {0, .5, 1}, {0, 1, 1}, {.5, 1, .5}, {1, 1, 0}, {1, .5, 0}, {1, 0, 0}, {.5, 0, 0}}

type WeightsPage struct {
	*Templates
	Params []ParamInfo
	net    *Network
}

// ParamInfo has summary statistics for a network parameter.
type ParamInfo struct {
	Index int
	Name  string
	Dims  []int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
	Image string
}

// Base data for handler functions to view the network weights
func NewWeightsPage(t *Templates, net *Network) *WeightsPage {
	p := &WeightsPage{net: net}
	p.Templates = t.Clone().Select("/weights")
	return p
}

// Handler function for the weights page
func (p *WeightsPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		p.Params = p.Params[:0]
		if c := p.net.Weights; c != nil {
			for i, param := range c.Params {
				p.Params = append(p.Params, paramInfo(i, param))
			}
		}
		p.Exec(w, r, "weights", p)
	}
}

// Handler function to generate the heatmap image for a parameter
func (p *WeightsPage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		index, err := strconv.Atoi(mux.Vars(r)["index"])
		if err != nil || p.net.Weights == nil || index < 0 || index >= len(p.net.Weights.Params) {
			http.NotFound(w, r)
			return
		}
		img := heatmap(p.net.Weights.Params[index])
		w.Header().Set("Content-type", "image/png")
		if err = png.Encode(w, img); err != nil {
			logger.Warn("encode image", zap.Error(err))
		}
	}
}

func paramInfo(i int, p nnet.ParamData) ParamInfo {
	info := ParamInfo{Index: i, Name: p.Name, Dims: p.Dims, Image: fmt.Sprintf("/weights/%d.png", i)}
	if len(p.Values) == 0 {
		return info
	}
	vals := make([]float64, len(p.Values))
	for j, v := range p.Values {
		vals[j] = float64(v)
	}
	info.Mean, info.Std = stat.MeanStdDev(vals, nil)
	info.Min, info.Max = floats.Min(vals), floats.Max(vals)
	return info
}

// Draw values as a heatmap, two dimensional params have one row per input and vectors are wrapped
// to a grid. Large inputs such as the embedding are truncated to the first maxImageRows rows.
func heatmap(p nnet.ParamData) *image.NRGBA {
	var rows, cols int
	switch len(p.Dims) {
	case 2:
		rows, cols = min(p.Dims[0], maxImageRows), p.Dims[1]
	default:
		if len(p.Values) == 0 {
			return image.NewNRGBA(image.Rect(0, 0, 1, 1))
		}
		rows, cols = factorise(len(p.Values), factorMinBias, aspectBias)
	}
	scale := float32(0)
	for _, v := range p.Values[:rows*cols] {
		scale = max(scale, float32(math.Abs(float64(v))))
	}
	if scale == 0 {
		scale = 1
	}
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for i, v := range p.Values[:rows*cols] {
		img.Set(i%cols, i/cols, mapColor(v, -scale, scale))
	}
	return img
}

// if n > nmin returns f1, f2 where f1*f2 = n and f1 <= aspect * f2 else 1, n
func factorise(n, nmin int, aspect float64) (f1, f2 int) {
	if n < 1 {
		panic("factorise: input must be >= 1")
	}
	if n > nmin {
		for f1 = int(math.Sqrt(float64(n) * aspect)); f1 > 1; f1-- {
			if n%f1 == 0 {
				return f1, n / f1
			}
		}
	}
	return 1, n
}

// convert value in range cmin:cmax to interpolated color from cmap
func mapColor(val float32, cmin, cmax float32) color.NRGBA {
	var col [3]float32
	ncol := len(cmap)
	switch {
	case val <= cmin:
		col = cmap[0]
	case val >= cmax:
		col = cmap[ncol-1]
	default:
		vsc := float32(ncol-1) * (val - cmin) / (cmax - cmin)
		ix := int(vsc)
		fx := vsc - float32(ix)
		for i := range col {
			col[i] = cmap[ix][i]*(1-fx) + cmap[ix+1][i]*fx
		}
	}
	return color.NRGBA{uint8(col[0] * 255), uint8(col[1] * 255), uint8(col[2] * 255), 255}
}
