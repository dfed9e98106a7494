package stats

import (
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEMA(t *testing.T) {
	v := EMA(0, 4, 3)
	assert.Equal(t, 4.0, v)
	v = EMA(v, 2, 3)
	assert.InDelta(t, 3.0, v, 1e-12)
}

func TestAverage(t *testing.T) {
	var a Average
	assert.Equal(t, 0.0, a.StdDev())
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		a.Add(x)
	}
	assert.Equal(t, 8, a.Count)
	assert.InDelta(t, 5.0, a.Mean, 1e-12)
	assert.InDelta(t, 2.138, a.StdDev(), 1e-3)
	assert.Equal(t, 2.0, a.Min)
	assert.Equal(t, 9.0, a.Max)
	assert.Equal(t, template.HTML("5.00&PlusMinus;2.14"), a.HTML())
	assert.Equal(t, "5.00±2.14", a.String())

	a.Reset()
	a.Add(20)
	assert.Equal(t, template.HTML("20.0"), a.HTML())
	assert.Equal(t, "20.0", a.String())
}
