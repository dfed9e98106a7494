// Package stats has running statistics used to report training progress.
package stats

import (
	"fmt"
	"html/template"
	"math"
)

// EMA adds val to the exponential moving average prev over an n point window.
// A zero prev starts a new average.
func EMA(prev, val, n float64) float64 {
	if prev == 0 {
		return val
	}
	k := 2 / (n + 1)
	return k*val + (1-k)*prev
}

// Average accumulates the mean, standard deviation and range of a series using Welford's method.
type Average struct {
	Count    int
	Mean     float64
	Min, Max float64
	m2       float64
}

// Add a new value to the series.
func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.Mean, s.Min, s.Max, s.m2 = x, x, x, 0
		return
	}
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.m2 += delta * (x - s.Mean)
	s.Min = math.Min(s.Min, x)
	s.Max = math.Max(s.Max, x)
}

// StdDev is the sample standard deviation, or zero with less than two values.
func (s *Average) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.Count-1))
}

// Reset clears the accumulated values.
func (s *Average) Reset() {
	*s = Average{}
}

func (s *Average) String() string {
	return s.format("%.*f±%.*f")
}

// HTML formats the mean with the standard deviation if it is significant.
func (s *Average) HTML() template.HTML {
	return template.HTML(s.format("%.*f&PlusMinus;%.*f"))
}

func (s *Average) format(layout string) string {
	prec, minDev := 2, 0.01
	if math.Abs(s.Mean) > 10 {
		prec, minDev = 1, 0.1
	}
	sd := s.StdDev()
	if sd < minDev {
		return fmt.Sprintf("%.*f", prec, s.Mean)
	}
	return fmt.Sprintf(layout, prec, s.Mean, prec, sd)
}
