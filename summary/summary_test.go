package summary

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogram(t *testing.T) {
	h := NewHistogram([]float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 5)
	assert.Equal(t, 10.0, h.Num)
	assert.Equal(t, 0.0, h.Min)
	assert.Equal(t, 9.0, h.Max)
	assert.Equal(t, 45.0, h.Sum)
	assert.Equal(t, 285.0, h.SumSquares)
	assert.Equal(t, 4.5, h.Mean())
	require.Len(t, h.Limits, 6)
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, h.Counts)
}

func TestHistogramConstant(t *testing.T) {
	h := NewHistogram([]float32{3, 3, 3}, Buckets)
	require.Len(t, h.Counts, 1)
	assert.Equal(t, 3.0, h.Counts[0])

	h = NewHistogram(nil, Buckets)
	assert.Zero(t, h.Num)
	assert.Nil(t, h.Counts)
}

func TestSparsity(t *testing.T) {
	assert.Equal(t, 0.5, Sparsity([]float32{0, 1, 0, 2}))
	assert.Equal(t, 0.0, Sparsity(nil))
}

func TestWriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "train")
	w, err := Open(dir)
	require.NoError(t, err)
	w.FlushEvery = 3
	require.NotEmpty(t, w.RunID())
	for step := 1; step <= 5; step++ {
		require.NoError(t, w.AddScalar(step, "loss", 1/float64(step)))
		require.NoError(t, w.AddScalar(step, "accuracy", float64(step)/10))
	}
	require.NoError(t, w.AddHistogram(5, "linear3/W/grad/hist", []float32{-1, 0, 1, 2}))
	require.NoError(t, w.SetMeta("config", "{}"))
	require.NoError(t, w.Close())

	r, err := OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()
	id, err := r.Meta("run_id")
	require.NoError(t, err)
	assert.Equal(t, w.RunID(), id)

	tags, err := r.Tags()
	require.NoError(t, err)
	assert.Equal(t, []string{"accuracy", "loss"}, tags)

	loss, err := r.Scalars("loss")
	require.NoError(t, err)
	require.Len(t, loss, 5)
	assert.Equal(t, 1, loss[0].Step)
	assert.InDelta(t, 0.2, loss[4].Value, 1e-9)

	hist, err := r.Histograms("linear3/W/grad/hist")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 5, hist[0].Step)
	assert.Equal(t, 4.0, hist[0].Num)
	assert.Len(t, hist[0].Counts, Buckets)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	id := w.RunID()
	require.NoError(t, w.Close())
	w, err = Open(dir)
	require.NoError(t, err)
	assert.Equal(t, id, w.RunID())
	require.NoError(t, w.Close())
}

func TestPlot(t *testing.T) {
	run := t.TempDir()
	for _, name := range []string{"train", "dev"} {
		w, err := Open(filepath.Join(run, "summaries", name))
		require.NoError(t, err)
		for step := 1; step <= 3; step++ {
			require.NoError(t, w.AddScalar(step*10, "loss", 2-float64(step)/2))
			require.NoError(t, w.AddScalar(step*10, "accuracy", float64(step)/4))
		}
		require.NoError(t, w.Close())
	}
	files, err := Plot(run, filepath.Join(run, "plots"), 400, 300)
	require.NoError(t, err)
	assert.Len(t, files, len(PlotTags))

	series, err := RunSeries(run, "loss")
	require.NoError(t, err)
	p := NewPlot("loss")
	require.NoError(t, AddLines(p, series...))
	var buf bytes.Buffer
	require.NoError(t, WriteSVG(p, &buf, 400, 300))
	assert.True(t, strings.Contains(buf.String(), "<svg"))
}

func TestRunSeriesMissing(t *testing.T) {
	series, err := RunSeries(t.TempDir(), "loss")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Empty(t, series[0].Points)
}
