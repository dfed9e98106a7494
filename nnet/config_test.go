package nnet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 128, c.EmbeddingDim)
	assert.Equal(t, "3,4,5", c.FilterSizes)
	assert.Equal(t, 0.5, c.DropoutKeep)
	assert.Equal(t, 1e-4, c.Eta)
	assert.Equal(t, 32, c.TrainBatch)
	assert.Equal(t, 200, c.MaxEpoch)
	assert.NotContains(t, c.Fields(), "Layers")
	t.Log(c)
}

func TestTextCNN(t *testing.T) {
	c, err := DefaultConfig().TextCNN()
	require.NoError(t, err)
	require.Len(t, c.Layers, 5)
	var types []string
	for _, l := range c.Layers {
		types = append(types, l.Type)
	}
	assert.Equal(t, []string{"embedding", "convPool", "dropout", "linear", "logRegression"}, types)
	layer, err := c.Layers[1].Unmarshal()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, layer.(*convPool).Sizes)
	assert.Equal(t, 128, layer.(*convPool).Nfeats)
	layer, err = c.Layers[3].Unmarshal()
	require.NoError(t, err)
	assert.True(t, layer.(*linear).Decay())

	// existing layers are kept
	c2, err := c.TextCNN()
	require.NoError(t, err)
	assert.Equal(t, c.Layers, c2.Layers)

	c.Layers = nil
	c.FilterSizes = "3,x"
	_, err = c.TextCNN()
	assert.Error(t, err)
}

func TestParseFilterSizes(t *testing.T) {
	sizes, err := ParseFilterSizes(" 3, 4,5 ")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, sizes)
	for _, s := range []string{"", "3,0", "a", ","} {
		_, err = ParseFilterSizes(s)
		assert.Error(t, err, s)
	}
}

func TestSetString(t *testing.T) {
	c, err := DefaultConfig().SetString("Eta", "0.001")
	require.NoError(t, err)
	assert.Equal(t, 0.001, c.Eta)
	c, err = c.SetString("TrainBatch", "64")
	require.NoError(t, err)
	assert.Equal(t, 64, c.TrainBatch)
	c, err = c.SetString("Profile", "true")
	require.NoError(t, err)
	assert.True(t, c.Profile)
	c, err = c.SetString("OutDir", "/tmp/runs")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs", c.Get("OutDir"))

	_, err = c.SetString("TrainBatch", "many")
	assert.Error(t, err)
	_, err = c.SetString("NoSuchField", "1")
	assert.Error(t, err)
	_, err = c.SetString("Layers", "1")
	assert.Error(t, err)

	c, err = c.SetBool("Profile", false)
	require.NoError(t, err)
	assert.False(t, c.Profile)
	_, err = c.SetBool("Eta", true)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"DevPercent", "1"},
		{"EmbeddingDim", "0"},
		{"DropoutKeep", "0"},
		{"Lambda", "-1"},
		{"Eta", "0"},
		{"TrainBatch", "0"},
		{"MaxEpoch", "0"},
		{"NumCheckpoints", "0"},
		{"Optimizer", "rmsprop"},
		{"FilterSizes", "three"},
	}
	for _, test := range tests {
		c, err := DefaultConfig().SetString(test.key, test.val)
		require.NoError(t, err)
		assert.Error(t, c.Validate(), "%s=%s", test.key, test.val)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	dir := t.TempDir()
	c := testConfig()
	c.Threads = 2
	for _, name := range []string{"config.json", "config.yaml"} {
		file := filepath.Join(dir, name)
		require.NoError(t, c.Save(file))
		c2, err := LoadConfig(file)
		require.NoError(t, err)
		assert.Equal(t, c.String(), c2.String(), name)
		assert.Equal(t, c.Eta, c2.Eta)
		assert.Len(t, c2.Layers, len(c.Layers))
	}

	// large integers are not rounded to float64
	c.RandSeed = 1<<62 + 1
	file := filepath.Join(dir, "seed.yaml")
	require.NoError(t, c.Save(file))
	c2, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<62+1), c2.RandSeed)
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte("TrainBatch: 16\nFilterSizes: \"2,3\"\nLambda: 0.5\n"), 0644))
	c, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 16, c.TrainBatch)
	assert.Equal(t, "2,3", c.FilterSizes)
	assert.Equal(t, 0.5, c.Lambda)
	assert.Equal(t, 128, c.EmbeddingDim, "default kept")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
