package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, dir, name string, lines ...string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func testConfig(t *testing.T) nnet.Config {
	dir := t.TempDir()
	conf := nnet.DefaultConfig()
	conf.PositiveFile = writeLines(t, dir, "pos.txt", "a good film", "great fun", "good and great", "a great story")
	conf.NegativeFile = writeLines(t, dir, "neg.txt", "a bad film", "dull stuff", "bad and dull", "a dull story")
	conf.OutDir = filepath.Join(dir, "runs")
	conf.DevSamples = 2
	conf.EmbeddingDim = 4
	conf.FilterSizes = "1,2"
	conf.NumFilters = 2
	conf.Eta = 0.01
	conf.TrainBatch = 3
	conf.TestBatch = 2
	conf.MaxEpoch = 3
	conf.EvaluateEvery = 2
	conf.CheckpointEvery = 2
	conf.Threads = 1
	return conf
}

func TestTrainConfig(t *testing.T) {
	conf, err := trainConfig(trainCmd)
	require.NoError(t, err)
	assert.Equal(t, nnet.DefaultConfig(), conf)

	flags := map[string]string{"num-epochs": "7", "filter-sizes": "2,3", "learning-rate": "0.003"}
	for name, val := range flags {
		def := trainCmd.Flags().Lookup(name).DefValue
		require.NoError(t, trainCmd.Flags().Set(name, val))
		defer func(name, def string) {
			trainCmd.Flags().Set(name, def)
			trainCmd.Flags().Lookup(name).Changed = false
		}(name, def)
	}
	conf, err = trainConfig(trainCmd)
	require.NoError(t, err)
	assert.Equal(t, 7, conf.MaxEpoch)
	assert.Equal(t, "2,3", conf.FilterSizes)
	assert.Equal(t, 0.003, conf.Eta)
	for _, f := range trainFlags {
		assert.NotNil(t, trainCmd.Flags().Lookup(f.flag), f.flag)
	}

	require.NoError(t, trainCmd.Flags().Set("dropout-keep-prob", "2"))
	defer func() {
		trainCmd.Flags().Set("dropout-keep-prob", "0.5")
		trainCmd.Flags().Lookup("dropout-keep-prob").Changed = false
	}()
	_, err = trainConfig(trainCmd)
	assert.Error(t, err)
}

func TestPrintParams(t *testing.T) {
	var buf bytes.Buffer
	printParams(&buf, nnet.DefaultConfig())
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Parameters:\n"))
	assert.Contains(t, out, "FILTERSIZES=3,4,5\n")
	assert.Less(t, strings.Index(out, "DEVPERCENT="), strings.Index(out, "ETA="))
}

func TestTrainPredict(t *testing.T) {
	conf := testConfig(t)
	var buf bytes.Buffer
	require.NoError(t, train(context.Background(), &buf, conf))
	assert.Contains(t, buf.String(), "Train/Dev split: 6/2")

	runs, err := os.ReadDir(conf.OutDir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runDir := filepath.Join(conf.OutDir, runs[0].Name())
	ckpt, err := run.Latest(runDir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Saved model checkpoint to "+ckpt)

	predictOpts.runDir = runDir
	defer func() { predictOpts.runDir = "" }()
	buf.Reset()
	require.NoError(t, predict(&buf, []string{"a good film", "unseen words here"}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "\ta good film"))
	assert.Regexp(t, `^(positive|negative)\t`, lines[1])

	predictOpts.posFile, predictOpts.negFile = conf.PositiveFile, conf.NegativeFile
	defer func() { predictOpts.posFile, predictOpts.negFile = "", "" }()
	buf.Reset()
	require.NoError(t, predict(&buf, nil))
	assert.Contains(t, buf.String(), "Total number of test examples: 8")

	// resume from the saved run with more epochs
	conf.Resume = runDir
	conf.MaxEpoch = 4
	buf.Reset()
	require.NoError(t, train(context.Background(), &buf, conf))
	c, err := nnet.LoadCheckpoint(latest(t, runDir))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Epoch)

	plotOpts.runDir = runDir
	plotOpts.width, plotOpts.height = 400, 300
	defer func() { plotOpts.runDir = "" }()
	buf.Reset()
	plotCmd.SetOut(&buf)
	require.NoError(t, plotCmd.RunE(plotCmd, nil))
	assert.Contains(t, buf.String(), "loss.svg")
}

func latest(t *testing.T, runDir string) string {
	path, err := run.Latest(runDir)
	require.NoError(t, err)
	return path
}

func TestPredictEmpty(t *testing.T) {
	conf := testConfig(t)
	require.NoError(t, train(context.Background(), &bytes.Buffer{}, conf))
	runs, err := os.ReadDir(conf.OutDir)
	require.NoError(t, err)
	predictOpts.runDir = filepath.Join(conf.OutDir, runs[0].Name())
	defer func() { predictOpts.runDir = "" }()
	assert.Error(t, predict(&bytes.Buffer{}, nil))
}
