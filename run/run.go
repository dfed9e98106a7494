// Package run manages the output directory for a training run: summaries, checkpoints, vocabulary
// and the config used.
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/summary"
	"github.com/jnb666/textcnn/text"
)

// Names of files and sub directories within a run.
const (
	ConfigFile    = "config.json"
	CheckpointDir = "checkpoints"
	SummaryDir    = "summaries"
)

// Dir is an open run directory with train and dev summary writers.
type Dir struct {
	Path     string
	TrainLog *summary.Writer
	DevLog   *summary.Writer
}

// Create makes a new directory under outDir named from the current unix time and saves the config,
// vocabulary and sequence length to it.
func Create(outDir string, conf nnet.Config, vocab *text.Vocabulary, seqLen int) (*Dir, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	ts := time.Now().Unix()
	var path string
	for i := 0; ; i++ {
		name := strconv.FormatInt(ts, 10)
		if i > 0 {
			name += fmt.Sprintf("_%d", i)
		}
		path = filepath.Join(outDir, name)
		err := os.Mkdir(path, 0755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, err
		}
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	if err = conf.Save(filepath.Join(path, ConfigFile)); err != nil {
		return nil, err
	}
	if err = text.SaveModel(path, vocab, seqLen); err != nil {
		return nil, err
	}
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(conf)
	if err == nil {
		err = d.TrainLog.SetMeta("config", string(data))
	}
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Open the summary writers for an existing run directory.
func Open(path string) (*Dir, error) {
	d := &Dir{Path: path}
	var err error
	if d.TrainLog, err = summary.Open(filepath.Join(path, SummaryDir, "train")); err != nil {
		return nil, err
	}
	if d.DevLog, err = summary.Open(filepath.Join(path, SummaryDir, "dev")); err != nil {
		d.TrainLog.Close()
		return nil, err
	}
	return d, nil
}

// Attach sets the trainer to write summaries and checkpoints to this directory.
func (d *Dir) Attach(t *nnet.Trainer) {
	t.TrainLog = d.TrainLog
	t.DevLog = d.DevLog
	t.CheckpointDir = filepath.Join(d.Path, CheckpointDir)
}

// Close the summary writers.
func (d *Dir) Close() error {
	err := d.TrainLog.Close()
	if err2 := d.DevLog.Close(); err == nil {
		err = err2
	}
	return err
}

// Latest returns the most recent checkpoint file for the run at path.
func Latest(path string) (string, error) {
	return nnet.Latest(filepath.Join(path, CheckpointDir))
}

// Load reads the config, vocabulary and sequence length saved by Create.
func Load(path string) (conf nnet.Config, vocab *text.Vocabulary, seqLen int, err error) {
	if conf, err = nnet.LoadConfig(filepath.Join(path, ConfigFile)); err != nil {
		return
	}
	vocab, seqLen, err = text.LoadModel(path)
	return
}
