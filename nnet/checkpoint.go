package nnet

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jnb666/textcnn/num"
	"github.com/klauspost/compress/zstd"
)

const checkpointIndex = "checkpoint"

// Checkpoint holds the trainable state of a network. Epoch is the number of completed epochs and
// Batch the number of batches already trained from the next one.
type Checkpoint struct {
	Step      int
	Epoch     int
	Batch     int
	Params    []ParamData
	Optimizer OptimizerState
}

// ParamData is a copy of the values of a named parameter.
type ParamData struct {
	Name   string
	Dims   []int
	Values []float32
}

// list of saved checkpoint files, oldest first
type checkpointList struct {
	Latest string
	Files  []string
}

// Checkpoint copies the current network parameters and optimizer state.
func (n *Network) Checkpoint(opt Optimizer, step, epoch int) *Checkpoint {
	c := &Checkpoint{Step: step, Epoch: epoch}
	for _, p := range n.Params() {
		data := make([]float32, p.Value.Size())
		n.queue.Call(num.Read(p.Value, data))
		c.Params = append(c.Params, ParamData{Name: p.Name, Dims: p.Value.Dims(), Values: data})
	}
	n.queue.Finish()
	if opt != nil {
		c.Optimizer = opt.State(n.queue)
	}
	return c
}

// Restore the network parameters and optimizer state, the parameters must match in name and shape.
func (n *Network) Restore(c *Checkpoint, opt Optimizer) error {
	params := n.Params()
	if len(params) != len(c.Params) {
		return fmt.Errorf("restore: checkpoint has %d params, network has %d", len(c.Params), len(params))
	}
	for i, p := range params {
		saved := c.Params[i]
		if saved.Name != p.Name || !num.SameShape(saved.Dims, p.Value.Dims()) {
			return fmt.Errorf("restore: param %s%v does not match %s%v", saved.Name, saved.Dims, p.Name, p.Value.Dims())
		}
	}
	for i, p := range params {
		n.queue.Call(num.Write(p.Value, c.Params[i].Values))
	}
	n.queue.Finish()
	if opt != nil && c.Optimizer.Type != "" {
		return opt.SetState(n.queue, c.Optimizer)
	}
	return nil
}

// SaveCheckpoint writes the checkpoint to dir as model-<step>.ckpt and updates the index file.
// Only the most recent keep files are retained. Returns the path to the new file.
func SaveCheckpoint(dir string, c *Checkpoint, keep int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("model-%d.ckpt", c.Step)
	if err := writeAtomic(filepath.Join(dir, name), func(f *os.File) error {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if err = gob.NewEncoder(enc).Encode(c); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	list, err := readIndex(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	files := []string{}
	for _, file := range list.Files {
		if file != name {
			files = append(files, file)
		}
	}
	files = append(files, name)
	for keep > 0 && len(files) > keep {
		if err := os.Remove(filepath.Join(dir, files[0])); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		files = files[1:]
	}
	list = checkpointList{Latest: name, Files: files}
	err = writeAtomic(filepath.Join(dir, checkpointIndex), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	})
	path := filepath.Join(dir, name)
	logger.Sugar().Infof("saved model checkpoint to %s", path)
	return path, err
}

// LoadCheckpoint reads a checkpoint file written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	c := new(Checkpoint)
	if err = gob.NewDecoder(dec).Decode(c); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	logger.Sugar().Infof("reading model parameters from %s", path)
	return c, nil
}

// Latest returns the path of the most recent checkpoint in dir.
func Latest(dir string) (string, error) {
	list, err := readIndex(dir)
	if err != nil {
		return "", fmt.Errorf("no checkpoint in %s: %w", dir, err)
	}
	if list.Latest == "" {
		return "", fmt.Errorf("no checkpoint in %s", dir)
	}
	return filepath.Join(dir, list.Latest), nil
}

// Checkpoints returns the paths of the retained checkpoints in dir, oldest first.
func Checkpoints(dir string) ([]string, error) {
	list, err := readIndex(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(list.Files))
	for i, file := range list.Files {
		paths[i] = filepath.Join(dir, file)
	}
	return paths, nil
}

func readIndex(dir string) (list checkpointList, err error) {
	data, err := os.ReadFile(filepath.Join(dir, checkpointIndex))
	if err != nil {
		return list, err
	}
	err = json.Unmarshal(data, &list)
	return list, err
}

// write to a temporary file in the same directory and rename on success
func writeAtomic(path string, write func(f *os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if err = write(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), path)
}
