// Package web has a web based interface for network training and visualisation.
package web

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"html/template"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/num"
	"github.com/jnb666/textcnn/run"
	"github.com/jnb666/textcnn/text"
	"go.uber.org/zap"
)

const (
	stateFile = "web.state"
	writeWait = 2 * time.Second
)

var tuneOpts = []string{"Eta", "Lambda", "TrainBatch"}
var tuneOptHtml = []string{"&eta;", "&lambda;", "batch"}

// Network and associated training / dev data and configuration
type Network struct {
	*NetworkData
	File      string
	Net       *nnet.Network
	Dev       *text.Corpus
	Labels    []int32
	Pred      []int32
	Weights   *nnet.Checkpoint
	RunDir    string
	stepTime  template.HTML
	test      *nnet.TestBase
	trainer   *nnet.Trainer
	trainData *nnet.Dataset
	dir       *run.Dir
	queue     num.Queue
	rng       *rand.Rand
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	tuneMode  bool
	sync.Mutex
}

// Embedded struct used to persist state to file
type NetworkData struct {
	Conf    nnet.Config
	MaxRun  int
	Run     int
	Epoch   int
	History []HistoryData
	Tuners  []TuneParams
}

type HistoryData struct {
	Stats  nnet.Stats
	Conf   nnet.Config
	RunDir string
}

type TuneParams struct {
	Name   string
	Values []string
}

// Create a new network from the given config, file is the path where config updates are saved.
// Previous run history and tuning parameters are loaded from the state file in conf.OutDir.
func NewNetwork(conf nnet.Config, file string) (*Network, error) {
	n := &Network{File: file, test: nnet.NewTestBase().Predict()}
	var err error
	if n.NetworkData, err = LoadState(conf); err != nil {
		logger.Info("no saved state", zap.Error(err))
	}
	if err = n.Start(n.Conf, false); err != nil {
		return nil, err
	}
	return n, nil
}

// Initialise the network and load the data
func (n *Network) Init(conf nnet.Config) error {
	logger.Info("init network", zap.String("positive", conf.PositiveFile), zap.String("negative", conf.NegativeFile))
	n.release()
	if err := conf.Validate(); err != nil {
		return err
	}
	netConf, err := conf.TextCNN()
	if err != nil {
		return err
	}
	corpus, err := text.LoadCorpus(conf.PositiveFile, conf.NegativeFile, conf.MaxSeqLen)
	if err != nil {
		return err
	}
	n.rng = nnet.NewRand(conf.RandSeed)
	train, dev, err := corpus.Split(conf.DevPercent, conf.DevSamples, n.rng)
	if err != nil {
		return err
	}
	logger.Info("loaded data", zap.Int("vocabulary", corpus.VocabSize()), zap.Int("train", train.Len()),
		zap.Int("dev", dev.Len()), zap.Int("sequence length", corpus.SeqLen()))
	n.queue = num.NewDevice().NewQueue(conf.Threads)
	n.trainData = nnet.NewDataset(n.queue.Dev(), train, conf.TrainBatch, n.rng)
	if n.Net, err = nnet.New(n.queue, netConf, n.trainData.BatchSize, train, n.rng); err != nil {
		return err
	}
	if _, err = n.test.Init(n.queue, netConf, dev, n.rng); err != nil {
		return err
	}
	opt, err := nnet.NewOptimizer(conf)
	if err != nil {
		return err
	}
	n.trainer = nnet.NewTrainer(n.Net, opt, n.trainData, webTester{n})
	if n.dir, err = run.Create(conf.OutDir, netConf, corpus.Vocab, corpus.SeqLen()); err != nil {
		return err
	}
	n.dir.Attach(n.trainer)
	n.RunDir = n.dir.Path
	n.Dev = dev
	n.Labels = append([]int32{}, dev.Labels...)
	n.Pred = make([]int32, dev.Len())
	for i := range n.Pred {
		n.Pred[i] = -1
	}
	return nil
}

// release allocated buffers
func (n *Network) release() {
	if n.queue != nil {
		n.queue.Finish()
	}
	if n.Net != nil {
		n.Net.Release()
		n.Net = nil
	}
	if n.test != nil {
		n.test.Release()
	}
	if n.trainData != nil {
		n.trainData.Release()
		n.trainData = nil
	}
	if n.dir != nil {
		if err := n.dir.Close(); err != nil {
			logger.Warn("close run", zap.Error(err))
		}
		n.dir = nil
	}
	n.trainer = nil
}

// Initialise for new training run
func (n *Network) Start(conf nnet.Config, lock bool) error {
	if lock {
		n.Lock()
		defer n.Unlock()
	}
	if err := n.Init(conf); err != nil {
		return err
	}
	n.test.Reset()
	logger.Info("init weights")
	n.Net.InitWeights(n.rng)
	n.Weights = n.Net.Checkpoint(nil, 0, 0)
	n.Epoch = 0
	return nil
}

// Perform training run in the background. If restart is set then start from new weights, else continue
// from the last epoch. In tune mode a run is performed for each combination of the tuning parameters.
// Should be called with the lock held.
func (n *Network) Train(restart bool) error {
	if n.running {
		return errors.New("training is already running")
	}
	logger.Info("train", zap.Bool("restart", restart), zap.Bool("tune", n.tuneMode))
	runs := []nnet.Config{n.Conf}
	if n.tuneMode {
		runs = getRunConfig(n.Conf, n.Tuners)
	}
	n.MaxRun = len(runs)
	if restart {
		n.Run = 0
		if err := n.Start(runs[0], false); err != nil {
			return err
		}
	} else if n.trainer == nil {
		return errors.New("network is not initialised")
	} else if n.Run >= n.MaxRun || n.Epoch >= n.Net.MaxEpoch {
		return errors.New("training is complete")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.running = true
	done := make(chan struct{})
	n.done = done
	go func() {
		defer close(done)
		defer cancel()
		first := true
		for n.Run < n.MaxRun {
			if !first {
				if err := n.Start(runs[n.Run], true); err != nil {
					logger.Error("start run", zap.Error(err))
					break
				}
			}
			first = false
			logger.Info("train run", zap.Int("run", n.Run+1), zap.Int("of", n.MaxRun))
			err := n.trainer.Train(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("train", zap.Error(err))
				}
				break
			}
			n.Lock()
			if last := len(n.test.Stats) - 1; last >= 0 {
				n.History = append(n.History, HistoryData{Stats: n.test.Stats[last], Conf: n.trainer.Net.Config, RunDir: n.RunDir})
			}
			n.Run++
			n.saveState()
			n.Unlock()
		}
		n.Lock()
		n.running = false
		n.cancel = nil
		n.Unlock()
		logger.Info("train: end", zap.Int("run", n.Run))
	}()
	return nil
}

// Stop a running training loop, a checkpoint is saved and it can be continued later.
// Should be called with the lock held.
func (n *Network) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

// Wait for the background training to complete.
func (n *Network) Wait() {
	n.Lock()
	done := n.done
	n.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports if training is in progress.
func (n *Network) Running() bool {
	n.Lock()
	defer n.Unlock()
	return n.running
}

// Release the network and close the run directory after stopping any training.
func (n *Network) Release() {
	n.Lock()
	n.Stop()
	n.Unlock()
	n.Wait()
	n.Lock()
	n.release()
	n.Unlock()
}

// called at the end of each epoch with the lock held
func (n *Network) nextEpoch(net *nnet.Network, epoch, step int) {
	n.Epoch = epoch
	copy(n.Pred, n.test.Pred)
	n.Weights = net.Checkpoint(nil, step, epoch)
	n.saveState()
	n.notify(strconv.Itoa(n.Run+1) + ":" + strconv.Itoa(epoch))
}

// send a message to the browser if connected, called with the lock held
func (n *Network) notify(msg string) {
	if n.conn == nil {
		return
	}
	err := n.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err == nil {
		err = n.conn.WriteMessage(websocket.TextMessage, []byte(msg))
	}
	if err != nil {
		logger.Warn("error writing to websocket", zap.Error(err))
		n.conn.Close()
		n.conn = nil
	}
}

func (n *Network) heading() template.HTML {
	maxRun := max(n.MaxRun, 1)
	s := fmt.Sprintf(`run <span id="run">%d</span>/%d  epoch <span id="epoch">%d</span>/%d`, min(n.Run+1, maxRun), maxRun, n.Epoch, n.Conf.MaxEpoch)
	return template.HTML(s)
}

// Tester used by the trainer which updates the network state after each epoch.
type webTester struct {
	n *Network
}

func (t webTester) Evaluate(net *nnet.Network) (loss, accuracy float64) {
	t.n.Lock()
	defer t.n.Unlock()
	return t.n.test.Evaluate(net)
}

func (t webTester) Test(net *nnet.Network, epoch, step int, loss, trainErr float64, start time.Time) bool {
	t.n.Lock()
	defer t.n.Unlock()
	done := t.n.test.Test(net, epoch, step, loss, trainErr, start)
	s := t.n.test.Stats[len(t.n.test.Stats)-1]
	fields := []zap.Field{zap.Int("epoch", epoch)}
	for i, val := range s.Format() {
		fields = append(fields, zap.String(nnet.StatsHeaders[i], strings.TrimSpace(val)))
	}
	logger.Info("epoch complete", fields...)
	t.n.stepTime = t.n.trainer.StepTime.HTML()
	t.n.nextEpoch(net, epoch, step)
	return done
}

// LoadState reads the history and tuning parameters saved in conf.OutDir. The returned data always
// uses conf, and is valid even if an error is returned.
func LoadState(conf nnet.Config) (*NetworkData, error) {
	data := &NetworkData{}
	err := loadGob(filepath.Join(conf.OutDir, stateFile), data)
	data.Conf = conf
	data.MaxRun, data.Run, data.Epoch = 1, 0, 0
	if data.History == nil {
		data.History = []HistoryData{}
	}
	if data.Tuners == nil {
		for _, opt := range tuneOpts {
			data.Tuners = append(data.Tuners, TuneParams{
				Name:   opt,
				Values: []string{fmt.Sprint(conf.Get(opt))},
			})
		}
	}
	return data, err
}

// SaveState writes the history and tuning parameters to conf.OutDir.
func SaveState(data *NetworkData) error {
	if err := os.MkdirAll(data.Conf.OutDir, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(data.Conf.OutDir, stateFile))
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(f).Encode(*data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (n *Network) saveState() {
	if err := SaveState(n.NetworkData); err != nil {
		logger.Warn("error saving state", zap.Error(err))
	}
}

func loadGob(path string, data *NetworkData) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	logger.Info("loading state", zap.String("file", path))
	return gob.NewDecoder(f).Decode(data)
}

// For hyperparameter tuning, get config for each combination of the tuning parameters
func getRunConfig(conf nnet.Config, params []TuneParams) []nnet.Config {
	for _, p := range params {
		if len(p.Values) > 0 {
			conf = setConfig(conf, p.Name, p.Values[0])
		}
	}
	logConfig(conf)
	list := permute(conf, params, len(params)-1, []nnet.Config{conf})
	logger.Info("getRunConfig", zap.Int("cases", len(list)))
	return list
}

func permute(conf nnet.Config, params []TuneParams, n int, list []nnet.Config) []nnet.Config {
	if n < 0 {
		return list
	}
	for i, val := range params[n].Values {
		if i > 0 {
			conf = setConfig(conf, params[n].Name, val)
			logConfig(conf)
			list = append(list, conf)
		}
		list = permute(conf, params, n-1, list)
	}
	return list
}

// values are checked when the tuning parameters are saved
func setConfig(c nnet.Config, name string, val string) nnet.Config {
	var err error
	c, err = c.SetString(name, val)
	if err != nil {
		panic(err)
	}
	return c
}

func logConfig(c nnet.Config) {
	var s []string
	for _, name := range tuneOpts {
		s = append(s, fmt.Sprintf("%s=%v", name, c.Get(name)))
	}
	logger.Debug("getRunConfig", zap.String("config", strings.Join(s, " ")))
}

func tuneParams(h HistoryData) string {
	plist := make([]string, len(tuneOpts))
	for i, p := range tuneOpts {
		plist[i] = fmt.Sprintf("%s=%v", tuneOptHtml[i], h.Conf.Get(p))
	}
	return strings.Join(plist, " ")
}
