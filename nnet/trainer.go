package nnet

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jnb666/textcnn/num"
	"github.com/jnb666/textcnn/stats"
	"github.com/jnb666/textcnn/summary"
	"go.uber.org/zap"
)

const emaN = 10

// Names of the values in each Stats record
var StatsHeaders = []string{"loss", "train error", "dev loss", "dev error", "dev avg"}

// Training statistics for each epoch
type Stats struct {
	Epoch     int
	Step      int
	Values    []float64
	BestSince int
	Elapsed   time.Duration
}

func (s Stats) Format() []string {
	str := make([]string, len(s.Values))
	for i, v := range s.Values {
		if strings.HasSuffix(StatsHeaders[i], "loss") {
			str[i] = fmt.Sprintf("%7.4f", v)
		} else {
			str[i] = fmt.Sprintf("%6.2f%%", v*100)
		}
	}
	return str
}

// StepStats is the result from a single training step or evaluation of the dev set.
type StepStats struct {
	Step     int
	Epoch    int
	Loss     float64
	Accuracy float64
	Time     time.Time
}

func (s StepStats) String() string {
	return fmt.Sprintf("%s: step %d, loss %g, acc %g", s.Time.Format("02, Jan 2006 15:04:05"), s.Step, s.Loss, s.Accuracy)
}

// Tester interface to evaluate the performance on the dev set. Test is called after each epoch
// and returns true if training should stop.
type Tester interface {
	Evaluate(net *Network) (loss, accuracy float64)
	Test(net *Network, epoch, step int, loss, trainErr float64, start time.Time) bool
}

// Tester which evaluates the loss and error on the dev set and updates the stats.
type TestBase struct {
	Net     *Network
	Dev     *Dataset
	Pred    []int32
	Stats   []Stats
	predict bool
}

// Create a new base class which implements the Tester interface.
func NewTestBase() *TestBase {
	return &TestBase{Stats: []Stats{}}
}

// Initialise the dev dataset and a network to evaluate it with batch size conf.TestBatch.
func (t *TestBase) Init(queue num.Queue, conf Config, dev Data, rng *rand.Rand) (*TestBase, error) {
	t.Release()
	if conf.DebugLevel >= 1 {
		logger.Debug("init tester", zap.Int("samples", dev.Len()), zap.Int("batch", conf.TestBatch))
	}
	t.Dev = NewDataset(queue.Dev(), dev, conf.TestBatch, rng)
	net, err := New(queue, conf, t.Dev.BatchSize, dev, rng)
	if err != nil {
		t.Dev.Release()
		t.Dev = nil
		return t, err
	}
	t.Net = net
	if t.predict {
		t.Pred = make([]int32, t.Dev.Samples)
	}
	return t, nil
}

// Save the predicted classes for the dev set each time it is evaluated.
func (t *TestBase) Predict() *TestBase {
	t.predict = true
	if t.Dev != nil {
		t.Pred = make([]int32, t.Dev.Samples)
	}
	return t
}

// Reset stats prior to new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
}

// Release allocated buffers
func (t *TestBase) Release() {
	if t.Net != nil {
		t.Net.Release()
		t.Net = nil
	}
	if t.Dev != nil {
		t.Dev.Release()
		t.Dev = nil
	}
}

// Evaluate copies the weights from net and returns the loss and accuracy over the dev set.
func (t *TestBase) Evaluate(net *Network) (loss, accuracy float64) {
	net.CopyTo(t.Net)
	return t.Net.Evaluate(t.Dev, t.Pred)
}

// Test performance of the network, called from the Train function on completion of each epoch.
// BestSince is the number of epochs since the lowest moving average of the dev error.
func (t *TestBase) Test(net *Network, epoch, step int, loss, trainErr float64, start time.Time) bool {
	if net.DebugLevel >= 1 {
		logger.Debug("test", zap.Int("epoch", epoch))
	}
	devLoss, devAcc := t.Evaluate(net)
	devErr := 1 - devAcc
	prevAvg := 0.0
	if n := len(t.Stats); n > 0 {
		prevAvg = t.Stats[n-1].Values[4]
	}
	avg := stats.EMA(prevAvg, devErr, emaN)
	s := Stats{Epoch: epoch, Step: step, Values: []float64{loss, trainErr, devLoss, devErr, avg}}
	s.BestSince = bestSince(t.Stats, avg)
	s.Elapsed = time.Since(start)
	t.Stats = append(t.Stats, s)
	return epoch >= net.MaxEpoch || loss <= net.MinLoss || (net.StopAfter > 0 && s.BestSince >= net.StopAfter)
}

// number of epochs since the lowest moving average error, the earliest epoch wins a tie
func bestSince(hist []Stats, avg float64) (since int) {
	best := avg
	for i := len(hist) - 1; i >= 0; i-- {
		if v := hist[i].Values[4]; v <= best {
			best = v
			since = len(hist) - i
		}
	}
	return since
}

type testLogger struct {
	*TestBase
}

// Create a new tester which logs the stats at the end of each epoch.
func NewTestLogger(queue num.Queue, conf Config, dev Data, rng *rand.Rand) (Tester, error) {
	base, err := NewTestBase().Init(queue, conf, dev, rng)
	return testLogger{TestBase: base}, err
}

func (t testLogger) Test(net *Network, epoch, step int, loss, trainErr float64, start time.Time) bool {
	done := t.TestBase.Test(net, epoch, step, loss, trainErr, start)
	s := t.Stats[len(t.Stats)-1]
	fields := []zap.Field{zap.Int("epoch", epoch), zap.Int("step", step)}
	for i, val := range s.Format() {
		fields = append(fields, zap.String(StatsHeaders[i], strings.TrimSpace(val)))
	}
	fields = append(fields, zap.Int("best since", s.BestSince))
	logger.Info("epoch complete", fields...)
	if done {
		logger.Info("training complete", zap.Duration("run time", s.Elapsed.Round(10*time.Millisecond)))
	}
	return done
}

// Trainer updates the network weights from batches of training data. Loss and accuracy are logged
// every LogEvery steps and gradient histograms are written every HistogramEvery steps. The dev set
// is evaluated every EvaluateEvery steps and a checkpoint is saved every CheckpointEvery steps.
type Trainer struct {
	Net           *Network
	Opt           Optimizer
	Data          *Dataset
	Test          Tester
	TrainLog      *summary.Writer
	DevLog        *summary.Writer
	CheckpointDir string
	OnStep        func(StepStats)
	OnEval        func(StepStats)
	Step          int
	Epoch         int
	Batch         int
	StepTime      stats.Average
	gradBuf       map[string][]float32
}

// NewTrainer creates a new trainer. Summary writers, checkpoint directory and hooks are optional.
func NewTrainer(net *Network, opt Optimizer, data *Dataset, test Tester) *Trainer {
	return &Trainer{Net: net, Opt: opt, Data: data, Test: test, gradBuf: make(map[string][]float32)}
}

// Train the network until the tester indicates it should stop, MaxEpoch is reached or the context is
// cancelled. On cancellation a final checkpoint is saved and the context error is returned.
func (t *Trainer) Train(ctx context.Context) error {
	q := t.Net.queue
	if t.Net.Profile {
		q.Profiling(true)
		defer func() {
			logger.Info("profile\n" + q.Profile())
			q.Profiling(false)
		}()
	}
	start := time.Now()
	done := t.Epoch >= t.Net.MaxEpoch
	for !done {
		loss, trainErr, err := t.TrainEpoch(ctx)
		if err != nil {
			if t.CheckpointDir != "" && t.Step > 0 {
				if _, cerr := t.SaveCheckpoint(); cerr != nil {
					logger.Error("save checkpoint", zap.Error(cerr))
				}
			}
			t.flush()
			return err
		}
		if t.Test != nil {
			done = t.Test.Test(t.Net, t.Epoch, t.Step, loss, trainErr, start)
		} else {
			done = t.Epoch >= t.Net.MaxEpoch
		}
		t.flush()
	}
	return nil
}

// TrainEpoch performs one pass over the shuffled training data, starting from Batch if resuming part
// way through an epoch. Returns the mean loss and the error rate of the training batches.
func (t *Trainer) TrainEpoch(ctx context.Context) (loss, trainErr float64, err error) {
	t.Data.Shuffle()
	t.Data.NextEpoch()
	if t.Batch >= t.Data.Batches {
		t.Batch = 0
	}
	if t.Batch > 0 {
		logger.Info("resume epoch", zap.Int("epoch", t.Epoch+1), zap.Int("batch", t.Batch))
		t.Data.StartAt(t.Batch)
	}
	t.Epoch++
	var lossSum, correct, samples float64
	for t.Batch < t.Data.Batches {
		if err = ctx.Err(); err != nil {
			t.Epoch--
			return 0, 0, err
		}
		if t.Net.DebugLevel >= 2 || (t.Net.DebugLevel == 1 && samples == 0) {
			logger.Debug("train batch", zap.Int("epoch", t.Epoch), zap.Int("batch", t.Batch))
		}
		x, y, yOneHot, n := t.Data.NextBatch()
		s := t.TrainStep(x, y, yOneHot, n)
		t.Batch++
		lossSum += s.Loss * float64(n)
		correct += s.Accuracy * float64(n)
		samples += float64(n)
		if t.Test != nil && t.Net.EvaluateEvery > 0 && t.Step%t.Net.EvaluateEvery == 0 {
			t.EvaluateDev()
		}
		if t.CheckpointDir != "" && t.Net.CheckpointEvery > 0 && t.Step%t.Net.CheckpointEvery == 0 {
			epoch, batch := t.Epoch-1, t.Batch
			if batch == t.Data.Batches {
				epoch, batch = t.Epoch, 0
			}
			if _, err = t.saveCheckpoint(epoch, batch); err != nil {
				return 0, 0, err
			}
		}
	}
	t.Batch = 0
	return lossSum / samples, 1 - correct/samples, nil
}

// TrainStep runs the forward and backward pass for one batch with n valid rows and updates the weights.
func (t *Trainer) TrainStep(x, y, yOneHot num.Array, n int) StepStats {
	net, q := t.Net, t.Net.queue
	started := time.Now()
	yPred := net.Fprop(x, true)
	loss := net.OutLayer().Loss(yOneHot, yPred, n)
	q.Call(
		num.Unhot(yPred, net.classes),
		num.Correct(net.classes, y, net.batchAcc, n),
		num.SoftmaxGrad(yPred, yOneHot, net.inputGrad, n),
	)
	if net.DebugLevel >= 3 {
		logger.Debug("input grad", zap.String("data", net.inputGrad.String(q)))
	}
	net.Bprop(net.inputGrad)
	l2 := 0.0
	if net.Lambda > 0 {
		l2 = net.L2Loss()
		for _, layer := range net.Layers {
			if l, ok := layer.(ParamLayer); ok && l.Decay() {
				for _, p := range l.Params() {
					q.Call(num.Axpy(float32(net.Lambda), p.Value, p.Grad))
				}
			}
		}
	}
	t.Step++
	logStep := net.LogEvery > 0 && t.Step%net.LogEvery == 0
	if t.TrainLog != nil && net.HistogramEvery > 0 && t.Step%net.HistogramEvery == 0 {
		t.gradSummaries()
	}
	for _, p := range net.Params() {
		t.Opt.Update(q, p.Name, p.Value, p.Grad)
	}
	t.Opt.Step()
	res := []float32{0, 0}
	q.Call(num.Read(loss, res[:1]), num.Read(net.batchAcc, res[1:])).Finish()
	s := StepStats{
		Step:     t.Step,
		Epoch:    t.Epoch,
		Loss:     float64(res[0]) + net.Lambda*l2,
		Accuracy: float64(res[1]) / float64(n),
		Time:     time.Now(),
	}
	t.StepTime.Add(float64(time.Since(started)) / float64(time.Millisecond))
	if logStep {
		logger.Info("train", zap.Int("step", s.Step), zap.Float64("loss", s.Loss), zap.Float64("acc", s.Accuracy))
		t.scalars(t.TrainLog, s)
	}
	if net.DebugLevel >= 2 {
		net.PrintWeights()
	}
	if t.OnStep != nil {
		t.OnStep(s)
	}
	return s
}

// EvaluateDev evaluates the dev set with the current weights and writes the dev summaries.
func (t *Trainer) EvaluateDev() StepStats {
	loss, acc := t.Test.Evaluate(t.Net)
	s := StepStats{Step: t.Step, Epoch: t.Epoch, Loss: loss, Accuracy: acc, Time: time.Now()}
	logger.Info("evaluation", zap.Int("step", s.Step), zap.Float64("loss", s.Loss), zap.Float64("acc", s.Accuracy))
	t.scalars(t.DevLog, s)
	if t.OnEval != nil {
		t.OnEval(s)
	}
	return s
}

// SaveCheckpoint writes the current state to CheckpointDir. Call between epochs or after Train returns.
func (t *Trainer) SaveCheckpoint() (string, error) {
	return t.saveCheckpoint(t.Epoch, t.Batch)
}

func (t *Trainer) saveCheckpoint(epoch, batch int) (string, error) {
	c := t.Net.Checkpoint(t.Opt, t.Step, epoch)
	c.Batch = batch
	return SaveCheckpoint(t.CheckpointDir, c, t.Net.NumCheckpoints)
}

// Restore the weights, optimizer state and step count from a checkpoint file.
func (t *Trainer) Restore(path string) error {
	c, err := LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err = t.Net.Restore(c, t.Opt); err != nil {
		return err
	}
	t.Step, t.Epoch, t.Batch = c.Step, c.Epoch, c.Batch
	return nil
}

// gradient histogram and sparsity for each parameter
func (t *Trainer) gradSummaries() {
	q := t.Net.queue
	params := t.Net.Params()
	for _, p := range params {
		buf, ok := t.gradBuf[p.Name]
		if !ok {
			buf = make([]float32, p.Grad.Size())
			t.gradBuf[p.Name] = buf
		}
		q.Call(num.Read(p.Grad, buf))
	}
	q.Finish()
	for _, p := range params {
		buf := t.gradBuf[p.Name]
		if err := t.TrainLog.AddHistogram(t.Step, p.Name+"/grad/hist", buf); err != nil {
			logger.Warn("summary", zap.Error(err))
		}
		if err := t.TrainLog.AddScalar(t.Step, p.Name+"/grad/sparsity", summary.Sparsity(buf)); err != nil {
			logger.Warn("summary", zap.Error(err))
		}
	}
}

func (t *Trainer) scalars(w *summary.Writer, s StepStats) {
	if w == nil {
		return
	}
	if err := w.AddScalar(s.Step, "loss", s.Loss); err != nil {
		logger.Warn("summary", zap.Error(err))
	}
	if err := w.AddScalar(s.Step, "accuracy", s.Accuracy); err != nil {
		logger.Warn("summary", zap.Error(err))
	}
}

func (t *Trainer) flush() {
	for _, w := range []*summary.Writer{t.TrainLog, t.DevLog} {
		if w != nil {
			if err := w.Flush(); err != nil {
				logger.Warn("summary flush", zap.Error(err))
			}
		}
	}
}
