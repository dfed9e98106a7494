package nnet

import (
	"math/rand"
	"sync"

	"github.com/jnb666/textcnn/num"
)

// Data interface type represents the raw data for a training or test set. Each input is a
// sequence of SeqLen token indexes in the range [0, VocabSize).
type Data interface {
	Len() int
	Classes() []string
	SeqLen() int
	VocabSize() int
	Label(index []int, label []int32)
	Input(index []int, buf []int32)
	Text(i int) string
}

// Dataset type encapsulates a set of training, test or validation data.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	queue     num.Queue
	xBuffer   []int32
	yBuffer   []int32
	x, y, y1H [2]num.Array
	rows      [2]int
	ex, ey    num.Array
	ey1H      num.Array
	indexes   []int
	buf       int
	epoch     int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate array buffers and set the batch size.
// If batchSize is zero or larger than the number of samples then the whole set is a single batch.
func NewDataset(dev num.Device, data Data, batchSize int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if batchSize == 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	seqLen := data.SeqLen()
	d.xBuffer = make([]int32, seqLen*d.BatchSize)
	d.yBuffer = make([]int32, d.BatchSize)
	for i := range d.x {
		d.x[i], d.y[i], d.y1H[i] = d.newBuffers(dev)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.queue = dev.NewQueue(1)
	return d
}

func (d *Dataset) newBuffers(dev num.Device) (x, y, y1H num.Array) {
	x = dev.NewArray(num.Int32, d.BatchSize, d.SeqLen())
	y = dev.NewArray(num.Int32, d.BatchSize)
	y1H = dev.NewArray(num.Float32, d.BatchSize, len(d.Classes()))
	return
}

// release allocated buffers
func (d *Dataset) Release() {
	d.Wait()
	for i := range d.x {
		num.Release(d.x[i], d.y[i], d.y1H[i])
	}
	num.Release(d.ex, d.ey, d.ey1H)
	d.queue.Shutdown()
}

// Epoch returns the number of the current epoch, starting from 1.
func (d *Dataset) Epoch() int {
	return d.epoch
}

// fill the input buffers with batch number batch and copy to the given arrays, returns number of samples.
// Rows after the end of the data are padded with zeros.
func (d *Dataset) load(q num.Queue, batch int, x, y, y1H num.Array) int {
	start := batch * d.BatchSize
	end := start + d.BatchSize
	if end > d.Samples {
		end = d.Samples
	}
	n := end - start
	d.Input(d.indexes[start:end], d.xBuffer)
	d.Label(d.indexes[start:end], d.yBuffer)
	for i := n * d.SeqLen(); i < len(d.xBuffer); i++ {
		d.xBuffer[i] = 0
	}
	for i := n; i < len(d.yBuffer); i++ {
		d.yBuffer[i] = -1
	}
	q.Call(
		num.Write(x, d.xBuffer),
		num.Write(y, d.yBuffer),
		num.Onehot(y, y1H, len(d.Classes())),
	).Finish()
	return n
}

// kick of load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func(buf, batch int) {
		defer d.Done()
		d.rows[buf] = d.load(d.queue, batch, d.x[buf], d.y[buf], d.y1H[buf])
	}(d.buf, d.batch)
}

// Get next batch of data. n is the number of valid rows, which is less than the batch size for the
// final batch if the number of samples is not an exact multiple.
func (d *Dataset) NextBatch() (x, y, yOneHot num.Array, n int) {
	d.Wait()
	x, y, yOneHot, n = d.x[d.buf], d.y[d.buf], d.y1H[d.buf], d.rows[d.buf]
	d.batch++
	d.buf = (d.buf + 1) % 2
	if d.batch < d.Batches {
		d.loadBatch()
	}
	return
}

// GetBatch loads the given batch synchronously using a separate set of buffers, so it can be used
// for evaluation without disturbing the sequence returned by NextBatch.
func (d *Dataset) GetBatch(q num.Queue, batch int) (x, y, yOneHot num.Array, n int) {
	d.Wait()
	if d.ex == nil {
		d.ex, d.ey, d.ey1H = d.newBuffers(q)
	}
	n = d.load(q, batch, d.ex, d.ey, d.ey1H)
	return d.ex, d.ey, d.ey1H, n
}

// Called at start of each epoch
func (d *Dataset) NextEpoch() {
	d.Wait()
	d.epoch++
	d.batch = 0
	d.loadBatch()
}

// StartAt skips to the given batch of the current epoch.
func (d *Dataset) StartAt(batch int) {
	d.Wait()
	d.batch = batch
	d.loadBatch()
}

// Rewind to start of data
func (d *Dataset) Rewind() {
	d.Wait()
	d.epoch = 0
	d.batch = 0
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// Index returns the index into the underlying data of the i'th sample in the current order.
func (d *Dataset) Index(i int) int {
	return d.indexes[i]
}

type data struct {
	Class  []string
	Length int
	Vocab  int
	Labels []int32
	Inputs []int32
	Texts  []string
}

// NewData function creates a new in memory data set which implements the Data interface.
// inputs holds len(labels) sequences of seqLen token indexes.
func NewData(classes []string, seqLen, vocabSize int, labels, inputs []int32, texts []string) Data {
	return data{Class: classes, Length: seqLen, Vocab: vocabSize, Labels: labels, Inputs: inputs, Texts: texts}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) SeqLen() int { return d.Length }

func (d data) VocabSize() int { return d.Vocab }

func (d data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []int32) {
	for i, ix := range index {
		copy(buf[i*d.Length:], d.Inputs[ix*d.Length:(ix+1)*d.Length])
	}
}

func (d data) Text(i int) string {
	if i < len(d.Texts) {
		return d.Texts[i]
	}
	return ""
}
