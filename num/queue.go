package num

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const queueSize = 64

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dtype DataType, dims ...int) Array
	NewArrayLike(a Array) Array
}

// Initialise new CPU device
func NewDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Number of worker goroutines used by parallel kernels
	Threads() int
	// Asyncronous function call
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Enable profiling
	Profiling(on bool)
	Profile() string
}

// Function which may be called via the queue
type Function struct {
	name string
	fn   func(threads int)
}

// NewFunction wraps a kernel so that it can be queued.
func NewFunction(name string, fn func(threads int)) Function {
	return Function{name: name, fn: fn}
}

func (f Function) String() string { return f.name }

type cpuDevice struct{}

type cpuQueue struct {
	cpuDevice
	threads int
	buffer  [queueSize]Function
	queued  int
	*profile
}

// NewQueue creates a queue which runs kernels on up to threads goroutines, if threads < 1 then use all cores.
func (d cpuDevice) NewQueue(threads int) Queue {
	if threads < 1 {
		threads = runtime.NumCPU()
	}
	return &cpuQueue{
		cpuDevice: d,
		threads:   threads,
		profile:   newProfile(),
	}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) Threads() int { return q.threads }

func (q *cpuQueue) exec() {
	for _, f := range q.buffer[:q.queued] {
		if q.profile.enabled {
			start := time.Now()
			f.fn(q.threads)
			q.profile.add(f.name, time.Since(start))
		} else {
			f.fn(q.threads)
		}
	}
	q.queued = 0
}

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, arg := range args {
		if q.queued >= queueSize {
			q.exec()
		}
		q.buffer[q.queued] = arg
		q.queued++
	}
	return q
}

func (q *cpuQueue) Finish() {
	if q.queued > 0 {
		q.exec()
	}
}

func (q *cpuQueue) Shutdown() {
	q.Finish()
}

// Parallel runs body for each i in [0, n) using up to threads goroutines.
func Parallel(threads, n int, body func(i int)) {
	if threads <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			body(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(threads)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			body(i)
			return nil
		})
	}
	g.Wait()
}

// profiling functions
type profile struct {
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.enabled = on
}

func (p *profile) add(name string, elapsed time.Duration) {
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += float64(elapsed) / float64(time.Millisecond)
	p.prof[name] = r
}

// Profile returns a table of the time spent in each kernel, slowest first.
func (p *profile) Profile() string {
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	totalCalls := int64(0)
	totalMsec := 0.0
	s := []string{}
	for _, r := range list {
		s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", r.name, r.calls, r.msec))
		totalCalls += r.calls
		totalMsec += r.msec
	}
	s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", "TOTAL", totalCalls, totalMsec))
	return strings.Join(s, "\n")
}
