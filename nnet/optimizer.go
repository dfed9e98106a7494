package nnet

import (
	"fmt"
	"math"
	"sort"

	"github.com/jnb666/textcnn/num"
)

// Optimizer updates the weights given the gradients for each named parameter.
type Optimizer interface {
	// Update parameter w with gradient dw
	Update(q num.Queue, name string, w, dw num.Array)
	// Step is called after all parameters have been updated for the current batch
	Step()
	// State returns a copy of any internal state
	State(q num.Queue) OptimizerState
	// SetState restores the state from a checkpoint
	SetState(q num.Queue, s OptimizerState) error
	String() string
}

// OptimizerState holds the step count and any per parameter slot values, keyed by name/slot.
type OptimizerState struct {
	Type  string
	Steps int
	Slots map[string][]float32
}

// NewOptimizer creates an optimizer of type conf.Optimizer with learning rate conf.Eta
func NewOptimizer(conf Config) (Optimizer, error) {
	switch conf.Optimizer {
	case "sgd":
		return &SGD{Eta: conf.Eta}, nil
	case "adam", "":
		return NewAdam(conf.Eta), nil
	default:
		return nil, fmt.Errorf("invalid optimizer %q", conf.Optimizer)
	}
}

// Stochastic gradient descent: w <- w - eta*dw
type SGD struct {
	Eta   float64
	steps int
}

func (o *SGD) Update(q num.Queue, name string, w, dw num.Array) {
	q.Call(num.Axpy(-float32(o.Eta), dw, w))
}

func (o *SGD) Step() { o.steps++ }

func (o *SGD) State(q num.Queue) OptimizerState {
	return OptimizerState{Type: "sgd", Steps: o.steps}
}

func (o *SGD) SetState(q num.Queue, s OptimizerState) error {
	if s.Type != "sgd" {
		return fmt.Errorf("cannot restore %s optimizer state to sgd", s.Type)
	}
	o.steps = s.Steps
	return nil
}

func (o *SGD) String() string { return fmt.Sprintf("sgd eta=%g", o.Eta) }

// Adam optimizer with bias corrected first and second moment estimates. Zero values for Beta1, Beta2
// and Eps are replaced with the standard settings on first use.
type Adam struct {
	Eta, Beta1, Beta2, Eps float64
	steps                  int
	m, v                   map[string]num.Array
}

// NewAdam returns an Adam optimizer with the standard decay rates.
func NewAdam(eta float64) *Adam {
	o := &Adam{Eta: eta}
	o.init()
	return o
}

func (o *Adam) init() {
	if o.m != nil {
		return
	}
	if o.Beta1 == 0 {
		o.Beta1 = 0.9
	}
	if o.Beta2 == 0 {
		o.Beta2 = 0.999
	}
	if o.Eps == 0 {
		o.Eps = 1e-8
	}
	o.m = make(map[string]num.Array)
	o.v = make(map[string]num.Array)
}

func (o *Adam) Update(q num.Queue, name string, w, dw num.Array) {
	o.init()
	m, ok := o.m[name]
	if !ok {
		m = q.NewArray(num.Float32, w.Size())
		o.m[name] = m
		q.Call(num.Fill(m, 0))
	}
	v, ok := o.v[name]
	if !ok {
		v = q.NewArray(num.Float32, w.Size())
		o.v[name] = v
		q.Call(num.Fill(v, 0))
	}
	t := float64(o.steps + 1)
	lr := o.Eta * math.Sqrt(1-math.Pow(o.Beta2, t)) / (1 - math.Pow(o.Beta1, t))
	q.Call(num.Adam(w, dw, m, v, float32(lr), float32(o.Beta1), float32(o.Beta2), float32(o.Eps)))
}

func (o *Adam) Step() { o.steps++ }

func (o *Adam) State(q num.Queue) OptimizerState {
	s := OptimizerState{Type: "adam", Steps: o.steps, Slots: make(map[string][]float32)}
	for _, name := range sortedKeys(o.m) {
		m, v := make([]float32, o.m[name].Size()), make([]float32, o.v[name].Size())
		q.Call(num.Read(o.m[name], m), num.Read(o.v[name], v))
		s.Slots[name+"/m"] = m
		s.Slots[name+"/v"] = v
	}
	q.Finish()
	return s
}

func (o *Adam) SetState(q num.Queue, s OptimizerState) error {
	if s.Type != "adam" {
		return fmt.Errorf("cannot restore %s optimizer state to adam", s.Type)
	}
	o.init()
	o.steps = s.Steps
	for key, data := range s.Slots {
		var slots map[string]num.Array
		var name string
		switch {
		case len(key) > 2 && key[len(key)-2:] == "/m":
			slots, name = o.m, key[:len(key)-2]
		case len(key) > 2 && key[len(key)-2:] == "/v":
			slots, name = o.v, key[:len(key)-2]
		default:
			return fmt.Errorf("invalid adam state key %q", key)
		}
		arr := q.NewArray(num.Float32, len(data))
		q.Call(num.Write(arr, data))
		slots[name] = arr
	}
	q.Finish()
	return nil
}

func (o *Adam) String() string {
	return fmt.Sprintf("adam eta=%g beta1=%g beta2=%g eps=%g", o.Eta, o.Beta1, o.Beta2, o.Eps)
}

func sortedKeys(m map[string]num.Array) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
