package nnet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Training configuration settings
type Config struct {
	PositiveFile    string
	NegativeFile    string
	DevPercent      float64
	DevSamples      int
	MaxSeqLen       int
	EmbeddingDim    int
	FilterSizes     string
	NumFilters      int
	DropoutKeep     float64
	Lambda          float64
	Optimizer       string
	Eta             float64
	TrainBatch      int
	TestBatch       int
	MaxEpoch        int
	EvaluateEvery   int
	CheckpointEvery int
	NumCheckpoints  int
	LogEvery        int
	HistogramEvery  int
	StopAfter       int
	MinLoss         float64
	RandSeed        int64
	Threads         int
	OutDir          string
	Resume          string
	DebugLevel      int
	Profile         bool
	Layers          []LayerConfig
}

// DefaultConfig returns the standard settings for sentence polarity classification.
func DefaultConfig() Config {
	return Config{
		PositiveFile:    "./data/rt-polaritydata/rt-polarity.pos",
		NegativeFile:    "./data/rt-polaritydata/rt-polarity.neg",
		DevPercent:      0.1,
		EmbeddingDim:    128,
		FilterSizes:     "3,4,5",
		NumFilters:      128,
		DropoutKeep:     0.5,
		Optimizer:       "adam",
		Eta:             1e-4,
		TrainBatch:      32,
		TestBatch:       100,
		MaxEpoch:        200,
		EvaluateEvery:   100,
		CheckpointEvery: 100,
		NumCheckpoints:  5,
		LogEvery:        1,
		HistogramEvery:  10,
		RandSeed:        10,
		OutDir:          "runs",
	}
}

// Load config from a JSON file, or from YAML if the file has a .yaml or .yml extension.
// Fields which are not set in the file keep their default values.
func LoadConfig(name string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(name)
	if err != nil {
		return c, err
	}
	logger.Sugar().Debugf("loading network config from %s", name)
	if isYAML(name) {
		var doc map[string]interface{}
		if err = yaml.Unmarshal(data, &doc); err != nil {
			return c, fmt.Errorf("config %s: %w", name, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return c, fmt.Errorf("config %s: %w", name, err)
		}
	}
	if err = json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", name, err)
	}
	return c, nil
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to a JSON or YAML file. The file is written to a temporary name first and then renamed.
func (c Config) Save(name string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if isYAML(name) {
		var doc map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err = dec.Decode(&doc); err != nil {
			return err
		}
		if data, err = yaml.Marshal(yamlNumbers(doc)); err != nil {
			return err
		}
	}
	tmp := filepath.Join(filepath.Dir(name), "."+filepath.Base(name))
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	logger.Sugar().Debugf("saving network config to %s", name)
	return os.Rename(tmp, name)
}

// replace json.Number values with int64 or float64 so integers keep their full precision
func yamlNumbers(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]interface{}:
		for key, val := range v {
			v[key] = yamlNumbers(val)
		}
	case []interface{}:
		for i, val := range v {
			v[i] = yamlNumbers(val)
		}
	}
	return v
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Fields returns the names of the scalar settings: all except the layer list.
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-16s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Layers != nil {
		str := []string{"\n== Network =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, fmt.Errorf("unknown config field %q", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.String:
		f.SetString(val)
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	default:
		return c, fmt.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, err
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, fmt.Errorf("invalid type for SetBool: %s", key)
}

// ParseFilterSizes converts a comma separated list such as "3,4,5" to a slice of ints.
func ParseFilterSizes(s string) ([]int, error) {
	var sizes []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid filter size %q: %w", field, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid filter size %d", n)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, errors.New("no filter sizes given")
	}
	return sizes, nil
}

// TextCNN returns a copy of the config with the layer list built from the model hyperparameters:
// embedding, convolution and max pooling for each filter size, dropout, linear output and softmax.
// Existing layers are left unchanged.
func (c Config) TextCNN() (Config, error) {
	if len(c.Layers) > 0 {
		return c, nil
	}
	sizes, err := ParseFilterSizes(c.FilterSizes)
	if err != nil {
		return c, err
	}
	return c.AddLayers(
		Embedding{Dim: c.EmbeddingDim},
		ConvPool{Sizes: sizes, Nfeats: c.NumFilters},
		Dropout{Keep: c.DropoutKeep},
		Linear{Decay: true},
		LogRegression{},
	), nil
}

// Validate checks that the settings are in range.
func (c Config) Validate() error {
	switch {
	case c.DevPercent < 0 || c.DevPercent >= 1:
		return fmt.Errorf("DevPercent %g must be in range [0, 1)", c.DevPercent)
	case c.DevSamples < 0:
		return fmt.Errorf("DevSamples %d must not be negative", c.DevSamples)
	case c.EmbeddingDim < 1:
		return fmt.Errorf("EmbeddingDim %d must be positive", c.EmbeddingDim)
	case c.NumFilters < 1:
		return fmt.Errorf("NumFilters %d must be positive", c.NumFilters)
	case c.DropoutKeep <= 0 || c.DropoutKeep > 1:
		return fmt.Errorf("DropoutKeep %g must be in range (0, 1]", c.DropoutKeep)
	case c.Lambda < 0:
		return fmt.Errorf("Lambda %g must not be negative", c.Lambda)
	case c.Eta <= 0:
		return fmt.Errorf("Eta %g must be positive", c.Eta)
	case c.TrainBatch < 1 || c.TestBatch < 1:
		return fmt.Errorf("batch sizes %d, %d must be positive", c.TrainBatch, c.TestBatch)
	case c.MaxEpoch < 1:
		return fmt.Errorf("MaxEpoch %d must be positive", c.MaxEpoch)
	case c.NumCheckpoints < 1:
		return fmt.Errorf("NumCheckpoints %d must be positive", c.NumCheckpoints)
	}
	if _, err := NewOptimizer(c); err != nil {
		return err
	}
	_, err := ParseFilterSizes(c.FilterSizes)
	return err
}
