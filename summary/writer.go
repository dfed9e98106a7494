// Package summary records scalar and histogram training summaries to a SQLite database and
// provides routines to read them back and plot them.
package summary

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"
)

const (
	// DBName is the database file created in each summary directory.
	DBName = "events.db"
	// Buckets is the number of equal width histogram buckets.
	Buckets = 30
	// FlushEvery is the default number of records written per transaction.
	FlushEvery = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scalars (
	step      INTEGER NOT NULL,
	tag       TEXT NOT NULL,
	value     REAL NOT NULL,
	wall_time REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS scalars_tag ON scalars(tag, step);
CREATE TABLE IF NOT EXISTS histograms (
	step        INTEGER NOT NULL,
	tag         TEXT NOT NULL,
	min         REAL NOT NULL,
	max         REAL NOT NULL,
	num         REAL NOT NULL,
	sum         REAL NOT NULL,
	sum_squares REAL NOT NULL,
	limits      TEXT NOT NULL,
	counts      TEXT NOT NULL,
	wall_time   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS histograms_tag ON histograms(tag, step);
`

// Writer appends summaries to the database in a directory. Writes are batched in a transaction
// which is committed every FlushEvery records, on Flush and on Close. Safe for concurrent use.
type Writer struct {
	Dir        string
	FlushEvery int
	db         *sql.DB
	tx         *sql.Tx
	pending    int
	runID      string
	mu         sync.Mutex
}

// Open creates the directory and database if needed and returns a new writer.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := openDB(filepath.Join(dir, DBName))
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("summary schema: %w", err)
	}
	w := &Writer{Dir: dir, FlushEvery: FlushEvery, db: db}
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'run_id'`).Scan(&w.runID)
	if err == sql.ErrNoRows {
		w.runID = uuid.NewString()
		err = w.SetMeta("run_id", w.runID)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// RunID is the unique identifier stored when the database was created.
func (w *Writer) RunID() string {
	return w.runID
}

// SetMeta stores a key value pair, replacing any existing value.
func (w *Writer) SetMeta(key, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.exec(`INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return err
	}
	return w.flush()
}

// AddScalar records a single value.
func (w *Writer) AddScalar(step int, tag string, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exec(`INSERT INTO scalars(step, tag, value, wall_time) VALUES(?, ?, ?, ?)`,
		step, tag, value, wallTime())
}

// AddHistogram records the distribution of values.
func (w *Writer) AddHistogram(step int, tag string, values []float32) error {
	h := NewHistogram(values, Buckets)
	limits, err := json.Marshal(h.Limits)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(h.Counts)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exec(`INSERT INTO histograms(step, tag, min, max, num, sum, sum_squares, limits, counts, wall_time)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step, tag, h.Min, h.Max, h.Num, h.Sum, h.SumSquares, string(limits), string(counts), wallTime())
}

// queue a statement in the current transaction, committing if the batch is full
func (w *Writer) exec(query string, args ...interface{}) error {
	if w.tx == nil {
		tx, err := w.db.Begin()
		if err != nil {
			return err
		}
		w.tx = tx
	}
	if _, err := w.tx.Exec(query, args...); err != nil {
		return err
	}
	w.pending++
	if w.FlushEvery > 0 && w.pending >= w.FlushEvery {
		return w.flush()
	}
	return nil
}

// Flush commits any pending records.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *Writer) flush() error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Commit()
	w.tx = nil
	w.pending = 0
	return err
}

// Close flushes pending records and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.flush()
	if cerr := w.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Histogram summarises a distribution of values. Counts[i] is the number of values in the range
// [Limits[i], Limits[i+1]).
type Histogram struct {
	Step       int
	Min, Max   float64
	Num        float64
	Sum        float64
	SumSquares float64
	Limits     []float64
	Counts     []float64
}

// NewHistogram bins the values into the given number of equal width buckets. NaN values are skipped.
func NewHistogram(values []float32, buckets int) Histogram {
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(float64(v)) {
			x = append(x, float64(v))
		}
	}
	h := Histogram{Num: float64(len(x))}
	if len(x) == 0 {
		return h
	}
	sort.Float64s(x)
	h.Min, h.Max = x[0], x[len(x)-1]
	h.Sum = floats.Sum(x)
	h.SumSquares = floats.Dot(x, x)
	if h.Min == h.Max {
		buckets = 1
	}
	h.Limits = floats.Span(make([]float64, buckets+1), h.Min, h.Max)
	h.Limits[buckets] = math.Nextafter(h.Max, math.Inf(1))
	h.Counts = stat.Histogram(nil, h.Limits, x, nil)
	return h
}

// Mean of the values in the histogram
func (h Histogram) Mean() float64 {
	if h.Num == 0 {
		return 0
	}
	return h.Sum / h.Num
}

// Sparsity returns the fraction of values which are zero.
func Sparsity(values []float32) float64 {
	if len(values) == 0 {
		return 0
	}
	zeros := 0
	for _, v := range values {
		if v == 0 {
			zeros++
		}
	}
	return float64(zeros) / float64(len(values))
}
