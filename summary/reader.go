package summary

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Scalar is a single recorded value.
type Scalar struct {
	Step     int
	Value    float64
	WallTime time.Time
}

// Reader provides read only access to a summary directory.
type Reader struct {
	Dir string
	db  *sql.DB
}

// OpenReader opens the database in dir, which must already exist.
func OpenReader(dir string) (*Reader, error) {
	path := filepath.Join(dir, DBName)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{Dir: dir, db: db}, nil
}

// Meta returns the value stored for key, or an empty string if not set.
func (r *Reader) Meta(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Tags lists the distinct scalar tags in sorted order.
func (r *Reader) Tags() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT tag FROM scalars ORDER BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err = rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Scalars returns the values recorded for tag in step order.
func (r *Reader) Scalars(tag string) ([]Scalar, error) {
	rows, err := r.db.Query(`SELECT step, value, wall_time FROM scalars WHERE tag = ? ORDER BY step, rowid`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Scalar
	for rows.Next() {
		var s Scalar
		var wall float64
		if err = rows.Scan(&s.Step, &s.Value, &wall); err != nil {
			return nil, err
		}
		s.WallTime = time.Unix(0, int64(wall*1e9))
		res = append(res, s)
	}
	return res, rows.Err()
}

// Histograms returns the distributions recorded for tag in step order.
func (r *Reader) Histograms(tag string) ([]Histogram, error) {
	rows, err := r.db.Query(`SELECT step, min, max, num, sum, sum_squares, limits, counts
		FROM histograms WHERE tag = ? ORDER BY step, rowid`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Histogram
	for rows.Next() {
		var h Histogram
		var limits, counts string
		if err = rows.Scan(&h.Step, &h.Min, &h.Max, &h.Num, &h.Sum, &h.SumSquares, &limits, &counts); err != nil {
			return nil, err
		}
		if err = json.Unmarshal([]byte(limits), &h.Limits); err != nil {
			return nil, fmt.Errorf("histogram %s limits: %w", tag, err)
		}
		if err = json.Unmarshal([]byte(counts), &h.Counts); err != nil {
			return nil, fmt.Errorf("histogram %s counts: %w", tag, err)
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// Close the database
func (r *Reader) Close() error {
	return r.db.Close()
}
