package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

// HoursColumn must head every time-series file.
const HoursColumn = "Hours"

// timeEpsilon absorbs float rounding at the exact bound.
const timeEpsilon = 1e-6

var (
	ErrIndexOutOfRange    = errors.New("example index out of range")
	ErrInvalidHours       = errors.New("hours must be a finite number")
	ErrMissingHoursColumn = errors.New("time series has no Hours column")
)

type Sample struct {
	Series [][]string `json:"series"`
	T      float64    `json:"t"`
	Y      int        `json:"y"`
	Header []string   `json:"header"`
	Name   string     `json:"name"`
}

// Reader serves decompensation examples from a listfile. The example list is
// never modified in place: Shuffle installs a new ordering, so cursors taken
// earlier keep theirs. A Reader is not safe for concurrent use.
type Reader struct {
	datasetDir string
	examples   []models.Example
	next       int
}

// NewReader loads listfile, or <datasetDir>/listfile.csv when listfile is empty.
func NewReader(datasetDir, listfile string) (*Reader, error) {
	if listfile == "" {
		listfile = filepath.Join(datasetDir, ListfileName)
	}
	examples, err := LoadListfile(listfile)
	if err != nil {
		return nil, err
	}
	return NewReaderFromExamples(datasetDir, examples), nil
}

func NewReaderFromExamples(datasetDir string, examples []models.Example) *Reader {
	return &Reader{datasetDir: datasetDir, examples: append([]models.Example(nil), examples...)}
}

func (r *Reader) Count() int {
	return len(r.examples)
}

func (r *Reader) Examples() []models.Example {
	return append([]models.Example(nil), r.examples...)
}

// Shuffle reorders the examples. A nil seed draws one from the clock. The
// ReadNext position is kept, as it indexes into the new order.
func (r *Reader) Shuffle(seed *int64) {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	shuffled := append([]models.Example(nil), r.examples...)
	rng := rand.New(rand.NewSource(s))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	r.examples = shuffled
}

func (r *Reader) ReadAt(index int) (Sample, error) {
	return readExample(r.datasetDir, r.examples, index)
}

// ReadNext reads the example at the internal position and advances it,
// wrapping to 0 after the last example.
func (r *Reader) ReadNext() (Sample, error) {
	index := r.next
	if n := len(r.examples); n > 0 {
		r.next = (r.next + 1) % n
	}
	return r.ReadAt(index)
}

// Cursor returns an independent traversal over the current order.
func (r *Reader) Cursor() *Cursor {
	return &Cursor{datasetDir: r.datasetDir, examples: r.examples}
}

type Cursor struct {
	datasetDir string
	examples   []models.Example
	pos        int
}

func (c *Cursor) Position() int {
	return c.pos
}

func (c *Cursor) Next() (Sample, error) {
	index := c.pos
	if n := len(c.examples); n > 0 {
		c.pos = (c.pos + 1) % n
	}
	return readExample(c.datasetDir, c.examples, index)
}

func readExample(datasetDir string, examples []models.Example, index int) (Sample, error) {
	if index < 0 || index >= len(examples) {
		return Sample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(examples))
	}
	example := examples[index]
	series, err := ReadTimeSeries(filepath.Join(datasetDir, example.Filename), example.TimeBound)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Series: series.Rows,
		T:      example.TimeBound,
		Y:      example.Label,
		Header: series.Header,
		Name:   example.Filename,
	}, nil
}

// ReadTimeSeries returns the rows of path whose Hours value is within bound.
// Reading stops at the first row past the bound.
func ReadTimeSeries(path string, bound float64) (models.TimeSeries, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.TimeSeries{}, err
	}
	defer file.Close()
	return decodeTimeSeries(path, file, bound)
}

func decodeTimeSeries(name string, in io.Reader, bound float64) (models.TimeSeries, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return models.TimeSeries{}, fmt.Errorf("%s: %w", name, ErrMissingHoursColumn)
		}
		return models.TimeSeries{}, fmt.Errorf("%s: %w", name, err)
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) != HoursColumn {
		return models.TimeSeries{}, fmt.Errorf("%s: %w", name, ErrMissingHoursColumn)
	}

	series := models.TimeSeries{Header: header}
	for {
		record, err := r.Read()
		if err == io.EOF {
			return series, nil
		}
		if err != nil {
			return series, fmt.Errorf("%s: %w", name, err)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return series, fmt.Errorf("%s row %d: hours %q: %w", name, len(series.Rows)+1, record[0], err)
		}
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return series, fmt.Errorf("%s row %d: hours %q: %w", name, len(series.Rows)+1, record[0], ErrInvalidHours)
		}
		if t > bound+timeEpsilon {
			return series, nil
		}
		series.Rows = append(series.Rows, record)
	}
}
