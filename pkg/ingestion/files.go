package ingestion

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"gopkg.in/guregu/null.v3"
)

// TablePath locates TABLE.csv or TABLE.csv.gz inside dir.
func TablePath(dir, table string) (string, error) {
	candidates := []string{
		table + ".csv",
		table + ".csv.gz",
		strings.ToLower(table) + ".csv",
		strings.ToLower(table) + ".csv.gz",
	}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("table %s not found in %s: %w", table, dir, os.ErrNotExist)
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

func openCSV(path string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return file, nil
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening gzip %s: %w", path, err)
	}
	return gzipFile{Reader: gz, file: file}, nil
}

// normalizedReader validates and upper-cases the header line, then returns a
// csv.Reader positioned at the header so gocsv sees canonical column names.
func normalizedReader(path string, in io.Reader, required []string) (*csv.Reader, error) {
	br := bufio.NewReader(in)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	if strings.TrimSpace(line) == "" {
		return nil, FormatError{Path: path, reason: fmt.Errorf("empty header: %w", errMissingColumn)}
	}

	header, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, FormatError{Path: path, reason: fmt.Errorf("unreadable header: %w", err)}
	}
	if err := ValidateHeader(path, header, required); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	hw := csv.NewWriter(&buf)
	if err := hw.Write(header); err != nil {
		return nil, err
	}
	hw.Flush()

	r := csv.NewReader(io.MultiReader(&buf, br))
	r.FieldsPerRecord = -1
	return r, nil
}

// DecodeFile unmarshals a whole CSV table into out, a pointer to a slice of
// row structs tagged with upper-case column names.
func DecodeFile(path string, required []string, out interface{}) error {
	rc, err := openCSV(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	r, err := normalizedReader(path, rc, required)
	if err != nil {
		return err
	}
	if err := gocsv.UnmarshalCSV(r, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// ParseTime accepts the export layout and falls back to dateparse for
// anything else. Times are interpreted as UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(models.TimeLayout, value); err == nil {
		return t, nil
	}
	return dateparse.ParseIn(value, time.UTC)
}

func ParseOptionalTime(value string) (null.Time, error) {
	if isNull(value) {
		return null.Time{}, nil
	}
	t, err := ParseTime(value)
	if err != nil {
		return null.Time{}, err
	}
	return null.TimeFrom(t), nil
}

// ParseID parses an identifier, tolerating the "123.0" form produced by
// float-typed exports.
func ParseID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("identifier %q is not integral", value)
	}
	return int64(f), nil
}

// ParseOptionalID returns an invalid null.Int for blank or NaN values.
func ParseOptionalID(value string) (null.Int, error) {
	if isNull(value) {
		return null.Int{}, nil
	}
	id, err := ParseID(value)
	if err != nil {
		return null.Int{}, err
	}
	return null.IntFrom(id), nil
}

func FormatOptionalID(id null.Int) string {
	if !id.Valid {
		return ""
	}
	return strconv.FormatInt(id.Int64, 10)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.TimeLayout)
}

func FormatOptionalTime(t null.Time) string {
	if !t.Valid {
		return ""
	}
	return FormatTime(t.Time)
}

func isNull(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "nan", "null", "na":
		return true
	}
	return false
}
