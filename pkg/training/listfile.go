package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

const (
	ListfileName   = "listfile.csv"
	ListfileHeader = "stay,period_length,y_true"
)

var ErrMalformedListfile = errors.New("malformed listfile")

// listfileRow keeps every column as text so a bad value is reported with its
// line instead of a reflection error.
type listfileRow struct {
	Stay         string `csv:"stay"`
	PeriodLength string `csv:"period_length"`
	YTrue        string `csv:"y_true"`
}

// LoadListfile reads the example manifest. The first line is a header and is
// skipped whatever it contains.
func LoadListfile(path string) ([]models.Example, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseListfile(path, file)
}

func ParseListfile(name string, in io.Reader) ([]models.Example, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedListfile, name, err)
	}
	r.FieldsPerRecord = 3

	var rows []listfileRow
	if err := gocsv.UnmarshalCSVWithoutHeaders(r, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedListfile, name, err)
	}

	examples := make([]models.Example, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		t, err := strconv.ParseFloat(strings.TrimSpace(row.PeriodLength), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: time bound %q", ErrMalformedListfile, name, line, row.PeriodLength)
		}
		y, err := strconv.Atoi(strings.TrimSpace(row.YTrue))
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: label %q", ErrMalformedListfile, name, line, row.YTrue)
		}
		examples = append(examples, models.Example{Filename: row.Stay, TimeBound: t, Label: y})
	}
	return examples, nil
}

func WriteListfile(path string, examples []models.Example) error {
	rows := make([]listfileRow, 0, len(examples))
	for _, e := range examples {
		rows = append(rows, listfileRow{
			Stay:         e.Filename,
			PeriodLength: strconv.FormatFloat(e.TimeBound, 'f', 6, 64),
			YTrue:        strconv.Itoa(e.Label),
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(rows, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
