package ingestion

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errMissingColumn = errors.New("missing required column")
	errInvalidValue  = errors.New("invalid value")
)

// FormatError marks a structurally broken input file. Processing of that file
// stops; sibling files are unaffected.
type FormatError struct {
	Path   string
	reason error
}

func (e FormatError) Error() string {
	if e.Path == "" {
		return e.reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Path, e.reason.Error())
}

func (e FormatError) Unwrap() error {
	return e.reason
}

func IsFormatError(err error) bool {
	var fe FormatError
	return errors.As(err, &fe)
}

// ValidateHeader upper-cases header in place and checks that every required
// column is present.
func ValidateHeader(path string, header []string, required []string) error {
	present := make(map[string]struct{}, len(header))
	for i, col := range header {
		col = strings.ToUpper(strings.TrimSpace(col))
		header[i] = col
		present[col] = struct{}{}
	}

	var missing []string
	for _, col := range required {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return FormatError{Path: path, reason: fmt.Errorf("%s: %w", strings.Join(missing, ","), errMissingColumn)}
	}
	return nil
}

func invalidValue(path string, row int, column, value string, err error) error {
	return FormatError{Path: path, reason: fmt.Errorf("row %d column %s value %q: %v: %w", row, column, value, err, errInvalidValue)}
}

func NewFormatError(path string, reason error) error {
	return FormatError{Path: path, reason: reason}
}
