package ingestion

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

// LABEVENTS carries no ICUSTAY_ID column, so only these are mandatory.
var eventColumns = []string{"SUBJECT_ID", "HADM_ID", "CHARTTIME", "ITEMID", "VALUE"}

// EventRow is the on-disk shape of an event, both in the raw export and in
// per-subject events.csv files.
type EventRow struct {
	SubjectID string `csv:"SUBJECT_ID"`
	HadmID    string `csv:"HADM_ID"`
	ICUStayID string `csv:"ICUSTAY_ID"`
	CharTime  string `csv:"CHARTTIME"`
	ItemID    string `csv:"ITEMID"`
	Value     string `csv:"VALUE"`
	ValueUOM  string `csv:"VALUEUOM"`
}

func NewEventRow(e models.Event) *EventRow {
	return &EventRow{
		SubjectID: fmt.Sprint(e.SubjectID),
		HadmID:    FormatOptionalID(e.HadmID),
		ICUStayID: FormatOptionalID(e.ICUStayID),
		CharTime:  FormatTime(e.CharTime),
		ItemID:    fmt.Sprint(e.ItemID),
		Value:     e.Value,
		ValueUOM:  e.ValueUOM,
	}
}

// Event converts the row. Identifiers that fail to parse are treated as
// missing; the subject id, item id and chart time are mandatory.
func (r *EventRow) Event() (models.Event, error) {
	subjectID, err := ParseID(r.SubjectID)
	if err != nil {
		return models.Event{}, fmt.Errorf("SUBJECT_ID %q: %w", r.SubjectID, errInvalidValue)
	}
	itemID, err := ParseID(r.ItemID)
	if err != nil {
		return models.Event{}, fmt.Errorf("ITEMID %q: %w", r.ItemID, errInvalidValue)
	}
	if isNull(r.CharTime) {
		return models.Event{}, fmt.Errorf("CHARTTIME missing: %w", errInvalidValue)
	}
	charTime, err := ParseTime(r.CharTime)
	if err != nil {
		return models.Event{}, fmt.Errorf("CHARTTIME %q: %w", r.CharTime, errInvalidValue)
	}
	hadmID, _ := ParseOptionalID(r.HadmID)
	icuStayID, _ := ParseOptionalID(r.ICUStayID)
	return models.Event{
		SubjectID: subjectID,
		HadmID:    hadmID,
		ICUStayID: icuStayID,
		CharTime:  charTime,
		ItemID:    itemID,
		Value:     strings.TrimSpace(r.Value),
		ValueUOM:  strings.TrimSpace(r.ValueUOM),
	}, nil
}

// EventFilter restricts a stream to a set of subjects and measurement ids.
// Nil sets accept everything.
type EventFilter struct {
	Subjects map[int64]struct{}
	ItemIDs  map[int64]struct{}
}

func (f EventFilter) Accept(e models.Event) bool {
	if f.Subjects != nil {
		if _, ok := f.Subjects[e.SubjectID]; !ok {
			return false
		}
	}
	if f.ItemIDs != nil {
		if _, ok := f.ItemIDs[e.ItemID]; !ok {
			return false
		}
	}
	return true
}

type StreamStats struct {
	Rows      int
	Kept      int
	Filtered  int
	Malformed int
}

// StreamEvents decodes path row by row and hands every accepted event to fn.
// The table is never held in memory. The first error returned by fn stops
// delivery and is returned.
func StreamEvents(path string, filter EventFilter, fn func(models.Event) error) (StreamStats, error) {
	rc, err := openCSV(path)
	if err != nil {
		return StreamStats{}, err
	}
	defer rc.Close()
	return DecodeEvents(path, rc, filter, fn)
}

func DecodeEvents(name string, in io.Reader, filter EventFilter, fn func(models.Event) error) (StreamStats, error) {
	var stats StreamStats
	r, err := normalizedReader(name, in, eventColumns)
	if err != nil {
		return stats, err
	}
	um, err := gocsv.NewUnmarshaller(r, EventRow{})
	if err != nil {
		return stats, fmt.Errorf("decoding events %s: %w", name, err)
	}
	for {
		record, err := um.Read()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("decoding events %s row %d: %w", name, stats.Rows+1, err)
		}
		stats.Rows++
		row := record.(EventRow)
		event, err := row.Event()
		if err != nil {
			stats.Malformed++
			continue
		}
		if !filter.Accept(event) {
			stats.Filtered++
			continue
		}
		if err := fn(event); err != nil {
			return stats, err
		}
		stats.Kept++
	}
}

// ReadEvents loads a small events file, such as a subject's events.csv.
func ReadEvents(path string) ([]models.Event, error) {
	var events []models.Event
	_, err := StreamEvents(path, EventFilter{}, func(e models.Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

func WriteEvents(w io.Writer, events []models.Event, withHeader bool) error {
	rows := make([]*EventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, NewEventRow(e))
	}
	if withHeader {
		return gocsv.Marshal(rows, w)
	}
	return gocsv.MarshalWithoutHeaders(rows, w)
}

// ReadItemIDs loads the ITEMID whitelist file.
func ReadItemIDs(path string) (map[int64]struct{}, error) {
	type itemRow struct {
		ItemID string `csv:"ITEMID"`
	}
	var rows []*itemRow
	if err := DecodeFile(path, []string{"ITEMID"}, &rows); err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(rows))
	for i, row := range rows {
		id, err := ParseID(row.ItemID)
		if err != nil {
			return nil, invalidValue(path, i+1, "ITEMID", row.ItemID, err)
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}
