package ingestion

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

const labEvents = `ROW_ID,SUBJECT_ID,HADM_ID,ITEMID,CHARTTIME,VALUE,VALUENUM,VALUEUOM,FLAG
1,3,145834,50868,2101-10-20 16:40:00,17,17,mEq/L,
2,3,,50882,2101-10-20 16:40:00,22,22,mEq/L,
3,4,185777,50868,2101-10-20 16:40:00,12,12,mEq/L,
4,3,145834,50868,,13,13,mEq/L,
`

func TestDecodeEventsWithoutStayColumn(t *testing.T) {
	var got []models.Event
	stats, err := DecodeEvents("LABEVENTS", strings.NewReader(labEvents), EventFilter{
		Subjects: map[int64]struct{}{3: {}},
	}, func(e models.Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Rows != 4 || stats.Kept != 2 || stats.Filtered != 1 || stats.Malformed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got[0].ICUStayID.Valid {
		t.Fatal("expected missing stay id")
	}
	if got[1].HadmID.Valid {
		t.Fatal("expected missing admission id on second event")
	}
	if got[0].ValueUOM != "mEq/L" {
		t.Fatalf("unexpected unit %q", got[0].ValueUOM)
	}
}

func TestDecodeEventsItemFilter(t *testing.T) {
	count := 0
	_, err := DecodeEvents("LABEVENTS", strings.NewReader(labEvents), EventFilter{
		ItemIDs: map[int64]struct{}{50882: {}},
	}, func(models.Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
}

func TestDecodeEventsStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	_, err := DecodeEvents("LABEVENTS", strings.NewReader(labEvents), EventFilter{}, func(models.Event) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestDecodeEventsMissingHeader(t *testing.T) {
	_, err := DecodeEvents("bad", strings.NewReader("SUBJECT_ID,VALUE\n1,2\n"), EventFilter{}, func(models.Event) error { return nil })
	if !IsFormatError(err) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestWriteEventsRoundTrip(t *testing.T) {
	var events []models.Event
	if _, err := DecodeEvents("LABEVENTS", strings.NewReader(labEvents), EventFilter{}, func(e models.Event) error {
		events = append(events, e)
		return nil
	}); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteEvents(&buf, events, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "SUBJECT_ID,HADM_ID,ICUSTAY_ID,CHARTTIME,ITEMID,VALUE,VALUEUOM\n") {
		t.Fatalf("unexpected header in %q", buf.String())
	}

	var again []models.Event
	if _, err := DecodeEvents("events", &buf, EventFilter{}, func(e models.Event) error {
		again = append(again, e)
		return nil
	}); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if len(again) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(again))
	}
	if again[1].HadmID.Valid {
		t.Fatal("missing admission id should stay missing")
	}
}
