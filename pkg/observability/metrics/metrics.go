package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	cohortStays       atomic.Int64
	cohortSubjects    atomic.Int64
	eventsPartitioned atomic.Int64
	eventsMalformed   atomic.Int64
	eventsResolved    atomic.Int64
	eventsDropped     atomic.Int64
	subjectsValidated atomic.Int64
	subjectsSkipped   atomic.Int64
	subjectsFailed    atomic.Int64
	examplesServed    atomic.Int64
)

func ObserveCohort(stays, subjects int) {
	cohortStays.Store(int64(stays))
	cohortSubjects.Store(int64(subjects))
}

func AddPartitioned(kept, malformed int) {
	eventsPartitioned.Add(int64(kept))
	eventsMalformed.Add(int64(malformed))
}

func AddValidated(resolved, dropped int) {
	subjectsValidated.Add(1)
	eventsResolved.Add(int64(resolved))
	eventsDropped.Add(int64(dropped))
}

func IncSubjectSkipped() {
	subjectsSkipped.Add(1)
}

func IncSubjectFailed() {
	subjectsFailed.Add(1)
}

func IncExamplesServed() {
	examplesServed.Add(1)
}

type gauge struct {
	name  string
	help  string
	kind  string
	value *atomic.Int64
}

var exported = []gauge{
	{"decompensation_cohort_stays", "ICU stays in the latest cohort.", "gauge", &cohortStays},
	{"decompensation_cohort_subjects", "Subjects in the latest cohort.", "gauge", &cohortSubjects},
	{"decompensation_events_partitioned_total", "Events written to subject directories.", "counter", &eventsPartitioned},
	{"decompensation_events_malformed_total", "Event rows skipped because they could not be parsed.", "counter", &eventsMalformed},
	{"decompensation_events_resolved_total", "Events assigned to a cohort stay during validation.", "counter", &eventsResolved},
	{"decompensation_events_dropped_total", "Events dropped during validation.", "counter", &eventsDropped},
	{"decompensation_subjects_validated_total", "Subjects whose events were validated.", "counter", &subjectsValidated},
	{"decompensation_subjects_skipped_total", "Subjects skipped because a checkpoint exists.", "counter", &subjectsSkipped},
	{"decompensation_subjects_failed_total", "Subjects whose validation failed.", "counter", &subjectsFailed},
	{"decompensation_reader_examples_served_total", "Examples returned by the reader service.", "counter", &examplesServed},
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, g := range exported {
		fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", g.name, g.kind)
		fmt.Fprintf(w, "%s %d\n", g.name, g.value.Load())
	}
}

// Snapshot returns current values keyed by metric name.
func Snapshot() map[string]int64 {
	out := make(map[string]int64, len(exported))
	for _, g := range exported {
		out[g.name] = g.value.Load()
	}
	return out
}
