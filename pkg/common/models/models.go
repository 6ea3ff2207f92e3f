package models

import (
	"time"

	"gopkg.in/guregu/null.v3"
)

// TimeLayout is the timestamp format used by the source export and by every
// file this module writes.
const TimeLayout = "2006-01-02 15:04:05"

// Source tables
type Patient struct {
	SubjectID int64
	Gender    string
	DOB       time.Time
	DOD       null.Time
}

type Admission struct {
	SubjectID int64
	HadmID    int64
	AdmitTime time.Time
	DischTime time.Time
	DeathTime null.Time
	Ethnicity string
	Diagnosis string
}

type ICUStay struct {
	SubjectID     int64
	HadmID        int64
	ICUStayID     int64
	DBSource      string
	FirstCareUnit string
	LastCareUnit  string
	FirstWardID   int
	LastWardID    int
	InTime        time.Time
	OutTime       time.Time
	LOS           float64
}

// Transferred reports whether the stay moved between care units or wards.
func (s ICUStay) Transferred() bool {
	return s.FirstCareUnit != s.LastCareUnit || s.FirstWardID != s.LastWardID
}

// Stay is one row of the cohort: a single ICU stay joined with its admission
// and patient records.
type Stay struct {
	SubjectID    int64
	HadmID       int64
	ICUStayID    int64
	LastCareUnit string
	DBSource     string
	InTime       time.Time
	OutTime      time.Time
	LOS          float64

	AdmitTime time.Time
	DischTime time.Time
	DeathTime null.Time
	Ethnicity string
	Diagnosis string

	Gender string
	DOB    time.Time
	DOD    null.Time

	Age                 float64
	Mortality           bool
	MortalityInUnit     bool
	MortalityInHospital bool
}

type Diagnosis struct {
	SubjectID int64
	HadmID    int64
	ICUStayID int64
	SeqNum    int
	ICD9Code  string
}

// Event is a raw timestamped measurement. HadmID and ICUStayID are frequently
// missing or stale in the export.
type Event struct {
	SubjectID int64
	HadmID    null.Int
	ICUStayID null.Int
	CharTime  time.Time
	ItemID    int64
	Value     string
	ValueUOM  string
}

// Example is one listfile row.
type Example struct {
	Filename  string  `json:"filename"`
	TimeBound float64 `json:"time_bound"`
	Label     int     `json:"label"`
}

// Event bus models
type StageEvent struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id,omitempty"`
	Type      string                 `json:"type"` // cohort, diagnoses, partition, subject.partitioned, subject.validated
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Pipeline run
type PipelineRun struct {
	ID           string                 `json:"id"`
	Stage        string                 `json:"stage"`
	Status       string                 `json:"status"`
	OutputPath   string                 `json:"output_path"`
	Summary      map[string]interface{} `json:"summary,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// TimeSeries is a per-stay episode file. The first header column is Hours.
type TimeSeries struct {
	Header []string
	Rows   [][]string
}
