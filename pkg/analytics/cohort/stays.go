package cohort

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/synaptica-ai/decompensation/pkg/ingestion"
)

const StaysFile = "all_stays.csv"

var stayColumns = []string{"SUBJECT_ID", "HADM_ID", "ICUSTAY_ID", "INTIME", "OUTTIME", "ADMITTIME", "DISCHTIME"}

type stayRow struct {
	SubjectID           string `csv:"SUBJECT_ID"`
	HadmID              string `csv:"HADM_ID"`
	ICUStayID           string `csv:"ICUSTAY_ID"`
	LastCareUnit        string `csv:"LAST_CAREUNIT"`
	DBSource            string `csv:"DBSOURCE"`
	InTime              string `csv:"INTIME"`
	OutTime             string `csv:"OUTTIME"`
	LOS                 string `csv:"LOS"`
	AdmitTime           string `csv:"ADMITTIME"`
	DischTime           string `csv:"DISCHTIME"`
	DeathTime           string `csv:"DEATHTIME"`
	Ethnicity           string `csv:"ETHNICITY"`
	Diagnosis           string `csv:"DIAGNOSIS"`
	Gender              string `csv:"GENDER"`
	DOB                 string `csv:"DOB"`
	DOD                 string `csv:"DOD"`
	Age                 string `csv:"AGE"`
	MortalityInUnit     string `csv:"MORTALITY_INUNIT"`
	Mortality           string `csv:"MORTALITY"`
	MortalityInHospital string `csv:"MORTALITY_INHOSPITAL"`
}

func newStayRow(s models.Stay) *stayRow {
	return &stayRow{
		SubjectID:           strconv.FormatInt(s.SubjectID, 10),
		HadmID:              strconv.FormatInt(s.HadmID, 10),
		ICUStayID:           strconv.FormatInt(s.ICUStayID, 10),
		LastCareUnit:        s.LastCareUnit,
		DBSource:            s.DBSource,
		InTime:              ingestion.FormatTime(s.InTime),
		OutTime:             ingestion.FormatTime(s.OutTime),
		LOS:                 strconv.FormatFloat(s.LOS, 'f', -1, 64),
		AdmitTime:           ingestion.FormatTime(s.AdmitTime),
		DischTime:           ingestion.FormatTime(s.DischTime),
		DeathTime:           ingestion.FormatOptionalTime(s.DeathTime),
		Ethnicity:           s.Ethnicity,
		Diagnosis:           s.Diagnosis,
		Gender:              s.Gender,
		DOB:                 ingestion.FormatTime(s.DOB),
		DOD:                 ingestion.FormatOptionalTime(s.DOD),
		Age:                 strconv.FormatFloat(s.Age, 'f', -1, 64),
		MortalityInUnit:     flag(s.MortalityInUnit),
		Mortality:           flag(s.Mortality),
		MortalityInHospital: flag(s.MortalityInHospital),
	}
}

func (r *stayRow) stay() (models.Stay, error) {
	var (
		s   models.Stay
		err error
	)
	if s.SubjectID, err = ingestion.ParseID(r.SubjectID); err != nil {
		return s, fmt.Errorf("SUBJECT_ID %q: %w", r.SubjectID, err)
	}
	if s.HadmID, err = ingestion.ParseID(r.HadmID); err != nil {
		return s, fmt.Errorf("HADM_ID %q: %w", r.HadmID, err)
	}
	if s.ICUStayID, err = ingestion.ParseID(r.ICUStayID); err != nil {
		return s, fmt.Errorf("ICUSTAY_ID %q: %w", r.ICUStayID, err)
	}
	if s.InTime, err = ingestion.ParseTime(r.InTime); err != nil {
		return s, fmt.Errorf("INTIME %q: %w", r.InTime, err)
	}
	if r.OutTime != "" {
		if s.OutTime, err = ingestion.ParseTime(r.OutTime); err != nil {
			return s, fmt.Errorf("OUTTIME %q: %w", r.OutTime, err)
		}
	}
	if s.AdmitTime, err = ingestion.ParseTime(r.AdmitTime); err != nil {
		return s, fmt.Errorf("ADMITTIME %q: %w", r.AdmitTime, err)
	}
	if s.DischTime, err = ingestion.ParseTime(r.DischTime); err != nil {
		return s, fmt.Errorf("DISCHTIME %q: %w", r.DischTime, err)
	}
	if s.DeathTime, err = ingestion.ParseOptionalTime(r.DeathTime); err != nil {
		return s, fmt.Errorf("DEATHTIME %q: %w", r.DeathTime, err)
	}
	if r.DOB != "" {
		if s.DOB, err = ingestion.ParseTime(r.DOB); err != nil {
			return s, fmt.Errorf("DOB %q: %w", r.DOB, err)
		}
	}
	if s.DOD, err = ingestion.ParseOptionalTime(r.DOD); err != nil {
		return s, fmt.Errorf("DOD %q: %w", r.DOD, err)
	}
	s.LastCareUnit = r.LastCareUnit
	s.DBSource = r.DBSource
	s.Ethnicity = r.Ethnicity
	s.Diagnosis = r.Diagnosis
	s.Gender = r.Gender
	s.LOS, _ = strconv.ParseFloat(r.LOS, 64)
	s.Age, _ = strconv.ParseFloat(r.Age, 64)
	s.MortalityInUnit = r.MortalityInUnit == "1"
	s.Mortality = r.Mortality == "1"
	s.MortalityInHospital = r.MortalityInHospital == "1"
	return s, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WriteStays writes the cohort file. The header is written even when stays
// is empty.
func WriteStays(path string, stays []models.Stay) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	rows := make([]*stayRow, 0, len(stays))
	for _, s := range stays {
		rows = append(rows, newStayRow(s))
	}
	if err := gocsv.MarshalFile(rows, file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

// ReadStays reads a cohort file or a per-subject stays.csv.
func ReadStays(path string) ([]models.Stay, error) {
	var rows []*stayRow
	if err := ingestion.DecodeFile(path, stayColumns, &rows); err != nil {
		return nil, err
	}
	stays := make([]models.Stay, 0, len(rows))
	for i, row := range rows {
		s, err := row.stay()
		if err != nil {
			return nil, ingestion.NewFormatError(path, fmt.Errorf("row %d: %w", i+1, err))
		}
		stays = append(stays, s)
	}
	return stays, nil
}
