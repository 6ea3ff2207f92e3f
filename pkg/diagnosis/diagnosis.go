package diagnosis

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/synaptica-ai/decompensation/pkg/ingestion"
)

const (
	DiagnosesFile = "all_diagnoses.csv"
	CountsFile    = "diagnosis_counts.csv"
)

var diagnosisColumns = []string{"SUBJECT_ID", "HADM_ID", "ICUSTAY_ID", "ICD9_CODE"}

type CodeCount struct {
	Code  string `csv:"ICD9_CODE" json:"code"`
	Count int    `csv:"COUNT" json:"count"`
}

type diagnosisRow struct {
	SubjectID string `csv:"SUBJECT_ID"`
	HadmID    string `csv:"HADM_ID"`
	ICUStayID string `csv:"ICUSTAY_ID"`
	SeqNum    string `csv:"SEQ_NUM"`
	ICD9Code  string `csv:"ICD9_CODE"`
}

type admissionKey struct {
	subjectID int64
	hadmID    int64
}

// Associate keeps diagnoses whose admission is in the cohort and tags each
// with the stay of that admission. Admissions outside the cohort are dropped
// without error.
func Associate(diagnoses []models.Diagnosis, stays []models.Stay) []models.Diagnosis {
	staysByAdmission := make(map[admissionKey][]int64, len(stays))
	for _, s := range stays {
		key := admissionKey{s.SubjectID, s.HadmID}
		staysByAdmission[key] = append(staysByAdmission[key], s.ICUStayID)
	}

	out := make([]models.Diagnosis, 0, len(diagnoses))
	for _, d := range diagnoses {
		for _, stayID := range staysByAdmission[admissionKey{d.SubjectID, d.HadmID}] {
			d.ICUStayID = stayID
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		if out[i].ICUStayID != out[j].ICUStayID {
			return out[i].ICUStayID < out[j].ICUStayID
		}
		return out[i].SeqNum < out[j].SeqNum
	})
	return out
}

// CountCodes returns code frequencies by descending count, ties broken by code.
func CountCodes(diagnoses []models.Diagnosis) []CodeCount {
	counts := make(map[string]int)
	for _, d := range diagnoses {
		if d.ICD9Code == "" {
			continue
		}
		counts[d.ICD9Code]++
	}
	out := make([]CodeCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, CodeCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func WriteDiagnoses(path string, diagnoses []models.Diagnosis) error {
	rows := make([]*diagnosisRow, 0, len(diagnoses))
	for _, d := range diagnoses {
		rows = append(rows, &diagnosisRow{
			SubjectID: strconv.FormatInt(d.SubjectID, 10),
			HadmID:    strconv.FormatInt(d.HadmID, 10),
			ICUStayID: strconv.FormatInt(d.ICUStayID, 10),
			SeqNum:    strconv.Itoa(d.SeqNum),
			ICD9Code:  d.ICD9Code,
		})
	}
	return marshalFile(path, rows)
}

func ReadDiagnoses(path string) ([]models.Diagnosis, error) {
	var rows []*diagnosisRow
	if err := ingestion.DecodeFile(path, diagnosisColumns, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Diagnosis, 0, len(rows))
	for i, row := range rows {
		d := models.Diagnosis{ICD9Code: row.ICD9Code}
		var err error
		if d.SubjectID, err = ingestion.ParseID(row.SubjectID); err == nil {
			if d.HadmID, err = ingestion.ParseID(row.HadmID); err == nil {
				d.ICUStayID, err = ingestion.ParseID(row.ICUStayID)
			}
		}
		if err != nil {
			return nil, ingestion.NewFormatError(path, fmt.Errorf("row %d: %w", i+1, err))
		}
		d.SeqNum, _ = strconv.Atoi(row.SeqNum)
		out = append(out, d)
	}
	return out, nil
}

func WriteCounts(path string, counts []CodeCount) error {
	rows := make([]*CodeCount, 0, len(counts))
	for i := range counts {
		rows = append(rows, &counts[i])
	}
	return marshalFile(path, rows)
}

func marshalFile(path string, rows interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(rows, file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}
