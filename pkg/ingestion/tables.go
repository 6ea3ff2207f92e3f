package ingestion

import (
	"strconv"
	"strings"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

var (
	patientColumns   = []string{"SUBJECT_ID", "GENDER", "DOB", "DOD"}
	admissionColumns = []string{"SUBJECT_ID", "HADM_ID", "ADMITTIME", "DISCHTIME", "DEATHTIME"}
	icuStayColumns   = []string{"SUBJECT_ID", "HADM_ID", "ICUSTAY_ID", "FIRST_CAREUNIT", "LAST_CAREUNIT", "FIRST_WARDID", "LAST_WARDID", "INTIME", "OUTTIME"}
	diagnosisColumns = []string{"SUBJECT_ID", "HADM_ID", "SEQ_NUM", "ICD9_CODE"}
)

type patientRow struct {
	SubjectID string `csv:"SUBJECT_ID"`
	Gender    string `csv:"GENDER"`
	DOB       string `csv:"DOB"`
	DOD       string `csv:"DOD"`
}

type admissionRow struct {
	SubjectID string `csv:"SUBJECT_ID"`
	HadmID    string `csv:"HADM_ID"`
	AdmitTime string `csv:"ADMITTIME"`
	DischTime string `csv:"DISCHTIME"`
	DeathTime string `csv:"DEATHTIME"`
	Ethnicity string `csv:"ETHNICITY"`
	Diagnosis string `csv:"DIAGNOSIS"`
}

type icuStayRow struct {
	SubjectID     string `csv:"SUBJECT_ID"`
	HadmID        string `csv:"HADM_ID"`
	ICUStayID     string `csv:"ICUSTAY_ID"`
	DBSource      string `csv:"DBSOURCE"`
	FirstCareUnit string `csv:"FIRST_CAREUNIT"`
	LastCareUnit  string `csv:"LAST_CAREUNIT"`
	FirstWardID   string `csv:"FIRST_WARDID"`
	LastWardID    string `csv:"LAST_WARDID"`
	InTime        string `csv:"INTIME"`
	OutTime       string `csv:"OUTTIME"`
	LOS           string `csv:"LOS"`
}

type diagnosisRow struct {
	SubjectID string `csv:"SUBJECT_ID"`
	HadmID    string `csv:"HADM_ID"`
	SeqNum    string `csv:"SEQ_NUM"`
	ICD9Code  string `csv:"ICD9_CODE"`
}

// rowParser collects the first conversion error of a row so the conversion
// code reads top to bottom.
type rowParser struct {
	path string
	row  int
	err  error
}

func (p *rowParser) id(column, value string) int64 {
	if p.err != nil {
		return 0
	}
	id, err := ParseID(value)
	if err != nil {
		p.err = invalidValue(p.path, p.row, column, value, err)
	}
	return id
}

func (p *rowParser) optionalInt(column, value string) int {
	if p.err != nil || isNull(value) {
		return 0
	}
	id, err := ParseID(value)
	if err != nil {
		p.err = invalidValue(p.path, p.row, column, value, err)
	}
	return int(id)
}

func (p *rowParser) float(column, value string) float64 {
	if p.err != nil || isNull(value) {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		p.err = invalidValue(p.path, p.row, column, value, err)
	}
	return f
}

func ReadPatients(path string) ([]models.Patient, error) {
	var rows []*patientRow
	if err := DecodeFile(path, patientColumns, &rows); err != nil {
		return nil, err
	}
	patients := make([]models.Patient, 0, len(rows))
	for i, row := range rows {
		p := rowParser{path: path, row: i + 1}
		patient := models.Patient{
			SubjectID: p.id("SUBJECT_ID", row.SubjectID),
			Gender:    strings.TrimSpace(row.Gender),
		}
		if p.err != nil {
			return nil, p.err
		}
		dob, err := ParseTime(row.DOB)
		if err != nil {
			return nil, invalidValue(path, i+1, "DOB", row.DOB, err)
		}
		patient.DOB = dob
		if patient.DOD, err = ParseOptionalTime(row.DOD); err != nil {
			return nil, invalidValue(path, i+1, "DOD", row.DOD, err)
		}
		patients = append(patients, patient)
	}
	return patients, nil
}

func ReadAdmissions(path string) ([]models.Admission, error) {
	var rows []*admissionRow
	if err := DecodeFile(path, admissionColumns, &rows); err != nil {
		return nil, err
	}
	admissions := make([]models.Admission, 0, len(rows))
	for i, row := range rows {
		p := rowParser{path: path, row: i + 1}
		admission := models.Admission{
			SubjectID: p.id("SUBJECT_ID", row.SubjectID),
			HadmID:    p.id("HADM_ID", row.HadmID),
			Ethnicity: row.Ethnicity,
			Diagnosis: row.Diagnosis,
		}
		if p.err != nil {
			return nil, p.err
		}
		var err error
		if admission.AdmitTime, err = ParseTime(row.AdmitTime); err != nil {
			return nil, invalidValue(path, i+1, "ADMITTIME", row.AdmitTime, err)
		}
		if admission.DischTime, err = ParseTime(row.DischTime); err != nil {
			return nil, invalidValue(path, i+1, "DISCHTIME", row.DischTime, err)
		}
		if admission.DeathTime, err = ParseOptionalTime(row.DeathTime); err != nil {
			return nil, invalidValue(path, i+1, "DEATHTIME", row.DeathTime, err)
		}
		admissions = append(admissions, admission)
	}
	return admissions, nil
}

func ReadICUStays(path string) ([]models.ICUStay, error) {
	var rows []*icuStayRow
	if err := DecodeFile(path, icuStayColumns, &rows); err != nil {
		return nil, err
	}
	stays := make([]models.ICUStay, 0, len(rows))
	for i, row := range rows {
		p := rowParser{path: path, row: i + 1}
		stay := models.ICUStay{
			SubjectID:     p.id("SUBJECT_ID", row.SubjectID),
			HadmID:        p.id("HADM_ID", row.HadmID),
			ICUStayID:     p.id("ICUSTAY_ID", row.ICUStayID),
			DBSource:      row.DBSource,
			FirstCareUnit: strings.TrimSpace(row.FirstCareUnit),
			LastCareUnit:  strings.TrimSpace(row.LastCareUnit),
			FirstWardID:   p.optionalInt("FIRST_WARDID", row.FirstWardID),
			LastWardID:    p.optionalInt("LAST_WARDID", row.LastWardID),
			LOS:           p.float("LOS", row.LOS),
		}
		if p.err != nil {
			return nil, p.err
		}
		var err error
		if stay.InTime, err = ParseTime(row.InTime); err != nil {
			return nil, invalidValue(path, i+1, "INTIME", row.InTime, err)
		}
		// A stay without OUTTIME is still open; keep it with a zero value.
		if !isNull(row.OutTime) {
			if stay.OutTime, err = ParseTime(row.OutTime); err != nil {
				return nil, invalidValue(path, i+1, "OUTTIME", row.OutTime, err)
			}
		}
		stays = append(stays, stay)
	}
	return stays, nil
}

func ReadDiagnoses(path string) ([]models.Diagnosis, error) {
	var rows []*diagnosisRow
	if err := DecodeFile(path, diagnosisColumns, &rows); err != nil {
		return nil, err
	}
	diagnoses := make([]models.Diagnosis, 0, len(rows))
	for i, row := range rows {
		p := rowParser{path: path, row: i + 1}
		d := models.Diagnosis{
			SubjectID: p.id("SUBJECT_ID", row.SubjectID),
			HadmID:    p.id("HADM_ID", row.HadmID),
			SeqNum:    p.optionalInt("SEQ_NUM", row.SeqNum),
			ICD9Code:  strings.TrimSpace(row.ICD9Code),
		}
		if p.err != nil {
			return nil, p.err
		}
		diagnoses = append(diagnoses, d)
	}
	return diagnoses, nil
}
