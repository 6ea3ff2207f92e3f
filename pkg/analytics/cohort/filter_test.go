package cohort

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"gopkg.in/guregu/null.v3"
)

func ts(s string) time.Time {
	t, err := time.Parse(models.TimeLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func icuStay(subject, hadm, stay int64, in, out string) models.ICUStay {
	return models.ICUStay{
		SubjectID:     subject,
		HadmID:        hadm,
		ICUStayID:     stay,
		FirstCareUnit: "MICU",
		LastCareUnit:  "MICU",
		FirstWardID:   52,
		LastWardID:    52,
		InTime:        ts(in),
		OutTime:       ts(out),
	}
}

func fixture() ([]models.Patient, []models.Admission, []models.ICUStay) {
	patients := []models.Patient{
		{SubjectID: 1, Gender: "F", DOB: ts("2050-06-01 00:00:00")},
		{SubjectID: 2, Gender: "M", DOB: ts("2040-01-01 00:00:00"), DOD: null.TimeFrom(ts("2100-03-02 00:00:00"))},
		{SubjectID: 3, Gender: "M", DOB: ts("1799-06-01 00:00:00")},
		{SubjectID: 4, Gender: "F", DOB: ts("2095-01-01 00:00:00")},
		{SubjectID: 5, Gender: "F", DOB: ts("2050-01-01 00:00:00")},
		{SubjectID: 6, Gender: "M", DOB: ts("2050-01-01 00:00:00")},
	}
	admissions := []models.Admission{
		{SubjectID: 1, HadmID: 10, AdmitTime: ts("2100-01-01 00:00:00"), DischTime: ts("2100-01-10 00:00:00")},
		{SubjectID: 2, HadmID: 20, AdmitTime: ts("2100-03-01 00:00:00"), DischTime: ts("2100-03-05 00:00:00")},
		{SubjectID: 3, HadmID: 30, AdmitTime: ts("2100-01-01 00:00:00"), DischTime: ts("2100-01-10 00:00:00")},
		{SubjectID: 4, HadmID: 40, AdmitTime: ts("2100-01-01 00:00:00"), DischTime: ts("2100-01-10 00:00:00")},
		{SubjectID: 5, HadmID: 50, AdmitTime: ts("2100-01-01 00:00:00"), DischTime: ts("2100-01-10 00:00:00")},
		// subject 6 has no admission row
	}
	transfer := icuStay(1, 11, 111, "2100-05-01 00:00:00", "2100-05-02 00:00:00")
	transfer.LastCareUnit = "SICU"
	stays := []models.ICUStay{
		icuStay(1, 10, 100, "2100-01-02 00:00:00", "2100-01-04 00:00:00"),
		transfer,
		icuStay(2, 20, 200, "2100-03-01 12:00:00", "2100-03-03 00:00:00"),
		icuStay(3, 30, 300, "2100-01-02 00:00:00", "2100-01-03 00:00:00"),
		icuStay(4, 40, 400, "2100-01-02 00:00:00", "2100-01-03 00:00:00"),
		icuStay(5, 50, 500, "2100-01-02 00:00:00", "2100-01-03 00:00:00"),
		icuStay(5, 50, 501, "2100-01-04 00:00:00", "2100-01-05 00:00:00"),
		icuStay(6, 60, 600, "2100-01-02 00:00:00", "2100-01-03 00:00:00"),
	}
	return patients, admissions, stays
}

func TestBuildAppliesFilterCascade(t *testing.T) {
	patients, admissions, icuStays := fixture()
	stays, summary := Build(patients, admissions, icuStays, DefaultOptions())

	got := map[int64]models.Stay{}
	for _, s := range stays {
		got[s.ICUStayID] = s
	}
	for _, id := range []int64{100, 200, 300} {
		if _, ok := got[id]; !ok {
			t.Fatalf("expected stay %d retained, got %v", id, got)
		}
	}
	// 111 transfer, 400 pediatric, 500/501 two stays in one admission, 600 no admission
	for _, id := range []int64{111, 400, 500, 501, 600} {
		if _, ok := got[id]; ok {
			t.Fatalf("expected stay %d excluded", id)
		}
	}
	if summary.AfterTransfers != 7 || summary.AfterPatients != 6 || summary.AfterStayCount != 4 || summary.AfterAge != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestBuildCohortInvariant(t *testing.T) {
	patients, admissions, icuStays := fixture()
	opts := DefaultOptions()
	stays, _ := Build(patients, admissions, icuStays, opts)

	perAdmission := map[int64]int{}
	for _, s := range stays {
		perAdmission[s.HadmID]++
		if s.Age < opts.MinAge {
			t.Fatalf("stay %d has age %v below minimum", s.ICUStayID, s.Age)
		}
	}
	for hadm, n := range perAdmission {
		if n != 1 {
			t.Fatalf("admission %d has %d stays", hadm, n)
		}
	}
}

func TestBuildTransferExcludedDespiteValidLinkage(t *testing.T) {
	patients := []models.Patient{{SubjectID: 1, DOB: ts("2050-01-01 00:00:00")}}
	admissions := []models.Admission{{SubjectID: 1, HadmID: 10, AdmitTime: ts("2100-01-01 00:00:00"), DischTime: ts("2100-01-09 00:00:00")}}
	stay := icuStay(1, 10, 100, "2100-01-02 00:00:00", "2100-01-03 00:00:00")
	stay.LastWardID = 7

	stays, _ := Build(patients, admissions, []models.ICUStay{stay}, DefaultOptions())
	if len(stays) != 0 {
		t.Fatalf("expected transferred stay excluded, got %v", stays)
	}
}

func TestBuildMaxStaysAllowsMultiStayAdmissions(t *testing.T) {
	patients, admissions, icuStays := fixture()
	opts := DefaultOptions()
	opts.MaxStays = 2
	stays, _ := Build(patients, admissions, icuStays, opts)
	count := 0
	for _, s := range stays {
		if s.HadmID == 50 {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected both stays of admission 50, got %d", count)
	}
}

func TestBuildSentinelAgeAndMortality(t *testing.T) {
	patients, admissions, icuStays := fixture()
	opts := DefaultOptions()
	opts.SentinelAge = 90
	stays, summary := Build(patients, admissions, icuStays, opts)

	byID := map[int64]models.Stay{}
	for _, s := range stays {
		byID[s.ICUStayID] = s
	}
	if byID[300].Age != 90 {
		t.Fatalf("expected sentinel age for shifted DOB, got %v", byID[300].Age)
	}
	if summary.SentinelAgesFixed == 0 {
		t.Fatal("expected sentinel substitution counted")
	}
	if math.Abs(byID[100].Age-49.586) > 0.01 {
		t.Fatalf("unexpected age %v", byID[100].Age)
	}

	died := byID[200]
	if !died.Mortality || !died.MortalityInUnit || !died.MortalityInHospital {
		t.Fatalf("expected in-unit and in-hospital mortality, got %+v", died)
	}
	if byID[100].Mortality || byID[100].MortalityInHospital {
		t.Fatal("expected survivor flags false")
	}
}

func TestBuildEmptyCohort(t *testing.T) {
	stays, summary := Build(nil, nil, nil, DefaultOptions())
	if len(stays) != 0 || summary.AfterAge != 0 {
		t.Fatalf("expected empty cohort, got %v", stays)
	}

	path := filepath.Join(t.TempDir(), StaysFile)
	if err := WriteStays(path, stays); err != nil {
		t.Fatalf("write empty cohort: %v", err)
	}
	back, err := ReadStays(path)
	if err != nil {
		t.Fatalf("read empty cohort: %v", err)
	}
	if len(back) != 0 {
		t.Fatalf("expected no rows, got %d", len(back))
	}
}

func TestCalendarAge(t *testing.T) {
	cases := []struct {
		dob, at string
		want    float64
	}{
		{"2000-01-01 00:00:00", "2020-01-01 00:00:00", 20},
		{"2000-03-01 00:00:00", "2020-02-29 00:00:00", 19.9973},
		{"2020-01-01 00:00:00", "2000-01-01 00:00:00", -20},
		{"1800-01-01 00:00:00", "2100-07-02 12:00:00", 300.5},
	}
	for _, tc := range cases {
		got := CalendarAge(ts(tc.dob), ts(tc.at))
		if math.Abs(got-tc.want) > 0.01 {
			t.Fatalf("CalendarAge(%s, %s) = %v, want %v", tc.dob, tc.at, got, tc.want)
		}
	}
}

func TestStaysRoundTrip(t *testing.T) {
	patients, admissions, icuStays := fixture()
	stays, _ := Build(patients, admissions, icuStays, DefaultOptions())

	path := filepath.Join(t.TempDir(), "out", StaysFile)
	if err := WriteStays(path, stays); err != nil {
		t.Fatalf("write: %v", err)
	}
	back, err := ReadStays(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(back) != len(stays) {
		t.Fatalf("expected %d stays, got %d", len(stays), len(back))
	}
	for i := range stays {
		if back[i].ICUStayID != stays[i].ICUStayID || !back[i].InTime.Equal(stays[i].InTime) {
			t.Fatalf("row %d mismatch: %+v vs %+v", i, back[i], stays[i])
		}
		if back[i].MortalityInUnit != stays[i].MortalityInUnit || back[i].Age != stays[i].Age {
			t.Fatalf("row %d flags mismatch", i)
		}
	}
}
