package diagnosis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

func cohort() []models.Stay {
	return []models.Stay{
		{SubjectID: 1, HadmID: 10, ICUStayID: 100},
		{SubjectID: 2, HadmID: 20, ICUStayID: 200},
	}
}

func TestAssociateDropsOutsideCohort(t *testing.T) {
	diagnoses := []models.Diagnosis{
		{SubjectID: 1, HadmID: 10, SeqNum: 2, ICD9Code: "4019"},
		{SubjectID: 1, HadmID: 10, SeqNum: 1, ICD9Code: "41401"},
		{SubjectID: 1, HadmID: 11, SeqNum: 1, ICD9Code: "4019"},
		{SubjectID: 3, HadmID: 30, SeqNum: 1, ICD9Code: "5849"},
		{SubjectID: 2, HadmID: 20, SeqNum: 1, ICD9Code: "4019"},
	}
	got := Associate(diagnoses, cohort())
	if len(got) != 3 {
		t.Fatalf("expected 3 diagnoses, got %d: %v", len(got), got)
	}
	if got[0].ICD9Code != "41401" || got[0].ICUStayID != 100 {
		t.Fatalf("expected sequence-ordered diagnoses tagged with stay, got %+v", got[0])
	}
	if got[2].ICUStayID != 200 {
		t.Fatalf("unexpected stay for subject 2: %+v", got[2])
	}
}

func TestCountCodesOrdering(t *testing.T) {
	diagnoses := []models.Diagnosis{
		{ICD9Code: "b"}, {ICD9Code: "a"}, {ICD9Code: "c"}, {ICD9Code: "c"}, {ICD9Code: ""},
	}
	got := CountCodes(diagnoses)
	want := []CodeCount{{"c", 2}, {"a", 1}, {"b", 1}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestWriteCountsAndDiagnoses(t *testing.T) {
	dir := t.TempDir()
	diagnoses := Associate([]models.Diagnosis{{SubjectID: 1, HadmID: 10, SeqNum: 1, ICD9Code: "4019"}}, cohort())

	if err := WriteCounts(filepath.Join(dir, CountsFile), CountCodes(diagnoses)); err != nil {
		t.Fatalf("write counts: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, CountsFile))
	if err != nil {
		t.Fatalf("read counts: %v", err)
	}
	if strings.TrimSpace(string(content)) != "ICD9_CODE,COUNT\n4019,1" {
		t.Fatalf("unexpected counts file %q", content)
	}

	path := filepath.Join(dir, DiagnosesFile)
	if err := WriteDiagnoses(path, diagnoses); err != nil {
		t.Fatalf("write diagnoses: %v", err)
	}
	back, err := ReadDiagnoses(path)
	if err != nil {
		t.Fatalf("read diagnoses: %v", err)
	}
	if len(back) != 1 || back[0].ICUStayID != 100 || back[0].ICD9Code != "4019" {
		t.Fatalf("unexpected round trip %v", back)
	}
}
