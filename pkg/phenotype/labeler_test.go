package phenotype

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

const definitionsYAML = `
Essential hypertension:
  codes: [4010, 4011, "4019"]
  id: 98
  type: chronic
  use_in_benchmark: True
Acute renal failure:
  codes:
    - 5849
  id: 157
  type: acute
  use_in_benchmark: true
Residual codes:
  codes: [V8801]
  id: 259
  type: unknown
  use_in_benchmark: false
`

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	if err := os.WriteFile(path, []byte(definitionsYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(defs))
	}
	if got := defs["Essential hypertension"].Codes; len(got) != 3 || got[0] != "4010" || got[2] != "4019" {
		t.Fatalf("unexpected codes %v", got)
	}
	groups := defs.BenchmarkGroups()
	if len(groups) != 2 || groups[0] != "Acute renal failure" {
		t.Fatalf("unexpected benchmark groups %v", groups)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	defs, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) == 0 {
		t.Fatal("expected default definitions")
	}
}

func TestLabelersAreIndependent(t *testing.T) {
	a := NewLabeler(Definitions{"A": {Codes: []Code{"1"}, UseInBenchmark: true}})
	b := NewLabeler(Definitions{"B": {Codes: []Code{"1"}, UseInBenchmark: true}})
	d := []models.Diagnosis{{ICD9Code: "1"}}
	if a.AddGroups(d)[0].Group != "A" || b.AddGroups(d)[0].Group != "B" {
		t.Fatal("expected each labeler to use its own definitions")
	}
}

func TestLabelMatrix(t *testing.T) {
	l := NewLabeler(Definitions{
		"Hypertension": {Codes: []Code{"4019"}, UseInBenchmark: true},
		"Renal":        {Codes: []Code{"5849"}, UseInBenchmark: true},
		"Residual":     {Codes: []Code{"V8801"}},
	})
	stays := []models.Stay{{ICUStayID: 200}, {ICUStayID: 100}}
	phenotyped := l.AddGroups([]models.Diagnosis{
		{ICUStayID: 100, ICD9Code: "4019"},
		{ICUStayID: 100, ICD9Code: "V8801"},
		{ICUStayID: 200, ICD9Code: "5849"},
		{ICUStayID: 300, ICD9Code: "5849"},
	})

	rows := l.LabelMatrix(phenotyped, stays)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ICUStayID != 100 || rows[0].Labels[0] != 1 || rows[0].Labels[1] != 0 {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	if rows[1].Labels[0] != 0 || rows[1].Labels[1] != 1 {
		t.Fatalf("unexpected row %+v", rows[1])
	}

	path := filepath.Join(t.TempDir(), LabelsFile)
	if err := l.WriteLabelMatrix(path, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(content), "ICUSTAY_ID,Hypertension,Renal\n100,1,0\n200,0,1\n") {
		t.Fatalf("unexpected matrix %q", content)
	}
}
