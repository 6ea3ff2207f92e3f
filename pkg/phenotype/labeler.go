package phenotype

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

const LabelsFile = "phenotype_labels.csv"

type Phenotyped struct {
	models.Diagnosis
	Group          string
	UseInBenchmark bool
}

// Labeler assigns phenotype groups from an explicit definition set, so runs
// with different definitions can coexist in one process.
type Labeler struct {
	defs    Definitions
	byCode  map[string]string
	columns []string
}

func NewLabeler(defs Definitions) *Labeler {
	byCode := make(map[string]string)
	for name, g := range defs {
		for _, code := range g.Codes {
			byCode[string(code)] = name
		}
	}
	return &Labeler{defs: defs, byCode: byCode, columns: defs.BenchmarkGroups()}
}

func (l *Labeler) Columns() []string {
	return append([]string(nil), l.columns...)
}

// AddGroups tags each diagnosis with its group; codes without a group keep an
// empty Group.
func (l *Labeler) AddGroups(diagnoses []models.Diagnosis) []Phenotyped {
	out := make([]Phenotyped, 0, len(diagnoses))
	for _, d := range diagnoses {
		p := Phenotyped{Diagnosis: d}
		if name, ok := l.byCode[d.ICD9Code]; ok {
			p.Group = name
			p.UseInBenchmark = l.defs[name].UseInBenchmark
		}
		out = append(out, p)
	}
	return out
}

type LabelRow struct {
	ICUStayID int64
	Labels    []int
}

// LabelMatrix returns one row per stay, ordered by stay id, with a 0/1 column
// per benchmark group.
func (l *Labeler) LabelMatrix(phenotyped []Phenotyped, stays []models.Stay) []LabelRow {
	index := make(map[string]int, len(l.columns))
	for i, name := range l.columns {
		index[name] = i
	}

	rows := make(map[int64][]int, len(stays))
	for _, s := range stays {
		rows[s.ICUStayID] = make([]int, len(l.columns))
	}
	for _, p := range phenotyped {
		if !p.UseInBenchmark {
			continue
		}
		labels, ok := rows[p.ICUStayID]
		if !ok {
			continue
		}
		labels[index[p.Group]] = 1
	}

	out := make([]LabelRow, 0, len(rows))
	for id, labels := range rows {
		out = append(out, LabelRow{ICUStayID: id, Labels: labels})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICUStayID < out[j].ICUStayID })
	return out
}

// WriteLabelMatrix writes ICUSTAY_ID followed by one 0/1 column per benchmark
// group.
func (l *Labeler) WriteLabelMatrix(path string, rows []LabelRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(file)
	if err := w.Write(append([]string{"ICUSTAY_ID"}, l.columns...)); err != nil {
		file.Close()
		return err
	}
	record := make([]string, len(l.columns)+1)
	for _, row := range rows {
		record[0] = strconv.FormatInt(row.ICUStayID, 10)
		for i, v := range row.Labels {
			record[i+1] = strconv.Itoa(v)
		}
		if err := w.Write(record); err != nil {
			file.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
