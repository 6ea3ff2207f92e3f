package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/synaptica-ai/decompensation/pkg/analytics/cohort"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/synaptica-ai/decompensation/pkg/ingestion"
	"github.com/synaptica-ai/decompensation/pkg/phenotype"
)

const (
	SubjectStaysFile     = "stays.csv"
	SubjectEventsFile    = "events.csv"
	SubjectDiagnosesFile = "diagnoses.csv"

	defaultFlushEvery = 100000
)

func SubjectDir(root string, subjectID int64) string {
	return filepath.Join(root, strconv.FormatInt(subjectID, 10))
}

type subjectDiagnosisRow struct {
	SubjectID      string `csv:"SUBJECT_ID"`
	HadmID         string `csv:"HADM_ID"`
	ICUStayID      string `csv:"ICUSTAY_ID"`
	SeqNum         string `csv:"SEQ_NUM"`
	ICD9Code       string `csv:"ICD9_CODE"`
	Group          string `csv:"HCUP_CCS_2015"`
	UseInBenchmark string `csv:"USE_IN_BENCHMARK"`
}

// Partitioner splits cohort-wide tables into one directory per subject.
// Events are buffered and appended per subject; a subject's events.csv is
// truncated the first time this partitioner touches it.
type Partitioner struct {
	root       string
	subjects   map[int64]struct{}
	flushEvery int
	buffer     map[int64][]models.Event
	buffered   int
	touched    map[int64]bool
}

func NewPartitioner(root string, subjects []int64) *Partitioner {
	set := make(map[int64]struct{}, len(subjects))
	for _, id := range subjects {
		set[id] = struct{}{}
	}
	return &Partitioner{
		root:       root,
		subjects:   set,
		flushEvery: defaultFlushEvery,
		buffer:     make(map[int64][]models.Event),
		touched:    make(map[int64]bool),
	}
}

func (p *Partitioner) SetFlushEvery(n int) {
	if n > 0 {
		p.flushEvery = n
	}
}

// Subjects returns the partitioned subject ids in ascending order.
func (p *Partitioner) Subjects() []int64 {
	ids := make([]int64, 0, len(p.subjects))
	for id := range p.subjects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Partitioner) WriteStays(stays []models.Stay) error {
	bySubject := make(map[int64][]models.Stay)
	for _, s := range stays {
		if _, ok := p.subjects[s.SubjectID]; ok {
			bySubject[s.SubjectID] = append(bySubject[s.SubjectID], s)
		}
	}
	for subjectID, group := range bySubject {
		sort.SliceStable(group, func(i, j int) bool { return group[i].InTime.Before(group[j].InTime) })
		path := filepath.Join(SubjectDir(p.root, subjectID), SubjectStaysFile)
		if err := cohort.WriteStays(path, group); err != nil {
			return fmt.Errorf("subject %d: %w", subjectID, err)
		}
	}
	return nil
}

func (p *Partitioner) WriteDiagnoses(diagnoses []phenotype.Phenotyped) error {
	bySubject := make(map[int64][]*subjectDiagnosisRow)
	for _, d := range diagnoses {
		if _, ok := p.subjects[d.SubjectID]; !ok {
			continue
		}
		bySubject[d.SubjectID] = append(bySubject[d.SubjectID], &subjectDiagnosisRow{
			SubjectID:      strconv.FormatInt(d.SubjectID, 10),
			HadmID:         strconv.FormatInt(d.HadmID, 10),
			ICUStayID:      strconv.FormatInt(d.ICUStayID, 10),
			SeqNum:         strconv.Itoa(d.SeqNum),
			ICD9Code:       d.ICD9Code,
			Group:          d.Group,
			UseInBenchmark: boolFlag(d.UseInBenchmark),
		})
	}
	for subjectID, rows := range bySubject {
		dir := SubjectDir(p.root, subjectID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		file, err := os.Create(filepath.Join(dir, SubjectDiagnosesFile))
		if err != nil {
			return err
		}
		if err := gocsv.MarshalFile(rows, file); err != nil {
			file.Close()
			return fmt.Errorf("subject %d diagnoses: %w", subjectID, err)
		}
		if err := file.Close(); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvents buffers events per subject and flushes once the buffer holds
// flushEvery rows. Events for subjects outside the cohort are ignored.
func (p *Partitioner) AppendEvents(events ...models.Event) error {
	for _, e := range events {
		if _, ok := p.subjects[e.SubjectID]; !ok {
			continue
		}
		p.buffer[e.SubjectID] = append(p.buffer[e.SubjectID], e)
		p.buffered++
		if p.buffered >= p.flushEvery {
			if err := p.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Partitioner) Flush() error {
	for subjectID, events := range p.buffer {
		if err := p.appendEvents(subjectID, events); err != nil {
			return fmt.Errorf("subject %d events: %w", subjectID, err)
		}
	}
	p.buffer = make(map[int64][]models.Event)
	p.buffered = 0
	return nil
}

func (p *Partitioner) appendEvents(subjectID int64, events []models.Event) error {
	dir := SubjectDir(p.root, subjectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, SubjectEventsFile)

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	first := !p.touched[subjectID]
	if first {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if err := ingestion.WriteEvents(file, events, first); err != nil {
		file.Close()
		return err
	}
	p.touched[subjectID] = true
	return file.Close()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
