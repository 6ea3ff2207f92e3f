package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/synaptica-ai/decompensation/pkg/analytics/cohort"
	"github.com/synaptica-ai/decompensation/pkg/common/config"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/synaptica-ai/decompensation/pkg/diagnosis"
	"github.com/synaptica-ai/decompensation/pkg/ingestion"
	"github.com/synaptica-ai/decompensation/pkg/observability/metrics"
	"github.com/synaptica-ai/decompensation/pkg/phenotype"
	"github.com/synaptica-ai/decompensation/pkg/storage"
)

const (
	TablePatients   = "PATIENTS"
	TableAdmissions = "ADMISSIONS"
	TableICUStays   = "ICUSTAYS"
	TableDiagnoses  = "DIAGNOSES_ICD"
)

type Deps struct {
	Publisher Publisher
	Ledger    *Ledger
	// Checkpoints is cleared for every partitioned subject so a later
	// validation pass rewrites the fresh events files.
	Checkpoints storage.CheckpointStore
}

type ExtractSummary struct {
	RunID       string                           `json:"run_id"`
	Cohort      cohort.Summary                   `json:"cohort"`
	Diagnoses   int                              `json:"diagnoses"`
	Codes       int                              `json:"codes"`
	Subjects    int                              `json:"subjects"`
	EventTables map[string]ingestion.StreamStats `json:"event_tables"`
}

func (s ExtractSummary) Map() map[string]interface{} {
	tables := make(map[string]interface{}, len(s.EventTables))
	for name, st := range s.EventTables {
		tables[name] = map[string]interface{}{
			"rows":      st.Rows,
			"kept":      st.Kept,
			"filtered":  st.Filtered,
			"malformed": st.Malformed,
		}
	}
	out := map[string]interface{}{
		"diagnoses":    s.Diagnoses,
		"codes":        s.Codes,
		"subjects":     s.Subjects,
		"event_tables": tables,
	}
	for k, v := range s.Cohort.Fields() {
		out["cohort_"+k] = v
	}
	return out
}

// Extract builds the cohort from the source tables and partitions stays,
// diagnoses and events into one directory per subject under cfg.OutputPath.
func Extract(ctx context.Context, cfg *config.Config, deps Deps) (summary ExtractSummary, err error) {
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher()
	}

	runID, ledgerErr := deps.Ledger.Start(ctx, StageExtract, cfg.OutputPath)
	if ledgerErr != nil {
		logger.Log.WithError(ledgerErr).Warn("Failed to record run start")
	}
	summary.RunID = runID
	defer func() {
		if ferr := deps.Ledger.Finish(context.Background(), runID, summary.Map(), err); ferr != nil {
			logger.Log.WithError(ferr).Warn("Failed to record run result")
		}
	}()

	log := logger.WithField("run_id", runID)
	if err := os.MkdirAll(cfg.OutputPath, 0o755); err != nil {
		return summary, err
	}

	stays, err := buildCohort(cfg, &summary)
	if err != nil {
		return summary, err
	}
	publish(ctx, deps.Publisher, EventCohortBuilt, runID, map[string]interface{}{"stays": len(stays), "subjects": summary.Cohort.Subjects})
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	defs := phenotype.DefaultDefinitions()
	if cfg.PhenotypeDefinitions != "" {
		if defs, err = phenotype.Load(cfg.PhenotypeDefinitions); err != nil {
			return summary, err
		}
	}
	labeler := phenotype.NewLabeler(defs)

	phenotyped, err := writeDiagnoses(cfg, stays, labeler, &summary)
	if err != nil {
		return summary, err
	}
	publish(ctx, deps.Publisher, EventDiagnosesWritten, runID, map[string]interface{}{"diagnoses": summary.Diagnoses, "codes": summary.Codes})
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	subjects := SampleSubjects(stays, cfg.TestModeSubjects, cfg.TestModeSeed)
	summary.Subjects = len(subjects)
	if cfg.TestModeSubjects > 0 {
		log.WithField("subjects", len(subjects)).Info("Test mode: partitioning a subject sample")
	}

	if deps.Checkpoints != nil {
		names := make([]string, 0, len(subjects))
		for _, id := range subjects {
			names = append(names, strconv.FormatInt(id, 10))
		}
		if err := deps.Checkpoints.Forget(ctx, names...); err != nil {
			return summary, fmt.Errorf("clearing checkpoints: %w", err)
		}
	}

	partitioner := NewPartitioner(cfg.OutputPath, subjects)
	if err := partitioner.WriteStays(stays); err != nil {
		return summary, err
	}
	if err := partitioner.WriteDiagnoses(phenotyped); err != nil {
		return summary, err
	}

	filter := ingestion.EventFilter{Subjects: make(map[int64]struct{}, len(subjects))}
	for _, id := range subjects {
		filter.Subjects[id] = struct{}{}
	}
	if cfg.ItemIDsFile != "" {
		if filter.ItemIDs, err = ingestion.ReadItemIDs(cfg.ItemIDsFile); err != nil {
			return summary, err
		}
	}

	tables := cfg.EventTables
	if cfg.TestModeSubjects > 0 && len(tables) > 1 {
		tables = tables[:1]
		log.WithField("table", tables[0]).Info("Test mode: partitioning the first event table only")
	}

	summary.EventTables = make(map[string]ingestion.StreamStats)
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		path, err := ingestion.TablePath(cfg.MIMIC3Path, table)
		if err != nil {
			return summary, err
		}
		stats, err := ingestion.StreamEvents(path, filter, func(e models.Event) error {
			return partitioner.AppendEvents(e)
		})
		if err != nil {
			return summary, fmt.Errorf("partitioning %s: %w", table, err)
		}
		if err := partitioner.Flush(); err != nil {
			return summary, err
		}
		summary.EventTables[table] = stats
		metrics.AddPartitioned(stats.Kept, stats.Malformed)
		log.WithFields(map[string]interface{}{
			"table":     table,
			"rows":      stats.Rows,
			"kept":      stats.Kept,
			"malformed": stats.Malformed,
		}).Info("Event table partitioned")
	}
	publish(ctx, deps.Publisher, EventEventsPartitioned, runID, map[string]interface{}{"subjects": len(subjects)})

	for _, id := range partitioner.Subjects() {
		publish(ctx, deps.Publisher, EventSubjectPartitioned, runID, map[string]interface{}{"subject_id": strconv.FormatInt(id, 10)})
	}

	log.WithFields(summary.Cohort.Fields()).Info("Extraction finished")
	return summary, nil
}

func buildCohort(cfg *config.Config, summary *ExtractSummary) ([]models.Stay, error) {
	paths := make(map[string]string, 3)
	for _, table := range []string{TablePatients, TableAdmissions, TableICUStays} {
		path, err := ingestion.TablePath(cfg.MIMIC3Path, table)
		if err != nil {
			return nil, err
		}
		paths[table] = path
	}

	patients, err := ingestion.ReadPatients(paths[TablePatients])
	if err != nil {
		return nil, err
	}
	admissions, err := ingestion.ReadAdmissions(paths[TableAdmissions])
	if err != nil {
		return nil, err
	}
	icuStays, err := ingestion.ReadICUStays(paths[TableICUStays])
	if err != nil {
		return nil, err
	}

	stays, cohortSummary := cohort.Build(patients, admissions, icuStays, cohort.OptionsFromConfig(cfg))
	summary.Cohort = cohortSummary
	metrics.ObserveCohort(len(stays), cohortSummary.Subjects)

	if err := cohort.WriteStays(filepath.Join(cfg.OutputPath, cohort.StaysFile), stays); err != nil {
		return nil, err
	}
	return stays, nil
}

func writeDiagnoses(cfg *config.Config, stays []models.Stay, labeler *phenotype.Labeler, summary *ExtractSummary) ([]phenotype.Phenotyped, error) {
	path, err := ingestion.TablePath(cfg.MIMIC3Path, TableDiagnoses)
	if err != nil {
		return nil, err
	}
	raw, err := ingestion.ReadDiagnoses(path)
	if err != nil {
		return nil, err
	}

	diagnoses := diagnosis.Associate(raw, stays)
	counts := diagnosis.CountCodes(diagnoses)
	summary.Diagnoses = len(diagnoses)
	summary.Codes = len(counts)

	if err := diagnosis.WriteDiagnoses(filepath.Join(cfg.OutputPath, diagnosis.DiagnosesFile), diagnoses); err != nil {
		return nil, err
	}
	if err := diagnosis.WriteCounts(filepath.Join(cfg.OutputPath, diagnosis.CountsFile), counts); err != nil {
		return nil, err
	}

	phenotyped := labeler.AddGroups(diagnoses)
	rows := labeler.LabelMatrix(phenotyped, stays)
	if err := labeler.WriteLabelMatrix(filepath.Join(cfg.OutputPath, phenotype.LabelsFile), rows); err != nil {
		return nil, err
	}
	return phenotyped, nil
}

// SampleSubjects returns the cohort's subject ids, or a seeded random sample
// of n of them when n > 0.
func SampleSubjects(stays []models.Stay, n int, seed int64) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, s := range stays {
		if _, ok := seen[s.SubjectID]; ok {
			continue
		}
		seen[s.SubjectID] = struct{}{}
		ids = append(ids, s.SubjectID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if n <= 0 || n >= len(ids) {
		return ids
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	sample := ids[:n]
	sort.Slice(sample, func(i, j int) bool { return sample[i] < sample[j] })
	return sample
}

func publish(ctx context.Context, p Publisher, eventType, runID string, data map[string]interface{}) {
	if err := p.Publish(ctx, eventType, runID, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish stage event")
	}
}
