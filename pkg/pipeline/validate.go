package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/synaptica-ai/decompensation/pkg/analytics/cohort"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/synaptica-ai/decompensation/pkg/ingestion"
	"github.com/synaptica-ai/decompensation/pkg/linkage"
	"github.com/synaptica-ai/decompensation/pkg/observability/metrics"
	"github.com/synaptica-ai/decompensation/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// ValidateSubject resolves the events of one subject directory against its
// stays and overwrites events.csv with the resolved rows. A subject without
// an events file has nothing to validate.
func ValidateSubject(root, subject string, rules ...linkage.Rule) (linkage.Stats, error) {
	dir := filepath.Join(root, subject)
	stays, err := cohort.ReadStays(filepath.Join(dir, SubjectStaysFile))
	if err != nil {
		return linkage.Stats{}, fmt.Errorf("reading stays: %w", err)
	}

	eventsPath := filepath.Join(dir, SubjectEventsFile)
	events, err := ingestion.ReadEvents(eventsPath)
	if errors.Is(err, os.ErrNotExist) {
		return linkage.Stats{ByRule: map[string]int{}, Dropped: map[string]int{}}, nil
	}
	if err != nil {
		return linkage.Stats{}, fmt.Errorf("reading events: %w", err)
	}

	resolved, stats := linkage.NewResolver(stays, rules...).ResolveAll(events)
	if err := replaceEvents(eventsPath, resolved); err != nil {
		return stats, fmt.Errorf("writing events: %w", err)
	}
	return stats, nil
}

// replaceEvents writes to a sibling temp file and renames it over path so a
// crash never leaves a truncated events file.
func replaceEvents(path string, events []models.Event) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".events-*.csv")
	if err != nil {
		return err
	}
	if err := ingestion.WriteEvents(tmp, events, true); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// EventsFingerprint identifies the current content of a subject's events
// file by size and modification time. A missing file has its own fingerprint.
func EventsFingerprint(root, subject string) string {
	info, err := os.Stat(filepath.Join(root, subject, SubjectEventsFile))
	if err != nil {
		return "absent"
	}
	return strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
}

// ListSubjects returns the numeric subdirectories of root in ascending order.
func ListSubjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	type subject struct {
		name string
		id   int64
	}
	var found []subject
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, subject{entry.Name(), id})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })
	out := make([]string, 0, len(found))
	for _, s := range found {
		out = append(out, s.name)
	}
	return out, nil
}

type ValidationReport struct {
	Subjects  int           `json:"subjects"`
	Validated int           `json:"validated"`
	Skipped   int           `json:"skipped"`
	Failed    []string      `json:"failed,omitempty"`
	Events    linkage.Stats `json:"events"`
}

func (r ValidationReport) Summary() map[string]interface{} {
	return map[string]interface{}{
		"subjects":        r.Subjects,
		"validated":       r.Validated,
		"skipped":         r.Skipped,
		"failed":          len(r.Failed),
		"events":          r.Events.Total,
		"events_resolved": r.Events.Resolved,
		"events_dropped":  r.Events.DroppedTotal(),
	}
}

// Validator runs ValidateSubject over many subjects with a bounded pool.
// Each subject directory is owned by exactly one worker.
type Validator struct {
	Root        string
	Workers     int
	Checkpoints storage.CheckpointStore
	Publisher   Publisher
	RunID       string
	Rules       []linkage.Rule

	mu     sync.Mutex
	report ValidationReport
}

func NewValidator(root string, workers int, checkpoints storage.CheckpointStore) *Validator {
	if workers <= 0 {
		workers = 1
	}
	return &Validator{Root: root, Workers: workers, Checkpoints: checkpoints, Publisher: NopPublisher()}
}

// ValidateAll discovers every subject under root and validates it.
func ValidateAll(ctx context.Context, root string, workers int, checkpoints storage.CheckpointStore) (ValidationReport, error) {
	return NewValidator(root, workers, checkpoints).Run(ctx)
}

func (v *Validator) Run(ctx context.Context) (ValidationReport, error) {
	subjects, err := ListSubjects(v.Root)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("listing subjects: %w", err)
	}
	return v.RunSubjects(ctx, subjects)
}

// RunSubjects validates the given subjects. Per-subject failures are logged
// and reported; only context cancellation stops the pool.
func (v *Validator) RunSubjects(ctx context.Context, subjects []string) (ValidationReport, error) {
	v.mu.Lock()
	v.report = ValidationReport{
		Subjects: len(subjects),
		Events:   linkage.Stats{ByRule: map[string]int{}, Dropped: map[string]int{}},
	}
	v.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.Workers)
	for _, subject := range subjects {
		subject := subject
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v.validateOne(gctx, subject)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	v.mu.Lock()
	report := v.report
	sort.Strings(report.Failed)
	v.mu.Unlock()

	logger.Log.WithFields(report.Summary()).Info("Event validation finished")
	return report, err
}

func (v *Validator) validateOne(ctx context.Context, subject string) {
	log := logger.WithSubject(subject)

	if v.Checkpoints != nil {
		done, err := v.Checkpoints.IsDone(ctx, subject, EventsFingerprint(v.Root, subject))
		if err != nil {
			log.WithError(err).Warn("Checkpoint lookup failed, validating anyway")
		} else if done {
			metrics.IncSubjectSkipped()
			v.mu.Lock()
			v.report.Skipped++
			v.mu.Unlock()
			return
		}
	}

	stats, err := ValidateSubject(v.Root, subject, v.Rules...)
	if err != nil {
		log.WithError(err).Error("Subject validation failed")
		metrics.IncSubjectFailed()
		v.mu.Lock()
		v.report.Failed = append(v.report.Failed, subject)
		v.mu.Unlock()
		return
	}

	metrics.AddValidated(stats.Resolved, stats.DroppedTotal())
	log.WithFields(stats.Fields()).Debug("Subject validated")

	v.mu.Lock()
	v.report.Validated++
	mergeStats(&v.report.Events, stats)
	v.mu.Unlock()

	if v.Checkpoints != nil {
		if err := v.Checkpoints.MarkDone(ctx, subject, EventsFingerprint(v.Root, subject)); err != nil {
			log.WithError(err).Warn("Failed to checkpoint subject")
		}
	}
	if v.Publisher != nil {
		data := map[string]interface{}{
			"subject_id": subject,
			"events":     stats.Total,
			"resolved":   stats.Resolved,
			"dropped":    stats.DroppedTotal(),
		}
		if err := v.Publisher.Publish(ctx, EventSubjectValidated, v.RunID, data); err != nil {
			log.WithError(err).Warn("Failed to publish validation event")
		}
	}
}

func mergeStats(dst *linkage.Stats, src linkage.Stats) {
	dst.Total += src.Total
	dst.Resolved += src.Resolved
	for rule, n := range src.ByRule {
		dst.ByRule[rule] += n
	}
	for reason, n := range src.Dropped {
		dst.Dropped[reason] += n
	}
}
