package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	StageExtract  = "extract"
	StageValidate = "validate"
	StageSplit    = "split"
)

var ErrRunNotFound = errors.New("pipeline run not found")

type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Stage        string            `gorm:"column:stage"`
	Status       string            `gorm:"column:status"`
	OutputPath   string            `gorm:"column:output_path"`
	Summary      datatypes.JSONMap `gorm:"column:summary"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "pipeline_runs"
}

func (m *RunModel) ToDomain() models.PipelineRun {
	run := models.PipelineRun{
		ID:           m.ID.String(),
		Stage:        m.Stage,
		Status:       m.Status,
		OutputPath:   m.OutputPath,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}
	if m.Summary != nil {
		run.Summary = map[string]interface{}(m.Summary)
	}
	return run
}

// NewRunModel returns a running ledger entry with a fresh id.
func NewRunModel(stage, outputPath string) *RunModel {
	now := time.Now().UTC()
	return &RunModel{
		ID:         uuid.New(),
		Stage:      stage,
		Status:     StatusRunning,
		OutputPath: outputPath,
		CreatedAt:  now,
		UpdatedAt:  now,
		StartedAt:  &now,
	}
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{})
}

func (r *Repository) Create(ctx context.Context, run *RunModel) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Finish records the terminal status of a run.
func (r *Repository) Finish(ctx context.Context, runID uuid.UUID, status string, summary map[string]interface{}, errorMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    now,
		"completed_at":  now,
	}
	if summary != nil {
		updates["summary"] = datatypes.JSONMap(summary)
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
}

func (r *Repository) Get(ctx context.Context, runID uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) List(ctx context.Context, stage string, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunModel
	query := r.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if stage != "" {
		query = query.Where("stage = ?", stage)
	}
	result := query.Find(&runs)
	return runs, result.Error
}

// Ledger wraps a Repository so callers can record runs without caring
// whether Postgres is configured. A nil Ledger records nothing.
type Ledger struct {
	repo *Repository
}

func NewLedger(repo *Repository) *Ledger {
	if repo == nil {
		return nil
	}
	return &Ledger{repo: repo}
}

// Start returns the run id, which is also used to tag stage events.
func (l *Ledger) Start(ctx context.Context, stage, outputPath string) (string, error) {
	run := NewRunModel(stage, outputPath)
	if l == nil {
		return run.ID.String(), nil
	}
	if err := l.repo.Create(ctx, run); err != nil {
		return run.ID.String(), err
	}
	return run.ID.String(), nil
}

func (l *Ledger) Finish(ctx context.Context, runID string, summary map[string]interface{}, runErr error) error {
	if l == nil {
		return nil
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return err
	}
	status, message := StatusCompleted, ""
	if runErr != nil {
		status, message = StatusFailed, runErr.Error()
	}
	return l.repo.Finish(ctx, id, status, summary, message)
}
