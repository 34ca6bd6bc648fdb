package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
)

// ErrNotFound is returned when a run has no library record.
var ErrNotFound = errors.New("library: record not found")

// Record is one completed run in the catalog.
type Record struct {
	RunID          string    `gorm:"primaryKey;size:26" json:"run_id"`
	SourceURL      string    `gorm:"index" json:"source_url"`
	Title          string    `json:"title"`
	Languages      string    `json:"languages"` // comma-separated target languages
	ClipPath       string    `json:"clip_path"`
	ClipBytes      int64     `json:"clip_bytes"`
	ClipDurationS  float64   `json:"clip_duration_s"`
	SourceDuration float64   `json:"source_duration_s"`
	Highlights     int       `json:"highlights"`
	ExportedFiles  int       `json:"exported_files"`
	FailedFiles    int       `json:"failed_files"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `gorm:"index" json:"completed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TargetLanguages splits the stored language list.
func (r *Record) TargetLanguages() []string {
	if r.Languages == "" {
		return nil
	}
	return strings.Split(r.Languages, ",")
}

// Store is the run library backed by a relational database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	log := observability.WithComponent(logger, "library")
	db, err := openDB(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating library schema: %w", err)
	}
	log.Debug("library opened", "driver", cfg.Driver)
	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordRun upserts a library record for a finished project.
func (s *Store) RecordRun(ctx context.Context, project *models.Project) error {
	if project == nil || project.RunID.IsZero() {
		return errors.New("library: project has no run id")
	}
	rec := recordFromProject(project)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("recording run %s: %w", rec.RunID, err)
	}
	s.logger.Debug("run recorded", "run_id", rec.RunID, "title", rec.Title)
	return nil
}

// Get returns the record for one run.
func (s *Store) Get(ctx context.Context, runID models.RunID) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "run_id = ?", runID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", runID, err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest completion first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	err := s.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return recs, nil
}

// Delete removes a run from the catalog. Deleting an absent run is not an
// error.
func (s *Store) Delete(ctx context.Context, runID models.RunID) error {
	err := s.db.WithContext(ctx).
		Delete(&Record{}, "run_id = ?", runID.String()).Error
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", runID, err)
	}
	return nil
}

// Count returns the number of cataloged runs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func recordFromProject(p *models.Project) *Record {
	rec := &Record{
		RunID:       p.RunID.String(),
		SourceURL:   p.SourceURL,
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
	}
	if p.Video != nil {
		rec.Title = p.Video.Title
		rec.SourceDuration = p.Video.DurationS
	}
	if p.Analysis != nil {
		rec.Highlights = len(p.Analysis.Highlights)
	}
	if len(p.Translations) > 0 {
		langs := make([]string, 0, len(p.Translations))
		for lang := range p.Translations {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		rec.Languages = strings.Join(langs, ",")
	}
	if len(p.EditedVideos) > 0 {
		clip := p.EditedVideos[0]
		rec.ClipPath = clip.Path
		rec.ClipBytes = clip.Bytes
		rec.ClipDurationS = clip.DurationS
	}
	if p.ExportResult != nil {
		rec.ExportedFiles = p.ExportResult.Successful
		rec.FailedFiles = p.ExportResult.Failed
	}
	return rec
}
