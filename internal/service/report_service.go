package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/models"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/export"
	"github.com/noah-isme/research-staging-api/pkg/storage"
)

const maxReportEntries = 5000

var validationReportHeaders = []string{"Entry ID", "Seq", "Schema", "Batch", "Column", "Rule", "Message", "Value"}

type invalidEntryLister interface {
	ListInvalid(ctx context.Context, filter models.StagingFilter, limit int) ([]models.StagingEntry, error)
}

// ReportRequest selects the staging entries a validation report covers.
type ReportRequest struct {
	Format  models.ReportFormat `validate:"required,oneof=csv pdf"`
	Schema  string
	BatchID string
	Limit   int `validate:"omitempty,min=1"`
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	FileName  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportServiceConfig governs report retention.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ReportService renders validation error reports for reviewers.
type ReportService struct {
	staging  invalidEntryLister
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// NewReportService constructs a ReportService.
func NewReportService(staging invalidEntryLister, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{staging: staging, exporter: exporter, logger: logger, cfg: cfg}
}

// Generate renders one row per validation error of the pending entries that
// match req and returns a signed download link.
func (s *ReportService) Generate(ctx context.Context, req ReportRequest) (*models.ValidationReport, error) {
	if req.Format != models.ReportFormatCSV && req.Format != models.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxReportEntries {
		limit = maxReportEntries
	}
	pending := models.StagingStatusPending
	entries, err := s.staging.ListInvalid(ctx, models.StagingFilter{
		Status:        &pending,
		Schema:        req.Schema,
		SourceBatchID: req.BatchID,
	}, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invalid entries")
	}

	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		for _, ve := range e.ValidationErrors {
			rows = append(rows, map[string]string{
				"Entry ID": e.ID,
				"Seq":      strconv.FormatInt(e.Seq, 10),
				"Schema":   e.Schema,
				"Batch":    e.SourceBatchID,
				"Column":   ve.Column,
				"Rule":     ve.Rule,
				"Message":  ve.Message,
				"Value":    ve.Value,
			})
		}
	}

	id := uuid.NewString()
	name := "validation"
	if req.Schema != "" {
		name += "_" + req.Schema
	}
	result, err := s.exporter.Generate(id, name, "Validation Report", req.Format, export.Dataset{
		Headers: validationReportHeaders,
		Rows:    rows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render validation report")
	}
	s.logger.Sugar().Infow("validation report generated", "report_id", id, "entries", len(entries), "errors", len(rows))

	return &models.ValidationReport{
		ID:        id,
		Format:    req.Format,
		Entries:   len(entries),
		Errors:    len(rows),
		URL:       result.URL,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// ResolveDownload validates a token and opens the referenced file.
func (s *ReportService) ResolveDownload(_ context.Context, token string) (*ReportDownload, error) {
	claims, err := s.exporter.ParseToken(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	file, err := s.exporter.Open(claims.Path)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	format := models.ReportFormatCSV
	if filepath.Ext(claims.Path) == ".pdf" {
		format = models.ReportFormatPDF
	}
	return &ReportDownload{
		File:      file,
		FileName:  filepath.Base(claims.Path),
		Format:    format,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// StartCleanup boots a goroutine that purges expired reports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired()
			}
		}
	}()
}

func (s *ReportService) cleanupExpired() {
	deleted, err := s.exporter.Cleanup(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Sugar().Warnw("report cleanup failed", "error", err)
		return
	}
	if len(deleted) > 0 {
		s.logger.Sugar().Infow("expired reports removed", "count", len(deleted))
	}
}
