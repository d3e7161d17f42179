package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/matching"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/source/orcid"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

type profileFetcher interface {
	Profile(ctx context.Context, id string) (*models.ResearcherProfile, error)
}

// ImportProfilesRequest lists the ORCIDs whose public records are staged as
// researcher rows.
type ImportProfilesRequest struct {
	ORCIDs  []string `validate:"required,min=1,max=50,dive,required"`
	BatchID string   `validate:"omitempty,max=200"`
}

// ProfileImportFailure reports an ORCID whose record could not be read.
type ProfileImportFailure struct {
	ORCID string `json:"orcid"`
	Error string `json:"error"`
}

// ProfileImportReport summarises one import.
type ProfileImportReport struct {
	BatchID  string                     `json:"batch_id"`
	Staged   []models.StagingEntry      `json:"staged"`
	Profiles []models.ResearcherProfile `json:"profiles"`
	Failures []ProfileImportFailure     `json:"failures"`
}

// ProfileImportService reads public ORCID records and stages them for review.
type ProfileImportService struct {
	profiles  profileFetcher
	staging   stagingIngester
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProfileImportService constructs a ProfileImportService. A nil fetcher
// disables every operation.
func NewProfileImportService(profiles profileFetcher, staging stagingIngester, validate *validator.Validate, logger *zap.Logger) *ProfileImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ProfileImportService{
		profiles:  profiles,
		staging:   staging,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Profile returns the public record of an ORCID without staging it.
func (s *ProfileImportService) Profile(ctx context.Context, id string) (*models.ResearcherProfile, error) {
	if s.profiles == nil {
		return nil, appErrors.Clone(appErrors.ErrDisabled, "orcid import is disabled")
	}
	id = matching.NormalizeORCID(id)
	if !matching.ValidORCID(id) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid orcid %q", id))
	}
	p, err := s.profiles.Profile(ctx, id)
	if err != nil {
		return nil, profileError(id, err)
	}
	return p, nil
}

// Import fetches every listed record and stages the readable ones in a single
// researcher batch. Unreadable records are reported in Failures. An existing
// researcher is staged again; promotion rejects it while its ORCID is held.
func (s *ProfileImportService) Import(ctx context.Context, req ImportProfilesRequest) (*ProfileImportReport, error) {
	if s.profiles == nil {
		return nil, appErrors.Clone(appErrors.ErrDisabled, "orcid import is disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid import payload")
	}

	ids := make([]string, 0, len(req.ORCIDs))
	picked := map[string]struct{}{}
	for _, raw := range req.ORCIDs {
		id := matching.NormalizeORCID(raw)
		if !matching.ValidORCID(id) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid orcid %q", raw))
		}
		if _, dup := picked[id]; dup {
			continue
		}
		picked[id] = struct{}{}
		ids = append(ids, id)
	}

	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = "orcid:" + s.now().Format(batchTimestampLayout)
	}
	report := &ProfileImportReport{
		BatchID:  batchID,
		Staged:   []models.StagingEntry{},
		Profiles: []models.ResearcherProfile{},
		Failures: []ProfileImportFailure{},
	}

	rows := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		p, err := s.profiles.Profile(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "orcid import cancelled")
			}
			s.logger.Sugar().Warnw("orcid profile fetch failed", "orcid", id, "error", err)
			report.Failures = append(report.Failures, ProfileImportFailure{ORCID: id, Error: profileError(id, err).Message})
			continue
		}
		report.Profiles = append(report.Profiles, *p)
		rows = append(rows, ResearcherRow(p))
	}

	if len(rows) > 0 {
		staged, err := s.staging.Ingest(ctx, IngestRequest{Schema: models.SchemaResearcher, BatchID: batchID, Rows: rows})
		if err != nil {
			return nil, err
		}
		report.Staged = staged
	}

	s.logger.Sugar().Infow("orcid import finished",
		"batch_id", batchID,
		"staged", len(report.Staged),
		"failures", len(report.Failures),
	)
	return report, nil
}

// ResearcherRow renders a profile as a researcher staging row. Institution,
// department and title come from the current employment.
func ResearcherRow(p *models.ResearcherProfile) map[string]string {
	row := map[string]string{
		"first_name": p.GivenNames,
		"last_name":  p.FamilyName,
		"orcid":      p.ORCID,
		"keywords":   strings.Join(p.Keywords, "; "),
	}
	if len(p.Emails) > 0 {
		row["email"] = p.Emails[0]
	}
	if emp := p.CurrentEmployment(); emp != nil {
		row["institution"] = emp.Organization
		row["department"] = emp.Department
		row["title"] = emp.Role
	}
	return row
}

func profileError(id string, err error) *appErrors.Error {
	if errors.Is(err, orcid.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no public orcid record for %s", id))
	}
	return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, fmt.Sprintf("failed to read orcid record %s", id))
}
