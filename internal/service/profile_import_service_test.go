package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/source/orcid"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

type staticProfiles struct {
	profiles map[string]*models.ResearcherProfile
	err      error
	calls    []string
}

func (s *staticProfiles) Profile(_ context.Context, id string) (*models.ResearcherProfile, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("orcid record %s: %w", id, orcid.ErrNotFound)
	}
	return p, nil
}

const secondORCID = "0000-0001-5109-3700"

func carberryProfile() *models.ResearcherProfile {
	return &models.ResearcherProfile{
		ORCID:      testORCID,
		GivenNames: "Josiah",
		FamilyName: "Carberry",
		Emails:     []string{"josiah@example.org", "jc@example.edu"},
		Keywords:   []string{"psychoceramics", "ionian philology"},
		Employments: []models.Affiliation{
			{Organization: "Wesleyan University", EndDate: "1999"},
			{Organization: "Brown University", Department: "Psychoceramics", Role: "Professor"},
		},
	}
}

func newProfileImportFixture(t *testing.T, profiles *staticProfiles) (*ProfileImportService, *memStagingRepo) {
	t.Helper()
	staging := newMemStagingRepo()
	stagingSvc := NewStagingService(staging, testRegistry(t), nil, nil, nil, nil)
	svc := NewProfileImportService(profiles, stagingSvc, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return svc, staging
}

func TestResearcherRow(t *testing.T) {
	row := ResearcherRow(carberryProfile())
	assert.Equal(t, map[string]string{
		"first_name":  "Josiah",
		"last_name":   "Carberry",
		"orcid":       testORCID,
		"keywords":    "psychoceramics; ionian philology",
		"email":       "josiah@example.org",
		"institution": "Brown University",
		"department":  "Psychoceramics",
		"title":       "Professor",
	}, row)

	bare := ResearcherRow(&models.ResearcherProfile{ORCID: testORCID, FamilyName: "Carberry"})
	assert.NotContains(t, bare, "institution")
	assert.NotContains(t, bare, "email")
}

func TestProfileImportStagesResearchers(t *testing.T) {
	profiles := &staticProfiles{profiles: map[string]*models.ResearcherProfile{
		testORCID:   carberryProfile(),
		secondORCID: {ORCID: secondORCID, GivenNames: "Laure", FamilyName: "Haak"},
	}}
	svc, staging := newProfileImportFixture(t, profiles)

	report, err := svc.Import(context.Background(), ImportProfilesRequest{
		ORCIDs: []string{"https://orcid.org/" + testORCID, testORCID, secondORCID, "0000-0003-0000-0001"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{testORCID, secondORCID, "0000-0003-0000-0001"}, profiles.calls)
	assert.Equal(t, "orcid:20260301T080000Z", report.BatchID)
	require.Len(t, report.Profiles, 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "0000-0003-0000-0001", report.Failures[0].ORCID)
	assert.Contains(t, report.Failures[0].Error, "no public orcid record")

	require.Len(t, report.Staged, 2)
	assert.Len(t, staging.entries, 2)
	first := report.Staged[0]
	assert.Equal(t, models.SchemaResearcher, first.Schema)
	assert.Equal(t, "orcid:20260301T080000Z", first.SourceBatchID)
	assert.Equal(t, "Brown University", first.Raw["institution"])
	assert.Empty(t, first.ValidationErrors)

	second := report.Staged[1]
	require.NotEmpty(t, second.ValidationErrors)
	assert.Equal(t, "institution", second.ValidationErrors[0].Column)
}

func TestProfileImportValidation(t *testing.T) {
	profiles := &staticProfiles{}
	svc, _ := newProfileImportFixture(t, profiles)

	_, err := svc.Import(context.Background(), ImportProfilesRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Import(context.Background(), ImportProfilesRequest{ORCIDs: []string{testORCID, "not-an-orcid"}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, profiles.calls)

	disabled := NewProfileImportService(nil, nil, nil, nil)
	_, err = disabled.Import(context.Background(), ImportProfilesRequest{ORCIDs: []string{testORCID}})
	assert.True(t, errors.Is(err, appErrors.ErrDisabled))
	_, err = disabled.Profile(context.Background(), testORCID)
	assert.True(t, errors.Is(err, appErrors.ErrDisabled))
}

func TestProfileImportNothingReadable(t *testing.T) {
	profiles := &staticProfiles{err: errors.New("status 502")}
	svc, staging := newProfileImportFixture(t, profiles)

	report, err := svc.Import(context.Background(), ImportProfilesRequest{ORCIDs: []string{testORCID}, BatchID: "manual-1"})
	require.NoError(t, err)
	assert.Equal(t, "manual-1", report.BatchID)
	assert.Empty(t, report.Staged)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error, "failed to read orcid record")
	assert.Empty(t, staging.entries)
}

func TestProfileLookup(t *testing.T) {
	profiles := &staticProfiles{profiles: map[string]*models.ResearcherProfile{testORCID: carberryProfile()}}
	svc, _ := newProfileImportFixture(t, profiles)

	p, err := svc.Profile(context.Background(), "orcid.org/"+testORCID)
	require.NoError(t, err)
	assert.Equal(t, "Josiah Carberry", p.DisplayName())

	_, err = svc.Profile(context.Background(), secondORCID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Profile(context.Background(), "0000")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	profiles.err = errors.New("timeout")
	_, err = svc.Profile(context.Background(), testORCID)
	assert.True(t, errors.Is(err, appErrors.ErrUpstream))
}
