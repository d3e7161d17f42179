package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/schema"
	"github.com/noah-isme/research-staging-api/internal/service"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "schemas", "promote", "reject", "purge", "resolve", "enrich", "orcid-search", "orcid-import", "user"} {
		assert.True(t, names[want], want)
	}
}

func TestPromoteRequiresID(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"promote"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.Execute())
}

func TestOrcidImportRequiresORCID(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"orcid-import"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.Execute())
}

func TestPrintImportReport(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)

	printImportReport(root, &service.ProfileImportReport{
		BatchID: "orcid:20260301T080000Z",
		Staged: []models.StagingEntry{
			{ID: "s1", Raw: models.RawRecord{"orcid": "0000-0002-1825-0097"}},
			{ID: "s2", Raw: models.RawRecord{"orcid": "0000-0001-5109-3700"}, ValidationErrors: models.ValidationErrors{{Column: "institution", Rule: "required"}}},
		},
		Failures: []service.ProfileImportFailure{{ORCID: "0000-0003-0000-0001", Error: "no public orcid record"}},
	})

	text := out.String()
	assert.Contains(t, text, "batch orcid:20260301T080000Z: staged 2, failed 1")
	assert.Contains(t, text, "s1 0000-0002-1825-0097 (valid)")
	assert.Contains(t, text, "s2 0000-0001-5109-3700 (1 validation errors)")
	assert.Contains(t, text, "0000-0003-0000-0001 failed: no public orcid record")
}

func TestPurgeFlagsFilter(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	_, err := purgeFlags{}.filter(now)
	require.Error(t, err)

	_, err = purgeFlags{status: "archived"}.filter(now)
	require.Error(t, err)

	filter, err := purgeFlags{batch: " b-1 ", status: "rejected", olderThan: 24 * time.Hour}.filter(now)
	require.NoError(t, err)
	assert.Equal(t, "b-1", filter.SourceBatchID)
	require.NotNil(t, filter.Status)
	assert.Equal(t, models.StagingStatusRejected, *filter.Status)
	require.NotNil(t, filter.OlderThan)
	assert.Equal(t, now.Add(-24*time.Hour), *filter.OlderThan)
}

func TestPrintRegistry(t *testing.T) {
	registry, err := schema.NewRegistry(schema.Builtins())
	require.NoError(t, err)
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)

	require.NoError(t, printRegistry(root, registry, false))
	assert.Contains(t, out.String(), "external_publication")
	assert.Contains(t, out.String(), "researcher")
	assert.Contains(t, out.String(), "unique")

	out.Reset()
	require.NoError(t, printRegistry(root, registry, true))
	assert.Contains(t, out.String(), `"researcher": [`)
}
