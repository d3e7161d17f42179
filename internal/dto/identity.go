package dto

import "github.com/noah-isme/research-staging-api/internal/models"

// ResolveIdentityRequest is the payload of POST /identities/resolve. When
// Candidates is empty the stored researcher records are used.
type ResolveIdentityRequest struct {
	Name        string                      `json:"name" binding:"required"`
	Institution string                      `json:"institution"`
	Keywords    []string                    `json:"keywords,omitempty"`
	Candidates  []models.ResearcherIdentity `json:"candidates,omitempty"`
}

// ImportProfilesRequest is the payload of POST /identities/orcid/import.
type ImportProfilesRequest struct {
	ORCIDs  []string `json:"orcids" binding:"required,min=1,max=50"`
	BatchID string   `json:"batch_id"`
}
