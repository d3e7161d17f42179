package models

import (
	"strings"
	"time"
)

// ResearcherIdentity describes a researcher for ORCID resolution.
type ResearcherIdentity struct {
	Name        string   `json:"name"`
	ORCID       string   `json:"orcid,omitempty"`
	Institution string   `json:"institution"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Mapping methods recorded with an ORCID mapping.
const (
	MappingMethodMatcher = "MATCHER"
	MappingMethodManual  = "MANUAL"
)

// OrcidMapping is the resolved ORCID for a name and institution pair.
type OrcidMapping struct {
	NameKey        string    `db:"name_key" json:"-"`
	InstitutionKey string    `db:"institution_key" json:"-"`
	Name           string    `db:"display_name" json:"name"`
	Institution    string    `db:"institution" json:"institution"`
	ORCID          string    `db:"orcid" json:"orcid"`
	Confidence     float64   `db:"confidence" json:"confidence"`
	Method         string    `db:"method" json:"method"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Affiliation is an employment or education entry of an ORCID record.
type Affiliation struct {
	Organization string `json:"organization"`
	Department   string `json:"department,omitempty"`
	Role         string `json:"role,omitempty"`
	City         string `json:"city,omitempty"`
	Region       string `json:"region,omitempty"`
	Country      string `json:"country,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

// ResearcherProfile is the public part of an ORCID record.
type ResearcherProfile struct {
	ORCID       string        `json:"orcid"`
	GivenNames  string        `json:"given_names"`
	FamilyName  string        `json:"family_name"`
	CreditName  string        `json:"credit_name,omitempty"`
	OtherNames  []string      `json:"other_names,omitempty"`
	Biography   string        `json:"biography,omitempty"`
	Emails      []string      `json:"emails,omitempty"`
	Keywords    []string      `json:"keywords,omitempty"`
	Employments []Affiliation `json:"employments,omitempty"`
	Educations  []Affiliation `json:"educations,omitempty"`
	WorkCount   int           `json:"work_count"`
}

// DisplayName joins the given and family names, falling back to the credit name.
func (p *ResearcherProfile) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.GivenNames) + " " + strings.TrimSpace(p.FamilyName))
	if name == "" {
		return strings.TrimSpace(p.CreditName)
	}
	return name
}

// CurrentEmployment returns the first employment without an end date, or the
// first one listed when all have ended. It is nil without employments.
func (p *ResearcherProfile) CurrentEmployment() *Affiliation {
	for i := range p.Employments {
		if p.Employments[i].EndDate == "" {
			return &p.Employments[i]
		}
	}
	if len(p.Employments) > 0 {
		return &p.Employments[0]
	}
	return nil
}
