package orcid

// Wire types for the ORCID v3.0 public API. Only the fields read by the
// client are declared.

type valueField struct {
	Value string `json:"value"`
}

type contentField struct {
	Content string `json:"content"`
}

type expandedSearchResponse struct {
	NumFound int              `json:"num-found"`
	Results  []expandedResult `json:"expanded-result"`
}

type expandedResult struct {
	ORCID           string   `json:"orcid-id"`
	GivenNames      string   `json:"given-names"`
	FamilyNames     string   `json:"family-names"`
	CreditName      string   `json:"credit-name"`
	OtherNames      []string `json:"other-name"`
	Emails          []string `json:"email"`
	InstitutionName []string `json:"institution-name"`
}

type record struct {
	Identifier identifier        `json:"orcid-identifier"`
	Person     person            `json:"person"`
	Activities activitiesSummary `json:"activities-summary"`
}

type identifier struct {
	Path string `json:"path"`
}

type person struct {
	Name       *personName   `json:"name"`
	OtherNames otherNames    `json:"other-names"`
	Biography  *contentField `json:"biography"`
	Emails     emails        `json:"emails"`
	Keywords   keywords      `json:"keywords"`
}

type personName struct {
	GivenNames *valueField `json:"given-names"`
	FamilyName *valueField `json:"family-name"`
	CreditName *valueField `json:"credit-name"`
}

type otherNames struct {
	OtherName []contentField `json:"other-name"`
}

type emails struct {
	Email []email `json:"email"`
}

type email struct {
	Email   string `json:"email"`
	Primary bool   `json:"primary"`
}

type keywords struct {
	Keyword []contentField `json:"keyword"`
}

type activitiesSummary struct {
	Employments affiliationGroups `json:"employments"`
	Educations  affiliationGroups `json:"educations"`
	Works       worksResponse     `json:"works"`
}

type affiliationGroups struct {
	Groups []affiliationGroup `json:"affiliation-group"`
}

type affiliationGroup struct {
	Summaries []affiliationWrapper `json:"summaries"`
}

type affiliationWrapper struct {
	Employment *affiliationSummary `json:"employment-summary"`
	Education  *affiliationSummary `json:"education-summary"`
}

type affiliationSummary struct {
	Department   string       `json:"department-name"`
	Role         string       `json:"role-title"`
	StartDate    *fuzzyDate   `json:"start-date"`
	EndDate      *fuzzyDate   `json:"end-date"`
	Organization organization `json:"organization"`
}

type organization struct {
	Name    string  `json:"name"`
	Address address `json:"address"`
}

type address struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

type fuzzyDate struct {
	Year  *valueField `json:"year"`
	Month *valueField `json:"month"`
	Day   *valueField `json:"day"`
}

type worksResponse struct {
	Groups []workGroup `json:"group"`
}

type workGroup struct {
	Summaries []workSummary `json:"work-summary"`
}

type workSummary struct {
	PutCode         int64       `json:"put-code"`
	Title           *workTitle  `json:"title"`
	ExternalIDs     externalIDs `json:"external-ids"`
	Type            string      `json:"type"`
	PublicationDate *fuzzyDate  `json:"publication-date"`
	JournalTitle    *valueField `json:"journal-title"`
}

type workTitle struct {
	Title *valueField `json:"title"`
}

type externalIDs struct {
	IDs []externalID `json:"external-id"`
}

type externalID struct {
	Type  string `json:"external-id-type"`
	Value string `json:"external-id-value"`
}
