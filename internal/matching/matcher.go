// Package matching scores researcher candidates against a query identity and
// resolves the best ORCID. Everything here is pure; callers supply candidates.
package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/research-staging-api/internal/models"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

const (
	weightTolerance = 1e-6
	scoreTolerance  = 1e-9
)

// Outcome classifies a resolution.
type Outcome string

const (
	OutcomeMatched   Outcome = "MATCHED"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
	OutcomeNotFound  Outcome = "NOT_FOUND"
)

// Weights combines the three similarity components.
type Weights struct {
	Name        float64 `json:"name_weight"`
	Institution float64 `json:"institution_weight"`
	Keyword     float64 `json:"keyword_weight"`
}

// DefaultWeights favours the name, then institution, then keywords.
var DefaultWeights = Weights{Name: 0.5, Institution: 0.3, Keyword: 0.2}

// Validate requires non-negative weights summing to 1.
func (w Weights) Validate() error {
	if w.Name < 0 || w.Institution < 0 || w.Keyword < 0 {
		return appErrors.ErrInvalidWeights
	}
	if math.Abs(w.Name+w.Institution+w.Keyword-1) > weightTolerance {
		return appErrors.ErrInvalidWeights
	}
	return nil
}

// Query is the identity being resolved.
type Query struct {
	Name        string
	Institution string
	Keywords    []string
}

// ScoredCandidate is one candidate with its component and weighted scores.
type ScoredCandidate struct {
	Candidate        models.ResearcherIdentity `json:"candidate"`
	Score            float64                   `json:"score"`
	NameScore        float64                   `json:"name_score"`
	InstitutionScore float64                   `json:"institution_score"`
	KeywordScore     float64                   `json:"keyword_score"`
	KeywordOverlap   int                       `json:"keyword_overlap"`
}

// Result is the outcome of Resolve. ORCID and Score are set only when the
// outcome is MATCHED; Tied lists the indistinguishable leaders when AMBIGUOUS.
type Result struct {
	Outcome Outcome           `json:"outcome"`
	ORCID   string            `json:"orcid,omitempty"`
	Score   float64           `json:"score"`
	Match   *ScoredCandidate  `json:"match,omitempty"`
	Tied    []ScoredCandidate `json:"tied,omitempty"`
	Ranked  []ScoredCandidate `json:"ranked"`
}

// Matcher resolves identities with fixed weights and threshold.
type Matcher struct {
	weights  Weights
	minScore float64
}

// NewMatcher validates the weights and returns a Matcher.
func NewMatcher(weights Weights, minScore float64) (*Matcher, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{weights: weights, minScore: minScore}, nil
}

// Weights returns the configured weights.
func (m *Matcher) Weights() Weights { return m.weights }

// MinScore returns the configured threshold.
func (m *Matcher) MinScore() float64 { return m.minScore }

// Score computes the weighted similarity of one candidate.
func (m *Matcher) Score(q Query, c models.ResearcherIdentity) ScoredCandidate {
	return m.score(Tokens(q.Name), q.Institution, KeywordSet(q.Keywords), c)
}

func (m *Matcher) score(nameTokens []string, institution string, keywords map[string]struct{}, c models.ResearcherIdentity) ScoredCandidate {
	sc := ScoredCandidate{Candidate: c}
	sc.NameScore = tokenSimilarity(nameTokens, Tokens(c.Name))
	sc.InstitutionScore = InstitutionSimilarity(institution, c.Institution)
	sc.KeywordOverlap = KeywordOverlap(keywords, KeywordSet(c.Keywords))
	if len(keywords) > 0 {
		sc.KeywordScore = float64(sc.KeywordOverlap) / float64(len(keywords))
	}
	sc.Score = m.weights.Name*sc.NameScore + m.weights.Institution*sc.InstitutionScore + m.weights.Keyword*sc.KeywordScore
	return sc
}

// Resolve ranks candidates against q and picks the best ORCID.
func (m *Matcher) Resolve(q Query, candidates []models.ResearcherIdentity) Result {
	nameTokens := Tokens(q.Name)
	keywords := KeywordSet(q.Keywords)

	ranked := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = m.score(nameTokens, q.Institution, keywords, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	res := Result{Outcome: OutcomeNotFound, Ranked: ranked}
	if len(ranked) == 0 || ranked[0].Score < m.minScore {
		return res
	}

	leaders := leading(ranked)
	if len(leaders) > 1 {
		leaders = preferred(leaders)
	}
	if len(leaders) > 1 {
		res.Outcome = OutcomeAmbiguous
		res.Tied = leaders
		return res
	}

	winner := leaders[0]
	if strings.TrimSpace(winner.Candidate.ORCID) == "" {
		return res
	}
	res.Outcome = OutcomeMatched
	res.ORCID = NormalizeORCID(winner.Candidate.ORCID)
	res.Score = winner.Score
	res.Match = &winner
	return res
}

func leading(ranked []ScoredCandidate) []ScoredCandidate {
	top := ranked[0].Score
	n := 1
	for n < len(ranked) && math.Abs(ranked[n].Score-top) <= scoreTolerance {
		n++
	}
	return ranked[:n]
}

// preferred narrows tied leaders to those with an ORCID and the largest
// keyword overlap.
func preferred(tied []ScoredCandidate) []ScoredCandidate {
	withORCID := make([]ScoredCandidate, 0, len(tied))
	for _, c := range tied {
		if strings.TrimSpace(c.Candidate.ORCID) != "" {
			withORCID = append(withORCID, c)
		}
	}
	if len(withORCID) == 0 {
		withORCID = tied
	}

	best := -1
	out := make([]ScoredCandidate, 0, len(withORCID))
	for _, c := range withORCID {
		switch {
		case c.KeywordOverlap > best:
			best = c.KeywordOverlap
			out = append(out[:0], c)
		case c.KeywordOverlap == best:
			out = append(out, c)
		}
	}
	return out
}
