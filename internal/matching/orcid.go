package matching

import (
	"regexp"
	"strings"
)

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// NormalizeORCID trims whitespace, strips an orcid.org URL prefix and
// upper-cases the check character.
func NormalizeORCID(raw string) string {
	id := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://orcid.org/", "http://orcid.org/", "orcid.org/"} {
		if strings.HasPrefix(strings.ToLower(id), prefix) {
			id = id[len(prefix):]
			break
		}
	}
	return strings.ToUpper(id)
}

// ValidORCID reports whether raw is a well-formed ORCID after normalization.
func ValidORCID(raw string) bool {
	return orcidPattern.MatchString(NormalizeORCID(raw))
}
