// Package models holds the shared data types for the acquisition,
// extraction, and canonicalization subsystems.
package models

import "regexp"

// IdentifierType tags the kind of paper identifier supplied by a
// caller.
type IdentifierType int

const (
	IdentifierUnknown IdentifierType = iota
	IdentifierDOI
	IdentifierArxiv
	IdentifierS2
	IdentifierOpenAlex
	IdentifierURL
)

func (t IdentifierType) String() string {
	switch t {
	case IdentifierDOI:
		return "doi"
	case IdentifierArxiv:
		return "arxiv"
	case IdentifierS2:
		return "s2"
	case IdentifierOpenAlex:
		return "openalex"
	case IdentifierURL:
		return "url"
	default:
		return "unknown"
	}
}

var (
	doiPattern      = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	arxivNewPattern = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
	arxivOldPattern = regexp.MustCompile(`^[a-z-]+(\.[A-Z]{2})?/\d{7}(v\d+)?$`)
	s2Pattern       = regexp.MustCompile(`^[0-9a-f]{40}$`)
	openAlexPattern = regexp.MustCompile(`^[Ww]\d+$`)
)

// DetectIdentifierType classifies a raw identifier string using
// explicit prefixes first, then regex matching, then a generic URL
// fallback, matching the Python reference's resolution order.
func DetectIdentifierType(raw string) IdentifierType {
	cleaned := CleanIdentifier(raw)

	switch {
	case hasPrefix(raw, "doi:"), doiPattern.MatchString(cleaned):
		return IdentifierDOI
	case hasPrefix(raw, "arxiv:"), arxivNewPattern.MatchString(cleaned), arxivOldPattern.MatchString(cleaned):
		return IdentifierArxiv
	case hasPrefix(raw, "s2:"), s2Pattern.MatchString(cleaned):
		return IdentifierS2
	case hasPrefix(raw, "openalex:"), openAlexPattern.MatchString(cleaned):
		return IdentifierOpenAlex
	case looksLikeURL(raw):
		return IdentifierURL
	default:
		return IdentifierUnknown
	}
}

func hasPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if a >= 'A' && a <= 'Z' {
			a += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

func looksLikeURL(s string) bool {
	return hasPrefix(s, "http://") || hasPrefix(s, "https://")
}

var prefixesToStrip = []string{
	"doi:", "DOI:", "arxiv:", "ARXIV:", "s2:", "S2:", "openalex:", "OPENALEX:",
	"https://doi.org/", "http://doi.org/",
	"https://arxiv.org/abs/", "http://arxiv.org/abs/",
	"https://arxiv.org/pdf/", "http://arxiv.org/pdf/",
	"https://openalex.org/", "http://openalex.org/",
	"https://api.semanticscholar.org/", "http://api.semanticscholar.org/",
}

// CleanIdentifier strips known prefixes (scheme tags and well-known
// URL prefixes) from a raw identifier, matching the Python reference.
func CleanIdentifier(raw string) string {
	cleaned := raw
	for _, p := range prefixesToStrip {
		if hasPrefix(cleaned, p) {
			cleaned = cleaned[len(p):]
			break
		}
	}
	return cleaned
}
