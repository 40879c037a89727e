package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

const maxIDLength = 128

// ValidateTabID ensures a tab id is non-empty, untrimmed and free of control characters.
func ValidateTabID(id TabID) error {
	return validateID(string(id), ErrInvalidTab)
}

// ValidateWindowID ensures a window id is non-empty, untrimmed and free of control characters.
func ValidateWindowID(id WindowID) error {
	return validateID(string(id), ErrInvalidWindow)
}

func validateID(raw string, invalid error) error {
	if raw == "" || len(raw) > maxIDLength {
		return invalid
	}
	if strings.TrimSpace(raw) != raw {
		return invalid
	}
	for _, r := range raw {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return invalid
		}
	}
	return nil
}

// NormalizeWindowKind validates a window kind; empty means normal.
func NormalizeWindowKind(kind WindowKind) (WindowKind, error) {
	switch WindowKind(strings.ToLower(strings.TrimSpace(string(kind)))) {
	case "", WindowNormal:
		return WindowNormal, nil
	case WindowPrivate, "incognito":
		return WindowPrivate, nil
	default:
		return "", ErrInvalidWindow
	}
}

var (
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
	domainPattern = regexp.MustCompile(`^[\w-]+(\.[\w-]+)+(:\d+)?(/.*)?$`)
	localhostExpr = regexp.MustCompile(`^localhost(:\d+)?(/.*)?$`)
)

// NavigationTarget classifies user input typed into the address bar.
type NavigationTarget struct {
	URL    string
	Search bool
}

// ResolveNavigationTarget turns address bar input into a url.
// Input with a scheme passes through, bare domains get https://, localhost gets
// http://, and anything else becomes a search using the searchURL template.
func ResolveNavigationTarget(input, searchURL string) NavigationTarget {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return NavigationTarget{}
	}
	if strings.ContainsAny(trimmed, " \t") {
		return search(trimmed, searchURL)
	}
	if localhostExpr.MatchString(trimmed) {
		return NavigationTarget{URL: "http://" + trimmed}
	}
	if schemePattern.MatchString(trimmed) && !domainPattern.MatchString(trimmed) {
		return NavigationTarget{URL: trimmed}
	}
	if domainPattern.MatchString(trimmed) {
		return NavigationTarget{URL: "https://" + trimmed}
	}
	return search(trimmed, searchURL)
}

func search(query, searchURL string) NavigationTarget {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	return NavigationTarget{URL: fmt.Sprintf(searchURL, url.QueryEscape(query)), Search: true}
}
