package httputil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// idPattern matches title IDs, media keys and circulation IDs.
	idPattern      = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,256}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)

	placeholderPattern = regexp.MustCompile(`\{([a-zA-Z]+)\}`)
)

// ValidateURL checks that a URL is well-formed and uses HTTPS.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	switch {
	case err != nil:
		return fmt.Errorf("malformed URL: %w", err)
	case u.Scheme != "https":
		return fmt.Errorf("only HTTPS URLs are allowed, got %q", u.Scheme)
	case u.Host == "":
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// ValidateID checks that an identifier is safe to use as a URL path segment
// or inside a file name.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !idPattern.MatchString(id) {
		if len(id) > 256 {
			return fmt.Errorf("ID too long: %d characters", len(id))
		}
		return fmt.Errorf("ID contains invalid characters: %q", id)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("ID contains path traversal: %q", id)
	}
	return nil
}

// ValidateNumericID checks a catalog title ID, which the patron API only
// issues as digits.
func ValidateNumericID(id string) error {
	if !numericPattern.MatchString(id) {
		return fmt.Errorf("expected numeric ID, got %q", id)
	}
	return nil
}

// BuildURL joins base and path segments, escaping each segment.
func BuildURL(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// ExpandTemplate substitutes {name} placeholders in an HTTPS URL template.
// Every placeholder needs a value and every value needs a placeholder. Values
// must pass ValidateID and are path-escaped.
func ExpandTemplate(template string, values map[string]string) (string, error) {
	used := make(map[string]bool, len(values))
	var expandErr error

	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := values[name]
		if !ok {
			if expandErr == nil {
				expandErr = fmt.Errorf("no value for %s", m)
			}
			return m
		}
		if err := ValidateID(v); err != nil && expandErr == nil {
			expandErr = fmt.Errorf("%s: %w", name, err)
		}
		used[name] = true
		return url.PathEscape(v)
	})
	if expandErr != nil {
		return "", expandErr
	}

	for name := range values {
		if !used[name] {
			return "", fmt.Errorf("URL template %q has no {%s} placeholder", template, name)
		}
	}
	if err := ValidateURL(out); err != nil {
		return "", err
	}
	return out, nil
}
