package httputil

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// maxNameLen keeps generated file names well under common filesystem limits
// once an extension is appended.
const maxNameLen = 200

// SanitizeFilename turns a display title into a single path element. Path
// separators and characters reserved on common filesystems become '_'.
// '%' is also replaced since downloader output templates treat it as a
// format directive.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == 0:
			return -1
		case strings.ContainsRune(`/\:*?"<>|%`, r):
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)

	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, ". ")
	name = strings.ReplaceAll(name, "..", "_")

	if len(name) > maxNameLen {
		name = strings.ToValidUTF8(name[:maxNameLen], "")
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// SafeDownloadPath joins dir and a sanitized filename, returning an absolute
// path that is guaranteed to sit directly inside dir.
func SafeDownloadPath(dir, filename string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	full := filepath.Join(absDir, SanitizeFilename(filename))
	rel, err := filepath.Rel(absDir, full)
	if err != nil || rel != filepath.Base(full) {
		return "", fmt.Errorf("path %q escapes %q", full, absDir)
	}
	return full, nil
}
