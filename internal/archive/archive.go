// Package archive saves account and catalog data as pretty-printed JSON.
// Uses atomic writes (temp+rename) so an interrupted run never leaves a
// truncated file behind.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dashprobe/internal/httputil"
	"dashprobe/internal/media"
)

// Archive writes into a single directory.
type Archive struct {
	dir string
}

// New returns an Archive rooted at dir. The directory is created on first write.
func New(dir string) *Archive {
	return &Archive{dir: dir}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// ManifestRecord is what gets archived for an inspected manifest.
type ManifestRecord struct {
	ContentID   string                   `json:"content_id"`
	Source      string                   `json:"source"`
	InspectedAt time.Time                `json:"inspected_at"`
	Metadata    *media.ContentMetadata   `json:"metadata"`
	Protections []media.ProtectionRecord `json:"protections"`
}

// UserInfo saves the raw /core/user response.
func (a *Archive) UserInfo(raw []byte) (string, error) {
	return a.SaveRaw("user_info.json", raw)
}

// Borrowed saves the raw /core/borrowed response.
func (a *Archive) Borrowed(raw []byte) (string, error) {
	return a.SaveRaw("borrowed_items.json", raw)
}

// Title saves the raw title detail response.
func (a *Archive) Title(id string, raw []byte) (string, error) {
	if err := httputil.ValidateID(id); err != nil {
		return "", fmt.Errorf("invalid title id: %w", err)
	}
	return a.SaveRaw("title_"+id+".json", raw)
}

// Manifest saves the extraction result for a manifest.
func (a *Archive) Manifest(rec ManifestRecord) (string, error) {
	if err := httputil.ValidateID(rec.ContentID); err != nil {
		return "", fmt.Errorf("invalid content id: %w", err)
	}
	return a.SaveValue("manifest_"+rec.ContentID+".json", rec)
}

// SaveRaw re-indents a JSON document and writes it as name.
func (a *Archive) SaveRaw(name string, raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("archiving %s: not valid JSON: %w", name, err)
	}
	buf.WriteByte('\n')
	return a.write(name, buf.Bytes())
}

// SaveValue encodes v as indented JSON and writes it as name.
func (a *Archive) SaveValue(name string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}
	return a.write(name, buf.Bytes())
}

func (a *Archive) write(name string, data []byte) (string, error) {
	path, err := httputil.SafeDownloadPath(a.dir, name)
	if err != nil {
		return "", fmt.Errorf("invalid archive path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	// Atomic write: temp file + rename
	tmpFile, err := os.CreateTemp(dir, "archive-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing %s: %w", name, err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming %s: %w", name, err)
	}

	return path, nil
}
