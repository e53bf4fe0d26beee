// Package download fetches DASH content with yt-dlp through the go-ytdlp
// command builder. Output paths are validated against directory traversal
// and partial files are removed on failure.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"dashprobe/internal/httputil"
)

// Options controls a single download.
type Options struct {
	Binary      string // yt-dlp executable name or path
	OutputDir   string
	Name        string // output base name, sanitized before use
	BearerToken string
	Format      string    // yt-dlp format selector, empty for its default
	Stderr      io.Writer // receives yt-dlp diagnostics, nil discards them

	// Progress, when set, is called with byte counts as the download runs.
	Progress func(downloaded, total int64)
}

// unplayableFormats lets yt-dlp fetch DRM-protected formats. go-ytdlp has
// no builder method for it, so it is passed ahead of the URL.
const unplayableFormats = "--allow-unplayable-formats"

// newCommand configures yt-dlp for a DRM-protected DASH manifest.
// outputTemplate is a yt-dlp -o template such as /dir/name.%(ext)s.
func newCommand(binPath, outputTemplate string, opts Options) *ytdlp.Command {
	dl := ytdlp.New().
		SetExecutable(binPath).
		NoSimulate().
		NoPlaylist().
		NoPart().
		Print("after_move:filepath").
		Output(outputTemplate)

	if opts.Format != "" {
		dl = dl.Format(opts.Format)
	}
	if opts.BearerToken != "" {
		dl = dl.AddHeaders("Authorization:Bearer " + opts.BearerToken)
	}
	// go-ytdlp builds the child environment from its own map, which holds
	// only PATH unless told otherwise. It prepends its cache dir to a PATH
	// set here.
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		dl = dl.SetEnvVar(key, value)
	}
	if opts.Progress != nil {
		dl = dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			opts.Progress(int64(update.DownloadedBytes), int64(update.TotalBytes))
		})
	}
	return dl
}

// Download fetches manifestURL into opts.OutputDir and returns the path of
// the still-encrypted file.
func Download(ctx context.Context, manifestURL string, opts Options) (string, error) {
	if err := httputil.ValidateURL(manifestURL); err != nil {
		return "", fmt.Errorf("invalid manifest URL: %w", err)
	}

	binary := opts.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	binPath, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", binary, err)
	}

	absDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	stem, err := httputil.SafeDownloadPath(absDir, opts.Name)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}
	base := filepath.Base(stem)

	result, err := newCommand(binPath, stem+".%(ext)s", opts).Run(ctx, unplayableFormats, manifestURL)
	if result != nil && opts.Stderr != nil && result.Stderr != "" {
		io.WriteString(opts.Stderr, result.Stderr)
	}
	if err != nil {
		removePartial(absDir, base)
		return "", fmt.Errorf("%s failed: %w", filepath.Base(binPath), err)
	}

	out, err := outputPath(absDir, result.Stdout)
	if err != nil {
		removePartial(absDir, base)
		return "", err
	}
	return out, nil
}

// outputPath picks the final file path from yt-dlp's printed output and
// checks it landed inside dir.
func outputPath(dir, printed string) (string, error) {
	var last string
	for _, line := range strings.Split(printed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	if last == "" {
		return "", fmt.Errorf("downloader reported no output file")
	}

	rel, err := filepath.Rel(dir, last)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("downloader wrote outside %s: %s", dir, last)
	}
	if _, err := os.Stat(last); err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	return last, nil
}

// removePartial deletes files yt-dlp left behind for base.
func removePartial(dir, base string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base+".") {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}
