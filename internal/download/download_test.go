package download

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// argsRecorder returns a yt-dlp stand-in that saves its arguments, one per
// line, and $HOME to files under dir, then reports a finished file named
// after the -o template. The paths are part of the script because the child
// does not inherit variables go-ytdlp manages itself.
func argsRecorder(dir string) string {
	return `
printf '%s\n' "$@" > '` + filepath.Join(dir, "args") + `'
printf '%s' "$HOME" > '` + filepath.Join(dir, "home") + `'
out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ] || [ "$1" = "--output" ]; then out="$2"; fi
	shift
done
file=$(printf '%s' "$out" | sed 's/%(ext)s/mp4/')
printf 'data' > "$file"
echo "$file"
`
}

// runRecorded downloads with the recording stand-in and returns the
// directory holding what it saved.
func runRecorded(t *testing.T, opts Options) string {
	t.Helper()
	recordDir := t.TempDir()

	opts.Binary = fakeBinary(t, argsRecorder(recordDir))
	opts.OutputDir = t.TempDir()
	if _, err := Download(context.Background(), "https://cdn.example.com/MWT_1/Manifest.mpd", opts); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	return recordDir
}

func recordedArgs(t *testing.T, opts Options) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(runRecorded(t, opts), "args"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.ReplaceAll(string(data), "\n", " ")
}

func TestDownloadArgs(t *testing.T) {
	joined := recordedArgs(t, Options{
		Name:        "The Title",
		BearerToken: "tok",
		Format:      "bv*+ba/b",
	})

	for _, want := range []string{
		"--allow-unplayable-formats",
		"--no-simulate",
		"--no-playlist",
		"after_move:filepath",
		"The Title.%(ext)s",
		"bv*+ba/b",
		"Authorization:Bearer tok",
		"https://cdn.example.com/MWT_1/Manifest.mpd",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %s", want, joined)
		}
	}
}

func TestDownloadArgsWithoutOptionalFlags(t *testing.T) {
	joined := recordedArgs(t, Options{Name: "plain"})
	if strings.Contains(joined, "Authorization") {
		t.Errorf("unexpected auth header: %s", joined)
	}
	if strings.Contains(joined, "bv*") {
		t.Errorf("unexpected format selector: %s", joined)
	}
}

func TestDownloadArgsURLLast(t *testing.T) {
	args := strings.Fields(recordedArgs(t, Options{Name: "order"}))
	n := len(args)
	if n < 2 || args[n-2] != "--allow-unplayable-formats" || args[n-1] != "https://cdn.example.com/MWT_1/Manifest.mpd" {
		t.Errorf("want unplayable-formats flag then URL at the end, got %q", args)
	}
}

func TestDownloadForwardsEnvironment(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	data, err := os.ReadFile(filepath.Join(runRecorded(t, Options{Name: "env"}), "home"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != home {
		t.Errorf("child HOME = %q, want %q", data, home)
	}
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "title.mp4")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := outputPath(dir, "[info] something\n"+file+"\n\n")
	if err != nil {
		t.Fatalf("outputPath() error: %v", err)
	}
	if got != file {
		t.Errorf("outputPath() = %q, want %q", got, file)
	}

	if _, err := outputPath(dir, ""); err == nil {
		t.Error("expected error for empty output")
	}
	if _, err := outputPath(dir, "/etc/passwd"); err == nil {
		t.Error("expected error for path outside dir")
	}
	if _, err := outputPath(dir, filepath.Join(dir, "missing.mp4")); err == nil {
		t.Error("expected error for missing file")
	}
}

// fakeBinary writes an executable shell script standing in for yt-dlp.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "My Title.mp4")
	bin := fakeBinary(t, "printf 'data' > '"+want+"'\necho '"+want+"'\n")

	got, err := Download(context.Background(), "https://cdn.example.com/a.mpd", Options{
		Binary:    bin,
		OutputDir: dir,
		Name:      "My Title",
	})
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if got != want {
		t.Errorf("Download() = %q, want %q", got, want)
	}
}

func TestDownloadRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "clip.f1.mp4")
	bin := fakeBinary(t, "printf 'half' > '"+partial+"'\nexit 1\n")

	_, err := Download(context.Background(), "https://cdn.example.com/a.mpd", Options{
		Binary:    bin,
		OutputDir: dir,
		Name:      "clip",
	})
	if err == nil {
		t.Fatal("expected error from failing downloader")
	}
	if _, statErr := os.Stat(partial); !os.IsNotExist(statErr) {
		t.Errorf("partial file should be removed, stat error = %v", statErr)
	}
}

func TestDownloadRejectsInsecureURL(t *testing.T) {
	_, err := Download(context.Background(), "http://cdn.example.com/a.mpd", Options{OutputDir: t.TempDir()})
	if err == nil {
		t.Error("expected error for http manifest URL")
	}
}
