// Package player opens downloaded files in a local media player.
// Players are started with exec.CommandContext and an explicit argument
// slice; nothing passes through a shell.
package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Args builds the argument list for opening path in the named player.
// iina and celluloid take mpv-style flags.
func Args(name, path, title string) ([]string, error) {
	switch name {
	case "mpv", "iina", "celluloid":
		args := []string{"--force-media-title=" + title}
		if name == "mpv" {
			args = append(args, "--no-terminal")
		}
		return append(args, "--", path), nil
	case "vlc":
		return []string{"--meta-title=" + title, "--play-and-exit", "--", path}, nil
	default:
		return nil, fmt.Errorf("unsupported player %q", name)
	}
}

// Available reports whether the player binary is on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Open plays path and waits for the player to exit. A player quitting with a
// non-zero status is not an error.
func Open(ctx context.Context, name, path, title string) error {
	args, err := Args(name, path, title)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("media file: %w", err)
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("running %s: %w", name, err)
	}
	return nil
}
