// Package ui handles terminal interaction: fzf pickers, prompts and styled
// output. Items are piped to fzf via stdin as plain text, never through
// shell-interpreted preview strings.
package ui

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrCancelled is returned when the user backs out of a picker.
var ErrCancelled = errors.New("selection cancelled")

// fzf exit statuses.
const (
	fzfNoMatch   = 1
	fzfInterrupt = 130
)

// runFzf feeds input to fzf and returns what it printed. allowNoMatch
// accepts exit status 1, which --print-query uses for a query that matched
// nothing.
func runFzf(input string, allowNoMatch bool, args ...string) (string, error) {
	fzfPath, err := exec.LookPath("fzf")
	if err != nil {
		return "", fmt.Errorf("fzf not found in PATH: %w", err)
	}

	var stdout bytes.Buffer
	cmd := exec.Command(fzfPath, args...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case !errors.As(err, &exitErr):
			return "", fmt.Errorf("fzf failed: %w", err)
		case exitErr.ExitCode() == fzfInterrupt:
			return "", ErrCancelled
		case exitErr.ExitCode() == fzfNoMatch && allowNoMatch:
		default:
			return "", fmt.Errorf("fzf failed: %w", err)
		}
	}
	return stdout.String(), nil
}

// Select shows items in fzf and returns the index of the chosen one. Each
// line carries its index in a hidden first column, so duplicate labels
// still resolve to the right item.
func Select(prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}

	var input strings.Builder
	for i, item := range items {
		fmt.Fprintf(&input, "%d\t%s\n", i, strings.ReplaceAll(item, "\n", " "))
	}

	out, err := runFzf(input.String(), false,
		"--prompt", prompt+" > ",
		"--height", "40%",
		"--reverse",
		"--with-nth", "2..",
		"--delimiter", "\t",
		"--no-multi",
		"--cycle",
	)
	if err != nil {
		return -1, err
	}

	field, _, ok := strings.Cut(strings.TrimSpace(out), "\t")
	if !ok {
		return -1, fmt.Errorf("no selection made")
	}
	idx, err := strconv.Atoi(field)
	if err != nil || idx < 0 || idx >= len(items) {
		return -1, fmt.Errorf("unexpected fzf selection %q", field)
	}
	return idx, nil
}

// Confirm asks a yes/no question.
func Confirm(prompt string) (bool, error) {
	idx, err := Select(prompt, []string{"Yes", "No"})
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}

// Input reads one line of free text using fzf's query box.
func Input(prompt string) (string, error) {
	out, err := runFzf("", true,
		"--prompt", prompt+" > ",
		"--height", "10%",
		"--reverse",
		"--print-query",
		"--no-info",
	)
	if err != nil {
		return "", err
	}

	query, _, _ := strings.Cut(out, "\n")
	if query = strings.TrimSpace(query); query == "" {
		return "", fmt.Errorf("no input provided")
	}
	return query, nil
}

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Password reads a secret from the terminal without echoing it.
func Password(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	what := strings.ToLower(prompt)
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", what)
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", what, err)
	}

	value := strings.TrimSpace(string(secret))
	if value == "" {
		return "", fmt.Errorf("no %s provided", what)
	}
	return value, nil
}
