// Package decrypt removes common encryption from downloaded files with
// mp4decrypt, using content keys the user already holds.
package decrypt

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dashprobe/internal/manifest"
)

// ErrNoKeys is returned when decryption is requested without any key.
var ErrNoKeys = errors.New("no content keys supplied")

// Key is a content key paired with the key ID it unlocks. Both are 32
// lowercase hex characters.
type Key struct {
	KID string
	Key string
}

func (k Key) String() string {
	return k.KID + ":" + k.Key
}

// ParseKey parses a KID:KEY pair. The KID may be in any form NormalizeKID
// accepts; the key must be 16 bytes of hex.
func ParseKey(s string) (Key, error) {
	// A hyphenated UUID KID has no colons, so the last colon splits the pair.
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("key %q: want KID:KEY", s)
	}

	kid, err := manifest.NormalizeKID(s[:i])
	if err != nil {
		return Key{}, fmt.Errorf("key %q: %w", s, err)
	}

	key := strings.ToLower(strings.TrimSpace(s[i+1:]))
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 16 {
		return Key{}, fmt.Errorf("key %q: content key must be 32 hex characters", s)
	}

	return Key{KID: kid, Key: key}, nil
}

// ParseKeys parses a list of KID:KEY pairs, dropping exact duplicates.
// Two different keys for one KID is an error.
func ParseKeys(pairs []string) ([]Key, error) {
	seen := make(map[string]string)
	var keys []Key
	for _, p := range pairs {
		k, err := ParseKey(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[k.KID]; ok {
			if prev != k.Key {
				return nil, fmt.Errorf("conflicting keys for KID %s", k.KID)
			}
			continue
		}
		seen[k.KID] = k.Key
		keys = append(keys, k)
	}
	return keys, nil
}

// MissingKeys returns the key IDs in kids that no key in keys covers.
func MissingKeys(keys []Key, kids []string) []string {
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k.KID] = true
	}
	var missing []string
	for _, kid := range kids {
		if !have[kid] {
			missing = append(missing, kid)
		}
	}
	return missing
}

// OutputPath returns where the decrypted copy of input is written.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".decrypted" + ext
}

// Args builds the mp4decrypt argument list.
func Args(keys []Key, input, output string) []string {
	args := make([]string, 0, 2*len(keys)+2)
	for _, k := range keys {
		args = append(args, "--key", k.String())
	}
	return append(args, input, output)
}

// Decrypt writes a decrypted copy of input next to it and returns its path.
func Decrypt(ctx context.Context, binary, input string, keys []Key, stderr io.Writer) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoKeys
	}
	if binary == "" {
		binary = "mp4decrypt"
	}
	binPath, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", binary, err)
	}

	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("encrypted input: %w", err)
	}

	output := OutputPath(input)
	cmd := exec.CommandContext(ctx, binPath, Args(keys, input, output)...)
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		os.Remove(output)
		return "", fmt.Errorf("%s failed: %w", filepath.Base(binPath), err)
	}

	return output, nil
}
