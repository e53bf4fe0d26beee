// Package config handles TOML-based configuration loading and validation,
// plus patron credentials read from the environment or a dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const appName = "dashprobe"

// Config holds all application configuration.
type Config struct {
	APIBase         string `toml:"api_base"`
	ManifestURL     string `toml:"manifest_url"`
	LicenseTokenURL string `toml:"license_token_url"`
	Downloader      string `toml:"downloader"`
	Decrypter       string `toml:"decrypter"`
	Player          string `toml:"player"`
	DownloadDir     string `toml:"download_dir"`
	ArchiveDir      string `toml:"archive_dir"`
	EnvFile         string `toml:"env_file"`
	FlowLog         bool   `toml:"flow_log"`
	LogLevel        string `toml:"log_level"`
	Timeout         string `toml:"timeout"`
	Debug           bool   `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		APIBase:         "https://patron-api-gateway.hoopladigital.com",
		ManifestURL:     "https://dash.hoopladigital.com/{mediaKey}/Manifest.mpd",
		LicenseTokenURL: "https://patron-api-gateway.hoopladigital.com/license/castlabs/upfront-auth-tokens/{mediaKey}/{patronId}/{circId}",
		Downloader:      "yt-dlp",
		Decrypter:       "mp4decrypt",
		Player:          "mpv",
		DownloadDir:     "~/Videos/dashprobe",
		ArchiveDir:      "archive",
		EnvFile:         ".env.secrets",
		FlowLog:         true,
		LogLevel:        "info",
		Timeout:         "30s",
		Debug:           false,
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config.toml over the defaults. A missing file yields the
// defaults; unknown keys are rejected so typos do not pass silently.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Default(), nil
	case err != nil:
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIBase, "https://") {
		return fmt.Errorf("api_base must be an https URL, got %q", c.APIBase)
	}

	if !strings.HasPrefix(c.ManifestURL, "https://") || !strings.Contains(c.ManifestURL, "{mediaKey}") {
		return fmt.Errorf("manifest_url must be an https URL containing {mediaKey}, got %q", c.ManifestURL)
	}

	for _, p := range []string{"{mediaKey}", "{patronId}", "{circId}"} {
		if !strings.Contains(c.LicenseTokenURL, p) {
			return fmt.Errorf("license_token_url is missing the %s placeholder", p)
		}
	}

	if c.Downloader == "" || c.Decrypter == "" {
		return fmt.Errorf("downloader and decrypter cannot be empty")
	}

	validPlayers := map[string]bool{
		"mpv": true, "vlc": true, "iina": true, "celluloid": true,
	}
	if !validPlayers[c.Player] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc, iina, celluloid)", c.Player)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("unsupported log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 || d > 10*time.Minute {
		return fmt.Errorf("timeout %s out of range (0, 10m]", d)
	}

	return nil
}

// RequestTimeout returns the parsed HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ExpandDownloadDir resolves ~ in the download directory path.
func (c *Config) ExpandDownloadDir() (string, error) {
	return expandPath(c.DownloadDir)
}

// ExpandArchiveDir resolves ~ in the archive directory path.
func (c *Config) ExpandArchiveDir() (string, error) {
	return expandPath(c.ArchiveDir)
}

func expandPath(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	return filepath.Abs(dir)
}

// FlowLogPath returns the path to the flow log database.
func FlowLogPath() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, appName, "flow.db"), nil
}

// Credentials is a patron login.
type Credentials struct {
	Username string
	Password string
}

// LoadCredentials reads USERNAME and PASSWORD from envFile, then lets
// DASHPROBE_USERNAME and DASHPROBE_PASSWORD from the process environment
// override them. A missing envFile is not an error. Either field may be
// empty on return.
func LoadCredentials(envFile string) (Credentials, error) {
	var creds Credentials

	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			creds.Username = vars["USERNAME"]
			creds.Password = vars["PASSWORD"]
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Credentials{}, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}

	if v := os.Getenv("DASHPROBE_USERNAME"); v != "" {
		creds.Username = v
	}
	if v := os.Getenv("DASHPROBE_PASSWORD"); v != "" {
		creds.Password = v
	}

	return creds, nil
}
