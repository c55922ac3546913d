package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	settingsDirName  = ".ragchat"
	settingsFileName = "config.json"
)

// Settings are the persisted client preferences. Empty fields fall through to
// environment variables and built-in defaults.
type Settings struct {
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// RequestTimeout parses Timeout, returning fallback when it is unset.
func (s *Settings) RequestTimeout(fallback time.Duration) (time.Duration, error) {
	if s == nil || s.Timeout == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q in settings", s.Timeout)
	}
	return d, nil
}

// settingsPath is swapped in tests.
var settingsPath = func() (string, error) {
	dir, err := SettingsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFileName), nil
}

// SettingsDir is ~/.ragchat.
func SettingsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, settingsDirName), nil
}

// SettingsPath returns the location of the settings file.
func SettingsPath() (string, error) {
	return settingsPath()
}

// LoadSettings reads the settings file. A missing file yields empty settings.
func LoadSettings() (*Settings, error) {
	path, err := settingsPath()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Settings{}, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	s := &Settings{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes s owner-readable only.
func SaveSettings(s *Settings) error {
	if s == nil {
		return errors.New("settings must not be nil")
	}

	path, err := settingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// SettingSource records which layer supplied an effective value.
type SettingSource string

const (
	SourceFlag     SettingSource = "flag"
	SourceEnv      SettingSource = "env"
	SourceSettings SettingSource = "settings"
	SourceDefault  SettingSource = "default"
)
