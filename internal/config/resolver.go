package config

import (
	"errors"
	"os"
	"path/filepath"
)

// FileName is the configuration file name looked up during discovery.
const FileName = "cadence.yaml"

// ErrNoConfig is returned when discovery finds no configuration file.
var ErrNoConfig = errors.New("config: no configuration file found")

// Resolve returns the configuration path to load. An explicit path wins;
// otherwise $XDG_CONFIG_HOME/cadence/cadence.yaml (or ~/.config/...) and
// then ./cadence.yaml are tried in order.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, candidate := range Candidates() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", ErrNoConfig
}

// Candidates lists the discovery locations in priority order.
func Candidates() []string {
	var out []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		out = append(out, filepath.Join(dir, "cadence", FileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "cadence", FileName))
	}
	return append(out, FileName)
}
