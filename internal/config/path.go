package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDir = "opsflow"

// ExpandPath resolves a leading ~ and $VAR references. SQLite's ":memory:"
// and other paths without either pass through unchanged.
func ExpandPath(path string) string {
	switch {
	case path == "":
		return path
	case path == "~":
		path = homeDir()
	case strings.HasPrefix(path, "~/"):
		path = filepath.Join(homeDir(), path[2:])
	}
	return os.ExpandEnv(path)
}

// ConfigDir is where config.yaml and generated certificates live:
// $XDG_CONFIG_HOME/opsflow, falling back to ~/.config/opsflow.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir is where the default SQLite database lives:
// $XDG_DATA_HOME/opsflow, falling back to ~/.local/share/opsflow.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" && filepath.IsAbs(base) {
		return filepath.Join(base, appDir)
	}
	return filepath.Join(homeDir(), fallback, appDir)
}

// homeDir returns "~" when the home directory is unknown so callers still
// produce a recognizable relative path.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~"
	}
	return home
}
