package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// ServerConfig defines how the hub should run.
type ServerConfig struct {
	Addr        string // TCP listen address for the protocol
	AdminAddr   string // HTTP listen address for the monitoring surface; "" disables it
	DBPath      string
	UploadDir   string
	MaxFileSize int64
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("SHAREHUB_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("SHAREHUB_DATA_DIR"); env != "" {
		return filepath.Join(env, "sharehub.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sharehub", "sharehub.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Sharehub", "sharehub.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Sharehub", "sharehub.db")
		}
		return filepath.Join(home, ".local", "share", "sharehub", "sharehub.db")
	}
	return filepath.Join(".", ".sharehub", "sharehub.db")
}

// DefaultUploadDir returns where uploaded files land when not configured.
func DefaultUploadDir() string {
	if env := os.Getenv("SHAREHUB_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "uploads")
}
