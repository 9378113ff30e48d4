package util

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// DataDirEnv overrides the data directory (used by tests).
const DataDirEnv = "BLE_ADVERTISER_DIR"

// GetDataDir returns the data directory path
func GetDataDir() (string, error) {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, ".ble-advertiser"), nil
}

// ConfigPath returns the default configuration file location
func ConfigPath() (string, error) {
	dir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// TranscriptDir returns the directory where simulator transcripts are written,
// creating it if needed.
func TranscriptDir() (string, error) {
	dir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	transcripts := filepath.Join(dir, "transcripts")
	if err := os.MkdirAll(transcripts, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", transcripts)
	}
	return transcripts, nil
}

// ExpandPath resolves a leading ~ in p.
func ExpandPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand %q", p)
	}
	return expanded, nil
}
