package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/driverpack/driverpack/internal/model"
)

const (
	appDir   = "DriverPackFetcher"
	fileName = "config.yaml"
)

// UserPath is the per-user writable configuration file.
func UserPath() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, appDir, fileName), nil
}

// BundledPath is the read-only default installed next to the executable.
func BundledPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "resources", fileName), nil
}

// DefaultCandidates returns the user path followed by the bundled path.
// Locations which can't be determined on this platform are skipped.
func DefaultCandidates() []string {
	var candidates []string
	if p, err := UserPath(); err == nil {
		candidates = append(candidates, p)
	}
	if p, err := BundledPath(); err == nil {
		candidates = append(candidates, p)
	}
	return candidates
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg model.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}

// WriteDefault stores model.DefaultConfig to path. The file is written
// next to the target and renamed over it, so a watching Store never reads
// a partially written document.
func WriteDefault(path string) error {
	return Write(path, model.DefaultConfig())
}

// Write atomically replaces path with cfg.
func Write(path string, cfg model.Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := Encode(tmp, cfg); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
