package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the snappify home directory.
	DefaultDirName = ".snappify"

	// ResultsDirName is the subdirectory for persisted OCR results.
	ResultsDirName = "results"

	// UploadsDirName is the subdirectory for in-flight uploads.
	UploadsDirName = "uploads"

	// ModelsDirName is the subdirectory mounted into model server
	// containers as their weight cache.
	ModelsDirName = "models"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// PIDFileName records the running server's process ID.
	PIDFileName = "snappify.pid"
)

// Dir represents the snappify home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.snappify).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ResultsPath returns the path to the results directory.
func (d *Dir) ResultsPath() string {
	return filepath.Join(d.path, ResultsDirName)
}

// UploadsPath returns the path to the uploads directory.
func (d *Dir) UploadsPath() string {
	return filepath.Join(d.path, UploadsDirName)
}

// ModelCachePath returns the weight cache directory for one engine.
func (d *Dir) ModelCachePath(engine string) string {
	return filepath.Join(d.path, ModelsDirName, engine)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// PIDPath returns the path to the server PID file.
func (d *Dir) PIDPath() string {
	return filepath.Join(d.path, PIDFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.ResultsPath(), d.UploadsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
