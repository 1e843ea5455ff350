package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
)

// FileStore keeps one JSON file per record in a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory records are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the record atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, resp *engines.Response) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, data, err := newRecord(resp, s.now())
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(rec.ID)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write record: %w", err)
	}
	return rec.ID, nil
}

// Get reads one record.
func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}
	return &rec, nil
}

// List reads every record in the directory. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	out := []Summary{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, rec.summary())
	}
	sortNewest(out)
	return out, nil
}

func sortNewest(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].SavedAt.After(s[j].SavedAt) })
}
