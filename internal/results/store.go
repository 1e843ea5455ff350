// Package results persists OCR response envelopes.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nadiam75/snappify/internal/engines"
)

// ErrNotFound is returned when no record exists for an ID.
var ErrNotFound = errors.New("result not found")

// Store saves and loads response envelopes.
type Store interface {
	// Save validates and persists resp, returning the new record ID.
	Save(ctx context.Context, resp *engines.Response) (string, error)

	// Get returns one record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns summaries of all records, newest first.
	List(ctx context.Context) ([]Summary, error)
}

// Record is a persisted envelope.
type Record struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	SavedAt  time.Time         `json:"saved_at"`
	Response *engines.Response `json:"response"`
}

// Summary describes a record without its envelope.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ImageName string    `json:"image_name"`
	Success   bool      `json:"success"`
	SavedAt   time.Time `json:"saved_at"`
}

// ResultName derives the per-image file name, <stem>_results.json.
func ResultName(imageName string) string {
	base := filepath.Base(imageName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "image"
	}
	return stem + "_results.json"
}

// newRecord validates resp and wraps it in a Record with a fresh ID.
func newRecord(resp *engines.Response, now time.Time) (*Record, []byte, error) {
	if resp == nil {
		return nil, nil, errors.New("response is nil")
	}
	if err := engines.ValidateResponse(resp); err != nil {
		return nil, nil, fmt.Errorf("refusing to store invalid response: %w", err)
	}
	rec := &Record{
		ID:       uuid.NewString(),
		Name:     ResultName(resp.ImageIdentifier),
		SavedAt:  now.UTC(),
		Response: resp,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return rec, data, nil
}

func (r *Record) summary() Summary {
	s := Summary{ID: r.ID, Name: r.Name, SavedAt: r.SavedAt}
	if r.Response != nil {
		s.ImageName = r.Response.ImageIdentifier
		s.Success = r.Response.RequestSucceeded
	}
	return s
}

// validID rejects IDs that are not UUIDs so they cannot escape the store.
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Nop is a Store that discards everything. Used when persistence is off.
type Nop struct{}

func (Nop) Save(context.Context, *engines.Response) (string, error) { return "", nil }

func (Nop) Get(_ context.Context, id string) (*Record, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (Nop) List(context.Context) ([]Summary, error) { return []Summary{}, nil }
