package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the CLI/orchestrator format of a logical run date.
const DateLayout = "2006-01-02"

// Dataset is a Kaggle dataset reference in "owner/slug" form.
type Dataset string

const (
	LookerEcommerce Dataset = "mustafakeser4/looker-ecommerce-bigquery-dataset"
)

// Validate checks that the dataset reference has exactly an owner and a slug.
func (d Dataset) Validate() error {
	owner, slug, ok := strings.Cut(string(d), "/")
	if !ok || owner == "" || slug == "" || strings.Contains(slug, "/") {
		return fmt.Errorf("dataset %q must be in owner/slug form", string(d))
	}
	return nil
}

// Owner returns the dataset owner segment.
func (d Dataset) Owner() string {
	owner, _, _ := strings.Cut(string(d), "/")
	return owner
}

// Slug returns the dataset name segment.
func (d Dataset) Slug() string {
	_, slug, _ := strings.Cut(string(d), "/")
	return slug
}

// RunID represents a UUIDv7 run identifier from orchestration.
type RunID string

// NewRunID generates a fresh UUIDv7 for runs started outside the orchestrator.
func NewRunID() (RunID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run-id: %w", err)
	}
	return RunID(id.String()), nil
}

// Validate checks that the RunID is a valid UUIDv7.
func (r RunID) Validate() error {
	if r == "" {
		return fmt.Errorf("run-id cannot be empty")
	}
	id, err := uuid.Parse(string(r))
	if err != nil {
		return fmt.Errorf("run-id must be a valid UUID: %w", err)
	}
	if id.Version() != uuid.Version(7) {
		return fmt.Errorf("run-id must be a UUIDv7, got v%d", id.Version())
	}
	return nil
}

// String returns the run ID as a string.
func (r RunID) String() string {
	return string(r)
}

// ResolveRunDate parses the logical date of a run. An empty value falls back
// to now, which the caller supplies; the result is always midnight UTC.
func ResolveRunDate(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be in YYYY-MM-DD format: %w", raw, err)
	}
	return date, nil
}
