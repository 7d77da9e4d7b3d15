package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prism-lake/ecommerce-etl/internal/credentials"
	"github.com/prism-lake/ecommerce-etl/internal/model"
	"github.com/prism-lake/ecommerce-etl/internal/staging"
	"github.com/prism-lake/ecommerce-etl/internal/storage"
)

// DefaultExtension selects the data files of a staged dataset.
const DefaultExtension = ".csv"

// Request contains input parameters for one extraction run.
type Request struct {
	Credentials credentials.Credentials
	Dataset     model.Dataset
	Date        time.Time
	RunID       model.RunID
	StagingDir  string
	Extension   string
}

// Fetcher retrieves a dataset and unpacks it into a local directory.
type Fetcher interface {
	Download(ctx context.Context, creds credentials.Credentials, dataset model.Dataset, dir string) error
}

// ObjectStorage uploads local files to the target bucket.
type ObjectStorage interface {
	Upload(ctx context.Context, name, path string) error
}

// Outcome is the result of uploading one staged file.
type Outcome struct {
	File   string
	Object string
	Err    error
}

// Report summarizes an extraction run.
type Report struct {
	Partition storage.PartitionKey
	Outcomes  []Outcome
	Uploaded  int
}

// Service runs the extraction stage: fetch the dataset, then upload its data
// files into the run's date partition.
type Service struct {
	fetcher       Fetcher
	objectStorage ObjectStorage

	policy      Policy
	entities    []string
	keepStaging bool
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets how the upload loop reacts to a failed file.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithExpectedEntities makes a run fail unless every entity produced an object.
func WithExpectedEntities(entities []string) Option {
	return func(s *Service) { s.entities = entities }
}

// WithKeepStaging leaves the staging directory on disk after the run.
func WithKeepStaging(keep bool) Option {
	return func(s *Service) { s.keepStaging = keep }
}

func NewService(fetcher Fetcher, objectStorage ObjectStorage, opts ...Option) *Service {
	s := &Service{fetcher: fetcher, objectStorage: objectStorage, policy: FailFast}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract runs the stage once. The returned report is non-nil whenever the
// upload loop was reached, including on UploadError.
func (s *Service) Extract(ctx context.Context, req Request) (*Report, error) {
	if err := req.Credentials.Validate(); err != nil {
		return nil, err
	}
	if err := req.Dataset.Validate(); err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, errors.New("run date is required")
	}
	ext := req.Extension
	if ext == "" {
		ext = DefaultExtension
	}

	partition := storage.NewPartitionKey(req.Date)
	logger := slog.With("run_id", req.RunID, "dataset", req.Dataset, "partition", partition)

	area, err := staging.Acquire(req.StagingDir, staging.WithKeep(s.keepStaging))
	if err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}
	defer func() {
		if err := area.Release(); err != nil {
			logger.WarnContext(ctx, "failed to release staging directory", "error", err)
		}
	}()

	logger.InfoContext(ctx, "extraction started", "staging_dir", area.Dir())

	if err := s.fetcher.Download(ctx, req.Credentials, req.Dataset, area.Dir()); err != nil {
		return nil, &RetrievalError{Dataset: req.Dataset, Err: err}
	}

	files, err := area.Files(ext)
	if err != nil {
		return nil, fmt.Errorf("select staged files: %w", err)
	}
	logger.InfoContext(ctx, "uploading staged files", "files", len(files), "policy", s.policy)

	report, err := s.upload(ctx, logger, partition, files)
	if err != nil {
		return report, err
	}

	if err := s.checkComplete(report, ext); err != nil {
		return report, err
	}

	logger.InfoContext(ctx, "extraction complete", "uploaded", report.Uploaded)
	return report, nil
}

func (s *Service) upload(ctx context.Context, logger *slog.Logger, partition storage.PartitionKey, files []staging.StagedFile) (*Report, error) {
	report := &Report{Partition: partition}
	seen := make(map[string]string, len(files))

	var failed []Outcome
	for _, f := range files {
		name := partition.ObjectName(f.Name)
		if prev, ok := seen[name]; ok {
			logger.WarnContext(ctx, "staged files share an object name, last one wins", "object", name, "first", prev, "second", f.Path)
		}
		seen[name] = f.Path

		outcome := Outcome{File: f.Path, Object: name}
		outcome.Err = s.objectStorage.Upload(ctx, name, f.Path)
		report.Outcomes = append(report.Outcomes, outcome)

		if outcome.Err != nil {
			logger.ErrorContext(ctx, "failed to upload", "file", f.Name, "object", name, "error", outcome.Err)
			failed = append(failed, outcome)
			if s.policy == FailFast {
				return report, &UploadError{Failed: failed, Err: outcome.Err}
			}
			continue
		}

		report.Uploaded++
		logger.InfoContext(ctx, "uploaded", "object", name)
	}

	if len(failed) > 0 {
		errs := make([]error, len(failed))
		for i, o := range failed {
			errs[i] = fmt.Errorf("%s: %w", o.Object, o.Err)
		}
		return report, &UploadError{Failed: failed, Err: errors.Join(errs...)}
	}
	return report, nil
}

func (s *Service) checkComplete(report *Report, ext string) error {
	if len(s.entities) == 0 {
		return nil
	}
	uploaded := make(map[string]bool, len(report.Outcomes))
	for _, o := range report.Outcomes {
		if o.Err == nil {
			uploaded[o.Object] = true
		}
	}

	var missing []string
	for _, entity := range s.entities {
		if !uploaded[report.Partition.EntityObject(entity, ext)] {
			missing = append(missing, entity)
		}
	}
	if len(missing) > 0 {
		return &IncompletePartitionError{Partition: report.Partition.String(), Missing: missing}
	}
	return nil
}
