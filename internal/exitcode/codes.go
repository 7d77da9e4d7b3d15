package exitcode

import (
	"errors"

	"github.com/prism-lake/ecommerce-etl/internal/adapters/kaggle"
	"github.com/prism-lake/ecommerce-etl/internal/config"
	"github.com/prism-lake/ecommerce-etl/internal/credentials"
	"github.com/prism-lake/ecommerce-etl/internal/ingestion"
)

// Exit codes for the etl CLI.
// The scheduler can use these to decide retry strategy.
const (
	// Success - job completed successfully
	Success = 0

	// ConfigError - missing or invalid configuration
	// Don't retry: fix the config first
	ConfigError = 1

	// NetworkError - transient network failure while downloading the dataset
	// Retry with backoff
	NetworkError = 2

	// APIError - dataset API rejected the request (auth, not found)
	// Check logs, may need manual intervention
	APIError = 3

	// StorageError - failed to write to MinIO/S3
	// Retry the whole stage: object names are deterministic
	StorageError = 4

	// DataError - the partition is missing configured entities
	// Don't retry: investigate the data
	DataError = 5

	// ApplicationError - anything else
	ApplicationError = 6
)

// For maps a stage error to its exit code.
func For(err error) int {
	var (
		cfgErr        *credentials.ConfigurationError
		envErr        *config.ErrMissingRequiredEnvVar
		valueErr      *config.ErrInvalidValue
		retrievalErr  *ingestion.RetrievalError
		clientErr     *kaggle.ClientError
		uploadErr     *ingestion.UploadError
		incompleteErr *ingestion.IncompletePartitionError
	)

	switch {
	case err == nil:
		return Success
	case errors.As(err, &cfgErr), errors.As(err, &envErr), errors.As(err, &valueErr):
		return ConfigError
	case errors.As(err, &retrievalErr):
		if errors.As(err, &clientErr) && clientErr.Unauthorized {
			return APIError
		}
		return NetworkError
	case errors.As(err, &uploadErr):
		return StorageError
	case errors.As(err, &incompleteErr):
		return DataError
	default:
		return ApplicationError
	}
}
