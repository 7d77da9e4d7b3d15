package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
// Kaggle credentials are resolved per run by
// the credentials package from the same store.
type Config struct {
	KaggleBaseURL         string
	// KaggleMaxExtractBytes caps the unpacked size of one dataset archive.
	KaggleMaxExtractBytes int64

	Dataset       string
	StagingDir    string
	FileExtension string
	UploadPolicy  string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	TablesConfig string
	SQLDir       string

	ClickHouseHost     string
	ClickHousePort     string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

// ErrInvalidValue reports a configuration or flag value that cannot be used.
type ErrInvalidValue struct {
	Name string
	Err  error
}

func (e *ErrInvalidValue) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Name, e.Err)
}

func (e *ErrInvalidValue) Unwrap() error {
	return e.Err
}

var required = []string{"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY"}

// NewStore returns a viper instance bound to the environment, with .env
// loaded first when files are given or one exists in the working directory.
func NewStore(envFiles ...string) *viper.Viper {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.SetDefault("KAGGLE_BASE_URL", "https://www.kaggle.com/api/v1")
	v.SetDefault("KAGGLE_MAX_EXTRACT_BYTES", int64(20<<30))
	v.SetDefault("KAGGLE_DATASET", "mustafakeser4/looker-ecommerce-bigquery-dataset")
	v.SetDefault("STAGING_DIR", "/tmp/bronze_temp")
	v.SetDefault("FILE_EXTENSION", ".csv")
	v.SetDefault("UPLOAD_POLICY", "fail-fast")
	v.SetDefault("MINIO_BUCKET", "bronze-data-ecom")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("TABLES_CONFIG", "config/tables.yaml")
	v.SetDefault("SQL_DIR", "sql")
	v.SetDefault("CLICKHOUSE_HOST", "localhost")
	v.SetDefault("CLICKHOUSE_PORT", "9000")
	v.SetDefault("CLICKHOUSE_USER", "default")
	v.SetDefault("CLICKHOUSE_PASSWORD", "")
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.AutomaticEnv()

	return v
}

// Load reads configuration from the store.
// Returns an error if required variables are missing.
func Load(v *viper.Viper) (*Config, error) {
	for _, name := range required {
		if v.GetString(name) == "" {
			return nil, &ErrMissingRequiredEnvVar{Name: name}
		}
	}

	maxExtract := v.GetInt64("KAGGLE_MAX_EXTRACT_BYTES")
	if maxExtract <= 0 {
		return nil, &ErrInvalidValue{
			Name: "KAGGLE_MAX_EXTRACT_BYTES",
			Err:  fmt.Errorf("must be a positive byte count, got %q", v.GetString("KAGGLE_MAX_EXTRACT_BYTES")),
		}
	}

	return &Config{
		KaggleBaseURL:         v.GetString("KAGGLE_BASE_URL"),
		KaggleMaxExtractBytes: maxExtract,

		Dataset:       v.GetString("KAGGLE_DATASET"),
		StagingDir:    v.GetString("STAGING_DIR"),
		FileExtension: v.GetString("FILE_EXTENSION"),
		UploadPolicy:  v.GetString("UPLOAD_POLICY"),

		MinIOEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinIOBucket:    v.GetString("MINIO_BUCKET"),
		MinIOUseSSL:    v.GetBool("MINIO_USE_SSL"),

		TablesConfig: v.GetString("TABLES_CONFIG"),
		SQLDir:       v.GetString("SQL_DIR"),

		ClickHouseHost:     v.GetString("CLICKHOUSE_HOST"),
		ClickHousePort:     v.GetString("CLICKHOUSE_PORT"),
		ClickHouseUser:     v.GetString("CLICKHOUSE_USER"),
		ClickHousePassword: v.GetString("CLICKHOUSE_PASSWORD"),
		ClickHouseDatabase: v.GetString("CLICKHOUSE_DATABASE"),
	}, nil
}
