package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prism-lake/ecommerce-etl/internal/adapters/kaggle"
	"github.com/prism-lake/ecommerce-etl/internal/config"
	"github.com/prism-lake/ecommerce-etl/internal/credentials"
	"github.com/prism-lake/ecommerce-etl/internal/exitcode"
	"github.com/prism-lake/ecommerce-etl/internal/ingestion"
	"github.com/prism-lake/ecommerce-etl/internal/model"
	"github.com/prism-lake/ecommerce-etl/internal/storage"
	"github.com/prism-lake/ecommerce-etl/internal/warehouse"
)

// objectStore is the bucket surface both stages use.
type objectStore interface {
	ingestion.ObjectStorage
	warehouse.ObjectChecker
}

// deps holds the constructors that reach outside the process.
type deps struct {
	now          func() time.Time
	store        func() *viper.Viper
	newFetcher   func(cfg *config.Config) ingestion.Fetcher
	newStorage   func(ctx context.Context, cfg *config.Config) (objectStore, error)
	newRegistrar func(ctx context.Context, cfg *config.Config) (warehouse.Registrar, io.Closer, error)
}

func defaultDeps() deps {
	return deps{
		now: time.Now,
		store: func() *viper.Viper {
			return config.NewStore()
		},
		newFetcher: func(cfg *config.Config) ingestion.Fetcher {
			return kaggle.NewClient(cfg.KaggleBaseURL, kaggle.WithMaxExtractBytes(cfg.KaggleMaxExtractBytes))
		},
		newStorage: func(ctx context.Context, cfg *config.Config) (objectStore, error) {
			return storage.NewMinIOClient(ctx, storage.MinIOConfig{
				Endpoint:  cfg.MinIOEndpoint,
				AccessKey: cfg.MinIOAccessKey,
				SecretKey: cfg.MinIOSecretKey,
				Bucket:    cfg.MinIOBucket,
				UseSSL:    cfg.MinIOUseSSL,
			})
		},
		newRegistrar: func(ctx context.Context, cfg *config.Config) (warehouse.Registrar, io.Closer, error) {
			client, err := warehouse.Open(ctx, warehouse.Config{
				Host:     cfg.ClickHouseHost,
				Port:     cfg.ClickHousePort,
				User:     cfg.ClickHouseUser,
				Password: cfg.ClickHousePassword,
				Database: cfg.ClickHouseDatabase,
			})
			if err != nil {
				return nil, nil, err
			}
			return client, client, nil
		},
	}
}

type options struct {
	date        string
	runID       string
	policy      string
	keepStaging bool
	logLevel    string
	logFormat   string
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, d deps) int {
	var opts options
	root := newRootCmd(&opts, d)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		code := exitcode.For(err)
		slog.Error("application error", "error", err, "exit_code", code)
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return code
	}
	return exitcode.Success
}

func newRootCmd(opts *options, d deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "etl",
		Short:         "Load the e-commerce dataset into the date-partitioned lake",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(cmd.OutOrStdout(), opts.logLevel, opts.logFormat)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.date, "date", "", "Logical run date (YYYY-MM-DD), defaults to today")
	pf.StringVar(&opts.runID, "run-id", "", "Run identifier (UUIDv7 from orchestration), generated when empty")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text")

	extract := &cobra.Command{
		Use:   "extract",
		Short: "Download the dataset and upload its files into the run's partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runExtract(cmd, opts, d)
			return err
		},
	}
	addExtractFlags(extract, opts)

	register := &cobra.Command{
		Use:   "register",
		Short: "Register external tables over the partition and rebuild silver tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, opts, d)
		},
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Extract, then register and transform when extraction succeeded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := runExtract(cmd, opts, d); err != nil {
				return err
			}
			return runRegister(cmd, opts, d)
		},
	}
	addExtractFlags(run, opts)

	root.AddCommand(extract, register, run)
	return root
}

func addExtractFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Upload failure policy: fail-fast or continue-on-error (default from UPLOAD_POLICY)")
	cmd.Flags().BoolVar(&opts.keepStaging, "keep-staging", false, "Leave the staging directory on disk after the run")
}

func setupLogger(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return &config.ErrInvalidValue{Name: "log-level", Err: err}
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, hopts)))
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, hopts)))
	default:
		return &config.ErrInvalidValue{Name: "log-format", Err: fmt.Errorf("unknown format %q", format)}
	}
	return nil
}

// runContext resolves the inputs shared by every subcommand.
func runContext(opts *options, d deps) (*viper.Viper, *config.Config, time.Time, model.RunID, error) {
	store := d.store()
	cfg, err := config.Load(store)
	if err != nil {
		return nil, nil, time.Time{}, "", fmt.Errorf("load config: %w", err)
	}

	date, err := model.ResolveRunDate(opts.date, d.now())
	if err != nil {
		return nil, nil, time.Time{}, "", &config.ErrInvalidValue{Name: "date", Err: err}
	}

	runID := model.RunID(opts.runID)
	if runID == "" {
		if runID, err = model.NewRunID(); err != nil {
			return nil, nil, time.Time{}, "", err
		}
	} else if err := runID.Validate(); err != nil {
		return nil, nil, time.Time{}, "", &config.ErrInvalidValue{Name: "run-id", Err: err}
	}

	// Pin both so a later phase of the same invocation lands in the same partition.
	opts.date = date.Format(model.DateLayout)
	opts.runID = runID.String()

	return store, cfg, date, runID, nil
}

func runExtract(cmd *cobra.Command, opts *options, d deps) (*ingestion.Report, error) {
	ctx := cmd.Context()

	store, cfg, date, runID, err := runContext(opts, d)
	if err != nil {
		return nil, err
	}

	// Credentials gate every network call, including the bucket check below.
	creds, err := credentials.Resolve(store, credentials.UsernameKey, credentials.KeyKey)
	if err != nil {
		return nil, err
	}

	dataset := model.Dataset(cfg.Dataset)
	if err := dataset.Validate(); err != nil {
		return nil, &config.ErrInvalidValue{Name: "KAGGLE_DATASET", Err: err}
	}

	policyValue := opts.policy
	if policyValue == "" {
		policyValue = cfg.UploadPolicy
	}
	policy, err := ingestion.ParsePolicy(policyValue)
	if err != nil {
		return nil, &config.ErrInvalidValue{Name: "policy", Err: err}
	}

	entities, err := expectedEntities(cfg.TablesConfig)
	if err != nil {
		return nil, &config.ErrInvalidValue{Name: "TABLES_CONFIG", Err: err}
	}

	objectStorage, err := d.newStorage(ctx, cfg)
	if err != nil {
		return nil, &ingestion.UploadError{Err: fmt.Errorf("initialize object storage: %w", err)}
	}

	svc := ingestion.NewService(d.newFetcher(cfg), objectStorage,
		ingestion.WithPolicy(policy),
		ingestion.WithExpectedEntities(entities),
		ingestion.WithKeepStaging(opts.keepStaging),
	)

	report, err := svc.Extract(ctx, ingestion.Request{
		Credentials: creds,
		Dataset:     dataset,
		Date:        date,
		RunID:       runID,
		StagingDir:  cfg.StagingDir,
		Extension:   cfg.FileExtension,
	})
	if err != nil {
		return report, err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d files to %s/%s\n", report.Uploaded, cfg.MinIOBucket, report.Partition)
	return report, nil
}

// expectedEntities reads the entity list when a tables config is present.
func expectedEntities(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("tables config not found, partition completeness is not checked", "path", path)
		return nil, nil
	}
	tables, err := warehouse.LoadTables(path)
	if err != nil {
		return nil, err
	}
	return warehouse.Entities(tables), nil
}

func runRegister(cmd *cobra.Command, opts *options, d deps) error {
	ctx := cmd.Context()

	_, cfg, date, runID, err := runContext(opts, d)
	if err != nil {
		return err
	}

	tables, err := warehouse.LoadTables(cfg.TablesConfig)
	if err != nil {
		return &config.ErrInvalidValue{Name: "TABLES_CONFIG", Err: err}
	}

	objects, err := d.newStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize object storage: %w", err)
	}

	registrar, closer, err := d.newRegistrar(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect warehouse: %w", err)
	}
	defer closer.Close()

	partition := storage.NewPartitionKey(date)
	slog.InfoContext(ctx, "warehouse stage started", "run_id", runID, "partition", partition, "tables", len(tables))

	runner := warehouse.NewRunner(registrar, tables, cfg.SQLDir, warehouse.Bucket{
		Endpoint:  cfg.MinIOEndpoint,
		UseSSL:    cfg.MinIOUseSSL,
		Name:      cfg.MinIOBucket,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Extension: cfg.FileExtension,
	}, warehouse.WithObjectCheck(objects))
	if err := runner.Run(ctx, partition); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "registered %d tables for %s\n", len(tables), partition)
	return nil
}
