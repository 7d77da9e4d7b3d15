package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/prism-lake/ecommerce-etl/internal/ingestion"
	"github.com/prism-lake/ecommerce-etl/internal/storage"
)

// DefaultSilverDatabase receives the materialized tables.
const DefaultSilverDatabase = "silver"

// Registrar creates external and silver tables.
type Registrar interface {
	RegisterExternal(ctx context.Context, database, table string, columns []Column, src Source) error
	MaterializeSilver(ctx context.Context, database, table, query string) error
}

// ObjectChecker reports whether an object exists in the bucket.
type ObjectChecker interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// Bucket describes where the extraction stage wrote the partition.
type Bucket struct {
	Endpoint  string
	UseSSL    bool
	Name      string
	AccessKey string
	SecretKey string
	Extension string
}

// Runner registers every configured table over one partition and rebuilds
// its silver table.
type Runner struct {
	registrar      Registrar
	tables         []Table
	sqlDir         string
	bucket         Bucket
	silverDatabase string
	limit          int
	checker        ObjectChecker
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObjectCheck verifies every entity object exists before any DDL runs.
func WithObjectCheck(c ObjectChecker) RunnerOption {
	return func(r *Runner) { r.checker = c }
}

// WithSilverDatabase overrides DefaultSilverDatabase.
func WithSilverDatabase(name string) RunnerOption {
	return func(r *Runner) { r.silverDatabase = name }
}

func NewRunner(registrar Registrar, tables []Table, sqlDir string, bucket Bucket, opts ...RunnerOption) *Runner {
	if bucket.Extension == "" {
		bucket.Extension = ".csv"
	}
	r := &Runner{
		registrar:      registrar,
		tables:         tables,
		sqlDir:         sqlDir,
		bucket:         bucket,
		silverDatabase: DefaultSilverDatabase,
		limit:          4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes all tables concurrently. Each table is registered before its
// silver query runs; the first failure cancels the remaining work.
func (r *Runner) Run(ctx context.Context, partition storage.PartitionKey) error {
	queries := make([]string, len(r.tables))
	for i, t := range r.tables {
		data, err := os.ReadFile(filepath.Join(r.sqlDir, t.SilverSQL))
		if err != nil {
			return fmt.Errorf("read silver sql for %s: %w", t.Entity, err)
		}
		queries[i] = string(data)
	}

	if err := r.checkObjects(ctx, partition); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for i, t := range r.tables {
		g.Go(func() error {
			return r.runTable(ctx, partition, t, queries[i])
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "warehouse stage complete", "partition", partition, "tables", len(r.tables))
	return nil
}

func (r *Runner) runTable(ctx context.Context, partition storage.PartitionKey, t Table, query string) error {
	src := Source{
		URL:       storage.ObjectURL(r.bucket.Endpoint, r.bucket.UseSSL, r.bucket.Name, partition.EntityObject(t.Entity, r.bucket.Extension)),
		AccessKey: r.bucket.AccessKey,
		SecretKey: r.bucket.SecretKey,
		Settings:  t.CSVOptions,
	}

	db, table := t.ExternalRef()
	if err := r.registrar.RegisterExternal(ctx, db, table, t.Schema, src); err != nil {
		return fmt.Errorf("entity %s: %w", t.Entity, err)
	}
	if err := r.registrar.MaterializeSilver(ctx, r.silverDatabase, t.Entity, query); err != nil {
		return fmt.Errorf("entity %s: %w", t.Entity, err)
	}
	return nil
}

func (r *Runner) checkObjects(ctx context.Context, partition storage.PartitionKey) error {
	if r.checker == nil {
		return nil
	}
	var missing []string
	for _, t := range r.tables {
		ok, err := r.checker.Exists(ctx, partition.EntityObject(t.Entity, r.bucket.Extension))
		if err != nil {
			return fmt.Errorf("check partition objects: %w", err)
		}
		if !ok {
			missing = append(missing, t.Entity)
		}
	}
	if len(missing) > 0 {
		return &ingestion.IncompletePartitionError{Partition: partition.String(), Missing: missing}
	}
	return nil
}
