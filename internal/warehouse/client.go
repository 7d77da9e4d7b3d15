package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Source locates the raw file an external table reads from.
type Source struct {
	URL       string
	AccessKey string
	SecretKey string

	// Settings are format settings for reading the file.
	Settings map[string]string
}

// Client issues table DDL against ClickHouse.
type Client struct {
	db *sql.DB
}

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 300,
		},
	})

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return NewClient(db), nil
}

// NewClient wraps an existing connection pool.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// RegisterExternal (re)creates database.table as an S3-engine table over the
// source CSV. Without columns, ClickHouse infers the schema from the file.
func (c *Client) RegisterExternal(ctx context.Context, database, table string, columns []Column, src Source) error {
	if err := c.ensureDatabase(ctx, database); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE TABLE %s.%s", quoteIdent(database), quoteIdent(table))
	if len(columns) > 0 {
		cols := make([]string, len(columns))
		for i, col := range columns {
			cols[i] = quoteIdent(col.Name) + " " + col.Type
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(cols, ", "))
	}
	fmt.Fprintf(&b, " ENGINE = S3(%s, %s, %s, 'CSVWithNames')",
		quoteString(src.URL), quoteString(src.AccessKey), quoteString(src.SecretKey))
	if len(src.Settings) > 0 {
		fmt.Fprintf(&b, " SETTINGS %s", renderSettings(src.Settings))
	}

	if _, err := c.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("register external table %s.%s: %w", database, table, err)
	}
	slog.InfoContext(ctx, "external table registered", "table", database+"."+table, "source", src.URL)
	return nil
}

// MaterializeSilver replaces database.table with the result of query.
func (c *Client) MaterializeSilver(ctx context.Context, database, table, query string) error {
	if err := c.ensureDatabase(ctx, database); err != nil {
		return err
	}

	query = strings.TrimRight(strings.TrimSpace(query), ";")
	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s.%s ENGINE = MergeTree ORDER BY tuple() AS %s",
		quoteIdent(database), quoteIdent(table), query)

	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("materialize %s.%s: %w", database, table, err)
	}
	slog.InfoContext(ctx, "silver table materialized", "table", database+"."+table)
	return nil
}

func (c *Client) ensureDatabase(ctx context.Context, database string) error {
	if _, err := c.db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(database)); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// renderSettings lists settings in key order; numeric values stay bare.
func renderSettings(settings map[string]string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := settings[k]
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			v = quoteString(v)
		}
		parts[i] = k + " = " + v
	}
	return strings.Join(parts, ", ")
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
