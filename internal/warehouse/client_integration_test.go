package warehouse_test

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/prism-lake/ecommerce-etl/internal/config"
	"github.com/prism-lake/ecommerce-etl/internal/warehouse"
)

func loadWarehouseConfig(t *testing.T) warehouse.Config {
	t.Helper()

	v := config.NewStore("../../.env.test")
	if v.GetString("CLICKHOUSE_INTEGRATION") != "true" {
		t.Skip("CLICKHOUSE_INTEGRATION=true must be set for integration tests")
	}
	return warehouse.Config{
		Host:     v.GetString("CLICKHOUSE_HOST"),
		Port:     v.GetString("CLICKHOUSE_PORT"),
		User:     v.GetString("CLICKHOUSE_USER"),
		Password: v.GetString("CLICKHOUSE_PASSWORD"),
		Database: v.GetString("CLICKHOUSE_DATABASE"),
	}
}

func newRawDB(t *testing.T, cfg warehouse.Config) *sql.DB {
	t.Helper()

	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMaterializeSilver_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test, requires ClickHouse")
	}

	ctx := t.Context()
	cfg := loadWarehouseConfig(t)

	client, err := warehouse.Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	raw := newRawDB(t, cfg)
	database := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	t.Cleanup(func() { _, _ = raw.Exec("DROP DATABASE IF EXISTS " + database) })

	query := "SELECT number AS id FROM system.numbers LIMIT 3;"
	// Run twice: the second call must replace, not append.
	for range 2 {
		if err := client.MaterializeSilver(ctx, database, "numbers", query); err != nil {
			t.Fatalf("MaterializeSilver() error = %v", err)
		}
	}

	var count uint64
	if err := raw.QueryRowContext(ctx, "SELECT count() FROM "+database+".numbers").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
