package warehouse

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/prism-lake/ecommerce-etl/internal/ingestion"
	"github.com/prism-lake/ecommerce-etl/internal/storage"
)

type call struct {
	Op       string
	Database string
	Table    string
	Detail   string
}

type recordingRegistrar struct {
	mu       sync.Mutex
	calls    []call
	failOn   string
	columns  map[string][]Column
	settings map[string]map[string]string
	external map[string]bool
}

func (r *recordingRegistrar) RegisterExternal(ctx context.Context, database, table string, columns []Column, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == table {
		return errors.New("boom")
	}
	r.calls = append(r.calls, call{Op: "external", Database: database, Table: table, Detail: src.URL})
	if r.columns == nil {
		r.columns = make(map[string][]Column)
		r.settings = make(map[string]map[string]string)
		r.external = make(map[string]bool)
	}
	r.columns[table] = columns
	r.settings[table] = src.Settings
	r.external[table] = true
	return nil
}

func (r *recordingRegistrar) MaterializeSilver(ctx context.Context, database, table, query string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.external[table+"_ext"] {
		return errors.New("silver before external table")
	}
	r.calls = append(r.calls, call{Op: "silver", Database: database, Table: table, Detail: strings.TrimSpace(query)})
	return nil
}

func loadTestTables(t *testing.T) []Table {
	t.Helper()
	tables, err := LoadTables(filepath.Join("testdata", "tables.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return tables
}

func testBucket() Bucket {
	return Bucket{Endpoint: "minio:9000", Name: "bronze-data-ecom", AccessKey: "ak", SecretKey: "sk"}
}

func TestRunner_Run(t *testing.T) {
	reg := &recordingRegistrar{}
	runner := NewRunner(reg, loadTestTables(t), filepath.Join("testdata", "sql"), testBucket())

	if err := runner.Run(context.Background(), storage.PartitionKey("2026/02/05/")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sort.Slice(reg.calls, func(i, j int) bool {
		if reg.calls[i].Op != reg.calls[j].Op {
			return reg.calls[i].Op < reg.calls[j].Op
		}
		return reg.calls[i].Table < reg.calls[j].Table
	})
	want := []call{
		{Op: "external", Database: "bronze", Table: "orders_ext", Detail: "http://minio:9000/bronze-data-ecom/2026/02/05/orders.csv"},
		{Op: "external", Database: "bronze", Table: "users_ext", Detail: "http://minio:9000/bronze-data-ecom/2026/02/05/users.csv"},
		{Op: "silver", Database: "silver", Table: "orders", Detail: "SELECT order_id, lower(status) AS status, created_at\nFROM bronze.orders_ext;"},
		{Op: "silver", Database: "silver", Table: "users", Detail: "SELECT * FROM bronze.users_ext"},
	}
	if diff := cmp.Diff(want, reg.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if len(reg.columns["orders_ext"]) != 3 {
		t.Errorf("orders schema not passed through: %+v", reg.columns["orders_ext"])
	}
	wantSettings := map[string]string{"input_format_csv_allow_variable_number_of_columns": "1"}
	if diff := cmp.Diff(wantSettings, reg.settings["orders_ext"]); diff != "" {
		t.Errorf("orders csv options mismatch (-want +got):\n%s", diff)
	}
	if len(reg.settings["users_ext"]) != 0 {
		t.Errorf("users should carry no csv options, got %v", reg.settings["users_ext"])
	}
}

func TestRunner_Run_RegisterFailure(t *testing.T) {
	reg := &recordingRegistrar{failOn: "users_ext"}
	runner := NewRunner(reg, loadTestTables(t), filepath.Join("testdata", "sql"), testBucket())

	err := runner.Run(context.Background(), storage.PartitionKey("2026/02/05/"))
	if err == nil || !strings.Contains(err.Error(), "entity users") {
		t.Fatalf("expected users failure, got %v", err)
	}
	for _, c := range reg.calls {
		if c.Op == "silver" && c.Table == "users" {
			t.Fatal("silver query ran after its external table failed")
		}
	}
}

func TestRunner_Run_MissingSQL(t *testing.T) {
	reg := &recordingRegistrar{}
	runner := NewRunner(reg, loadTestTables(t), t.TempDir(), testBucket())

	err := runner.Run(context.Background(), storage.PartitionKey("2026/02/05/"))
	if err == nil || !strings.Contains(err.Error(), "read silver sql") {
		t.Fatalf("expected missing sql error, got %v", err)
	}
	if len(reg.calls) != 0 {
		t.Fatalf("no DDL expected when SQL is missing, got %+v", reg.calls)
	}
}

type stubChecker map[string]bool

func (s stubChecker) Exists(ctx context.Context, name string) (bool, error) {
	return s[name], nil
}

func TestRunner_Run_ObjectCheck(t *testing.T) {
	reg := &recordingRegistrar{}
	checker := stubChecker{"2026/02/05/orders.csv": true}
	runner := NewRunner(reg, loadTestTables(t), filepath.Join("testdata", "sql"), testBucket(), WithObjectCheck(checker))

	err := runner.Run(context.Background(), storage.PartitionKey("2026/02/05/"))

	var incomplete *ingestion.IncompletePartitionError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompletePartitionError, got %v", err)
	}
	if diff := cmp.Diff([]string{"users"}, incomplete.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if len(reg.calls) != 0 {
		t.Fatalf("no DDL expected over an incomplete partition, got %+v", reg.calls)
	}
}

func TestRunner_Run_SilverDatabase(t *testing.T) {
	reg := &recordingRegistrar{}
	checker := stubChecker{"2026/02/05/orders.csv": true, "2026/02/05/users.csv": true}
	runner := NewRunner(reg, loadTestTables(t), filepath.Join("testdata", "sql"), testBucket(),
		WithObjectCheck(checker), WithSilverDatabase("curated"))

	if err := runner.Run(context.Background(), storage.PartitionKey("2026/02/05/")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, c := range reg.calls {
		if c.Op == "silver" && c.Database != "curated" {
			t.Errorf("silver table written to %s", c.Database)
		}
	}
}
