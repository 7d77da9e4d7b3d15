package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
)

func TestNewMinIOClient_InvalidEndpoint(t *testing.T) {
	// Test with an invalid endpoint to trigger initialization error
	cfg := MinIOConfig{
		Endpoint:  "invalid-endpoint:port:scheme", // Invalid format
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "test-bucket",
		UseSSL:    false,
	}

	_, err := NewMinIOClient(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error with invalid endpoint, got nil")
	}
}

func TestNewMinIOClient_ConnectionRefused(t *testing.T) {
	// Assumes nothing listens on localhost:12345.
	cfg := MinIOConfig{
		Endpoint:  "localhost:12345",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "test-bucket",
		UseSSL:    false,
	}

	// minio.New() doesn't connect immediately, but BucketExists does.
	_, err := NewMinIOClient(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error connecting to non-existent minio, got nil")
	}
}

func loadMinIOConfigFromEnv(t *testing.T) MinIOConfig {
	t.Helper()
	godotenv.Load("../../.env.test")

	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	if endpoint == "" || accessKey == "" || secretKey == "" {
		t.Skip("MINIO_ENDPOINT, MINIO_ACCESS_KEY, and MINIO_SECRET_KEY must be set for integration tests")
	}

	return MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    useSSL,
	}
}

func TestMinIOClient_Upload_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := loadMinIOConfigFromEnv(t)
	cfg.Bucket = "test-bucket-" + time.Now().Format("20060102-150405")

	ctx := context.Background()
	client, err := NewMinIOClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to initialize minio client: %v", err)
	}

	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "order_id,user_id\n1,2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	name := NewPartitionKey(time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)).ObjectName("orders.csv")
	if err := client.Upload(ctx, name, path); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	// Second upload under the same name overwrites.
	if err := client.Upload(ctx, name, path); err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}

	ok, err := client.Exists(ctx, name)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	ok, err = client.Exists(ctx, "2026/02/05/missing.csv")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}

	obj, err := client.client.GetObject(ctx, cfg.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}

	if string(data) != content {
		t.Fatalf("unexpected content: got %q, want %q", string(data), content)
	}
}
