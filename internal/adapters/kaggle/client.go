package kaggle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/prism-lake/ecommerce-etl/internal/credentials"
	"github.com/prism-lake/ecommerce-etl/internal/model"
)

// DefaultMaxExtractBytes caps the unpacked size of one archive.
const DefaultMaxExtractBytes int64 = 20 << 30

var errNotArchive = errors.New("not a zip archive")

// Client downloads datasets from the Kaggle public API.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxExtractBytes int64
}

// Option configures a Client.
type Option func(*Client)

// WithMaxExtractBytes sets the total number of bytes an archive may unpack to.
func WithMaxExtractBytes(n int64) Option {
	return func(c *Client) { c.maxExtractBytes = n }
}

// NewClient creates a new Kaggle API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// Whole-dataset archives are large; this bounds a stuck transfer.
			Timeout: 30 * time.Minute,
		},
		maxExtractBytes: DefaultMaxExtractBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download fetches the full dataset archive and unpacks it into dir.
// dir must already exist. On failure dir may hold a partial download.
func (c *Client) Download(ctx context.Context, creds credentials.Credentials, dataset model.Dataset, dir string) error {
	slog.InfoContext(ctx, "downloading dataset", "dataset", dataset, "dir", dir)

	archive, name, err := c.apiDownload(ctx, creds, dataset, dir)
	if err != nil {
		return c.toClientError(err, "failed to download dataset")
	}
	defer os.Remove(archive)

	n, err := unzip(archive, dir, c.maxExtractBytes)
	if errors.Is(err, errNotArchive) {
		// Single-file datasets are served as-is.
		slog.InfoContext(ctx, "dataset is not an archive, keeping as single file", "name", name)
		if err := os.Rename(archive, filepath.Join(dir, name)); err != nil {
			return c.toClientError(err, "failed to stage downloaded file")
		}
		return nil
	}
	if err != nil {
		return c.toClientError(err, "failed to unpack dataset")
	}

	slog.InfoContext(ctx, "dataset unpacked", "dataset", dataset, "files", n)
	return nil
}

// apiDownload spools the response body into a temporary file inside dir and
// returns its path together with the file name the server suggested.
func (c *Client) apiDownload(ctx context.Context, creds credentials.Credentials, dataset model.Dataset, dir string) (string, string, error) {
	url := fmt.Sprintf("%s/datasets/download/%s/%s", c.baseURL, dataset.Owner(), dataset.Slug())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.SetBasicAuth(creds.Username, creds.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", newAPIError(resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", "", err
	}
	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", err
	}

	slog.DebugContext(ctx, "download complete", "bytes", written)
	return tmp.Name(), attachmentName(resp.Header.Get("Content-Disposition"), dataset.Slug()), nil
}

func attachmentName(disposition, fallback string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil || params["filename"] == "" {
		return fallback
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}

// unzip extracts every entry of the archive under dir and returns the number
// of files written. Entries resolving outside dir are rejected, and so is an
// archive unpacking to more than limit bytes.
func unzip(archive, dir string, limit int64) (int, error) {
	r, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrFormat) {
		return 0, errNotArchive
	}
	if err != nil {
		return 0, err
	}
	defer r.Close()

	count := 0
	remaining := limit
	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		rel, err := filepath.Rel(dir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return count, fmt.Errorf("archive entry %q escapes staging directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if f.UncompressedSize64 > uint64(remaining) {
			return count, fmt.Errorf("archive exceeds extract limit of %d bytes at %s", limit, f.Name)
		}
		written, err := extractFile(f, target)
		if err != nil {
			return count, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		remaining -= written
		count++
	}
	return count, nil
}

// extractFile copies at most the entry's declared size; an entry inflating
// past its header is rejected.
func extractFile(f *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	src, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	size := int64(f.UncompressedSize64)
	written, err := io.Copy(dst, io.LimitReader(src, size+1))
	if err == nil && written > size {
		err = fmt.Errorf("entry inflates past its declared %d bytes", size)
	}
	if err != nil {
		dst.Close()
		return written, err
	}
	return written, dst.Close()
}

// toClientError wraps an internal error into a ClientError for external consumers.
func (c *Client) toClientError(err error, context string) error {
	if err == nil {
		return nil
	}
	var apiErr *apiError
	unauthorized := errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
	return &ClientError{
		Message:      fmt.Sprintf("%s: %v", context, err),
		Unauthorized: unauthorized,
	}
}
