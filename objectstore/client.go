package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"f0oster/groupsync/snapshot"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client stores membership snapshots as objects in a GCS bucket. It
// implements snapshot.Store.
type Client struct {
	storageClient *storage.Client
	BucketName    string
	logger        *zap.Logger
}

// NewClient authenticates with the service account key at saKeyPath. An
// empty saKeyPath uses application default credentials.
func NewClient(ctx context.Context, bucketName, saKeyPath string, logger *zap.Logger) (*Client, error) {
	if bucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		BucketName:    bucketName,
		logger:        logger,
	}, nil
}

func (c *Client) Close() error {
	return c.storageClient.Close()
}

func (c *Client) Upload(ctx context.Context, path string, content []byte) error {
	writer := c.storageClient.Bucket(c.BucketName).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write GCS object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", path, err)
	}
	c.logger.Debug("uploaded snapshot",
		zap.String("bucket", c.BucketName),
		zap.String("path", path),
		zap.Int("bytes", len(content)))
	return nil
}

func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	reader, err := c.storageClient.Bucket(c.BucketName).Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", snapshot.ErrNotFound, c.BucketName, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", path, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", path, err)
	}
	return content, nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	err := c.storageClient.Bucket(c.BucketName).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", snapshot.ErrNotFound, c.BucketName, path)
	}
	if err != nil {
		return fmt.Errorf("failed to delete GCS object %s: %w", path, err)
	}
	return nil
}
