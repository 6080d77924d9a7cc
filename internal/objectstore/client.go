// Package objectstore lists and reads the partitioned Parquet files that
// back each run, pushing column projection down to the file reader and
// normalizing dictionary-vs-plain encoding before handing rows to the
// rest of the engine.
package objectstore

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// Config holds the connection parameters for the S3-compatible endpoint.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string

	// RetryAttempts bounds the exponential-backoff retry budget for
	// transient network faults. Zero selects a small sane default.
	RetryAttempts int
}

// Client wraps a MinIO client scoped to one bucket.
type Client struct {
	cfg    Config
	client *minio.Client
}

// NewClient constructs the MinIO client with a static V4 credential provider.
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, ocperrors.NewConnectivity("failed to construct object store client", err)
	}
	return &Client{cfg: cfg, client: mc}, nil
}

// CheckConnectivity verifies the endpoint is reachable and the configured
// bucket exists, satisfying orchestrator phase 1's connectivity check.
// Transient faults are retried with exponential backoff up to
// RetryAttempts before surfacing a ConnectivityError.
func (c *Client) CheckConnectivity(ctx context.Context) error {
	op := func() error {
		exists, err := c.client.BucketExists(ctx, c.cfg.Bucket)
		if err != nil {
			return err
		}
		if !exists {
			return backoff.Permanent(ocperrors.NewConnectivity("bucket does not exist: "+c.cfg.Bucket, nil))
		}
		return nil
	}

	b := c.retryPolicy()
	if err := backoff.Retry(op, b); err != nil {
		if ce, ok := err.(ocperrors.CategorizedError); ok {
			return ce
		}
		return ocperrors.NewConnectivity("object store unreachable after retry budget", err)
	}
	return nil
}

func (c *Client) retryPolicy() backoff.BackOff {
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(eb, uint64(attempts))
}

// ListPartitionFiles lists every object under the partition prefix for one
// table-name within a (source_uuid, year, month) scope. Missing days are
// simply absent keys, never surfaced as an error: missing partitions are
// treated as empty inputs, not failures.
func (c *Client) ListPartitionFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for obj := range c.client.ListObjects(ctx, c.cfg.Bucket, opts) {
		if obj.Err != nil {
			return nil, ocperrors.NewConnectivity("listing object store partition failed", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	log.Debug().Str("prefix", prefix).Int("files", len(keys)).Msg("listed object store partition")
	return keys, nil
}

// Open returns a retrying reader for a single object, used by the Parquet
// decoder (reader.go) as its io.ReaderAt source.
func (c *Client) Open(ctx context.Context, key string) (*minio.Object, error) {
	var obj *minio.Object
	op := func() error {
		o, err := c.client.GetObject(ctx, c.cfg.Bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		// GetObject is lazy; force a first read to surface auth/network
		// errors here rather than on the caller's first decode call.
		if _, statErr := o.Stat(); statErr != nil {
			o.Close()
			return statErr
		}
		obj = o
		return nil
	}
	if err := backoff.Retry(op, c.retryPolicy()); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" || resp.Code == "SignatureDoesNotMatch" {
			return nil, ocperrors.NewConnectivity("object store credentials rejected", err)
		}
		return nil, ocperrors.NewConnectivity("failed to open object store object "+key, err)
	}
	return obj, nil
}
