// Package objstore implements datasource.Source over an S3-compatible bucket
// (MinIO, AWS S3) using minio-go. A source base of s3://bucket/prefix maps
// dataset "orders" to the objects under prefix/orders/.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dsload/internal/datasource"
)

const scheme = "s3://"

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Validate checks that the settings can build a client.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("objstore: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("objstore: endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("objstore: access key and secret key are required")
	}
	return nil
}

// Bucket is a datasource.Source backed by one bucket and key prefix.
type Bucket struct {
	client  *minio.Client
	bucket  string
	prefix  string
	pattern string
}

var _ datasource.Source = (*Bucket)(nil)

// NewClient builds a minio client from cfg.
func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// New returns a Bucket for base (s3://bucket/prefix) whose List filters
// object names with pattern (path.Match syntax; empty matches everything).
func New(client *minio.Client, base, pattern string) (*Bucket, error) {
	bucket, prefix, err := ParseURL(base)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	return &Bucket{client: client, bucket: bucket, prefix: prefix, pattern: pattern}, nil
}

// ParseURL splits s3://bucket/some/prefix into its bucket and key prefix.
// The prefix never has leading or trailing slashes.
func ParseURL(u string) (bucket, key string, err error) {
	if !strings.HasPrefix(u, scheme) {
		return "", "", fmt.Errorf("objstore: %q is not an %s URL", u, scheme)
	}
	rest := strings.TrimPrefix(u, scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("objstore: %q has no bucket", u)
	}
	return bucket, strings.Trim(key, "/"), nil
}

// List returns s3:// URLs of the objects directly under prefix/dataset/ that
// match the pattern, sorted by key.
//
// An empty listing maps to datasource.ErrDatasetDirNotFound, the object-store
// analogue of a missing directory.
func (b *Bucket) List(ctx context.Context, dataset string) ([]string, error) {
	dir := path.Join(b.prefix, dataset) + "/"
	if b.prefix == "" {
		dir = dataset + "/"
	}

	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: dir}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objstore: list s3://%s/%s: %w", b.bucket, dir, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s", datasource.ErrDatasetDirNotFound, b.bucket, dir)
	}

	matched, err := selectKeys(keys, b.pattern)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s has no objects matching %q", datasource.ErrNoFiles, b.bucket, dir, b.pattern)
	}
	out := make([]string, len(matched))
	for i, k := range matched {
		out[i] = scheme + b.bucket + "/" + k
	}
	return out, nil
}

// Open fetches an object by its s3:// URL.
func (b *Bucket) Open(ctx context.Context, u string) (io.ReadCloser, error) {
	return OpenURL(ctx, b.client, u)
}

// OpenURL fetches any object by s3:// URL. The object is stat'ed first so a
// missing key fails here rather than on the first Read.
func OpenURL(ctx context.Context, client *minio.Client, u string) (io.ReadCloser, error) {
	bucket, key, err := ParseURL(u)
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s: %w", u, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("objstore: stat %s: %w", u, err)
	}
	return obj, nil
}

// selectKeys keeps keys whose base name matches pattern, dropping directory
// placeholders, and sorts the result.
func selectKeys(keys []string, pattern string) ([]string, error) {
	var out []string
	for _, k := range keys {
		if strings.HasSuffix(k, "/") {
			continue
		}
		ok, err := path.Match(pattern, path.Base(k))
		if err != nil {
			return nil, fmt.Errorf("objstore: match %q: %w", pattern, err)
		}
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
