// Package storage contains the storage-agnostic sink contract, the backend
// factory and the chunk Writer used by the loader.
//
// Backends (postgres, mssql, mysql, sqlite) register a Factory for their kind
// at init time; importing dsload/internal/storage/all enables every one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Repository appends rows to an existing destination table.
//
// CopyFrom writes rows (aligned to columns) into table and returns the number
// of rows written. Each call is independent: a failed call writes nothing,
// and a successful one is not undone by later failures.
type Repository interface {
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// ConnectivityClassifier is implemented by backends that can recognize their
// own lost-connection errors. See IsConnectivityError.
type ConnectivityClassifier interface {
	IsConnectivityError(err error) bool
}

// ErrConnect wraps any failure to open or ping the destination.
var ErrConnect = errors.New("storage: connect")

// Config carries destination connection parameters. Backends build their own
// DSN from the discrete fields unless DSN is set.
type Config struct {
	Kind     string
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// DSN, when non-empty, is passed to the driver unchanged.
	DSN string

	// ConnectTimeout bounds the initial connect and ping. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout applies when Config.ConnectTimeout is zero.
const DefaultConnectTimeout = 15 * time.Second

// Timeout returns the effective connect timeout.
func (c Config) Timeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// Factory opens a Repository for cfg. Implementations must verify the
// connection before returning.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, fn Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = fn
}

// ListKinds returns the registered kinds in sorted order.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository for cfg.Kind. Connection failures wrap ErrConnect.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	fn, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}

	repo, err := fn(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, cfg.Kind, err)
	}
	return repo, nil
}
