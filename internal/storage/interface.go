// Package storage defines the provider contract for object storage backends
// and the Manager that spreads operations across them.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/imedwei/railway-object-storage/internal/health"
)

// DefaultListLimit is used when List is called with maxKeys <= 0.
const DefaultListLimit = 1000

// Provider defines the operations every storage backend supports. Keys are
// validated by the caller before they reach a provider method.
type Provider interface {
	// Name returns the configured provider name.
	Name() string

	// Upload stores data at key.
	Upload(ctx context.Context, key string, data io.Reader, opts UploadOptions) (*ObjectMetadata, error)

	// Download returns the object's bytes, optionally limited to a range.
	Download(ctx context.Context, key string, opts *DownloadOptions) ([]byte, error)

	// GetStream returns a reader for the object. The caller must close it.
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)

	// GetMetadata returns a snapshot of the object's metadata.
	GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error)

	// Delete removes the object. Deleting a missing key may or may not fail.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object exists. A missing key is not an error.
	Exists(ctx context.Context, key string) (bool, error)

	// GetSignedURL returns a time-limited URL, or the public URL when the
	// backend cannot sign.
	GetSignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)

	// GetPublicURL builds the public URL for key without performing I/O.
	GetPublicURL(key string) string

	// Copy duplicates source to destination.
	Copy(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error)

	// Move copies source to destination and then deletes source.
	Move(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error)

	// List returns up to maxKeys objects whose key starts with prefix.
	List(ctx context.Context, prefix string, maxKeys int) ([]ObjectMetadata, error)

	// HealthCheck probes the backend. It never returns an error; failures are
	// reported as an unhealthy status.
	HealthCheck(ctx context.Context) health.ProviderStatus

	// Initialize prepares backend resources. Calling it twice is a no-op.
	Initialize(ctx context.Context) error

	// Cleanup releases backend resources.
	Cleanup(ctx context.Context) error
}

// ObjectMetadata is a snapshot of a stored object.
type ObjectMetadata struct {
	Key          string
	Size         int64
	MimeType     string
	LastModified time.Time
	ETag         string
	URL          string
	Metadata     map[string]string

	// Provider is the provider that served the operation. Set by the Manager.
	Provider string
}

// UploadOptions configures an upload. Backends ignore options they cannot honour.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
	Public      bool
	ExpiresIn   time.Duration
}

// DownloadOptions limits a download to a byte range. A zero Length reads to
// the end of the object.
type DownloadOptions struct {
	Offset int64
	Length int64
}

func (o *DownloadOptions) isRange() bool {
	return o != nil && (o.Offset > 0 || o.Length > 0)
}
