package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/imedwei/railway-object-storage/internal/config"
	"github.com/imedwei/railway-object-storage/internal/health"
)

func init() {
	RegisterFactory(config.TypeGCS, func(_ context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Provider, error) {
		if sa := cfg.Setting("service_account_json"); sa != "" {
			if err := ValidateServiceAccountJSON(sa); err != nil {
				return nil, fmt.Errorf("invalid GCS service account: %w", err)
			}
		}
		return NewGCSStorage(GCSConfig{
			Name:               cfg.Name,
			Bucket:             cfg.Setting("bucket"),
			ProjectID:          cfg.Setting("project_id"),
			ServiceAccountJSON: cfg.Setting("service_account_json"),
			Prefix:             cfg.Setting("prefix"),
		}, logger), nil
	})
}

// GCSConfig holds GCS-specific configuration.
type GCSConfig struct {
	Name               string
	Bucket             string
	ProjectID          string
	ServiceAccountJSON string // Optional; falls back to application default credentials
	Prefix             string // Optional prefix for all keys
}

// GCSStorage implements Provider for Google Cloud Storage. The client is
// opened by Initialize and closed by Cleanup.
type GCSStorage struct {
	lifecycle

	name   string
	cfg    GCSConfig
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSStorage creates a new GCS storage provider.
func NewGCSStorage(cfg GCSConfig, logger *slog.Logger) *GCSStorage {
	if cfg.Name == "" {
		cfg.Name = config.TypeGCS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStorage{
		name:   cfg.Name,
		cfg:    cfg,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}
}

// Name implements Provider.
func (g *GCSStorage) Name() string {
	return g.name
}

// Initialize implements Provider by creating the GCS client.
func (g *GCSStorage) Initialize(ctx context.Context) error {
	return g.initialize(ctx, func(ctx context.Context) error {
		var opts []option.ClientOption
		if g.cfg.ServiceAccountJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(g.cfg.ServiceAccountJSON)))
		}

		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create GCS client: %w", err)
		}
		g.client = client
		g.logger.Info("GCS storage initialized", "bucket", g.bucket, "project_id", g.cfg.ProjectID)
		return nil
	})
}

// Cleanup implements Provider by closing the GCS client.
func (g *GCSStorage) Cleanup(context.Context) error {
	defer g.reset()
	if g.client == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	return nil
}

// Upload implements Provider.
func (g *GCSStorage) Upload(ctx context.Context, key string, data io.Reader, opts UploadOptions) (*ObjectMetadata, error) {
	if isNilReader(data) {
		return nil, fmt.Errorf("%w: nil reader", ErrInvalidPayload)
	}

	obj := g.object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentTypeFor(key, opts.ContentType)
	w.Metadata = opts.Metadata
	if opts.Public {
		w.PredefinedACL = "publicRead"
	}

	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return nil, g.classify("upload", key, fmt.Errorf("failed to upload to GCS: %w", err))
	}

	// Close commits the object; nothing is visible before it succeeds.
	if err := w.Close(); err != nil {
		return nil, g.classify("upload", key, fmt.Errorf("failed to finalize GCS upload: %w", err))
	}

	return g.metadataFrom(key, w.Attrs()), nil
}

// Download implements Provider.
func (g *GCSStorage) Download(ctx context.Context, key string, opts *DownloadOptions) ([]byte, error) {
	offset, length := int64(0), int64(-1)
	if opts.isRange() {
		offset = opts.Offset
		if opts.Length > 0 {
			length = opts.Length
		}
	}

	r, err := g.object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, g.classify("download", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, g.classify("download", key, err)
	}
	return data, nil
}

// GetStream implements Provider.
func (g *GCSStorage) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.object(key).NewReader(ctx)
	if err != nil {
		return nil, g.classify("stream", key, err)
	}
	return r, nil
}

// GetMetadata implements Provider.
func (g *GCSStorage) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	attrs, err := g.object(key).Attrs(ctx)
	if err != nil {
		return nil, g.classify("metadata", key, err)
	}
	return g.metadataFrom(key, attrs), nil
}

// Delete implements Provider. Deleting a missing key returns ErrNotFound.
func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := g.object(key).Delete(ctx); err != nil {
		return g.classify("delete", key, err)
	}
	return nil
}

// Exists implements Provider.
func (g *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, g.classify("exists", key, err)
}

// GetSignedURL implements Provider. Signing needs credentials with a private
// key or IAM signBlob permission.
func (g *GCSStorage) GetSignedURL(_ context.Context, key string, expiresIn time.Duration) (string, error) {
	u, err := g.client.Bucket(g.bucket).SignedURL(g.getFullKey(key), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiresIn),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", g.classify("signed_url", key, err)
	}
	return u, nil
}

// GetPublicURL implements Provider.
func (g *GCSStorage) GetPublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, escapeKey(g.getFullKey(key)))
}

// Copy implements Provider with a server-side copy.
func (g *GCSStorage) Copy(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	attrs, err := g.object(destinationKey).CopierFrom(g.object(sourceKey)).Run(ctx)
	if err != nil {
		return nil, g.classify("copy", sourceKey, err)
	}
	return g.metadataFrom(destinationKey, attrs), nil
}

// Move implements Provider.
func (g *GCSStorage) Move(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	return moveViaCopy(ctx, g, sourceKey, destinationKey)
}

// List implements Provider.
func (g *GCSStorage) List(ctx context.Context, prefix string, maxKeys int) ([]ObjectMetadata, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultListLimit
	}

	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix: g.getFullKey(prefix),
	})

	var objects []ObjectMetadata
	for len(objects) < maxKeys {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, g.classify("list", prefix, fmt.Errorf("failed to list GCS objects: %w", err))
		}
		objects = append(objects, *g.metadataFrom(g.stripPrefix(attrs.Name), attrs))
	}

	return objects, nil
}

// HealthCheck implements Provider by fetching at most one object name.
func (g *GCSStorage) HealthCheck(ctx context.Context) health.ProviderStatus {
	start := time.Now()
	if g.client == nil {
		return probeResult(g.name, start, errors.New("client not initialized"))
	}

	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.getFullKey("")})
	it.PageInfo().MaxSize = 1
	_, err := it.Next()
	if err == iterator.Done {
		err = nil
	}
	return probeResult(g.name, start, err)
}

func (g *GCSStorage) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.getFullKey(key))
}

func (g *GCSStorage) metadataFrom(key string, attrs *storage.ObjectAttrs) *ObjectMetadata {
	meta := &ObjectMetadata{
		Key: key,
		URL: g.GetPublicURL(key),
	}
	if attrs != nil {
		meta.Size = attrs.Size
		meta.MimeType = attrs.ContentType
		meta.LastModified = attrs.Updated
		meta.ETag = attrs.Etag
		meta.Metadata = copyMetadata(attrs.Metadata)
	}
	if meta.MimeType == "" {
		meta.MimeType = contentTypeFor(key, "")
	}
	return meta
}

func (g *GCSStorage) classify(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return newBackendError(g.name, op, err)
}

// getFullKey returns the full GCS object name with prefix.
func (g *GCSStorage) getFullKey(key string) string {
	if g.prefix == "" {
		return key
	}
	return strings.TrimSuffix(g.prefix, "/") + "/" + key
}

// stripPrefix removes the storage prefix from a key.
func (g *GCSStorage) stripPrefix(key string) string {
	if g.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(g.prefix, "/")+"/")
}

// ValidateServiceAccountJSON validates the service account JSON string.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %s", sa.Type)
	}

	return nil
}

var _ Provider = (*GCSStorage)(nil)
