package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/imedwei/railway-object-storage/internal/config"
	"github.com/imedwei/railway-object-storage/internal/health"
	"github.com/imedwei/railway-object-storage/internal/utils"
)

const tempFilePrefix = ".upload-"

func init() {
	RegisterFactory(config.TypeLocal, func(_ context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Provider, error) {
		return NewLocalStorage(LocalConfig{
			Name:          cfg.Name,
			BasePath:      cfg.Setting("base_path"),
			PublicBaseURL: cfg.Setting("public_base_url"),
		}, logger)
	})
}

// LocalConfig holds filesystem-specific configuration.
type LocalConfig struct {
	Name          string
	BasePath      string
	PublicBaseURL string // Optional; defaults to file:// URLs
}

// LocalStorage implements Provider on a local directory. Keys map to relative
// paths under the base directory.
type LocalStorage struct {
	lifecycle

	name          string
	basePath      string
	publicBaseURL string
	logger        *slog.Logger
}

// NewLocalStorage creates a filesystem provider. The base directory is created
// by Initialize.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	abs, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = config.TypeLocal
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LocalStorage{
		name:          cfg.Name,
		basePath:      abs,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Name implements Provider.
func (l *LocalStorage) Name() string {
	return l.name
}

// Initialize implements Provider.
func (l *LocalStorage) Initialize(ctx context.Context) error {
	return l.initialize(ctx, func(context.Context) error {
		if err := os.MkdirAll(l.basePath, 0o750); err != nil {
			return fmt.Errorf("failed to create base directory: %w", err)
		}
		l.logger.Info("Local storage initialized", "base_path", l.basePath)
		return nil
	})
}

// Cleanup implements Provider. The filesystem holds no long-lived handles.
func (l *LocalStorage) Cleanup(context.Context) error {
	l.reset()
	return nil
}

// Upload implements Provider. Data is written to a temporary file and renamed
// into place, so a failed upload never leaves a partial object behind.
func (l *LocalStorage) Upload(ctx context.Context, key string, data io.Reader, opts UploadOptions) (*ObjectMetadata, error) {
	if isNilReader(data) {
		return nil, fmt.Errorf("%w: nil reader", ErrInvalidPayload)
	}
	fullPath, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(fullPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a prefix of other objects", ErrAlreadyExists, key)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		if isPathConflict(err) {
			return nil, fmt.Errorf("%w: a parent of %s is an object", ErrAlreadyExists, key)
		}
		return nil, l.backendErr("upload", fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return nil, l.backendErr("upload", fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	_, copyErr := utils.DefaultBufferPool.Copy(tmp, &contextReader{ctx: ctx, r: data})
	closeErr := tmp.Close()
	if copyErr != nil {
		return nil, l.backendErr("upload", fmt.Errorf("failed to write file: %w", copyErr))
	}
	if closeErr != nil {
		return nil, l.backendErr("upload", fmt.Errorf("failed to close file: %w", closeErr))
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		if isPathConflict(err) {
			return nil, fmt.Errorf("%w: %s is a prefix of other objects", ErrAlreadyExists, key)
		}
		return nil, l.backendErr("upload", fmt.Errorf("failed to move file into place: %w", err))
	}
	committed = true

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, l.backendErr("upload", err)
	}

	meta := l.metadataFor(key, info)
	meta.MimeType = contentTypeFor(key, opts.ContentType)
	meta.Metadata = copyMetadata(opts.Metadata)
	return meta, nil
}

// Download implements Provider.
func (l *LocalStorage) Download(ctx context.Context, key string, opts *DownloadOptions) ([]byte, error) {
	f, err := l.open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if opts.isRange() {
		if _, err := f.Seek(opts.Offset, io.SeekStart); err != nil {
			return nil, l.backendErr("download", err)
		}
		if opts.Length > 0 {
			r = io.LimitReader(f, opts.Length)
		}
	}

	data, err := io.ReadAll(&contextReader{ctx: ctx, r: r})
	if err != nil {
		return nil, l.backendErr("download", err)
	}
	return data, nil
}

// GetStream implements Provider.
func (l *LocalStorage) GetStream(_ context.Context, key string) (io.ReadCloser, error) {
	return l.open(key)
}

// GetMetadata implements Provider.
func (l *LocalStorage) GetMetadata(_ context.Context, key string) (*ObjectMetadata, error) {
	info, err := l.stat(key)
	if err != nil {
		return nil, err
	}
	return l.metadataFor(key, info), nil
}

// Delete implements Provider. Deleting a missing key returns ErrNotFound.
func (l *LocalStorage) Delete(_ context.Context, key string) error {
	fullPath, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if info, err := os.Stat(fullPath); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := os.Remove(fullPath); err != nil {
		if isMissing(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return l.backendErr("delete", err)
	}
	return nil
}

// Exists implements Provider.
func (l *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := l.stat(key)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetSignedURL implements Provider. The filesystem cannot sign URLs, so the
// public URL is returned.
func (l *LocalStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := l.fullPath(key); err != nil {
		return "", err
	}
	return l.GetPublicURL(key), nil
}

// GetPublicURL implements Provider.
func (l *LocalStorage) GetPublicURL(key string) string {
	if l.publicBaseURL != "" {
		return l.publicBaseURL + "/" + escapeKey(key)
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(l.basePath, filepath.FromSlash(key)))}
	return u.String()
}

// Copy implements Provider using the download-and-upload default.
func (l *LocalStorage) Copy(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	return copyViaDownload(ctx, l, sourceKey, destinationKey)
}

// Move implements Provider with a rename, falling back to copy and delete
// when the rename is not possible.
func (l *LocalStorage) Move(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	src, err := l.fullPath(sourceKey)
	if err != nil {
		return nil, err
	}
	dst, err := l.fullPath(destinationKey)
	if err != nil {
		return nil, err
	}
	if _, err := l.stat(sourceKey); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err == nil {
		if err := os.Rename(src, dst); err == nil {
			return l.GetMetadata(ctx, destinationKey)
		}
	}
	return moveViaCopy(ctx, l, sourceKey, destinationKey)
}

// List implements Provider. Results are sorted by key.
func (l *LocalStorage) List(ctx context.Context, prefix string, maxKeys int) ([]ObjectMetadata, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultListLimit
	}

	root := l.basePath
	if dir := path.Dir(prefix); strings.Contains(prefix, "/") && dir != "." {
		var err error
		if root, err = l.fullPath(dir); err != nil {
			return nil, err
		}
	}

	var objects []ObjectMetadata
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if isMissing(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempFilePrefix) {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		objects = append(objects, *l.metadataFor(key, info))
		return nil
	})
	if err != nil {
		return nil, l.backendErr("list", err)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	if len(objects) > maxKeys {
		objects = objects[:maxKeys]
	}
	return objects, nil
}

// HealthCheck implements Provider by stat-ing the base directory.
func (l *LocalStorage) HealthCheck(_ context.Context) health.ProviderStatus {
	start := time.Now()
	info, err := os.Stat(l.basePath)
	if err == nil && !info.IsDir() {
		err = fmt.Errorf("base path %s is not a directory", l.basePath)
	}
	return probeResult(l.name, start, err)
}

// fullPath maps key to a path under the base directory, rejecting keys that
// would escape it.
func (l *LocalStorage) fullPath(key string) (string, error) {
	if path.Clean("/"+key) != "/"+key {
		return "", fmt.Errorf("%w: %s is not a canonical path", ErrInvalidKey, key)
	}
	full := filepath.Join(l.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.basePath, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s resolves outside the storage root", ErrInvalidKey, key)
	}
	return full, nil
}

func (l *LocalStorage) open(key string) (*os.File, error) {
	if _, err := l.stat(key); err != nil {
		return nil, err
	}
	fullPath, _ := l.fullPath(key)
	f, err := os.Open(fullPath)
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, l.backendErr("open", err)
	}
	return f, nil
}

func (l *LocalStorage) stat(key string) (fs.FileInfo, error) {
	fullPath, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, l.backendErr("stat", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, key)
	}
	return info, nil
}

func (l *LocalStorage) metadataFor(key string, info fs.FileInfo) *ObjectMetadata {
	return &ObjectMetadata{
		Key:          key,
		Size:         info.Size(),
		MimeType:     contentTypeFor(key, ""),
		LastModified: info.ModTime(),
		ETag:         fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()),
		URL:          l.GetPublicURL(key),
	}
}

// isMissing reports errors meaning nothing exists at the path, including a
// parent segment that is a regular file.
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// isPathConflict reports a file where a directory is needed or the reverse.
func isPathConflict(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.EISDIR) ||
		errors.Is(err, syscall.EEXIST) ||
		errors.Is(err, syscall.ENOTEMPTY)
}

func (l *LocalStorage) backendErr(op string, err error) error {
	return newBackendError(l.name, op, err)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// escapeKey percent-encodes each path segment of key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

var _ Provider = (*LocalStorage)(nil)
