package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"reflect"
	"sync"
	"time"

	"github.com/imedwei/railway-object-storage/internal/health"
)

const defaultContentType = "application/octet-stream"

// lifecycle makes Initialize idempotent for the embedding provider.
type lifecycle struct {
	mu          sync.Mutex
	initialized bool
}

// initialize runs fn until it succeeds once; later calls are no-ops.
func (l *lifecycle) initialize(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return nil
	}
	if err := fn(ctx); err != nil {
		return err
	}
	l.initialized = true
	return nil
}

// reset marks the provider as not initialized after Cleanup.
func (l *lifecycle) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = false
}

// copyViaDownload is the default Copy: read the source back and upload it
// under the destination key with the same content type and metadata.
func copyViaDownload(ctx context.Context, p Provider, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	meta, err := p.GetMetadata(ctx, sourceKey)
	if err != nil {
		return nil, err
	}

	body, err := p.GetStream(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return p.Upload(ctx, destinationKey, body, UploadOptions{
		ContentType: meta.MimeType,
		Metadata:    meta.Metadata,
	})
}

// moveViaCopy copies and then deletes the source. It is not atomic: a failed
// delete leaves both objects in place.
func moveViaCopy(ctx context.Context, p Provider, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	meta, err := p.Copy(ctx, sourceKey, destinationKey)
	if err != nil {
		return nil, err
	}
	if err := p.Delete(ctx, sourceKey); err != nil {
		return nil, fmt.Errorf("copied to %s but failed to delete source: %w", destinationKey, err)
	}
	return meta, nil
}

// contentTypeFor prefers the explicit type, then the key's extension.
func contentTypeFor(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return defaultContentType
}

func probeResult(name string, start time.Time, err error) health.ProviderStatus {
	status := health.ProviderStatus{
		Provider:     name,
		Status:       health.StatusHealthy,
		ResponseTime: time.Since(start),
		LastChecked:  time.Now(),
	}
	if err != nil {
		status.Status = health.StatusUnhealthy
		status.Error = err.Error()
	}
	return status
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// isNilReader catches both a nil interface and a typed nil pointer.
func isNilReader(r io.Reader) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
