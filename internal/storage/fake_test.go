package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/imedwei/railway-object-storage/internal/health"
)

var errBackendDown = errors.New("backend unavailable")

type fakeObject struct {
	data []byte
	meta ObjectMetadata
}

// fakeProvider is an in-memory Provider with switchable failures.
type fakeProvider struct {
	name string

	mu          sync.Mutex
	objects     map[string]fakeObject
	calls       map[string]int
	failOps     error
	healthErr   error
	initErr     error
	cleanupErr  error
	initCount   int
	cleanedUp   bool
	streamCtx   context.Context
	uploadDelay time.Duration
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:    name,
		objects: make(map[string]fakeObject),
		calls:   make(map[string]int),
	}
}

func (f *fakeProvider) setFailing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps = err
}

func (f *fakeProvider) setHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *fakeProvider) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for op, n := range f.calls {
		if op != "health" && op != "init" && op != "cleanup" {
			total += n
		}
	}
	return total
}

func (f *fakeProvider) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeProvider) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, meta: ObjectMetadata{Key: key, Size: int64(len(data)), MimeType: contentTypeFor(key, "")}}
}

// begin records the call and returns the configured failure, if any.
func (f *fakeProvider) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failOps != nil {
		return newBackendError(f.name, op, f.failOps)
	}
	return nil
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Upload(ctx context.Context, key string, data io.Reader, opts UploadOptions) (*ObjectMetadata, error) {
	if err := f.begin("upload"); err != nil {
		return nil, err
	}
	if f.uploadDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, newBackendError(f.name, "upload", ctx.Err())
		case <-time.After(f.uploadDelay):
		}
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return nil, newBackendError(f.name, "upload", err)
	}
	meta := ObjectMetadata{
		Key:          key,
		Size:         int64(len(body)),
		MimeType:     contentTypeFor(key, opts.ContentType),
		LastModified: time.Now(),
		Metadata:     copyMetadata(opts.Metadata),
		URL:          f.GetPublicURL(key),
	}
	f.mu.Lock()
	f.objects[key] = fakeObject{data: body, meta: meta}
	f.mu.Unlock()
	return &meta, nil
}

func (f *fakeProvider) lookup(key string) (fakeObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return fakeObject{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return obj, nil
}

func (f *fakeProvider) Download(_ context.Context, key string, opts *DownloadOptions) ([]byte, error) {
	if err := f.begin("download"); err != nil {
		return nil, err
	}
	obj, err := f.lookup(key)
	if err != nil {
		return nil, err
	}
	data := obj.data
	if opts.isRange() {
		start := min(opts.Offset, int64(len(data)))
		end := int64(len(data))
		if opts.Length > 0 {
			end = min(start+opts.Length, end)
		}
		data = data[start:end]
	}
	return bytes.Clone(data), nil
}

func (f *fakeProvider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := f.begin("stream"); err != nil {
		return nil, err
	}
	obj, err := f.lookup(key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.streamCtx = ctx
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (f *fakeProvider) GetMetadata(_ context.Context, key string) (*ObjectMetadata, error) {
	if err := f.begin("metadata"); err != nil {
		return nil, err
	}
	obj, err := f.lookup(key)
	if err != nil {
		return nil, err
	}
	meta := obj.meta
	return &meta, nil
}

func (f *fakeProvider) Delete(_ context.Context, key string) error {
	if err := f.begin("delete"); err != nil {
		return err
	}
	if _, err := f.lookup(key); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.objects, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) Exists(_ context.Context, key string) (bool, error) {
	if err := f.begin("exists"); err != nil {
		return false, err
	}
	_, err := f.lookup(key)
	return err == nil, nil
}

func (f *fakeProvider) GetSignedURL(_ context.Context, key string, expiresIn time.Duration) (string, error) {
	if err := f.begin("signed_url"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s?expires=%d", f.GetPublicURL(key), int(expiresIn.Seconds())), nil
}

func (f *fakeProvider) GetPublicURL(key string) string {
	return "mem://" + f.name + "/" + key
}

func (f *fakeProvider) Copy(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	if err := f.begin("copy"); err != nil {
		return nil, err
	}
	return copyViaDownload(ctx, f, sourceKey, destinationKey)
}

func (f *fakeProvider) Move(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	if err := f.begin("move"); err != nil {
		return nil, err
	}
	return moveViaCopy(ctx, f, sourceKey, destinationKey)
}

func (f *fakeProvider) List(_ context.Context, prefix string, maxKeys int) ([]ObjectMetadata, error) {
	if err := f.begin("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ObjectMetadata
	for key, obj := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if len(out) > maxKeys {
		out = out[:maxKeys]
	}
	return out, nil
}

func (f *fakeProvider) HealthCheck(_ context.Context) health.ProviderStatus {
	f.mu.Lock()
	f.calls["health"]++
	err := f.healthErr
	f.mu.Unlock()
	return probeResult(f.name, time.Now(), err)
}

func (f *fakeProvider) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["init"]++
	if f.initErr != nil {
		return f.initErr
	}
	f.initCount++
	return nil
}

func (f *fakeProvider) Cleanup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["cleanup"]++
	f.cleanedUp = true
	return f.cleanupErr
}

var _ Provider = (*fakeProvider)(nil)
