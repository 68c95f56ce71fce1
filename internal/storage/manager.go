package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imedwei/railway-object-storage/internal/config"
	"github.com/imedwei/railway-object-storage/internal/health"
	"github.com/imedwei/railway-object-storage/internal/metrics"
)

const (
	// DefaultHealthCheckInterval is the probe period used by New when the
	// configuration leaves it unset.
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultOperationTimeout bounds a single provider call.
	DefaultOperationTimeout = 10 * time.Second

	// DefaultSignedURLExpiry is used when GetSignedURL is called without a TTL.
	DefaultSignedURLExpiry = time.Hour
)

// Options configures a Manager built from already constructed providers.
type Options struct {
	Strategy Strategy

	// HealthCheckInterval is the probe period. Zero or negative disables the
	// background loop; CheckHealth can still be called directly.
	HealthCheckInterval time.Duration

	// OperationTimeout bounds each provider call and each probe. Zero
	// disables the per-attempt timeout.
	OperationTimeout time.Duration

	Retry  RetryConfig
	Logger *slog.Logger
}

// Manager spreads storage operations across providers. It picks a healthy
// provider per attempt, marks providers unhealthy when they fail and retries
// on the next one with exponential backoff.
type Manager struct {
	strategy Strategy
	selector *selector
	registry *health.Registry
	retry    RetryConfig
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	providers []rankedProvider
	byName    map[string]Provider

	stopLoop context.CancelFunc
	loopDone chan struct{}
	stopOnce sync.Once
}

// operationResult is the per-attempt bookkeeping used for logging and retry
// decisions. It never leaves the Manager.
type operationResult[T any] struct {
	success  bool
	value    T
	err      error
	provider string
	duration time.Duration
}

// New builds every enabled provider in cfg and starts the Manager.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	interval := cfg.HealthCheckInterval
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	timeout := cfg.FailoverTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}

	return NewWithProviders(ctx, BuildProviders(ctx, cfg, logger), Options{
		Strategy:            strategy,
		HealthCheckInterval: interval,
		OperationTimeout:    timeout,
		Retry:               DefaultRetryConfig(),
		Logger:              logger,
	})
}

// NewWithProviders initializes regs and starts the health loop. Providers
// that fail to initialize are excluded. It returns ErrNoProvidersAvailable
// when none initialize.
func NewWithProviders(ctx context.Context, regs []Registration, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage_manager")

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyFailover
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig()
	}

	m := &Manager{
		strategy: strategy,
		selector: newSelector(strategy),
		registry: health.NewRegistry(),
		retry:    retry,
		timeout:  opts.OperationTimeout,
		interval: opts.HealthCheckInterval,
		logger:   logger,
		byName:   make(map[string]Provider),
	}

	for _, reg := range regs {
		p := reg.Provider
		if _, dup := m.byName[p.Name()]; dup {
			logger.Warn("Skipping duplicate storage provider", "provider", p.Name())
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			logger.Error("Failed to initialize storage provider", "provider", p.Name(), "error", err)
			continue
		}
		m.providers = append(m.providers, rankedProvider{provider: p, priority: reg.Priority})
		m.byName[p.Name()] = p
		m.registry.Register(p.Name())
		metrics.RecordProviderHealth(p.Name(), true)
		logger.Info("Storage provider ready", "provider", p.Name(), "priority", reg.Priority)
	}

	if len(m.providers) == 0 {
		return nil, ErrNoProvidersAvailable
	}
	sortByPriority(m.providers)

	if m.interval > 0 {
		m.startHealthLoop()
	}

	logger.Info("Storage manager started",
		"strategy", m.strategy,
		"providers", len(m.providers),
		"health_check_interval", m.interval,
		"operation_timeout", m.timeout,
	)
	return m, nil
}

// Strategy returns the selection strategy in use.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Providers returns the names of the active providers in priority order.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.providers))
	for i, rp := range m.providers {
		names[i] = rp.provider.Name()
	}
	return names
}

// HealthStatus returns the last known status of every provider in priority order.
func (m *Manager) HealthStatus() []health.ProviderStatus {
	byName := make(map[string]health.ProviderStatus)
	for _, status := range m.registry.Snapshot() {
		byName[status.Provider] = status
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]health.ProviderStatus, 0, len(m.providers))
	for _, rp := range m.providers {
		status, ok := byName[rp.provider.Name()]
		if !ok {
			status = health.ProviderStatus{Provider: rp.provider.Name(), Status: health.StatusHealthy}
		}
		out = append(out, status)
	}
	return out
}

// Ready reports whether at least one provider is currently healthy.
func (m *Manager) Ready(context.Context) bool {
	return len(m.healthyProviders()) > 0
}

// Upload stores data under key. Non-seekable readers are buffered when a
// retry is possible so every attempt sends the same bytes.
func (m *Manager) Upload(ctx context.Context, key string, data io.Reader, opts UploadOptions) (*ObjectMetadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if isNilReader(data) {
		return nil, fmt.Errorf("%w: nil reader", ErrInvalidPayload)
	}

	source, err := m.replayable(data)
	if err != nil {
		return nil, err
	}

	return execute(ctx, m, "upload", func(ctx context.Context, p Provider) (*ObjectMetadata, error) {
		body, err := source()
		if err != nil {
			return nil, err
		}
		meta, err := p.Upload(ctx, key, body, opts)
		return attribute(meta, p), err
	})
}

// Download returns the object's bytes. opts may be nil.
func (m *Manager) Download(ctx context.Context, key string, opts *DownloadOptions) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if opts != nil && (opts.Offset < 0 || opts.Length < 0) {
		return nil, fmt.Errorf("%w: negative range", ErrInvalidPayload)
	}
	return execute(ctx, m, "download", func(ctx context.Context, p Provider) ([]byte, error) {
		return p.Download(ctx, key, opts)
	})
}

// GetStream returns a reader for key. The per-attempt timeout stays in force
// until the caller closes the reader.
func (m *Manager) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return executeAttempts(ctx, m, "stream", func(ctx context.Context, p Provider, release context.CancelFunc) (io.ReadCloser, error) {
		rc, err := p.GetStream(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		return &releasingReader{ReadCloser: rc, release: release}, nil
	})
}

// GetMetadata returns the object's metadata.
func (m *Manager) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return execute(ctx, m, "metadata", func(ctx context.Context, p Provider) (*ObjectMetadata, error) {
		meta, err := p.GetMetadata(ctx, key)
		return attribute(meta, p), err
	})
}

// Delete removes key. Whether a missing key is an error depends on the provider.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := execute(ctx, m, "delete", func(ctx context.Context, p Provider) (struct{}, error) {
		return struct{}{}, p.Delete(ctx, key)
	})
	return err
}

// DeleteIfExists removes key and treats a missing object as success.
func (m *Manager) DeleteIfExists(ctx context.Context, key string) error {
	if err := m.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// Exists reports whether key exists.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	return execute(ctx, m, "exists", func(ctx context.Context, p Provider) (bool, error) {
		return p.Exists(ctx, key)
	})
}

// GetSignedURL returns a time-limited URL for key.
func (m *Manager) GetSignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if expiresIn <= 0 {
		expiresIn = DefaultSignedURLExpiry
	}
	return execute(ctx, m, "signed_url", func(ctx context.Context, p Provider) (string, error) {
		return p.GetSignedURL(ctx, key, expiresIn)
	})
}

// GetPublicURL returns the public URL of key on the selected provider.
func (m *Manager) GetPublicURL(ctx context.Context, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return execute(ctx, m, "public_url", func(_ context.Context, p Provider) (string, error) {
		return p.GetPublicURL(key), nil
	})
}

// Copy duplicates sourceKey to destinationKey. It fails with ErrNotFound when
// the source is missing and ErrAlreadyExists when the destination is taken.
func (m *Manager) Copy(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	if err := validatePair(sourceKey, destinationKey); err != nil {
		return nil, err
	}
	return execute(ctx, m, "copy", func(ctx context.Context, p Provider) (*ObjectMetadata, error) {
		if err := checkTransfer(ctx, p, sourceKey, destinationKey); err != nil {
			return nil, err
		}
		meta, err := p.Copy(ctx, sourceKey, destinationKey)
		return attribute(meta, p), err
	})
}

// Move copies sourceKey to destinationKey and deletes the source. The two
// steps are not atomic.
func (m *Manager) Move(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	if err := validatePair(sourceKey, destinationKey); err != nil {
		return nil, err
	}
	return execute(ctx, m, "move", func(ctx context.Context, p Provider) (*ObjectMetadata, error) {
		if err := checkTransfer(ctx, p, sourceKey, destinationKey); err != nil {
			return nil, err
		}
		meta, err := p.Move(ctx, sourceKey, destinationKey)
		return attribute(meta, p), err
	})
}

// List returns up to maxKeys objects under prefix. maxKeys <= 0 means
// DefaultListLimit.
func (m *Manager) List(ctx context.Context, prefix string, maxKeys int) ([]ObjectMetadata, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = DefaultListLimit
	}
	return execute(ctx, m, "list", func(ctx context.Context, p Provider) ([]ObjectMetadata, error) {
		objects, err := p.List(ctx, prefix, maxKeys)
		if err != nil {
			return nil, err
		}
		if len(objects) > maxKeys {
			objects = objects[:maxKeys]
		}
		for i := range objects {
			objects[i].Provider = p.Name()
		}
		return objects, nil
	})
}

// CheckHealth probes every provider concurrently and records the results.
func (m *Manager) CheckHealth(ctx context.Context) []health.ProviderStatus {
	providers := m.snapshot()
	results := make([]health.ProviderStatus, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			probeCtx, cancel := m.attemptContext(ctx)
			defer cancel()

			status := p.HealthCheck(probeCtx)
			if status.Provider == "" {
				status.Provider = p.Name()
			}
			if status.LastChecked.IsZero() {
				status.LastChecked = time.Now()
			}
			results[i] = status
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range results {
		previous, _ := m.registry.Get(status.Provider)
		m.registry.Set(status)
		metrics.RecordProviderHealth(status.Provider, status.Healthy())
		metrics.HealthCheckDuration.WithLabelValues(status.Provider).Observe(status.ResponseTime.Seconds())

		if previous.Status != status.Status {
			m.logger.Info("Provider health changed",
				"provider", status.Provider,
				"status", status.Status,
				"response_time_ms", status.ResponseTimeMs(),
				"error", status.Error,
			)
		}
	}
	return results
}

// Shutdown stops the health loop, cleans up every provider and clears the
// registry. Cleanup errors are logged, not returned.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		if m.stopLoop != nil {
			m.stopLoop()
			select {
			case <-m.loopDone:
			case <-ctx.Done():
				m.logger.Warn("Health check loop did not stop before shutdown deadline")
			}
		}

		for _, p := range m.snapshot() {
			if err := p.Cleanup(ctx); err != nil {
				m.logger.Warn("Failed to cleanup storage provider", "provider", p.Name(), "error", err)
			}
		}

		m.mu.Lock()
		m.providers = nil
		m.byName = make(map[string]Provider)
		m.mu.Unlock()
		m.registry.Clear()

		m.logger.Info("Storage manager stopped")
	})
}

func (m *Manager) startHealthLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	m.stopLoop = cancel
	m.loopDone = make(chan struct{})

	go func() {
		defer close(m.loopDone)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()
}

// execute runs fn with the per-attempt timeout released when fn returns.
func execute[T any](ctx context.Context, m *Manager, op string, fn func(context.Context, Provider) (T, error)) (T, error) {
	return executeAttempts(ctx, m, op, func(ctx context.Context, p Provider, release context.CancelFunc) (T, error) {
		defer release()
		return fn(ctx, p)
	})
}

// executeAttempts is the retry loop shared by every operation. fn owns
// release and must call it once the attempt's context is no longer needed.
func executeAttempts[T any](ctx context.Context, m *Manager, op string, fn func(context.Context, Provider, context.CancelFunc) (T, error)) (T, error) {
	var zero T
	attempts := m.retry.budget(m.providerCount())

	var last operationResult[T]
	for attempt := 0; attempt < attempts; attempt++ {
		p, err := m.selector.pick(m.healthyProviders())
		if err != nil {
			metrics.NoHealthyProviders.WithLabelValues(op).Inc()
			if attempt == 0 {
				m.logger.Error("No healthy storage providers", "operation", op)
				return zero, err
			}
			m.logger.Error("Storage operation ran out of healthy providers",
				"operation", op,
				"attempts", attempt,
				"last_provider", last.provider,
				"error", last.err,
			)
			return zero, &OperationError{Op: op, Attempts: attempt, Err: fmt.Errorf("%w (last error: %w)", ErrNoHealthyProviders, last.err)}
		}

		attemptCtx, release := m.attemptContext(ctx)
		start := time.Now()
		value, err := fn(attemptCtx, p, release)
		last = operationResult[T]{
			success:  err == nil,
			value:    value,
			err:      err,
			provider: p.Name(),
			duration: time.Since(start),
		}
		metrics.RecordStorageOperation(op, last.provider, last.success, last.duration)

		if last.success {
			m.logger.Debug("Storage operation succeeded",
				"operation", op,
				"provider", last.provider,
				"attempt", attempt+1,
				"duration_ms", last.duration.Milliseconds(),
			)
			return last.value, nil
		}

		if IsCallerError(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, &OperationError{Op: op, Attempts: attempt + 1, Err: err}
		}

		m.registry.MarkUnhealthy(last.provider, last.duration, err)
		metrics.RecordProviderHealth(last.provider, false)
		m.logger.Warn("Storage operation failed",
			"operation", op,
			"provider", last.provider,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"duration_ms", last.duration.Milliseconds(),
			"error", err,
		)

		if attempt+1 < attempts {
			metrics.Failovers.WithLabelValues(op, last.provider).Inc()
			if err := sleep(ctx, m.retry.backoff(attempt)); err != nil {
				return zero, &OperationError{Op: op, Attempts: attempt + 1, Err: errors.Join(last.err, err)}
			}
		}
	}

	metrics.ExhaustedOperations.WithLabelValues(op).Inc()
	m.logger.Error("Storage operation failed on all attempts",
		"operation", op,
		"attempts", attempts,
		"last_provider", last.provider,
		"error", last.err,
	)
	return zero, &OperationError{Op: op, Attempts: attempts, Err: last.err}
}

func (m *Manager) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) providerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers)
}

func (m *Manager) snapshot() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, len(m.providers))
	for i, rp := range m.providers {
		out[i] = rp.provider
	}
	return out
}

// healthyProviders returns the providers currently marked healthy, in
// priority order.
func (m *Manager) healthyProviders() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Provider
	for _, rp := range m.providers {
		if m.registry.IsHealthy(rp.provider.Name()) {
			out = append(out, rp.provider)
		}
	}
	return out
}

// replayable returns a function yielding the upload body for each attempt.
func (m *Manager) replayable(data io.Reader) (func() (io.Reader, error), error) {
	if rs, ok := data.(io.ReadSeeker); ok {
		start, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read source position: %v", ErrInvalidPayload, err)
		}
		return func() (io.Reader, error) {
			if _, err := rs.Seek(start, io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: failed to rewind source: %v", ErrInvalidPayload, err)
			}
			return rs, nil
		}, nil
	}

	if m.retry.budget(m.providerCount()) == 1 {
		used := false
		return func() (io.Reader, error) {
			if used {
				return nil, fmt.Errorf("%w: source already consumed", ErrInvalidPayload)
			}
			used = true
			return data, nil
		}, nil
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read source: %v", ErrInvalidPayload, err)
	}
	return func() (io.Reader, error) {
		return bytes.NewReader(buf), nil
	}, nil
}

func validatePair(sourceKey, destinationKey string) error {
	if err := ValidateKey(sourceKey); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := ValidateKey(destinationKey); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if sourceKey == destinationKey {
		return fmt.Errorf("%w: source and destination are the same", ErrAlreadyExists)
	}
	return nil
}

// checkTransfer enforces the copy and move preconditions on p.
func checkTransfer(ctx context.Context, p Provider, sourceKey, destinationKey string) error {
	ok, err := p.Exists(ctx, sourceKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sourceKey)
	}

	taken, err := p.Exists(ctx, destinationKey)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, destinationKey)
	}
	return nil
}

func attribute(meta *ObjectMetadata, p Provider) *ObjectMetadata {
	if meta != nil {
		meta.Provider = p.Name()
	}
	return meta
}

// releasingReader cancels the attempt context when the stream is closed.
type releasingReader struct {
	io.ReadCloser
	release context.CancelFunc
	once    sync.Once
}

func (r *releasingReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)
	return err
}
