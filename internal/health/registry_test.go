package health

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UnknownProviderIsHealthy(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsHealthy("never-seen"))

	_, ok := r.Get("never-seen")
	assert.False(t, ok)
}

func TestRegistry_RegisterDoesNotOverwrite(t *testing.T) {
	r := NewRegistry()
	r.MarkUnhealthy("s3", time.Second, errors.New("timeout"))
	r.Register("s3")

	assert.False(t, r.IsHealthy("s3"))
}

func TestRegistry_MarkUnhealthyReplacesEntry(t *testing.T) {
	r := NewRegistry()
	r.Set(ProviderStatus{
		Provider:     "local",
		Status:       StatusHealthy,
		ResponseTime: 5 * time.Millisecond,
		LastChecked:  time.Now(),
		Error:        "stale",
	})

	r.MarkUnhealthy("local", 40*time.Millisecond, errors.New("disk full"))

	status, ok := r.Get("local")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "disk full", status.Error)
	assert.Equal(t, int64(40), status.ResponseTimeMs())
	assert.False(t, r.IsHealthy("local"))

	r.Set(ProviderStatus{Provider: "local", Status: StatusHealthy})
	status, _ = r.Get("local")
	assert.Empty(t, status.Error, "a full replace must not keep the previous error")
	assert.True(t, r.IsHealthy("local"))
}

func TestRegistry_SnapshotAndClear(t *testing.T) {
	r := NewRegistry()
	r.Register("s3")
	r.Register("gcs")
	r.Register("local")

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "gcs", snap[0].Provider)
	assert.Equal(t, "local", snap[1].Provider)
	assert.Equal(t, "s3", snap[2].Provider)

	r.Clear()
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_ConcurrentWriters(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		name := fmt.Sprintf("p%d", i%5)
		go func() {
			defer wg.Done()
			r.MarkUnhealthy(name, 0, errors.New("boom"))
		}()
		go func() {
			defer wg.Done()
			r.Set(ProviderStatus{Provider: name, Status: StatusHealthy})
			_ = r.IsHealthy(name)
		}()
	}
	wg.Wait()

	assert.Len(t, r.Snapshot(), 5)
}
