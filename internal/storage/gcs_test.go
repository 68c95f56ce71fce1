package storage

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"

	"github.com/imedwei/railway-object-storage/internal/health"
)

func TestGCSStorage_getFullKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{
			name:   "no prefix",
			prefix: "",
			key:    "photo.jpg",
			want:   "photo.jpg",
		},
		{
			name:   "with prefix",
			prefix: "uploads/images",
			key:    "photo.jpg",
			want:   "uploads/images/photo.jpg",
		},
		{
			name:   "prefix with trailing slash",
			prefix: "uploads/",
			key:    "photo.jpg",
			want:   "uploads/photo.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &GCSStorage{
				prefix: tt.prefix,
			}
			if got := g.getFullKey(tt.key); got != tt.want {
				t.Errorf("getFullKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGCSStorage_stripPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{
			name:   "no prefix",
			prefix: "",
			key:    "photo.jpg",
			want:   "photo.jpg",
		},
		{
			name:   "with prefix",
			prefix: "uploads",
			key:    "uploads/photo.jpg",
			want:   "photo.jpg",
		},
		{
			name:   "key shorter than prefix",
			prefix: "uploads",
			key:    "up",
			want:   "up",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &GCSStorage{
				prefix: tt.prefix,
			}
			if got := g.stripPrefix(tt.key); got != tt.want {
				t.Errorf("stripPrefix() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateServiceAccountJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{
			name:    "valid service account",
			json:    `{"type": "service_account", "project_id": "test"}`,
			wantErr: false,
		},
		{
			name:    "invalid type",
			json:    `{"type": "user", "project_id": "test"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			json:    `{invalid json}`,
			wantErr: true,
		},
		{
			name:    "empty json",
			json:    `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceAccountJSON(tt.json)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceAccountJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGCSStorage_GetPublicURL(t *testing.T) {
	g := NewGCSStorage(GCSConfig{Bucket: "media", Prefix: "/files/"}, nil)
	if got := g.GetPublicURL("a/b c.png"); got != "https://storage.googleapis.com/media/files/a/b%20c.png" {
		t.Errorf("GetPublicURL() = %v", got)
	}
	if g.Name() != "gcs" {
		t.Errorf("Name() = %v, want gcs", g.Name())
	}
}

func TestGCSStorage_classify(t *testing.T) {
	g := &GCSStorage{name: "gcs"}

	if err := g.classify("metadata", "k", storage.ErrObjectNotExist); !errors.Is(err, ErrNotFound) {
		t.Errorf("classify() = %v, want ErrNotFound", err)
	}

	var be *BackendError
	if err := g.classify("metadata", "k", errors.New("quota")); !errors.As(err, &be) {
		t.Errorf("classify() = %v, want *BackendError", err)
	}
}

func TestGCSStorage_HealthCheckWithoutClient(t *testing.T) {
	g := NewGCSStorage(GCSConfig{Name: "gcs-eu", Bucket: "media"}, nil)
	status := g.HealthCheck(context.Background())
	if status.Status != health.StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", status.Status)
	}
	if status.Provider != "gcs-eu" {
		t.Errorf("Provider = %v, want gcs-eu", status.Provider)
	}
	if err := g.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup() unexpected error: %v", err)
	}
}
