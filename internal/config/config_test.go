package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"STORAGE_CONFIG_FILE",
	"STORAGE_PROVIDERS",
	"STORAGE_STRATEGY",
	"HEALTH_CHECK_INTERVAL_MS",
	"FAILOVER_TIMEOUT_MS",
	"LOCAL_BASE_PATH",
	"LOCAL_PRIORITY",
	"LOCAL_ENABLED",
	"S3_BUCKET",
	"S3_REGION",
	"S3_ENDPOINT",
	"S3_PRIORITY",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"GCS_BUCKET",
	"GOOGLE_PROJECT_ID",
	"METRICS_PORT",
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "single local provider",
			env: map[string]string{
				"STORAGE_PROVIDERS": "local",
				"LOCAL_BASE_PATH":   "/var/lib/objects",
			},
			wantErr: false,
		},
		{
			name: "local and s3 with round robin",
			env: map[string]string{
				"STORAGE_PROVIDERS":     "local,s3",
				"STORAGE_STRATEGY":      "round_robin",
				"LOCAL_BASE_PATH":       "/var/lib/objects",
				"S3_BUCKET":             "test-bucket",
				"S3_REGION":             "us-east-1",
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
			},
			wantErr: false,
		},
		{
			name:    "missing STORAGE_PROVIDERS",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "invalid strategy",
			env: map[string]string{
				"STORAGE_PROVIDERS": "local",
				"STORAGE_STRATEGY":  "random",
			},
			wantErr: true,
		},
		{
			name: "zero health check interval",
			env: map[string]string{
				"STORAGE_PROVIDERS":        "local",
				"HEALTH_CHECK_INTERVAL_MS": "0",
			},
			wantErr: true,
		},
		{
			name: "duplicate provider names",
			env: map[string]string{
				"STORAGE_PROVIDERS": "local,local",
			},
			wantErr: true,
		},
		{
			name: "incomplete provider is not a load error",
			env: map[string]string{
				"STORAGE_PROVIDERS": "local,s3",
				"LOCAL_BASE_PATH":   "/var/lib/objects",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range envKeys {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && cfg == nil {
				t.Errorf("Load() returned nil config without error")
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Setenv("STORAGE_PROVIDERS", "local, s3")
	t.Setenv("LOCAL_BASE_PATH", "/data")
	t.Setenv("S3_BUCKET", "bucket")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("S3_PRIORITY", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Strategy != StrategyFailover {
		t.Errorf("Strategy = %v, want %v", cfg.Strategy, StrategyFailover)
	}
	if cfg.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 30s", cfg.HealthCheckInterval)
	}
	if cfg.FailoverTimeout != 10*time.Second {
		t.Errorf("FailoverTimeout = %v, want 10s", cfg.FailoverTimeout)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(cfg.Providers))
	}

	local := cfg.Providers[0]
	if local.Name != "local" || local.Priority != 1 || !local.Enabled {
		t.Errorf("unexpected local provider: %+v", local)
	}
	if local.Setting("base_path") != "/data" {
		t.Errorf("base_path = %q, want /data", local.Setting("base_path"))
	}

	s3 := cfg.Providers[1]
	if s3.Priority != 7 {
		t.Errorf("s3 priority = %d, want 7", s3.Priority)
	}
	if s3.Setting("region") != "eu-west-1" {
		t.Errorf("s3 region = %q, want eu-west-1", s3.Setting("region"))
	}
}

func TestLoad_FromFile(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}

	doc := `
strategy: primary
health_check_interval_ms: 5000
failover_timeout_ms: 2500
providers:
  - name: disk
    type: local
    enabled: true
    priority: 2
    config:
      base_path: /srv/objects
  - name: s3-archive
    type: s3
    enabled: false
    priority: 1
    config:
      bucket: archive
      region: us-east-1
`
	path := filepath.Join(t.TempDir(), "storage.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORAGE_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Strategy != StrategyPrimary {
		t.Errorf("Strategy = %v, want primary", cfg.Strategy)
	}
	if cfg.HealthCheckInterval != 5*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 5s", cfg.HealthCheckInterval)
	}
	if cfg.FailoverTimeout != 2500*time.Millisecond {
		t.Errorf("FailoverTimeout = %v, want 2.5s", cfg.FailoverTimeout)
	}

	enabled := cfg.EnabledProviders()
	if len(enabled) != 1 || enabled[0].Name != "disk" {
		t.Fatalf("EnabledProviders() = %+v, want only disk", enabled)
	}
	if enabled[0].BackendType() != TypeLocal {
		t.Errorf("BackendType() = %v, want local", enabled[0].BackendType())
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("strategy: primary\nbogus: 1\nproviders:\n  - name: local\n"))
	if err == nil {
		t.Error("Parse() expected error for unknown field")
	}
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ProviderConfig
		wantErr bool
	}{
		{
			name:    "valid local",
			config:  ProviderConfig{Name: "local", Settings: map[string]string{"base_path": "/data"}},
			wantErr: false,
		},
		{
			name:    "local missing base path",
			config:  ProviderConfig{Name: "local"},
			wantErr: true,
		},
		{
			name: "valid s3",
			config: ProviderConfig{Name: "s3", Settings: map[string]string{
				"bucket": "b", "region": "us-east-1",
			}},
			wantErr: false,
		},
		{
			name: "s3 with endpoint only",
			config: ProviderConfig{Name: "minio", Type: "s3", Settings: map[string]string{
				"bucket": "b", "endpoint": "http://localhost:9000",
			}},
			wantErr: false,
		},
		{
			name: "s3 with half credentials",
			config: ProviderConfig{Name: "s3", Settings: map[string]string{
				"bucket": "b", "region": "us-east-1", "access_key_id": "key",
			}},
			wantErr: true,
		},
		{
			name:    "s3 missing bucket",
			config:  ProviderConfig{Name: "s3", Settings: map[string]string{"region": "us-east-1"}},
			wantErr: true,
		},
		{
			name: "valid gcs",
			config: ProviderConfig{Name: "gcs", Settings: map[string]string{
				"bucket": "b", "project_id": "p",
			}},
			wantErr: false,
		},
		{
			name:    "gcs missing project",
			config:  ProviderConfig{Name: "gcs", Settings: map[string]string{"bucket": "b"}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			config:  ProviderConfig{Name: "azure"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")

	if got := getEnvInt("TEST_INT", 10); got != 42 {
		t.Errorf("getEnvInt() = %v, want %v", got, 42)
	}

	if got := getEnvInt("TEST_INT_MISSING", 10); got != 10 {
		t.Errorf("getEnvInt() with missing key = %v, want %v", got, 10)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")

	if got := getEnvBool("TEST_BOOL", true); got != false {
		t.Errorf("getEnvBool() = %v, want %v", got, false)
	}

	if got := getEnvBool("TEST_BOOL_MISSING", true); got != true {
		t.Errorf("getEnvBool() with missing key = %v, want %v", got, true)
	}
}

func TestGetEnvMillis(t *testing.T) {
	t.Setenv("TEST_MS", "1500")

	if got := getEnvMillis("TEST_MS", time.Second); got != 1500*time.Millisecond {
		t.Errorf("getEnvMillis() = %v, want 1.5s", got)
	}
	if got := getEnvMillis("TEST_MS_MISSING", time.Second); got != time.Second {
		t.Errorf("getEnvMillis() with missing key = %v, want 1s", got)
	}
}
