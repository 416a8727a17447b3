package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPostgresConfig(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{"valid url", "postgres://localhost:5432/osprey", false},
		{"missing url", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POSTGRES_URL", tt.url)
			cfg, err := GetPostgresConfig()
			if tt.expectErr {
				require.Error(t, err)
				require.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.url, cfg.URL)
			}
		})
	}
}

func TestGetSandboxConfig(t *testing.T) {
	tests := []struct {
		name      string
		cpu       string
		mem       string
		out       string
		timeout   string
		expectErr bool
	}{
		{"all set", "50000", "268435456", "10485760", "60000", false},
		{"cpu not numeric", "abc", "268435456", "10485760", "60000", true},
		{"missing timeout", "50000", "268435456", "10485760", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SANDBOX_CPU_QUOTA", tt.cpu)
			t.Setenv("SANDBOX_MEMORY_LIMIT", tt.mem)
			t.Setenv("SANDBOX_MAX_OUTPUT", tt.out)
			t.Setenv("SANDBOX_DEFAULT_TIMEOUT_MS", tt.timeout)
			cfg, err := GetSandboxConfig()
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, int64(50000), cfg.CPU_QUOTA)
			require.Equal(t, int64(268435456), cfg.MEMORY_LIMIT_BYTES)
			require.Equal(t, int64(10485760), cfg.MAX_OUTPUT_BYTES)
			require.Equal(t, 60000, cfg.DEFAULT_TIMEOUT_MS)
		})
	}
}

func TestGetWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		size      string
		expectErr bool
	}{
		{"valid size", "8", false},
		{"zero size", "0", true},
		{"not numeric", "many", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WORKER_POOL_SIZE", tt.size)
			cfg, err := GetWorkerConfig()
			if tt.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, 8, cfg.POOL_SIZE)
			}
		})
	}
}

func TestGetMinioConfig(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_RESULTS_BUCKET", "results")
	t.Setenv("MINIO_USE_SSL", "false")
	t.Setenv("MINIO_ACCESS_KEY", "minio")
	t.Setenv("MINIO_SECRET_KEY", "minio123")

	cfg, err := GetMinioConfig()
	require.NoError(t, err)
	require.Equal(t, "results", cfg.RESULTS_BUCKET)
	require.False(t, cfg.USE_SSL)

	t.Setenv("MINIO_USE_SSL", "yes")
	_, err = GetMinioConfig()
	require.Error(t, err)
}
