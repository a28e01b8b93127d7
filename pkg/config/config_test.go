package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    func(t *testing.T, cfg config.Config)
		wantErr string
	}{
		{
			name: "happy path",
			content: `num_workers: 4
http_timeout: 10s
aux_source: api
nvd_api_key: secret
`,
			want: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 4, cfg.NumWorkers)
				assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
				assert.Equal(t, config.AuxSourceAPI, cfg.AuxSource)
				assert.Equal(t, "secret", cfg.NVDAPIKey)
				// defaults survive a partial file
				assert.Equal(t, 7, cfg.FIPSYearDifferenceThreshold)
			},
		},
		{
			name:    "unknown key",
			content: "no_such_option: true\n",
			wantErr: "config decode error",
		},
		{
			name:    "bad workers",
			content: "num_workers: 0\n",
			wantErr: "num_workers must be positive",
		},
		{
			name:    "bad aux source",
			content: "aux_source: ftp\n",
			wantErr: "aux_source must be",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}
