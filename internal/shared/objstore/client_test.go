package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/config"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MinIOConfig
		wantErr bool
	}{
		{"缺少 endpoint", config.MinIOConfig{AccessKey: "a", SecretKey: "b"}, true},
		{"缺少凭据", config.MinIOConfig{Endpoint: "localhost:9000"}, true},
		{"完整配置", config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "r"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "r", c.Bucket())
		})
	}
}

func TestNewClient_DefaultBucket(t *testing.T) {
	c, err := NewClient(config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "rematch-reports", c.Bucket())
}

func TestReportKey(t *testing.T) {
	assert.Equal(t, "reports/task-42.json", ReportKey(42))
}
