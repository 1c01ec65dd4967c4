package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSetting(t *testing.T) {
	tests := []struct {
		configType, key, value string
		wantErr                bool
	}{
		{"monitor", "workers", "4", false},
		{"monitor", "workers", "four", true},
		{"monitor", "interval", "10m", false},
		{"monitor", "timeout", "soon", true},
		{"monitor", "failure_streak", "5", false},
		{"monitor", "failure_streak", "often", true},
		{"notifier", "enabled", "TRUE", false},
		{"notifier", "enabled", "yes", true},
		{"notifier", "max_length", "-5", true},
		{"output", "format", "kafka_async", false},
		{"output", "format", "csv", true},
		{"output", "kafka_brokers", `["localhost:9092"]`, false},
		{"output", "kafka_brokers", "localhost:9092", true},
		{"output", "password", "x", true},
		{"secrets", "key", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.configType+"."+tt.key+"="+tt.value, func(t *testing.T) {
			err := ValidateSetting(tt.configType, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingKeys(t *testing.T) {
	keys, ok := SettingKeys("notifier")
	assert.True(t, ok)
	assert.Equal(t, []string{"enabled", "max_length"}, keys)

	_, ok = SettingKeys("unknown")
	assert.False(t, ok)
}
