package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/os32c/internal/os32c"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestHostConfigDefaults(t *testing.T) {
	cfg := &HostConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "192.168.1.1", cfg.GetHost())
	assert.Equal(t, "laser", cfg.GetFrameID())
	assert.Equal(t, os32c.AngleMax, cfg.GetStartAngle())
	assert.Equal(t, os32c.AngleMin, cfg.GetEndAngle())
	assert.Equal(t, os32c.RangeTimeOfFlight4ps, cfg.GetRangeFormat())
	assert.Equal(t, os32c.ReflectivityTOTEncoded, cfg.GetReflectivityFormat())
	assert.Equal(t, ModePoll, cfg.GetMode())
	assert.Equal(t, time.Second, cfg.GetKeepaliveInterval())
	assert.Equal(t, 2*time.Second, cfg.GetIOTimeout())
	assert.Equal(t, 2222, cfg.GetIOPort())
	assert.Equal(t, 5*time.Second, cfg.GetReconnectDelay())
	assert.Equal(t, ":8082", cfg.GetListen())
	assert.Equal(t, ":50052", cfg.GetGRPCListen())
	assert.Equal(t, "", cfg.GetForwardAddr())
	assert.Equal(t, "os32c_sessions.db", cfg.GetDBPath())
	assert.Equal(t, 10*time.Second, cfg.GetStatsInterval())
	assert.Equal(t, "", cfg.GetLogFile())
	assert.Equal(t, 50, cfg.GetLogMaxSizeMB())
	assert.Equal(t, 5, cfg.GetLogMaxBackups())
	assert.Equal(t, 28, cfg.GetLogMaxAgeDays())
}

func TestLoadHostConfigJSON(t *testing.T) {
	path := writeConfig(t, "os32c.json", `{
  "host": "10.0.0.20",
  "frame_id": "front_laser",
  "start_angle": 1.5,
  "end_angle": -1.5,
  "range_format": "50m",
  "reflectivity_format": "2",
  "mode": "stream",
  "keepalive_interval": "250ms",
  "io_port": 2223
}`)
	cfg, err := LoadHostConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.20", cfg.GetHost())
	assert.Equal(t, "front_laser", cfg.GetFrameID())
	assert.Equal(t, 1.5, cfg.GetStartAngle())
	assert.Equal(t, -1.5, cfg.GetEndAngle())
	assert.Equal(t, os32c.Range50m, cfg.GetRangeFormat())
	assert.Equal(t, os32c.ReflectivityTOT4ps, cfg.GetReflectivityFormat())
	assert.Equal(t, ModeStream, cfg.GetMode())
	assert.Equal(t, 250*time.Millisecond, cfg.GetKeepaliveInterval())
	assert.Equal(t, 2223, cfg.GetIOPort())
	// unset fields keep their defaults
	assert.Equal(t, 2*time.Second, cfg.GetIOTimeout())
}

func TestLoadHostConfigYAML(t *testing.T) {
	path := writeConfig(t, "os32c.yaml", `
host: 192.168.250.1
mode: poll
range_format: tof_4ps
stats_interval: 30s
log_file: /var/log/os32c.log
log_max_backups: 3
`)
	cfg, err := LoadHostConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.250.1", cfg.GetHost())
	assert.Equal(t, os32c.RangeTimeOfFlight4ps, cfg.GetRangeFormat())
	assert.Equal(t, 30*time.Second, cfg.GetStatsInterval())
	assert.Equal(t, "/var/log/os32c.log", cfg.GetLogFile())
	assert.Equal(t, 3, cfg.GetLogMaxBackups())
}

func TestLoadHostConfigErrors(t *testing.T) {
	tests := []struct {
		name, file, body, want string
	}{
		{"extension", "os32c.toml", `host = "x"`, "extension"},
		{"bad json", "os32c.json", `{"host":`, "failed to parse"},
		{"bad yaml", "os32c.yml", "host: [", "failed to parse"},
		{"mode", "os32c.json", `{"mode":"burst"}`, "mode must be"},
		{"range format", "os32c.json", `{"range_format":"9"}`, "unknown range format"},
		{"reflectivity format", "os32c.json", `{"reflectivity_format":"bright"}`, "unknown reflectivity format"},
		{"angles", "os32c.json", `{"start_angle":0.5,"end_angle":0.5}`, "validation error"},
		{"start beyond max", "os32c.json", `{"start_angle":2.5}`, "validation error"},
		{"duration", "os32c.json", `{"io_timeout":"soon"}`, "invalid io_timeout"},
		{"negative duration", "os32c.json", `{"keepalive_interval":"-1s"}`, "must be non-negative"},
		{"port", "os32c.json", `{"io_port":70000}`, "io_port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHostConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadHostConfigTooLarge(t *testing.T) {
	body := `{"host":"` + strings.Repeat("a", maxFileSize) + `"}`
	_, err := LoadHostConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadHostConfigMissing(t *testing.T) {
	_, err := LoadHostConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}
