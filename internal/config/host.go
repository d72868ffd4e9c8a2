// Package config loads the host process configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/os32c/internal/os32c"
)

// Acquisition modes.
const (
	ModePoll   = "poll"
	ModeStream = "stream"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// HostConfig is the host process configuration. Every field is optional; the
// Get* methods return the default for fields that are not set, so partial
// files are safe.
type HostConfig struct {
	// Scanner
	Host               *string  `json:"host,omitempty" yaml:"host,omitempty"`
	FrameID            *string  `json:"frame_id,omitempty" yaml:"frame_id,omitempty"`
	StartAngle         *float64 `json:"start_angle,omitempty" yaml:"start_angle,omitempty"` // rad
	EndAngle           *float64 `json:"end_angle,omitempty" yaml:"end_angle,omitempty"`     // rad
	RangeFormat        *string  `json:"range_format,omitempty" yaml:"range_format,omitempty"`
	ReflectivityFormat *string  `json:"reflectivity_format,omitempty" yaml:"reflectivity_format,omitempty"`

	// Acquisition
	Mode              *string `json:"mode,omitempty" yaml:"mode,omitempty"`
	KeepaliveInterval *string `json:"keepalive_interval,omitempty" yaml:"keepalive_interval,omitempty"` // duration string like "1s"
	IOTimeout         *string `json:"io_timeout,omitempty" yaml:"io_timeout,omitempty"`
	IOPort            *int    `json:"io_port,omitempty" yaml:"io_port,omitempty"`
	ReconnectDelay    *string `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"`

	// Serving
	Listen        *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen    *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	ForwardAddr   *string `json:"forward_addr,omitempty" yaml:"forward_addr,omitempty"`
	DBPath        *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"`

	// Logging
	LogFile       *string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogMaxSizeMB  *int    `json:"log_max_size_mb,omitempty" yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups *int    `json:"log_max_backups,omitempty" yaml:"log_max_backups,omitempty"`
	LogMaxAgeDays *int    `json:"log_max_age_days,omitempty" yaml:"log_max_age_days,omitempty"`
}

// LoadHostConfig loads a HostConfig from a .json, .yaml or .yml file of at
// most 1MB and validates it.
func LoadHostConfig(path string) (*HostConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &HostConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *HostConfig) Validate() error {
	if c.RangeFormat != nil {
		if _, err := os32c.ParseRangeFormat(*c.RangeFormat); err != nil {
			return err
		}
	}
	if c.ReflectivityFormat != nil {
		if _, err := os32c.ParseReflectivityFormat(*c.ReflectivityFormat); err != nil {
			return err
		}
	}
	if c.StartAngle != nil || c.EndAngle != nil {
		if _, err := os32c.CalcBeamMask(c.GetStartAngle(), c.GetEndAngle()); err != nil {
			return err
		}
	}
	if m := c.GetMode(); m != ModePoll && m != ModeStream {
		return fmt.Errorf("mode must be %q or %q, got %q", ModePoll, ModeStream, m)
	}
	for name, d := range map[string]*string{
		"keepalive_interval": c.KeepaliveInterval,
		"io_timeout":         c.IOTimeout,
		"reconnect_delay":    c.ReconnectDelay,
		"stats_interval":     c.StatsInterval,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, v)
		}
	}
	if c.IOPort != nil && (*c.IOPort <= 0 || *c.IOPort > 65535) {
		return fmt.Errorf("io_port must be between 1 and 65535, got %d", *c.IOPort)
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetHost returns the scanner address, default 192.168.1.1.
func (c *HostConfig) GetHost() string { return getString(c.Host, "192.168.1.1") }

// GetFrameID returns the frame id stamped on published scans, default "laser".
func (c *HostConfig) GetFrameID() string { return getString(c.FrameID, "laser") }

// GetStartAngle returns the counter-clockwise end of the scan, default the
// widest angle.
func (c *HostConfig) GetStartAngle() float64 {
	if c.StartAngle == nil {
		return os32c.AngleMax
	}
	return *c.StartAngle
}

// GetEndAngle returns the clockwise end of the scan.
func (c *HostConfig) GetEndAngle() float64 {
	if c.EndAngle == nil {
		return os32c.AngleMin
	}
	return *c.EndAngle
}

// GetRangeFormat returns the range report format, default time of flight.
func (c *HostConfig) GetRangeFormat() os32c.RangeFormat {
	if c.RangeFormat == nil {
		return os32c.RangeTimeOfFlight4ps
	}
	f, err := os32c.ParseRangeFormat(*c.RangeFormat)
	if err != nil {
		return os32c.RangeTimeOfFlight4ps
	}
	return f
}

// GetReflectivityFormat returns the reflectivity format, default TOT encoded.
func (c *HostConfig) GetReflectivityFormat() os32c.ReflectivityFormat {
	if c.ReflectivityFormat == nil {
		return os32c.ReflectivityTOTEncoded
	}
	f, err := os32c.ParseReflectivityFormat(*c.ReflectivityFormat)
	if err != nil {
		return os32c.ReflectivityTOTEncoded
	}
	return f
}

// GetMode returns the acquisition mode, default poll.
func (c *HostConfig) GetMode() string { return getString(c.Mode, ModePoll) }

// GetKeepaliveInterval returns the streaming keepalive period, default 1s.
func (c *HostConfig) GetKeepaliveInterval() time.Duration {
	return getDuration(c.KeepaliveInterval, time.Second)
}

// GetIOTimeout returns the per-exchange timeout, default 2s.
func (c *HostConfig) GetIOTimeout() time.Duration { return getDuration(c.IOTimeout, 2*time.Second) }

// GetIOPort returns the connected I/O UDP port, default 2222.
func (c *HostConfig) GetIOPort() int { return getInt(c.IOPort, 2222) }

// GetReconnectDelay returns the wait before reopening a failed session,
// default 5s.
func (c *HostConfig) GetReconnectDelay() time.Duration {
	return getDuration(c.ReconnectDelay, 5*time.Second)
}

// GetListen returns the HTTP debug listen address, default ":8082".
func (c *HostConfig) GetListen() string { return getString(c.Listen, ":8082") }

// GetGRPCListen returns the gRPC health listen address, default ":50052".
func (c *HostConfig) GetGRPCListen() string { return getString(c.GRPCListen, ":50052") }

// GetForwardAddr returns the UDP scan forwarding target; empty disables it.
func (c *HostConfig) GetForwardAddr() string { return getString(c.ForwardAddr, "") }

// GetDBPath returns the session journal path, default "os32c_sessions.db".
func (c *HostConfig) GetDBPath() string { return getString(c.DBPath, "os32c_sessions.db") }

// GetStatsInterval returns the scan statistics log period, default 10s.
func (c *HostConfig) GetStatsInterval() time.Duration {
	return getDuration(c.StatsInterval, 10*time.Second)
}

// GetLogFile returns the rotating log file path; empty logs to stderr only.
func (c *HostConfig) GetLogFile() string { return getString(c.LogFile, "") }

// GetLogMaxSizeMB returns the log rotation size, default 50.
func (c *HostConfig) GetLogMaxSizeMB() int { return getInt(c.LogMaxSizeMB, 50) }

// GetLogMaxBackups returns the number of rotated files to keep, default 5.
func (c *HostConfig) GetLogMaxBackups() int { return getInt(c.LogMaxBackups, 5) }

// GetLogMaxAgeDays returns the rotated file retention, default 28.
func (c *HostConfig) GetLogMaxAgeDays() int { return getInt(c.LogMaxAgeDays, 28) }
