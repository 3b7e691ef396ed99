// Package config provides configuration management for rescale-sftp.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/rescale-sftp/internal/constants"
)

// Config is the engine configuration.
//
// Config file location:
//   - Windows: %APPDATA%\Rescale\SFTP\sftp.conf
//   - Unix: ~/.config/rescale/sftp.conf
//
// INI format:
//
//	[connection]
//	connect_timeout_seconds = 15
//	channels = 1
//	known_hosts = ~/.ssh/known_hosts
//	insecure_ignore_host_key = false
//	proxy_url =
//	keepalive_seconds = 30
//
//	[transfer]
//	chunk_size_kib = 32
//	progress_interval_ms = 100
//	stall_timeout_seconds = 30
//	atomic_downloads = false
//	check_disk_space = true
//	bandwidth_limit_kib = 0
//
//	[logging]
//	level = info
type Config struct {
	Connection ConnectionConfig
	Transfer   TransferConfig
	Logging    LoggingConfig
}

// ConnectionConfig contains SSH connection settings.
type ConnectionConfig struct {
	// ConnectTimeoutSeconds bounds dial, handshake and SFTP subsystem startup.
	// Minimum: 1, Maximum: 300, Default: 15
	ConnectTimeoutSeconds int `ini:"connect_timeout_seconds"`

	// Channels is the number of SFTP sub-channels opened per connection.
	// Minimum: 1, Maximum: 10, Default: 1
	Channels int `ini:"channels"`

	// KnownHosts is the OpenSSH known_hosts file used to verify host keys.
	// A leading ~ is expanded to the home directory.
	// Default: ~/.ssh/known_hosts
	KnownHosts string `ini:"known_hosts"`

	// InsecureIgnoreHostKey disables host key verification.
	// Default: false
	InsecureIgnoreHostKey bool `ini:"insecure_ignore_host_key"`

	// ProxyURL routes connections through a proxy, e.g. socks5://127.0.0.1:1080.
	// Default: empty (direct)
	ProxyURL string `ini:"proxy_url"`

	// KeepAliveSeconds is the SSH keepalive interval; 0 disables keepalives.
	// Minimum: 0, Maximum: 3600, Default: 30
	KeepAliveSeconds int `ini:"keepalive_seconds"`
}

// TransferConfig contains transfer coordinator settings.
type TransferConfig struct {
	// ChunkSizeKiB is the number of KiB moved per protocol turn.
	// Minimum: 4, Maximum: 1024, Default: 32
	ChunkSizeKiB int `ini:"chunk_size_kib"`

	// ProgressIntervalMs is the minimum gap between progress events of one transfer.
	// Minimum: 10, Maximum: 10000, Default: 100
	ProgressIntervalMs int `ini:"progress_interval_ms"`

	// StallTimeoutSeconds fails a transfer whose protocol turn makes no progress.
	// Minimum: 1, Maximum: 3600, Default: 30
	StallTimeoutSeconds int `ini:"stall_timeout_seconds"`

	// AtomicDownloads writes downloads to a temporary file renamed on completion.
	// Default: false (partial files are left in place)
	AtomicDownloads bool `ini:"atomic_downloads"`

	// CheckDiskSpace refuses downloads that do not fit on the local disk.
	// Default: true
	CheckDiskSpace bool `ini:"check_disk_space"`

	// BandwidthLimitKiB caps the combined transfer rate in KiB/s; 0 is unlimited.
	// Minimum: 0, Default: 0
	BandwidthLimitKiB int `ini:"bandwidth_limit_kib"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `ini:"level"`
}

// Config validation errors
var (
	ErrInvalidConnectTimeout = errors.New("connect_timeout_seconds must be between 1 and 300")
	ErrInvalidChannels       = fmt.Errorf("channels must be between 1 and %d", constants.MaxChannels)
	ErrMissingHostKeyPolicy  = errors.New("known_hosts is required unless insecure_ignore_host_key is set")
	ErrInvalidProxyURL       = errors.New("proxy_url must be a URL such as socks5://host:port")
	ErrInvalidKeepAlive      = errors.New("keepalive_seconds must be between 0 and 3600")
	ErrInvalidChunkSize      = errors.New("chunk_size_kib must be between 4 and 1024")
	ErrInvalidProgressGap    = errors.New("progress_interval_ms must be between 10 and 10000")
	ErrInvalidStallTimeout   = errors.New("stall_timeout_seconds must be between 1 and 3600")
	ErrInvalidBandwidthLimit = errors.New("bandwidth_limit_kib must not be negative")
	ErrInvalidLogLevel       = errors.New("level must be one of debug, info, warn, error")
)

// ConfigDirectory returns the directory holding the config file.
//   - Windows: %APPDATA%\Rescale\SFTP
//   - Unix: ~/.config/rescale
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Rescale", "SFTP"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rescale"), nil
}

// DefaultConfigPath returns the default path for the sftp.conf file.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sftp.conf"), nil
}

// DefaultKnownHostsPath returns the OpenSSH known_hosts location in ~ notation.
func DefaultKnownHostsPath() string {
	return filepath.Join("~", ".ssh", "known_hosts")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			ConnectTimeoutSeconds: int(constants.DefaultConnectTimeout / time.Second),
			Channels:              constants.DefaultChannels,
			KnownHosts:            DefaultKnownHostsPath(),
			InsecureIgnoreHostKey: false,
			KeepAliveSeconds:      int(constants.DefaultKeepAliveInterval / time.Second),
		},
		Transfer: TransferConfig{
			ChunkSizeKiB:        constants.DefaultChunkSize / 1024,
			ProgressIntervalMs:  int(constants.ProgressUpdateInterval / time.Millisecond),
			StallTimeoutSeconds: int(constants.DefaultStallTimeout / time.Second),
			AtomicDownloads:     false,
			CheckDiskSpace:      true,
			BandwidthLimitKiB:   0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the sftp.conf file.
// If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	d := NewConfig()

	conn := iniFile.Section("connection")
	cfg.Connection.ConnectTimeoutSeconds = conn.Key("connect_timeout_seconds").MustInt(d.Connection.ConnectTimeoutSeconds)
	cfg.Connection.Channels = conn.Key("channels").MustInt(d.Connection.Channels)
	cfg.Connection.KnownHosts = conn.Key("known_hosts").MustString(d.Connection.KnownHosts)
	cfg.Connection.InsecureIgnoreHostKey = conn.Key("insecure_ignore_host_key").MustBool(false)
	cfg.Connection.ProxyURL = conn.Key("proxy_url").String()
	cfg.Connection.KeepAliveSeconds = conn.Key("keepalive_seconds").MustInt(d.Connection.KeepAliveSeconds)

	xfer := iniFile.Section("transfer")
	cfg.Transfer.ChunkSizeKiB = xfer.Key("chunk_size_kib").MustInt(d.Transfer.ChunkSizeKiB)
	cfg.Transfer.ProgressIntervalMs = xfer.Key("progress_interval_ms").MustInt(d.Transfer.ProgressIntervalMs)
	cfg.Transfer.StallTimeoutSeconds = xfer.Key("stall_timeout_seconds").MustInt(d.Transfer.StallTimeoutSeconds)
	cfg.Transfer.AtomicDownloads = xfer.Key("atomic_downloads").MustBool(false)
	cfg.Transfer.CheckDiskSpace = xfer.Key("check_disk_space").MustBool(true)
	cfg.Transfer.BandwidthLimitKiB = xfer.Key("bandwidth_limit_kib").MustInt(0)

	cfg.Logging.Level = iniFile.Section("logging").Key("level").MustString(d.Logging.Level)

	return cfg, nil
}

// Save saves configuration to the sftp.conf file.
// If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	conn, err := iniFile.NewSection("connection")
	if err != nil {
		return fmt.Errorf("failed to create connection section: %w", err)
	}
	conn.Key("connect_timeout_seconds").SetValue(strconv.Itoa(cfg.Connection.ConnectTimeoutSeconds))
	conn.Key("channels").SetValue(strconv.Itoa(cfg.Connection.Channels))
	conn.Key("known_hosts").SetValue(cfg.Connection.KnownHosts)
	conn.Key("insecure_ignore_host_key").SetValue(strconv.FormatBool(cfg.Connection.InsecureIgnoreHostKey))
	conn.Key("proxy_url").SetValue(cfg.Connection.ProxyURL)
	conn.Key("keepalive_seconds").SetValue(strconv.Itoa(cfg.Connection.KeepAliveSeconds))

	xfer, err := iniFile.NewSection("transfer")
	if err != nil {
		return fmt.Errorf("failed to create transfer section: %w", err)
	}
	xfer.Key("chunk_size_kib").SetValue(strconv.Itoa(cfg.Transfer.ChunkSizeKiB))
	xfer.Key("progress_interval_ms").SetValue(strconv.Itoa(cfg.Transfer.ProgressIntervalMs))
	xfer.Key("stall_timeout_seconds").SetValue(strconv.Itoa(cfg.Transfer.StallTimeoutSeconds))
	xfer.Key("atomic_downloads").SetValue(strconv.FormatBool(cfg.Transfer.AtomicDownloads))
	xfer.Key("check_disk_space").SetValue(strconv.FormatBool(cfg.Transfer.CheckDiskSpace))
	xfer.Key("bandwidth_limit_kib").SetValue(strconv.Itoa(cfg.Transfer.BandwidthLimitKiB))

	logSection, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	logSection.Key("level").SetValue(cfg.Logging.Level)

	// Temporary file + rename so readers never see a half-written config
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
// Returns nil if valid, or the first sentinel error describing what's wrong.
func (cfg *Config) Validate() error {
	c := cfg.Connection
	if c.ConnectTimeoutSeconds < 1 || c.ConnectTimeoutSeconds > 300 {
		return ErrInvalidConnectTimeout
	}
	if c.Channels < 1 || c.Channels > constants.MaxChannels {
		return ErrInvalidChannels
	}
	if !c.InsecureIgnoreHostKey && strings.TrimSpace(c.KnownHosts) == "" {
		return ErrMissingHostKeyPolicy
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalidProxyURL
		}
	}
	if c.KeepAliveSeconds < 0 || c.KeepAliveSeconds > 3600 {
		return ErrInvalidKeepAlive
	}

	x := cfg.Transfer
	if x.ChunkSizeKiB < constants.MinChunkSize/1024 || x.ChunkSizeKiB > constants.MaxChunkSize/1024 {
		return ErrInvalidChunkSize
	}
	if x.ProgressIntervalMs < 10 || x.ProgressIntervalMs > 10000 {
		return ErrInvalidProgressGap
	}
	if x.StallTimeoutSeconds < 1 || x.StallTimeoutSeconds > 3600 {
		return ErrInvalidStallTimeout
	}
	if x.BandwidthLimitKiB < 0 {
		return ErrInvalidBandwidthLimit
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

// ConnectTimeout returns the connect timeout as a duration.
func (c ConnectionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// KeepAlive returns the keepalive interval as a duration.
func (c ConnectionConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// KnownHostsPath returns KnownHosts with ~ expanded.
func (c ConnectionConfig) KnownHostsPath() string {
	return ExpandHome(c.KnownHosts)
}

// ChunkSize returns the chunk size in bytes.
func (t TransferConfig) ChunkSize() int {
	return t.ChunkSizeKiB * 1024
}

// ProgressInterval returns the progress throttle interval.
func (t TransferConfig) ProgressInterval() time.Duration {
	return time.Duration(t.ProgressIntervalMs) * time.Millisecond
}

// StallTimeout returns the stall timeout.
func (t TransferConfig) StallTimeout() time.Duration {
	return time.Duration(t.StallTimeoutSeconds) * time.Second
}

// BandwidthLimit returns the bandwidth cap in bytes/sec, 0 for unlimited.
func (t TransferConfig) BandwidthLimit() int64 {
	return int64(t.BandwidthLimitKiB) * 1024
}
