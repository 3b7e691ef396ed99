package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Connection.ConnectTimeoutSeconds != 15 {
		t.Errorf("Expected ConnectTimeoutSeconds=15, got %d", cfg.Connection.ConnectTimeoutSeconds)
	}
	if cfg.Connection.Channels != 1 {
		t.Errorf("Expected Channels=1, got %d", cfg.Connection.Channels)
	}
	if cfg.Connection.KeepAliveSeconds != 30 {
		t.Errorf("Expected KeepAliveSeconds=30, got %d", cfg.Connection.KeepAliveSeconds)
	}
	if cfg.Connection.InsecureIgnoreHostKey {
		t.Error("Expected InsecureIgnoreHostKey=false")
	}
	if cfg.Transfer.ChunkSizeKiB != 32 {
		t.Errorf("Expected ChunkSizeKiB=32, got %d", cfg.Transfer.ChunkSizeKiB)
	}
	if cfg.Transfer.ProgressIntervalMs != 100 {
		t.Errorf("Expected ProgressIntervalMs=100, got %d", cfg.Transfer.ProgressIntervalMs)
	}
	if cfg.Transfer.StallTimeoutSeconds != 30 {
		t.Errorf("Expected StallTimeoutSeconds=30, got %d", cfg.Transfer.StallTimeoutSeconds)
	}
	if cfg.Transfer.AtomicDownloads {
		t.Error("Expected AtomicDownloads=false")
	}
	if !cfg.Transfer.CheckDiskSpace {
		t.Error("Expected CheckDiskSpace=true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected Level=info, got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got %v", err)
	}
}

func TestConfigLoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "sftp.conf")

	cfg := NewConfig()
	cfg.Connection.ConnectTimeoutSeconds = 5
	cfg.Connection.Channels = 4
	cfg.Connection.KnownHosts = "/etc/ssh/known_hosts"
	cfg.Connection.InsecureIgnoreHostKey = true
	cfg.Connection.ProxyURL = "socks5://127.0.0.1:1080"
	cfg.Connection.KeepAliveSeconds = 0
	cfg.Transfer.ChunkSizeKiB = 64
	cfg.Transfer.ProgressIntervalMs = 250
	cfg.Transfer.StallTimeoutSeconds = 60
	cfg.Transfer.AtomicDownloads = true
	cfg.Transfer.CheckDiskSpace = false
	cfg.Transfer.BandwidthLimitKiB = 512
	cfg.Logging.Level = "debug"

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("Expected permissions 0600, got %o", info.Mode().Perm())
	}
	if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file was left behind")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if *loaded != *cfg {
		t.Errorf("Round trip mismatch:\nsaved  %+v\nloaded %+v", *cfg, *loaded)
	}
}

func TestConfigLoadNonExistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Expected no error for missing file, got %v", err)
	}
	if *cfg != *NewConfig() {
		t.Errorf("Expected defaults, got %+v", *cfg)
	}
}

func TestConfigLoadPartial(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sftp.conf")
	content := "[transfer]\nchunk_size_kib = 128\n\n[logging]\nlevel = warn\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Transfer.ChunkSizeKiB != 128 {
		t.Errorf("Expected ChunkSizeKiB=128, got %d", cfg.Transfer.ChunkSizeKiB)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected Level=warn, got %s", cfg.Logging.Level)
	}
	// Untouched keys keep their defaults
	if cfg.Connection.Channels != 1 {
		t.Errorf("Expected Channels=1, got %d", cfg.Connection.Channels)
	}
	if !cfg.Transfer.CheckDiskSpace {
		t.Error("Expected CheckDiskSpace=true")
	}
	if cfg.Connection.KnownHosts != DefaultKnownHostsPath() {
		t.Errorf("Expected default known_hosts, got %s", cfg.Connection.KnownHosts)
	}
}

func TestConfigLoadInvalidINI(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sftp.conf")
	if err := os.WriteFile(configPath, []byte("[connection\nchannels = 2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for malformed INI")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"timeout too low", func(c *Config) { c.Connection.ConnectTimeoutSeconds = 0 }, ErrInvalidConnectTimeout},
		{"timeout too high", func(c *Config) { c.Connection.ConnectTimeoutSeconds = 301 }, ErrInvalidConnectTimeout},
		{"no channels", func(c *Config) { c.Connection.Channels = 0 }, ErrInvalidChannels},
		{"too many channels", func(c *Config) { c.Connection.Channels = 11 }, ErrInvalidChannels},
		{"no host key policy", func(c *Config) { c.Connection.KnownHosts = " " }, ErrMissingHostKeyPolicy},
		{
			name: "insecure without known_hosts",
			modify: func(c *Config) {
				c.Connection.KnownHosts = ""
				c.Connection.InsecureIgnoreHostKey = true
			},
			wantErr: nil,
		},
		{"proxy without scheme", func(c *Config) { c.Connection.ProxyURL = "127.0.0.1:1080" }, ErrInvalidProxyURL},
		{"proxy ok", func(c *Config) { c.Connection.ProxyURL = "socks5://proxy:1080" }, nil},
		{"negative keepalive", func(c *Config) { c.Connection.KeepAliveSeconds = -1 }, ErrInvalidKeepAlive},
		{"chunk too small", func(c *Config) { c.Transfer.ChunkSizeKiB = 2 }, ErrInvalidChunkSize},
		{"chunk too large", func(c *Config) { c.Transfer.ChunkSizeKiB = 2048 }, ErrInvalidChunkSize},
		{"progress gap", func(c *Config) { c.Transfer.ProgressIntervalMs = 5 }, ErrInvalidProgressGap},
		{"stall timeout", func(c *Config) { c.Transfer.StallTimeoutSeconds = 0 }, ErrInvalidStallTimeout},
		{"bandwidth", func(c *Config) { c.Transfer.BandwidthLimitKiB = -1 }, ErrInvalidBandwidthLimit},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
		{"log level case", func(c *Config) { c.Logging.Level = "DEBUG" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := NewConfig()
	cfg.Transfer.BandwidthLimitKiB = 2

	if got := cfg.Connection.ConnectTimeout(); got != 15*time.Second {
		t.Errorf("Expected 15s, got %v", got)
	}
	if got := cfg.Connection.KeepAlive(); got != 30*time.Second {
		t.Errorf("Expected 30s, got %v", got)
	}
	if got := cfg.Transfer.ChunkSize(); got != 32*1024 {
		t.Errorf("Expected 32768, got %d", got)
	}
	if got := cfg.Transfer.ProgressInterval(); got != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", got)
	}
	if got := cfg.Transfer.StallTimeout(); got != 30*time.Second {
		t.Errorf("Expected 30s, got %v", got)
	}
	if got := cfg.Transfer.BandwidthLimit(); got != 2048 {
		t.Errorf("Expected 2048, got %d", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/.ssh/known_hosts", filepath.Join(home, ".ssh", "known_hosts")},
		{"/etc/ssh/known_hosts", "/etc/ssh/known_hosts"},
		{"~user/file", "~user/file"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Skipf("cannot determine config path: %v", err)
	}
	if filepath.Base(path) != "sftp.conf" {
		t.Errorf("Expected sftp.conf, got %s", path)
	}
}
