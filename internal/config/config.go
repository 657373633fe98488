package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// AUTOYTDLP_PERFORMANCE_MAX_CONCURRENT_DOWNLOADS.
	EnvPrefix = "AUTOYTDLP"

	ArchiveBackendFile   = "file"
	ArchiveBackendSQLite = "sqlite"

	dirPerm = 0o755
)

// Config is the full application configuration. Values are layered: Default,
// then the TOML file, then environment variables.
type Config struct {
	General       General       `toml:"general" envconfig:"GENERAL"`
	YtDlp         YtDlp         `toml:"yt_dlp" envconfig:"YTDLP"`
	Performance   Performance   `toml:"performance" envconfig:"PERFORMANCE"`
	VPN           VPN           `toml:"vpn" envconfig:"VPN"`
	Notifications Notifications `toml:"notifications" envconfig:"NOTIFICATIONS"`
	Storage       Storage       `toml:"storage" envconfig:"STORAGE"`
	Web           Web           `toml:"web" envconfig:"WEB"`
	Telemetry     Telemetry     `toml:"telemetry" envconfig:"TELEMETRY"`

	// Warnings collects recoverable problems found while loading.
	Warnings []string `toml:"-" ignored:"true"`
}

type General struct {
	LinksFile            string `toml:"links_file" split_words:"true"`
	DownloadDir          string `toml:"download_dir" split_words:"true"`
	LogFile              string `toml:"log_file" split_words:"true"`
	LogLevel             string `toml:"log_level" split_words:"true"`
	RemoveCompletedLinks bool   `toml:"remove_completed_links" split_words:"true"`
}

type YtDlp struct {
	Binary           string   `toml:"binary"`
	ArchiveFile      string   `toml:"archive_file" split_words:"true"`
	Format           string   `toml:"format"`
	OutputTemplate   string   `toml:"output_template" split_words:"true"`
	ExtraArgs        []string `toml:"extra_args" split_words:"true"`
	UseNativeArchive bool     `toml:"use_native_archive" split_words:"true"`
}

type Performance struct {
	MaxConcurrentDownloads int           `toml:"max_concurrent_downloads" split_words:"true"`
	BandwidthLimit         string        `toml:"bandwidth_limit" split_words:"true"`
	Retries                int           `toml:"retries"`
	StopTimeout            time.Duration `toml:"stop_timeout" split_words:"true"`
	FailOnError            bool          `toml:"fail_on_error" split_words:"true"`
}

type VPN struct {
	Enabled          bool          `toml:"enabled"`
	Command          string        `toml:"command"`
	SwitchAfter      int           `toml:"switch_after" split_words:"true"`
	SpeedThreshold   float64       `toml:"speed_threshold" split_words:"true"`
	SwitchPause      time.Duration `toml:"switch_pause" split_words:"true"`
	DisconnectOnExit bool          `toml:"disconnect_on_exit" split_words:"true"`
}

type Notifications struct {
	OnCompletion      bool   `toml:"on_completion" split_words:"true"`
	OnError           bool   `toml:"on_error" split_words:"true"`
	Desktop           bool   `toml:"desktop"`
	DiscordWebhookURL string `toml:"discord_webhook_url" envconfig:"DISCORD_WEBHOOK_URL"`
}

type Storage struct {
	DBPath         string `toml:"db_path" envconfig:"DB_PATH"`
	ArchiveBackend string `toml:"archive_backend" split_words:"true"`
}

type Web struct {
	BindAddress     string        `toml:"bind_address" split_words:"true"`
	ReadTimeout     time.Duration `toml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `toml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `toml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" split_words:"true"`
}

type Telemetry struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		General: General{
			LinksFile:   "links.txt",
			DownloadDir: "./downloads",
			LogFile:     "auto_ytdlp.logs",
			LogLevel:    "INFO",
		},
		YtDlp: YtDlp{
			Binary:         "yt-dlp",
			ArchiveFile:    "download_archive.txt",
			Format:         "bestvideo*+bestaudio/best",
			OutputTemplate: "%(title)s - [%(id)s].%(ext)s",
		},
		Performance: Performance{
			MaxConcurrentDownloads: 5,
			BandwidthLimit:         "5M",
			Retries:                1,
			StopTimeout:            10 * time.Second,
		},
		VPN: VPN{
			Enabled:          true,
			Command:          "expressvpn",
			SwitchAfter:      30,
			SpeedThreshold:   500,
			SwitchPause:      2 * time.Second,
			DisconnectOnExit: true,
		},
		Notifications: Notifications{
			OnCompletion: true,
			OnError:      true,
			Desktop:      true,
		},
		Storage: Storage{
			DBPath:         "auto_ytdlp.db",
			ArchiveBackend: ArchiveBackendFile,
		},
		Web: Web{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: Telemetry{
			Enabled:     true,
			ServiceName: "auto_ytdlp",
		},
	}
}

// LoadConfig builds the configuration from defaults, the TOML file at path
// (skipped when path is empty) and the environment. A missing or malformed
// file is recorded in Warnings and the defaults are kept; malformed
// environment values are an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		cfg.loadFile(path)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	cfg.Validate()

	return cfg, nil
}

func (c *Config) loadFile(path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.warn("config file %s not found, using defaults", path)

		return
	}

	if err != nil {
		c.warn("failed to read config file %s: %v", path, err)

		return
	}

	// decode into a copy so a half-applied malformed file cannot leak through
	next := *c

	md, err := toml.Decode(string(data), &next)
	if err != nil {
		c.warn("malformed config file %s, using defaults: %v", path, err)

		return
	}

	for _, key := range md.Undecoded() {
		next.warn("unknown config key %s", key.String())
	}

	*c = next
}

// Validate clamps values that cannot work to safe ones, recording a warning
// for each.
func (c *Config) Validate() {
	if c.Performance.MaxConcurrentDownloads < 1 {
		c.warn("performance.max_concurrent_downloads=%d is invalid, using 1", c.Performance.MaxConcurrentDownloads)
		c.Performance.MaxConcurrentDownloads = 1
	}

	if c.Performance.Retries < 0 {
		c.warn("performance.retries=%d is invalid, using 0", c.Performance.Retries)
		c.Performance.Retries = 0
	}

	if c.Performance.StopTimeout <= 0 {
		c.warn("performance.stop_timeout=%s is invalid, using 10s", c.Performance.StopTimeout)
		c.Performance.StopTimeout = 10 * time.Second
	}

	if c.VPN.SwitchPause < 0 {
		c.VPN.SwitchPause = 0
	}

	switch strings.ToLower(c.Storage.ArchiveBackend) {
	case ArchiveBackendFile, ArchiveBackendSQLite:
		c.Storage.ArchiveBackend = strings.ToLower(c.Storage.ArchiveBackend)
	default:
		c.warn("storage.archive_backend=%q is invalid, using %q", c.Storage.ArchiveBackend, ArchiveBackendFile)
		c.Storage.ArchiveBackend = ArchiveBackendFile
	}

	if c.General.DownloadDir == "" {
		c.General.DownloadDir = "."
	}
}

// RateLimit returns the yt-dlp --limit-rate value, empty for unlimited.
func (c *Config) RateLimit() string {
	limit := strings.TrimSpace(c.Performance.BandwidthLimit)
	if limit == "0" {
		return ""
	}

	return limit
}

// EnsureDownloadDir creates the download directory.
func (c *Config) EnsureDownloadDir() error {
	if err := os.MkdirAll(c.General.DownloadDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.General.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
