package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerURL            = "http://localhost:5000"
	defaultWSPath               = "/ws"
	defaultUIPort               = 8090
	defaultStateBackend         = "file"
	defaultStatePath            = "storage/state"
	defaultMaxFileSizeMB        = 10
	defaultProcessDelay         = 100 * time.Millisecond
	defaultReconnectAttempts    = 5
	defaultReconnectDelay       = time.Second
	defaultReconnectDelayMax    = 5 * time.Second
	defaultChannelTimeout       = 20 * time.Second
	defaultCorrelationThreshold = 0.8
	defaultDownloadsDir         = "storage/downloads"
	defaultReportsDir           = "storage/reports"
	defaultLogLevel             = "info"
)

// Config describes runtime configuration for the desk client.
type Config struct {
	ServerURL    string  `yaml:"server_url" env:"INGEST_SERVER_URL"`
	WSPath       string  `yaml:"ws_path" env:"INGEST_WS_PATH"`
	UIPort       int     `yaml:"ui_port" env:"INGEST_UI_PORT"`
	State        State   `yaml:"state"`
	Upload       Upload  `yaml:"upload"`
	Channel      Channel `yaml:"channel"`
	Render       Render  `yaml:"render"`
	DownloadsDir string  `yaml:"downloads_dir" env:"INGEST_DOWNLOADS_DIR"`
	ReportsDir   string  `yaml:"reports_dir" env:"INGEST_REPORTS_DIR"`
	LogLevel     string  `yaml:"log_level" env:"INGEST_LOG_LEVEL"`
}

// State selects the persistence adapter behind the state store.
type State struct {
	Backend string `yaml:"backend" env:"INGEST_STATE_BACKEND"`
	Path    string `yaml:"path" env:"INGEST_STATE_PATH"`
}

type Upload struct {
	AllowedExtensions []string      `yaml:"allowed_extensions" env:"INGEST_ALLOWED_EXTENSIONS" env-separator:","`
	MaxFileSizeMB     int           `yaml:"max_file_size_mb" env:"INGEST_MAX_FILE_SIZE_MB"`
	ProcessDelay      time.Duration `yaml:"process_delay" env:"INGEST_PROCESS_DELAY"`
}

type Channel struct {
	ReconnectAttempts int           `yaml:"reconnect_attempts" env:"INGEST_RECONNECT_ATTEMPTS"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"INGEST_RECONNECT_DELAY"`
	ReconnectDelayMax time.Duration `yaml:"reconnect_delay_max" env:"INGEST_RECONNECT_DELAY_MAX"`
	Timeout           time.Duration `yaml:"timeout" env:"INGEST_CHANNEL_TIMEOUT"`
}

type Render struct {
	CorrelationThreshold float64 `yaml:"correlation_threshold" env:"INGEST_CORRELATION_THRESHOLD"`
}

// Default returns the settings the browser client shipped with.
func Default() Config {
	return Config{
		ServerURL: defaultServerURL,
		WSPath:    defaultWSPath,
		UIPort:    defaultUIPort,
		State:     State{Backend: defaultStateBackend, Path: defaultStatePath},
		Upload: Upload{
			AllowedExtensions: defaultExtensions(),
			MaxFileSizeMB:     defaultMaxFileSizeMB,
			ProcessDelay:      defaultProcessDelay,
		},
		Channel: Channel{
			ReconnectAttempts: defaultReconnectAttempts,
			ReconnectDelay:    defaultReconnectDelay,
			ReconnectDelayMax: defaultReconnectDelayMax,
			Timeout:           defaultChannelTimeout,
		},
		Render:       Render{CorrelationThreshold: defaultCorrelationThreshold},
		DownloadsDir: defaultDownloadsDir,
		ReportsDir:   defaultReportsDir,
		LogLevel:     defaultLogLevel,
	}
}

// Load reads YAML config from the provided path and then applies INGEST_*
// environment overrides. A missing or empty file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("apply env: %w", err)
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MaxFileSize returns the upload size cap in bytes.
func (c Config) MaxFileSize() int64 {
	return int64(c.Upload.MaxFileSizeMB) << 20
}

// WebSocketURL derives the channel endpoint from the server URL.
func (c Config) WebSocketURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	path := c.WSPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func normalize(cfg *Config) {
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if cfg.WSPath == "" {
		cfg.WSPath = defaultWSPath
	}
	if cfg.UIPort == 0 {
		cfg.UIPort = defaultUIPort
	}
	cfg.State.Backend = strings.ToLower(strings.TrimSpace(cfg.State.Backend))
	if cfg.State.Backend == "" {
		cfg.State.Backend = defaultStateBackend
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath
	}
	if cfg.Upload.ProcessDelay <= 0 {
		cfg.Upload.ProcessDelay = defaultProcessDelay
	}
	if cfg.Channel.ReconnectDelay <= 0 {
		cfg.Channel.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Channel.ReconnectDelayMax < cfg.Channel.ReconnectDelay {
		cfg.Channel.ReconnectDelayMax = cfg.Channel.ReconnectDelay
	}
	if cfg.Channel.Timeout <= 0 {
		cfg.Channel.Timeout = defaultChannelTimeout
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = defaultDownloadsDir
	}
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = defaultReportsDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.Upload.AllowedExtensions = normalizeExtensions(cfg.Upload.AllowedExtensions)
}

func validate(cfg Config) error {
	if cfg.State.Backend != "file" && cfg.State.Backend != "bolt" {
		return fmt.Errorf("invalid state.backend: %q (must be file or bolt)", cfg.State.Backend)
	}
	if cfg.Upload.MaxFileSizeMB < 1 {
		return fmt.Errorf("invalid upload.max_file_size_mb: %d (must be >= 1)", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.Channel.ReconnectAttempts < 0 {
		return fmt.Errorf("invalid channel.reconnect_attempts: %d", cfg.Channel.ReconnectAttempts)
	}
	if t := cfg.Render.CorrelationThreshold; t < 0 || t > 1 {
		return fmt.Errorf("invalid render.correlation_threshold: %v (must be within [0,1])", t)
	}
	return nil
}

func defaultExtensions() []string { return []string{".csv", ".xlsx", ".xls"} }

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return defaultExtensions()
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
