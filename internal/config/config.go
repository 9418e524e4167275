package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go-simpler.org/env"
)

// Merge tool identifiers accepted by MERGE_TOOL.
const (
	MergeToolFFmpeg = "ffmpeg"
	MergeToolCopy   = "copy"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Merge   MergeConfig
	Limits  LimitsConfig
	Log     LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string `env:"PORT" default:"5000"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
}

// Addr returns the listen address derived from PORT.
func (c ServerConfig) Addr() string {
	addr, err := resolveAddr(c.Port)
	if err != nil {
		return ":5000"
	}
	return addr
}

// Origins splits ALLOWED_ORIGINS into a list; empty means any origin.
func (c ServerConfig) Origins() []string {
	var out []string
	for _, part := range strings.Split(c.AllowedOrigins, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// StorageConfig 描述分片与成品的存储位置。
type StorageConfig struct {
	Root      string `env:"RECORDINGS_DIR" default:"recordings"`
	CatalogDB string `env:"CATALOG_DB"`
	Extension string `env:"RECORDING_EXT" default:".webm"`
}

// ChunksDir holds one sub-directory of fragments per session.
func (c StorageConfig) ChunksDir() string {
	return filepath.Join(c.Root, "chunks")
}

// OutputDir holds merged artifacts.
func (c StorageConfig) OutputDir() string {
	return filepath.Join(c.Root, "output")
}

// MergeConfig 描述合并工具的配置。
type MergeConfig struct {
	Tool                   string        `env:"MERGE_TOOL" default:"ffmpeg"`
	FFmpegPath             string        `env:"FFMPEG_PATH" default:"ffmpeg"`
	Timeout                time.Duration `env:"MERGE_TIMEOUT" default:"5m"`
	Concurrency            int           `env:"MERGE_CONCURRENCY" default:"4"`
	RemoveFragmentsOnMerge bool          `env:"REMOVE_FRAGMENTS_AFTER_MERGE" default:"false"`
}

// LimitsConfig 描述 WebSocket 连接限制。
type LimitsConfig struct {
	MaxFrameBytes int64         `env:"MAX_FRAME_BYTES" default:"33554432"`
	ReadTimeout   time.Duration `env:"WS_READ_TIMEOUT" default:"60s"`
	ConnectRate   float64       `env:"WS_CONNECT_RATE" default:"5"`
	ConnectBurst  int           `env:"WS_CONNECT_BURST" default:"10"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if _, err := resolveAddr(cfg.Server.Port); err != nil {
		return nil, err
	}

	if cfg.Storage.CatalogDB == "" {
		cfg.Storage.CatalogDB = filepath.Join(cfg.Storage.Root, "catalog.db")
	}
	if ext := strings.TrimSpace(cfg.Storage.Extension); ext != "" && !strings.HasPrefix(ext, ".") {
		cfg.Storage.Extension = "." + ext
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveAddr 解析服务器监听地址。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Storage.Root) == "" {
		return errors.New("RECORDINGS_DIR must not be empty")
	}
	if strings.TrimSpace(cfg.Storage.Extension) == "" {
		return errors.New("RECORDING_EXT must not be empty")
	}

	switch cfg.Merge.Tool {
	case MergeToolFFmpeg, MergeToolCopy:
	default:
		return fmt.Errorf("invalid MERGE_TOOL value %q: want %q or %q", cfg.Merge.Tool, MergeToolFFmpeg, MergeToolCopy)
	}
	if cfg.Merge.Concurrency < 1 {
		return fmt.Errorf("MERGE_CONCURRENCY must be at least 1, got %d", cfg.Merge.Concurrency)
	}
	if cfg.Merge.Timeout <= 0 {
		return errors.New("MERGE_TIMEOUT must be positive")
	}

	if cfg.Limits.MaxFrameBytes <= 0 {
		return errors.New("MAX_FRAME_BYTES must be positive")
	}
	if cfg.Limits.ReadTimeout <= 0 {
		return errors.New("WS_READ_TIMEOUT must be positive")
	}
	if cfg.Limits.ConnectRate <= 0 || cfg.Limits.ConnectBurst < 1 {
		return errors.New("WS_CONNECT_RATE and WS_CONNECT_BURST must be positive")
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT value %q", cfg.Log.Format)
	}
	return nil
}
