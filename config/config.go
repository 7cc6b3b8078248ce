package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CUTOUT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
	Export    ExportConfig    `mapstructure:"export"`
	Session   SessionConfig   `mapstructure:"session"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
}

type LogConfig struct {
	// Mode release 输出 JSON，其他值输出控制台格式
	Mode string `mapstructure:"mode"`
}

type LoaderConfig struct {
	MaxDimension int   `mapstructure:"max_dimension"`
	MaxBytes     int64 `mapstructure:"max_bytes"`
}

type SegmenterConfig struct {
	// Kind birefnet 或 passthrough
	Kind         string        `mapstructure:"kind"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls"`
}

type ExportConfig struct {
	Format    string  `mapstructure:"format"`
	Quality   float64 `mapstructure:"quality"`
	OutputDir string  `mapstructure:"output_dir"`
}

type SessionConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	SweepSpec string        `mapstructure:"sweep_spec"`
}

// Load 从 YAML 文件加载配置，环境变量 CUTOUT_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	bindEnv(v)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 使用默认配置路径加载配置，文件不存在时使用默认值
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

// Default 默认配置，同样接受环境变量覆盖
func Default() *Config {
	v := viper.New()
	bindEnv(v)
	setDefaults(v)

	cfg, err := unmarshal(v)
	if err != nil {
		return getDefaultConfig()
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func (c *Config) Validate() error {
	switch c.Segmenter.Kind {
	case "birefnet":
		if c.Segmenter.BaseURL == "" {
			return fmt.Errorf("segmenter.base_url is required for birefnet")
		}
	case "passthrough":
	default:
		return fmt.Errorf("unknown segmenter kind %q", c.Segmenter.Kind)
	}
	if c.Export.Quality < 0 || c.Export.Quality > 1 {
		return fmt.Errorf("export.quality %v out of range [0, 1]", c.Export.Quality)
	}
	if c.Loader.MaxDimension <= 0 {
		return fmt.Errorf("loader.max_dimension must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)

	v.SetDefault("log.mode", d.Log.Mode)

	v.SetDefault("loader.max_dimension", d.Loader.MaxDimension)
	v.SetDefault("loader.max_bytes", d.Loader.MaxBytes)

	v.SetDefault("segmenter.kind", d.Segmenter.Kind)
	v.SetDefault("segmenter.base_url", d.Segmenter.BaseURL)
	v.SetDefault("segmenter.timeout", d.Segmenter.Timeout)
	v.SetDefault("segmenter.poll_interval", d.Segmenter.PollInterval)
	v.SetDefault("segmenter.max_polls", d.Segmenter.MaxPolls)

	v.SetDefault("export.format", d.Export.Format)
	v.SetDefault("export.quality", d.Export.Quality)
	v.SetDefault("export.output_dir", d.Export.OutputDir)

	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.sweep_spec", d.Session.SweepSpec)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadSize:   50 * 1024 * 1024,
		},
		Log: LogConfig{
			Mode: "debug",
		},
		Loader: LoaderConfig{
			MaxDimension: 2000,
			MaxBytes:     10 * 1024 * 1024,
		},
		Segmenter: SegmenterConfig{
			Kind:         "birefnet",
			BaseURL:      "http://127.0.0.1:8188/",
			Timeout:      2 * time.Minute,
			PollInterval: time.Second,
			MaxPolls:     120,
		},
		Export: ExportConfig{
			Format:    "lossless",
			Quality:   0.92,
			OutputDir: "./output",
		},
		Session: SessionConfig{
			TTL:       30 * time.Minute,
			SweepSpec: "@every 1m",
		},
	}
}
