package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Re-encode modes.
const (
	ModeUniform     = "uniform"
	ModeFormatAware = "format_aware"
)

// Batch error policies.
const (
	OnErrorFailFast = "fail_fast"
	OnErrorFailSoft = "fail_soft"
)

// EnvPrefix is the prefix for environment variable overrides (RECOMPRESS_QUALITY, ...).
const EnvPrefix = "RECOMPRESS"

// Config represents the main configuration structure
type Config struct {
	Root              string        `mapstructure:"root"`
	Extensions        []string      `mapstructure:"extensions"`
	Quality           int           `mapstructure:"quality"`
	PNGCompressLevel  int           `mapstructure:"png_compress_level"`
	Mode              string        `mapstructure:"mode"`
	OnError           string        `mapstructure:"on_error"`
	DryRun            bool          `mapstructure:"dry_run"`
	ReportUnsupported bool          `mapstructure:"report_unsupported"`
	Logging           LoggingConfig `mapstructure:"logging"`
	Server            ServerConfig  `mapstructure:"server"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Color      bool   `mapstructure:"color"`
}

// ServerConfig contains web interface settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// StaticDir overrides the embedded web assets when set.
	StaticDir string `mapstructure:"static_dir"`
}

// DefaultExtensions is the allow-list of image extensions a sweep visits.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Extensions:        append([]string(nil), DefaultExtensions...),
		Quality:           90,
		PNGCompressLevel:  9,
		Mode:              ModeFormatAware,
		OnError:           OnErrorFailSoft,
		DryRun:            false,
		ReportUnsupported: true,
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Color:      true,
		},
		Server: ServerConfig{
			Port:      8080,
			StaticDir: "",
		},
	}
}

// LoadConfig loads configuration from an optional .env file, the config file and
// environment variables, in increasing order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	config := DefaultConfig()
	v := viper.New()
	setDefaults(v, config)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.recompress")
		v.AddConfigPath("/etc/recompress")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key with viper so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("root", c.Root)
	v.SetDefault("extensions", c.Extensions)
	v.SetDefault("quality", c.Quality)
	v.SetDefault("png_compress_level", c.PNGCompressLevel)
	v.SetDefault("mode", c.Mode)
	v.SetDefault("on_error", c.OnError)
	v.SetDefault("dry_run", c.DryRun)
	v.SetDefault("report_unsupported", c.ReportUnsupported)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.color", c.Logging.Color)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.static_dir", c.Server.StaticDir)
}

// Validate validates the configuration and fills in derived defaults.
// It does not check that Root exists: an inaccessible root is reported by the sweep itself.
func (c *Config) Validate() error {
	if c.Root == "" {
		root, err := DefaultRoot()
		if err != nil {
			return fmt.Errorf("cannot determine default root: %w", err)
		}
		c.Root = root
	}
	c.Root = expandPath(c.Root)

	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("invalid quality: %d (valid: 0-100)", c.Quality)
	}

	if c.PNGCompressLevel < 0 || c.PNGCompressLevel > 9 {
		return fmt.Errorf("invalid png_compress_level: %d (valid: 0-9)", c.PNGCompressLevel)
	}

	switch c.Mode {
	case ModeUniform, ModeFormatAware:
	default:
		return fmt.Errorf("invalid mode: %s (valid: %s, %s)", c.Mode, ModeUniform, ModeFormatAware)
	}

	switch c.OnError {
	case OnErrorFailFast, OnErrorFailSoft:
	default:
		return fmt.Errorf("invalid on_error policy: %s (valid: %s, %s)", c.OnError, OnErrorFailFast, OnErrorFailSoft)
	}

	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), DefaultExtensions...)
	}
	c.Extensions = normalizeExtensions(c.Extensions)

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// IsFailFast reports whether the first per-file error aborts the batch.
func (c *Config) IsFailFast() bool {
	return c.OnError == OnErrorFailFast
}

// IsImageExtension checks if the extension is one the sweep visits
func (c *Config) IsImageExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Extensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// DefaultRoot returns the directory containing the running executable.
func DefaultRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	if abs, err := filepath.Abs(expanded); err == nil {
		return abs
	}
	return expanded
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
