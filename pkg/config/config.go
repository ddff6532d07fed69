// Package config provides configuration management for the gate controller.
// It loads configuration from YAML files with sensible defaults and reads
// secrets from the environment (optionally populated from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvTelegramToken  = "GATEKEEPER_TELEGRAM_TOKEN"
	EnvTelegramChatID = "GATEKEEPER_TELEGRAM_CHAT_ID"
	EnvRelayPrefix    = "GATEKEEPER_RELAY_"
	EnvLogLevel       = "GATEKEEPER_LOG_LEVEL"
)

// Config holds all gate controller configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Relays      RelayConfig       `yaml:"relays"`
	Gate        GateConfig        `yaml:"gate"`
	Alarm       AlarmConfig       `yaml:"alarm"`
	Keypad      KeypadConfig      `yaml:"keypad"`
	Notify      NotifyConfig      `yaml:"notify"`
	Storage     StorageConfig     `yaml:"storage"`
	I18n        I18nConfig        `yaml:"i18n"`
	Display     DisplayConfig     `yaml:"display"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device      string `yaml:"device"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	DrainFrames int    `yaml:"drain_frames"`
}

// RecognitionConfig holds face detection and matching settings.
type RecognitionConfig struct {
	ModelPath         string        `yaml:"model_path"`
	CascadeFile       string        `yaml:"cascade_file"`
	Tolerance         float64       `yaml:"tolerance"`
	ResizeFactor      float64       `yaml:"resize_factor"`
	ConfirmationDelay time.Duration `yaml:"confirmation_delay"`
}

// RelayConfig holds the network endpoints of every relay and pulse timing.
type RelayConfig struct {
	Gate           string        `yaml:"gate"`
	AlarmArm       string        `yaml:"alarm_arm"`
	AlarmNight     string        `yaml:"alarm_night"`
	AlarmOff       string        `yaml:"alarm_off"`
	PulseWidth     time.Duration `yaml:"pulse_width"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Endpoints returns the relay endpoints keyed by switch name.
func (r RelayConfig) Endpoints() map[string]string {
	return map[string]string{
		"gate":        r.Gate,
		"alarm_arm":   r.AlarmArm,
		"alarm_night": r.AlarmNight,
		"alarm_off":   r.AlarmOff,
	}
}

// GateConfig holds the pauses between the gate pulses.
type GateConfig struct {
	OpenShort time.Duration `yaml:"open_short"`
	WaitShort time.Duration `yaml:"wait_short"`
}

// AlarmConfig holds the retry policy for alarm relays.
type AlarmConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
	Settle   time.Duration `yaml:"settle"`
}

// KeypadConfig holds keypad authentication settings.
type KeypadConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	Enabled          bool          `yaml:"enabled"`
	TelegramToken    string        `yaml:"-"`
	TelegramChatID   int64         `yaml:"-"`
	ResponseTimeout  time.Duration `yaml:"response_timeout"`
	ConnectivityHost string        `yaml:"connectivity_host"`
	JoinTimeout      time.Duration `yaml:"join_timeout"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	RegistryDB        string `yaml:"registry_db"`
	EventsDB          string `yaml:"events_db"`
	CacheDir          string `yaml:"cache_dir"`
	SnapshotPath      string `yaml:"snapshot_path"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// I18nConfig holds localization settings.
type I18nConfig struct {
	Catalog         string `yaml:"catalog"`
	DefaultLanguage string `yaml:"default_language"`
}

// DisplayConfig holds window settings.
type DisplayConfig struct {
	WindowName string `yaml:"window_name"`
	Fullscreen bool   `yaml:"fullscreen"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
}

// MetricsConfig holds the status server settings. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/gatekeeper")
	return &Config{
		Camera: CameraConfig{
			Device:      "0",
			Width:       640,
			Height:      480,
			DrainFrames: 5,
		},
		Recognition: RecognitionConfig{
			ModelPath:         filepath.Join(dataDir, "models"),
			CascadeFile:       filepath.Join(dataDir, "models", "haarcascade_frontalface_default.xml"),
			Tolerance:         0.5,
			ResizeFactor:      0.2,
			ConfirmationDelay: 700 * time.Millisecond,
		},
		Relays: RelayConfig{
			PulseWidth:     200 * time.Millisecond,
			RequestTimeout: 3 * time.Second,
		},
		Gate: GateConfig{
			OpenShort: 3 * time.Second,
			WaitShort: 3 * time.Second,
		},
		Alarm: AlarmConfig{
			Attempts: 3,
			Backoff:  2 * time.Second,
			Settle:   2 * time.Second,
		},
		Keypad: KeypadConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
		},
		Notify: NotifyConfig{
			Enabled:          true,
			ResponseTimeout:  60 * time.Second,
			ConnectivityHost: "8.8.8.8:53",
			JoinTimeout:      2 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			RegistryDB:        filepath.Join(dataDir, "people.db"),
			EventsDB:          filepath.Join(dataDir, "events.db"),
			CacheDir:          filepath.Join(dataDir, "cache"),
			SnapshotPath:      filepath.Join(dataDir, "face.jpg"),
			EncryptionEnabled: true,
		},
		I18n: I18nConfig{
			Catalog:         filepath.Join(dataDir, "translations.md"),
			DefaultLanguage: "EN",
		},
		Display: DisplayConfig{
			WindowName: "Gate",
			Fullscreen: true,
			Width:      800,
			Height:     480,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(dataDir, "gatekeeper.log"),
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/gatekeeper/gatekeeper.yaml"); err == nil {
		return Load("/etc/gatekeeper/gatekeeper.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/gatekeeper/gatekeeper.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error; variables already set are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv copies secrets and overrides from the environment into the config.
func (c *Config) ApplyEnv() error {
	if token := os.Getenv(EnvTelegramToken); token != "" {
		c.Notify.TelegramToken = token
	}
	if raw := os.Getenv(EnvTelegramChatID); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTelegramChatID, err)
		}
		c.Notify.TelegramChatID = chatID
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}

	overrides := map[string]*string{
		"GATE":        &c.Relays.Gate,
		"ALARM_ARM":   &c.Relays.AlarmArm,
		"ALARM_NIGHT": &c.Relays.AlarmNight,
		"ALARM_OFF":   &c.Relays.AlarmOff,
	}
	for name, field := range overrides {
		if v := os.Getenv(EnvRelayPrefix + name); v != "" {
			*field = v
		}
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size: %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Camera.DrainFrames < 0 {
		return fmt.Errorf("drain_frames must not be negative, got %d", c.Camera.DrainFrames)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.ResizeFactor <= 0 || c.Recognition.ResizeFactor > 1 {
		return fmt.Errorf("resize_factor must be in (0, 1], got %f", c.Recognition.ResizeFactor)
	}
	if c.Recognition.ConfirmationDelay < 0 {
		return fmt.Errorf("confirmation_delay must not be negative, got %s", c.Recognition.ConfirmationDelay)
	}

	for name, endpoint := range c.Relays.Endpoints() {
		if endpoint == "" {
			return fmt.Errorf("relay endpoint %q is not configured", name)
		}
	}
	if c.Relays.PulseWidth <= 0 {
		return fmt.Errorf("pulse_width must be positive, got %s", c.Relays.PulseWidth)
	}

	if c.Alarm.Attempts <= 0 {
		return fmt.Errorf("alarm attempts must be positive, got %d", c.Alarm.Attempts)
	}

	if c.Keypad.Timeout <= 0 {
		return fmt.Errorf("keypad timeout must be positive, got %s", c.Keypad.Timeout)
	}
	if c.Keypad.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.Keypad.MaxAttempts)
	}

	if c.Notify.Enabled {
		if c.Notify.TelegramToken == "" {
			return fmt.Errorf("notifications enabled but %s is not set", EnvTelegramToken)
		}
		if c.Notify.TelegramChatID == 0 {
			return fmt.Errorf("notifications enabled but %s is not set", EnvTelegramChatID)
		}
		if c.Notify.ResponseTimeout <= 0 {
			return fmt.Errorf("response_timeout must be positive, got %s", c.Notify.ResponseTimeout)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Recognition.CascadeFile = ExpandPath(c.Recognition.CascadeFile)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.RegistryDB = ExpandPath(c.Storage.RegistryDB)
	c.Storage.EventsDB = ExpandPath(c.Storage.EventsDB)
	c.Storage.CacheDir = ExpandPath(c.Storage.CacheDir)
	c.Storage.SnapshotPath = ExpandPath(c.Storage.SnapshotPath)
	c.I18n.Catalog = ExpandPath(c.I18n.Catalog)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the directories the controller writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []struct {
		path string
		perm os.FileMode
		what string
	}{
		{c.Storage.DataDir, 0700, "storage"},
		{c.Storage.CacheDir, 0700, "cache"},
		{filepath.Dir(c.Storage.SnapshotPath), 0700, "snapshot"},
		{c.Recognition.ModelPath, 0755, "models"},
	}
	if c.Logging.File != "" {
		dirs = append(dirs, struct {
			path string
			perm os.FileMode
			what string
		}{filepath.Dir(c.Logging.File), 0755, "log"})
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", d.what, err)
		}
	}
	return nil
}
