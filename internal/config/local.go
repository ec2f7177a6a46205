package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for single-user local mode
type LocalConfig struct {
	Daemon       DaemonConfig       `yaml:"daemon"`
	Store        StoreConfig        `yaml:"store"`
	Gamification GamificationConfig `yaml:"gamification"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Events       EventsConfig       `yaml:"events"`
	Learner      LearnerConfig      `yaml:"learner"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
}

// StoreConfig selects and locates the document store
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DataDir     string `yaml:"data_dir,omitempty"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
}

// GamificationConfig holds the XP constants
type GamificationConfig struct {
	XPPerLevel int `yaml:"xp_per_level"`
	XPPerUnit  int `yaml:"xp_per_unit"`
}

// GeneratorConfig holds content generator settings
type GeneratorConfig struct {
	URL               string `yaml:"url,omitempty"` // empty selects the built-in static generator
	Model             string `yaml:"model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	APIKey            string `yaml:"-"` // Loaded from secrets.yaml
}

// EventsConfig holds messaging and event log settings
type EventsConfig struct {
	RabbitMQURL   string `yaml:"rabbitmq_url,omitempty"`
	EventLogURL   string `yaml:"event_log_url,omitempty"`
	ImportWorkers int    `yaml:"import_workers"`
}

// LearnerConfig identifies the local learner. The ID is assigned by
// "courseforge init".
type LearnerConfig struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// LearnerID parses the configured learner id.
func (c *LocalConfig) LearnerID() (uuid.UUID, error) {
	if c.Learner.ID == "" {
		return uuid.Nil, fmt.Errorf("no learner configured (run 'courseforge init')")
	}
	id, err := uuid.Parse(c.Learner.ID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid learner id %q", c.Learner.ID)
	}
	return id, nil
}

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	Generator struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"generator"`
}

// CourseforgeDir returns the path to ~/.courseforge
func CourseforgeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".courseforge"), nil
}

// EnsureCourseforgeDir creates ~/.courseforge and subdirectories if they don't exist
func EnsureCourseforgeDir() (string, error) {
	dir, err := CourseforgeDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:     7433,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Store: StoreConfig{
			Driver: StoreLocal,
		},
		Gamification: GamificationConfig{
			XPPerLevel: 500,
			XPPerUnit:  100,
		},
		Generator: GeneratorConfig{
			Model:             "llama3.1",
			TimeoutSeconds:    120,
			RequestsPerMinute: 10,
		},
		Events: EventsConfig{
			ImportWorkers: 3,
		},
	}
}

// Runtime converts the file configuration into the daemon's Config. Relative
// store paths resolve against dir.
func (c *LocalConfig) Runtime(dir string) *Config {
	dataDir := c.Store.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(dir, "data")
	}
	sqlitePath := c.Store.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(dir, "courseforge.db")
	}

	return &Config{
		Port:            c.Daemon.Port,
		LogLevel:        c.Daemon.LogLevel,
		StoreDriver:     c.Store.Driver,
		DatabaseURL:     c.Store.DatabaseURL,
		SQLitePath:      sqlitePath,
		DataDir:         dataDir,
		RabbitMQURL:     c.Events.RabbitMQURL,
		ImportWorkers:   c.Events.ImportWorkers,
		RedisAddr:       c.Store.RedisAddr,
		LockTTL:         10 * time.Second,
		GeneratorURL:    c.Generator.URL,
		GeneratorModel:  c.Generator.Model,
		GeneratorAPIKey: c.Generator.APIKey,
		XPPerLevel:      c.Gamification.XPPerLevel,
		XPPerUnit:       c.Gamification.XPPerUnit,
		EventLogURL:     c.Events.EventLogURL,
	}
}

// LoadLocalConfig loads configuration from ~/.courseforge/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := CourseforgeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, "config.yaml")

	// If config doesn't exist, return defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultLocalConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultLocalConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	cfg.Generator.APIKey = secrets.Generator.APIKey
	return nil
}

// SaveLocalConfig saves configuration to ~/.courseforge/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureCourseforgeDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveGeneratorKey saves the generator API key to ~/.courseforge/secrets.yaml
func SaveGeneratorKey(apiKey string) error {
	dir, err := EnsureCourseforgeDir()
	if err != nil {
		return err
	}

	var secrets SecretsConfig
	secrets.Generator.APIKey = apiKey

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
