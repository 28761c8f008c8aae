package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Progress ProgressConfig `mapstructure:"progress"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	// DumpBinary is the external dump tool used by the primary strategy.
	DumpBinary string `mapstructure:"dump_binary"`
	// InsertBatch is the number of rows per INSERT in the fallback dump.
	InsertBatch int `mapstructure:"insert_batch"`
}

type BackupConfig struct {
	SourceRoot     string   `mapstructure:"source_root"`
	ArchiveDir     string   `mapstructure:"archive_dir"`
	ScratchDir     string   `mapstructure:"scratch_dir"`
	Exclude        []string `mapstructure:"exclude"`
	RetentionCount int      `mapstructure:"retention_count"`
	BatchSize      int      `mapstructure:"batch_size"`
}

type ProgressConfig struct {
	Dir        string        `mapstructure:"dir"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Throttle   time.Duration `mapstructure:"throttle"`
	Heartbeat  time.Duration `mapstructure:"heartbeat"`
}

type ScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	StorePath string `mapstructure:"store_path"`
	// Tick is a six-field cron spec for the in-process due check.
	Tick string `mapstructure:"tick"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BotToken  string `mapstructure:"bot_token"`
	ChatID    string `mapstructure:"chat_id"`
	OnSuccess bool   `mapstructure:"on_success"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("strongbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "strongbox")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.dump_binary", "mysqldump")
	v.SetDefault("database.insert_batch", 100)
	v.SetDefault("backup.retention_count", 7)
	v.SetDefault("backup.batch_size", 50)
	v.SetDefault("progress.stale_after", 60*time.Second)
	v.SetDefault("progress.throttle", 5*time.Millisecond)
	v.SetDefault("progress.heartbeat", 15*time.Second)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.tick", "0 * * * * *")
	v.SetDefault("http.addr", "127.0.0.1:8085")
}

func (c *Config) Validate() error {
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database.username is required")
	}

	if c.Backup.SourceRoot == "" {
		return fmt.Errorf("backup.source_root is required")
	}
	if c.Backup.ArchiveDir == "" {
		return fmt.Errorf("backup.archive_dir is required")
	}
	if c.Backup.RetentionCount < 1 {
		return fmt.Errorf("backup.retention_count must be at least 1")
	}
	if c.Backup.BatchSize < 1 {
		return fmt.Errorf("backup.batch_size must be at least 1")
	}

	for i, prefix := range c.Backup.Exclude {
		if !filepath.IsAbs(prefix) {
			return fmt.Errorf("backup.exclude[%d]: %q is not an absolute path", i, prefix)
		}
	}

	if c.Progress.StaleAfter <= 0 {
		return fmt.Errorf("progress.stale_after must be positive")
	}
	if c.Progress.Heartbeat <= 0 || c.Progress.Heartbeat >= c.Progress.StaleAfter {
		return fmt.Errorf("progress.heartbeat must be positive and shorter than progress.stale_after")
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram: bot_token and chat_id are required when enabled")
	}

	return c.resolvePaths()
}

// resolvePaths makes every working path absolute and fills the directories
// that default to locations under the archive directory.
func (c *Config) resolvePaths() error {
	if c.Backup.ScratchDir == "" {
		c.Backup.ScratchDir = filepath.Join(c.Backup.ArchiveDir, ".scratch")
	}
	if c.Progress.Dir == "" {
		c.Progress.Dir = filepath.Join(c.Backup.ArchiveDir, ".progress")
	}
	if c.Schedule.StorePath == "" {
		c.Schedule.StorePath = filepath.Join(c.Backup.ArchiveDir, "schedules.json")
	}

	paths := []*string{
		&c.Backup.SourceRoot,
		&c.Backup.ArchiveDir,
		&c.Backup.ScratchDir,
		&c.Progress.Dir,
		&c.Schedule.StorePath,
	}
	if c.App.LogFile != "" {
		paths = append(paths, &c.App.LogFile)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// ExclusionPrefixes returns the configured prefixes plus the engine's own
// working and log directories, which must never end up inside an archive.
func (c *Config) ExclusionPrefixes() []string {
	prefixes := append([]string(nil), c.Backup.Exclude...)
	prefixes = append(prefixes, c.Backup.ArchiveDir, c.Backup.ScratchDir, c.Progress.Dir)
	if c.App.LogFile != "" {
		prefixes = append(prefixes, filepath.Dir(c.App.LogFile))
	}
	return prefixes
}
