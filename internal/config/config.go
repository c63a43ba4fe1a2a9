// Package config provides YAML-based configuration loading for the breakdown bot.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level bot configuration, loaded from breakdown.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Chat      ChatConfig      `yaml:"chat"`
	Machines  MachinesConfig  `yaml:"machines"`
	Google    GoogleConfig    `yaml:"google"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Digest    DigestConfig    `yaml:"digest"`
}

// DatabaseConfig selects where breakdown records are stored.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ChatConfig holds the chat platform connection and routing settings.
type ChatConfig struct {
	Platform       string        `yaml:"platform"`
	ForwardChannel string        `yaml:"forward_channel"` // every open/close notice is copied here
	AllowedUsers   []string      `yaml:"allowed_users"`   // empty means everyone
	Discord        DiscordConfig `yaml:"discord"`
	Slack          SlackConfig   `yaml:"slack"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// MachinesConfig defines the fixed set of machines a breakdown can be
// reported against. Names wins over Count/Prefix when both are set.
type MachinesConfig struct {
	Names  []string `yaml:"names"`
	Count  int      `yaml:"count"`
	Prefix string   `yaml:"prefix"`
}

// GoogleConfig holds service-account settings for the Drive photo archive and
// the Sheets mirror. Both are disabled when CredentialsFile is empty.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
	DriveFolderID   string `yaml:"drive_folder_id"`
}

// DashboardConfig controls the read-only HTTP dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DigestConfig controls the scheduled open-breakdown digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // 5-field cron expression
}

// Enabled reports whether Google integrations are configured.
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsFile != ""
}

// List returns the machine names in menu order.
func (m MachinesConfig) List() []string {
	if len(m.Names) > 0 {
		out := make([]string, len(m.Names))
		copy(out, m.Names)
		return out
	}
	out := make([]string, 0, m.Count)
	for i := 1; i <= m.Count; i++ {
		out = append(out, fmt.Sprintf("%s %d", m.Prefix, i))
	}
	return out
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. ${VAR} references are
// expanded from the environment before parsing so tokens can stay out of the
// file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "breakdowns.db"
	}
	if c.Database.Driver == DriverMySQL {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if len(c.Machines.Names) == 0 {
		if c.Machines.Count == 0 {
			c.Machines.Count = 15
		}
		if c.Machines.Prefix == "" {
			c.Machines.Prefix = "Станок"
		}
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Sheet1"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 8 * * 1-5"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Chat.Platform {
	case PlatformDiscord:
		if c.Chat.Discord.BotToken == "" {
			errs = append(errs, "chat.discord.bot_token is required")
		}
	case PlatformSlack:
		if c.Chat.Slack.AppToken == "" {
			errs = append(errs, "chat.slack.app_token is required")
		}
		if c.Chat.Slack.BotToken == "" {
			errs = append(errs, "chat.slack.bot_token is required")
		}
	case "":
		errs = append(errs, "chat.platform is required")
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported (want discord or slack)", c.Chat.Platform))
	}

	switch c.Database.Driver {
	case DriverSQLite:
	case DriverMySQL:
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (want sqlite or mysql)", c.Database.Driver))
	}

	seen := make(map[string]bool)
	for i, name := range c.Machines.Names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Sprintf("machines.names[%d] is empty", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("machines.names[%d] %q is duplicated", i, name))
		}
		seen[name] = true
	}
	if len(c.Machines.Names) == 0 && c.Machines.Count < 0 {
		errs = append(errs, "machines.count must be positive")
	}

	if c.Google.Enabled() && c.Google.SpreadsheetID == "" {
		errs = append(errs, "google.spreadsheet_id is required when google.credentials_file is set")
	}

	if c.Digest.Enabled {
		if _, err := cron.ParseStandard(c.Digest.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("digest.cron %q: %v", c.Digest.Cron, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
