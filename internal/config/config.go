package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"

	"github.com/tracyhatemice/dispatchmail/internal/dispatch"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel    string   `yaml:"log_level"`
	LogFile     string   `yaml:"log_file"`
	DataDir     string   `yaml:"data_dir"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Timezone    string   `yaml:"timezone"`
	Mailbox     Mailbox  `yaml:"mailbox"`
	Printing    Printing `yaml:"printing"`
}

// Mailbox describes the watched account.
type Mailbox struct {
	Protocol        string `yaml:"protocol"` // "imap" or "pop3"
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	UseTLS          bool   `yaml:"use_tls"`
	Folder          string `yaml:"folder"`
	Mode            string `yaml:"mode"` // "idle" or "poll"
	IdleMinutes     int    `yaml:"idle_minutes"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// Printing controls how many copies of a dispatch get printed.
type Printing struct {
	Org              string `yaml:"org"`
	County           string `yaml:"county"`
	Amt              uint8  `yaml:"amt"`
	MinCopies        int    `yaml:"min_copies"`
	MaxCopies        int    `yaml:"max_copies"`
	AdditionalCopies int    `yaml:"additional_copies"`
}

// IdleTimeout bounds a single push wait, defaulting to 29 minutes.
func (m *Mailbox) IdleTimeout() time.Duration {
	if m.IdleMinutes <= 0 {
		return 29 * time.Minute
	}
	return time.Duration(m.IdleMinutes) * time.Minute
}

// PollInterval returns the poll interval as a time.Duration.
func (m *Mailbox) PollInterval() time.Duration {
	if m.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.IntervalSeconds) * time.Second
}

// GetFolder returns the folder name, defaulting to "INBOX".
func (m *Mailbox) GetFolder() string {
	if m.Folder == "" {
		return "INBOX"
	}
	return m.Folder
}

// CopyPolicy converts the printing section.
func (p *Printing) CopyPolicy() dispatch.CopyPolicy {
	return dispatch.CopyPolicy{
		Org:        p.Org,
		County:     p.County,
		Agency:     p.Amt,
		Min:        p.MinCopies,
		Max:        p.MaxCopies,
		Additional: p.AdditionalCopies,
	}
}

// Location resolves the timezone alarm times are given in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data, os.Getenv)
}

// Parse decodes data and fills empty mailbox credentials from the EM_IMAP_*
// environment variables looked up through getenv.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		DataDir:  "data",
		Mailbox: Mailbox{
			Protocol: "imap",
			UseTLS:   true,
			Mode:     "idle",
		},
		Printing: Printing{
			MinCopies: 1,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Mailbox.applyEnv(getenv); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (m *Mailbox) applyEnv(getenv func(string) string) error {
	if m.Host == "" {
		m.Host = getenv("EM_IMAP_HOST")
		if m.Host == "" {
			return fmt.Errorf("mailbox.host is empty and EM_IMAP_HOST is not set")
		}
	}
	if m.Password == "" {
		m.Password = getenv("EM_IMAP_PASSWORD")
		if m.Password == "" {
			return fmt.Errorf("mailbox.password is empty and EM_IMAP_PASSWORD is not set")
		}
		if m.Username == "" {
			m.Username = getenv("EM_IMAP_USERNAME")
			if m.Username == "" {
				return fmt.Errorf("mailbox.username is empty and EM_IMAP_USERNAME is not set")
			}
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error")
	}

	m := c.Mailbox
	if m.Protocol != "pop3" && m.Protocol != "imap" {
		return fmt.Errorf("mailbox: protocol must be pop3 or imap")
	}
	if m.Mode != "idle" && m.Mode != "poll" {
		return fmt.Errorf("mailbox: mode must be idle or poll")
	}
	if m.Protocol == "pop3" && m.Mode == "idle" {
		return fmt.Errorf("mailbox: pop3 only supports poll mode")
	}
	if m.Port == 0 {
		return fmt.Errorf("mailbox: port is required")
	}
	if m.Username == "" {
		return fmt.Errorf("mailbox: username is required")
	}
	if m.IdleMinutes > 29 {
		return fmt.Errorf("mailbox: idle_minutes must not exceed 29")
	}

	p := c.Printing
	if p.MinCopies < 0 || p.AdditionalCopies < 0 {
		return fmt.Errorf("printing: copy counts must not be negative")
	}
	if p.MaxCopies > 0 && p.MaxCopies < p.MinCopies {
		return fmt.Errorf("printing: max_copies must not be below min_copies")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
