package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
log_level: debug
timezone: Europe/Berlin
mailbox:
  host: imap.example.org
  port: 993
  username: alarm
  password: secret
  idle_minutes: 10
printing:
  org: FL
  county: PM
  amt: 1
  max_copies: 5
  additional_copies: 2
`

func noEnv(string) string { return "" }

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample), noEnv)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "data", cfg.DataDir)
	require.Equal(t, "imap", cfg.Mailbox.Protocol)
	require.Equal(t, "idle", cfg.Mailbox.Mode)
	require.True(t, cfg.Mailbox.UseTLS)
	require.Equal(t, "INBOX", cfg.Mailbox.GetFolder())
	require.Equal(t, 10*time.Minute, cfg.Mailbox.IdleTimeout())
	require.Equal(t, 60*time.Second, cfg.Mailbox.PollInterval())

	policy := cfg.Printing.CopyPolicy()
	require.Equal(t, "FL", policy.Org)
	require.Equal(t, uint8(1), policy.Agency)
	require.Equal(t, 1, policy.Min)
	require.Equal(t, 5, policy.Max)
	require.Equal(t, 2, policy.Additional)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", loc.String())
}

func TestParseEnvironmentFallback(t *testing.T) {
	env := map[string]string{
		"EM_IMAP_HOST":     "mail.example.org",
		"EM_IMAP_USERNAME": "leitstelle",
		"EM_IMAP_PASSWORD": "pw",
	}
	cfg, err := Parse([]byte("mailbox:\n  port: 993\n"), func(k string) string { return env[k] })
	require.NoError(t, err)
	require.Equal(t, "mail.example.org", cfg.Mailbox.Host)
	require.Equal(t, "leitstelle", cfg.Mailbox.Username)
	require.Equal(t, "pw", cfg.Mailbox.Password)

	delete(env, "EM_IMAP_USERNAME")
	_, err = Parse([]byte("mailbox:\n  port: 993\n"), func(k string) string { return env[k] })
	require.ErrorContains(t, err, "EM_IMAP_USERNAME")

	delete(env, "EM_IMAP_HOST")
	_, err = Parse([]byte("mailbox:\n  port: 993\n"), func(k string) string { return env[k] })
	require.ErrorContains(t, err, "EM_IMAP_HOST")
}

func TestParseRejects(t *testing.T) {
	base := "mailbox:\n  host: h\n  port: 995\n  username: u\n  password: p\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"protocol", base + "  protocol: smtp\n", "protocol"},
		{"mode", base + "  mode: push\n", "mode"},
		{"pop3 idle", base + "  protocol: pop3\n", "poll mode"},
		{"idle bound", base + "  idle_minutes: 30\n", "idle_minutes"},
		{"copies", base + "printing:\n  min_copies: 3\n  max_copies: 2\n", "max_copies"},
		{"timezone", base + "timezone: Mars/Olympus\n", "timezone"},
		{"log level", base + "log_level: loud\n", "log_level"},
		{"port", "mailbox:\n  host: h\n  username: u\n  password: p\n", "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), noEnv)
			require.ErrorContains(t, err, tt.want)
		})
	}

	cfg, err := Parse([]byte(base+"  protocol: pop3\n  mode: poll\n"), noEnv)
	require.NoError(t, err)
	require.Equal(t, "pop3", cfg.Mailbox.Protocol)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "imap.example.org", cfg.Mailbox.Host)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
