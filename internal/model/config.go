package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keyring keys for secrets that may be kept out of the config file.
const (
	CredentialMailPassword = "mail-password"
	CredentialOpenAIKey    = "openai-api-key"
)

// MailConfig holds the bot mailbox settings for polling and replying.
type MailConfig struct {
	// Address is the bot address; it is also the IMAP/SMTP username.
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`

	IMAPHost     string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port" yaml:"imap_port"`
	IMAPSecurity string `mapstructure:"imap_security" yaml:"imap_security"`

	SMTPHost     string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port" yaml:"smtp_port"`
	SMTPSecurity string `mapstructure:"smtp_security" yaml:"smtp_security"`

	// Mailbox is the folder polled for unread mail.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// MarkSeen flags a message \Seen once its reply has been sent.
	MarkSeen bool `mapstructure:"mark_seen" yaml:"mark_seen"`

	// Timeout bounds a single IMAP poll or SMTP delivery.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AIConfig holds settings for the completion service.
type AIConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	Model           string        `mapstructure:"model" yaml:"model"`
	Temperature     float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ContextMessages int           `mapstructure:"context_messages" yaml:"context_messages"`
}

// SchedulerConfig controls how often the mailbox is polled.
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes"`
}

// Interval returns the poll interval, falling back to one hour.
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port               int           `mapstructure:"port" yaml:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// AllowedOrigins splits the comma-separated origin list.
func (s ServerConfig) AllowedOrigins() []string {
	if s.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(s.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail      MailConfig      `mapstructure:"mail" yaml:"mail"`
	AI        AIConfig        `mapstructure:"ai" yaml:"ai"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// configDir returns ~/.config/mailmate, or the working directory when the
// home directory cannot be determined.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailmate")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailmate/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// legacyEnv maps config keys to the environment variable names used by
// earlier deployments of the bot.
var legacyEnv = map[string]string{
	"mail.address":               "EMAIL_ADDRESS",
	"mail.password":              "EMAIL_PASSWORD",
	"mail.imap_host":             "IMAP_SERVER",
	"mail.smtp_host":             "SMTP_SERVER",
	"mail.smtp_port":             "SMTP_PORT",
	"ai.api_key":                 "OPENAI_API_KEY",
	"scheduler.interval_minutes": "EMAIL_CHECK_INTERVAL_MINUTES",
	"server.port":                "PORT",
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mail: MailConfig{
			IMAPHost:     "imap.gmail.com",
			IMAPPort:     993,
			IMAPSecurity: "tls",
			SMTPHost:     "smtp.gmail.com",
			SMTPPort:     587,
			SMTPSecurity: "starttls",
			Mailbox:      "INBOX",
			MarkSeen:     true,
			Timeout:      60 * time.Second,
		},
		AI: AIConfig{
			Model:           "gpt-3.5-turbo",
			Temperature:     0.8,
			MaxTokens:       500,
			Timeout:         60 * time.Second,
			ContextMessages: 10,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 60,
		},
		Server: ServerConfig{
			Port:               5000,
			ReadTimeout:        5 * time.Second,
			WriteTimeout:       5 * time.Minute,
			ShutdownTimeout:    30 * time.Second,
			CORSAllowedOrigins: "*",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(configDir(), "mailmate.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// setDefaults registers every default with v so that environment
// variables for unset keys are picked up by Unmarshal.
func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("mail.address", d.Mail.Address)
	v.SetDefault("mail.password", d.Mail.Password)
	v.SetDefault("mail.imap_host", d.Mail.IMAPHost)
	v.SetDefault("mail.imap_port", d.Mail.IMAPPort)
	v.SetDefault("mail.imap_security", d.Mail.IMAPSecurity)
	v.SetDefault("mail.smtp_host", d.Mail.SMTPHost)
	v.SetDefault("mail.smtp_port", d.Mail.SMTPPort)
	v.SetDefault("mail.smtp_security", d.Mail.SMTPSecurity)
	v.SetDefault("mail.mailbox", d.Mail.Mailbox)
	v.SetDefault("mail.mark_seen", d.Mail.MarkSeen)
	v.SetDefault("mail.timeout", d.Mail.Timeout)

	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("ai.base_url", d.AI.BaseURL)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.temperature", d.AI.Temperature)
	v.SetDefault("ai.max_tokens", d.AI.MaxTokens)
	v.SetDefault("ai.timeout", d.AI.Timeout)
	v.SetDefault("ai.context_messages", d.AI.ContextMessages)

	v.SetDefault("scheduler.interval_minutes", d.Scheduler.IntervalMinutes)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_allowed_origins", d.Server.CORSAllowedOrigins)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// then applies MAILMATE_* and legacy environment overrides. A missing file
// is not an error; defaults and the environment still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MAILMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaultAppConfig())

	for key, env := range legacyEnv {
		// The MAILMATE_ name wins when both are present.
		if err := v.BindEnv(key, "MAILMATE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Mail.Address = NormalizeEmail(cfg.Mail.Address)

	return cfg, nil
}

// ResolveSecrets fills an empty mail password or API key using get, which
// is normally backed by the system keyring. Lookup failures leave the
// field empty; Validate reports it afterwards.
func (c *AppConfig) ResolveSecrets(get func(key string) (string, error)) {
	if c.Mail.Password == "" {
		if v, err := get(CredentialMailPassword); err == nil {
			c.Mail.Password = v
		}
	}
	if c.AI.APIKey == "" {
		if v, err := get(CredentialOpenAIKey); err == nil {
			c.AI.APIKey = v
		}
	}
}

// Validate reports the first missing setting required to run the bot.
func (c *AppConfig) Validate() error {
	switch {
	case c.Mail.Address == "":
		return errors.New("mail.address is required")
	case c.Mail.Password == "":
		return errors.New("mail.password is required (config, env or keyring)")
	case c.Mail.IMAPHost == "":
		return errors.New("mail.imap_host is required")
	case c.Mail.SMTPHost == "":
		return errors.New("mail.smtp_host is required")
	case c.AI.APIKey == "":
		return errors.New("ai.api_key is required (config, env or keyring)")
	case c.Database.Path == "":
		return errors.New("database.path is required")
	}

	for name, mode := range map[string]string{
		"mail.imap_security": c.Mail.IMAPSecurity,
		"mail.smtp_security": c.Mail.SMTPSecurity,
	} {
		switch mode {
		case "tls", "starttls", "none":
		default:
			return fmt.Errorf("%s must be one of tls, starttls, none; got %q", name, mode)
		}
	}

	return nil
}
