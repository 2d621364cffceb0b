// Package config loads relay settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted by PROVIDER.
const (
	ProviderSparkPost = "sparkpost"
	ProviderSES       = "ses"
	ProviderStdout    = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend. Empty means the first
	// configured one of sparkpost and ses, falling back to stdout.
	Provider  string          `yaml:"provider"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	Site      SiteConfig      `yaml:"site"`
	Sender    SenderConfig    `yaml:"sender"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SES       SESConfig       `yaml:"ses"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SparkPostConfig holds the transmissions API settings.
type SparkPostConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	// Sandbox marks every transmission as a sandbox send.
	Sandbox bool `yaml:"sandbox"`

	// TextFromHTML derives content.text from the HTML body.
	TextFromHTML bool `yaml:"text_from_html"`
}

// SiteConfig describes the site the mail is sent on behalf of. The default
// sender address and name are derived from it.
type SiteConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// SenderConfig overrides the derived default sender.
type SenderConfig struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds a Config from defaults and the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile uses the YAML file at path as the base layer and then applies
// the environment on top. A missing file is an error.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SparkPostConfigured reports whether an API key is set.
func (c *Config) SparkPostConfigured() bool {
	return strings.TrimSpace(c.SparkPost.APIKey) != ""
}

// SESConfigured reports whether the SES region and sender are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// ResolvedProvider returns the delivery backend to use.
func (c *Config) ResolvedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case c.SparkPostConfigured():
		return ProviderSparkPost
	case c.SESConfigured():
		return ProviderSES
	default:
		return ProviderStdout
	}
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch p := c.ResolvedProvider(); p {
	case ProviderSparkPost:
		if !c.SparkPostConfigured() {
			return errors.New("provider sparkpost requires SPARKPOST_API_KEY")
		}
	case ProviderSES:
		if !c.SESConfigured() {
			return errors.New("provider ses requires SES_REGION and SES_SENDER")
		}
	case ProviderStdout:
	default:
		return fmt.Errorf("unknown provider %q", p)
	}
	if c.SMTP.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size %d", c.SMTP.MaxMessageSize)
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnv overrides fields with non-empty values from the environment,
// falling back to the .env file for keys the process does not set.
func (c *Config) applyEnv() error {
	dotenv, err := readDotenv()
	if err != nil {
		return err
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	setString := func(dst *string, key string) {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if b, err := strconv.ParseBool(lookup(key)); err == nil {
			*dst = b
		}
	}

	if v := lookup("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SparkPost.APIKey, "SPARKPOST_API_KEY")
	setString(&c.SparkPost.Endpoint, "SPARKPOST_ENDPOINT")
	setBool(&c.SparkPost.Sandbox, "SPARKPOST_SANDBOX")
	setBool(&c.SparkPost.TextFromHTML, "SPARKPOST_TEXT_FROM_HTML")

	setString(&c.Site.URL, "SITE_URL")
	setString(&c.Site.Name, "SITE_NAME")
	setString(&c.Sender.Email, "MAIL_FROM")
	setString(&c.Sender.Name, "MAIL_FROM_NAME")

	setString(&c.SMTP.Listen, "SMTP_LISTEN")
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	if size, err := strconv.ParseInt(lookup("SMTP_MAX_MESSAGE_SIZE"), 10, 64); err == nil {
		c.SMTP.MaxMessageSize = size
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	if v := lookup("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// readDotenv reads the file named by DOTENV_PATH, or .env. A missing file
// yields an empty map.
func readDotenv() (map[string]string, error) {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}

	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}
