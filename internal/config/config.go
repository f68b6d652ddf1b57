package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models readyline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks struct {
		// Workflow is notified after a submission is durably saved.
		Workflow WebhookConfig `yaml:"workflow"`
		// Delivery is notified once a report completion was processed.
		Delivery WebhookConfig `yaml:"delivery"`
	} `yaml:"webhooks"`
	Auth struct {
		MagicLinkTTLMinutes int    `yaml:"magic_link_ttl_minutes"`
		RedirectURL         string `yaml:"redirect_url"`
		VerifyURL           string `yaml:"verify_url"`
	} `yaml:"auth"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

// Configured reports whether the hook should be called at all.
func (w WebhookConfig) Configured() bool {
	if w.URL == "" {
		return false
	}
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return true
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	if c.Auth.MagicLinkTTLMinutes == 0 {
		c.Auth.MagicLinkTTLMinutes = 60
	}
	if c.Auth.MagicLinkTTLMinutes < 0 {
		return fmt.Errorf("config.auth.magic_link_ttl_minutes must be positive")
	}
	for name, hook := range map[string]WebhookConfig{
		"webhooks.workflow": c.Webhooks.Workflow,
		"webhooks.delivery": c.Webhooks.Delivery,
	} {
		if hook.URL == "" {
			continue
		}
		if _, err := url.ParseRequestURI(hook.URL); err != nil {
			return fmt.Errorf("config.%s.url is not a valid URL: %w", name, err)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.%s.timeout_seconds must not be negative", name)
		}
	}
	for name, raw := range map[string]string{
		"auth.redirect_url": c.Auth.RedirectURL,
		"auth.verify_url":   c.Auth.VerifyURL,
	} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("config.%s is not a valid URL: %w", name, err)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "readyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	_ = cfg.Validate()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

webhooks:
  # Called after a submission is saved, with {requestId, email, userId}.
  workflow:
    url: ""
    secret: ""
    timeout_seconds: 5

  # Called after completion processing, with {requestId, userId, email, magicLink}.
  delivery:
    url: ""
    secret: ""
    timeout_seconds: 5

auth:
  magic_link_ttl_minutes: 60
  # Where the magic link lands the respondent after verification.
  redirect_url: ""
  # Base URL of this service's verify endpoint; tokens are appended as ?token=...
  verify_url: ""
`
