package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultMaxDepth bounds the project hierarchy when the config is silent.
const DefaultMaxDepth = 5

// Config models questline.yml.
type Config struct {
	Campaign struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"campaign"`
	Hierarchy struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"hierarchy"`
	Progress struct {
		AutoCompleteOnGoal bool `yaml:"auto_complete_on_goal"`
	} `yaml:"progress"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// MaxDepth returns the configured hierarchy bound, defaulted.
func (c *Config) MaxDepth() int {
	if c == nil || c.Hierarchy.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return c.Hierarchy.MaxDepth
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ql config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Campaign.ID == "" {
		return fmt.Errorf("config.campaign.id is required")
	}
	if c.Hierarchy.MaxDepth < 0 {
		return fmt.Errorf("config.hierarchy.max_depth must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, action := range hook.Actions {
			if action == "" {
				return fmt.Errorf("config.webhooks[%d] has empty action filter", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "questline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(campaignID string) string {
	return fmt.Sprintf(defaultTemplate, campaignID)
}

// Default returns the default Config struct for a campaign.
func Default(campaignID string) *Config {
	var cfg Config
	cfg.Campaign.ID = campaignID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, campaignID))).Decode(&cfg)
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

const defaultTemplate = `campaign:
  id: %s

hierarchy:
  # Maximum parent links from any project to its root.
  max_depth: 5

progress:
  # When true, a project that reaches its goal is marked completed
  # automatically. Reaching a goal is not always a finality signal,
  # so this stays off unless the table decides otherwise.
  auto_complete_on_goal: false
`
