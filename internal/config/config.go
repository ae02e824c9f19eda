package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskquest.yml.
type Config struct {
	Economy struct {
		CompletionReward int64 `yaml:"completion_reward"`
		ItemPrice        int64 `yaml:"item_price"`
	} `yaml:"economy"`
	Catalog struct {
		Items []CatalogItem `yaml:"items"`
	} `yaml:"catalog"`
	Ledger struct {
		MaxRetries       int `yaml:"max_retries"`
		RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
	} `yaml:"ledger"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		DevLogin  bool   `yaml:"dev_login"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Blob struct {
		Backend         string `yaml:"backend"`
		Dir             string `yaml:"dir"`
		Bucket          string `yaml:"bucket"`
		CredentialsFile string `yaml:"credentials_file"`
		URLTTL          string `yaml:"url_ttl"`
	} `yaml:"blob"`
	Suggest struct {
		Model string `yaml:"model"`
	} `yaml:"suggest"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig receives committed ledger events. Empty Events means all types.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// CatalogItem is a canonical store entitlement. Price 0 falls back to economy.item_price.
type CatalogItem struct {
	ImageRef    string `yaml:"image_ref"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       int64  `yaml:"price"`
	Type        string `yaml:"type"`
}

// PriceOf returns the effective price of a catalog item.
func (c *Config) PriceOf(it CatalogItem) int64 {
	if it.Price > 0 {
		return it.Price
	}
	return c.Economy.ItemPrice
}

// RetryBaseDelay returns ledger.retry_base_delay_ms as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Ledger.RetryBaseDelayMS) * time.Millisecond
}

// BlobURLTTL parses blob.url_ttl, defaulting to 15 minutes.
func (c *Config) BlobURLTTL() time.Duration {
	d, err := time.ParseDuration(c.Blob.URLTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tq config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Economy.CompletionReward < 0 {
		return fmt.Errorf("config.economy.completion_reward must be >= 0")
	}
	if c.Economy.ItemPrice < 0 {
		return fmt.Errorf("config.economy.item_price must be >= 0")
	}
	seen := map[string]bool{}
	for i, it := range c.Catalog.Items {
		if strings.TrimSpace(it.ImageRef) == "" {
			return fmt.Errorf("config.catalog.items[%d].image_ref is required", i)
		}
		if seen[it.ImageRef] {
			return fmt.Errorf("config.catalog.items has duplicate image_ref %s", it.ImageRef)
		}
		seen[it.ImageRef] = true
		if it.Name == "" {
			return fmt.Errorf("catalog item %s has empty name", it.ImageRef)
		}
		if it.Price < 0 {
			return fmt.Errorf("catalog item %s has negative price", it.ImageRef)
		}
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("config.ledger.max_retries must be >= 0")
	}
	if c.Ledger.RetryBaseDelayMS < 0 {
		return fmt.Errorf("config.ledger.retry_base_delay_ms must be >= 0")
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit must be >= 0")
	}
	switch c.Blob.Backend {
	case "", "local":
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("config.blob.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config.blob.backend must be 'local' or 'gcs'")
	}
	if c.Blob.URLTTL != "" {
		if _, err := time.ParseDuration(c.Blob.URLTTL); err != nil {
			return fmt.Errorf("config.blob.url_ttl: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskquest.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `economy:
  completion_reward: 1
  item_price: 5

catalog:
  items:
    - image_ref: /chapmanBG.png
      name: Chapman Background
      description: "Show your Chapman pride!"
      price: 5
      type: background
    - image_ref: /hospitalBG.png
      name: Hospital Background
      description: "Medical vibes!"
      price: 5
      type: background
    - image_ref: /kuzBG.png
      name: Kyle Kuzma Background
      description: "NBA Star Power!"
      price: 5
      type: background

ledger:
  max_retries: 8
  retry_base_delay_ms: 10

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  dev_login: false
  rate_limit:
    rps: 10
    burst: 20

blob:
  backend: local
  dir: .taskquest/blobs
  url_ttl: 15m

suggest:
  model: gpt-4o-mini

# webhooks:
#   - url: https://example.com/hooks/taskquest
#     events: [task.completed, challenge.completed]
#     secret: change-me
`
