// Package config loads engine configuration from a TOML file with
// FAI_-prefixed environment overrides for secrets and deploy-time knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration parses TOML duration strings such as "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig is one backend's credentials. BaseURL is optional and
// mostly useful for proxies and test doubles.
type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `toml:"openai"`
	Anthropic ProviderConfig `toml:"anthropic"`
}

type StoreConfig struct {
	// Path of the sqlite database file; empty selects the in-memory store.
	Path string `toml:"path"`
}

type ScoringConfig struct {
	// AssistantID names the assistant whose model grades retrieved
	// passages for grounded chats.
	AssistantID string `toml:"assistant_id"`
}

type TimeoutsConfig struct {
	Completion  Duration `toml:"completion"`
	Scoring     Duration `toml:"scoring"`
	VectorQuery Duration `toml:"vector_query"`
}

type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// AssistantConfig declares one chat persona in the config file.
type AssistantConfig struct {
	ID                   string `toml:"id"`
	Provider             string `toml:"provider"`
	Model                string `toml:"model"`
	Instructions         string `toml:"instructions"`
	CollectionID         string `toml:"collection_id"`
	MaxCollectionResults int    `toml:"max_collection_results"`
}

type Config struct {
	Addr       string            `toml:"addr"`
	Providers  ProvidersConfig   `toml:"providers"`
	Store      StoreConfig       `toml:"store"`
	Scoring    ScoringConfig     `toml:"scoring"`
	Timeouts   TimeoutsConfig    `toml:"timeouts"`
	NATS       NATSConfig        `toml:"nats"`
	Assistants []AssistantConfig `toml:"assistants"`
}

// Load reads the TOML file at path when it exists and then applies
// environment overrides. A missing file is not an error; everything can
// come from the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Addr: ":8080",
		Timeouts: TimeoutsConfig{
			Completion:  Duration(2 * time.Minute),
			Scoring:     Duration(30 * time.Second),
			VectorQuery: Duration(15 * time.Second),
		},
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setenv(&c.Addr, "FAI_ADDR")
	setenv(&c.Providers.OpenAI.APIKey, "FAI_OPENAI_API_KEY", "OPENAI_API_KEY")
	setenv(&c.Providers.OpenAI.BaseURL, "FAI_OPENAI_BASE_URL")
	setenv(&c.Providers.Anthropic.APIKey, "FAI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	setenv(&c.Providers.Anthropic.BaseURL, "FAI_ANTHROPIC_BASE_URL")
	setenv(&c.Store.Path, "FAI_STORE_PATH")
	setenv(&c.Scoring.AssistantID, "FAI_SCORING_ASSISTANT")
	setenv(&c.NATS.URL, "FAI_NATS_URL")
	setenv(&c.NATS.SubjectPrefix, "FAI_NATS_SUBJECT_PREFIX")
}

// setenv writes the first non-empty named variable into dst.
func setenv(dst *string, names ...string) {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			*dst = value
			return
		}
	}
}
