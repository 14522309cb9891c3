package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
addr = ":9090"

[providers.openai]
api_key = "sk-file"
base_url = "http://localhost:1234"

[providers.anthropic]
api_key = "ak-file"

[store]
path = "chat.db"

[scoring]
assistant_id = "grader"

[timeouts]
completion = "90s"
scoring = "10s"
vector_query = "5s"

[nats]
url = "nats://localhost:4222"
subject_prefix = "fai"

[[assistants]]
id = "helper"
provider = "openai"
model = "gpt-4o"
instructions = "Answer briefly."

[[assistants]]
id = "librarian"
provider = "anthropic"
model = "claude-sonnet-4-0"
collection_id = "docs"
max_collection_results = 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	pinEnv(t)
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "sk-file", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:1234", cfg.Providers.OpenAI.BaseURL)
	assert.Equal(t, "ak-file", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, "chat.db", cfg.Store.Path)
	assert.Equal(t, "grader", cfg.Scoring.AssistantID)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Completion.Std())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Scoring.Std())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.VectorQuery.Std())
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "fai", cfg.NATS.SubjectPrefix)

	require.Len(t, cfg.Assistants, 2)
	assert.Equal(t, "helper", cfg.Assistants[0].ID)
	assert.Equal(t, "anthropic", cfg.Assistants[1].Provider)
	assert.Equal(t, 5, cfg.Assistants[1].MaxCollectionResults)
}

// pinEnv blanks every variable the loader reads so ambient shell state
// (a developer's exported OPENAI_API_KEY, say) cannot leak into the test.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"FAI_ADDR",
		"FAI_OPENAI_API_KEY", "OPENAI_API_KEY",
		"FAI_OPENAI_BASE_URL",
		"FAI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY",
		"FAI_ANTHROPIC_BASE_URL",
		"FAI_STORE_PATH",
		"FAI_SCORING_ASSISTANT",
		"FAI_NATS_URL",
		"FAI_NATS_SUBJECT_PREFIX",
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	pinEnv(t)
	t.Setenv("FAI_OPENAI_API_KEY", "sk-env")
	t.Setenv("FAI_STORE_PATH", "/var/lib/fai/chat.db")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "/var/lib/fai/chat.db", cfg.Store.Path)
	// untouched values keep the file's settings
	assert.Equal(t, "ak-file", cfg.Providers.Anthropic.APIKey)
}

func TestLoad_FallbackKeyNames(t *testing.T) {
	pinEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv("FAI_ANTHROPIC_API_KEY", "ak-prefixed")
	t.Setenv("ANTHROPIC_API_KEY", "ak-plain")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", cfg.Providers.OpenAI.APIKey)
	// the FAI_ name wins over the bare fallback
	assert.Equal(t, "ak-prefixed", cfg.Providers.Anthropic.APIKey)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	pinEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Completion.Std())
	assert.Equal(t, 15*time.Second, cfg.Timeouts.VectorQuery.Std())
}

func TestLoad_BadToml(t *testing.T) {
	_, err := Load(writeConfig(t, "addr = [broken"))
	assert.Error(t, err)
}
