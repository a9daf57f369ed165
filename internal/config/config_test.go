package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LLM_PROVIDER", "SESSION_TTL", "SESSION_BACKEND", "CONFIG_PATH", "GEMINI_MODEL", "DOCSTORE_NAMESPACE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, "gemini-1.5-flash", cfg.AI.GeminiModel)
	assert.InDelta(t, 1.0, cfg.AI.Temperature, 1e-6)
	assert.InDelta(t, 0.95, cfg.AI.TopP, 1e-6)
	assert.InDelta(t, 64, cfg.AI.TopK, 1e-6)
	assert.EqualValues(t, 8192, cfg.AI.MaxOutputTokens)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, SessionBackendMemory, cfg.Session.Backend)
	assert.Equal(t, "default_keyspace", cfg.DocStore.Namespace)
}

func TestLoadServerAddrForms(t *testing.T) {
	cases := map[string]string{
		"8080":           ":8080",
		":9090":          ":9090",
		"127.0.0.1:7000": "127.0.0.1:7000",
	}
	for in, want := range cases {
		t.Setenv("PORT", in)
		cfg, err := Load()
		require.NoError(t, err, in)
		assert.Equal(t, want, cfg.Server.Addr, in)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":            "eighty",
		"LLM_TEMPERATURE": "hot",
		"SESSION_TTL":     "forever",
		"SESSION_BACKEND": "postgres",
		"LLM_PROVIDER":    "parrot",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tavern.yaml")
	content := "PORT: \"4000\"\nGEMINI_MODEL: gemini-2.0-flash\nSESSION_TTL: 30m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "")
	t.Setenv("GEMINI_MODEL", "")
	t.Setenv("SESSION_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, "gemini-2.0-flash", cfg.AI.GeminiModel)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{Provider: ProviderGemini}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderGemini, GeminiAPIKey: "k"}.Enabled())
	assert.False(t, AIConfig{Provider: ProviderArk, ArkAPIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, ArkAPIKey: "k", ArkModel: "m"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, ArkAccessKey: "a", ArkSecretKey: "s", ArkModel: "m"}.Enabled())
}

func TestSessionConfigValidate(t *testing.T) {
	require.Error(t, SessionConfig{}.Validate())
	require.NoError(t, SessionConfig{Secret: "abc"}.Validate())
}
