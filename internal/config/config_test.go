package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RULES_DIR", "DATABASE_URL", "DATABASE_DRIVER", "GENERATOR_MODE", "LLM_API_KEY", "OPENAI_API_KEY", "BATCH_CONCURRENCY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./rules", cfg.Rules.Dir)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "heuristic", cfg.LLM.Mode)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Lookup)
	assert.Equal(t, 0.1, cfg.Feasibility.MetastableWindow)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RULES_DIR", "/srv/rules")
	t.Setenv("RULES_WATCH", "true")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/materials?sslmode=disable")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("LOOKUP_TIMEOUT", "3s")
	t.Setenv("METASTABLE_WINDOW", "0.05")
	t.Setenv("BATCH_CONCURRENCY", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/rules", cfg.Rules.Dir)
	assert.True(t, cfg.Rules.Watch)
	assert.Equal(t, "postgres", cfg.Database.Driver, "driver is inferred from the URL scheme")
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Lookup)
	assert.Equal(t, 0.05, cfg.Feasibility.MetastableWindow)
	assert.Equal(t, 16, cfg.Batch.Concurrency)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"llm mode without key", map[string]string{"GENERATOR_MODE": "llm", "LLM_API_KEY": "", "OPENAI_API_KEY": ""}},
		{"unknown generator mode", map[string]string{"GENERATOR_MODE": "oracle"}},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mysql"}},
		{"zero concurrency", map[string]string{"BATCH_CONCURRENCY": "0"}},
		{"inverted heuristic window", map[string]string{"HEURISTIC_STABLE_ENERGY": "0.2", "HEURISTIC_UNSTABLE_ENERGY": "0.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}
