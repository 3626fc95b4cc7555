package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gomatter/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Rules       RulesConfig       `validate:"required"`
	Database    DatabaseConfig    `validate:"required"`
	LLM         LLMConfig         `validate:"required"`
	Energy      EnergyConfig
	Reference   ReferenceConfig
	Timeouts    TimeoutConfig     `validate:"required"`
	Feasibility FeasibilityConfig `validate:"required"`
	Server      ServerConfig      `validate:"required"`
	Batch       BatchConfig       `validate:"required"`
}

// RulesConfig locates the persisted rule files
type RulesConfig struct {
	Dir           string  `validate:"required"`
	Watch         bool
	MinConfidence float64 `validate:"gte=0,lte=1"`
}

// DatabaseConfig selects the materials database
type DatabaseConfig struct {
	Driver string `validate:"required,oneof=postgres sqlite"`
	URL    string `validate:"required"`

	// CacheSize is the number of looked-up records kept in memory; zero disables the cache
	CacheSize int `validate:"gte=0"`
}

// LLMConfig holds narrative generation settings
type LLMConfig struct {
	Mode          string  `validate:"required,oneof=llm heuristic"`
	APIKey        string  `validate:"required_if=Mode llm"`
	Model         string  `validate:"required"`
	BaseURL       string  `validate:"omitempty,url"`
	Temperature   float64 `validate:"gte=0,lte=2"`
	MaxTokens     int     `validate:"gt=0"`
	RatePerSecond float64 `validate:"gte=0"`
	PromptsDir    string
}

// EnergyConfig points at the formation-energy prediction service; empty disables prediction
type EnergyConfig struct {
	ServiceURL string `validate:"omitempty,url"`
}

// ReferenceConfig optionally names an xlsx sheet of competing-phase energies
type ReferenceConfig struct {
	PhasesFile string
}

// TimeoutConfig bounds each external collaborator call
type TimeoutConfig struct {
	Lookup     time.Duration `validate:"gt=0"`
	Generation time.Duration `validate:"gt=0"`
	Prediction time.Duration `validate:"gt=0"`
	Reference  time.Duration `validate:"gt=0"`
}

// FeasibilityConfig tunes the stability decision, energies in eV/atom
type FeasibilityConfig struct {
	HullTolerance           float64 `validate:"gte=0"`
	MetastableWindow        float64 `validate:"gt=0"`
	ChargeTolerance         float64 `validate:"gte=0"`
	HeuristicStableEnergy   float64
	HeuristicUnstableEnergy float64 `validate:"gtefield=HeuristicStableEnergy"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port     string `validate:"required"`
	GinMode  string `validate:"omitempty,oneof=debug release test"`
	LogLevel string `validate:"omitempty,oneof=error warn info debug trace"`
}

// BatchConfig bounds concurrent runs for batch requests
type BatchConfig struct {
	Concurrency int `validate:"gte=1"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Rules:       loadRulesConfig(),
		Database:    loadDatabaseConfig(),
		LLM:         loadLLMConfig(),
		Energy:      EnergyConfig{ServiceURL: getEnvOrDefault("ENERGY_SERVICE_URL", "")},
		Reference:   ReferenceConfig{PhasesFile: getEnvOrDefault("REFERENCE_PHASES_FILE", "")},
		Timeouts:    loadTimeoutConfig(),
		Feasibility: loadFeasibilityConfig(),
		Server: ServerConfig{
			Port:     getEnvOrDefault("PORT", "8080"),
			GinMode:  getEnvOrDefault("GIN_MODE", "release"),
			LogLevel: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		},
		Batch: BatchConfig{Concurrency: getEnvIntOrDefault("BATCH_CONCURRENCY", 4)},
	}

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Rules:       RulesConfig{Dir: "./rules", MinConfidence: 0},
		Database:    DatabaseConfig{Driver: "sqlite", URL: "file:gomatter.db?_pragma=busy_timeout(5000)", CacheSize: 256},
		LLM:         LLMConfig{Mode: "heuristic", Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 1200},
		Timeouts:    TimeoutConfig{Lookup: 10 * time.Second, Generation: 60 * time.Second, Prediction: 120 * time.Second, Reference: 10 * time.Second},
		Feasibility: FeasibilityConfig{HullTolerance: 0.001, MetastableWindow: 0.1, HeuristicStableEnergy: -0.05, HeuristicUnstableEnergy: 0.05},
		Server:      ServerConfig{Port: "8080", GinMode: "release", LogLevel: "info"},
		Batch:       BatchConfig{Concurrency: 4},
	}
}

func loadRulesConfig() RulesConfig {
	d := Default().Rules
	return RulesConfig{
		Dir:           getEnvOrDefault("RULES_DIR", d.Dir),
		Watch:         getEnvBoolOrDefault("RULES_WATCH", false),
		MinConfidence: getEnvFloatOrDefault("RULES_MIN_CONFIDENCE", d.MinConfidence),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	d := Default().Database
	url := getEnvOrDefault("DATABASE_URL", d.URL)
	driver := getEnvOrDefault("DATABASE_DRIVER", "")
	if driver == "" {
		driver = d.Driver
		if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
			driver = "postgres"
		}
	}
	return DatabaseConfig{Driver: driver, URL: url, CacheSize: getEnvIntOrDefault("DATABASE_CACHE_SIZE", d.CacheSize)}
}

func loadLLMConfig() LLMConfig {
	d := Default().LLM
	return LLMConfig{
		Mode:          strings.ToLower(getEnvOrDefault("GENERATOR_MODE", d.Mode)),
		APIKey:        getEnvOrDefault("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		Model:         getEnvOrDefault("LLM_MODEL", d.Model),
		BaseURL:       getEnvOrDefault("LLM_BASE_URL", ""),
		Temperature:   getEnvFloatOrDefault("LLM_TEMPERATURE", d.Temperature),
		MaxTokens:     getEnvIntOrDefault("LLM_MAX_TOKENS", d.MaxTokens),
		RatePerSecond: getEnvFloatOrDefault("LLM_RATE_PER_SECOND", 0),
		PromptsDir:    getEnvOrDefault("LLM_PROMPTS_DIR", ""),
	}
}

func loadTimeoutConfig() TimeoutConfig {
	d := Default().Timeouts
	return TimeoutConfig{
		Lookup:     getEnvDurationOrDefault("LOOKUP_TIMEOUT", d.Lookup),
		Generation: getEnvDurationOrDefault("GENERATION_TIMEOUT", d.Generation),
		Prediction: getEnvDurationOrDefault("PREDICTION_TIMEOUT", d.Prediction),
		Reference:  getEnvDurationOrDefault("REFERENCE_TIMEOUT", d.Reference),
	}
}

func loadFeasibilityConfig() FeasibilityConfig {
	d := Default().Feasibility
	return FeasibilityConfig{
		HullTolerance:           getEnvFloatOrDefault("HULL_TOLERANCE", d.HullTolerance),
		MetastableWindow:        getEnvFloatOrDefault("METASTABLE_WINDOW", d.MetastableWindow),
		ChargeTolerance:         getEnvFloatOrDefault("CHARGE_TOLERANCE", d.ChargeTolerance),
		HeuristicStableEnergy:   getEnvFloatOrDefault("HEURISTIC_STABLE_ENERGY", d.HeuristicStableEnergy),
		HeuristicUnstableEnergy: getEnvFloatOrDefault("HEURISTIC_UNSTABLE_ENERGY", d.HeuristicUnstableEnergy),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and returns a CONFIG_INVALID error naming the first bad field
func Validate(config *Config) error {
	if err := validate.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.ConfigInvalid(fe.Namespace() + " failed '" + fe.Tag() + "' validation")
		}
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
