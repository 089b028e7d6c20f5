package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Task    TaskConfig
	Browser BrowserConfig
	Archive ArchiveConfig
	Catalog Catalog
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port     string
	Host     string
	Debug    bool
	LogLevel string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	GroqAPIKey       string
	GroqBaseURL      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	DefaultProvider  string
}

// TaskConfig holds task-related configuration
type TaskConfig struct {
	MaxConcurrentTasks int
	// StageTimeout overrides every per-stage timeout when non-zero.
	StageTimeout     time.Duration
	LLMStageTimeout  time.Duration
	DBPath           string
	OutputsDir       string
	MaxHoverElements int
	MaxPopupElements int
	DefaultListLimit int
}

// BrowserConfig holds the defaults applied to generation requests.
type BrowserConfig struct {
	Headless      bool
	TimeoutMillis int
	SlowMoMillis  int
	UserAgent     string
}

// ArchiveConfig controls the git-backed feature archive.
type ArchiveConfig struct {
	Remote      string
	Token       string
	AuthorName  string
	AuthorEmail string

	// GitHubRepo is "owner/name". When set and Remote is empty, the
	// repository is created on GitHub if missing and used as the remote.
	GitHubRepo    string
	GitHubPrivate bool
	GitHubAPIURL  string

	// PushTimeout bounds one background push to Remote.
	PushTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("SERVER_PORT", "5000"),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			Debug:    getEnvAsBool("DEBUG", false),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		LLM: LLMConfig{
			GroqAPIKey:       getEnv("GROQ_API_KEY", ""),
			GroqBaseURL:      getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			DefaultProvider:  getEnv("DEFAULT_LLM_PROVIDER", "groq"),
		},
		Task: TaskConfig{
			MaxConcurrentTasks: getEnvAsInt("MAX_CONCURRENT_TASKS", 5),
			StageTimeout:       time.Duration(getEnvAsInt("STAGE_TIMEOUT_SECONDS", 0)) * time.Second,
			LLMStageTimeout:    time.Duration(getEnvAsInt("LLM_STAGE_TIMEOUT_SECONDS", 120)) * time.Second,
			DBPath:             getEnv("DB_PATH", "bdd_tests.db"),
			OutputsDir:         getEnv("OUTPUTS_DIR", "outputs"),
			MaxHoverElements:   getEnvAsInt("MAX_HOVER_ELEMENTS", 20),
			MaxPopupElements:   getEnvAsInt("MAX_POPUP_ELEMENTS", 10),
			DefaultListLimit:   getEnvAsInt("DEFAULT_LIST_LIMIT", 50),
		},
		Browser: BrowserConfig{
			Headless:      getEnvAsBool("BROWSER_HEADLESS", true),
			TimeoutMillis: getEnvAsInt("BROWSER_TIMEOUT_MS", 30000),
			SlowMoMillis:  getEnvAsInt("BROWSER_SLOW_MO_MS", 100),
			UserAgent:     getEnv("BROWSER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
		},
		Archive: ArchiveConfig{
			Remote:        getEnv("FEATURE_REPO_REMOTE", ""),
			Token:         getEnv("FEATURE_REPO_TOKEN", ""),
			AuthorName:    getEnv("FEATURE_REPO_AUTHOR", "Gherkin Generator"),
			AuthorEmail:   getEnv("FEATURE_REPO_EMAIL", "bot@gherkin-generator.local"),
			GitHubRepo:    getEnv("FEATURE_REPO_GITHUB", ""),
			GitHubPrivate: getEnvAsBool("FEATURE_REPO_PRIVATE", true),
			GitHubAPIURL:  getEnv("GITHUB_API_URL", ""),
			PushTimeout:   time.Duration(getEnvAsInt("FEATURE_REPO_PUSH_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Catalog: DefaultCatalog(),
	}

	if path := getEnv("CATALOG_FILE", ""); path != "" {
		catalog, err := LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		cfg.Catalog = catalog
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if len(c.Catalog.Providers) == 0 {
		return fmt.Errorf("model catalog is empty")
	}
	if !c.Catalog.HasProvider(c.LLM.DefaultProvider) {
		return fmt.Errorf("DEFAULT_LLM_PROVIDER %q is not in the model catalog", c.LLM.DefaultProvider)
	}
	if c.Task.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1, got %d", c.Task.MaxConcurrentTasks)
	}
	if c.Task.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Task.OutputsDir == "" {
		return fmt.Errorf("OUTPUTS_DIR is required")
	}
	if c.Archive.GitHubRepo != "" {
		if c.Archive.Token == "" {
			return fmt.Errorf("FEATURE_REPO_GITHUB requires FEATURE_REPO_TOKEN")
		}
		if owner, name, ok := strings.Cut(c.Archive.GitHubRepo, "/"); !ok || owner == "" || name == "" {
			return fmt.Errorf("FEATURE_REPO_GITHUB must be owner/name, got %q", c.Archive.GitHubRepo)
		}
	}
	return nil
}

// APIKey returns the configured key for provider, or "" when none is set.
func (c *LLMConfig) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "groq":
		return c.GroqAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "claude":
		return c.AnthropicAPIKey
	}
	return ""
}

// BaseURL returns the OpenAI-compatible endpoint for provider.
func (c *LLMConfig) BaseURL(provider string) string {
	switch strings.ToLower(provider) {
	case "groq":
		return c.GroqBaseURL
	case "openai":
		return c.OpenAIBaseURL
	case "claude":
		return c.AnthropicBaseURL
	}
	return ""
}

// AvailableProviders reports, per catalog provider, whether an API key is configured.
func (c *Config) AvailableProviders() map[string]bool {
	out := make(map[string]bool, len(c.Catalog.Providers))
	for _, p := range c.Catalog.Providers {
		out[p.Name] = c.LLM.APIKey(p.Name) != ""
	}
	return out
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
