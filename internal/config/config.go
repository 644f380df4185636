package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blogpilot/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            App         `mapstructure:"app"`
	Logging        Logging     `mapstructure:"logging"`
	Paths          Paths       `mapstructure:"paths"`
	AI             AI          `mapstructure:"ai"`
	Retry          Retry       `mapstructure:"retry"`
	Quality        Quality     `mapstructure:"quality"`
	Association    Association `mapstructure:"association"`
	Series         Series      `mapstructure:"series"`
	Schedule       Schedule    `mapstructure:"schedule"`
	WordPress      WordPress   `mapstructure:"wordpress"`
	Telegram       Telegram    `mapstructure:"telegram"`
	Messaging      Messaging   `mapstructure:"messaging"`
	Database       Database    `mapstructure:"database"`
	Server         Server      `mapstructure:"server"`
	PostHog        PostHog     `mapstructure:"posthog"`
	RetryQueue     RetryQueue  `mapstructure:"retry_queue"`
	CategoriesFile string      `mapstructure:"categories_file"`
	SynonymsFile   string      `mapstructure:"synonyms_file"`
}

// App holds general application configuration
type App struct {
	Debug           bool     `mapstructure:"debug"`
	ConfigFile      string   `mapstructure:"config_file"`
	AllowedMajors   []string `mapstructure:"allowed_majors"`
	MinTextLength   int      `mapstructure:"min_text_length"`
	MaxFilenameLen  int      `mapstructure:"max_filename_length"`
	DefaultCategory int      `mapstructure:"default_category_id"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Paths holds the directory layout
type Paths struct {
	Input     string `mapstructure:"input"`
	Processed string `mapstructure:"processed"`
	Drafts    string `mapstructure:"drafts"`
	Review    string `mapstructure:"review"`
	Data      string `mapstructure:"data"`
}

// AI holds model configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	FallbackModel       string  `mapstructure:"fallback_model"`
	ReviewModel         string  `mapstructure:"review_model"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int32   `mapstructure:"embedding_dimensions"`
	Timeout             string  `mapstructure:"timeout"`
	MaxTokens           int32   `mapstructure:"max_tokens"`
	Temperature         float32 `mapstructure:"temperature"`
	RequestsPerMinute   int     `mapstructure:"requests_per_minute"`
	CoverImageEnabled   bool    `mapstructure:"cover_image_enabled"`
	CoverImageModel     string  `mapstructure:"cover_image_model"`
}

// Retry holds the model-call retry policy
type Retry struct {
	Attempts int    `mapstructure:"attempts"`
	Base     string `mapstructure:"base"`
	Cap      string `mapstructure:"cap"`
}

// Quality holds the review gate configuration
type Quality struct {
	Enabled     bool                 `mapstructure:"enabled"`
	MaxRewrites int                  `mapstructure:"max_rewrites"`
	Thresholds  map[string]Threshold `mapstructure:"thresholds"`
}

// Threshold is a pass/rewrite pair for one category
type Threshold struct {
	Pass    float64 `mapstructure:"pass"`
	Rewrite float64 `mapstructure:"rewrite"`
}

// Association holds dedup and related-article tuning
type Association struct {
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
	RelevanceFloor     float64 `mapstructure:"relevance_floor"`
	RelatedLimit       int     `mapstructure:"related_limit"`
	PrefilterLimit     int     `mapstructure:"prefilter_limit"`
}

// Series holds series detection tuning
type Series struct {
	Threshold        float64 `mapstructure:"threshold"`
	PatternThreshold float64 `mapstructure:"pattern_threshold"`
	AmbiguityBand    float64 `mapstructure:"ambiguity_band"`
	MinTierOverlap   int     `mapstructure:"min_tier_overlap"`
	Lookback         string  `mapstructure:"lookback"`
}

// Schedule holds polling and publish window configuration
type Schedule struct {
	PollInterval  string `mapstructure:"poll_interval"`
	WindowEnabled bool   `mapstructure:"window_enabled"`
	WindowStart   int    `mapstructure:"window_start"`
	WindowEnd     int    `mapstructure:"window_end"`
	Workers       int    `mapstructure:"workers"`
	Watch         bool   `mapstructure:"watch"`
}

// WordPress holds publish target configuration
type WordPress struct {
	URL         string `mapstructure:"url"`
	User        string `mapstructure:"user"`
	AppPassword string `mapstructure:"app_password"`
	Timeout     string `mapstructure:"timeout"`
	Status      string `mapstructure:"status"`
}

// Telegram holds notifier configuration
type Telegram struct {
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
	APIBase   string `mapstructure:"api_base"`
	Timeout   string `mapstructure:"timeout"`
}

// Messaging holds webhook fallback configuration
type Messaging struct {
	Timeout string        `mapstructure:"timeout"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Discord DiscordConfig `mapstructure:"discord"`
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
	IconEmoji  string `mapstructure:"icon_emoji"`
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
}

// Database holds the article store configuration
type Database struct {
	ConnectionString string `mapstructure:"connection_string"`
	MaxOpenConns     int    `mapstructure:"max_open_conns"`
}

// Server holds the ops HTTP server configuration
type Server struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// PostHog holds analytics configuration
type PostHog struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Host    string `mapstructure:"host"`
}

// RetryQueue holds failed-ingest queue configuration
type RetryQueue struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".blogpilot")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, core.E(core.KindConfig, "config.load", "error reading config file", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, core.E(core.KindConfig, "config.load", "error unmarshaling config", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, core.E(core.KindConfig, "config.load", "error post-processing config", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.allowed_majors", []string{"Articles", "Books", "Magazine", "News"})
	viper.SetDefault("app.min_text_length", 50)
	viper.SetDefault("app.max_filename_length", 100)
	viper.SetDefault("app.default_category_id", 15)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("paths.input", "input")
	viper.SetDefault("paths.processed", "processed")
	viper.SetDefault("paths.drafts", "drafts")
	viper.SetDefault("paths.review", "review")
	viper.SetDefault("paths.data", ".blogpilot")

	viper.SetDefault("ai.gemini.model", "gemini-2.5-pro")
	viper.SetDefault("ai.gemini.review_model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dimensions", 768)
	viper.SetDefault("ai.gemini.timeout", "120s")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.gemini.requests_per_minute", 60)
	viper.SetDefault("ai.gemini.cover_image_enabled", false)
	viper.SetDefault("ai.gemini.cover_image_model", "imagen-4.0-generate-001")

	viper.SetDefault("retry.attempts", 3)
	viper.SetDefault("retry.base", "2s")
	viper.SetDefault("retry.cap", "30s")

	viper.SetDefault("quality.enabled", true)
	viper.SetDefault("quality.max_rewrites", 2)
	viper.SetDefault("quality.thresholds", map[string]any{
		"news":     map[string]any{"pass": 6, "rewrite": 4},
		"articles": map[string]any{"pass": 7, "rewrite": 5},
		"magazine": map[string]any{"pass": 7, "rewrite": 5},
		"books":    map[string]any{"pass": 8, "rewrite": 6},
		"paper":    map[string]any{"pass": 8, "rewrite": 6},
	})

	viper.SetDefault("association.duplicate_threshold", 0.95)
	viper.SetDefault("association.relevance_floor", 0.70)
	viper.SetDefault("association.related_limit", 5)
	viper.SetDefault("association.prefilter_limit", 50)

	viper.SetDefault("series.threshold", 0.85)
	viper.SetDefault("series.pattern_threshold", 0.75)
	viper.SetDefault("series.ambiguity_band", 0.10)
	viper.SetDefault("series.min_tier_overlap", 3)
	viper.SetDefault("series.lookback", "2160h")

	viper.SetDefault("schedule.poll_interval", "10m")
	viper.SetDefault("schedule.window_enabled", false)
	viper.SetDefault("schedule.window_start", 8)
	viper.SetDefault("schedule.window_end", 22)
	viper.SetDefault("schedule.workers", 1)
	viper.SetDefault("schedule.watch", true)

	viper.SetDefault("wordpress.timeout", "30s")
	viper.SetDefault("wordpress.status", "publish")

	viper.SetDefault("telegram.api_base", "https://api.telegram.org")
	viper.SetDefault("telegram.timeout", "10s")

	viper.SetDefault("messaging.timeout", "10s")
	viper.SetDefault("messaging.slack.username", "blogpilot")
	viper.SetDefault("messaging.slack.icon_emoji", ":newspaper:")
	viper.SetDefault("messaging.discord.username", "blogpilot")

	viper.SetDefault("database.max_open_conns", 10)

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8089)

	viper.SetDefault("posthog.enabled", false)
	viper.SetDefault("posthog.host", "https://us.i.posthog.com")

	viper.SetDefault("retry_queue.max_attempts", 5)
	viper.SetDefault("categories_file", "categories.json")
	viper.SetDefault("synonyms_file", "tag_synonyms.json")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("ai.gemini.fallback_model", []string{
		"GEMINI_FALLBACK_MODEL",
		"AI_FALLBACK_MODEL",
	})

	bindEnvKeys("wordpress.url", []string{"WP_URL", "WORDPRESS_URL"})
	bindEnvKeys("wordpress.user", []string{"WP_USER", "WORDPRESS_USER"})
	bindEnvKeys("wordpress.app_password", []string{"WP_APP_PASSWORD", "WORDPRESS_APP_PASSWORD"})

	bindEnvKeys("telegram.bot_token", []string{"TG_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"})
	bindEnvKeys("telegram.channel_id", []string{"TG_CHANNEL_ID", "TELEGRAM_CHANNEL_ID"})

	bindEnvKeys("messaging.slack.webhook_url", []string{
		"SLACK_WEBHOOK_URL",
		"SLACK_WEBHOOK",
	})
	bindEnvKeys("messaging.discord.webhook_url", []string{
		"DISCORD_WEBHOOK_URL",
		"DISCORD_WEBHOOK",
	})

	bindEnvKeys("database.connection_string", []string{
		"DATABASE_URL",
		"BLOGPILOT_DATABASE_URL",
	})

	bindEnvKeys("posthog.api_key", []string{"POSTHOG_API_KEY"})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"BLOGPILOT_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	config.Paths.Input = expandPath(config.Paths.Input)
	config.Paths.Processed = expandPath(config.Paths.Processed)
	config.Paths.Drafts = expandPath(config.Paths.Drafts)
	config.Paths.Review = expandPath(config.Paths.Review)
	config.Paths.Data = expandPath(config.Paths.Data)
	config.CategoriesFile = expandPath(config.CategoriesFile)
	config.SynonymsFile = expandPath(config.SynonymsFile)

	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	// Category keys are matched case-insensitively
	normalized := make(map[string]Threshold, len(config.Quality.Thresholds))
	for k, v := range config.Quality.Thresholds {
		normalized[strings.ToLower(k)] = v
	}
	config.Quality.Thresholds = normalized

	durations := map[string]string{
		"ai.gemini.timeout":      config.AI.Gemini.Timeout,
		"retry.base":             config.Retry.Base,
		"retry.cap":              config.Retry.Cap,
		"series.lookback":        config.Series.Lookback,
		"schedule.poll_interval": config.Schedule.PollInterval,
		"wordpress.timeout":      config.WordPress.Timeout,
		"telegram.timeout":       config.Telegram.Timeout,
		"messaging.timeout":      config.Messaging.Timeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	if config.AI.Gemini.APIKey == "" {
		errors = append(errors, "Gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.")
	}
	if config.AI.Gemini.FallbackModel != "" && config.AI.Gemini.FallbackModel == config.AI.Gemini.Model {
		errors = append(errors, "ai.gemini.fallback_model must differ from ai.gemini.model")
	}

	if config.WordPress.URL == "" || config.WordPress.User == "" || config.WordPress.AppPassword == "" {
		errors = append(errors, "WordPress url, user and app password are required. Set WP_URL, WP_USER and WP_APP_PASSWORD")
	}

	if config.Telegram.BotToken != "" && config.Telegram.ChannelID == "" {
		errors = append(errors, "telegram.channel_id is required when a bot token is configured")
	}

	if err := validateHour("schedule.window_start", config.Schedule.WindowStart); err != "" {
		errors = append(errors, err)
	}
	if err := validateHour("schedule.window_end", config.Schedule.WindowEnd); err != "" {
		errors = append(errors, err)
	}
	if config.Schedule.WindowEnabled && config.Schedule.WindowStart == config.Schedule.WindowEnd {
		errors = append(errors, "schedule.window_start and schedule.window_end must differ when the window is enabled")
	}

	if config.Retry.Attempts < 1 {
		errors = append(errors, "retry.attempts must be at least 1")
	}

	a := config.Association
	if a.DuplicateThreshold <= 0 || a.DuplicateThreshold > 1 {
		errors = append(errors, fmt.Sprintf("association.duplicate_threshold must be in (0,1], got %.2f", a.DuplicateThreshold))
	}
	if a.RelevanceFloor >= a.DuplicateThreshold {
		errors = append(errors, "association.relevance_floor must be lower than association.duplicate_threshold")
	}

	s := config.Series
	if s.PatternThreshold > s.Threshold {
		errors = append(errors, "series.pattern_threshold must not exceed series.threshold")
	}
	if s.Threshold >= a.DuplicateThreshold {
		errors = append(errors, "series.threshold must be looser than association.duplicate_threshold")
	}

	for category, th := range config.Quality.Thresholds {
		if th.Rewrite > th.Pass {
			errors = append(errors, fmt.Sprintf("quality.thresholds.%s: rewrite (%.1f) above pass (%.1f)", category, th.Rewrite, th.Pass))
		}
	}

	if len(errors) > 0 {
		return core.E(core.KindConfig, "config.validate",
			fmt.Sprintf("configuration errors:\n- %s", strings.Join(errors, "\n- ")), nil)
	}

	return nil
}

func validateHour(key string, h int) string {
	if h < 0 || h > 23 {
		return fmt.Sprintf("%s must be an hour between 0 and 23, got %d", key, h)
	}
	return ""
}

// Duration parses a validated duration string, falling back when empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// StoreEnabled reports whether the article store is configured.
func (c *Config) StoreEnabled() bool {
	return c.Database.ConnectionString != ""
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
