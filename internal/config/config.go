package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Development bool `yaml:"development"`
	} `yaml:"logging"`
	Database struct {
		Type           string `yaml:"type"` // "postgres" or "sqlite"
		URL            string `yaml:"url"`
		MigrationsPath string `yaml:"migrations_path"`
	} `yaml:"database"`
	Signals struct {
		Source              string `yaml:"source"` // "database" or "http"
		URL                 string `yaml:"url"`
		WindowHours         int    `yaml:"window_hours"`
		FetchTimeoutSeconds int64  `yaml:"fetch_timeout_seconds"`
		FetchConcurrency    int    `yaml:"fetch_concurrency"`
	} `yaml:"signals"`
	TextAnalyzer struct {
		Provider     string `yaml:"provider"` // "lexicon", "ml_service" or "gemini"
		LexiconPath  string `yaml:"lexicon_path"`
		MLServiceURL string `yaml:"ml_service_url"`
		Gemini       struct {
			APIKey            string `yaml:"api_key"`
			ModelName         string `yaml:"model_name"`
			MaxRetries        int    `yaml:"max_retries"`
			RequestsPerMinute int    `yaml:"requests_per_minute"`
		} `yaml:"gemini"`
	} `yaml:"text_analyzer"`
	Scoring    Scoring `yaml:"scoring"`
	Escalation struct {
		ConfidenceBypass float64 `yaml:"confidence_bypass"`
	} `yaml:"escalation"`
	History struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"history"`
	Scheduler struct {
		DefaultIntervalSeconds     int64    `yaml:"default_interval_seconds"`
		MinIntervalSeconds         int64    `yaml:"min_interval_seconds"`
		HealthCheckIntervalSeconds int64    `yaml:"health_check_interval_seconds"`
		RunOnStart                 bool     `yaml:"run_on_start"`
		MonitoredSubjects          []string `yaml:"monitored_subjects"`
	} `yaml:"scheduler"`
	Events struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"events"`
	Auth struct {
		JWTSecret     string     `yaml:"jwt_secret"`
		TokenTTLHours int        `yaml:"token_ttl_hours"`
		Reviewers     []Reviewer `yaml:"reviewers"`
	} `yaml:"auth"`
	Paging struct {
		Enabled          bool    `yaml:"enabled"`
		TelegramBotToken string  `yaml:"telegram_bot_token"`
		ReviewerChatIDs  []int64 `yaml:"reviewer_chat_ids"`
	} `yaml:"paging"`
	Encryption struct {
		MasterKeyEnv string `yaml:"master_key_env"`
	} `yaml:"encryption"`
}

// Reviewer is a login for the review API. PasswordHash is an argon2id
// hash as printed by cmd/hashpass.
type Reviewer struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Scoring holds the risk scoring parameters.
type Scoring struct {
	ModelVersion string `yaml:"model_version"`
	Thresholds   struct {
		Moderate float64 `yaml:"moderate"`
		High     float64 `yaml:"high"`
		Critical float64 `yaml:"critical"`
		Imminent float64 `yaml:"imminent"`
	} `yaml:"thresholds"`
	Weights struct {
		Trend   float64 `yaml:"trend"`
		Pattern float64 `yaml:"pattern"`
		Text    float64 `yaml:"text"`
	} `yaml:"weights"`
	HighTextFloor      float64 `yaml:"high_text_floor"`
	CriticalTextFloor  float64 `yaml:"critical_text_floor"`
	MinSamples         int     `yaml:"min_samples"`
	FalsePositiveDecay float64 `yaml:"false_positive_decay"`
	MinWeightFraction  float64 `yaml:"min_weight_fraction"`
}

// LoadConfig reads configuration from the specified YAML file and fills in
// defaults for anything left unset.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.ApplyDefaults()

	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.Auth.JWTSecret = os.ExpandEnv(config.Auth.JWTSecret)
	config.Paging.TelegramBotToken = os.ExpandEnv(config.Paging.TelegramBotToken)
	config.TextAnalyzer.Gemini.APIKey = os.ExpandEnv(config.TextAnalyzer.Gemini.APIKey)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults sets defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.URL == "" && c.Database.Type == "sqlite" {
		c.Database.URL = "./data/crisis.db"
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}

	if c.Signals.Source == "" {
		c.Signals.Source = "database"
	}
	if c.Signals.WindowHours == 0 {
		c.Signals.WindowHours = 168
	}
	if c.Signals.FetchTimeoutSeconds == 0 {
		c.Signals.FetchTimeoutSeconds = 10
	}
	if c.Signals.FetchConcurrency == 0 {
		c.Signals.FetchConcurrency = 6
	}

	if c.TextAnalyzer.Provider == "" {
		c.TextAnalyzer.Provider = "lexicon"
	}
	if c.TextAnalyzer.Gemini.ModelName == "" {
		c.TextAnalyzer.Gemini.ModelName = "gemini-2.0-flash-exp"
	}
	if c.TextAnalyzer.Gemini.MaxRetries == 0 {
		c.TextAnalyzer.Gemini.MaxRetries = 3
	}
	if c.TextAnalyzer.Gemini.RequestsPerMinute == 0 {
		c.TextAnalyzer.Gemini.RequestsPerMinute = 8
	}

	s := &c.Scoring
	if s.ModelVersion == "" {
		s.ModelVersion = "heuristic-fusion-v1"
	}
	if s.Thresholds.Moderate == 0 {
		s.Thresholds.Moderate = 25
	}
	if s.Thresholds.High == 0 {
		s.Thresholds.High = 50
	}
	if s.Thresholds.Critical == 0 {
		s.Thresholds.Critical = 75
	}
	if s.Thresholds.Imminent == 0 {
		s.Thresholds.Imminent = 90
	}
	if s.Weights.Trend == 0 && s.Weights.Pattern == 0 && s.Weights.Text == 0 {
		s.Weights.Trend = 1.0 / 3
		s.Weights.Pattern = 1.0 / 3
		s.Weights.Text = 1.0 / 3
	}
	if s.HighTextFloor == 0 {
		s.HighTextFloor = 50
	}
	if s.CriticalTextFloor == 0 {
		s.CriticalTextFloor = 75
	}
	if s.MinSamples == 0 {
		s.MinSamples = 4
	}
	if s.FalsePositiveDecay == 0 {
		s.FalsePositiveDecay = 0.8
	}
	if s.MinWeightFraction == 0 {
		s.MinWeightFraction = 0.3
	}

	if c.Escalation.ConfidenceBypass == 0 {
		c.Escalation.ConfidenceBypass = 0.8
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = 100
	}

	if c.Scheduler.DefaultIntervalSeconds == 0 {
		c.Scheduler.DefaultIntervalSeconds = 300
	}
	if c.Scheduler.MinIntervalSeconds == 0 {
		c.Scheduler.MinIntervalSeconds = 30
	}
	if c.Scheduler.HealthCheckIntervalSeconds == 0 {
		c.Scheduler.HealthCheckIntervalSeconds = 600
	}

	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 64
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Encryption.MasterKeyEnv == "" {
		c.Encryption.MasterKeyEnv = "MASTER_KEY"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	switch c.Signals.Source {
	case "database":
	case "http":
		if c.Signals.URL == "" {
			return fmt.Errorf("signals.url is required for the http signal source")
		}
	default:
		return fmt.Errorf("unsupported signal source %q", c.Signals.Source)
	}
	switch c.TextAnalyzer.Provider {
	case "lexicon", "ml_service", "gemini":
	default:
		return fmt.Errorf("unsupported text analyzer provider %q", c.TextAnalyzer.Provider)
	}

	t := c.Scoring.Thresholds
	if !(t.Moderate < t.High && t.High < t.Critical && t.Critical < t.Imminent) {
		return fmt.Errorf("scoring thresholds must be strictly increasing")
	}
	if c.Scoring.FalsePositiveDecay <= 0 || c.Scoring.FalsePositiveDecay >= 1 {
		return fmt.Errorf("scoring.false_positive_decay must be in (0,1)")
	}
	if c.Scoring.MinWeightFraction <= 0 || c.Scoring.MinWeightFraction > 1 {
		return fmt.Errorf("scoring.min_weight_fraction must be in (0,1]")
	}
	if c.Scheduler.MinIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.min_interval_seconds must be positive")
	}
	return nil
}

// DefaultInterval is the scheduler's default re-assessment interval.
func (c *Config) DefaultInterval() time.Duration {
	return time.Duration(c.Scheduler.DefaultIntervalSeconds) * time.Second
}

// MinInterval is the smallest interval the scheduler accepts.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Scheduler.MinIntervalSeconds) * time.Second
}

// HealthCheckInterval is the period between performance health checks.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Scheduler.HealthCheckIntervalSeconds) * time.Second
}

// FetchTimeout bounds every individual signal fetch.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Signals.FetchTimeoutSeconds) * time.Second
}

// TokenTTL is how long reviewer tokens stay valid.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// ReviewerHashes maps reviewer usernames to their password hashes.
func (c *Config) ReviewerHashes() map[string]string {
	out := make(map[string]string, len(c.Auth.Reviewers))
	for _, r := range c.Auth.Reviewers {
		out[r.Username] = r.PasswordHash
	}
	return out
}

// Window is the signal window used for each assessment.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Signals.WindowHours) * time.Hour
}
