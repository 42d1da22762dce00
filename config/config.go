package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"linguahub/progression"
)

type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		Mode           string   `yaml:"mode"` // "prod" or "dev"
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Database struct {
		URI string `yaml:"uri"`
	} `yaml:"database"`

	// Empty Addr disables redis: idempotency falls back to memory and rate limiting is off
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Identity struct {
		Provider  string `yaml:"provider"` // "jwt" or "cognito"
		JWTSecret string `yaml:"jwtSecret"`
		Cognito   struct {
			Region     string `yaml:"region"`
			UserPoolId string `yaml:"userPoolId"`
		} `yaml:"cognito"`
	} `yaml:"identity"`

	Progression struct {
		MaxHearts             int   `yaml:"maxHearts"`
		RegenIntervalMinutes  int   `yaml:"regenIntervalMinutes"`
		XPPerExercise         int64 `yaml:"xpPerExercise"`
		PointsPerExercise     int   `yaml:"pointsPerExercise"`
		TopicCompletionBonus  int64 `yaml:"topicCompletionBonus"`
		MaxCommitAttempts     int   `yaml:"maxCommitAttempts"`
		IdempotencyTTLSeconds int   `yaml:"idempotencyTTLSeconds"`
	} `yaml:"progression"`

	RateLimit struct {
		SubmissionsPerMinute int `yaml:"submissionsPerMinute"`
	} `yaml:"rateLimit"`

	RBAC struct {
		PersistPolicies bool `yaml:"persistPolicies"`
	} `yaml:"rbac"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"serviceName"`
	} `yaml:"tracing"`
}

// LoadConfig reads the configuration file, fills defaults and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns CONFIG_PATH or the production default
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.prod.yml"
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 1313
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "dev"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.Identity.Provider == "" {
		c.Identity.Provider = "jwt"
	}
	p := &c.Progression
	if p.MaxHearts == 0 {
		p.MaxHearts = 5
	}
	if p.RegenIntervalMinutes == 0 {
		p.RegenIntervalMinutes = 30
	}
	if p.XPPerExercise == 0 {
		p.XPPerExercise = 50
	}
	if p.PointsPerExercise == 0 {
		p.PointsPerExercise = 50
	}
	if p.TopicCompletionBonus == 0 {
		p.TopicCompletionBonus = 500
	}
	if p.MaxCommitAttempts == 0 {
		p.MaxCommitAttempts = 5
	}
	if p.IdempotencyTTLSeconds == 0 {
		p.IdempotencyTTLSeconds = 24 * 60 * 60
	}
	if c.RateLimit.SubmissionsPerMinute == 0 {
		c.RateLimit.SubmissionsPerMinute = 60
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "linguahub"
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return fmt.Errorf("database.uri is required")
	}
	switch c.Identity.Provider {
	case "jwt":
		if c.Identity.JWTSecret == "" {
			return fmt.Errorf("identity.jwtSecret is required for the jwt provider")
		}
	case "cognito":
		if c.Identity.Cognito.Region == "" {
			return fmt.Errorf("identity.cognito.region is required for the cognito provider")
		}
	default:
		return fmt.Errorf("unknown identity.provider %q", c.Identity.Provider)
	}
	p := c.Progression
	if p.MaxHearts < 0 || p.RegenIntervalMinutes < 0 || p.XPPerExercise < 0 ||
		p.PointsPerExercise < 0 || p.TopicCompletionBonus < 0 || p.MaxCommitAttempts < 0 {
		return fmt.Errorf("progression values must not be negative")
	}
	return nil
}

// Rules builds the progression parameters from this config
func (c *Config) Rules() *progression.Config {
	p := c.Progression
	return (&progression.Config{
		MaxHearts:            p.MaxHearts,
		RegenInterval:        time.Duration(p.RegenIntervalMinutes) * time.Minute,
		XPPerExercise:        p.XPPerExercise,
		PointsPerExercise:    p.PointsPerExercise,
		TopicCompletionBonus: p.TopicCompletionBonus,
	}).Normalize()
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Progression.IdempotencyTTLSeconds) * time.Second
}
