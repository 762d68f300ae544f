package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	NATS       NATSConfig       `mapstructure:"nats"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	MITRE      MITREConfig      `mapstructure:"mitre"`
	Personas   PersonasConfig   `mapstructure:"personas"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	PersonaTTL time.Duration `mapstructure:"persona_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Neo4jConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	URI                string `mapstructure:"uri"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxLifetimeMinutes int    `mapstructure:"max_lifetime_minutes"`
	BatchSize          int    `mapstructure:"batch_size"`
}

type NATSConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	URL        string             `mapstructure:"url"`
	StreamName string             `mapstructure:"stream_name"`
	Subjects   NATSSubjectsConfig `mapstructure:"subjects"`
}

// NATSSubjectsConfig holds the subject prefix campaign events are published under
type NATSSubjectsConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

type MITREConfig struct {
	DataDir              string `mapstructure:"data_dir"`
	EnterpriseAttackFile string `mapstructure:"enterprise_attack_file"`
	SyncGraph            bool   `mapstructure:"sync_graph"`
}

// PersonasConfig controls where curated persona parameters come from and how
// personas for uncurated groups are built
type PersonasConfig struct {
	ConfigFile   string `mapstructure:"config_file"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	Cache        bool   `mapstructure:"cache"`
}

type SimulationConfig struct {
	// Seed of zero means time-seeded
	Seed             int64  `mapstructure:"seed"`
	DefaultScenario  string `mapstructure:"default_scenario"`
	MaxDurationHours int    `mapstructure:"max_duration_hours"`
}

// RateLimitConfig bounds requests per client per minute. It needs Redis.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// SecurityConfig guards the admin routes. An empty token disables them.
type SecurityConfig struct {
	AdminToken string `mapstructure:"admin_token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "adversary-lab")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "0.1.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "advlab:")
	v.SetDefault("redis.persona_ttl", 24*time.Hour)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.max_connections", 50)
	v.SetDefault("neo4j.max_lifetime_minutes", 60)
	v.SetDefault("neo4j.batch_size", 500)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "ADVLAB_CAMPAIGNS")
	v.SetDefault("nats.subjects.prefix", "campaigns")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Content-Type", "X-Request-ID", "X-Admin-Token"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.time_format", time.RFC3339)

	v.SetDefault("mitre.data_dir", "./data/mitre")
	v.SetDefault("mitre.enterprise_attack_file", "./data/mitre/enterprise-attack.json")
	v.SetDefault("mitre.sync_graph", true)

	v.SetDefault("personas.auto_generate", true)
	v.SetDefault("personas.cache", true)

	v.SetDefault("simulation.default_scenario", "full_chain")
	v.SetDefault("simulation.max_duration_hours", 24)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 120)
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error; defaults and env vars still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/adversary-lab")
	}

	v.SetEnvPrefix("ADVLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys need explicit binding for env-only overrides
	v.BindEnv("app.environment", "ADVLAB_APP_ENVIRONMENT")
	v.BindEnv("logger.level", "ADVLAB_LOGGER_LEVEL")
	v.BindEnv("redis.enabled", "ADVLAB_REDIS_ENABLED")
	v.BindEnv("redis.host", "ADVLAB_REDIS_HOST")
	v.BindEnv("redis.port", "ADVLAB_REDIS_PORT")
	v.BindEnv("redis.password", "ADVLAB_REDIS_PASSWORD")
	v.BindEnv("neo4j.enabled", "ADVLAB_NEO4J_ENABLED")
	v.BindEnv("neo4j.uri", "ADVLAB_NEO4J_URI")
	v.BindEnv("neo4j.password", "ADVLAB_NEO4J_PASSWORD")
	v.BindEnv("nats.enabled", "ADVLAB_NATS_ENABLED")
	v.BindEnv("nats.url", "ADVLAB_NATS_URL")
	v.BindEnv("mitre.enterprise_attack_file", "ADVLAB_MITRE_ENTERPRISE_ATTACK_FILE")
	v.BindEnv("personas.config_file", "ADVLAB_PERSONAS_CONFIG_FILE")
	v.BindEnv("simulation.seed", "ADVLAB_SIMULATION_SEED")
	v.BindEnv("rate_limit.enabled", "ADVLAB_RATE_LIMIT_ENABLED")
	v.BindEnv("security.admin_token", "ADVLAB_SECURITY_ADMIN_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}
