// Package config provides environment-based configuration for the build coordinator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported workflow engines.
const (
	EngineREST   = "rest"
	EngineLegacy = "legacy"
)

// Supported executor modes.
const (
	ExecutorRemote = "remote"
	ExecutorQueued = "queued"
)

// Supported store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the build coordinator.
type Config struct {
	// Database configuration
	StoreDriver string
	DatabaseDSN string

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIPort     int
	GRPCPort    int
	APIHost     string
	ExternalURL string

	// Logging
	LogLevel string
	LogJSON  bool

	ShutdownTimeout time.Duration

	Coordinator CoordinatorConfig
	Executor    ExecutorConfig
	Dispatcher  DispatcherConfig
	Workflow    WorkflowConfig
}

// CoordinatorConfig holds build coordinator configuration.
type CoordinatorConfig struct {
	// MaxConcurrentDispatches bounds concurrent calls to the build executor.
	MaxConcurrentDispatches int
	DispatchTimeout         time.Duration
	// RetainCompleted is how long finished build sets stay addressable.
	RetainCompleted        time.Duration
	PruneInterval          time.Duration
	TemporaryBuildLifespan time.Duration
}

// ExecutorConfig holds build executor client configuration.
type ExecutorConfig struct {
	Mode string
	URL  string
	// Token is sent as a bearer token to the executor.
	Token   string
	Timeout time.Duration
}

// DispatcherConfig holds configuration for the queue draining worker.
type DispatcherConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// MaxAttempts is how often a dispatch is tried before it is reported
	// as a system error.
	MaxAttempts int
}

// WorkflowConfig holds the workflow engine configuration used by milestone releases.
type WorkflowConfig struct {
	Engine                 string        `yaml:"engine"`
	RESTURL                string        `yaml:"rest_url"`
	ContainerID            string        `yaml:"container_id"`
	ReleaseProcessID       string        `yaml:"release_process_id"`
	LegacyURL              string        `yaml:"legacy_url"`
	LegacyReleaseProcessID string        `yaml:"legacy_release_process_id"`
	Timeout                time.Duration `yaml:"timeout"`
	ConfigFile             string        `yaml:"-"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	if cfg.Workflow.ConfigFile != "" {
		if err := cfg.Workflow.LoadFile(cfg.Workflow.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	switch c.StoreDriver {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}
	switch c.Executor.Mode {
	case ExecutorRemote, ExecutorQueued:
	default:
		return fmt.Errorf("EXECUTOR_MODE must be %q or %q, got %q", ExecutorRemote, ExecutorQueued, c.Executor.Mode)
	}
	if c.Executor.Mode == ExecutorQueued && c.StoreDriver != StorePostgres {
		return fmt.Errorf("EXECUTOR_MODE=%s requires STORE_DRIVER=%s", ExecutorQueued, StorePostgres)
	}
	switch c.Workflow.Engine {
	case EngineREST, EngineLegacy:
	default:
		return fmt.Errorf("WORKFLOW_ENGINE must be %q or %q, got %q", EngineREST, EngineLegacy, c.Workflow.Engine)
	}
	if c.Coordinator.MaxConcurrentDispatches < 1 {
		return fmt.Errorf("COORDINATOR_MAX_CONCURRENT_DISPATCHES must be positive")
	}
	if c.Dispatcher.Concurrency < 1 || c.Dispatcher.MaxAttempts < 1 {
		return fmt.Errorf("DISPATCHER_CONCURRENCY and DISPATCHER_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		StoreDriver:     getEnv("STORE_DRIVER", StorePostgres),
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/buildgraph?sslmode=disable"),
		JWTSecret:       getEnv("JWT_SECRET", "development-secret-key-min-32-chars"),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIPort:         getIntEnv("API_PORT", 8080),
		GRPCPort:        getIntEnv("GRPC_PORT", 9090),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ExternalURL:     getEnv("EXTERNAL_URL", "http://localhost:8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogJSON:         getBoolEnv("LOG_JSON", true),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Coordinator: CoordinatorConfig{
			MaxConcurrentDispatches: getIntEnv("COORDINATOR_MAX_CONCURRENT_DISPATCHES", 8),
			DispatchTimeout:         getDurationEnv("COORDINATOR_DISPATCH_TIMEOUT", 30*time.Second),
			RetainCompleted:         getDurationEnv("COORDINATOR_RETAIN_COMPLETED", 1*time.Hour),
			PruneInterval:           getDurationEnv("COORDINATOR_PRUNE_INTERVAL", 5*time.Minute),
			TemporaryBuildLifespan:  getDurationEnv("TEMPORARY_BUILD_LIFESPAN", 14*24*time.Hour),
		},
		Executor: ExecutorConfig{
			Mode:    getEnv("EXECUTOR_MODE", ExecutorRemote),
			URL:     getEnv("EXECUTOR_URL", "http://localhost:8081"),
			Token:   getEnv("EXECUTOR_TOKEN", ""),
			Timeout: getDurationEnv("EXECUTOR_TIMEOUT", 10*time.Second),
		},
		Dispatcher: DispatcherConfig{
			Concurrency:  getIntEnv("DISPATCHER_CONCURRENCY", 4),
			PollInterval: getDurationEnv("DISPATCHER_POLL_INTERVAL", 1*time.Second),
			MaxAttempts:  getIntEnv("DISPATCHER_MAX_ATTEMPTS", 5),
		},
		Workflow: WorkflowConfig{
			Engine:                 getEnv("WORKFLOW_ENGINE", EngineREST),
			RESTURL:                getEnv("WORKFLOW_REST_URL", "http://localhost:8090/kie-server/services/rest/server"),
			ContainerID:            getEnv("WORKFLOW_CONTAINER_ID", "release"),
			ReleaseProcessID:       getEnv("WORKFLOW_RELEASE_PROCESS_ID", "milestone-release"),
			LegacyURL:              getEnv("WORKFLOW_LEGACY_URL", "http://localhost:8091/bpm"),
			LegacyReleaseProcessID: getEnv("WORKFLOW_LEGACY_RELEASE_PROCESS_ID", "brew-push"),
			Timeout:                getDurationEnv("WORKFLOW_TIMEOUT", 30*time.Second),
			ConfigFile:             getEnv("WORKFLOW_CONFIG_FILE", ""),
		},
	}
}

// LoadFile overlays non-empty values from a YAML file onto the workflow configuration.
func (w *WorkflowConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading workflow config %s: %w", path, err)
	}

	var file struct {
		Workflow WorkflowConfig `yaml:"workflow"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing workflow config %s: %w", path, err)
	}

	o := file.Workflow
	if o.Engine != "" {
		w.Engine = o.Engine
	}
	if o.RESTURL != "" {
		w.RESTURL = o.RESTURL
	}
	if o.ContainerID != "" {
		w.ContainerID = o.ContainerID
	}
	if o.ReleaseProcessID != "" {
		w.ReleaseProcessID = o.ReleaseProcessID
	}
	if o.LegacyURL != "" {
		w.LegacyURL = o.LegacyURL
	}
	if o.LegacyReleaseProcessID != "" {
		w.LegacyReleaseProcessID = o.LegacyReleaseProcessID
	}
	if o.Timeout > 0 {
		w.Timeout = o.Timeout
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
