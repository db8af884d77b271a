package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultStackPrefix       = "rvm-provisioned"
	DefaultWorkflowRole      = "RvmWorkflowRole"
	DefaultSessionNamePrefix = "rvm-deployment"
)

// Config holds all configuration for the reconciler service. It is built
// once in main and passed explicitly into every component; core logic never
// reads the environment.
type Config struct {
	// Region is the region stack operations are issued in.
	Region string `yaml:"region"`
	// StackPrefix marks stacks as managed by this system. Changing it
	// orphans every stack created under the old prefix.
	StackPrefix string `yaml:"stack_prefix"`
	// WorkflowRole is the role assumed in each target account.
	WorkflowRole string `yaml:"workflow_role"`
	// SessionNamePrefix prefixes the assume-role session name.
	SessionNamePrefix string `yaml:"session_name_prefix"`
	// Capabilities are passed on every create/update request.
	Capabilities []string `yaml:"capabilities"`
	// DeleteWaitTimeout bounds the blocking wait for stack deletion.
	DeleteWaitTimeout time.Duration `yaml:"delete_wait_timeout"`
	// AccountConcurrency bounds how many accounts reconcile in parallel.
	AccountConcurrency int `yaml:"account_concurrency"`

	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DataDir         string        `yaml:"data_dir"`
	// AuthTokenHash is a bcrypt hash of the API bearer token. Empty
	// disables authentication.
	AuthTokenHash string `yaml:"auth_token_hash"`
	// RunRetention is how long finished runs are kept before purge.
	RunRetention time.Duration `yaml:"run_retention"`
}

// Load builds the configuration from environment variables with defaults,
// optionally overlaid by a YAML file pointed to by RVM_CONFIG_FILE.
// Malformed values are load errors, not silent fallbacks.
func Load() (*Config, error) {
	deleteWait, err := getenvDuration("RVM_DELETE_WAIT_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	concurrency, err := getenvInt("RVM_ACCOUNT_CONCURRENCY", 1)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getenvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	retention, err := getenvDuration("RVM_RUN_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Region:             os.Getenv("AWS_REGION"),
		StackPrefix:        getenv("RVM_STACK_PREFIX", DefaultStackPrefix),
		WorkflowRole:       getenv("RVM_WORKFLOW_ROLE", DefaultWorkflowRole),
		SessionNamePrefix:  getenv("RVM_SESSION_NAME_PREFIX", DefaultSessionNamePrefix),
		Capabilities:       splitList(getenv("RVM_CAPABILITIES", "CAPABILITY_NAMED_IAM")),
		DeleteWaitTimeout:  deleteWait,
		AccountConcurrency: concurrency,
		Port:               getenv("PORT", "8080"),
		ShutdownTimeout:    shutdownTimeout,
		DataDir:            getenv("DATA_DIR", "./data"),
		AuthTokenHash:      os.Getenv("RVM_AUTH_TOKEN_HASH"),
		RunRetention:       retention,
	}

	if path := os.Getenv("RVM_CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required (AWS_REGION or config file)")
	}
	if c.StackPrefix == "" {
		return fmt.Errorf("stack prefix must not be empty")
	}
	if c.AccountConcurrency < 1 {
		return fmt.Errorf("account concurrency must be at least 1, got %d", c.AccountConcurrency)
	}
	if c.DeleteWaitTimeout <= 0 {
		return fmt.Errorf("delete wait timeout must be positive")
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
