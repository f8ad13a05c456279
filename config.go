package infrahub

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values applied by DefaultConfig.
const (
	// DefaultBranchName is the branch queried when no branch is specified.
	DefaultBranchName = "main"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultPaginationSize is the number of nodes fetched per page.
	DefaultPaginationSize = 50

	// DefaultRetryDelay is the pause between attempts when the server is
	// unreachable and retry-on-failure is enabled.
	DefaultRetryDelay = 5 * time.Second

	// DefaultMaxConcurrentExecution bounds the in-flight requests of a batch.
	DefaultMaxConcurrentExecution = 5
)

// Config holds the connection settings for a Client.
type Config struct {
	// Address is the base URL of the server, e.g. "http://localhost:8000".
	Address string

	// APIToken authenticates requests via the X-INFRAHUB-KEY header.
	// When set, username/password login is never attempted.
	APIToken string

	// Username and Password authenticate via the REST login endpoint.
	// The client logs in lazily on the first request that needs a token.
	Username string
	Password string

	// DefaultBranch is the branch used when a call does not name one.
	DefaultBranch string

	// Timeout is the per-request timeout. A request exceeding it fails with
	// ErrServerNotResponsive and is not retried.
	Timeout time.Duration

	// PaginationSize is the page size used by All and Filters when the
	// caller does not pass an explicit offset or limit.
	PaginationSize int

	// RetryOnFailure makes the client retry a request indefinitely, pausing
	// RetryDelay between attempts, while the server is unreachable.
	RetryOnFailure bool

	// RetryDelay is the pause between reachability retries.
	RetryDelay time.Duration

	// MaxConcurrentExecution bounds the number of in-flight requests a
	// Batch may run at once.
	MaxConcurrentExecution int

	// InsertTracker adds an X-Infrahub-Tracker header to every request so
	// queries can be correlated server-side.
	InsertTracker bool

	// Identifier prefixes the tracker value, typically the script or
	// service name.
	Identifier string

	// TLSInsecure disables server certificate verification.
	TLSInsecure bool
}

// DefaultConfig returns a Config populated with the default values.
// The address and credentials are left empty.
func DefaultConfig() Config {
	return Config{
		DefaultBranch:          DefaultBranchName,
		Timeout:                DefaultTimeout,
		PaginationSize:         DefaultPaginationSize,
		RetryDelay:             DefaultRetryDelay,
		MaxConcurrentExecution: DefaultMaxConcurrentExecution,
	}
}

// Validate checks that the configuration is complete enough to build a
// client. It returns an error wrapping ErrInvalidConfig when a setting is
// missing or out of range.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}

	parsed, err := url.Parse(c.Address)
	if err != nil {
		return fmt.Errorf("%w: invalid address %q: %v", ErrInvalidConfig, c.Address, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: address scheme must be http or https, got %q", ErrInvalidConfig, parsed.Scheme)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.PaginationSize < 1 {
		return fmt.Errorf("%w: pagination size must be at least 1", ErrInvalidConfig)
	}
	if c.MaxConcurrentExecution < 1 {
		return fmt.Errorf("%w: max concurrent execution must be at least 1", ErrInvalidConfig)
	}
	if c.RetryOnFailure && c.RetryDelay <= 0 {
		return fmt.Errorf("%w: retry delay must be positive when retry is enabled", ErrInvalidConfig)
	}

	return nil
}

// normalized returns a copy of the config with the address stripped of any
// trailing slash.
func (c Config) normalized() Config {
	c.Address = strings.TrimRight(c.Address, "/")
	return c
}

// ConfigFromEnv builds a Config from INFRAHUB_* environment variables,
// starting from DefaultConfig. Unset variables keep their defaults.
//
// Recognized variables: INFRAHUB_ADDRESS, INFRAHUB_API_TOKEN,
// INFRAHUB_USERNAME, INFRAHUB_PASSWORD, INFRAHUB_DEFAULT_BRANCH,
// INFRAHUB_TIMEOUT (seconds), INFRAHUB_PAGINATION_SIZE,
// INFRAHUB_RETRY_ON_FAILURE, INFRAHUB_RETRY_DELAY (seconds),
// INFRAHUB_MAX_CONCURRENT_EXECUTION, INFRAHUB_TLS_INSECURE.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("INFRAHUB_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("INFRAHUB_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("INFRAHUB_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("INFRAHUB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("INFRAHUB_DEFAULT_BRANCH"); v != "" {
		cfg.DefaultBranch = v
	}

	if err := envSeconds("INFRAHUB_TIMEOUT", &cfg.Timeout); err != nil {
		return Config{}, err
	}
	if err := envInt("INFRAHUB_PAGINATION_SIZE", &cfg.PaginationSize); err != nil {
		return Config{}, err
	}
	if err := envBool("INFRAHUB_RETRY_ON_FAILURE", &cfg.RetryOnFailure); err != nil {
		return Config{}, err
	}
	if err := envSeconds("INFRAHUB_RETRY_DELAY", &cfg.RetryDelay); err != nil {
		return Config{}, err
	}
	if err := envInt("INFRAHUB_MAX_CONCURRENT_EXECUTION", &cfg.MaxConcurrentExecution); err != nil {
		return Config{}, err
	}
	if err := envBool("INFRAHUB_TLS_INSECURE", &cfg.TLSInsecure); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envInt(key string, dest *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, key, v)
	}
	*dest = parsed
	return nil
}

func envSeconds(key string, dest *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer number of seconds, got %q", ErrInvalidConfig, key, v)
	}
	*dest = time.Duration(parsed) * time.Second
	return nil
}

func envBool(key string, dest *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidConfig, key, v)
	}
	*dest = parsed
	return nil
}
