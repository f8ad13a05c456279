package infrahub

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/opsmill/infrahub-sdk-go/store"
)

func TestConfigOptions(t *testing.T) {
	t.Run("WithConfig", func(t *testing.T) {
		cfg := Config{Address: "http://infrahub:8000", DefaultBranch: "develop"}
		opts := &clientOptions{}
		WithConfig(cfg)(opts)

		if opts.config.Address != "http://infrahub:8000" {
			t.Errorf("expected address 'http://infrahub:8000', got %s", opts.config.Address)
		}
		if opts.config.DefaultBranch != "develop" {
			t.Errorf("expected branch 'develop', got %s", opts.config.DefaultBranch)
		}
	})

	t.Run("WithAddress", func(t *testing.T) {
		opts := &clientOptions{}
		WithAddress("http://localhost:8000")(opts)

		if opts.config.Address != "http://localhost:8000" {
			t.Errorf("expected address 'http://localhost:8000', got %s", opts.config.Address)
		}
	})

	t.Run("WithAPIToken", func(t *testing.T) {
		opts := &clientOptions{}
		WithAPIToken("secret-token")(opts)

		if opts.config.APIToken != "secret-token" {
			t.Errorf("expected token 'secret-token', got %s", opts.config.APIToken)
		}
	})

	t.Run("WithCredentials", func(t *testing.T) {
		opts := &clientOptions{}
		WithCredentials("admin", "s3cret")(opts)

		if opts.config.Username != "admin" {
			t.Errorf("expected username 'admin', got %s", opts.config.Username)
		}
		if opts.config.Password != "s3cret" {
			t.Errorf("expected password 's3cret', got %s", opts.config.Password)
		}
	})

	t.Run("WithDefaultBranch", func(t *testing.T) {
		opts := &clientOptions{}
		WithDefaultBranch("develop")(opts)

		if opts.config.DefaultBranch != "develop" {
			t.Errorf("expected branch 'develop', got %s", opts.config.DefaultBranch)
		}
	})

	t.Run("WithTimeout", func(t *testing.T) {
		opts := &clientOptions{}
		WithTimeout(30 * time.Second)(opts)

		if opts.config.Timeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", opts.config.Timeout)
		}
	})

	t.Run("WithPaginationSize", func(t *testing.T) {
		opts := &clientOptions{}
		WithPaginationSize(25)(opts)

		if opts.config.PaginationSize != 25 {
			t.Errorf("expected pagination size 25, got %d", opts.config.PaginationSize)
		}
	})

	t.Run("WithRetryOnFailure", func(t *testing.T) {
		opts := &clientOptions{}
		WithRetryOnFailure(true)(opts)

		if !opts.config.RetryOnFailure {
			t.Error("expected retry on failure to be enabled")
		}
	})

	t.Run("WithRetryDelay", func(t *testing.T) {
		opts := &clientOptions{}
		WithRetryDelay(2 * time.Second)(opts)

		if opts.config.RetryDelay != 2*time.Second {
			t.Errorf("expected retry delay 2s, got %v", opts.config.RetryDelay)
		}
	})

	t.Run("WithMaxConcurrentExecution", func(t *testing.T) {
		opts := &clientOptions{}
		WithMaxConcurrentExecution(10)(opts)

		if opts.config.MaxConcurrentExecution != 10 {
			t.Errorf("expected max concurrent execution 10, got %d", opts.config.MaxConcurrentExecution)
		}
	})

	t.Run("WithTracker", func(t *testing.T) {
		opts := &clientOptions{}
		WithTracker("deploy-script")(opts)

		if !opts.config.InsertTracker {
			t.Error("expected tracker insertion to be enabled")
		}
		if opts.config.Identifier != "deploy-script" {
			t.Errorf("expected identifier 'deploy-script', got %s", opts.config.Identifier)
		}
	})

	t.Run("WithTLSInsecure", func(t *testing.T) {
		opts := &clientOptions{}
		WithTLSInsecure(true)(opts)

		if !opts.config.TLSInsecure {
			t.Error("expected TLS verification to be disabled")
		}
	})
}

func TestInstrumentationOptions(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		opts := &clientOptions{}
		WithLogger(logger)(opts)

		if opts.logger != logger {
			t.Error("expected logger to be set")
		}
	})

	t.Run("WithTracer", func(t *testing.T) {
		// A nil tracer is valid and means tracing stays disabled.
		opts := &clientOptions{}
		WithTracer(nil)(opts)

		if opts.tracer != nil {
			t.Error("expected tracer to be nil")
		}
	})

	t.Run("WithMeter", func(t *testing.T) {
		opts := &clientOptions{}
		WithMeter(nil)(opts)

		if opts.meter != nil {
			t.Error("expected meter to be nil")
		}
	})

	t.Run("WithHTTPClient", func(t *testing.T) {
		httpClient := &http.Client{}
		opts := &clientOptions{}
		WithHTTPClient(httpClient)(opts)

		if opts.httpClient != httpClient {
			t.Error("expected http client to be set")
		}
	})

	t.Run("WithStore", func(t *testing.T) {
		s := store.NewMemoryStore()
		opts := &clientOptions{}
		WithStore(s)(opts)

		if opts.store != store.Store(s) {
			t.Error("expected store to be set")
		}
	})
}

func TestOptionOrdering(t *testing.T) {
	// Later options override earlier ones, including WithConfig.
	opts := &clientOptions{}
	WithAddress("http://first:8000")(opts)
	WithConfig(Config{Address: "http://second:8000"})(opts)
	WithAddress("http://third:8000")(opts)

	if opts.config.Address != "http://third:8000" {
		t.Errorf("expected address 'http://third:8000', got %s", opts.config.Address)
	}
}
