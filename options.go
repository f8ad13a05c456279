package infrahub

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/opsmill/infrahub-sdk-go/store"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Client.
type Option func(*clientOptions)

// clientOptions holds configuration for a Client instance.
type clientOptions struct {
	config     Config
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	httpClient *http.Client
	store      store.Store
}

// WithConfig replaces the whole client configuration. Options applied after
// this one still override individual settings.
func WithConfig(cfg Config) Option {
	return func(o *clientOptions) {
		o.config = cfg
	}
}

// WithAddress sets the base URL of the server, e.g. "http://localhost:8000".
func WithAddress(address string) Option {
	return func(o *clientOptions) {
		o.config.Address = address
	}
}

// WithAPIToken authenticates every request with the given API token.
// When a token is set, username/password login is never attempted.
func WithAPIToken(token string) Option {
	return func(o *clientOptions) {
		o.config.APIToken = token
	}
}

// WithCredentials authenticates via the REST login endpoint using the given
// username and password. The client logs in lazily on the first request.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.config.Username = username
		o.config.Password = password
	}
}

// WithDefaultBranch sets the branch used when a call does not name one.
func WithDefaultBranch(branch string) Option {
	return func(o *clientOptions) {
		o.config.DefaultBranch = branch
	}
}

// WithTimeout sets the per-request timeout. A request exceeding it fails
// with ErrServerNotResponsive and is not retried.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		o.config.Timeout = timeout
	}
}

// WithPaginationSize sets the page size used by All and Filters when the
// caller does not pass an explicit offset or limit.
func WithPaginationSize(size int) Option {
	return func(o *clientOptions) {
		o.config.PaginationSize = size
	}
}

// WithRetryOnFailure makes the client retry a request indefinitely while
// the server is unreachable, pausing the configured retry delay between
// attempts.
func WithRetryOnFailure(enable bool) Option {
	return func(o *clientOptions) {
		o.config.RetryOnFailure = enable
	}
}

// WithRetryDelay sets the pause between reachability retries.
func WithRetryDelay(delay time.Duration) Option {
	return func(o *clientOptions) {
		o.config.RetryDelay = delay
	}
}

// WithMaxConcurrentExecution bounds the number of in-flight requests a
// Batch may run at once.
func WithMaxConcurrentExecution(n int) Option {
	return func(o *clientOptions) {
		o.config.MaxConcurrentExecution = n
	}
}

// WithTracker adds an X-Infrahub-Tracker header to every request so queries
// can be correlated server-side. The identifier prefixes the tracker value,
// typically the script or service name.
func WithTracker(identifier string) Option {
	return func(o *clientOptions) {
		o.config.InsertTracker = true
		o.config.Identifier = identifier
	}
}

// WithTLSInsecure disables server certificate verification.
func WithTLSInsecure(insecure bool) Option {
	return func(o *clientOptions) {
		o.config.TLSInsecure = insecure
	}
}

// WithLogger sets a custom logger for the client.
// If not provided, a default logger will be created.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for distributed tracing.
// Every request then runs inside its own span.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *clientOptions) {
		o.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter used to record request counts and
// durations.
func WithMeter(meter metric.Meter) Option {
	return func(o *clientOptions) {
		o.meter = meter
	}
}

// WithHTTPClient sets a custom HTTP client. The client's Timeout is left
// untouched; per-request timeouts are applied through the request context.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithStore sets the node store populated by queries run with store
// population enabled. Defaults to an in-memory store.
func WithStore(s store.Store) Option {
	return func(o *clientOptions) {
		o.store = s
	}
}
