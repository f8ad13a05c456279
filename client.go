package infrahub

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opsmill/infrahub-sdk-go/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Client is the entry point of the SDK. It executes GraphQL and REST
// requests against one server, manages authentication tokens, paginates
// queries, and keeps a node store of fetched objects.
//
// A Client is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	store      store.Store
	schemas    *SchemaManager

	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	reloginCounter  metric.Int64Counter
	retryCounter    metric.Int64Counter

	// mu guards the tokens and the tracking context.
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	tracking     *GroupContext
}

// RequestOptions tunes a single request.
type RequestOptions struct {
	// Branch overrides the configured default branch.
	Branch string

	// At queries the state of the graph at a point in time.
	At Timestamp

	// Timeout overrides the configured per-request timeout.
	Timeout time.Duration

	// Tracker is set as the X-Infrahub-Tracker header when the client is
	// configured with a tracker identifier.
	Tracker string
}

// NewClient creates a new client with the provided options.
//
// Example:
//
//	client, err := infrahub.NewClient(
//	    infrahub.WithAddress("http://localhost:8000"),
//	    infrahub.WithAPIToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewClient(opts ...Option) (*Client, error) {
	options := &clientOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(options)
	}

	cfg := options.config.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, NewValidationError("NewClient", err)
	}

	// Create default logger if not provided
	logger := options.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
		if cfg.TLSInsecure {
			httpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}
		}
	}

	nodeStore := options.store
	if nodeStore == nil {
		nodeStore = store.NewMemoryStore()
	}

	c := &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
		tracer:     options.tracer,
		meter:      options.meter,
		store:      nodeStore,
	}
	c.schemas = newSchemaManager(c)

	if c.meter != nil {
		var err error
		c.requestCounter, err = c.meter.Int64Counter("infrahub.client.requests",
			metric.WithDescription("Number of requests sent to the server"))
		if err != nil {
			return nil, NewInternalError("NewClient", err)
		}
		c.requestDuration, err = c.meter.Float64Histogram("infrahub.client.request_duration",
			metric.WithDescription("Request duration in seconds"),
			metric.WithUnit("s"))
		if err != nil {
			return nil, NewInternalError("NewClient", err)
		}
		c.reloginCounter, err = c.meter.Int64Counter("infrahub.client.relogins",
			metric.WithDescription("Number of transparent token refreshes"))
		if err != nil {
			return nil, NewInternalError("NewClient", err)
		}
		c.retryCounter, err = c.meter.Int64Counter("infrahub.client.retries",
			metric.WithDescription("Number of retries while the server was unreachable"))
		if err != nil {
			return nil, NewInternalError("NewClient", err)
		}
	}

	return c, nil
}

// NewClientFromEnv creates a client configured from INFRAHUB_* environment
// variables. Options are applied on top of the environment configuration.
func NewClientFromEnv(opts ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, NewValidationError("NewClientFromEnv", err)
	}

	return NewClient(append([]Option{WithConfig(cfg)}, opts...)...)
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// Store returns the client's node store.
func (c *Client) Store() store.Store {
	return c.store
}

// Schema returns the schema manager, which fetches and caches node schemas
// per branch.
func (c *Client) Schema() *SchemaManager {
	return c.schemas
}

// branchOrDefault resolves an explicit branch name against the configured
// default.
func (c *Client) branchOrDefault(branch string) string {
	if branch != "" {
		return branch
	}
	return c.config.DefaultBranch
}

// requestTimeout resolves a per-call timeout against the configured default.
func (c *Client) requestTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return c.config.Timeout
}

// ExecuteGraphQL sends a GraphQL document to the server and returns the
// decoded "data" object.
//
// Errors reported in the response payload are returned as a *GraphQLError
// wrapped in an Error of KindGraphQL; transport failures map to
// ErrServerNotReachable or ErrServerNotResponsive per the retry rules of
// the client configuration.
func (c *Client) ExecuteGraphQL(ctx context.Context, document string, variables map[string]any, opts *RequestOptions) (map[string]any, error) {
	const op = "Client.ExecuteGraphQL"

	if opts == nil {
		opts = &RequestOptions{}
	}
	branch := c.branchOrDefault(opts.Branch)

	endpoint := fmt.Sprintf("%s/graphql/%s", c.config.Address, branch)
	if !opts.At.IsZero() {
		endpoint += "?at=" + url.QueryEscape(opts.At.String())
	}

	payload := map[string]any{"query": document}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewInternalError(op, err)
	}

	ctx, end := c.startSpan(ctx, "infrahub.graphql",
		attribute.String("infrahub.branch", branch),
		attribute.String("infrahub.tracker", opts.Tracker))
	start := time.Now()
	status, respBody, err := c.do(ctx, http.MethodPost, endpoint, body, c.trackerHeaders(opts.Tracker), opts.Timeout)
	c.recordRequest(ctx, "graphql", status, time.Since(start), err)
	end(err)
	if err != nil {
		return nil, err
	}

	return decodeGraphQLPayload(op, status, respBody, document)
}

// decodeGraphQLPayload decodes a GraphQL response body, surfacing payload
// errors as a GraphQLError.
func decodeGraphQLPayload(op string, status int, body []byte, document string) (map[string]any, error) {
	var payload struct {
		Data   map[string]any      `json:"data"`
		Errors []GraphQLErrorEntry `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewInternalError(op, fmt.Errorf("invalid response (status %d): %w", status, err))
	}

	if len(payload.Errors) > 0 {
		return nil, NewGraphQLError(op, &GraphQLError{Entries: payload.Errors, Query: document})
	}
	if status >= http.StatusBadRequest {
		return nil, NewInternalError(op, fmt.Errorf("unexpected status %d", status))
	}

	return payload.Data, nil
}

// NamedQueryOptions tunes the execution of a server-stored query.
type NamedQueryOptions struct {
	Branch      string
	At          Timestamp
	UpdateGroup bool
	Subscribers []string
	Tracker     string
}

// RunNamedQuery executes a query stored on the server by name through the
// REST query endpoint and returns the decoded "data" object.
func (c *Client) RunNamedQuery(ctx context.Context, name string, variables map[string]any, opts *NamedQueryOptions) (map[string]any, error) {
	const op = "Client.RunNamedQuery"

	if opts == nil {
		opts = &NamedQueryOptions{}
	}
	branch := c.branchOrDefault(opts.Branch)

	params := url.Values{}
	params.Set("branch", branch)
	if !opts.At.IsZero() {
		params.Set("at", opts.At.String())
	}
	if opts.UpdateGroup {
		params.Set("update_group", "true")
		for _, subscriber := range opts.Subscribers {
			params.Add("subscribers", subscriber)
		}
	}
	endpoint := fmt.Sprintf("%s/api/query/%s?%s", c.config.Address, url.PathEscape(name), params.Encode())

	var body []byte
	method := http.MethodGet
	if len(variables) > 0 {
		method = http.MethodPost
		var err error
		body, err = json.Marshal(map[string]any{"variables": variables})
		if err != nil {
			return nil, NewInternalError(op, err)
		}
	}

	ctx, end := c.startSpan(ctx, "infrahub.named_query",
		attribute.String("infrahub.branch", branch),
		attribute.String("infrahub.query", name))
	start := time.Now()
	status, respBody, err := c.do(ctx, method, endpoint, body, c.trackerHeaders(opts.Tracker), 0)
	c.recordRequest(ctx, "named_query", status, time.Since(start), err)
	end(err)
	if err != nil {
		return nil, err
	}

	return decodeGraphQLPayload(op, status, respBody, name)
}

// restGet performs an authenticated GET against a REST endpoint.
func (c *Client) restGet(ctx context.Context, endpoint string, timeout time.Duration) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, timeout)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, NewInternalError("Client.restGet", fmt.Errorf("unexpected status %d for %s", status, endpoint))
	}
	return body, nil
}

// restPost performs an authenticated POST with a JSON payload against a
// REST endpoint.
func (c *Client) restPost(ctx context.Context, endpoint string, payload any, timeout time.Duration) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewInternalError("Client.restPost", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, endpoint, body, nil, timeout)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, NewInternalError("Client.restPost", fmt.Errorf("unexpected status %d for %s", status, endpoint))
	}
	return respBody, nil
}

// do executes one authenticated HTTP exchange: it logs in lazily when
// credentials are configured, retries indefinitely while the server is
// unreachable (when enabled), and performs exactly one transparent token
// refresh and replay when the server reports an expired signature.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, timeout time.Duration) (int, []byte, error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return 0, nil, err
	}

	status, respBody, err := c.sendWithRetry(ctx, method, endpoint, body, headers, timeout)
	if err != nil {
		return 0, nil, err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		messages := errorMessages(respBody)

		if status == http.StatusUnauthorized && hasExpiredSignature(messages) && c.canLogin() {
			c.logger.Info("access token expired, refreshing login")
			if c.reloginCounter != nil {
				c.reloginCounter.Add(ctx, 1)
			}
			if err := c.refreshLogin(ctx); err != nil {
				return 0, nil, err
			}

			// Replay once with the fresh token.
			status, respBody, err = c.sendWithRetry(ctx, method, endpoint, body, headers, timeout)
			if err != nil {
				return 0, nil, err
			}
			if status != http.StatusUnauthorized && status != http.StatusForbidden {
				return status, respBody, nil
			}
			messages = errorMessages(respBody)
		}

		return 0, nil, NewAuthenticationError("Client.do", &AuthenticationError{Messages: messages})
	}

	return status, respBody, nil
}

// sendWithRetry sends one request, looping with the configured delay while
// the server is unreachable. Timeouts are never retried.
func (c *Client) sendWithRetry(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, timeout time.Duration) (int, []byte, error) {
	for {
		status, respBody, err := c.send(ctx, method, endpoint, body, headers, timeout)
		if err == nil {
			return status, respBody, nil
		}

		if !errors.Is(err, ErrServerNotReachable) || !c.config.RetryOnFailure {
			return 0, nil, err
		}

		c.logger.Warn("server not reachable, retrying",
			"address", c.config.Address,
			"delay", c.config.RetryDelay.String())
		if c.retryCounter != nil {
			c.retryCounter.Add(ctx, 1)
		}

		select {
		case <-time.After(c.config.RetryDelay):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

// send performs a single HTTP attempt with the per-request timeout applied.
func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, timeout time.Duration) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout(timeout))
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
	if err != nil {
		return 0, nil, NewInternalError("Client.send", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.authHeaders() {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, c.classifyTransportError(ctx, err)
	}
	defer CloseWithLog(resp.Body, c.logger, "response body")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, c.classifyTransportError(ctx, err)
	}

	return resp.StatusCode, respBody, nil
}

// classifyTransportError maps a transport failure to the reachability and
// responsiveness taxonomy. Caller cancellation passes through untouched.
func (c *Client) classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewUnresponsiveError("Client.send", fmt.Errorf("%w: %v", ErrServerNotResponsive, err))
	}

	return NewUnreachableError("Client.send", fmt.Errorf("%w: %v", ErrServerNotReachable, err))
}

// authHeaders returns the authentication headers for the current tokens.
func (c *Client) authHeaders() map[string]string {
	headers := make(map[string]string, 2)
	if c.config.APIToken != "" {
		headers["X-INFRAHUB-KEY"] = c.config.APIToken
	}

	c.mu.Lock()
	if c.accessToken != "" {
		headers["Authorization"] = "Bearer " + c.accessToken
	}
	c.mu.Unlock()

	return headers
}

// trackerHeaders returns the tracker header for a call, when the client is
// configured to insert one.
func (c *Client) trackerHeaders(tracker string) map[string]string {
	if !c.config.InsertTracker || tracker == "" {
		return nil
	}
	if c.config.Identifier != "" {
		tracker = c.config.Identifier + "-" + tracker
	}
	return map[string]string{"X-Infrahub-Tracker": tracker}
}

// canLogin reports whether the client has password credentials to log in
// with.
func (c *Client) canLogin() bool {
	return c.config.APIToken == "" && c.config.Username != ""
}

// ensureLoggedIn performs the lazy initial login when password credentials
// are configured and no token is held yet.
func (c *Client) ensureLoggedIn(ctx context.Context) error {
	if !c.canLogin() {
		return nil
	}

	c.mu.Lock()
	loggedIn := c.accessToken != ""
	c.mu.Unlock()
	if loggedIn {
		return nil
	}

	return c.login(ctx)
}

// login exchanges the configured credentials for access and refresh tokens.
func (c *Client) login(ctx context.Context) error {
	const op = "Client.login"

	body, err := json.Marshal(map[string]string{
		"username": c.config.Username,
		"password": c.config.Password,
	})
	if err != nil {
		return NewInternalError(op, err)
	}

	endpoint := c.config.Address + "/api/auth/login"
	status, respBody, err := c.sendWithRetry(ctx, http.MethodPost, endpoint, body, nil, 0)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return NewAuthenticationError(op, &AuthenticationError{Messages: errorMessages(respBody)})
	}

	return c.storeTokens(op, respBody)
}

// refreshLogin exchanges the refresh token for a new access token, falling
// back to a full login when the refresh token is rejected or absent.
func (c *Client) refreshLogin(ctx context.Context) error {
	const op = "Client.refreshLogin"

	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if refreshToken == "" {
		return c.login(ctx)
	}

	endpoint := c.config.Address + "/api/auth/refresh"
	headers := map[string]string{"Authorization": "Bearer " + refreshToken}
	status, respBody, err := c.sendWithRetry(ctx, http.MethodPost, endpoint, nil, headers, 0)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.logger.Info("refresh token rejected, performing full login")
		return c.login(ctx)
	}
	if status != http.StatusOK {
		return NewAuthenticationError(op, &AuthenticationError{Messages: errorMessages(respBody)})
	}

	return c.storeTokens(op, respBody)
}

// storeTokens decodes a token response and records the tokens.
func (c *Client) storeTokens(op string, body []byte) error {
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &tokens); err != nil {
		return NewInternalError(op, fmt.Errorf("invalid token response: %w", err))
	}
	if tokens.AccessToken == "" {
		return NewAuthenticationError(op, &AuthenticationError{Messages: []string{"no access token in response"}})
	}

	c.mu.Lock()
	c.accessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		c.refreshToken = tokens.RefreshToken
	}
	c.mu.Unlock()

	return nil
}

// errorMessages extracts the error messages from a REST or GraphQL error
// body.
func errorMessages(body []byte) []string {
	var payload struct {
		Errors []GraphQLErrorEntry `json:"errors"`
		Detail any                 `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return []string{strings.TrimSpace(string(body))}
	}

	var messages []string
	for _, entry := range payload.Errors {
		messages = append(messages, entry.Message)
	}
	if len(messages) == 0 && payload.Detail != nil {
		messages = append(messages, fmt.Sprintf("%v", payload.Detail))
	}
	if len(messages) == 0 {
		messages = []string{strings.TrimSpace(string(body))}
	}
	return messages
}

// hasExpiredSignature reports whether an error message list contains the
// expired-signature marker that allows a transparent re-login.
func hasExpiredSignature(messages []string) bool {
	for _, message := range messages {
		if strings.Contains(message, "Expired Signature") {
			return true
		}
	}
	return false
}

// startSpan opens a tracing span when a tracer is configured. The returned
// func records the outcome and ends the span.
func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if c.tracer == nil {
		return ctx, func(error) {}
	}

	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// recordRequest updates the request metrics when a meter is configured.
func (c *Client) recordRequest(ctx context.Context, operation string, status int, elapsed time.Duration, err error) {
	if c.requestCounter == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
		attribute.Int("status", status),
	)
	c.requestCounter.Add(ctx, 1, attrs)
	c.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
}
