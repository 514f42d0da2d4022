// Package httpclient is a DomainClient that talks JSON to a domain service
// over HTTP.
//
// Requests pass through a circuit breaker and a rate limiter, carry an
// X-Request-ID header and an OpenTelemetry client span, and are retried with
// jittered exponential backoff on 429, 502, 503 and 504 responses.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/internal/wire"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 1 << 20

type requestIDKey struct{}

// WithRequestID stores the request id sent with calls made under ctx. Calls
// without one get a fresh id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Client implements ria.DomainClient over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	registry   ria.TypeRegistry
	breaker    *gobreaker.CircuitBreaker[struct{}]
	limiter    *rate.Limiter // nil when rate limiting is disabled
	retry      retryConfig
}

var _ ria.DomainClient = (*Client)(nil)

// New creates a client for the service at cfg.BaseURL. Entities in responses
// are typed through registry.
func New(cfg *ria.ClientConfig, registry ria.TypeRegistry) *Client {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.BaseURL,
		MaxRequests: toUint32(cfg.CircuitBreaker.HalfOpenLimit),
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.CircuitBreaker.MaxFailures > 0 && int(counts.ConsecutiveFailures) >= cfg.CircuitBreaker.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.S().Warnw("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), max(cfg.RateLimit.BurstSize, 1))
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		registry:   registry,
		breaker:    cb,
		limiter:    limiter,
		retry: retryConfig{
			maxAttempts:     max(cfg.Retry.MaxAttempts, 1),
			initialInterval: cfg.Retry.InitialInterval,
			maxInterval:     cfg.Retry.MaxInterval,
			multiplier:      cfg.Retry.Multiplier,
		},
	}
}

// Query posts the query to /{type}/query/{name}.
func (c *Client) Query(ctx context.Context, query *ria.EntityQuery) (*ria.QueryCompletedResult, error) {
	name := query.QueryName
	if name == "" {
		name = "All"
	}
	req := wire.QueryRequest{
		Parameters:        query.Parameters,
		Skip:              query.Skip,
		Take:              query.Take,
		IncludeTotalCount: query.IncludeTotalCount,
	}
	var resp wire.QueryResponse
	path := "/" + url.PathEscape(query.EntityType) + "/query/" + url.PathEscape(name)
	if err := c.call(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return wire.DecodeQueryResult(c.registry, query.EntityType, resp)
}

// Submit posts the change set's entries to /submit.
func (c *Client) Submit(ctx context.Context, changeSet *ria.EntityChangeSet) (*ria.SubmitCompletedResult, error) {
	req := wire.SubmitRequest{ChangeSet: wire.EncodeEntries(changeSet.GetChangeSetEntries())}
	var resp wire.SubmitResponse
	if err := c.call(ctx, "/submit", req, &resp); err != nil {
		return nil, err
	}
	results, err := wire.DecodeEntries(c.registry, resp.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to decode submit results: %w", err)
	}
	return &ria.SubmitCompletedResult{ChangeSet: changeSet, Results: results}, nil
}

// Invoke posts to /invoke/{name}. The return value is left as raw JSON for
// the typed operation to decode.
func (c *Client) Invoke(ctx context.Context, args *ria.InvokeArgs) (*ria.InvokeCompletedResult, error) {
	req := wire.InvokeRequest{Parameters: args.Parameters, HasSideEffects: args.HasSideEffects}
	var resp wire.InvokeResponse
	if err := c.call(ctx, "/invoke/"+url.PathEscape(args.OperationName), req, &resp); err != nil {
		return nil, err
	}
	res := &ria.InvokeCompletedResult{ValidationErrors: wire.DecodeValidationErrors(resp.ValidationErrors)}
	if len(resp.ReturnValue) > 0 {
		res.ReturnValue = resp.ReturnValue
	}
	return res, nil
}

// HealthCheck reports the breaker state without a network call.
func (c *Client) HealthCheck(context.Context) error {
	switch state := c.breaker.State(); state {
	case gobreaker.StateClosed:
		return nil
	case gobreaker.StateHalfOpen:
		return fmt.Errorf("%s: degraded (circuit breaker half-open)", c.baseURL)
	case gobreaker.StateOpen:
		return fmt.Errorf("%s: failing (circuit breaker open)", c.baseURL)
	default:
		return fmt.Errorf("%s: unknown circuit breaker state %v", c.baseURL, state)
	}
}

// call posts body as JSON and decodes a 2xx response into out. Any other
// response becomes an error of the ria taxonomy.
func (c *Client) call(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request to %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil && resp == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ria.NewDomainOperationError(fmt.Sprintf("domain service at %s is unavailable", c.baseURL), ria.StatusServerError, nil).WithCause(err)
		}
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// do runs req through breaker, limiter, request id, span and retry.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	_, err := c.breaker.Execute(func() (struct{}, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return struct{}{}, err
			}
		}

		id, _ := ctx.Value(requestIDKey{}).(string)
		if id == "" {
			id = uuid.NewString()
		}
		req.Header.Set("X-Request-ID", id)

		spanCtx, span := startSpan(ctx, req)
		defer span.End()
		req = req.WithContext(spanCtx)

		retryErr := c.doWithRetry(spanCtx, req, &resp)
		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		}
		if retryErr != nil {
			span.RecordError(retryErr)
			span.SetStatus(codes.Error, retryErr.Error())
		}
		return struct{}{}, retryErr
	})
	return resp, err
}

func startSpan(ctx context.Context, req *http.Request) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer("httpclient")
	ctx, span := tracer.Start(ctx, "POST "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
			attribute.String("ria.request_id", req.Header.Get("X-Request-ID")),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return ctx, span
}

// responseError decodes the error payload of a failed response. Responses
// without one are classified by status code.
func responseError(path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body wire.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		if body.Error.Status == "" {
			body.Error.Status = statusFor(resp.StatusCode)
		}
		return body.Error.Err()
	}
	msg := fmt.Sprintf("%s returned HTTP %d", path, resp.StatusCode)
	if text := strings.TrimSpace(string(data)); text != "" && len(text) < 512 {
		msg += ": " + text
	}
	return ria.NewDomainOperationError(msg, statusFor(resp.StatusCode), nil).WithErrorCode(resp.StatusCode)
}

func statusFor(code int) ria.OperationErrorStatus {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ria.StatusUnauthorized
	case http.StatusNotFound:
		return ria.StatusNotFound
	case http.StatusNotImplemented:
		return ria.StatusNotSupported
	case http.StatusConflict:
		return ria.StatusConflicts
	case http.StatusUnprocessableEntity:
		return ria.StatusValidationFailed
	default:
		return ria.StatusServerError
	}
}

func toUint32(v int) uint32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
