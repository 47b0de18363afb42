package processing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/mosaic/internal/infrastructure/config"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

const userAgent = "mosaic-client/1.0"

// endpoint describes one service route
type endpoint struct {
	name   string
	method string
	path   string
}

var (
	analyzeEndpoint  = endpoint{"analyze", http.MethodPost, "/api/analyze"}
	previewEndpoint  = endpoint{"preview", http.MethodPost, "/api/preview"}
	generateEndpoint = endpoint{"generate", http.MethodPost, "/api/generate"}
	healthEndpoint   = endpoint{"health", http.MethodGet, "/api/health"}
)

// Client talks to the processing service
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	tracer  *tracing.Tracer
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewClient creates a client for the service at cfg.URL
func NewClient(cfg config.ServiceConfig, limits config.RateLimitConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", userAgent)

	c := &Client{
		resty:   restyClient,
		limiter: newLimiter(limits),
		tracer:  tracing.New(logger),
		logger:  logger,
	}

	c.breaker = resilience.New("processing", resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsFailure: countsAsFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c
}

// WithMetrics adds metrics collection to the client
func (c *Client) WithMetrics(metrics *monitoring.Metrics) *Client {
	c.metrics = metrics
	return c
}

// WithTracer replaces the client's tracer
func (c *Client) WithTracer(tracer *tracing.Tracer) *Client {
	if tracer != nil {
		c.tracer = tracer
	}
	return c
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

func newLimiter(limits config.RateLimitConfig) *rate.Limiter {
	if limits.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := limits.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), burst)
}

// send executes one request through the limiter and breaker. Non-2xx
// responses come back as *ServiceError.
func (c *Client) send(ctx context.Context, ep endpoint, uploaded int64, setup func(*resty.Request)) (resp *resty.Response, err error) {
	timer := monitoring.NewTimer(c.metrics, ep.name).Uploaded(uploaded)
	span, ctx := c.tracer.StartSpan(ctx, "service."+ep.name)
	defer func() { span.Finish(err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		timer.Stop("canceled")
		return nil, fmt.Errorf("%s: rate limit: %w", ep.name, err)
	}

	requestID := id.NewRequestID()
	span.SetTag("request_id", requestID.String())
	log := c.logger.With(
		zap.String("endpoint", ep.name),
		zap.String("request_id", requestID.String()),
		zap.String("trace_id", string(span.TraceID)))
	log.Debug("Sending request", zap.Int64("bytes", uploaded))

	resp, err = resilience.Run(c.breaker, func() (*resty.Response, error) {
		req := c.resty.R().
			SetContext(ctx).
			SetHeader(RequestIDHeader, requestID.String())
		tracing.Inject(ctx, req.Header)
		if setup != nil {
			setup(req)
		}

		resp, err := req.Execute(ep.method, ep.path)
		if err != nil {
			return nil, err
		}
		if !resp.IsSuccess() {
			return resp, newServiceError(ep.name, resp)
		}
		return resp, nil
	})

	timer.Stop(statusLabel(resp, err))

	if err != nil {
		var se *ServiceError
		switch {
		case errors.As(err, &se):
			log.Warn("Service rejected request",
				zap.Int("status", se.StatusCode),
				zap.String("detail", se.Message))
			return nil, se
		case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
			log.Warn("Processing service unavailable", zap.Error(err))
			return nil, fmt.Errorf("%s: processing service unavailable: %w", ep.name, err)
		default:
			log.Warn("Request failed", zap.Error(err))
			return nil, fmt.Errorf("%s request: %w", ep.name, err)
		}
	}

	log.Debug("Request completed",
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()))
	return resp, nil
}

func statusLabel(resp *resty.Response, err error) string {
	switch {
	case resp != nil:
		return strconv.Itoa(resp.StatusCode())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "circuit_open"
	default:
		return "error"
	}
}
