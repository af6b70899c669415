package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/metrics"
	"FreightLane/internal/model"
	"FreightLane/pkg/httpclient"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 200 * time.Millisecond
	defaultCallTimeout = 10 * time.Second

	// business error bodies are kept for logs only
	maxErrorBodyLen = 512
)

// RequestFunc performs one HTTP request against baseAddress. It must honour
// ctx, which carries the per-attempt timeout.
type RequestFunc func(ctx context.Context, baseAddress string) (*http.Response, error)

// ResilientClient executes outbound calls with per-attempt timeouts,
// exponential backoff retries and a per-service circuit breaker.
type ResilientClient struct {
	registry *ServiceRegistry
	breakers *BreakerSet

	maxAttempts int
	backoffBase time.Duration
	timeout     time.Duration
	transient   map[int]struct{}

	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *log.Helper
}

// NewResilientClient creates a client using the resilience policy in c.
func NewResilientClient(c *conf.Resilience, registry *ServiceRegistry, breakers *BreakerSet, m *metrics.Metrics, logger log.Logger) *ResilientClient {
	rc := &ResilientClient{
		registry:    registry,
		breakers:    breakers,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		timeout:     defaultCallTimeout,
		transient:   map[int]struct{}{http.StatusRequestTimeout: {}},
		httpClient:  &http.Client{},
		metrics:     m,
		log:         log.NewHelper(log.With(logger, "module", "biz/resilient_client")),
	}
	if c != nil {
		if c.MaxAttempts > 0 {
			rc.maxAttempts = c.MaxAttempts
		}
		if c.BackoffBase > 0 {
			rc.backoffBase = c.BackoffBase
		}
		if c.Timeout > 0 {
			rc.timeout = c.Timeout
		}
		for _, code := range c.TransientStatuses {
			rc.transient[code] = struct{}{}
		}
		if c.ProxyURL != "" {
			client, err := httpclient.New(c.ProxyURL)
			if err != nil {
				rc.log.Errorw("msg", "invalid outbound proxy, calling services directly", "error", err)
			} else {
				rc.httpClient = client
			}
		}
	}
	return rc
}

// Execute runs fn against the current address of service.
//
// Transient failures (transport errors, attempt timeouts, 5xx, 408 and the
// configured statuses) are retried up to the attempt limit with delays of
// base, 2*base, 4*base... Other 4xx answers end the call immediately with a
// BusinessError. The breaker sees exactly one outcome per Execute: a failure
// when every attempt failed transiently, a success otherwise. Business errors
// and caller cancellation leave it untouched.
//
// The returned response body is fully buffered and may be read after return.
func (c *ResilientClient) Execute(ctx context.Context, service string, fn RequestFunc) (*http.Response, error) {
	start := time.Now()

	base, err := c.registry.GetBaseAddress(ctx, service)
	if err != nil {
		c.metrics.ObserveCall(service, "not_found", time.Since(start))
		return nil, err
	}

	breaker := c.breakers.Get(service)
	ticket, err := breaker.Allow()
	if err != nil {
		c.metrics.ObserveCall(service, "circuit_open", time.Since(start))
		c.log.Debugw("msg", "call rejected by open circuit", "service", service)
		return nil, err
	}
	reported := false
	defer func() {
		// a panicking RequestFunc must not hold the half-open trial slot
		if !reported {
			breaker.OnNeutral(ticket)
		}
	}()

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		attempt++
		r, err := c.attempt(ctx, service, base, fn)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warnw("msg", "transient call failure, retrying",
			"service", service,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait.String(),
			"error", err)
	}

	err = backoff.RetryNotify(operation, c.policy(ctx), notify)
	elapsed := time.Since(start)
	reported = true

	switch {
	case err == nil:
		breaker.OnSuccess(ticket)
		c.metrics.ObserveCall(service, "success", elapsed)
		return resp, nil

	case ctx.Err() != nil:
		breaker.OnNeutral(ticket)
		c.metrics.ObserveCall(service, "cancelled", elapsed)
		return nil, ctx.Err()

	case IsBusiness(err):
		breaker.OnNeutral(ticket)
		c.metrics.ObserveCall(service, "business", elapsed)
		return nil, err

	default:
		breaker.OnFailure(ticket, err)
		c.metrics.ObserveCall(service, "transient", elapsed)
		c.log.Errorw("msg", "call failed after retries",
			"service", service,
			"attempts", attempt,
			"error", err)
		return nil, err
	}
}

func (c *ResilientClient) policy(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.backoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.backoffBase << 10,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

// attempt performs one try. Errors wrapped in backoff.Permanent stop the retry loop.
func (c *ResilientClient) attempt(ctx context.Context, service, base string, fn RequestFunc) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := fn(attemptCtx, base)
	if err == nil {
		var body []byte
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &TransientCallError{Service: service, Err: err}
	}

	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return resp, nil
	case resp.StatusCode >= http.StatusInternalServerError || c.isTransientStatus(resp.StatusCode):
		return nil, &TransientCallError{Service: service, StatusCode: resp.StatusCode}
	default:
		return nil, backoff.Permanent(&BusinessError{
			Service:    service,
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp),
		})
	}
}

func (c *ResilientClient) isTransientStatus(code int) bool {
	_, ok := c.transient[code]
	return ok
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	return strings.TrimSpace(string(body))
}

// GetJSON issues GET {base}{path} through Execute and decodes the JSON answer into out.
func (c *ResilientClient) GetJSON(ctx context.Context, service, path string, out any) error {
	resp, err := c.Execute(ctx, service, func(ctx context.Context, base string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}

// Registry exposes the registry the client resolves addresses from.
func (c *ResilientClient) Registry() *ServiceRegistry {
	return c.registry
}

// IsServiceNotFound reports whether err means the service has no known address.
func IsServiceNotFound(err error) bool {
	return errors.Is(err, model.ErrServiceNotFound)
}
