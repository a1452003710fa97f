package resilient

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is short-circuited without a
// network attempt because the endpoint's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config carries the retry and breaker tuning for a Caller. Zero fields are
// replaced with the package defaults.
type Config struct {
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    uint          `yaml:"retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTime     time.Duration `yaml:"recovery_time"`
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.RetryAttempts == 0 {
		out.RetryAttempts = DefaultRetryAttempts
	}
	if out.RetryBaseDelay == 0 {
		out.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if out.RetryMaxDelay == 0 {
		out.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if out.FailureThreshold == 0 {
		out.FailureThreshold = DefaultFailureThreshold
	}
	if out.RecoveryTime == 0 {
		out.RecoveryTime = DefaultRecoveryTime
	}
	return out
}

// Response is the terminal outcome of a resilient call. Any status below 500
// is terminal, including client errors, which are never retried.
type Response struct {
	StatusCode int
	Body       []byte
}

// Caller wraps outbound HTTP GETs with retry-with-backoff and a circuit
// breaker per endpoint key. Transient failures (transport errors and 5xx)
// are retried with exponential backoff; an exhausted retry budget counts as
// one breaker failure.
type Caller struct {
	config Config
	client *http.Client
	logger *zap.Logger

	breakersMu sync.Mutex
	breakers   map[string]*Breaker
}

func NewCaller(config *Config, logger *zap.Logger) *Caller {
	cfg := config.withDefaults()
	return &Caller{
		config: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
			},
			Timeout: cfg.Timeout,
		},
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the circuit breaker for an endpoint key, creating it on
// first use.
func (c *Caller) Breaker(key string) *Breaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	breaker, ok := c.breakers[key]
	if !ok {
		breaker = NewBreaker(c.config.FailureThreshold, c.config.RecoveryTime, c.logger)
		c.breakers[key] = breaker
	}
	return breaker
}

// Get performs an HTTP GET guarded by the breaker for `key`. It returns
// ErrCircuitOpen without a network attempt when the breaker is open, and an
// error after the retry budget is exhausted on transient failures. A 4xx
// response is a terminal outcome returned to the caller unretried.
func (c *Caller) Get(ctx context.Context, key string, url string) (*Response, error) {
	logger := c.logger.Sugar()

	breaker := c.Breaker(key)
	if !breaker.CanExecute() {
		logger.Warnw("circuit breaker open, skipping request", "key", key)
		return nil, ErrCircuitOpen
	}

	var response *Response
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			res, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer res.Body.Close()

			body, err := io.ReadAll(res.Body)
			if err != nil {
				return err
			}
			if res.StatusCode >= http.StatusInternalServerError {
				return errors.Errorf("server error: HTTP %d", res.StatusCode)
			}
			response = &Response{StatusCode: res.StatusCode, Body: body}
			return nil
		},
		retry.Attempts(c.config.RetryAttempts),
		retry.Delay(c.config.RetryBaseDelay),
		retry.MaxDelay(c.config.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnw("request failed, retrying", "key", key, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		breaker.RecordFailure()
		return nil, errors.Wrapf(err, "all retries failed for %s", key)
	}

	breaker.RecordSuccess()
	return response, nil
}
