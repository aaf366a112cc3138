package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/pkg/circuit"
	"github.com/terminal-bench/eventhub/pkg/discovery"
)

// Defaults for the per-peer circuit breakers.
const (
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second
	defaultHalfOpenMax = 3
	defaultCallTimeout = 3 * time.Second
)

type ctxKey int

const correlationKey ctxKey = 0

// WithCorrelationID stores a correlation id on the context so outbound
// calls carry the X-Correlation-ID of the inbound request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFrom returns the correlation id on the context, if any.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// caller is the shared transport under the typed service clients. Every
// call runs inside a circuit breaker with a bounded timeout; transport
// failures, 5xx responses and an open breaker all surface as
// apperr.ErrUnavailable while 4xx responses keep their business kind.
type caller struct {
	name     string
	http     *http.Client
	resolver *discovery.Resolver
	breaker  *circuit.Breaker
	timeout  time.Duration
}

func newCaller(name string, resolver *discovery.Resolver, timeout time.Duration) *caller {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &caller{
		name:     name,
		http:     &http.Client{},
		resolver: resolver,
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        name,
			MaxFailures: defaultMaxFailures,
			Timeout:     defaultOpenTimeout,
			HalfOpenMax: defaultHalfOpenMax,
		}),
		timeout: timeout,
	}
}

// call performs a JSON request against the resolved peer. A non-nil out is
// decoded from a 2xx body. Business failures (4xx) do not count against
// the breaker.
func (c *caller) call(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bizErr error
	err := c.breaker.Execute(ctx, func() error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.resolver.Resolve()+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if id := CorrelationIDFrom(ctx); id != "" {
			req.Header.Set("X-Correlation-ID", id)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s %s: upstream status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			bizErr = apperr.FromStatus(resp.StatusCode, errorMessage(resp.Body))
			return nil
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%s %s: decode response: %w", method, path, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Unavailable("%s: %v", c.name, err)
	}
	return bizErr
}

// errorMessage pulls the "error" field of a gin error body.
func errorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Error == "" {
		return "upstream error"
	}
	return body.Error
}
