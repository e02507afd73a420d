package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gustycube/skywatch/internal/circuitbreaker"
)

func Default() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 15 * time.Second}
}

// ResilientClient wraps http.Client with a circuit breaker per host.
type ResilientClient struct {
	client   *http.Client
	breakers *circuitbreaker.Group
	ua       string
}

func NewResilientClient(client *http.Client, ua string) *ResilientClient {
	if client == nil {
		client = Default()
	}
	return &ResilientClient{
		client:   client,
		breakers: circuitbreaker.NewGroup(circuitbreaker.DefaultConfig()),
		ua:       ua,
	}
}

// Do executes req. Transport errors and 5xx responses count against the
// host's breaker; a 5xx still returns the response alongside an HTTPError.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if c.ua != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.ua)
	}
	var resp *http.Response
	err := c.breakers.Execute(req.URL.Host, func() error {
		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil
	})
	return resp, err
}

func (c *ResilientClient) GetWithContext(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// BreakerState reports the breaker state for host.
func (c *ResilientClient) BreakerState(host string) circuitbreaker.State {
	return c.breakers.State(host)
}

type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %s", e.Status)
}

func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

func GetHTTPStatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
