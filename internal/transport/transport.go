// Package transport performs the outbound calls the replay engine makes:
// JSON POSTs to the chat backend and connectivity probes.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultTimeout bounds a single outbound call when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Response is the status and body of a completed call.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is a fasthttp-backed HTTP client. Safe for concurrent use.
type Client struct {
	hc      *fasthttp.Client
	timeout time.Duration
}

// New returns a client configured by opts.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	name := opts.UserAgent
	if name == "" {
		name = "chatsync"
	}
	return &Client{
		hc: &fasthttp.Client{
			Name:                name,
			MaxIdleConnDuration: time.Minute,
		},
		timeout: timeout,
	}
}

// Post sends body to target with the given headers.
//
// A response with any status code is returned without error; callers decide
// what counts as success. Errors are network failures and timeouts.
// Cancellation is observed through the ctx deadline and before the call
// starts; an in-flight call runs until its deadline.
func (c *Client) Post(ctx context.Context, target string, headers map[string]string, body []byte) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodPost)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	if err := c.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("post %s: %w", target, err)
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), resp.Body()...),
	}, nil
}

// Probe issues a GET to url and reports whether the network path is up.
// Any HTTP response counts as reachable; only transport errors fail.
func (c *Client) Probe(ctx context.Context, url string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	resp.SkipBody = true

	if err := c.do(ctx, req, resp); err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.hc.DoDeadline(req, resp, deadline)
}
