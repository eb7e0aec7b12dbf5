// Package collab talks JSON over HTTP to the services workflow steps
// depend on: the token ledger, the swap escrow, blob storage and the
// group exporter.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/logger"
)

var ErrNotConfigured = errors.New("collab: endpoint not configured")

// StatusError is a non 2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Client is a JSON client bound to one base URL. A Client with an empty
// base URL answers every call with ErrNotConfigured.
type Client struct {
	name    string
	base    string
	timeout time.Duration
	httpc   *fasthttp.Client
}

func NewClient(name string, cfg config.EndpointConfig) *Client {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	maxBody := int(cfg.MaxResponseBytes.Int64())
	if maxBody <= 0 {
		maxBody = config.DefaultMaxResponse
	}
	return &Client{
		name:    name,
		base:    strings.TrimRight(cfg.URL, "/"),
		timeout: timeout,
		httpc: &fasthttp.Client{
			Name:                name,
			MaxResponseBodySize: maxBody,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
		},
	}
}

// Configured reports whether the client has an endpoint.
func (c *Client) Configured() bool { return c != nil && c.base != "" }

// do sends in as JSON and decodes a JSON answer into out. Either may be
// nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if !c.Configured() {
		return fmt.Errorf("%s: %w", c.nameOr(), ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.name, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(b)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	start := time.Now()
	if err := c.httpc.DoDeadline(req, resp, deadline); err != nil {
		logger.Warn("collab_request_failed", "service", c.name, "method", method, "path", path, "error", err)
		return fmt.Errorf("%s %s %s: %w", c.name, method, path, err)
	}
	code := resp.StatusCode()
	logger.Debug("collab_request", "service", c.name, "method", method, "path", path,
		"status", code, "duration", time.Since(start).String())
	if code < 200 || code > 299 {
		body := string(resp.Body())
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Errorf("%s %s %s: %w", c.name, method, path, &StatusError{Code: code, Body: body})
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

func (c *Client) nameOr() string {
	if c == nil {
		return "collab"
	}
	return c.name
}
