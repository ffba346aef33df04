// Package services contains typed HTTP clients for the platform
// microservices. Every call is scoped to one organization; the
// organization id travels both in the request path and in a header so
// the downstream service can enforce tenancy on its own side.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/httpclient"
)

const orgHeader = "X-Organization-ID"

// ServiceError wraps downstream failures with the service name and
// operation for log correlation.
type ServiceError struct {
	Service   string
	Operation string
	Message   string
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s: %s: %s: %v", e.Service, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s: %s: %s", e.Service, e.Operation, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// baseClient handles JSON transport, auth and retries for one service.
type baseClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func newBaseClient(name string, endpoint config.ServiceEndpoint) *baseClient {
	return &baseClient{
		name:    name,
		baseURL: strings.TrimRight(endpoint.BaseURL, "/"),
		apiKey:  endpoint.APIKey,
		client: httpclient.New(
			httpclient.WithTimeout(time.Duration(endpoint.Timeout) * time.Second),
		),
	}
}

// doJSON issues a request and decodes the response into out. A nil
// body means no request payload; a nil out discards the response.
func (c *baseClient) doJSON(ctx context.Context, method, path, organizationID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ServiceError{Service: c.name, Operation: method + " " + path, Message: "failed to marshal request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ServiceError{Service: c.name, Operation: method + " " + path, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set(orgHeader, organizationID)

	// Do reports non-2xx statuses as errors while still returning the
	// response; fall through to the status handling below in that case.
	resp, err := c.client.Do(req)
	if err != nil && resp == nil {
		return &ServiceError{Service: c.name, Operation: method + " " + path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ServiceError{Service: c.name, Operation: method + " " + path, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{
			Service:   c.name,
			Operation: method + " " + path,
			Message:   fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncateBody(raw)),
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ServiceError{Service: c.name, Operation: method + " " + path, Message: "failed to decode response", Err: err}
	}
	return nil
}

func truncateBody(raw []byte) string {
	const max = 512
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
