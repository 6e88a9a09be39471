package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Schema is the minimal JSON-schema slice the facade enforces: declared
// properties and which of them are required.
type Schema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Tool declares a priced HTTP endpoint as an invokable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema Schema
	Endpoint    string
	Method      string
	// Header is merged into every invocation (e.g. auth or Idempotency-Key).
	Header http.Header
}

// Result is the tool invocation outcome. Data is decoded JSON when the
// response content type permits, else the raw body as a string.
type Result struct {
	OK     bool `json:"ok"`
	Status int  `json:"status"`
	Data   any  `json:"data"`
}

// Invoke validates input against the tool's schema, shapes it into the
// request (query parameters for GET/DELETE, JSON body otherwise), and runs it
// through the paying fetch loop.
func (c *Client) Invoke(ctx context.Context, tool Tool, input map[string]any) (Result, error) {
	for _, name := range tool.InputSchema.Required {
		if v, ok := input[name]; !ok || v == nil {
			return Result{}, fmt.Errorf("Missing required field: %s", name)
		}
	}

	method := strings.ToUpper(tool.Method)
	if method == "" {
		method = http.MethodGet
	}

	endpoint := tool.Endpoint
	var body []byte
	header := make(http.Header)
	for k, vs := range tool.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	switch method {
	case http.MethodGet, http.MethodDelete:
		u, err := url.Parse(tool.Endpoint)
		if err != nil {
			return Result{}, fmt.Errorf("tool %s: parse endpoint: %w", tool.Name, err)
		}
		q := u.Query()
		for k, v := range input {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	default:
		var err error
		body, err = json.Marshal(input)
		if err != nil {
			return Result{}, fmt.Errorf("tool %s: encode input: %w", tool.Name, err)
		}
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.Fetch(ctx, method, endpoint, body, header)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s: read response: %w", tool.Name, err)
	}

	result := Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var data any
		if err := json.Unmarshal(raw, &data); err == nil {
			result.Data = data
			return result, nil
		}
	}
	result.Data = string(raw)
	return result, nil
}
