package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 4 << 20
)

// Options configures an upstream service client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// jsonClient issues authenticated JSON requests against one service.
type jsonClient struct {
	service string
	baseURL string
	token   string
	client  *http.Client
}

func newJSONClient(service string, opts Options) (*jsonClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("clients: %s base url is empty", service)
	}
	if _, errParse := url.Parse(base); errParse != nil {
		return nil, fmt.Errorf("clients: %s base url: %w", service, errParse)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &jsonClient{service: service, baseURL: base, token: strings.TrimSpace(opts.Token), client: client}, nil
}

// do sends body as JSON (when non-nil) and decodes a 2xx response into out.
func (c *jsonClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			return fmt.Errorf("clients: %s encode request: %w", c.service, errMarshal)
		}
		reader = bytes.NewReader(encoded)
	}

	req, errReq := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if errReq != nil {
		return fmt.Errorf("clients: %s build request: %w", c.service, errReq)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, errDo := c.client.Do(req)
	if errDo != nil {
		return &UpstreamError{Service: c.service, Err: errDo}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return &UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Err: errRead}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Err: errors.New(snippet(raw))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if errDecode := json.Unmarshal(raw, out); errDecode != nil {
		return &UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", errDecode)}
	}
	return nil
}

func snippet(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty body"
	}
	if len(text) > 256 {
		return text[:256] + "..."
	}
	return text
}
