package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error is a non-2xx response from the game server
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return e.Detail
}

// Client performs the remote calls of the game server
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewClient creates a client for the server at baseURL. Only the origin of
// baseURL is used.
func NewClient(baseURL string, httpClient *http.Client, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must include scheme and host", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL: u.Scheme + "://" + u.Host,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// call is the description of one request
type call struct {
	method string
	path   string
	token  string
	query  url.Values
	body   any
	basic  *[2]string
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", cl.path, err)
		}
		body = bytes.NewReader(data)
	} else if cl.method == http.MethodPost {
		body = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.basic != nil {
		req.SetBasicAuth(cl.basic[0], cl.basic[1])
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}

	startTime := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("%s %s [%s] failed: %v", cl.method, cl.path, requestID, err)
		return err
	}
	defer resp.Body.Close()

	c.logger.Printf("%s %s [%s] %d in %s", cl.method, cl.path, requestID, resp.StatusCode,
		time.Since(startTime).Round(time.Microsecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var detail struct {
			Detail any `json:"detail"`
		}
		if data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); len(data) > 0 {
			if json.Unmarshal(data, &detail) == nil && detail.Detail != nil {
				if s, ok := detail.Detail.(string); ok {
					apiErr.Detail = s
				} else {
					apiErr.Detail = fmt.Sprint(detail.Detail)
				}
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", cl.path, err)
	}
	return nil
}
