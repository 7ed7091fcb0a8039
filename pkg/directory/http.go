package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cbodonnell/lobbysync/pkg/identity"
	"github.com/cbodonnell/lobbysync/pkg/log"
)

var _ Directory = &HTTPClient{}

// HTTPClient talks to the directory API. It remembers the allocation from
// the last successful Create or Join so Leave can release it.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	identity   identity.Provider

	lock    sync.Mutex
	current *Allocation
}

type NewHTTPClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Identity   identity.Provider
}

func NewHTTPClient(opts NewHTTPClientOptions) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: httpClient,
		identity:   opts.Identity,
	}
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	sessions := []SessionSummary{}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *HTTPClient) Create(ctx context.Context, opts CreateOptions) (*Allocation, error) {
	req, err := opts.Request()
	if err != nil {
		return nil, err
	}
	allocation := &Allocation{}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, allocation); err != nil {
		return nil, err
	}
	c.setCurrent(allocation)
	return allocation, nil
}

func (c *HTTPClient) Join(ctx context.Context, sessionID string) (*Allocation, error) {
	allocation := &Allocation{}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/join", nil, allocation); err != nil {
		return nil, err
	}
	c.setCurrent(allocation)
	return allocation, nil
}

func (c *HTTPClient) Lock(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/lock", nil, nil)
}

func (c *HTTPClient) Leave(ctx context.Context) error {
	c.lock.Lock()
	current := c.current
	c.lock.Unlock()
	if current == nil {
		return ErrNoAllocation
	}

	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(current.SessionID)+"/leave", nil, nil); err != nil {
		return err
	}

	c.lock.Lock()
	if c.current == current {
		c.current = nil
	}
	c.lock.Unlock()
	return nil
}

// Current returns the allocation Leave would release.
func (c *HTTPClient) Current() *Allocation {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

func (c *HTTPClient) setCurrent(a *Allocation) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.current = a
}

func (c *HTTPClient) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	id, err := c.identity.SignIn(ctx)
	if err != nil {
		return fmt.Errorf("failed to sign in: %v", err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+id.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Debug("Directory %s %s returned %s", method, path, resp.Status)
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}
