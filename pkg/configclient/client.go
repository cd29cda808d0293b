// Package configclient fetches a settings snapshot from the config service
// once and answers lookups from memory.
package configclient

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
	"time"

	"github.com/constructa/erp/backend/pkg/configvalue"
)

const (
	settingsPath      = "/api/settings"
	uiModule          = "ui"
	enabledModulesKey = "enabled_modules"
	maxErrorBody      = 512
)

// Entry is one setting in the snapshot.
type Entry struct {
	Value       configvalue.Value
	Type        configvalue.ConfigType
	Label       string
	Description string
}

type wireEntry struct {
	Value       json.RawMessage `json:"value"`
	Type        string          `json:"type"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
}

type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends the bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithModule restricts the snapshot to one module.
func WithModule(module string) Option {
	return func(c *Client) { c.module = module }
}

// Client holds the last fetched snapshot. It is safe for concurrent use.
// Lookups never touch the network.
type Client struct {
	baseURL    string
	token      string
	module     string
	httpClient *http.Client

	mu       sync.RWMutex
	snapshot map[string]map[string]Entry
	loaded   bool
	loading  bool
	err      string
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		snapshot:   map[string]map[string]Entry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the snapshot unless one was already loaded successfully.
func (c *Client) Load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refresh(ctx)
}

// Refresh always re-fetches. On failure the snapshot is emptied and Err
// reports the reason.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	snapshot, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err != nil {
		c.snapshot = map[string]map[string]Entry{}
		c.loaded = false
		c.err = err.Error()
		return err
	}
	c.snapshot = snapshot
	c.loaded = true
	c.err = ""
	return nil
}

func (c *Client) fetch(ctx context.Context) (map[string]map[string]Entry, error) {
	endpoint := c.baseURL + settingsPath
	if c.module != "" {
		endpoint += "?module=" + url.QueryEscape(c.module)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build settings request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read settings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch settings: status %d: %s", resp.StatusCode, errorMessage(body))
	}

	if c.module != "" {
		var payload struct {
			Configs map[string]wireEntry `json:"configs"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		return map[string]map[string]Entry{c.module: decodeEntries(payload.Configs)}, nil
	}

	var payload struct {
		Configs map[string]map[string]wireEntry `json:"configs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	snapshot := make(map[string]map[string]Entry, len(payload.Configs))
	for module, entries := range payload.Configs {
		snapshot[module] = decodeEntries(entries)
	}
	return snapshot, nil
}

func errorMessage(body []byte) string {
	var failure struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &failure) == nil && failure.Error != "" {
		return failure.Error
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

func decodeEntries(wire map[string]wireEntry) map[string]Entry {
	out := make(map[string]Entry, len(wire))
	for key, w := range wire {
		typ, ok := configvalue.ParseType(w.Type)
		if !ok {
			typ = configvalue.TypeString
		}
		out[key] = Entry{
			Value:       configvalue.Decode(storedForm(w.Value), typ),
			Type:        typ,
			Label:       w.Label,
			Description: w.Description,
		}
	}
	return out
}

// storedForm turns a JSON response value back into the text the server
// stores, so decoding follows the same rules on both sides.
func storedForm(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// Get returns one setting from the snapshot.
func (c *Client) Get(module, key string) (configvalue.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.snapshot[module][key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetModule returns the module's values keyed by setting key.
func (c *Client) GetModule(module string) map[string]configvalue.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]configvalue.Value, len(c.snapshot[module]))
	for key, e := range c.snapshot[module] {
		out[key] = e.Value
	}
	return out
}

// GetAll returns a copy of the whole snapshot.
func (c *Client) GetAll() map[string]map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]Entry, len(c.snapshot))
	for module, entries := range c.snapshot {
		inner := make(map[string]Entry, len(entries))
		for key, e := range entries {
			inner[key] = e
		}
		out[module] = inner
	}
	return out
}

// IsEnabled applies the server's rule: a module is enabled unless
// ui.enabled_modules is a list that does not contain it. Before the first
// successful load every module is enabled.
func (c *Client) IsEnabled(moduleName string) bool {
	v, ok := c.Get(uiModule, enabledModulesKey)
	if !ok {
		return true
	}
	list, ok := configvalue.AsList(v)
	if !ok {
		return true
	}
	for _, m := range list {
		if m == moduleName {
			return true
		}
	}
	return false
}

// Loading reports whether a fetch is in flight.
func (c *Client) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Err returns the last fetch error, or "" after a successful fetch.
func (c *Client) Err() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}
