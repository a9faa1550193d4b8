package director

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
)

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 512

// Logger is the logging surface the director package needs.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Variable is one entry of an item's variable listing.
type Variable struct {
	ID      int    `json:"id"`
	VarName string `json:"varName"`
	Value   any    `json:"value"`
}

// Client talks to the director's REST API.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  Logger
}

// NewClient builds a REST client. Every request carries a bearer token
// obtained from tokens at send time.
//
// Parameters:
//   - cfg: Director connection settings
//   - tokens: Credential source (see NewTokenSource)
//   - logger: Optional; nil discards
func NewClient(cfg Config, tokens oauth2.TokenSource, logger Logger) (*Client, error) {
	if tokens == nil {
		return nil, ErrNoCredentials
	}
	cfg = cfg.withDefaults()

	base, err := cfg.baseURL()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   newTransport(cfg),
			},
		},
		logger: logger,
	}, nil
}

func newTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- directors ship self-signed certs
	}
	return t
}

// ItemVariables fetches every variable of one item as a name → value map.
//
// This is the snapshot the bridge seeds a device's attribute store from.
// Values keep their JSON types (string, float64, bool, nested map).
func (c *Client) ItemVariables(ctx context.Context, itemID int) (map[string]any, error) {
	path := itemsPath + "/" + strconv.Itoa(itemID) + "/variables"

	var vars []Variable
	if err := c.do(ctx, http.MethodGet, path, nil, &vars); err != nil {
		return nil, err
	}

	snapshot := make(map[string]any, len(vars))
	for _, v := range vars {
		if v.VarName == "" {
			continue
		}
		snapshot[v.VarName] = v.Value
	}

	c.logger.Debug("fetched item variables", "item_id", itemID, "count", len(snapshot))
	return snapshot, nil
}

// commandRequest is the body of POST /items/{id}/commands.
type commandRequest struct {
	Async   bool           `json:"async"`
	Command string         `json:"command"`
	Params  map[string]any `json:"tParams"`
}

// SendCommand issues a named command with parameters to one item.
//
// The director acknowledges asynchronously; success means the command was
// accepted, not applied. State changes arrive on the push stream.
func (c *Client) SendCommand(ctx context.Context, itemID int, command string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	path := itemsPath + "/" + strconv.Itoa(itemID) + "/commands"

	body := commandRequest{Async: true, Command: command, Params: params}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("sending %s to item %d: %w", command, itemID, err)
	}

	c.logger.Debug("command sent", "item_id", itemID, "command", command, "params", params)
	return nil
}

// do performs a JSON request. in is marshalled when non-nil; out is
// decoded when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best effort
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keep-alive
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, method, path, err)
	}
	return nil
}
