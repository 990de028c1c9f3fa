// Package fabric is a client for the network fabric's port API. The
// conductor uses it to point a node's ports at the deploy boot server
// before a deployment starts.
package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

var (
	// ErrNoPortID is returned by UpdatePort when called with an empty port id.
	ErrNoPortID = errors.New("port id is required")

	// ErrAPI wraps every non-2xx answer of the fabric API.
	ErrAPI = errors.New("fabric api error")

	// ErrNoBaseURL is returned by NewClient without a base URL.
	ErrNoBaseURL = errors.New("fabric base url is required")
)

// DHCPOption is an extra DHCP option set on a port.
type DHCPOption struct {
	Name  string `json:"opt_name"`
	Value string `json:"opt_value"`
}

// Port is the fabric's view of a port.
type Port struct {
	ID            string       `json:"id"`
	MACAddress    string       `json:"mac_address,omitempty"`
	Status        string       `json:"status,omitempty"`
	ExtraDHCPOpts []DHCPOption `json:"extra_dhcp_opts,omitempty"`
}

// PortUpdate carries the attributes to change. Nil fields are left alone.
type PortUpdate struct {
	DHCPOptions []DHCPOption
}

type portBody struct {
	Port Port `json:"port"`
}

// Client talks to the fabric API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a client for the fabric at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     slog.Default(),
	}
	c.httpClient.Timeout = 30 * time.Second
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UpdatePort applies upd to the port and returns the port as the fabric
// reports it afterwards.
func (c *Client) UpdatePort(ctx context.Context, portID string, upd PortUpdate) (*Port, error) {
	if portID == "" {
		return nil, ErrNoPortID
	}
	start := time.Now()

	body := portBody{Port: Port{ID: portID, ExtraDHCPOpts: upd.DHCPOptions}}
	if err := c.do(ctx, http.MethodPut, "/v2.0/ports/"+portID, body, nil); err != nil {
		c.logger.Error("fabric error updating port", "port", portID, "error", err)
		return nil, fmt.Errorf("update port %s: %w", portID, err)
	}

	var shown portBody
	if err := c.do(ctx, http.MethodGet, "/v2.0/ports/"+portID, nil, &shown); err != nil {
		return nil, fmt.Errorf("show port %s: %w", portID, err)
	}

	c.logger.Debug("fabric update_port call finished", "port", portID, "took", time.Since(start))
	return &shown.Port, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrAPI, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// PXEOptions returns the DHCP options that make a node network boot from
// the given TFTP server and boot file.
func PXEOptions(tftpServer, bootFile string) []DHCPOption {
	return []DHCPOption{
		{Name: "bootfile-name", Value: bootFile},
		{Name: "server-ip-address", Value: tftpServer},
		{Name: "tftp-server", Value: tftpServer},
	}
}
