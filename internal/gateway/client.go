// Package gateway is a typed REST client for the kernel gateway management
// API: kernel and terminal lifecycle plus the contents tree. The WebSocket
// protocols those resources speak live in internal/kernel and
// internal/terminal.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/remote-notebook/kernelclient/internal/kernel"
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the gateway's HTTP(S) base URL (e.g. "http://localhost:8888").
	BaseURL string

	// Token authenticates every request. Empty means the gateway is open.
	Token string

	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client talks to one gateway's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("gateway: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Endpoint assembles the immutable endpoint triple a kernel session connects
// with.
func (c *Client) Endpoint(kernelID string) kernel.Endpoint {
	return kernel.Endpoint{
		BaseURL:  c.baseURL,
		KernelID: kernelID,
		Token:    c.token,
	}
}

type startKernelRequest struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// StartKernel launches a kernel and returns its descriptor. An empty spec
// name lets the gateway pick its default; path hints at the notebook the
// kernel serves.
func (c *Client) StartKernel(ctx context.Context, specName, path string) (*KernelInfo, error) {
	request := startKernelRequest{Name: specName, Path: path}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/kernels", request)
	if err != nil {
		return nil, fmt.Errorf("gateway: start kernel failed: %w", err)
	}

	var info KernelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse kernel response: %w", err)
	}

	c.logger.Info("kernel started", "kernel_id", info.ID, "spec", info.Name)
	return &info, nil
}

// GetKernel fetches the descriptor of a running kernel.
func (c *Client) GetKernel(ctx context.Context, kernelID string) (*KernelInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/kernels/"+url.PathEscape(kernelID), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: get kernel failed: %w", err)
	}

	var info KernelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse kernel response: %w", err)
	}
	return &info, nil
}

// ListKernels fetches the descriptors of every running kernel.
func (c *Client) ListKernels(ctx context.Context) ([]KernelInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/kernels", nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: list kernels failed: %w", err)
	}

	var infos []KernelInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse kernel list: %w", err)
	}
	return infos, nil
}

// ShutdownKernel stops a kernel. Sessions connected to its channels observe
// the socket closing.
func (c *Client) ShutdownKernel(ctx context.Context, kernelID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/api/kernels/"+url.PathEscape(kernelID), nil); err != nil {
		return fmt.Errorf("gateway: shutdown kernel failed: %w", err)
	}

	c.logger.Info("kernel shut down", "kernel_id", kernelID)
	return nil
}

// StartTerminal opens a new terminal on the gateway.
func (c *Client) StartTerminal(ctx context.Context) (*TerminalInfo, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/terminals", nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: start terminal failed: %w", err)
	}

	var info TerminalInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse terminal response: %w", err)
	}

	c.logger.Info("terminal started", "terminal", info.Name)
	return &info, nil
}

// ShutdownTerminal stops a terminal. Clients attached to its socket receive
// a disconnect frame first.
func (c *Client) ShutdownTerminal(ctx context.Context, name string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/api/terminals/"+url.PathEscape(name), nil); err != nil {
		return fmt.Errorf("gateway: shutdown terminal failed: %w", err)
	}

	c.logger.Info("terminal shut down", "terminal", name)
	return nil
}

// GetContents fetches one node of the contents tree. Directory nodes carry
// their child entries in the payload.
func (c *Client) GetContents(ctx context.Context, path string) (*Content, error) {
	body, err := c.doRequest(ctx, http.MethodGet, contentsPath(path), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: get contents failed: %w", err)
	}

	var content Content
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse contents response: %w", err)
	}
	return &content, nil
}

// ListContents fetches a directory node and returns its entries.
func (c *Client) ListContents(ctx context.Context, path string) ([]Content, error) {
	content, err := c.GetContents(ctx, path)
	if err != nil {
		return nil, err
	}
	return content.Entries()
}

type saveContentsRequest struct {
	Type    string `json:"type"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// SaveContents writes text as a file node, creating or replacing it.
func (c *Client) SaveContents(ctx context.Context, path, text string) (*Content, error) {
	request := saveContentsRequest{Type: "file", Format: "text", Content: text}
	body, err := c.doRequest(ctx, http.MethodPut, contentsPath(path), request)
	if err != nil {
		return nil, fmt.Errorf("gateway: save contents failed: %w", err)
	}

	var content Content
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse contents response: %w", err)
	}
	return &content, nil
}

// DeleteContents removes a file node.
func (c *Client) DeleteContents(ctx context.Context, path string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, contentsPath(path), nil); err != nil {
		return fmt.Errorf("gateway: delete contents failed: %w", err)
	}
	return nil
}

type renameContentsRequest struct {
	Path string `json:"path"`
}

// RenameContents moves a node to a new path.
func (c *Client) RenameContents(ctx context.Context, oldPath, newPath string) (*Content, error) {
	request := renameContentsRequest{Path: newPath}
	body, err := c.doRequest(ctx, http.MethodPatch, contentsPath(oldPath), request)
	if err != nil {
		return nil, fmt.Errorf("gateway: rename contents failed: %w", err)
	}

	var content Content
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse contents response: %w", err)
	}
	return &content, nil
}

type copyContentsRequest struct {
	CopyFrom string `json:"copy_from"`
}

// CopyContents copies a file into a directory. The gateway names the copy.
func (c *Client) CopyContents(ctx context.Context, fromPath, toDir string) (*Content, error) {
	request := copyContentsRequest{CopyFrom: fromPath}
	body, err := c.doRequest(ctx, http.MethodPost, contentsPath(toDir), request)
	if err != nil {
		return nil, fmt.Errorf("gateway: copy contents failed: %w", err)
	}

	var content Content
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse contents response: %w", err)
	}
	return &content, nil
}

// contentsPath builds the API path for a contents node, escaping each
// segment but keeping the separators.
func contentsPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/api/contents/"
	}

	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "/api/contents/" + strings.Join(segments, "/")
}

// doRequest performs one request against the gateway and returns the
// response body. On 2xx, returns the body. On anything else, returns a
// *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "token "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	if err := json.Unmarshal(responseBody, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(responseBody))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(response.StatusCode)
	}
	return nil, apiErr
}
