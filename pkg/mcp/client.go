package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const protocolVersion = "2024-11-05"

// JSON-RPC messages exchanged with a provider process.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Client is a duplex request/response channel to one provider process,
// speaking JSON-RPC 2.0 over the process's stdin/stdout.
//
// The stream is single-flight: callMu serializes requests so responses
// can never be attributed to the wrong caller, even when several
// sessions share the connection.
type Client struct {
	providerID string
	command    string
	args       []string
	timeout    time.Duration

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *rpcResponse

	callMu sync.Mutex
}

// NewClient creates a client for a provider process. The process is not
// spawned until Start.
func NewClient(providerID, command string, args []string) *Client {
	return &Client{
		providerID: providerID,
		command:    command,
		args:       args,
		timeout:    30 * time.Second,
		pending:    make(map[int]chan *rpcResponse),
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// ProviderID returns the id of the provider this client talks to.
func (c *Client) ProviderID() string {
	return c.providerID
}

// Start spawns the provider process, wires the pipes and performs the
// initialize handshake. Calling Start on a started client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.process != nil {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("provider %s: stdin pipe: %w", c.providerID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("provider %s: stdout pipe: %w", c.providerID, err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("provider %s: spawn %s: %w", c.providerID, c.command, err)
	}

	c.process = cmd
	c.stdin = stdin
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	c.stdout = scanner
	c.mu.Unlock()

	go c.listen()

	if err := c.initialize(ctx); err != nil {
		return fmt.Errorf("provider %s: initialize: %w", c.providerID, err)
	}

	log.Debug().Str("provider", c.providerID).Str("command", c.command).Msg("Provider connection established")
	return nil
}

func (c *Client) listen() {
	for c.stdout.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(c.stdout.Bytes(), &resp); err != nil {
			log.Error().Str("provider", c.providerID).Err(err).Msg("Failed to decode provider response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			c.mu.Lock()
			ch, exists := c.pending[int(id)]
			if exists {
				delete(c.pending, int(id))
				ch <- &resp
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "mcpilot",
			"version": "0.1.0",
		},
	}
	_, err := c.call(ctx, "initialize", params)
	return err
}

// call sends one request and waits for its response. Requests are
// serialized: the next request is not written until the previous
// response (or its timeout) arrived.
func (c *Client) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	if c.stdin == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("provider %s: connection not started", c.providerID)
	}
	c.id++
	id := c.id
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		return nil, fmt.Errorf("provider %s: write: %w", c.providerID, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("provider %s: rpc error (%d): %s", c.providerID, resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		c.dropPending(id)
		return nil, fmt.Errorf("provider %s: request timeout after %v", c.providerID, c.timeout)
	}
}

func (c *Client) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// ListTools fetches the provider's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, fmt.Errorf("provider %s: decode tools/list: %w", c.providerID, err)
	}

	for i := range listResult.Tools {
		listResult.Tools[i].Provider = c.providerID
	}
	return listResult.Tools, nil
}

// CallTool invokes a tool on the provider.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (CallResult, error) {
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	resp, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return CallResult{}, err
	}

	var result CallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return CallResult{}, fmt.Errorf("provider %s: decode tools/call: %w", c.providerID, err)
	}
	return result, nil
}

// Close shuts the connection down: stdin is closed first so a
// well-behaved provider can exit, then the process is terminated.
// Safe to call on a never-started or already-closed client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			log.Warn().Str("provider", c.providerID).Err(err).Msg("Failed to close provider stdin")
		}
		c.stdin = nil
	}

	if c.process != nil && c.process.Process != nil {
		if err := c.process.Process.Kill(); err != nil {
			c.process = nil
			return err
		}
		// Reap the child so the kill is final, not a lingering zombie.
		_ = c.process.Wait()
		c.process = nil
	}
	return nil
}
