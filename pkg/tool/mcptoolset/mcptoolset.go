// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptoolset exposes tools from MCP (Model Context Protocol)
// servers as a tool.Toolset.
//
// Connections are lazy: the server is contacted on the first Tools()
// call, not at construction, so configuring an unreachable server only
// fails when an agent actually needs its tools.
//
// Two transports are supported:
//   - stdio: subprocess communication via the mcp-go client
//   - streamable-http / sse: JSON-RPC over HTTP with retry and backoff
package mcptoolset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/httpclient"
	"github.com/kadirpekel/maestro/pkg/tool"
)

const (
	protocolVersion = "2024-11-05"

	// DefaultSSETimeout bounds how long we wait for a JSON-RPC reply
	// delivered over an SSE stream.
	DefaultSSETimeout = 5 * time.Minute
)

// Config configures an MCP toolset.
type Config struct {
	// Name identifies this toolset in logs and registries.
	Name string

	// URL is the MCP server endpoint for HTTP transports.
	URL string

	// Command starts a stdio MCP server as a subprocess.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is extra environment for the subprocess, as KEY=VALUE pairs.
	Env map[string]string

	// Filter, when non-empty, limits which server tools are exposed.
	Filter []string

	// MaxRetries for HTTP requests. Defaults to 3.
	MaxRetries int

	// SSETimeout bounds SSE response reads. Defaults to 5m.
	SSETimeout time.Duration
}

// Toolset is an MCP-backed toolset with lazy connection.
type Toolset struct {
	cfg       Config
	filterSet map[string]bool

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	connected  bool
	tools      []tool.Tool

	sessionMu sync.RWMutex
	sessionID string
}

// New creates an MCP toolset. Either URL or Command must be set.
func New(cfg Config) (*Toolset, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcptoolset: either url or command is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = DefaultSSETimeout
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string { return t.cfg.Name }

// Tools returns the server's tools, connecting on first use.
func (t *Toolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		connectCtx := context.Context(context.Background())
		if ctx != nil {
			connectCtx = ctx
		}
		if err := t.connect(connectCtx); err != nil {
			return nil, fmt.Errorf("mcptoolset %s: connect: %w", t.cfg.Name, err)
		}
	}
	return t.tools, nil
}

// Close shuts down the MCP connection.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.stdio != nil {
		err = t.stdio.Close()
		t.stdio = nil
	}
	t.httpClient = nil
	t.connected = false
	t.tools = nil
	return err
}

func (t *Toolset) connect(ctx context.Context) error {
	if t.cfg.Command != "" {
		return t.connectStdio(ctx)
	}
	return t.connectHTTP(ctx)
}

func (t *Toolset) connectStdio(ctx context.Context) error {
	env := make([]string, 0, len(t.cfg.Env))
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "maestro", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var tools []tool.Tool
	for _, st := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[st.Name] {
			continue
		}
		tools = append(tools, &serverTool{
			toolset: t,
			name:    st.Name,
			desc:    st.Description,
			schema:  schemaToMap(st.InputSchema),
			stdio:   true,
		})
	}

	t.stdio = mcpClient
	t.tools = tools
	t.connected = true

	slog.Info("connected to MCP server",
		"name", t.cfg.Name, "transport", "stdio",
		"command", t.cfg.Command, "tools", len(tools))
	return nil
}

func (t *Toolset) connectHTTP(ctx context.Context) error {
	t.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(t.cfg.MaxRetries),
	)

	initResp, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "maestro", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("initialize: %s", initResp.Error.Message)
	}

	listResp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("list tools: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected tools/list result")
	}
	rawTools, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("tools/list response has no tools")
	}

	var tools []tool.Tool
	for _, raw := range rawTools {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if name == "" || (t.filterSet != nil && !t.filterSet[name]) {
			continue
		}
		desc, _ := entry["description"].(string)
		schema, _ := entry["inputSchema"].(map[string]any)
		tools = append(tools, &serverTool{toolset: t, name: name, desc: desc, schema: schema})
	}

	t.tools = tools
	t.connected = true

	slog.Info("connected to MCP server",
		"name", t.cfg.Name, "transport", "http",
		"url", t.cfg.URL, "tools", len(tools))
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call sends a JSON-RPC request over HTTP and decodes the reply,
// whether it arrives as plain JSON or as an SSE event.
func (t *Toolset) call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	t.sessionMu.RLock()
	if t.sessionID != "" {
		req.Header.Set("mcp-session-id", t.sessionID)
	}
	t.sessionMu.RUnlock()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("mcp-session-id"); sid != "" {
		t.sessionMu.Lock()
		t.sessionID = sid
		t.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, string(raw))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return t.readSSEResponse(resp)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	return &rpc, nil
}

// readSSEResponse extracts the first complete JSON-RPC message from an
// SSE stream, bounded by the configured timeout.
func (t *Toolset) readSSEResponse(resp *http.Response) (*rpcResponse, error) {
	type result struct {
		rpc *rpcResponse
		err error
	}
	done := make(chan result, 1)

	go func() {
		reader := bufio.NewReader(resp.Body)
		var data strings.Builder

		flush := func() *rpcResponse {
			if data.Len() == 0 {
				return nil
			}
			var rpc rpcResponse
			if err := json.Unmarshal([]byte(data.String()), &rpc); err == nil {
				return &rpc
			}
			data.Reset()
			return nil
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if rpc := flush(); rpc != nil {
					done <- result{rpc: rpc}
					return
				}
				continue
			}
			if after, ok := strings.CutPrefix(line, "data:"); ok {
				data.WriteString(strings.TrimSpace(after))
			}
		}
		if rpc := flush(); rpc != nil {
			done <- result{rpc: rpc}
			return
		}
		done <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case res := <-done:
		return res.rpc, res.err
	case <-time.After(t.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", t.cfg.SSETimeout)
	}
}

// serverTool adapts a single MCP server tool to tool.CallableTool.
type serverTool struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
	stdio   bool
}

func (w *serverTool) Name() string { return w.name }

func (w *serverTool) Description() string { return w.desc }

func (w *serverTool) Schema() map[string]any { return w.schema }

func (w *serverTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	callCtx := context.Context(context.Background())
	if ctx != nil {
		callCtx = ctx
	}
	if w.stdio {
		return w.callStdio(callCtx, args)
	}
	return w.callHTTP(callCtx, args)
}

func (w *serverTool) callStdio(ctx context.Context, args map[string]any) (map[string]any, error) {
	w.toolset.mu.Lock()
	mcpClient := w.toolset.stdio
	w.toolset.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call %s: %w", w.name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if resp.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return map[string]any{"error": msg}, nil
	}
	return textsToResult(texts), nil
}

func (w *serverTool) callHTTP(ctx context.Context, args map[string]any) (map[string]any, error) {
	resp, err := w.toolset.call(ctx, "tools/call", map[string]any{
		"name":      w.name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("MCP call %s: %w", w.name, err)
	}
	if resp.Error != nil {
		return map[string]any{"error": resp.Error.Message}, nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return map[string]any{"result": resp.Result}, nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			entry, ok := c.(map[string]any)
			if !ok || entry["type"] != "text" {
				continue
			}
			if text, ok := entry["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return map[string]any{"error": msg}, nil
	}
	return textsToResult(texts), nil
}

func textsToResult(texts []string) map[string]any {
	switch len(texts) {
	case 0:
		return map[string]any{}
	case 1:
		return map[string]any{"result": texts[0]}
	default:
		return map[string]any{"results": texts}
	}
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var (
	_ tool.Toolset      = (*Toolset)(nil)
	_ tool.CallableTool = (*serverTool)(nil)
)
