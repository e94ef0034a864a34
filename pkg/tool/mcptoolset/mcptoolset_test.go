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

package mcptoolset

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/maestro/pkg/tool"
)

// fakeMCPServer answers initialize, tools/list, and tools/call over
// plain JSON.
func fakeMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("mcp-session-id", "sess-42")
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": protocolVersion}
		case "tools/list":
			result = map[string]any{"tools": []any{
				map[string]any{
					"name":        "lookup",
					"description": "Look up a record",
					"inputSchema": map[string]any{"type": "object"},
				},
				map[string]any{
					"name":        "purge",
					"description": "Delete everything",
				},
			}}
		case "tools/call":
			params := req.Params.(map[string]any)
			assert.Equal(t, "sess-42", r.Header.Get("mcp-session-id"))
			result = map[string]any{"content": []any{
				map[string]any{"type": "text", "text": fmt.Sprintf("called %v", params["name"])},
			}}
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}))
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{Name: "empty"})
	require.Error(t, err)
}

func TestToolsLazyConnect(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	ts, err := New(Config{Name: "records", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "records", ts.Name())

	tools, err := ts.Tools(nil)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "lookup", tools[0].Name())
	assert.Equal(t, "Look up a record", tools[0].Description())

	ct, ok := tools[0].(tool.CallableTool)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "object"}, ct.Schema())
}

func TestToolsFilter(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	ts, err := New(Config{Name: "records", URL: srv.URL, Filter: []string{"lookup"}})
	require.NoError(t, err)

	tools, err := ts.Tools(nil)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "lookup", tools[0].Name())
}

func TestCallOverHTTP(t *testing.T) {
	srv := fakeMCPServer(t)
	defer srv.Close()

	ts, err := New(Config{Name: "records", URL: srv.URL})
	require.NoError(t, err)

	tools, err := ts.Tools(nil)
	require.NoError(t, err)

	ct := tools[0].(tool.CallableTool)
	result, err := ct.Call(nil, map[string]any{"id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, "called lookup", result["result"])
}

func TestCallReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{}
		case "tools/list":
			result = map[string]any{"tools": []any{
				map[string]any{"name": "flaky", "description": "always fails"},
			}}
		case "tools/call":
			result = map[string]any{
				"isError": true,
				"content": []any{map[string]any{"type": "text", "text": "backend unavailable"}},
			}
		}
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}))
	defer srv.Close()

	ts, err := New(Config{Name: "flaky", URL: srv.URL})
	require.NoError(t, err)

	tools, err := ts.Tools(nil)
	require.NoError(t, err)

	result, err := tools[0].(tool.CallableTool).Call(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "backend unavailable", result["error"])
}

func TestSSEResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{}
		case "tools/list":
			result = map[string]any{"tools": []any{}}
		}

		payload, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}))
	defer srv.Close()

	ts, err := New(Config{Name: "sse", URL: srv.URL})
	require.NoError(t, err)

	tools, err := ts.Tools(nil)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestTextsToResult(t *testing.T) {
	assert.Empty(t, textsToResult(nil))
	assert.Equal(t, map[string]any{"result": "one"}, textsToResult([]string{"one"}))
	assert.Equal(t, map[string]any{"results": []string{"a", "b"}}, textsToResult([]string{"a", "b"}))
}
