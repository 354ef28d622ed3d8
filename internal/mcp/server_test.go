package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpc sends one JSON-RPC message through the server and decodes the reply.
func rpc(t *testing.T, s *Server, msg string) map[string]interface{} {
	t.Helper()
	resp := s.MCPServer().HandleMessage(context.Background(), json.RawMessage(msg))
	require.NotNil(t, resp)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestServer_ListTools(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(svc, "test")

	hello := rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	require.Contains(t, hello, "result")
	info := hello["result"].(map[string]interface{})["serverInfo"].(map[string]interface{})
	assert.Equal(t, serverName, info["name"])

	resp := rpc(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Contains(t, resp, "result")
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, float64(2), resp["id"])

	tools := resp["result"].(map[string]interface{})["tools"].([]interface{})
	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"dialin_best", "dialin_history", "dialin_next", "dialin_report", "dialin_status", "shot_predict",
	}, names)
}

func TestServer_CallTool(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(svc, "test")

	rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	resp := rpc(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"dialin_next","arguments":{"beanId":"B1","method":"espresso"}}}`)
	require.Contains(t, resp, "result")

	result := resp["result"].(map[string]interface{})
	assert.NotEqual(t, true, result["isError"])
	content := result["content"].([]interface{})
	require.NotEmpty(t, content)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(content[0].(map[string]interface{})["text"].(string)), &rec))
	assert.Equal(t, float64(1), rec["trialNumber"])
	assert.Nil(t, rec["bestSoFar"])
}

func TestServer_UnknownMethod(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(svc, "test")

	resp := rpc(t, s, `{"jsonrpc":"2.0","id":9,"method":"nope/nope"}`)
	assert.Contains(t, resp, "error")
}
