package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider writes a shell script that answers the serialized
// request stream positionally: initialize, tools/list, then tools/call
// responses in order. Requests are single-flight, so the script never
// needs to parse JSON.
func fakeProvider(t *testing.T, responses ...string) string {
	t.Helper()

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\nn=0\nwhile read -r line; do\n  n=$((n+1))\n  case $n in\n")
	for i, resp := range responses {
		fmt.Fprintf(&sb, "    %d) printf '%%s\\n' '%s' ;;\n", i+1, resp)
	}
	sb.WriteString("  esac\ndone\n")

	path := filepath.Join(t.TempDir(), "provider.sh")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0755))
	return path
}

const (
	initResponse = `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{}}}`
	listResponse = `{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}`
)

func TestClientHandshakeAndCatalog(t *testing.T) {
	path := fakeProvider(t, initResponse, listResponse)
	client := NewClient("echoer", path, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	// The catalog is stamped with the owning provider.
	assert.Equal(t, "echoer", tools[0].Provider)
}

func TestClientCallTool(t *testing.T) {
	path := fakeProvider(t,
		initResponse,
		`{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"hello back"}],"isError":false}}`,
	)
	client := NewClient("echoer", path, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	result, err := client.CallTool(ctx, "echo", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello back", result.Text())
}

func TestClientRPCError(t *testing.T) {
	path := fakeProvider(t,
		initResponse,
		`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"tool exploded"}}`,
	)
	client := NewClient("echoer", path, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	_, err := client.CallTool(ctx, "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestClientRequestTimeout(t *testing.T) {
	// Only the handshake is answered; the next request starves.
	path := fakeProvider(t, initResponse)
	client := NewClient("mute", path, nil)
	client.SetTimeout(200 * time.Millisecond)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))

	_, err := client.CallTool(ctx, "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestClientSpawnFailure(t *testing.T) {
	client := NewClient("ghost", "/nonexistent/provider-binary", nil)
	err := client.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestClientCloseIdempotent(t *testing.T) {
	path := fakeProvider(t, initResponse)
	client := NewClient("echoer", path, nil)

	require.NoError(t, client.Start(context.Background()))
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
}

func TestClientCloseBeforeStart(t *testing.T) {
	client := NewClient("never", "whatever", nil)
	assert.NoError(t, client.Close())
}

func TestCallBeforeStart(t *testing.T) {
	client := NewClient("early", "whatever", nil)
	_, err := client.CallTool(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestConnect(t *testing.T) {
	path := fakeProvider(t,
		initResponse,
		listResponse,
		`{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"pong"}],"isError":false}}`,
	)
	client := NewClient("echoer", path, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := Connect(ctx, client)
	require.NoError(t, err)
	defer provider.Close()

	assert.Equal(t, "echoer", provider.ProviderID())
	require.Len(t, provider.Tools(), 1)

	result, err := provider.CallTool(ctx, "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result.Text())
}

func TestConnectKillsProcessOnHandshakeFailure(t *testing.T) {
	// A provider that records its pid and never answers initialize.
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "provider.pid")
	script := "#!/bin/sh\necho $$ > \"" + pidFile + "\"\nwhile read -r line; do :; done\n"
	path := filepath.Join(dir, "provider.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))

	client := NewClient("mute", path, nil)
	client.SetTimeout(200 * time.Millisecond)

	_, err := Connect(context.Background(), client)
	require.Error(t, err)

	data, readErr := os.ReadFile(pidFile)
	require.NoError(t, readErr)
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, convErr)

	// The failed connect must not leave the child running.
	assert.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConnectFailsOnCatalogError(t *testing.T) {
	// Handshake succeeds, tools/list starves.
	path := fakeProvider(t, initResponse)
	client := NewClient("mute", path, nil)
	client.SetTimeout(200 * time.Millisecond)

	_, err := Connect(context.Background(), client)
	assert.Error(t, err)
}
