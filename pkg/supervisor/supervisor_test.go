package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpilot/pkg/mcp"
)

// fakeConn counts Close calls so teardown behavior can be asserted.
type fakeConn struct {
	id string

	mu     sync.Mutex
	closed int
}

func (f *fakeConn) ProviderID() string          { return f.id }
func (f *fakeConn) Tools() []mcp.ToolDescriptor { return []mcp.ToolDescriptor{{Name: f.id + "_tool"}} }
func (f *fakeConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (mcp.CallResult, error) {
	return mcp.TextResult("ok", false), nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConnector starts fakeConns, failing the ids listed in fail.
type fakeConnector struct {
	fail map[string]bool

	mu      sync.Mutex
	started []*fakeConn
}

func (fc *fakeConnector) connect(ctx context.Context, spec Spec) (Connection, error) {
	if fc.fail[spec.ID] {
		return nil, fmt.Errorf("spawn failed")
	}
	conn := &fakeConn{id: spec.ID}
	fc.mu.Lock()
	fc.started = append(fc.started, conn)
	fc.mu.Unlock()
	return conn, nil
}

func TestStartAllProviders(t *testing.T) {
	fc := &fakeConnector{}
	sup := New(WithConnector(fc.connect))

	group, err := sup.Start(context.Background(), []Spec{
		{ID: "fs", Command: "fs-server"},
		{ID: "web", Command: "web-server"},
	})
	require.NoError(t, err)

	handles := group.Handles()
	require.Len(t, handles, 2)
	assert.Equal(t, "fs", handles[0].ProviderID())
	assert.Equal(t, "web", handles[1].ProviderID())
}

func TestStartAllOrNothing(t *testing.T) {
	fc := &fakeConnector{fail: map[string]bool{"web": true}}
	sup := New(WithConnector(fc.connect))

	group, err := sup.Start(context.Background(), []Spec{
		{ID: "fs", Command: "fs-server"},
		{ID: "web", Command: "web-server"},
		{ID: "db", Command: "db-server"},
	})
	assert.Nil(t, group)

	var startup *StartupError
	require.ErrorAs(t, err, &startup)
	assert.Equal(t, "web", startup.ProviderID)

	// Providers that did come up were torn down again.
	for _, conn := range fc.started {
		assert.Equal(t, 1, conn.closeCount(), "provider %s not closed", conn.id)
	}
}

func TestStartRejectsBadSpecs(t *testing.T) {
	sup := New(WithConnector((&fakeConnector{}).connect))

	t.Run("empty id", func(t *testing.T) {
		_, err := sup.Start(context.Background(), []Spec{{Command: "x"}})
		var startup *StartupError
		assert.ErrorAs(t, err, &startup)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := sup.Start(context.Background(), []Spec{
			{ID: "fs", Command: "a"},
			{ID: "fs", Command: "b"},
		})
		var startup *StartupError
		require.ErrorAs(t, err, &startup)
		assert.Equal(t, "fs", startup.ProviderID)
	})
}

func TestTeardownIdempotent(t *testing.T) {
	fc := &fakeConnector{}
	sup := New(WithConnector(fc.connect))

	group, err := sup.Start(context.Background(), []Spec{
		{ID: "fs", Command: "fs-server"},
		{ID: "web", Command: "web-server"},
	})
	require.NoError(t, err)

	group.Teardown()
	group.Teardown()
	group.Teardown()

	for _, conn := range fc.started {
		assert.Equal(t, 1, conn.closeCount())
	}
}

func TestStartupErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("spawn failed")
	err := &StartupError{ProviderID: "fs", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fs")
}
