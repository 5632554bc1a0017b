package mcp

import "context"

// Provider is a live connection to one provider process together with
// the tool catalog it declared at connect time. The supervisor owns the
// lifecycle; everything else gets read-only access.
type Provider struct {
	id      string
	client  *Client
	catalog []ToolDescriptor
}

// Connect starts the provider process and discovers its catalog. On any
// failure the process is terminated before the error returns, so a
// failed connect never leaves a child running.
func Connect(ctx context.Context, client *Client) (*Provider, error) {
	if err := client.Start(ctx); err != nil {
		// Start spawns before the handshake; a handshake failure still
		// has a live process to clean up.
		_ = client.Close()
		return nil, err
	}

	catalog, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Provider{
		id:      client.ProviderID(),
		client:  client,
		catalog: catalog,
	}, nil
}

// ProviderID returns the provider's configured id.
func (p *Provider) ProviderID() string {
	return p.id
}

// Tools returns the catalog discovered at connect time, in declaration
// order.
func (p *Provider) Tools() []ToolDescriptor {
	return p.catalog
}

// CallTool dispatches one tool call over the provider connection.
func (p *Provider) CallTool(ctx context.Context, name string, args map[string]interface{}) (CallResult, error) {
	return p.client.CallTool(ctx, name, args)
}

// Close tears down the connection and process.
func (p *Provider) Close() error {
	return p.client.Close()
}
