// Package supervisor spawns and monitors provider processes.
//
// Invariants:
// - Startup is all-or-nothing: if any provider fails to come up, the
//   ones that did are torn down and the whole start fails.
// - Teardown is idempotent and never returns connection errors; they
//   are logged and shutdown continues.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mcpilot/pkg/mcp"
	"mcpilot/pkg/registry"
)

// Spec describes one provider process to launch.
type Spec struct {
	ID      string
	Command string
	Args    []string
	Timeout time.Duration
}

// StartupError reports the provider that made startup fail.
type StartupError struct {
	ProviderID string
	Err        error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("provider %q failed to start: %v", e.ProviderID, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Connection is a started provider the supervisor owns.
type Connection interface {
	registry.Handle
	Close() error
}

// Connector establishes one provider connection. Injectable for tests;
// the default spawns the process and speaks stdio JSON-RPC.
type Connector func(ctx context.Context, spec Spec) (Connection, error)

func stdioConnector(ctx context.Context, spec Spec) (Connection, error) {
	client := mcp.NewClient(spec.ID, spec.Command, spec.Args)
	if spec.Timeout > 0 {
		client.SetTimeout(spec.Timeout)
	}
	return mcp.Connect(ctx, client)
}

// Supervisor launches provider processes and owns their lifecycle.
type Supervisor struct {
	connect Connector
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConnector replaces the default stdio connector.
func WithConnector(c Connector) Option {
	return func(s *Supervisor) {
		s.connect = c
	}
}

// New creates a supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{connect: stdioConnector}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches all providers concurrently and waits for every one of
// them. On any failure the successfully started providers are torn down
// and a StartupError for the first failing spec is returned.
func (s *Supervisor) Start(ctx context.Context, specs []Spec) (*Group, error) {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, &StartupError{ProviderID: spec.ID, Err: fmt.Errorf("provider id is required")}
		}
		if seen[spec.ID] {
			return nil, &StartupError{ProviderID: spec.ID, Err: fmt.Errorf("duplicate provider id")}
		}
		seen[spec.ID] = true
	}

	conns := make([]Connection, len(specs))
	errs := make([]error, len(specs))

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec Spec) {
			defer wg.Done()
			conn, err := s.connect(ctx, spec)
			if err != nil {
				errs[i] = err
				return
			}
			conns[i] = conn
			log.Info().Str("provider", spec.ID).Int("tools", len(conn.Tools())).Msg("Provider started")
		}(i, spec)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		partial := &Group{}
		for _, conn := range conns {
			if conn != nil {
				partial.conns = append(partial.conns, conn)
			}
		}
		partial.Teardown()
		return nil, &StartupError{ProviderID: specs[i].ID, Err: err}
	}

	return &Group{conns: conns}, nil
}

// Group holds the started providers of one successful Start call.
type Group struct {
	conns []Connection
	once  sync.Once
}

// Handles returns the provider handles in spec order.
func (g *Group) Handles() []registry.Handle {
	handles := make([]registry.Handle, 0, len(g.conns))
	for _, conn := range g.conns {
		handles = append(handles, conn)
	}
	return handles
}

// Teardown closes every provider. Best-effort: close failures are
// logged, never returned, and a second call is a no-op. Safe to call
// from a signal handler or the failed-startup path.
func (g *Group) Teardown() {
	g.once.Do(func() {
		for _, conn := range g.conns {
			if err := conn.Close(); err != nil {
				log.Warn().Str("provider", conn.ProviderID()).Err(err).Msg("Provider teardown error")
				continue
			}
			log.Debug().Str("provider", conn.ProviderID()).Msg("Provider stopped")
		}
	})
}
