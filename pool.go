package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

type connectionState int

const (
	// StateDisconnected marks an upstream whose configuration is registered
	// but whose connection attempt failed; reconnect can retry it.
	StateDisconnected connectionState = iota
	StateConnected
	StateUnhealthy
)

func (s connectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "disconnected"
	}
}

// clientHandle serializes calls on one upstream connection: a single
// connection does not support overlapping concurrent calls. The handle is
// shared between the pool and whichever task is currently using it.
type clientHandle struct {
	mu     sync.Mutex
	client upstreamClient
}

func (h *clientHandle) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client.listTools(ctx)
}

func (h *clientHandle) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client.callTool(ctx, name, args)
}

func (h *clientHandle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client.ping(ctx)
}

func (h *clientHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client.close()
}

type upstreamConnection struct {
	name            string
	config          *UpstreamConfig
	handle          *clientHandle
	state           connectionState
	lastConnectedAt time.Time
	failureCount    int
}

// clientFactory builds a transport client for an upstream config. Injected
// at pool construction so tests can substitute fakes.
type clientFactory func(name string, conf *UpstreamConfig) (upstreamClient, error)

// UpstreamPool owns the set of upstream connections. The name→connection
// map is multi-reader/single-writer; the lock is never held across an
// upstream call — handles are cloned out first.
type UpstreamPool struct {
	mu          sync.RWMutex
	connections map[string]*upstreamConnection
	factory     clientFactory
}

func NewUpstreamPool(factory clientFactory) *UpstreamPool {
	return &UpstreamPool{
		connections: make(map[string]*upstreamConnection),
		factory:     factory,
	}
}

// AddUpstream synchronously connects and registers an upstream. When the
// connect attempt fails the upstream is still registered as Disconnected so
// a later ReconnectUpstream can retry without re-supplied configuration,
// and the connect error is returned.
func (p *UpstreamPool) AddUpstream(ctx context.Context, conf *UpstreamConfig) error {
	if err := conf.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	if _, exists := p.connections[conf.Name]; exists {
		p.mu.Unlock()
		return fmt.Errorf("upstream %q already registered", conf.Name)
	}
	// reserve the slot before connecting so concurrent adds of the same
	// name fail fast
	entry := &upstreamConnection{name: conf.Name, config: conf, state: StateDisconnected}
	p.connections[conf.Name] = entry
	p.mu.Unlock()

	handle, err := p.dial(ctx, conf)
	if err != nil {
		return fmt.Errorf("connect upstream %q: %w", conf.Name, err)
	}

	p.mu.Lock()
	current, ok := p.connections[conf.Name]
	if ok && current == entry {
		entry.handle = handle
		entry.state = StateConnected
		entry.lastConnectedAt = time.Now()
	}
	p.mu.Unlock()

	if !ok || current != entry {
		// removed while we were dialing
		_ = handle.Close()
		return fmt.Errorf("upstream %q removed during connect", conf.Name)
	}
	return nil
}

func (p *UpstreamPool) dial(ctx context.Context, conf *UpstreamConfig) (*clientHandle, error) {
	upstream, err := p.factory(conf.Name, conf)
	if err != nil {
		return nil, err
	}
	if err := upstream.connect(ctx); err != nil {
		_ = upstream.close()
		return nil, err
	}
	return &clientHandle{client: upstream}, nil
}

// RemoveUpstream disconnects and drops an upstream. A failing disconnect is
// logged, not fatal; the entry is removed either way.
func (p *UpstreamPool) RemoveUpstream(name string) error {
	p.mu.Lock()
	entry, ok := p.connections[name]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("upstream %q not found", name)
	}
	delete(p.connections, name)
	p.mu.Unlock()

	if entry.handle != nil {
		if err := entry.handle.Close(); err != nil {
			log.Printf("<pool> disconnect %s: %v", name, err)
		}
	}
	return nil
}

// GetUpstream returns the call handle for a Connected upstream, nil
// otherwise. Failed and unhealthy upstreams are thereby invisible to
// routing without call-site special cases.
func (p *UpstreamPool) GetUpstream(name string) *clientHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.connections[name]
	if !ok || entry.state != StateConnected {
		return nil
	}
	return entry.handle
}

func (p *UpstreamPool) GetUpstreamConfig(name string) *UpstreamConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if entry, ok := p.connections[name]; ok {
		return entry.config
	}
	return nil
}

func (p *UpstreamPool) ListUpstreams() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.connections))
	for name := range p.connections {
		names = append(names, name)
	}
	return names
}

// GetState reports the connection state; ok is false for unknown names.
func (p *UpstreamPool) GetState(name string) (connectionState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.connections[name]
	if !ok {
		return StateDisconnected, false
	}
	return entry.state, true
}

func (p *UpstreamPool) FailureCount(name string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if entry, ok := p.connections[name]; ok {
		return entry.failureCount
	}
	return 0
}

// MarkUnhealthy records a failed health probe and takes the upstream out
// of routing.
func (p *UpstreamPool) MarkUnhealthy(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.connections[name]
	if !ok {
		return fmt.Errorf("upstream %q not found", name)
	}
	entry.state = StateUnhealthy
	entry.failureCount++
	log.Printf("<pool> %s marked unhealthy (failures=%d)", name, entry.failureCount)
	return nil
}

// MarkHealthy returns an upstream to routing and resets its failure count.
// An upstream without a live handle cannot be marked healthy.
func (p *UpstreamPool) MarkHealthy(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.connections[name]
	if !ok {
		return fmt.Errorf("upstream %q not found", name)
	}
	if entry.handle == nil {
		return fmt.Errorf("upstream %q has no connection to mark healthy", name)
	}
	entry.state = StateConnected
	entry.failureCount = 0
	entry.lastConnectedAt = time.Now()
	return nil
}

// ReconnectUpstream re-resolves the stored config and dials a fresh
// connection. Success replaces the handle and resets the failure count;
// failure marks the upstream unhealthy and propagates the error.
func (p *UpstreamPool) ReconnectUpstream(ctx context.Context, name string) error {
	p.mu.RLock()
	entry, ok := p.connections[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("upstream %q not found", name)
	}

	handle, err := p.dial(ctx, entry.config)
	if err != nil {
		_ = p.MarkUnhealthy(name)
		return fmt.Errorf("reconnect upstream %q: %w", name, err)
	}

	p.mu.Lock()
	old := entry.handle
	entry.handle = handle
	entry.state = StateConnected
	entry.failureCount = 0
	entry.lastConnectedAt = time.Now()
	p.mu.Unlock()

	if old != nil {
		if closeErr := old.Close(); closeErr != nil {
			log.Printf("<pool> close stale connection %s: %v", name, closeErr)
		}
	}
	log.Printf("<pool> %s reconnected", name)
	return nil
}

// Shutdown disconnects every upstream and empties the pool.
func (p *UpstreamPool) Shutdown() {
	p.mu.Lock()
	connections := p.connections
	p.connections = make(map[string]*upstreamConnection)
	p.mu.Unlock()

	for name, entry := range connections {
		if entry.handle == nil {
			continue
		}
		if err := entry.handle.Close(); err != nil {
			log.Printf("<pool> disconnect %s: %v", name, err)
		}
	}
}
