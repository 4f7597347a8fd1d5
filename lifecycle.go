package relay

import (
	"context"
	"sync"
)

type lifetime int

const (
	// unmanaged means no lifecycle handshake was ever started; connections
	// are served right away.
	unmanaged lifetime = iota
	initialized
	startupComplete
)

func (l lifetime) String() string {
	switch l {
	case unmanaged:
		return "unmanaged"
	case initialized:
		return "initialized"
	case startupComplete:
		return "startup-complete"
	}
	return "invalid"
}

// lifecycleGate holds the startup state shared by all connections of one
// Gateway. The lifecycle connection is the only writer.
type lifecycleGate struct {
	mu     sync.Mutex
	state  lifetime
	ready  chan struct{} // closed once startup completes
	config map[string]any
}

func newLifecycleGate() *lifecycleGate {
	return &lifecycleGate{config: map[string]any{}}
}

// initialize starts a new lifecycle sequence, replacing any prior state.
// Connections already waiting on an unfinished sequence keep waiting for the
// new one.
func (g *lifecycleGate) initialize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = initialized
	if g.ready == nil || isClosed(g.ready) {
		g.ready = make(chan struct{})
	}
}

// complete marks startup as done and records the configuration that every
// later connection sees.
func (g *lifecycleGate) complete(config map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if config == nil {
		config = map[string]any{}
	}
	g.state = startupComplete
	g.config = config
	if g.ready == nil {
		g.ready = make(chan struct{})
	}
	if !isClosed(g.ready) {
		close(g.ready)
	}
}

// current returns the configuration and whether connections may be served
// without waiting.
func (g *lifecycleGate) current() (map[string]any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config, g.state != initialized
}

func (g *lifecycleGate) lifetime() lifetime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// wait blocks until startup has completed or ctx is done, and returns the
// configuration recorded by startup.
func (g *lifecycleGate) wait(ctx context.Context) (map[string]any, error) {
	g.mu.Lock()
	ready, state := g.ready, g.state
	g.mu.Unlock()
	if state == initialized {
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	config, _ := g.current()
	return config, nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
