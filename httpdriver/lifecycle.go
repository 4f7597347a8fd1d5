package httpdriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/augustoroman/relay"
)

// lifecycleConn is the driver's side of the gateway's lifecycle connection.
type lifecycleConn struct {
	in   chan relay.Event
	out  chan relay.Event
	done chan error
}

// Start opens the lifecycle connection and performs the startup handshake.
// It returns once the gateway's start hook has completed, or with the hook's
// error. Requests served before Start returns wait for it.
func (d *Driver) Start(ctx context.Context) error {
	if d.life != nil {
		return errors.New("httpdriver: already started")
	}
	serve, err := d.gw.Accept(relay.Scope{Kind: relay.KindLifecycle})
	if err != nil {
		return err
	}
	d.life = &lifecycleConn{
		in:   make(chan relay.Event, 1),
		out:  make(chan relay.Event, 1),
		done: make(chan error, 1),
	}
	go func(l *lifecycleConn) {
		l.done <- serve(context.Background(), l.receive, l.send)
	}(d.life)
	return d.life.exchange(ctx, relay.EventStartup, relay.EventStartupComplete)
}

// Stop performs the shutdown handshake and waits for the lifecycle
// connection to finish.
func (d *Driver) Stop(ctx context.Context) error {
	l := d.life
	if l == nil {
		return errors.New("httpdriver: not started")
	}
	d.life = nil
	if err := l.exchange(ctx, relay.EventShutdown, relay.EventShutdownComplete); err != nil {
		return err
	}
	select {
	case err := <-l.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lifecycleConn) receive(ctx context.Context) (relay.Event, error) {
	select {
	case ev := <-l.in:
		return ev, nil
	case <-ctx.Done():
		return relay.Event{}, ctx.Err()
	}
}

func (l *lifecycleConn) send(ctx context.Context, ev relay.Event) error {
	select {
	case l.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exchange sends request and waits for the gateway to answer with success
// or a failure event.
func (l *lifecycleConn) exchange(ctx context.Context, request, success string) error {
	select {
	case l.in <- relay.Event{Type: request}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case ev := <-l.out:
		if ev.Type == success {
			return nil
		}
		return fmt.Errorf("httpdriver: %s: %s", ev.Type, ev.Message)
	case err := <-l.done:
		if err == nil {
			err = fmt.Errorf("httpdriver: lifecycle ended before %s", success)
		}
		l.done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
