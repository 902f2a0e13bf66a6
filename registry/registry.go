// Package registry implements the connection registry (spec §4.G): at most
// one live Connection per account id, with concurrent openers for the same
// id serialized behind a one-shot barrier so exactly one of them actually
// builds the connection.
package registry

import (
	"context"
	"sync"
)

// Connection is the minimal contract the registry needs from whatever
// connection type it manages. The registry never calls Close itself;
// Remove only purges the entry.
type Connection interface {
	Close(ctx context.Context) error
}

// Opener constructs and fully initializes a Connection for accountID. It is
// invoked at most once per registry entry, by whichever concurrent caller
// wins the barrier; after Remove, or after an opener error, the next Connect
// invokes it again.
type Opener[C Connection] func(ctx context.Context, accountID string) (C, error)

type entry[C Connection] struct {
	ready chan struct{} // closed once conn/err are set
	conn  C
	err   error
}

// Registry owns the accountId -> Connection mapping for a process.
type Registry[C Connection] struct {
	mu      sync.Mutex
	entries map[string]*entry[C]
}

// New builds an empty Registry.
func New[C Connection]() *Registry[C] {
	return &Registry[C]{entries: make(map[string]*entry[C])}
}

// Connect returns the existing connection for accountID, or builds one via
// open. Guarantees: at most one Connection object exists per account id at
// any moment, and concurrent callers observe the same result (spec §4.G,
// testable property 5 / scenario S6).
func (r *Registry[C]) Connect(ctx context.Context, accountID string, open Opener[C]) (C, error) {
	r.mu.Lock()
	if e, ok := r.entries[accountID]; ok {
		r.mu.Unlock()
		return awaitEntry(ctx, e)
	}

	e := &entry[C]{ready: make(chan struct{})}
	r.entries[accountID] = e
	r.mu.Unlock()

	conn, err := open(ctx, accountID)
	e.conn, e.err = conn, err
	close(e.ready)

	if err != nil {
		r.mu.Lock()
		if r.entries[accountID] == e {
			delete(r.entries, accountID)
		}
		r.mu.Unlock()
		var zero C
		return zero, err
	}
	return conn, nil
}

func awaitEntry[C Connection](ctx context.Context, e *entry[C]) (C, error) {
	select {
	case <-e.ready:
		return e.conn, e.err
	case <-ctx.Done():
		var zero C
		return zero, ctx.Err()
	}
}

// Remove purges accountID's entry. Called by Connection.Close.
func (r *Registry[C]) Remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, accountID)
}

// Get returns the currently registered connection for accountID, if any,
// without opening one.
func (r *Registry[C]) Get(accountID string) (C, bool) {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	r.mu.Unlock()
	if !ok {
		var zero C
		return zero, false
	}
	<-e.ready
	if e.err != nil {
		var zero C
		return zero, false
	}
	return e.conn, true
}
