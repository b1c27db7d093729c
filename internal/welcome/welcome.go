// Package welcome implements the auto-welcome logic named in §4.5/§9/§8:
// the first time a node's identity update carries a real (non-
// placeholder) long name, a welcome message is enqueued exactly once,
// guarded against the double-welcome race that concurrent observations
// of the same node could otherwise trigger.
package welcome

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/notify"
)

// Store is the subset of store.Port the welcomer needs: the atomic
// check-and-set that decides whether this caller is the one that gets to
// welcome the node (§4.11).
type Store interface {
	MarkWelcomedIfNotAlready(ctx context.Context, node uint32, at int64) (bool, error)
}

// EnqueueFunc sends the welcome message for node once MarkWelcomedIfNotAlready
// has confirmed this call owns the welcome.
type EnqueueFunc func(ctx context.Context, node uint32, longName string) error

// Welcomer implements engine.Welcomer. The in-memory guard set is
// inserted before the store's atomic check-and-set runs and cleared
// immediately after it returns (§9), so two concurrent observations of
// the same unwelcomed node can only ever result in one store write and
// one enqueued message (§8 auto-welcome atomicity).
type Welcomer struct {
	Store   Store
	Clock   clockwork.Clock
	Enqueue EnqueueFunc
	Notify  notify.Notifier // optional; push-notification fan-out (§9)

	mu        sync.Mutex
	welcoming map[uint32]struct{}
}

// New builds a Welcomer.
func New(st Store, clock clockwork.Clock, enqueue EnqueueFunc) *Welcomer {
	return &Welcomer{
		Store:     st,
		Clock:     clock,
		Enqueue:   enqueue,
		welcoming: map[uint32]struct{}{},
	}
}

func (w *Welcomer) now() int64 {
	if w.Clock != nil {
		return w.Clock.Now().Unix()
	}
	return 0
}

// claim registers node in the guard set, reporting false if it was
// already claimed by a concurrent call.
func (w *Welcomer) claim(node uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.welcoming[node]; ok {
		return false
	}
	w.welcoming[node] = struct{}{}
	return true
}

func (w *Welcomer) release(node uint32) {
	w.mu.Lock()
	delete(w.welcoming, node)
	w.mu.Unlock()
}

// MaybeWelcome implements engine.Welcomer.
func (w *Welcomer) MaybeWelcome(ctx context.Context, node uint32, longName string) error {
	if !w.claim(node) {
		return nil
	}
	wrote, err := w.Store.MarkWelcomedIfNotAlready(ctx, node, w.now())
	w.release(node)
	if err != nil {
		return err
	}
	if !wrote {
		return nil // already welcomed on a prior observation
	}
	if w.Notify != nil {
		_ = w.Notify.Publish(notify.Event{
			Kind:      notify.EventWelcome,
			Node:      node,
			NodeID:    model.IDString(node),
			Message:   "welcomed " + longName,
			Timestamp: time.Unix(w.now(), 0).UTC(),
		})
	}
	if w.Enqueue == nil {
		return nil
	}
	return w.Enqueue(ctx, node, longName)
}
