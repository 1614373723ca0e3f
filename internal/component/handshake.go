package component

import (
	"context"
	"errors"
	"sort"

	"github.com/dshills/keyweave/internal/event/topic"
	"github.com/dshills/keyweave/internal/rpc"
)

// HandshakeTopic is the fan-out group every active component belongs to.
const HandshakeTopic topic.Topic = "component.state"

// Snapshot is one component's answer to the handshake. Owned lists the
// slots of State the sender owns; the rest it only mirrors.
type Snapshot struct {
	Sender string
	State  map[string]any
	Owned  []string
}

// split separates the mirrored slots from the owned ones.
func (s Snapshot) split() (mirrored, owned map[string]any) {
	mirrored = make(map[string]any, len(s.State))
	owned = make(map[string]any, len(s.Owned))
	for k, v := range s.State {
		mirrored[k] = v
	}
	for _, k := range s.Owned {
		if v, ok := s.State[k]; ok {
			owned[k] = v
			delete(mirrored, k)
		}
	}
	return mirrored, owned
}

// Snapshot returns what this component answers the handshake with: its
// CurrentState when it implements StateReporter, else its cache with the
// owned slots marked. Either way the result is a deep copy.
func (b *Base) Snapshot() Snapshot {
	var state map[string]any
	var owned []string
	if r, ok := b.self.(StateReporter); ok {
		state = cloneMap(r.CurrentState())
		for k := range state {
			owned = append(owned, k)
		}
		sort.Strings(owned)
	} else {
		state = b.cache.Snapshot()
		owned = b.cache.Owned()
	}
	if state == nil {
		state = make(map[string]any)
	}
	return Snapshot{Sender: b.name, State: state, Owned: owned}
}

// ReceiveState merges a handshake snapshot: through HandleInitialState when
// the component implements StateReceiver, else into the cache slots already
// declared and not owned.
func (b *Base) ReceiveState(sender string, state map[string]any) {
	state = cloneMap(state)
	if r, ok := b.self.(StateReceiver); ok {
		r.HandleInitialState(sender, state)
		return
	}
	merged := b.cache.MergeKnown(state)
	if len(merged) > 0 {
		b.logger.Debug("merged initial state", "sender", sender, "slots", merged)
	}
}

// handshake gathers snapshots from every active component and merges them.
// Mirrored slots are merged first and owned slots last, each in arrival
// order, so a fact's owner wins over any stale mirror of it. It never fails:
// with no members the cache keeps its defaults, and on timeout whatever
// arrived is merged.
func (b *Base) handshake(ctx context.Context) {
	if b.env.Client == nil {
		return
	}

	replies, err := b.env.Client.Gather(ctx, HandshakeTopic, nil,
		rpc.WithSender(b.name),
		rpc.WithTimeout(b.env.HandshakeTimeout),
	)
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrTimeout):
		b.logger.Warn("handshake timed out, continuing with partial state", "replies", len(replies), "timeout", b.env.HandshakeTimeout)
	default:
		b.logger.Warn("handshake failed, continuing with defaults", "replies", len(replies), "error", err)
	}

	type part struct {
		sender string
		state  map[string]any
	}
	var mirrored, owned []part
	for _, reply := range replies {
		if reply.Err != nil {
			b.logger.Debug("handshake reply failed", "sender", reply.Responder, "error", reply.Err)
			continue
		}
		snap, ok := reply.Result.(Snapshot)
		if !ok || snap.Sender == b.name {
			continue
		}
		m, o := snap.split()
		if len(m) > 0 {
			mirrored = append(mirrored, part{snap.Sender, m})
		}
		if len(o) > 0 {
			owned = append(owned, part{snap.Sender, o})
		}
	}

	for _, p := range append(mirrored, owned...) {
		b.ReceiveState(p.sender, p.state)
	}
}

func (b *Base) joinHandshake() error {
	if b.env.Server == nil {
		return nil
	}
	reg, err := b.env.Server.Join(HandshakeTopic, b.name, rpc.HandlerFunc(func(context.Context, rpc.Request) (any, error) {
		return b.Snapshot(), nil
	}))
	if err != nil {
		return err
	}
	return b.track(reg)
}
