package zones

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/events"
	"github.com/zeusync/vault/internal/core/events/bus"
	"github.com/zeusync/vault/internal/core/observability/log"
)

// Follower drives the tracked point from player.joined and player.moved
// events on a bus.
type Follower struct {
	engine *Engine
	target uuid.UUID
	subs   []bus.Subscription
}

// Follow subscribes e to the positions reported for target. A nil target
// follows every player, so the tracked point is the last reported position.
func (e *Engine) Follow(b bus.EventBus, target uuid.UUID) (*Follower, error) {
	f := &Follower{engine: e, target: target}
	for _, typ := range []string{events.PlayerJoined, events.PlayerMoved} {
		sub, err := b.Subscribe(typ, f.onPosition)
		if err != nil {
			f.Stop()
			return nil, fmt.Errorf("subscribe %s: %w", typ, err)
		}
		f.subs = append(f.subs, sub)
	}
	e.logger.Info("following player positions", log.String("target", target.String()))
	return f, nil
}

// Stop cancels the subscriptions made by Follow.
func (f *Follower) Stop() {
	var errs []error
	for _, s := range f.subs {
		errs = append(errs, s.Cancel())
	}
	f.subs = nil
	if err := errors.Join(errs...); err != nil {
		f.engine.logger.Warn("failed to stop following", log.Error(err))
	}
}

func (f *Follower) onPosition(ev bus.Event) error {
	p, ok := events.PlayerFrom(ev)
	if !ok {
		return nil
	}
	if f.target != uuid.Nil && p.ID != f.target {
		return nil
	}
	f.engine.UpdateTrackedPoint(p.Position)
	return nil
}
