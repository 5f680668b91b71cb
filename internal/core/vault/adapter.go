package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeusync/vault/internal/core/events"
	"github.com/zeusync/vault/internal/core/events/bus"
	"github.com/zeusync/vault/internal/core/observability/log"
)

var ErrUnexpectedEvent = errors.New("unexpected event payload")

// EventAdapter applies player lifecycle events to the manager:
// player.joined adds the object, player.moved updates its position and
// player.left removes it.
type EventAdapter struct {
	manager *Manager
	logger  log.Log
	subs    []bus.Subscription
}

func NewEventAdapter(m *Manager, logger log.Log) *EventAdapter {
	return &EventAdapter{manager: m, logger: logger.With(log.String("component", "event_adapter"))}
}

// Attach subscribes the adapter to b.
func (a *EventAdapter) Attach(b bus.EventBus) error {
	handlers := map[string]bus.EventHandler{
		events.PlayerJoined: a.onJoined,
		events.PlayerMoved:  a.onMoved,
		events.PlayerLeft:   a.onLeft,
	}
	for typ, h := range handlers {
		sub, err := b.Subscribe(typ, h)
		if err != nil {
			a.Detach()
			return fmt.Errorf("subscribe %s: %w", typ, err)
		}
		a.subs = append(a.subs, sub)
	}
	return nil
}

// Detach cancels every subscription made by Attach.
func (a *EventAdapter) Detach() {
	for _, s := range a.subs {
		_ = s.Cancel()
	}
	a.subs = nil
}

func (a *EventAdapter) onJoined(e bus.Event) error {
	p, err := a.player(e)
	if err != nil {
		return err
	}
	_, err = a.manager.AddObject(context.Background(), RegionID(p.Region), p.ID, p.Kind, p.Position, p.Payload)
	return a.report(e, p.ID.String(), err)
}

func (a *EventAdapter) onMoved(e bus.Event) error {
	p, err := a.player(e)
	if err != nil {
		return err
	}
	region := RegionID(p.Region)
	ent, err := a.manager.GetObject(region, p.ID)
	if err != nil {
		return a.report(e, p.ID.String(), err)
	}
	ent.Position = p.Position
	return a.report(e, p.ID.String(), a.manager.UpdateObject(context.Background(), region, ent))
}

func (a *EventAdapter) onLeft(e bus.Event) error {
	p, err := a.player(e)
	if err != nil {
		return err
	}
	_, err = a.manager.RemoveObject(context.Background(), RegionID(p.Region), p.ID)
	return a.report(e, p.ID.String(), err)
}

func (a *EventAdapter) player(e bus.Event) (events.Player, error) {
	p, ok := events.PlayerFrom(e)
	if !ok {
		a.logger.Warn("dropping event with unexpected payload", log.String("type", e.Type()))
		return events.Player{}, fmt.Errorf("%w: %s", ErrUnexpectedEvent, e.Type())
	}
	return p, nil
}

func (a *EventAdapter) report(e bus.Event, id string, err error) error {
	if err != nil {
		a.logger.Warn("event not applied",
			log.String("type", e.Type()),
			log.String("id", id),
			log.Error(err),
		)
	}
	return err
}
