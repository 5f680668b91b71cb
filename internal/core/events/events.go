// Package events names the game events exchanged over the in-process bus and
// their payloads.
package events

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/events/bus"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

// Inbound, published by the session layer.
const (
	PlayerJoined = "player.joined"
	PlayerMoved  = "player.moved"
	PlayerLeft   = "player.left"
)

// Outbound, published by the zone engine.
const (
	ZoneEntered = "zone.entered"
	ZoneExited  = "zone.exited"
)

// Player is the payload of the player.* events. Kind and Payload are only
// read for player.joined; Position is ignored for player.left.
type Player struct {
	ID       uuid.UUID
	Region   uuid.UUID
	Kind     string
	Position geometry.Vec3
	Payload  json.RawMessage
}

// ZoneTransition is the payload of zone.entered and zone.exited.
type ZoneTransition struct {
	Zone  int
	Point geometry.Vec3
}

func NewPlayerJoined(source string, p Player) bus.Event {
	return bus.NewEvent(PlayerJoined, source, p, nil)
}

func NewPlayerMoved(source string, p Player) bus.Event {
	return bus.NewEvent(PlayerMoved, source, p, nil)
}

func NewPlayerLeft(source string, p Player) bus.Event {
	return bus.NewEvent(PlayerLeft, source, p, nil)
}

// PlayerFrom extracts the Player payload of e.
func PlayerFrom(e bus.Event) (Player, bool) {
	switch p := e.Data().(type) {
	case Player:
		return p, true
	case *Player:
		if p == nil {
			return Player{}, false
		}
		return *p, true
	default:
		return Player{}, false
	}
}
