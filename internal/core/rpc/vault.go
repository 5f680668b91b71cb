package rpc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/vault"
)

// Method names.
const (
	MethodCreateOrLoadRegion = "create_or_load_region"
	MethodQueryRegion        = "query_region"
	MethodAddObject          = "add_object"
	MethodUpdateObject       = "update_object"
	MethodRemoveObject       = "remove_object"
	MethodGetObject          = "get_object"
	MethodTransfer           = "transfer"
	MethodPersistAll         = "persist_all"
	MethodListRegions        = "list_regions"
)

// Object is the wire form of vault.Entity.
type Object struct {
	ID       uuid.UUID       `json:"id"`
	Kind     string          `json:"kind"`
	Position [3]float64      `json:"position"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Region   vault.RegionID  `json:"region"`
}

func objectOf(e vault.Entity) Object {
	return Object{
		ID:       e.ID,
		Kind:     e.Kind,
		Position: geometry.ToArray(e.Position),
		Payload:  json.RawMessage(e.Payload),
		Region:   e.Region,
	}
}

func objectsOf(es []vault.Entity) []Object {
	out := make([]Object, 0, len(es))
	for _, e := range es {
		out = append(out, objectOf(e))
	}
	return out
}

// RegionSummary is the wire form of vault.Info.
type RegionSummary struct {
	ID      vault.RegionID `json:"id"`
	Key     string         `json:"key"`
	Center  [3]float64     `json:"center"`
	Radius  float64        `json:"radius"`
	Objects int            `json:"objects"`
}

type createOrLoadRegionParams struct {
	Center [3]float64
	Radius float64
}

type queryRegionParams struct {
	Region   vault.RegionID
	Min, Max [3]float64
}

type objectParams struct {
	Region  vault.RegionID
	ID      uuid.UUID
	Kind    string
	Pos     [3]float64
	Payload json.RawMessage
}

func (p *objectParams) bind(args []json.RawMessage) error {
	return Bind(args,
		P("region", &p.Region),
		P("id", &p.ID),
		P("kind", &p.Kind),
		P("pos", &p.Pos),
		P("payload", &p.Payload),
	)
}

func (p *objectParams) payload() vault.Payload {
	if len(p.Payload) == 0 || string(p.Payload) == "null" {
		return nil
	}
	return vault.Payload(p.Payload)
}

type objectRefParams struct {
	Region vault.RegionID
	ID     uuid.UUID
}

type transferParams struct {
	ID       uuid.UUID
	From, To vault.RegionID
}

// RegisterVault binds every vault method to m.
func RegisterVault(d *Dispatcher, m *vault.Manager) {
	d.Register(MethodCreateOrLoadRegion, func(ctx context.Context, args []json.RawMessage) (any, error) {
		var p createOrLoadRegionParams
		if err := Bind(args, P("center", &p.Center), P("radius", &p.Radius)); err != nil {
			return nil, err
		}
		return m.CreateOrLoadRegion(ctx, geometry.FromArray(p.Center), p.Radius)
	})

	d.Register(MethodQueryRegion, func(ctx context.Context, args []json.RawMessage) (any, error) {
		var p queryRegionParams
		if err := Bind(args, P("region", &p.Region), P("min", &p.Min), P("max", &p.Max)); err != nil {
			return nil, err
		}
		box := geometry.Box{Min: geometry.FromArray(p.Min), Max: geometry.FromArray(p.Max)}
		es, err := m.QueryRegion(ctx, p.Region, box)
		if err != nil {
			return nil, err
		}
		return objectsOf(es), nil
	})

	d.Register(MethodAddObject, func(ctx context.Context, args []json.RawMessage) (any, error) {
		var p objectParams
		if err := p.bind(args); err != nil {
			return nil, err
		}
		e, err := m.AddObject(ctx, p.Region, p.ID, p.Kind, geometry.FromArray(p.Pos), p.payload())
		if err != nil {
			return nil, err
		}
		return objectOf(e), nil
	})

	d.Register(MethodUpdateObject, func(ctx context.Context, args []json.RawMessage) (any, error) {
		var p objectParams
		if err := p.bind(args); err != nil {
			return nil, err
		}
		e := vault.Entity{ID: p.ID, Kind: p.Kind, Position: geometry.FromArray(p.Pos), Payload: p.payload(), Region: p.Region}
		if err := m.UpdateObject(ctx, p.Region, e); err != nil {
			return nil, err
		}
		return objectOf(e), nil
	})

	d.Register(MethodRemoveObject, func(ctx context.Context, args []json.RawMessage) (any, error) {
		var p objectRefParams
		if err := Bind(args, P("region", &p.Region), P("id", &p.ID)); err != nil {
			return nil, err
		}
		e, err := m.RemoveObject(ctx, p.Region, p.ID)
		if err != nil {
			return nil, err
		}
		return objectOf(e), nil
	})

	d.Register(MethodGetObject, func(_ context.Context, args []json.RawMessage) (any, error) {
		var p objectRefParams
		if err := Bind(args, P("region", &p.Region), P("id", &p.ID)); err != nil {
			return nil, err
		}
		e, err := m.GetObject(p.Region, p.ID)
		if err != nil {
			return nil, err
		}
		return objectOf(e), nil
	})

	d.Register(MethodTransfer, func(ctx context.Context, args []json.RawMessage) (any, error) {
		var p transferParams
		if err := Bind(args, P("id", &p.ID), P("from", &p.From), P("to", &p.To)); err != nil {
			return nil, err
		}
		if err := m.Transfer(ctx, p.ID, p.From, p.To); err != nil {
			return nil, err
		}
		e, err := m.GetObject(p.To, p.ID)
		if err != nil {
			return nil, err
		}
		return objectOf(e), nil
	})

	d.Register(MethodPersistAll, func(ctx context.Context, args []json.RawMessage) (any, error) {
		if err := Bind(args); err != nil {
			return nil, err
		}
		if err := m.PersistAll(ctx); err != nil {
			return nil, err
		}
		return true, nil
	})

	d.Register(MethodListRegions, func(_ context.Context, args []json.RawMessage) (any, error) {
		if err := Bind(args); err != nil {
			return nil, err
		}
		infos := m.Regions()
		out := make([]RegionSummary, 0, len(infos))
		for _, info := range infos {
			out = append(out, RegionSummary{
				ID:      info.ID,
				Key:     info.Key,
				Center:  geometry.ToArray(info.Center),
				Radius:  info.Radius,
				Objects: info.Objects,
			})
		}
		return out, nil
	})
}
