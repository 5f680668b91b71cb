package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/storage"
	"github.com/zeusync/vault/internal/core/vault"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *vault.Manager) {
	t.Helper()
	m := vault.NewManager(storage.NewMemory(), vault.DefaultConfig(), log.NewNop(), nil)
	d := NewDispatcher(log.NewNop(), metrics.New())
	RegisterVault(d, m)
	return d, m
}

// call dispatches and round-trips the result through JSON like the gateway.
func call(t *testing.T, d *Dispatcher, method, params string) (json.RawMessage, error) {
	t.Helper()
	res, err := d.Dispatch(context.Background(), method, json.RawMessage(params))
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res)
	require.NoError(t, err)
	return out, nil
}

func TestDispatcher_Errors(t *testing.T) {
	d, _ := newTestDispatcher(t)

	t.Run("Unknown Method", func(t *testing.T) {
		_, err := call(t, d, "drop_tables", `[]`)
		require.ErrorIs(t, err, ErrUnknownMethod)
		require.Contains(t, err.Error(), "drop_tables")
	})

	t.Run("Wrong Arity", func(t *testing.T) {
		_, err := call(t, d, MethodCreateOrLoadRegion, `[[0,0,0]]`)
		require.ErrorIs(t, err, ErrInvalidParams)
		require.Contains(t, err.Error(), "expected 2 params, got 1")
	})

	t.Run("Wrong Type", func(t *testing.T) {
		_, err := call(t, d, MethodCreateOrLoadRegion, `[[0,0,0], "big"]`)
		require.ErrorIs(t, err, ErrInvalidParams)
		require.Contains(t, err.Error(), "radius")

		_, err = call(t, d, MethodGetObject, `["not-a-uuid", "also-not"]`)
		require.ErrorIs(t, err, ErrInvalidParams)
		require.Contains(t, err.Error(), "region")
	})

	t.Run("Params Not Array", func(t *testing.T) {
		_, err := call(t, d, MethodListRegions, `{"a":1}`)
		require.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("Panics Become Errors", func(t *testing.T) {
		d.Register("explode", func(context.Context, []json.RawMessage) (any, error) {
			panic("kaboom")
		})
		_, err := call(t, d, "explode", ``)
		require.ErrorIs(t, err, ErrInternal)
		require.Contains(t, err.Error(), "kaboom")
	})

	t.Run("Envelope", func(t *testing.T) {
		resp := d.Handle(context.Background(), Request{ID: json.RawMessage(`7`), Method: "nope"})
		require.Equal(t, json.RawMessage(`7`), resp.ID)
		require.Nil(t, resp.Result)
		require.Contains(t, resp.Error, "unknown method")
	})
}

func TestDispatcher_VaultMethods(t *testing.T) {
	d, _ := newTestDispatcher(t)

	raw, err := call(t, d, MethodCreateOrLoadRegion, `[[0,0,0], 1000.0]`)
	require.NoError(t, err)
	var region string
	require.NoError(t, json.Unmarshal(raw, &region))

	raw, err = call(t, d, MethodCreateOrLoadRegion, `[[5000,0,0], 1000.0]`)
	require.NoError(t, err)
	var other string
	require.NoError(t, json.Unmarshal(raw, &other))

	u1 := uuid.NewString()
	ref := `["` + region + `","` + u1 + `"]`

	t.Run("Add And Get", func(t *testing.T) {
		_, err := call(t, d, MethodAddObject, `["`+region+`","`+u1+`","player",[10,20,30],{"name":"P1majors","value":0}]`)
		require.NoError(t, err)

		raw, err := call(t, d, MethodGetObject, ref)
		require.NoError(t, err)
		var obj Object
		require.NoError(t, json.Unmarshal(raw, &obj))
		require.Equal(t, u1, obj.ID.String())
		require.Equal(t, [3]float64{10, 20, 30}, obj.Position)
		require.JSONEq(t, `{"name":"P1majors","value":0}`, string(obj.Payload))
	})

	t.Run("Duplicate Surfaces As String", func(t *testing.T) {
		resp := d.Handle(context.Background(), Request{
			Method: MethodAddObject,
			Params: json.RawMessage(`["` + region + `","` + u1 + `","player",[0,0,0],null]`),
		})
		require.Contains(t, resp.Error, "duplicate id")
	})

	t.Run("Query", func(t *testing.T) {
		raw, err := call(t, d, MethodQueryRegion, `["`+region+`",[-100,-100,-100],[100,100,100]]`)
		require.NoError(t, err)
		var objs []Object
		require.NoError(t, json.Unmarshal(raw, &objs))
		require.Len(t, objs, 1)

		raw, err = call(t, d, MethodQueryRegion, `["`+region+`",[500,500,500],[600,600,600]]`)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &objs))
		require.Empty(t, objs)

		_, err = call(t, d, MethodQueryRegion, `["`+region+`",[1,1,1],[0,0,0]]`)
		require.ErrorIs(t, err, vault.ErrInvalidBox)
	})

	t.Run("Update", func(t *testing.T) {
		_, err := call(t, d, MethodUpdateObject, `["`+region+`","`+u1+`","player",[1,1,1],{"value":1}]`)
		require.NoError(t, err)
		raw, err := call(t, d, MethodGetObject, ref)
		require.NoError(t, err)
		var obj Object
		require.NoError(t, json.Unmarshal(raw, &obj))
		require.Equal(t, [3]float64{1, 1, 1}, obj.Position)
		require.JSONEq(t, `{"value":1}`, string(obj.Payload))
	})

	t.Run("Transfer", func(t *testing.T) {
		_, err := call(t, d, MethodTransfer, `["`+u1+`","`+region+`","`+uuid.NewString()+`"]`)
		var terr *vault.TransferError
		require.True(t, errors.As(err, &terr))

		_, err = call(t, d, MethodTransfer, `["`+u1+`","`+region+`","`+other+`"]`)
		require.NoError(t, err)
		_, err = call(t, d, MethodGetObject, `["`+other+`","`+u1+`"]`)
		require.NoError(t, err)
	})

	t.Run("List And Persist", func(t *testing.T) {
		raw, err := call(t, d, MethodListRegions, `[]`)
		require.NoError(t, err)
		var regions []RegionSummary
		require.NoError(t, json.Unmarshal(raw, &regions))
		require.Len(t, regions, 2)

		_, err = call(t, d, MethodPersistAll, `[]`)
		require.NoError(t, err)
		_, err = call(t, d, MethodPersistAll, `[1]`)
		require.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("Remove", func(t *testing.T) {
		_, err := call(t, d, MethodRemoveObject, `["`+other+`","`+u1+`"]`)
		require.NoError(t, err)
		_, err = call(t, d, MethodRemoveObject, `["`+other+`","`+u1+`"]`)
		require.ErrorIs(t, err, vault.ErrNotFound)
	})

	require.Len(t, d.Methods(), 9)
}
