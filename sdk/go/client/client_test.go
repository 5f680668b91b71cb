package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/rpc"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage"
	"github.com/zeusync/vault/internal/core/vault"
	"github.com/zeusync/vault/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T) string {
	t.Helper()
	manager := vault.NewManager(storage.NewMemory(), vault.DefaultConfig(), log.NewNop(), nil)
	d := rpc.NewDispatcher(log.NewNop(), nil)
	rpc.RegisterVault(d, manager)

	cfg := server.DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.SnapshotInterval = 0
	srv := server.NewServer(cfg, manager, d, nil, log.NewNop())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })
	return "ws://" + srv.Addr().String() + "/rpc"
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.URL = url
	c := NewClient(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Lifecycle(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	c := NewClient(Config{}, nil)
	require.ErrorIs(t, c.Connect(ctx), ErrInvalidConfig)
	require.ErrorIs(t, c.PersistAll(ctx), ErrNotConnected)

	c = connect(t, url)
	require.ErrorIs(t, c.Connect(ctx), ErrAlreadyConnected)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.PersistAll(ctx), ErrClientClosed)
}

func TestClient_VaultRoundTrip(t *testing.T) {
	c := connect(t, startServer(t))
	ctx := context.Background()

	a, err := c.CreateOrLoadRegion(ctx, geometry.V(0, 0, 0), 100)
	require.NoError(t, err)
	again, err := c.CreateOrLoadRegion(ctx, geometry.V(0, 0, 0), 100)
	require.NoError(t, err)
	require.Equal(t, a, again)

	b, err := c.CreateOrLoadRegion(ctx, geometry.V(1000, 0, 0), 100)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, c.AddObject(ctx, a, id, "player", geometry.V(1, 2, 3), json.RawMessage(`{"hp":5}`)))

	t.Run("Get", func(t *testing.T) {
		obj, err := c.GetObject(ctx, a, id)
		require.NoError(t, err)
		require.Equal(t, [3]float64{1, 2, 3}, obj.Position)
		require.JSONEq(t, `{"hp":5}`, string(obj.Payload))
	})

	t.Run("Query And Update", func(t *testing.T) {
		require.NoError(t, c.UpdateObject(ctx, a, id, "player", geometry.V(4, 4, 4), nil))
		objs, err := c.QueryRegion(ctx, a, geometry.NewBox(geometry.V(3, 3, 3), geometry.V(5, 5, 5)))
		require.NoError(t, err)
		require.Len(t, objs, 1)
		require.Empty(t, objs[0].Payload)
	})

	t.Run("Remote Errors", func(t *testing.T) {
		err := c.AddObject(ctx, a, id, "player", geometry.V(0, 0, 0), nil)
		var remote *RemoteError
		require.True(t, errors.As(err, &remote))
		require.Equal(t, rpc.MethodAddObject, remote.Method)
		require.Contains(t, remote.Message, "duplicate id")

		err = c.Call(ctx, "no_such_method", nil)
		require.True(t, errors.As(err, &remote))
		require.Contains(t, remote.Message, rpc.ErrUnknownMethod.Error())
	})

	t.Run("Transfer", func(t *testing.T) {
		obj, err := c.Transfer(ctx, id, a, b)
		require.NoError(t, err)
		require.Equal(t, b, obj.Region)

		_, err = c.GetObject(ctx, a, id)
		require.Error(t, err)
	})

	t.Run("List Persist Remove", func(t *testing.T) {
		regions, err := c.ListRegions(ctx)
		require.NoError(t, err)
		require.Len(t, regions, 2)

		require.NoError(t, c.PersistAll(ctx))
		require.NoError(t, c.RemoveObject(ctx, b, id))
		require.Error(t, c.RemoveObject(ctx, b, id))
	})
}
