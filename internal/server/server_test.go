package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/rpc"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage"
	"github.com/zeusync/vault/internal/core/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	server  *Server
	manager *vault.Manager
	backend *storage.Memory
}

func newHarness(t *testing.T, mode vault.Mode, configure ...func(*Config)) *harness {
	t.Helper()

	backend := storage.NewMemory()
	cfg := vault.DefaultConfig()
	cfg.Mode = mode
	mt := metrics.New()
	manager := vault.NewManager(backend, cfg, log.NewNop(), mt)

	d := rpc.NewDispatcher(log.NewNop(), mt)
	rpc.RegisterVault(d, manager)

	srvCfg := DefaultServerConfig()
	srvCfg.ListenAddr = "127.0.0.1:0"
	srvCfg.SnapshotInterval = 0
	for _, fn := range configure {
		fn(&srvCfg)
	}
	srv := NewServer(srvCfg, manager, d, mt, log.NewNop())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })

	return &harness{server: srv, manager: manager, backend: backend}
}

func (h *harness) url(scheme, path string) string {
	return scheme + "://" + h.server.Addr().String() + path
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url("ws", "/rpc"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req string) rpc.Response {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	return rpc.Response{ID: resp.ID, Result: resp.Result, Error: resp.Error}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Lifecycle(t *testing.T) {
	h := newHarness(t, vault.ModeSync)

	require.ErrorIs(t, h.server.Start(context.Background()), ErrServerAlreadyRunning)
	require.True(t, h.server.GetStats().Running)

	require.NoError(t, h.server.Stop(context.Background()))
	require.ErrorIs(t, h.server.Stop(context.Background()), ErrServerNotRunning)
	require.False(t, h.server.GetStats().Running)

	require.NoError(t, h.server.Close())
	require.ErrorIs(t, h.server.Start(context.Background()), ErrServerClosed)
}

func TestServer_RPCGateway(t *testing.T) {
	h := newHarness(t, vault.ModeSync)
	conn := h.dial(t)

	resp := roundTrip(t, conn, `{"id":1,"method":"create_or_load_region","params":[[0,0,0],100]}`)
	require.Empty(t, resp.Error)
	require.JSONEq(t, `1`, string(resp.ID))
	var region string
	require.NoError(t, json.Unmarshal(resp.Result.(json.RawMessage), &region))

	id := uuid.NewString()

	t.Run("Add And Query", func(t *testing.T) {
		resp := roundTrip(t, conn, `{"id":2,"method":"add_object","params":["`+region+`","`+id+`","npc",[1,2,3],{"hp":10}]}`)
		require.Empty(t, resp.Error)

		resp = roundTrip(t, conn, `{"id":3,"method":"query_region","params":["`+region+`",[0,0,0],[5,5,5]]}`)
		require.Empty(t, resp.Error)
		var objs []rpc.Object
		require.NoError(t, json.Unmarshal(resp.Result.(json.RawMessage), &objs))
		require.Len(t, objs, 1)
		require.Equal(t, id, objs[0].ID.String())
		require.JSONEq(t, `{"hp":10}`, string(objs[0].Payload))
	})

	t.Run("Errors Come Back As Strings", func(t *testing.T) {
		resp := roundTrip(t, conn, `{"id":4,"method":"nope","params":[]}`)
		require.Contains(t, resp.Error, rpc.ErrUnknownMethod.Error())
		require.JSONEq(t, `4`, string(resp.ID))

		resp = roundTrip(t, conn, `{"id":5,"method":"remove_object","params":["`+region+`","`+uuid.NewString()+`"]}`)
		require.Contains(t, resp.Error, vault.ErrNotFound.Error())
	})

	t.Run("Malformed Frames", func(t *testing.T) {
		resp := roundTrip(t, conn, `{not json`)
		require.Contains(t, resp.Error, ErrInvalidMessage.Error())

		resp = roundTrip(t, conn, `{"id":6}`)
		require.Contains(t, resp.Error, "missing method")
	})

	t.Run("Visible Through Manager", func(t *testing.T) {
		rid, err := vault.ParseRegionID(region)
		require.NoError(t, err)
		e, err := h.manager.GetObject(rid, uuid.MustParse(id))
		require.NoError(t, err)
		require.Equal(t, geometry.V(1, 2, 3), e.Position)
	})

	require.Equal(t, int64(1), h.server.GetStats().ClientCount)
}

func TestServer_ReadLimit(t *testing.T) {
	h := newHarness(t, vault.ModeSync, func(c *Config) { c.ReadLimit = 64 })
	conn := h.dial(t)

	big := `{"method":"list_regions","params":[],"pad":"` + strings.Repeat("x", 256) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServer_HTTPEndpoints(t *testing.T) {
	h := newHarness(t, vault.ModeSync)
	_, err := h.manager.CreateOrLoadRegion(context.Background(), geometry.V(0, 0, 0), 10)
	require.NoError(t, err)

	t.Run("Health", func(t *testing.T) {
		code, body := httpGet(t, h.url("http", "/healthz"))
		require.Equal(t, http.StatusOK, code)
		var stats Stats
		require.NoError(t, json.Unmarshal([]byte(body), &stats))
		require.True(t, stats.Running)
		require.Equal(t, 1, stats.RegionCount)
	})

	t.Run("Metrics", func(t *testing.T) {
		code, body := httpGet(t, h.url("http", "/metrics"))
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, body, "vault_regions 1")
	})
}

func TestServer_StopDisconnectsClients(t *testing.T) {
	h := newHarness(t, vault.ModeSync)
	conn := h.dial(t)

	resp := roundTrip(t, conn, `{"method":"list_regions","params":[]}`)
	require.Empty(t, resp.Error)

	require.NoError(t, h.server.Stop(context.Background()))

	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Equal(t, int64(0), h.server.GetStats().ClientCount)
}

func TestServer_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("Ticker Flushes", func(t *testing.T) {
		h := newHarness(t, vault.ModeSnapshot, func(c *Config) { c.SnapshotInterval = 10 * time.Millisecond })
		region, err := h.manager.CreateOrLoadRegion(ctx, geometry.V(0, 0, 0), 100)
		require.NoError(t, err)
		_, err = h.manager.AddObject(ctx, region, uuid.New(), "crate", geometry.V(1, 1, 1), nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			n, err := h.backend.CountObjects(ctx, uuid.UUID(region))
			return err == nil && n == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Final Flush On Stop", func(t *testing.T) {
		h := newHarness(t, vault.ModeSnapshot)
		region, err := h.manager.CreateOrLoadRegion(ctx, geometry.V(0, 0, 0), 100)
		require.NoError(t, err)
		_, err = h.manager.AddObject(ctx, region, uuid.New(), "crate", geometry.V(1, 1, 1), nil)
		require.NoError(t, err)

		n, err := h.backend.CountObjects(ctx, uuid.UUID(region))
		require.NoError(t, err)
		require.Zero(t, n)

		require.NoError(t, h.server.Stop(ctx))
		n, err = h.backend.CountObjects(ctx, uuid.UUID(region))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}
