// Package client is a Go SDK for the vault RPC gateway.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/rpc"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/vault"
)

// Client represents one gateway connection. Calls are serialized; the
// gateway answers in order.
type Client struct {
	conn   *websocket.Conn
	callMu sync.Mutex
	nextID uint64 // atomic

	// Lifecycle
	connected int32 // atomic bool
	closed    int32 // atomic bool

	// Configuration and logging
	config Config
	logger log.Log
}

// Config holds configuration for the client
type Config struct {
	// URL of the gateway, e.g. ws://127.0.0.1:8420/rpc.
	URL            string
	ConnectTimeout time.Duration
	// CallTimeout bounds a call whose context has no deadline.
	CallTimeout time.Duration
	// MaxMessageSize caps one response frame.
	MaxMessageSize int64
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8420/rpc",
		ConnectTimeout: 10 * time.Second,
		CallTimeout:    10 * time.Second,
		MaxMessageSize: 16 << 20, // 16MB
	}
}

// NewClient creates a new client. A nil logger disables logging.
func NewClient(config Config, logger log.Log) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		config: config,
		logger: logger.With(log.String("component", "client")),
	}
}

// Connect dials the gateway.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if c.config.URL == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidConfig)
	}
	if !atomic.CompareAndSwapInt32(&c.connected, 0, 1) {
		return ErrAlreadyConnected
	}

	c.logger.Info("Connecting to server", log.String("url", c.config.URL))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.config.ConnectTimeout
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		atomic.StoreInt32(&c.connected, 0)
		c.logger.Error("Failed to connect to server",
			log.String("url", c.config.URL),
			log.Error(err))
		return err
	}
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.conn = conn

	c.logger.Info("Connected to server",
		log.String("local_addr", conn.LocalAddr().String()),
		log.String("remote_addr", conn.RemoteAddr().String()))

	return nil
}

// Close closes the client and releases all resources
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}

	c.logger.Info("Closing client")

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// Call invokes method with positional params and decodes the result into
// out, which may be nil. Server-side failures come back as *RemoteError.
func (c *Client) Call(ctx context.Context, method string, out any, params ...any) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if atomic.LoadInt32(&c.connected) == 0 {
		return ErrNotConnected
	}
	if params == nil {
		params = []any{}
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	id := strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)
	req := rpc.Request{ID: json.RawMessage(id), Method: method, Params: rawParams}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.CallTimeout)
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := c.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("receive %s: %w", method, err)
	}
	if string(resp.ID) != id {
		return fmt.Errorf("%w: sent %s, got %s", ErrIDMismatch, id, resp.ID)
	}
	if resp.Error != "" {
		return &RemoteError{Method: method, Message: resp.Error}
	}

	c.logger.Debug("Call completed", log.String("method", method))

	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func vec(p geometry.Vec3) [3]float64 { return geometry.ToArray(p) }

func (c *Client) CreateOrLoadRegion(ctx context.Context, center geometry.Vec3, radius float64) (vault.RegionID, error) {
	var id vault.RegionID
	err := c.Call(ctx, rpc.MethodCreateOrLoadRegion, &id, vec(center), radius)
	return id, err
}

func (c *Client) QueryRegion(ctx context.Context, region vault.RegionID, box geometry.Box) ([]rpc.Object, error) {
	var objs []rpc.Object
	err := c.Call(ctx, rpc.MethodQueryRegion, &objs, region, vec(box.Min), vec(box.Max))
	return objs, err
}

func (c *Client) AddObject(ctx context.Context, region vault.RegionID, id uuid.UUID, kind string, pos geometry.Vec3, payload json.RawMessage) error {
	return c.Call(ctx, rpc.MethodAddObject, nil, region, id, kind, vec(pos), payload)
}

func (c *Client) UpdateObject(ctx context.Context, region vault.RegionID, id uuid.UUID, kind string, pos geometry.Vec3, payload json.RawMessage) error {
	return c.Call(ctx, rpc.MethodUpdateObject, nil, region, id, kind, vec(pos), payload)
}

func (c *Client) RemoveObject(ctx context.Context, region vault.RegionID, id uuid.UUID) error {
	return c.Call(ctx, rpc.MethodRemoveObject, nil, region, id)
}

func (c *Client) GetObject(ctx context.Context, region vault.RegionID, id uuid.UUID) (rpc.Object, error) {
	var obj rpc.Object
	err := c.Call(ctx, rpc.MethodGetObject, &obj, region, id)
	return obj, err
}

func (c *Client) Transfer(ctx context.Context, id uuid.UUID, from, to vault.RegionID) (rpc.Object, error) {
	var obj rpc.Object
	err := c.Call(ctx, rpc.MethodTransfer, &obj, id, from, to)
	return obj, err
}

func (c *Client) PersistAll(ctx context.Context) error {
	return c.Call(ctx, rpc.MethodPersistAll, nil)
}

func (c *Client) ListRegions(ctx context.Context) ([]rpc.RegionSummary, error) {
	var out []rpc.RegionSummary
	err := c.Call(ctx, rpc.MethodListRegions, &out)
	return out, err
}
