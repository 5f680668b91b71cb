package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/rpc"
	"github.com/zeusync/vault/pkg/generic"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var buffers = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// handleWebSocket upgrades the request and serves RPC calls on it. Every text
// frame carries one rpc.Request; each gets exactly one rpc.Response, in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}

	if !s.register(conn) {
		_ = conn.Close()
		return
	}
	defer s.unregister(conn)

	conn.SetReadLimit(s.config.ReadLimit)

	clientLogger := s.logger.With(log.String("remote_addr", conn.RemoteAddr().String()))
	clientLogger.Info("Client connected",
		log.Int64("total_clients", atomic.LoadInt64(&s.clientCount)))

	s.serveConn(r.Context(), conn, clientLogger)

	clientLogger.Info("Client disconnected",
		log.Int64("total_clients", atomic.LoadInt64(&s.clientCount)-1))
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, logger log.Log) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to receive message", log.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			logger.Debug("Ignoring non-text frame", log.Int("type", kind))
			continue
		}

		if err := s.writeResponse(conn, s.handleMessage(ctx, data)); err != nil {
			logger.Error("Failed to send response", log.Error(err))
			return
		}
	}
}

// writeResponse encodes resp into a pooled buffer. A result that cannot be
// encoded is reported to the caller as an error response.
func (s *Server) writeResponse(conn *websocket.Conn, resp rpc.Response) error {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		buf.Reset()
		fallback := rpc.Response{ID: resp.ID, Error: fmt.Errorf("%w: encode result: %v", rpc.ErrInternal, err).Error()}
		if err := json.NewEncoder(buf).Encode(fallback); err != nil {
			return err
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

// handleMessage decodes one request frame and dispatches it.
func (s *Server) handleMessage(ctx context.Context, data []byte) rpc.Response {
	var req rpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return rpc.Response{Error: fmt.Errorf("%w: %v", ErrInvalidMessage, err).Error()}
	}
	if req.Method == "" {
		return rpc.Response{ID: req.ID, Error: fmt.Errorf("%w: missing method", ErrInvalidMessage).Error()}
	}

	s.logger.Debug("Handling request", log.String("method", req.Method))
	return s.dispatcher.Handle(ctx, req)
}

// register tracks conn so Stop can close it. It reports false once the
// server is draining.
func (s *Server) register(conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.draining {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connGroup.Add(1)
	atomic.AddInt64(&s.clientCount, 1)
	s.metrics.AddConnections(1)
	return true
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()

	_ = conn.Close()
	atomic.AddInt64(&s.clientCount, -1)
	s.metrics.AddConnections(-1)
	s.connGroup.Done()
}

// disconnectAll sends a going-away close frame to every client and closes the
// underlying connections. Later upgrades are refused.
func (s *Server) disconnectAll() {
	s.connMu.Lock()
	s.draining = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		if err := c.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("Failed to send close frame", log.Error(err))
		}
		_ = c.Close()
	}
}
