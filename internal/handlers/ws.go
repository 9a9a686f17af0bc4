package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/capture"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/config"
	"AI_PROCTOR/go-backend/internal/models"
	"AI_PROCTOR/go-backend/internal/notify"
	"AI_PROCTOR/go-backend/internal/proctor"
	"AI_PROCTOR/go-backend/internal/services"
	"AI_PROCTOR/go-backend/internal/terminator"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendBufferSize = 256
)

var (
	errClientClosed = errors.New("client closed")
	errSendBufFull  = errors.New("send buffer full")
)

// inbound is a candidate message whose payload is decoded per type.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WSDeps struct {
	Auth       *AuthHandler
	Registry   *proctor.Registry
	Classifier proctor.Classifier
	Emitter    audit.Emitter
	Metrics    *services.Metrics
	CORS       CORS
	Clock      clock.Clock
	Logger     *slog.Logger
}

// WSHandler serves the candidate channel. Each connection owns one
// proctoring session whose camera lives in the browser.
type WSHandler struct {
	cfg      config.Proctoring
	deps     WSDeps
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient
}

func NewWSHandler(cfg config.Proctoring, deps WSDeps) *WSHandler {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	h := &WSHandler{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With("component", "websocket"),
		clients: make(map[string]*wsClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return deps.CORS.Allowed(r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Anonymous candidates are monitored but nothing is audited for them.
	var identity terminator.Identity
	if h.deps.Auth != nil {
		if user, token, err := h.deps.Auth.Authenticate(r); err == nil {
			identity = h.deps.Auth.auth.Identity(token, user)
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		if h.deps.Metrics != nil {
			h.deps.Metrics.WSError()
		}
		return
	}

	client := newWSClient(conn, "client-"+uuid.NewString(), h.deps.Metrics, h.logger)
	client.connected()

	device := capture.NewFeedDevice(client.command)
	deps := proctor.Deps{
		Classifier: h.deps.Classifier,
		Device:     device,
		Notifier:   client,
		Emitter:    h.deps.Emitter,
		Identity:   identity,
		Redirector: client,
		Clock:      h.deps.Clock,
		Logger:     h.deps.Logger,
	}
	if h.deps.Metrics != nil {
		deps.Observer = h.deps.Metrics
	}
	session := proctor.NewSession(h.cfg, deps)
	client.session = session
	client.device = device

	session.OnChange(func() {
		_ = client.enqueue(models.MsgState, session.Snapshot())
	})
	h.deps.Registry.Add(session)
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.deps.Registry.Remove(session.ID)
		device.Detach()
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		client.close()
		client.disconnected()
		client.logger.Info("websocket client disconnected")
	}()

	go client.writePump()

	client.logger.Info("websocket client connected", "user_id", session.UserID, "session_id", session.ID)
	_ = client.enqueue(models.MsgWelcome, map[string]interface{}{
		"message":      "Connected to proctoring server",
		"version":      "1.0",
		"session_id":   session.ID,
		"user_id":      session.UserID,
		"max_warnings": h.cfg.MaxWarnings,
	})
	_ = client.enqueue(models.MsgState, session.Snapshot())

	// Start waits for the browser to grant the camera, which is reported
	// through readPump.
	go func() {
		if err := session.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			client.logger.Warn("proctoring session did not start", "error", err)
		}
	}()

	client.readPump(ctx)
}

// wsClient is one candidate connection. It implements notify.Notifier
// and terminator.Redirector, and feeds the session's camera device.
type wsClient struct {
	conn    *websocket.Conn
	id      string
	metrics *services.Metrics
	logger  *slog.Logger

	send      chan models.WebSocketMessage
	done      chan struct{}
	closeOnce sync.Once

	session *proctor.Session
	device  *capture.FeedDevice
}

func newWSClient(conn *websocket.Conn, id string, metrics *services.Metrics, logger *slog.Logger) *wsClient {
	return &wsClient{
		conn:    conn,
		id:      id,
		metrics: metrics,
		logger:  logger.With("client_id", id),
		send:    make(chan models.WebSocketMessage, sendBufferSize),
		done:    make(chan struct{}),
	}
}

func (c *wsClient) connected() {
	if c.metrics != nil {
		c.metrics.WSConnected()
	}
}

func (c *wsClient) disconnected() {
	if c.metrics != nil {
		c.metrics.WSDisconnected()
	}
}

func (c *wsClient) received(msgType string, err error) {
	if c.metrics == nil {
		return
	}
	if msgType != "" {
		c.metrics.WSMessage(msgType)
	}
	if err != nil {
		c.metrics.WSError()
	}
}

func (c *wsClient) enqueue(msgType string, payload any) error {
	msg := models.WebSocketMessage{
		Type:      msgType,
		Payload:   payload,
		ClientID:  c.id,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.logger.Warn("dropping outbound message", "type", msgType)
		return errSendBufFull
	}
}

func (c *wsClient) command(msgType string, payload any) error {
	return c.enqueue(msgType, payload)
}

func (c *wsClient) Notify(message string, severity notify.Severity) {
	_ = c.enqueue(models.MsgNotify, models.NotifyPayload{Message: message, Severity: string(severity)})
}

func (c *wsClient) Redirect(path string) {
	_ = c.enqueue(models.MsgRedirect, models.RedirectPayload{Path: path})
}

// close stops the client. writePump sends the close frame and releases
// the connection.
func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
				c.received("", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		err := c.handle(ctx, msg)
		if err != nil {
			c.logger.Warn("bad message", "type", msg.Type, "error", err)
		}
		c.received(msg.Type, err)
	}
}

func (c *wsClient) handle(ctx context.Context, msg inbound) error {
	switch msg.Type {
	case models.MsgPing:
		return c.enqueue(models.MsgPong, nil)

	case models.MsgDeviceGranted:
		c.device.Granted()

	case models.MsgDeviceError:
		var p models.DeviceErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		c.device.Fail(p.Name, p.Message)

	case models.MsgFrame:
		var p models.FramePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		data, err := base64.StdEncoding.DecodeString(p.Frame)
		if err != nil {
			return err
		}
		ts := p.Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		c.device.PushFrame(models.VideoFrame{
			Data:           data,
			Width:          p.Width,
			Height:         p.Height,
			Timestamp:      ts,
			SequenceNumber: p.SequenceNumber,
		})

	case models.MsgCursor:
		var p models.CursorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		c.session.Cursor(p.X, p.Y)

	case models.MsgStartCamera:
		go func() {
			err := c.session.StartCapture(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, proctor.ErrBlocked) {
				c.logger.Info("manual camera start failed", "error", err)
			}
		}()

	case models.MsgStopCamera:
		c.session.StopCapture()

	case models.MsgToggleOperatorView:
		var p models.OperatorViewPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		c.session.SetOperatorView(p.Visible)

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
	return nil
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// CloseAll disconnects every candidate. Used on shutdown.
func (h *WSHandler) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		c.logger.Info("closed connection on shutdown")
	}
}

// Clients returns the number of open candidate connections.
func (h *WSHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
