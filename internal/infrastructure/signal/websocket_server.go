package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	apperrors "rendezvous/pkg/errors"
	rlog "rendezvous/pkg/logger"
	"rendezvous/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the WebSocket transport.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	AllowedOrigins []string

	// MaxMessageSize is the read limit per frame in bytes; 0 means unlimited.
	MaxMessageSize int64
	// MessagesPerSecond limits inbound messages per connection; 0 disables it.
	MessagesPerSecond float64
	MessageBurst      int
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBufferSize: 64,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 64 * 1024,
	}
}

// WebSocketServer owns the live WebSocket connections. It feeds transport
// events to a ports.SessionHandler and implements ports.Emitter for the
// outbound direction.
//
// An upgraded socket waits in pending until the session attaches it; only
// attached clients receive Send and Broadcast.
type WebSocketServer struct {
	handler ports.SessionHandler

	clients map[domain.ConnectionID]*client
	pending map[domain.ConnectionID]*client
	// slots counts connections from reservation until their handler returns.
	slots int
	mu    sync.RWMutex
	wg    sync.WaitGroup

	upgrader websocket.Upgrader
	opts     Options

	logger *zap.SugaredLogger
}

type client struct {
	id      domain.ConnectionID
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks; a full buffer drops the frame.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func NewWebSocketServer(opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if logger == nil {
		logger = rlog.New("info").Sugar()
	}
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaults.SendBufferSize
	}

	s := &WebSocketServer{
		clients: make(map[domain.ConnectionID]*client),
		pending: make(map[domain.ConnectionID]*client),
		opts:    opts,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// SetHandler attaches the session handler. It must be called before serving.
func (s *WebSocketServer) SetHandler(handler ports.SessionHandler) {
	s.handler = handler
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// reserveSlot claims room for one connection before the upgrade.
func (s *WebSocketServer) reserveSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxConnections > 0 && s.slots >= s.opts.MaxConnections {
		return false
	}
	s.slots++
	return true
}

func (s *WebSocketServer) releaseSlot() {
	s.mu.Lock()
	s.slots--
	s.mu.Unlock()
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.reserveSlot() {
		s.logger.Warnw("rejecting websocket connection, limit reached", "limit", s.opts.MaxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseSlot()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   domain.ConnectionID(uuid.NewString()),
		conn: conn,
		send: make(chan []byte, s.opts.SendBufferSize),
		done: make(chan struct{}),
	}
	if s.opts.MessagesPerSecond > 0 {
		burst := s.opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
	}

	s.mu.Lock()
	s.pending[c.id] = c
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	go s.writePump(c)

	ctx := rlog.WithConnectionID(context.Background(), string(c.id))
	if err := s.handler.Connect(ctx, c.id, remoteAddress(r)); err != nil {
		s.logger.Errorw("failed to open session", "connection_id", c.id, "error", err)
		s.detach(c.id)
		return
	}

	s.readPump(ctx, c)

	s.detach(c.id)
	s.handler.Disconnect(ctx, c.id)
}

func (s *WebSocketServer) readPump(ctx context.Context, c *client) {
	if s.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			s.logReadError(c.id, err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			s.logger.Warnw("dropping message, rate limit exceeded",
				"connection_id", c.id,
				"code", apperrors.ErrCodeRateLimit,
			)
			continue
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnw("dropping malformed message",
				"connection_id", c.id,
				"code", apperrors.ErrCodeInvalidInput,
				"error", err,
			)
			continue
		}
		if err := validation.ValidateMessageType(msg.Type); err != nil {
			s.logger.Warnw("dropping message with invalid type",
				"connection_id", c.id,
				"code", apperrors.ErrCodeInvalidInput,
				"error", err,
			)
			continue
		}

		if err := s.dispatch(ctx, c.id, msg); err != nil {
			if errors.Is(err, domain.ErrConnectionNotFound) {
				// evicted by the sweep while the socket was still readable
				return
			}
			s.logger.Warnw("dropping message",
				"connection_id", c.id,
				"type", msg.Type,
				"code", apperrors.CodeOf(err),
				"error", err,
			)
		}
	}
}

// dispatch isolates a panicking handler to the message that caused it.
func (s *WebSocketServer) dispatch(ctx context.Context, id domain.ConnectionID, msg domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Sprintf("panic handling %s: %v", msg.Type, r))
		}
	}()
	return s.handler.HandleMessage(ctx, id, msg)
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing message", "connection_id", c.id, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "connection_id", c.id, "error", err)
				c.close()
				return
			}

		case <-c.done:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (s *WebSocketServer) logReadError(id domain.ConnectionID, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warnw("closing connection, message too large",
			"connection_id", id,
			"code", apperrors.ErrCodeMessageTooLarge,
			"limit", s.opts.MaxMessageSize,
		)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure):
		s.logger.Infow("error reading message from connection", "connection_id", id, "error", err)
	default:
		s.logger.Debugw("connection read ended", "connection_id", id, "error", err)
	}
}

// detach removes a client from the broadcast set and stops its writer.
func (s *WebSocketServer) detach(id domain.ConnectionID) {
	s.mu.Lock()
	c, exists := s.clients[id]
	if !exists {
		c, exists = s.pending[id]
	}
	delete(s.clients, id)
	delete(s.pending, id)
	s.mu.Unlock()

	if exists {
		c.close()
	}
}

func (s *WebSocketServer) Attach(id domain.ConnectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.pending[id]
	if !exists {
		return false
	}
	delete(s.pending, id)
	s.clients[id] = c
	return true
}

func (s *WebSocketServer) Send(id domain.ConnectionID, event domain.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Errorw("failed to encode event", "type", event.Type, "error", err)
		return false
	}

	s.mu.RLock()
	c, exists := s.clients[id]
	s.mu.RUnlock()

	if !exists {
		return false
	}
	if !c.enqueue(data) {
		s.logger.Warnw("dropping event, send buffer full", "connection_id", id, "type", event.Type)
		return false
	}
	return true
}

func (s *WebSocketServer) Broadcast(event domain.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Errorw("failed to encode event", "type", event.Type, "error", err)
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for id, c := range s.clients {
		if c.enqueue(data) {
			delivered++
		} else {
			s.logger.Warnw("dropping broadcast, send buffer full", "connection_id", id, "type", event.Type)
		}
	}
	return delivered
}

// Close drops a connection's transport state and closes its socket.
func (s *WebSocketServer) Close(id domain.ConnectionID) {
	s.detach(id)
}

// Shutdown closes every connection and waits for their handlers to finish.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients)+len(s.pending))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	for _, c := range s.pending {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket shutdown: %w", ctx.Err())
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.clients)
}

func (s *WebSocketServer) IsConnected(id domain.ConnectionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.clients[id]
	return exists
}

// remoteAddress prefers the first X-Forwarded-For hop.
func remoteAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
