package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"blinktrade/internal/ws"
)

// ErrWSNotConnected is returned by writes on a socket that is not open.
var ErrWSNotConnected = errors.New("websocket not connected")

// MessageHandler receives one text frame. The slice is owned by the handler.
type MessageHandler func(data []byte) error

type WSConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// PingInterval of zero disables keepalive pings and read deadlines.
	PingInterval time.Duration
	PongWait     time.Duration
	BufferSize   int
}

// WSClient is a single-connection websocket client. Frames are delivered to
// subscribed handlers in arrival order on one dispatch goroutine.
type WSClient struct {
	config  WSConfig
	state   *ws.State
	conn    *gws.Conn
	handler *wsEventHandler
	logger  zerolog.Logger

	mu            sync.RWMutex
	subs          map[string]MessageHandler
	onDisconnect  func(error)
	connectedChan chan struct{}
	inbox         chan wsFrame
	stopChan      chan struct{}
	dispatchOnce  sync.Once
	wg            sync.WaitGroup
}

type wsFrame struct {
	data   []byte
	err    error
	closed bool
}

type wsEventHandler struct {
	client *WSClient
}

func NewWSClient(config WSConfig) *WSClient {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.PingInterval > 0 && config.PongWait == 0 {
		config.PongWait = config.PingInterval
	}
	if config.BufferSize == 0 {
		config.BufferSize = 256
	}

	client := &WSClient{
		config:        config,
		state:         &ws.State{},
		subs:          make(map[string]MessageHandler),
		connectedChan: make(chan struct{}),
		inbox:         make(chan wsFrame, config.BufferSize),
		stopChan:      make(chan struct{}),
		logger:        zerolog.Nop(),
	}
	client.state.Store(ws.StateDisconnected)
	client.handler = &wsEventHandler{client: client}
	return client
}

func (c *WSClient) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// OnDisconnect registers fn to run on the dispatch goroutine after the remote
// end drops the connection. It is not called for Close.
func (c *WSClient) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *WSClient) refreshDeadline(socket *gws.Conn) {
	if c.config.PingInterval <= 0 {
		return
	}
	_ = socket.SetDeadline(time.Now().Add(c.config.PingInterval + c.config.PongWait))
}

func (h *wsEventHandler) OnOpen(socket *gws.Conn) {
	h.client.state.Store(ws.StateConnected)

	h.client.mu.Lock()
	select {
	case <-h.client.connectedChan:
	default:
		close(h.client.connectedChan)
	}
	h.client.mu.Unlock()

	h.client.logger.Info().
		Str("url", h.client.config.URL).
		Msg("websocket connected")

	h.client.refreshDeadline(socket)
}

func (h *wsEventHandler) OnClose(socket *gws.Conn, err error) {
	if h.client.state.Swap(ws.StateDisconnected) == ws.StateClosed {
		h.client.state.Store(ws.StateClosed)
		return
	}

	h.client.mu.Lock()
	h.client.connectedChan = make(chan struct{})
	h.client.mu.Unlock()

	h.client.logger.Warn().
		Err(err).
		Str("url", h.client.config.URL).
		Msg("websocket disconnected")

	h.client.deliver(wsFrame{err: err, closed: true})
}

func (h *wsEventHandler) OnPing(socket *gws.Conn, payload []byte) {
	h.client.refreshDeadline(socket)
	_ = socket.WritePong(payload)
}

func (h *wsEventHandler) OnPong(socket *gws.Conn, payload []byte) {
	h.client.refreshDeadline(socket)
}

func (h *wsEventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.client.refreshDeadline(socket)

	// gws recycles the message buffer after Close.
	data := bytes.Clone(message.Bytes())
	if len(data) == 0 {
		return
	}

	h.client.logger.Debug().Str("data", string(data)).Msg("received websocket message")
	h.client.deliver(wsFrame{data: data})
}

// deliver blocks until the dispatcher accepts the frame or the client stops,
// so a slow consumer applies backpressure instead of losing frames.
func (c *WSClient) deliver(frame wsFrame) {
	select {
	case c.inbox <- frame:
	case <-c.stopChan:
	}
}

func (c *WSClient) dispatch() {
	for {
		select {
		case <-c.stopChan:
			return
		case frame := <-c.inbox:
			if frame.closed {
				c.mu.RLock()
				fn := c.onDisconnect
				c.mu.RUnlock()
				if fn != nil {
					fn(frame.err)
				}
				continue
			}

			c.mu.RLock()
			handlers := make([]namedHandler, 0, len(c.subs))
			for name, h := range c.subs {
				handlers = append(handlers, namedHandler{name: name, fn: h})
			}
			c.mu.RUnlock()

			for _, h := range handlers {
				if err := h.fn(frame.data); err != nil {
					c.logger.Warn().Err(err).Str("handler", h.name).Msg("websocket handler failed")
				}
			}
		}
	}
}

type namedHandler struct {
	name string
	fn   MessageHandler
}

func (c *WSClient) keepalive(socket *gws.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if c.state.Load() != ws.StateConnected {
				return
			}
			if err := socket.WritePing(nil); err != nil {
				c.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (c *WSClient) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(ws.StateDisconnected, ws.StateConnecting) {
		current := c.state.Load()
		if current == ws.StateConnected {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	c.dispatchOnce.Do(func() { go c.dispatch() })

	socket, _, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr:             c.config.URL,
		RequestHeader:    c.config.Header,
		HandshakeTimeout: c.config.HandshakeTimeout,
	})
	if err != nil {
		c.state.CompareAndSwap(ws.StateConnecting, ws.StateDisconnected)
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	connected := c.connectedChan
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		socket.ReadLoop()
	}()

	select {
	case <-connected:
		if c.config.PingInterval > 0 {
			c.wg.Add(1)
			go c.keepalive(socket)
		}
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		return ctx.Err()
	case <-c.stopChan:
		_ = socket.NetConn().Close()
		return fmt.Errorf("client stopped")
	}
}

// Close shuts the connection down for good. Handlers are not invoked afterwards.
func (c *WSClient) Close() error {
	if c.state.Swap(ws.StateClosed) == ws.StateClosed {
		return nil
	}

	close(c.stopChan)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.NetConn().Close()
	}
	c.subs = make(map[string]MessageHandler)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSClient) State() ws.ConnState {
	return c.state.Load()
}

func (c *WSClient) IsConnected() bool {
	return c.state.Load() == ws.StateConnected
}

// Subscribe registers handler under name, replacing any previous handler.
func (c *WSClient) Subscribe(name string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %q", name)
	}

	c.mu.Lock()
	c.subs[name] = handler
	c.mu.Unlock()

	c.logger.Debug().Str("handler", name).Msg("subscribed websocket handler")
	return nil
}

func (c *WSClient) Unsubscribe(name string) error {
	c.mu.Lock()
	_, ok := c.subs[name]
	delete(c.subs, name)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no handler named %q", name)
	}
	c.logger.Debug().Str("handler", name).Msg("unsubscribed websocket handler")
	return nil
}

func (c *WSClient) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.subs))
	for name := range c.subs {
		subs = append(subs, name)
	}
	return subs
}

func (c *WSClient) WriteMessage(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != ws.StateConnected {
		return ErrWSNotConnected
	}

	return c.conn.WriteMessage(gws.OpcodeText, data)
}

func (c *WSClient) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteMessage(data)
}

func (c *WSClient) SendPing() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != ws.StateConnected {
		return ErrWSNotConnected
	}

	return c.conn.WritePing(nil)
}
