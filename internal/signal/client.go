package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	camlog "github.com/bbielsa/camstream/internal/log"
	"github.com/bbielsa/camstream/internal/observable"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const defaultPingInterval = 20 * time.Second

// message is the generic WebSocket message envelope.
type message struct {
	Method      string          `json:"method"`
	ID          string          `json:"id,omitempty"`
	Code        *int            `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	ClientType  string          `json:"clientType,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	AccessToken string          `json:"accessToken,omitempty"`
	DeviceID    string          `json:"deviceId,omitempty"`
	Trait       string          `json:"trait,omitempty"`
	Attribute   string          `json:"attribute,omitempty"`
	Command     string          `json:"command,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type subKey struct {
	deviceID  string
	trait     string
	attribute string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Client manages the WebSocket connection to the signaling server and
// exposes the device graph carried over it.
type Client struct {
	conn     *websocket.Conn
	ticket   *domain.Ticket
	clientID string
	dialer   *websocket.Dialer
	log      logging.LeveledLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan message
	subs    map[subKey]map[int]*observable.Queue[domain.AttributeReport]
	nextSub int

	authed  chan error
	closed  chan struct{}
	closeMu sync.Once
}

// NewClient creates a new signaling client.
func NewClient(ticket *domain.Ticket, cfg ClientConfig) *Client {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		ticket:   ticket,
		clientID: fmt.Sprintf("cli-%s-%d", ticket.ID, time.Now().UnixMilli()),
		dialer:   dialer,
		log:      camlog.Scoped(cfg.LoggerFactory, "signal"),
		pending:  make(map[string]chan message),
		subs:     make(map[subKey]map[int]*observable.Queue[domain.AttributeReport]),
		authed:   make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// Connect dials the signaling WebSocket, starts the read loop and waits
// for the AUTH handshake to complete.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.ticket.SignalServer)
	if err != nil {
		return fmt.Errorf("parse signal server: %w", err)
	}
	if c.ticket.WebsocketPath != "" {
		u.Path = c.ticket.WebsocketPath
	}

	c.log.Infof("connecting to %s", u.String())

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	go c.pingLoop()

	if err := c.sendJSON(message{
		Method:      "AUTH",
		ClientType:  "app",
		ClientID:    c.clientID,
		AccessToken: c.ticket.AccessToken,
	}); err != nil {
		c.Close()
		return err
	}

	select {
	case err := <-c.authed:
		if err != nil {
			c.Close()
			return err
		}
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close shuts down the WebSocket connection. Pending calls fail with
// ErrClosed and attribute subscriptions are closed.
func (c *Client) Close() {
	c.closeMu.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}

		c.mu.Lock()
		for key, queues := range c.subs {
			for _, q := range queues {
				q.Close()
			}
			delete(c.subs, key)
		}
		c.mu.Unlock()
	})
}

// Device implements domain.DeviceGraph.
func (c *Client) Device(ctx context.Context, deviceID string) (*domain.Device, error) {
	resp, err := c.call(ctx, message{Method: "GET_DEVICE", DeviceID: deviceID})
	if err != nil {
		return nil, err
	}
	var dev domain.Device
	if err := json.Unmarshal(resp.Result, &dev); err != nil {
		return nil, fmt.Errorf("unmarshal device: %w", err)
	}
	return &dev, nil
}

// ReadAttribute implements domain.DeviceGraph.
func (c *Client) ReadAttribute(ctx context.Context, deviceID, trait, attribute string) (json.RawMessage, error) {
	resp, err := c.call(ctx, message{
		Method:    "READ_ATTRIBUTE",
		DeviceID:  deviceID,
		Trait:     trait,
		Attribute: attribute,
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// InvokeCommand implements domain.DeviceGraph.
func (c *Client) InvokeCommand(ctx context.Context, deviceID, trait, command string, params any) (json.RawMessage, error) {
	msg := message{
		Method:   "INVOKE_COMMAND",
		DeviceID: deviceID,
		Trait:    trait,
		Command:  command,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", command, err)
		}
		msg.Params = raw
	}
	resp, err := c.call(ctx, msg)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// SubscribeAttribute implements domain.DeviceGraph. The server is asked to
// report the attribute when the first local subscriber for it arrives.
func (c *Client) SubscribeAttribute(deviceID, trait, attribute string) (<-chan domain.AttributeReport, func()) {
	key := subKey{deviceID: deviceID, trait: trait, attribute: attribute}
	q := observable.NewQueue[domain.AttributeReport]()

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		q.Close()
		return q.Out(), func() {}
	default:
	}
	queues, ok := c.subs[key]
	if !ok {
		queues = make(map[int]*observable.Queue[domain.AttributeReport])
		c.subs[key] = queues
	}
	id := c.nextSub
	c.nextSub++
	queues[id] = q
	first := len(queues) == 1
	c.mu.Unlock()

	if first {
		c.notify(message{Method: "SUBSCRIBE", DeviceID: deviceID, Trait: trait, Attribute: attribute})
	}

	var once sync.Once
	return q.Out(), func() {
		once.Do(func() {
			c.mu.Lock()
			last := false
			if queues, ok := c.subs[key]; ok {
				delete(queues, id)
				if len(queues) == 0 {
					delete(c.subs, key)
					last = true
				}
			}
			c.mu.Unlock()
			q.Close()

			if last {
				c.notify(message{Method: "UNSUBSCRIBE", DeviceID: deviceID, Trait: trait, Attribute: attribute})
			}
		})
	}
}

// notify sends a request whose response is not awaited.
func (c *Client) notify(msg message) {
	select {
	case <-c.closed:
		return
	default:
	}
	msg.ID = uuid.NewString()
	if err := c.sendJSON(msg); err != nil {
		c.log.Warnf("%s %s/%s: %v", strings.ToLower(msg.Method), msg.Trait, msg.Attribute, err)
	}
}

func (c *Client) call(ctx context.Context, msg message) (message, error) {
	if c.conn == nil {
		return message{}, ErrNotConnected
	}

	msg.ID = uuid.NewString()
	respCh := make(chan message, 1)

	c.mu.Lock()
	c.pending[msg.ID] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.sendJSON(msg); err != nil {
		return message{}, err
	}

	select {
	case resp := <-respCh:
		if resp.Code != nil && *resp.Code != 0 {
			return message{}, &RemoteError{Method: msg.Method, Code: *resp.Code, Message: resp.Message}
		}
		return resp, nil
	case <-c.closed:
		return message{}, ErrClosed
	case <-ctx.Done():
		return message{}, ctx.Err()
	}
}

func (c *Client) sendJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.log.Tracef(">>> %s", string(data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warnf("read error: %v", err)
			}
			return
		}

		c.log.Tracef("<<< %s", string(data))

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("unmarshal error: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Method {
	case "AUTH_RESPONSE":
		var err error
		if msg.Code == nil || *msg.Code != 0 {
			code := -1
			if msg.Code != nil {
				code = *msg.Code
			}
			err = &RemoteError{Method: "AUTH", Code: code, Message: msg.Message}
			c.log.Errorf("auth failed: code=%d msg=%s", code, msg.Message)
		} else {
			c.log.Info("auth successful")
		}
		select {
		case c.authed <- err:
		default:
		}

	case "RESPONSE":
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.log.Debugf("response for unknown request %s", msg.ID)
			return
		}
		select {
		case ch <- msg:
		default:
		}

	case "ATTRIBUTE_REPORT":
		key := subKey{deviceID: msg.DeviceID, trait: msg.Trait, attribute: msg.Attribute}
		report := domain.AttributeReport{
			DeviceID:  msg.DeviceID,
			Trait:     msg.Trait,
			Attribute: msg.Attribute,
			Value:     msg.Result,
		}
		c.mu.Lock()
		for _, q := range c.subs[key] {
			q.Push(report)
		}
		c.mu.Unlock()

	default:
		c.log.Debugf("unhandled method: %s", msg.Method)
	}
}

func (c *Client) pingLoop() {
	interval := time.Duration(c.ticket.SignalPingInterval) * time.Second
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warnf("ping error: %v", err)
				}
				return
			}
		}
	}
}
