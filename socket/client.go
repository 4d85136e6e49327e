// Package socket keeps a live connection to the referral update server and
// feeds its events into the dashboard store.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-tree/logger"
	"referral-tree/metrics"
	"referral-tree/models"
)

// Errors returned by the Client.
var (
	ErrConnectInProgress = errors.New("socket: connection attempt already in progress")
	ErrClosed            = errors.New("socket: client disconnected while connecting")
)

// Store receives the effects of socket events. *store.Store implements it.
type Store interface {
	OptimisticUpdate(address string, patch models.NodePatch) bool
	TouchActivity()
	SetConnected(connected bool)
}

// Config controls connection and retry behaviour.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration // default 30s
	ReconnectInterval    time.Duration // backoff base, default 1s
	MaxReconnectAttempts int           // default 5
	MaxReconnectDelay    time.Duration // backoff cap, default 5m
	ReconcileDelay       time.Duration // default 2s
	HandshakeTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 5 * time.Minute
	}
	if c.ReconcileDelay <= 0 {
		c.ReconcileDelay = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithScheduler replaces the real timers.
func WithScheduler(s Scheduler) Option {
	return func(c *Client) { c.sched = s }
}

// WithReconcile registers fn to run ReconcileDelay after each referral
// update, so the caller can confirm the optimistic values with a chain read.
func WithReconcile(fn func(address string)) Option {
	return func(c *Client) { c.onReconcile = fn }
}

// Client manages one live connection with heartbeat and reconnection.
type Client struct {
	cfg         Config
	store       Store
	dialer      Dialer
	sched       Scheduler
	onReconcile func(address string)
	log         *zap.Logger

	mu             sync.Mutex
	state          State
	conn           Conn
	gen            uint64 // incremented per connection, guards stale callbacks
	closing        bool
	attempts       int
	bo             *backoff.ExponentialBackOff
	reconnectTimer Timer
	heartbeatTimer Timer
	subs           map[string]struct{}
}

// NewClient returns a disconnected client.
func NewClient(cfg Config, store Store, opts ...Option) *Client {
	cfg.setDefaults()
	c := &Client{
		cfg:    cfg,
		store:  store,
		dialer: WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout},
		sched:  realScheduler{},
		log:    logger.Named("socket"),
		subs:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bo = newBackOff(cfg)
	return c
}

// newBackOff yields base, 2*base, 4*base... with no jitter.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = cfg.MaxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnects scheduled since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection and blocks until it is open or has failed.
// It returns nil at once when already connected, and ErrConnectInProgress
// while another attempt is dialing. A pending reconnect is replaced.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.closing = false
	c.stopReconnectLocked()
	c.state = transition(c.state, evConnect)
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.log.Info("Connecting to referral socket", zap.String("url", c.cfg.URL))
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if err != nil {
		c.state = transition(c.state, evFail)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.log.Error("Socket connection failed", zap.String("url", c.cfg.URL), zap.Error(err))
		return fmt.Errorf("socket: connect %s: %w", c.cfg.URL, err)
	}
	if c.closing || c.state != Connecting {
		c.mu.Unlock()
		_ = conn.Close(CloseNormalClosure, "client disconnect")
		return ErrClosed
	}

	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = transition(c.state, evOpen)
	c.attempts = 0
	c.bo.Reset()
	c.armHeartbeatLocked(gen)
	subs := c.subscriptionsLocked()
	c.mu.Unlock()

	c.log.Info("Socket connected", zap.String("url", c.cfg.URL))
	metrics.SocketConnected.Set(1)
	c.store.SetConnected(true)

	for _, addr := range subs {
		c.Send(subscription(models.MessageSubscribe, addr))
	}

	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		// already torn down by Disconnect
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	c.state = transition(c.state, evClose)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	var ce *CloseError
	if errors.As(err, &ce) {
		c.log.Info("Socket closed by server",
			zap.Int("code", ce.Code),
			zap.String("reason", ce.Reason),
			zap.Bool("clean", ce.Clean()))
	} else {
		c.log.Warn("Socket connection lost", zap.Error(err))
	}
	metrics.SocketConnected.Set(0)
	c.store.SetConnected(false)
}

// scheduleReconnectLocked arms the next reconnect unless the client is
// shutting down or the attempt budget is spent.
func (c *Client) scheduleReconnectLocked() {
	if c.closing {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.log.Error("Giving up reconnecting to referral socket",
			zap.Int("attempts", c.attempts))
		return
	}
	c.attempts++
	delay := c.bo.NextBackOff()
	c.state = transition(c.state, evRetry)
	c.reconnectTimer = c.sched.AfterFunc(delay, c.reconnect)
	metrics.SocketReconnects.Inc()
	c.log.Info("Scheduling socket reconnect",
		zap.Int("attempt", c.attempts),
		zap.Int("max_attempts", c.cfg.MaxReconnectAttempts),
		zap.Duration("delay", delay))
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closing || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state = transition(c.state, evConnect)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	_ = c.dial(ctx)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) armHeartbeatLocked(gen uint64) {
	c.stopHeartbeatLocked()
	c.heartbeatTimer = c.sched.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.heartbeat(gen)
	})
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

func (c *Client) heartbeat(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.armHeartbeatLocked(gen)
	c.mu.Unlock()

	c.Send(models.ClientMessage{Type: models.MessageHeartbeat, Time: time.Now().UnixMilli()})
}

// Disconnect cancels pending timers and closes the connection with a normal
// closure. It is the only way to stop automatic reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = transition(c.state, evDisconnect)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(CloseNormalClosure, "client disconnect"); err != nil {
			c.log.Debug("Error closing socket", zap.Error(err))
		}
	}
	metrics.SocketConnected.Set(0)
	c.store.SetConnected(false)
}

// Send encodes msg as JSON and writes it when connected. Otherwise the
// message is dropped with a warning. It reports whether msg was written.
func (c *Client) Send(msg any) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if conn == nil || state != Connected {
		c.log.Warn("Socket not connected, dropping message", zap.Any("message", msg))
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("Failed to encode socket message", zap.Error(err))
		return false
	}
	if err := conn.Write(data); err != nil {
		c.log.Warn("Failed to write socket message", zap.Error(err))
		return false
	}
	return true
}

// Subscribe asks the server for updates about address. The subscription is
// remembered and sent again after every reconnect.
func (c *Client) Subscribe(address string) bool {
	c.mu.Lock()
	c.subs[strings.ToLower(address)] = struct{}{}
	c.mu.Unlock()
	return c.Send(subscription(models.MessageSubscribe, address))
}

// Unsubscribe stops updates about address.
func (c *Client) Unsubscribe(address string) bool {
	c.mu.Lock()
	delete(c.subs, strings.ToLower(address))
	c.mu.Unlock()
	return c.Send(subscription(models.MessageUnsubscribe, address))
}

// Subscriptions returns the remembered subscriptions, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionsLocked()
}

func (c *Client) subscriptionsLocked() []string {
	out := make([]string, 0, len(c.subs))
	for a := range c.subs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func subscription(kind, address string) models.ClientMessage {
	return models.ClientMessage{
		Type: kind,
		Data: &models.SubscriptionData{Address: address, Events: models.SubscriptionEvents},
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg models.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("Failed to parse socket message", zap.Error(err))
		return
	}
	metrics.SocketMessages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case models.MessageReferralUpdate:
		c.handleReferralUpdate(msg.Payload)
	case models.MessageHeartbeat:
		c.mu.Lock()
		if c.state == Connected {
			c.armHeartbeatLocked(c.gen)
		}
		c.mu.Unlock()
	case models.MessageError:
		c.log.Error("Socket server error", zap.String("message", msg.Message))
	default:
		c.log.Warn("Unknown socket message type", zap.String("type", msg.Type))
	}
}

func (c *Client) handleReferralUpdate(payload json.RawMessage) {
	var upd models.ReferralUpdate
	if err := json.Unmarshal(payload, &upd); err != nil || upd.Address == "" {
		c.log.Warn("Invalid referral update payload", zap.ByteString("payload", payload), zap.Error(err))
		return
	}

	patch := PatchFromUpdate(upd)
	applied := c.store.OptimisticUpdate(upd.Address, patch)
	c.store.TouchActivity()
	c.log.Debug("Referral update received",
		zap.String("address", upd.Address),
		zap.Bool("applied", applied))

	if c.onReconcile != nil {
		addr := upd.Address
		c.sched.AfterFunc(c.cfg.ReconcileDelay, func() { c.onReconcile(addr) })
	}
}

// PatchFromUpdate keeps only the fields present in upd. Status maps to
// UnbalancedAllowance; unknown statuses and unparsable balances are ignored.
func PatchFromUpdate(upd models.ReferralUpdate) models.NodePatch {
	var patch models.NodePatch
	if bal, ok := parseBalance(upd.Balance); ok {
		patch.Balance = &bal
	}
	if upd.Depth != nil {
		d := *upd.Depth
		patch.Depth = &d
	}
	if upd.Status != nil {
		var unbalanced bool
		switch strings.ToLower(*upd.Status) {
		case string(models.StatusUnbalanced):
			unbalanced = true
			patch.UnbalancedAllowance = &unbalanced
		case string(models.StatusBalanced):
			patch.UnbalancedAllowance = &unbalanced
		}
	}
	return patch
}

// parseBalance accepts a JSON number or a quoted decimal string.
func parseBalance(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	bal, err := decimal.NewFromString(s)
	return bal, err == nil
}
