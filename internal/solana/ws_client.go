package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"buywatch/internal/observability"
)

// ErrClientClosed is returned by operations on a closed WebSocket client.
var ErrClientClosed = errors.New("client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// RequestTimeout bounds the wait for a subscribe/unsubscribe response.
	RequestTimeout time.Duration
	// Logger receives connection diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	nextKey   atomic.Uint64

	// subs maps local subscription key to subscription; remote maps the
	// server-assigned ID (which changes on reconnect) to the local key.
	subs   map[uint64]*wsSubscription
	remote map[int64]uint64
	subsMu sync.RWMutex

	// pending maps request ID to channel waiting for the response
	pending   map[uint64]chan wsResponse
	pendingMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		subs:     make(map[uint64]*wsSubscription),
		remote:   make(map[int64]uint64),
		pending:  make(map[uint64]chan wsResponse),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeAccount subscribes to changes of a single account.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, pubkey string, handler func(AccountNotification)) (Subscription, error) {
	params := []interface{}{
		pubkey,
		map[string]string{"encoding": "base64", "commitment": Commitment},
	}
	dispatch := func(raw json.RawMessage, slot int64) {
		var v wsAccountValue
		if err := json.Unmarshal(raw, &v); err != nil {
			c.logger.Debug("malformed account notification", zap.String("pubkey", pubkey), zap.Error(err))
			return
		}
		handler(AccountNotification{
			Pubkey:   pubkey,
			Slot:     slot,
			Lamports: v.Lamports,
			Owner:    v.Owner,
		})
	}
	return c.subscribe(ctx, "accountSubscribe", "accountUnsubscribe", params, dispatch)
}

// SubscribeLogs subscribes to transaction logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter, handler func(LogNotification)) (Subscription, error) {
	var mentionsFilter interface{} = "all"
	if len(filter.Mentions) > 0 {
		mentionsFilter = map[string]interface{}{"mentions": filter.Mentions}
	}
	params := []interface{}{
		mentionsFilter,
		map[string]string{"commitment": Commitment},
	}
	dispatch := func(raw json.RawMessage, slot int64) {
		var v wsLogsValue
		if err := json.Unmarshal(raw, &v); err != nil {
			c.logger.Debug("malformed logs notification", zap.Error(err))
			return
		}
		handler(LogNotification{
			Signature: v.Signature,
			Slot:      slot,
			Logs:      v.Logs,
			Err:       v.Err,
		})
	}
	return c.subscribe(ctx, "logsSubscribe", "logsUnsubscribe", params, dispatch)
}

// subscribe sends a subscribe request and registers the dispatch function.
func (c *WSClientImpl) subscribe(ctx context.Context, method, unsubMethod string, params []interface{}, dispatch func(json.RawMessage, int64)) (*wsSubscription, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	subID, err := c.subscribeInternal(ctx, method, params)
	if err != nil {
		return nil, err
	}

	s := &wsSubscription{
		client:      c,
		key:         c.nextKey.Add(1),
		method:      method,
		unsubMethod: unsubMethod,
		params:      params,
		dispatch:    dispatch,
		remoteID:    subID,
	}

	c.subsMu.Lock()
	c.subs[s.key] = s
	c.remote[subID] = s.key
	c.subsMu.Unlock()

	return s, nil
}

// subscribeInternal subscribes without registering a dispatch function.
func (c *WSClientImpl) subscribeInternal(ctx context.Context, method string, params []interface{}) (int64, error) {
	raw, err := c.request(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var subID int64
	if err := json.Unmarshal(raw, &subID); err != nil {
		return 0, fmt.Errorf("decode %s result: %w", method, err)
	}
	return subID, nil
}

// unsubscribe detaches s locally, then asks the server to drop it.
func (c *WSClientImpl) unsubscribe(ctx context.Context, s *wsSubscription) error {
	c.subsMu.Lock()
	if _, ok := c.subs[s.key]; !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(c.subs, s.key)
	stale := s.stale
	if !stale {
		delete(c.remote, s.remoteID)
	}
	remoteID := s.remoteID
	c.subsMu.Unlock()

	// A stale subscription is not held by the server.
	if c.closed.Load() || stale {
		return nil
	}

	raw, err := c.request(ctx, s.unsubMethod, []interface{}{remoteID})
	if err != nil {
		return fmt.Errorf("%s %d: %w", s.unsubMethod, remoteID, err)
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil || !ok {
		return fmt.Errorf("%s %d: rejected by server", s.unsubMethod, remoteID)
	}
	return nil
}

// request sends a JSON-RPC request and waits for its response.
func (c *WSClientImpl) request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	respCh := make(chan wsResponse, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		c.dropPending(reqID)
		return nil, fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		c.dropPending(reqID)
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.result, nil
	case <-timer.C:
		c.dropPending(reqID)
		return nil, fmt.Errorf("%s timeout after %s", method, c.config.RequestTimeout)
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		c.dropPending(reqID)
		return nil, ctx.Err()
	}
}

func (c *WSClientImpl) dropPending(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	c.subs = make(map[uint64]*wsSubscription)
	c.remote = make(map[int64]uint64)
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn("websocket read failed, reconnecting",
					zap.Duration("delay", reconnectDelay), zap.Error(err))
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		c.logger.Warn("websocket reconnect failed", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

// resubscribeAttempts bounds the subscribe requests sent per subscription
// after one reconnect.
const resubscribeAttempts = 3

// resubscribeAll re-issues every registered subscription after reconnect.
// A subscription that cannot be restored loses its remote ID and is retried
// on the next reconnect.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*wsSubscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subsMu.RUnlock()

	for _, s := range subs {
		newID, err := c.resubscribe(s)

		c.subsMu.Lock()
		_, live := c.subs[s.key]
		if live {
			if !s.stale {
				delete(c.remote, s.remoteID)
			}
			s.stale = err != nil
			if err == nil {
				s.remoteID = newID
				c.remote[newID] = s.key
			}
		}
		c.subsMu.Unlock()

		if err != nil && live && !errors.Is(err, ErrClientClosed) {
			observability.RecordResubscribeFailure("solana")
			c.logger.Error("resubscribe failed, subscription is stale",
				zap.String("method", s.method),
				zap.Int("attempts", resubscribeAttempts),
				zap.Error(err))
		}
	}
}

func (c *WSClientImpl) resubscribe(s *wsSubscription) (int64, error) {
	delay := c.config.ReconnectDelay
	var err error
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var id int64
		id, err = c.subscribeInternal(ctx, s.method, s.params)
		cancel()
		if err == nil {
			return id, nil
		}
		if attempt == resubscribeAttempts || errors.Is(err, ErrClientClosed) {
			return 0, err
		}

		c.logger.Warn("resubscribe attempt failed",
			zap.String("method", s.method),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-c.done:
			return 0, ErrClientClosed
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("unparseable websocket message", zap.Error(err))
		return
	}

	if msg.Method != "" {
		c.handleNotification(&msg)
		return
	}

	if msg.ID != nil {
		c.handleResponse(*msg.ID, wsResponse{result: msg.Result, err: msg.Error})
	}
}

// handleResponse delivers a response to the waiting request.
func (c *WSClientImpl) handleResponse(id uint64, resp wsResponse) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		if resp.err != nil {
			c.logger.Warn("websocket error response", zap.Int("code", resp.err.Code), zap.String("message", resp.err.Message))
		}
		return
	}

	select {
	case ch <- resp:
	default:
	}
}

// handleNotification dispatches a subscription notification to its handler.
func (c *WSClientImpl) handleNotification(msg *wsMessage) {
	if msg.Params == nil {
		return
	}
	switch msg.Method {
	case "accountNotification", "logsNotification":
	default:
		return
	}

	c.subsMu.RLock()
	key, ok := c.remote[msg.Params.Subscription]
	var s *wsSubscription
	if ok {
		s = c.subs[key]
	}
	c.subsMu.RUnlock()

	if s == nil {
		return
	}

	var slot int64
	if msg.Params.Result.Context != nil {
		slot = msg.Params.Result.Context.Slot
	}
	s.dispatch(msg.Params.Result.Value, slot)
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error; readLoop reconnects.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// wsSubscription is the handle returned to subscribers.
type wsSubscription struct {
	client      *WSClientImpl
	key         uint64
	method      string
	unsubMethod string
	params      []interface{}
	dispatch    func(raw json.RawMessage, slot int64)
	remoteID    int64 // guarded by client.subsMu
	stale       bool  // lost on reconnect; guarded by client.subsMu
}

// Unsubscribe cancels the subscription.
func (s *wsSubscription) Unsubscribe(ctx context.Context) error {
	return s.client.unsubscribe(ctx, s)
}

// Compile-time interface check.
var _ WSClient = (*WSClientImpl)(nil)

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsResponse struct {
	result json.RawMessage
	err    *rpcError
}

// wsMessage covers both responses (ID set) and notifications (Method set).
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id,omitempty"`
	Method  string                `json:"method,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *rpcError             `json:"error,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext      `json:"context"`
	Value   json.RawMessage `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}

type wsAccountValue struct {
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
}
