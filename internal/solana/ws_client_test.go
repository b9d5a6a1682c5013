package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeNode is a minimal Solana pubsub endpoint. Subscribe requests are
// confirmed with incrementing IDs starting at 100 and unsubscribe requests
// are acknowledged with true.
type fakeNode struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   int64
	methods  []string
	unsubbed []int64
	reject   int // subscribe requests still to answer with an error
	ready    chan int64
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{t: t, nextID: 100, ready: make(chan int64, 16)}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.t.Errorf("upgrade: %v", err)
		return
	}
	defer c.Close()

	n.mu.Lock()
	n.conn = c
	n.mu.Unlock()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req struct {
			ID     uint64        `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		if err := json.Unmarshal(msg, &req); err != nil {
			n.t.Errorf("unmarshal request: %v", err)
			return
		}

		n.mu.Lock()
		n.methods = append(n.methods, req.Method)
		var result interface{}
		switch {
		case strings.HasSuffix(req.Method, "Unsubscribe"):
			n.unsubbed = append(n.unsubbed, int64(req.Params[0].(float64)))
			result = true
		case n.reject > 0:
			n.reject--
		default:
			result = n.nextID
			n.nextID++
		}
		if result == nil {
			err = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32005, "message": "node is behind"}})
		} else {
			err = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}
		n.mu.Unlock()
		if err != nil {
			return
		}
		if id, ok := result.(int64); ok {
			n.ready <- id
		}
	}
}

func (n *fakeNode) notify(method string, subID int64, slot int64, value interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value":   value,
			},
		},
	})
	if err != nil {
		n.t.Errorf("write notification: %v", err)
	}
}

// drop closes the current connection, forcing the client to reconnect.
// The next reject subscribe requests fail.
func (n *fakeNode) drop(reject int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reject = reject
	_ = n.conn.Close()
}

func (n *fakeNode) subscribeRequests() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, m := range n.methods {
		if strings.HasSuffix(m, "Subscribe") {
			count++
		}
	}
	return count
}

func (n *fakeNode) awaitSubscription() int64 {
	select {
	case id := <-n.ready:
		// Let the client register the handler before notifying.
		time.Sleep(20 * time.Millisecond)
		return id
	case <-time.After(2 * time.Second):
		n.t.Fatal("timeout waiting for subscribe request")
		return 0
	}
}

func TestWSClient_Connect(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	client, err := NewWSClient(context.Background(), node.url(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeAccount(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, node.url(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	got := make(chan AccountNotification, 1)
	go func() {
		id := node.awaitSubscription()
		node.notify("accountNotification", id, 250, map[string]interface{}{
			"lamports": 42,
			"owner":    "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
			"data":     []string{"", "base64"},
		})
	}()

	_, err = client.SubscribeAccount(ctx, "VenueAccount", func(n AccountNotification) {
		got <- n
	})
	if err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}

	select {
	case n := <-got:
		if n.Pubkey != "VenueAccount" {
			t.Errorf("expected pubkey VenueAccount, got %s", n.Pubkey)
		}
		if n.Slot != 250 {
			t.Errorf("expected slot 250, got %d", n.Slot)
		}
		if n.Lamports != 42 {
			t.Errorf("expected 42 lamports, got %d", n.Lamports)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, node.url(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	got := make(chan LogNotification, 1)
	go func() {
		id := node.awaitSubscription()
		node.notify("logsNotification", id, 100, map[string]interface{}{
			"signature": "testsig",
			"logs":      []string{"Program log: Test"},
			"err":       nil,
		})
	}()

	_, err = client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"mint"}}, func(n LogNotification) {
		got <- n
	})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case n := <-got:
		if n.Signature != "testsig" {
			t.Errorf("expected testsig, got %s", n.Signature)
		}
		if len(n.Logs) != 1 {
			t.Errorf("expected 1 log, got %d", len(n.Logs))
		}
		if n.Slot != 100 {
			t.Errorf("expected slot 100, got %d", n.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, node.url(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	delivered := 0
	sub, err := client.SubscribeAccount(ctx, "VenueAccount", func(AccountNotification) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}
	subID := <-node.ready

	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	node.mu.Lock()
	unsubbed := append([]int64(nil), node.unsubbed...)
	methods := append([]string(nil), node.methods...)
	node.mu.Unlock()

	if len(unsubbed) != 1 || unsubbed[0] != subID {
		t.Errorf("expected unsubscribe of %d, got %v", subID, unsubbed)
	}
	if methods[len(methods)-1] != "accountUnsubscribe" {
		t.Errorf("expected accountUnsubscribe, got %s", methods[len(methods)-1])
	}

	// Notifications after unsubscribe are not dispatched.
	node.notify("accountNotification", subID, 1, map[string]interface{}{"lamports": 1})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", delivered)
	}

	// Second unsubscribe is a no-op.
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
}

func TestWSClient_Close(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	client, err := NewWSClient(context.Background(), node.url(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, node.url(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	client.Close()

	_, err = client.SubscribeLogs(ctx, LogsFilter{}, func(LogNotification) {})
	if err == nil {
		t.Error("expected error subscribing after close")
	}
	_, err = client.SubscribeAccount(ctx, "acc", func(AccountNotification) {})
	if err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestWSClient_CustomConfig(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	client, err := NewWSClient(context.Background(), node.url(), config)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.config.PingInterval)
	}
	if client.config.RequestTimeout != 30*time.Second {
		t.Errorf("expected default RequestTimeout 30s, got %v", client.config.RequestTimeout)
	}
}

func fastReconnect() *WSClientConfig {
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 40 * time.Millisecond
	cfg.RequestTimeout = time.Second
	return &cfg
}

func TestWSClient_ResubscribeRetriesAfterReject(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, node.url(), fastReconnect())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	got := make(chan AccountNotification, 1)
	if _, err := client.SubscribeAccount(ctx, "VenueAccount", func(n AccountNotification) {
		got <- n
	}); err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}
	if id := <-node.ready; id != 100 {
		t.Fatalf("expected first id 100, got %d", id)
	}

	node.drop(1)
	id := node.awaitSubscription()
	if id != 101 {
		t.Fatalf("expected resubscribe id 101, got %d", id)
	}
	if n := node.subscribeRequests(); n != 3 {
		t.Errorf("expected 3 subscribe requests, got %d", n)
	}

	node.notify("accountNotification", id, 300, map[string]interface{}{"lamports": 7})
	select {
	case n := <-got:
		if n.Slot != 300 {
			t.Errorf("expected slot 300, got %d", n.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification on resubscribed id")
	}
}

func TestWSClient_ResubscribeExhaustedMarksStale(t *testing.T) {
	node := newFakeNode(t)
	defer node.server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, node.url(), fastReconnect())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeAccount(ctx, "VenueAccount", func(AccountNotification) {})
	if err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}
	<-node.ready

	node.drop(resubscribeAttempts)

	deadline := time.Now().Add(2 * time.Second)
	for node.subscribeRequests() < 1+resubscribeAttempts {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d resubscribe attempts, saw %d", resubscribeAttempts, node.subscribeRequests()-1)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var stale bool
	for time.Now().Before(deadline) {
		client.subsMu.RLock()
		stale = sub.(*wsSubscription).stale && len(client.remote) == 0
		client.subsMu.RUnlock()
		if stale {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !stale {
		t.Fatal("expected subscription marked stale with no remote mapping")
	}

	// The server no longer holds it, so no unsubscribe request is sent.
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	node.mu.Lock()
	unsubbed := len(node.unsubbed)
	node.mu.Unlock()
	if unsubbed != 0 {
		t.Errorf("expected no unsubscribe requests, got %d", unsubbed)
	}
}
