package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
//
// Handlers are invoked on the client's read goroutine and must not block.
type WSClient interface {
	// SubscribeAccount subscribes to changes of a single account.
	SubscribeAccount(ctx context.Context, pubkey string, handler func(AccountNotification)) (Subscription, error)

	// SubscribeLogs subscribes to transaction logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter, handler func(LogNotification)) (Subscription, error)

	// Close closes the WebSocket connection.
	Close() error
}

// Subscription is a handle to an active subscription. It survives reconnects.
type Subscription interface {
	// Unsubscribe cancels the subscription. The handler is detached even if
	// the remote unsubscribe fails.
	Unsubscribe(ctx context.Context) error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these accounts.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}

// AccountNotification represents an account change. It carries no
// transaction reference.
type AccountNotification struct {
	Pubkey   string
	Slot     int64
	Lamports uint64
	Owner    string
}
