// Package wa owns the messaging-platform session: the transport adapter
// that speaks to the gateway, the credential store, and the connection
// manager that keeps a single long-lived session alive.
package wa

import (
	"context"
	"encoding/json"
)

// Session is one established connection to the messaging platform. The
// platform client proper lives behind the gateway; the relay only sends
// text and observes events.
type Session interface {
	// SendText sends a plain text message to the given JID.
	SendText(ctx context.Context, to, body string) error
	// Close tears the session down. Closing does not fire the close
	// event handler.
	Close() error
}

// EventHandlers receives the session's asynchronous notifications. Handlers
// are invoked serially from the session's read loop; none may be nil once
// the session is established.
type EventHandlers struct {
	// OnConnection observes connection.update events, including the
	// close synthesized when the transport itself drops.
	OnConnection func(ConnectionUpdate)
	// OnCredentials observes creds.update events carrying the refreshed
	// opaque credential blob.
	OnCredentials func(creds json.RawMessage)
	// OnMessage observes each inbound message of a messages.upsert
	// event.
	OnMessage func(MessageEvent)
}

// Dialer establishes sessions. creds is the persisted credential blob, nil
// for a device that has never been paired.
type Dialer interface {
	Dial(ctx context.Context, creds json.RawMessage, handlers EventHandlers) (Session, error)
}
