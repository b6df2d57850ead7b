package transport

import (
	"context"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/protocol"
)

// Envelope is one received exchange message with its origin.
type Envelope struct {
	From    cluster.NodeID
	Message protocol.Message
}

// ExchangeChannel carries exchange messages between members. Sends are
// fire-and-forget from the protocol's perspective; completion is
// signaled by message arrival on the remote side. The wire framing
// underneath is an external concern, only the logical contract lives
// here.
type ExchangeChannel interface {
	// Broadcast delivers the message to every other alive member.
	Broadcast(ctx context.Context, msg protocol.Message) error

	// Send delivers the message to a single member.
	Send(ctx context.Context, to cluster.NodeID, msg protocol.Message) error

	// Receive returns the channel of inbound messages. The channel is
	// closed when the endpoint is closed.
	Receive() <-chan Envelope

	Close() error
}
