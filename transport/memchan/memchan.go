// Package memchan is a process-local exchange channel: every endpoint
// delivers through in-memory buffers, but messages still round-trip
// the wire codec so the logical contract is exercised end to end. It
// backs the multi-node tests and the single-process dev cluster.
package memchan

import (
	"context"
	"fmt"
	"sync"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/spec/transport"

	"go.uber.org/zap"
)

const inboxDepth = 256

type Cluster struct {
	logger *zap.Logger

	mu        sync.RWMutex
	endpoints map[cluster.NodeID]*Endpoint
}

func NewCluster(logger *zap.Logger) *Cluster {
	return &Cluster{
		logger:    logger,
		endpoints: make(map[cluster.NodeID]*Endpoint),
	}
}

// Join attaches a new endpoint for the node.
func (c *Cluster) Join(id cluster.NodeID) *Endpoint {
	ep := &Endpoint{
		cluster: c,
		self:    id,
		inbox:   make(chan transport.Envelope, inboxDepth),
	}
	c.mu.Lock()
	c.endpoints[id] = ep
	c.mu.Unlock()
	return ep
}

// Drop detaches a node's endpoint, simulating its death: subsequent
// sends to it fail and its inbox closes.
func (c *Cluster) Drop(id cluster.NodeID) {
	c.mu.Lock()
	ep, ok := c.endpoints[id]
	if ok {
		delete(c.endpoints, id)
	}
	c.mu.Unlock()
	if ok {
		ep.shutdown()
	}
}

func (c *Cluster) deliver(from, to cluster.NodeID, msg protocol.Message) error {
	// round-trip the codec so tests cover exactly what the wire would
	// carry
	encoded, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(encoded)
	if err != nil {
		return err
	}

	c.mu.RLock()
	ep, ok := c.endpoints[to]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: node %d", cluster.ErrPeerUnreachable, to)
	}

	ep.closeMu.RLock()
	defer ep.closeMu.RUnlock()
	if ep.closed {
		return fmt.Errorf("%w: node %d", cluster.ErrPeerUnreachable, to)
	}
	select {
	case ep.inbox <- transport.Envelope{From: from, Message: decoded}:
		return nil
	default:
		c.logger.Warn("Inbox full, dropping message",
			zap.Uint64("from", uint64(from)),
			zap.Uint64("to", uint64(to)),
			zap.String("tag", decoded.Tag().String()),
		)
		return fmt.Errorf("%w: node %d inbox full", cluster.ErrPeerUnreachable, to)
	}
}

type Endpoint struct {
	cluster *Cluster
	self    cluster.NodeID

	closeMu sync.RWMutex
	closed  bool
	inbox   chan transport.Envelope
}

var _ transport.ExchangeChannel = (*Endpoint)(nil)

func (e *Endpoint) Broadcast(ctx context.Context, msg protocol.Message) error {
	e.cluster.mu.RLock()
	peers := make([]cluster.NodeID, 0, len(e.cluster.endpoints))
	for id := range e.cluster.endpoints {
		if id != e.self {
			peers = append(peers, id)
		}
	}
	e.cluster.mu.RUnlock()

	var firstErr error
	for _, peer := range peers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.cluster.deliver(e.self, peer, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Endpoint) Send(ctx context.Context, to cluster.NodeID, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.cluster.deliver(e.self, to, msg)
}

func (e *Endpoint) Receive() <-chan transport.Envelope {
	return e.inbox
}

func (e *Endpoint) Close() error {
	e.cluster.Drop(e.self)
	return nil
}

func (e *Endpoint) shutdown() {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.inbox)
}
