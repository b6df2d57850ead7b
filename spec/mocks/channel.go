package mocks

import (
	"context"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/spec/transport"

	"github.com/stretchr/testify/mock"
)

type ExchangeChannel struct {
	mock.Mock
}

var _ transport.ExchangeChannel = (*ExchangeChannel)(nil)

func (c *ExchangeChannel) Broadcast(ctx context.Context, msg protocol.Message) error {
	args := c.Called(ctx, msg)
	return args.Error(0)
}

func (c *ExchangeChannel) Send(ctx context.Context, to cluster.NodeID, msg protocol.Message) error {
	args := c.Called(ctx, to, msg)
	return args.Error(0)
}

func (c *ExchangeChannel) Receive() <-chan transport.Envelope {
	args := c.Called()
	v := args.Get(0)
	if v == nil {
		return nil
	}
	return v.(<-chan transport.Envelope)
}

func (c *ExchangeChannel) Close() error {
	args := c.Called()
	return args.Error(0)
}
