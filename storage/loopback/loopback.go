// Package loopback is a storage engine stand-in that completes every
// move instantly: receive and shed intents are acknowledged back to
// the rebalance handler on a separate goroutine, the way a real engine
// would report asynchronously after moving bytes. It backs the dev
// cluster and the protocol integration tests.
package loopback

import (
	"context"
	"sync"

	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/storage"

	"go.uber.org/zap"
)

type Engine struct {
	logger *zap.Logger

	mu      sync.Mutex
	handler storage.RebalanceHandler
	wg      sync.WaitGroup
}

var _ storage.Engine = (*Engine)(nil)

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger,
	}
}

// Bind attaches the completion handler. Moves requested before Bind
// complete silently.
func (e *Engine) Bind(handler storage.RebalanceHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

func (e *Engine) StartReceiving(ctx context.Context, cache string, part partition.ID) error {
	e.ack(cache, part)
	return nil
}

func (e *Engine) StartShedding(ctx context.Context, cache string, part partition.ID) error {
	e.ack(cache, part)
	return nil
}

func (e *Engine) Evict(ctx context.Context, cache string, part partition.ID) error {
	e.logger.Debug("Evicted partition data",
		zap.String("cache", cache),
		zap.Uint32("partition", uint32(part)),
	)
	return nil
}

func (e *Engine) ack(cache string, part partition.ID) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		handler.OnPartitionRebalanced(cache, part)
	}()
}

// Drain blocks until every in-flight completion has been delivered.
func (e *Engine) Drain() {
	e.wg.Wait()
}
