package mocks

import (
	"context"

	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/storage"

	"github.com/stretchr/testify/mock"
)

type Engine struct {
	mock.Mock
}

var _ storage.Engine = (*Engine)(nil)

func (e *Engine) StartReceiving(ctx context.Context, cache string, part partition.ID) error {
	args := e.Called(ctx, cache, part)
	return args.Error(0)
}

func (e *Engine) StartShedding(ctx context.Context, cache string, part partition.ID) error {
	args := e.Called(ctx, cache, part)
	return args.Error(0)
}

func (e *Engine) Evict(ctx context.Context, cache string, part partition.ID) error {
	args := e.Called(ctx, cache, part)
	return args.Error(0)
}
