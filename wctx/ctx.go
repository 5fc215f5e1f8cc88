// index for context values
package wctx

import (
	"context"
	"sync/atomic"
)

type key int

const (
	collectionKey key = 1
	indexKey      key = 2
	requestIDKey  key = 3
	versionKey    key = 4
	counterKey    key = 5
	hostKey       key = 6
)

func WithCollection(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, collectionKey, name)
}

func Collection(ctx context.Context) string {
	name, _ := ctx.Value(collectionKey).(string)
	return name
}

func WithIndex(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, indexKey, name)
}

func Index(ctx context.Context) string {
	name, _ := ctx.Value(indexKey).(string)
	return name
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithVersion(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, versionKey, v)
}

func Version(ctx context.Context) string {
	v, _ := ctx.Value(versionKey).(string)
	return v
}

func WithHost(ctx context.Context, h string) context.Context {
	return context.WithValue(ctx, hostKey, h)
}

func Host(ctx context.Context) string {
	h, _ := ctx.Value(hostKey).(string)
	return h
}

// Used to count records written across concurrent requests
func WithCounter(ctx context.Context, c *uint64) context.Context {
	return context.WithValue(ctx, counterKey, c)
}

func CounterAdd(ctx context.Context, n uint64) uint64 {
	cptr, ok := ctx.Value(counterKey).(*uint64)
	if !ok {
		return 0
	}
	return atomic.AddUint64(cptr, n)
}

func Counter(ctx context.Context) uint64 {
	cptr, ok := ctx.Value(counterKey).(*uint64)
	if !ok {
		return 0
	}
	return atomic.LoadUint64(cptr)
}
