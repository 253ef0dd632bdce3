package clog

import (
	"context"
	"sync"
)

// requestAttrs is the mutable attribute bag the request middleware plants in
// the context. Handlers and the error layer add to it as the request
// progresses; the logging handlers read it when a record is emitted.
type requestAttrs struct {
	mu   sync.RWMutex
	vals map[string]any
}

type requestAttrsKey struct{}

// ContextWithSlog attaches a fresh attribute bag to ctx. Without it the Add
// functions are no-ops, so plain background contexts stay safe to log with.
func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestAttrsKey{}, &requestAttrs{
		vals: make(map[string]any),
	})
}

func fromContext(ctx context.Context) (*requestAttrs, bool) {
	bag, ok := ctx.Value(requestAttrsKey{}).(*requestAttrs)
	return bag, ok
}

func AddAttribute(ctx context.Context, key string, value any) {
	bag, ok := fromContext(ctx)
	if !ok {
		return
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	bag.vals[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	bag, ok := fromContext(ctx)
	if !ok {
		return
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	for k, v := range attributes {
		bag.vals[k] = v
	}
}

// GetAttributes returns a copy of the bag, or nil when the context carries
// none. The copy keeps handlers from racing later additions.
func GetAttributes(ctx context.Context) map[string]any {
	bag, ok := fromContext(ctx)
	if !ok {
		return nil
	}
	bag.mu.RLock()
	defer bag.mu.RUnlock()
	copied := make(map[string]any, len(bag.vals))
	for k, v := range bag.vals {
		copied[k] = v
	}
	return copied
}

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

// AddError records the request's failure for the access log line.
func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

// AddStack records the captured stack trace alongside the error.
func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}
