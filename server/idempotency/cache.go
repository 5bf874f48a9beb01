// Package idempotency caches API responses keyed by a client-supplied
// idempotency header, so retried mutations replay the original outcome
// instead of executing twice.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Response is a captured API response, replayed verbatim on a key hit.
type Response struct {
	StatusCode int                 `json:"status_code"`
	Body       []byte              `json:"body"`
	Headers    map[string][]string `json:"headers"`
}

// Cache stores responses for later replay. Writes are best-effort: a lost
// entry only means a retry re-executes the handler.
type Cache interface {
	Get(ctx context.Context, key string) (Response, bool)
	Set(ctx context.Context, key string, resp Response)
}

const ttl = 1 * time.Hour

// Memory is a process-local Cache. Entries expire lazily on read.
type Memory struct {
	cache sync.Map
}

type entry struct {
	resp      Response
	timestamp time.Time
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context, key string) (Response, bool) {
	val, ok := m.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.timestamp) > ttl {
		m.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

func (m *Memory) Set(_ context.Context, key string, resp Response) {
	m.cache.Store(key, entry{
		resp:      resp,
		timestamp: time.Now(),
	})
}
