package pools

import (
	"sync"
	"sync/atomic"
)

// Poolable is implemented by connection entries so the pool can scrub
// them between uses.
type Poolable interface {
	Reset()
}

// ConnectionPool recycles connection entries behind the descriptor
// table, so a busy accept loop does not allocate per connection.
type ConnectionPool struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
}

// NewConnectionPool creates a pool producing entries with newFunc.
func NewConnectionPool(newFunc func() any) *ConnectionPool {
	cp := &ConnectionPool{}
	cp.pool.New = newFunc
	return cp
}

// Get retrieves an entry from the pool.
func (cp *ConnectionPool) Get() any {
	cp.gets.Add(1)
	return cp.pool.Get()
}

// Put scrubs and returns an entry to the pool.
func (cp *ConnectionPool) Put(obj any) {
	if p, ok := obj.(Poolable); ok {
		p.Reset()
	}
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// Stats returns get/put counters.
func (cp *ConnectionPool) Stats() (gets, puts uint64) {
	return cp.gets.Load(), cp.puts.Load()
}
