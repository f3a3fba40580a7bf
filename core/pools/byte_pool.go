package pools

import "sync"

// BytePool is a multi-tiered byte slice pool for the server's fixed
// buffer sizes (read and write buffers of live connections).
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// NewBytePool creates a byte pool with the given size tiers, smallest
// first.
func NewBytePool(sizes ...int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}
	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a byte slice of exactly the requested size, pooled when a
// tier matches.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a byte slice to its tier. Foreign sizes are left to the
// garbage collector.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}
