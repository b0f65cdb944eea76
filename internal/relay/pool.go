package relay

import "sync"

// bufferPool hands out fixed-size byte slices.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *bufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b *[]byte) {
	p.pool.Put(b)
}

var (
	recvBuffers = newBufferPool(RecvSize)
	sendBuffers = newBufferPool(sendBufferSize)
)
