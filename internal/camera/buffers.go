package camera

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// bufferPool tracks how many frame buffers are handed out
type bufferPool struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	seq      uint64
	ready    bool
}

func newBufferPool(capacity int) *bufferPool {
	if capacity < 1 {
		capacity = 1
	}
	return &bufferPool{capacity: capacity}
}

func (p *bufferPool) markReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
}

// take reserves a buffer and returns the next frame sequence number
func (p *bufferPool) take() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return 0, ErrNotInitialized
	}
	if p.inUse >= p.capacity {
		return 0, ErrNoBuffer
	}
	p.inUse++
	p.seq++
	return p.seq, nil
}

// give undoes a take when the capture itself failed
func (p *bufferPool) give() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse > 0 {
		p.inUse--
	}
}

// InUse returns the number of frames acquired and not yet released
func (p *bufferPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

func newFrame(seq uint64, data []byte, width, height int) *Frame {
	return &Frame{
		ID:        uuid.NewString(),
		Data:      data,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
		Seq:       seq,
	}
}
