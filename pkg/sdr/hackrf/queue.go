package hackrf

import (
	"context"
	"sync"
)

// blockQueue hands USB transfers from the libhackrf callback thread to
// ReadStream. push never blocks; when the queue is full the transfer is
// dropped and an overflow is flagged.
type blockQueue struct {
	blocks chan []byte

	mu       sync.Mutex
	overflow bool
}

func newBlockQueue(depth int) *blockQueue {
	return &blockQueue{blocks: make(chan []byte, depth)}
}

// push copies buf, which libhackrf reuses after the callback returns.
func (q *blockQueue) push(buf []byte) bool {
	data := make([]byte, len(buf))
	copy(data, buf)
	select {
	case q.blocks <- data:
		return true
	default:
		q.mu.Lock()
		q.overflow = true
		q.mu.Unlock()
		return false
	}
}

func (q *blockQueue) pop(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-q.blocks:
		return data, nil
	}
}

// takeOverflow reports and clears the overflow flag.
func (q *blockQueue) takeOverflow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ret := q.overflow
	q.overflow = false
	return ret
}
