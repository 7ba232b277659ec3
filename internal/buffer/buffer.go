// Package buffer holds segments that are ready to be played.
package buffer

import (
	"sync"

	"github.com/rudransh-shrivastava/peer-stream/internal/store"
)

// PlaybackBuffer is a FIFO of ready segments. Callers are responsible for
// pushing in playlist order.
type PlaybackBuffer struct {
	mu    sync.Mutex
	items []*store.Segment
}

func New() *PlaybackBuffer {
	return &PlaybackBuffer{}
}

func (b *PlaybackBuffer) Push(seg *store.Segment) {
	b.mu.Lock()
	b.items = append(b.items, seg)
	b.mu.Unlock()
}

// Shift removes and returns the front segment.
func (b *PlaybackBuffer) Shift() (*store.Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	seg := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	return seg, true
}

func (b *PlaybackBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *PlaybackBuffer) IsEmpty() bool {
	return b.Size() == 0
}

func (b *PlaybackBuffer) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
