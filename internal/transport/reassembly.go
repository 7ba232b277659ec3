package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
)

var ErrChunkIndexOutOfRange = errors.New("chunk index out of range")

type partial struct {
	total  int
	slots  [][]byte
	filled int
}

// Reassembler collects CHUNK frames from one channel into whole segments.
type Reassembler struct {
	mu       sync.Mutex
	segments map[string]*partial
}

func NewReassembler() *Reassembler {
	return &Reassembler{segments: make(map[string]*partial)}
}

// Accept stores one CHUNK frame. It returns the segment bytes and true once
// every slot is filled, after which the state for that segment is dropped.
// Repeated chunks are ignored. A chunk announcing a different total starts
// the segment over.
func (r *Reassembler) Accept(f protocol.Frame) ([]byte, bool, error) {
	if f.Type != protocol.FrameChunk {
		return nil, false, fmt.Errorf("%w: %s is not a chunk", protocol.ErrUnknownFrame, f.Type)
	}
	total := int(f.Total)
	index := int(f.Index)
	if index >= total {
		return nil, false, fmt.Errorf("%w: %d of %d for %s", ErrChunkIndexOutOfRange, index, total, f.SegmentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.segments[f.SegmentID]
	if !ok || p.total != total {
		p = &partial{total: total, slots: make([][]byte, total)}
		r.segments[f.SegmentID] = p
	}

	if p.slots[index] == nil {
		p.slots[index] = append(make([]byte, 0, len(f.Payload)), f.Payload...)
		p.filled++
	}
	if p.filled < p.total {
		return nil, false, nil
	}

	delete(r.segments, f.SegmentID)
	size := 0
	for _, s := range p.slots {
		size += len(s)
	}
	data := make([]byte, 0, size)
	for _, s := range p.slots {
		data = append(data, s...)
	}
	return data, true, nil
}

// Pending reports how many segments are partially received.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments)
}

// Reset drops all partial state, used when the channel closes.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.segments)
}
