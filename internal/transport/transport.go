// Package transport moves segments between peers as chunk frames over
// message channels.
package transport

import (
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
)

var ErrChannelClosed = errors.New("channel is not open")

// Channel is an ordered message channel to one peer.
type Channel interface {
	PeerID() string
	Send(data []byte) error
	IsOpen() bool
}

// SegmentEvent is a segment fully reassembled from a peer.
type SegmentEvent struct {
	PeerID    string
	SegmentID string
	Data      []byte
}

// RequestEvent is a peer asking us for a segment.
type RequestEvent struct {
	PeerID    string
	SegmentID string
	Channel   Channel
}

// SendSegment writes data as CHUNK frames followed by DONE. It stops at the
// first failed send.
func SendSegment(ch Channel, segmentID string, data []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultChunkSize
	}
	if !ch.IsOpen() {
		return ErrChannelClosed
	}

	total, err := protocol.ChunkCount(len(data), chunkSize)
	if err != nil {
		return err
	}

	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(data))
		if start > end {
			start = end
		}

		frame, err := protocol.EncodeChunk(segmentID, uint16(i), uint16(total), data[start:end])
		if err != nil {
			return err
		}
		if err := ch.Send(frame); err != nil {
			return fmt.Errorf("sending chunk %d/%d of %s: %w", i+1, total, segmentID, err)
		}
	}

	done, err := protocol.EncodeDone(segmentID)
	if err != nil {
		return err
	}
	if err := ch.Send(done); err != nil {
		return fmt.Errorf("sending done for %s: %w", segmentID, err)
	}
	return nil
}

// RequestSegment sends a REQUEST frame to every open channel and returns
// how many accepted it.
func RequestSegment(channels []Channel, segmentID string) (int, error) {
	frame, err := protocol.EncodeRequest(segmentID)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ch := range channels {
		if !ch.IsOpen() {
			continue
		}
		if err := ch.Send(frame); err != nil {
			continue
		}
		sent++
	}
	return sent, nil
}
