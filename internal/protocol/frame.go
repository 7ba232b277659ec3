package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame is one decoded data channel message. Index, Total and Payload are
// only meaningful for CHUNK frames.
type Frame struct {
	Type      FrameType
	SegmentID string
	Index     uint16
	Total     uint16
	Payload   []byte
}

func EncodeChunk(segmentID string, index, total uint16, payload []byte) ([]byte, error) {
	buf, err := appendHeader(FrameChunk, segmentID, chunkFieldsSize+len(payload))
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, index)
	buf = binary.BigEndian.AppendUint16(buf, total)
	return append(buf, payload...), nil
}

func EncodeDone(segmentID string) ([]byte, error) {
	return appendHeader(FrameDone, segmentID, 0)
}

func EncodeRequest(segmentID string) ([]byte, error) {
	return appendHeader(FrameRequest, segmentID, 0)
}

// MarshalBinary encodes f according to its type.
func (f Frame) MarshalBinary() ([]byte, error) {
	switch f.Type {
	case FrameChunk:
		return EncodeChunk(f.SegmentID, f.Index, f.Total, f.Payload)
	case FrameDone:
		return EncodeDone(f.SegmentID)
	case FrameRequest:
		return EncodeRequest(f.SegmentID)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, f.Type)
	}
}

func appendHeader(t FrameType, segmentID string, extra int) ([]byte, error) {
	if len(segmentID) > MaxIdentifierLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrIdentifierTooLong, len(segmentID))
	}
	buf := make([]byte, 0, frameHeaderSize+len(segmentID)+extra)
	buf = append(buf, byte(t), byte(len(segmentID)))
	return append(buf, segmentID...), nil
}

// DecodeFrame parses a frame without validating index against total. The
// returned payload aliases data.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, ErrShortFrame
	}
	idLen := int(data[1])
	if len(data) < frameHeaderSize+idLen {
		return Frame{}, fmt.Errorf("%w: identifier wants %d bytes", ErrShortFrame, idLen)
	}

	f := Frame{
		Type:      FrameType(data[0]),
		SegmentID: string(data[frameHeaderSize : frameHeaderSize+idLen]),
	}
	rest := data[frameHeaderSize+idLen:]

	switch f.Type {
	case FrameChunk:
		if len(rest) < chunkFieldsSize {
			return Frame{}, fmt.Errorf("%w: chunk fields missing", ErrShortFrame)
		}
		f.Index = binary.BigEndian.Uint16(rest[0:2])
		f.Total = binary.BigEndian.Uint16(rest[2:4])
		f.Payload = rest[chunkFieldsSize:]
	case FrameDone, FrameRequest:
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownFrame, data[0])
	}

	return f, nil
}

// ChunkCount returns how many CHUNK frames a payload of size bytes needs.
// An empty payload still takes one frame so the receiver can complete it.
func ChunkCount(size, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if size <= 0 {
		return 1, nil
	}
	n := (size + chunkSize - 1) / chunkSize
	if n > MaxChunkCount {
		return 0, fmt.Errorf("%w: %d", ErrTooManyChunks, n)
	}
	return n, nil
}
