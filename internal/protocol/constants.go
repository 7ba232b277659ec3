package protocol

import "errors"

const (
	DefaultChunkSize    = 32 * 1024
	MaxIdentifierLength = 255
	MaxChunkCount       = 0xFFFF

	frameHeaderSize = 2
	chunkFieldsSize = 4
)

type FrameType uint8

const (
	FrameChunk   FrameType = 1
	FrameDone    FrameType = 2
	FrameRequest FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameChunk:
		return "CHUNK"
	case FrameDone:
		return "DONE"
	case FrameRequest:
		return "REQUEST"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrIdentifierTooLong = errors.New("segment identifier exceeds 255 bytes")
	ErrShortFrame        = errors.New("frame is truncated")
	ErrUnknownFrame      = errors.New("unknown frame type")
	ErrTooManyChunks     = errors.New("segment needs more than 65535 chunks")

	ErrMalformedSignal = errors.New("malformed signaling message")
	ErrMissingType     = errors.New("signaling message has no type")
)
