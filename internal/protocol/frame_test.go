package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestChunkFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	data, err := EncodeChunk("seg_001", 2, 5, payload)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if frame.Type != FrameChunk {
		t.Errorf("expected %s, got %s", FrameChunk, frame.Type)
	}
	if frame.SegmentID != "seg_001" {
		t.Errorf("expected seg_001, got %s", frame.SegmentID)
	}
	if frame.Index != 2 || frame.Total != 5 {
		t.Errorf("expected index 2 total 5, got %d/%d", frame.Index, frame.Total)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload mismatch: %v", frame.Payload)
	}
}

func TestChunkFrameLayout(t *testing.T) {
	data, err := EncodeChunk("ab", 0x0102, 0x0304, []byte{0xff})
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}
	want := []byte{1, 2, 'a', 'b', 0x01, 0x02, 0x03, 0x04, 0xff}
	if !bytes.Equal(data, want) {
		t.Errorf("expected %v, got %v", want, data)
	}
}

func TestDoneAndRequestFrames(t *testing.T) {
	tests := []struct {
		name   string
		encode func(string) ([]byte, error)
		want   FrameType
	}{
		{"done", EncodeDone, FrameDone},
		{"request", EncodeRequest, FrameRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.encode("seg_042")
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if len(data) != 2+len("seg_042") {
				t.Errorf("expected %d bytes, got %d", 2+len("seg_042"), len(data))
			}
			frame, err := DecodeFrame(data)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if frame.Type != tt.want || frame.SegmentID != "seg_042" {
				t.Errorf("unexpected frame %+v", frame)
			}
		})
	}
}

func TestIdentifierLength(t *testing.T) {
	if _, err := EncodeRequest(strings.Repeat("x", 255)); err != nil {
		t.Errorf("255 byte identifier should encode, got %v", err)
	}

	long := strings.Repeat("x", 256)
	if _, err := EncodeChunk(long, 0, 1, nil); !errors.Is(err, ErrIdentifierTooLong) {
		t.Errorf("expected ErrIdentifierTooLong for chunk, got %v", err)
	}
	if _, err := EncodeDone(long); !errors.Is(err, ErrIdentifierTooLong) {
		t.Errorf("expected ErrIdentifierTooLong for done, got %v", err)
	}
	if _, err := EncodeRequest(long); !errors.Is(err, ErrIdentifierTooLong) {
		t.Errorf("expected ErrIdentifierTooLong for request, got %v", err)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortFrame},
		{"type only", []byte{1}, ErrShortFrame},
		{"identifier cut", []byte{3, 5, 'a', 'b'}, ErrShortFrame},
		{"chunk fields cut", []byte{1, 1, 'a', 0, 1}, ErrShortFrame},
		{"unknown type", []byte{9, 1, 'a'}, ErrUnknownFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFrameMarshalBinary(t *testing.T) {
	f := Frame{Type: FrameChunk, SegmentID: "s1", Index: 1, Total: 2, Payload: []byte("hi")}
	data, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	decoded, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.Index != 1 || decoded.Total != 2 || string(decoded.Payload) != "hi" {
		t.Errorf("unexpected frame %+v", decoded)
	}

	if _, err := (Frame{Type: 7}).MarshalBinary(); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("expected ErrUnknownFrame, got %v", err)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size, chunkSize, want int
	}{
		{0, 4, 1},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{DefaultChunkSize * 3, 0, 3},
	}
	for _, tt := range tests {
		got, err := ChunkCount(tt.size, tt.chunkSize)
		if err != nil {
			t.Fatalf("ChunkCount(%d, %d) failed: %v", tt.size, tt.chunkSize, err)
		}
		if got != tt.want {
			t.Errorf("ChunkCount(%d, %d): expected %d, got %d", tt.size, tt.chunkSize, tt.want, got)
		}
	}

	if _, err := ChunkCount(MaxChunkCount+1, 1); !errors.Is(err, ErrTooManyChunks) {
		t.Errorf("expected ErrTooManyChunks, got %v", err)
	}
}

func TestFrameTypeString(t *testing.T) {
	if FrameRequest.String() != "REQUEST" {
		t.Errorf("expected REQUEST, got %s", FrameRequest.String())
	}
	if FrameType(42).String() != "UNKNOWN" {
		t.Errorf("expected UNKNOWN, got %s", FrameType(42).String())
	}
}
