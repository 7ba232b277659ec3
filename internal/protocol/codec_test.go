package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestCodecEncodeWhoHas(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&WhoHas{StreamID: "m1_720p", SegmentID: "seg_001"})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, data)
	}
	if got["type"] != "WHO_HAS" {
		t.Errorf("expected type WHO_HAS, got %v", got["type"])
	}
	if got["streamId"] != "m1_720p" || got["segmentId"] != "seg_001" {
		t.Errorf("unexpected body %v", got)
	}
	if _, ok := got["movieId"]; ok {
		t.Errorf("movieId should be omitted when empty")
	}
}

func TestCodecEncodeEmptyObject(t *testing.T) {
	data, err := NewCodec().EncodeToBytes(ErrorNotice{})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	if string(data) != `{"type":"ERROR"}` {
		t.Errorf("unexpected encoding %s", data)
	}
}

func TestCodecRoundTripRTC(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	offer := &RTCOffer{From: "viewer-a", To: "viewer-b", StreamID: "s", SDP: "v=0"}
	if err := codec.Encode(&buf, offer); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got, ok := decoded.(*RTCOffer)
	if !ok {
		t.Fatalf("expected *RTCOffer, got %T", decoded)
	}
	if *got != *offer {
		t.Errorf("expected %+v, got %+v", offer, got)
	}
}

func TestCodecDecodeKinds(t *testing.T) {
	tests := []struct {
		raw  string
		want SignalType
	}{
		{`{"type":"WHO_HAS_REPLY","segmentId":"s1","peers":[]}`, SignalWhoHasReply},
		{`{"type":"REPORT_ACK","segmentId":"s1"}`, SignalReportAck},
		{`{"type":"peer_list","peers":["a","b"]}`, SignalPeerList},
		{`{"type":"RTC_ANSWER","from":"a","to":"b","sdp":"x"}`, SignalRTCAnswer},
		{`{"type":"ICE_CANDIDATE","from":"a","candidate":{"candidate":"c"}}`, SignalICECandidate},
		{`{"type":"ERROR","message":"boom"}`, SignalError},
		{`{"type":"error","message":"boom"}`, SignalError},
		{`{"type":"STATS","foo":1}`, SignalGeneric},
	}

	codec := NewCodec()
	for _, tt := range tests {
		msg, err := codec.DecodeFromBytes([]byte(tt.raw))
		if err != nil {
			t.Fatalf("DecodeFromBytes(%s) failed: %v", tt.raw, err)
		}
		if msg.Kind() != tt.want {
			t.Errorf("%s: expected kind %s, got %s", tt.raw, tt.want, msg.Kind())
		}
	}
}

func TestCodecGenericPassthrough(t *testing.T) {
	codec := NewCodec()
	raw := `{"type":"STATS","viewers":4}`

	msg, err := codec.DecodeFromBytes([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}
	generic, ok := msg.(*Generic)
	if !ok {
		t.Fatalf("expected *Generic, got %T", msg)
	}
	if generic.Type != "STATS" {
		t.Errorf("expected STATS, got %s", generic.Type)
	}

	out, err := codec.EncodeToBytes(generic)
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	if string(out) != raw {
		t.Errorf("expected %s, got %s", raw, out)
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	codec := NewCodec()

	if _, err := codec.DecodeFromBytes([]byte("not json")); !errors.Is(err, ErrMalformedSignal) {
		t.Errorf("expected ErrMalformedSignal, got %v", err)
	}
	if _, err := codec.DecodeFromBytes([]byte(`{"segmentId":"s1"}`)); !errors.Is(err, ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
	if _, err := codec.DecodeFromBytes([]byte(`{"type":"peer_list","peers":"nope"}`)); !errors.Is(err, ErrMalformedSignal) {
		t.Errorf("expected ErrMalformedSignal, got %v", err)
	}
	if _, err := codec.EncodeToBytes(Closed{}); err == nil {
		t.Errorf("expected close to be rejected")
	}
}

func TestWhoHasReplyPeerEntries(t *testing.T) {
	tests := []struct {
		name  string
		peers string
		want  int
	}{
		{"absent", ``, 0},
		{"not an array", `"oops"`, 0},
		{"null", `null`, 0},
		{"valid", `[{"peerId":"a","metrics":{"uploadSpeed":3}},{"peerId":"b"}]`, 2},
		{"skips bad entry", `[{"peerId":"a"},42]`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := WhoHasReply{SegmentID: "s1", Peers: json.RawMessage(tt.peers)}
			got := reply.PeerEntries()
			if got == nil {
				t.Fatalf("expected non-nil slice")
			}
			if len(got) != tt.want {
				t.Errorf("expected %d peers, got %d", tt.want, len(got))
			}
		})
	}

	reply := WhoHasReply{Peers: json.RawMessage(`[{"peerId":"a","metrics":{"uploadSpeed":3,"latency":40}}]`)}
	peer := reply.PeerEntries()[0]
	if peer.Metrics.UploadSpeed == nil || *peer.Metrics.UploadSpeed != 3 {
		t.Errorf("expected upload speed 3, got %v", peer.Metrics.UploadSpeed)
	}
	if peer.Metrics.SuccessRate != nil {
		t.Errorf("expected missing success rate to stay nil")
	}
}
