package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Codec converts signaling messages to and from their JSON wire form,
// where the variant is selected by the "type" field.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Signal) error {
	data, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *Codec) Decode(r io.Reader) (Signal, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.DecodeFromBytes(data)
}

func (c *Codec) EncodeToBytes(msg Signal) ([]byte, error) {
	switch m := msg.(type) {
	case *Generic:
		return m.Raw, nil
	case Generic:
		return m.Raw, nil
	case Closed, *Closed:
		return nil, fmt.Errorf("%w: close is not a wire message", ErrMalformedSignal)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return withType(msg.Kind(), body)
}

// withType prepends the type tag to an encoded JSON object.
func withType(kind SignalType, body []byte) ([]byte, error) {
	tag, err := json.Marshal(string(kind))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedSignal, kind)
	}

	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	inner := bytes.TrimSpace(body[1 : len(body)-1])
	if len(inner) > 0 {
		out = append(out, ',')
		out = append(out, inner...)
	}
	return append(out, '}'), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Signal, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	if envelope.Type == "" {
		return nil, ErrMissingType
	}

	var msg Signal
	switch SignalType(envelope.Type) {
	case SignalWhoHas:
		msg = &WhoHas{}
	case SignalWhoHasReply:
		msg = &WhoHasReply{}
	case SignalReportSegment:
		msg = &ReportSegment{}
	case SignalReportAck:
		msg = &ReportAck{}
	case SignalPeerList:
		msg = &PeerList{}
	case SignalRTCOffer:
		msg = &RTCOffer{}
	case SignalRTCAnswer:
		msg = &RTCAnswer{}
	case SignalICECandidate:
		msg = &ICECandidate{}
	case SignalError, signalErrorLower:
		msg = &ErrorNotice{}
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &Generic{Type: envelope.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSignal, envelope.Type, err)
	}
	return msg, nil
}
