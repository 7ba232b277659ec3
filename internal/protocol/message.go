package protocol

import "encoding/json"

type SignalType string

const (
	SignalWhoHas        SignalType = "WHO_HAS"
	SignalWhoHasReply   SignalType = "WHO_HAS_REPLY"
	SignalReportSegment SignalType = "REPORT_SEGMENT"
	SignalReportAck     SignalType = "REPORT_ACK"
	SignalPeerList      SignalType = "peer_list"
	SignalRTCOffer      SignalType = "RTC_OFFER"
	SignalRTCAnswer     SignalType = "RTC_ANSWER"
	SignalICECandidate  SignalType = "ICE_CANDIDATE"
	SignalError         SignalType = "ERROR"

	// SignalGeneric is the kind of any message whose type is not known here.
	SignalGeneric SignalType = "message"
	// SignalClosed is raised locally when the signaling connection ends.
	SignalClosed SignalType = "close"
)

const signalErrorLower = "error"

// Signal is one signaling message, inbound or outbound.
type Signal interface {
	Kind() SignalType
}

type WhoHas struct {
	StreamID  string `json:"streamId"`
	SegmentID string `json:"segmentId"`
	MovieID   string `json:"movieId,omitempty"`
	QualityID string `json:"qualityId,omitempty"`
}

func (WhoHas) Kind() SignalType { return SignalWhoHas }

type PeerMetrics struct {
	UploadSpeed *float64 `json:"uploadSpeed,omitempty"`
	Latency     *float64 `json:"latency,omitempty"`
	SuccessRate *float64 `json:"successRate,omitempty"`
}

type PeerEntry struct {
	PeerID  string      `json:"peerId"`
	Metrics PeerMetrics `json:"metrics"`
}

type WhoHasReply struct {
	StreamID  string          `json:"streamId,omitempty"`
	SegmentID string          `json:"segmentId"`
	Peers     json.RawMessage `json:"peers,omitempty"`
}

func (WhoHasReply) Kind() SignalType { return SignalWhoHasReply }

// PeerEntries decodes the reported peers. A missing or non-array value
// yields an empty list, and entries that do not decode are skipped.
func (r WhoHasReply) PeerEntries() []PeerEntry {
	var raw []json.RawMessage
	if err := json.Unmarshal(r.Peers, &raw); err != nil {
		return []PeerEntry{}
	}
	peers := make([]PeerEntry, 0, len(raw))
	for _, item := range raw {
		var p PeerEntry
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

type ReportSegment struct {
	StreamID  string  `json:"streamId"`
	SegmentID string  `json:"segmentId"`
	Source    string  `json:"source"`
	Latency   int64   `json:"latency"`
	Speed     float64 `json:"speed"`
	MovieID   string  `json:"movieId,omitempty"`
	QualityID string  `json:"qualityId,omitempty"`
}

func (ReportSegment) Kind() SignalType { return SignalReportSegment }

type ReportAck struct {
	StreamID  string `json:"streamId,omitempty"`
	SegmentID string `json:"segmentId,omitempty"`
}

func (ReportAck) Kind() SignalType { return SignalReportAck }

type PeerList struct {
	StreamID string   `json:"streamId,omitempty"`
	Peers    []string `json:"peers"`
}

func (PeerList) Kind() SignalType { return SignalPeerList }

type RTCOffer struct {
	From     string `json:"from"`
	To       string `json:"to"`
	StreamID string `json:"streamId"`
	SDP      string `json:"sdp"`
}

func (RTCOffer) Kind() SignalType { return SignalRTCOffer }

type RTCAnswer struct {
	From     string `json:"from"`
	To       string `json:"to"`
	StreamID string `json:"streamId"`
	SDP      string `json:"sdp"`
}

func (RTCAnswer) Kind() SignalType { return SignalRTCAnswer }

type ICECandidate struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	StreamID  string          `json:"streamId"`
	Candidate json.RawMessage `json:"candidate"`
}

func (ICECandidate) Kind() SignalType { return SignalICECandidate }

type ErrorNotice struct {
	Message string `json:"message,omitempty"`
}

func (ErrorNotice) Kind() SignalType { return SignalError }

// Generic carries a message with an unrecognised type, untouched.
type Generic struct {
	Type string
	Raw  json.RawMessage
}

func (Generic) Kind() SignalType { return SignalGeneric }

type Closed struct {
	Reason string
}

func (Closed) Kind() SignalType { return SignalClosed }
