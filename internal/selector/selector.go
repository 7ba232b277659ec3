// Package selector ranks peers that reported holding a segment.
package selector

import (
	"sort"

	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
)

const (
	defaultUploadSpeed = 0
	defaultLatency     = 999
	defaultReliability = 0.5
)

type Weights struct {
	Speed       float64
	Latency     float64
	Reliability float64
}

func DefaultWeights() Weights {
	return Weights{Speed: 0.6, Latency: 0.002, Reliability: 0.4}
}

type Candidate struct {
	PeerID      string
	UploadSpeed float64
	Latency     float64
	Reliability float64
	Score       float64
}

// Score rates a peer. Missing metrics fall back to no upload, a heavy
// latency penalty and neutral reliability.
func Score(m protocol.PeerMetrics, w Weights) float64 {
	c := candidate("", m, w)
	return c.Score
}

func candidate(peerID string, m protocol.PeerMetrics, w Weights) Candidate {
	c := Candidate{
		PeerID:      peerID,
		UploadSpeed: valueOr(m.UploadSpeed, defaultUploadSpeed),
		Latency:     valueOr(m.Latency, defaultLatency),
		Reliability: valueOr(m.SuccessRate, defaultReliability),
	}
	c.Score = w.Speed*c.UploadSpeed - w.Latency*c.Latency + w.Reliability*c.Reliability
	return c
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Rank scores peers and orders them best first. Equal scores keep their
// reported order.
func Rank(peers []protocol.PeerEntry, w Weights) []Candidate {
	ranked := make([]Candidate, 0, len(peers))
	for _, p := range peers {
		ranked = append(ranked, candidate(p.PeerID, p.Metrics, w))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Top returns at most n candidates, and never fewer than one when any exist.
func Top(ranked []Candidate, n int) []Candidate {
	if n < 1 {
		n = 1
	}
	if len(ranked) < n {
		return ranked
	}
	return ranked[:n]
}
