// Package audit records security threats observed by the ingestion pipeline
// and feeds them to operators: a structured audit log line plus a live
// websocket stream for admin clients. Blocking policy (rate limiting, IP
// reputation) lives outside this server; it consumes the same Recorder
// interface.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type ThreatKind string

const (
	ThreatTraversal        ThreatKind = "traversal"
	ThreatMaliciousContent ThreatKind = "malicious_content"
	ThreatSize             ThreatKind = "size"
	ThreatMimeMismatch     ThreatKind = "mime_mismatch"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type SecurityThreat struct {
	Kind        ThreatKind `json:"kind"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Blocked     bool       `json:"blocked"`
	OwnerID     string     `json:"ownerId,omitempty"`
	FileName    string     `json:"fileName,omitempty"`
	ObservedAt  time.Time  `json:"observedAt"`
}

// Recorder is the collaborator contract for threat reporting.
type Recorder interface {
	RecordThreat(ctx context.Context, threat SecurityThreat)
}

// LogRecorder writes an audit line for every threat and pushes it to the
// websocket hub when one is attached.
type LogRecorder struct {
	hub *Hub
}

func NewLogRecorder(hub *Hub) *LogRecorder {
	return &LogRecorder{hub: hub}
}

func (r *LogRecorder) RecordThreat(ctx context.Context, threat SecurityThreat) {
	if threat.ObservedAt.IsZero() {
		threat.ObservedAt = time.Now().UTC()
	}

	log.Warn().
		Str("kind", string(threat.Kind)).
		Str("severity", string(threat.Severity)).
		Str("ownerId", threat.OwnerID).
		Str("fileName", threat.FileName).
		Bool("blocked", threat.Blocked).
		Msg("[AUDIT] " + threat.Description)

	if r.hub != nil {
		r.hub.Broadcast(threat)
	}
}

// NopRecorder discards threats; used in tests.
type NopRecorder struct{}

func (NopRecorder) RecordThreat(ctx context.Context, threat SecurityThreat) {}
