// Package consensus wraps the append-only external event log (Hedera
// Consensus Service in production). The core only depends on the Service
// interface; the real SDK adapter and the mock are variants behind it,
// selected once at startup.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Service logs typed events to a consensus topic.
type Service interface {
	// CreateTopic provisions a new topic and returns its ID.
	CreateTopic(ctx context.Context, memo string) (string, error)
	// LogEvent submits one event to the topic and returns the consensus
	// message ID.
	LogEvent(ctx context.Context, topicID, eventType string, payload json.RawMessage) (string, error)
}

// Envelope is the wire shape of a mirrored event.
type Envelope struct {
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Hash      string          `json:"hash"`
}

// BuildEnvelope wraps a payload with its type, an RFC3339 timestamp, and a
// sha256 integrity hash of the payload.
func BuildEnvelope(eventType string, at time.Time, payload json.RawMessage) (Envelope, error) {
	hash, err := HashPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType: eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		Payload:   payload,
		Hash:      hash,
	}, nil
}

// HashPayload hashes the canonical form of a JSON payload. Round-tripping
// through a map sorts object keys, so equal payloads hash equally regardless
// of original field order.
func HashPayload(payload json.RawMessage) (string, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
