package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockService is the development/test implementation. It fabricates
// Hedera-shaped topic and message IDs and keeps submitted messages in memory
// so tests can assert on them.
type MockService struct {
	mu       sync.Mutex
	seq      int64
	topics   []string
	messages map[string][]Envelope

	// FailLogEvent makes LogEvent return an error, for mirror-failure tests.
	FailLogEvent error
	// FailCreateTopic makes CreateTopic return an error.
	FailCreateTopic error
}

func NewMockService() *MockService {
	return &MockService{messages: make(map[string][]Envelope)}
}

var _ Service = (*MockService)(nil)

func (m *MockService) CreateTopic(_ context.Context, memo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateTopic != nil {
		return "", m.FailCreateTopic
	}
	_ = memo
	m.seq++
	topic := fmt.Sprintf("0.0.%d", 7000000+m.seq)
	m.topics = append(m.topics, topic)
	return topic, nil
}

func (m *MockService) LogEvent(_ context.Context, topicID, eventType string, payload json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLogEvent != nil {
		return "", m.FailLogEvent
	}
	env, err := BuildEnvelope(eventType, time.Now(), payload)
	if err != nil {
		return "", err
	}
	m.messages[topicID] = append(m.messages[topicID], env)
	m.seq++
	now := time.Now()
	return fmt.Sprintf("0.0.%d@%d.%09d", 7000000+m.seq, now.Unix(), now.Nanosecond()), nil
}

// Messages returns a copy of all envelopes submitted to topicID.
func (m *MockService) Messages(topicID string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.messages[topicID]))
	copy(out, m.messages[topicID])
	return out
}
