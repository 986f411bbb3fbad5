package events

import (
	"context"
	"sync"
)

// MemoryPublisher collects published events in memory for tests.
type MemoryPublisher struct {
	mu      sync.Mutex
	byTopic map[string][]Envelope
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{byTopic: make(map[string][]Envelope)}
}

func (p *MemoryPublisher) Publish(_ context.Context, topic string, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byTopic[topic] = append(p.byTopic[topic], env)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Published returns the envelopes seen on a topic.
func (p *MemoryPublisher) Published(topic string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.byTopic[topic]...)
}
