package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ritzau/blockgraph/pkg/logging"
)

// subscriberQueue is the number of live records a subscriber may lag
// behind before it is cut off.
const subscriberQueue = 256

// Replay selects what a new subscriber receives from a topic's backlog
type Replay int

const (
	ReplayNone   Replay = iota // live records only
	ReplayLatest               // the newest record, for state topics
	ReplaySince                // every retained record after the subscriber's cursor
)

// TopicConfig configures retention and replay for a topic
type TopicConfig struct {
	Backlog int // records retained for replay
	Replay  Replay
}

type topicState struct {
	config  TopicConfig
	seq     uint64
	backlog []Event
	subs    map[*sseSubscription]struct{}
}

// SSEPublisher implements Publisher for Server-Sent Events streams. Each
// topic numbers its records so a reconnecting client resumes where it
// stopped.
type SSEPublisher struct {
	mu     sync.Mutex
	topics map[string]*topicState
	closed bool
}

// NewSSEPublisher creates a new SSE-based publisher
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{topics: make(map[string]*topicState)}
}

// topic returns the state of name, creating it. Callers hold p.mu.
func (p *SSEPublisher) topic(name string) *topicState {
	t := p.topics[name]
	if t == nil {
		t = &topicState{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureTopic sets retention for a topic. Shrinking the backlog drops
// the oldest records.
func (p *SSEPublisher) ConfigureTopic(name string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.topic(name)
	t.config = config
	t.trim()
}

// Seq returns the sequence number of the last record published on topic
func (p *SSEPublisher) Seq(name string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.topics[name]; t != nil {
		return t.seq
	}
	return 0
}

// Subscribe implements Publisher. Replayed records are queued before the
// subscription becomes visible to Publish, so ordering holds across the
// switch from backlog to live records.
func (p *SSEPublisher) Subscribe(ctx context.Context, name string, after uint64) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	t := p.topic(name)
	replay := t.replay(name, after)
	sub := &sseSubscription{
		topic:     name,
		events:    make(chan Event, subscriberQueue+len(replay)),
		publisher: p,
	}
	for _, e := range replay {
		sub.events <- e
	}
	t.subs[sub] = struct{}{}
	if len(replay) > 0 {
		logging.Debug("replayed events to new subscriber", "topic", name, "after", after, "count", len(replay))
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// replay picks the records a subscriber with cursor after has missed
func (t *topicState) replay(name string, after uint64) []Event {
	switch t.config.Replay {
	case ReplayLatest:
		if n := len(t.backlog); n > 0 && t.backlog[n-1].Seq != after {
			return []Event{t.backlog[n-1]}
		}
	case ReplaySince:
		if after == 0 || after == t.seq {
			return nil
		}
		// A cursor ahead of the topic comes from an earlier process.
		if after > t.seq || len(t.backlog) == 0 || after+1 < t.backlog[0].Seq {
			return []Event{{Topic: name, Type: TypeResync, Seq: t.seq}}
		}
		missed := t.backlog[after+1-t.backlog[0].Seq:]
		return append([]Event(nil), missed...)
	}
	return nil
}

func (t *topicState) trim() {
	if over := len(t.backlog) - t.config.Backlog; over > 0 {
		t.backlog = append([]Event(nil), t.backlog[over:]...)
	}
}

// Publish implements Publisher. A subscriber whose queue is full is
// closed rather than skipped, so it never sees a gap in the sequence. It
// can resume from its cursor.
func (p *SSEPublisher) Publish(name string, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	t := p.topic(name)
	t.seq++
	event := Event{
		Topic: name,
		Type:  eventType,
		Data:  jsonData,
		Seq:   t.seq,
	}
	if t.config.Backlog > 0 {
		t.backlog = append(t.backlog, event)
		t.trim()
	}

	for sub := range t.subs {
		select {
		case sub.events <- event:
		default:
			logging.Warn("subscriber fell behind, closing", "topic", name, "seq", event.Seq)
			p.detach(sub)
		}
	}
	return nil
}

// Close shuts down the publisher and all subscriptions
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.topics {
		for sub := range t.subs {
			p.detach(sub)
		}
	}
	return nil
}

// detach ends sub. Callers hold p.mu.
func (p *SSEPublisher) detach(sub *sseSubscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if t := p.topics[sub.topic]; t != nil {
		delete(t.subs, sub)
	}
	close(sub.events)
}

// sseSubscription implements Subscription. closed is guarded by the
// publisher's mutex.
type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher
	closed    bool
}

func (s *sseSubscription) Topic() string { return s.topic }

func (s *sseSubscription) Events() <-chan Event { return s.events }

// Close ends the subscription. It is safe to call more than once.
func (s *sseSubscription) Close() error {
	s.publisher.mu.Lock()
	defer s.publisher.mu.Unlock()
	s.publisher.detach(s)
	return nil
}

// WriteSSE writes event as one SSE message. The id field carries the
// sequence number, which a reconnecting EventSource sends back as
// Last-Event-ID.
func WriteSSE(w io.Writer, event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Seq, jsonData)
	return err
}
