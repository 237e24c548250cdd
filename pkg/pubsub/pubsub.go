package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Topics published by the workspace server
const (
	TopicChanges         = "changes"          // one event per change record
	TopicWorkspaceStatus = "workspace_status" // coarse state for late joiners
)

// TypeResync is sent to a resuming subscriber whose cursor points past the
// retained backlog. The subscriber has to reload the document.
const TypeResync = "resync"

// ErrClosed is returned by a publisher after Close
var ErrClosed = errors.New("publisher is closed")

// Event is one published record
type Event struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`           // record type, e.g. "move", "create", "ready"
	Data  json.RawMessage `json:"data,omitempty"` // record payload
	Seq   uint64          `json:"seq"`            // position on the topic, from 1
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	Topic() string

	// Events delivers records in sequence order. It is closed when the
	// subscription ends, including when the subscriber falls too far behind.
	Events() <-chan Event

	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe opens a subscription on topic. after is the sequence number
	// of the last record the caller has seen, 0 for none. Context
	// cancellation closes the subscription.
	Subscribe(ctx context.Context, topic string, after uint64) (Subscription, error)

	// Publish assigns the next sequence number of topic to a record and
	// sends it to all subscribers.
	Publish(topic string, eventType string, data any) error

	Close() error
}

// ParseCursor reads a Last-Event-ID value. An empty value is cursor 0.
func ParseCursor(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// WorkspaceStatus summarizes the served workspace
type WorkspaceStatus struct {
	State     string `json:"state"`   // loading, ready, reloaded, error
	Message   string `json:"message"` // Human-readable status message
	Blocks    int    `json:"blocks"`
	TopBlocks int    `json:"topBlocks"`
	CanUndo   bool   `json:"canUndo"`
	CanRedo   bool   `json:"canRedo"`
}
