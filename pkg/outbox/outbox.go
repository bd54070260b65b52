// Package outbox is the transactional outbox: a per-execution stream of
// events persisted alongside execution state and drained to the event bus
// after commit. Delivery is at-least-once; mark-published appends tombstone
// records rather than rewriting entries, so re-drains are safe and the bus
// deduplicates by event id.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/pkg/fault"
)

// Entry is one outbox record. A published=true record for an event id is
// the tombstone hiding every earlier record with that id.
type Entry struct {
	ExecutionID string                 `json:"execution_id"`
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Published   bool                   `json:"published"`
}

// Publisher is the external event bus boundary. Publish may be called more
// than once per event id; the bus deduplicates.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
}

// StreamKey names the stream holding an execution's outbox.
func StreamKey(executionID string) string {
	return fmt.Sprintf("outbox:%s", executionID)
}

// Options tune an Outbox at construction.
type Options struct {
	// UseMemory runs the outbox on an in-memory stream. Tests only.
	UseMemory bool
	// MaxLen bounds each execution stream (approximate trim). Zero means
	// 1000; an execution emitting more events than that has a bigger
	// problem than trimming.
	MaxLen int64
}

// Outbox stores and drains per-execution event queues.
type Outbox struct {
	client *redis.Client
	memory *memoryStreams
	opts   Options
	logger *slog.Logger
}

// New builds an Outbox over client. client may be nil only with UseMemory.
func New(client *redis.Client, opts Options) (*Outbox, error) {
	if client == nil && !opts.UseMemory {
		return nil, fault.NotWired("transactional outbox", "stream backend")
	}
	if opts.MaxLen == 0 {
		opts.MaxLen = 1000
	}
	return &Outbox{
		client: client,
		memory: newMemoryStreams(),
		opts:   opts,
		logger: slog.Default().With("component", "outbox"),
	}, nil
}

// Append records an event for later publication.
func (o *Outbox) Append(ctx context.Context, executionID, eventID, eventType string, data map[string]interface{}) error {
	if executionID == "" || eventID == "" {
		return fault.Validation("outbox append requires execution id and event id")
	}
	return o.append(ctx, Entry{
		ExecutionID: executionID,
		EventID:     eventID,
		EventType:   eventType,
		Data:        data,
	})
}

// MarkPublished appends the tombstone for eventID. Idempotent.
func (o *Outbox) MarkPublished(ctx context.Context, executionID, eventID string) error {
	return o.append(ctx, Entry{
		ExecutionID: executionID,
		EventID:     eventID,
		Published:   true,
	})
}

// GetPendingEvents returns the execution's events with no published
// tombstone, in append order.
func (o *Outbox) GetPendingEvents(ctx context.Context, executionID string) ([]Entry, error) {
	entries, err := o.readAll(ctx, executionID)
	if err != nil {
		return nil, err
	}

	published := make(map[string]bool)
	for _, e := range entries {
		if e.Published {
			published[e.EventID] = true
		}
	}

	var pending []Entry
	for _, e := range entries {
		if !e.Published && !published[e.EventID] {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// PublishEvents drains every pending event for executionID through pub,
// marking each one published on success. The first publish failure stops
// the drain and leaves the remainder pending for a later pass; the caller
// treats that as retriable, never as an execution failure.
func (o *Outbox) PublishEvents(ctx context.Context, executionID string, pub Publisher) (int, error) {
	if pub == nil {
		return 0, fault.NotWired("transactional outbox", "event bus publisher")
	}
	pending, err := o.GetPendingEvents(ctx, executionID)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, entry := range pending {
		if err := pub.Publish(ctx, entry); err != nil {
			o.logger.WarnContext(ctx, "event bus publish failed, retaining outbox entries",
				"execution_id", executionID, "event_id", entry.EventID, "drained", drained, "error", err)
			return drained, fault.BackendUnavailable("outbox", err)
		}
		if err := o.MarkPublished(ctx, executionID, entry.EventID); err != nil {
			// Published but unmarked: the next drain re-publishes and
			// the bus deduplicates. At-least-once, as promised.
			return drained, err
		}
		drained++
	}
	return drained, nil
}

func (o *Outbox) append(ctx context.Context, entry Entry) error {
	if o.client == nil {
		o.memory.append(StreamKey(entry.ExecutionID), entry)
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fault.Validation("outbox entry not serializable: %v", err)
	}
	err = o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(entry.ExecutionID),
		MaxLen: o.opts.MaxLen,
		Approx: true,
		Values: map[string]interface{}{"entry": raw},
	}).Err()
	if err != nil {
		return fault.BackendUnavailable("outbox", err)
	}
	return nil
}

func (o *Outbox) readAll(ctx context.Context, executionID string) ([]Entry, error) {
	if o.client == nil {
		return o.memory.read(StreamKey(executionID)), nil
	}
	msgs, err := o.client.XRange(ctx, StreamKey(executionID), "-", "+").Result()
	if err != nil && err != redis.Nil {
		return nil, fault.BackendUnavailable("outbox", err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["entry"].(string)
		if !ok {
			return nil, fault.BackendUnavailable("outbox", fmt.Errorf("stream entry missing entry field"))
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fault.BackendUnavailable("outbox", fmt.Errorf("corrupt outbox entry: %w", err))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// memoryStreams is the in-memory stream store for tests.
type memoryStreams struct {
	mu      sync.Mutex
	streams map[string][]Entry
}

func newMemoryStreams() *memoryStreams {
	return &memoryStreams{streams: make(map[string][]Entry)}
}

func (m *memoryStreams) append(key string, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[key] = append(m.streams[key], entry)
}

func (m *memoryStreams) read(key string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.streams[key]))
	copy(out, m.streams[key])
	return out
}

// CollectingPublisher is a Publisher that records what it saw, deduplicated
// by event id the way a real bus is expected to. Test helper.
type CollectingPublisher struct {
	mu      sync.Mutex
	seen    map[string]bool
	Entries []Entry
	// Fail makes every Publish call return an error.
	Fail bool
}

func NewCollectingPublisher() *CollectingPublisher {
	return &CollectingPublisher{seen: make(map[string]bool)}
}

func (p *CollectingPublisher) Publish(_ context.Context, entry Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return fmt.Errorf("bus unavailable")
	}
	if p.seen[entry.EventID] {
		return nil
	}
	p.seen[entry.EventID] = true
	p.Entries = append(p.Entries, entry)
	return nil
}
