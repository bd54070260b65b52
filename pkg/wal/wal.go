// Package wal is the append-only Write-Ahead Log: per-(tenant, UTC date)
// partitions on Redis streams with approximate max-length trimming, range
// reads, session replay, and consumer groups for parallel downstream
// replay. When the stream backend is unreachable the log degrades to an
// in-memory buffer and says so.
package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
)

// EventType enumerates every transition the fabric records.
type EventType string

const (
	EventSessionCreated     EventType = "session-created"
	EventSessionUpgraded    EventType = "session-upgraded"
	EventIntentReceived     EventType = "intent-received"
	EventSagaStarted        EventType = "saga-started"
	EventStepCompleted      EventType = "step-completed"
	EventStepFailed         EventType = "step-failed"
	EventExecutionStarted   EventType = "execution-started"
	EventExecutionCompleted EventType = "execution-completed"
	EventExecutionFailed    EventType = "execution-failed"
)

// Event is one immutable WAL record.
type Event struct {
	EventID   string                 `json:"event_id"`
	EventType EventType              `json:"event_type"`
	TenantID  string                 `json:"tenant_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// PartitionKey names the stream holding a (tenant, date) partition.
func PartitionKey(tenantID string, date time.Time) string {
	return fmt.Sprintf("wal:%s:%s", tenantID, date.UTC().Format("2006-01-02"))
}

// Options tune a Log at construction.
type Options struct {
	// UseMemory runs the whole log on the in-memory buffer. Tests only;
	// without it a nil client is a wiring contract failure.
	UseMemory bool
	// MaxLen bounds each partition (approximate trim). Zero means 10000.
	MaxLen int64
	// ReplayWindowDays bounds ReplaySession. Zero means 30.
	ReplayWindowDays int
	Clock            clock.Clock
}

// Log is the WAL. Safe for concurrent use.
type Log struct {
	client   *redis.Client
	buffer   *memoryBuffer
	degraded atomic.Bool
	opts     Options
	logger   *slog.Logger
}

// New builds a Log over client. client may be nil only with UseMemory.
func New(client *redis.Client, opts Options) (*Log, error) {
	if client == nil && !opts.UseMemory {
		return nil, fault.NotWired("write-ahead log", "stream backend")
	}
	if opts.MaxLen == 0 {
		opts.MaxLen = 10000
	}
	if opts.ReplayWindowDays == 0 {
		opts.ReplayWindowDays = 30
	}
	return &Log{
		client: client,
		buffer: newMemoryBuffer(),
		opts:   opts,
		logger: slog.Default().With("component", "wal"),
	}, nil
}

// Degraded reports whether any append has fallen back to the in-memory
// buffer since startup. Degraded-mode events are eventually consistent at
// best; operators alert on this.
func (l *Log) Degraded() bool { return l.degraded.Load() }

// Append stamps an id and timestamp on the payload and writes it to today's
// partition for tenant. A backend failure degrades to the memory buffer
// rather than losing the event.
func (l *Log) Append(ctx context.Context, eventType EventType, tenantID string, payload map[string]interface{}) (*Event, error) {
	if tenantID == "" {
		return nil, fault.Validation("wal append requires a tenant id")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	event := &Event{
		EventID:   clock.NewEventID(),
		EventType: eventType,
		TenantID:  tenantID,
		Timestamp: l.opts.Clock.Now(),
		Payload:   payload,
	}
	partition := PartitionKey(tenantID, event.Timestamp)

	if l.client == nil {
		l.buffer.append(partition, event)
		return event, nil
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fault.Validation("wal event not serializable: %v", err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: partition,
		MaxLen: l.opts.MaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": raw},
	}).Err()
	if err != nil {
		l.degraded.Store(true)
		l.logger.WarnContext(ctx, "stream backend unavailable, buffering event in memory (degraded)",
			"partition", partition, "event_type", eventType, "error", err)
		l.buffer.append(partition, event)
	}
	return event, nil
}

// GetEvents reads partitions for tenant over [start, end] (dates, inclusive;
// both zero means today), filters by eventType when non-empty, sorts
// descending by timestamp and truncates to limit.
func (l *Log) GetEvents(ctx context.Context, tenantID string, eventType EventType, limit int, start, end time.Time) ([]*Event, error) {
	if tenantID == "" {
		return nil, fault.Validation("wal read requires a tenant id")
	}
	now := l.opts.Clock.Now()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end
	}

	var events []*Event
	for day := dateOf(start); !day.After(dateOf(end)); day = day.AddDate(0, 0, 1) {
		partition := PartitionKey(tenantID, day)
		dayEvents, err := l.readPartition(ctx, partition)
		if err != nil {
			return nil, err
		}
		events = append(events, dayEvents...)
	}

	if eventType != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.EventType == eventType {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// ReplaySession returns every event of the last replay window whose payload
// carries sessionID, in ascending chronological order.
func (l *Log) ReplaySession(ctx context.Context, sessionID, tenantID string) ([]*Event, error) {
	end := l.opts.Clock.Now()
	start := end.AddDate(0, 0, -(l.opts.ReplayWindowDays - 1))
	events, err := l.GetEvents(ctx, tenantID, "", 0, start, end)
	if err != nil {
		return nil, err
	}

	var replay []*Event
	for _, e := range events {
		if sid, ok := e.Payload["session_id"].(string); ok && sid == sessionID {
			replay = append(replay, e)
		}
	}
	sort.SliceStable(replay, func(i, j int) bool { return replay[i].Timestamp.Before(replay[j].Timestamp) })
	return replay, nil
}

// GroupMessage pairs a stream-native message id with its decoded event.
type GroupMessage struct {
	ID    string
	Event *Event
}

// CreateConsumerGroup registers group on the (tenant, date) partition,
// creating the stream when absent. Re-creation is idempotent.
func (l *Log) CreateConsumerGroup(ctx context.Context, tenantID, group string, date time.Time) error {
	partition := PartitionKey(tenantID, date)
	if l.client == nil {
		l.buffer.createGroup(partition, group)
		return nil
	}
	err := l.client.XGroupCreateMkStream(ctx, partition, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fault.BackendUnavailable("wal", err)
	}
	return nil
}

// ReadFromGroup delivers up to count undelivered messages of the partition
// to consumer, blocking up to block when nothing is pending. Message ids are
// the stream's native sequence; acknowledge them when processed.
func (l *Log) ReadFromGroup(ctx context.Context, tenantID, group, consumer string, date time.Time, count int64, block time.Duration) ([]GroupMessage, error) {
	partition := PartitionKey(tenantID, date)
	if l.client == nil {
		return l.buffer.readGroup(partition, group, count), nil
	}

	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{partition, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fault.BackendUnavailable("wal", err)
	}

	var out []GroupMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			event, err := decodeStreamEvent(msg.Values)
			if err != nil {
				return nil, err
			}
			out = append(out, GroupMessage{ID: msg.ID, Event: event})
		}
	}
	return out, nil
}

// Acknowledge marks ids as processed for group on the partition.
func (l *Log) Acknowledge(ctx context.Context, tenantID, group string, date time.Time, ids ...string) error {
	partition := PartitionKey(tenantID, date)
	if l.client == nil {
		l.buffer.ack(partition, group, ids...)
		return nil
	}
	if err := l.client.XAck(ctx, partition, group, ids...).Err(); err != nil {
		return fault.BackendUnavailable("wal", err)
	}
	return nil
}

// readPartition returns a partition's events: the stream's entries in
// sequence order, followed by anything the degraded buffer holds for it.
func (l *Log) readPartition(ctx context.Context, partition string) ([]*Event, error) {
	var events []*Event
	if l.client != nil {
		msgs, err := l.client.XRange(ctx, partition, "-", "+").Result()
		if err != nil && err != redis.Nil {
			// Serve what the degraded buffer holds; the stream's share
			// of the partition is unavailable, not gone.
			l.degraded.Store(true)
			l.logger.WarnContext(ctx, "stream backend unavailable on read, serving degraded buffer",
				"partition", partition, "error", err)
		}
		for _, msg := range msgs {
			event, err := decodeStreamEvent(msg.Values)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
	}
	events = append(events, l.buffer.read(partition)...)
	return events, nil
}

func decodeStreamEvent(values map[string]interface{}) (*Event, error) {
	raw, ok := values["event"].(string)
	if !ok {
		return nil, fault.BackendUnavailable("wal", fmt.Errorf("stream entry missing event field"))
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fault.BackendUnavailable("wal", fmt.Errorf("corrupt wal entry: %w", err))
	}
	return &event, nil
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
