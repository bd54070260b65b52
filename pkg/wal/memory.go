package wal

import (
	"fmt"
	"sync"
)

// memoryBuffer is the in-memory partition store: the whole log in
// use-memory mode, the degraded overflow otherwise. Entry ids mimic the
// stream's native `<seq>-0` shape so consumer-group code paths agree.
type memoryBuffer struct {
	mu         sync.Mutex
	partitions map[string][]memEntry
	groups     map[string]*memGroup // partition + "/" + group
	seq        uint64
}

type memEntry struct {
	id    string
	event *Event
}

type memGroup struct {
	delivered map[string]bool
	pending   map[string]bool
}

func newMemoryBuffer() *memoryBuffer {
	return &memoryBuffer{
		partitions: make(map[string][]memEntry),
		groups:     make(map[string]*memGroup),
	}
}

func (b *memoryBuffer) append(partition string, event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.partitions[partition] = append(b.partitions[partition], memEntry{
		id:    fmt.Sprintf("%d-0", b.seq),
		event: event,
	})
}

func (b *memoryBuffer) read(partition string) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.partitions[partition]
	out := make([]*Event, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.event)
	}
	return out
}

func (b *memoryBuffer) createGroup(partition, group string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := partition + "/" + group
	if _, ok := b.groups[key]; !ok {
		b.groups[key] = &memGroup{delivered: make(map[string]bool), pending: make(map[string]bool)}
	}
}

func (b *memoryBuffer) readGroup(partition, group string, count int64) []GroupMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := partition + "/" + group
	g, ok := b.groups[key]
	if !ok {
		g = &memGroup{delivered: make(map[string]bool), pending: make(map[string]bool)}
		b.groups[key] = g
	}

	var out []GroupMessage
	for _, e := range b.partitions[partition] {
		if g.delivered[e.id] {
			continue
		}
		g.delivered[e.id] = true
		g.pending[e.id] = true
		out = append(out, GroupMessage{ID: e.id, Event: e.event})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out
}

func (b *memoryBuffer) ack(partition, group string, ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.groups[partition+"/"+group]; ok {
		for _, id := range ids {
			delete(g.pending, id)
		}
	}
}
