package services

import (
	"sync"

	"season-planner/backend/pkg/models"
)

// Broadcaster fans out status events to live observers of a workflow.
// Delivery is best-effort: sends never block, and a slow subscriber has
// events dropped rather than stalling the orchestrator. A reconnecting
// observer re-queries current workflow state from the store; the broadcaster
// is a convenience channel, never the system of record.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]map[int]chan models.StatusEvent
	nextSubID  int
	bufferSize int
	closed     bool
}

const defaultEventBuffer = 64

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &Broadcaster{
		subs:       make(map[string]map[int]chan models.StatusEvent),
		bufferSize: bufferSize,
	}
}

// Subscribe registers an observer for one workflow ID. The returned cancel
// function must be called to release the subscription; it closes the channel.
func (b *Broadcaster) Subscribe(workflowID string) (<-chan models.StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.StatusEvent, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextSubID++
	id := b.nextSubID
	if b.subs[workflowID] == nil {
		b.subs[workflowID] = make(map[int]chan models.StatusEvent)
	}
	b.subs[workflowID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		workflowSubs, ok := b.subs[workflowID]
		if !ok {
			return
		}
		if sub, ok := workflowSubs[id]; ok {
			delete(workflowSubs, id)
			close(sub)
		}
		if len(workflowSubs) == 0 {
			delete(b.subs, workflowID)
		}
	}
	return ch, cancel
}

// Publish sends an event to all current subscribers of the workflow.
// Full subscriber buffers drop the event for that subscriber only.
func (b *Broadcaster) Publish(workflowID string, event models.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[workflowID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of observers for a workflow.
func (b *Broadcaster) SubscriberCount(workflowID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[workflowID])
}

// Close shuts down the broadcaster and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for workflowID, workflowSubs := range b.subs {
		for id, ch := range workflowSubs {
			close(ch)
			delete(workflowSubs, id)
		}
		delete(b.subs, workflowID)
	}
}
