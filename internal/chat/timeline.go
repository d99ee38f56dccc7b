// Package chat turns raw bus payloads into the ordered, duplicate-free
// message timeline a community screen renders, and merges the one-shot
// history read with the live subscription.
package chat

import (
	"sync"

	"matchday-chat/go-client/pkg/models"
)

// Timeline is one topic's ordered message list. IDs are unique within it;
// appends with a known ID leave the list unchanged. One timeline belongs
// to exactly one session and is never shared across screens.
type Timeline struct {
	mu   sync.RWMutex
	byID map[string]struct{}
	list []models.Message
}

func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]struct{})}
}

// Append inserts msg at the end unless its ID is already present.
// Returns false for duplicates; the list is unchanged in that case.
func (t *Timeline) Append(msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.byID[msg.ID]; dup {
		return false
	}
	t.byID[msg.ID] = struct{}{}
	t.list = append(t.list, msg)
	return true
}

// ReplaceHistory resets the timeline to msgs in their given order,
// dropping duplicates within the batch. It runs before the live
// subscription starts, so history always precedes live messages.
func (t *Timeline) ReplaceHistory(msgs []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[string]struct{}, len(msgs))
	t.list = t.list[:0]
	for _, msg := range msgs {
		if _, dup := t.byID[msg.ID]; dup {
			continue
		}
		t.byID[msg.ID] = struct{}{}
		t.list = append(t.list, msg)
	}
}

func (t *Timeline) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byID[id]
	return ok
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.list)
}

// Snapshot returns a copy of the list in append order.
func (t *Timeline) Snapshot() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Message(nil), t.list...)
}
