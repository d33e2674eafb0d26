package stream

import (
	"container/list"
	"sync"
	"time"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

// Event is one pushed frame.
type Event struct {
	Type      string          `json:"type"`
	ID        int64           `json:"id,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// replayQueue buffers recent events per session so a reconnecting tab can
// catch up. Each session gets its own bounded list so one user's burst
// cannot evict messages belonging to another user.
type replayQueue struct {
	mu      sync.RWMutex
	queues  map[chat.Key]*list.List
	maxSize int
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &replayQueue{
		queues:  make(map[chat.Key]*list.List),
		maxSize: maxSize,
	}
}

func (q *replayQueue) enqueue(key chat.Key, ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(ev)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// missed returns events after afterID, oldest first.
func (q *replayQueue) missed(key chat.Key, afterID int64) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var out []Event
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out
}

func (q *replayQueue) prune(key chat.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, key)
}
