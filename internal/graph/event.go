// event.go — типизированный поток событий графа.
package graph

import (
	"sync"

	"github.com/sahwar/xdcc-grabscher/internal/domain/model"
)

// EventType — вид события графа.
type EventType int

const (
	EventAdded EventType = iota + 1
	EventChanged
	EventEnabledChanged
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventEnabledChanged:
		return "enabled_changed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event — одно изменение графа. Object — неизменяемая копия на момент
// изменения с вычисленными агрегатами, Fields — изменённые поля (для Changed).
type Event struct {
	Type   EventType
	Object model.Object
	Fields []string
}

// HasField сообщает, входит ли поле в набор изменений.
func (e Event) HasField(name string) bool {
	for _, f := range e.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// eventQueue — неограниченная FIFO-очередь между мутаторами и каналом событий.
// Мутаторы не блокируются на медленном потребителе, порядок сохраняется.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, ev)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// pop блокируется до появления события. ok == false — очередь закрыта и пуста.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return ev, true
}
