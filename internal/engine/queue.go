package engine

import (
	"sync"

	"github.com/roach88/hswatch/internal/ir"
)

// Message is one entry on the engine's pipe: either a fault event or a command.
type Message struct {
	Event   *ir.FaultEvent
	Command Command
}

// EventMessage wraps a fault event for Enqueue.
func EventMessage(appName string, eventID uint16) Message {
	return Message{Event: &ir.FaultEvent{AppName: appName, EventID: eventID}}
}

// CommandMessage wraps a command for Enqueue.
func CommandMessage(cmd Command) Message {
	return Message{Command: cmd}
}

// messagePipe is a thread-safe FIFO of messages waiting for the foreground cycle.
//
// Producers (event transport, command transport) enqueue from any goroutine.
// The cycle only ever calls TryDequeue, so an empty pipe never blocks it.
// The pipe is bounded; a full pipe rejects new messages and counts the drop.
type messagePipe struct {
	mu       sync.Mutex
	messages []Message
	limit    int
	dropped  uint32
	closed   bool
}

// DefaultPipeDepth bounds the message pipe.
const DefaultPipeDepth = 64

func newMessagePipe(limit int) *messagePipe {
	if limit <= 0 {
		limit = DefaultPipeDepth
	}
	return &messagePipe{
		messages: make([]Message, 0, limit),
		limit:    limit,
	}
}

// Enqueue adds a message to the back of the pipe.
// Returns false if the pipe is closed or full.
func (q *messagePipe) Enqueue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.messages) >= q.limit {
		q.dropped++
		return false
	}

	q.messages = append(q.messages, m)
	return true
}

// TryDequeue removes and returns the front message without blocking.
func (q *messagePipe) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false
	}

	m := q.messages[0]
	// Clear the slot so the array does not retain the message's pointers.
	q.messages[0] = Message{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}
	return m, true
}

// Len returns the current pipe length.
func (q *messagePipe) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Dropped returns how many messages were rejected because the pipe was full.
func (q *messagePipe) Dropped() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further messages. Pending messages can still be dequeued.
func (q *messagePipe) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
