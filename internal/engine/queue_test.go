package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePipe_FIFO(t *testing.T) {
	q := newMessagePipe(8)

	require.True(t, q.Enqueue(EventMessage("A", 1)))
	require.True(t, q.Enqueue(CommandMessage(Noop{})))
	require.True(t, q.Enqueue(EventMessage("B", 2)))

	m, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "A", m.Event.AppName)

	m, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, Noop{}, m.Command)

	m, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, uint16(2), m.Event.EventID)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestMessagePipe_BoundedDropsWhenFull(t *testing.T) {
	q := newMessagePipe(2)
	assert.True(t, q.Enqueue(EventMessage("A", 1)))
	assert.True(t, q.Enqueue(EventMessage("A", 2)))
	assert.False(t, q.Enqueue(EventMessage("A", 3)))
	assert.Equal(t, uint32(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestMessagePipe_ClosedRejects(t *testing.T) {
	q := newMessagePipe(0)
	require.True(t, q.Enqueue(EventMessage("A", 1)))
	q.Close()
	assert.False(t, q.Enqueue(EventMessage("A", 2)))

	_, ok := q.TryDequeue()
	assert.True(t, ok, "pending messages survive Close")
}

func TestMessagePipe_ConcurrentProducers(t *testing.T) {
	q := newMessagePipe(1000)
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(EventMessage("P", uint16(i)))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, q.Len())
}
