package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewRing("test", 10)

	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, f := range frames {
		require.True(t, q.Enqueue(f))
	}

	for _, want := range frames {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestDequeueEmpty(t *testing.T) {
	q := NewRing("empty", 4)

	frame, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Nil(t, frame)
	assert.True(t, q.IsEmpty())
}

func TestBoundedTailDrop(t *testing.T) {
	q := NewRing("bounded", 2)

	require.True(t, q.Enqueue([]byte("f1")))
	require.True(t, q.Enqueue([]byte("f2")))
	assert.False(t, q.Enqueue([]byte("f3")), "third enqueue must be dropped")
	assert.Equal(t, 2, q.Len())

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, []byte("f1"), got)

	got, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, []byte("f2"), got)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestOversizedFrameDropped(t *testing.T) {
	q := NewRing("oversize", 4)

	assert.False(t, q.Enqueue(make([]byte, MaxPacketSize+1)))
	assert.True(t, q.IsEmpty())

	// A frame of exactly MaxPacketSize still fits.
	assert.True(t, q.Enqueue(make([]byte, MaxPacketSize)))
	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Len(t, got, MaxPacketSize)
}

func TestWraparound(t *testing.T) {
	q := NewRing("wrap", 3)

	// Cycle the pointers past the end of the reservation several times.
	for i := 0; i < 10; i++ {
		payload := []byte{byte(i), byte(i + 1)}
		require.True(t, q.Enqueue(payload))
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, payload, got)
	}
	assert.True(t, q.IsEmpty())
}

func TestEmptyFrame(t *testing.T) {
	q := NewRing("zero", 2)

	require.True(t, q.Enqueue(nil))
	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Len(t, got, 0)
}

func TestClear(t *testing.T) {
	q := NewRing("clear", 4)

	q.Enqueue([]byte("a"))
	q.Enqueue([]byte("b"))
	q.Clear()

	assert.True(t, q.IsEmpty())
	_, ok := q.Dequeue()
	assert.False(t, ok)

	// Queue is reusable after a clear.
	require.True(t, q.Enqueue([]byte("c")))
	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, []byte("c"), got)
}
