package queue

import (
	"encoding/binary"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCapacity is the number of frames a queue holds before tail-drop.
	DefaultCapacity = 100
	// MaxPacketSize bounds a single frame. Anything larger is dropped on enqueue.
	MaxPacketSize = 9000

	// Each slot carries a 4-byte big-endian length prefix before the frame bytes.
	lenPrefixSize = 4
	slotSize      = lenPrefixSize + MaxPacketSize
)

// Ring is a bounded FIFO of byte frames backed by a fixed reservation.
// One producer and one consumer; enqueue and dequeue never block.
type Ring struct {
	name     string
	capacity int

	mu       sync.Mutex
	buf      []byte
	readPtr  int
	writePtr int
	count    int
}

// NewRing allocates a queue holding up to capacity frames.
func NewRing(name string, capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		name:     name,
		capacity: capacity,
		buf:      make([]byte, capacity*slotSize),
	}
}

// Name returns the queue name used in log output.
func (r *Ring) Name() string { return r.name }

// Enqueue appends a frame. A full queue or an oversized frame drops the
// incoming frame and reports false.
func (r *Ring) Enqueue(frame []byte) bool {
	if len(frame) > MaxPacketSize {
		log.Warn().Str("queue", r.name).Int("size", len(frame)).
			Msgf("frame exceeds max packet size (%d bytes), dropping", MaxPacketSize)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == r.capacity {
		log.Warn().Str("queue", r.name).Msg("queue is full, dropping latest frame")
		return false
	}

	slot := r.buf[r.writePtr : r.writePtr+slotSize]
	binary.BigEndian.PutUint32(slot[:lenPrefixSize], uint32(len(frame)))
	copy(slot[lenPrefixSize:], frame)

	r.writePtr += slotSize
	if r.writePtr >= len(r.buf) {
		r.writePtr = 0
	}
	r.count++
	return true
}

// Dequeue removes and returns the oldest frame, or nil and false when empty.
// The returned slice is a copy and does not alias the ring storage.
func (r *Ring) Dequeue() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, false
	}

	slot := r.buf[r.readPtr : r.readPtr+slotSize]
	frameLen := int(binary.BigEndian.Uint32(slot[:lenPrefixSize]))
	frame := make([]byte, frameLen)
	copy(frame, slot[lenPrefixSize:lenPrefixSize+frameLen])

	r.readPtr += slotSize
	if r.readPtr >= len(r.buf) {
		r.readPtr = 0
	}
	r.count--
	return frame, true
}

// IsEmpty is a polling hint for consumer loops.
func (r *Ring) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == 0
}

// Len reports the number of queued frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Clear resets the queue, discarding all queued frames.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readPtr = 0
	r.writePtr = 0
	r.count = 0
	log.Debug().Str("queue", r.name).Msg("cleared ring buffer")
}
