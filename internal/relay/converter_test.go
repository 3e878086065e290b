package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnsveil/internal/codec"
	"dnsveil/internal/queue"
)

func newTestConverter(t *testing.T, protocol, encoding string) (*Converter, *queue.Ring, *queue.Ring, *queue.Ring, *queue.Ring) {
	t.Helper()
	cdc, err := codec.New(codec.Options{Protocol: protocol, Encoding: encoding})
	require.NoError(t, err)

	fromLocal := queue.NewRing("client->codec", 10)
	toRemote := queue.NewRing("codec->server", 10)
	fromRemote := queue.NewRing("server->codec", 10)
	toLocal := queue.NewRing("codec->client", 10)
	conv := NewConverter(cdc, fromLocal, toRemote, fromRemote, toLocal, nil)
	return conv, fromLocal, toRemote, fromRemote, toLocal
}

func dequeueEventually(t *testing.T, q *queue.Ring) []byte {
	t.Helper()
	var frame []byte
	require.Eventually(t, func() bool {
		f, ok := q.Dequeue()
		if ok {
			frame = f
		}
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	return frame
}

func TestConverterAssembleDisassemble(t *testing.T) {
	for _, tc := range []struct{ protocol, encoding string }{
		{"dns", "base64"},
		{"dns", "base85"},
		{"dns", "none"},
		{"none", "none"},
	} {
		t.Run(tc.protocol+"/"+tc.encoding, func(t *testing.T) {
			conv, fromLocal, toRemote, fromRemote, toLocal := newTestConverter(t, tc.protocol, tc.encoding)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go conv.Assemble(ctx)
			go conv.Disassemble(ctx)

			payload := []byte("hello through the tunnel")
			require.True(t, fromLocal.Enqueue(payload))

			wire := dequeueEventually(t, toRemote)
			if tc.protocol == "dns" {
				assert.NotEqual(t, payload, wire, "disguise must rewrite the frame")
			}

			require.True(t, fromRemote.Enqueue(wire))
			got := dequeueEventually(t, toLocal)
			assert.Equal(t, payload, got)
		})
	}
}

func TestConverterDropsMalformedWire(t *testing.T) {
	conv, _, _, fromRemote, toLocal := newTestConverter(t, "dns", "base64")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conv.Disassemble(ctx)

	// Garbage first, then a valid frame: only the valid one comes through.
	require.True(t, fromRemote.Enqueue([]byte{0x00, 0x00, 0x00, 0x00}))

	cdc, err := codec.New(codec.Options{Protocol: "dns", Encoding: "base64"})
	require.NoError(t, err)
	require.True(t, fromRemote.Enqueue(cdc.Assemble([]byte("survivor"))))

	got := dequeueEventually(t, toLocal)
	assert.Equal(t, []byte("survivor"), got)
	assert.True(t, toLocal.IsEmpty())
}

func TestConverterPreservesOrder(t *testing.T) {
	conv, fromLocal, toRemote, _, _ := newTestConverter(t, "dns", "base64")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conv.Assemble(ctx)

	frames := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, f := range frames {
		require.True(t, fromLocal.Enqueue(f))
	}

	cdc, err := codec.New(codec.Options{Protocol: "dns", Encoding: "base64"})
	require.NoError(t, err)
	for _, want := range frames {
		wire := dequeueEventually(t, toRemote)
		got, ok := cdc.Disassemble(wire)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}
