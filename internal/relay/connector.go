package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"dnsveil/internal/capture"
	"dnsveil/internal/queue"
)

const (
	// MaxRecvBuffer sizes the datagram receive buffer.
	MaxRecvBuffer = 65535

	// pollInterval backs off polling loops when there is nothing to do.
	pollInterval = time.Millisecond
	// readDeadline bounds blocking receives so cancellation stays prompt.
	readDeadline = 250 * time.Millisecond
	// Idle peers age out of the activity ledger after this long.
	peerActivityTTL = 5 * time.Minute
)

// Connector couples one UDP socket to the pipeline: a listener feeding the
// inbound queue and a transmitter draining the outbound queue.
type Connector interface {
	Listen(ctx context.Context) error
	Transmit(ctx context.Context) error
	Close() error
}

// DialConnector is the connected variant: the kernel supplies the
// destination, so transmit is a plain send.
type DialConnector struct {
	name     string
	endpoint string
	port     int
	conn     *net.UDPConn

	inbound  *queue.Ring
	outbound *queue.Ring

	sink      *capture.Capture
	sinkStage capture.Stage
}

// DialUDP opens an IPv4 UDP socket connected to endpoint:port. Received
// frames are enqueued on inbound and captured under stage; transmit drains
// outbound.
func DialUDP(name, endpoint string, port int, inbound, outbound *queue.Ring, sink *capture.Capture, stage capture.Stage) (*DialConnector, error) {
	raddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", endpoint, port))
	if err != nil {
		return nil, fmt.Errorf("resolve %s endpoint: %w", name, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("connect %s socket: %w", name, err)
	}
	return &DialConnector{
		name:      name,
		endpoint:  endpoint,
		port:      port,
		conn:      conn,
		inbound:   inbound,
		outbound:  outbound,
		sink:      sink,
		sinkStage: stage,
	}, nil
}

// Listen receives datagrams and enqueues them until ctx is cancelled.
// ConnectionRefused is logged and tolerated; other socket errors escape to
// the supervisor.
func (c *DialConnector) Listen(ctx context.Context) error {
	log.Debug().Str("connector", c.name).Msgf("started listener for %s:%d", c.endpoint, c.port)

	buf := make([]byte, MaxRecvBuffer)
	for ctx.Err() == nil {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, syscall.ECONNREFUSED) {
				log.Error().Str("connector", c.name).Msgf("incoming connection refused %s:%d", c.endpoint, c.port)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s receive: %w", c.name, err)
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		log.Trace().Str("connector", c.name).Int("size", n).Msgf("received datagram from %s:%d", c.endpoint, c.port)
		c.sink.Write(c.sinkStage, frame)
		c.inbound.Enqueue(frame)
	}
	return nil
}

// Transmit drains the outbound queue onto the connected socket until ctx is
// cancelled. A refused send loses the frame; there is no retransmission.
func (c *DialConnector) Transmit(ctx context.Context) error {
	log.Info().Str("connector", c.name).Msgf("started transmitter to %s:%d", c.endpoint, c.port)

	for ctx.Err() == nil {
		frame, ok := c.outbound.Dequeue()
		if !ok {
			idle(ctx)
			continue
		}
		if _, err := c.conn.Write(frame); err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				log.Error().Str("connector", c.name).Msgf("connection refused by %s:%d", c.endpoint, c.port)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s send: %w", c.name, err)
		}
		log.Debug().Str("connector", c.name).Int("size", len(frame)).Msgf("transmitted frame to %s:%d", c.endpoint, c.port)
	}
	return nil
}

// Close releases the socket, unblocking both workers.
func (c *DialConnector) Close() error { return c.conn.Close() }

// LocalAddr reports the socket's local address.
func (c *DialConnector) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// BoundConnector is the bind variant: it has no fixed peer and learns the
// transmit endpoint from the source of the most recent inbound datagram.
type BoundConnector struct {
	name     string
	endpoint string
	port     int
	conn     *net.UDPConn

	inbound  *queue.Ring
	outbound *queue.Ring

	// Written by the listener, read by the transmitter.
	peer atomic.Pointer[net.UDPAddr]
	// Datagram counters per source address, for transition logs.
	activity *cache.Cache

	sink      *capture.Capture
	sinkStage capture.Stage
}

// BindUDP opens an IPv4 UDP socket bound to endpoint:port.
func BindUDP(name, endpoint string, port int, inbound, outbound *queue.Ring, sink *capture.Capture, stage capture.Stage) (*BoundConnector, error) {
	laddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", endpoint, port))
	if err != nil {
		return nil, fmt.Errorf("resolve %s endpoint: %w", name, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s socket: %w", name, err)
	}
	return &BoundConnector{
		name:      name,
		endpoint:  endpoint,
		port:      port,
		conn:      conn,
		inbound:   inbound,
		outbound:  outbound,
		activity:  cache.New(peerActivityTTL, 2*peerActivityTTL),
		sink:      sink,
		sinkStage: stage,
	}, nil
}

// Listen receives datagrams, learns the peer address from their source and
// enqueues the payload.
func (c *BoundConnector) Listen(ctx context.Context) error {
	log.Debug().Str("connector", c.name).Msgf("started listener on %s:%d", c.endpoint, c.port)

	buf := make([]byte, MaxRecvBuffer)
	for ctx.Err() == nil {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, syscall.ECONNREFUSED) {
				log.Error().Str("connector", c.name).Msgf("incoming connection refused %s:%d", c.endpoint, c.port)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s receive: %w", c.name, err)
		}

		c.observePeer(addr)

		frame := make([]byte, n)
		copy(frame, buf[:n])
		log.Trace().Str("connector", c.name).Int("size", n).Msgf("received datagram from %s", addr)
		c.sink.Write(c.sinkStage, frame)
		c.inbound.Enqueue(frame)
	}
	return nil
}

// observePeer stores addr as the current transmit endpoint, logging when it
// differs from the previous one, and bumps the activity counter.
func (c *BoundConnector) observePeer(addr *net.UDPAddr) {
	old := c.peer.Load()
	switch {
	case old == nil:
		log.Info().Str("connector", c.name).Msgf("initial transmit endpoint is set to %s", addr)
	case old.String() != addr.String():
		evt := log.Info().Str("connector", c.name)
		if n, found := c.activity.Get(old.String()); found {
			evt = evt.Uint64("previous_datagrams", n.(uint64))
		}
		evt.Msgf("transmit endpoint is changing from %s to %s", old, addr)
	}
	c.peer.Store(addr)

	key := addr.String()
	count := uint64(1)
	if n, found := c.activity.Get(key); found {
		count = n.(uint64) + 1
	}
	c.activity.Set(key, count, cache.DefaultExpiration)
}

// Transmit waits until the listener has learned a peer, then drains the
// outbound queue toward the current peer address.
func (c *BoundConnector) Transmit(ctx context.Context) error {
	log.Info().Str("connector", c.name).Msgf("started transmitter from %s:%d", c.endpoint, c.port)

	// No peer is known until the first datagram arrives.
	for c.peer.Load() == nil {
		if !idle(ctx) {
			return nil
		}
	}

	for ctx.Err() == nil {
		frame, ok := c.outbound.Dequeue()
		if !ok {
			idle(ctx)
			continue
		}
		peer := c.peer.Load()
		if _, err := c.conn.WriteToUDP(frame, peer); err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				log.Error().Str("connector", c.name).Msgf("connection refused by %s", peer)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s send: %w", c.name, err)
		}
		log.Debug().Str("connector", c.name).Int("size", len(frame)).Msgf("transmitted frame to %s", peer)
	}
	return nil
}

// Close releases the socket, unblocking both workers.
func (c *BoundConnector) Close() error { return c.conn.Close() }

// LocalAddr reports the socket's bound address.
func (c *BoundConnector) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// PeerAddr reports the currently learned transmit endpoint, or nil.
func (c *BoundConnector) PeerAddr() *net.UDPAddr { return c.peer.Load() }

// idle sleeps one poll interval; it reports false once ctx is cancelled.
func idle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(pollInterval):
		return true
	}
}
