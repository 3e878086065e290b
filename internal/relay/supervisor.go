package relay

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dnsveil/internal/capture"
	"dnsveil/internal/codec"
	"dnsveil/internal/config"
	"dnsveil/internal/queue"
)

// restartDelay spaces restart attempts so a persistent fault cannot spin a
// worker hot.
const restartDelay = time.Second

// Supervisor owns the four queues, the two connectors and the converter,
// and keeps the six pipeline workers alive until shutdown.
type Supervisor struct {
	mode   config.Mode
	local  *DialConnector
	remote Connector
	conv   *Converter

	toLocal  *queue.Ring
	toRemote *queue.Ring
}

type worker struct {
	name string
	run  func(context.Context) error
	// Drained when the worker is restarted after a hard error; frames
	// queued before the fault are considered stale.
	reset *queue.Ring
}

// New builds the full pipeline for the configured mode. The client socket
// always connects to the local application; the server socket connects to
// the peer relay in client mode and binds to learn its peer in server mode.
func New(cfg *config.Config, sink *capture.Capture) (*Supervisor, error) {
	cdc, err := codec.New(codec.Options{
		Protocol:    cfg.Packet.Protocol,
		Encoding:    cfg.Packet.Encoding,
		RecordType:  cfg.Packet.RecordType,
		RecordClass: cfg.Packet.RecordClass,
	})
	if err != nil {
		return nil, err
	}

	fromLocal := queue.NewRing("client->codec", queue.DefaultCapacity)
	toLocal := queue.NewRing("codec->client", queue.DefaultCapacity)
	fromRemote := queue.NewRing("server->codec", queue.DefaultCapacity)
	toRemote := queue.NewRing("codec->server", queue.DefaultCapacity)

	local, err := DialUDP("client", cfg.Client.Endpoint, cfg.Client.Port,
		fromLocal, toLocal, sink, capture.StageOutboundRaw)
	if err != nil {
		return nil, err
	}

	var remote Connector
	switch cfg.Mode {
	case config.ModeClient:
		remote, err = DialUDP("server", cfg.Server.Endpoint, cfg.Server.Port,
			fromRemote, toRemote, sink, capture.StageInboundRaw)
	case config.ModeServer:
		remote, err = BindUDP("server", cfg.Server.Endpoint, cfg.Server.Port,
			fromRemote, toRemote, sink, capture.StageInboundRaw)
	default:
		err = fmt.Errorf("invalid mode %q", cfg.Mode)
	}
	if err != nil {
		local.Close()
		return nil, err
	}

	return &Supervisor{
		mode:     cfg.Mode,
		local:    local,
		remote:   remote,
		conv:     NewConverter(cdc, fromLocal, toRemote, fromRemote, toLocal, sink),
		toLocal:  toLocal,
		toRemote: toRemote,
	}, nil
}

// Run spawns the six workers and blocks until ctx is cancelled, then closes
// both sockets and waits for the workers to drain out.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info().Str("mode", string(s.mode)).Msg("starting relay pipeline")

	workers := []worker{
		{name: "client-listener", run: s.local.Listen},
		{name: "client-transmitter", run: s.local.Transmit, reset: s.toLocal},
		{name: "server-listener", run: s.remote.Listen},
		{name: "server-transmitter", run: s.remote.Transmit, reset: s.toRemote},
		{name: "assembler", run: s.conv.Assemble},
		{name: "disassembler", run: s.conv.Disassemble},
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w worker) {
			defer wg.Done()
			s.supervise(ctx, w)
		}(w)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	s.local.Close()
	s.remote.Close()
	wg.Wait()
	return nil
}

// supervise keeps one worker alive: failures and clean returns both restart
// the worker body until ctx is cancelled.
func (s *Supervisor) supervise(ctx context.Context, w worker) {
	for ctx.Err() == nil {
		err := runGuarded(ctx, w)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Error().Err(err).Str("worker", w.name).Msg("worker failed, restarting")
			if w.reset != nil {
				w.reset.Clear()
			}
		} else {
			log.Error().Str("worker", w.name).Msg("worker exited cleanly, restarting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

// runGuarded invokes the worker body, converting panics into errors with the
// stack logged.
func runGuarded(ctx context.Context, w worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("worker", w.name).Str("stack", string(debug.Stack())).Msgf("worker panicked: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.run(ctx)
}
