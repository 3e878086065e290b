package relay

import (
	"context"

	"github.com/rs/zerolog/log"

	"dnsveil/internal/capture"
	"dnsveil/internal/codec"
	"dnsveil/internal/queue"
)

// Converter runs the assembler and disassembler workers between the four
// pipeline queues: raw local traffic is disguised toward the remote side,
// disguised remote traffic is recovered toward the local side.
type Converter struct {
	codec *codec.Codec

	fromLocal  *queue.Ring
	toRemote   *queue.Ring
	fromRemote *queue.Ring
	toLocal    *queue.Ring

	sink *capture.Capture
}

// NewConverter wires a codec between the pipeline queues.
func NewConverter(c *codec.Codec, fromLocal, toRemote, fromRemote, toLocal *queue.Ring, sink *capture.Capture) *Converter {
	return &Converter{
		codec:      c,
		fromLocal:  fromLocal,
		toRemote:   toRemote,
		fromRemote: fromRemote,
		toLocal:    toLocal,
		sink:       sink,
	}
}

// Assemble disguises raw outbound frames until ctx is cancelled. Drops by a
// full destination queue are tolerated.
func (p *Converter) Assemble(ctx context.Context) error {
	log.Debug().Msgf("started packet assembler (%s -> %s)", p.fromLocal.Name(), p.toRemote.Name())

	for ctx.Err() == nil {
		frame, ok := p.fromLocal.Dequeue()
		if !ok {
			idle(ctx)
			continue
		}

		wire := p.codec.Assemble(frame)
		log.Trace().Int("raw", len(frame)).Int("wire", len(wire)).Msg("assembled frame")
		p.sink.Write(capture.StageAssembled, wire)
		p.toRemote.Enqueue(wire)
	}
	return nil
}

// Disassemble recovers raw frames from inbound disguised traffic until ctx
// is cancelled. Unparseable or undecodable frames are dropped; the codec
// logs the reason.
func (p *Converter) Disassemble(ctx context.Context) error {
	log.Debug().Msgf("started packet disassembler (%s -> %s)", p.fromRemote.Name(), p.toLocal.Name())

	for ctx.Err() == nil {
		wire, ok := p.fromRemote.Dequeue()
		if !ok {
			idle(ctx)
			continue
		}

		frame, ok := p.codec.Disassemble(wire)
		if !ok {
			continue
		}
		log.Trace().Int("wire", len(wire)).Int("raw", len(frame)).Msg("disassembled frame")
		p.sink.Write(capture.StageDisassembled, frame)
		p.toLocal.Enqueue(frame)
	}
	return nil
}
