package codec

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Protocol selects the disguise applied to tunneled frames.
type Protocol string

const (
	ProtocolDNS  Protocol = "dns"
	ProtocolNone Protocol = "none"
)

// ParseProtocol validates a protocol name from configuration.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolDNS, ProtocolNone:
		return Protocol(s), nil
	default:
		return "", fmt.Errorf("invalid packet type %q", s)
	}
}

// Codec is the assemble/disassemble pair for one tunnel endpoint: payload
// encoding followed by the protocol disguise, and the exact inverse.
type Codec struct {
	protocol Protocol
	encoding Encoding
	dns      *DNS
}

// Options configures a Codec. RecordType and RecordClass only apply to the
// DNS protocol and default to "A" / "IN".
type Options struct {
	Protocol    string
	Encoding    string
	RecordType  string
	RecordClass string
}

// New validates the configuration and builds a Codec. Invalid protocol or
// encoding names are fatal here, never per-frame.
func New(opts Options) (*Codec, error) {
	protocol, err := ParseProtocol(opts.Protocol)
	if err != nil {
		return nil, err
	}
	encoding, err := ParseEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	c := &Codec{protocol: protocol, encoding: encoding}
	if protocol == ProtocolDNS {
		recordType := opts.RecordType
		if recordType == "" {
			recordType = "A"
		}
		recordClass := opts.RecordClass
		if recordClass == "" {
			recordClass = "IN"
		}
		if c.dns, err = NewDNS(recordType, recordClass); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Assemble encodes a raw frame and wraps it in the disguise wire form.
func (c *Codec) Assemble(frame []byte) []byte {
	encoded := Encode(c.encoding, frame)
	if c.protocol == ProtocolDNS {
		return c.dns.Assemble(encoded)
	}
	return encoded
}

// Disassemble recovers the raw frame from a disguised wire buffer. Parse and
// decode failures drop the frame by reporting absent.
func (c *Codec) Disassemble(wire []byte) ([]byte, bool) {
	encoded := wire
	if c.protocol == ProtocolDNS {
		var ok bool
		if encoded, ok = Disassemble(wire); !ok {
			return nil, false
		}
	}

	frame, err := Decode(c.encoding, encoded)
	if err != nil {
		log.Error().Err(err).Str("encoding", string(c.encoding)).Msg("dropping undecodable frame")
		return nil, false
	}
	return frame, true
}
