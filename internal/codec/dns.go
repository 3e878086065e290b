package codec

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

const (
	// MaxRecordLength is the number of payload bytes carried per question.
	MaxRecordLength = 60

	dnsHeaderLen = 12
	// QNAME terminator plus qtype and qclass trailing each question.
	questionTrailerLen = 5
)

// domainList holds the TLD labels appended to each question so the wire form
// resembles a plausible lookup. Disassembly strips them.
var domainList = []string{
	"com", "org", "net", "edu", "gov", "us", "uk",
	"ca", "de", "fr", "au", "jp", "in",
}

// DNS frames payloads across the question section of a synthetic query.
// Stateless; safe for concurrent use.
type DNS struct {
	qtype  uint16
	qclass uint16
}

// NewDNS builds a codec emitting the given record type and class. Names
// follow the registry tables ("A", "TXT", "IN", ...). The disassembler
// ignores both fields, so these only shape the outbound wire form.
func NewDNS(recordType, recordClass string) (*DNS, error) {
	qtype, ok := dns.StringToType[recordType]
	if !ok {
		return nil, fmt.Errorf("unknown DNS record type %q", recordType)
	}
	qclass, ok := dns.StringToClass[recordClass]
	if !ok {
		return nil, fmt.Errorf("unknown DNS class %q", recordClass)
	}
	return &DNS{qtype: qtype, qclass: qclass}, nil
}

// Assemble embeds payload into a DNS query wire buffer: one question per
// 60-byte chunk, each QNAME holding the chunk label, a random TLD label and
// the terminator. An empty payload yields a bare header with qdcount 0.
func (c *DNS) Assemble(payload []byte) []byte {
	numQuestions := (len(payload) + MaxRecordLength - 1) / MaxRecordLength

	// Rough size: every chunk label carries a length byte, a TLD of at most
	// five bytes with its length byte, and the five-byte trailer.
	wire := make([]byte, dnsHeaderLen, dnsHeaderLen+len(payload)+numQuestions*(questionTrailerLen+7))

	binary.BigEndian.PutUint16(wire[0:2], uint16(rand.Intn(65535)+1)) // transaction id
	// flags stay zero: standard query, opcode 0
	binary.BigEndian.PutUint16(wire[4:6], uint16(numQuestions))
	// ancount, nscount, arcount stay zero

	for i := 0; i < len(payload); i += MaxRecordLength {
		chunk := payload[i:min(i+MaxRecordLength, len(payload))]
		tld := domainList[rand.Intn(len(domainList))]

		wire = append(wire, byte(len(chunk)))
		wire = append(wire, chunk...)
		wire = append(wire, byte(len(tld)))
		wire = append(wire, tld...)
		wire = append(wire, 0x00)
		wire = binary.BigEndian.AppendUint16(wire, c.qtype)
		wire = binary.BigEndian.AppendUint16(wire, c.qclass)
	}
	return wire
}

// Disassemble walks a DNS wire buffer and recovers the payload chunks,
// stripping the trailing TLD label of every QNAME. Malformed input reports
// absent instead of failing.
func Disassemble(wire []byte) ([]byte, bool) {
	if len(wire) < dnsHeaderLen {
		log.Error().Int("size", len(wire)).Msg("disassemble: buffer shorter than DNS header")
		return nil, false
	}

	payload := make([]byte, 0, len(wire))
	var labels [][]byte
	i := dnsHeaderLen

	for i < len(wire) {
		labelLen := int(wire[i])
		i++

		if labelLen == 0 {
			// QNAME ends; the final label is the synthetic TLD.
			for _, label := range labels[:max(len(labels)-1, 0)] {
				payload = append(payload, label...)
			}
			labels = labels[:0]

			i += 4 // qtype + qclass
			if i > len(wire) {
				log.Error().Msg("disassemble: truncated question trailer")
				return nil, false
			}
			continue
		}

		if i+labelLen > len(wire) {
			log.Error().Msg("disassemble: label length exceeds buffer")
			return nil, false
		}
		labels = append(labels, wire[i:i+labelLen])
		i += labelLen
	}

	if len(labels) > 0 {
		log.Error().Msg("disassemble: unterminated QNAME")
		return nil, false
	}
	return payload, true
}
