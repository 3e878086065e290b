package codec

import (
	"encoding/ascii85"
	"encoding/base64"
	"fmt"
	"net/url"
)

// Encoding selects the payload transform applied before assembly and
// inverted after disassembly. Both tunnel endpoints must agree.
type Encoding string

const (
	EncodingNone   Encoding = "none"
	EncodingBase64 Encoding = "base64"
	EncodingBase85 Encoding = "base85"
)

// ParseEncoding validates an encoding name from configuration.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingNone, EncodingBase64, EncodingBase85:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("invalid encoding %q", s)
	}
}

// Encode transforms a raw payload. URL-safe base64 keeps the byte domain
// inside what synthetic DNS labels tolerate; base85 is denser but needs a
// percent-encoding pass to stay within unreserved URL characters.
func Encode(enc Encoding, payload []byte) []byte {
	switch enc {
	case EncodingBase64:
		out := make([]byte, base64.URLEncoding.EncodedLen(len(payload)))
		base64.URLEncoding.Encode(out, payload)
		return out
	case EncodingBase85:
		buf := make([]byte, ascii85.MaxEncodedLen(len(payload)))
		n := ascii85.Encode(buf, payload)
		return []byte(url.QueryEscape(string(buf[:n])))
	default:
		return payload
	}
}

// Decode is the exact inverse of Encode. Rejected input returns an error and
// the caller drops the frame.
func Decode(enc Encoding, payload []byte) ([]byte, error) {
	switch enc {
	case EncodingBase64:
		out := make([]byte, base64.URLEncoding.DecodedLen(len(payload)))
		n, err := base64.URLEncoding.Decode(out, payload)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		return out[:n], nil
	case EncodingBase85:
		unescaped, err := url.QueryUnescape(string(payload))
		if err != nil {
			return nil, fmt.Errorf("percent decode: %w", err)
		}
		// A 'z' group decodes to four bytes, so size for the worst case.
		out := make([]byte, 4*len(unescaped)+4)
		ndst, _, err := ascii85.Decode(out, []byte(unescaped), true)
		if err != nil {
			return nil, fmt.Errorf("base85 decode: %w", err)
		}
		return out[:ndst], nil
	default:
		return payload, nil
	}
}
