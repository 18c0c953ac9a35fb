package core

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// SignatureLength is the size of a raw [R || S || V] signature
	SignatureLength = 65

	// MaxMessageLength is the longest message a single length byte can describe
	MaxMessageLength = 255

	minPayloadLength = 1 + SignatureLength
)

// Payload is a decoded proof-of-approval blob
type Payload struct {
	Message   string
	Signature string // 0x-prefixed hex of the 65 signature bytes
}

// SignatureBytes returns the raw signature
func (p Payload) SignatureBytes() ([]byte, error) {
	return decodeHex(p.Signature)
}

// EncodePayload lays out message and signature as [len][message][signature]
// and returns the result as 0x-prefixed lowercase hex.
func EncodePayload(message, signature string) (string, error) {
	msg := []byte(message)
	if len(msg) > MaxMessageLength {
		return "", fmt.Errorf("%w: got %d bytes", ErrMessageTooLong, len(msg))
	}

	sig, err := decodeHex(signature)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", ErrInvalidSignatureLength)
	}
	if len(sig) != SignatureLength {
		return "", fmt.Errorf("%w: got %d bytes", ErrInvalidSignatureLength, len(sig))
	}

	raw := make([]byte, 0, 1+len(msg)+SignatureLength)
	raw = append(raw, byte(len(msg)))
	raw = append(raw, msg...)
	raw = append(raw, sig...)
	return hexutil.Encode(raw), nil
}

// DecodePayload is the inverse of EncodePayload. Bytes after the signature are ignored.
func DecodePayload(input string) (Payload, error) {
	raw, err := decodeHex(input)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) < minPayloadLength {
		return Payload{}, fmt.Errorf("%w: input too short (%d bytes)", ErrMalformedPayload, len(raw))
	}

	msgLen := int(raw[0])
	if len(raw)-1 < msgLen+SignatureLength {
		return Payload{}, fmt.Errorf("%w: input too short for declared length %d", ErrMalformedPayload, msgLen)
	}

	msg := raw[1 : 1+msgLen]
	sig := raw[1+msgLen : 1+msgLen+SignatureLength]

	return Payload{
		Message:   string(msg),
		Signature: hexutil.Encode(sig),
	}, nil
}

// decodeHex accepts hex with or without the 0x prefix
func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
