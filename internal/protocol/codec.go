package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/multiformats/go-varint"
)

// MaxMessageSize bounds a single framed message, generalizing the
// teacher's fixed 1MiB stream_handler.go cap to the larger bodies a
// ReplicateFetchResp full of chunk payloads can carry.
const MaxMessageSize = 8 * 1024 * 1024

// WriteEnvelope frames and writes env to w: a varint length prefix
// followed by the JSON-encoded envelope, generalizing
// stream_handler.go's fixed 4-byte length prefix to a variable-width
// prefix (multiformats/go-varint, the same library libp2p's own
// go-msgio stream framing is built on).
func WriteEnvelope(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("protocol: envelope too large: %d > %d", len(body), MaxMessageSize)
	}

	prefix := varint.ToUvarint(uint64(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("protocol: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}

// ReadEnvelope reads one varint-framed envelope from r.
func ReadEnvelope(r io.ByteReader) (Envelope, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: read length prefix: %w", err)
	}
	if length > MaxMessageSize {
		return Envelope{}, fmt.Errorf("protocol: envelope too large: %d > %d", length, MaxMessageSize)
	}

	body := make([]byte, length)
	for i := range body {
		b, err := r.ReadByte()
		if err != nil {
			return Envelope{}, fmt.Errorf("protocol: read body: %w", err)
		}
		body[i] = b
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	return env, nil
}

// Pack marshals payload into a type-tagged Envelope ready for
// WriteEnvelope.
func Pack(msgType string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return Envelope{Type: msgType, Timestamp: time.Now(), Payload: body}, nil
}

// Unpack decodes an Envelope's Payload into dst.
func Unpack(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("protocol: unmarshal payload for type %q: %w", env.Type, err)
	}
	return nil
}
