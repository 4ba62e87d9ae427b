package swarm

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"

	"github.com/ant-overlay/antcore/internal/protocol"
)

// sendAndAwait opens a stream to id on proto, writes req, reads one
// response envelope, and closes the stream — the request/response unit
// every outbound RPC in this package is built from. Grounded on
// stream_handler.go's SendDirectMessage (open stream, write, read ACK,
// close) generalized from the fire-and-wait-for-ack swap protocol to a
// request/response RPC shape.
func (d *Driver) sendAndAwait(ctx context.Context, id peer.ID, proto libp2pprotocol.ID, req protocol.Envelope) (protocol.Envelope, error) {
	stream, err := d.host.NewStream(ctx, id, proto)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("swarm: open stream to %s: %w", id, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	} else {
		stream.SetDeadline(time.Now().Add(30 * time.Second))
	}

	if err := protocol.WriteEnvelope(stream, req); err != nil {
		return protocol.Envelope{}, fmt.Errorf("swarm: write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return protocol.Envelope{}, fmt.Errorf("swarm: close write side: %w", err)
	}

	resp, err := protocol.ReadEnvelope(bufio.NewReader(stream))
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("swarm: read response: %w", err)
	}
	return resp, nil
}

// readOneEnvelope reads exactly one framed envelope from an inbound
// stream, used by every handle* method before dispatching on its type.
func readOneEnvelope(s network.Stream) (protocol.Envelope, error) {
	s.SetReadDeadline(time.Now().Add(30 * time.Second))
	return protocol.ReadEnvelope(bufio.NewReader(s))
}

// writeResponse frames and writes resp to an inbound stream.
func writeResponse(s network.Stream, resp protocol.Envelope) error {
	s.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return protocol.WriteEnvelope(s, resp)
}
