package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	msg := FindNodeMsg{Target: [32]byte{1, 2, 3}}
	env, err := Pack(TypeFindNode, msg)
	require.NoError(t, err)
	require.Equal(t, TypeFindNode, env.Type)

	var decoded FindNodeMsg
	require.NoError(t, Unpack(env, &decoded))
	require.Equal(t, msg, decoded)
}

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	env, err := Pack(TypeGetRecord, GetRecordMsg{Key: [32]byte{9}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env))

	reader := bufio.NewReader(&buf)
	got, err := ReadEnvelope(reader)
	require.NoError(t, err)
	require.Equal(t, env.Type, got.Type)

	var msg GetRecordMsg
	require.NoError(t, Unpack(got, &msg))
	require.Equal(t, [32]byte{9}, msg.Key)
}

func TestWriteEnvelopeRejectsOversizedBody(t *testing.T) {
	big := strings.Repeat("x", MaxMessageSize+1)
	env, err := Pack(TypeGossip, GossipMsg{Topic: "t", Payload: []byte(big)})
	require.NoError(t, err)

	var buf bytes.Buffer
	err = WriteEnvelope(&buf, env)
	require.Error(t, err)
}

func TestReadEnvelopeMultipleMessagesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	first, _ := Pack(TypeFindNode, FindNodeMsg{Target: [32]byte{1}})
	second, _ := Pack(TypeFindNode, FindNodeMsg{Target: [32]byte{2}})
	require.NoError(t, WriteEnvelope(&buf, first))
	require.NoError(t, WriteEnvelope(&buf, second))

	reader := bufio.NewReader(&buf)
	got1, err := ReadEnvelope(reader)
	require.NoError(t, err)
	got2, err := ReadEnvelope(reader)
	require.NoError(t, err)

	var m1, m2 FindNodeMsg
	require.NoError(t, Unpack(got1, &m1))
	require.NoError(t, Unpack(got2, &m2))
	require.Equal(t, [32]byte{1}, m1.Target)
	require.Equal(t, [32]byte{2}, m2.Target)
}
