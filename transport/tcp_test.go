package transport

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/status-im/hwsigner-go/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPChannelSend(t *testing.T) {
	client, server := net.Pipe()
	c := NewTCPChannel(client)

	received := make(chan []byte, 1)
	go func() {
		header := make([]byte, 4)
		if _, err := io.ReadFull(server, header); err != nil {
			return
		}

		cmd := make([]byte, binary.BigEndian.Uint32(header))
		if _, err := io.ReadFull(server, cmd); err != nil {
			return
		}
		received <- cmd

		reply := []byte{0, 0, 0, 2, 0xCA, 0xFE, 0x90, 0x00}
		server.Write(reply)
	}()

	resp, err := c.Send(apdu.NewCommand(0xE0, 0x06, 0, 0, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE0, 0x06, 0, 0, 0}, <-received)
	assert.Equal(t, []byte{0xCA, 0xFE}, resp.Data)
	assert.True(t, resp.IsOK())
}

func TestTCPChannelClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewTCPChannel(client)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	_, err := c.Send(apdu.NewCommand(0xE0, 0x06, 0, 0, nil))
	assert.Equal(t, ErrClosed, err)
}

func TestTCPChannelRejectsOversizedReply(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewTCPChannel(client)
	defer c.Close()

	go func() {
		frame := make([]byte, 9)
		if _, err := io.ReadFull(server, frame); err != nil {
			return
		}

		server.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}()

	_, err := c.Send(apdu.NewCommand(0xE0, 0x06, 0, 0, nil))
	assert.Equal(t, ErrReplyTooLong, err)
}
