package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/hwsigner-go/apdu"
)

var logger = log.New("package", "hwsigner-go/transport")

const (
	dialTimeout = 5 * time.Second

	// maxReplyData is the largest data field of a short APDU response.
	maxReplyData = 256
)

var ErrReplyTooLong = errors.New("device reply longer than a short apdu response")

// TCPChannel talks to a device emulator exposing the raw APDU socket.
//
// Commands are framed as a 4 byte big endian length followed by the APDU. Replies carry a
// 4 byte big endian length of the data, the data and the 2 byte status word.
type TCPChannel struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial connects to the emulator listening on addr.
func Dial(addr string) (*TCPChannel, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}

	logger.Debug("connected to device", "addr", addr)

	return NewTCPChannel(conn), nil
}

// NewTCPChannel wraps an established connection.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{conn: conn}
}

// Send implements Channel.
func (c *TCPChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	raw, err := cmd.Serialize()
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 4, 4+len(raw))
	binary.BigEndian.PutUint32(frame, uint32(len(raw)))
	frame = append(frame, raw...)

	logger.Trace("apdu sent", "data", hexutil.Bytes(frame))
	if _, err := c.conn.Write(frame); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length > maxReplyData {
		return nil, ErrReplyTooLong
	}

	reply := make([]byte, int(length)+2)
	if _, err := io.ReadFull(c.conn, reply); err != nil {
		return nil, err
	}

	logger.Trace("apdu received", "data", hexutil.Bytes(reply))

	return apdu.ParseResponse(reply)
}

// Close implements Channel. Closing twice is not an error.
func (c *TCPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return c.conn.Close()
}
