package transport

import (
	"errors"

	"github.com/status-im/hwsigner-go/apdu"
)

var ErrClosed = errors.New("transport closed")

// Channel is an open link to one device with a Send method to send apdu commands and receive
// apdu responses. Implementations are supplied by the caller.
type Channel interface {
	Send(*apdu.Command) (*apdu.Response, error)
	Close() error
}
