package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/derivationpath"
	"github.com/status-im/hwsigner-go/deviceerror"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/transport"
	"github.com/status-im/hwsigner-go/types"
)

var logger = log.New("package", "hwsigner-go/ledger")

var (
	ErrInvalidDerivation = errors.New("derivation index must be lower than 2^31")
	ErrEmptyPayload      = errors.New("payload is empty")
	ErrDisconnected      = fmt.Errorf("session disconnected: %w", deviceerror.ErrTransportUnavailable)
)

// Selector picks the key used for an operation. The zero value selects account 0, change 0, index 0.
type Selector struct {
	Account      uint32
	Change       uint32
	AddressIndex uint32
}

// Offsets are added to the Selector indices at call time.
type Offsets struct {
	Account uint32
	Address uint32
}

func (s Selector) resolve(o Offsets) (account, change, index uint32, err error) {
	account = s.Account + o.Account
	index = s.AddressIndex + o.Address
	change = s.Change

	if account < s.Account || index < s.AddressIndex ||
		derivationpath.IsHardened(account) || derivationpath.IsHardened(change) || derivationpath.IsHardened(index) {
		return 0, 0, 0, ErrInvalidDerivation
	}

	return account, change, index, nil
}

// Session is a signing app running on the device. There is one implementation per
// registry.Family; New picks it.
type Session interface {
	Family() registry.Family
	// GetAddress derives an address. With confirm set, the call blocks until the user
	// accepts or rejects it on the device.
	GetAddress(confirm bool, sel Selector, off Offsets) (types.Address, error)
	GetVersion() (types.Version, error)
	SignTransaction(payload []byte, sel Selector, off Offsets) (types.Signature, error)
	// SignMessage signs payload wrapped in the family's message envelope.
	SignMessage(payload []byte, sel Selector, off Offsets) (types.Signature, error)
	// Disconnect closes the underlying channel. Calling it again is a no-op.
	Disconnect() error
}

// New returns the Session for network's family over c.
func New(c transport.Channel, network registry.Network) (Session, error) {
	if c == nil {
		return nil, deviceerror.ErrTransportUnavailable
	}

	switch network.Family {
	case registry.FamilySubstrate:
		return newSubstrateApp(c, network), nil
	case registry.FamilyEVM:
		return newEVMApp(c, network), nil
	default:
		return nil, fmt.Errorf("%w: family %q", deviceerror.ErrUnsupportedChain, network.Family)
	}
}

// commandSet holds the channel shared by the app implementations.
type commandSet struct {
	c       transport.Channel
	network registry.Network

	mu     sync.Mutex
	closed bool
}

func (cs *commandSet) send(cmd *apdu.Command) ([]byte, error) {
	cs.mu.Lock()
	closed := cs.closed
	cs.mu.Unlock()

	if closed {
		return nil, ErrDisconnected
	}

	resp, err := cs.c.Send(cmd)
	if err = cs.checkOK(resp, err); err != nil {
		return nil, err
	}

	return apdu.NormalizeBytes(resp.Data)
}

func (cs *commandSet) Disconnect() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return nil
	}

	cs.closed = true
	logger.Debug("closing device channel", "app", cs.network.AppName)

	return cs.c.Close()
}

func (cs *commandSet) checkOK(resp *apdu.Response, err error, allowedResponses ...uint16) error {
	if err != nil {
		return err
	}

	if resp == nil {
		return apdu.ErrBadRawResponse
	}

	if len(allowedResponses) == 0 {
		allowedResponses = []uint16{apdu.SwOK}
	}

	for _, code := range allowedResponses {
		if code == resp.Sw {
			return nil
		}
	}

	return apdu.NewErrBadResponse(resp.Sw, "")
}

// sendChunks sends cmds in order and returns the reply of the last one.
func (cs *commandSet) sendChunks(cmds []*apdu.Command) ([]byte, error) {
	var (
		reply []byte
		err   error
	)

	for _, cmd := range cmds {
		if reply, err = cs.send(cmd); err != nil {
			return nil, err
		}
	}

	return reply, nil
}
