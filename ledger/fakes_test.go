package ledger

import (
	"encoding/hex"
	"sync"

	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/types"
)

func hexMustDecode(str string) []byte {
	out, _ := hex.DecodeString(str)
	return out
}

func okResponse(data []byte) *apdu.Response {
	return &apdu.Response{Data: data, Sw1: 0x90, Sw2: 0x00, Sw: apdu.SwOK}
}

func swResponse(sw uint16) *apdu.Response {
	return &apdu.Response{Sw1: uint8(sw >> 8), Sw2: uint8(sw), Sw: sw}
}

type fakeChannel struct {
	mu      sync.Mutex
	handler func(cmd *apdu.Command) (*apdu.Response, error)
	sent    []*apdu.Command
	closes  int
}

func (c *fakeChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, cmd)
	if c.handler == nil {
		return okResponse(nil), nil
	}

	return c.handler(cmd)
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sent)
}

type fakeSession struct {
	mu          sync.Mutex
	family      registry.Family
	err         error
	disconnects int
}

func (s *fakeSession) Family() registry.Family {
	return s.family
}

func (s *fakeSession) GetAddress(confirm bool, sel Selector, off Offsets) (types.Address, error) {
	return types.Address{Address: "addr"}, s.err
}

func (s *fakeSession) GetVersion() (types.Version, error) {
	return types.Version{}, s.err
}

func (s *fakeSession) SignTransaction(payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	return types.Signature{Signature: "0x01"}, s.err
}

func (s *fakeSession) SignMessage(payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	return types.Signature{Signature: "0x02"}, s.err
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnects++
	return nil
}
