package signer

import (
	"sync"

	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/ledger"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/transport"
	"github.com/status-im/hwsigner-go/types"
)

type fakeChannel struct {
	mu     sync.Mutex
	closes int
}

func (c *fakeChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	return &apdu.Response{Sw: apdu.SwOK}, nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	return nil
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closes
}

// fakeDevice backs every session its factory builds, so state survives session rebuilds.
type fakeDevice struct {
	mu sync.Mutex

	addressErr error
	opErr      error
	version    types.Version
	release    chan struct{}

	sessions     int
	probes       int
	addressCalls int
	signCalls    int
	disconnects  int
	lastPayload  []byte
	lastSelector ledger.Selector
	lastOffsets  ledger.Offsets
}

func (d *fakeDevice) factory(c transport.Channel, network registry.Network) (ledger.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessions++
	return &fakeSession{d: d, c: c, family: network.Family}, nil
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(d)
}

func (d *fakeDevice) get(fn func(d *fakeDevice) int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fn(d)
}

type fakeSession struct {
	d      *fakeDevice
	c      transport.Channel
	family registry.Family
}

func (s *fakeSession) Family() registry.Family {
	return s.family
}

func (s *fakeSession) GetAddress(confirm bool, sel ledger.Selector, off ledger.Offsets) (types.Address, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if !confirm && sel == (ledger.Selector{}) && off == (ledger.Offsets{}) {
		s.d.probes++
	}

	s.d.addressCalls++
	s.d.lastSelector = sel
	s.d.lastOffsets = off

	return types.Address{Address: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"}, s.d.addressErr
}

func (s *fakeSession) GetVersion() (types.Version, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	return s.d.version, s.d.opErr
}

func (s *fakeSession) SignTransaction(payload []byte, sel ledger.Selector, off ledger.Offsets) (types.Signature, error) {
	return s.sign(payload, sel, off)
}

func (s *fakeSession) SignMessage(payload []byte, sel ledger.Selector, off ledger.Offsets) (types.Signature, error) {
	return s.sign(payload, sel, off)
}

func (s *fakeSession) sign(payload []byte, sel ledger.Selector, off ledger.Offsets) (types.Signature, error) {
	s.d.mu.Lock()
	s.d.signCalls++
	s.d.lastPayload = payload
	s.d.lastSelector = sel
	s.d.lastOffsets = off
	release := s.d.release
	s.d.mu.Unlock()

	if release != nil {
		<-release
	}

	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	return types.Signature{Signature: "0x00"}, s.d.opErr
}

func (s *fakeSession) Disconnect() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	s.d.disconnects++
	return s.c.Close()
}
