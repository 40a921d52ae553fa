package ledger

import (
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/transport"
	"github.com/status-im/hwsigner-go/types"
)

// substrateApp speaks the generic substrate app protocol shared by the Polkadot family apps.
type substrateApp struct {
	*commandSet
}

func newSubstrateApp(c transport.Channel, network registry.Network) *substrateApp {
	return &substrateApp{
		commandSet: &commandSet{c: c, network: network},
	}
}

func (a *substrateApp) Family() registry.Family {
	return registry.FamilySubstrate
}

func (a *substrateApp) path(sel Selector, off Offsets) (string, error) {
	account, change, index, err := sel.resolve(off)
	if err != nil {
		return "", err
	}

	return SubstratePath(a.network.CoinType, account, change, index), nil
}

func (a *substrateApp) GetAddress(confirm bool, sel Selector, off Offsets) (types.Address, error) {
	path, err := a.path(sel, off)
	if err != nil {
		return types.Address{}, err
	}

	cmd, err := NewCommandSubstrateGetAddress(a.network.Cla, path, confirm)
	if err != nil {
		return types.Address{}, err
	}

	reply, err := a.send(cmd)
	if err != nil {
		return types.Address{}, err
	}

	return types.ParseSubstrateAddress(reply)
}

func (a *substrateApp) GetVersion() (types.Version, error) {
	reply, err := a.send(NewCommandSubstrateGetVersion(a.network.Cla))
	if err != nil {
		return types.Version{}, err
	}

	return types.ParseSubstrateVersion(reply)
}

func (a *substrateApp) SignTransaction(payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	return a.sign(InsSubstrateSign, payload, sel, off)
}

func (a *substrateApp) SignMessage(payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	return a.sign(InsSubstrateSignRaw, WrapBytes(payload), sel, off)
}

func (a *substrateApp) sign(ins uint8, payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	path, err := a.path(sel, off)
	if err != nil {
		return types.Signature{}, err
	}

	cmds, err := NewCommandsSubstrateSign(a.network.Cla, ins, path, payload)
	if err != nil {
		return types.Signature{}, err
	}

	reply, err := a.sendChunks(cmds)
	if err != nil {
		return types.Signature{}, err
	}

	return types.ParseSubstrateSignature(reply)
}
