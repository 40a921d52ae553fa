package ledger

import (
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/transport"
	"github.com/status-im/hwsigner-go/types"
)

// evmApp speaks the Ledger Ethereum app protocol.
type evmApp struct {
	*commandSet
}

func newEVMApp(c transport.Channel, network registry.Network) *evmApp {
	return &evmApp{
		commandSet: &commandSet{c: c, network: network},
	}
}

func (a *evmApp) Family() registry.Family {
	return registry.FamilyEVM
}

func (a *evmApp) path(sel Selector, off Offsets) (string, error) {
	account, change, index, err := sel.resolve(off)
	if err != nil {
		return "", err
	}

	return EthereumPath(account, change, index), nil
}

func (a *evmApp) GetAddress(confirm bool, sel Selector, off Offsets) (types.Address, error) {
	path, err := a.path(sel, off)
	if err != nil {
		return types.Address{}, err
	}

	cmd, err := NewCommandEthereumGetAddress(path, confirm)
	if err != nil {
		return types.Address{}, err
	}

	reply, err := a.send(cmd)
	if err != nil {
		return types.Address{}, err
	}

	return types.ParseEthereumAddress(reply)
}

func (a *evmApp) GetVersion() (types.Version, error) {
	reply, err := a.send(NewCommandEthereumGetConfiguration())
	if err != nil {
		return types.Version{}, err
	}

	return types.ParseEthereumConfiguration(reply)
}

func (a *evmApp) SignTransaction(payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	return a.sign(InsEthereumSignTransaction, payload, sel, off)
}

func (a *evmApp) SignMessage(payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	return a.sign(InsEthereumSignPersonalMessage, PersonalMessageEnvelope(payload), sel, off)
}

func (a *evmApp) sign(ins uint8, payload []byte, sel Selector, off Offsets) (types.Signature, error) {
	path, err := a.path(sel, off)
	if err != nil {
		return types.Signature{}, err
	}

	cmds, err := NewCommandsEthereumSign(ins, path, payload)
	if err != nil {
		return types.Signature{}, err
	}

	reply, err := a.sendChunks(cmds)
	if err != nil {
		return types.Signature{}, err
	}

	return types.ParseEthereumSignature(reply)
}
