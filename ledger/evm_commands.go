package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/derivationpath"
)

const (
	ClaEthereum = 0xE0

	InsEthereumGetAddress          = 0x02
	InsEthereumSignTransaction     = 0x04
	InsEthereumGetConfiguration    = 0x06
	InsEthereumSignPersonalMessage = 0x08

	P1EthereumGetAddressSilent  = 0x00
	P1EthereumGetAddressConfirm = 0x01
	P1EthereumFirstChunk        = 0x00
	P1EthereumMoreChunks        = 0x80
	P2EthereumNoChainCode       = 0x00

	ethereumChunkSize = apdu.MaxDataLength
)

// EthereumPath returns the BIP44 path used by the Ethereum app.
func EthereumPath(account, change, index uint32) string {
	return fmt.Sprintf("m/44'/60'/%d'/%d/%d", account, change, index)
}

// serializeEthereumPath encodes a path as a segment count followed by big endian uint32 segments.
func serializeEthereumPath(pathStr string) ([]byte, error) {
	_, path, err := derivationpath.Decode(pathStr)
	if err != nil {
		return nil, err
	}

	data := new(bytes.Buffer)
	data.WriteByte(byte(len(path)))
	for _, segment := range path {
		if err := binary.Write(data, binary.BigEndian, segment); err != nil {
			return nil, err
		}
	}

	return data.Bytes(), nil
}

// PersonalMessageEnvelope prefixes message with its big endian uint32 length, the framing the
// Ethereum app expects before it applies the "\x19Ethereum Signed Message:\n" prefix.
func PersonalMessageEnvelope(message []byte) []byte {
	out := make([]byte, 4, 4+len(message))
	binary.BigEndian.PutUint32(out, uint32(len(message)))
	return append(out, message...)
}

func NewCommandEthereumGetConfiguration() *apdu.Command {
	return apdu.NewCommand(
		ClaEthereum,
		InsEthereumGetConfiguration,
		0,
		0,
		[]byte{},
	)
}

func NewCommandEthereumGetAddress(pathStr string, confirm bool) (*apdu.Command, error) {
	path, err := serializeEthereumPath(pathStr)
	if err != nil {
		return nil, err
	}

	p1 := uint8(P1EthereumGetAddressSilent)
	if confirm {
		p1 = P1EthereumGetAddressConfirm
	}

	return apdu.NewCommand(
		ClaEthereum,
		InsEthereumGetAddress,
		p1,
		P2EthereumNoChainCode,
		path,
	), nil
}

// NewCommandsEthereumSign streams path and payload in 255 byte chunks. ins is
// InsEthereumSignTransaction or InsEthereumSignPersonalMessage; for the latter payload must
// already carry the PersonalMessageEnvelope.
func NewCommandsEthereumSign(ins uint8, pathStr string, payload []byte) ([]*apdu.Command, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	path, err := serializeEthereumPath(pathStr)
	if err != nil {
		return nil, err
	}

	data := append(path, payload...)
	chunks := apdu.Chunks(data, ethereumChunkSize)
	cmds := make([]*apdu.Command, 0, len(chunks))

	for i, chunk := range chunks {
		p1 := uint8(P1EthereumMoreChunks)
		if i == 0 {
			p1 = P1EthereumFirstChunk
		}

		cmds = append(cmds, apdu.NewCommand(ClaEthereum, ins, p1, 0, chunk))
	}

	return cmds, nil
}
