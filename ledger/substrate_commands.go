package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/derivationpath"
)

const (
	InsSubstrateGetVersion = 0x00
	InsSubstrateGetAddress = 0x01
	InsSubstrateSign       = 0x02
	InsSubstrateSignRaw    = 0x03

	P1SubstrateGetAddressSilent  = 0x00
	P1SubstrateGetAddressConfirm = 0x01
	P1SubstrateSignInit          = 0x00
	P1SubstrateSignAdd           = 0x01
	P1SubstrateSignLast          = 0x02
	P2SubstrateSchemeEd25519     = 0x00

	substrateChunkSize = 250
)

var (
	substrateBytesPrefix  = []byte("<Bytes>")
	substrateBytesPostfix = []byte("</Bytes>")
)

// SubstratePath returns the BIP44 path used by the substrate apps. All segments are hardened.
func SubstratePath(coinType, account, change, index uint32) string {
	return fmt.Sprintf("m/44'/%d'/%d'/%d'/%d'", coinType, account, change, index)
}

// serializeSubstratePath encodes a path as little endian uint32 segments.
func serializeSubstratePath(pathStr string) ([]byte, error) {
	_, path, err := derivationpath.Decode(pathStr)
	if err != nil {
		return nil, err
	}

	data := new(bytes.Buffer)
	for _, segment := range path {
		if err := binary.Write(data, binary.LittleEndian, segment); err != nil {
			return nil, err
		}
	}

	return data.Bytes(), nil
}

// WrapBytes wraps a message in the <Bytes></Bytes> envelope substrate apps require for raw
// signing. Already wrapped messages are returned unchanged.
func WrapBytes(message []byte) []byte {
	if IsWrappedBytes(message) {
		return message
	}

	out := make([]byte, 0, len(substrateBytesPrefix)+len(message)+len(substrateBytesPostfix))
	out = append(out, substrateBytesPrefix...)
	out = append(out, message...)
	out = append(out, substrateBytesPostfix...)

	return out
}

func IsWrappedBytes(message []byte) bool {
	return len(message) >= len(substrateBytesPrefix)+len(substrateBytesPostfix) &&
		bytes.HasPrefix(message, substrateBytesPrefix) &&
		bytes.HasSuffix(message, substrateBytesPostfix)
}

func NewCommandSubstrateGetVersion(cla uint8) *apdu.Command {
	return apdu.NewCommand(
		cla,
		InsSubstrateGetVersion,
		0,
		0,
		[]byte{},
	)
}

func NewCommandSubstrateGetAddress(cla uint8, pathStr string, confirm bool) (*apdu.Command, error) {
	path, err := serializeSubstratePath(pathStr)
	if err != nil {
		return nil, err
	}

	p1 := uint8(P1SubstrateGetAddressSilent)
	if confirm {
		p1 = P1SubstrateGetAddressConfirm
	}

	return apdu.NewCommand(
		cla,
		InsSubstrateGetAddress,
		p1,
		P2SubstrateSchemeEd25519,
		path,
	), nil
}

// NewCommandsSubstrateSign splits a signing request into the init chunk carrying the path
// followed by message chunks. ins is InsSubstrateSign or InsSubstrateSignRaw.
func NewCommandsSubstrateSign(cla, ins uint8, pathStr string, message []byte) ([]*apdu.Command, error) {
	if len(message) == 0 {
		return nil, ErrEmptyPayload
	}

	path, err := serializeSubstratePath(pathStr)
	if err != nil {
		return nil, err
	}

	chunks := apdu.Chunks(message, substrateChunkSize)
	cmds := make([]*apdu.Command, 0, len(chunks)+1)
	cmds = append(cmds, apdu.NewCommand(cla, ins, P1SubstrateSignInit, P2SubstrateSchemeEd25519, path))

	for i, chunk := range chunks {
		p1 := uint8(P1SubstrateSignAdd)
		if i == len(chunks)-1 {
			p1 = P1SubstrateSignLast
		}

		cmds = append(cmds, apdu.NewCommand(cla, ins, p1, P2SubstrateSchemeEd25519, chunk))
	}

	return cmds, nil
}
