package types

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidSignatureReply = errors.New("reply lacks signature")

// ParseSubstrateSignature returns the signature reply of the substrate app, which carries
// the signature scheme byte in front of the 64 byte signature.
func ParseSubstrateSignature(data []byte) (Signature, error) {
	if len(data) < 64 {
		return Signature{}, ErrInvalidSignatureReply
	}

	return Signature{Signature: hexutil.Encode(data)}, nil
}

// ParseEthereumSignature converts the V|R|S reply of the Ethereum app into R|S|V.
func ParseEthereumSignature(data []byte) (Signature, error) {
	if len(data) != 65 {
		return Signature{}, ErrInvalidSignatureReply
	}

	sig := make([]byte, 0, 65)
	sig = append(sig, data[1:]...)
	sig = append(sig, data[0])

	return Signature{Signature: hexutil.Encode(sig)}, nil
}
