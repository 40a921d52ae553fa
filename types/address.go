package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/hwsigner-go/apdu"
)

const substratePubKeyLength = 32

var (
	ErrInvalidAddressReply = errors.New("invalid address reply")
	ErrAddressMismatch     = errors.New("address does not match public key")
)

// ParseSubstrateAddress parses the GET_ADDRESS reply of the generic substrate app:
// a 32 byte public key followed by the SS58 address as ASCII.
func ParseSubstrateAddress(data []byte) (Address, error) {
	if len(data) <= substratePubKeyLength {
		return Address{}, ErrInvalidAddressReply
	}

	pubKey := data[:substratePubKeyLength]
	address := string(data[substratePubKeyLength:])

	decoded, err := DecodeSS58(address)
	if err != nil {
		return Address{}, err
	}

	if !bytes.Equal(decoded.PublicKey, pubKey) {
		return Address{}, ErrAddressMismatch
	}

	return Address{
		Address:   address,
		PublicKey: hexutil.Encode(pubKey),
	}, nil
}

// ParseEthereumAddress parses the GET_ADDRESS reply of the Ethereum app:
// length prefixed uncompressed public key, length prefixed hex ASCII address and an optional chain code.
func ParseEthereumAddress(data []byte) (Address, error) {
	buf := bytes.NewBuffer(data)

	pubKey, err := apdu.ReadLV(buf)
	if err != nil {
		return Address{}, fmt.Errorf("reply lacks public key entry: %w", err)
	}

	hexAddress, err := apdu.ReadLV(buf)
	if err != nil {
		return Address{}, fmt.Errorf("reply lacks address entry: %w", err)
	}

	if !common.IsHexAddress(string(hexAddress)) {
		return Address{}, ErrInvalidAddressReply
	}

	ecdsaPub, err := ethcrypto.UnmarshalPubkey(pubKey)
	if err != nil {
		return Address{}, err
	}

	address := common.HexToAddress(string(hexAddress))
	if ethcrypto.PubkeyToAddress(*ecdsaPub) != address {
		return Address{}, ErrAddressMismatch
	}

	return Address{
		Address:   address.Hex(),
		PublicKey: hexutil.Encode(pubKey),
	}, nil
}
