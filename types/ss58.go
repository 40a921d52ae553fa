package types

import (
	"bytes"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidSS58         = errors.New("invalid ss58 address")
	ErrInvalidSS58Checksum = errors.New("invalid ss58 checksum")
)

var ss58Prefix = []byte("SS58PRE")

// SS58Address is a decoded substrate address.
type SS58Address struct {
	Format    uint16
	PublicKey []byte
}

// DecodeSS58 decodes and checks an SS58 address carrying a 32 byte public key.
func DecodeSS58(address string) (*SS58Address, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, ErrInvalidSS58
	}

	var (
		format    uint16
		prefixLen int
	)

	switch len(raw) {
	case 1 + 32 + 2:
		if raw[0] >= 64 {
			return nil, ErrInvalidSS58
		}
		format = uint16(raw[0])
		prefixLen = 1
	case 2 + 32 + 2:
		if raw[0] < 64 || raw[0] >= 128 {
			return nil, ErrInvalidSS58
		}
		lower := ((raw[0] & 0x3f) << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		format = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return nil, ErrInvalidSS58
	}

	body := raw[:len(raw)-2]
	hash := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))
	if !bytes.Equal(hash[:2], raw[len(raw)-2:]) {
		return nil, ErrInvalidSS58Checksum
	}

	return &SS58Address{
		Format:    format,
		PublicKey: body[prefixLen:],
	}, nil
}

// EncodeSS58 encodes a 32 byte public key with a single byte network format (0-63).
func EncodeSS58(format uint8, pubKey []byte) (string, error) {
	if format >= 64 || len(pubKey) != 32 {
		return "", ErrInvalidSS58
	}

	body := append([]byte{format}, pubKey...)
	hash := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))

	return base58.Encode(append(body, hash[:2]...)), nil
}
