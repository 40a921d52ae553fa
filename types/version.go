package types

import (
	"encoding/binary"
	"errors"
)

var ErrInvalidVersionReply = errors.New("invalid version reply")

// ParseSubstrateVersion parses the GET_VERSION reply of the generic substrate app.
// Older apps reply with one byte per component, newer ones with two.
func ParseSubstrateVersion(data []byte) (Version, error) {
	v := Version{}

	switch {
	case len(data) >= 12:
		v.IsTestMode = data[0] != 0
		v.Version = [3]uint16{
			binary.BigEndian.Uint16(data[1:3]),
			binary.BigEndian.Uint16(data[3:5]),
			binary.BigEndian.Uint16(data[5:7]),
		}
		v.IsLocked = data[7] == 1
	case len(data) >= 5:
		v.IsTestMode = data[0] != 0
		v.Version = [3]uint16{uint16(data[1]), uint16(data[2]), uint16(data[3])}
		v.IsLocked = data[4] == 1
	default:
		return v, ErrInvalidVersionReply
	}

	return v, nil
}

// ParseEthereumConfiguration parses the GET_APP_CONFIGURATION reply of the Ethereum app:
// flags, major, minor, patch. The app has no lock flag; a locked device fails the call instead.
func ParseEthereumConfiguration(data []byte) (Version, error) {
	if len(data) < 4 {
		return Version{}, ErrInvalidVersionReply
	}

	return Version{
		Version: [3]uint16{uint16(data[1]), uint16(data[2]), uint16(data[3])},
	}, nil
}
