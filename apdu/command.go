package apdu

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// MaxDataLength is the largest payload a short APDU can carry.
const MaxDataLength = 255

var ErrDataTooLong = errors.New("apdu data longer than 255 bytes")

// Command struct represent the data sent as an APDU command with CLA, Ins, P1, P2, Lc and Data.
// Ledger apps never take an Le byte.
type Command struct {
	Cla  uint8
	Ins  uint8
	P1   uint8
	P2   uint8
	Data []byte
}

// NewCommand returns a new apdu Command.
func NewCommand(cla, ins, p1, p2 uint8, data []byte) *Command {
	return &Command{
		Cla:  cla,
		Ins:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
	}
}

// Serialize serializes the command into a raw bytes sequence.
func (c *Command) Serialize() ([]byte, error) {
	if len(c.Data) > MaxDataLength {
		return nil, ErrDataTooLong
	}

	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.BigEndian, c.Cla); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, c.Ins); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, c.P1); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, c.P2); err != nil {
		return nil, err
	}

	// Ledger apps always expect Lc, even for empty payloads
	if err := binary.Write(buf, binary.BigEndian, uint8(len(c.Data))); err != nil {
		return nil, err
	}

	if _, err := buf.Write(c.Data); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
