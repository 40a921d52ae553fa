package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	SwOK                         = 0x9000
	SwWrongLength                = 0x6700
	SwSecurityStatusNotSatisfied = 0x6982
	SwConditionsNotSatisfied     = 0x6985
	SwInvalidData                = 0x6A80
	SwInsNotSupported            = 0x6D00
	SwClaNotSupported            = 0x6E00
	SwAppNotOpen                 = 0x6511
	SwLockedDevice               = 0x5515
	SwDeviceLocked               = 0x6B0C
	SwUnknownError               = 0x6F00
)

var ErrBadRawResponse = errors.New("response from the device is too short")

var statusTexts = map[uint16]string{
	SwWrongLength:                "Incorrect length",
	SwSecurityStatusNotSatisfied: "Security status not satisfied",
	SwConditionsNotSatisfied:     "Condition of use not satisfied (denied by the user?)",
	SwInvalidData:                "Invalid data received",
	SwInsNotSupported:            "Instruction not supported",
	SwClaNotSupported:            "CLA not supported",
	SwAppNotOpen:                 "App does not seem to be open",
	SwLockedDevice:               "Locked device",
	SwDeviceLocked:               "Locked device",
	SwUnknownError:               "Unknown error",
}

// StatusText returns a short description of a status word.
func StatusText(sw uint16) string {
	if text, ok := statusTexts[sw]; ok {
		return text
	}

	return "UNKNOWN_ERROR"
}

// ErrBadResponse defines an error containing the returned Sw code and a description message.
// Its text embeds the status word as "(0xXXXX)", the form the rest of the stack matches on.
type ErrBadResponse struct {
	sw      uint16
	message string
}

// NewErrBadResponse returns an ErrBadResponse with the specified sw and message values.
func NewErrBadResponse(sw uint16, message string) *ErrBadResponse {
	return &ErrBadResponse{
		sw:      sw,
		message: message,
	}
}

// Sw returns the status word carried by the error.
func (e *ErrBadResponse) Sw() uint16 {
	return e.sw
}

// Error implements the error interface.
func (e *ErrBadResponse) Error() string {
	if e.message == "" {
		return fmt.Sprintf("Ledger device: %s (0x%04x)", StatusText(e.sw), e.sw)
	}

	return fmt.Sprintf("Ledger device: %s (0x%04x)", e.message, e.sw)
}

// Response represents a struct with the data returned by the device.
type Response struct {
	Data []byte
	Sw1  uint8
	Sw2  uint8
	Sw   uint16
}

// ParseResponse parses a raw response and returns a Response.
func ParseResponse(data []byte) (*Response, error) {
	if len(data) < 2 {
		return nil, ErrBadRawResponse
	}

	r := &Response{}
	r.Data = data[:len(data)-2]
	r.Sw1 = data[len(data)-2]
	r.Sw2 = data[len(data)-1]
	r.Sw = binary.BigEndian.Uint16(data[len(data)-2:])

	return r, nil
}

// IsOK returns true if the response Sw code is 0x9000.
func (r *Response) IsOK() bool {
	return r.Sw == SwOK
}
