package apdu

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrFieldTruncated is an error returned if a length-prefixed field is shorter than announced.
type ErrFieldTruncated struct {
	want int
	got  int
}

// Error implements the error interface
func (e *ErrFieldTruncated) Error() string {
	return fmt.Sprintf("field truncated: want %d bytes, got %d", e.want, e.got)
}

// ReadLV reads a field prefixed by a single length byte.
func ReadLV(buf *bytes.Buffer) ([]byte, error) {
	length, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}

	if buf.Len() < int(length) {
		return nil, &ErrFieldTruncated{int(length), buf.Len()}
	}

	data := make([]byte, length)
	if length != 0 {
		if _, err = io.ReadFull(buf, data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

// Chunks splits data into slices of at most size bytes. An empty input yields no chunks.
func Chunks(data []byte, size int) [][]byte {
	chunks := make([][]byte, 0, len(data)/size+1)
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}

		chunks = append(chunks, data[:n])
		data = data[n:]
	}

	return chunks
}

// NormalizeBytes returns raw device bytes. Some bridged transports deliver buffers as
// comma-separated decimal text ("4,17,255"); those are decoded, anything else is returned as is.
func NormalizeBytes(raw []byte) ([]byte, error) {
	if !isDecimalList(raw) {
		return raw, nil
	}

	parts := strings.Split(string(raw), ",")
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q: %w", p, err)
		}

		out = append(out, byte(i))
	}

	return out, nil
}

func isDecimalList(raw []byte) bool {
	if len(raw) == 0 || bytes.IndexByte(raw, ',') < 0 {
		return false
	}

	for _, b := range raw {
		if (b < '0' || b > '9') && b != ',' && b != ' ' {
			return false
		}
	}

	return true
}
