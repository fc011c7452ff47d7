package tcpros

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	// TransportName is the only transport this package speaks.
	TransportName = "TCPROS"

	// MaxHeaderSize bounds a connection header frame.
	MaxHeaderSize = 1 << 20 // 1MB

	// MaxMessageSize bounds a single message frame.
	MaxMessageSize = 256 << 20 // 256MB
)

// Header field names.
const (
	FieldTopic      = "topic"
	FieldMD5Sum     = "md5sum"
	FieldCallerID   = "callerid"
	FieldType       = "type"
	FieldTCPNoDelay = "tcp_nodelay"
	FieldLatching   = "latching"
	FieldError      = "error"

	FieldMessageDefinition = "message_definition"
)

var (
	// ErrFrameTooLarge is returned when a frame length exceeds its limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrMalformedHeader is returned when a header field is not key=value.
	ErrMalformedHeader = errors.New("malformed connection header")
)

// WriteFrame writes data as a single length-prefixed frame.
func WriteFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame no larger than limit.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int64(n) > int64(limit) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limit)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeHeader serializes header fields into a frame body. Fields are written
// in key order so the encoding is deterministic.
func EncodeHeader(header map[string]string) []byte {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	for _, k := range keys {
		field := k + "=" + header[k]
		out = binary.LittleEndian.AppendUint32(out, uint32(len(field)))
		out = append(out, field...)
	}
	return out
}

// DecodeHeader parses a header frame body.
func DecodeHeader(data []byte) (map[string]string, error) {
	header := make(map[string]string)
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated field length", ErrMalformedHeader)
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if int64(n) > int64(len(data)) {
			return nil, fmt.Errorf("%w: field length %d exceeds remaining %d bytes", ErrMalformedHeader, n, len(data))
		}
		field := string(data[:n])
		data = data[n:]

		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%w: field %q has no '='", ErrMalformedHeader, field)
		}
		header[key] = value
	}
	return header, nil
}

// WriteHeader writes header as a frame.
func WriteHeader(w io.Writer, header map[string]string) error {
	return WriteFrame(w, EncodeHeader(header))
}

// ReadHeader reads and parses a header frame.
func ReadHeader(r io.Reader) (map[string]string, error) {
	data, err := ReadFrame(r, MaxHeaderSize)
	if err != nil {
		return nil, err
	}
	return DecodeHeader(data)
}
