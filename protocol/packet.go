package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize caps the payload of a single wire frame. Frames above this
// size are rejected with ErrOversizeFrame instead of being transmitted or
// buffered.
const MaxFrameSize = 1 << 30

var (
	// ErrMalformedFrame reports a frame that cannot be decoded. The
	// connection byte stream is no longer trustworthy after this error.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrOversizeFrame reports a frame exceeding MaxFrameSize. The frame is
	// dropped but the byte stream itself stays intact.
	ErrOversizeFrame = errors.New("oversize frame")
)

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode builds a length-prefixed wire frame for one request. The args slice
// holds alternating body keys and values; an empty slice encodes a request
// without a body (e.g. ping).
func Encode(code Code, sync, schemaID uint64, args []interface{}) ([]byte, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("argument list must hold key/value pairs, got %d cells", len(args))
	}

	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)

	// Header map {CODE, SYNC, SCHEMA_ID}
	if err := enc.EncodeMapLen(3); err != nil {
		return nil, err
	}
	if err := encodeHeaderField(enc, KeyCode, uint64(code)); err != nil {
		return nil, err
	}
	if err := encodeHeaderField(enc, KeySync, sync); err != nil {
		return nil, err
	}
	if err := encodeHeaderField(enc, KeySchemaID, schemaID); err != nil {
		return nil, err
	}

	// Body map, one entry per key/value pair
	if err := enc.EncodeMapLen(len(args) / 2); err != nil {
		return nil, err
	}
	for _, arg := range args {
		if err := enc.Encode(arg); err != nil {
			return nil, err
		}
	}

	if payload.Len() > MaxFrameSize {
		return nil, fmt.Errorf("%w: encoded packet is %d bytes", ErrOversizeFrame, payload.Len())
	}

	// Length prefix: msgpack uint32
	frame := make([]byte, 5+payload.Len())
	frame[0] = 0xce
	binary.BigEndian.PutUint32(frame[1:5], uint32(payload.Len()))
	copy(frame[5:], payload.Bytes())
	return frame, nil
}

func encodeHeaderField(enc *msgpack.Encoder, key Key, value uint64) error {
	if err := enc.EncodeUint(uint64(key)); err != nil {
		return err
	}
	return enc.EncodeUint(value)
}

// EncodeResponse builds a length-prefixed response frame. In-process peers
// (and the package tests) use it to answer requests; a production server
// speaks the same format.
func EncodeResponse(code, sync, schemaID uint64, body map[Key]interface{}) ([]byte, error) {
	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)

	if err := enc.EncodeMapLen(3); err != nil {
		return nil, err
	}
	if err := encodeHeaderField(enc, KeyCode, code); err != nil {
		return nil, err
	}
	if err := encodeHeaderField(enc, KeySync, sync); err != nil {
		return nil, err
	}
	if err := encodeHeaderField(enc, KeySchemaID, schemaID); err != nil {
		return nil, err
	}

	if err := enc.EncodeMapLen(len(body)); err != nil {
		return nil, err
	}
	for key, value := range body {
		if err := enc.EncodeUint(uint64(key)); err != nil {
			return nil, err
		}
		if err := enc.Encode(value); err != nil {
			return nil, err
		}
	}

	frame := make([]byte, 5+payload.Len())
	frame[0] = 0xce
	binary.BigEndian.PutUint32(frame[1:5], uint32(payload.Len()))
	copy(frame[5:], payload.Bytes())
	return frame, nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Packet is one decoded response frame.
type Packet struct {
	Code     uint64
	Sync     uint64
	SchemaID uint64
	Body     map[Key]interface{}
}

// ReadPacket reads exactly one frame from r and decodes it. An oversize
// frame is consumed from the stream (keeping it in sync) and reported as
// ErrOversizeFrame; any decode failure is reported as ErrMalformedFrame.
func ReadPacket(r io.Reader) (*Packet, error) {
	size, err := readFrameLength(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrOversizeFrame, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	rd := bytes.NewReader(buf)
	dec := msgpack.NewDecoder(rd)
	// nested maps (SQL_INFO, METADATA) are int-keyed, not string-keyed
	dec.SetMapDecoder(func(d *msgpack.Decoder) (interface{}, error) {
		return d.DecodeUntypedMap()
	})

	headerLen, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	packet := &Packet{}
	for i := 0; i < headerLen; i++ {
		key, err := dec.DecodeInt()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		value, err := dec.DecodeUint64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		switch Key(key) {
		case KeyCode:
			packet.Code = value
		case KeySync:
			packet.Sync = value
		case KeySchemaID:
			packet.SchemaID = value
		}
	}

	// The body map is optional (ping responses omit it)
	if rd.Len() == 0 {
		return packet, nil
	}

	bodyLen, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	packet.Body = make(map[Key]interface{}, bodyLen)
	for i := 0; i < bodyLen; i++ {
		key, err := dec.DecodeInt()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		value, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		packet.Body[Key(key)] = value
	}

	return packet, nil
}

// readFrameLength reads the msgpack-encoded length prefix. All unsigned
// integer encodings are accepted.
func readFrameLength(r io.Reader) (uint64, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}

	code := first[0]
	if code < 0x80 {
		return uint64(code), nil
	}

	var width int
	switch code {
	case 0xcc:
		width = 1
	case 0xcd:
		width = 2
	case 0xce:
		width = 4
	case 0xcf:
		width = 8
	default:
		return 0, fmt.Errorf("%w: invalid length prefix 0x%02x", ErrMalformedFrame, code)
	}

	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:width]); err != nil {
		return 0, err
	}
	var size uint64
	for _, b := range buf[:width] {
		size = size<<8 | uint64(b)
	}
	return size, nil
}

// --------------------------------------------------------------------------
// Response Accessors
// --------------------------------------------------------------------------

// IsSuccess reports whether the packet carries a successful response code.
func (p *Packet) IsSuccess() bool {
	return p.Code == ResponseSuccess
}

// ServerErrorCode returns the server error code of a failed response (the
// CODE header without the error marker bit).
func (p *Packet) ServerErrorCode() uint64 {
	return p.Code &^ ErrorTypeMarker
}

// Data returns the result rows of a successful response, or nil if the body
// carries none.
func (p *Packet) Data() []interface{} {
	data, _ := p.Body[KeyData].([]interface{})
	return data
}

// ErrorMessage returns the error payload of a failed response.
func (p *Packet) ErrorMessage() string {
	message, _ := p.Body[KeyError].(string)
	return message
}

// SQLRowCount extracts the affected-row count of a SQL response. The second
// return value is false for responses carrying a result set instead.
func (p *Packet) SQLRowCount() (int64, bool) {
	info, ok := p.Body[KeySQLInfo]
	if !ok {
		return 0, false
	}
	value, ok := intKeyedLookup(info, KeySQLRowCount)
	if !ok {
		return 0, false
	}
	count, ok := asInt64(value)
	return count, ok
}

// SQLMetadata extracts the column names of a SQL result set, in order.
func (p *Packet) SQLMetadata() []string {
	meta, ok := p.Body[KeyMetadata].([]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(meta))
	for _, column := range meta {
		value, ok := intKeyedLookup(column, KeyFieldName)
		if !ok {
			return nil
		}
		name, ok := value.(string)
		if !ok {
			return nil
		}
		names = append(names, name)
	}
	return names
}

// intKeyedLookup reads a value out of a decoded int-keyed MessagePack map.
func intKeyedLookup(m interface{}, key Key) (interface{}, bool) {
	untyped, ok := m.(map[interface{}]interface{})
	if !ok {
		return nil, false
	}
	for k, v := range untyped {
		n, ok := asInt64(k)
		if ok && Key(n) == key {
			return v, true
		}
	}
	return nil, false
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
