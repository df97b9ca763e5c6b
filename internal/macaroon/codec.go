package macaroon

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// Transport encoding: a version byte followed by length-prefixed fields,
// base64url-encoded. Caveat order is semantically significant and must
// round-trip exactly, so the format is a flat ordered sequence.
//
//	version(1) | len(identifier) | identifier | len(location) | location |
//	caveatCount | { len(condition) | condition | len(value) | value }* |
//	signature(32)
//
// All lengths and the count are big-endian uint16.

const codecVersion = 0x01

// maxFieldLen bounds every length prefix so a malformed token cannot force a
// large allocation before validation fails.
const maxFieldLen = 16384

// Decode errors. Decoding is total: structurally invalid input produces one
// of these, never a panic.
var (
	ErrInvalidEncoding = errors.New("macaroon: invalid transport encoding")
	ErrBadVersion      = errors.New("macaroon: unsupported version")
	ErrTruncated       = errors.New("macaroon: truncated token")
	ErrTrailingData    = errors.New("macaroon: trailing data after signature")
)

// Encode serializes the macaroon to a transport-safe string.
func Encode(m *Macaroon) string {
	size := 1 + 2 + len(m.Identifier) + 2 + len(m.Location) + 2 + len(m.Sig)
	for _, c := range m.Caveats {
		size += 4 + len(c.Condition) + len(c.Value)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, codecVersion)
	buf = appendField(buf, m.Identifier)
	buf = appendField(buf, []byte(m.Location))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Caveats)))
	for _, c := range m.Caveats {
		buf = appendField(buf, []byte(c.Condition))
		buf = appendField(buf, []byte(c.Value))
	}
	buf = append(buf, m.Sig...)

	return base64.RawURLEncoding.EncodeToString(buf)
}

// Decode parses a transport string back into a macaroon. No cryptographic
// checks happen here; callers must still Verify.
func Decode(s string) (*Macaroon, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	r := reader{buf: raw}

	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	if version != codecVersion {
		return nil, ErrBadVersion
	}

	m := &Macaroon{}
	if m.Identifier, err = r.field(); err != nil {
		return nil, err
	}
	loc, err := r.field()
	if err != nil {
		return nil, err
	}
	m.Location = string(loc)

	count, err := r.uint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		cond, err := r.field()
		if err != nil {
			return nil, err
		}
		val, err := r.field()
		if err != nil {
			return nil, err
		}
		m.Caveats = append(m.Caveats, Caveat{Condition: string(cond), Value: string(val)})
	}

	if m.Sig, err = r.take(SignatureSize); err != nil {
		return nil, err
	}
	if len(r.buf) != r.off {
		return nil, ErrTrailingData
	}
	return m, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) field() ([]byte, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if int(n) > maxFieldLen {
		return nil, ErrTruncated
	}
	return r.take(int(n))
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(field)))
	return append(buf, field...)
}
