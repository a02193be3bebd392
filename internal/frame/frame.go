// Package frame implements the wire unit of the chat protocol: a 2-byte
// big-endian length followed by that many bytes of modified UTF-8.
//
// Modified UTF-8 differs from standard UTF-8 in two ways: U+0000 is
// written as the two bytes 0xC0 0x80 so the payload never contains a NUL,
// and runes outside the Basic Multilingual Plane are written as a UTF-16
// surrogate pair, each half encoded in three bytes.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"

	chaterr "sockchat/internal/errors"
	"sockchat/util"
)

// MaxPayload is the largest encoded payload a frame can carry.
const MaxPayload = 0xFFFF

// ErrMalformed is returned when a payload is not valid modified UTF-8.
var ErrMalformed = chaterr.New("frame: malformed modified UTF-8")

// Encode appends the modified UTF-8 encoding of s to dst.
func Encode(dst []byte, s string) []byte {
	for _, r := range s {
		switch {
		case r == 0:
			dst = append(dst, 0xC0, 0x80)
		case r < 0x80:
			dst = append(dst, byte(r))
		case r < 0x800:
			dst = append(dst, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			dst = appendUnit(dst, uint16(r))
		default:
			hi, lo := utf16.EncodeRune(r)
			dst = appendUnit(dst, uint16(hi))
			dst = appendUnit(dst, uint16(lo))
		}
	}
	return dst
}

func appendUnit(dst []byte, u uint16) []byte {
	return append(dst, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
}

// EncodedLen returns the number of bytes Encode would produce for s.
func EncodedLen(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r == 0:
			n += 2
		case r < 0x80:
			n++
		case r < 0x800:
			n += 2
		case r < 0x10000:
			n += 3
		default:
			n += 6
		}
	}
	return n
}

// Decode converts a modified UTF-8 payload back to a Go string.  Lone
// surrogates decode to U+FFFD.
func Decode(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w at byte %d", ErrMalformed, i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w at byte %d", ErrMalformed, i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w at byte %d", ErrMalformed, i)
		}
	}

	runes := utf16.Decode(units)
	out := make([]byte, 0, len(b))
	for _, r := range runes {
		out = utf8.AppendRune(out, r)
	}
	return string(out), nil
}

// Write sends s as a single frame.  The prefix and payload go out in one
// Write call so concurrent writers serialised by the caller never split a
// frame.
func Write(w io.Writer, s string) error {
	n := EncodedLen(s)
	if n > MaxPayload {
		return fmt.Errorf("%w: %d bytes", chaterr.ErrFrameTooLarge, n)
	}

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	*buf = binary.BigEndian.AppendUint16(*buf, uint16(n))
	*buf = Encode(*buf, s)

	_, err := w.Write(*buf)
	return err
}

// Read blocks until one whole frame has arrived and returns its text.
// A peer that closes between frames yields io.EOF; one that closes
// mid-frame yields io.ErrUnexpectedEOF.
func Read(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}

	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n == 0 {
		return "", nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return Decode(payload)
}
