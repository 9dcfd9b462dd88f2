// Package ber rewrites BER encoded ASN.1 as DER so encoding/asn1 can read
// it. CMC clients built on Java and Windows stacks often send indefinite
// lengths and chunked OCTET STRINGs.
//
// A zero-length value sent with indefinite length stays present with a
// definite zero length. For SignedData that is the difference between a
// detached signature and a signed empty payload.
package ber

import (
	"bytes"
	"errors"
	"fmt"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 64

const (
	classMask      = 0xc0
	constructedBit = 0x20
	numberMask     = 0x1f
)

// Universal tag numbers with special DER rules.
const (
	tagBoolean         = 0x01
	tagInteger         = 0x02
	tagBitString       = 0x03
	tagOctetString     = 0x04
	tagUTF8String      = 0x0c
	tagNumericString   = 0x12
	tagPrintableString = 0x13
	tagT61String       = 0x14
	tagIA5String       = 0x16
	tagUTCTime         = 0x17
	tagGeneralizedTime = 0x18
	tagVisibleString   = 0x1a
	tagGeneralString   = 0x1b
	tagBMPString       = 0x1e
)

var (
	// ErrTruncated means the input ended inside an element.
	ErrTruncated = errors.New("ber: truncated input")
	// ErrTooDeep means elements nest deeper than the parser allows.
	ErrTooDeep = errors.New("ber: nesting too deep")
)

// ToDER returns the DER encoding of the single BER element in data. Input
// that is already DER comes back unchanged. Bytes after the element are an
// error.
func ToDER(data []byte) ([]byte, error) {
	p := &parser{in: data}
	el, err := p.element(0)
	if err != nil {
		return nil, err
	}
	if p.pos != len(data) {
		return nil, fmt.Errorf("ber: %d trailing bytes after element", len(data)-p.pos)
	}
	var out bytes.Buffer
	el.writeTo(&out)
	return out.Bytes(), nil
}

// element is one decoded TLV with its content already in DER form.
type element struct {
	id      []byte
	content []byte
}

func (e element) constructed() bool { return e.id[0]&constructedBit != 0 }

// universal returns the tag number of a low-tag universal element, or -1.
func (e element) universal() int {
	if len(e.id) != 1 || e.id[0]&classMask != 0 {
		return -1
	}
	return int(e.id[0] & numberMask)
}

func (e element) writeTo(w *bytes.Buffer) {
	w.Write(e.id)
	writeLength(w, len(e.content))
	w.Write(e.content)
}

func writeLength(w *bytes.Buffer, n int) {
	if n < 0x80 {
		w.WriteByte(byte(n))
		return
	}
	var be []byte
	for v := n; v > 0; v >>= 8 {
		be = append([]byte{byte(v)}, be...)
	}
	w.WriteByte(0x80 | byte(len(be)))
	w.Write(be)
}

type parser struct {
	in  []byte
	pos int
}

func (p *parser) byte() (byte, error) {
	if p.pos >= len(p.in) {
		return 0, ErrTruncated
	}
	b := p.in[p.pos]
	p.pos++
	return b, nil
}

func (p *parser) identifier() ([]byte, error) {
	start := p.pos
	b, err := p.byte()
	if err != nil {
		return nil, err
	}
	if b&numberMask == numberMask {
		for i := 0; ; i++ {
			if i == 4 {
				return nil, errors.New("ber: tag number too large")
			}
			if b, err = p.byte(); err != nil {
				return nil, err
			}
			if b&0x80 == 0 {
				break
			}
		}
	}
	return append([]byte(nil), p.in[start:p.pos]...), nil
}

// length returns the content length, or -1 for indefinite length.
func (p *parser) length() (int, error) {
	b, err := p.byte()
	if err != nil {
		return 0, err
	}
	switch {
	case b == 0x80:
		return -1, nil
	case b < 0x80:
		return int(b), nil
	}
	n := int(b & 0x7f)
	if n > 4 {
		return 0, fmt.Errorf("ber: %d-byte length field is not supported", n)
	}
	length := 0
	for i := 0; i < n; i++ {
		if b, err = p.byte(); err != nil {
			return 0, err
		}
		length = length<<8 | int(b)
	}
	if length > len(p.in)-p.pos {
		return 0, ErrTruncated
	}
	return length, nil
}

func (p *parser) element(depth int) (element, error) {
	if depth > maxDepth {
		return element{}, ErrTooDeep
	}
	id, err := p.identifier()
	if err != nil {
		return element{}, err
	}
	length, err := p.length()
	if err != nil {
		return element{}, err
	}
	el := element{id: id}

	// Some encoders emit an indefinite string without the constructed bit.
	// Its chunks are read the same way as a constructed string.
	if !el.constructed() && !(length < 0 && isString(el.universal())) {
		if length < 0 {
			return element{}, errors.New("ber: primitive element with indefinite length")
		}
		raw := p.in[p.pos : p.pos+length]
		p.pos += length
		el.content, err = canonical(el, raw)
		return el, err
	}

	var children []element
	if length < 0 {
		for {
			if p.pos+2 > len(p.in) {
				return element{}, errors.New("ber: missing end-of-contents")
			}
			if p.in[p.pos] == 0 && p.in[p.pos+1] == 0 {
				p.pos += 2
				break
			}
			child, err := p.element(depth + 1)
			if err != nil {
				return element{}, err
			}
			children = append(children, child)
		}
	} else {
		end := p.pos + length
		sub := &parser{in: p.in[:end], pos: p.pos}
		for sub.pos < end {
			child, err := sub.element(depth + 1)
			if err != nil {
				return element{}, err
			}
			children = append(children, child)
		}
		p.pos = end
	}

	if isString(el.universal()) {
		return flatten(el, children)
	}
	var buf bytes.Buffer
	for _, c := range children {
		c.writeTo(&buf)
	}
	el.content = buf.Bytes()
	return el, nil
}

// isString reports whether DER requires primitive encoding for tag.
func isString(tag int) bool {
	switch tag {
	case tagBitString, tagOctetString, tagUTF8String, tagNumericString,
		tagPrintableString, tagT61String, tagIA5String, tagUTCTime,
		tagGeneralizedTime, tagVisibleString, tagGeneralString, tagBMPString:
		return true
	}
	return false
}

// flatten joins the chunks of a constructed string into one primitive
// element. BIT STRING chunks each lead with an unused-bits count; only the
// last may be non-zero.
func flatten(el element, chunks []element) (element, error) {
	id := []byte{el.id[0] &^ constructedBit}
	var buf bytes.Buffer
	if el.universal() != tagBitString {
		for _, c := range chunks {
			buf.Write(c.content)
		}
		return element{id: id, content: buf.Bytes()}, nil
	}

	unused := byte(0)
	buf.WriteByte(0)
	for i, c := range chunks {
		if len(c.content) == 0 {
			return element{}, errors.New("ber: BIT STRING chunk without unused-bits count")
		}
		if c.content[0] != 0 && i != len(chunks)-1 {
			return element{}, errors.New("ber: unused bits in a non-final BIT STRING chunk")
		}
		unused = c.content[0]
		buf.Write(c.content[1:])
	}
	out := buf.Bytes()
	out[0] = unused
	return element{id: id, content: out}, nil
}

// canonical applies the DER value rules for BOOLEAN and INTEGER.
func canonical(el element, v []byte) ([]byte, error) {
	switch el.universal() {
	case tagBoolean:
		if len(v) != 1 {
			return nil, fmt.Errorf("ber: BOOLEAN of %d bytes", len(v))
		}
		if v[0] != 0 {
			return []byte{0xff}, nil
		}
	case tagInteger:
		if len(v) == 0 {
			return nil, errors.New("ber: empty INTEGER")
		}
		i := 0
		for i < len(v)-1 &&
			(v[i] == 0x00 && v[i+1]&0x80 == 0 || v[i] == 0xff && v[i+1]&0x80 != 0) {
			i++
		}
		v = v[i:]
	}
	return append([]byte(nil), v...), nil
}
