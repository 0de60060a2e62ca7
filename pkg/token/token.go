// Package token decodes the physical tokens that make up an fp5 block
// payload, per spec.md §3 and §4.7. It is the lowest-level shared layer
// between the path index navigator (pkg/pathindex) and the node-tree
// traversal (pkg/tokenstream): both consume the same byte-level grammar,
// differing only in what they do with the decoded tokens.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bgrewell/fp5kit/pkg/consts"
	"github.com/bgrewell/fp5kit/pkg/vli"
)

// ErrTruncated is returned when a token's declared length would read past
// the end of the payload. Per spec.md §4.5, this is a recoverable
// condition: the caller abandons the current block and resumes at the
// next one.
var ErrTruncated = errors.New("token: declared length exceeds remaining payload")

// ErrUnknownToken is returned for a leading byte that matches none of the
// documented token forms.
var ErrUnknownToken = errors.New("token: unrecognized leading byte")

// Kind identifies which of the token variants of spec.md §3 was decoded.
type Kind int

const (
	KindPushPath Kind = iota
	KindPopPath
	KindFieldValue
	KindArrayChunk
	KindLengthCheck
)

// Token is one decoded physical token. Only the fields relevant to Kind
// are populated; the rest are zero.
type Token struct {
	Kind Kind

	// Size is the total number of payload bytes this token occupies,
	// including its leading byte(s). Callers advance their cursor by Size.
	Size int

	// Segment holds the new path segment for KindPushPath.
	Segment []byte

	// FieldRef holds the field reference for KindFieldValue: the canonical
	// VLI encoding of the decoded reference for the short forms, and the
	// leading VLI bytes as written for the long-ref forms. A long-ref slice
	// whose first byte is not a VLI lead byte (such as the 0xFC mod-id
	// marker) is kept as written and does not decode.
	FieldRef []byte

	// SubRef holds any sub-reference (repetition subscript or
	// multi-block counter) bytes trailing FieldRef, present only when the
	// token's field-ref was itself VLI-encoded with a remainder.
	SubRef []byte

	// Value holds the field's value bytes for KindFieldValue, or the
	// chunk bytes for KindArrayChunk.
	Value []byte

	// IsLongForm is true when the token used one of the 0xFF long-data
	// sub-forms (2-byte length), as opposed to the 1-byte-length short
	// forms. Multi-block value reassembly only ever uses long-form
	// tokens, since only they carry lengths large enough to need
	// splitting across blocks.
	IsLongForm bool

	// LengthCheckValue holds the declared total length for KindLengthCheck.
	LengthCheckValue uint64
}

// Next decodes the single token beginning at payload[pos]. It returns the
// decoded Token; callers advance pos by Token.Size to read the next one.
func Next(payload []byte, pos int) (Token, error) {
	if pos >= len(payload) {
		return Token{}, fmt.Errorf("token: position %d is at or past payload end (%d): %w", pos, len(payload), ErrTruncated)
	}
	lead := payload[pos]
	rest := payload[pos+1:]

	switch {
	case lead >= consts.TokenPushPathMin && lead <= consts.TokenPushPathMax:
		return decodePushPath(lead, rest)
	case lead == consts.TokenPopPath:
		return Token{Kind: KindPopPath, Size: 1}, nil
	case lead == consts.TokenShortDataImplicitRef0:
		return decodeImplicitRef0(rest)
	case lead >= consts.TokenShortRefShortDataMin && lead <= consts.TokenShortRefShortDataMax:
		return decodeShortRefShortData(lead, rest)
	case lead >= consts.TokenLongRefShortDataMin && lead <= consts.TokenLongRefShortDataMax:
		return decodeLongRefShortData(lead, rest)
	case lead >= consts.TokenInlineArrayMin && lead <= consts.TokenInlineArrayMax:
		return decodeInlineArray(lead, rest)
	case lead == consts.TokenLongForm:
		return decodeLongForm(rest)
	default:
		return Token{}, fmt.Errorf("token: leading byte 0x%02X: %w", lead, ErrUnknownToken)
	}
}

func decodePushPath(lead byte, rest []byte) (Token, error) {
	n := int(lead - consts.TokenPopPath)
	if n > len(rest) {
		return Token{}, ErrTruncated
	}
	seg := make([]byte, n)
	copy(seg, rest[:n])
	return Token{Kind: KindPushPath, Size: 1 + n, Segment: seg}, nil
}

func decodeImplicitRef0(rest []byte) (Token, error) {
	if len(rest) < 1 {
		return Token{}, ErrTruncated
	}
	l := int(rest[0])
	if 1+l > len(rest) {
		return Token{}, ErrTruncated
	}
	value := make([]byte, l)
	copy(value, rest[1:1+l])
	return Token{
		Kind:     KindFieldValue,
		Size:     1 + 1 + l,
		FieldRef: []byte{0x00},
		Value:    value,
	}, nil
}

func decodeShortRefShortData(lead byte, rest []byte) (Token, error) {
	if len(rest) < 1 {
		return Token{}, ErrTruncated
	}
	refVal := lead - consts.TokenShortRefShortDataMin
	l := int(rest[0])
	if 1+l > len(rest) {
		return Token{}, ErrTruncated
	}
	value := make([]byte, l)
	copy(value, rest[1:1+l])
	encRef, err := vli.Encode(uint64(refVal))
	if err != nil {
		return Token{}, fmt.Errorf("token: encoding short field-ref %d: %w", refVal, err)
	}
	return Token{
		Kind:     KindFieldValue,
		Size:     1 + 1 + l,
		FieldRef: encRef,
		Value:    value,
	}, nil
}

func decodeLongRefShortData(lead byte, rest []byte) (Token, error) {
	n := int(lead)
	if n > len(rest) {
		return Token{}, ErrTruncated
	}
	refSlice := rest[:n]
	tail := rest[n:]

	// Special-cased length-check token: "0x01 0xFF 0x05 <5 bytes>".
	if n == 1 && refSlice[0] == 0xFF {
		if len(tail) < 1 || tail[0] != consts.LengthCheckMarker {
			return Token{}, fmt.Errorf("token: malformed length-check token")
		}
		if len(tail) < 1+5 {
			return Token{}, ErrTruncated
		}
		declared := beUint40(tail[1 : 1+5])
		return Token{
			Kind:             KindLengthCheck,
			Size:             1 + n + 1 + 5,
			LengthCheckValue: declared,
		}, nil
	}

	head, subRef := vli.Split(refSlice)
	if len(tail) < 1 {
		return Token{}, ErrTruncated
	}
	l := int(tail[0])
	if 1+l > len(tail) {
		return Token{}, ErrTruncated
	}
	value := make([]byte, l)
	copy(value, tail[1:1+l])
	return Token{
		Kind:     KindFieldValue,
		Size:     1 + n + 1 + l,
		FieldRef: append([]byte{}, head...),
		SubRef:   append([]byte{}, subRef...),
		Value:    value,
	}, nil
}

func decodeInlineArray(lead byte, rest []byte) (Token, error) {
	n := int(lead - consts.TokenInlineArrayBias)
	if n > len(rest) {
		return Token{}, ErrTruncated
	}
	chunk := make([]byte, n)
	copy(chunk, rest[:n])
	return Token{Kind: KindArrayChunk, Size: 1 + n, Value: chunk}, nil
}

func decodeLongForm(rest []byte) (Token, error) {
	if len(rest) < 1 {
		return Token{}, ErrTruncated
	}
	sub := rest[0]
	body := rest[1:]

	switch {
	case sub >= consts.LongRefLongDataMin && sub <= consts.LongRefLongDataMax:
		n := int(sub)
		if n > len(body) {
			return Token{}, ErrTruncated
		}
		refSlice := body[:n]
		tail := body[n:]
		head, subRef := vli.Split(refSlice)
		if len(tail) < 2 {
			return Token{}, ErrTruncated
		}
		l := int(binary.BigEndian.Uint16(tail[:2]))
		if 2+l > len(tail) {
			return Token{}, ErrTruncated
		}
		value := make([]byte, l)
		copy(value, tail[2:2+l])
		return Token{
			Kind:       KindFieldValue,
			Size:       1 + 1 + n + 2 + l,
			FieldRef:   append([]byte{}, head...),
			SubRef:     append([]byte{}, subRef...),
			Value:      value,
			IsLongForm: true,
		}, nil

	case sub >= consts.ShortRefLongDataMin && sub <= consts.ShortRefLongDataMax:
		refVal := uint64(sub) - 0x40
		if len(body) < 2 {
			return Token{}, ErrTruncated
		}
		l := int(binary.BigEndian.Uint16(body[:2]))
		if 2+l > len(body) {
			return Token{}, ErrTruncated
		}
		value := make([]byte, l)
		copy(value, body[2:2+l])
		encRef, err := vli.Encode(refVal)
		if err != nil {
			return Token{}, fmt.Errorf("token: encoding short field-ref %d: %w", refVal, err)
		}
		return Token{
			Kind:       KindFieldValue,
			Size:       1 + 1 + 2 + l,
			FieldRef:   encRef,
			Value:      value,
			IsLongForm: true,
		}, nil

	default:
		return Token{}, fmt.Errorf("token: unrecognized 0xFF sub-form 0x%02X: %w", sub, ErrUnknownToken)
	}
}

func beUint40(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
