// Package civ encodes and decodes Icom CI-V frames.
//
// A frame is FE FE <to> <from> <command> [data...] FD. Receivers reply to
// set commands with a short frame whose command byte is FB (OK) or FA (NG).
package civ

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	Preamble     byte = 0xFE
	EndOfMessage byte = 0xFD
	Pad          byte = 0xFF

	ControllerAddr byte = 0xE0

	CmdOK byte = 0xFB
	CmdNG byte = 0xFA
)

var (
	ErrShortFrame   = errors.New("civ: short frame")
	ErrNoPreamble   = errors.New("civ: missing preamble")
	ErrNoTerminator = errors.New("civ: missing end of message")
	ErrBadBCD       = errors.New("civ: invalid bcd digit")
)

type Frame struct {
	To      byte
	From    byte
	Command byte
	Data    []byte
}

func (f Frame) IsOK() bool { return f.Command == CmdOK }
func (f Frame) IsNG() bool { return f.Command == CmdNG }

// Encode returns the wire form of f.
func (f Frame) Encode() []byte {
	ret := make([]byte, 0, 6+len(f.Data))
	ret = append(ret, Preamble, Preamble, f.To, f.From, f.Command)
	ret = append(ret, f.Data...)
	return append(ret, EndOfMessage)
}

func (f Frame) String() string {
	return fmt.Sprintf("% X", f.Encode())
}

// Decode parses the first frame in b. Bytes after the terminator, such as the
// USB pad byte, are ignored.
func Decode(b []byte) (Frame, error) {
	if len(b) < 6 {
		return Frame{}, ErrShortFrame
	}
	if b[0] != Preamble || b[1] != Preamble {
		return Frame{}, ErrNoPreamble
	}
	end := bytes.IndexByte(b[5:], EndOfMessage)
	if end < 0 {
		return Frame{}, ErrNoTerminator
	}
	f := Frame{
		To:      b[2],
		From:    b[3],
		Command: b[4],
	}
	if end > 0 {
		f.Data = append([]byte(nil), b[5:5+end]...)
	}
	return f, nil
}

// ToBCD packs a value in [0, 99] into one BCD byte.
func ToBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}

func FromBCD(b byte) (int, error) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: %02X", ErrBadBCD, b)
	}
	return hi*10 + lo, nil
}

// EncodeFrequency packs hz into five BCD bytes, least significant pair first.
func EncodeFrequency(hz uint64) []byte {
	ret := make([]byte, 5)
	for i := range ret {
		ret[i] = ToBCD(int(hz % 100))
		hz /= 100
	}
	return ret
}

func DecodeFrequency(b []byte) (uint64, error) {
	if len(b) < 5 {
		return 0, ErrShortFrame
	}
	var hz uint64
	for i := 4; i >= 0; i-- {
		v, err := FromBCD(b[i])
		if err != nil {
			return 0, err
		}
		hz = hz*100 + uint64(v)
	}
	return hz, nil
}

// EncodeLevel packs a level in [0, 9999] into two BCD bytes, most
// significant pair first.
func EncodeLevel(level int) []byte {
	return []byte{ToBCD(level / 100 % 100), ToBCD(level % 100)}
}

func DecodeLevel(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, ErrShortFrame
	}
	hi, err := FromBCD(b[0])
	if err != nil {
		return 0, err
	}
	lo, err := FromBCD(b[1])
	if err != nil {
		return 0, err
	}
	return hi*100 + lo, nil
}
