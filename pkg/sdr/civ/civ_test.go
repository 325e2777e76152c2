package civ

import (
	"errors"
	"reflect"
	"testing"
)

func TestFrameEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  []byte
	}{{
		"remote on",
		Frame{To: 0x96, From: ControllerAddr, Command: 0x1A, Data: []byte{0x13, 0x00, 0x01}},
		[]byte{0xFE, 0xFE, 0x96, 0xE0, 0x1A, 0x13, 0x00, 0x01, 0xFD},
	}, {
		"no data",
		Frame{To: 0x96, From: ControllerAddr, Command: 0x11},
		[]byte{0xFE, 0xFE, 0x96, 0xE0, 0x11, 0xFD},
	},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.Encode(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    Frame
		wantErr error
	}{{
		"ok reply",
		[]byte{0xFE, 0xFE, 0xE0, 0x96, 0xFB, 0xFD},
		Frame{To: 0xE0, From: 0x96, Command: CmdOK},
		nil,
	}, {
		"rf gain reply with pad",
		[]byte{0xFE, 0xFE, 0xE0, 0x96, 0x14, 0x02, 0x01, 0x28, 0xFD, 0xFF},
		Frame{To: 0xE0, From: 0x96, Command: 0x14, Data: []byte{0x02, 0x01, 0x28}},
		nil,
	}, {
		"short",
		[]byte{0xFE, 0xFE, 0xE0},
		Frame{},
		ErrShortFrame,
	}, {
		"bad preamble",
		[]byte{0x00, 0xFE, 0xE0, 0x96, 0xFB, 0xFD},
		Frame{},
		ErrNoPreamble,
	}, {
		"unterminated",
		[]byte{0xFE, 0xFE, 0xE0, 0x96, 0x14, 0x02, 0x01},
		Frame{},
		ErrNoTerminator,
	},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBCD(t *testing.T) {
	for v := 0; v < 100; v++ {
		got, err := FromBCD(ToBCD(v))
		if err != nil || got != v {
			t.Fatalf("FromBCD(ToBCD(%d)) = %d, %v", v, got, err)
		}
	}
	if ToBCD(42) != 0x42 {
		t.Errorf("ToBCD(42) = %02X", ToBCD(42))
	}
	if _, err := FromBCD(0x1A); !errors.Is(err, ErrBadBCD) {
		t.Errorf("FromBCD(0x1A) error = %v", err)
	}
}

func TestEncodeFrequency(t *testing.T) {
	tests := []struct {
		hz   uint64
		want []byte
	}{
		{10000000, []byte{0x00, 0x00, 0x00, 0x10, 0x00}},
		{100000000, []byte{0x00, 0x00, 0x00, 0x00, 0x01}},
		{145678900, []byte{0x00, 0x89, 0x67, 0x45, 0x01}},
	}
	for _, tt := range tests {
		got := EncodeFrequency(tt.hz)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("EncodeFrequency(%d) = % X, want % X", tt.hz, got, tt.want)
		}
		back, err := DecodeFrequency(got)
		if err != nil || back != tt.hz {
			t.Errorf("DecodeFrequency(% X) = %d, %v", got, back, err)
		}
	}
}

func TestLevel(t *testing.T) {
	if got := EncodeLevel(128); !reflect.DeepEqual(got, []byte{0x01, 0x28}) {
		t.Errorf("EncodeLevel(128) = % X", got)
	}
	got, err := DecodeLevel([]byte{0x02, 0x55})
	if err != nil || got != 255 {
		t.Errorf("DecodeLevel = %d, %v", got, err)
	}
}
