package rtlsdr

import (
	"testing"

	"github.com/norasector/rxprobe/pkg/sdr"
)

var r820tGains = []int{0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207, 229, 254, 280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439, 445, 480, 496}

func TestNearestGain(t *testing.T) {
	tests := []struct {
		db   float64
		want int
	}{
		{0, 0},
		{-10, 0},
		{20, 197},
		{49.6, 496},
		{60, 496},
		{3.5, 37},
	}
	for _, tt := range tests {
		if got := nearestGain(r820tGains, tt.db); got != tt.want {
			t.Errorf("nearestGain(%v) = %d, want %d", tt.db, got, tt.want)
		}
	}
}

func TestTableRange(t *testing.T) {
	if got := tableRange(r820tGains); got != (sdr.Range{Min: 0, Max: 49.6}) {
		t.Errorf("tableRange() = %v", got)
	}
	if got := tableRange(nil); got != (sdr.Range{}) {
		t.Errorf("tableRange(nil) = %v", got)
	}
}

func TestReadSize(t *testing.T) {
	tests := []struct {
		n, max, want int
	}{
		{1024, 16384, 2048},
		{100, 16384, 512},
		{1000, 16384, 2048},
		{100000, 16384, 16384},
	}
	for _, tt := range tests {
		if got := readSize(tt.n, tt.max); got != tt.want {
			t.Errorf("readSize(%d, %d) = %d, want %d", tt.n, tt.max, got, tt.want)
		}
	}
}

func TestPutCU8(t *testing.T) {
	buf := make(sdr.CF32Buffer, 2)
	n := putCU8(sdr.NewSink(buf), []byte{255, 0, 127, 128, 1, 1})
	if n != 2 {
		t.Fatalf("putCU8() = %d", n)
	}
	if real(buf[0]) != 127.5/128 || imag(buf[0]) != -127.5/128 {
		t.Errorf("buf[0] = %v", buf[0])
	}
	if real(buf[1]) != -0.5/128 || imag(buf[1]) != 0.5/128 {
		t.Errorf("buf[1] = %v", buf[1])
	}
}
