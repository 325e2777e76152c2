package sdr

import "fmt"

const (
	FormatCS16 = "CS16"
	FormatCF32 = "CF32"
	FormatCS8  = "CS8"
	FormatCU8  = "CU8"
)

// Buffer is caller owned memory that a stream read writes samples into.
type Buffer interface {
	// Len is the capacity in complex samples.
	Len() int
	// Complex64 returns the first n samples converted to complex64.
	Complex64(n int) []complex64
}

// CS16Buffer holds interleaved signed 16 bit I/Q pairs.
type CS16Buffer []int16

func (b CS16Buffer) Len() int { return len(b) / 2 }

func (b CS16Buffer) Complex64(n int) []complex64 {
	if n > b.Len() {
		n = b.Len()
	}
	ret := make([]complex64, n)
	for i := 0; i < n; i++ {
		ret[i] = complex(float32(b[2*i]), float32(b[2*i+1]))
	}
	return ret
}

// CF32Buffer holds complex float samples.
type CF32Buffer []complex64

func (b CF32Buffer) Len() int { return len(b) }

func (b CF32Buffer) Complex64(n int) []complex64 {
	if n > len(b) {
		n = len(b)
	}
	ret := make([]complex64, n)
	copy(ret, b[:n])
	return ret
}

// NewBuffer allocates a buffer of n complex samples for format.
func NewBuffer(format string, n int) (Buffer, error) {
	switch format {
	case FormatCS16:
		return make(CS16Buffer, 2*n), nil
	case FormatCF32:
		return make(CF32Buffer, n), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Sink converts native samples into whatever Buffer type the caller supplied.
// It returns the number of complex samples written.
type Sink struct {
	buf Buffer
	n   int
}

func NewSink(buf Buffer) *Sink {
	return &Sink{buf: buf}
}

func (s *Sink) Full() bool {
	return s.n >= s.buf.Len()
}

func (s *Sink) Written() int {
	return s.n
}

// PutInt16 writes one I/Q pair given on a signed 16 bit scale.
func (s *Sink) PutInt16(i, q int16) bool {
	if s.Full() {
		return false
	}
	switch b := s.buf.(type) {
	case CS16Buffer:
		b[2*s.n] = i
		b[2*s.n+1] = q
	case CF32Buffer:
		b[s.n] = complex(float32(i)/32768, float32(q)/32768)
	default:
		return false
	}
	s.n++
	return true
}

// PutComplex writes one sample given on a [-1, 1) scale.
func (s *Sink) PutComplex(c complex64) bool {
	if s.Full() {
		return false
	}
	switch b := s.buf.(type) {
	case CS16Buffer:
		b[2*s.n] = clampInt16(real(c) * 32768)
		b[2*s.n+1] = clampInt16(imag(c) * 32768)
	case CF32Buffer:
		b[s.n] = c
	default:
		return false
	}
	s.n++
	return true
}

func clampInt16(f float32) int16 {
	if f > 32767 {
		return 32767
	}
	if f < -32768 {
		return -32768
	}
	return int16(f)
}
