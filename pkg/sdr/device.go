package sdr

import (
	"context"
	"errors"
	"time"
)

type Direction int

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	switch d {
	case TX:
		return "TX"
	case RX:
		return "RX"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrUnknownDriver     = errors.New("unknown driver")
	ErrNoMatch           = errors.New("no matching device")
	ErrUnsupportedFormat = errors.New("unsupported stream format")
	ErrInvalidChannel    = errors.New("invalid channel selection")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrStreamState       = errors.New("invalid stream state")
)

// Stream is an opaque handle to a device stream. It is only valid for the
// device that created it.
type Stream interface {
	Format() string
	// MTU is the largest number of elements a single read can return.
	MTU() int
}

// StreamResult is the outcome of a single ReadStream call. Ret holds the
// number of elements read, or a negative ErrorCode.
type StreamResult struct {
	Ret    int
	Flags  int
	TimeNs int64
}

// Device is a handle to a single radio. Queries that only report driver
// capabilities do not return errors; everything that talks to hardware does.
type Device interface {
	DriverKey() string
	HardwareKey() string
	HardwareInfo() Kwargs
	NumChannels(dir Direction) int

	ListAntennas(dir Direction, channel int) []string
	SetAntenna(dir Direction, channel int, name string) error
	Antenna(dir Direction, channel int) (string, error)

	ListGains(dir Direction, channel int) []string
	GainRange(dir Direction, channel int, name string) (Range, error)
	SetGain(dir Direction, channel int, name string, value float64) error
	Gain(dir Direction, channel int, name string) (float64, error)

	FrequencyRange(dir Direction, channel int) []Range
	SetFrequency(dir Direction, channel int, freq float64) error
	Frequency(dir Direction, channel int) (float64, error)

	ListSampleRates(dir Direction, channel int) []float64
	SetSampleRate(dir Direction, channel int, rate float64) error
	SampleRate(dir Direction, channel int) (float64, error)

	StreamFormats(dir Direction, channel int) []string
	SetupStream(dir Direction, format string, channels []int, args Kwargs) (Stream, error)
	ActivateStream(s Stream) error
	DeactivateStream(s Stream) error
	// ReadStream blocks until samples are available, the timeout elapses or
	// ctx is done. Failures are reported through StreamResult.Ret.
	ReadStream(ctx context.Context, s Stream, buffs []Buffer, numElems int, timeout time.Duration) StreamResult
	CloseStream(s Stream) error

	Close() error
}

// CheckChannels validates a stream channel selection for single channel
// receivers.
func CheckChannels(channels []int) error {
	if len(channels) > 1 || (len(channels) == 1 && channels[0] != 0) {
		return ErrInvalidChannel
	}
	return nil
}
