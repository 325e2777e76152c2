// Package file plays back raw I/Q captures as if they came from a receiver.
// Captures are either interleaved little-endian CS16, as written by the
// harness recorder, or CS8 as recorded from a HackRF.
package file

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/rxprobe/pkg/sdr"
)

const (
	DriverName = "file"
	antenna    = "FILE"

	defaultSampleRate = 240000
	defaultCenterFreq = 10000000
	defaultMTU        = 65536
)

type FileDevice struct {
	mu       sync.Mutex
	readFile *os.File
	logger   zerolog.Logger

	capture    string
	loop       bool
	pace       bool
	sampleRate float64
	centerFreq float64
	stream     *playback
}

func init() {
	sdr.Register(DriverName, Find, Make)
}

// Find reports the capture named by args["path"], if it exists.
func Find(args sdr.Kwargs) ([]sdr.Kwargs, error) {
	path := args["path"]
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("file: capture not found")
		return nil, nil
	}
	return []sdr.Kwargs{{
		"label":     "File playback",
		"available": "Yes",
		"path":      path,
	}}, nil
}

func Make(args sdr.Kwargs) (sdr.Device, error) {
	return NewFileDevice(args)
}

// NewFileDevice opens args["path"]. Optional args: capture (cs16 or cs8),
// rate, freq, loop and pace.
func NewFileDevice(args sdr.Kwargs) (*FileDevice, error) {
	capture := args["capture"]
	switch capture {
	case "":
		capture = "cs16"
	case "cs16", "cs8":
	default:
		return nil, fmt.Errorf("%w: capture format %q", sdr.ErrInvalidArgument, capture)
	}

	f, err := os.Open(args["path"])
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		readFile:   f,
		logger:     log.Logger.With().Str("driver", DriverName).Logger(),
		capture:    capture,
		loop:       args["loop"] == "true",
		pace:       args["pace"] == "true",
		sampleRate: args.Float("rate", defaultSampleRate),
		centerFreq: args.Float("freq", defaultCenterFreq),
	}, nil
}

func (f *FileDevice) bytesPerSample() int {
	if f.capture == "cs8" {
		return 2
	}
	return 4
}

func (f *FileDevice) DriverKey() string { return DriverName }

func (f *FileDevice) HardwareKey() string { return "File playback" }

func (f *FileDevice) HardwareInfo() sdr.Kwargs {
	return sdr.Kwargs{"path": f.readFile.Name(), "capture": f.capture}
}

func (f *FileDevice) NumChannels(dir sdr.Direction) int {
	if dir == sdr.RX {
		return 1
	}
	return 0
}

func check(dir sdr.Direction, channel int) error {
	if dir != sdr.RX {
		return sdr.ErrInvalidDirection
	}
	if channel != 0 {
		return sdr.ErrInvalidChannel
	}
	return nil
}

func (f *FileDevice) ListAntennas(dir sdr.Direction, channel int) []string {
	return []string{antenna}
}

func (f *FileDevice) SetAntenna(dir sdr.Direction, channel int, name string) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if name != antenna {
		return fmt.Errorf("%w: antenna %q", sdr.ErrInvalidArgument, name)
	}
	return nil
}

func (f *FileDevice) Antenna(dir sdr.Direction, channel int) (string, error) {
	return antenna, check(dir, channel)
}

func (f *FileDevice) ListGains(dir sdr.Direction, channel int) []string { return nil }

func (f *FileDevice) GainRange(dir sdr.Direction, channel int, name string) (sdr.Range, error) {
	return sdr.Range{}, fmt.Errorf("%w: playback has no gain %q", sdr.ErrInvalidArgument, name)
}

func (f *FileDevice) SetGain(dir sdr.Direction, channel int, name string, value float64) error {
	return fmt.Errorf("%w: playback has no gain %q", sdr.ErrInvalidArgument, name)
}

func (f *FileDevice) Gain(dir sdr.Direction, channel int, name string) (float64, error) {
	return 0, fmt.Errorf("%w: playback has no gain %q", sdr.ErrInvalidArgument, name)
}

func (f *FileDevice) FrequencyRange(dir sdr.Direction, channel int) []sdr.Range {
	return []sdr.Range{{Min: f.centerFreq, Max: f.centerFreq}}
}

// SetFrequency is accepted for any value; the capture is not retuned.
func (f *FileDevice) SetFrequency(dir sdr.Direction, channel int, freq float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	f.logger.Debug().Float64("requested", freq).Float64("capture", f.centerFreq).Msg("frequency ignored")
	return nil
}

func (f *FileDevice) Frequency(dir sdr.Direction, channel int) (float64, error) {
	return f.centerFreq, check(dir, channel)
}

func (f *FileDevice) ListSampleRates(dir sdr.Direction, channel int) []float64 {
	return []float64{f.sampleRate}
}

func (f *FileDevice) SetSampleRate(dir sdr.Direction, channel int, rate float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if rate != f.sampleRate {
		return fmt.Errorf("%w: capture was recorded at %g S/s", sdr.ErrInvalidArgument, f.sampleRate)
	}
	return nil
}

func (f *FileDevice) SampleRate(dir sdr.Direction, channel int) (float64, error) {
	return f.sampleRate, check(dir, channel)
}

func (f *FileDevice) Close() error {
	return f.readFile.Close()
}

type playback struct {
	sdr.StreamState
	format string
	raw    []byte
}

func (p *playback) Format() string { return p.format }

func (p *playback) MTU() int { return defaultMTU }

func (f *FileDevice) StreamFormats(dir sdr.Direction, channel int) []string {
	return []string{sdr.FormatCS16, sdr.FormatCF32}
}

func (f *FileDevice) SetupStream(dir sdr.Direction, format string, channels []int, args sdr.Kwargs) (sdr.Stream, error) {
	if dir != sdr.RX {
		return nil, sdr.ErrInvalidDirection
	}
	if err := sdr.CheckChannels(channels); err != nil {
		return nil, err
	}
	if format != sdr.FormatCS16 && format != sdr.FormatCF32 {
		return nil, fmt.Errorf("%w: %q", sdr.ErrUnsupportedFormat, format)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stream != nil {
		return nil, fmt.Errorf("%w: a stream is already open", sdr.ErrStreamState)
	}
	f.stream = &playback{format: format}
	return f.stream, nil
}

func (f *FileDevice) owned(s sdr.Stream) (*playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := s.(*playback)
	if !ok || p != f.stream {
		return nil, fmt.Errorf("%w: stream does not belong to this device", sdr.ErrStreamState)
	}
	return p, nil
}

func (f *FileDevice) ActivateStream(s sdr.Stream) error {
	p, err := f.owned(s)
	if err != nil {
		return err
	}
	return p.Activate()
}

func (f *FileDevice) DeactivateStream(s sdr.Stream) error {
	p, err := f.owned(s)
	if err != nil {
		return err
	}
	return p.Deactivate()
}

func (f *FileDevice) CloseStream(s sdr.Stream) error {
	p, err := f.owned(s)
	if err != nil {
		return err
	}
	if _, err := p.Close(); err != nil {
		return err
	}
	f.mu.Lock()
	f.stream = nil
	f.mu.Unlock()
	return nil
}

// ReadStream returns the next numElems samples of the capture. Once the
// capture is exhausted reads fail with ErrCodeStreamError unless loop is set.
func (f *FileDevice) ReadStream(ctx context.Context, s sdr.Stream, buffs []sdr.Buffer, numElems int, timeout time.Duration) sdr.StreamResult {
	p, err := f.owned(s)
	if err != nil || !p.Readable() || len(buffs) != 1 {
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}

	n := numElems
	if l := buffs[0].Len(); l < n {
		n = l
	}
	if n > defaultMTU {
		n = defaultMTU
	}
	if n <= 0 {
		return sdr.StreamResult{}
	}

	size := n * f.bytesPerSample()
	if cap(p.raw) < size {
		p.raw = make([]byte, size)
	}
	raw := p.raw[:size]

	got, err := io.ReadFull(f.readFile, raw)
	if got == 0 && err == io.EOF && f.loop {
		if _, serr := f.readFile.Seek(0, io.SeekStart); serr == nil {
			got, err = io.ReadFull(f.readFile, raw)
		}
	}
	if got == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			f.logger.Warn().Err(err).Msg("capture read failed")
		}
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}

	if f.pace {
		wait := time.Duration(float64(got/f.bytesPerSample()) / f.sampleRate * float64(time.Second))
		select {
		case <-ctx.Done():
			return sdr.ErrorResult(sdr.ErrCodeTimeout)
		case <-time.After(wait):
		}
	}

	sink := sdr.NewSink(buffs[0])
	if f.capture == "cs8" {
		seg := types.SegmentCS8Raw{
			SampleRate: int(f.sampleRate),
			Data:       raw[:got-got%2],
			Frequency:  int(f.centerFreq),
		}
		for _, c := range seg.ToComplex64().Data {
			sink.PutComplex(c)
		}
	} else {
		for i := 0; i+4 <= got; i += 4 {
			sink.PutInt16(int16(binary.LittleEndian.Uint16(raw[i:])), int16(binary.LittleEndian.Uint16(raw[i+2:])))
		}
	}
	return sdr.StreamResult{Ret: sink.Written(), TimeNs: time.Now().UnixNano()}
}
