// Package hackrf adapts the HackRF One to the sdr.Device interface.
package hackrf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samuel/go-hackrf/hackrf"

	"github.com/norasector/rxprobe/pkg/sdr"
)

const (
	DriverName = "hackrf"

	GainLNA = "LNA"
	GainVGA = "VGA"
	GainAmp = "AMP"

	antenna       = "TX/RX"
	maxSampleRate = 20e6

	// USB transfers queued between the RX callback and ReadStream.
	queueDepth = 16
)

var (
	gainRanges = map[string]sdr.Range{
		GainLNA: {Min: 0, Max: 40, Step: 8},
		GainVGA: {Min: 0, Max: 62, Step: 2},
		GainAmp: {Min: 0, Max: 14, Step: 14},
	}
	gainOrder   = []string{GainLNA, GainVGA, GainAmp}
	sampleRates = []float64{2e6, 4e6, 8e6, 10e6, 12.5e6, 16e6, 20e6}

	initOnce sync.Once
	initErr  error
)

func libInit() error {
	initOnce.Do(func() {
		initErr = hackrf.Init()
	})
	return initErr
}

type HackRFDevice struct {
	mu     sync.Mutex
	device *hackrf.Device
	logger zerolog.Logger

	centerFreq float64
	sampleRate float64
	gains      map[string]float64
	stream     *rxStream
}

func init() {
	sdr.Register(DriverName, Find, Make)
}

// Find probes for a HackRF by opening it. libhackrf is initialised on first
// use and stays loaded for the life of the process.
func Find(args sdr.Kwargs) ([]sdr.Kwargs, error) {
	if err := libInit(); err != nil {
		log.Debug().Err(err).Msg("hackrf: init")
		return nil, nil
	}
	device, err := hackrf.Open()
	if err != nil {
		log.Debug().Err(err).Msg("hackrf: probe")
		return nil, nil
	}
	device.Close()
	return []sdr.Kwargs{{"label": "HackRF One", "available": "Yes"}}, nil
}

func Make(args sdr.Kwargs) (sdr.Device, error) {
	return NewHackRFDevice()
}

func NewHackRFDevice() (*HackRFDevice, error) {
	if err := libInit(); err != nil {
		return nil, err
	}
	device, err := hackrf.Open()
	if err != nil {
		return nil, err
	}

	h := &HackRFDevice{
		device:     device,
		logger:     log.Logger.With().Str("driver", DriverName).Logger(),
		centerFreq: 100e6,
		sampleRate: 10e6,
		gains:      make(map[string]float64),
	}
	return h, nil
}

func (h *HackRFDevice) Close() error {
	h.mu.Lock()
	s := h.stream
	h.mu.Unlock()
	if s != nil {
		h.CloseStream(s)
	}
	return h.device.Close()
}

func (h *HackRFDevice) DriverKey() string { return DriverName }

func (h *HackRFDevice) HardwareKey() string { return "HackRF One" }

func (h *HackRFDevice) HardwareInfo() sdr.Kwargs { return sdr.Kwargs{} }

func (h *HackRFDevice) NumChannels(dir sdr.Direction) int {
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

func (h *HackRFDevice) ListAntennas(dir sdr.Direction, channel int) []string {
	return []string{antenna}
}

func (h *HackRFDevice) SetAntenna(dir sdr.Direction, channel int, name string) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if name != antenna {
		return fmt.Errorf("%w: antenna %q", sdr.ErrInvalidArgument, name)
	}
	return nil
}

func (h *HackRFDevice) Antenna(dir sdr.Direction, channel int) (string, error) {
	return antenna, check(dir, channel)
}

func (h *HackRFDevice) ListGains(dir sdr.Direction, channel int) []string {
	return append([]string(nil), gainOrder...)
}

func (h *HackRFDevice) GainRange(dir sdr.Direction, channel int, name string) (sdr.Range, error) {
	r, ok := gainRanges[name]
	if !ok {
		return sdr.Range{}, fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	return r, nil
}

func (h *HackRFDevice) SetGain(dir sdr.Direction, channel int, name string, value float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	r, ok := gainRanges[name]
	if !ok {
		return fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	value = r.Clip(value)

	var err error
	switch name {
	case GainLNA:
		err = h.device.SetLNAGain(int(value))
	case GainVGA:
		err = h.device.SetVGAGain(int(value))
	case GainAmp:
		err = h.device.SetAmpEnable(value > 0)
	}
	if err != nil {
		return fmt.Errorf("set %s gain: %w", name, err)
	}

	// The hardware has no gain readback.
	h.mu.Lock()
	h.gains[name] = value
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) Gain(dir sdr.Direction, channel int, name string) (float64, error) {
	if _, ok := gainRanges[name]; !ok {
		return 0, fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gains[name], check(dir, channel)
}

func (h *HackRFDevice) FrequencyRange(dir sdr.Direction, channel int) []sdr.Range {
	return []sdr.Range{{Min: 1e6, Max: 6e9}}
}

func (h *HackRFDevice) SetFrequency(dir sdr.Direction, channel int, freq float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if err := h.device.SetFreq(uint64(freq)); err != nil {
		return err
	}
	h.mu.Lock()
	h.centerFreq = freq
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) Frequency(dir sdr.Direction, channel int) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.centerFreq, check(dir, channel)
}

func (h *HackRFDevice) ListSampleRates(dir sdr.Direction, channel int) []float64 {
	return append([]float64(nil), sampleRates...)
}

func (h *HackRFDevice) SetSampleRate(dir sdr.Direction, channel int, rate float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if rate < sampleRates[0] || rate > maxSampleRate {
		return fmt.Errorf("%w: sample rate %g", sdr.ErrInvalidArgument, rate)
	}
	if err := h.device.SetSampleRateManual(int(rate)*2, 2); err != nil {
		return err
	}
	if err := h.device.SetBasebandFilterBandwidth(int(rate)); err != nil {
		return err
	}
	h.mu.Lock()
	h.sampleRate = rate
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) SampleRate(dir sdr.Direction, channel int) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sampleRate, check(dir, channel)
}

type rxStream struct {
	sdr.StreamState
	format string
	queue  *blockQueue

	// Converted samples left over from a transfer larger than the caller's
	// buffer.
	pending []complex64
}

func (s *rxStream) Format() string { return s.format }

func (s *rxStream) MTU() int { return 131072 }

func (h *HackRFDevice) StreamFormats(dir sdr.Direction, channel int) []string {
	return []string{sdr.FormatCS16, sdr.FormatCF32}
}

func (h *HackRFDevice) SetupStream(dir sdr.Direction, format string, channels []int, args sdr.Kwargs) (sdr.Stream, error) {
	if dir != sdr.RX {
		return nil, sdr.ErrInvalidDirection
	}
	if err := sdr.CheckChannels(channels); err != nil {
		return nil, err
	}
	if format != sdr.FormatCS16 && format != sdr.FormatCF32 {
		return nil, fmt.Errorf("%w: %q", sdr.ErrUnsupportedFormat, format)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream != nil {
		return nil, fmt.Errorf("%w: a stream is already open", sdr.ErrStreamState)
	}
	h.stream = &rxStream{format: format, queue: newBlockQueue(queueDepth)}
	return h.stream, nil
}

func (h *HackRFDevice) owned(s sdr.Stream) (*rxStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := s.(*rxStream)
	if !ok || st != h.stream {
		return nil, fmt.Errorf("%w: stream does not belong to this device", sdr.ErrStreamState)
	}
	return st, nil
}

func (h *HackRFDevice) ActivateStream(s sdr.Stream) error {
	st, err := h.owned(s)
	if err != nil {
		return err
	}
	if err := st.Activate(); err != nil {
		return err
	}
	return h.device.StartRX(func(buf []byte) error {
		if !st.queue.push(buf) {
			h.logger.Trace().Int("bytes", len(buf)).Msg("rx overflow")
		}
		return nil
	})
}

func (h *HackRFDevice) DeactivateStream(s sdr.Stream) error {
	st, err := h.owned(s)
	if err != nil {
		return err
	}
	if err := st.Deactivate(); err != nil {
		return err
	}
	return h.device.StopRX()
}

func (h *HackRFDevice) CloseStream(s sdr.Stream) error {
	st, err := h.owned(s)
	if err != nil {
		return err
	}
	wasActive, err := st.Close()
	if err != nil {
		return err
	}
	if wasActive {
		if err := h.device.StopRX(); err != nil {
			h.logger.Warn().Err(err).Msg("stop rx on close")
		}
	}
	h.mu.Lock()
	h.stream = nil
	h.mu.Unlock()
	return nil
}

// ReadStream waits for the next USB transfer and converts it into buffs[0].
// A transfer dropped because reads fell behind is reported once as
// ErrCodeOverflow.
func (h *HackRFDevice) ReadStream(ctx context.Context, s sdr.Stream, buffs []sdr.Buffer, numElems int, timeout time.Duration) sdr.StreamResult {
	st, err := h.owned(s)
	if err != nil || !st.Readable() || len(buffs) != 1 {
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}
	if st.queue.takeOverflow() {
		return sdr.ErrorResult(sdr.ErrCodeOverflow)
	}

	if len(st.pending) == 0 {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		raw, err := st.queue.pop(ctx)
		if err != nil {
			return sdr.ErrorResult(sdr.ErrCodeTimeout)
		}

		h.mu.Lock()
		seg := types.SegmentCS8Raw{
			SampleRate: int(h.sampleRate),
			Data:       raw,
			Frequency:  int(h.centerFreq),
		}
		h.mu.Unlock()
		st.pending = seg.ToComplex64().Data
	}

	sink := sdr.NewSink(buffs[0])
	n := 0
	for ; n < len(st.pending) && n < numElems; n++ {
		if !sink.PutComplex(st.pending[n]) {
			break
		}
	}
	st.pending = st.pending[n:]
	return sdr.StreamResult{Ret: sink.Written(), TimeNs: time.Now().UnixNano()}
}
