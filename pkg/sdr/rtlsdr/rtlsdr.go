// Package rtlsdr adapts RTL2832U dongles to the sdr.Device interface.
package rtlsdr

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/rxprobe/pkg/sdr"
)

const (
	DriverName = "rtlsdr"
	GainTuner  = "TUNER"
	antenna    = "RX"

	maxSampleRate = 3.2e6
	// ReadSync lengths must be a multiple of this.
	readBlock = 512
)

var sampleRates = []float64{250000, 1024000, 1536000, 1792000, 1920000, 2048000, 2160000, 2560000, 2880000, 3200000}

type RTLSDRDevice struct {
	mu        sync.Mutex
	deviceIdx int
	device    *gsdr.Context
	logger    zerolog.Logger

	gains  []int // tenths of a dB
	stream *rxStream
}

func init() {
	sdr.Register(DriverName, Find, Make)
}

// Find lists attached dongles, optionally filtered by serial or index.
func Find(args sdr.Kwargs) ([]sdr.Kwargs, error) {
	var ret []sdr.Kwargs
	for i := 0; i < gsdr.GetDeviceCount(); i++ {
		manufact, product, serial, err := gsdr.GetDeviceUsbStrings(i)
		if err != nil {
			log.Debug().Err(err).Int("index", i).Msg("rtlsdr: usb strings")
			continue
		}
		if want, ok := args["serial"]; ok && want != serial {
			continue
		}
		if want, ok := args["index"]; ok && want != strconv.Itoa(i) {
			continue
		}
		ret = append(ret, sdr.Kwargs{
			"label":        gsdr.GetDeviceName(i),
			"manufacturer": manufact,
			"product":      product,
			"serial":       serial,
			"index":        strconv.Itoa(i),
		})
	}
	return ret, nil
}

func Make(args sdr.Kwargs) (sdr.Device, error) {
	return NewRTLSDRDevice(args.Int("index", 0))
}

func NewRTLSDRDevice(deviceIdx int) (*RTLSDRDevice, error) {
	device, err := gsdr.Open(deviceIdx)
	if err != nil {
		return nil, err
	}
	gains, err := device.GetTunerGains()
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("tuner gains: %w", err)
	}
	if err := device.SetTunerGainMode(true); err != nil {
		device.Close()
		return nil, fmt.Errorf("manual gain mode: %w", err)
	}

	r := &RTLSDRDevice{
		deviceIdx: deviceIdx,
		device:    device,
		gains:     gains,
		logger:    log.Logger.With().Str("driver", DriverName).Int("index", deviceIdx).Logger(),
	}
	r.logger.Info().Str("tuner", device.GetTunerType()).Ints("gains", gains).Msg("device opened")
	return r, nil
}

func (r *RTLSDRDevice) Close() error {
	return r.device.Close()
}

func (r *RTLSDRDevice) DriverKey() string { return DriverName }

func (r *RTLSDRDevice) HardwareKey() string { return r.device.GetTunerType() }

func (r *RTLSDRDevice) HardwareInfo() sdr.Kwargs {
	manufact, product, serial, _ := r.device.GetUsbStrings()
	return sdr.Kwargs{"manufacturer": manufact, "product": product, "serial": serial}
}

func (r *RTLSDRDevice) NumChannels(dir sdr.Direction) int {
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

func (r *RTLSDRDevice) ListAntennas(dir sdr.Direction, channel int) []string {
	return []string{antenna}
}

func (r *RTLSDRDevice) SetAntenna(dir sdr.Direction, channel int, name string) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if name != antenna {
		return fmt.Errorf("%w: antenna %q", sdr.ErrInvalidArgument, name)
	}
	return nil
}

func (r *RTLSDRDevice) Antenna(dir sdr.Direction, channel int) (string, error) {
	return antenna, check(dir, channel)
}

func (r *RTLSDRDevice) ListGains(dir sdr.Direction, channel int) []string {
	return []string{GainTuner}
}

func (r *RTLSDRDevice) GainRange(dir sdr.Direction, channel int, name string) (sdr.Range, error) {
	if name != GainTuner {
		return sdr.Range{}, fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	return tableRange(r.gains), nil
}

func (r *RTLSDRDevice) SetGain(dir sdr.Direction, channel int, name string, value float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if name != GainTuner {
		return fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	gain := nearestGain(r.gains, value)
	r.logger.Debug().Float64("requested", value).Int("tenths_db", gain).Msg("set tuner gain")
	return r.device.SetTunerGain(gain)
}

func (r *RTLSDRDevice) Gain(dir sdr.Direction, channel int, name string) (float64, error) {
	if err := check(dir, channel); err != nil {
		return 0, err
	}
	if name != GainTuner {
		return 0, fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	return float64(r.device.GetTunerGain()) / 10, nil
}

func (r *RTLSDRDevice) FrequencyRange(dir sdr.Direction, channel int) []sdr.Range {
	return []sdr.Range{{Min: 24e6, Max: 1766e6}}
}

func (r *RTLSDRDevice) SetFrequency(dir sdr.Direction, channel int, freq float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	return r.device.SetCenterFreq(int(freq))
}

func (r *RTLSDRDevice) Frequency(dir sdr.Direction, channel int) (float64, error) {
	return float64(r.device.GetCenterFreq()), check(dir, channel)
}

func (r *RTLSDRDevice) ListSampleRates(dir sdr.Direction, channel int) []float64 {
	return append([]float64(nil), sampleRates...)
}

// SetSampleRate accepts 225001-300000 and 900001-3200000 S/s, the ranges the
// RTL2832U resampler supports.
func (r *RTLSDRDevice) SetSampleRate(dir sdr.Direction, channel int, rate float64) error {
	if err := check(dir, channel); err != nil {
		return err
	}
	if !(rate > 225000 && rate <= 300000) && !(rate > 900000 && rate <= maxSampleRate) {
		return fmt.Errorf("%w: sample rate %g", sdr.ErrInvalidArgument, rate)
	}
	return r.device.SetSampleRate(int(rate))
}

func (r *RTLSDRDevice) SampleRate(dir sdr.Direction, channel int) (float64, error) {
	return float64(r.device.GetSampleRate()), check(dir, channel)
}

type rxStream struct {
	sdr.StreamState
	format string
	raw    []byte
}

func (s *rxStream) Format() string { return s.format }

func (s *rxStream) MTU() int { return gsdr.DefaultBufLength / 2 }

func (r *RTLSDRDevice) StreamFormats(dir sdr.Direction, channel int) []string {
	return []string{sdr.FormatCS16, sdr.FormatCF32}
}

func (r *RTLSDRDevice) SetupStream(dir sdr.Direction, format string, channels []int, args sdr.Kwargs) (sdr.Stream, error) {
	if dir != sdr.RX {
		return nil, sdr.ErrInvalidDirection
	}
	if err := sdr.CheckChannels(channels); err != nil {
		return nil, err
	}
	if format != sdr.FormatCS16 && format != sdr.FormatCF32 {
		return nil, fmt.Errorf("%w: %q", sdr.ErrUnsupportedFormat, format)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return nil, fmt.Errorf("%w: a stream is already open", sdr.ErrStreamState)
	}
	r.stream = &rxStream{format: format, raw: make([]byte, gsdr.DefaultBufLength)}
	return r.stream, nil
}

func (r *RTLSDRDevice) owned(s sdr.Stream) (*rxStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := s.(*rxStream)
	if !ok || st != r.stream {
		return nil, fmt.Errorf("%w: stream does not belong to this device", sdr.ErrStreamState)
	}
	return st, nil
}

func (r *RTLSDRDevice) ActivateStream(s sdr.Stream) error {
	st, err := r.owned(s)
	if err != nil {
		return err
	}
	if err := r.device.ResetBuffer(); err != nil {
		return err
	}
	return st.Activate()
}

func (r *RTLSDRDevice) DeactivateStream(s sdr.Stream) error {
	st, err := r.owned(s)
	if err != nil {
		return err
	}
	return st.Deactivate()
}

func (r *RTLSDRDevice) CloseStream(s sdr.Stream) error {
	st, err := r.owned(s)
	if err != nil {
		return err
	}
	if _, err := st.Close(); err != nil {
		return err
	}
	r.mu.Lock()
	r.stream = nil
	r.mu.Unlock()
	return nil
}

// ReadStream performs one synchronous USB read. librtlsdr has no read
// timeout, so ctx and timeout are not observed once the transfer starts.
func (r *RTLSDRDevice) ReadStream(ctx context.Context, s sdr.Stream, buffs []sdr.Buffer, numElems int, timeout time.Duration) sdr.StreamResult {
	st, err := r.owned(s)
	if err != nil || !st.Readable() || len(buffs) != 1 {
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}
	if ctx.Err() != nil {
		return sdr.ErrorResult(sdr.ErrCodeTimeout)
	}

	n := numElems
	if l := buffs[0].Len(); l < n {
		n = l
	}
	size := readSize(n, len(st.raw))
	got, err := r.device.ReadSync(st.raw[:size], size)
	if err != nil {
		r.logger.Warn().Err(err).Msg("read failed")
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}
	return sdr.StreamResult{Ret: putCU8(sdr.NewSink(buffs[0]), st.raw[:got]), TimeNs: time.Now().UnixNano()}
}

// readSize is the byte count for n samples, rounded up to whole read blocks
// and capped at max.
func readSize(n, max int) int {
	size := 2 * n
	if rem := size % readBlock; rem != 0 {
		size += readBlock - rem
	}
	if size > max {
		size = max - max%readBlock
	}
	if size < readBlock {
		size = readBlock
	}
	return size
}

// putCU8 converts unsigned 8 bit I/Q pairs centered on 127.5.
func putCU8(sink *sdr.Sink, raw []byte) int {
	for i := 0; i+1 < len(raw); i += 2 {
		c := complex((float32(raw[i])-127.5)/128, (float32(raw[i+1])-127.5)/128)
		if !sink.PutComplex(c) {
			break
		}
	}
	return sink.Written()
}

// tableRange spans the tuner gain table in dB. The table is not evenly
// spaced, so the step is left at zero.
func tableRange(gains []int) sdr.Range {
	if len(gains) == 0 {
		return sdr.Range{}
	}
	lo, hi := gains[0], gains[0]
	for _, g := range gains {
		if g < lo {
			lo = g
		}
		if g > hi {
			hi = g
		}
	}
	return sdr.Range{Min: float64(lo) / 10, Max: float64(hi) / 10}
}

// nearestGain picks the table entry closest to db.
func nearestGain(gains []int, db float64) int {
	best := 0
	bestDist := math.Inf(1)
	for _, g := range gains {
		if d := math.Abs(float64(g)/10 - db); d < bestDist {
			best, bestDist = g, d
		}
	}
	return best
}
