// Package mock provides a scriptable in-memory receiver. Every call made on a
// mock device is appended to a trace that tests can inspect.
package mock

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/norasector/rxprobe/pkg/sdr"
)

const DriverName = "mock"

// Stage is a gain element and its range.
type Stage struct {
	Name  string
	Range sdr.Range
}

type Config struct {
	// Antennas are reported below BandEdge, HighAntennas at or above it.
	Antennas     []string
	HighAntennas []string
	BandEdge     float64

	Stages          []Stage
	FrequencyRanges []sdr.Range
	SampleRates     []float64
	Formats         []string
	MTU             int

	// Reads scripts the Ret value of successive reads, cycling. Positive
	// values are capped by the request size. Empty means always fill the
	// request.
	Reads []int

	// Fail maps a method name to the error it returns.
	Fail map[string]error
}

// DefaultConfig mirrors the layout of an HF/VHF communications receiver.
func DefaultConfig() Config {
	return Config{
		Antennas:     []string{"ANT 1", "ANT 2", "ANT 3"},
		HighAntennas: []string{"ANT 1"},
		BandEdge:     30e6,
		Stages: []Stage{
			{Name: "RF", Range: sdr.Range{Min: -63.75, Max: 0, Step: 0.25}},
			{Name: "PRE-AMP", Range: sdr.Range{Min: 0, Max: 14, Step: 14}},
			{Name: "ATTENUATOR", Range: sdr.Range{Min: -30, Max: 0, Step: 10}},
		},
		FrequencyRanges: []sdr.Range{{Min: 10, Max: 3e9}},
		SampleRates:     []float64{240000, 480000, 960000, 1920000, 3840000, 5120000},
		Formats:         []string{sdr.FormatCS16, sdr.FormatCF32},
		MTU:             1024,
	}
}

// Call is one recorded method invocation.
type Call struct {
	Method string
	Args   []interface{}
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Method, c.Args)
}

type Device struct {
	mu     sync.Mutex
	cfg    Config
	args   sdr.Kwargs
	calls  []Call
	closed bool

	freq    float64
	rate    float64
	antenna string
	gains   map[string]float64
	stream  *stream
	reads   int
	phase   float64
}

func New(cfg Config, args sdr.Kwargs) *Device {
	d := &Device{
		cfg:   cfg,
		args:  args,
		gains: make(map[string]float64),
	}
	if len(cfg.SampleRates) > 0 {
		d.rate = cfg.SampleRates[0]
	}
	if len(cfg.FrequencyRanges) > 0 {
		d.freq = cfg.FrequencyRanges[0].Min
	}
	if ants := d.antennasLocked(); len(ants) > 0 {
		d.antenna = ants[0]
	}
	for _, st := range cfg.Stages {
		d.gains[st.Name] = st.Range.Max
	}
	return d
}

// record appends a call to the trace and returns the scripted failure for
// method, if any. d.mu must be held.
func (d *Device) record(method string, args ...interface{}) error {
	d.calls = append(d.calls, Call{Method: method, Args: args})
	if err, ok := d.cfg.Fail[method]; ok {
		return err
	}
	return nil
}

// Calls returns a copy of the trace.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Methods returns the method names of the trace in order.
func (d *Device) Methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]string, len(d.calls))
	for i, c := range d.calls {
		ret[i] = c.Method
	}
	return ret
}

func (d *Device) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (d *Device) Args() sdr.Kwargs { return d.args }

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) DriverKey() string { return DriverName }

func (d *Device) HardwareKey() string { return "Mock receiver" }

func (d *Device) HardwareInfo() sdr.Kwargs { return sdr.Kwargs{"origin": "memory"} }

func (d *Device) NumChannels(dir sdr.Direction) int {
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

func (d *Device) antennasLocked() []string {
	if d.freq >= d.cfg.BandEdge && d.cfg.HighAntennas != nil {
		return append([]string(nil), d.cfg.HighAntennas...)
	}
	return append([]string(nil), d.cfg.Antennas...)
}

func (d *Device) ListAntennas(dir sdr.Direction, channel int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ListAntennas", dir, channel)
	return d.antennasLocked()
}

func (d *Device) SetAntenna(dir sdr.Direction, channel int, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetAntenna", dir, channel, name); err != nil {
		return err
	}
	if err := check(dir, channel); err != nil {
		return err
	}
	for _, ant := range d.antennasLocked() {
		if ant == name {
			d.antenna = name
			return nil
		}
	}
	return fmt.Errorf("%w: antenna %q", sdr.ErrInvalidArgument, name)
}

func (d *Device) Antenna(dir sdr.Direction, channel int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Antenna", dir, channel); err != nil {
		return "", err
	}
	return d.antenna, check(dir, channel)
}

func (d *Device) ListGains(dir sdr.Direction, channel int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ListGains", dir, channel)
	ret := make([]string, len(d.cfg.Stages))
	for i, st := range d.cfg.Stages {
		ret[i] = st.Name
	}
	return ret
}

func (d *Device) stage(name string) (sdr.Range, error) {
	for _, st := range d.cfg.Stages {
		if st.Name == name {
			return st.Range, nil
		}
	}
	return sdr.Range{}, fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
}

func (d *Device) GainRange(dir sdr.Direction, channel int, name string) (sdr.Range, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("GainRange", dir, channel, name); err != nil {
		return sdr.Range{}, err
	}
	return d.stage(name)
}

func (d *Device) SetGain(dir sdr.Direction, channel int, name string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetGain", dir, channel, name, value); err != nil {
		return err
	}
	r, err := d.stage(name)
	if err != nil {
		return err
	}
	d.gains[name] = r.Clip(value)
	return nil
}

func (d *Device) Gain(dir sdr.Direction, channel int, name string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Gain", dir, channel, name); err != nil {
		return 0, err
	}
	if _, err := d.stage(name); err != nil {
		return 0, err
	}
	return d.gains[name], nil
}

func (d *Device) FrequencyRange(dir sdr.Direction, channel int) []sdr.Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("FrequencyRange", dir, channel)
	return append([]sdr.Range(nil), d.cfg.FrequencyRanges...)
}

func (d *Device) SetFrequency(dir sdr.Direction, channel int, freq float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetFrequency", dir, channel, freq); err != nil {
		return err
	}
	if err := check(dir, channel); err != nil {
		return err
	}
	ok := len(d.cfg.FrequencyRanges) == 0
	for _, r := range d.cfg.FrequencyRanges {
		ok = ok || r.Contains(freq)
	}
	if !ok {
		return fmt.Errorf("%w: frequency %g", sdr.ErrInvalidArgument, freq)
	}
	d.freq = freq

	// Switching bands can drop the selected antenna.
	ants := d.antennasLocked()
	for _, ant := range ants {
		if ant == d.antenna {
			return nil
		}
	}
	if len(ants) > 0 {
		d.antenna = ants[0]
	}
	return nil
}

func (d *Device) Frequency(dir sdr.Direction, channel int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq, d.record("Frequency", dir, channel)
}

func (d *Device) ListSampleRates(dir sdr.Direction, channel int) []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ListSampleRates", dir, channel)
	return append([]float64(nil), d.cfg.SampleRates...)
}

func (d *Device) SetSampleRate(dir sdr.Direction, channel int, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetSampleRate", dir, channel, rate); err != nil {
		return err
	}
	if err := check(dir, channel); err != nil {
		return err
	}
	if len(d.cfg.SampleRates) > 0 {
		found := false
		for _, r := range d.cfg.SampleRates {
			found = found || r == rate
		}
		if !found {
			return fmt.Errorf("%w: sample rate %g", sdr.ErrInvalidArgument, rate)
		}
	}
	d.rate = rate
	return nil
}

func (d *Device) SampleRate(dir sdr.Direction, channel int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate, d.record("SampleRate", dir, channel)
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Close"); err != nil {
		return err
	}
	d.closed = true
	d.stream = nil
	return nil
}

type stream struct {
	sdr.StreamState
	format string
	mtu    int
}

func (s *stream) Format() string { return s.format }

func (s *stream) MTU() int { return s.mtu }

func (d *Device) StreamFormats(dir sdr.Direction, channel int) []string {
	return append([]string(nil), d.cfg.Formats...)
}

func (d *Device) SetupStream(dir sdr.Direction, format string, channels []int, args sdr.Kwargs) (sdr.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetupStream", dir, format, channels); err != nil {
		return nil, err
	}
	if dir != sdr.RX {
		return nil, sdr.ErrInvalidDirection
	}
	if err := sdr.CheckChannels(channels); err != nil {
		return nil, err
	}
	supported := false
	for _, f := range d.cfg.Formats {
		supported = supported || f == format
	}
	if !supported {
		return nil, fmt.Errorf("%w: %q", sdr.ErrUnsupportedFormat, format)
	}
	if d.stream != nil {
		return nil, fmt.Errorf("%w: a stream is already open", sdr.ErrStreamState)
	}
	d.stream = &stream{format: format, mtu: d.cfg.MTU}
	return d.stream, nil
}

func (d *Device) owned(s sdr.Stream) (*stream, error) {
	st, ok := s.(*stream)
	if !ok || st != d.stream {
		return nil, fmt.Errorf("%w: stream does not belong to this device", sdr.ErrStreamState)
	}
	return st, nil
}

func (d *Device) ActivateStream(s sdr.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("ActivateStream"); err != nil {
		return err
	}
	st, err := d.owned(s)
	if err != nil {
		return err
	}
	return st.Activate()
}

func (d *Device) DeactivateStream(s sdr.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeactivateStream"); err != nil {
		return err
	}
	st, err := d.owned(s)
	if err != nil {
		return err
	}
	return st.Deactivate()
}

func (d *Device) CloseStream(s sdr.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("CloseStream"); err != nil {
		return err
	}
	st, err := d.owned(s)
	if err != nil {
		return err
	}
	if _, err := st.Close(); err != nil {
		return err
	}
	d.stream = nil
	return nil
}

// ReadStream fills buffs[0] with a tone at a tenth of the sample rate. Reads
// are rejected unless the stream is active.
func (d *Device) ReadStream(ctx context.Context, s sdr.Stream, buffs []sdr.Buffer, numElems int, timeout time.Duration) sdr.StreamResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ReadStream", numElems)

	st, err := d.owned(s)
	if err != nil || !st.Readable() || len(buffs) != 1 {
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}

	n := numElems
	if l := buffs[0].Len(); l < n {
		n = l
	}
	if st.mtu > 0 && st.mtu < n {
		n = st.mtu
	}

	if len(d.cfg.Reads) > 0 {
		ret := d.cfg.Reads[d.reads%len(d.cfg.Reads)]
		d.reads++
		if ret <= 0 {
			return sdr.ErrorResult(ret)
		}
		if ret < n {
			n = ret
		}
	}

	sink := sdr.NewSink(buffs[0])
	for i := 0; i < n; i++ {
		sink.PutComplex(complex64(complex(0.5*math.Cos(d.phase), 0.5*math.Sin(d.phase))))
		d.phase += 2 * math.Pi / 10
	}
	return sdr.StreamResult{Ret: sink.Written(), TimeNs: time.Now().UnixNano()}
}
