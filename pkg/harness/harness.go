// Package harness runs a fixed device-control scenario against an SDR driver:
// discovery, instantiation, capability queries, tuning, gain round trips and
// a short receive stream.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/rxprobe/pkg/sdr"
	"github.com/norasector/rxprobe/pkg/util"
)

const separator = "----------"

var ErrNoDevice = errors.New("harness: no device open")

type Harness struct {
	registry *sdr.Registry
	opts     Options
	output   io.Writer
	logger   zerolog.Logger
	writeAPI api.WriteAPI
	sinks    []CaptureSink
	recorder io.Writer

	dev  sdr.Device
	freq float64
}

func New(registry *sdr.Registry, options Options, opts ...HarnessOption) (*Harness, error) {
	h := &Harness{
		registry: registry,
		opts:     options,
		output:   os.Stdout,
		logger:   log.Logger,
		writeAPI: &util.NopWriteAPI{}, // overwritten with option
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.registry == nil {
		h.registry = sdr.Default()
	}
	if h.opts.BufferLength <= 0 {
		return nil, fmt.Errorf("must specify buffer length")
	}
	if _, err := sdr.NewBuffer(h.opts.Format, 1); err != nil {
		return nil, err
	}
	if len(h.opts.Frequencies) == 0 {
		return nil, fmt.Errorf("must specify at least one frequency")
	}
	return h, nil
}

// Device returns the handle opened by Run, if any.
func (h *Harness) Device() sdr.Device {
	return h.dev
}

// Close releases the device opened by Run.
func (h *Harness) Close() error {
	if h.dev == nil {
		return ErrNoDevice
	}
	err := h.dev.Close()
	h.dev = nil
	return err
}

func (h *Harness) printf(format string, args ...interface{}) {
	fmt.Fprintf(h.output, format, args...)
}

func (h *Harness) println(args ...interface{}) {
	fmt.Fprintln(h.output, args...)
}

// Run executes the scenario once. The first failing call aborts it; negative
// read results are only reported. ctx is observed while waiting for the
// stream to settle.
func (h *Harness) Run(ctx context.Context) error {
	h.println()
	if err := h.Discover(); err != nil {
		return err
	}
	if err := h.Instantiate(); err != nil {
		return err
	}
	if err := h.QueryCapabilities(); err != nil {
		return err
	}
	for i, freq := range h.opts.Frequencies {
		if err := h.Configure(freq, i == 0); err != nil {
			return err
		}
	}
	if err := h.ExerciseGains(); err != nil {
		return err
	}
	return h.Stream(ctx)
}

// Discover lists every device the registry can see. An empty list is not an
// error.
func (h *Harness) Discover() error {
	h.println("Enumerating devices")
	results, err := h.registry.Enumerate(nil)
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	for _, result := range results {
		h.println(result)
	}
	h.println(separator)
	h.println()
	h.logger.Debug().Int("count", len(results)).Msg("enumerated devices")
	return nil
}

// Instantiate opens the device named by the configured args. Enumeration
// results are never used to pick the args.
func (h *Harness) Instantiate() error {
	h.printf("Instantiating %s\n", h.opts.Args["driver"])
	dev, err := h.registry.Open(h.opts.Args)
	if err != nil {
		return fmt.Errorf("open %s: %w", h.opts.Args, err)
	}
	h.dev = dev
	h.println(separator)
	h.println()
	h.logger.Info().Str("driver", dev.DriverKey()).Str("hardware", dev.HardwareKey()).Msg("device instantiated")
	return nil
}

func (h *Harness) QueryCapabilities() error {
	if h.dev == nil {
		return ErrNoDevice
	}
	h.println("Get Frequency Range")
	for _, r := range h.dev.FrequencyRange(sdr.RX, h.opts.Channel) {
		h.println(r)
	}
	h.println(separator)
	h.println()

	h.logger.Debug().
		Strs("antennas", h.dev.ListAntennas(sdr.RX, h.opts.Channel)).
		Strs("gains", h.dev.ListGains(sdr.RX, h.opts.Channel)).
		Msg("capabilities")
	return nil
}

// Configure tunes to freq and round-trips every antenna offered there. The
// antenna list is queried after tuning since it may depend on the band.
func (h *Harness) Configure(freq float64, setRate bool) error {
	if h.dev == nil {
		return ErrNoDevice
	}
	ch := h.opts.Channel
	if setRate {
		if err := h.dev.SetSampleRate(sdr.RX, ch, h.opts.SampleRate); err != nil {
			return fmt.Errorf("set sample rate %g: %w", h.opts.SampleRate, err)
		}
	}
	if err := h.dev.SetFrequency(sdr.RX, ch, freq); err != nil {
		return fmt.Errorf("set frequency %s: %w", util.HzToString(freq), err)
	}
	h.freq = freq
	h.logger.Info().Str("frequency", util.HzToString(freq)).Msg("tuned")

	antennas := h.dev.ListAntennas(sdr.RX, ch)
	h.println("Antennas:", antennas)
	for _, antenna := range antennas {
		if err := h.dev.SetAntenna(sdr.RX, ch, antenna); err != nil {
			return fmt.Errorf("set antenna %s: %w", antenna, err)
		}
		readback, err := h.dev.Antenna(sdr.RX, ch)
		if err != nil {
			return fmt.Errorf("get antenna: %w", err)
		}
		h.println("\tAntenna Readback = " + readback)
	}
	return nil
}

// ExerciseGains prints every stage's range, then runs the configured
// set+readback plan.
func (h *Harness) ExerciseGains() error {
	if h.dev == nil {
		return ErrNoDevice
	}
	ch := h.opts.Channel
	gains := h.dev.ListGains(sdr.RX, ch)
	h.println("Gains:", gains)
	for _, gain := range gains {
		r, err := h.dev.GainRange(sdr.RX, ch, gain)
		if err != nil {
			return fmt.Errorf("gain range %s: %w", gain, err)
		}
		h.println("\t" + gain + " (min, max, step): " + r.String())
	}

	for _, plan := range h.opts.Gains {
		label := plan.Label
		if label == "" {
			label = plan.Stage
		}
		for _, v := range plan.Values {
			if err := h.dev.SetGain(sdr.RX, ch, plan.Stage, v); err != nil {
				return fmt.Errorf("set gain %s=%g: %w", plan.Stage, v, err)
			}
			readback, err := h.dev.Gain(sdr.RX, ch, plan.Stage)
			if err != nil {
				return fmt.Errorf("get gain %s: %w", plan.Stage, err)
			}
			h.println(label + " Readback = " + formatFloat(readback))
		}
	}
	return nil
}

// Stream opens a receive stream, waits for it to settle and performs the
// configured number of reads into one reused buffer. The stream is always
// closed once set up, and deactivated first if it was activated.
func (h *Harness) Stream(ctx context.Context) (err error) {
	if h.dev == nil {
		return ErrNoDevice
	}
	buf, err := sdr.NewBuffer(h.opts.Format, h.opts.BufferLength)
	if err != nil {
		return err
	}

	stream, err := h.dev.SetupStream(sdr.RX, h.opts.Format, []int{h.opts.Channel}, h.opts.Args)
	if err != nil {
		return fmt.Errorf("setup stream: %w", err)
	}
	if err := h.dev.ActivateStream(stream); err != nil {
		if cerr := h.dev.CloseStream(stream); cerr != nil {
			h.logger.Warn().Err(cerr).Msg("failed to close stream after activate error")
		}
		return fmt.Errorf("activate stream: %w", err)
	}
	defer func() {
		if derr := h.dev.DeactivateStream(stream); derr != nil && err == nil {
			err = fmt.Errorf("deactivate stream: %w", derr)
		}
		if cerr := h.dev.CloseStream(stream); cerr != nil && err == nil {
			err = fmt.Errorf("close stream: %w", cerr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.opts.Settle):
	}

	for i := 0; i < h.opts.Reads; i++ {
		var res sdr.StreamResult
		elapsed := util.TimeOperationMicroseconds(func() {
			res = h.dev.ReadStream(ctx, stream, []sdr.Buffer{buf}, buf.Len(), h.opts.ReadTimeout)
		})
		h.println("Rec:", res.Ret, buf.Complex64(4))
		if res.Ret < 0 {
			h.logger.Debug().Int("read", i).Str("code", sdr.ErrorString(res.Ret)).Msg("read returned error")
		}
		h.observe(res, buf, elapsed)
	}
	return nil
}

// formatFloat prints whole numbers with a trailing ".0".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == float64(int64(v)) {
		s += ".0"
	}
	return s
}
