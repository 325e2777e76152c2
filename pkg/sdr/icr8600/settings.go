package icr8600

import (
	"fmt"
	"math"

	"github.com/norasector/rxprobe/pkg/sdr"
	"github.com/norasector/rxprobe/pkg/sdr/civ"
)

const (
	GainRF         = "RF"
	GainPreAmp     = "PRE-AMP"
	GainAttenuator = "ATTENUATOR"

	// Antenna selection only works in the HF region. Above it ANT 1 is
	// selected automatically.
	hfLimit = 30000000

	preAmpGain = 14.0
)

var (
	antennas = []string{"ANT 1", "ANT 2", "ANT 3"}

	gainRanges = map[string]sdr.Range{
		GainRF:         {Min: -63.75, Max: 0, Step: 0.25},
		GainPreAmp:     {Min: 0, Max: preAmpGain, Step: preAmpGain},
		GainAttenuator: {Min: -30, Max: 0, Step: 10},
	}

	frequencyRange = sdr.Range{Min: 10, Max: 3000000000}

	sampleRateCodes = map[int]byte{
		5120000: 0x01,
		3840000: 0x02,
		1920000: 0x03,
		960000:  0x04,
		480000:  0x05,
		240000:  0x06,
	}
	sampleRates = []float64{240000, 480000, 960000, 1920000, 3840000, 5120000}
)

func (d *Device) ListAntennas(dir sdr.Direction, channel int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.antennasLocked()
}

func (d *Device) antennasLocked() []string {
	if d.centerFreq >= hfLimit {
		return []string{antennas[0]}
	}
	return append([]string(nil), antennas...)
}

func (d *Device) SetAntenna(dir sdr.Direction, channel int, name string) error {
	if err := checkRX(dir, channel); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i, ant := range d.antennasLocked() {
		if ant == name {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: antenna %q not available at %d Hz", sdr.ErrInvalidArgument, name, d.centerFreq)
	}

	if d.centerFreq < hfLimit {
		if err := d.set(0x12, byte(idx)); err != nil {
			return fmt.Errorf("set antenna %s: %w", name, err)
		}
	}
	d.antenna = idx
	d.logger.Info().Str("antenna", name).Msg("set antenna")
	return nil
}

func (d *Device) Antenna(dir sdr.Direction, channel int) (string, error) {
	if err := checkRX(dir, channel); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.centerFreq >= hfLimit {
		return antennas[0], nil
	}
	data, err := d.query(0x12)
	if err != nil {
		return "", fmt.Errorf("read antenna: %w", err)
	}
	idx := int(data[0])
	if idx >= len(antennas) {
		return "", fmt.Errorf("%w: antenna index %d", ErrUnexpectedReply, idx)
	}
	d.antenna = idx
	return antennas[idx], nil
}

func (d *Device) ListGains(dir sdr.Direction, channel int) []string {
	return []string{GainRF, GainPreAmp, GainAttenuator}
}

func (d *Device) GainRange(dir sdr.Direction, channel int, name string) (sdr.Range, error) {
	r, ok := gainRanges[name]
	if !ok {
		return sdr.Range{}, fmt.Errorf("%w: gain %q", sdr.ErrInvalidArgument, name)
	}
	return r, nil
}

func (d *Device) SetGain(dir sdr.Direction, channel int, name string, value float64) error {
	if err := checkRX(dir, channel); err != nil {
		return err
	}
	r, err := d.GainRange(dir, channel, name)
	if err != nil {
		return err
	}
	value = r.Clip(value)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch name {
	case GainRF:
		// Level 0..255 maps to -63.75..0 dB in quarter dB steps.
		level := int(math.Round(4 * (value + 63.75)))
		d.logger.Info().Float64("gain", value).Int("level", level).Msg("set RF gain")
		err = d.set(0x14, append([]byte{0x02}, civ.EncodeLevel(level)...)...)
	case GainPreAmp:
		var on byte
		if value > 0 {
			on = 0x01
		}
		d.logger.Info().Float64("gain", value).Bool("on", on == 0x01).Msg("set pre-amp")
		err = d.set(0x16, 0x02, on)
	case GainAttenuator:
		atten := int(-value)
		d.logger.Info().Float64("gain", value).Int("atten", atten).Msg("set attenuator")
		err = d.set(0x11, civ.ToBCD(atten))
	}
	if err != nil {
		return fmt.Errorf("set gain %s: %w", name, err)
	}
	return nil
}

func (d *Device) Gain(dir sdr.Direction, channel int, name string) (float64, error) {
	if err := checkRX(dir, channel); err != nil {
		return 0, err
	}
	if _, err := d.GainRange(dir, channel, name); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch name {
	case GainRF:
		data, err := d.query(0x14, 0x02)
		if err != nil {
			return 0, fmt.Errorf("read RF gain: %w", err)
		}
		level, err := civ.DecodeLevel(data)
		if err != nil {
			return 0, fmt.Errorf("read RF gain: %w", err)
		}
		return 0.25*float64(level) - 63.75, nil
	case GainPreAmp:
		data, err := d.query(0x16, 0x02)
		if err != nil {
			return 0, fmt.Errorf("read pre-amp: %w", err)
		}
		switch data[0] {
		case 0x00:
			return 0, nil
		case 0x01:
			return preAmpGain, nil
		}
		return 0, fmt.Errorf("%w: pre-amp state %02X", ErrUnexpectedReply, data[0])
	default:
		data, err := d.query(0x11)
		if err != nil {
			return 0, fmt.Errorf("read attenuator: %w", err)
		}
		atten, err := civ.FromBCD(data[0])
		if err != nil {
			return 0, fmt.Errorf("read attenuator: %w", err)
		}
		return -float64(atten), nil
	}
}

// OverallGainRange is the span covered by SetOverallGain.
func (d *Device) OverallGainRange() sdr.Range {
	return sdr.Range{Min: -93.75, Max: preAmpGain}
}

// SetOverallGain distributes value across the stages: positive values switch
// the pre-amp on, then the attenuator takes 10 dB steps down to -30 dB and RF
// gain absorbs the remainder.
func (d *Device) SetOverallGain(dir sdr.Direction, channel int, value float64) error {
	gain := value

	preAmp := 0.0
	if gain > 0 {
		preAmp = preAmpGain
	}
	gain -= preAmp

	atten := 0.0
	switch {
	case gain <= -30:
		atten = -30
	case gain <= -20:
		atten = -20
	case gain <= -10:
		atten = -10
	}
	gain -= atten

	for _, step := range []struct {
		name  string
		value float64
	}{
		{GainPreAmp, preAmp},
		{GainAttenuator, atten},
		{GainRF, gain},
	} {
		if err := d.SetGain(dir, channel, step.name, step.value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) FrequencyRange(dir sdr.Direction, channel int) []sdr.Range {
	return []sdr.Range{frequencyRange}
}

func (d *Device) SetFrequency(dir sdr.Direction, channel int, freq float64) error {
	if err := checkRX(dir, channel); err != nil {
		return err
	}
	if !frequencyRange.Contains(freq) {
		return fmt.Errorf("%w: frequency %.0f Hz out of range", sdr.ErrInvalidArgument, freq)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	hz := uint64(freq)
	d.logger.Info().Uint64("freq", hz).Msg("set center frequency")
	if err := d.set(0x05, civ.EncodeFrequency(hz)...); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	d.centerFreq = hz
	return nil
}

func (d *Device) Frequency(dir sdr.Direction, channel int) (float64, error) {
	if err := checkRX(dir, channel); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.centerFreq), nil
}

func (d *Device) ListSampleRates(dir sdr.Direction, channel int) []float64 {
	return append([]float64(nil), sampleRates...)
}

// SetSampleRate also turns I/Q output on; the receiver only streams at one
// of the fixed rates.
func (d *Device) SetSampleRate(dir sdr.Direction, channel int, rate float64) error {
	if err := checkRX(dir, channel); err != nil {
		return err
	}
	code, ok := sampleRateCodes[int(rate)]
	if !ok {
		return fmt.Errorf("%w: sample rate %.0f not supported", sdr.ErrInvalidArgument, rate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info().Float64("rate", rate).Msg("set sample rate")
	if err := d.set(0x1A, 0x13, 0x01, 0x01, 0x00, code); err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	d.sampleRate = rate
	return nil
}

func (d *Device) SampleRate(dir sdr.Direction, channel int) (float64, error) {
	if err := checkRX(dir, channel); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate, nil
}
