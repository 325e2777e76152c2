package harness

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norasector/rxprobe/pkg/harness/config"
	"github.com/norasector/rxprobe/pkg/sdr"
	"github.com/norasector/rxprobe/pkg/sdr/mock"
	"github.com/norasector/rxprobe/pkg/util"
)

// testOptions is the default scenario without the settle wait.
func testOptions() Options {
	opts := FromConfig(config.Default())
	opts.Settle = 0
	return opts
}

func newTestHarness(t *testing.T, cfg mock.Config, found []sdr.Kwargs, opts Options, hopts ...HarnessOption) (*Harness, *mock.Driver, *bytes.Buffer) {
	t.Helper()
	driver := mock.NewDriver(cfg, found...)
	registry := sdr.NewRegistry()
	registry.Register("icr8600", driver.Find, driver.Make)

	var out bytes.Buffer
	hopts = append([]HarnessOption{WithOutput(&out), WithLogger(zerolog.Nop())}, hopts...)
	h, err := New(registry, opts, hopts...)
	require.NoError(t, err)
	return h, driver, &out
}

func TestRunEndToEnd(t *testing.T) {
	h, driver, out := newTestHarness(t, mock.DefaultConfig(), []sdr.Kwargs{{"label": "IC-R8600"}}, testOptions())

	require.NoError(t, h.Run(context.Background()))
	require.Len(t, driver.Devices(), 1)
	dev := driver.Devices()[0]
	assert.Equal(t, "icr8600", dev.Args()["driver"])
	assert.Same(t, dev, h.Device())

	report := out.String()
	assert.Contains(t, report, "{driver=icr8600, label=IC-R8600}")
	assert.Contains(t, report, "10, 3e+09, 0")
	assert.Contains(t, report, "Antennas: [ANT 1 ANT 2 ANT 3]")
	assert.Contains(t, report, "Antennas: [ANT 1]")
	assert.Contains(t, report, "\tRF (min, max, step): -63.75, 0, 0.25")
	assert.Contains(t, report, "PRE-AMP Gain Readback = 14.0")
	assert.Contains(t, report, "Attenuator Readback = -30.0")
	assert.Contains(t, report, "RF Gain Readback = -63.75")
	assert.Equal(t, 20, strings.Count(report, "Rec: 1024 "))

	calls := dev.Calls()
	assert.Contains(t, calls, mock.Call{Method: "SetSampleRate", Args: []interface{}{sdr.RX, 0, 240000.0}})
	assert.Contains(t, calls, mock.Call{Method: "SetFrequency", Args: []interface{}{sdr.RX, 0, 10000000.0}})
	assert.Contains(t, calls, mock.Call{Method: "SetupStream", Args: []interface{}{sdr.RX, sdr.FormatCS16, []int{0}}})

	require.NoError(t, h.Close())
	assert.True(t, dev.Closed())
}

func TestAntennaRoundTrip(t *testing.T) {
	h, driver, out := newTestHarness(t, mock.DefaultConfig(), []sdr.Kwargs{{}}, testOptions())
	require.NoError(t, h.Run(context.Background()))
	dev := driver.Devices()[0]

	var set []string
	for _, c := range dev.Calls() {
		if c.Method == "SetAntenna" {
			set = append(set, c.Args[2].(string))
		}
	}
	assert.Equal(t, []string{"ANT 1", "ANT 2", "ANT 3", "ANT 1"}, set)

	var readback []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "\tAntenna Readback = ") {
			readback = append(readback, strings.TrimPrefix(line, "\tAntenna Readback = "))
		}
	}
	assert.Equal(t, set, readback)
}

func TestAntennasListedAfterEveryTune(t *testing.T) {
	h, driver, _ := newTestHarness(t, mock.DefaultConfig(), []sdr.Kwargs{{}}, testOptions())
	require.NoError(t, h.Run(context.Background()))

	methods := driver.Devices()[0].Methods()
	tunes := 0
	for i, m := range methods {
		if m != "SetFrequency" {
			continue
		}
		tunes++
		next := ""
		for _, after := range methods[i+1:] {
			if after == "ListAntennas" || after == "SetAntenna" || after == "SetFrequency" {
				next = after
				break
			}
		}
		assert.Equal(t, "ListAntennas", next, "SetFrequency #%d not followed by ListAntennas", tunes)
	}
	assert.Equal(t, 2, tunes)
}

func TestGainReadbackWithinRange(t *testing.T) {
	cfg := mock.DefaultConfig()
	dev := mock.New(cfg, nil)
	for _, plan := range config.Default().Gains {
		r, err := dev.GainRange(sdr.RX, 0, plan.Stage)
		require.NoError(t, err)
		for _, v := range plan.Values {
			require.NoError(t, dev.SetGain(sdr.RX, 0, plan.Stage, v))
			first, err := dev.Gain(sdr.RX, 0, plan.Stage)
			require.NoError(t, err)
			assert.True(t, r.Contains(first), "%s readback %v outside %s", plan.Stage, first, r)

			require.NoError(t, dev.SetGain(sdr.RX, 0, plan.Stage, v))
			second, err := dev.Gain(sdr.RX, 0, plan.Stage)
			require.NoError(t, err)
			assert.Equal(t, first, second, "%s drifted after repeated set", plan.Stage)
		}
	}
}

func TestStreamLifecycleOrder(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.Reads = []int{1024, sdr.ErrCodeTimeout, 0, sdr.ErrCodeOverflow, 512}
	h, driver, out := newTestHarness(t, cfg, []sdr.Kwargs{{}}, testOptions())
	require.NoError(t, h.Run(context.Background()))

	var streamCalls []string
	for _, m := range driver.Devices()[0].Methods() {
		switch m {
		case "SetupStream", "ActivateStream", "ReadStream", "DeactivateStream", "CloseStream":
			streamCalls = append(streamCalls, m)
		}
	}
	want := []string{"SetupStream", "ActivateStream"}
	for i := 0; i < 20; i++ {
		want = append(want, "ReadStream")
	}
	want = append(want, "DeactivateStream", "CloseStream")
	assert.Equal(t, want, streamCalls)

	assert.Contains(t, out.String(), "Rec: -1 ")
	assert.Contains(t, out.String(), "Rec: -4 ")
	assert.Contains(t, out.String(), "Rec: 512 ")
}

func TestEmptyEnumerationStillInstantiates(t *testing.T) {
	h, driver, out := newTestHarness(t, mock.DefaultConfig(), nil, testOptions())

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sdr.ErrNoMatch))
	// Once for discovery and once more when opening with the fixed args.
	assert.Equal(t, 2, driver.Finds())
	assert.Contains(t, out.String(), "Enumerating devices\n----------\n")
	assert.Contains(t, out.String(), "Instantiating icr8600")
	assert.Nil(t, h.Device())
}

func TestSetterFailureAborts(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.Fail = map[string]error{"SetGain": errors.New("rejected")}
	h, driver, _ := newTestHarness(t, cfg, []sdr.Kwargs{{}}, testOptions())

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set gain PRE-AMP=0")
	assert.Zero(t, driver.Devices()[0].Count("SetupStream"))
}

func TestUnsupportedFormatIsFatal(t *testing.T) {
	opts := testOptions()
	opts.Format = sdr.FormatCS8
	_, err := New(sdr.NewRegistry(), opts)
	assert.True(t, errors.Is(err, sdr.ErrUnsupportedFormat))

	cfg := mock.DefaultConfig()
	cfg.Formats = []string{sdr.FormatCF32}
	h, driver, out := newTestHarness(t, cfg, []sdr.Kwargs{{}}, testOptions())
	err = h.Run(context.Background())
	assert.True(t, errors.Is(err, sdr.ErrUnsupportedFormat))

	dev := driver.Devices()[0]
	assert.Zero(t, dev.Count("ActivateStream"))
	assert.Zero(t, dev.Count("ReadStream"))
	assert.NotContains(t, out.String(), "Rec:")
}

func TestActivateFailureClosesStream(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.Fail = map[string]error{"ActivateStream": errors.New("busy")}
	h, driver, _ := newTestHarness(t, cfg, []sdr.Kwargs{{}}, testOptions())

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activate stream")

	dev := driver.Devices()[0]
	assert.Equal(t, []string{"SetupStream", "ActivateStream", "CloseStream"},
		filterMethods(dev.Methods(), "SetupStream", "ActivateStream", "ReadStream", "DeactivateStream", "CloseStream"))
}

func filterMethods(methods []string, keep ...string) []string {
	var out []string
	for _, m := range methods {
		for _, k := range keep {
			if m == k {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func TestCancelDuringSettleClosesStream(t *testing.T) {
	opts := testOptions()
	opts.Settle = time.Hour
	h, driver, _ := newTestHarness(t, mock.DefaultConfig(), []sdr.Kwargs{{}}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Instantiate())
	assert.Equal(t, context.Canceled, h.Stream(ctx))

	dev := driver.Devices()[0]
	assert.Zero(t, dev.Count("ReadStream"))
	assert.Equal(t, 1, dev.Count("DeactivateStream"))
	assert.Equal(t, 1, dev.Count("CloseStream"))
}

type collectSink struct {
	samples []complex64
}

func (c *collectSink) AppendComplex(s []complex64) {
	c.samples = append(c.samples, s...)
}

func TestObservers(t *testing.T) {
	cfg := mock.DefaultConfig()
	cfg.Reads = []int{8, sdr.ErrCodeTimeout}
	opts := testOptions()
	opts.Reads = 4

	writeAPI := &util.RecordingWriteAPI{}
	sink := &collectSink{}
	var recorded bytes.Buffer
	h, _, _ := newTestHarness(t, cfg, []sdr.Kwargs{{}}, opts,
		WithInfluxDB(writeAPI), WithCaptureSink(sink), WithRecorder(&recorded))
	require.NoError(t, h.Run(context.Background()))

	assert.Len(t, writeAPI.Points, 4)
	assert.Equal(t, "stream.read", writeAPI.Points[0].Name())

	require.Len(t, sink.samples, 16)
	assert.InDelta(t, 0.5, real(sink.samples[0]), 1e-3)

	require.Equal(t, 16*4, recorded.Len())
	raw := make([]int16, 32)
	require.NoError(t, binary.Read(&recorded, binary.LittleEndian, raw))
	assert.Equal(t, int16(16384), raw[0])
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0:      "0.0",
		14:     "14.0",
		-30:    "-30.0",
		-63.75: "-63.75",
		19.7:   "19.7",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatFloat(in))
	}
}
