package harness

import (
	"io"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"

	"github.com/norasector/rxprobe/pkg/harness/config"
	"github.com/norasector/rxprobe/pkg/sdr"
)

// Options are the fixed parameters of one scenario run.
type Options struct {
	Args         sdr.Kwargs
	Channel      int
	SampleRate   float64
	Frequencies  []float64
	Format       string
	BufferLength int
	Reads        int
	Settle       time.Duration
	ReadTimeout  time.Duration
	Gains        []config.GainPlan
}

// FromConfig maps a loaded config onto scenario options.
func FromConfig(cfg config.Config) Options {
	return Options{
		Args:         sdr.ParseKwargs(cfg.Args),
		Channel:      cfg.Channel,
		SampleRate:   cfg.SampleRate,
		Frequencies:  cfg.Frequencies,
		Format:       cfg.Format,
		BufferLength: cfg.BufferLength,
		Reads:        cfg.Reads,
		Settle:       cfg.Settle,
		ReadTimeout:  cfg.ReadTimeout,
		Gains:        cfg.Gains,
	}
}

// CaptureSink receives the samples of every successful read, scaled to
// [-1, 1).
type CaptureSink interface {
	AppendComplex(s []complex64)
}

type HarnessOption func(h *Harness)

func WithLogger(logger zerolog.Logger) HarnessOption {
	return func(h *Harness) {
		h.logger = logger
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) HarnessOption {
	return func(h *Harness) {
		h.writeAPI = writeAPI
	}
}

func WithCaptureSink(sink CaptureSink) HarnessOption {
	return func(h *Harness) {
		h.sinks = append(h.sinks, sink)
	}
}

// WithRecorder writes every read to w as interleaved little-endian CS16.
func WithRecorder(w io.Writer) HarnessOption {
	return func(h *Harness) {
		h.recorder = w
	}
}

// WithOutput redirects the scenario report, stdout by default.
func WithOutput(w io.Writer) HarnessOption {
	return func(h *Harness) {
		h.output = w
	}
}
