package harness

import (
	"encoding/binary"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"gonum.org/v1/gonum/stat"

	"github.com/norasector/rxprobe/pkg/sdr"
	"github.com/norasector/rxprobe/pkg/util"
)

// observe hands one read to the metrics writer, the capture sinks and the
// recorder.
func (h *Harness) observe(res sdr.StreamResult, buf sdr.Buffer, readMicros int64) {
	metrics := map[string]interface{}{
		"ret":      res.Ret,
		"flags":    res.Flags,
		"time_ns":  res.TimeNs,
		"duration": readMicros,
	}

	var samples []complex64
	if res.Ret > 0 {
		samples = scaled(buf, res.Ret)
		metrics["power_dbfs"] = util.PowerDBFS(meanPower(samples))
	}

	h.writeAPI.WritePoint(influxdb2.NewPoint("stream.read",
		map[string]string{
			"driver":    h.dev.DriverKey(),
			"format":    h.opts.Format,
			"frequency": util.HzToString(h.freq),
			"status":    sdr.ErrorString(res.Ret),
		},
		metrics, time.Now()))

	if res.Ret <= 0 {
		return
	}
	for _, sink := range h.sinks {
		sink.AppendComplex(samples)
	}
	if h.recorder != nil {
		if err := binary.Write(h.recorder, binary.LittleEndian, toCS16(buf, res.Ret)); err != nil {
			h.logger.Warn().Err(err).Msg("failed to record samples")
		}
	}
}

// scaled returns the first n samples of buf on a full scale of 1.0.
func scaled(buf sdr.Buffer, n int) []complex64 {
	samples := buf.Complex64(n)
	if _, ok := buf.(sdr.CS16Buffer); ok {
		for i := range samples {
			samples[i] /= 32768
		}
	}
	return samples
}

func meanPower(samples []complex64) float64 {
	power := make([]float64, len(samples))
	for i, s := range samples {
		power[i] = float64(real(s))*float64(real(s)) + float64(imag(s))*float64(imag(s))
	}
	return stat.Mean(power, nil)
}

func toCS16(buf sdr.Buffer, n int) []int16 {
	if b, ok := buf.(sdr.CS16Buffer); ok {
		if 2*n > len(b) {
			n = b.Len()
		}
		return b[:2*n]
	}
	out := make(sdr.CS16Buffer, 2*n)
	sink := sdr.NewSink(out)
	for _, s := range buf.Complex64(n) {
		sink.PutComplex(s)
	}
	return out
}
