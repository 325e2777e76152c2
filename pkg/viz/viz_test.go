package viz

import (
	"bytes"
	"math"
	"math/cmplx"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// tone returns n samples of a 0.5 amplitude tone at step radians per sample.
func tone(n int, step float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Rect(0.5, step*float64(i)))
	}
	return out
}

func TestTimeDomainPlotterKeepsLatest(t *testing.T) {
	tp := NewTimeDomainPlotter("time", 8)

	img, err := tp.GetImage()
	require.NoError(t, err)
	assert.Nil(t, img)

	tp.AppendComplex(tone(5, 0))
	tp.AppendComplex([]complex64{1, 2, 3, 4, 5, 6})
	assert.Len(t, tp.buf, 8)
	assert.Equal(t, complex64(6), tp.buf[7])
	assert.Equal(t, complex64(0.5), tp.buf[1])

	img, err = tp.GetImage()
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "time", img.Name())
	assert.True(t, bytes.HasPrefix(img.Data(), pngSignature))
}

func peakBin(power []float64) int {
	peak := 0
	for i := range power {
		if power[i] > power[peak] {
			peak = i
		}
	}
	return peak
}

func TestSpectrumPeak(t *testing.T) {
	const rate = 240000.0
	sp := NewSpectrumPlotter("spectrum", 1024, rate)
	sp.AppendComplex(tone(1024, 2*math.Pi/10))

	freqs, power := sp.spectrum()
	assert.InDelta(t, rate/10, freqs[peakBin(power)], rate/1024)
	assert.Less(t, freqs[0], 0.0)
}

func TestSpectrumLevel(t *testing.T) {
	fullScaleHalf := 20 * math.Log10(0.5)
	// centered on bin 100 so there is no scalloping loss
	buf := tone(1024, 2*math.Pi*100/1024)

	sp := NewSpectrumPlotter("spectrum", 1024, 240000)
	img, err := sp.GetImage()
	require.NoError(t, err)
	assert.Nil(t, img)

	sp.AppendComplex(buf)
	_, power := sp.spectrum()
	assert.InDelta(t, fullScaleHalf, power[peakBin(power)], 0.1)

	// rendering does not advance the average
	for i := 0; i < 3; i++ {
		img, err := sp.GetImage()
		require.NoError(t, err)
		require.NotNil(t, img)
	}
	_, power = sp.spectrum()
	assert.InDelta(t, fullScaleHalf, power[peakBin(power)], 0.1)

	sp.AppendComplex(buf)
	_, power = sp.spectrum()
	assert.InDelta(t, fullScaleHalf, power[peakBin(power)], 0.1)

	// one silent buffer decays the peak by the mix weight
	sp.AppendComplex(make([]complex64, 1024))
	_, power = sp.spectrum()
	assert.InDelta(t, 20*math.Log10(0.5*(1-mixAvg)), power[peakBin(power)], 0.1)
}

func TestSpectrumPlotterShortAppend(t *testing.T) {
	sp := NewSpectrumPlotter("spectrum", 4, 1000)
	sp.AppendComplex([]complex64{1, 2})
	sp.AppendComplex([]complex64{3})
	assert.Equal(t, []complex64{0, 1, 2, 3}, sp.buf)
	sp.AppendComplex([]complex64{4, 5, 6, 7, 8})
	assert.Equal(t, []complex64{5, 6, 7, 8}, sp.buf)
}

func TestWritePNG(t *testing.T) {
	dir := t.TempDir()
	tp := NewTimeDomainPlotter("time", 16)
	empty := NewTimeDomainPlotter("empty", 16)
	tp.AppendComplex(tone(16, 0.3))

	written, err := WritePNG(filepath.Join(dir, "out"), tp, empty)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "out", "time.png")}, written)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngSignature))
}

func TestServerHandler(t *testing.T) {
	s := NewServer(0, 0)
	tp := NewTimeDomainPlotter("time", 16)
	s.Register("capture", tp)
	s.Register("capture", NewTimeDomainPlotter("idle", 16))
	h := s.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/view/capture", rec.Header().Get("Location"))

	rec = get("/view/capture")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="/img/capture/idle?`)
	assert.Contains(t, rec.Body.String(), `src="/img/capture/time?`)

	assert.Equal(t, http.StatusNotFound, get("/view/missing").Code)
	assert.Equal(t, http.StatusNotFound, get("/img/capture/missing").Code)
	assert.Equal(t, http.StatusNoContent, get("/img/capture/idle").Code)

	tp.AppendComplex(tone(16, 0.3))
	rec = get("/img/capture/time")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), pngSignature))
}
