package viz

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"

	"github.com/norasector/rxprobe/pkg/util"
)

// Weight of the newest FFT in the running magnitude average.
const mixAvg = 0.10

// SpectrumPlotter keeps the last len samples and plots a windowed, averaged
// power spectrum around the tuned frequency. The average advances once per
// appended buffer.
type SpectrumPlotter struct {
	mu           sync.Mutex
	buf          []complex64
	len          int
	sampleRate   float64
	centerFreq   float64
	fft          *fourier.CmplxFFT
	window       []float64
	windowSum    float64
	coeffs       []complex128
	averagePower []float64
	seeded       bool
	name         string
	plotOptions  []PlotOptions
}

func NewSpectrumPlotter(name string, len int, sampleRate float64) *SpectrumPlotter {
	win := window.Blackman(len)
	var sum float64
	for _, w := range win {
		sum += w
	}
	return &SpectrumPlotter{
		buf:          make([]complex64, len),
		averagePower: make([]float64, len),
		len:          len,
		sampleRate:   sampleRate,
		fft:          fourier.NewCmplxFFT(len),
		window:       win,
		windowSum:    sum,
		name:         name,
	}
}

func (sp *SpectrumPlotter) Name() string {
	return sp.name
}

// SetCenterFrequency offsets the frequency axis.
func (sp *SpectrumPlotter) SetCenterFrequency(hz float64) {
	sp.mu.Lock()
	sp.centerFreq = hz
	sp.mu.Unlock()
}

func (sp *SpectrumPlotter) AppendComplex(s []complex64) {
	if len(s) == 0 {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(s) >= sp.len {
		copy(sp.buf, s[len(s)-sp.len:])
	} else {
		copy(sp.buf, sp.buf[len(s):])
		copy(sp.buf[sp.len-len(s):], s)
	}
	sp.accumulate()
}

// accumulate folds the magnitudes of the current window into the running
// average. The first call seeds it. sp.mu must be held.
func (sp *SpectrumPlotter) accumulate() {
	data := make([]complex128, sp.len)
	for i, s := range sp.buf {
		data[i] = complex128(s) * complex(sp.window[i]/sp.windowSum, 0)
	}
	sp.coeffs = sp.fft.Coefficients(sp.coeffs, data)

	for i, c := range sp.coeffs {
		mag := cmplx.Abs(c)
		if !sp.seeded {
			sp.averagePower[i] = mag
			continue
		}
		sp.averagePower[i] = (1.0-mixAvg)*sp.averagePower[i] + mixAvg*mag
	}
	sp.seeded = true
}

func (sp *SpectrumPlotter) AddPlotOption(opt PlotOptions) {
	sp.mu.Lock()
	sp.plotOptions = append(sp.plotOptions, opt)
	sp.mu.Unlock()
}

// spectrum returns bin frequencies in Hz relative to the center and the
// averaged magnitude of each bin in dBFS, ordered from most negative
// frequency. sp.mu must be held.
func (sp *SpectrumPlotter) spectrum() (freqs, power []float64) {
	freqs = make([]float64, sp.len)
	power = make([]float64, sp.len)
	for i := 0; i < sp.len; i++ {
		idx := sp.fft.ShiftIdx(i)
		freqs[i] = sp.fft.Freq(idx) * sp.sampleRate
		power[i] = util.PowerDBFS(sp.averagePower[idx] * sp.averagePower[idx])
	}
	return freqs, power
}

func (sp *SpectrumPlotter) GetImage() (*ImageContainer, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.seeded {
		return nil, nil
	}

	p := plotWithDefaults()
	p.Title.Text = sp.name + " @ " + util.HzToString(sp.centerFreq)
	p.Y.Label.Text = "Power (dBFS)"
	p.X.Label.Text = "Frequency (MHz)"
	p.Y.Max = 0
	p.Y.Min = -120

	for _, opt := range sp.plotOptions {
		opt(p)
	}

	p.Add(plotter.NewGrid())

	freqs, power := sp.spectrum()
	xys := make(plotter.XYs, 0, len(freqs))
	for i := range freqs {
		if math.IsInf(power[i], 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: (sp.centerFreq + freqs[i]) / 1e6, Y: power[i]})
	}
	if len(xys) == 0 {
		return nil, nil
	}
	if err := plotutil.AddLines(p, "spectrum", xys); err != nil {
		return nil, err
	}

	return render(sp.name, p)
}
