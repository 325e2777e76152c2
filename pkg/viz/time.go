package viz

import (
	"sync"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
)

// TimeDomainPlotter keeps the most recent size samples and plots their I and
// Q components.
type TimeDomainPlotter struct {
	mu          sync.Mutex
	buf         []complex64
	size        int
	name        string
	plotOptions []PlotOptions
}

func NewTimeDomainPlotter(name string, size int) *TimeDomainPlotter {
	return &TimeDomainPlotter{
		buf:  make([]complex64, 0, size),
		size: size,
		name: name,
	}
}

func (tp *TimeDomainPlotter) Name() string {
	return tp.name
}

func (tp *TimeDomainPlotter) AppendComplex(s []complex64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.buf = append(tp.buf, s...)

	if len(tp.buf) > tp.size {
		tp.buf = append(tp.buf[:0], tp.buf[len(tp.buf)-tp.size:]...)
	}
}

func (tp *TimeDomainPlotter) AddPlotOption(opt PlotOptions) {
	tp.mu.Lock()
	tp.plotOptions = append(tp.plotOptions, opt)
	tp.mu.Unlock()
}

func (tp *TimeDomainPlotter) GetImage() (*ImageContainer, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if len(tp.buf) == 0 {
		return nil, nil
	}

	p := plotWithDefaults()

	p.Title.Text = tp.name
	p.Y.Label.Text = "Amplitude"
	p.Y.Min = -1
	p.Y.Max = 1
	p.X.Label.Text = "Sample"

	for _, opt := range tp.plotOptions {
		opt(p)
	}

	p.Add(plotter.NewGrid())

	i := make(plotter.XYs, len(tp.buf))
	q := make(plotter.XYs, len(tp.buf))
	for n, s := range tp.buf {
		i[n] = plotter.XY{X: float64(n), Y: float64(real(s))}
		q[n] = plotter.XY{X: float64(n), Y: float64(imag(s))}
	}
	if err := plotutil.AddLines(p, "I", i, "Q", q); err != nil {
		return nil, err
	}

	return render(tp.name, p)
}
