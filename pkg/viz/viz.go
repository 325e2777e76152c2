// Package viz renders captured I/Q buffers as PNG plots and serves them over
// HTTP while a scenario runs.
package viz

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

type PlotOptions func(p *plot.Plot)

type ImageContainer struct {
	name string
	data []byte
}

func (i *ImageContainer) Name() string { return i.name }

func (i *ImageContainer) Data() []byte { return i.data }

// Producer renders its current contents. GetImage returns a nil image when
// there is nothing to plot yet.
type Producer interface {
	Name() string
	GetImage() (*ImageContainer, error)
	AddPlotOption(opt PlotOptions)
}

func plotWithDefaults() *plot.Plot {

	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White

	return p
}

func render(name string, p *plot.Plot) (*ImageContainer, error) {
	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var imageData bytes.Buffer
	if _, err := w.WriteTo(&imageData); err != nil {
		return nil, err
	}
	return &ImageContainer{name: name, data: imageData.Bytes()}, nil
}

// WritePNG renders every producer into dir as <name>.png and returns the
// files written. Producers with nothing to plot are skipped.
func WritePNG(dir string, producers ...Producer) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var written []string
	for _, p := range producers {
		img, err := p.GetImage()
		if err != nil {
			return written, fmt.Errorf("render %s: %w", p.Name(), err)
		}
		if img == nil {
			continue
		}
		path := filepath.Join(dir, img.name+".png")
		if err := os.WriteFile(path, img.data, 0644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
