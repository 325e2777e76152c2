package mock

import (
	"sync"

	"github.com/norasector/rxprobe/pkg/sdr"
)

func init() {
	d := NewDriver(DefaultConfig(), sdr.Kwargs{"label": "Mock receiver", "serial": "mock0"})
	d.explicit = true
	sdr.Register(DriverName, d.Find, d.Make)
}

// Driver hands out mock devices and keeps every device it made, so tests can
// reach the instance a registry opened.
type Driver struct {
	mu      sync.Mutex
	cfg     Config
	found   []sdr.Kwargs
	finds   int
	devices []*Device

	// explicit hides the device unless args name the mock driver.
	explicit bool
}

// NewDriver returns a driver that enumerates found and builds devices from
// cfg.
func NewDriver(cfg Config, found ...sdr.Kwargs) *Driver {
	return &Driver{cfg: cfg, found: found}
}

func (d *Driver) Find(args sdr.Kwargs) ([]sdr.Kwargs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds++
	if err, ok := d.cfg.Fail["Find"]; ok {
		return nil, err
	}
	if d.explicit && args["driver"] != DriverName {
		return nil, nil
	}

	var ret []sdr.Kwargs
	for _, desc := range d.found {
		if serial, ok := args["serial"]; ok && desc["serial"] != serial {
			continue
		}
		ret = append(ret, desc.Merge(nil))
	}
	return ret, nil
}

func (d *Driver) Make(args sdr.Kwargs) (sdr.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.cfg.Fail["Make"]; ok {
		return nil, err
	}
	dev := New(d.cfg, args)
	d.devices = append(d.devices, dev)
	return dev, nil
}

// Finds reports how many times Find was called.
func (d *Driver) Finds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds
}

func (d *Driver) Devices() []*Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Device(nil), d.devices...)
}
