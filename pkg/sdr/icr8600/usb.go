package icr8600

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	"github.com/norasector/rxprobe/pkg/sdr"
)

const (
	vendorIcom     gousb.ID = 0x0C26
	productICR8600 gousb.ID = 0x0022

	epControl  = 0x02
	epResponse = 0x08 // 0x88
	epIQ       = 0x06 // 0x86
)

func isICR8600(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == vendorIcom && desc.Product == productICR8600
}

func findUSB(serial string) ([]sdr.Kwargs, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(isICR8600)
	defer func() {
		for _, dev := range devs {
			dev.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("usb scan: %w", err)
	}

	var ret []sdr.Kwargs
	for _, dev := range devs {
		sn, err := dev.SerialNumber()
		if err != nil || sn == "" {
			sn = "-"
		}
		if serial != "" && serial != sn {
			continue
		}
		ret = append(ret, sdr.Kwargs{
			"label":        HardwareKey,
			"available":    "Yes",
			"product":      HardwareKey,
			"serial":       sn,
			"manufacturer": "Icom",
		})
	}
	return ret, nil
}

type usbTransport struct {
	ctx      *gousb.Context
	dev      *gousb.Device
	done     func()
	control  *gousb.OutEndpoint
	response *gousb.InEndpoint
	iq       *gousb.InEndpoint
}

func openUSB(serial string) (*usbTransport, error) {
	t := &usbTransport{ctx: gousb.NewContext()}
	if err := t.open(serial); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *usbTransport) open(serial string) error {
	devs, err := t.ctx.OpenDevices(isICR8600)
	if err != nil && len(devs) == 0 {
		return fmt.Errorf("usb scan: %w", err)
	}
	for _, dev := range devs {
		sn, _ := dev.SerialNumber()
		if t.dev == nil && (serial == "" || serial == "-" || serial == sn) {
			t.dev = dev
			continue
		}
		dev.Close()
	}
	if t.dev == nil {
		return fmt.Errorf("%w: IC-R8600 not connected or driver not installed", sdr.ErrNoMatch)
	}

	if err := t.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("usb auto detach: %w", err)
	}
	intf, done, err := t.dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("usb claim interface: %w", err)
	}
	t.done = done

	if t.control, err = intf.OutEndpoint(epControl); err != nil {
		return fmt.Errorf("usb control endpoint: %w", err)
	}
	if t.response, err = intf.InEndpoint(epResponse); err != nil {
		return fmt.Errorf("usb response endpoint: %w", err)
	}
	if t.iq, err = intf.InEndpoint(epIQ); err != nil {
		return fmt.Errorf("usb iq endpoint: %w", err)
	}
	return nil
}

func (t *usbTransport) WriteControl(ctx context.Context, p []byte) error {
	n, err := t.control.WriteContext(ctx, p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return nil
}

func (t *usbTransport) ReadResponse(ctx context.Context, p []byte) (int, error) {
	return t.response.ReadContext(ctx, p)
}

func (t *usbTransport) ReadIQ(ctx context.Context, p []byte) (int, error) {
	return t.iq.ReadContext(ctx, p)
}

func (t *usbTransport) Close() error {
	if t.done != nil {
		t.done()
		t.done = nil
	}
	var err error
	if t.dev != nil {
		err = t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		if cerr := t.ctx.Close(); err == nil {
			err = cerr
		}
		t.ctx = nil
	}
	return err
}
