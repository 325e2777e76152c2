package icr8600

import (
	"context"
	"errors"
	"sync"

	"github.com/norasector/rxprobe/pkg/sdr/civ"
)

// fakeRadio emulates the receiver side of the CI-V exchange and the I/Q pipe.
type fakeRadio struct {
	mu sync.Mutex

	remote   bool
	freq     uint64
	rateCode byte
	antenna  byte
	rfLevel  int
	preAmp   byte
	atten    int

	nak     map[byte]bool
	sent    []civ.Frame
	pending [][]byte
	iq      []byte
	closed  bool
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{rfLevel: 255, nak: make(map[byte]bool)}
}

func (r *fakeRadio) WriteControl(_ context.Context, p []byte) error {
	f, err := civ.Decode(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, f)
	r.pending = append(r.pending, append(r.handle(f).Encode(), civ.Pad))
	return nil
}

func (r *fakeRadio) reply(cmd byte, data ...byte) civ.Frame {
	return civ.Frame{To: civ.ControllerAddr, From: radioAddr, Command: cmd, Data: data}
}

func (r *fakeRadio) handle(f civ.Frame) civ.Frame {
	ok := r.reply(civ.CmdOK)
	ng := r.reply(civ.CmdNG)
	if r.nak[f.Command] || (!r.remote && f.Command != 0x1A) {
		return ng
	}

	switch f.Command {
	case 0x1A:
		switch {
		case len(f.Data) == 3 && f.Data[1] == 0x00:
			r.remote = f.Data[2] == 0x01
		case len(f.Data) == 5 && f.Data[1] == 0x01:
			r.rateCode = f.Data[4]
		default:
			return ng
		}
	case 0x05:
		hz, err := civ.DecodeFrequency(f.Data)
		if err != nil {
			return ng
		}
		r.freq = hz
	case 0x12:
		if len(f.Data) == 0 {
			return r.reply(0x12, r.antenna)
		}
		r.antenna = f.Data[0]
	case 0x14:
		if len(f.Data) == 1 {
			return r.reply(0x14, append([]byte{0x02}, civ.EncodeLevel(r.rfLevel)...)...)
		}
		level, err := civ.DecodeLevel(f.Data[1:])
		if err != nil {
			return ng
		}
		r.rfLevel = level
	case 0x16:
		if len(f.Data) == 1 {
			return r.reply(0x16, 0x02, r.preAmp)
		}
		r.preAmp = f.Data[1]
	case 0x11:
		if len(f.Data) == 0 {
			return r.reply(0x11, civ.ToBCD(r.atten))
		}
		atten, err := civ.FromBCD(f.Data[0])
		if err != nil {
			return ng
		}
		r.atten = atten
	default:
		return ng
	}
	return ok
}

func (r *fakeRadio) ReadResponse(_ context.Context, p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return 0, errors.New("no response pending")
	}
	n := copy(p, r.pending[0])
	r.pending = r.pending[1:]
	return n, nil
}

func (r *fakeRadio) ReadIQ(ctx context.Context, p []byte) (int, error) {
	r.mu.Lock()
	n := copy(p, r.iq)
	r.iq = r.iq[n:]
	r.mu.Unlock()
	if n > 0 {
		return n, nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (r *fakeRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRadio) lastSent() civ.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}
