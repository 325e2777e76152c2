// Package icr8600 drives the Icom IC-R8600 receiver in I/Q mode over USB.
package icr8600

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/rxprobe/pkg/sdr"
	"github.com/norasector/rxprobe/pkg/sdr/civ"
)

const (
	DriverName  = "icr8600"
	HardwareKey = "IC-R8600"

	radioAddr byte = 0x96

	defaultCommandDelay    = 100 * time.Millisecond
	defaultResponseTimeout = time.Second
	responseBufferSize     = 64
)

var (
	ErrNAK             = errors.New("icr8600: command rejected")
	ErrUnexpectedReply = errors.New("icr8600: unexpected reply")
)

// Transport carries CI-V frames and I/Q data to the receiver. The USB
// implementation maps these onto bulk endpoints 0x02, 0x88 and 0x86.
type Transport interface {
	WriteControl(ctx context.Context, p []byte) error
	ReadResponse(ctx context.Context, p []byte) (int, error)
	ReadIQ(ctx context.Context, p []byte) (int, error)
	Close() error
}

type Device struct {
	mu        sync.Mutex
	transport Transport
	logger    zerolog.Logger
	info      sdr.Kwargs

	commandDelay    time.Duration
	responseTimeout time.Duration

	sampleRate float64
	centerFreq uint64
	antenna    int
	stream     *rxStream
}

type Option func(d *Device)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

// WithCommandDelay sets how long to wait after mode changes before reading
// the acknowledgement.
func WithCommandDelay(delay time.Duration) Option {
	return func(d *Device) {
		d.commandDelay = delay
	}
}

func WithResponseTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		d.responseTimeout = timeout
	}
}

func init() {
	sdr.Register(DriverName, Find, Make)
}

// Find lists IC-R8600 receivers attached over USB.
func Find(args sdr.Kwargs) ([]sdr.Kwargs, error) {
	found, err := findUSB(args["serial"])
	log.Debug().Int("count", len(found)).Err(err).Msg("icr8600: find")
	return found, err
}

// Make opens the receiver described by args.
func Make(args sdr.Kwargs) (sdr.Device, error) {
	t, err := openUSB(args["serial"])
	if err != nil {
		return nil, err
	}
	dev, err := Open(t, args, WithLogger(log.Logger.With().Str("driver", DriverName).Logger()))
	if err != nil {
		t.Close()
		return nil, err
	}
	return dev, nil
}

// Open takes ownership of t and switches the receiver into remote I/Q mode.
func Open(t Transport, args sdr.Kwargs, opts ...Option) (*Device, error) {
	d := &Device{
		transport:       t,
		logger:          log.Logger,
		info:            args,
		commandDelay:    defaultCommandDelay,
		responseTimeout: defaultResponseTimeout,
		sampleRate:      1920000,
		centerFreq:      15000000,
	}
	for _, opt := range opts {
		opt(d)
	}

	// Other commands are ignored until I/Q remote mode is on.
	if err := d.setRemote(true); err != nil {
		return nil, fmt.Errorf("enable remote mode: %w", err)
	}
	d.logger.Info().Str("serial", args["serial"]).Msg("device opened")
	return d, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil {
		if err := d.CloseStream(s); err != nil {
			d.logger.Warn().Err(err).Msg("closing stream on device close")
		}
	}

	err := d.setRemote(false)
	if cerr := d.transport.Close(); err == nil {
		err = cerr
	}
	d.logger.Debug().Err(err).Msg("device closed")
	return err
}

func (d *Device) setRemote(on bool) error {
	var state byte
	if on {
		state = 0x01
	}
	if err := d.set(0x1A, 0x13, 0x00, state); err != nil {
		return err
	}
	time.Sleep(d.commandDelay)
	return nil
}

func (d *Device) DriverKey() string { return HardwareKey }

func (d *Device) HardwareKey() string { return HardwareKey }

func (d *Device) HardwareInfo() sdr.Kwargs {
	return sdr.Kwargs{
		"origin": "https://www.icom.co.jp/world/products/receiver/desktop/ic-r8600/",
	}
}

func (d *Device) NumChannels(dir sdr.Direction) int {
	if dir == sdr.RX {
		return 1
	}
	return 0
}

func checkRX(dir sdr.Direction, channel int) error {
	if dir != sdr.RX {
		return fmt.Errorf("%w: IC-R8600 is RX only", sdr.ErrInvalidDirection)
	}
	if channel != 0 {
		return fmt.Errorf("%w: channel %d", sdr.ErrInvalidChannel, channel)
	}
	return nil
}

// exchange sends one command and returns the receiver's reply. Echoes of our
// own frame are skipped.
func (d *Device) exchange(cmd byte, data ...byte) (civ.Frame, error) {
	frame := civ.Frame{To: radioAddr, From: civ.ControllerAddr, Command: cmd, Data: data}

	ctx, cancel := context.WithTimeout(context.Background(), d.responseTimeout)
	defer cancel()

	d.logger.Debug().Str("frame", frame.String()).Msg("civ send")
	if err := d.transport.WriteControl(ctx, append(frame.Encode(), civ.Pad)); err != nil {
		return civ.Frame{}, fmt.Errorf("write command %02X: %w", cmd, err)
	}

	buf := make([]byte, responseBufferSize)
	for {
		n, err := d.transport.ReadResponse(ctx, buf)
		if err != nil {
			return civ.Frame{}, fmt.Errorf("read reply to %02X: %w", cmd, err)
		}
		reply, err := civ.Decode(buf[:n])
		if err != nil {
			return civ.Frame{}, fmt.Errorf("decode reply to %02X: %w", cmd, err)
		}
		if reply.To == radioAddr {
			continue
		}
		d.logger.Debug().Str("frame", reply.String()).Msg("civ recv")
		if reply.IsNG() {
			return reply, fmt.Errorf("%w: command %02X % X", ErrNAK, cmd, data)
		}
		return reply, nil
	}
}

func (d *Device) set(cmd byte, data ...byte) error {
	reply, err := d.exchange(cmd, data...)
	if err != nil {
		return err
	}
	if !reply.IsOK() {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	return nil
}

// query sends a read command and returns the reply payload following the
// echoed sub command bytes.
func (d *Device) query(cmd byte, sub ...byte) ([]byte, error) {
	reply, err := d.exchange(cmd, sub...)
	if err != nil {
		return nil, err
	}
	if reply.Command != cmd || len(reply.Data) <= len(sub) {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	for i, b := range sub {
		if reply.Data[i] != b {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
		}
	}
	return reply.Data[len(sub):], nil
}
